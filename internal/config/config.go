// Package config provides configuration loading for kravscan.
//
// Values come from a YAML file, then KRAV_-prefixed environment variables,
// then the defaults in applyDefaults. Component packages receive their own
// section (ScoringConfig, WorkerConfig, ...) rather than the whole Config.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Config holds the complete kravscan configuration.
type Config struct {
	Server     ServerConfig     `koanf:"server"`
	NATS       NATSConfig       `koanf:"nats"`
	Worker     WorkerConfig     `koanf:"worker"`
	Storage    StorageConfig    `koanf:"storage"`
	Model      ModelConfig      `koanf:"model"`
	Scoring    ScoringConfig    `koanf:"scoring"`
	Dedup      DedupConfig      `koanf:"dedup"`
	Standards  StandardsConfig  `koanf:"standards"`
	Embeddings EmbeddingsConfig `koanf:"embeddings"`
	Qdrant     QdrantConfig     `koanf:"qdrant"`
	Redis      RedisConfig      `koanf:"redis"`
	Normalizer NormalizerConfig `koanf:"normalizer"`
	Review     ReviewConfig     `koanf:"review"`
	Profiles   ProfilesConfig   `koanf:"profiles"`
	Temporal   TemporalConfig   `koanf:"temporal"`
	Logging    LoggingConfig    `koanf:"logging"`
	Telemetry  TelemetryConfig  `koanf:"telemetry"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"http_port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// NATSConfig holds the job queue and job state store connection.
type NATSConfig struct {
	// URL of the NATS server. Empty selects the in-process queue and store.
	URL      string `koanf:"url"`
	Stream   string `koanf:"stream"`
	Subject  string `koanf:"subject"`
	KVBucket string `koanf:"kv_bucket"`
	Durable  string `koanf:"durable"`
	// ProgressPrefix is the subject prefix for progress events ("<prefix>.<job>.progress").
	ProgressPrefix string `koanf:"progress_prefix"`
	// Embedded runs a JetStream server inside kravd and connects to it.
	Embedded bool   `koanf:"embedded"`
	StoreDir string `koanf:"store_dir"`
}

// WorkerConfig bounds batch execution.
type WorkerConfig struct {
	Concurrency   int      `koanf:"concurrency"`
	SoftTimeLimit Duration `koanf:"soft_time_limit"`
	HardTimeLimit Duration `koanf:"hard_time_limit"`
	// MaxBatches recycles a worker after this many batches. Zero disables.
	MaxBatches int `koanf:"max_batches"`
	// MaxMemoryMB recycles a worker when the heap exceeds this. Zero disables.
	MaxMemoryMB int `koanf:"max_memory_mb"`
	MaxDeliver  int `koanf:"max_deliver"`
	// ProgressRate is the maximum number of progress events per second per job.
	ProgressRate float64 `koanf:"progress_rate"`
}

// StorageConfig holds the job working directory root.
type StorageConfig struct {
	WorkDir string `koanf:"work_dir"`
}

// ModelConfig locates the classifier and validator artifacts.
type ModelConfig struct {
	ClassifierPath   string   `koanf:"classifier_path"`
	ValidatorPath    string   `koanf:"validator_path"`
	ReloadInterval   Duration `koanf:"reload_interval"`
	DefaultThreshold float64  `koanf:"default_threshold"`
	TopK             int      `koanf:"top_k"`
}

// ScoringConfig holds fusion weights and thresholds.
type ScoringConfig struct {
	KWStrong       float64 `koanf:"kw_strong"`
	SemStrong      float64 `koanf:"sem_strong"`
	WKW            float64 `koanf:"w_kw"`
	WSem           float64 `koanf:"w_sem"`
	WAI            float64 `koanf:"w_ai"`
	WComboKW       float64 `koanf:"w_combo_kw"`
	WComboSem      float64 `koanf:"w_combo_sem"`
	KWSaturation   float64 `koanf:"kw_saturation"`
	FocusThreshold float64 `koanf:"focus_threshold"`
	FocusBoost     float64 `koanf:"focus_boost"`
	AliasBoost     float64 `koanf:"alias_boost"`
	MinScore       float64 `koanf:"min_score"`
	UncertainFloor float64 `koanf:"uncertain_floor"`
}

// DedupConfig holds near-duplicate collapse settings.
type DedupConfig struct {
	Threshold float64 `koanf:"threshold"`
	Scope     string  `koanf:"scope"`
}

// StandardsConfig configures the standard-reference matcher.
type StandardsConfig struct {
	Dir            string  `koanf:"dir"`
	CacheDir       string  `koanf:"cache_dir"`
	TopPerStandard int     `koanf:"top_per_standard"`
	TopOverall     int     `koanf:"top_overall"`
	MinScore       float64 `koanf:"min_score"`
	// Backend is "memory", "chromem" or "qdrant".
	Backend    string `koanf:"backend"`
	Collection string `koanf:"collection"`
	// Lock is "file" or "redis".
	Lock    string   `koanf:"lock"`
	LockTTL Duration `koanf:"lock_ttl"`
}

// EmbeddingsConfig selects the optional embedding capability.
type EmbeddingsConfig struct {
	// Provider is "none", "fastembed" or "openai".
	Provider string `koanf:"provider"`
	Model    string `koanf:"model"`
	BaseURL  string `koanf:"base_url"`
	APIKey   Secret `koanf:"api_key"`
	CacheDir string `koanf:"cache_dir"`
}

// QdrantConfig holds the Qdrant connection for the qdrant standards backend.
type QdrantConfig struct {
	Host   string `koanf:"host"`
	Port   int    `koanf:"port"`
	APIKey Secret `koanf:"api_key"`
	UseTLS bool   `koanf:"use_tls"`
}

// RedisConfig holds the Redis connection for the redis lock.
type RedisConfig struct {
	Addr     string `koanf:"addr"`
	Password Secret `koanf:"password"`
	DB       int    `koanf:"db"`
}

// NormalizerConfig configures document extraction.
type NormalizerConfig struct {
	ConverterCommand []string `koanf:"converter_command"`
	ConverterTimeout Duration `koanf:"converter_timeout"`
	MaxDepth         int      `koanf:"max_attachment_depth"`
}

// ReviewConfig locates the training corpus and the trainer.
type ReviewConfig struct {
	CorpusPath    string `koanf:"corpus_path"`
	NegativesPath string `koanf:"negatives_path"`
	// TrainerCommand is argv with {corpus}, {negatives}, {output} and {kind} placeholders.
	TrainerCommand []string `koanf:"trainer_command"`
	TrainerTimeout Duration `koanf:"trainer_timeout"`
}

// ProfilesConfig points to optional domain profile overrides.
type ProfilesConfig struct {
	Path string `koanf:"path"`
}

// TemporalConfig holds the Temporal connection for the retrain workflow.
type TemporalConfig struct {
	Host      string `koanf:"host"`
	Namespace string `koanf:"namespace"`
	TaskQueue string `koanf:"task_queue"`
}

// LoggingConfig selects log level and encoding.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// TelemetryConfig holds OpenTelemetry export settings.
type TelemetryConfig struct {
	Enabled     bool    `koanf:"enabled"`
	Endpoint    string  `koanf:"endpoint"`
	Protocol    string  `koanf:"protocol"`
	Insecure    bool    `koanf:"insecure"`
	SampleRate  float64 `koanf:"sample_rate"`
	ServiceName string  `koanf:"service_name"`
}

// Validate checks the configuration for values the pipeline cannot run with.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.http_port out of range: %d", c.Server.Port))
	}
	if c.Worker.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("worker.concurrency must be >= 1, got %d", c.Worker.Concurrency))
	}
	if c.Worker.HardTimeLimit > 0 && c.Worker.SoftTimeLimit > c.Worker.HardTimeLimit {
		errs = append(errs, errors.New("worker.soft_time_limit must not exceed worker.hard_time_limit"))
	}
	if c.Model.DefaultThreshold < 0 || c.Model.DefaultThreshold > 1 {
		errs = append(errs, fmt.Errorf("model.default_threshold must be in [0,1], got %v", c.Model.DefaultThreshold))
	}
	if c.Model.TopK < 1 {
		errs = append(errs, fmt.Errorf("model.top_k must be >= 1, got %d", c.Model.TopK))
	}
	if c.Scoring.MinScore < 0 || c.Scoring.MinScore > 100 {
		errs = append(errs, fmt.Errorf("scoring.min_score must be in [0,100], got %v", c.Scoring.MinScore))
	}
	if c.Scoring.KWSaturation <= 0 {
		errs = append(errs, errors.New("scoring.kw_saturation must be > 0"))
	}
	if c.Dedup.Threshold <= 0 || c.Dedup.Threshold > 100 {
		errs = append(errs, fmt.Errorf("dedup.threshold must be in (0,100], got %v", c.Dedup.Threshold))
	}
	switch c.Dedup.Scope {
	case "per_file", "global":
	default:
		errs = append(errs, fmt.Errorf("dedup.scope must be per_file or global, got %q", c.Dedup.Scope))
	}
	switch c.Standards.Backend {
	case "memory", "chromem", "qdrant":
	default:
		errs = append(errs, fmt.Errorf("standards.backend must be memory, chromem or qdrant, got %q", c.Standards.Backend))
	}
	switch c.Standards.Lock {
	case "file":
	case "redis":
		if c.Redis.Addr == "" {
			errs = append(errs, errors.New("standards.lock=redis requires redis.addr"))
		}
	default:
		errs = append(errs, fmt.Errorf("standards.lock must be file or redis, got %q", c.Standards.Lock))
	}
	switch c.Embeddings.Provider {
	case "none", "fastembed":
	case "openai":
		if c.Embeddings.BaseURL == "" {
			errs = append(errs, errors.New("embeddings.provider=openai requires embeddings.base_url"))
		}
	default:
		errs = append(errs, fmt.Errorf("embeddings.provider must be none, fastembed or openai, got %q", c.Embeddings.Provider))
	}
	if len(c.Review.TrainerCommand) == 0 {
		errs = append(errs, errors.New("review.trainer_command must not be empty"))
	}
	if len(c.Normalizer.ConverterCommand) == 0 {
		errs = append(errs, errors.New("normalizer.converter_command must not be empty"))
	}

	return errors.Join(errs...)
}
