package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	maxConfigFileSize = 1024 * 1024 // 1MB

	// EnvPrefix prefixes every environment override.
	EnvPrefix = "KRAV_"
)

// Load returns the configuration from the default file location plus environment.
func Load() (*Config, error) {
	return LoadWithFile("")
}

// LoadWithFile loads configuration from a YAML file, then overrides with
// environment variables.
//
// Precedence (highest first):
//  1. KRAV_ environment variables
//  2. YAML file (default ~/.config/kravscan/config.yaml)
//  3. applyDefaults
//
// The file must live in ~/.config/kravscan/ or /etc/kravscan/, be at most 1MB
// and have 0600 or 0400 permissions. A missing file is not an error.
//
// Environment variables drop the prefix and split on the first underscore:
//
//	KRAV_WORKER_SOFT_TIME_LIMIT -> worker.soft_time_limit
//	KRAV_SCORING_MIN_SCORE      -> scoring.min_score
//	KRAV_NATS_URL               -> nats.url
//
// List values (converter_command, trainer_command) are comma separated in env vars.
func LoadWithFile(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath == "" {
		dir, err := DefaultConfigDir()
		if err != nil {
			return nil, err
		}
		configPath = filepath.Join(dir, "config.yaml")
	}

	if err := validateConfigPath(configPath); err != nil {
		return nil, fmt.Errorf("config path validation failed: %w", err)
	}

	if _, err := os.Stat(configPath); err == nil {
		content, err := readConfigFile(configPath)
		if err != nil {
			return nil, err
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// Default returns a configuration with only defaults applied.
func Default() *Config {
	var cfg Config
	applyDefaults(&cfg)
	return &cfg
}

// envKey maps KRAV_SECTION_FIELD_NAME to section.field_name.
func envKey(s string) string {
	lower := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	section, field, ok := strings.Cut(lower, "_")
	if !ok {
		return lower
	}
	return section + "." + field
}

// readConfigFile opens the file once and validates the open descriptor,
// so the checked file is the one that gets read.
func readConfigFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if err := validateConfigFileProperties(info); err != nil {
		return nil, fmt.Errorf("config file validation failed: %w", err)
	}

	content, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return content, nil
}

// DefaultConfigDir returns ~/.config/kravscan.
func DefaultConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".config", "kravscan"), nil
}

// EnsureConfigDir creates the config directory with 0700 permissions.
func EnsureConfigDir() error {
	dir, err := DefaultConfigDir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory %s: %w", dir, err)
	}
	return nil
}

func validateConfigPath(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}
	resolved, err := filepath.EvalSymlinks(absPath)
	if err != nil {
		// Path may not exist yet.
		resolved = absPath
	}

	userDir, err := DefaultConfigDir()
	if err != nil {
		return err
	}
	for _, dir := range []string{userDir, "/etc/kravscan"} {
		if resolved == dir || strings.HasPrefix(resolved, dir+string(filepath.Separator)) {
			return nil
		}
	}
	return fmt.Errorf("config file must be in ~/.config/kravscan/ or /etc/kravscan/")
}

func validateConfigFileProperties(info os.FileInfo) error {
	if runtime.GOOS != "windows" {
		perm := info.Mode().Perm()
		if perm != 0600 && perm != 0400 {
			return fmt.Errorf("insecure config file permissions: %v (expected 0600 or 0400)", perm)
		}
	}
	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}
	return nil
}

// ExpandHome replaces a leading "~/" with the user's home directory.
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "127.0.0.1"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 9191
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}

	if cfg.NATS.Stream == "" {
		cfg.NATS.Stream = "KRAV_JOBS"
	}
	if cfg.NATS.Subject == "" {
		cfg.NATS.Subject = "krav.jobs.submit"
	}
	if cfg.NATS.KVBucket == "" {
		cfg.NATS.KVBucket = "krav_jobs"
	}
	if cfg.NATS.Durable == "" {
		cfg.NATS.Durable = "krav-workers"
	}
	if cfg.NATS.ProgressPrefix == "" {
		cfg.NATS.ProgressPrefix = "krav.jobs"
	}
	if cfg.NATS.StoreDir == "" {
		cfg.NATS.StoreDir = "~/.local/share/kravscan/nats"
	}
	cfg.NATS.StoreDir = ExpandHome(cfg.NATS.StoreDir)

	if cfg.Worker.Concurrency == 0 {
		cfg.Worker.Concurrency = 2
	}
	if cfg.Worker.SoftTimeLimit == 0 {
		cfg.Worker.SoftTimeLimit = Duration(25 * time.Minute)
	}
	if cfg.Worker.HardTimeLimit == 0 {
		cfg.Worker.HardTimeLimit = Duration(30 * time.Minute)
	}
	if cfg.Worker.MaxBatches == 0 {
		cfg.Worker.MaxBatches = 50
	}
	if cfg.Worker.MaxMemoryMB == 0 {
		cfg.Worker.MaxMemoryMB = 1024
	}
	if cfg.Worker.MaxDeliver == 0 {
		cfg.Worker.MaxDeliver = 3
	}
	if cfg.Worker.ProgressRate == 0 {
		cfg.Worker.ProgressRate = 4
	}

	if cfg.Storage.WorkDir == "" {
		cfg.Storage.WorkDir = "~/.local/share/kravscan/jobs"
	}
	cfg.Storage.WorkDir = ExpandHome(cfg.Storage.WorkDir)

	if cfg.Model.ClassifierPath == "" {
		cfg.Model.ClassifierPath = "~/.local/share/kravscan/models/discipline.json"
	}
	cfg.Model.ClassifierPath = ExpandHome(cfg.Model.ClassifierPath)
	if cfg.Model.ValidatorPath == "" {
		cfg.Model.ValidatorPath = "~/.local/share/kravscan/models/validator.json"
	}
	cfg.Model.ValidatorPath = ExpandHome(cfg.Model.ValidatorPath)
	if cfg.Model.ReloadInterval == 0 {
		cfg.Model.ReloadInterval = Duration(30 * time.Second)
	}
	if cfg.Model.DefaultThreshold == 0 {
		cfg.Model.DefaultThreshold = 0.40
	}
	if cfg.Model.TopK == 0 {
		cfg.Model.TopK = 3
	}

	applyScoringDefaults(&cfg.Scoring)

	if cfg.Dedup.Threshold == 0 {
		cfg.Dedup.Threshold = 93
	}
	if cfg.Dedup.Scope == "" {
		cfg.Dedup.Scope = "per_file"
	}

	if cfg.Standards.Dir == "" {
		cfg.Standards.Dir = "~/.local/share/kravscan/standards"
	}
	cfg.Standards.Dir = ExpandHome(cfg.Standards.Dir)
	if cfg.Standards.CacheDir == "" {
		cfg.Standards.CacheDir = "~/.cache/kravscan/standards"
	}
	cfg.Standards.CacheDir = ExpandHome(cfg.Standards.CacheDir)
	if cfg.Standards.TopPerStandard == 0 {
		cfg.Standards.TopPerStandard = 2
	}
	if cfg.Standards.TopOverall == 0 {
		cfg.Standards.TopOverall = 5
	}
	if cfg.Standards.MinScore == 0 {
		cfg.Standards.MinScore = 0.15
	}
	if cfg.Standards.Backend == "" {
		cfg.Standards.Backend = "memory"
	}
	if cfg.Standards.Collection == "" {
		cfg.Standards.Collection = "krav_standards"
	}
	if cfg.Standards.Lock == "" {
		cfg.Standards.Lock = "file"
	}
	if cfg.Standards.LockTTL == 0 {
		cfg.Standards.LockTTL = Duration(10 * time.Minute)
	}

	if cfg.Embeddings.Provider == "" {
		cfg.Embeddings.Provider = "none"
	}
	if cfg.Embeddings.Model == "" {
		cfg.Embeddings.Model = "BAAI/bge-small-en-v1.5"
	}
	if cfg.Embeddings.CacheDir == "" {
		cfg.Embeddings.CacheDir = "~/.cache/kravscan/models"
	}
	cfg.Embeddings.CacheDir = ExpandHome(cfg.Embeddings.CacheDir)

	if cfg.Qdrant.Host == "" {
		cfg.Qdrant.Host = "localhost"
	}
	if cfg.Qdrant.Port == 0 {
		cfg.Qdrant.Port = 6334
	}

	if len(cfg.Normalizer.ConverterCommand) == 0 {
		cfg.Normalizer.ConverterCommand = []string{"soffice", "--headless", "--convert-to"}
	}
	if cfg.Normalizer.ConverterTimeout == 0 {
		cfg.Normalizer.ConverterTimeout = Duration(2 * time.Minute)
	}
	if cfg.Normalizer.MaxDepth == 0 {
		cfg.Normalizer.MaxDepth = 3
	}

	if cfg.Review.CorpusPath == "" {
		cfg.Review.CorpusPath = "~/.local/share/kravscan/training/corpus.csv"
	}
	cfg.Review.CorpusPath = ExpandHome(cfg.Review.CorpusPath)
	if cfg.Review.NegativesPath == "" {
		cfg.Review.NegativesPath = "~/.local/share/kravscan/training/negatives.txt"
	}
	cfg.Review.NegativesPath = ExpandHome(cfg.Review.NegativesPath)
	if len(cfg.Review.TrainerCommand) == 0 {
		cfg.Review.TrainerCommand = []string{
			"kravctl", "train",
			"--corpus", "{corpus}",
			"--negatives", "{negatives}",
			"--output", "{output}",
			"--kind", "{kind}",
		}
	}
	if cfg.Review.TrainerTimeout == 0 {
		cfg.Review.TrainerTimeout = Duration(15 * time.Minute)
	}

	cfg.Profiles.Path = ExpandHome(cfg.Profiles.Path)

	if cfg.Temporal.Host == "" {
		cfg.Temporal.Host = "localhost:7233"
	}
	if cfg.Temporal.Namespace == "" {
		cfg.Temporal.Namespace = "default"
	}
	if cfg.Temporal.TaskQueue == "" {
		cfg.Temporal.TaskQueue = "krav-retrain"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Telemetry.Endpoint == "" {
		cfg.Telemetry.Endpoint = "localhost:4317"
	}
	if cfg.Telemetry.Protocol == "" {
		cfg.Telemetry.Protocol = "grpc"
	}
	if cfg.Telemetry.SampleRate == 0 {
		cfg.Telemetry.SampleRate = 1.0
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "kravscan"
	}
}

// applyScoringDefaults fills fusion weights. These are empirical and meant to
// be recalibrated against reviewed corpora.
func applyScoringDefaults(s *ScoringConfig) {
	if s.KWStrong == 0 {
		s.KWStrong = 0.5
	}
	if s.SemStrong == 0 {
		s.SemStrong = 0.5
	}
	if s.WKW == 0 && s.WSem == 0 && s.WAI == 0 {
		s.WKW, s.WSem, s.WAI = 0.45, 0.35, 0.20
	}
	if s.WComboKW == 0 && s.WComboSem == 0 {
		s.WComboKW, s.WComboSem = 0.6, 0.4
	}
	if s.KWSaturation == 0 {
		s.KWSaturation = 2.0
	}
	if s.FocusThreshold == 0 {
		s.FocusThreshold = 0.5
	}
	if s.FocusBoost == 0 {
		s.FocusBoost = 10
	}
	if s.AliasBoost == 0 {
		s.AliasBoost = 5
	}
	if s.MinScore == 0 {
		s.MinScore = 60
	}
	if s.UncertainFloor == 0 {
		s.UncertainFloor = 60
	}
}
