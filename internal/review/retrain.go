package review

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/kravscan/internal/config"
	"github.com/fyrsmithlabs/kravscan/internal/model"
)

// ErrTrainerTimeout is reported when the trainer exceeds its time budget.
var ErrTrainerTimeout = errors.New("trainer timed out")

const outputTail = 2048

// Target is one served artifact the retrainer replaces.
type Target struct {
	Kind string
	Path string
	// Reload tells the serving side to pick up the new file. Optional.
	Reload func() (bool, error)
}

// ModelReport is the outcome for one target.
type ModelReport struct {
	Kind     string        `json:"kind"`
	Path     string        `json:"path"`
	OK       bool          `json:"ok"`
	Reloaded bool          `json:"reloaded"`
	Error    string        `json:"error,omitempty"`
	Output   string        `json:"output,omitempty"`
	Samples  int           `json:"samples,omitempty"`
	Accuracy float64       `json:"accuracy,omitempty"`
	MacroF1  float64       `json:"macro_f1,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Report collects the per-model outcomes of one retrain.
type Report struct {
	Models []ModelReport `json:"models"`
}

// OK reports whether every model was trained and installed.
func (r *Report) OK() bool {
	for _, m := range r.Models {
		if !m.OK {
			return false
		}
	}
	return len(r.Models) > 0
}

// RetrainerConfig configures the trainer process.
type RetrainerConfig struct {
	// Command is argv with {corpus}, {negatives}, {output} and {kind}
	// placeholders.
	Command       []string
	Timeout       time.Duration
	CorpusPath    string
	NegativesPath string
}

// Retrainer runs the trainer for each target and swaps in the results.
type Retrainer struct {
	cfg     RetrainerConfig
	targets []Target
	logger  *zap.Logger
}

// NewRetrainer returns a Retrainer for targets.
func NewRetrainer(cfg RetrainerConfig, targets []Target, logger *zap.Logger) *Retrainer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retrainer{cfg: cfg, targets: targets, logger: logger}
}

// Targets returns the configured targets.
func (r *Retrainer) Targets() []Target { return r.targets }

// Target returns the target for kind.
func (r *Retrainer) Target(kind string) (Target, bool) {
	for _, t := range r.targets {
		if t.Kind == kind {
			return t, true
		}
	}
	return Target{}, false
}

// Retrain trains and installs every target, then reloads it. Failures are
// reported per model and never touch the artifact being served.
func (r *Retrainer) Retrain(ctx context.Context) *Report {
	rep := &Report{}
	for _, t := range r.targets {
		mr := r.Train(ctx, t)
		if mr.OK {
			mr.Reloaded, mr.Error = reload(t)
		}
		rep.Models = append(rep.Models, mr)
	}
	return rep
}

// Train runs the trainer for t into a temp file next to t.Path, validates
// the output and renames it over t.Path. It does not reload.
func (r *Retrainer) Train(ctx context.Context, t Target) ModelReport {
	start := time.Now()
	mr := ModelReport{Kind: t.Kind, Path: t.Path}

	art, out, err := r.train(ctx, t)
	mr.Output = out
	mr.Duration = time.Since(start)
	if err != nil {
		mr.Error = err.Error()
		r.logger.Warn("retrain failed, keeping current artifact",
			zap.String("kind", t.Kind),
			zap.String("path", t.Path),
			zap.Error(err))
		return mr
	}

	mr.OK = true
	mr.Samples = art.Metadata.Samples
	mr.Accuracy = art.Metadata.Accuracy
	mr.MacroF1 = art.Metadata.MacroF1
	r.logger.Info("artifact retrained",
		zap.String("kind", t.Kind),
		zap.String("path", t.Path),
		zap.Int("samples", mr.Samples),
		zap.Float64("macro_f1", mr.MacroF1),
		zap.Duration("duration", mr.Duration))
	return mr
}

func (r *Retrainer) train(ctx context.Context, t Target) (*model.Artifact, string, error) {
	if len(r.cfg.Command) == 0 {
		return nil, "", errors.New("no trainer command configured")
	}
	dir := filepath.Dir(t.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, "", fmt.Errorf("creating %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(t.Path)+".train-*")
	if err != nil {
		return nil, "", fmt.Errorf("creating temp output: %w", err)
	}
	tmpName := tmp.Name()
	tmp.Close()
	defer os.Remove(tmpName) // no-op after a successful rename

	argv := expand(r.cfg.Command, map[string]string{
		"{corpus}":    r.cfg.CorpusPath,
		"{negatives}": r.cfg.NegativesPath,
		"{output}":    tmpName,
		"{kind}":      t.Kind,
	})

	runCtx := ctx
	if r.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, r.cfg.Timeout)
		defer cancel()
	}
	cmd := exec.CommandContext(runCtx, argv[0], argv[1:]...)
	cmd.WaitDelay = time.Second
	raw, err := cmd.CombinedOutput()
	out := tail(string(raw), outputTail)
	if err != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, out, fmt.Errorf("%w after %s", ErrTrainerTimeout, r.cfg.Timeout)
		}
		if ctx.Err() != nil {
			return nil, out, ctx.Err()
		}
		return nil, out, fmt.Errorf("trainer %s: %w", argv[0], err)
	}

	art, err := model.Load(tmpName)
	if err != nil {
		return nil, out, fmt.Errorf("trainer output rejected: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return nil, out, fmt.Errorf("chmod %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, t.Path); err != nil {
		return nil, out, fmt.Errorf("installing %s: %w", t.Path, err)
	}
	return art, out, nil
}

// Reload invokes the reload hook of kind, if any.
func (r *Retrainer) Reload(kind string) (bool, error) {
	t, ok := r.Target(kind)
	if !ok {
		return false, fmt.Errorf("unknown model kind %q", kind)
	}
	if t.Reload == nil {
		return false, nil
	}
	return t.Reload()
}

func reload(t Target) (bool, string) {
	if t.Reload == nil {
		return false, ""
	}
	ok, err := t.Reload()
	if err != nil {
		return ok, "reload: " + err.Error()
	}
	return ok, ""
}

func expand(argv []string, vars map[string]string) []string {
	out := make([]string, len(argv))
	for i, a := range argv {
		for k, v := range vars {
			a = strings.ReplaceAll(a, k, v)
		}
		out[i] = a
	}
	return out
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

// RetrainerConfigFrom maps the review section of the configuration.
func RetrainerConfigFrom(c config.ReviewConfig) RetrainerConfig {
	return RetrainerConfig{
		Command:       c.TrainerCommand,
		Timeout:       c.TrainerTimeout.Duration(),
		CorpusPath:    c.CorpusPath,
		NegativesPath: c.NegativesPath,
	}
}
