// Package classifier maps clause text to a discipline label using a
// hot-reloadable model artifact with per-label thresholds.
package classifier

import (
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/kravscan/internal/model"
)

const (
	// Unspecified is the label used when no discipline is accepted.
	Unspecified = "Unspecified"

	// NoteUnavailable is attached to results produced without a model.
	NoteUnavailable = "classifier unavailable"

	// DefaultThreshold applies to labels without their own threshold.
	DefaultThreshold = 0.40

	// DefaultTopK is the length of the ranked list.
	DefaultTopK = 3
)

// LabelScore is one ranked label.
type LabelScore struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

// Result is the outcome of one classification. Label is always a known label
// or Unspecified.
type Result struct {
	Label  string       `json:"label"`
	Score  float64      `json:"score"`
	Ranked []LabelScore `json:"ranked,omitempty"`
	OK     bool         `json:"ok"`
	Note   string       `json:"note,omitempty"`
}

// Options tunes decisions.
type Options struct {
	DefaultThreshold float64
	TopK             int
}

// Classifier wraps a model handle. It is safe for concurrent use; Classify
// reads the active artifact once per call.
type Classifier struct {
	handle *model.Handle
	opts   Options
	logger *zap.Logger
}

// New returns a Classifier serving the artifact behind h.
func New(h *model.Handle, opts Options, logger *zap.Logger) *Classifier {
	if opts.DefaultThreshold <= 0 {
		opts.DefaultThreshold = DefaultThreshold
	}
	if opts.TopK <= 0 {
		opts.TopK = DefaultTopK
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Classifier{handle: h, opts: opts, logger: logger}
}

// Classify returns the accepted label and the ranked top-K. It never fails:
// without a usable model the result has OK=false and label Unspecified.
func (c *Classifier) Classify(text string) (res Result) {
	art, err := c.handle.Artifact()
	if err != nil {
		return unavailable()
	}

	defer func() {
		if r := recover(); r != nil {
			c.logger.Warn("classification failed", zap.String("error", fmt.Sprint(r)))
			res = unavailable()
		}
	}()

	p := art.Predict(text)
	if len(p) != len(art.Labels) || len(p) == 0 {
		return unavailable()
	}

	ranked := make([]LabelScore, len(p))
	for i, score := range p {
		ranked[i] = LabelScore{Label: art.Labels[i], Score: clamp01(score)}
	}
	best := model.Argmax(p)
	top := ranked[best]

	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Score > ranked[j].Score })
	if len(ranked) > c.opts.TopK {
		ranked = ranked[:c.opts.TopK]
	}

	res = Result{Label: Unspecified, Score: top.Score, Ranked: ranked, OK: true}
	if top.Score >= art.Threshold(best, c.opts.DefaultThreshold) {
		res.Label = top.Label
	}
	return res
}

func unavailable() Result {
	return Result{Label: Unspecified, Note: NoteUnavailable}
}

func clamp01(v float64) float64 {
	switch {
	case v != v, v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

// Reload swaps in the artifact when its file changed. See model.Handle.Reload.
func (c *Classifier) Reload() (bool, error) {
	return c.handle.Reload()
}

// Available reports whether a model is loaded.
func (c *Classifier) Available() bool {
	_, err := c.handle.Artifact()
	return err == nil
}

// Labels returns the label set of the active artifact.
func (c *Classifier) Labels() []string {
	art, err := c.handle.Artifact()
	if err != nil {
		return nil
	}
	return append([]string(nil), art.Labels...)
}

// Handle exposes the underlying model handle.
func (c *Classifier) Handle() *model.Handle { return c.handle }
