// Package validator decides whether a clause is a genuine requirement.
//
// The capability is fixed at construction: with a model handle the decision
// comes from the loaded artifact, otherwise from a word-count heuristic. The
// artifact behind the handle may be hot-swapped at any time.
package validator

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/kravscan/internal/model"
)

// MinWords is the heuristic lower bound for a valid requirement.
const MinWords = 4

// Validator is the requirement gate.
type Validator interface {
	IsValid(ctx context.Context, text string) bool
	// Mode reports "model" or "heuristic".
	Mode() string
}

// New returns a model-backed validator when h is non-nil, otherwise the
// heuristic.
func New(h *model.Handle, logger *zap.Logger) Validator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if h == nil {
		return Heuristic{}
	}
	return &ModelValidator{handle: h, logger: logger}
}

// Heuristic accepts texts with at least MinWords words.
type Heuristic struct{}

// IsValid implements Validator.
func (Heuristic) IsValid(_ context.Context, text string) bool {
	return len(strings.Fields(text)) >= MinWords
}

// Mode implements Validator.
func (Heuristic) Mode() string { return "heuristic" }

// ModelValidator classifies with the artifact in its handle. Any failure to
// predict accepts the text.
type ModelValidator struct {
	handle *model.Handle
	logger *zap.Logger
}

// IsValid implements Validator.
func (v *ModelValidator) IsValid(ctx context.Context, text string) (valid bool) {
	art, err := v.handle.Artifact()
	if err != nil {
		// Artifact not loaded yet or removed; fall back to the heuristic.
		return Heuristic{}.IsValid(ctx, text)
	}

	defer func() {
		if r := recover(); r != nil {
			v.logger.Warn("validator inference failed, accepting clause",
				zap.String("error", fmt.Sprint(r)))
			valid = true
		}
	}()

	p := art.Predict(text)
	if len(p) != len(art.Labels) || len(p) == 0 {
		v.logger.Warn("validator returned malformed prediction, accepting clause",
			zap.Int("probs", len(p)), zap.Int("labels", len(art.Labels)))
		return true
	}
	return Truthy(art.Labels[model.Argmax(p)])
}

// Mode implements Validator.
func (v *ModelValidator) Mode() string { return "model" }

// Truthy reports whether a predicted validator label means "requirement".
func Truthy(label string) bool {
	switch strings.ToLower(strings.TrimSpace(label)) {
	case "1", "true", "valid", "yes", "krav", "requirement":
		return true
	}
	return false
}
