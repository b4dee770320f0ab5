package pipeline

import (
	"fmt"

	"github.com/fyrsmithlabs/kravscan/internal/classifier"
	"github.com/fyrsmithlabs/kravscan/internal/standards"
)

// Candidate statuses. Reviewers also write the Norwegian spellings, which
// review.NormalizeStatus maps onto these.
const (
	StatusActive   = "active"
	StatusInactive = "inactive"
)

// Params are the scan parameters of one batch. JSON names follow the upload
// form.
type Params struct {
	// WorkDir holds the raw files and receives the result files.
	WorkDir string `json:"dir"`
	// MinScore is the inclusion threshold. Nil uses the configured default;
	// an explicit 0 includes every clause that passes validation.
	MinScore *float64 `json:"min_score,omitempty"`
	// Standards are the standard names to cite, e.g. "NS3420".
	Standards []string `json:"ns_standard_selection,omitempty"`
	// Mode overrides the dedup scope: "per_file" or "global".
	Mode           string   `json:"mode,omitempty"`
	SelectedGroups []string `json:"selected_groups,omitempty"`
	Focus          string   `json:"fokusomraade,omitempty"`
}

// Score returns a pointer to v, for Params.MinScore.
func Score(v float64) *float64 { return &v }

// MinScoreOr returns the requested threshold or def when none was given.
func (p Params) MinScoreOr(def float64) float64 {
	if p.MinScore == nil {
		return def
	}
	return *p.MinScore
}

// Validate checks ranges. It does not touch the filesystem.
func (p Params) Validate() error {
	if p.WorkDir == "" {
		return fmt.Errorf("%w: dir is required", ErrInvalidParams)
	}
	if m := p.MinScore; m != nil && (*m < 0 || *m > 100) {
		return fmt.Errorf("%w: min_score %v outside [0,100]", ErrInvalidParams, *m)
	}
	switch p.Mode {
	case "", "per_file", "global":
	default:
		return fmt.Errorf("%w: mode must be per_file or global, got %q", ErrInvalidParams, p.Mode)
	}
	return nil
}

// Source locates a candidate in its document.
type Source struct {
	Document string `json:"document"`
	Page     int    `json:"page,omitempty"`
}

// Signals are the raw scoring inputs, each in [0,1].
type Signals struct {
	KW  float64 `json:"kw"`
	Sem float64 `json:"sem"`
	AI  float64 `json:"ai"`
}

// Candidate is one extracted requirement. The pipeline creates it; review
// changes only Status, Note and LabelOverride.
type Candidate struct {
	ID          string                  `json:"id"`
	Source      Source                  `json:"source"`
	RawText     string                  `json:"raw_text"`
	Text        string                  `json:"text"`
	Summary     string                  `json:"summary"`
	Disciplines []string                `json:"disciplines"`
	Category    string                  `json:"category"`
	Keyword     string                  `json:"keyword,omitempty"`
	Score       float64                 `json:"score"`
	Signals     Signals                 `json:"signals"`
	Ranked      []classifier.LabelScore `json:"ranked,omitempty"`
	References  []standards.Hit         `json:"references,omitempty"`
	Status      string                  `json:"status"`
	Note        string                  `json:"note,omitempty"`
	// LabelOverride is the reviewer's discipline, if it differs.
	LabelOverride string `json:"label_override,omitempty"`
	// Uncertain marks review-only candidates below min_score.
	Uncertain bool `json:"uncertain,omitempty"`
}

// Discipline returns the reviewer override or the first discipline.
func (c *Candidate) Discipline() string {
	if c.LabelOverride != "" {
		return c.LabelOverride
	}
	if len(c.Disciplines) > 0 {
		return c.Disciplines[0]
	}
	return classifier.Unspecified
}

// Result is the outcome of one batch.
type Result struct {
	Candidates []Candidate `json:"requirements"`
	Uncertain  []Candidate `json:"uncertain,omitempty"`
	// Errors are per-document failures; the batch continued past each.
	Errors []string `json:"errors,omitempty"`
	// Artifact is the path of the persisted requirements file.
	Artifact  string `json:"artifact,omitempty"`
	Documents int    `json:"documents"`
	Extracted int    `json:"extracted"`
	// RequirementCount and UncertainCount stand in for the lists in a
	// summary.
	RequirementCount int `json:"requirement_count,omitempty"`
	UncertainCount   int `json:"uncertain_count,omitempty"`
}

// Summary returns a copy without the candidate lists and the per-document
// errors. The full result stays readable at Artifact.
func (r *Result) Summary() *Result {
	return &Result{
		Artifact:         r.Artifact,
		Documents:        r.Documents,
		Extracted:        r.Extracted,
		RequirementCount: r.NumRequirements(),
		UncertainCount:   r.NumUncertain(),
	}
}

// NumRequirements counts accepted candidates, summarized or not.
func (r *Result) NumRequirements() int {
	if len(r.Candidates) > 0 {
		return len(r.Candidates)
	}
	return r.RequirementCount
}

// NumUncertain counts uncertain candidates, summarized or not.
func (r *Result) NumUncertain() int {
	if len(r.Uncertain) > 0 {
		return len(r.Uncertain)
	}
	return r.UncertainCount
}
