package http

import (
	"github.com/fyrsmithlabs/kravscan/internal/review"
)

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// SubmitRequest is the request body for POST /api/v1/jobs. Field names
// follow the upload form.
type SubmitRequest struct {
	WorkDir        string   `json:"dir"`
	MinScore       *float64 `json:"min_score,omitempty"`
	Standards      []string `json:"ns_standard_selection,omitempty"`
	Mode           string   `json:"mode,omitempty"`
	SelectedGroups []string `json:"selected_groups,omitempty"`
	Focus          string   `json:"fokusomraade,omitempty"`
}

// ReviewRequest is the request body for POST /api/v1/review.
type ReviewRequest struct {
	Corrections []review.Correction `json:"corrections"`
	Retrain     bool                `json:"retrain"`
}

// ReviewResponse is the response body for POST /api/v1/review.
type ReviewResponse struct {
	Merge   *review.MergeStats `json:"merge,omitempty"`
	Retrain *review.Report     `json:"retrain,omitempty"`
}

// ValidationResponse is returned with 422 when corrections are rejected.
type ValidationResponse struct {
	Message string            `json:"message"`
	Rows    []review.RowError `json:"rows"`
}
