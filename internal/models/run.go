package models

import (
	"time"

	"github.com/jmoiron/sqlx/types"
)

// Model run lifecycle states.
const (
	RunStatusRunning  = "running"
	RunStatusComplete = "complete"
	RunStatusFailed   = "failed"
)

// Per-candidate fit states within a run.
const (
	FitStatusOK     = "ok"
	FitStatusFailed = "failed"
)

// ModelRun represents one execution of the model comparison procedure:
// a dataset snapshot fitted against an ordered list of candidate
// structural models. Runs never record a winning model; selection stays
// with the analyst.
type ModelRun struct {
	RunID          string     `json:"run_id" db:"run_id"`
	Label          string     `json:"label" db:"label"`
	CandidateCount int        `json:"candidate_count" db:"candidate_count"`
	DatasetRows    int        `json:"dataset_rows" db:"dataset_rows"`
	Status         string     `json:"status" db:"status"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty" db:"completed_at"`
}

// FitResultRecord is the persisted outcome for a single candidate
// within a run. Position preserves the analyst's submission order.
// Headline statistics are pointers because a failed fit has none, and
// Detail carries the full estimator output as JSON for successful fits.
type FitResultRecord struct {
	ID          int64          `json:"id" db:"id"`
	RunID       string         `json:"run_id" db:"run_id"`
	Position    int            `json:"position" db:"position"`
	ModelName   string         `json:"model_name" db:"model_name"`
	Equations   string         `json:"equations" db:"equations"`
	Status      string         `json:"status" db:"status"`
	ChiSquare   *float64       `json:"chi_square,omitempty" db:"chi_square"`
	DF          *int           `json:"df,omitempty" db:"df"`
	PValue      *float64       `json:"p_value,omitempty" db:"p_value"`
	SampleSize  int            `json:"sample_size" db:"sample_size"`
	Detail      types.JSONText `json:"detail,omitempty" db:"detail"`
	ErrorText   *string        `json:"error,omitempty" db:"error_text"`
	CreatedAt   time.Time      `json:"created_at" db:"created_at"`
}
