package services

import "metabolism-platform/internal/sem"

// ComparisonReport is the JSON-facing view of one comparison run. The
// candidates appear in submission order; the report deliberately has no
// winner field.
type ComparisonReport struct {
	RunID       string            `json:"run_id"`
	Label       string            `json:"label,omitempty"`
	DatasetRows int               `json:"dataset_rows"`
	Candidates  []CandidateReport `json:"candidates"`
}

// CandidateReport is one candidate's entry in a comparison report.
type CandidateReport struct {
	Position  int            `json:"position"`
	ModelName string         `json:"model_name"`
	Formulas  []string       `json:"formulas"`
	Status    string         `json:"status"`
	Fit       *sem.FitResult `json:"fit,omitempty"`
	Adequacy  *sem.Adequacy  `json:"adequacy,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// NewComparisonReport assembles the report for a finished comparison.
func NewComparisonReport(runID, label string, datasetRows int, outcomes []CandidateOutcome) *ComparisonReport {
	report := &ComparisonReport{
		RunID:       runID,
		Label:       label,
		DatasetRows: datasetRows,
		Candidates:  make([]CandidateReport, len(outcomes)),
	}
	for i, outcome := range outcomes {
		candidate := CandidateReport{
			Position:  outcome.Position,
			ModelName: outcome.Spec.Name,
			Formulas:  outcome.Spec.Formulas(),
		}
		switch {
		case outcome.FitError != nil:
			candidate.Status = "failed"
			candidate.Error = outcome.FitError.Error()
		default:
			candidate.Status = "ok"
			candidate.Fit = outcome.Fit
			adequacy := outcome.Fit.Adequacy()
			candidate.Adequacy = &adequacy
		}
		report.Candidates[i] = candidate
	}
	return report
}
