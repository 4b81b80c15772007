package sem

import "fmt"

// NumericalFitError reports that the estimator could not produce a fit
// for one candidate: singular covariance, collinear predictors,
// non-finite data, or a sample too small for the model. It condemns one
// candidate only; a comparison records it and continues with the rest.
type NumericalFitError struct {
	Model  string
	Reason string
	Err    error
}

func (e *NumericalFitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fit failed for %q: %s: %v", e.Model, e.Reason, e.Err)
	}
	return fmt.Sprintf("fit failed for %q: %s", e.Model, e.Reason)
}

func (e *NumericalFitError) Unwrap() error {
	return e.Err
}

// IsTransient returns false: refitting the same model on the same data
// fails the same way.
func (e *NumericalFitError) IsTransient() bool {
	return false
}

// PathCoefficient is one fitted directed path with its unstandardized
// estimate, standardized estimate, and normal-theory inference.
type PathCoefficient struct {
	Response     string  `json:"response"`
	Predictor    string  `json:"predictor"`
	Estimate     float64 `json:"estimate"`
	Standardized float64 `json:"standardized"`
	StdErr       float64 `json:"std_err"`
	ZValue       float64 `json:"z_value"`
	PValue       float64 `json:"p_value"`
}

// ResidualMatrix holds observed-minus-implied correlations for every
// variable pair of a fitted model. Large cells point at relations the
// model fails to reproduce.
type ResidualMatrix struct {
	Variables []string    `json:"variables"`
	Values    [][]float64 `json:"values"`
}

// Cell returns the residual correlation for a pair of variables.
func (m *ResidualMatrix) Cell(a, b string) (float64, bool) {
	ai, bi := -1, -1
	for i, v := range m.Variables {
		if v == a {
			ai = i
		}
		if v == b {
			bi = i
		}
	}
	if ai < 0 || bi < 0 {
		return 0, false
	}
	return m.Values[ai][bi], true
}

// FitResult is the complete estimator output for one candidate model.
// It reports evidence only; ranking or selecting among candidates is
// left to the analyst.
type FitResult struct {
	ModelName  string             `json:"model_name"`
	Variables  []string           `json:"variables"`
	SampleSize int                `json:"sample_size"`
	ChiSquare  float64            `json:"chi_square"`
	DF         int                `json:"df"`
	PValue     float64            `json:"p_value"`
	Paths      []PathCoefficient  `json:"paths"`
	RSquared   map[string]float64 `json:"r_squared"`
	Residuals  ResidualMatrix     `json:"residuals"`
}

// Path returns the fitted coefficient for a directed path.
func (r *FitResult) Path(response, predictor string) (PathCoefficient, bool) {
	for _, p := range r.Paths {
		if p.Response == response && p.Predictor == predictor {
			return p, true
		}
	}
	return PathCoefficient{}, false
}

// Adequacy summarizes the conventional acceptance heuristics for a fit.
// It is advisory output for reports, never a selection rule.
type Adequacy struct {
	ChiSquarePerDF float64 `json:"chi_square_per_df"`
	PValueAbove05  bool    `json:"p_value_above_05"`
	Saturated      bool    `json:"saturated"`
}

// Adequacy derives the heuristic summary from the headline statistics.
// A saturated model (df = 0) reproduces the sample covariance exactly,
// so its ratio is reported as zero.
func (r *FitResult) Adequacy() Adequacy {
	a := Adequacy{
		PValueAbove05: r.PValue > 0.05,
		Saturated:     r.DF == 0,
	}
	if r.DF > 0 {
		a.ChiSquarePerDF = r.ChiSquare / float64(r.DF)
	}
	return a
}
