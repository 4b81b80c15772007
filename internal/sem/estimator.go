package sem

import (
	"context"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// Estimator fits one candidate specification against a dataset. A
// failed fit returns *NumericalFitError; any other error is fatal to
// the caller's whole procedure.
type Estimator interface {
	Fit(ctx context.Context, spec Spec, data *Table) (*FitResult, error)
}

// MLEstimator fits recursive path models by maximum likelihood.
//
// For a recursive model with uncorrelated errors the ML estimates are
// the per-equation ordinary least squares solutions, so each equation
// is solved against the centered data and the results assembled into
// the model-implied covariance (I-A)^-1 Psi (I-A)^-T with a saturated
// exogenous block. The chi-square statistic is (N-1) times the ML
// discrepancy between sample and implied covariance. Sample covariance
// and residual variances use the N-1 divisor, so a saturated model
// reproduces the sample exactly and reports chi-square 0 on 0 degrees
// of freedom; standard errors use the ML divisor N.
type MLEstimator struct{}

// NewMLEstimator returns a ready estimator. It carries no state, so one
// instance can serve concurrent fits.
func NewMLEstimator() *MLEstimator {
	return &MLEstimator{}
}

var _ Estimator = (*MLEstimator)(nil)

// Fit estimates spec against data. The result is deterministic for
// identical inputs. Numerical failures (singular covariance, collinear
// or non-finite data, sample too small) return *NumericalFitError;
// structural problems in the spec return *SpecificationError.
func (e *MLEstimator) Fit(ctx context.Context, spec Spec, data *Table) (*FitResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := spec.Validate(data.Columns()); err != nil {
		return nil, err
	}

	vars := spec.Variables()
	p := len(vars)
	n := data.Len()
	if n <= p {
		return nil, &NumericalFitError{
			Model:  spec.Name,
			Reason: fmt.Sprintf("sample size %d cannot identify %d variables", n, p),
		}
	}

	idx := make(map[string]int, p)
	cols := make([][]float64, p)
	for i, v := range vars {
		idx[v] = i
		col, _ := data.Column(v)
		for _, x := range col {
			if math.IsNaN(x) || math.IsInf(x, 0) {
				return nil, &NumericalFitError{
					Model:  spec.Name,
					Reason: fmt.Sprintf("column %q contains a non-finite value", v),
				}
			}
		}
		cols[i] = col
	}

	// Sample covariance of the model variables, N-1 divisor.
	obs := mat.NewDense(n, p, nil)
	for j, col := range cols {
		for i, x := range col {
			obs.Set(i, j, x)
		}
	}
	sample := mat.NewSymDense(p, nil)
	stat.CovarianceMatrix(sample, obs, nil)

	var sampleChol mat.Cholesky
	if ok := sampleChol.Factorize(sample); !ok {
		return nil, &NumericalFitError{
			Model:  spec.Name,
			Reason: "sample covariance matrix is singular (constant or collinear column)",
		}
	}
	logDetSample := sampleChol.LogDet()

	centered := make([][]float64, p)
	for i, col := range cols {
		mean := stat.Mean(col, nil)
		c := make([]float64, n)
		for r, x := range col {
			c[r] = x - mean
		}
		centered[i] = c
	}

	endogenous := make(map[string]bool, len(spec.Equations))
	for _, eq := range spec.Equations {
		endogenous[eq.Response] = true
	}

	// Free parameters: one per path, one residual variance per
	// equation, and the saturated exogenous (co)variance block.
	nx := p - len(spec.Equations)
	freeParams := len(spec.Equations) + nx*(nx+1)/2

	coeffs := mat.NewDense(p, p, nil)
	psi := mat.NewDense(p, p, nil)
	for i := 0; i < p; i++ {
		for j := 0; j < p; j++ {
			if !endogenous[vars[i]] && !endogenous[vars[j]] {
				psi.Set(i, j, sample.At(i, j))
			}
		}
	}

	var paths []PathCoefficient
	rsq := make(map[string]float64, len(spec.Equations))

	for _, eq := range spec.Equations {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		k := len(eq.Predictors)
		freeParams += k
		ri := idx[eq.Response]
		y := centered[ri]

		xtx := mat.NewSymDense(k, nil)
		xty := mat.NewVecDense(k, nil)
		for a := 0; a < k; a++ {
			xa := centered[idx[eq.Predictors[a]]]
			for b := a; b < k; b++ {
				xb := centered[idx[eq.Predictors[b]]]
				var dot float64
				for r := 0; r < n; r++ {
					dot += xa[r] * xb[r]
				}
				xtx.SetSym(a, b, dot)
			}
			var dot float64
			for r := 0; r < n; r++ {
				dot += xa[r] * y[r]
			}
			xty.SetVec(a, dot)
		}

		var eqChol mat.Cholesky
		if ok := eqChol.Factorize(xtx); !ok {
			return nil, &NumericalFitError{
				Model:  spec.Name,
				Reason: fmt.Sprintf("collinear predictors in equation for %q", eq.Response),
			}
		}
		beta := mat.NewVecDense(k, nil)
		if err := eqChol.SolveVecTo(beta, xty); err != nil {
			return nil, &NumericalFitError{
				Model:  spec.Name,
				Reason: fmt.Sprintf("normal equations for %q are ill-conditioned", eq.Response),
				Err:    err,
			}
		}
		var xtxInv mat.SymDense
		if err := eqChol.InverseTo(&xtxInv); err != nil {
			return nil, &NumericalFitError{
				Model:  spec.Name,
				Reason: fmt.Sprintf("normal equations for %q are ill-conditioned", eq.Response),
				Err:    err,
			}
		}

		var rss float64
		for r := 0; r < n; r++ {
			fitted := 0.0
			for a := 0; a < k; a++ {
				fitted += beta.AtVec(a) * centered[idx[eq.Predictors[a]]][r]
			}
			resid := y[r] - fitted
			rss += resid * resid
		}
		psiHat := rss / float64(n-1)
		psiML := rss / float64(n)
		if psiHat < 1e-12 {
			return nil, &NumericalFitError{
				Model:  spec.Name,
				Reason: fmt.Sprintf("zero residual variance for %q (predictors reproduce it exactly)", eq.Response),
			}
		}

		psi.Set(ri, ri, psiHat)
		syy := sample.At(ri, ri)
		rsq[eq.Response] = 1 - psiHat/syy

		for a := 0; a < k; a++ {
			pi := idx[eq.Predictors[a]]
			b := beta.AtVec(a)
			coeffs.Set(ri, pi, b)

			se := math.Sqrt(psiML * xtxInv.At(a, a))
			z := b / se
			paths = append(paths, PathCoefficient{
				Response:     eq.Response,
				Predictor:    eq.Predictors[a],
				Estimate:     b,
				Standardized: b * math.Sqrt(sample.At(pi, pi)/syy),
				StdErr:       se,
				ZValue:       z,
				PValue:       2 * distuv.UnitNormal.Survival(math.Abs(z)),
			})
		}
	}

	implied, err := impliedCovariance(coeffs, psi, p)
	if err != nil {
		return nil, &NumericalFitError{Model: spec.Name, Reason: "implied covariance construction failed", Err: err}
	}

	var impliedChol mat.Cholesky
	if ok := impliedChol.Factorize(implied); !ok {
		return nil, &NumericalFitError{
			Model:  spec.Name,
			Reason: "model-implied covariance is not positive definite",
		}
	}
	var impliedInv mat.SymDense
	if err := impliedChol.InverseTo(&impliedInv); err != nil {
		return nil, &NumericalFitError{Model: spec.Name, Reason: "implied covariance inversion failed", Err: err}
	}

	var trace float64
	for i := 0; i < p; i++ {
		for j := 0; j < p; j++ {
			trace += sample.At(i, j) * impliedInv.At(i, j)
		}
	}
	fml := impliedChol.LogDet() - logDetSample + trace - float64(p)
	// Floating point can push an exact fit a hair below zero.
	if fml < 0 {
		fml = 0
	}

	chiSquare := float64(n-1) * fml
	df := p*(p+1)/2 - freeParams
	if df < 0 {
		return nil, &NumericalFitError{
			Model:  spec.Name,
			Reason: fmt.Sprintf("model has %d free parameters but only %d observed moments", freeParams, p*(p+1)/2),
		}
	}

	pValue := 1.0
	if df > 0 {
		pValue = distuv.ChiSquared{K: float64(df)}.Survival(chiSquare)
	}

	residuals := residualCorrelations(vars, sample, implied)

	return &FitResult{
		ModelName:  spec.Name,
		Variables:  vars,
		SampleSize: n,
		ChiSquare:  chiSquare,
		DF:         df,
		PValue:     pValue,
		Paths:      paths,
		RSquared:   rsq,
		Residuals:  residuals,
	}, nil
}

// impliedCovariance assembles (I-A)^-1 Psi (I-A)^-T.
func impliedCovariance(coeffs, psi *mat.Dense, p int) (*mat.SymDense, error) {
	im := mat.NewDense(p, p, nil)
	for i := 0; i < p; i++ {
		for j := 0; j < p; j++ {
			v := -coeffs.At(i, j)
			if i == j {
				v = 1 - coeffs.At(i, j)
			}
			im.Set(i, j, v)
		}
	}

	var inv mat.Dense
	if err := inv.Inverse(im); err != nil {
		return nil, err
	}

	var tmp, full mat.Dense
	tmp.Mul(&inv, psi)
	full.Mul(&tmp, inv.T())

	// Symmetrize away floating point asymmetry from the two products.
	implied := mat.NewSymDense(p, nil)
	for i := 0; i < p; i++ {
		for j := i; j < p; j++ {
			implied.SetSym(i, j, (full.At(i, j)+full.At(j, i))/2)
		}
	}
	return implied, nil
}

// residualCorrelations computes observed minus implied correlations.
func residualCorrelations(vars []string, sample, implied *mat.SymDense) ResidualMatrix {
	p := len(vars)
	values := make([][]float64, p)
	for i := 0; i < p; i++ {
		values[i] = make([]float64, p)
		for j := 0; j < p; j++ {
			obs := sample.At(i, j) / math.Sqrt(sample.At(i, i)*sample.At(j, j))
			imp := implied.At(i, j) / math.Sqrt(implied.At(i, i)*implied.At(j, j))
			values[i][j] = obs - imp
		}
	}
	names := make([]string, p)
	copy(names, vars)
	return ResidualMatrix{Variables: names, Values: values}
}
