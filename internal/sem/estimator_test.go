package sem

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// The fixtures below are built from x = (-2,-1,0,1,2) and residual
// vectors chosen orthogonal to the predictors, so every estimate,
// variance, and fit statistic has a closed form that the assertions
// pin exactly.

func fixtureTable(t *testing.T, cols map[string][]float64) *Table {
	t.Helper()
	n := 0
	for _, v := range cols {
		n = len(v)
		break
	}
	tbl := NewTable(n)
	for _, name := range []string{"x", "y", "w", "m"} {
		if v, ok := cols[name]; ok {
			require.NoError(t, tbl.AddColumn(name, v))
		}
	}
	return tbl
}

func mustSpec(t *testing.T, name string, formulas ...string) Spec {
	t.Helper()
	spec, err := NewSpec(name, formulas)
	require.NoError(t, err)
	return spec
}

func TestMLEstimator_SaturatedModel(t *testing.T) {
	// y = 2x + e with e orthogonal to x: beta is exactly 2 and the
	// single-equation model is saturated, so it reproduces the sample
	// covariance and reports no misfit.
	tbl := fixtureTable(t, map[string][]float64{
		"x": {-2, -1, 0, 1, 2},
		"y": {-3, -3, 0, 1, 5},
	})
	spec := mustSpec(t, "saturated", "y ~ x")

	res, err := NewMLEstimator().Fit(context.Background(), spec, tbl)
	require.NoError(t, err)

	assert.Equal(t, "saturated", res.ModelName)
	assert.Equal(t, 5, res.SampleSize)
	assert.Equal(t, 0, res.DF)
	assert.InDelta(t, 0.0, res.ChiSquare, 1e-9)
	assert.Equal(t, 1.0, res.PValue)

	path, ok := res.Path("y", "x")
	require.True(t, ok)
	assert.InDelta(t, 2.0, path.Estimate, 1e-12)
	// psi_ml = 4/5, (X'X)^-1 = 1/10.
	assert.InDelta(t, math.Sqrt(0.08), path.StdErr, 1e-12)
	assert.InDelta(t, 2.0/math.Sqrt(0.08), path.ZValue, 1e-9)
	assert.Less(t, path.PValue, 1e-10)
	// beta * sd(x)/sd(y) = 2 * sqrt(2.5/11).
	assert.InDelta(t, 2*math.Sqrt(2.5/11), path.Standardized, 1e-12)

	assert.InDelta(t, 10.0/11.0, res.RSquared["y"], 1e-12)

	adequacy := res.Adequacy()
	assert.True(t, adequacy.Saturated)
	assert.True(t, adequacy.PValueAbove05)
	assert.Zero(t, adequacy.ChiSquarePerDF)

	cell, ok := res.Residuals.Cell("y", "x")
	require.True(t, ok)
	assert.InDelta(t, 0.0, cell, 1e-9)
}

func TestMLEstimator_OmittedPathMisfit(t *testing.T) {
	// y = x + e1, w = 2x + e2 where e1 and e2 are orthogonal to x but
	// correlated with each other. The model omits the y-w relation, so
	// with S and Sigma differing only in that cell the discrepancy is
	// ln(1.6) and the statistic is exactly 4*ln(1.6) on 1 df.
	tbl := fixtureTable(t, map[string][]float64{
		"x": {-2, -1, 0, 1, 2},
		"y": {-1, -2, 0, 0, 3},  // x + (1,-1,0,-1,1)
		"w": {-3, -1, -2, -1, 7}, // 2x + (1,1,-2,-3,3)
	})
	spec := mustSpec(t, "omitted-path", "y ~ x", "w ~ x")

	res, err := NewMLEstimator().Fit(context.Background(), spec, tbl)
	require.NoError(t, err)

	assert.Equal(t, 1, res.DF)
	assert.InDelta(t, 4*math.Log(1.6), res.ChiSquare, 1e-9)
	assert.InDelta(t, 0.1703, res.PValue, 1e-3)

	py, ok := res.Path("y", "x")
	require.True(t, ok)
	assert.InDelta(t, 1.0, py.Estimate, 1e-12)
	pw, ok := res.Path("w", "x")
	require.True(t, ok)
	assert.InDelta(t, 2.0, pw.Estimate, 1e-12)

	assert.InDelta(t, 1-1.0/3.5, res.RSquared["y"], 1e-12)
	assert.InDelta(t, 1-6.0/16.0, res.RSquared["w"], 1e-12)

	// Residual correlation concentrates in the omitted pair:
	// cov residual 1.5 over sd(y)*sd(w) = sqrt(3.5*16).
	cell, ok := res.Residuals.Cell("y", "w")
	require.True(t, ok)
	assert.InDelta(t, 1.5/math.Sqrt(56.0), cell, 1e-9)

	adequacy := res.Adequacy()
	assert.False(t, adequacy.Saturated)
	assert.InDelta(t, 4*math.Log(1.6), adequacy.ChiSquarePerDF, 1e-9)
}

func TestMLEstimator_MediationChain(t *testing.T) {
	// x -> m -> y with the direct x -> y path omitted. Residuals are
	// orthogonal to their own predictors, so both path estimates are
	// exactly 1 and the only misfit is the implied x-y covariance.
	tbl := fixtureTable(t, map[string][]float64{
		"x": {-2, -1, 0, 1, 2},
		"m": {-1, -2, 0, 0, 3}, // x + (1,-1,0,-1,1)
		"y": {0, -1, 0, -3, 4}, // m + (1,1,0,-3,1)
	})
	spec := mustSpec(t, "mediation", "m ~ x", "y ~ m")

	res, err := NewMLEstimator().Fit(context.Background(), spec, tbl)
	require.NoError(t, err)

	assert.Equal(t, 1, res.DF)
	assert.Greater(t, res.ChiSquare, 0.0)

	pm, ok := res.Path("m", "x")
	require.True(t, ok)
	assert.InDelta(t, 1.0, pm.Estimate, 1e-12)
	py, ok := res.Path("y", "m")
	require.True(t, ok)
	assert.InDelta(t, 1.0, py.Estimate, 1e-12)

	assert.InDelta(t, 1-1.0/3.5, res.RSquared["m"], 1e-12)
	assert.InDelta(t, 1-3.0/6.5, res.RSquared["y"], 1e-12)

	// Observed cov(x,y) = 1.5, implied = 2.5.
	cell, ok := res.Residuals.Cell("x", "y")
	require.True(t, ok)
	assert.InDelta(t, -1.0/math.Sqrt(2.5*6.5), cell, 1e-9)
}

func TestMLEstimator_Deterministic(t *testing.T) {
	tbl := fixtureTable(t, map[string][]float64{
		"x": {-2, -1, 0, 1, 2},
		"y": {-1, -2, 0, 0, 3},
		"w": {-3, -1, -2, -1, 7},
	})
	spec := mustSpec(t, "repeat", "y ~ x", "w ~ x")

	est := NewMLEstimator()
	first, err := est.Fit(context.Background(), spec, tbl)
	require.NoError(t, err)
	second, err := est.Fit(context.Background(), spec, tbl)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestMLEstimator_FitErrors(t *testing.T) {
	tests := []struct {
		name   string
		cols   map[string][]float64
		reason string
	}{
		{
			name: "constant column makes sample covariance singular",
			cols: map[string][]float64{
				"x": {-2, -1, 0, 1, 2},
				"y": {4, 4, 4, 4, 4},
			},
			reason: "singular",
		},
		{
			name: "non-finite value rejected before algebra",
			cols: map[string][]float64{
				"x": {-2, -1, 0, 1, 2},
				"y": {-3, math.Inf(1), 0, 1, 5},
			},
			reason: "non-finite",
		},
		{
			name: "collinear predictors",
			cols: map[string][]float64{
				"x": {-2, -1, 0, 1, 2},
				"w": {-4, -2, 0, 2, 4},
				"y": {-3, -3, 0, 1, 5},
			},
			reason: "ill-conditioned or singular",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tbl := fixtureTable(t, tt.cols)
			formulas := []string{"y ~ x"}
			if _, ok := tt.cols["w"]; ok {
				formulas = []string{"y ~ x + w"}
			}
			spec := mustSpec(t, "bad-data", formulas...)

			_, err := NewMLEstimator().Fit(context.Background(), spec, tbl)
			var nfe *NumericalFitError
			require.ErrorAs(t, err, &nfe)
			assert.Equal(t, "bad-data", nfe.Model)
			assert.False(t, nfe.IsTransient())
		})
	}
}

func TestMLEstimator_SampleTooSmall(t *testing.T) {
	tbl := NewTable(3)
	require.NoError(t, tbl.AddColumn("x", []float64{1, 2, 3}))
	require.NoError(t, tbl.AddColumn("y", []float64{2, 1, 3}))
	require.NoError(t, tbl.AddColumn("w", []float64{1, 3, 2}))
	spec := mustSpec(t, "tiny", "y ~ x", "w ~ x")

	_, err := NewMLEstimator().Fit(context.Background(), spec, tbl)
	var nfe *NumericalFitError
	require.ErrorAs(t, err, &nfe)
}

func TestMLEstimator_InvalidSpecIsNotAFitError(t *testing.T) {
	tbl := fixtureTable(t, map[string][]float64{
		"x": {-2, -1, 0, 1, 2},
		"y": {-3, -3, 0, 1, 5},
	})
	spec := mustSpec(t, "undefined-var", "y ~ light")

	_, err := NewMLEstimator().Fit(context.Background(), spec, tbl)
	var se *SpecificationError
	require.ErrorAs(t, err, &se)
	var nfe *NumericalFitError
	assert.False(t, errors.As(err, &nfe))
}

func TestMLEstimator_CanceledContext(t *testing.T) {
	tbl := fixtureTable(t, map[string][]float64{
		"x": {-2, -1, 0, 1, 2},
		"y": {-3, -3, 0, 1, 5},
	})
	spec := mustSpec(t, "canceled", "y ~ x")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewMLEstimator().Fit(ctx, spec, tbl)
	require.ErrorIs(t, err, context.Canceled)
}
