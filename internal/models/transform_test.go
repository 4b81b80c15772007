package models

import (
	"math"
	"testing"
)

func validRecord() ObservationRecord {
	return ObservationRecord{
		SiteID:        "nwis_01480617",
		Year:          2014,
		GPP:           1200.0,
		ER:            -1450.0,
		DischargeAR1:  0.85,
		DischargeCV:   1.1,
		DischargeAmp:  0.42,
		DischargeSkew: 3.7,
		NPP:           820.0,
		AreaKm2:       151.0,
		WidthM:        14.2,
		TempC:         14.8,
		LightPAR:      31.5,
		Latitude:      39.86,
	}
}

// TestObservationRecord_Transform covers every derived variable,
// including the hand-checkable reference values.
func TestObservationRecord_Transform(t *testing.T) {
	const tol = 1e-9

	tests := []struct {
		name        string
		mutate      func(*ObservationRecord)
		checkValues func(*testing.T, *ModelVariables)
	}{
		{
			name:   "log transforms of magnitudes",
			mutate: func(r *ObservationRecord) {},
			checkValues: func(t *testing.T, v *ModelVariables) {
				if got, want := v.LogGPP, math.Log(1200.0); math.Abs(got-want) > tol {
					t.Errorf("LogGPP = %v, want %v", got, want)
				}
				if got, want := v.LogER, math.Log(1450.0); math.Abs(got-want) > tol {
					t.Errorf("LogER = %v, want %v", got, want)
				}
				if got, want := v.LogNPP, math.Log(820.0); math.Abs(got-want) > tol {
					t.Errorf("LogNPP = %v, want %v", got, want)
				}
				if got, want := v.LogArea, math.Log(151.0); math.Abs(got-want) > tol {
					t.Errorf("LogArea = %v, want %v", got, want)
				}
				if got, want := v.LogWidth, math.Log(14.2); math.Abs(got-want) > tol {
					t.Errorf("LogWidth = %v, want %v", got, want)
				}
				if got, want := v.NPPScaled, 0.82; math.Abs(got-want) > tol {
					t.Errorf("NPPScaled = %v, want %v", got, want)
				}
			},
		},
		{
			name: "NEP is GPP plus ER",
			mutate: func(r *ObservationRecord) {
				r.GPP = 5.0
				r.ER = -6.0
			},
			checkValues: func(t *testing.T, v *ModelVariables) {
				if v.NEP != -1.0 {
					t.Errorf("NEP = %v, want %v", v.NEP, -1.0)
				}
			},
		},
		{
			name: "logit of AR1 at the midpoint is exactly zero",
			mutate: func(r *ObservationRecord) {
				r.DischargeAR1 = 0.5
			},
			checkValues: func(t *testing.T, v *ModelVariables) {
				if v.LogitAR1 != 0.0 {
					t.Errorf("LogitAR1 = %v, want exactly 0", v.LogitAR1)
				}
			},
		},
		{
			name: "Arrhenius temperature at 20 degrees C",
			mutate: func(r *ObservationRecord) {
				r.TempC = 20.0
			},
			checkValues: func(t *testing.T, v *ModelVariables) {
				if got, want := v.TempK, 293.15; math.Abs(got-want) > tol {
					t.Errorf("TempK = %v, want %v", got, want)
				}
				// 1 / (8.62e-5 * 293.15)
				if got, want := v.TempArrhenius, 39.5734; math.Abs(got-want) > 1e-3 {
					t.Errorf("TempArrhenius = %v, want %v", got, want)
				}
			},
		},
		{
			name:   "untransformed covariates pass through",
			mutate: func(r *ObservationRecord) {},
			checkValues: func(t *testing.T, v *ModelVariables) {
				if v.Light != 31.5 {
					t.Errorf("Light = %v, want %v", v.Light, 31.5)
				}
				if v.CV != 1.1 {
					t.Errorf("CV = %v, want %v", v.CV, 1.1)
				}
				if v.Amplitude != 0.42 {
					t.Errorf("Amplitude = %v, want %v", v.Amplitude, 0.42)
				}
				if v.Skewness != 3.7 {
					t.Errorf("Skewness = %v, want %v", v.Skewness, 3.7)
				}
				if v.Latitude != 39.86 {
					t.Errorf("Latitude = %v, want %v", v.Latitude, 39.86)
				}
				if v.SiteID != "nwis_01480617" || v.Year != 2014 {
					t.Errorf("identity = %v/%v, want nwis_01480617/2014", v.SiteID, v.Year)
				}
			},
		},
		{
			name: "zero GPP yields negative infinity, not an error",
			mutate: func(r *ObservationRecord) {
				r.GPP = 0.0
			},
			checkValues: func(t *testing.T, v *ModelVariables) {
				if !math.IsInf(v.LogGPP, -1) {
					t.Errorf("LogGPP = %v, want -Inf", v.LogGPP)
				}
			},
		},
		{
			name: "AR1 at one yields positive infinity",
			mutate: func(r *ObservationRecord) {
				r.DischargeAR1 = 1.0
			},
			checkValues: func(t *testing.T, v *ModelVariables) {
				if !math.IsInf(v.LogitAR1, 1) {
					t.Errorf("LogitAR1 = %v, want +Inf", v.LogitAR1)
				}
			},
		},
		{
			name: "positive ER yields NaN under the sign convention",
			mutate: func(r *ObservationRecord) {
				r.ER = 300.0
			},
			checkValues: func(t *testing.T, v *ModelVariables) {
				if !math.IsNaN(v.LogER) {
					t.Errorf("LogER = %v, want NaN", v.LogER)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := validRecord()
			tt.mutate(&rec)
			tt.checkValues(t, rec.Transform())
		})
	}
}

// TestObservationRecord_TransformDeterministic verifies repeated calls
// produce identical output for the same input.
func TestObservationRecord_TransformDeterministic(t *testing.T) {
	rec := validRecord()
	first := rec.Transform()
	second := rec.Transform()
	if *first != *second {
		t.Errorf("Transform() not deterministic: %+v vs %+v", first, second)
	}
}

// TestModelVariables_Value checks the column lookup against the column
// registry so equations can reference every advertised name.
func TestModelVariables_Value(t *testing.T) {
	rec := validRecord()
	v := rec.Transform()

	for _, col := range VariableColumns() {
		if _, ok := v.Value(col); !ok {
			t.Errorf("Value(%q) not available", col)
		}
	}

	if got, ok := v.Value("nep"); !ok || got != rec.GPP+rec.ER {
		t.Errorf("Value(nep) = %v, %v; want %v, true", got, ok, rec.GPP+rec.ER)
	}

	if _, ok := v.Value("discharge"); ok {
		t.Error("Value(discharge) should not resolve")
	}
}
