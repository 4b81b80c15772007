package models

import (
	"errors"
	"math"
	"testing"
)

// TestObservationRecord_Validate exercises each domain constraint the
// transformed variables depend on.
func TestObservationRecord_Validate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*ObservationRecord)
		wantField string
	}{
		{
			name:   "valid record",
			mutate: func(r *ObservationRecord) {},
		},
		{
			name:      "zero GPP",
			mutate:    func(r *ObservationRecord) { r.GPP = 0 },
			wantField: "gpp_ann",
		},
		{
			name:      "negative GPP",
			mutate:    func(r *ObservationRecord) { r.GPP = -10 },
			wantField: "gpp_ann",
		},
		{
			name:      "positive ER",
			mutate:    func(r *ObservationRecord) { r.ER = 250 },
			wantField: "er_ann",
		},
		{
			name:      "zero ER",
			mutate:    func(r *ObservationRecord) { r.ER = 0 },
			wantField: "er_ann",
		},
		{
			name:      "AR1 at lower boundary",
			mutate:    func(r *ObservationRecord) { r.DischargeAR1 = 0 },
			wantField: "disch_ar1",
		},
		{
			name:      "AR1 at upper boundary",
			mutate:    func(r *ObservationRecord) { r.DischargeAR1 = 1 },
			wantField: "disch_ar1",
		},
		{
			name:      "zero NPP",
			mutate:    func(r *ObservationRecord) { r.NPP = 0 },
			wantField: "npp_ann",
		},
		{
			name:      "zero area",
			mutate:    func(r *ObservationRecord) { r.AreaKm2 = 0 },
			wantField: "area_km2",
		},
		{
			name:      "zero width",
			mutate:    func(r *ObservationRecord) { r.WidthM = 0 },
			wantField: "width_m",
		},
		{
			name:      "NaN temperature",
			mutate:    func(r *ObservationRecord) { r.TempC = math.NaN() },
			wantField: "temp_c",
		},
		{
			name:      "infinite light",
			mutate:    func(r *ObservationRecord) { r.LightPAR = math.Inf(1) },
			wantField: "light_par",
		},
		{
			name:      "missing site id",
			mutate:    func(r *ObservationRecord) { r.SiteID = "" },
			wantField: "site_id",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := validRecord()
			tt.mutate(&rec)
			err := rec.Validate()

			if tt.wantField == "" {
				if err != nil {
					t.Errorf("Validate() = %v, want nil", err)
				}
				return
			}

			var dve *DataValidityError
			if !errors.As(err, &dve) {
				t.Fatalf("Validate() = %v, want *DataValidityError", err)
			}
			if dve.Field != tt.wantField {
				t.Errorf("Field = %v, want %v", dve.Field, tt.wantField)
			}
		})
	}
}

// TestDataValidityError tests error formatting and classification.
func TestDataValidityError(t *testing.T) {
	err := &DataValidityError{
		SiteID:  "nwis_08180700",
		Year:    2012,
		Field:   "gpp_ann",
		Value:   -3.2,
		Message: "annual GPP must be positive for log transform",
	}

	want := "invalid observation nwis_08180700/2012: gpp_ann=-3.2: annual GPP must be positive for log transform"
	if err.Error() != want {
		t.Errorf("Error() = %v, want %v", err.Error(), want)
	}

	if err.IsTransient() {
		t.Error("DataValidityError should not be transient")
	}
}
