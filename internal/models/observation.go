package models

import (
	"fmt"
	"math"
	"time"
)

// Site represents a monitored river reach in the StreamPULSE network.
type Site struct {
	SiteID    string    `json:"site_id" db:"site_id"`
	Name      string    `json:"name" db:"name"`
	Latitude  float64   `json:"latitude" db:"latitude"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// ObservationRecord represents one site-year of annual river metabolism
// data together with its watershed and discharge covariates. Values are
// stored in natural units; derived model variables are produced by
// Transform.
type ObservationRecord struct {
	ID            int64     `json:"id" db:"id"`
	SiteID        string    `json:"site_id" db:"site_id"`
	Year          int       `json:"year" db:"year"`
	GPP           float64   `json:"gpp_ann" db:"gpp_ann"`           // gC m^-2 yr^-1, positive
	ER            float64   `json:"er_ann" db:"er_ann"`             // gC m^-2 yr^-1, negative
	DischargeAR1  float64   `json:"disch_ar1" db:"disch_ar1"`       // lag-1 autocorrelation, in (0,1)
	DischargeCV   float64   `json:"disch_cv" db:"disch_cv"`         // coefficient of variation
	DischargeAmp  float64   `json:"disch_amp" db:"disch_amp"`       // seasonal amplitude
	DischargeSkew float64   `json:"disch_skew" db:"disch_skew"`     // skewness of daily discharge
	NPP           float64   `json:"npp_ann" db:"npp_ann"`           // MODIS terrestrial NPP, gC m^-2 yr^-1
	AreaKm2       float64   `json:"area_km2" db:"area_km2"`         // watershed area
	WidthM        float64   `json:"width_m" db:"width_m"`           // mean wetted width
	TempC         float64   `json:"temp_c" db:"temp_c"`             // mean water temperature
	LightPAR      float64   `json:"light_par" db:"light_par"`       // mean daily surface PAR
	Latitude      float64   `json:"latitude" db:"latitude"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}

// Validate checks that a record satisfies the domain constraints the
// transformed variables depend on. It returns a *DataValidityError for
// the first violated constraint, or nil for a clean record. Transform
// itself never validates; callers that want hardened behavior validate
// at the boundary before transforming.
func (r *ObservationRecord) Validate() error {
	finite := []struct {
		field string
		value float64
	}{
		{"gpp_ann", r.GPP},
		{"er_ann", r.ER},
		{"disch_ar1", r.DischargeAR1},
		{"disch_cv", r.DischargeCV},
		{"disch_amp", r.DischargeAmp},
		{"disch_skew", r.DischargeSkew},
		{"npp_ann", r.NPP},
		{"area_km2", r.AreaKm2},
		{"width_m", r.WidthM},
		{"temp_c", r.TempC},
		{"light_par", r.LightPAR},
		{"latitude", r.Latitude},
	}
	for _, f := range finite {
		if math.IsNaN(f.value) || math.IsInf(f.value, 0) {
			return r.invalid(f.field, f.value, "value must be finite")
		}
	}

	if r.SiteID == "" {
		return &DataValidityError{Year: r.Year, Field: "site_id", Message: "site identifier required"}
	}
	if r.GPP <= 0 {
		return r.invalid("gpp_ann", r.GPP, "annual GPP must be positive for log transform")
	}
	if r.ER >= 0 {
		return r.invalid("er_ann", r.ER, "annual ER must be negative (respiration consumes oxygen)")
	}
	if r.DischargeAR1 <= 0 || r.DischargeAR1 >= 1 {
		return r.invalid("disch_ar1", r.DischargeAR1, "AR(1) coefficient must lie strictly between 0 and 1")
	}
	if r.NPP <= 0 {
		return r.invalid("npp_ann", r.NPP, "terrestrial NPP must be positive for log transform")
	}
	if r.AreaKm2 <= 0 {
		return r.invalid("area_km2", r.AreaKm2, "watershed area must be positive")
	}
	if r.WidthM <= 0 {
		return r.invalid("width_m", r.WidthM, "river width must be positive")
	}
	return nil
}

func (r *ObservationRecord) invalid(field string, value float64, message string) *DataValidityError {
	return &DataValidityError{
		SiteID:  r.SiteID,
		Year:    r.Year,
		Field:   field,
		Value:   value,
		Message: message,
	}
}

// DataValidityError reports an observation that violates a domain
// constraint of the transformed variables (non-positive GPP, AR1 outside
// the open unit interval, and so on).
type DataValidityError struct {
	SiteID  string
	Year    int
	Field   string
	Value   float64
	Message string
}

func (e *DataValidityError) Error() string {
	if e.SiteID == "" {
		return fmt.Sprintf("invalid observation: %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("invalid observation %s/%d: %s=%g: %s", e.SiteID, e.Year, e.Field, e.Value, e.Message)
}

// IsTransient returns false as data validity errors are permanent.
func (e *DataValidityError) IsTransient() bool {
	return false
}
