package models

import "math"

// BoltzmannEV is the Boltzmann constant in electron volts per kelvin,
// used for the Arrhenius inverse-temperature variable of metabolic
// theory (Brown et al. 2004).
const BoltzmannEV = 8.62e-5

// ModelVariables holds the derived, model-ready form of one site-year.
// Each field corresponds to a named column usable in model equations.
// Transform is total: out-of-domain inputs produce IEEE-754 infinities
// or NaN rather than errors, so a value here is not evidence the source
// record was valid.
type ModelVariables struct {
	SiteID string `json:"site_id"`
	Year   int    `json:"year"`

	LogGPP        float64 `json:"gpp"`      // ln of annual GPP
	LogER         float64 `json:"er"`       // ln of -1 * annual ER
	LogitAR1      float64 `json:"ar1"`      // logit of discharge AR(1)
	LogNPP        float64 `json:"npp_log"`  // ln of terrestrial NPP
	NPPScaled     float64 `json:"npp"`      // terrestrial NPP / 1000
	LogArea       float64 `json:"area"`     // ln of watershed area
	LogWidth      float64 `json:"width"`    // ln of river width
	NEP           float64 `json:"nep"`      // GPP + ER, net ecosystem production
	TempK         float64 `json:"temp_k"`   // water temperature in kelvin
	TempArrhenius float64 `json:"temp"`     // 1 / (k_B * temp_k)
	Light         float64 `json:"light"`    // surface PAR, untransformed
	CV            float64 `json:"cv"`       // discharge CV, untransformed
	Amplitude     float64 `json:"amp"`      // discharge amplitude, untransformed
	Skewness      float64 `json:"skew"`     // discharge skewness, untransformed
	Latitude      float64 `json:"lat"`      // site latitude, untransformed
}

// VariableColumns lists every model variable column name in a fixed
// order. The names are the vocabulary model equations are written in.
func VariableColumns() []string {
	return []string{
		"gpp", "er", "ar1", "npp_log", "npp", "area", "width",
		"nep", "temp_k", "temp", "light", "cv", "amp", "skew", "lat",
	}
}

// Transform maps a raw observation to its model variables. It is pure
// and deterministic: the same record always yields the same output, and
// no input causes a panic or an error. Domain violations surface as
// infinities (for example ln of a non-positive GPP), which downstream
// fitting rejects; use Validate to reject them at the boundary instead.
func (r *ObservationRecord) Transform() *ModelVariables {
	tempK := r.TempC + 273.15
	return &ModelVariables{
		SiteID:        r.SiteID,
		Year:          r.Year,
		LogGPP:        math.Log(r.GPP),
		LogER:         math.Log(-r.ER),
		LogitAR1:      math.Log(r.DischargeAR1 / (1 - r.DischargeAR1)),
		LogNPP:        math.Log(r.NPP),
		NPPScaled:     r.NPP / 1000,
		LogArea:       math.Log(r.AreaKm2),
		LogWidth:      math.Log(r.WidthM),
		NEP:           r.GPP + r.ER,
		TempK:         tempK,
		TempArrhenius: 1 / (BoltzmannEV * tempK),
		Light:         r.LightPAR,
		CV:            r.DischargeCV,
		Amplitude:     r.DischargeAmp,
		Skewness:      r.DischargeSkew,
		Latitude:      r.Latitude,
	}
}

// Value returns the named column of v, or false when the name is not a
// model variable column.
func (v *ModelVariables) Value(column string) (float64, bool) {
	switch column {
	case "gpp":
		return v.LogGPP, true
	case "er":
		return v.LogER, true
	case "ar1":
		return v.LogitAR1, true
	case "npp_log":
		return v.LogNPP, true
	case "npp":
		return v.NPPScaled, true
	case "area":
		return v.LogArea, true
	case "width":
		return v.LogWidth, true
	case "nep":
		return v.NEP, true
	case "temp_k":
		return v.TempK, true
	case "temp":
		return v.TempArrhenius, true
	case "light":
		return v.Light, true
	case "cv":
		return v.CV, true
	case "amp":
		return v.Amplitude, true
	case "skew":
		return v.Skewness, true
	case "lat":
		return v.Latitude, true
	default:
		return 0, false
	}
}
