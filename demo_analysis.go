package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"metabolism-platform/internal/models"
	"metabolism-platform/internal/sem"
	"metabolism-platform/internal/services"
	"metabolism-platform/pkg/logging"
)

// DemoAnalysis demonstrates the transform and comparison pipeline without a database
func main() {
	fmt.Println("════════════════════════════════════════════════════════════════")
	fmt.Println("METABOLISM PLATFORM - ANALYSIS DEMONSTRATION")
	fmt.Println("════════════════════════════════════════════════════════════════")
	fmt.Println()

	// Initialize logger
	logger := logging.NewStructuredLogger("demo", "1.0.0", logging.InfoLevel)
	ctx := context.Background()

	records := demoRecords()
	fmt.Printf("Loaded %d site-years across 4 rivers\n\n", len(records))

	// Validate and transform each record
	fmt.Println("────────────────────────────────────────────────────────────────")
	fmt.Println("Transforming observations to model variables")
	fmt.Println("────────────────────────────────────────────────────────────────")

	var variables []*models.ModelVariables
	for i, record := range records {
		if err := record.Validate(); err != nil {
			logger.Error(ctx, "Record failed validation", logging.Fields{
				"site_id": record.SiteID,
				"year":    record.Year,
			}, err)
			continue
		}

		v := record.Transform()
		variables = append(variables, v)

		// Print the first few rows
		if i < 3 {
			fmt.Printf("  [%d] %s %d | ln(GPP): %.3f | ln(-ER): %.3f | logit(AR1): %.3f | NEP: %.1f | 1/kT: %.2f\n",
				i+1, v.SiteID, v.Year, v.LogGPP, v.LogER, v.LogitAR1, v.NEP, v.TempArrhenius)
		}
	}

	fmt.Printf("\n  Transformed %d of %d records\n\n", len(variables), len(records))

	table, err := services.BuildTable(variables)
	if err != nil {
		fmt.Printf("Error building data table: %v\n", err)
		os.Exit(1)
	}

	// Fit the candidate progression in order
	fmt.Println("════════════════════════════════════════════════════════════════")
	fmt.Println("MODEL COMPARISON DEMONSTRATION")
	fmt.Println("════════════════════════════════════════════════════════════════")

	candidates := demoCandidates()
	estimator := sem.NewMLEstimator()

	for i, candidate := range candidates {
		fmt.Printf("\n%d. %s\n", i+1, candidate.Name)
		for _, formula := range candidate.Formulas() {
			fmt.Printf("     %s\n", formula)
		}

		fit, err := estimator.Fit(ctx, candidate, table)
		if err != nil {
			var fitErr *sem.NumericalFitError
			if errors.As(err, &fitErr) {
				fmt.Printf("   ⚠ fit failed: %v\n", fitErr)
				continue
			}
			fmt.Printf("Error fitting model: %v\n", err)
			os.Exit(1)
		}

		adequacy := fit.Adequacy()
		if adequacy.Saturated {
			fmt.Printf("   chi-square %.4f on 0 df (saturated, exact fit)\n", fit.ChiSquare)
		} else {
			fmt.Printf("   chi-square %.4f on %d df (p = %.4f)\n", fit.ChiSquare, fit.DF, fit.PValue)
		}
		for _, response := range fit.Variables {
			if r2, ok := fit.RSquared[response]; ok {
				fmt.Printf("   R² %-6s = %.3f\n", response, r2)
			}
		}
	}

	fmt.Println()
	fmt.Println("════════════════════════════════════════════════════════════════")
	fmt.Println("✅ ANALYSIS DEMONSTRATION COMPLETE")
	fmt.Println("════════════════════════════════════════════════════════════════")
	fmt.Println()
	fmt.Println("The system successfully:")
	fmt.Println("  ✓ Validated raw site-year observations")
	fmt.Println("  ✓ Applied the deterministic variable transforms (ln, logit, Arrhenius)")
	fmt.Println("  ✓ Fitted a nested candidate progression in declaration order")
	fmt.Println("  ✓ Reported chi-square, degrees of freedom, and R² per response")
	fmt.Println()
	fmt.Println("With a database, this would:")
	fmt.Println("  • Store observations in the observations table")
	fmt.Println("  • Journal each comparison in model_runs and fit_results")
	fmt.Println("  • Serve data and comparisons via REST API endpoints")
	fmt.Println("  • Provide real-time metrics and monitoring")
	fmt.Println()
}

func demoCandidates() []sem.Spec {
	entries := []struct {
		name     string
		formulas []string
	}{
		{"flow-light", []string{
			"gpp ~ light + ar1 + skew",
			"er ~ gpp + area",
		}},
		{"flow-light-npp", []string{
			"gpp ~ light + ar1 + skew + npp",
			"er ~ gpp + area",
		}},
		{"flow-light-npp-skew", []string{
			"gpp ~ light + ar1 + skew + npp",
			"er ~ gpp + area",
			"skew ~ npp",
		}},
	}

	specs := make([]sem.Spec, 0, len(entries))
	for _, entry := range entries {
		spec, err := sem.NewSpec(entry.name, entry.formulas)
		if err != nil {
			fmt.Printf("Error building candidate %s: %v\n", entry.name, err)
			os.Exit(1)
		}
		specs = append(specs, spec)
	}
	return specs
}

func demoRecords() []*models.ObservationRecord {
	type row struct {
		site  string
		year  int
		gpp   float64
		er    float64
		ar1   float64
		cv    float64
		amp   float64
		skew  float64
		npp   float64
		area  float64
		width float64
		temp  float64
		light float64
		lat   float64
	}

	rows := []row{
		{"nwis_01608500", 2014, 820, -1240, 0.82, 1.10, 480, 4.2, 620, 3810, 58, 13.8, 31.5, 39.4},
		{"nwis_01608500", 2015, 910, -1380, 0.78, 1.24, 515, 5.1, 648, 3810, 58, 14.1, 33.2, 39.4},
		{"nwis_01608500", 2016, 760, -1150, 0.85, 0.96, 440, 3.6, 601, 3810, 58, 13.2, 29.8, 39.4},
		{"nwis_01608500", 2017, 1040, -1490, 0.74, 1.38, 540, 6.0, 665, 3810, 58, 14.6, 35.0, 39.4},
		{"nwis_02336526", 2014, 1480, -2150, 0.62, 1.85, 700, 8.8, 710, 6030, 85, 18.9, 38.6, 33.8},
		{"nwis_02336526", 2015, 1350, -2020, 0.66, 1.72, 668, 7.9, 695, 6030, 85, 18.4, 36.9, 33.8},
		{"nwis_02336526", 2016, 1610, -2330, 0.58, 2.02, 735, 9.6, 730, 6030, 85, 19.5, 40.1, 33.8},
		{"nwis_02336526", 2017, 1270, -1900, 0.70, 1.58, 630, 7.1, 684, 6030, 85, 18.0, 35.4, 33.8},
		{"nwis_07191222", 2014, 540, -760, 0.88, 0.82, 360, 2.9, 842, 808, 22, 15.6, 26.4, 36.2},
		{"nwis_07191222", 2015, 498, -705, 0.90, 0.74, 340, 2.5, 828, 808, 22, 15.2, 25.1, 36.2},
		{"nwis_07191222", 2016, 585, -820, 0.86, 0.90, 382, 3.3, 860, 808, 22, 16.0, 27.7, 36.2},
		{"nwis_07191222", 2017, 452, -655, 0.92, 0.66, 322, 2.2, 815, 808, 22, 14.9, 24.0, 36.2},
		{"nwis_14211010", 2014, 1130, -1620, 0.52, 1.45, 590, 11.2, 540, 2440, 47, 11.8, 30.2, 45.4},
		{"nwis_14211010", 2015, 1210, -1730, 0.48, 1.58, 620, 12.4, 552, 2440, 47, 12.2, 31.6, 45.4},
		{"nwis_14211010", 2016, 1060, -1540, 0.55, 1.34, 560, 10.3, 528, 2440, 47, 11.5, 28.9, 45.4},
		{"nwis_14211010", 2017, 1290, -1820, 0.45, 1.70, 648, 13.1, 566, 2440, 47, 12.6, 33.0, 45.4},
	}

	records := make([]*models.ObservationRecord, 0, len(rows))
	for _, r := range rows {
		records = append(records, &models.ObservationRecord{
			SiteID:        r.site,
			Year:          r.year,
			GPP:           r.gpp,
			ER:            r.er,
			DischargeAR1:  r.ar1,
			DischargeCV:   r.cv,
			DischargeAmp:  r.amp,
			DischargeSkew: r.skew,
			NPP:           r.npp,
			AreaKm2:       r.area,
			WidthM:        r.width,
			TempC:         r.temp,
			LightPAR:      r.light,
			Latitude:      r.lat,
		})
	}
	return records
}
