package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"metabolism-platform/internal/config"
	"metabolism-platform/internal/repository"
	"metabolism-platform/internal/sem"
	"metabolism-platform/internal/services"
	"metabolism-platform/pkg/logging"
	"metabolism-platform/pkg/metrics"
)

func main() {
	// Parse command-line flags
	dataPath := flag.String("data", "", "CSV file of site-year observations (required)")
	modelsPath := flag.String("models", "candidates.yaml", "YAML file declaring the candidate models")
	label := flag.String("label", "", "Label recorded on the comparison run")
	parallel := flag.Bool("parallel", false, "Fit candidates concurrently")
	maxConcurrent := flag.Int("max-concurrent", 4, "Concurrent fit limit when -parallel is set")
	outPath := flag.String("out", "", "Write the full JSON report to this file")
	flag.Parse()

	if *dataPath == "" {
		fmt.Fprintln(os.Stderr, "Usage: analyzer -data observations.csv [-models candidates.yaml] [-out report.json]")
		flag.PrintDefaults()
		os.Exit(1)
	}

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger := logging.NewStructuredLogger("metabolism-analyzer", "1.0.0", logging.ParseLevel(cfg.Logging.Level))

	ctx := context.Background()
	logger.Info(ctx, "[ANALYZER_START] Starting model comparison", logging.Fields{
		"version": "1.0.0",
		"data":    *dataPath,
		"models":  *modelsPath,
	})

	// Initialize metrics collector
	metricsCollector := metrics.NewCollector("metabolism_analyzer")

	// Load inputs
	records, err := services.LoadFile(*dataPath)
	if err != nil {
		logger.Fatal(ctx, "[ANALYZER_ERROR] Failed to load dataset", logging.Fields{
			"path": *dataPath,
		}, err)
	}

	candidates, err := sem.LoadCandidates(*modelsPath)
	if err != nil {
		logger.Fatal(ctx, "[ANALYZER_ERROR] Failed to load candidate models", logging.Fields{
			"path": *modelsPath,
		}, err)
	}

	// The analyzer is a one-shot tool: the run lives in memory and is
	// gone when the process exits. Persistent runs go through the API.
	repo := repository.NewMemoryRepository()
	if err := repo.CreateObservationsBatch(ctx, records); err != nil {
		logger.Fatal(ctx, "[ANALYZER_ERROR] Failed to stage observations", logging.Fields{}, err)
	}

	transformService := services.NewTransformService(repo, logger, metricsCollector)
	comparisonService := services.NewComparisonService(repo, transformService, sem.NewMLEstimator(), logger, metricsCollector, services.ComparisonOptions{
		Parallel:      *parallel,
		MaxConcurrent: *maxConcurrent,
	})

	runLabel := *label
	if runLabel == "" {
		runLabel = filepath.Base(*dataPath)
	}

	report, err := comparisonService.RunComparison(ctx, repository.ObservationFilter{}, candidates, runLabel)
	if err != nil {
		logger.Fatal(ctx, "[ANALYZER_ERROR] Comparison failed", logging.Fields{
			"label": runLabel,
		}, err)
	}

	// Print results
	fmt.Println(strings.Repeat("=", 80))
	fmt.Println("MODEL COMPARISON")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Run ID:       %s\n", report.RunID)
	fmt.Printf("Label:        %s\n", report.Label)
	fmt.Printf("Dataset Rows: %d\n", report.DatasetRows)
	fmt.Printf("Candidates:   %d\n", len(report.Candidates))

	failed := 0
	for _, candidate := range report.Candidates {
		fmt.Printf("\n%d. %s [%s]\n", candidate.Position+1, candidate.ModelName, candidate.Status)
		for _, formula := range candidate.Formulas {
			fmt.Printf("     %s\n", formula)
		}

		if candidate.Status != "ok" {
			failed++
			fmt.Printf("   error: %s\n", candidate.Error)
			continue
		}

		fit := candidate.Fit
		if candidate.Adequacy.Saturated {
			fmt.Printf("   chi-square %.4f on 0 df (saturated, exact fit)\n", fit.ChiSquare)
		} else {
			fmt.Printf("   chi-square %.4f on %d df (p = %.4f, chi-square/df = %.2f)\n",
				fit.ChiSquare, fit.DF, fit.PValue, candidate.Adequacy.ChiSquarePerDF)
		}
		for _, response := range fit.Variables {
			if r2, ok := fit.RSquared[response]; ok {
				fmt.Printf("   R2 %-8s = %.3f\n", response, r2)
			}
		}
	}

	if *outPath != "" {
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			logger.Fatal(ctx, "[ANALYZER_ERROR] Failed to encode report", logging.Fields{}, err)
		}
		if err := os.WriteFile(*outPath, data, 0o644); err != nil {
			logger.Fatal(ctx, "[ANALYZER_ERROR] Failed to write report", logging.Fields{
				"path": *outPath,
			}, err)
		}
		fmt.Printf("\nReport written to %s\n", *outPath)
	}

	logger.Info(ctx, "[ANALYZER_COMPLETE] Comparison completed", logging.Fields{
		"run_id":            report.RunID,
		"candidates":        len(report.Candidates),
		"failed_candidates": failed,
		"dataset_rows":      report.DatasetRows,
	})
}
