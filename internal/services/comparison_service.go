package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"metabolism-platform/internal/models"
	"metabolism-platform/internal/repository"
	"metabolism-platform/internal/sem"
	"metabolism-platform/pkg/logging"
	"metabolism-platform/pkg/metrics"
)

// ComparisonService runs the model comparison procedure: fit an ordered
// set of candidate structural equation models against one dataset and
// report every result side by side. The service never ranks or selects
// a candidate; that judgment belongs to the analyst reading the report.
type ComparisonService struct {
	repo       repository.MetabolismRepository
	transforms *TransformService
	estimator  sem.Estimator
	logger     *logging.StructuredLogger
	metrics    *metrics.Collector
	options    ComparisonOptions
}

// ComparisonOptions controls how candidate fits are scheduled.
type ComparisonOptions struct {
	// Parallel fits candidates concurrently. Fits are independent, so
	// scheduling never changes any result, only wall time.
	Parallel      bool
	MaxConcurrent int
}

// CandidateOutcome is the terminal state of one candidate within a
// comparison: either a complete fit or the numerical error that stopped
// it. Position is the candidate's index in the submitted order.
type CandidateOutcome struct {
	Position int
	Spec     sem.Spec
	Fit      *sem.FitResult
	FitError *sem.NumericalFitError
}

// NewComparisonService creates a new comparison service
func NewComparisonService(repo repository.MetabolismRepository, transforms *TransformService, estimator sem.Estimator, logger *logging.StructuredLogger, metricsCollector *metrics.Collector, options ComparisonOptions) *ComparisonService {
	if options.MaxConcurrent < 1 {
		options.MaxConcurrent = 1
	}
	return &ComparisonService{
		repo:       repo,
		transforms: transforms,
		estimator:  estimator,
		logger:     logger,
		metrics:    metricsCollector,
		options:    options,
	}
}

// Compare fits every candidate against the dataset and returns one
// outcome per candidate in submission order.
//
// All candidates are validated against the dataset columns before any
// fit starts: a malformed candidate is the analyst's mistake, and
// partial output from a half-checked set would be misleading, so the
// whole comparison aborts with a *sem.SpecificationError. A numerical
// failure during fitting condemns only its own candidate; the failure
// is recorded in that candidate's outcome and the rest proceed.
func (s *ComparisonService) Compare(ctx context.Context, table *sem.Table, candidates []sem.Spec) ([]CandidateOutcome, error) {
	if len(candidates) == 0 {
		return nil, fmt.Errorf("no candidate models to compare")
	}

	timer := s.metrics.NewTimer(s.metrics.ComparisonDuration)
	defer timer.ObserveDuration()

	s.logger.Info(ctx, "[COMPARE_START] Starting model comparison", logging.Fields{
		"candidate_count": len(candidates),
		"dataset_rows":    table.Len(),
		"parallel":        s.options.Parallel,
		"stage":           "INITIALIZATION",
	})

	columns := table.Columns()
	for _, candidate := range candidates {
		if err := candidate.Validate(columns); err != nil {
			s.logger.Error(ctx, "[COMPARE_SPEC_INVALID] Candidate specification rejected", logging.Fields{
				"model": candidate.Name,
				"stage": "VALIDATION",
			}, err)
			return nil, err
		}
	}

	outcomes := make([]CandidateOutcome, len(candidates))

	if s.options.Parallel && len(candidates) > 1 {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(s.options.MaxConcurrent)
		for i, candidate := range candidates {
			i, candidate := i, candidate
			g.Go(func() error {
				outcome, err := s.fitCandidate(gctx, i, candidate, table)
				if err != nil {
					return err
				}
				outcomes[i] = outcome
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	} else {
		for i, candidate := range candidates {
			outcome, err := s.fitCandidate(ctx, i, candidate, table)
			if err != nil {
				return nil, err
			}
			outcomes[i] = outcome
		}
	}

	failed := 0
	for _, outcome := range outcomes {
		if outcome.FitError != nil {
			failed++
		}
	}

	s.metrics.ComparisonsTotal.Inc()
	s.metrics.CandidatesPerRun.Observe(float64(len(candidates)))

	s.logger.Info(ctx, "[COMPARE_COMPLETE] Model comparison completed", logging.Fields{
		"candidate_count": len(candidates),
		"failed_count":    failed,
		"stage":           "COMPLETE",
	})

	return outcomes, nil
}

// fitCandidate fits one candidate. A *sem.NumericalFitError becomes
// part of the outcome; any other error is fatal to the comparison.
func (s *ComparisonService) fitCandidate(ctx context.Context, position int, candidate sem.Spec, table *sem.Table) (CandidateOutcome, error) {
	outcome := CandidateOutcome{Position: position, Spec: candidate}

	timer := s.metrics.NewTimer(s.metrics.FitDuration.WithLabelValues(candidate.Name))
	fit, err := s.estimator.Fit(ctx, candidate, table)
	timer.ObserveDuration()

	if err != nil {
		var fitErr *sem.NumericalFitError
		if errors.As(err, &fitErr) {
			s.metrics.RecordFitFailure(candidate.Name)
			s.logger.Warn(ctx, "[COMPARE_CANDIDATE_FAILED] Candidate fit failed, continuing", logging.Fields{
				"model":    candidate.Name,
				"position": position,
				"reason":   fitErr.Reason,
				"stage":    "FITTING",
			})
			outcome.FitError = fitErr
			return outcome, nil
		}
		return outcome, err
	}

	outcome.Fit = fit
	return outcome, nil
}

// RunComparison loads a dataset, runs the comparison, and persists the
// run with every candidate outcome. The returned report carries the
// same content that was stored.
func (s *ComparisonService) RunComparison(ctx context.Context, filter repository.ObservationFilter, candidates []sem.Spec, label string) (*ComparisonReport, error) {
	variables, err := s.transforms.TransformDataset(ctx, filter)
	if err != nil {
		return nil, err
	}
	table, err := BuildTable(variables)
	if err != nil {
		return nil, err
	}

	run := &models.ModelRun{
		RunID:          uuid.NewString(),
		Label:          label,
		CandidateCount: len(candidates),
		DatasetRows:    table.Len(),
		Status:         models.RunStatusRunning,
		CreatedAt:      time.Now().UTC(),
	}
	if err := s.repo.CreateModelRun(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to record model run: %w", err)
	}

	ctx = context.WithValue(ctx, "run_id", run.RunID)

	outcomes, err := s.Compare(ctx, table, candidates)
	if err != nil {
		if completeErr := s.repo.CompleteModelRun(ctx, run.RunID, models.RunStatusFailed, time.Now().UTC()); completeErr != nil {
			s.logger.Error(ctx, "[COMPARE_RUN_STATUS_ERROR] Failed to mark run failed", logging.Fields{
				"run_id": run.RunID,
			}, completeErr)
		}
		return nil, err
	}

	for _, outcome := range outcomes {
		record, err := outcomeRecord(run.RunID, outcome)
		if err != nil {
			return nil, err
		}
		if err := s.repo.CreateFitResult(ctx, record); err != nil {
			return nil, fmt.Errorf("failed to store fit result for %q: %w", outcome.Spec.Name, err)
		}
	}

	if err := s.repo.CompleteModelRun(ctx, run.RunID, models.RunStatusComplete, time.Now().UTC()); err != nil {
		return nil, fmt.Errorf("failed to complete model run: %w", err)
	}

	return NewComparisonReport(run.RunID, label, table.Len(), outcomes), nil
}

// GetRun retrieves a stored comparison run with its candidate results.
func (s *ComparisonService) GetRun(ctx context.Context, runID string) (*models.ModelRun, []*models.FitResultRecord, error) {
	run, err := s.repo.GetModelRun(ctx, runID)
	if err != nil {
		return nil, nil, err
	}
	results, err := s.repo.ListFitResults(ctx, runID)
	if err != nil {
		return nil, nil, err
	}
	return run, results, nil
}

// ListRuns retrieves stored comparison runs, newest first.
func (s *ComparisonService) ListRuns(ctx context.Context, limit, offset int) ([]*models.ModelRun, int, error) {
	return s.repo.ListModelRuns(ctx, limit, offset)
}

// outcomeRecord flattens one candidate outcome into its storage row.
func outcomeRecord(runID string, outcome CandidateOutcome) (*models.FitResultRecord, error) {
	record := &models.FitResultRecord{
		RunID:     runID,
		Position:  outcome.Position,
		ModelName: outcome.Spec.Name,
		Equations: outcome.Spec.String(),
		CreatedAt: time.Now().UTC(),
	}

	if outcome.FitError != nil {
		record.Status = models.FitStatusFailed
		text := outcome.FitError.Error()
		record.ErrorText = &text
		return record, nil
	}

	fit := outcome.Fit
	record.Status = models.FitStatusOK
	record.ChiSquare = &fit.ChiSquare
	record.DF = &fit.DF
	record.PValue = &fit.PValue
	record.SampleSize = fit.SampleSize

	detail, err := json.Marshal(fit)
	if err != nil {
		return nil, fmt.Errorf("failed to encode fit detail for %q: %w", fit.ModelName, err)
	}
	record.Detail = detail

	return record, nil
}
