package services

import (
	"context"
	"errors"
	"fmt"

	"metabolism-platform/internal/models"
	"metabolism-platform/internal/repository"
	"metabolism-platform/internal/sem"
	"metabolism-platform/pkg/logging"
	"metabolism-platform/pkg/metrics"
)

// TransformService maps raw observations to the derived model variables
// the structural equation models are written in.
type TransformService struct {
	repo    repository.MetabolismRepository
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// NewTransformService creates a new transform service
func NewTransformService(repo repository.MetabolismRepository, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *TransformService {
	return &TransformService{
		repo:    repo,
		logger:  logger,
		metrics: metricsCollector,
	}
}

// TransformRecords validates and transforms a batch of observations.
// The whole batch is rejected on the first invalid record: partial
// datasets would silently change the fitted sample, so the caller gets
// a *models.DataValidityError naming the offending site-year instead.
func (s *TransformService) TransformRecords(ctx context.Context, records []*models.ObservationRecord) ([]*models.ModelVariables, error) {
	timer := s.metrics.NewTimer(s.metrics.TransformDuration)
	defer timer.ObserveDuration()

	variables := make([]*models.ModelVariables, 0, len(records))
	for _, record := range records {
		if err := record.Validate(); err != nil {
			var validityErr *models.DataValidityError
			if errors.As(err, &validityErr) {
				s.metrics.RecordTransformError(validityErr.Field)
				s.logger.Warn(ctx, "[TRANSFORM_REJECT] Observation failed validation", logging.Fields{
					"site_id": validityErr.SiteID,
					"year":    validityErr.Year,
					"field":   validityErr.Field,
					"stage":   "VALIDATION",
				})
			}
			return nil, err
		}
		variables = append(variables, record.Transform())
	}

	s.metrics.TransformRecordsTotal.Add(float64(len(variables)))

	s.logger.Debug(ctx, "[TRANSFORM_COMPLETE] Observations transformed", logging.Fields{
		"record_count": len(variables),
		"stage":        "COMPLETE",
	})

	return variables, nil
}

// TransformDataset loads observations matching filter and transforms
// them. Returns the variables in the repository's stable site-year
// order so repeated calls over the same data yield the same dataset.
func (s *TransformService) TransformDataset(ctx context.Context, filter repository.ObservationFilter) ([]*models.ModelVariables, error) {
	records, _, err := s.repo.GetObservations(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to load observations: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("no observations match the requested dataset")
	}
	return s.TransformRecords(ctx, records)
}

// BuildTable arranges transformed variables into the column table the
// estimator consumes. Every model variable column is included.
func BuildTable(variables []*models.ModelVariables) (*sem.Table, error) {
	table := sem.NewTable(len(variables))
	for _, column := range models.VariableColumns() {
		values := make([]float64, len(variables))
		for i, v := range variables {
			value, ok := v.Value(column)
			if !ok {
				return nil, fmt.Errorf("unknown model variable column %q", column)
			}
			values[i] = value
		}
		if err := table.AddColumn(column, values); err != nil {
			return nil, err
		}
	}
	return table, nil
}
