package services

import (
	"context"

	"metabolism-platform/internal/models"
	"metabolism-platform/internal/repository"
	"metabolism-platform/pkg/logging"
	"metabolism-platform/pkg/metrics"
)

// ObservationService handles observation and site read operations
type ObservationService struct {
	repo    repository.MetabolismRepository
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// NewObservationService creates a new observation service
func NewObservationService(repo repository.MetabolismRepository, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *ObservationService {
	return &ObservationService{
		repo:    repo,
		logger:  logger,
		metrics: metricsCollector,
	}
}

// GetObservations retrieves observations with filtering
func (s *ObservationService) GetObservations(ctx context.Context, filter repository.ObservationFilter) ([]*models.ObservationRecord, int, error) {
	return s.repo.GetObservations(ctx, filter)
}

// GetSites retrieves monitored sites with pagination
func (s *ObservationService) GetSites(ctx context.Context, limit, offset int) ([]*models.Site, int, error) {
	return s.repo.ListSites(ctx, limit, offset)
}

// GetObservation retrieves a single site-year observation
func (s *ObservationService) GetObservation(ctx context.Context, siteID string, year int) (*models.ObservationRecord, error) {
	return s.repo.GetObservationBySiteYear(ctx, siteID, year)
}

// HealthCheck reports whether the backing store is reachable
func (s *ObservationService) HealthCheck(ctx context.Context) error {
	return s.repo.HealthCheck(ctx)
}
