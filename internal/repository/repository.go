package repository

import (
	"context"
	"fmt"
	"time"

	"metabolism-platform/internal/models"
)

// MetabolismRepository provides data access for sites, observations,
// and model comparison runs. Three implementations exist: PostgreSQL
// for deployments, embedded SQLite for single-machine work, and an
// in-memory store for tests and throwaway analyses.
type MetabolismRepository interface {
	// Site operations
	CreateSite(ctx context.Context, site *models.Site) error
	GetSite(ctx context.Context, siteID string) (*models.Site, error)
	ListSites(ctx context.Context, limit, offset int) ([]*models.Site, int, error)

	// Observation operations
	CreateObservation(ctx context.Context, obs *models.ObservationRecord) error
	CreateObservationsBatch(ctx context.Context, observations []*models.ObservationRecord) error
	GetObservations(ctx context.Context, filter ObservationFilter) ([]*models.ObservationRecord, int, error)
	GetObservationBySiteYear(ctx context.Context, siteID string, year int) (*models.ObservationRecord, error)

	// Model run operations
	CreateModelRun(ctx context.Context, run *models.ModelRun) error
	CompleteModelRun(ctx context.Context, runID, status string, completedAt time.Time) error
	GetModelRun(ctx context.Context, runID string) (*models.ModelRun, error)
	ListModelRuns(ctx context.Context, limit, offset int) ([]*models.ModelRun, int, error)
	CreateFitResult(ctx context.Context, result *models.FitResultRecord) error
	ListFitResults(ctx context.Context, runID string) ([]*models.FitResultRecord, error)

	// Utility operations
	HealthCheck(ctx context.Context) error
}

// ObservationFilter defines filters for querying observations. Results
// are always ordered by (site_id, year) so a dataset snapshot is
// reproducible.
type ObservationFilter struct {
	SiteID    *string
	Year      *int
	StartYear *int
	EndYear   *int
	Limit     int
	Offset    int
}

// NotFoundError represents a resource not found error
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

func (e *NotFoundError) IsTransient() bool {
	return false
}
