package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"metabolism-platform/internal/models"
	"metabolism-platform/pkg/database"
	"metabolism-platform/pkg/logging"
	"metabolism-platform/pkg/metrics"
)

// postgresRepository implements MetabolismRepository against PostgreSQL
type postgresRepository struct {
	db      *database.DB
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// NewPostgresRepository creates a repository backed by PostgreSQL. The
// schema is managed by the migrate binary, not here.
func NewPostgresRepository(db *database.DB, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) MetabolismRepository {
	return &postgresRepository{
		db:      db,
		logger:  logger,
		metrics: metricsCollector,
	}
}

var _ MetabolismRepository = (*postgresRepository)(nil)

const observationColumns = `id, site_id, year, gpp_ann, er_ann,
	       disch_ar1, disch_cv, disch_amp, disch_skew,
	       npp_ann, area_km2, width_m, temp_c, light_par, latitude, created_at`

// CreateSite registers a site, ignoring duplicates
func (r *postgresRepository) CreateSite(ctx context.Context, site *models.Site) error {
	query := `
		INSERT INTO sites (site_id, name, latitude, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (site_id) DO NOTHING
	`

	_, err := r.db.ExecContext(ctx, "insert_site", query,
		site.SiteID,
		site.Name,
		site.Latitude,
		site.CreatedAt,
		site.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create site: %w", err)
	}

	r.logger.Debug(ctx, "[REPO_CREATE_SITE] Site created", logging.Fields{
		"site_id":  site.SiteID,
		"latitude": site.Latitude,
	})

	return nil
}

// GetSite retrieves a site by ID
func (r *postgresRepository) GetSite(ctx context.Context, siteID string) (*models.Site, error) {
	query := `
		SELECT site_id, name, latitude, created_at, updated_at
		FROM sites
		WHERE site_id = $1
	`

	var site models.Site
	err := r.db.GetContext(ctx, "get_site", &site, query, siteID)

	if err == sql.ErrNoRows {
		return nil, &NotFoundError{Resource: "site", ID: siteID}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get site: %w", err)
	}

	return &site, nil
}

// ListSites retrieves sites with pagination
func (r *postgresRepository) ListSites(ctx context.Context, limit, offset int) ([]*models.Site, int, error) {
	var total int
	if err := r.db.GetContext(ctx, "count_sites", &total, "SELECT COUNT(*) FROM sites"); err != nil {
		return nil, 0, fmt.Errorf("failed to count sites: %w", err)
	}

	query := `
		SELECT site_id, name, latitude, created_at, updated_at
		FROM sites
		ORDER BY site_id
		LIMIT $1 OFFSET $2
	`

	var sites []*models.Site
	if err := r.db.SelectContext(ctx, "list_sites", &sites, query, limit, offset); err != nil {
		return nil, 0, fmt.Errorf("failed to list sites: %w", err)
	}

	return sites, total, nil
}

// CreateObservation upserts one site-year observation
func (r *postgresRepository) CreateObservation(ctx context.Context, obs *models.ObservationRecord) error {
	query := `
		INSERT INTO observations (
			site_id, year, gpp_ann, er_ann,
			disch_ar1, disch_cv, disch_amp, disch_skew,
			npp_ann, area_km2, width_m, temp_c, light_par, latitude,
			created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (site_id, year) DO UPDATE SET
			gpp_ann = EXCLUDED.gpp_ann,
			er_ann = EXCLUDED.er_ann,
			disch_ar1 = EXCLUDED.disch_ar1,
			disch_cv = EXCLUDED.disch_cv,
			disch_amp = EXCLUDED.disch_amp,
			disch_skew = EXCLUDED.disch_skew,
			npp_ann = EXCLUDED.npp_ann,
			area_km2 = EXCLUDED.area_km2,
			width_m = EXCLUDED.width_m,
			temp_c = EXCLUDED.temp_c,
			light_par = EXCLUDED.light_par,
			latitude = EXCLUDED.latitude
		RETURNING id
	`

	err := r.db.DB().QueryRowContext(ctx, query,
		obs.SiteID,
		obs.Year,
		obs.GPP,
		obs.ER,
		obs.DischargeAR1,
		obs.DischargeCV,
		obs.DischargeAmp,
		obs.DischargeSkew,
		obs.NPP,
		obs.AreaKm2,
		obs.WidthM,
		obs.TempC,
		obs.LightPAR,
		obs.Latitude,
		obs.CreatedAt,
	).Scan(&obs.ID)

	if err != nil {
		return fmt.Errorf("failed to create observation: %w", err)
	}

	return nil
}

// CreateObservationsBatch upserts multiple observations in a single transaction
func (r *postgresRepository) CreateObservationsBatch(ctx context.Context, observations []*models.ObservationRecord) error {
	if len(observations) == 0 {
		return nil
	}

	timer := time.Now()
	defer func() {
		duration := time.Since(timer)
		r.metrics.IngestionBatchSize.Observe(float64(len(observations)))
		r.logger.Debug(ctx, "[REPO_BATCH_INSERT] Batch insert completed", logging.Fields{
			"count":       len(observations),
			"duration_ms": duration.Milliseconds(),
		})
	}()

	tx, err := r.db.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO observations (
			site_id, year, gpp_ann, er_ann,
			disch_ar1, disch_cv, disch_amp, disch_skew,
			npp_ann, area_km2, width_m, temp_c, light_par, latitude,
			created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (site_id, year) DO UPDATE SET
			gpp_ann = EXCLUDED.gpp_ann,
			er_ann = EXCLUDED.er_ann,
			disch_ar1 = EXCLUDED.disch_ar1,
			disch_cv = EXCLUDED.disch_cv,
			disch_amp = EXCLUDED.disch_amp,
			disch_skew = EXCLUDED.disch_skew,
			npp_ann = EXCLUDED.npp_ann,
			area_km2 = EXCLUDED.area_km2,
			width_m = EXCLUDED.width_m,
			temp_c = EXCLUDED.temp_c,
			light_par = EXCLUDED.light_par,
			latitude = EXCLUDED.latitude
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, obs := range observations {
		_, err := stmt.ExecContext(ctx,
			obs.SiteID,
			obs.Year,
			obs.GPP,
			obs.ER,
			obs.DischargeAR1,
			obs.DischargeCV,
			obs.DischargeAmp,
			obs.DischargeSkew,
			obs.NPP,
			obs.AreaKm2,
			obs.WidthM,
			obs.TempC,
			obs.LightPAR,
			obs.Latitude,
			obs.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert observation: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	r.metrics.IngestionRecordsTotal.Add(float64(len(observations)))

	return nil
}

// GetObservations retrieves observations with filtering and pagination
func (r *postgresRepository) GetObservations(ctx context.Context, filter ObservationFilter) ([]*models.ObservationRecord, int, error) {
	query := `
		SELECT ` + observationColumns + `
		FROM observations
		WHERE 1=1
	`
	args := []interface{}{}
	argNum := 1

	if filter.SiteID != nil {
		query += fmt.Sprintf(" AND site_id = $%d", argNum)
		args = append(args, *filter.SiteID)
		argNum++
	}
	if filter.Year != nil {
		query += fmt.Sprintf(" AND year = $%d", argNum)
		args = append(args, *filter.Year)
		argNum++
	}
	if filter.StartYear != nil {
		query += fmt.Sprintf(" AND year >= $%d", argNum)
		args = append(args, *filter.StartYear)
		argNum++
	}
	if filter.EndYear != nil {
		query += fmt.Sprintf(" AND year <= $%d", argNum)
		args = append(args, *filter.EndYear)
		argNum++
	}

	countQuery := "SELECT COUNT(*) FROM (" + query + ") AS count_query"
	var totalCount int
	err := r.db.GetContext(ctx, "count_observations", &totalCount, countQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count observations: %w", err)
	}

	// Stable ordering keeps a dataset snapshot reproducible run to run.
	query += " ORDER BY site_id, year"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", argNum, argNum+1)
		args = append(args, filter.Limit, filter.Offset)
	}

	var observations []*models.ObservationRecord
	err = r.db.SelectContext(ctx, "get_observations", &observations, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to get observations: %w", err)
	}

	return observations, totalCount, nil
}

// GetObservationBySiteYear retrieves a specific observation
func (r *postgresRepository) GetObservationBySiteYear(ctx context.Context, siteID string, year int) (*models.ObservationRecord, error) {
	query := `
		SELECT ` + observationColumns + `
		FROM observations
		WHERE site_id = $1 AND year = $2
	`

	var obs models.ObservationRecord
	err := r.db.GetContext(ctx, "get_observation_by_year", &obs, query, siteID, year)

	if err == sql.ErrNoRows {
		return nil, &NotFoundError{
			Resource: "observation",
			ID:       fmt.Sprintf("%s:%d", siteID, year),
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get observation: %w", err)
	}

	return &obs, nil
}

// CreateModelRun records the start of a comparison run
func (r *postgresRepository) CreateModelRun(ctx context.Context, run *models.ModelRun) error {
	query := `
		INSERT INTO model_runs (run_id, label, candidate_count, dataset_rows, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := r.db.ExecContext(ctx, "insert_model_run", query,
		run.RunID,
		run.Label,
		run.CandidateCount,
		run.DatasetRows,
		run.Status,
		run.CreatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create model run: %w", err)
	}

	return nil
}

// CompleteModelRun stamps a run's terminal status
func (r *postgresRepository) CompleteModelRun(ctx context.Context, runID, status string, completedAt time.Time) error {
	query := `
		UPDATE model_runs
		SET status = $2, completed_at = $3
		WHERE run_id = $1
	`

	result, err := r.db.ExecContext(ctx, "complete_model_run", query, runID, status, completedAt)
	if err != nil {
		return fmt.Errorf("failed to complete model run: %w", err)
	}

	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return &NotFoundError{Resource: "model_run", ID: runID}
	}

	return nil
}

// GetModelRun retrieves a run by ID
func (r *postgresRepository) GetModelRun(ctx context.Context, runID string) (*models.ModelRun, error) {
	query := `
		SELECT run_id, label, candidate_count, dataset_rows, status, created_at, completed_at
		FROM model_runs
		WHERE run_id = $1
	`

	var run models.ModelRun
	err := r.db.GetContext(ctx, "get_model_run", &run, query, runID)

	if err == sql.ErrNoRows {
		return nil, &NotFoundError{Resource: "model_run", ID: runID}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get model run: %w", err)
	}

	return &run, nil
}

// ListModelRuns retrieves runs, newest first, with pagination
func (r *postgresRepository) ListModelRuns(ctx context.Context, limit, offset int) ([]*models.ModelRun, int, error) {
	var total int
	if err := r.db.GetContext(ctx, "count_model_runs", &total, "SELECT COUNT(*) FROM model_runs"); err != nil {
		return nil, 0, fmt.Errorf("failed to count model runs: %w", err)
	}

	query := `
		SELECT run_id, label, candidate_count, dataset_rows, status, created_at, completed_at
		FROM model_runs
		ORDER BY created_at DESC, run_id
		LIMIT $1 OFFSET $2
	`

	var runs []*models.ModelRun
	if err := r.db.SelectContext(ctx, "list_model_runs", &runs, query, limit, offset); err != nil {
		return nil, 0, fmt.Errorf("failed to list model runs: %w", err)
	}

	return runs, total, nil
}

// CreateFitResult stores one candidate outcome within a run
func (r *postgresRepository) CreateFitResult(ctx context.Context, result *models.FitResultRecord) error {
	query := `
		INSERT INTO fit_results (
			run_id, position, model_name, equations, status,
			chi_square, df, p_value, sample_size, detail, error_text, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id
	`

	err := r.db.DB().QueryRowContext(ctx, query,
		result.RunID,
		result.Position,
		result.ModelName,
		result.Equations,
		result.Status,
		result.ChiSquare,
		result.DF,
		result.PValue,
		result.SampleSize,
		result.Detail,
		result.ErrorText,
		result.CreatedAt,
	).Scan(&result.ID)

	if err != nil {
		return fmt.Errorf("failed to create fit result: %w", err)
	}

	return nil
}

// ListFitResults retrieves every candidate outcome of a run in
// submission order
func (r *postgresRepository) ListFitResults(ctx context.Context, runID string) ([]*models.FitResultRecord, error) {
	query := `
		SELECT id, run_id, position, model_name, equations, status,
		       chi_square, df, p_value, sample_size, detail, error_text, created_at
		FROM fit_results
		WHERE run_id = $1
		ORDER BY position
	`

	var results []*models.FitResultRecord
	if err := r.db.SelectContext(ctx, "list_fit_results", &results, query, runID); err != nil {
		return nil, fmt.Errorf("failed to list fit results: %w", err)
	}

	return results, nil
}

// HealthCheck performs a repository health check
func (r *postgresRepository) HealthCheck(ctx context.Context) error {
	return r.db.HealthCheck(ctx)
}
