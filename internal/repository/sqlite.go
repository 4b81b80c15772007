package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"metabolism-platform/internal/models"
	"metabolism-platform/pkg/database"
	"metabolism-platform/pkg/logging"
	"metabolism-platform/pkg/metrics"
)

// sqliteRepository implements MetabolismRepository against an embedded
// SQLite database. Records are stored as JSON documents alongside the
// key columns used for lookup and ordering, so the SQL surface stays
// small and engine differences (time and NULL affinity) never leak into
// the models.
type sqliteRepository struct {
	db      *database.DB
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// NewSQLiteRepository creates a repository backed by SQLite and
// bootstraps the schema in place.
func NewSQLiteRepository(db *database.DB, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) (MetabolismRepository, error) {
	r := &sqliteRepository{
		db:      db,
		logger:  logger,
		metrics: metricsCollector,
	}
	if err := r.createSchema(context.Background()); err != nil {
		return nil, err
	}
	return r, nil
}

var _ MetabolismRepository = (*sqliteRepository)(nil)

func (r *sqliteRepository) createSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS sites (
			site_id TEXT PRIMARY KEY,
			doc TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS observations (
			site_id TEXT NOT NULL,
			year INTEGER NOT NULL,
			doc TEXT NOT NULL,
			PRIMARY KEY (site_id, year)
		)`,
		`CREATE TABLE IF NOT EXISTS model_runs (
			run_id TEXT PRIMARY KEY,
			created_at TEXT NOT NULL,
			doc TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS fit_results (
			run_id TEXT NOT NULL,
			position INTEGER NOT NULL,
			doc TEXT NOT NULL,
			PRIMARY KEY (run_id, position)
		)`,
	}

	for _, stmt := range statements {
		if _, err := r.db.ExecContext(ctx, "create_schema", stmt); err != nil {
			return fmt.Errorf("failed to create sqlite schema: %w", err)
		}
	}
	return nil
}

func encodeDoc(v interface{}) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to encode record: %w", err)
	}
	return string(data), nil
}

func decodeDoc(doc string, v interface{}) error {
	if err := json.Unmarshal([]byte(doc), v); err != nil {
		return fmt.Errorf("failed to decode record: %w", err)
	}
	return nil
}

// CreateSite registers a site, ignoring duplicates
func (r *sqliteRepository) CreateSite(ctx context.Context, site *models.Site) error {
	doc, err := encodeDoc(site)
	if err != nil {
		return err
	}

	query := `INSERT OR IGNORE INTO sites (site_id, doc) VALUES (?, ?)`
	if _, err := r.db.ExecContext(ctx, "insert_site", query, site.SiteID, doc); err != nil {
		return fmt.Errorf("failed to create site: %w", err)
	}

	r.logger.Debug(ctx, "[REPO_CREATE_SITE] Site created", logging.Fields{
		"site_id": site.SiteID,
	})

	return nil
}

// GetSite retrieves a site by ID
func (r *sqliteRepository) GetSite(ctx context.Context, siteID string) (*models.Site, error) {
	var doc string
	err := r.db.GetContext(ctx, "get_site", &doc, `SELECT doc FROM sites WHERE site_id = ?`, siteID)

	if err == sql.ErrNoRows {
		return nil, &NotFoundError{Resource: "site", ID: siteID}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get site: %w", err)
	}

	var site models.Site
	if err := decodeDoc(doc, &site); err != nil {
		return nil, err
	}
	return &site, nil
}

// ListSites retrieves sites with pagination
func (r *sqliteRepository) ListSites(ctx context.Context, limit, offset int) ([]*models.Site, int, error) {
	var total int
	if err := r.db.GetContext(ctx, "count_sites", &total, `SELECT COUNT(*) FROM sites`); err != nil {
		return nil, 0, fmt.Errorf("failed to count sites: %w", err)
	}

	var docs []string
	query := `SELECT doc FROM sites ORDER BY site_id LIMIT ? OFFSET ?`
	if err := r.db.SelectContext(ctx, "list_sites", &docs, query, limit, offset); err != nil {
		return nil, 0, fmt.Errorf("failed to list sites: %w", err)
	}

	sites := make([]*models.Site, 0, len(docs))
	for _, doc := range docs {
		var site models.Site
		if err := decodeDoc(doc, &site); err != nil {
			return nil, 0, err
		}
		sites = append(sites, &site)
	}
	return sites, total, nil
}

// CreateObservation upserts one site-year observation
func (r *sqliteRepository) CreateObservation(ctx context.Context, obs *models.ObservationRecord) error {
	doc, err := encodeDoc(obs)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO observations (site_id, year, doc) VALUES (?, ?, ?)
		ON CONFLICT (site_id, year) DO UPDATE SET doc = excluded.doc
	`
	if _, err := r.db.ExecContext(ctx, "insert_observation", query, obs.SiteID, obs.Year, doc); err != nil {
		return fmt.Errorf("failed to create observation: %w", err)
	}
	return nil
}

// CreateObservationsBatch upserts multiple observations in a single transaction
func (r *sqliteRepository) CreateObservationsBatch(ctx context.Context, observations []*models.ObservationRecord) error {
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
		INSERT INTO observations (site_id, year, doc) VALUES (?, ?, ?)
		ON CONFLICT (site_id, year) DO UPDATE SET doc = excluded.doc
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, obs := range observations {
		doc, err := encodeDoc(obs)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, obs.SiteID, obs.Year, doc); err != nil {
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
func (r *sqliteRepository) GetObservations(ctx context.Context, filter ObservationFilter) ([]*models.ObservationRecord, int, error) {
	query := `SELECT doc FROM observations WHERE 1=1`
	args := []interface{}{}

	if filter.SiteID != nil {
		query += " AND site_id = ?"
		args = append(args, *filter.SiteID)
	}
	if filter.Year != nil {
		query += " AND year = ?"
		args = append(args, *filter.Year)
	}
	if filter.StartYear != nil {
		query += " AND year >= ?"
		args = append(args, *filter.StartYear)
	}
	if filter.EndYear != nil {
		query += " AND year <= ?"
		args = append(args, *filter.EndYear)
	}

	countQuery := "SELECT COUNT(*) FROM (" + query + ")"
	var totalCount int
	if err := r.db.GetContext(ctx, "count_observations", &totalCount, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to count observations: %w", err)
	}

	query += " ORDER BY site_id, year"
	if filter.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, filter.Limit, filter.Offset)
	}

	var docs []string
	if err := r.db.SelectContext(ctx, "get_observations", &docs, query, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to get observations: %w", err)
	}

	observations := make([]*models.ObservationRecord, 0, len(docs))
	for _, doc := range docs {
		var obs models.ObservationRecord
		if err := decodeDoc(doc, &obs); err != nil {
			return nil, 0, err
		}
		observations = append(observations, &obs)
	}
	return observations, totalCount, nil
}

// GetObservationBySiteYear retrieves a specific observation
func (r *sqliteRepository) GetObservationBySiteYear(ctx context.Context, siteID string, year int) (*models.ObservationRecord, error) {
	var doc string
	query := `SELECT doc FROM observations WHERE site_id = ? AND year = ?`
	err := r.db.GetContext(ctx, "get_observation_by_year", &doc, query, siteID, year)

	if err == sql.ErrNoRows {
		return nil, &NotFoundError{
			Resource: "observation",
			ID:       fmt.Sprintf("%s:%d", siteID, year),
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get observation: %w", err)
	}

	var obs models.ObservationRecord
	if err := decodeDoc(doc, &obs); err != nil {
		return nil, err
	}
	return &obs, nil
}

// CreateModelRun records the start of a comparison run
func (r *sqliteRepository) CreateModelRun(ctx context.Context, run *models.ModelRun) error {
	doc, err := encodeDoc(run)
	if err != nil {
		return err
	}

	query := `INSERT INTO model_runs (run_id, created_at, doc) VALUES (?, ?, ?)`
	createdAt := run.CreatedAt.UTC().Format(time.RFC3339Nano)
	if _, err := r.db.ExecContext(ctx, "insert_model_run", query, run.RunID, createdAt, doc); err != nil {
		return fmt.Errorf("failed to create model run: %w", err)
	}
	return nil
}

// CompleteModelRun stamps a run's terminal status
func (r *sqliteRepository) CompleteModelRun(ctx context.Context, runID, status string, completedAt time.Time) error {
	run, err := r.GetModelRun(ctx, runID)
	if err != nil {
		return err
	}

	run.Status = status
	run.CompletedAt = &completedAt
	doc, err := encodeDoc(run)
	if err != nil {
		return err
	}

	query := `UPDATE model_runs SET doc = ? WHERE run_id = ?`
	if _, err := r.db.ExecContext(ctx, "complete_model_run", query, doc, runID); err != nil {
		return fmt.Errorf("failed to complete model run: %w", err)
	}
	return nil
}

// GetModelRun retrieves a run by ID
func (r *sqliteRepository) GetModelRun(ctx context.Context, runID string) (*models.ModelRun, error) {
	var doc string
	err := r.db.GetContext(ctx, "get_model_run", &doc, `SELECT doc FROM model_runs WHERE run_id = ?`, runID)

	if err == sql.ErrNoRows {
		return nil, &NotFoundError{Resource: "model_run", ID: runID}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get model run: %w", err)
	}

	var run models.ModelRun
	if err := decodeDoc(doc, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// ListModelRuns retrieves runs, newest first, with pagination
func (r *sqliteRepository) ListModelRuns(ctx context.Context, limit, offset int) ([]*models.ModelRun, int, error) {
	var total int
	if err := r.db.GetContext(ctx, "count_model_runs", &total, `SELECT COUNT(*) FROM model_runs`); err != nil {
		return nil, 0, fmt.Errorf("failed to count model runs: %w", err)
	}

	var docs []string
	query := `SELECT doc FROM model_runs ORDER BY created_at DESC, run_id LIMIT ? OFFSET ?`
	if err := r.db.SelectContext(ctx, "list_model_runs", &docs, query, limit, offset); err != nil {
		return nil, 0, fmt.Errorf("failed to list model runs: %w", err)
	}

	runs := make([]*models.ModelRun, 0, len(docs))
	for _, doc := range docs {
		var run models.ModelRun
		if err := decodeDoc(doc, &run); err != nil {
			return nil, 0, err
		}
		runs = append(runs, &run)
	}
	return runs, total, nil
}

// CreateFitResult stores one candidate outcome within a run
func (r *sqliteRepository) CreateFitResult(ctx context.Context, result *models.FitResultRecord) error {
	doc, err := encodeDoc(result)
	if err != nil {
		return err
	}

	query := `INSERT INTO fit_results (run_id, position, doc) VALUES (?, ?, ?)`
	if _, err := r.db.ExecContext(ctx, "insert_fit_result", query, result.RunID, result.Position, doc); err != nil {
		return fmt.Errorf("failed to create fit result: %w", err)
	}
	return nil
}

// ListFitResults retrieves every candidate outcome of a run in
// submission order
func (r *sqliteRepository) ListFitResults(ctx context.Context, runID string) ([]*models.FitResultRecord, error) {
	var docs []string
	query := `SELECT doc FROM fit_results WHERE run_id = ? ORDER BY position`
	if err := r.db.SelectContext(ctx, "list_fit_results", &docs, query, runID); err != nil {
		return nil, fmt.Errorf("failed to list fit results: %w", err)
	}

	results := make([]*models.FitResultRecord, 0, len(docs))
	for _, doc := range docs {
		var result models.FitResultRecord
		if err := decodeDoc(doc, &result); err != nil {
			return nil, err
		}
		results = append(results, &result)
	}
	return results, nil
}

// HealthCheck performs a repository health check
func (r *sqliteRepository) HealthCheck(ctx context.Context) error {
	return r.db.HealthCheck(ctx)
}
