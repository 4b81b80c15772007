package services

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"metabolism-platform/internal/models"
	"metabolism-platform/internal/repository"
	"metabolism-platform/pkg/logging"
	"metabolism-platform/pkg/metrics"
)

// IngestionService handles observation data ingestion from CSV files
type IngestionService struct {
	repo    repository.MetabolismRepository
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// IngestionResult contains ingestion statistics
type IngestionResult struct {
	TotalFiles        int
	TotalRecords      int
	SuccessfulRecords int
	FailedRecords     int
	SitesCreated      int
	Duration          time.Duration
	Errors            []string
}

// NewIngestionService creates a new ingestion service
func NewIngestionService(repo repository.MetabolismRepository, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *IngestionService {
	return &IngestionService{
		repo:    repo,
		logger:  logger,
		metrics: metricsCollector,
	}
}

// requiredColumns are the CSV headers every ingest file must carry.
// Column names match the storage schema; site_name is optional.
var requiredColumns = []string{
	"site_id", "year", "gpp_ann", "er_ann",
	"disch_ar1", "disch_cv", "disch_amp", "disch_skew",
	"npp_ann", "area_km2", "width_m", "temp_c", "light_par", "latitude",
}

// IngestDirectory ingests all observation CSV files from a directory
func (s *IngestionService) IngestDirectory(ctx context.Context, dataDir string, batchSize int) (*IngestionResult, error) {
	startTime := time.Now()

	s.logger.Info(ctx, "[INGEST_START] Starting data ingestion", logging.Fields{
		"data_dir":   dataDir,
		"batch_size": batchSize,
		"stage":      "INITIALIZATION",
	})

	result := &IngestionResult{
		Errors: make([]string, 0),
	}

	files, err := filepath.Glob(filepath.Join(dataDir, "*.csv"))
	if err != nil {
		return nil, fmt.Errorf("failed to read directory: %w", err)
	}

	if len(files) == 0 {
		return nil, fmt.Errorf("no data files found in %s", dataDir)
	}

	result.TotalFiles = len(files)

	s.logger.Info(ctx, "[INGEST_FILES] Found data files", logging.Fields{
		"file_count": len(files),
		"stage":      "FILE_DISCOVERY",
	})

	for _, filePath := range files {
		fileResult, err := s.IngestFile(ctx, filePath, batchSize)
		if err != nil {
			errMsg := fmt.Sprintf("failed to ingest %s: %v", filePath, err)
			result.Errors = append(result.Errors, errMsg)
			s.logger.Error(ctx, "[INGEST_FILE_ERROR] File ingestion failed", logging.Fields{
				"file_path": filePath,
				"stage":     "FILE_PROCESSING",
			}, err)
			s.metrics.RecordIngestionError("file_error")
			continue
		}

		result.TotalRecords += fileResult.TotalRecords
		result.SuccessfulRecords += fileResult.SuccessfulRecords
		result.FailedRecords += fileResult.FailedRecords
		result.SitesCreated += fileResult.SitesCreated

		s.logger.Info(ctx, "[INGEST_FILE_SUCCESS] File ingested successfully", logging.Fields{
			"file_path":          filePath,
			"total_records":      fileResult.TotalRecords,
			"successful_records": fileResult.SuccessfulRecords,
			"failed_records":     fileResult.FailedRecords,
			"stage":              "FILE_COMPLETE",
		})
	}

	result.Duration = time.Since(startTime)
	s.metrics.IngestionDuration.Observe(result.Duration.Seconds())

	s.logger.Info(ctx, "[INGEST_COMPLETE] Data ingestion completed", logging.Fields{
		"total_files":        result.TotalFiles,
		"total_records":      result.TotalRecords,
		"successful_records": result.SuccessfulRecords,
		"failed_records":     result.FailedRecords,
		"sites_created":      result.SitesCreated,
		"duration_seconds":   result.Duration.Seconds(),
		"error_count":        len(result.Errors),
		"stage":              "COMPLETE",
	})

	return result, nil
}

// IngestFile ingests a single observation CSV file. Rows that fail to
// parse or validate are counted and skipped; the file as a whole only
// fails on I/O errors, a bad header, or storage errors.
func (s *IngestionService) IngestFile(ctx context.Context, filePath string, batchSize int) (*IngestionResult, error) {
	startTime := time.Now()

	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.TrimLeadingSpace = true
	// Ragged rows reach parseRow and are skipped instead of failing
	// the file.
	reader.FieldsPerRecord = -1

	header, err := readHeader(reader)
	if err != nil {
		return nil, err
	}

	result := &IngestionResult{TotalFiles: 1}
	seenSites := make(map[string]bool)
	batch := make([]*models.ObservationRecord, 0, batchSize)

	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error reading file: %w", err)
		}
		result.TotalRecords++

		record, err := parseRow(header, row)
		if err != nil {
			result.FailedRecords++
			s.metrics.RecordIngestionError("parse_error")
			s.logger.Debug(ctx, "[INGEST_ROW_SKIP] Row failed to parse", logging.Fields{
				"file_path": filePath,
				"row":       result.TotalRecords,
			})
			continue
		}

		if err := record.Validate(); err != nil {
			result.FailedRecords++
			s.metrics.RecordIngestionError("validation_error")
			s.logger.Debug(ctx, "[INGEST_ROW_SKIP] Row failed validation", logging.Fields{
				"file_path": filePath,
				"site_id":   record.SiteID,
				"year":      record.Year,
			})
			continue
		}

		if !seenSites[record.SiteID] {
			site := &models.Site{
				SiteID:    record.SiteID,
				Name:      siteName(header, row, record.SiteID),
				Latitude:  record.Latitude,
				CreatedAt: time.Now().UTC(),
				UpdatedAt: time.Now().UTC(),
			}
			if err := s.repo.CreateSite(ctx, site); err != nil {
				return nil, fmt.Errorf("failed to create site: %w", err)
			}
			seenSites[record.SiteID] = true
			result.SitesCreated++
		}

		batch = append(batch, record)

		if len(batch) >= batchSize {
			if err := s.repo.CreateObservationsBatch(ctx, batch); err != nil {
				return nil, fmt.Errorf("failed to insert batch: %w", err)
			}
			result.SuccessfulRecords += len(batch)
			batch = batch[:0]
		}
	}

	if len(batch) > 0 {
		if err := s.repo.CreateObservationsBatch(ctx, batch); err != nil {
			return nil, fmt.Errorf("failed to insert final batch: %w", err)
		}
		result.SuccessfulRecords += len(batch)
	}

	result.Duration = time.Since(startTime)
	return result, nil
}

// LoadFile parses an observation CSV without touching storage. Unlike
// IngestFile it is strict: the first malformed row fails the load, so
// an analysis never silently runs on a subset of the file.
func LoadFile(path string) ([]*models.ObservationRecord, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.TrimLeadingSpace = true

	header, err := readHeader(reader)
	if err != nil {
		return nil, err
	}

	var records []*models.ObservationRecord
	rowNum := 1
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error reading file: %w", err)
		}
		rowNum++

		record, err := parseRow(header, row)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", rowNum, err)
		}
		records = append(records, record)
	}

	if len(records) == 0 {
		return nil, fmt.Errorf("no observation rows in %s", path)
	}
	return records, nil
}

// readHeader reads and indexes the CSV header row, requiring every
// ingest column to be present.
func readHeader(reader *csv.Reader) (map[string]int, error) {
	row, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	header := make(map[string]int, len(row))
	for i, name := range row {
		header[strings.TrimSpace(strings.ToLower(name))] = i
	}

	for _, required := range requiredColumns {
		if _, ok := header[required]; !ok {
			return nil, fmt.Errorf("missing required column %q in header", required)
		}
	}
	return header, nil
}

// parseRow converts one CSV row into an observation record
func parseRow(header map[string]int, row []string) (*models.ObservationRecord, error) {
	field := func(name string) (string, error) {
		idx := header[name]
		if idx >= len(row) {
			return "", fmt.Errorf("row too short for column %q", name)
		}
		return strings.TrimSpace(row[idx]), nil
	}
	floatField := func(name string) (float64, error) {
		raw, err := field(name)
		if err != nil {
			return 0, err
		}
		value, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", name, err)
		}
		return value, nil
	}

	siteID, err := field("site_id")
	if err != nil {
		return nil, err
	}
	if siteID == "" {
		return nil, fmt.Errorf("empty site_id")
	}

	rawYear, err := field("year")
	if err != nil {
		return nil, err
	}
	year, err := strconv.Atoi(rawYear)
	if err != nil {
		return nil, fmt.Errorf("invalid year: %w", err)
	}

	record := &models.ObservationRecord{
		SiteID:    siteID,
		Year:      year,
		CreatedAt: time.Now().UTC(),
	}

	for _, col := range []struct {
		name string
		dst  *float64
	}{
		{"gpp_ann", &record.GPP},
		{"er_ann", &record.ER},
		{"disch_ar1", &record.DischargeAR1},
		{"disch_cv", &record.DischargeCV},
		{"disch_amp", &record.DischargeAmp},
		{"disch_skew", &record.DischargeSkew},
		{"npp_ann", &record.NPP},
		{"area_km2", &record.AreaKm2},
		{"width_m", &record.WidthM},
		{"temp_c", &record.TempC},
		{"light_par", &record.LightPAR},
		{"latitude", &record.Latitude},
	} {
		value, err := floatField(col.name)
		if err != nil {
			return nil, err
		}
		*col.dst = value
	}

	return record, nil
}

// siteName returns the optional site_name column value, falling back to
// the site ID.
func siteName(header map[string]int, row []string, siteID string) string {
	idx, ok := header["site_name"]
	if !ok || idx >= len(row) {
		return siteID
	}
	if name := strings.TrimSpace(row[idx]); name != "" {
		return name
	}
	return siteID
}
