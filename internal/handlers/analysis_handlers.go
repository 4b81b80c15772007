package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"metabolism-platform/internal/models"
	"metabolism-platform/internal/repository"
	"metabolism-platform/internal/sem"
	"metabolism-platform/internal/services"
	"metabolism-platform/pkg/logging"
	"metabolism-platform/pkg/metrics"
)

// AnalysisHandler handles the metabolism analysis API endpoints
type AnalysisHandler struct {
	observationService *services.ObservationService
	transformService   *services.TransformService
	comparisonService  *services.ComparisonService
	logger             *logging.StructuredLogger
	metrics            *metrics.Collector
}

// NewAnalysisHandler creates a new analysis handler
func NewAnalysisHandler(
	observationService *services.ObservationService,
	transformService *services.TransformService,
	comparisonService *services.ComparisonService,
	logger *logging.StructuredLogger,
	metricsCollector *metrics.Collector,
) *AnalysisHandler {
	return &AnalysisHandler{
		observationService: observationService,
		transformService:   transformService,
		comparisonService:  comparisonService,
		logger:             logger,
		metrics:            metricsCollector,
	}
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// PaginatedResponse represents a paginated API response
type PaginatedResponse struct {
	Data       interface{} `json:"data"`
	Total      int         `json:"total"`
	Page       int         `json:"page"`
	Limit      int         `json:"limit"`
	TotalPages int         `json:"total_pages"`
}

// CompareRequest is the body of POST /api/compare. Candidates are
// fitted in the order given.
type CompareRequest struct {
	Label      string             `json:"label"`
	SiteID     string             `json:"site_id,omitempty"`
	StartYear  *int               `json:"start_year,omitempty"`
	EndYear    *int               `json:"end_year,omitempty"`
	Candidates []CandidateRequest `json:"candidates"`
}

// CandidateRequest is one candidate model in a compare request.
type CandidateRequest struct {
	Name      string   `json:"name"`
	Equations []string `json:"equations"`
}

// RunResponse is the body of GET /api/runs/{run_id}.
type RunResponse struct {
	Run     *models.ModelRun          `json:"run"`
	Results []*models.FitResultRecord `json:"results"`
}

func parsePagination(r *http.Request) (page, limit, offset int) {
	page = 1
	limit = 100

	if pageStr := r.URL.Query().Get("page"); pageStr != "" {
		if p, err := strconv.Atoi(pageStr); err == nil && p > 0 {
			page = p
		}
	}
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 1000 {
			limit = l
		}
	}

	return page, limit, (page - 1) * limit
}

// observationFilter builds the repository filter from the shared query
// parameters of the observation endpoints.
func (h *AnalysisHandler) observationFilter(w http.ResponseWriter, r *http.Request) (repository.ObservationFilter, bool) {
	filter := repository.ObservationFilter{}

	if siteID := r.URL.Query().Get("site_id"); siteID != "" {
		filter.SiteID = &siteID
	}

	for _, q := range []struct {
		name string
		dst  **int
	}{
		{"year", &filter.Year},
		{"start_year", &filter.StartYear},
		{"end_year", &filter.EndYear},
	} {
		raw := r.URL.Query().Get(q.name)
		if raw == "" {
			continue
		}
		year, err := strconv.Atoi(raw)
		if err != nil {
			h.sendError(w, r, "invalid "+q.name+", expected an integer year", http.StatusBadRequest)
			return filter, false
		}
		*q.dst = &year
	}

	return filter, true
}

// GetObservations handles GET /api/observations
func (h *AnalysisHandler) GetObservations(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	defer func() {
		duration := time.Since(startTime)
		h.metrics.APIRequestDuration.WithLabelValues("/api/observations").Observe(duration.Seconds())
	}()

	filter, ok := h.observationFilter(w, r)
	if !ok {
		return
	}
	page, limit, offset := parsePagination(r)
	filter.Limit = limit
	filter.Offset = offset

	observations, total, err := h.observationService.GetObservations(ctx, filter)
	if err != nil {
		h.logger.Error(ctx, "[API_GET_OBSERVATIONS_ERROR] Failed to get observations", logging.Fields{
			"filter": filter,
		}, err)
		h.metrics.RecordAPIError("internal_error", "/api/observations")
		h.sendError(w, r, "failed to retrieve observations", http.StatusInternalServerError)
		return
	}

	totalPages := (total + limit - 1) / limit

	response := PaginatedResponse{
		Data:       observations,
		Total:      total,
		Page:       page,
		Limit:      limit,
		TotalPages: totalPages,
	}

	h.metrics.RecordAPIRequest("/api/observations", "GET", "200")
	h.sendJSON(w, response, http.StatusOK)
}

// GetTransformedObservations handles GET /api/observations/transformed.
// It returns the model-variable form of the matching observations, or
// 422 when any matching record violates a domain constraint.
func (h *AnalysisHandler) GetTransformedObservations(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	defer func() {
		duration := time.Since(startTime)
		h.metrics.APIRequestDuration.WithLabelValues("/api/observations/transformed").Observe(duration.Seconds())
	}()

	filter, ok := h.observationFilter(w, r)
	if !ok {
		return
	}

	variables, err := h.transformService.TransformDataset(ctx, filter)
	if err != nil {
		var validityErr *models.DataValidityError
		if errors.As(err, &validityErr) {
			h.metrics.RecordAPIError("data_validity", "/api/observations/transformed")
			h.sendError(w, r, validityErr.Error(), http.StatusUnprocessableEntity)
			return
		}
		h.logger.Error(ctx, "[API_TRANSFORM_ERROR] Failed to transform observations", logging.Fields{
			"filter": filter,
		}, err)
		h.metrics.RecordAPIError("internal_error", "/api/observations/transformed")
		h.sendError(w, r, "failed to transform observations", http.StatusInternalServerError)
		return
	}

	h.metrics.RecordAPIRequest("/api/observations/transformed", "GET", "200")
	h.sendJSON(w, variables, http.StatusOK)
}

// GetSites handles GET /api/sites
func (h *AnalysisHandler) GetSites(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	defer func() {
		duration := time.Since(startTime)
		h.metrics.APIRequestDuration.WithLabelValues("/api/sites").Observe(duration.Seconds())
	}()

	page, limit, offset := parsePagination(r)

	sites, total, err := h.observationService.GetSites(ctx, limit, offset)
	if err != nil {
		h.logger.Error(ctx, "[API_GET_SITES_ERROR] Failed to get sites", logging.Fields{}, err)
		h.metrics.RecordAPIError("internal_error", "/api/sites")
		h.sendError(w, r, "failed to retrieve sites", http.StatusInternalServerError)
		return
	}

	totalPages := (total + limit - 1) / limit

	response := PaginatedResponse{
		Data:       sites,
		Total:      total,
		Page:       page,
		Limit:      limit,
		TotalPages: totalPages,
	}

	h.metrics.RecordAPIRequest("/api/sites", "GET", "200")
	h.sendJSON(w, response, http.StatusOK)
}

// RunComparison handles POST /api/compare
func (h *AnalysisHandler) RunComparison(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	defer func() {
		duration := time.Since(startTime)
		h.metrics.APIRequestDuration.WithLabelValues("/api/compare").Observe(duration.Seconds())
	}()

	var req CompareRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.sendError(w, r, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if len(req.Candidates) == 0 {
		h.sendError(w, r, "at least one candidate model is required", http.StatusBadRequest)
		return
	}

	candidates := make([]sem.Spec, 0, len(req.Candidates))
	seen := make(map[string]bool)
	for i, candidate := range req.Candidates {
		if candidate.Name == "" {
			h.sendError(w, r, "candidate "+strconv.Itoa(i)+": name required", http.StatusBadRequest)
			return
		}
		if seen[candidate.Name] {
			h.sendError(w, r, "candidate "+candidate.Name+" declared twice", http.StatusBadRequest)
			return
		}
		seen[candidate.Name] = true

		spec, err := sem.NewSpec(candidate.Name, candidate.Equations)
		if err != nil {
			h.sendError(w, r, err.Error(), http.StatusBadRequest)
			return
		}
		candidates = append(candidates, spec)
	}

	filter := repository.ObservationFilter{
		StartYear: req.StartYear,
		EndYear:   req.EndYear,
	}
	if req.SiteID != "" {
		filter.SiteID = &req.SiteID
	}

	report, err := h.comparisonService.RunComparison(ctx, filter, candidates, req.Label)
	if err != nil {
		h.sendComparisonError(w, r, err)
		return
	}

	h.metrics.RecordAPIRequest("/api/compare", "POST", "200")
	h.sendJSON(w, report, http.StatusOK)
}

// sendComparisonError maps the comparison error taxonomy onto HTTP
// statuses: analyst mistakes are 400, bad data is 422, numerical
// trouble inside a candidate never surfaces here because the procedure
// records it and continues.
func (h *AnalysisHandler) sendComparisonError(w http.ResponseWriter, r *http.Request, err error) {
	var specErr *sem.SpecificationError
	if errors.As(err, &specErr) {
		h.metrics.RecordAPIError("specification", "/api/compare")
		h.sendError(w, r, specErr.Error(), http.StatusBadRequest)
		return
	}

	var validityErr *models.DataValidityError
	if errors.As(err, &validityErr) {
		h.metrics.RecordAPIError("data_validity", "/api/compare")
		h.sendError(w, r, validityErr.Error(), http.StatusUnprocessableEntity)
		return
	}

	h.logger.Error(r.Context(), "[API_COMPARE_ERROR] Comparison failed", logging.Fields{}, err)
	h.metrics.RecordAPIError("internal_error", "/api/compare")
	h.sendError(w, r, "failed to run comparison", http.StatusInternalServerError)
}

// ListRuns handles GET /api/runs
func (h *AnalysisHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	defer func() {
		duration := time.Since(startTime)
		h.metrics.APIRequestDuration.WithLabelValues("/api/runs").Observe(duration.Seconds())
	}()

	page, limit, offset := parsePagination(r)

	runs, total, err := h.comparisonService.ListRuns(ctx, limit, offset)
	if err != nil {
		h.logger.Error(ctx, "[API_LIST_RUNS_ERROR] Failed to list runs", logging.Fields{}, err)
		h.metrics.RecordAPIError("internal_error", "/api/runs")
		h.sendError(w, r, "failed to retrieve runs", http.StatusInternalServerError)
		return
	}

	totalPages := (total + limit - 1) / limit

	response := PaginatedResponse{
		Data:       runs,
		Total:      total,
		Page:       page,
		Limit:      limit,
		TotalPages: totalPages,
	}

	h.metrics.RecordAPIRequest("/api/runs", "GET", "200")
	h.sendJSON(w, response, http.StatusOK)
}

// GetRun handles GET /api/runs/{run_id}
func (h *AnalysisHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	defer func() {
		duration := time.Since(startTime)
		h.metrics.APIRequestDuration.WithLabelValues("/api/runs/{run_id}").Observe(duration.Seconds())
	}()

	runID := mux.Vars(r)["run_id"]

	run, results, err := h.comparisonService.GetRun(ctx, runID)
	if err != nil {
		var notFound *repository.NotFoundError
		if errors.As(err, &notFound) {
			h.sendError(w, r, notFound.Error(), http.StatusNotFound)
			return
		}
		h.logger.Error(ctx, "[API_GET_RUN_ERROR] Failed to get run", logging.Fields{
			"run_id": runID,
		}, err)
		h.metrics.RecordAPIError("internal_error", "/api/runs/{run_id}")
		h.sendError(w, r, "failed to retrieve run", http.StatusInternalServerError)
		return
	}

	h.metrics.RecordAPIRequest("/api/runs/{run_id}", "GET", "200")
	h.sendJSON(w, RunResponse{Run: run, Results: results}, http.StatusOK)
}

// HealthCheck handles GET /health
func (h *AnalysisHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	status := map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	code := http.StatusOK

	if err := h.observationService.HealthCheck(ctx); err != nil {
		status["status"] = "unhealthy"
		code = http.StatusServiceUnavailable
		h.logger.Error(ctx, "[HEALTH_CHECK_FAILED] Storage unreachable", logging.Fields{}, err)
	}

	h.logger.Debug(ctx, "[HEALTH_CHECK] Health check requested", logging.Fields{})
	h.sendJSON(w, status, code)
}

// sendJSON sends a JSON response
func (h *AnalysisHandler) sendJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// sendError sends an error response
func (h *AnalysisHandler) sendError(w http.ResponseWriter, r *http.Request, message string, statusCode int) {
	h.metrics.RecordAPIRequest(r.URL.Path, r.Method, strconv.Itoa(statusCode))

	response := ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    statusCode,
	}

	h.sendJSON(w, response, statusCode)
}

// RegisterRoutes registers all analysis API routes
func (h *AnalysisHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/api/observations", h.GetObservations).Methods("GET")
	router.HandleFunc("/api/observations/transformed", h.GetTransformedObservations).Methods("GET")
	router.HandleFunc("/api/sites", h.GetSites).Methods("GET")
	router.HandleFunc("/api/compare", h.RunComparison).Methods("POST")
	router.HandleFunc("/api/runs", h.ListRuns).Methods("GET")
	router.HandleFunc("/api/runs/{run_id}", h.GetRun).Methods("GET")
	router.HandleFunc("/health", h.HealthCheck).Methods("GET")
}
