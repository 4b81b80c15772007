package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"metabolism-platform/internal/models"
)

// memoryRepository keeps everything in process memory. It backs tests
// and the demo binary, and is handy for one-off analyses where no
// database is configured.
type memoryRepository struct {
	mu           sync.RWMutex
	sites        map[string]*models.Site
	observations map[string]*models.ObservationRecord
	runs         map[string]*models.ModelRun
	fitResults   map[string][]*models.FitResultRecord
	nextFitID    int64
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() MetabolismRepository {
	return &memoryRepository{
		sites:        make(map[string]*models.Site),
		observations: make(map[string]*models.ObservationRecord),
		runs:         make(map[string]*models.ModelRun),
		fitResults:   make(map[string][]*models.FitResultRecord),
		nextFitID:    1,
	}
}

var _ MetabolismRepository = (*memoryRepository)(nil)

func obsKey(siteID string, year int) string {
	return fmt.Sprintf("%s:%d", siteID, year)
}

func (r *memoryRepository) CreateSite(ctx context.Context, site *models.Site) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sites[site.SiteID]; exists {
		return nil
	}
	clone := *site
	r.sites[site.SiteID] = &clone
	return nil
}

func (r *memoryRepository) GetSite(ctx context.Context, siteID string) (*models.Site, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	site, ok := r.sites[siteID]
	if !ok {
		return nil, &NotFoundError{Resource: "site", ID: siteID}
	}
	clone := *site
	return &clone, nil
}

func (r *memoryRepository) ListSites(ctx context.Context, limit, offset int) ([]*models.Site, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.sites))
	for id := range r.sites {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	total := len(ids)
	ids = paginate(ids, limit, offset)

	sites := make([]*models.Site, 0, len(ids))
	for _, id := range ids {
		clone := *r.sites[id]
		sites = append(sites, &clone)
	}
	return sites, total, nil
}

func (r *memoryRepository) CreateObservation(ctx context.Context, obs *models.ObservationRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	clone := *obs
	r.observations[obsKey(obs.SiteID, obs.Year)] = &clone
	return nil
}

func (r *memoryRepository) CreateObservationsBatch(ctx context.Context, observations []*models.ObservationRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, obs := range observations {
		clone := *obs
		r.observations[obsKey(obs.SiteID, obs.Year)] = &clone
	}
	return nil
}

func (r *memoryRepository) GetObservations(ctx context.Context, filter ObservationFilter) ([]*models.ObservationRecord, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	matched := make([]*models.ObservationRecord, 0, len(r.observations))
	for _, obs := range r.observations {
		if filter.SiteID != nil && obs.SiteID != *filter.SiteID {
			continue
		}
		if filter.Year != nil && obs.Year != *filter.Year {
			continue
		}
		if filter.StartYear != nil && obs.Year < *filter.StartYear {
			continue
		}
		if filter.EndYear != nil && obs.Year > *filter.EndYear {
			continue
		}
		matched = append(matched, obs)
	}

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].SiteID != matched[j].SiteID {
			return matched[i].SiteID < matched[j].SiteID
		}
		return matched[i].Year < matched[j].Year
	})

	total := len(matched)
	matched = paginate(matched, filter.Limit, filter.Offset)

	out := make([]*models.ObservationRecord, 0, len(matched))
	for _, obs := range matched {
		clone := *obs
		out = append(out, &clone)
	}
	return out, total, nil
}

func (r *memoryRepository) GetObservationBySiteYear(ctx context.Context, siteID string, year int) (*models.ObservationRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	obs, ok := r.observations[obsKey(siteID, year)]
	if !ok {
		return nil, &NotFoundError{
			Resource: "observation",
			ID:       obsKey(siteID, year),
		}
	}
	clone := *obs
	return &clone, nil
}

func (r *memoryRepository) CreateModelRun(ctx context.Context, run *models.ModelRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	clone := *run
	r.runs[run.RunID] = &clone
	return nil
}

func (r *memoryRepository) CompleteModelRun(ctx context.Context, runID, status string, completedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	run, ok := r.runs[runID]
	if !ok {
		return &NotFoundError{Resource: "model_run", ID: runID}
	}
	run.Status = status
	t := completedAt
	run.CompletedAt = &t
	return nil
}

func (r *memoryRepository) GetModelRun(ctx context.Context, runID string) (*models.ModelRun, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	run, ok := r.runs[runID]
	if !ok {
		return nil, &NotFoundError{Resource: "model_run", ID: runID}
	}
	clone := *run
	return &clone, nil
}

func (r *memoryRepository) ListModelRuns(ctx context.Context, limit, offset int) ([]*models.ModelRun, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	runs := make([]*models.ModelRun, 0, len(r.runs))
	for _, run := range r.runs {
		runs = append(runs, run)
	}
	sort.Slice(runs, func(i, j int) bool {
		if !runs[i].CreatedAt.Equal(runs[j].CreatedAt) {
			return runs[i].CreatedAt.After(runs[j].CreatedAt)
		}
		return runs[i].RunID < runs[j].RunID
	})

	total := len(runs)
	runs = paginate(runs, limit, offset)

	out := make([]*models.ModelRun, 0, len(runs))
	for _, run := range runs {
		clone := *run
		out = append(out, &clone)
	}
	return out, total, nil
}

func (r *memoryRepository) CreateFitResult(ctx context.Context, result *models.FitResultRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	clone := *result
	clone.ID = r.nextFitID
	r.nextFitID++
	r.fitResults[result.RunID] = append(r.fitResults[result.RunID], &clone)
	return nil
}

func (r *memoryRepository) ListFitResults(ctx context.Context, runID string) ([]*models.FitResultRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stored := r.fitResults[runID]
	out := make([]*models.FitResultRecord, 0, len(stored))
	for _, result := range stored {
		clone := *result
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Position < out[j].Position
	})
	return out, nil
}

func (r *memoryRepository) HealthCheck(ctx context.Context) error {
	return nil
}

// paginate slices a sorted result set. A non-positive limit returns the
// whole remainder.
func paginate[T any](items []T, limit, offset int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
