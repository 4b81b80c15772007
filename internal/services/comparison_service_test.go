package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"metabolism-platform/internal/models"
	"metabolism-platform/internal/repository"
	"metabolism-platform/internal/sem"
	"metabolism-platform/pkg/logging"
	"metabolism-platform/pkg/metrics"
)

// stubEstimator returns canned results keyed by model name, recording
// which models were fitted.
type stubEstimator struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]error
}

func (s *stubEstimator) Fit(ctx context.Context, spec sem.Spec, data *sem.Table) (*sem.FitResult, error) {
	s.mu.Lock()
	s.calls = append(s.calls, spec.Name)
	s.mu.Unlock()

	if err, ok := s.fail[spec.Name]; ok {
		return nil, err
	}
	return &sem.FitResult{
		ModelName:  spec.Name,
		Variables:  spec.Variables(),
		SampleSize: data.Len(),
		ChiSquare:  float64(len(spec.Name)),
		DF:         1,
		PValue:     0.5,
		RSquared:   map[string]float64{},
	}, nil
}

func (s *stubEstimator) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func testLogger() *logging.StructuredLogger {
	logger := logging.NewStructuredLogger("services-test", "test", logging.ErrorLevel)
	logger.SetOutput(io.Discard)
	return logger
}

func testCollector(name string) *metrics.Collector {
	return metrics.NewCollectorWithRegistry(name, prometheus.NewRegistry())
}

// seedObservations builds n valid site-year records with enough spread
// that no derived column is constant or collinear.
func seedObservations(n int) []*models.ObservationRecord {
	gpp := []float64{600, 1500, 900, 2100, 800, 1200, 700, 1900, 650, 1100, 1000, 1700, 950, 1350, 760, 1620}
	er := []float64{-700, -1800, -850, -2400, -1100, -1300, -950, -2000, -720, -1250, -1400, -1850, -1000, -1500, -800, -1700}
	light := []float64{20, 35, 28, 40, 22, 31, 26, 38, 24, 33, 29, 36, 25, 37, 21, 34}
	temp := []float64{8, 14, 5, 18, 11, 3, 16, 9, 20, 6, 13, 17, 7, 15, 10, 12}
	ar1 := []float64{0.42, 0.71, 0.55, 0.63, 0.38, 0.80, 0.47, 0.59, 0.68, 0.51, 0.74, 0.44, 0.62, 0.35, 0.57, 0.66}
	skew := []float64{1.2, 2.8, 0.9, 3.4, 1.7, 0.6, 2.2, 1.4, 3.0, 1.1, 2.5, 1.9, 0.8, 2.0, 1.5, 2.7}
	npp := []float64{420, 810, 530, 930, 480, 610, 450, 870, 400, 560, 640, 790, 510, 700, 440, 830}

	records := make([]*models.ObservationRecord, n)
	for i := 0; i < n; i++ {
		j := i % len(gpp)
		records[i] = &models.ObservationRecord{
			SiteID:        fmt.Sprintf("site-%02d", i),
			Year:          2015 + i%5,
			GPP:           gpp[j],
			ER:            er[j],
			DischargeAR1:  ar1[j],
			DischargeCV:   0.4 + 0.05*float64(j),
			DischargeAmp:  0.2 + 0.03*float64(j),
			DischargeSkew: skew[j],
			NPP:           npp[j],
			AreaKm2:       150 * float64(j+1),
			WidthM:        4 + 3*float64(j),
			TempC:         temp[j],
			LightPAR:      light[j],
			Latitude:      34 + 0.7*float64(j),
		}
	}
	return records
}

func seedTable(t *testing.T, n int) *sem.Table {
	t.Helper()
	variables := make([]*models.ModelVariables, n)
	for i, record := range seedObservations(n) {
		variables[i] = record.Transform()
	}
	table, err := BuildTable(variables)
	if err != nil {
		t.Fatalf("BuildTable: %v", err)
	}
	return table
}

func mustSpec(t *testing.T, name string, formulas ...string) sem.Spec {
	t.Helper()
	spec, err := sem.NewSpec(name, formulas)
	if err != nil {
		t.Fatalf("NewSpec(%s): %v", name, err)
	}
	return spec
}

func newComparisonService(repo repository.MetabolismRepository, estimator sem.Estimator, options ComparisonOptions) *ComparisonService {
	logger := testLogger()
	collector := testCollector("compare_test")
	transforms := NewTransformService(repo, logger, collector)
	return NewComparisonService(repo, transforms, estimator, logger, collector, options)
}

func TestComparisonService_PreservesOrder(t *testing.T) {
	table := seedTable(t, 12)
	candidates := []sem.Spec{
		mustSpec(t, "flow-only", "gpp ~ ar1 + skew"),
		mustSpec(t, "flow-light", "gpp ~ light + ar1"),
		mustSpec(t, "full", "gpp ~ light + ar1 + skew", "er ~ gpp + area"),
		mustSpec(t, "minimal", "gpp ~ light"),
	}

	stub := &stubEstimator{}
	svc := newComparisonService(repository.NewMemoryRepository(), stub, ComparisonOptions{})

	outcomes, err := svc.Compare(context.Background(), table, candidates)
	if err != nil {
		t.Fatalf("Compare: %v", err)
	}
	if len(outcomes) != len(candidates) {
		t.Fatalf("expected %d outcomes, got %d", len(candidates), len(outcomes))
	}
	for i, want := range []string{"flow-only", "flow-light", "full", "minimal"} {
		if outcomes[i].Position != i {
			t.Errorf("outcome %d: expected position %d, got %d", i, i, outcomes[i].Position)
		}
		if outcomes[i].Spec.Name != want {
			t.Errorf("outcome %d: expected %q, got %q", i, want, outcomes[i].Spec.Name)
		}
		if outcomes[i].Fit == nil || outcomes[i].Fit.ModelName != want {
			t.Errorf("outcome %d: missing fit for %q", i, want)
		}
	}

	// Reversing the submission reverses the output; order always
	// mirrors the input, never any fit statistic.
	reversed := []sem.Spec{candidates[3], candidates[2], candidates[1], candidates[0]}
	outcomes, err = svc.Compare(context.Background(), table, reversed)
	if err != nil {
		t.Fatalf("Compare reversed: %v", err)
	}
	for i, want := range []string{"minimal", "full", "flow-light", "flow-only"} {
		if outcomes[i].Spec.Name != want {
			t.Errorf("reversed outcome %d: expected %q, got %q", i, want, outcomes[i].Spec.Name)
		}
	}
}

func TestComparisonService_IsolatesNumericalFailure(t *testing.T) {
	table := seedTable(t, 12)
	candidates := []sem.Spec{
		mustSpec(t, "m1", "gpp ~ light"),
		mustSpec(t, "m2", "gpp ~ light + ar1"),
		mustSpec(t, "m3", "gpp ~ light + skew"),
	}

	stub := &stubEstimator{fail: map[string]error{
		"m2": &sem.NumericalFitError{Model: "m2", Reason: "sample covariance matrix is singular (constant or collinear column)"},
	}}
	svc := newComparisonService(repository.NewMemoryRepository(), stub, ComparisonOptions{})

	outcomes, err := svc.Compare(context.Background(), table, candidates)
	if err != nil {
		t.Fatalf("Compare should not fail on a candidate fit error: %v", err)
	}

	if outcomes[0].Fit == nil || outcomes[2].Fit == nil {
		t.Error("expected candidates around the failure to succeed")
	}
	if outcomes[1].Fit != nil {
		t.Error("expected no fit for the failed candidate")
	}
	if outcomes[1].FitError == nil || outcomes[1].FitError.Model != "m2" {
		t.Errorf("expected recorded fit error for m2, got %+v", outcomes[1].FitError)
	}
	if stub.callCount() != 3 {
		t.Errorf("expected all 3 candidates fitted, got %d", stub.callCount())
	}
}

func TestComparisonService_SpecificationAbortsBeforeFitting(t *testing.T) {
	table := seedTable(t, 12)
	candidates := []sem.Spec{
		mustSpec(t, "good", "gpp ~ light"),
		mustSpec(t, "bad", "gpp ~ chlorophyll"),
		mustSpec(t, "also-good", "er ~ gpp"),
	}

	stub := &stubEstimator{}
	svc := newComparisonService(repository.NewMemoryRepository(), stub, ComparisonOptions{})

	_, err := svc.Compare(context.Background(), table, candidates)
	var specErr *sem.SpecificationError
	if !errors.As(err, &specErr) {
		t.Fatalf("expected SpecificationError, got %v", err)
	}
	if specErr.Model != "bad" {
		t.Errorf("expected error to name the bad candidate, got %q", specErr.Model)
	}
	if stub.callCount() != 0 {
		t.Errorf("expected no fits before validation passed, got %d", stub.callCount())
	}
}

func TestComparisonService_UnexpectedErrorIsFatal(t *testing.T) {
	table := seedTable(t, 12)
	candidates := []sem.Spec{
		mustSpec(t, "m1", "gpp ~ light"),
		mustSpec(t, "m2", "gpp ~ ar1"),
	}

	boom := errors.New("estimator panic guard tripped")
	stub := &stubEstimator{fail: map[string]error{"m2": boom}}
	svc := newComparisonService(repository.NewMemoryRepository(), stub, ComparisonOptions{})

	_, err := svc.Compare(context.Background(), table, candidates)
	if !errors.Is(err, boom) {
		t.Fatalf("expected the unexpected error to abort the comparison, got %v", err)
	}
}

func TestComparisonService_ParallelMatchesSequential(t *testing.T) {
	table := seedTable(t, 12)
	candidates := []sem.Spec{
		mustSpec(t, "a", "gpp ~ light"),
		mustSpec(t, "bb", "gpp ~ ar1"),
		mustSpec(t, "ccc", "gpp ~ skew"),
		mustSpec(t, "dddd", "er ~ gpp"),
		mustSpec(t, "eeeee", "gpp ~ light + ar1 + skew"),
	}

	sequential := newComparisonService(repository.NewMemoryRepository(), &stubEstimator{}, ComparisonOptions{})
	parallel := newComparisonService(repository.NewMemoryRepository(), &stubEstimator{}, ComparisonOptions{Parallel: true, MaxConcurrent: 4})

	seqOutcomes, err := sequential.Compare(context.Background(), table, candidates)
	if err != nil {
		t.Fatalf("sequential Compare: %v", err)
	}
	parOutcomes, err := parallel.Compare(context.Background(), table, candidates)
	if err != nil {
		t.Fatalf("parallel Compare: %v", err)
	}

	for i := range seqOutcomes {
		if seqOutcomes[i].Spec.Name != parOutcomes[i].Spec.Name {
			t.Errorf("position %d: sequential %q vs parallel %q", i, seqOutcomes[i].Spec.Name, parOutcomes[i].Spec.Name)
		}
		if seqOutcomes[i].Fit.ChiSquare != parOutcomes[i].Fit.ChiSquare {
			t.Errorf("position %d: results differ between schedules", i)
		}
	}
}

func TestComparisonService_EmptyCandidates(t *testing.T) {
	table := seedTable(t, 12)
	svc := newComparisonService(repository.NewMemoryRepository(), &stubEstimator{}, ComparisonOptions{})
	if _, err := svc.Compare(context.Background(), table, nil); err == nil {
		t.Fatal("expected an error for an empty candidate set")
	}
}

func TestComparisonService_RunComparisonPersists(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryRepository()
	if err := repo.CreateObservationsBatch(ctx, seedObservations(12)); err != nil {
		t.Fatalf("seed: %v", err)
	}

	stub := &stubEstimator{fail: map[string]error{
		"m2": &sem.NumericalFitError{Model: "m2", Reason: "collinear predictors in equation for \"gpp\""},
	}}
	svc := newComparisonService(repo, stub, ComparisonOptions{})

	candidates := []sem.Spec{
		mustSpec(t, "m1", "gpp ~ light"),
		mustSpec(t, "m2", "gpp ~ light + ar1"),
		mustSpec(t, "m3", "er ~ gpp"),
	}

	report, err := svc.RunComparison(ctx, repository.ObservationFilter{}, candidates, "persistence test")
	if err != nil {
		t.Fatalf("RunComparison: %v", err)
	}
	if report.RunID == "" {
		t.Fatal("expected a run ID")
	}
	if report.DatasetRows != 12 {
		t.Errorf("expected 12 dataset rows, got %d", report.DatasetRows)
	}
	if len(report.Candidates) != 3 {
		t.Fatalf("expected 3 candidates in report, got %d", len(report.Candidates))
	}
	if report.Candidates[1].Status != "failed" || report.Candidates[1].Error == "" {
		t.Errorf("expected failed second candidate, got %+v", report.Candidates[1])
	}
	if report.Candidates[0].Status != "ok" || report.Candidates[0].Fit == nil {
		t.Errorf("expected ok first candidate, got %+v", report.Candidates[0])
	}

	run, err := repo.GetModelRun(ctx, report.RunID)
	if err != nil {
		t.Fatalf("GetModelRun: %v", err)
	}
	if run.Status != models.RunStatusComplete {
		t.Errorf("expected run status %q, got %q", models.RunStatusComplete, run.Status)
	}
	if run.CompletedAt == nil {
		t.Error("expected completed_at to be set")
	}
	if run.CandidateCount != 3 || run.DatasetRows != 12 {
		t.Errorf("unexpected run bookkeeping: %+v", run)
	}

	results, err := repo.ListFitResults(ctx, report.RunID)
	if err != nil {
		t.Fatalf("ListFitResults: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 stored results, got %d", len(results))
	}
	for i, want := range []string{"m1", "m2", "m3"} {
		if results[i].Position != i || results[i].ModelName != want {
			t.Errorf("stored position %d: expected %s, got %s", i, want, results[i].ModelName)
		}
	}
	if results[1].Status != models.FitStatusFailed || results[1].ErrorText == nil {
		t.Errorf("expected stored failure for m2, got %+v", results[1])
	}
	if results[0].ChiSquare == nil || results[0].DF == nil || results[0].PValue == nil {
		t.Errorf("expected stored statistics for m1, got %+v", results[0])
	}

	var detail sem.FitResult
	if err := json.Unmarshal(results[0].Detail, &detail); err != nil {
		t.Fatalf("detail should hold the full fit: %v", err)
	}
	if detail.ModelName != "m1" {
		t.Errorf("expected detail for m1, got %q", detail.ModelName)
	}
}

func TestComparisonService_RunComparisonInvalidData(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryRepository()

	bad := seedObservations(6)
	bad[3].GPP = -5 // production cannot be negative
	if err := repo.CreateObservationsBatch(ctx, bad); err != nil {
		t.Fatalf("seed: %v", err)
	}

	svc := newComparisonService(repo, &stubEstimator{}, ComparisonOptions{})
	candidates := []sem.Spec{mustSpec(t, "m1", "gpp ~ light")}

	_, err := svc.RunComparison(ctx, repository.ObservationFilter{}, candidates, "")
	var validityErr *models.DataValidityError
	if !errors.As(err, &validityErr) {
		t.Fatalf("expected DataValidityError, got %v", err)
	}
	if validityErr.Field != "gpp_ann" {
		t.Errorf("expected gpp_ann violation, got %q", validityErr.Field)
	}

	// The dataset never reached the estimator, so no run was recorded.
	runs, total, err := repo.ListModelRuns(ctx, 10, 0)
	if err != nil {
		t.Fatalf("ListModelRuns: %v", err)
	}
	if total != 0 || len(runs) != 0 {
		t.Errorf("expected no recorded runs, got %d", total)
	}
}

func TestComparisonService_RunComparisonBadSpecMarksRunFailed(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryRepository()
	if err := repo.CreateObservationsBatch(ctx, seedObservations(6)); err != nil {
		t.Fatalf("seed: %v", err)
	}

	svc := newComparisonService(repo, &stubEstimator{}, ComparisonOptions{})
	candidates := []sem.Spec{mustSpec(t, "bad", "gpp ~ nitrate")}

	_, err := svc.RunComparison(ctx, repository.ObservationFilter{}, candidates, "")
	var specErr *sem.SpecificationError
	if !errors.As(err, &specErr) {
		t.Fatalf("expected SpecificationError, got %v", err)
	}

	runs, _, err := repo.ListModelRuns(ctx, 10, 0)
	if err != nil {
		t.Fatalf("ListModelRuns: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("expected the aborted run to be recorded, got %d", len(runs))
	}
	if runs[0].Status != models.RunStatusFailed {
		t.Errorf("expected run marked failed, got %q", runs[0].Status)
	}
}

// Fitting a candidate alongside others must produce exactly the result
// it produces alone.
func TestComparisonService_FitsAreIndependent(t *testing.T) {
	table := seedTable(t, 14)
	estimator := sem.NewMLEstimator()
	svc := newComparisonService(repository.NewMemoryRepository(), estimator, ComparisonOptions{})

	shared := mustSpec(t, "shared", "gpp ~ light + skew")
	alone, err := svc.Compare(context.Background(), table, []sem.Spec{shared})
	if err != nil {
		t.Fatalf("Compare alone: %v", err)
	}

	together, err := svc.Compare(context.Background(), table, []sem.Spec{
		mustSpec(t, "other-a", "gpp ~ ar1"),
		shared,
		mustSpec(t, "other-b", "er ~ gpp + skew"),
	})
	if err != nil {
		t.Fatalf("Compare together: %v", err)
	}

	got := together[1].Fit
	want := alone[0].Fit
	if got == nil || want == nil {
		t.Fatal("expected both fits to succeed")
	}
	if got.ChiSquare != want.ChiSquare || got.PValue != want.PValue || got.DF != want.DF {
		t.Errorf("fit statistics changed with company: alone %+v, together %+v", want, got)
	}
	for i := range want.Paths {
		if got.Paths[i] != want.Paths[i] {
			t.Errorf("path %d changed with company: %+v vs %+v", i, want.Paths[i], got.Paths[i])
		}
	}
}
