package dxmatch_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/ehr/dxmatch/internal/domain/dxmatch"
	"github.com/ehr/dxmatch/internal/domain/dxmatch/dxmatchtest"
)

// -- Mock Population Repository --

type mockPopulationRepo struct {
	mu    sync.Mutex
	pop   *dxmatch.Population
	err   error
	loads int
}

func (m *mockPopulationRepo) Load(_ context.Context) (*dxmatch.Population, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loads++
	if m.err != nil {
		return nil, m.err
	}
	return m.pop, nil
}

// -- Tests --

func newTestService(t *testing.T) (*dxmatch.Service, *mockPopulationRepo) {
	t.Helper()
	repo := &mockPopulationRepo{pop: dxmatchtest.Population()}
	svc := dxmatch.NewService(repo, zerolog.Nop(), 4)
	if _, err := svc.Reload(context.Background()); err != nil {
		t.Fatalf("reload: %v", err)
	}
	return svc, repo
}

func TestService_NotLoaded(t *testing.T) {
	svc := dxmatch.NewService(&mockPopulationRepo{}, zerolog.Nop(), 4)

	if _, err := svc.Stats(); !errors.Is(err, dxmatch.ErrPopulationNotLoaded) {
		t.Errorf("Stats: expected ErrPopulationNotLoaded, got %v", err)
	}
	if _, err := svc.Rank(dxmatchtest.Yang); !errors.Is(err, dxmatch.ErrPopulationNotLoaded) {
		t.Errorf("Rank: expected ErrPopulationNotLoaded, got %v", err)
	}
	if _, err := svc.Diagnose(dxmatchtest.Yang, 4); !errors.Is(err, dxmatch.ErrPopulationNotLoaded) {
		t.Errorf("Diagnose: expected ErrPopulationNotLoaded, got %v", err)
	}
	if _, err := svc.CountDiagnoses([]dxmatch.PatientID{45437}); !errors.Is(err, dxmatch.ErrPopulationNotLoaded) {
		t.Errorf("CountDiagnoses: expected ErrPopulationNotLoaded, got %v", err)
	}
}

func TestService_Reload(t *testing.T) {
	svc, repo := newTestService(t)

	st, err := svc.Stats()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if st.Patients != 8 || st.Diagnosed != 8 {
		t.Errorf("unexpected stats %+v", st)
	}

	smaller := dxmatchtest.Population()
	delete(smaller.Symptoms, 56374)
	repo.pop = smaller
	st, err = svc.Reload(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if st.Patients != 7 {
		t.Errorf("expected 7 patients after reload, got %d", st.Patients)
	}
	if repo.loads != 2 {
		t.Errorf("expected 2 loads, got %d", repo.loads)
	}
}

func TestService_ReloadFailureKeepsSnapshot(t *testing.T) {
	svc, repo := newTestService(t)

	repo.err = errors.New("disk unavailable")
	if _, err := svc.Reload(context.Background()); err == nil {
		t.Fatal("expected reload error")
	}

	st, err := svc.Stats()
	if err != nil {
		t.Fatalf("expected previous snapshot to remain, got %v", err)
	}
	if st.Patients != 8 {
		t.Errorf("expected 8 patients, got %d", st.Patients)
	}
}

func TestService_Similarity(t *testing.T) {
	svc, _ := newTestService(t)
	if got := svc.Similarity(dxmatchtest.Yang, dxmatchtest.Maria); got != 1 {
		t.Errorf("expected 1, got %d", got)
	}
}

func TestService_TopMatches(t *testing.T) {
	svc, _ := newTestService(t)

	ids, err := svc.TopMatches(dxmatchtest.Jaspal, 4)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []dxmatch.PatientID{56374, 94231, 44274, 54324}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("TopMatches() = %v, want %v", ids, want)
		}
	}

	if _, err := svc.TopMatches(dxmatchtest.Jaspal, -1); !errors.Is(err, dxmatch.ErrNegativeTopN) {
		t.Errorf("expected ErrNegativeTopN, got %v", err)
	}
}

func TestService_CountDiagnoses(t *testing.T) {
	svc, _ := newTestService(t)

	freq, err := svc.CountDiagnoses([]dxmatch.PatientID{44274, 56374})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if freq["meningitis"] != 1 {
		t.Errorf("expected meningitis 1.0, got %v", freq)
	}

	if _, err := svc.CountDiagnoses(nil); !errors.Is(err, dxmatch.ErrEmptyPatientSet) {
		t.Errorf("expected ErrEmptyPatientSet, got %v", err)
	}
}

func TestService_Diagnose(t *testing.T) {
	svc, _ := newTestService(t)

	res, err := svc.Diagnose(dxmatchtest.Yang, 4)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.N != 4 || len(res.Matches) != 4 {
		t.Errorf("expected 4 matches, got n=%d matches=%d", res.N, len(res.Matches))
	}
	if res.Matches[0].ID != 45437 || res.Matches[0].Score != 4 {
		t.Errorf("unexpected best match %+v", res.Matches[0])
	}
	assertFrequencies(t, res.Frequencies, dxmatch.DiagnosisFrequency{"cold": 0.5, "food_poisoning": 0.5})

	other, _ := svc.Diagnose(dxmatchtest.Yang, 4)
	if other.ID == res.ID {
		t.Error("expected distinct result IDs")
	}
}

func TestService_DiagnoseErrors(t *testing.T) {
	svc, repo := newTestService(t)

	if _, err := svc.Diagnose(dxmatchtest.Yang, -1); !errors.Is(err, dxmatch.ErrNegativeTopN) {
		t.Errorf("expected ErrNegativeTopN, got %v", err)
	}
	if _, err := svc.Diagnose(dxmatchtest.Yang, 0); !errors.Is(err, dxmatch.ErrEmptyPatientSet) {
		t.Errorf("expected ErrEmptyPatientSet, got %v", err)
	}

	pop := dxmatchtest.Population()
	delete(pop.Diagnoses, 45437)
	repo.pop = pop
	if _, err := svc.Reload(context.Background()); err != nil {
		t.Fatalf("reload: %v", err)
	}
	_, err := svc.Diagnose(dxmatchtest.Yang, 4)
	var lookupErr *dxmatch.LookupError
	if !errors.As(err, &lookupErr) || lookupErr.ID != 45437 {
		t.Errorf("expected LookupError for 45437, got %v", err)
	}
}

func TestService_ConcurrentReload(t *testing.T) {
	svc, _ := newTestService(t)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			if _, err := svc.Diagnose(dxmatchtest.Maria, 4); err != nil {
				t.Errorf("diagnose: %v", err)
			}
		}()
		go func() {
			defer wg.Done()
			if _, err := svc.Reload(context.Background()); err != nil {
				t.Errorf("reload: %v", err)
			}
		}()
	}
	wg.Wait()
}

type recordingObserver struct {
	mu       sync.Mutex
	queries  []string
	loads    []int
	loadErrs int
}

func (o *recordingObserver) ObserveQuery(operation, outcome string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.queries = append(o.queries, operation+":"+outcome)
}

func (o *recordingObserver) ObservePopulation(patients int, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err != nil {
		o.loadErrs++
		return
	}
	o.loads = append(o.loads, patients)
}

func TestService_Observer(t *testing.T) {
	svc, repo := newTestService(t)
	obs := &recordingObserver{}
	svc.SetObserver(obs)

	svc.Similarity(dxmatchtest.Yang, dxmatchtest.Maria)
	svc.Diagnose(dxmatchtest.Yang, 4)
	svc.Diagnose(dxmatchtest.Yang, -1)
	svc.CountDiagnoses(nil)
	svc.CountDiagnoses([]dxmatch.PatientID{1})
	svc.TopMatches(dxmatchtest.Yang, 2)

	want := []string{
		"similarity:" + dxmatch.OutcomeOK,
		"diagnose:" + dxmatch.OutcomeOK,
		"diagnose:" + dxmatch.OutcomeInvalid,
		"count_diagnoses:" + dxmatch.OutcomeEmptySet,
		"count_diagnoses:" + dxmatch.OutcomeUnknownPatient,
		"top_matches:" + dxmatch.OutcomeOK,
	}
	if len(obs.queries) != len(want) {
		t.Fatalf("got %v, want %v", obs.queries, want)
	}
	for i := range want {
		if obs.queries[i] != want[i] {
			t.Errorf("query %d: got %s, want %s", i, obs.queries[i], want[i])
		}
	}

	svc.Reload(context.Background())
	repo.err = errors.New("boom")
	svc.Reload(context.Background())
	if len(obs.loads) != 1 || obs.loads[0] != 8 || obs.loadErrs != 1 {
		t.Errorf("unexpected load observations %v / %d errors", obs.loads, obs.loadErrs)
	}

	svc.SetObserver(nil)
	svc.Similarity(dxmatchtest.Yang, dxmatchtest.Maria)
}
