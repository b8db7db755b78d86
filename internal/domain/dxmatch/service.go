package dxmatch

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DiagnosisResult is the outcome of one diagnosis query.
type DiagnosisResult struct {
	ID          uuid.UUID          `json:"id"`
	N           int                `json:"n"`
	Matches     RankedList         `json:"matches"`
	Frequencies DiagnosisFrequency `json:"frequencies"`
}

// Observer receives the outcome of every query and population load.
type Observer interface {
	ObserveQuery(operation, outcome string)
	ObservePopulation(patients int, err error)
}

type nopObserver struct{}

func (nopObserver) ObserveQuery(string, string) {}
func (nopObserver) ObservePopulation(int, error) {}

// Outcome labels reported to the Observer.
const (
	OutcomeOK             = "ok"
	OutcomeNotLoaded      = "not_loaded"
	OutcomeUnknownPatient = "unknown_patient"
	OutcomeEmptySet       = "empty_set"
	OutcomeInvalid        = "invalid"
	OutcomeError          = "error"
)

func outcome(err error) string {
	switch {
	case err == nil:
		return OutcomeOK
	case errors.Is(err, ErrPopulationNotLoaded):
		return OutcomeNotLoaded
	case errors.Is(err, ErrUnknownPatient):
		return OutcomeUnknownPatient
	case errors.Is(err, ErrEmptyPatientSet):
		return OutcomeEmptySet
	case errors.Is(err, ErrNegativeTopN):
		return OutcomeInvalid
	default:
		return OutcomeError
	}
}

// Service answers similarity queries against a loaded population snapshot.
// The snapshot may be replaced by Reload while queries are in flight.
type Service struct {
	repo        PopulationRepository
	logger      zerolog.Logger
	defaultTopN int
	obs         Observer

	mu  sync.RWMutex
	pop *Population
}

func NewService(repo PopulationRepository, logger zerolog.Logger, defaultTopN int) *Service {
	return &Service{
		repo:        repo,
		logger:      logger.With().Str("component", "dxmatch").Logger(),
		defaultTopN: defaultTopN,
		obs:         nopObserver{},
	}
}

// SetObserver installs o to receive query and load outcomes. A nil o
// disables reporting. Call before serving traffic.
func (s *Service) SetObserver(o Observer) {
	if o == nil {
		o = nopObserver{}
	}
	s.obs = o
}

// DefaultTopN is the cohort size used when a query does not name one.
func (s *Service) DefaultTopN() int { return s.defaultTopN }

// Reload replaces the population snapshot with a fresh load from the
// repository. On failure the previous snapshot is kept.
func (s *Service) Reload(ctx context.Context) (PopulationStats, error) {
	pop, err := s.repo.Load(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("population load failed")
		s.obs.ObservePopulation(0, err)
		return PopulationStats{}, err
	}
	s.mu.Lock()
	s.pop = pop
	s.mu.Unlock()

	st := pop.Stats()
	s.obs.ObservePopulation(st.Patients, nil)
	s.logger.Info().
		Int("patients", st.Patients).
		Int("diagnosed", st.Diagnosed).
		Int("labels", len(st.Diagnoses)).
		Msg("population loaded")
	return st, nil
}

func (s *Service) population() (*Population, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.pop == nil {
		return nil, ErrPopulationNotLoaded
	}
	return s.pop, nil
}

func (s *Service) Stats() (PopulationStats, error) {
	pop, err := s.population()
	if err != nil {
		return PopulationStats{}, err
	}
	return pop.Stats(), nil
}

func (s *Service) Similarity(a, b SymptomProfile) int {
	s.obs.ObserveQuery("similarity", OutcomeOK)
	return Score(a, b)
}

func (s *Service) Rank(query SymptomProfile) (RankedList, error) {
	pop, err := s.population()
	s.obs.ObserveQuery("rank", outcome(err))
	if err != nil {
		return nil, err
	}
	return Rank(query, pop.Symptoms), nil
}

func (s *Service) TopMatches(query SymptomProfile, n int) ([]PatientID, error) {
	ids, err := s.topMatches(query, n)
	s.obs.ObserveQuery("top_matches", outcome(err))
	return ids, err
}

func (s *Service) topMatches(query SymptomProfile, n int) ([]PatientID, error) {
	if n < 0 {
		return nil, ErrNegativeTopN
	}
	pop, err := s.population()
	if err != nil {
		return nil, err
	}
	return TopN(Rank(query, pop.Symptoms), n), nil
}

func (s *Service) CountDiagnoses(ids []PatientID) (DiagnosisFrequency, error) {
	freq, err := s.countDiagnoses(ids)
	s.obs.ObserveQuery("count_diagnoses", outcome(err))
	return freq, err
}

func (s *Service) countDiagnoses(ids []PatientID) (DiagnosisFrequency, error) {
	pop, err := s.population()
	if err != nil {
		return nil, err
	}
	return Aggregate(ids, pop.Diagnoses)
}

// Diagnose ranks the population against query and aggregates the diagnoses
// of the n best matches.
func (s *Service) Diagnose(query SymptomProfile, n int) (*DiagnosisResult, error) {
	res, err := s.diagnose(query, n)
	s.obs.ObserveQuery("diagnose", outcome(err))
	return res, err
}

func (s *Service) diagnose(query SymptomProfile, n int) (*DiagnosisResult, error) {
	if n < 0 {
		return nil, ErrNegativeTopN
	}
	pop, err := s.population()
	if err != nil {
		return nil, err
	}

	ranked := Rank(query, pop.Symptoms)
	ids := TopN(ranked, n)
	freq, err := Aggregate(ids, pop.Diagnoses)
	if err != nil {
		s.logger.Warn().Err(err).Int("n", n).Msg("diagnosis aggregation failed")
		return nil, fmt.Errorf("diagnose: %w", err)
	}

	res := &DiagnosisResult{
		ID:          uuid.New(),
		N:           n,
		Matches:     ranked[:len(ids)],
		Frequencies: freq,
	}
	s.logger.Debug().
		Str("query_id", res.ID.String()).
		Int("n", n).
		Int("labels", len(freq)).
		Msg("diagnosis computed")
	return res, nil
}
