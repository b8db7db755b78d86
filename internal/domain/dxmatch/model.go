package dxmatch

import (
	"encoding/json"
	"sort"
	"time"
)

// PatientID identifies a patient within a population.
type PatientID int64

// SymptomSet is a set of symptom labels compared by exact string equality.
type SymptomSet map[string]struct{}

// NewSymptomSet builds a set from labels. Duplicates collapse.
func NewSymptomSet(labels ...string) SymptomSet {
	s := make(SymptomSet, len(labels))
	for _, l := range labels {
		s[l] = struct{}{}
	}
	return s
}

func (s SymptomSet) Has(label string) bool {
	_, ok := s[label]
	return ok
}

// Labels returns the members in lexical order.
func (s SymptomSet) Labels() []string {
	out := make([]string, 0, len(s))
	for l := range s {
		out = append(out, l)
	}
	sort.Strings(out)
	return out
}

// intersectionSize counts labels present in both sets, iterating the smaller one.
func (s SymptomSet) intersectionSize(other SymptomSet) int {
	small, large := s, other
	if len(large) < len(small) {
		small, large = large, small
	}
	n := 0
	for l := range small {
		if large.Has(l) {
			n++
		}
	}
	return n
}

func (s SymptomSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Labels())
}

func (s *SymptomSet) UnmarshalJSON(data []byte) error {
	var labels []string
	if err := json.Unmarshal(data, &labels); err != nil {
		return err
	}
	*s = NewSymptomSet(labels...)
	return nil
}

// SymptomProfile holds the symptoms confirmed present and confirmed absent for
// one subject. A label is not expected to appear in both sets.
type SymptomProfile struct {
	Present SymptomSet `json:"present"`
	Absent  SymptomSet `json:"absent"`
}

// PopulationSymptoms maps each known patient to their symptom profile.
type PopulationSymptoms map[PatientID]SymptomProfile

// PopulationDiagnoses maps each known patient to a diagnosis label.
type PopulationDiagnoses map[PatientID]string

// RankedPatient is one entry of a RankedList.
type RankedPatient struct {
	ID    PatientID `json:"patient_id"`
	Score int       `json:"score"`
}

// RankedList is ordered by descending score, then descending patient ID.
type RankedList []RankedPatient

// IDs returns the patient IDs in ranked order.
func (r RankedList) IDs() []PatientID {
	out := make([]PatientID, len(r))
	for i, p := range r {
		out[i] = p.ID
	}
	return out
}

// DiagnosisFrequency maps a diagnosis label to the fraction of a cohort
// carrying it.
type DiagnosisFrequency map[string]float64

// Labels returns the diagnosis labels by descending frequency, ties in
// lexical order.
func (f DiagnosisFrequency) Labels() []string {
	out := make([]string, 0, len(f))
	for label := range f {
		out = append(out, label)
	}
	sort.Slice(out, func(i, j int) bool {
		if f[out[i]] != f[out[j]] {
			return f[out[i]] > f[out[j]]
		}
		return out[i] < out[j]
	})
	return out
}

// Population is a loaded snapshot of the reference patients.
type Population struct {
	Symptoms  PopulationSymptoms
	Diagnoses PopulationDiagnoses
	LoadedAt  time.Time
}

// PopulationStats summarises a loaded population.
type PopulationStats struct {
	Patients  int            `json:"patients"`
	Diagnosed int            `json:"diagnosed"`
	Diagnoses map[string]int `json:"diagnoses"`
	LoadedAt  time.Time      `json:"loaded_at"`
}

// Stats counts patients with profiles, patients with diagnoses, and patients
// per diagnosis label.
func (p *Population) Stats() PopulationStats {
	st := PopulationStats{
		Patients:  len(p.Symptoms),
		Diagnosed: len(p.Diagnoses),
		Diagnoses: make(map[string]int),
		LoadedAt:  p.LoadedAt,
	}
	for _, dx := range p.Diagnoses {
		st.Diagnoses[dx]++
	}
	return st
}
