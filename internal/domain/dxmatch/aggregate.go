package dxmatch

// Aggregate looks up the diagnosis of every distinct patient in ids and
// returns the fraction of those patients carrying each label.
//
// An ID missing from diagnoses yields a *LookupError. An empty ids yields
// ErrEmptyPatientSet.
func Aggregate(ids []PatientID, diagnoses PopulationDiagnoses) (DiagnosisFrequency, error) {
	seen := make(map[PatientID]struct{}, len(ids))
	counts := make(map[string]int)
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		dx, ok := diagnoses[id]
		if !ok {
			return nil, &LookupError{ID: id}
		}
		counts[dx]++
	}
	if len(seen) == 0 {
		return nil, ErrEmptyPatientSet
	}

	total := float64(len(seen))
	freq := make(DiagnosisFrequency, len(counts))
	for dx, n := range counts {
		freq[dx] = float64(n) / total
	}
	return freq, nil
}

// Diagnose estimates diagnosis frequencies for query from the n patients most
// similar to it. Lookup failures for any selected patient are returned as is.
func Diagnose(query SymptomProfile, symptoms PopulationSymptoms, diagnoses PopulationDiagnoses, n int) (DiagnosisFrequency, error) {
	return Aggregate(TopN(Rank(query, symptoms), n), diagnoses)
}
