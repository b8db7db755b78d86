package dxmatch

import "sort"

// Rank scores query against every patient in population and orders the
// result by descending score. Equal scores are ordered by descending patient
// ID so the sequence never depends on map iteration order.
func Rank(query SymptomProfile, population PopulationSymptoms) RankedList {
	ranked := make(RankedList, 0, len(population))
	for id, profile := range population {
		ranked = append(ranked, RankedPatient{ID: id, Score: Score(query, profile)})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].ID > ranked[j].ID
	})
	return ranked
}

// TopN returns the IDs of the first n entries of ranked. n is clamped to
// [0, len(ranked)].
//
// Selection is positional: when entries n and n+1 share a score, only the
// entry ranked first by the tie-break is kept. Callers needing every tied
// patient must widen n themselves.
func TopN(ranked RankedList, n int) []PatientID {
	if n < 0 {
		n = 0
	}
	if n > len(ranked) {
		n = len(ranked)
	}
	return ranked[:n].IDs()
}
