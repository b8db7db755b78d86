package dxmatch

// Score measures how well two symptom profiles agree. Shared present and
// shared absent symptoms each add one point; a symptom present in one profile
// and absent in the other subtracts one point. Symptoms mentioned by only one
// profile do not contribute.
func Score(a, b SymptomProfile) int {
	return a.Present.intersectionSize(b.Present) +
		a.Absent.intersectionSize(b.Absent) -
		a.Present.intersectionSize(b.Absent) -
		b.Present.intersectionSize(a.Absent)
}
