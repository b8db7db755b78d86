// Package dxmatchtest provides the sample population and queries used by
// tests and the demo command.
package dxmatchtest

import "github.com/ehr/dxmatch/internal/domain/dxmatch"

func profile(present, absent []string) dxmatch.SymptomProfile {
	return dxmatch.SymptomProfile{
		Present: dxmatch.NewSymptomSet(present...),
		Absent:  dxmatch.NewSymptomSet(absent...),
	}
}

// Symptoms returns a fresh copy of the eight-patient sample population.
func Symptoms() dxmatch.PopulationSymptoms {
	return dxmatch.PopulationSymptoms{
		56374: profile([]string{"headache", "fever"}, []string{"coughing", "runny_nose", "sneezing"}),
		45437: profile([]string{"coughing", "runny_nose"}, []string{"headache", "fever"}),
		16372: profile([]string{"coughing", "sore_throat"}, []string{"fever"}),
		54324: profile([]string{"vomiting", "coughing", "stomach_pain"}, []string{"fever"}),
		35249: profile([]string{"sore_throat", "coughing", "fever"}, []string{"stomach_pain", "runny_nose"}),
		44274: profile([]string{"fever", "headache"}, []string{"stomach_pain", "runny_nose", "sore_throat", "coughing"}),
		74821: profile([]string{"vomiting", "fever"}, []string{"headache"}),
		94231: profile([]string{"stomach_pain", "fever", "sore_throat", "coughing", "headache"}, []string{"vomiting"}),
	}
}

// Diagnoses returns a fresh copy of the sample diagnoses.
func Diagnoses() dxmatch.PopulationDiagnoses {
	return dxmatch.PopulationDiagnoses{
		45437: "cold",
		56374: "meningitis",
		54324: "food_poisoning",
		16372: "cold",
		35249: "pharyngitis",
		44274: "meningitis",
		74821: "food_poisoning",
		94231: "unknown",
	}
}

// Population bundles Symptoms and Diagnoses.
func Population() *dxmatch.Population {
	return &dxmatch.Population{Symptoms: Symptoms(), Diagnoses: Diagnoses()}
}

// Sample query patients.
var (
	Yang   = profile([]string{"coughing", "runny_nose", "sneezing"}, []string{"headache", "fever"})
	Maria  = profile([]string{"coughing", "fever", "sore_throat", "sneezing"}, []string{"muscle_pain"})
	Jaspal = profile([]string{"headache"}, []string{"sneezing"})
)

// Query is a named sample query. Cohort is a hand-picked patient set used to
// exercise diagnosis counting on its own.
type Query struct {
	Name    string
	Profile dxmatch.SymptomProfile
	Cohort  []dxmatch.PatientID
}

// Queries lists the sample queries in a stable order.
func Queries() []Query {
	return []Query{
		{Name: "Yang", Profile: Yang, Cohort: []dxmatch.PatientID{16372, 45437, 54324}},
		{Name: "Maria", Profile: Maria, Cohort: []dxmatch.PatientID{35249, 16372, 74821, 94231}},
		{Name: "Jaspal", Profile: Jaspal, Cohort: []dxmatch.PatientID{44274, 56374}},
	}
}
