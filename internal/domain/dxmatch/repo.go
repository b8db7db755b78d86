package dxmatch

import (
	"context"
	"fmt"
	"time"

	"github.com/ehr/dxmatch/internal/platform/dataset"
)

// PopulationRepository loads the reference population.
type PopulationRepository interface {
	Load(ctx context.Context) (*Population, error)
}

type fileRepo struct {
	path string
	now  func() time.Time
}

// NewFileRepository returns a repository reading the flat-file dataset at path.
func NewFileRepository(path string) PopulationRepository {
	return &fileRepo{path: path, now: time.Now}
}

func (r *fileRepo) Load(ctx context.Context) (*Population, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	records, err := dataset.ReadFile(r.path)
	if err != nil {
		return nil, fmt.Errorf("load population: %w", err)
	}
	pop := FromRecords(records)
	pop.LoadedAt = r.now()
	return pop, nil
}

// FromRecords converts dataset records into a population.
func FromRecords(records []dataset.Record) *Population {
	pop := &Population{
		Symptoms:  make(PopulationSymptoms, len(records)),
		Diagnoses: make(PopulationDiagnoses, len(records)),
	}
	for _, rec := range records {
		id := PatientID(rec.ID)
		pop.Symptoms[id] = SymptomProfile{
			Present: NewSymptomSet(rec.Present...),
			Absent:  NewSymptomSet(rec.Absent...),
		}
		pop.Diagnoses[id] = rec.Diagnosis
	}
	return pop
}
