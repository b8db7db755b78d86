package dxmatch

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
}

type populationRepoPG struct {
	db  queryable
	now func() time.Time
}

// NewPopulationRepoPG returns a repository reading the patient_case table.
func NewPopulationRepoPG(pool *pgxpool.Pool) PopulationRepository {
	return &populationRepoPG{db: pool, now: time.Now}
}

const caseCols = `patient_id, diagnosis, present_symptoms, absent_symptoms`

func (r *populationRepoPG) Load(ctx context.Context) (*Population, error) {
	rows, err := r.db.Query(ctx, `SELECT `+caseCols+` FROM patient_case ORDER BY patient_id`)
	if err != nil {
		return nil, fmt.Errorf("query patient cases: %w", err)
	}
	defer rows.Close()

	pop := &Population{
		Symptoms:  make(PopulationSymptoms),
		Diagnoses: make(PopulationDiagnoses),
	}
	for rows.Next() {
		var (
			id              int64
			dx              *string
			present, absent []string
		)
		if err := rows.Scan(&id, &dx, &present, &absent); err != nil {
			return nil, fmt.Errorf("scan patient case: %w", err)
		}
		pid := PatientID(id)
		pop.Symptoms[pid] = SymptomProfile{
			Present: NewSymptomSet(present...),
			Absent:  NewSymptomSet(absent...),
		}
		// Undiagnosed cases still take part in ranking; aggregation will
		// surface them as lookup failures.
		if dx != nil {
			pop.Diagnoses[pid] = *dx
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate patient cases: %w", err)
	}
	pop.LoadedAt = r.now()
	return pop, nil
}
