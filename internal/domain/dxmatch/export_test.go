package dxmatch

import "time"

// NewPopulationRepoWith builds a postgres repository over any queryable.
func NewPopulationRepoWith(db queryable, now func() time.Time) PopulationRepository {
	return &populationRepoPG{db: db, now: now}
}
