package dxmatch

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownPatient is matched by every *LookupError.
	ErrUnknownPatient = errors.New("patient has no diagnosis entry")

	// ErrEmptyPatientSet is returned when aggregating zero patients.
	ErrEmptyPatientSet = errors.New("cannot aggregate an empty patient set")

	// ErrPopulationNotLoaded is returned by the service before a population
	// has been loaded.
	ErrPopulationNotLoaded = errors.New("population not loaded")
)

// LookupError reports a patient ID with no corresponding diagnosis.
type LookupError struct {
	ID PatientID
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("patient %d has no diagnosis entry", e.ID)
}

func (e *LookupError) Unwrap() error { return ErrUnknownPatient }

// ErrNegativeTopN is returned by the service when a caller asks for fewer
// than zero matches.
var ErrNegativeTopN = errors.New("n must be non-negative")
