package core

import (
	"errors"
	"fmt"
)

// ErrNoRates marks a cycle whose sources all settled without an observation.
var ErrNoRates = errors.New("no rates obtained from any source")

// ExtractionError is a hard failure of a single source. It never leaves the
// orchestrator.
type ExtractionError struct {
	Provider Provider
	Err      error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract %s: %v", e.Provider, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// SessionError reports that the shared browser session could not be acquired.
type SessionError struct {
	Err error
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("browser session: %v", e.Err)
}

func (e *SessionError) Unwrap() error { return e.Err }

// CycleExhaustedError is returned once every attempt of a cycle has failed.
type CycleExhaustedError struct {
	Attempts int
	Err      error
}

func (e *CycleExhaustedError) Error() string {
	return fmt.Sprintf("Error after %d attempts: %v", e.Attempts, e.Err)
}

func (e *CycleExhaustedError) Unwrap() error { return e.Err }
