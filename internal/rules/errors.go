package rules

import (
	"errors"
	"fmt"
)

// Sentinel errors wrapped by LoadError. Any of them rejects the whole catalog.
var (
	ErrMalformedPattern = errors.New("malformed rule pattern")
	ErrDuplicateRule    = errors.New("duplicate rule identifier")
	ErrInvalidRule      = errors.New("invalid rule definition")
	ErrUnknownLanguage  = errors.New("unknown language")
	ErrIncludeCycle     = errors.New("language include cycle")
)

// LoadError describes why a catalog definition was rejected. Source is the
// file the definition came from ("embedded" for the built-in catalog) and
// Subject names the offending rule or language.
type LoadError struct {
	Source  string
	Subject string
	Err     error
}

// Error returns a human-readable description of the failure.
func (e *LoadError) Error() string {
	if e.Subject == "" {
		return fmt.Sprintf("rules %s: %v", e.Source, e.Err)
	}
	return fmt.Sprintf("rules %s: %s: %v", e.Source, e.Subject, e.Err)
}

// Unwrap returns the underlying sentinel so callers can use errors.Is.
func (e *LoadError) Unwrap() error { return e.Err }
