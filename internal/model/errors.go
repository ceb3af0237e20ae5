package model

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration is returned when a required configuration resource is
	// missing or unusable.
	ErrConfiguration = errors.New("configuration error")
	// ErrNoDiseasesAdmitted is returned when setup finishes its scan with an
	// empty admitted set.
	ErrNoDiseasesAdmitted = errors.New("no diseases admitted")
	// ErrState is returned on guard violations: double lock, double setup,
	// concurrent predict/setup, or predict before setup.
	ErrState = errors.New("invalid session state")
	// ErrMissingInput is returned when an image path does not reference a
	// readable file.
	ErrMissingInput = errors.New("missing input")
)

// ConfigurationError reports an unusable configuration resource.
type ConfigurationError struct {
	Resource string
	Err      error
}

func (e *ConfigurationError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("configuration resource %q is unavailable", e.Resource)
	}
	return fmt.Sprintf("configuration resource %q is unavailable: %v", e.Resource, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

func (e *ConfigurationError) Is(target error) bool { return target == ErrConfiguration }

// StateError reports a guard violation.
type StateError struct {
	Op  string
	Msg string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Msg)
}

func (e *StateError) Is(target error) bool { return target == ErrState }

// MissingInputError names the first input path that could not be read.
type MissingInputError struct {
	Path string
	Err  error
}

func (e *MissingInputError) Error() string {
	return fmt.Sprintf("source file %q does not exist or is not readable", e.Path)
}

func (e *MissingInputError) Unwrap() error { return e.Err }

func (e *MissingInputError) Is(target error) bool { return target == ErrMissingInput }
