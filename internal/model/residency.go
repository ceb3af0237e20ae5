package model

import (
	"errors"
	"fmt"
)

// Residency names the memory space a model artifact executes from.
type Residency uint8

const (
	// Host is general-purpose memory; artifacts rest here between uses.
	Host Residency = iota
	// Accelerator is the fast compute device, when one is configured.
	Accelerator
)

func (r Residency) String() string {
	switch r {
	case Host:
		return "host"
	case Accelerator:
		return "accelerator"
	default:
		return fmt.Sprintf("residency(%d)", uint8(r))
	}
}

// Relocatable is anything that can be moved between residencies.
type Relocatable interface {
	Relocate(Residency) error
}

// WithResidency moves every target to the accelerator, runs fn, and moves the
// targets back to host memory on every exit path, panics included. If a
// target cannot be moved up, the ones already moved are returned and fn is
// not run.
func WithResidency(targets []Relocatable, fn func() error) (err error) {
	moved := make([]Relocatable, 0, len(targets))
	defer func() {
		var restoreErrs []error
		for i := len(moved) - 1; i >= 0; i-- {
			if rerr := moved[i].Relocate(Host); rerr != nil {
				restoreErrs = append(restoreErrs, rerr)
			}
		}
		if len(restoreErrs) > 0 {
			err = errors.Join(append([]error{err}, restoreErrs...)...)
		}
	}()

	for _, t := range targets {
		if err := t.Relocate(Accelerator); err != nil {
			return fmt.Errorf("relocate to %s: %w", Accelerator, err)
		}
		moved = append(moved, t)
	}
	return fn()
}
