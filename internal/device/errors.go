package device

import (
	"errors"
	"fmt"
)

// IndexError reports a registry index outside [0, Count)
type IndexError struct {
	Index int
	Count int
}

func (e *IndexError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Count == 0 && e.Index == 0 {
		return "index out of range"
	}
	return fmt.Sprintf("index out of range: %d (count %d)", e.Index, e.Count)
}

// Is matches any other IndexError, so errors.Is(err, ErrIndexOutOfRange) works for all indices
func (e *IndexError) Is(target error) bool {
	_, ok := target.(*IndexError)
	return ok && e != nil
}

// DuplicateError reports an attempt to insert an identifier already present
type DuplicateError struct {
	Identifier string
}

func (e *DuplicateError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Identifier == "" {
		return "duplicate identifier"
	}
	return fmt.Sprintf("duplicate identifier %q", e.Identifier)
}

func (e *DuplicateError) Is(target error) bool {
	_, ok := target.(*DuplicateError)
	return ok && e != nil
}

// RadioError reports that the radio is not in a usable power state
type RadioError struct {
	State PowerState
}

func (e *RadioError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.State == PowerUnknown {
		return "radio unavailable"
	}
	return fmt.Sprintf("radio unavailable: %s", e.State)
}

func (e *RadioError) Is(target error) bool {
	_, ok := target.(*RadioError)
	return ok && e != nil
}

// PersistError wraps a failure of the persistence boundary
type PersistError struct {
	Op   string // "load" or "save"
	Path string
	Err  error
}

func (e *PersistError) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := "persist"
	if e.Op != "" {
		msg += " " + e.Op
	}
	if e.Path != "" {
		msg += fmt.Sprintf(" %q", e.Path)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *PersistError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func (e *PersistError) Is(target error) bool {
	_, ok := target.(*PersistError)
	return ok && e != nil
}

// TransitionError reports a command that is not allowed in the record's current state
type TransitionError struct {
	Op   string
	From ConnectionState
}

func (e *TransitionError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Op == "" {
		return "invalid state transition"
	}
	return fmt.Sprintf("invalid state transition: cannot %s while %s", e.Op, e.From)
}

func (e *TransitionError) Is(target error) bool {
	_, ok := target.(*TransitionError)
	return ok && e != nil
}

// Predefined sentinel errors
var (
	ErrIndexOutOfRange     = &IndexError{}
	ErrDuplicateIdentifier = &DuplicateError{}
	ErrRadioUnavailable    = &RadioError{}
	ErrPersist             = &PersistError{}
	ErrInvalidTransition   = &TransitionError{}
)

var (
	// ErrNotBound is returned when a record has no native handle and the radio cannot retrieve one
	ErrNotBound = errors.New("peripheral has no native handle")
	// ErrUnknownPeripheral is returned when an identifier is not in the registry
	ErrUnknownPeripheral = errors.New("unknown peripheral")
	// ErrClosed is returned by commands issued after the coordinator stopped
	ErrClosed = errors.New("coordinator closed")
)

// IsRadioUnavailable reports whether err means the radio cannot serve requests right now
func IsRadioUnavailable(err error) bool {
	return errors.Is(err, ErrRadioUnavailable)
}
