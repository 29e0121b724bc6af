package supervisor

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrAlreadyExists is returned by Add when the name is taken.
	ErrAlreadyExists = errors.New("process already exists")

	// ErrNotFound is returned for names that are not registered.
	ErrNotFound = errors.New("process not found")

	// ErrKillFailed marks an OpError from the kill step of a teardown.
	ErrKillFailed = errors.New("kill failed")

	// ErrWaitFailed marks an OpError from reaping a killed process.
	ErrWaitFailed = errors.New("wait failed")
)

// OpError reports a failed teardown step for one named process.
type OpError struct {
	Op   string // "kill" or "wait"
	Name string
	Err  error
}

func (e *OpError) Error() string {
	return fmt.Sprintf("%s %q: %v", e.Op, e.Name, e.Err)
}

// Unwrap exposes both the kind (ErrKillFailed, ErrWaitFailed) and the cause.
func (e *OpError) Unwrap() []error {
	switch e.Op {
	case "kill":
		return []error{ErrKillFailed, e.Err}
	case "wait":
		return []error{ErrWaitFailed, e.Err}
	}
	return []error{e.Err}
}

// AggregateError collects per-name failures from StopAll.
type AggregateError struct {
	Errors map[string]error
}

func (e *AggregateError) Error() string {
	names := e.Names()
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s: %v", name, e.Errors[name]))
	}
	return fmt.Sprintf("%d process(es) failed to stop: %s", len(names), strings.Join(parts, "; "))
}

// Names returns the failed names in sorted order.
func (e *AggregateError) Names() []string {
	names := make([]string, 0, len(e.Errors))
	for name := range e.Errors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (e *AggregateError) Unwrap() []error {
	errs := make([]error, 0, len(e.Errors))
	for _, name := range e.Names() {
		errs = append(errs, e.Errors[name])
	}
	return errs
}
