// Package runtime provides the Runtime interface for process backends and the
// Process handle that owns one spawned child and its pipes.
package runtime

import (
	"context"
	"errors"
	"fmt"
)

// Runtime defines the interface for spawning supervised processes.
// Implementations include raw OS processes, Docker and Kubernetes.
type Runtime interface {
	// Name identifies the backend ("exec", "docker", "kubernetes").
	Name() string

	// Start spawns a process with stdin, stdout and stderr all piped.
	// Either a fully constructed Process or a *SpawnError is returned.
	Start(ctx context.Context, opts StartOptions) (*Process, error)
}

// StartOptions contains the parameters for spawning a process.
type StartOptions struct {
	Name       string
	Executable string
	Args       []string
	Env        map[string]string
	Dir        string
	Image      string // container runtimes only
}

// Backend controls the lifecycle of one started process.
type Backend interface {
	// Wait blocks until the process exits. It is called exactly once, by the
	// reaper goroutine of the owning Process.
	Wait() (ExitStatus, error)

	// Kill requests immediate termination.
	Kill() error
}

// ExitStatus describes how a process terminated.
type ExitStatus struct {
	Code        int    `json:"code"`
	Description string `json:"description,omitempty"`
}

// Success reports whether the process exited with code zero.
func (s ExitStatus) Success() bool {
	return s.Code == 0
}

func (s ExitStatus) String() string {
	if s.Description != "" {
		return s.Description
	}
	return fmt.Sprintf("exit status %d", s.Code)
}

var (
	// ErrNotConnected is returned when writing to an input pipe that was
	// already closed or taken.
	ErrNotConnected = errors.New("input pipe not connected")

	// ErrProcessNotFound is returned when the process handle has been released.
	ErrProcessNotFound = errors.New("process handle released")
)

// SpawnError reports that a process could not be created.
type SpawnError struct {
	Executable string
	Err        error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("failed to spawn %q: %v", e.Executable, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// ExitError is returned by Run when the process exits with a non-zero code.
type ExitError struct {
	Status ExitStatus
	Stderr string
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("command failed with exit code %d: %s", e.Status.Code, e.Stderr)
}
