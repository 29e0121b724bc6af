// Package api contains shared JSON request/response structs.
// This package is shared between the CLI and the supervisor.
package api

import "time"

// AddProcessRequest is the request body for spawning a named process.
// Executable and Script fall back to the supervisor's script config.
type AddProcessRequest struct {
	Name       string            `json:"name"`
	Executable string            `json:"executable,omitempty"`
	Script     string            `json:"script,omitempty"`
	Args       []string          `json:"args,omitempty"`
	Env        map[string]string `json:"env,omitempty"`
	Dir        string            `json:"dir,omitempty"`
	Image      string            `json:"image,omitempty"`
}

// ProcessResponse describes one registered process.
type ProcessResponse struct {
	Name            string    `json:"name"`
	InstanceID      string    `json:"instance_id"`
	PID             int       `json:"pid,omitempty"`
	Runtime         string    `json:"runtime"`
	StartedAt       time.Time `json:"started_at"`
	Exited          bool      `json:"exited"`
	ExitCode        *int      `json:"exit_code,omitempty"`
	ExitDescription string    `json:"exit_description,omitempty"`
}

// ListProcessesResponse is the response body for GET /processes.
type ListProcessesResponse struct {
	Processes []ProcessResponse `json:"processes"`
}

// ReadLineResponse carries one line of output. EOF means the process closed
// its output; Pending means no line arrived within the wait window.
type ReadLineResponse struct {
	Line    string `json:"line,omitempty"`
	EOF     bool   `json:"eof,omitempty"`
	Pending bool   `json:"pending,omitempty"`
}

// OutputResponse carries the lines buffered at the time of the request.
type OutputResponse struct {
	Lines []string `json:"lines"`
	EOF   bool     `json:"eof"`
}

// SendRequest is the request body for writing a line to a process.
type SendRequest struct {
	Text string `json:"text"`
}

// ExitedResponse reports whether a process has terminated.
// Registered is false when the name is not in the table at all.
type ExitedResponse struct {
	Name       string `json:"name"`
	Exited     bool   `json:"exited"`
	Registered bool   `json:"registered"`
}

// StopResponse is returned after a process was stopped and reaped.
type StopResponse struct {
	Name        string `json:"name"`
	ExitCode    int    `json:"exit_code"`
	Description string `json:"description,omitempty"`
}

// StopAllResponse reports the outcome of stopping every process.
type StopAllResponse struct {
	Stopped int               `json:"stopped"`
	Errors  map[string]string `json:"errors,omitempty"`
}

// RunRequest is the request body for a one-shot execution.
type RunRequest struct {
	Executable string            `json:"executable"`
	Args       []string          `json:"args,omitempty"`
	Env        map[string]string `json:"env,omitempty"`
	Dir        string            `json:"dir,omitempty"`
	Image      string            `json:"image,omitempty"`
}

// RunResponse is the result of a one-shot execution.
type RunResponse struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr,omitempty"`
	ExitCode int    `json:"exit_code"`
}

// RunHistoryEntry represents one past or current process instance.
type RunHistoryEntry struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Runtime    string     `json:"runtime"`
	Executable string     `json:"executable"`
	Args       []string   `json:"args,omitempty"`
	PID        int        `json:"pid,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	StoppedAt  *time.Time `json:"stopped_at,omitempty"`
	ExitCode   *int       `json:"exit_code,omitempty"`
	StopReason *string    `json:"stop_reason,omitempty"`
}

// RunHistoryResponse is the response body for GET /processes/{name}/runs.
type RunHistoryResponse struct {
	Runs []RunHistoryEntry `json:"runs"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}
