// Package store contains the run-history layer for procplane.
package store

import "time"

// ProcessRun records one spawned process instance from start to stop.
type ProcessRun struct {
	ID         string
	Name       string
	Runtime    string
	Executable string
	Args       []string
	PID        int
	StartedAt  time.Time
	StoppedAt  *time.Time
	ExitCode   *int
	StopReason *string
}

// StopReason describes why a run ended.
type StopReason string

const (
	StopReasonStopped  StopReason = "stopped"
	StopReasonStopAll  StopReason = "stop_all"
	StopReasonKillFail StopReason = "kill_failed"
	StopReasonWaitFail StopReason = "wait_failed"
)

// RunExit is the terminal state of a run.
type RunExit struct {
	StoppedAt time.Time
	ExitCode  int
	Reason    StopReason
}
