// Package harness drives a fixed set of processes through rounds of
// "send a query, drain stdout, drain stderr" on a bounded worker pool.
package harness

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"procplane/internal/runtime"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Config controls a harness run.
type Config struct {
	// Processes is the number of processes to spawn.
	Processes int
	// Rounds is the number of query rounds per process.
	Rounds int
	// Concurrency is the worker pool size.
	Concurrency int
	// QueueSize bounds pending tasks. Defaults to Processes*Rounds.
	QueueSize int
	// RoundInterval is slept between submitting consecutive rounds.
	RoundInterval time.Duration

	// Command is spawned once per process. Processes are named
	// "<Command.Name>-<i>", falling back to the executable base name.
	Command runtime.StartOptions

	// Sequenced makes round k of a process wait for round k-1 of the same
	// process, so rounds never run out of order.
	Sequenced bool
	// CloseInput closes each process's input after its last round.
	CloseInput bool
	// ExitTimeout kills processes still running this long after the last
	// round was submitted. Zero waits forever.
	ExitTimeout time.Duration
}

// DefaultConfig returns the stock run: three ping processes, five rounds,
// four workers.
func DefaultConfig() Config {
	return Config{
		Processes:     3,
		Rounds:        5,
		Concurrency:   4,
		RoundInterval: 2 * time.Second,
		Command: runtime.StartOptions{
			Executable: "ping",
			Args:       []string{"-c", "5", "127.0.0.1"},
		},
		Sequenced:   true,
		ExitTimeout: 30 * time.Second,
	}
}

// RoundResult is what one task observed.
type RoundResult struct {
	Process     string        `json:"process"`
	Round       int           `json:"round"`
	Query       string        `json:"query"`
	Output      []string      `json:"output,omitempty"`
	Errors      []string      `json:"errors,omitempty"`
	InputClosed bool          `json:"input_closed,omitempty"`
	OutputEOF   bool          `json:"output_eof,omitempty"`
	Err         string        `json:"error,omitempty"`
	Duration    time.Duration `json:"duration"`
}

// ProcessReport summarizes one process across the run.
type ProcessReport struct {
	Name           string              `json:"name"`
	InstanceID     string              `json:"instance_id,omitempty"`
	PID            int                 `json:"pid,omitempty"`
	SpawnError     string              `json:"spawn_error,omitempty"`
	Killed         bool                `json:"killed,omitempty"`
	ExitStatus     *runtime.ExitStatus `json:"exit_status,omitempty"`
	Rounds         []RoundResult       `json:"rounds"`
	TrailingOutput []string            `json:"trailing_output,omitempty"`
	TrailingErrors []string            `json:"trailing_errors,omitempty"`
}

// Report is the outcome of a run.
type Report struct {
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
	Processes  []ProcessReport `json:"processes"`
}

// Failed counts processes that did not spawn or whose rounds hit unexpected
// errors.
func (r *Report) Failed() int {
	n := 0
	for _, p := range r.Processes {
		if p.SpawnError != "" {
			n++
			continue
		}
		for _, rr := range p.Rounds {
			if rr.Err != "" {
				n++
				break
			}
		}
	}
	return n
}

// member is one spawned process and its per-process serialization state.
type member struct {
	name string
	proc *runtime.Process

	// mu serializes tasks touching this process.
	mu sync.Mutex
	// last is closed when the most recently submitted round finishes.
	// Only the coordinator reads or replaces it.
	last chan struct{}
	// pending counts submitted rounds that have not finished.
	pending sync.WaitGroup

	report ProcessReport
}

// Harness runs the polled-query loop.
type Harness struct {
	rt     runtime.Runtime
	config Config
	logger *slog.Logger
	tracer trace.Tracer
}

// New creates a harness that spawns processes with rt.
func New(rt runtime.Runtime, config Config, logger *slog.Logger) *Harness {
	if config.Processes <= 0 {
		config.Processes = 1
	}
	if config.Rounds <= 0 {
		config.Rounds = 1
	}
	if config.Concurrency <= 0 {
		config.Concurrency = 1
	}
	if config.QueueSize <= 0 {
		config.QueueSize = config.Processes * config.Rounds
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Harness{
		rt:     rt,
		config: config,
		logger: logger.With("component", "harness"),
		tracer: otel.Tracer("procplane/harness"),
	}
}

// Run spawns the processes, submits every round, then waits for the
// processes to exit and the pool to drain. Cancelling ctx stops submitting
// further rounds and kills the processes.
func (h *Harness) Run(ctx context.Context) (*Report, error) {
	ctx, span := h.tracer.Start(ctx, "harness.run", trace.WithAttributes(
		attribute.Int("harness.processes", h.config.Processes),
		attribute.Int("harness.rounds", h.config.Rounds),
	))
	defer span.End()

	report := &Report{StartedAt: time.Now().UTC()}
	members, spawnFailures := h.spawn(ctx)
	if len(members) == 0 {
		report.Processes = spawnFailures
		report.FinishedAt = time.Now().UTC()
		err := fmt.Errorf("no process could be spawned")
		span.SetStatus(codes.Error, err.Error())
		return report, err
	}

	pool := NewPool(h.config.Concurrency, h.config.QueueSize, h.logger)

	runErr := h.submitRounds(ctx, pool, members)

	h.awaitExit(ctx, members)
	pool.Wait()
	h.collectTrailing(members)

	for _, m := range members {
		report.Processes = append(report.Processes, m.report)
	}
	report.Processes = append(report.Processes, spawnFailures...)
	report.FinishedAt = time.Now().UTC()

	h.logger.Info("harness finished",
		"processes", len(members),
		"spawn_failures", len(spawnFailures),
		"failed", report.Failed(),
		"duration", report.FinishedAt.Sub(report.StartedAt).String(),
	)
	if runErr != nil {
		span.SetStatus(codes.Error, runErr.Error())
	}
	return report, runErr
}

func (h *Harness) processName(i int) string {
	prefix := h.config.Command.Name
	if prefix == "" {
		prefix = filepath.Base(h.config.Command.Executable)
	}
	return fmt.Sprintf("%s-%d", prefix, i)
}

func (h *Harness) spawn(ctx context.Context) ([]*member, []ProcessReport) {
	var members []*member
	var failures []ProcessReport

	for i := 1; i <= h.config.Processes; i++ {
		opts := h.config.Command
		opts.Name = h.processName(i)

		proc, err := h.rt.Start(ctx, opts)
		if err != nil {
			h.logger.Error("spawn failed", "name", opts.Name, "error", err)
			failures = append(failures, ProcessReport{Name: opts.Name, SpawnError: err.Error()})
			continue
		}

		info := proc.Info()
		h.logger.Info("process spawned", "name", opts.Name, "instance_id", info.ID, "pid", info.PID)
		members = append(members, &member{
			name: opts.Name,
			proc: proc,
			report: ProcessReport{
				Name:       opts.Name,
				InstanceID: info.ID,
				PID:        info.PID,
			},
		})
	}
	return members, failures
}

// submitRounds submits one task per process per round without waiting for
// earlier rounds to finish.
func (h *Harness) submitRounds(ctx context.Context, pool *Pool, members []*member) error {
	for round := 1; round <= h.config.Rounds; round++ {
		for _, m := range members {
			h.submit(ctx, pool, m, round)
		}

		if round == h.config.Rounds {
			break
		}
		select {
		case <-ctx.Done():
			h.logger.Warn("harness cancelled", "after_round", round)
			return ctx.Err()
		case <-time.After(h.config.RoundInterval):
		}
	}
	return nil
}

func (h *Harness) submit(ctx context.Context, pool *Pool, m *member, round int) {
	prev := m.last
	done := make(chan struct{})
	m.last = done
	m.pending.Add(1)

	task := func() {
		defer m.pending.Done()
		defer close(done)

		if h.config.Sequenced && prev != nil {
			<-prev
		}

		m.mu.Lock()
		defer m.mu.Unlock()

		result := h.query(ctx, m, round)
		m.report.Rounds = append(m.report.Rounds, result)
	}

	if err := pool.Submit(task); err != nil {
		h.logger.Error("failed to submit round", "name", m.name, "round", round, "error", err)
		m.pending.Done()
		close(done)

		m.mu.Lock()
		m.report.Rounds = append(m.report.Rounds, RoundResult{Process: m.name, Round: round, Err: err.Error()})
		m.mu.Unlock()
	}
}

// query performs one round against m. The caller holds m.mu.
// End of stream on any pipe is expected once a process exits and is not an
// error.
func (h *Harness) query(ctx context.Context, m *member, round int) RoundResult {
	_, span := h.tracer.Start(ctx, "harness.round", trace.WithAttributes(
		attribute.String("process.name", m.name),
		attribute.Int("harness.round", round),
	))
	defer span.End()

	start := time.Now()
	result := RoundResult{
		Process: m.name,
		Round:   round,
		Query:   fmt.Sprintf("query #%d for %s", round, m.name),
	}

	if err := m.proc.Send(result.Query); err != nil {
		if runtime.IsEndOfStream(err) {
			result.InputClosed = true
		} else {
			result.Err = err.Error()
			span.RecordError(err)
		}
	}

	lines, eof, err := m.proc.Drain()
	result.Output = lines
	result.OutputEOF = eof
	if err != nil && result.Err == "" {
		result.Err = err.Error()
		span.RecordError(err)
	}

	errLines, _, err := m.proc.DrainErrors()
	result.Errors = errLines
	if err != nil && result.Err == "" {
		result.Err = err.Error()
		span.RecordError(err)
	}

	result.Duration = time.Since(start)
	h.logger.Debug("round complete",
		"name", m.name,
		"round", round,
		"output_lines", len(result.Output),
		"error_lines", len(result.Errors),
		"input_closed", result.InputClosed,
	)
	for _, line := range result.Output {
		h.logger.Info("output", "name", m.name, "round", round, "line", line)
	}
	for _, line := range result.Errors {
		h.logger.Info("error output", "name", m.name, "round", round, "line", line)
	}
	return result
}

// awaitExit waits for every process, closing inputs and enforcing the exit
// timeout when configured.
func (h *Harness) awaitExit(ctx context.Context, members []*member) {
	if h.config.CloseInput {
		for _, m := range members {
			m.pending.Wait()
			m.mu.Lock()
			if err := m.proc.CloseInput(); err != nil && !runtime.IsEndOfStream(err) {
				h.logger.Warn("failed to close input", "name", m.name, "error", err)
			}
			m.mu.Unlock()
		}
	}

	waitCtx := ctx
	if h.config.ExitTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, h.config.ExitTimeout)
		defer cancel()
	}

	for _, m := range members {
		status, err := m.proc.Wait(waitCtx)
		if err != nil {
			h.logger.Warn("process did not exit in time, killing", "name", m.name, "error", err)
			if kerr := m.proc.Kill(); kerr != nil {
				h.logger.Error("kill failed", "name", m.name, "error", kerr)
			}
			m.report.Killed = true
			// Reap regardless of the caller's context.
			status, err = m.proc.Wait(context.Background())
			if err != nil {
				h.logger.Error("wait failed", "name", m.name, "error", err)
				continue
			}
		}

		m.report.ExitStatus = &status
		h.logger.Info("process exited", "name", m.name, "exit_code", status.Code)
	}
}

// trailingReadTimeout bounds each trailing read. A process can leave its
// pipes open through a child it forked.
const trailingReadTimeout = 2 * time.Second

// collectTrailing reads what was left in the pipes and releases the handles.
func (h *Harness) collectTrailing(members []*member) {
	for _, m := range members {
		m.report.TrailingOutput = h.readTrailing(m, "output", m.proc.ReadOutput)
		m.report.TrailingErrors = h.readTrailing(m, "errors", m.proc.ReadErrorOutput)
		if err := m.proc.Close(); err != nil {
			h.logger.Warn("failed to release process", "name", m.name, "error", err)
		}
	}
}

func (h *Harness) readTrailing(m *member, stream string, read func(context.Context) (string, error)) []string {
	ctx, cancel := context.WithTimeout(context.Background(), trailingReadTimeout)
	defer cancel()

	text, err := read(ctx)
	if err != nil {
		h.logger.Warn("failed to read trailing "+stream, "name", m.name, "error", err)
	}
	return splitLines(text)
}

func splitLines(text string) []string {
	text = strings.TrimSuffix(text, "\n")
	if text == "" {
		return nil
	}
	return strings.Split(text, "\n")
}
