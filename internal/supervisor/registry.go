// Package supervisor keeps a table of named child processes and serializes
// access to each one.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"procplane/internal/runtime"
	"procplane/internal/store"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Spec describes the process to spawn under a name.
type Spec struct {
	Executable string
	// Script, when set, is passed as the first argument.
	Script string
	Args   []string
	Env    map[string]string
	Dir    string
	Image  string
}

func (s Spec) argv() []string {
	if s.Script == "" {
		return s.Args
	}
	return append([]string{s.Script}, s.Args...)
}

// Recorder receives run history. Failures are logged and never fail the
// registry operation.
type Recorder interface {
	RecordStart(ctx context.Context, run *store.ProcessRun) error
	RecordExit(ctx context.Context, id string, exit store.RunExit) error
}

// Options configure a Registry.
type Options struct {
	Logger   *slog.Logger
	Recorder Recorder

	// ReadTimeout bounds a blocking Read. Zero means no bound beyond the
	// caller's context.
	ReadTimeout time.Duration
}

// Info is a snapshot of one registered process.
type Info struct {
	Name       string
	InstanceID string
	PID        int
	Runtime    string
	StartedAt  time.Time
	Exited     bool
	ExitStatus *runtime.ExitStatus
}

// Output is the result of a non-blocking drain.
type Output struct {
	Lines []string
	EOF   bool
}

// entry is one registered process. proc is nil while Add is still spawning;
// such entries hold the name but are invisible to every other operation.
type entry struct {
	name string
	spec Spec
	proc *runtime.Process

	// io serializes send/read/drain on this process only.
	io sync.Mutex
}

// Registry maps names to live processes.
//
// mu guards the table and is held only for insert, remove and snapshot.
// Blocking pipe I/O happens under the entry's own lock, so a slow process
// never stalls operations on other names.
type Registry struct {
	rt       runtime.Runtime
	logger   *slog.Logger
	recorder Recorder
	timeout  time.Duration

	mu      sync.Mutex
	entries map[string]*entry

	tracer   trace.Tracer
	started  metric.Int64Counter
	stopped  metric.Int64Counter
	failures metric.Int64Counter
}

// New creates a registry that spawns processes with rt.
func New(rt runtime.Runtime, opts Options) *Registry {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := &Registry{
		rt:       rt,
		logger:   logger.With("component", "supervisor", "runtime", rt.Name()),
		recorder: opts.Recorder,
		timeout:  opts.ReadTimeout,
		entries:  make(map[string]*entry),
		tracer:   otel.Tracer("procplane/supervisor"),
	}
	r.initMetrics()
	return r
}

func (r *Registry) initMetrics() {
	meter := otel.Meter("procplane/supervisor")

	var err error
	if r.started, err = meter.Int64Counter("procplane.processes.started",
		metric.WithDescription("Processes spawned")); err != nil {
		r.logger.Warn("failed to create metric", "error", err)
	}
	if r.stopped, err = meter.Int64Counter("procplane.processes.stopped",
		metric.WithDescription("Processes stopped and reaped")); err != nil {
		r.logger.Warn("failed to create metric", "error", err)
	}
	if r.failures, err = meter.Int64Counter("procplane.spawn.failures",
		metric.WithDescription("Failed spawn attempts")); err != nil {
		r.logger.Warn("failed to create metric", "error", err)
	}
	if _, err = meter.Int64ObservableGauge("procplane.processes.active",
		metric.WithDescription("Processes currently registered"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(int64(r.Len()))
			return nil
		})); err != nil {
		r.logger.Warn("failed to create metric", "error", err)
	}
}

func (r *Registry) count(ctx context.Context, c metric.Int64Counter) {
	if c != nil {
		c.Add(ctx, 1, metric.WithAttributes(attribute.String("runtime", r.rt.Name())))
	}
}

// Add spawns a process and registers it under name.
//
// The duplicate check and the reservation happen in one critical section, so
// of two concurrent Adds for the same name exactly one spawns.
func (r *Registry) Add(ctx context.Context, name string, spec Spec) (Info, error) {
	ctx, span := r.tracer.Start(ctx, "supervisor.add", trace.WithAttributes(
		attribute.String("process.name", name),
		attribute.String("process.executable", spec.Executable),
	))
	defer span.End()

	if name == "" {
		return Info{}, fmt.Errorf("name is required")
	}

	r.mu.Lock()
	if _, taken := r.entries[name]; taken {
		r.mu.Unlock()
		span.SetStatus(codes.Error, ErrAlreadyExists.Error())
		return Info{}, ErrAlreadyExists
	}
	e := &entry{name: name, spec: spec}
	r.entries[name] = e
	r.mu.Unlock()

	proc, err := r.spawn(ctx, name, spec)
	if err != nil {
		r.mu.Lock()
		delete(r.entries, name)
		r.mu.Unlock()

		r.count(ctx, r.failures)
		span.RecordError(err)
		span.SetStatus(codes.Error, "spawn failed")
		r.logger.Error("spawn failed", "name", name, "executable", spec.Executable, "error", err)
		return Info{}, err
	}

	r.mu.Lock()
	e.proc = proc
	r.mu.Unlock()

	info := proc.Info()
	span.SetAttributes(attribute.String("process.instance_id", info.ID), attribute.Int("process.pid", info.PID))
	r.count(ctx, r.started)
	r.logger.Info("process started", "name", name, "instance_id", info.ID, "pid", info.PID, "executable", spec.Executable)

	r.recordStart(ctx, name, spec, info)
	return r.snapshot(e), nil
}

func (r *Registry) spawn(ctx context.Context, name string, spec Spec) (*runtime.Process, error) {
	if spec.Script != "" && r.rt.Name() == "exec" {
		// The child may run in its own work dir; resolve against ours.
		script, err := filepath.Abs(spec.Script)
		if err != nil {
			return nil, &runtime.SpawnError{Executable: spec.Executable, Err: fmt.Errorf("resolve script: %w", err)}
		}
		if _, err := os.Stat(script); err != nil {
			return nil, &runtime.SpawnError{Executable: spec.Executable, Err: fmt.Errorf("script not found: %w", err)}
		}
		spec.Script = script
	}

	return r.rt.Start(ctx, runtime.StartOptions{
		Name:       name,
		Executable: spec.Executable,
		Args:       spec.argv(),
		Env:        spec.Env,
		Dir:        spec.Dir,
		Image:      spec.Image,
	})
}

// lookup returns the live entry for name.
func (r *Registry) lookup(name string) (*entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[name]
	if !ok || e.proc == nil {
		return nil, ErrNotFound
	}
	return e, nil
}

// Read returns the next stdout line of name, blocking until one is available.
// It returns io.EOF once the process has closed its output.
func (r *Registry) Read(ctx context.Context, name string) (string, error) {
	e, err := r.lookup(name)
	if err != nil {
		return "", err
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	e.io.Lock()
	defer e.io.Unlock()
	return e.proc.ReadLine(ctx)
}

// ReadAll drains the stdout lines buffered right now without waiting.
func (r *Registry) ReadAll(name string) (Output, error) {
	e, err := r.lookup(name)
	if err != nil {
		return Output{}, err
	}

	e.io.Lock()
	defer e.io.Unlock()
	lines, eof, err := e.proc.Drain()
	return Output{Lines: lines, EOF: eof}, err
}

// ReadErrors is ReadAll for stderr.
func (r *Registry) ReadErrors(name string) (Output, error) {
	e, err := r.lookup(name)
	if err != nil {
		return Output{}, err
	}

	e.io.Lock()
	defer e.io.Unlock()
	lines, eof, err := e.proc.DrainErrors()
	return Output{Lines: lines, EOF: eof}, err
}

// Send writes one line to the input of name.
func (r *Registry) Send(name, text string) error {
	e, err := r.lookup(name)
	if err != nil {
		return err
	}

	e.io.Lock()
	defer e.io.Unlock()
	return e.proc.Send(text)
}

// CloseInput closes the input pipe of name.
func (r *Registry) CloseInput(name string) error {
	e, err := r.lookup(name)
	if err != nil {
		return err
	}

	e.io.Lock()
	defer e.io.Unlock()
	return e.proc.CloseInput()
}

// IsExited reports whether name has terminated. An absent name has nothing
// left to wait for and reports true. A failed poll reports false.
func (r *Registry) IsExited(name string) bool {
	e, err := r.lookup(name)
	if err != nil {
		return true
	}

	_, exited, err := e.proc.TryWait()
	if errors.Is(err, runtime.ErrProcessNotFound) {
		// Released by a concurrent Stop.
		return true
	}
	if err != nil {
		r.logger.Warn("exit poll failed", "name", name, "error", err)
		return false
	}
	return exited
}

// Status returns a snapshot of name.
func (r *Registry) Status(name string) (Info, error) {
	e, err := r.lookup(name)
	if err != nil {
		return Info{}, err
	}
	return r.snapshot(e), nil
}

func (r *Registry) snapshot(e *entry) Info {
	pi := e.proc.Info()
	info := Info{
		Name:       e.name,
		InstanceID: pi.ID,
		PID:        pi.PID,
		Runtime:    pi.Runtime,
		StartedAt:  pi.StartedAt,
	}
	if status, exited, err := e.proc.TryWait(); err == nil && exited {
		info.Exited = true
		info.ExitStatus = &status
	}
	return info
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	_, err := r.lookup(name)
	return err == nil
}

// Stop removes name, kills the process and waits for it to exit.
// The entry is gone before the kill, so concurrent callers see ErrNotFound
// rather than a process being torn down.
func (r *Registry) Stop(ctx context.Context, name string) (runtime.ExitStatus, error) {
	ctx, span := r.tracer.Start(ctx, "supervisor.stop", trace.WithAttributes(
		attribute.String("process.name", name),
	))
	defer span.End()

	r.mu.Lock()
	e, ok := r.entries[name]
	if !ok || e.proc == nil {
		r.mu.Unlock()
		return runtime.ExitStatus{}, ErrNotFound
	}
	delete(r.entries, name)
	r.mu.Unlock()

	status, err := r.teardown(ctx, e, store.StopReasonStopped)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "stop failed")
	}
	return status, err
}

// teardown kills, reaps and releases a process that is no longer registered.
func (r *Registry) teardown(ctx context.Context, e *entry, reason store.StopReason) (runtime.ExitStatus, error) {
	defer e.proc.Close()

	info := e.proc.Info()
	if err := e.proc.Kill(); err != nil {
		r.logger.Error("kill failed", "name", e.name, "instance_id", info.ID, "error", err)
		r.recordExit(ctx, info.ID, runtime.ExitStatus{Code: -1}, store.StopReasonKillFail)
		return runtime.ExitStatus{Code: -1}, &OpError{Op: "kill", Name: e.name, Err: err}
	}

	status, err := e.proc.Wait(ctx)
	if err != nil {
		r.logger.Error("wait failed", "name", e.name, "instance_id", info.ID, "error", err)
		r.recordExit(ctx, info.ID, runtime.ExitStatus{Code: -1}, store.StopReasonWaitFail)
		return status, &OpError{Op: "wait", Name: e.name, Err: err}
	}

	r.count(ctx, r.stopped)
	r.logger.Info("process stopped", "name", e.name, "instance_id", info.ID, "exit_code", status.Code)
	r.recordExit(ctx, info.ID, status, reason)
	return status, nil
}

// StopAll stops every registered process. Failures are collected per name
// into an *AggregateError; the table is emptied either way.
func (r *Registry) StopAll(ctx context.Context) error {
	ctx, span := r.tracer.Start(ctx, "supervisor.stop_all")
	defer span.End()

	r.mu.Lock()
	victims := make([]*entry, 0, len(r.entries))
	for name, e := range r.entries {
		if e.proc == nil {
			continue // still spawning; Add owns it
		}
		victims = append(victims, e)
		delete(r.entries, name)
	}
	r.mu.Unlock()

	span.SetAttributes(attribute.Int("process.count", len(victims)))

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs = make(map[string]error)
	)
	for _, e := range victims {
		wg.Add(1)
		go func(e *entry) {
			defer wg.Done()
			if _, err := r.teardown(ctx, e, store.StopReasonStopAll); err != nil {
				mu.Lock()
				errs[e.name] = err
				mu.Unlock()
			}
		}(e)
	}
	wg.Wait()

	if len(errs) > 0 {
		err := &AggregateError{Errors: errs}
		span.RecordError(err)
		span.SetStatus(codes.Error, "stop_all failed")
		return err
	}
	return nil
}

// List returns the registered names in sorted order.
func (r *Registry) List() []string {
	r.mu.Lock()
	names := make([]string, 0, len(r.entries))
	for name, e := range r.entries {
		if e.proc != nil {
			names = append(names, name)
		}
	}
	r.mu.Unlock()

	sort.Strings(names)
	return names
}

// Len returns the number of registered processes.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, e := range r.entries {
		if e.proc != nil {
			n++
		}
	}
	return n
}

func (r *Registry) recordStart(ctx context.Context, name string, spec Spec, info runtime.Info) {
	if r.recorder == nil {
		return
	}
	run := &store.ProcessRun{
		ID:         info.ID,
		Name:       name,
		Runtime:    info.Runtime,
		Executable: spec.Executable,
		Args:       spec.argv(),
		PID:        info.PID,
		StartedAt:  info.StartedAt,
	}
	if err := r.recorder.RecordStart(context.WithoutCancel(ctx), run); err != nil {
		r.logger.Warn("failed to record run start", "name", name, "error", err)
	}
}

func (r *Registry) recordExit(ctx context.Context, id string, status runtime.ExitStatus, reason store.StopReason) {
	if r.recorder == nil {
		return
	}
	exit := store.RunExit{StoppedAt: time.Now().UTC(), ExitCode: status.Code, Reason: reason}
	if err := r.recorder.RecordExit(context.WithoutCancel(ctx), id, exit); err != nil && !errors.Is(err, context.Canceled) {
		r.logger.Warn("failed to record run exit", "instance_id", id, "error", err)
	}
}
