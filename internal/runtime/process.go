package runtime

import (
	"context"
	"errors"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Info identifies a spawned process.
type Info struct {
	ID        string    `json:"instance_id"`
	Name      string    `json:"name"`
	PID       int       `json:"pid,omitempty"`
	Runtime   string    `json:"runtime"`
	StartedAt time.Time `json:"started_at"`
}

// Pipes are the parent-side ends of a process's standard streams.
// Stdout and Stderr are closed on release when they implement io.Closer.
type Pipes struct {
	Stdin  io.WriteCloser
	Stdout io.Reader
	Stderr io.Reader
}

// Process owns one spawned child: its backend handle and its pipe ends.
//
// Output is pumped into bounded line buffers, so reads never hold the OS pipe
// directly. Exit is observed by a reaper goroutine that calls Backend.Wait
// exactly once; a killed process is always reaped even if nobody calls Wait.
type Process struct {
	info    Info
	backend Backend

	stdinMu     sync.Mutex
	stdin       io.WriteCloser
	inputClosed atomic.Bool

	stdout *lineStream
	stderr *lineStream

	exited  chan struct{}
	status  ExitStatus
	waitErr error

	released  atomic.Bool
	closeOnce sync.Once
}

// NewProcess assembles a Process from a started backend and its pipes.
// Runtimes call this right after a successful spawn; tests use it to build
// processes around fake backends.
func NewProcess(info Info, pipes Pipes, backend Backend, lineBuffer int) *Process {
	if info.ID == "" {
		info.ID = uuid.NewString()
	}
	if info.StartedAt.IsZero() {
		info.StartedAt = time.Now().UTC()
	}

	p := &Process{
		info:    info,
		backend: backend,
		stdin:   pipes.Stdin,
		exited:  make(chan struct{}),
	}
	if p.stdin == nil {
		p.inputClosed.Store(true)
	}
	p.stdout = newLineStream(orEmpty(pipes.Stdout), lineBuffer)
	p.stderr = newLineStream(orEmpty(pipes.Stderr), lineBuffer)

	go p.reap()
	return p
}

func orEmpty(r io.Reader) io.Reader {
	if r == nil {
		return eofReader{}
	}
	return r
}

type eofReader struct{}

func (eofReader) Read([]byte) (int, error) { return 0, io.EOF }

func (p *Process) reap() {
	p.status, p.waitErr = p.backend.Wait()
	close(p.exited)
}

// Info returns the identity of the process.
func (p *Process) Info() Info {
	return p.info
}

// Send writes text followed by a newline to the process input in a single
// write. It blocks while the pipe buffer is full. Writing to a process whose
// reader is gone (closed pipe, EPIPE after exit) returns ErrNotConnected.
func (p *Process) Send(text string) error {
	p.stdinMu.Lock()
	defer p.stdinMu.Unlock()

	if p.inputClosed.Load() || p.released.Load() {
		return ErrNotConnected
	}
	if _, err := io.WriteString(p.stdin, text+"\n"); err != nil {
		if IsEndOfStream(err) {
			return ErrNotConnected
		}
		return err
	}
	return nil
}

// CloseInput closes the input pipe. Later sends fail with ErrNotConnected.
func (p *Process) CloseInput() error {
	if !p.inputClosed.CompareAndSwap(false, true) {
		return ErrNotConnected
	}
	return p.stdin.Close()
}

// ReadLine returns the next stdout line, or io.EOF once the stream has ended.
func (p *Process) ReadLine(ctx context.Context) (string, error) {
	return p.stdout.readLine(ctx)
}

// TryReadLine returns a buffered stdout line without blocking. ok is false
// when no complete line is buffered yet.
func (p *Process) TryReadLine() (line string, ok bool, err error) {
	return p.stdout.tryReadLine()
}

// Drain returns all stdout lines buffered right now. eof reports that the
// stream has ended and nothing more will arrive.
func (p *Process) Drain() (lines []string, eof bool, err error) {
	return p.stdout.drain()
}

// DrainErrors is Drain for stderr.
func (p *Process) DrainErrors() (lines []string, eof bool, err error) {
	return p.stderr.drain()
}

// ReadOutput blocks until stdout is closed and returns the remaining text.
// It stalls for as long as the process keeps its output open.
func (p *Process) ReadOutput(ctx context.Context) (string, error) {
	return p.stdout.readAll(ctx)
}

// ReadErrorOutput is ReadOutput for stderr.
func (p *Process) ReadErrorOutput(ctx context.Context) (string, error) {
	return p.stderr.readAll(ctx)
}

// Wait blocks until the process exits or ctx is done.
func (p *Process) Wait(ctx context.Context) (ExitStatus, error) {
	if p.released.Load() {
		return ExitStatus{Code: -1}, ErrProcessNotFound
	}
	select {
	case <-p.exited:
		return p.status, p.waitErr
	case <-ctx.Done():
		return ExitStatus{Code: -1}, ctx.Err()
	}
}

// TryWait polls the process state without blocking.
func (p *Process) TryWait() (status ExitStatus, exited bool, err error) {
	if p.released.Load() {
		return ExitStatus{Code: -1}, false, ErrProcessNotFound
	}
	select {
	case <-p.exited:
		return p.status, true, p.waitErr
	default:
		return ExitStatus{}, false, nil
	}
}

// Kill requests immediate termination. Killing an exited process succeeds.
func (p *Process) Kill() error {
	select {
	case <-p.exited:
		return nil
	default:
	}
	if err := p.backend.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}

// Close releases the handle: a still-running process is killed, pipes are
// closed and backend resources are freed. Close does not wait for exit.
func (p *Process) Close() error {
	var errs []error
	p.closeOnce.Do(func() {
		p.released.Store(true)
		if err := p.Kill(); err != nil {
			errs = append(errs, err)
		}
		if p.inputClosed.CompareAndSwap(false, true) {
			if err := p.stdin.Close(); err != nil && !IsEndOfStream(err) {
				errs = append(errs, err)
			}
		}
		if err := p.stdout.close(); err != nil && !IsEndOfStream(err) {
			errs = append(errs, err)
		}
		if err := p.stderr.close(); err != nil && !IsEndOfStream(err) {
			errs = append(errs, err)
		}
		if c, ok := p.backend.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	})
	return errors.Join(errs...)
}
