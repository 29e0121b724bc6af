package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ExecRuntime implements the Runtime interface using raw OS processes.
type ExecRuntime struct {
	// WorkDir, when set, is the base directory; each process runs in
	// WorkDir/<name>, created on demand. Empty means inherit the cwd.
	WorkDir string

	// LineBuffer bounds the lines buffered per output stream.
	LineBuffer int
}

// NewExecRuntime creates a new process-based runtime.
func NewExecRuntime(workDir string) *ExecRuntime {
	return &ExecRuntime{
		WorkDir:    workDir,
		LineBuffer: DefaultLineBuffer,
	}
}

// Name implements Runtime.
func (e *ExecRuntime) Name() string { return "exec" }

// Start implements Runtime.Start using os/exec.
//
// The output pipes are created with os.Pipe rather than Cmd.StdoutPipe so
// reaping the process never closes them under a reader that is still
// draining buffered output.
func (e *ExecRuntime) Start(ctx context.Context, opts StartOptions) (*Process, error) {
	if opts.Executable == "" {
		return nil, &SpawnError{Err: errors.New("command is required")}
	}
	if opts.Image != "" {
		slog.Debug("exec runtime ignores image", "image", opts.Image, "name", opts.Name)
	}

	path, err := exec.LookPath(opts.Executable)
	if err != nil {
		return nil, &SpawnError{Executable: opts.Executable, Err: err}
	}

	dir, err := e.workDir(opts)
	if err != nil {
		return nil, &SpawnError{Executable: opts.Executable, Err: err}
	}

	// Not exec.CommandContext: a process outlives the request that spawned it.
	cmd := exec.Command(path, opts.Args...)
	cmd.Dir = dir
	cmd.Env = mergeEnv(os.Environ(), opts.Env)

	stdinR, stdinW, err := os.Pipe()
	if err != nil {
		return nil, &SpawnError{Executable: opts.Executable, Err: fmt.Errorf("stdin pipe: %w", err)}
	}
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		closeAll(stdinR, stdinW)
		return nil, &SpawnError{Executable: opts.Executable, Err: fmt.Errorf("stdout pipe: %w", err)}
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		closeAll(stdinR, stdinW, stdoutR, stdoutW)
		return nil, &SpawnError{Executable: opts.Executable, Err: fmt.Errorf("stderr pipe: %w", err)}
	}

	cmd.Stdin = stdinR
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	if err := cmd.Start(); err != nil {
		closeAll(stdinR, stdinW, stdoutR, stdoutW, stderrR, stderrW)
		return nil, &SpawnError{Executable: opts.Executable, Err: err}
	}

	// The child holds its own copies now.
	closeAll(stdinR, stdoutW, stderrW)

	info := Info{
		ID:        uuid.NewString(),
		Name:      opts.Name,
		PID:       cmd.Process.Pid,
		Runtime:   e.Name(),
		StartedAt: time.Now().UTC(),
	}
	pipes := Pipes{Stdin: stdinW, Stdout: stdoutR, Stderr: stderrR}

	return NewProcess(info, pipes, &execBackend{cmd: cmd}, e.LineBuffer), nil
}

func (e *ExecRuntime) workDir(opts StartOptions) (string, error) {
	if opts.Dir != "" {
		return opts.Dir, nil
	}
	if e.WorkDir == "" {
		return "", nil
	}
	dir := e.WorkDir
	if opts.Name != "" {
		dir = filepath.Join(e.WorkDir, sanitizeName(opts.Name))
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create work dir: %w", err)
	}
	return dir, nil
}

// execBackend adapts an exec.Cmd to Backend.
type execBackend struct {
	cmd *exec.Cmd
}

func (b *execBackend) Wait() (ExitStatus, error) {
	err := b.cmd.Wait()

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return statusFromState(exitErr.ProcessState), nil
	}
	if err != nil {
		return ExitStatus{Code: -1}, err
	}
	return statusFromState(b.cmd.ProcessState), nil
}

func (b *execBackend) Kill() error {
	return b.cmd.Process.Kill()
}

func statusFromState(ps *os.ProcessState) ExitStatus {
	if ps == nil {
		return ExitStatus{Code: -1}
	}
	return ExitStatus{Code: ps.ExitCode(), Description: ps.String()}
}

func mergeEnv(base []string, extra map[string]string) []string {
	if len(extra) == 0 {
		return base
	}
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	env := make([]string, 0, len(base)+len(extra))
	for _, kv := range base {
		k, _, _ := strings.Cut(kv, "=")
		if _, overridden := extra[k]; !overridden {
			env = append(env, kv)
		}
	}
	for _, k := range keys {
		env = append(env, k+"="+extra[k])
	}
	return env
}

func sanitizeName(name string) string {
	if name == "" || name == "." || name == ".." {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		}
		return '_'
	}, name)
}

func closeAll(files ...*os.File) {
	for _, f := range files {
		f.Close()
	}
}
