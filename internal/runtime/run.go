package runtime

import (
	"context"
)

// Run spawns a process, waits for it to finish and returns its stdout.
// A non-zero exit is reported as an *ExitError carrying the stderr text.
func Run(ctx context.Context, rt Runtime, opts StartOptions) (string, error) {
	p, err := rt.Start(ctx, opts)
	if err != nil {
		return "", err
	}
	defer p.Close()

	if err := p.CloseInput(); err != nil && !IsEndOfStream(err) {
		return "", err
	}

	type result struct {
		text string
		err  error
	}
	stderrCh := make(chan result, 1)
	go func() {
		text, err := p.ReadErrorOutput(ctx)
		stderrCh <- result{text, err}
	}()

	stdout, err := p.ReadOutput(ctx)
	if err != nil {
		return "", err
	}
	stderr := <-stderrCh
	if stderr.err != nil {
		return "", stderr.err
	}

	status, err := p.Wait(ctx)
	if err != nil {
		return "", err
	}
	if !status.Success() {
		return stdout, &ExitError{Status: status, Stderr: stderr.text}
	}
	return stdout, nil
}
