package runtime

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"sync"
	"syscall"
)

// DefaultLineBuffer is the number of complete lines buffered per stream
// before the pump stops reading from the pipe.
const DefaultLineBuffer = 4096

// MaxLineLength caps a single buffered line. Longer output without a newline
// is delivered as consecutive lines of at most this many bytes.
const MaxLineLength = 64 * 1024

// lineStream pumps one output pipe into a bounded queue of lines.
// A single goroutine reads the pipe; consumers receive from lines.
type lineStream struct {
	src   io.Reader
	lines chan string
	quit  chan struct{}
	err   error // unexpected read error, valid once lines is closed

	closeOnce sync.Once
}

func newLineStream(src io.Reader, capacity int) *lineStream {
	if capacity <= 0 {
		capacity = DefaultLineBuffer
	}
	s := &lineStream{
		src:   src,
		lines: make(chan string, capacity),
		quit:  make(chan struct{}),
	}
	go s.pump()
	return s
}

func (s *lineStream) pump() {
	defer close(s.lines)

	br := bufio.NewReaderSize(s.src, MaxLineLength)
	for {
		chunk, err := br.ReadSlice('\n')
		if len(chunk) > 0 {
			line := string(chunk)
			if err != bufio.ErrBufferFull {
				line = trimEOL(line)
			}
			select {
			case s.lines <- line:
			case <-s.quit:
				return
			}
		}
		if err == bufio.ErrBufferFull {
			continue
		}
		if err != nil {
			if !IsEndOfStream(err) {
				s.err = err
			}
			return
		}
	}
}

// readLine blocks until a line is available, the stream ends or ctx is done.
func (s *lineStream) readLine(ctx context.Context) (string, error) {
	select {
	case line, ok := <-s.lines:
		if !ok {
			return "", s.endErr()
		}
		return line, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// tryReadLine returns a buffered line without blocking.
func (s *lineStream) tryReadLine() (string, bool, error) {
	select {
	case line, ok := <-s.lines:
		if !ok {
			return "", false, s.endErr()
		}
		return line, true, nil
	default:
		return "", false, nil
	}
}

// drain returns every line buffered right now and whether the stream ended.
func (s *lineStream) drain() ([]string, bool, error) {
	var out []string
	for {
		line, ok, err := s.tryReadLine()
		if err == io.EOF {
			return out, true, nil
		}
		if err != nil {
			return out, true, err
		}
		if !ok {
			return out, false, nil
		}
		out = append(out, line)
	}
}

// readAll blocks until the stream ends and returns everything left.
func (s *lineStream) readAll(ctx context.Context) (string, error) {
	var b strings.Builder
	for {
		line, err := s.readLine(ctx)
		if err == io.EOF {
			return b.String(), nil
		}
		if err != nil {
			return b.String(), err
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
}

func (s *lineStream) endErr() error {
	if s.err != nil {
		return s.err
	}
	return io.EOF
}

// close stops the pump and closes the underlying reader when it is closable.
func (s *lineStream) close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.quit)
		if c, ok := s.src.(io.Closer); ok {
			err = c.Close()
		}
	})
	return err
}

func trimEOL(line string) string {
	line = strings.TrimSuffix(line, "\n")
	return strings.TrimSuffix(line, "\r")
}

// IsEndOfStream reports whether err means the peer is gone rather than an
// I/O failure: end of file, a closed pipe, or a disconnected input.
func IsEndOfStream(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, os.ErrClosed) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, ErrNotConnected)
}
