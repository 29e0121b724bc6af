package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// Script names the default interpreter and script for processes added
// without an explicit executable.
type Script struct {
	Interpreter string `json:"interpreter"`
	Script      string `json:"script"`
}

// IsZero reports whether neither field is set.
func (s Script) IsZero() bool {
	return s.Interpreter == "" && s.Script == ""
}

// LoadScript reads the script file at path, creating it with "{}" when it
// does not exist. A missing, unreadable or malformed file yields an empty
// Script; it is never fatal.
func LoadScript(path string) Script {
	if path == "" {
		return Script{}
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		if err := createEmpty(path); err != nil {
			slog.Warn("failed to create script config", "path", path, "error", err)
		}
		return Script{}
	}
	if err != nil {
		slog.Warn("failed to read script config", "path", path, "error", err)
		return Script{}
	}

	var s Script
	if err := json.Unmarshal(data, &s); err != nil {
		slog.Warn("malformed script config, using empty", "path", path, "error", err)
		return Script{}
	}
	return s
}

// createEmpty writes "{}" to path unless another process got there first.
// Concurrent supervisors serialize on a sibling lock file.
func createEmpty(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	lock := flock.New(path + ".lock")
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("lock %s: %w", lock.Path(), err)
	}
	defer lock.Unlock()

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if errors.Is(err, fs.ErrExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if _, err := f.WriteString("{}"); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
