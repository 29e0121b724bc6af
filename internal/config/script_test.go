package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadScript_CreatesMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.json")

	s := LoadScript(path)
	if !s.IsZero() {
		t.Errorf("expected empty script, got %+v", s)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("expected file to be created: %v", err)
	}
	if string(data) != "{}" {
		t.Errorf("expected '{}', got %q", data)
	}
}

func TestLoadScript_ReadsFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	content := `{"interpreter": "/usr/bin/python3", "script": "/opt/app/main.py"}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write: %v", err)
	}

	s := LoadScript(path)
	if s.Interpreter != "/usr/bin/python3" {
		t.Errorf("expected interpreter, got %s", s.Interpreter)
	}
	if s.Script != "/opt/app/main.py" {
		t.Errorf("expected script, got %s", s.Script)
	}
}

func TestLoadScript_Malformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("failed to write: %v", err)
	}

	if s := LoadScript(path); !s.IsZero() {
		t.Errorf("expected empty script for malformed file, got %+v", s)
	}
}

func TestLoadScript_EmptyPath(t *testing.T) {
	if s := LoadScript(""); !s.IsZero() {
		t.Errorf("expected empty script, got %+v", s)
	}
}

func TestCreateEmpty_KeepsExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"script": "x"}`), 0o644); err != nil {
		t.Fatalf("failed to write: %v", err)
	}

	if err := createEmpty(path); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	data, _ := os.ReadFile(path)
	if string(data) != `{"script": "x"}` {
		t.Errorf("existing file was overwritten: %q", data)
	}
}
