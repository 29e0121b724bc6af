package cmd

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"procplane/pkg/api"
)

func TestAddCommand_Success(t *testing.T) {
	var got api.AddProcessRequest
	output := runCLI(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/processes" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-token" {
			t.Errorf("expected Bearer token, got: %s", r.Header.Get("Authorization"))
		}
		json.NewDecoder(r.Body).Decode(&got)

		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(api.ProcessResponse{Name: got.Name, PID: 4242, InstanceID: "inst-1"})
	}, "add", "pinger", "--exe", "ping", "--env", "MODE=fast", "--", "-c", "5", "127.0.0.1")

	if got.Name != "pinger" || got.Executable != "ping" {
		t.Errorf("unexpected request body %+v", got)
	}
	if strings.Join(got.Args, " ") != "-c 5 127.0.0.1" {
		t.Errorf("expected args after --, got %v", got.Args)
	}
	if got.Env["MODE"] != "fast" {
		t.Errorf("expected env MODE=fast, got %v", got.Env)
	}
	if !strings.Contains(output, "Process started") || !strings.Contains(output, "4242") {
		t.Errorf("expected success message, got: %s", output)
	}

	addCmd.Flags().Set("exe", "")
	addCmd.Flags().Set("env", "")
}

func TestAddCommand_Conflict(t *testing.T) {
	output := runCLI(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(api.ErrorResponse{Error: "Process already exists", Code: "409"})
	}, "add", "dup", "--exe", "cat")

	if !strings.Contains(output, "Error (409): Process already exists") {
		t.Errorf("expected conflict error, got: %s", output)
	}
	addCmd.Flags().Set("exe", "")
}

func TestParseEnv(t *testing.T) {
	env, err := parseEnv([]string{"A=1", "B=x=y", "C="})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if env["A"] != "1" || env["B"] != "x=y" || env["C"] != "" {
		t.Errorf("unexpected env %v", env)
	}

	if _, err := parseEnv([]string{"novalue"}); err == nil {
		t.Error("expected error for a pair without =")
	}
}

func TestListCommand(t *testing.T) {
	code := 0
	output := runCLI(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(api.ListProcessesResponse{Processes: []api.ProcessResponse{
			{Name: "alpha", PID: 10, Runtime: "exec", StartedAt: time.Now()},
			{Name: "beta", PID: 11, Runtime: "exec", StartedAt: time.Now(), Exited: true, ExitCode: &code},
		}})
	}, "list")

	if !strings.Contains(output, "alpha") || !strings.Contains(output, "RUNNING") {
		t.Errorf("expected running alpha, got: %s", output)
	}
	if !strings.Contains(output, "beta") || !strings.Contains(output, "EXITED") {
		t.Errorf("expected exited beta, got: %s", output)
	}
}

func TestStatusCommand_NotFound(t *testing.T) {
	output := runCLI(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/processes/ghost" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(api.ErrorResponse{Error: "Process not found", Code: "404"})
	}, "status", "ghost")

	if !strings.Contains(output, "Error (404)") {
		t.Errorf("expected not found error, got: %s", output)
	}
}

func TestStatusCommand_Exited(t *testing.T) {
	code := 3
	output := runCLI(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(api.ProcessResponse{
			Name: "job", PID: 99, Runtime: "exec", StartedAt: time.Now().Add(-time.Minute),
			Exited: true, ExitCode: &code, ExitDescription: "exit status 3",
		})
	}, "status", "job")

	for _, want := range []string{"job", "99", "FAILED", "exit status 3"} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %q in output, got: %s", want, output)
		}
	}
}

func TestReadCommand(t *testing.T) {
	output := runCLI(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/processes/calc/line" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.URL.Query().Get("wait") != "2s" {
			t.Errorf("expected wait=2s, got %s", r.URL.Query().Get("wait"))
		}
		json.NewEncoder(w).Encode(api.ReadLineResponse{Line: "4"})
	}, "read", "calc", "--wait", "2s")

	if strings.TrimSpace(output) != "4" {
		t.Errorf("expected the line, got: %q", output)
	}
	readCmd.Flags().Set("wait", "5s")
}

func TestReadCommand_Follow(t *testing.T) {
	responses := []api.ReadLineResponse{{Line: "one"}, {Pending: true}, {Line: "two"}, {EOF: true}}
	calls := 0
	output := runCLI(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(responses[calls])
		calls++
	}, "read", "pinger", "--follow")

	if output != "one\ntwo\n" {
		t.Errorf("expected both lines, got: %q", output)
	}
	if calls != len(responses) {
		t.Errorf("expected %d polls, got %d", len(responses), calls)
	}
	readCmd.Flags().Set("follow", "false")
}

func TestOutputCommand(t *testing.T) {
	output := runCLI(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/processes/p/output" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(api.OutputResponse{Lines: []string{"a", "b"}, EOF: true})
	}, "output", "p")

	if !strings.HasPrefix(output, "a\nb\n") || !strings.Contains(output, "end of output") {
		t.Errorf("unexpected output: %q", output)
	}
}

func TestErrorsCommand(t *testing.T) {
	output := runCLI(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/processes/p/errors" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(api.OutputResponse{Lines: []string{"warning: x"}})
	}, "errors", "p")

	if output != "warning: x\n" {
		t.Errorf("unexpected output: %q", output)
	}
}

func TestSendCommand(t *testing.T) {
	var got api.SendRequest
	output := runCLI(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/processes/calc/input" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusNoContent)
	}, "send", "calc", "2", "+", "2")

	if got.Text != "2 + 2" {
		t.Errorf("expected joined text, got %q", got.Text)
	}
	if !strings.Contains(output, "Sent 6 bytes") {
		t.Errorf("unexpected output: %s", output)
	}
}

func TestCloseInputCommand(t *testing.T) {
	output := runCLI(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/processes/calc/input/close" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		w.WriteHeader(http.StatusNoContent)
	}, "close-input", "calc")

	if !strings.Contains(output, "Input closed") {
		t.Errorf("unexpected output: %s", output)
	}
}

func TestExitedCommand(t *testing.T) {
	output := runCLI(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(api.ExitedResponse{Name: "p", Exited: true, Registered: true})
	}, "exited", "p")

	if strings.TrimSpace(output) != "exited" {
		t.Errorf("unexpected output: %q", output)
	}
}

func TestExitedCommand_NotRegistered(t *testing.T) {
	output := runCLI(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(api.ExitedResponse{Name: "ghost", Exited: true})
	}, "exited", "ghost")

	if strings.TrimSpace(output) != "exited (not registered)" {
		t.Errorf("unexpected output: %q", output)
	}
}

func TestStopCommand(t *testing.T) {
	output := runCLI(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete || r.URL.Path != "/processes/pinger" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		json.NewEncoder(w).Encode(api.StopResponse{Name: "pinger", ExitCode: -1, Description: "signal: killed"})
	}, "stop", "pinger")

	if !strings.Contains(output, "Stopped pinger") || !strings.Contains(output, "signal: killed") {
		t.Errorf("unexpected output: %s", output)
	}
}

func TestStopAllCommand_PartialFailure(t *testing.T) {
	output := runCLI(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(api.StopAllResponse{Stopped: 2, Errors: map[string]string{"b": "kill \"b\": denied"}})
	}, "stop-all")

	if !strings.Contains(output, "Stopped 2 process(es)") || !strings.Contains(output, "denied") {
		t.Errorf("unexpected output: %s", output)
	}
}

func TestRunsCommand(t *testing.T) {
	code, reason := 0, "stopped"
	stopped := time.Now()
	output := runCLI(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("limit") != "5" {
			t.Errorf("expected limit=5, got %s", r.URL.Query().Get("limit"))
		}
		json.NewEncoder(w).Encode(api.RunHistoryResponse{Runs: []api.RunHistoryEntry{{
			ID: "run-1", Name: "p", PID: 7, StartedAt: stopped.Add(-2 * time.Second),
			StoppedAt: &stopped, ExitCode: &code, StopReason: &reason,
		}}})
	}, "runs", "p", "--limit", "5")

	if !strings.Contains(output, "run-1") || !strings.Contains(output, "stopped") {
		t.Errorf("unexpected output: %s", output)
	}
	runsCmd.Flags().Set("limit", "20")
}

func TestRunsCommand_NotEnabled(t *testing.T) {
	output := runCLI(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotImplemented)
		json.NewEncoder(w).Encode(api.ErrorResponse{Error: "Run history is not enabled", Code: "501"})
	}, "runs", "p")

	if !strings.Contains(output, "Run history is not enabled") {
		t.Errorf("unexpected output: %s", output)
	}
}

func TestExecCommand(t *testing.T) {
	var got api.RunRequest
	output := runCLI(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		json.NewEncoder(w).Encode(api.RunResponse{Stdout: "Linux\n", Stderr: "oops\n", ExitCode: 1})
	}, "exec", "--", "uname", "-s")

	if got.Executable != "uname" || len(got.Args) != 1 || got.Args[0] != "-s" {
		t.Errorf("unexpected request %+v", got)
	}
	if !strings.Contains(output, "Linux") || !strings.Contains(output, "oops") || !strings.Contains(output, "exit code 1") {
		t.Errorf("unexpected output: %s", output)
	}
}

func TestClient_OmitsAuthWithoutToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "" {
			t.Errorf("expected no Authorization header, got %q", r.Header.Get("Authorization"))
		}
		json.NewEncoder(w).Encode(api.ExitedResponse{Exited: false})
	}))
	defer server.Close()

	resp, err := NewProcessClient(server.URL+"/", "").IsExited("p")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Exited {
		t.Error("expected running")
	}
}
