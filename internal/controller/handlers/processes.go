package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"procplane/internal/logger"
	"procplane/internal/supervisor"
	"procplane/pkg/api"
)

// AddProcess handles POST /processes.
func (h *Handlers) AddProcess(w http.ResponseWriter, r *http.Request) {
	var req api.AddProcessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.httpError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Name == "" {
		h.httpError(w, "Name is required", http.StatusBadRequest)
		return
	}

	spec := supervisor.Spec{
		Executable: req.Executable,
		Script:     req.Script,
		Args:       req.Args,
		Env:        req.Env,
		Dir:        req.Dir,
		Image:      req.Image,
	}
	if spec.Executable == "" {
		spec.Executable = h.script.Interpreter
		if spec.Script == "" {
			spec.Script = h.script.Script
		}
	}
	if spec.Executable == "" && spec.Image == "" {
		h.httpError(w, "Executable is required", http.StatusBadRequest)
		return
	}

	info, err := h.registry.Add(r.Context(), req.Name, spec)
	if err != nil {
		h.registryError(w, r, err)
		return
	}

	logger.FromContext(r.Context(), h.logger).Info("process added", "name", req.Name, "pid", info.PID)
	h.respondJson(w, http.StatusCreated, toProcessResponse(info))
}

// ListProcesses handles GET /processes.
func (h *Handlers) ListProcesses(w http.ResponseWriter, r *http.Request) {
	resp := api.ListProcessesResponse{Processes: []api.ProcessResponse{}}
	for _, name := range h.registry.List() {
		info, err := h.registry.Status(name)
		if err != nil {
			// Stopped between List and Status.
			continue
		}
		resp.Processes = append(resp.Processes, toProcessResponse(info))
	}
	h.respondJson(w, http.StatusOK, resp)
}

// GetProcess handles GET /processes/{name}.
func (h *Handlers) GetProcess(w http.ResponseWriter, r *http.Request) {
	info, err := h.registry.Status(r.PathValue("name"))
	if err != nil {
		h.registryError(w, r, err)
		return
	}
	h.respondJson(w, http.StatusOK, toProcessResponse(info))
}

// StopProcess handles DELETE /processes/{name}.
func (h *Handlers) StopProcess(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	status, err := h.registry.Stop(r.Context(), name)
	if err != nil {
		h.registryError(w, r, err)
		return
	}
	h.respondJson(w, http.StatusOK, api.StopResponse{
		Name:        name,
		ExitCode:    status.Code,
		Description: status.Description,
	})
}

// StopAll handles DELETE /processes.
func (h *Handlers) StopAll(w http.ResponseWriter, r *http.Request) {
	count := len(h.registry.List())

	err := h.registry.StopAll(r.Context())
	if err == nil {
		h.respondJson(w, http.StatusOK, api.StopAllResponse{Stopped: count})
		return
	}

	var agg *supervisor.AggregateError
	if !errors.As(err, &agg) {
		h.registryError(w, r, err)
		return
	}
	resp := api.StopAllResponse{
		Stopped: count - len(agg.Errors),
		Errors:  make(map[string]string, len(agg.Errors)),
	}
	for name, e := range agg.Errors {
		resp.Errors[name] = e.Error()
	}
	h.respondJson(w, http.StatusInternalServerError, resp)
}

// ReadLine handles GET /processes/{name}/line?wait=5s.
// It waits up to wait for one line of stdout.
func (h *Handlers) ReadLine(w http.ResponseWriter, r *http.Request) {
	wait := defaultLineWait
	if s := r.URL.Query().Get("wait"); s != "" {
		d, err := time.ParseDuration(s)
		if err != nil || d < 0 {
			h.httpError(w, "Invalid wait duration", http.StatusBadRequest)
			return
		}
		wait = min(d, maxLineWait)
	}

	ctx, cancel := context.WithTimeout(r.Context(), wait)
	defer cancel()

	line, err := h.registry.Read(ctx, r.PathValue("name"))
	switch {
	case err == nil:
		h.respondJson(w, http.StatusOK, api.ReadLineResponse{Line: line})
	case errors.Is(err, io.EOF):
		h.respondJson(w, http.StatusOK, api.ReadLineResponse{EOF: true})
	case errors.Is(err, context.DeadlineExceeded) && r.Context().Err() == nil:
		h.respondJson(w, http.StatusOK, api.ReadLineResponse{Pending: true})
	default:
		h.registryError(w, r, err)
	}
}

// ReadOutput handles GET /processes/{name}/output.
func (h *Handlers) ReadOutput(w http.ResponseWriter, r *http.Request) {
	out, err := h.registry.ReadAll(r.PathValue("name"))
	if err != nil {
		h.registryError(w, r, err)
		return
	}
	h.respondJson(w, http.StatusOK, toOutputResponse(out))
}

// ReadErrors handles GET /processes/{name}/errors.
func (h *Handlers) ReadErrors(w http.ResponseWriter, r *http.Request) {
	out, err := h.registry.ReadErrors(r.PathValue("name"))
	if err != nil {
		h.registryError(w, r, err)
		return
	}
	h.respondJson(w, http.StatusOK, toOutputResponse(out))
}

func toOutputResponse(out supervisor.Output) api.OutputResponse {
	lines := out.Lines
	if lines == nil {
		lines = []string{}
	}
	return api.OutputResponse{Lines: lines, EOF: out.EOF}
}

// SendInput handles POST /processes/{name}/input.
func (h *Handlers) SendInput(w http.ResponseWriter, r *http.Request) {
	var req api.SendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.httpError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.registry.Send(r.PathValue("name"), req.Text); err != nil {
		h.registryError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CloseInput handles POST /processes/{name}/input/close.
func (h *Handlers) CloseInput(w http.ResponseWriter, r *http.Request) {
	if err := h.registry.CloseInput(r.PathValue("name")); err != nil {
		h.registryError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// IsExited handles GET /processes/{name}/exited.
// An unknown name reports exited and not registered.
func (h *Handlers) IsExited(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	h.respondJson(w, http.StatusOK, api.ExitedResponse{
		Name:       name,
		Exited:     h.registry.IsExited(name),
		Registered: h.registry.Has(name),
	})
}

// ListRuns handles GET /processes/{name}/runs?limit=20.
func (h *Handlers) ListRuns(w http.ResponseWriter, r *http.Request) {
	if h.runs == nil {
		h.httpError(w, "Run history is not enabled", http.StatusNotImplemented)
		return
	}

	limit := 20
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			h.httpError(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		limit = min(n, 500)
	}

	runs, err := h.runs.ListRuns(r.Context(), r.PathValue("name"), limit)
	if err != nil {
		logger.FromContext(r.Context(), h.logger).Error("failed to list runs", "error", err)
		h.httpError(w, "Failed to list runs", http.StatusInternalServerError)
		return
	}

	resp := api.RunHistoryResponse{Runs: make([]api.RunHistoryEntry, 0, len(runs))}
	for _, run := range runs {
		resp.Runs = append(resp.Runs, api.RunHistoryEntry{
			ID:         run.ID,
			Name:       run.Name,
			Runtime:    run.Runtime,
			Executable: run.Executable,
			Args:       run.Args,
			PID:        run.PID,
			StartedAt:  run.StartedAt,
			StoppedAt:  run.StoppedAt,
			ExitCode:   run.ExitCode,
			StopReason: run.StopReason,
		})
	}
	h.respondJson(w, http.StatusOK, resp)
}
