// Package handlers contains HTTP handlers for the supervisor API.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"procplane/internal/config"
	"procplane/internal/logger"
	"procplane/internal/runtime"
	"procplane/internal/store"
	"procplane/internal/supervisor"
	"procplane/pkg/api"
)

// Registry is the process table the handlers operate on.
type Registry interface {
	Add(ctx context.Context, name string, spec supervisor.Spec) (supervisor.Info, error)
	Read(ctx context.Context, name string) (string, error)
	ReadAll(name string) (supervisor.Output, error)
	ReadErrors(name string) (supervisor.Output, error)
	Send(name, text string) error
	CloseInput(name string) error
	IsExited(name string) bool
	Has(name string) bool
	Status(name string) (supervisor.Info, error)
	Stop(ctx context.Context, name string) (runtime.ExitStatus, error)
	StopAll(ctx context.Context) error
	List() []string
}

// Deps are the handler dependencies. Runs and Ping are optional.
type Deps struct {
	Registry Registry
	Runtime  runtime.Runtime
	Runs     store.RunStore
	Ping     func(ctx context.Context) error
	Script   config.Script
	Logger   *slog.Logger
}

// Handlers holds all HTTP handlers and their dependencies.
type Handlers struct {
	registry Registry
	runtime  runtime.Runtime
	runs     store.RunStore
	ping     func(ctx context.Context) error
	script   config.Script
	logger   *slog.Logger
}

const (
	defaultLineWait = 5 * time.Second
	maxLineWait     = 60 * time.Second
)

// New creates a new Handlers instance.
func New(d Deps) *Handlers {
	l := d.Logger
	if l == nil {
		l = slog.Default()
	}
	return &Handlers{
		registry: d.Registry,
		runtime:  d.Runtime,
		runs:     d.Runs,
		ping:     d.Ping,
		script:   d.Script,
		logger:   l,
	}
}

// A helper function to write standard JSON responses.
func (h *Handlers) respondJson(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}

// A helper function to return consistent error messages.
func (h *Handlers) httpError(w http.ResponseWriter, message string, code int) {
	h.respondJson(w, code, api.ErrorResponse{
		Error: message,
		Code:  strconv.Itoa(code),
	})
}

// registryError maps registry and runtime errors to status codes.
func (h *Handlers) registryError(w http.ResponseWriter, r *http.Request, err error) {
	var spawnErr *runtime.SpawnError
	switch {
	case errors.Is(err, supervisor.ErrNotFound):
		h.httpError(w, "Process not found", http.StatusNotFound)
	case errors.Is(err, supervisor.ErrAlreadyExists):
		h.httpError(w, "Process already exists", http.StatusConflict)
	case errors.As(err, &spawnErr):
		h.respondJson(w, http.StatusUnprocessableEntity, api.ErrorResponse{
			Error:   "Failed to spawn process",
			Code:    strconv.Itoa(http.StatusUnprocessableEntity),
			Details: spawnErr.Err.Error(),
		})
	case errors.Is(err, runtime.ErrNotConnected):
		h.httpError(w, "Process input is closed", http.StatusConflict)
	default:
		logger.FromContext(r.Context(), h.logger).Error("request failed", "path", r.URL.Path, "error", err)
		h.httpError(w, err.Error(), http.StatusInternalServerError)
	}
}

func toProcessResponse(info supervisor.Info) api.ProcessResponse {
	resp := api.ProcessResponse{
		Name:       info.Name,
		InstanceID: info.InstanceID,
		PID:        info.PID,
		Runtime:    info.Runtime,
		StartedAt:  info.StartedAt,
		Exited:     info.Exited,
	}
	if info.ExitStatus != nil {
		code := info.ExitStatus.Code
		resp.ExitCode = &code
		resp.ExitDescription = info.ExitStatus.Description
	}
	return resp
}

// Register mounts every route on mux. protect wraps the process routes
// (auth, rate limiting); probes stay open.
func (h *Handlers) Register(mux *http.ServeMux, protect func(http.Handler) http.Handler) {
	if protect == nil {
		protect = func(next http.Handler) http.Handler { return next }
	}
	handle := func(pattern string, fn http.HandlerFunc) {
		mux.Handle(pattern, protect(fn))
	}

	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)

	handle("POST /processes", h.AddProcess)
	handle("GET /processes", h.ListProcesses)
	handle("DELETE /processes", h.StopAll)
	handle("GET /processes/{name}", h.GetProcess)
	handle("DELETE /processes/{name}", h.StopProcess)
	handle("GET /processes/{name}/line", h.ReadLine)
	handle("GET /processes/{name}/output", h.ReadOutput)
	handle("GET /processes/{name}/errors", h.ReadErrors)
	handle("POST /processes/{name}/input", h.SendInput)
	handle("POST /processes/{name}/input/close", h.CloseInput)
	handle("GET /processes/{name}/exited", h.IsExited)
	handle("GET /processes/{name}/runs", h.ListRuns)
	handle("POST /run", h.Run)
}
