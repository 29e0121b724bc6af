package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"procplane/internal/runtime"
	"procplane/pkg/api"
)

// Run handles POST /run: execute a command to completion and return its
// output. A non-zero exit is reported in the body, not as an HTTP error.
func (h *Handlers) Run(w http.ResponseWriter, r *http.Request) {
	var req api.RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.httpError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Executable == "" && req.Image == "" {
		h.httpError(w, "Executable is required", http.StatusBadRequest)
		return
	}

	stdout, err := runtime.Run(r.Context(), h.runtime, runtime.StartOptions{
		Name:       "run",
		Executable: req.Executable,
		Args:       req.Args,
		Env:        req.Env,
		Dir:        req.Dir,
		Image:      req.Image,
	})

	var exitErr *runtime.ExitError
	switch {
	case err == nil:
		h.respondJson(w, http.StatusOK, api.RunResponse{Stdout: stdout})
	case errors.As(err, &exitErr):
		h.respondJson(w, http.StatusOK, api.RunResponse{
			Stdout:   stdout,
			Stderr:   exitErr.Stderr,
			ExitCode: exitErr.Status.Code,
		})
	default:
		h.registryError(w, r, err)
	}
}
