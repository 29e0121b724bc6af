package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"procplane/pkg/api"
)

// ProcessClient handles API calls to the procplane supervisor.
type ProcessClient struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

// NewProcessClient creates a new client with the given base URL and token.
func NewProcessClient(baseURL, token string) *ProcessClient {
	return &ProcessClient{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		HTTPClient: &http.Client{
			// Above the server's longest line wait.
			Timeout: 90 * time.Second,
		},
	}
}

// APIError represents an error response from the API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message)
}

// do sends one request and decodes the response into out when out is not nil.
// Any status outside ok is returned as an *APIError.
func (c *ProcessClient) do(method, path string, body, out interface{}, ok ...int) error {
	var reader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(bodyBytes)
	}

	httpReq, err := http.NewRequest(method, c.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	if c.Token != "" {
		httpReq.Header.Add("Authorization", fmt.Sprintf("Bearer %s", c.Token))
	}
	httpReq.Header.Add("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if !slices.Contains(ok, resp.StatusCode) {
		return &APIError{StatusCode: resp.StatusCode, Message: errorMessage(respBody)}
	}

	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// errorMessage prefers the "error" field of a JSON error body.
func errorMessage(body []byte) string {
	var e api.ErrorResponse
	if err := json.Unmarshal(body, &e); err == nil && e.Error != "" {
		if e.Details != "" {
			return e.Error + ": " + e.Details
		}
		return e.Error
	}
	return strings.TrimSpace(string(body))
}

func processPath(name string, suffix ...string) string {
	p := "/processes/" + url.PathEscape(name)
	for _, s := range suffix {
		p += "/" + s
	}
	return p
}

// AddProcess sends POST /processes to spawn a named process.
func (c *ProcessClient) AddProcess(req api.AddProcessRequest) (*api.ProcessResponse, error) {
	var result api.ProcessResponse
	if err := c.do(http.MethodPost, "/processes", req, &result, http.StatusCreated); err != nil {
		return nil, err
	}
	return &result, nil
}

// ListProcesses sends GET /processes.
func (c *ProcessClient) ListProcesses() ([]api.ProcessResponse, error) {
	var result api.ListProcessesResponse
	if err := c.do(http.MethodGet, "/processes", nil, &result, http.StatusOK); err != nil {
		return nil, err
	}
	return result.Processes, nil
}

// GetProcess sends GET /processes/{name}.
func (c *ProcessClient) GetProcess(name string) (*api.ProcessResponse, error) {
	var result api.ProcessResponse
	if err := c.do(http.MethodGet, processPath(name), nil, &result, http.StatusOK); err != nil {
		return nil, err
	}
	return &result, nil
}

// ReadLine sends GET /processes/{name}/line, waiting up to wait for a line.
func (c *ProcessClient) ReadLine(name string, wait time.Duration) (*api.ReadLineResponse, error) {
	path := processPath(name, "line") + "?wait=" + url.QueryEscape(wait.String())

	var result api.ReadLineResponse
	if err := c.do(http.MethodGet, path, nil, &result, http.StatusOK); err != nil {
		return nil, err
	}
	return &result, nil
}

// ReadOutput sends GET /processes/{name}/output.
func (c *ProcessClient) ReadOutput(name string) (*api.OutputResponse, error) {
	var result api.OutputResponse
	if err := c.do(http.MethodGet, processPath(name, "output"), nil, &result, http.StatusOK); err != nil {
		return nil, err
	}
	return &result, nil
}

// ReadErrors sends GET /processes/{name}/errors.
func (c *ProcessClient) ReadErrors(name string) (*api.OutputResponse, error) {
	var result api.OutputResponse
	if err := c.do(http.MethodGet, processPath(name, "errors"), nil, &result, http.StatusOK); err != nil {
		return nil, err
	}
	return &result, nil
}

// Send sends POST /processes/{name}/input.
func (c *ProcessClient) Send(name, text string) error {
	return c.do(http.MethodPost, processPath(name, "input"), api.SendRequest{Text: text}, nil, http.StatusNoContent)
}

// CloseInput sends POST /processes/{name}/input/close.
func (c *ProcessClient) CloseInput(name string) error {
	return c.do(http.MethodPost, processPath(name, "input", "close"), nil, nil, http.StatusNoContent)
}

// IsExited sends GET /processes/{name}/exited.
func (c *ProcessClient) IsExited(name string) (*api.ExitedResponse, error) {
	var result api.ExitedResponse
	if err := c.do(http.MethodGet, processPath(name, "exited"), nil, &result, http.StatusOK); err != nil {
		return nil, err
	}
	return &result, nil
}

// Stop sends DELETE /processes/{name}.
func (c *ProcessClient) Stop(name string) (*api.StopResponse, error) {
	var result api.StopResponse
	if err := c.do(http.MethodDelete, processPath(name), nil, &result, http.StatusOK); err != nil {
		return nil, err
	}
	return &result, nil
}

// StopAll sends DELETE /processes. Partial failures come back in the
// response's Errors map rather than as an error.
func (c *ProcessClient) StopAll() (*api.StopAllResponse, error) {
	var result api.StopAllResponse
	if err := c.do(http.MethodDelete, "/processes", nil, &result, http.StatusOK, http.StatusInternalServerError); err != nil {
		return nil, err
	}
	return &result, nil
}

// ListRuns sends GET /processes/{name}/runs.
func (c *ProcessClient) ListRuns(name string, limit int) ([]api.RunHistoryEntry, error) {
	path := processPath(name, "runs") + "?limit=" + strconv.Itoa(limit)

	var result api.RunHistoryResponse
	if err := c.do(http.MethodGet, path, nil, &result, http.StatusOK); err != nil {
		return nil, err
	}
	return result.Runs, nil
}

// Run sends POST /run to execute a command to completion.
func (c *ProcessClient) Run(req api.RunRequest) (*api.RunResponse, error) {
	var result api.RunResponse
	if err := c.do(http.MethodPost, "/run", req, &result, http.StatusOK); err != nil {
		return nil, err
	}
	return &result, nil
}
