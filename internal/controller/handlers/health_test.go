package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
)

func TestProbes(t *testing.T) {
	tests := []struct {
		name           string
		endpoint       string
		ping           func(context.Context) error
		expectedStatus int
		expectedBody   string
	}{
		{
			name:           "Healthz Always OK",
			endpoint:       "/healthz",
			expectedStatus: http.StatusOK,
			expectedBody:   "ok",
		},
		{
			name:           "Readyz Without Database",
			endpoint:       "/readyz",
			expectedStatus: http.StatusOK,
			expectedBody:   "ready",
		},
		{
			name:           "Readyz Success",
			endpoint:       "/readyz",
			ping:           func(context.Context) error { return nil },
			expectedStatus: http.StatusOK,
			expectedBody:   "ready",
		},
		{
			name:           "Readyz Database Fail",
			endpoint:       "/readyz",
			ping:           func(context.Context) error { return errors.New("db down") },
			expectedStatus: http.StatusServiceUnavailable,
			expectedBody:   "Database unavailable",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := New(Deps{Registry: &mockRegistry{}, Ping: tt.ping})

			rr := serve(h, http.MethodGet, tt.endpoint, nil)

			if rr.Code != tt.expectedStatus {
				t.Errorf("handler returned wrong status code: got %v want %v", rr.Code, tt.expectedStatus)
			}
			if !strings.Contains(rr.Body.String(), tt.expectedBody) {
				t.Errorf("expected body to contain %q, got %q", tt.expectedBody, rr.Body.String())
			}
		})
	}
}
