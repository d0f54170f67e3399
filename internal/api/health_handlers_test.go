package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// mockHealthChecker is a mock implementation of HealthChecker for testing.
type mockHealthChecker struct {
	err error
}

func (m *mockHealthChecker) HealthCheck(ctx context.Context) error {
	return m.err
}

// blockingChecker waits for its context to expire.
type blockingChecker struct{}

func (blockingChecker) HealthCheck(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func decodeHealth(t *testing.T, w *httptest.ResponseRecorder) HealthResponse {
	t.Helper()
	var response HealthResponse
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return response
}

func TestHealth_Success(t *testing.T) {
	handlers := NewHealthHandlers(HealthHandlersConfig{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	handlers.Health(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}

	response := decodeHealth(t, w)
	if response.Status != "healthy" {
		t.Errorf("expected status 'healthy', got %s", response.Status)
	}
	if response.Checks["runtime"] != "ok" {
		t.Errorf("expected runtime check to be 'ok', got %s", response.Checks["runtime"])
	}
	if _, err := time.Parse(time.RFC3339, response.Timestamp); err != nil {
		t.Errorf("timestamp is not valid RFC3339: %v", err)
	}
}

func TestReady(t *testing.T) {
	down := errors.New("connection refused")

	tests := []struct {
		name       string
		db         HealthChecker
		redis      HealthChecker
		wantCode   int
		wantStatus string
		wantChecks map[string]string
	}{
		{
			name:       "all healthy",
			db:         &mockHealthChecker{},
			redis:      &mockHealthChecker{},
			wantCode:   http.StatusOK,
			wantStatus: "healthy",
			wantChecks: map[string]string{"database": "ok", "redis": "ok"},
		},
		{
			name:       "database down",
			db:         &mockHealthChecker{err: down},
			redis:      &mockHealthChecker{},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "unhealthy",
			wantChecks: map[string]string{"database": "error", "redis": "ok"},
		},
		{
			name:       "redis down",
			db:         &mockHealthChecker{},
			redis:      &mockHealthChecker{err: down},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "unhealthy",
			wantChecks: map[string]string{"database": "ok", "redis": "error"},
		},
		{
			name:       "in-memory mode",
			wantCode:   http.StatusOK,
			wantStatus: "healthy",
			wantChecks: map[string]string{"database": "not_configured", "redis": "not_configured"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handlers := NewHealthHandlers(HealthHandlersConfig{
				DBChecker:    tt.db,
				RedisChecker: tt.redis,
			})

			w := httptest.NewRecorder()
			handlers.Ready(w, httptest.NewRequest(http.MethodGet, "/ready", nil))

			if w.Code != tt.wantCode {
				t.Errorf("expected status %d, got %d", tt.wantCode, w.Code)
			}
			response := decodeHealth(t, w)
			if response.Status != tt.wantStatus {
				t.Errorf("expected status %q, got %q", tt.wantStatus, response.Status)
			}
			for check, want := range tt.wantChecks {
				if response.Checks[check] != want {
					t.Errorf("%s check = %q, want %q", check, response.Checks[check], want)
				}
			}
		})
	}
}

func TestReady_Timeout(t *testing.T) {
	handlers := NewHealthHandlers(HealthHandlersConfig{
		DBChecker: blockingChecker{},
		Timeout:   50 * time.Millisecond,
	})

	start := time.Now()
	w := httptest.NewRecorder()
	handlers.Ready(w, httptest.NewRequest(http.MethodGet, "/ready", nil))

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status 503, got %d", w.Code)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("readiness check took %v, should be bounded by the timeout", elapsed)
	}
}
