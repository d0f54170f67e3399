package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/onnwee/wanderlog/internal/idempotency"
)

// countingCreate answers 201 with a fresh body on every call.
func countingCreate(calls *atomic.Int32) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"m` + string(rune('0'+n)) + `"}`))
	})
}

func idempotentRequest(viewerID, key string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/v1/moments", strings.NewReader(`{}`))
	if key != "" {
		req.Header.Set(IdempotencyKeyHeader, key)
	}
	if viewerID != "" {
		req = req.WithContext(SetViewerID(req.Context(), viewerID))
	}
	return req
}

func TestIdempotency_ReplaysStoredResponse(t *testing.T) {
	var calls atomic.Int32
	handler := Idempotency(idempotency.NewInMemoryRepository(), nil)(countingCreate(&calls))

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, idempotentRequest("viewer-1", "retry-1"))
	second := httptest.NewRecorder()
	handler.ServeHTTP(second, idempotentRequest("viewer-1", "retry-1"))

	if calls.Load() != 1 {
		t.Fatalf("handler ran %d times, want 1", calls.Load())
	}
	if second.Code != http.StatusCreated {
		t.Errorf("replayed status = %d, want 201", second.Code)
	}
	if second.Body.String() != first.Body.String() {
		t.Errorf("replayed body = %q, want %q", second.Body.String(), first.Body.String())
	}
	if second.Header().Get(IdempotentReplayHeader) != "true" {
		t.Error("replayed response should carry the replay header")
	}
	if first.Header().Get(IdempotentReplayHeader) != "" {
		t.Error("first response should not carry the replay header")
	}
}

func TestIdempotency_ScopesKeysPerViewer(t *testing.T) {
	var calls atomic.Int32
	handler := Idempotency(idempotency.NewInMemoryRepository(), nil)(countingCreate(&calls))

	handler.ServeHTTP(httptest.NewRecorder(), idempotentRequest("viewer-1", "shared"))
	handler.ServeHTTP(httptest.NewRecorder(), idempotentRequest("viewer-2", "shared"))

	if calls.Load() != 2 {
		t.Errorf("handler ran %d times, want 2", calls.Load())
	}
}

func TestIdempotency_WithoutKeyPassesThrough(t *testing.T) {
	var calls atomic.Int32
	handler := Idempotency(idempotency.NewInMemoryRepository(), nil)(countingCreate(&calls))

	for i := 0; i < 2; i++ {
		handler.ServeHTTP(httptest.NewRecorder(), idempotentRequest("viewer-1", ""))
	}
	if calls.Load() != 2 {
		t.Errorf("handler ran %d times, want 2", calls.Load())
	}
}

func TestIdempotency_InvalidKeys(t *testing.T) {
	tests := []struct {
		name     string
		key      string
		wantCode string
	}{
		{"too long", strings.Repeat("k", idempotency.MaxKeyLength+1), "idempotency_key_too_long"},
		{"control character", "bad\tkey", "invalid_idempotency_key"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			handler := Idempotency(idempotency.NewInMemoryRepository(), nil)(countingCreate(&calls))

			w := httptest.NewRecorder()
			handler.ServeHTTP(w, idempotentRequest("viewer-1", tt.key))

			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", w.Code)
			}
			if !strings.Contains(w.Body.String(), tt.wantCode) {
				t.Errorf("body = %s, want code %s", w.Body.String(), tt.wantCode)
			}
			if calls.Load() != 0 {
				t.Error("handler should not run for an invalid key")
			}
		})
	}
}

func TestIdempotency_DoesNotStoreFailures(t *testing.T) {
	var calls atomic.Int32
	handler := Idempotency(idempotency.NewInMemoryRepository(), nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, idempotentRequest("viewer-1", "k"))
	second := httptest.NewRecorder()
	handler.ServeHTTP(second, idempotentRequest("viewer-1", "k"))

	if first.Code != http.StatusBadRequest || second.Code != http.StatusCreated {
		t.Errorf("statuses = %d, %d; want 400 then 201", first.Code, second.Code)
	}
}

func TestIdempotency_RejectsReuseOnAnotherRoute(t *testing.T) {
	repo := idempotency.NewInMemoryRepository()
	var calls atomic.Int32
	handler := Idempotency(repo, nil)(countingCreate(&calls))

	handler.ServeHTTP(httptest.NewRecorder(), idempotentRequest("viewer-1", "k"))

	req := httptest.NewRequest(http.MethodPost, "/v1/moments/abc/ratings", nil)
	req.Header.Set(IdempotencyKeyHeader, "k")
	req = req.WithContext(SetViewerID(req.Context(), "viewer-1"))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422", w.Code)
	}
}

// unavailableRepo fails every call.
type unavailableRepo struct{}

func (unavailableRepo) Get(context.Context, string) (*idempotency.Record, error) {
	return nil, errors.New("connection refused")
}

func (unavailableRepo) Store(context.Context, *idempotency.Record) error {
	return errors.New("connection refused")
}

func (unavailableRepo) DeleteOlderThan(context.Context, time.Duration) (int64, error) {
	return 0, nil
}

func TestIdempotency_FailsOpen(t *testing.T) {
	var calls atomic.Int32
	handler := Idempotency(unavailableRepo{}, nil)(countingCreate(&calls))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, idempotentRequest("viewer-1", "k"))

	if w.Code != http.StatusCreated || calls.Load() != 1 {
		t.Errorf("status = %d, calls = %d; want 201 and 1 call", w.Code, calls.Load())
	}
}
