package middleware

import (
	"bytes"
	"errors"
	"log/slog"
	"net/http"

	"github.com/onnwee/wanderlog/internal/idempotency"
)

// IdempotencyKeyHeader is the HTTP header name for idempotency keys.
const IdempotencyKeyHeader = "Idempotency-Key"

// IdempotentReplayHeader marks a response served from a stored record.
const IdempotentReplayHeader = "Idempotent-Replayed"

// idempotencyResponseWriter captures the status and body written downstream.
type idempotencyResponseWriter struct {
	http.ResponseWriter
	statusCode int
	body       bytes.Buffer
	written    bool
}

func (w *idempotencyResponseWriter) WriteHeader(statusCode int) {
	if !w.written {
		w.statusCode = statusCode
		w.written = true
	}
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *idempotencyResponseWriter) Write(b []byte) (int, error) {
	if !w.written {
		w.WriteHeader(http.StatusOK)
	}
	n, err := w.ResponseWriter.Write(b)
	w.body.Write(b[:n])
	return n, err
}

// Idempotency replays the stored response when an authenticated viewer
// retries a request with the same Idempotency-Key. Requests without the
// header pass through untouched. Only 2xx responses are stored. When the
// repository is unreachable the request runs without protection.
func Idempotency(repo idempotency.Repository, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clientKey := r.Header.Get(IdempotencyKeyHeader)
			if clientKey == "" {
				next.ServeHTTP(w, r)
				return
			}

			if err := idempotency.ValidateKey(clientKey); err != nil {
				code, message := "invalid_idempotency_key", "Invalid Idempotency-Key format"
				if errors.Is(err, idempotency.ErrKeyTooLong) {
					code, message = "idempotency_key_too_long", "Idempotency-Key exceeds maximum length of 64 characters"
				}
				writeEnvelope(w, r, http.StatusBadRequest, code, message)
				return
			}

			ctx := r.Context()
			key := idempotency.ScopedKey(GetViewerID(ctx), clientKey)

			existing, err := repo.Get(ctx, key)
			switch {
			case err == nil:
				if existing.Method != r.Method || existing.Route != r.URL.Path {
					writeEnvelope(w, r, http.StatusUnprocessableEntity, "idempotency_key_reused",
						"Idempotency-Key was already used for a different request")
					return
				}
				logger.InfoContext(ctx, "replaying stored response",
					"status", existing.ResponseStatusCode,
					"request_id", GetRequestID(ctx))
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set(IdempotentReplayHeader, "true")
				w.WriteHeader(existing.ResponseStatusCode)
				_, _ = w.Write([]byte(existing.ResponseBody))
				return
			case !errors.Is(err, idempotency.ErrKeyNotFound):
				logger.WarnContext(ctx, "idempotency store unavailable, running request unprotected", "error", err)
				next.ServeHTTP(w, r)
				return
			}

			capture := &idempotencyResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(capture, r)

			if capture.statusCode < 200 || capture.statusCode >= 300 {
				return
			}
			body := capture.body.String()
			record := &idempotency.Record{
				Key:                key,
				Method:             r.Method,
				Route:              r.URL.Path,
				ResponseHash:       idempotency.ComputeResponseHash(body),
				ResponseBody:       body,
				ResponseStatusCode: capture.statusCode,
			}
			if err := repo.Store(ctx, record); err != nil && !errors.Is(err, idempotency.ErrKeyExists) {
				// The response is already sent; a retry will simply run again.
				logger.ErrorContext(ctx, "failed to store idempotency record", "error", err)
			}
		})
	}
}

// writeEnvelope writes the API error envelope from inside middleware, which
// cannot import the api package.
func writeEnvelope(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	SetErrorCode(r.Context(), code)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"error":{"code":"` + code + `","message":"` + message + `"}}`))
}
