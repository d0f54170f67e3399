package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/onnwee/wanderlog/internal/auth"
)

// TokenValidator validates bearer tokens.
type TokenValidator interface {
	ValidateToken(token string) (*auth.Claims, error)
}

// Authenticate requires a valid bearer access token whose subject is a user
// UUID, and stores the subject as the viewer ID. Failures answer 401 with
// the API error envelope.
func Authenticate(validator TokenValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				unauthorized(w, r, "auth_required", "Bearer token required")
				return
			}

			claims, err := validator.ValidateToken(token)
			if err != nil {
				code := "invalid_token"
				if errors.Is(err, auth.ErrExpiredToken) {
					code = "token_expired"
				}
				logger.DebugContext(r.Context(), "rejected bearer token",
					"error", err,
					"request_id", GetRequestID(r.Context()))
				unauthorized(w, r, code, "Invalid or expired token")
				return
			}

			if _, err := uuid.Parse(claims.ViewerID()); err != nil {
				unauthorized(w, r, "invalid_token", "Token subject is not a user ID")
				return
			}

			ctx := SetViewerID(r.Context(), claims.ViewerID())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func unauthorized(w http.ResponseWriter, r *http.Request, code, message string) {
	SetErrorCode(r.Context(), code)
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="wanderlog"`)
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":{"code":"` + code + `","message":"` + message + `"}}`))
}
