package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/onnwee/wanderlog/internal/auth"
)

// stubValidator returns fixed claims or a fixed error.
type stubValidator struct {
	subject string
	err     error
}

func (s stubValidator) ValidateToken(string) (*auth.Claims, error) {
	if s.err != nil {
		return nil, s.err
	}
	c := &auth.Claims{Type: auth.TokenTypeAccess}
	c.Subject = s.subject
	return c, nil
}

func TestAuthenticate(t *testing.T) {
	const viewer = "5f0c2a9e-8b1d-4e47-a3c6-0d9e7b2f4a18"

	tests := []struct {
		name       string
		header     string
		validator  stubValidator
		wantStatus int
		wantCode   string
		wantViewer string
	}{
		{
			name:       "missing header",
			validator:  stubValidator{subject: viewer},
			wantStatus: http.StatusUnauthorized,
			wantCode:   "auth_required",
		},
		{
			name:       "wrong scheme",
			header:     "Basic dXNlcjpwYXNz",
			validator:  stubValidator{subject: viewer},
			wantStatus: http.StatusUnauthorized,
			wantCode:   "auth_required",
		},
		{
			name:       "empty bearer",
			header:     "Bearer   ",
			validator:  stubValidator{subject: viewer},
			wantStatus: http.StatusUnauthorized,
			wantCode:   "auth_required",
		},
		{
			name:       "invalid token",
			header:     "Bearer garbage",
			validator:  stubValidator{err: auth.ErrInvalidToken},
			wantStatus: http.StatusUnauthorized,
			wantCode:   "invalid_token",
		},
		{
			name:       "expired token",
			header:     "Bearer old",
			validator:  stubValidator{err: auth.ErrExpiredToken},
			wantStatus: http.StatusUnauthorized,
			wantCode:   "token_expired",
		},
		{
			name:       "subject is not a uuid",
			header:     "Bearer tok",
			validator:  stubValidator{subject: "alice"},
			wantStatus: http.StatusUnauthorized,
			wantCode:   "invalid_token",
		},
		{
			name:       "valid token",
			header:     "bearer tok",
			validator:  stubValidator{subject: viewer},
			wantStatus: http.StatusOK,
			wantViewer: viewer,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotViewer string
			handler := Authenticate(tt.validator, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotViewer = GetViewerID(r.Context())
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(http.MethodGet, "/v1/feed", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if gotViewer != tt.wantViewer {
				t.Errorf("viewer = %q, want %q", gotViewer, tt.wantViewer)
			}
			if tt.wantCode == "" {
				return
			}

			if got := w.Header().Get("WWW-Authenticate"); got != `Bearer realm="wanderlog"` {
				t.Errorf("WWW-Authenticate = %q", got)
			}
			var body struct {
				Error struct {
					Code string `json:"code"`
				} `json:"error"`
			}
			if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
				t.Fatalf("body is not JSON: %v", err)
			}
			if body.Error.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", body.Error.Code, tt.wantCode)
			}
		})
	}
}

func TestAuthenticate_WithJWTService(t *testing.T) {
	svc := auth.NewJWTService("test-secret-at-least-32-bytes-long!!", "")
	token, err := svc.GenerateAccessToken("5f0c2a9e-8b1d-4e47-a3c6-0d9e7b2f4a18")
	if err != nil {
		t.Fatal(err)
	}

	handler := Authenticate(svc, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/feed", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", w.Code)
	}
}
