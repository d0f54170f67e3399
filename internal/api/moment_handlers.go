package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/onnwee/wanderlog/internal/middleware"
	"github.com/onnwee/wanderlog/internal/moment"
)

// MomentService applies moment mutations.
type MomentService interface {
	Create(ctx context.Context, in moment.CreateInput) (*moment.Moment, error)
	Get(ctx context.Context, momentID string) (*moment.Moment, error)
	Rate(ctx context.Context, actorID, momentID string, ratings moment.Ratings) (*moment.Moment, error)
	Delete(ctx context.Context, actorID, momentID string) error
	RecordEngagement(ctx context.Context, momentID string, likes, views int64) error
}

// CreateMomentRequest represents the request body for creating a moment.
type CreateMomentRequest struct {
	Category *string         `json:"category,omitempty"`
	Ratings  *moment.Ratings `json:"ratings,omitempty"`
}

// EngagementRequest represents a batch of likes and views to add to a moment.
type EngagementRequest struct {
	Likes int64 `json:"likes"`
	Views int64 `json:"views"`
}

// RatingResponse is returned after a moment is rated.
type RatingResponse struct {
	ID             string  `json:"id"`
	CompositeScore float64 `json:"composite_score"`
	Rank           *int    `json:"rank,omitempty"`
}

// MomentHandlers holds dependencies for moment HTTP handlers.
type MomentHandlers struct {
	service MomentService
	logger  *slog.Logger
}

// NewMomentHandlers creates a new MomentHandlers instance.
func NewMomentHandlers(service MomentService, logger *slog.Logger) *MomentHandlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &MomentHandlers{service: service, logger: logger}
}

// CreateMoment handles POST /v1/moments - creates a moment owned by the viewer.
func (h *MomentHandlers) CreateMoment(w http.ResponseWriter, r *http.Request) {
	viewerID, ok := requireViewer(w, r)
	if !ok {
		return
	}

	var req CreateMomentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeBadRequest, "Invalid JSON in request body")
		return
	}

	in := moment.CreateInput{OwnerID: viewerID, Ratings: req.Ratings}
	if req.Category != nil {
		c, err := moment.ParseCategory(*req.Category)
		if err != nil {
			h.writeMomentError(w, r, err)
			return
		}
		in.Category = &c
	}

	m, err := h.service.Create(r.Context(), in)
	if err != nil && !h.staleRanksOnly(r, err, m) {
		h.writeMomentError(w, r, err)
		return
	}
	writeJSON(w, r.Context(), http.StatusCreated, m)
}

// GetMoment handles GET /v1/moments/{id}.
func (h *MomentHandlers) GetMoment(w http.ResponseWriter, r *http.Request) {
	m, err := h.service.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeMomentError(w, r, err)
		return
	}
	writeJSON(w, r.Context(), http.StatusOK, m)
}

// RateMoment handles POST /v1/moments/{id}/ratings - sets the moment's
// ratings and returns its new composite score.
func (h *MomentHandlers) RateMoment(w http.ResponseWriter, r *http.Request) {
	viewerID, ok := requireViewer(w, r)
	if !ok {
		return
	}

	var ratings moment.Ratings
	if err := json.NewDecoder(r.Body).Decode(&ratings); err != nil {
		WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeBadRequest, "Invalid JSON in request body")
		return
	}

	m, err := h.service.Rate(r.Context(), viewerID, r.PathValue("id"), ratings)
	if err != nil && !h.staleRanksOnly(r, err, m) {
		h.writeMomentError(w, r, err)
		return
	}

	writeJSON(w, r.Context(), http.StatusOK, RatingResponse{
		ID:             m.ID,
		CompositeScore: *m.CompositeScore,
		Rank:           m.Rank,
	})
}

// DeleteMoment handles DELETE /v1/moments/{id}.
func (h *MomentHandlers) DeleteMoment(w http.ResponseWriter, r *http.Request) {
	viewerID, ok := requireViewer(w, r)
	if !ok {
		return
	}

	err := h.service.Delete(r.Context(), viewerID, r.PathValue("id"))
	if err != nil && !h.staleRanksOnly(r, err, nil) {
		h.writeMomentError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RecordEngagement handles POST /v1/moments/{id}/engagement.
func (h *MomentHandlers) RecordEngagement(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireViewer(w, r); !ok {
		return
	}

	var req EngagementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeBadRequest, "Invalid JSON in request body")
		return
	}
	if req.Likes == 0 && req.Views == 0 {
		WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeValidation, "likes or views must be non-zero")
		return
	}

	if err := h.service.RecordEngagement(r.Context(), r.PathValue("id"), req.Likes, req.Views); err != nil {
		h.writeMomentError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// staleRanksOnly reports whether err only says the owner's ranks lag behind
// a mutation that was stored. Such requests still succeed.
func (h *MomentHandlers) staleRanksOnly(r *http.Request, err error, m *moment.Moment) bool {
	if !errors.Is(err, moment.ErrRanksStale) {
		return false
	}
	attrs := []any{"error", err}
	if m != nil {
		attrs = append(attrs, "moment_id", m.ID, "owner_id", m.OwnerID)
	}
	h.logger.WarnContext(r.Context(), "owner ranks left stale", attrs...)
	return true
}

func (h *MomentHandlers) writeMomentError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	switch {
	case errors.Is(err, moment.ErrMomentNotFound):
		WriteError(w, ctx, http.StatusNotFound, ErrCodeNotFound, "Moment not found")
	case errors.Is(err, moment.ErrNotOwner):
		WriteError(w, ctx, http.StatusForbidden, ErrCodeForbidden, "Only the owner can modify this moment")
	case errors.Is(err, moment.ErrMissingOverall), errors.Is(err, moment.ErrRatingOutOfRange):
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeInvalidRating, err.Error())
	case errors.Is(err, moment.ErrInvalidCategory):
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeInvalidCategory, err.Error())
	default:
		h.logger.ErrorContext(ctx, "moment operation failed", "error", err)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Internal server error")
	}
}

// requireViewer returns the authenticated viewer or writes a 401.
func requireViewer(w http.ResponseWriter, r *http.Request) (string, bool) {
	viewerID := middleware.GetViewerID(r.Context())
	if viewerID == "" {
		WriteError(w, r.Context(), http.StatusUnauthorized, ErrCodeAuthRequired, "Authentication required")
		return "", false
	}
	return viewerID, true
}
