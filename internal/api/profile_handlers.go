package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/onnwee/wanderlog/internal/follow"
	"github.com/onnwee/wanderlog/internal/interest"
	"github.com/onnwee/wanderlog/internal/moment"
)

// ViewerFeedInvalidator drops one viewer's cached feed ordering.
type ViewerFeedInvalidator interface {
	Invalidate(ctx context.Context, viewerID string) error
}

// SetInterestRequest represents the request body for setting an interest weight.
type SetInterestRequest struct {
	Weight int `json:"weight"`
}

// InterestsResponse lists the viewer's category weights.
type InterestsResponse struct {
	Interests interest.Profile `json:"interests"`
}

// ProfileHandlers serves the viewer's interests and follows, the two inputs
// of feed personalization.
type ProfileHandlers struct {
	interests interest.Repository
	follows   follow.Repository
	cache     ViewerFeedInvalidator
	logger    *slog.Logger
}

// NewProfileHandlers creates a new ProfileHandlers instance. cache may be nil.
func NewProfileHandlers(interests interest.Repository, follows follow.Repository, cache ViewerFeedInvalidator, logger *slog.Logger) *ProfileHandlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProfileHandlers{
		interests: interests,
		follows:   follows,
		cache:     cache,
		logger:    logger,
	}
}

// GetInterests handles GET /v1/interests.
func (h *ProfileHandlers) GetInterests(w http.ResponseWriter, r *http.Request) {
	viewerID, ok := requireViewer(w, r)
	if !ok {
		return
	}

	profile, err := h.interests.GetProfile(r.Context(), viewerID)
	if err != nil {
		h.writeProfileError(w, r, err)
		return
	}
	if profile == nil {
		profile = interest.Profile{}
	}
	writeJSON(w, r.Context(), http.StatusOK, InterestsResponse{Interests: profile})
}

// SetInterest handles PUT /v1/interests/{category}.
func (h *ProfileHandlers) SetInterest(w http.ResponseWriter, r *http.Request) {
	viewerID, ok := requireViewer(w, r)
	if !ok {
		return
	}

	var req SetInterestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeBadRequest, "Invalid JSON in request body")
		return
	}

	category := moment.Category(r.PathValue("category"))
	if err := interest.Validate(category, req.Weight); err != nil {
		h.writeProfileError(w, r, err)
		return
	}
	if err := h.interests.SetWeight(r.Context(), viewerID, category, req.Weight); err != nil {
		h.writeProfileError(w, r, err)
		return
	}

	h.invalidate(r.Context(), viewerID)
	w.WriteHeader(http.StatusNoContent)
}

// RemoveInterest handles DELETE /v1/interests/{category}.
func (h *ProfileHandlers) RemoveInterest(w http.ResponseWriter, r *http.Request) {
	viewerID, ok := requireViewer(w, r)
	if !ok {
		return
	}

	category, err := moment.ParseCategory(r.PathValue("category"))
	if err != nil {
		h.writeProfileError(w, r, err)
		return
	}
	if err := h.interests.Remove(r.Context(), viewerID, category); err != nil {
		h.writeProfileError(w, r, err)
		return
	}

	h.invalidate(r.Context(), viewerID)
	w.WriteHeader(http.StatusNoContent)
}

// Follow handles PUT /v1/follows/{id}.
func (h *ProfileHandlers) Follow(w http.ResponseWriter, r *http.Request) {
	viewerID, ok := requireViewer(w, r)
	if !ok {
		return
	}

	if err := h.follows.Follow(r.Context(), viewerID, r.PathValue("id")); err != nil {
		h.writeProfileError(w, r, err)
		return
	}

	h.invalidate(r.Context(), viewerID)
	w.WriteHeader(http.StatusNoContent)
}

// Unfollow handles DELETE /v1/follows/{id}.
func (h *ProfileHandlers) Unfollow(w http.ResponseWriter, r *http.Request) {
	viewerID, ok := requireViewer(w, r)
	if !ok {
		return
	}

	if err := h.follows.Unfollow(r.Context(), viewerID, r.PathValue("id")); err != nil {
		h.writeProfileError(w, r, err)
		return
	}

	h.invalidate(r.Context(), viewerID)
	w.WriteHeader(http.StatusNoContent)
}

// invalidate drops the viewer's cached ordering. Failures only log; the entry
// expires on its own.
func (h *ProfileHandlers) invalidate(ctx context.Context, viewerID string) {
	if h.cache == nil {
		return
	}
	if err := h.cache.Invalidate(ctx, viewerID); err != nil {
		h.logger.WarnContext(ctx, "failed to invalidate viewer feed",
			"viewer_id", viewerID,
			"error", err)
	}
}

func (h *ProfileHandlers) writeProfileError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	switch {
	case errors.Is(err, moment.ErrInvalidCategory):
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeInvalidCategory, err.Error())
	case errors.Is(err, interest.ErrWeightOutOfRange):
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeInvalidWeight, err.Error())
	case errors.Is(err, follow.ErrSelfFollow):
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeSelfFollow, err.Error())
	default:
		h.logger.ErrorContext(ctx, "profile operation failed", "error", err)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Internal server error")
	}
}
