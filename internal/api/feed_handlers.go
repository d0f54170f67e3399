package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/onnwee/wanderlog/internal/feed"
	"github.com/onnwee/wanderlog/internal/middleware"
)

// Feed pagination bounds.
const (
	DefaultFeedLimit = 20
	MaxFeedLimit     = 100
)

// FeedService produces personalized feeds.
type FeedService interface {
	GetPersonalizedFeed(ctx context.Context, viewerID string, limit, offset int) (*feed.Page, error)
	Explain(ctx context.Context, viewerID string, limit, offset int) (*feed.Explanation, error)
}

// FeedHandlers holds dependencies for feed HTTP handlers.
type FeedHandlers struct {
	service FeedService
	logger  *slog.Logger
}

// NewFeedHandlers creates a new FeedHandlers instance.
func NewFeedHandlers(service FeedService, logger *slog.Logger) *FeedHandlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &FeedHandlers{service: service, logger: logger}
}

// GetFeed handles GET /v1/feed - one page of the viewer's personalized feed.
func (h *FeedHandlers) GetFeed(w http.ResponseWriter, r *http.Request) {
	viewerID, limit, offset, ok := h.feedRequest(w, r)
	if !ok {
		return
	}

	page, err := h.service.GetPersonalizedFeed(r.Context(), viewerID, limit, offset)
	if err != nil {
		h.writeFeedError(w, r, err)
		return
	}
	writeJSON(w, r.Context(), http.StatusOK, page)
}

// ExplainFeed handles GET /v1/feed/explain - a feed page with the per-term
// score breakdown of every returned moment.
func (h *FeedHandlers) ExplainFeed(w http.ResponseWriter, r *http.Request) {
	viewerID, limit, offset, ok := h.feedRequest(w, r)
	if !ok {
		return
	}

	exp, err := h.service.Explain(r.Context(), viewerID, limit, offset)
	if err != nil {
		h.writeFeedError(w, r, err)
		return
	}
	writeJSON(w, r.Context(), http.StatusOK, exp)
}

// feedRequest extracts the viewer and pagination parameters, writing an
// error response and returning ok=false when they are unusable.
func (h *FeedHandlers) feedRequest(w http.ResponseWriter, r *http.Request) (viewerID string, limit, offset int, ok bool) {
	viewerID, ok = requireViewer(w, r)
	if !ok {
		return "", 0, 0, false
	}

	q := r.URL.Query()

	limit = DefaultFeedLimit
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeValidation, "Invalid limit parameter")
			return "", 0, 0, false
		}
		limit = min(n, MaxFeedLimit)
	}

	if s := q.Get("offset"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeValidation, "Invalid offset parameter")
			return "", 0, 0, false
		}
		offset = n
	}

	return viewerID, limit, offset, true
}

func (h *FeedHandlers) writeFeedError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, feed.ErrSnapshotFetch):
		h.logger.WarnContext(r.Context(), "feed snapshot unavailable", "error", err)
		WriteError(w, r.Context(), http.StatusServiceUnavailable, ErrCodeSnapshotUnavailable, "Feed is temporarily unavailable")
	case errors.Is(err, context.Canceled):
		// Client went away; nothing useful to write.
		middleware.SetErrorCode(r.Context(), "client_canceled")
	default:
		h.logger.ErrorContext(r.Context(), "failed to build feed", "error", err)
		WriteError(w, r.Context(), http.StatusInternalServerError, ErrCodeInternal, "Failed to build feed")
	}
}
