package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/prudhvinik1/nebula/internal/httpx"
	"github.com/prudhvinik1/nebula/internal/models"
	"github.com/prudhvinik1/nebula/internal/services"
)

type TimelineReader interface {
	GetTimeline(ctx context.Context, readerID, cursor string, pageSize int) (*models.TimelinePage, error)
}

type TimelineHandler struct{ svc TimelineReader }

func NewTimelineHandler(svc TimelineReader) *TimelineHandler { return &TimelineHandler{svc: svc} }

// GetTimeline serves GET /v1/timeline?cursor=&pageSize= for the caller.
func (h *TimelineHandler) GetTimeline(w http.ResponseWriter, r *http.Request) error {
	principal, err := httpx.PrincipalFrom(r.Context())
	if err != nil {
		return err
	}
	pageSize, err := httpx.QueryInt(r, "pageSize", 0)
	if err != nil {
		return err
	}

	// cursors are post ids
	cursor := r.URL.Query().Get("cursor")
	if cursor != "" {
		if _, err := uuid.Parse(cursor); err != nil {
			return httpx.BadRequest(err, "invalid_cursor")
		}
	}

	page, err := h.svc.GetTimeline(r.Context(), principal.UserID, cursor, pageSize)
	if errors.Is(err, services.ErrInvalidPageSize) {
		return httpx.BadRequest(err, "invalid_pageSize")
	}
	if err != nil {
		return err
	}

	httpx.WriteJSON(w, page, http.StatusOK)
	return nil
}
