package audit

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/imagestudio-ai/imagestudio/internal/api"
)

type Handler struct {
	repo *Repository
}

func NewHandler(repo *Repository) *Handler {
	return &Handler{repo: repo}
}

// List serves the admin audit trail with optional user/event/severity/time
// filters.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	params := DefaultListParams()
	q := r.URL.Query()

	if u := q.Get("user_id"); u != "" {
		userID, err := uuid.Parse(u)
		if err != nil {
			api.HandleError(w, api.NewBadRequestError("invalid user_id filter"))
			return
		}
		params.UserID = &userID
	}
	params.EventType = q.Get("event_type")
	params.Severity = q.Get("severity")

	if f := q.Get("from"); f != "" {
		from, err := time.Parse(time.RFC3339, f)
		if err != nil {
			api.HandleError(w, api.NewBadRequestError("invalid from timestamp, want RFC3339"))
			return
		}
		params.From = &from
	}
	if t := q.Get("to"); t != "" {
		to, err := time.Parse(time.RFC3339, t)
		if err != nil {
			api.HandleError(w, api.NewBadRequestError("invalid to timestamp, want RFC3339"))
			return
		}
		params.To = &to
	}

	if p := q.Get("page"); p != "" {
		if page, err := strconv.Atoi(p); err == nil && page > 0 {
			params.Page = page
		}
	}
	if ps := q.Get("page_size"); ps != "" {
		if pageSize, err := strconv.Atoi(ps); err == nil && pageSize > 0 && pageSize <= 100 {
			params.PageSize = pageSize
		}
	}

	logs, totalCount, err := h.repo.List(r.Context(), params)
	if err != nil {
		slog.Error("listing audit logs", "error", err)
		api.HandleError(w, api.ErrInternalServer)
		return
	}
	if logs == nil {
		logs = []Log{}
	}

	api.JSONPaginated(w, http.StatusOK, logs, totalCount, params.Page, params.PageSize)
}
