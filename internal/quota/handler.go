package quota

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/imagestudio-ai/imagestudio/internal/api"
	"github.com/imagestudio-ai/imagestudio/internal/auth"
)

// Handler provides HTTP handlers for the quota dashboard endpoints.
type Handler struct {
	svc *Service
}

// NewHandler creates a new quota Handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// GetStatus returns the per-model quota status for the authenticated user.
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(r)
	if !ok {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}

	status, err := h.svc.UserQuotaStatus(r.Context(), userID)
	if err != nil {
		slog.Error("quota status", "error", err, "user_id", userID)
		api.HandleError(w, api.ErrInternalServer)
		return
	}

	api.JSON(w, http.StatusOK, status)
}

// GetModelQuota returns the quota check result for a single model.
func (h *Handler) GetModelQuota(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(r)
	if !ok {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}

	modelID := chi.URLParam(r, "modelID")
	if modelID == "" {
		api.HandleError(w, api.ErrBadRequest)
		return
	}

	check, err := h.svc.CheckQuota(r.Context(), userID, modelID)
	if err != nil {
		slog.Error("model quota check", "error", err, "model", modelID)
		api.HandleError(w, api.ErrInternalServer)
		return
	}

	api.JSON(w, http.StatusOK, check)
}

func callerID(r *http.Request) (uuid.UUID, bool) {
	claims := auth.GetUserClaims(r.Context())
	if claims == nil {
		return uuid.Nil, false
	}
	userID, err := uuid.Parse(claims.UserID)
	if err != nil {
		return uuid.Nil, false
	}
	return userID, true
}
