package catalog

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/imagestudio-ai/imagestudio/internal/api"
	"github.com/imagestudio-ai/imagestudio/internal/auth"
	"github.com/imagestudio-ai/imagestudio/internal/quota"
)

type Handler struct {
	svc      *Service
	quota    *quota.Service
	validate *validator.Validate
}

func NewHandler(svc *Service, quotaSvc *quota.Service) *Handler {
	return &Handler{
		svc:      svc,
		quota:    quotaSvc,
		validate: validator.New(),
	}
}

// ListModels returns the active models available on the caller's tier. A user
// without a profile row sees an empty catalog.
func (h *Handler) ListModels(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}

	tier, err := h.quota.ResolveTier(r.Context(), userID)
	if err != nil {
		slog.Error("resolving tier for model listing", "error", err)
		api.HandleError(w, api.ErrInternalServer)
		return
	}
	if tier == nil {
		api.JSON(w, http.StatusOK, []*ImageModel{})
		return
	}

	models, err := h.svc.ListModelsForTier(r.Context(), tier.Tier)
	if err != nil {
		slog.Error("listing models for tier", "error", err, "tier", tier.Tier)
		api.HandleError(w, api.ErrInternalServer)
		return
	}
	if models == nil {
		models = []*ImageModel{}
	}

	api.JSON(w, http.StatusOK, models)
}

func (h *Handler) ListTiers(w http.ResponseWriter, r *http.Request) {
	tiers, err := h.svc.ListTiers(r.Context())
	if err != nil {
		slog.Error("listing tiers", "error", err)
		api.HandleError(w, api.ErrInternalServer)
		return
	}
	if tiers == nil {
		tiers = []*Tier{}
	}

	api.JSON(w, http.StatusOK, tiers)
}

func (h *Handler) CreateTier(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}

	var req CreateTierRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.HandleError(w, api.ErrBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		api.HandleError(w, api.NewValidationError(err.Error()))
		return
	}

	tier, err := h.svc.CreateTier(r.Context(), userID, &req)
	if err != nil {
		h.handleServiceError(w, err, "creating tier")
		return
	}

	api.JSON(w, http.StatusCreated, tier)
}

func (h *Handler) DeleteTier(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}

	name := chi.URLParam(r, "tier")
	if name == "" {
		api.HandleError(w, api.NewBadRequestError("missing tier name"))
		return
	}

	if err := h.svc.DeleteTier(r.Context(), userID, name); err != nil {
		h.handleServiceError(w, err, "deleting tier")
		return
	}

	api.JSONMessage(w, http.StatusOK, "tier deleted successfully")
}

func (h *Handler) AdminListModels(w http.ResponseWriter, r *http.Request) {
	models, err := h.svc.ListModels(r.Context())
	if err != nil {
		slog.Error("listing models", "error", err)
		api.HandleError(w, api.ErrInternalServer)
		return
	}
	if models == nil {
		models = []*ImageModel{}
	}

	api.JSON(w, http.StatusOK, models)
}

func (h *Handler) CreateModel(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}

	var req CreateModelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.HandleError(w, api.ErrBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		api.HandleError(w, api.NewValidationError(err.Error()))
		return
	}

	model, err := h.svc.CreateModel(r.Context(), userID, &req)
	if err != nil {
		h.handleServiceError(w, err, "creating model")
		return
	}

	api.JSON(w, http.StatusCreated, model)
}

func (h *Handler) UpdateModel(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}

	modelID, err := uuid.Parse(chi.URLParam(r, "modelID"))
	if err != nil {
		api.HandleError(w, api.NewBadRequestError("invalid model ID"))
		return
	}

	var req UpdateModelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.HandleError(w, api.ErrBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		api.HandleError(w, api.NewValidationError(err.Error()))
		return
	}

	model, err := h.svc.UpdateModel(r.Context(), userID, modelID, &req)
	if err != nil {
		h.handleServiceError(w, err, "updating model")
		return
	}

	api.JSON(w, http.StatusOK, model)
}

func (h *Handler) SetAccess(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}

	var req SetAccessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.HandleError(w, api.ErrBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		api.HandleError(w, api.NewValidationError(err.Error()))
		return
	}

	if err := h.svc.SetAccess(r.Context(), userID, &req); err != nil {
		h.handleServiceError(w, err, "setting model access")
		return
	}

	api.JSONMessage(w, http.StatusOK, "access updated")
}

func (h *Handler) SetLimits(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}

	var req SetLimitsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.HandleError(w, api.ErrBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		api.HandleError(w, api.NewValidationError(err.Error()))
		return
	}

	if err := h.svc.SetLimits(r.Context(), userID, &req); err != nil {
		h.handleServiceError(w, err, "setting quota limits")
		return
	}

	api.JSONMessage(w, http.StatusOK, "limits updated")
}

func (h *Handler) handleServiceError(w http.ResponseWriter, err error, op string) {
	switch {
	case errors.Is(err, ErrTierExists):
		api.HandleError(w, api.NewConflictError("tier already exists"))
	case errors.Is(err, ErrModelExists):
		api.HandleError(w, api.NewConflictError("model already exists"))
	case errors.Is(err, ErrTierNotFound):
		api.HandleError(w, api.NewNotFoundError("tier not found"))
	case errors.Is(err, ErrModelNotFound):
		api.HandleError(w, api.ErrModelNotFound)
	default:
		slog.Error(op, "error", err)
		api.HandleError(w, api.ErrInternalServer)
	}
}

func callerID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	claims := auth.GetUserClaims(r.Context())
	if claims == nil {
		api.HandleError(w, api.ErrUnauthorized)
		return uuid.Nil, false
	}
	userID, err := uuid.Parse(claims.UserID)
	if err != nil {
		api.HandleError(w, api.ErrUnauthorized)
		return uuid.Nil, false
	}
	return userID, true
}
