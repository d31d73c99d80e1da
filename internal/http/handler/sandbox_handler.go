package handler

import (
	"net/http"
	"strconv"

	"github.com/breakroom-labs/sentinel/internal/http/middleware"
	"github.com/breakroom-labs/sentinel/internal/http/response"
	"github.com/breakroom-labs/sentinel/internal/service"
)

type SandboxHandler struct {
	sandbox *service.SandboxService
}

func NewSandboxHandler(sandbox *service.SandboxService) *SandboxHandler {
	return &SandboxHandler{sandbox: sandbox}
}

func (h *SandboxHandler) ListEnvironments(w http.ResponseWriter, r *http.Request) {
	envs, err := h.sandbox.ListEnvironments(r.Context(), r.URL.Query().Get("type"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]any{"environments": envs})
}

func (h *SandboxHandler) CreateEnvironment(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing auth context", nil)
		return
	}
	var in service.CreateEnvironmentInput
	if !decodeJSON(w, r, &in) {
		return
	}
	env, err := h.sandbox.CreateEnvironment(r.Context(), in, identity.UserID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusCreated, env)
}

type startSessionRequest struct {
	EnvironmentID uint `json:"environment_id"`
}

func (h *SandboxHandler) StartSession(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing auth context", nil)
		return
	}
	var req startSessionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.EnvironmentID == 0 {
		response.Error(w, r, http.StatusBadRequest, "INVALID_INPUT", "environment_id is required", nil)
		return
	}
	session, err := h.sandbox.StartSession(r.Context(), identity, req.EnvironmentID, userAgent(r), clientIP(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusCreated, session)
}

func (h *SandboxHandler) StopSession(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing auth context", nil)
		return
	}
	id, ok := uintParam(w, r, "id")
	if !ok {
		return
	}
	if err := h.sandbox.StopSession(r.Context(), identity, id, clientIP(r)); err != nil {
		writeServiceError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]string{"status": "stopped"})
}

func (h *SandboxHandler) History(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing auth context", nil)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	sessions, err := h.sandbox.UserHistory(r.Context(), identity.UserID, limit)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]any{"sessions": sessions})
}
