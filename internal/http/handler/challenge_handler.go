package handler

import (
	"net/http"
	"strconv"

	"github.com/breakroom-labs/sentinel/internal/http/middleware"
	"github.com/breakroom-labs/sentinel/internal/http/response"
	"github.com/breakroom-labs/sentinel/internal/repository"
	"github.com/breakroom-labs/sentinel/internal/service"
)

type ChallengeHandler struct {
	challenges *service.ChallengeService
}

func NewChallengeHandler(challenges *service.ChallengeService) *ChallengeHandler {
	return &ChallengeHandler{challenges: challenges}
}

func (h *ChallengeHandler) List(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing auth context", nil)
		return
	}
	q := r.URL.Query()
	f := repository.ChallengeFilter{
		Category:   q.Get("category"),
		Difficulty: q.Get("difficulty"),
		// non-admins only ever see published challenges
		ActiveOnly: !(identity.IsAdmin || identity.IsSiteOwner) || q.Get("active") == "true",
	}
	views, err := h.challenges.List(r.Context(), f, identity.UserID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]any{"challenges": views})
}

func (h *ChallengeHandler) Create(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing auth context", nil)
		return
	}
	var in service.CreateChallengeInput
	if !decodeJSON(w, r, &in) {
		return
	}
	ch, err := h.challenges.Create(r.Context(), in, identity.UserID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusCreated, ch)
}

type submitRequest struct {
	Flag string `json:"flag"`
}

func (h *ChallengeHandler) Submit(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing auth context", nil)
		return
	}
	id, ok := uintParam(w, r, "id")
	if !ok {
		return
	}
	var req submitRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Flag == "" {
		response.Error(w, r, http.StatusBadRequest, "INVALID_INPUT", "flag is required", nil)
		return
	}
	result, err := h.challenges.Submit(r.Context(), identity, id, req.Flag, userAgent(r), clientIP(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, result)
}

func (h *ChallengeHandler) Stats(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing auth context", nil)
		return
	}
	stats, err := h.challenges.Stats(r.Context(), identity.UserID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, stats)
}

func (h *ChallengeHandler) Leaderboard(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	entries, err := h.challenges.Leaderboard(r.Context(), limit)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]any{"leaderboard": entries})
}
