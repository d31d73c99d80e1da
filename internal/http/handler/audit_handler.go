package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/breakroom-labs/sentinel/internal/http/response"
	"github.com/breakroom-labs/sentinel/internal/repository"
	"github.com/breakroom-labs/sentinel/internal/service"
)

type AuditHandler struct {
	audit *service.AuditService
}

func NewAuditHandler(audit *service.AuditService) *AuditHandler {
	return &AuditHandler{audit: audit}
}

// Events is the admin query surface over the audit log.
func (h *AuditHandler) Events(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var f repository.AuditFilter
	f.EventType = q.Get("event_type")
	f.Category = q.Get("category")
	f.Severity = q.Get("severity")
	if raw := q.Get("user_id"); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			response.Error(w, r, http.StatusBadRequest, "INVALID_INPUT", "invalid user_id", nil)
			return
		}
		uid := uint(id)
		f.UserID = &uid
	}
	if raw := q.Get("min_risk"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			response.Error(w, r, http.StatusBadRequest, "INVALID_INPUT", "invalid min_risk", nil)
			return
		}
		f.MinRisk = &n
	}
	if raw := q.Get("from"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			response.Error(w, r, http.StatusBadRequest, "INVALID_INPUT", "invalid from timestamp", nil)
			return
		}
		f.From = &t
	}
	if raw := q.Get("to"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			response.Error(w, r, http.StatusBadRequest, "INVALID_INPUT", "invalid to timestamp", nil)
			return
		}
		f.To = &t
	}

	var page repository.PageRequest
	page.Offset, _ = strconv.Atoi(q.Get("offset"))
	page.Limit, _ = strconv.Atoi(q.Get("limit"))

	events, total, err := h.audit.Query(r.Context(), f, page)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]any{
		"events": events,
		"total":  total,
	})
}

func (h *AuditHandler) Metrics(w http.ResponseWriter, r *http.Request) {
	timeframe := r.URL.Query().Get("timeframe")
	if timeframe == "" {
		timeframe = "24h"
	}
	metrics, err := h.audit.Metrics(r.Context(), timeframe)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, metrics)
}
