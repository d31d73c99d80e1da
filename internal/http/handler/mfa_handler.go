package handler

import (
	"net/http"

	"github.com/breakroom-labs/sentinel/internal/http/middleware"
	"github.com/breakroom-labs/sentinel/internal/http/response"
	"github.com/breakroom-labs/sentinel/internal/service"
)

type MFAHandler struct {
	mfa *service.MFAService
}

func NewMFAHandler(mfa *service.MFAService) *MFAHandler {
	return &MFAHandler{mfa: mfa}
}

type mfaCodeRequest struct {
	Code string `json:"code"`
}

func (h *MFAHandler) Setup(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing auth context", nil)
		return
	}
	setup, err := h.mfa.SetupTOTP(r.Context(), identity.UserID, identity.Username, clientIP(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, setup)
}

func (h *MFAHandler) Verify(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing auth context", nil)
		return
	}
	var req mfaCodeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.mfa.VerifyAndEnable(r.Context(), identity.UserID, req.Code, clientIP(r)); err != nil {
		writeServiceError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]bool{"enabled": true})
}

func (h *MFAHandler) Disable(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing auth context", nil)
		return
	}
	var req mfaCodeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.mfa.Disable(r.Context(), identity.UserID, req.Code, clientIP(r)); err != nil {
		writeServiceError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]bool{"enabled": false})
}

// RegenerateBackupCodes swaps the full backup code set. A fresh code is
// demanded so a hijacked browser session cannot mint recovery codes alone.
func (h *MFAHandler) RegenerateBackupCodes(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing auth context", nil)
		return
	}
	var req mfaCodeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	codes, err := h.mfa.RegenerateBackupCodes(r.Context(), identity.UserID, req.Code, clientIP(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]any{"backup_codes": codes})
}

func (h *MFAHandler) Status(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing auth context", nil)
		return
	}
	status, err := h.mfa.Status(r.Context(), identity.UserID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, status)
}
