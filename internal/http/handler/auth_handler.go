package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/breakroom-labs/sentinel/internal/domain"
	"github.com/breakroom-labs/sentinel/internal/http/middleware"
	"github.com/breakroom-labs/sentinel/internal/http/response"
	"github.com/breakroom-labs/sentinel/internal/observability"
	"github.com/breakroom-labs/sentinel/internal/service"
)

// ErrBadCredentials is what a CredentialVerifier returns for a wrong
// username/password pair. Anything else is treated as a backend fault.
var ErrBadCredentials = errors.New("bad credentials")

// CredentialVerifier checks a username/password pair against the user store.
// The control plane does not own user records; the hosting application plugs
// its own store in here.
type CredentialVerifier interface {
	VerifyCredentials(ctx context.Context, username, password string) (domain.Identity, error)
}

type AuthHandler struct {
	verifier     CredentialVerifier
	sessions     *service.SessionAuthority
	mfa          *service.MFAService
	audit        service.AuditRecorder
	cookieName   string
	cookieSecure bool
}

func NewAuthHandler(verifier CredentialVerifier, sessions *service.SessionAuthority, mfa *service.MFAService, audit service.AuditRecorder, cookieName string, cookieSecure bool) *AuthHandler {
	return &AuthHandler{
		verifier:     verifier,
		sessions:     sessions,
		mfa:          mfa,
		audit:        audit,
		cookieName:   cookieName,
		cookieSecure: cookieSecure,
	}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	MFACode  string `json:"mfa_code,omitempty"`
}

type loginResponse struct {
	Token     string          `json:"token"`
	ExpiresAt time.Time       `json:"expires_at"`
	User      domain.Identity `json:"user"`
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Username == "" || req.Password == "" {
		response.Error(w, r, http.StatusBadRequest, "INVALID_INPUT", "username and password are required", nil)
		return
	}
	ip, ua := clientIP(r), userAgent(r)

	identity, err := h.verifier.VerifyCredentials(ctx, req.Username, req.Password)
	if err != nil {
		if !errors.Is(err, ErrBadCredentials) {
			writeServiceError(w, r, err)
			return
		}
		observability.RecordLogin(ctx, "failure")
		if aerr := h.audit.Record(ctx, &domain.AuditEvent{
			EventType: "login_failed",
			Category:  domain.AuditCategoryAuthentication,
			Severity:  domain.AuditSeverityWarning,
			RiskScore: 50,
			IP:        ip,
			UserAgent: ua,
			Detail:    "username=" + req.Username,
		}); aerr != nil {
			writeServiceError(w, r, aerr)
			return
		}
		response.Error(w, r, http.StatusUnauthorized, "INVALID_CREDENTIALS", "invalid username or password", nil)
		return
	}

	if identity.IsBanned {
		observability.RecordLogin(ctx, "banned")
		if aerr := h.audit.Record(ctx, &domain.AuditEvent{
			UserID:    &identity.UserID,
			EventType: "login_blocked_banned",
			Category:  domain.AuditCategoryAuthentication,
			Severity:  domain.AuditSeverityCritical,
			RiskScore: 90,
			IP:        ip,
			UserAgent: ua,
		}); aerr != nil {
			writeServiceError(w, r, aerr)
			return
		}
		response.Error(w, r, http.StatusForbidden, "FORBIDDEN", "account is banned", nil)
		return
	}

	required, err := h.mfa.Required(ctx, identity.UserID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if required {
		if req.MFACode == "" {
			response.Error(w, r, http.StatusUnauthorized, "MFA_REQUIRED", "mfa code required", nil)
			return
		}
		if err := h.mfa.VerifyLoginCode(ctx, identity.UserID, req.MFACode); err != nil {
			if !errors.Is(err, service.ErrMFAInvalidCode) {
				writeServiceError(w, r, err)
				return
			}
			observability.RecordLogin(ctx, "mfa_failure")
			if aerr := h.audit.Record(ctx, &domain.AuditEvent{
				UserID:    &identity.UserID,
				EventType: "login_failed_mfa",
				Category:  domain.AuditCategoryAuthentication,
				Severity:  domain.AuditSeverityWarning,
				RiskScore: 60,
				IP:        ip,
				UserAgent: ua,
			}); aerr != nil {
				writeServiceError(w, r, aerr)
				return
			}
			response.Error(w, r, http.StatusUnauthorized, "INVALID_CODE", "invalid mfa code", nil)
			return
		}
	}

	issued, err := h.sessions.Issue(ctx, identity, ua, ip)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if aerr := h.audit.Record(ctx, &domain.AuditEvent{
		UserID:    &identity.UserID,
		EventType: "login_success",
		Category:  domain.AuditCategoryAuthentication,
		RiskScore: 10,
		IP:        ip,
		UserAgent: ua,
	}); aerr != nil {
		writeServiceError(w, r, aerr)
		return
	}
	observability.RecordLogin(ctx, "success")

	http.SetCookie(w, &http.Cookie{
		Name:     h.cookieName,
		Value:    issued.Token,
		Path:     "/",
		Expires:  issued.ExpiresAt,
		HttpOnly: true,
		Secure:   h.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	response.JSON(w, r, http.StatusOK, loginResponse{
		Token:     issued.Token,
		ExpiresAt: issued.ExpiresAt,
		User:      identity,
	})
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := middleware.IdentityFromContext(ctx)
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing auth context", nil)
		return
	}
	raw := middleware.TokenFromRequest(r, h.cookieName)
	if err := h.sessions.Revoke(ctx, raw, "logout"); err != nil {
		writeServiceError(w, r, err)
		return
	}
	if aerr := h.audit.Record(ctx, &domain.AuditEvent{
		UserID:    &identity.UserID,
		EventType: "logout",
		Category:  domain.AuditCategoryAuthentication,
		RiskScore: 5,
		IP:        clientIP(r),
		UserAgent: userAgent(r),
	}); aerr != nil {
		writeServiceError(w, r, aerr)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     h.cookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	response.JSON(w, r, http.StatusOK, map[string]string{"status": "logged_out"})
}

// Session reports the caller's identity and their active sessions, with the
// one backing this request marked current.
func (h *AuthHandler) Session(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := middleware.IdentityFromContext(ctx)
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing auth context", nil)
		return
	}
	currentTokenID := ""
	if claims, ok := middleware.ClaimsFromContext(ctx); ok {
		currentTokenID = claims.ID
	}
	views, err := h.sessions.ActiveSessions(ctx, identity.UserID, currentTokenID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]any{
		"user":     identity,
		"sessions": views,
	})
}
