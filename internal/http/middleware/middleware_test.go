package middleware

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/breakroom-labs/sentinel/internal/domain"
	"github.com/breakroom-labs/sentinel/internal/ratelimit"
	"github.com/breakroom-labs/sentinel/internal/repository"
	"github.com/breakroom-labs/sentinel/internal/security"
	"github.com/breakroom-labs/sentinel/internal/service"
)

const testCookie = "sentinel_session"

type memorySessionRepo struct {
	mu      sync.Mutex
	nextID  uint
	records map[string]*domain.SessionRecord
}

func newMemorySessionRepo() *memorySessionRepo {
	return &memorySessionRepo{records: make(map[string]*domain.SessionRecord)}
}

func (r *memorySessionRepo) Create(_ context.Context, s *domain.SessionRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	s.ID = r.nextID
	s.CreatedAt = time.Now()
	r.records[s.TokenID] = s
	return nil
}

func (r *memorySessionRepo) FindByTokenID(_ context.Context, tokenID string) (*domain.SessionRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.records[tokenID]
	if !ok {
		return nil, repository.ErrSessionNotFound
	}
	copied := *s
	return &copied, nil
}

func (r *memorySessionRepo) RevokeByTokenID(_ context.Context, tokenID, reason string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.records[tokenID]
	if !ok || s.RevokedAt != nil {
		return false, nil
	}
	now := time.Now()
	s.RevokedAt = &now
	s.RevokedReason = &reason
	return true, nil
}

func (r *memorySessionRepo) ListActiveByUserID(_ context.Context, userID uint) ([]domain.SessionRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.SessionRecord
	for _, s := range r.records {
		if s.UserID == userID && s.RevokedAt == nil && s.ExpiresAt.After(time.Now()) {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (r *memorySessionRepo) CleanupExpired(_ context.Context) (int64, error) { return 0, nil }

func newTestAuthority(t *testing.T) *service.SessionAuthority {
	t.Helper()
	tokens := security.NewTokenAuthority("sentinel", "sentinel-web",
		"0123456789abcdef0123456789abcdef", time.Hour)
	return service.NewSessionAuthority(tokens, security.NewInMemoryRevocationSet(), newMemorySessionRepo())
}

func issueToken(t *testing.T, authority *service.SessionAuthority, identity domain.Identity) string {
	t.Helper()
	issued, err := authority.Issue(context.Background(), identity, "ua", "1.2.3.4")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	return issued.Token
}

func okHandler(t *testing.T, sawIdentity *domain.Identity) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if sawIdentity != nil {
			identity, ok := IdentityFromContext(r.Context())
			if !ok {
				t.Error("expected identity in context")
			}
			*sawIdentity = identity
		}
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuthRejectsMissingToken(t *testing.T) {
	authority := newTestAuthority(t)
	h := Auth(authority, testCookie)(okHandler(t, nil))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestAuthRejectsGarbageToken(t *testing.T) {
	authority := newTestAuthority(t)
	h := Auth(authority, testCookie)(okHandler(t, nil))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer not.a.token")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestAuthAcceptsCookieAndBearer(t *testing.T) {
	authority := newTestAuthority(t)
	token := issueToken(t, authority, domain.Identity{UserID: 7, Username: "mallory"})

	var saw domain.Identity
	h := Auth(authority, testCookie)(okHandler(t, &saw))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: testCookie, Value: token})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("cookie auth: expected 200, got %d", rec.Code)
	}
	if saw.UserID != 7 {
		t.Fatalf("expected identity 7 in context, got %+v", saw)
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("bearer auth: expected 200, got %d", rec.Code)
	}
}

func TestAuthRejectsRevokedToken(t *testing.T) {
	authority := newTestAuthority(t)
	token := issueToken(t, authority, domain.Identity{UserID: 7})
	if err := authority.Revoke(context.Background(), token, "logout"); err != nil {
		t.Fatalf("revoke: %v", err)
	}

	h := Auth(authority, testCookie)(okHandler(t, nil))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestAuthRejectsBannedAccount(t *testing.T) {
	authority := newTestAuthority(t)
	token := issueToken(t, authority, domain.Identity{UserID: 7, IsBanned: true})

	h := Auth(authority, testCookie)(okHandler(t, nil))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestRequireAdmin(t *testing.T) {
	cases := []struct {
		name     string
		identity domain.Identity
		want     int
	}{
		{"regular user", domain.Identity{UserID: 1}, http.StatusForbidden},
		{"admin", domain.Identity{UserID: 2, IsAdmin: true}, http.StatusOK},
		{"site owner", domain.Identity{UserID: 3, IsSiteOwner: true}, http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := RequireAdmin(okHandler(t, nil))
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			ctx := context.WithValue(req.Context(), identityContextKey, tc.identity)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req.WithContext(ctx))
			if rec.Code != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, rec.Code)
			}
		})
	}

	// no auth context at all
	rec := httptest.NewRecorder()
	RequireAdmin(okHandler(t, nil)).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without auth context, got %d", rec.Code)
	}
}

type erroringLimiter struct{ err error }

func (l erroringLimiter) Allow(context.Context, string, ratelimit.Class) (bool, error) {
	return false, l.err
}

func (l erroringLimiter) RemainingTime(context.Context, string, ratelimit.Class) (time.Duration, error) {
	return 0, l.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRateLimiterAllowsThenThrottles(t *testing.T) {
	class := ratelimit.Class{Name: "login", Limit: 2, Window: time.Minute}
	rl := NewRateLimiter(ratelimit.NewFixedWindowLimiter(), class, FailClosed, nil, testLogger())
	h := rl.Middleware()(okHandler(t, nil))

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("attempt %d: expected 200, got %d", i+1, rec.Code)
		}
	}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatal("expected Retry-After header")
	}
	var body struct {
		Error struct {
			Code    string         `json:"code"`
			Details map[string]any `json:"details"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Error.Code != "RATE_LIMITED" {
		t.Fatalf("expected RATE_LIMITED, got %q", body.Error.Code)
	}
	if _, ok := body.Error.Details["retry_after"]; !ok {
		t.Fatal("expected retry_after detail")
	}

	// a different client is unaffected
	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/", nil)
	req.RemoteAddr = "10.0.0.2:1234"
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected other client admitted, got %d", rec.Code)
	}
}

func TestRateLimiterFailureModes(t *testing.T) {
	class := ratelimit.Class{Name: "login", Limit: 2, Window: time.Minute}
	broken := erroringLimiter{err: context.DeadlineExceeded}

	open := NewRateLimiter(broken, class, FailOpen, nil, testLogger()).Middleware()(okHandler(t, nil))
	rec := httptest.NewRecorder()
	open.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("fail-open: expected 200, got %d", rec.Code)
	}

	closed := NewRateLimiter(broken, class, FailClosed, nil, testLogger()).Middleware()(okHandler(t, nil))
	rec = httptest.NewRecorder()
	closed.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("fail-closed: expected 429, got %d", rec.Code)
	}
}

func TestIdentityOrIPKey(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.9:5555"
	if got := IdentityOrIPKey(req); got != "10.0.0.9" {
		t.Fatalf("expected ip key, got %q", got)
	}

	ctx := context.WithValue(req.Context(), identityContextKey, domain.Identity{UserID: 42})
	if got := IdentityOrIPKey(req.WithContext(ctx)); got != "user:42" {
		t.Fatalf("expected user key, got %q", got)
	}
}

func TestRequestIDGeneratesAndMirrors(t *testing.T) {
	var inner string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		inner = r.Header.Get("X-Request-Id")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if inner == "" || rec.Header().Get("X-Request-Id") != inner {
		t.Fatalf("expected generated id mirrored, inner=%q header=%q", inner, rec.Header().Get("X-Request-Id"))
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-Id", "req-caller")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if inner != "req-caller" || rec.Header().Get("X-Request-Id") != "req-caller" {
		t.Fatal("expected caller-supplied id honored")
	}
}

func TestSecurityHeaders(t *testing.T) {
	h := SecurityHeaders(okHandler(t, nil))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	for header, want := range map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
		"Referrer-Policy":        "no-referrer",
		"Cache-Control":          "no-store",
	} {
		if got := rec.Header().Get(header); got != want {
			t.Fatalf("%s: expected %q, got %q", header, want, got)
		}
	}
}

func TestCeilSeconds(t *testing.T) {
	cases := []struct {
		in   time.Duration
		want int64
	}{
		{0, 1},
		{300 * time.Millisecond, 1},
		{time.Second, 1},
		{1500 * time.Millisecond, 2},
		{time.Minute, 60},
	}
	for _, tc := range cases {
		if got := ceilSeconds(tc.in); got != tc.want {
			t.Fatalf("ceilSeconds(%s): expected %d, got %d", tc.in, tc.want, got)
		}
	}
}
