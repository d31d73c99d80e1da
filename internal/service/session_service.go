package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/breakroom-labs/sentinel/internal/domain"
	"github.com/breakroom-labs/sentinel/internal/observability"
	"github.com/breakroom-labs/sentinel/internal/repository"
	"github.com/breakroom-labs/sentinel/internal/security"
)

var ErrTokenRevoked = errors.New("session token revoked")

// IssuedSession is the result of a successful login.
type IssuedSession struct {
	Token     string    `json:"token"`
	TokenID   string    `json:"-"`
	ExpiresAt time.Time `json:"expires_at"`
}

type SessionView struct {
	ID        uint       `json:"id"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt time.Time  `json:"expires_at"`
	RevokedAt *time.Time `json:"revoked_at,omitempty"`
	UserAgent string     `json:"user_agent"`
	IP        string     `json:"ip"`
	IsCurrent bool       `json:"is_current"`
}

// SessionAuthority issues, verifies and revokes session tokens. Verification
// consults both the revocation deny-list and the store-backed session record,
// and fails closed on any doubt.
type SessionAuthority struct {
	tokens      *security.TokenAuthority
	revoked     security.RevocationSet
	sessionRepo repository.SessionRepository
}

func NewSessionAuthority(tokens *security.TokenAuthority, revoked security.RevocationSet, sessionRepo repository.SessionRepository) *SessionAuthority {
	return &SessionAuthority{tokens: tokens, revoked: revoked, sessionRepo: sessionRepo}
}

func (a *SessionAuthority) TokenTTL() time.Duration { return a.tokens.TTL() }

func (a *SessionAuthority) Issue(ctx context.Context, identity domain.Identity, ua, ip string) (*IssuedSession, error) {
	raw, claims, err := a.tokens.Sign(identity)
	if err != nil {
		return nil, fmt.Errorf("sign session token: %w", err)
	}
	record := &domain.SessionRecord{
		UserID:    identity.UserID,
		TokenID:   claims.ID,
		UserAgent: ua,
		IP:        ip,
		ExpiresAt: claims.ExpiresAt.Time,
	}
	if err := a.sessionRepo.Create(ctx, record); err != nil {
		return nil, fmt.Errorf("persist session record: %w", err)
	}
	return &IssuedSession{Token: raw, TokenID: claims.ID, ExpiresAt: claims.ExpiresAt.Time}, nil
}

func (a *SessionAuthority) Verify(ctx context.Context, raw string) (domain.Identity, *security.Claims, error) {
	claims, err := a.tokens.Parse(raw)
	if err != nil {
		observability.RecordTokenVerification(ctx, "invalid", "parse")
		return domain.Identity{}, nil, security.ErrInvalidToken
	}

	revoked, err := a.revoked.IsRevoked(ctx, claims.ID)
	if err != nil {
		observability.RecordTokenVerification(ctx, "error", "deny_list")
		return domain.Identity{}, nil, fmt.Errorf("check token revocation: %w", err)
	}
	if revoked {
		observability.RecordTokenVerification(ctx, "revoked", "deny_list")
		return domain.Identity{}, nil, ErrTokenRevoked
	}

	record, err := a.sessionRepo.FindByTokenID(ctx, claims.ID)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			observability.RecordTokenVerification(ctx, "invalid", "store")
			return domain.Identity{}, nil, security.ErrInvalidToken
		}
		observability.RecordTokenVerification(ctx, "error", "store")
		return domain.Identity{}, nil, fmt.Errorf("load session record: %w", err)
	}
	if record.RevokedAt != nil {
		observability.RecordTokenVerification(ctx, "revoked", "store")
		return domain.Identity{}, nil, ErrTokenRevoked
	}

	identity, err := claims.Identity()
	if err != nil {
		observability.RecordTokenVerification(ctx, "invalid", "claims")
		return domain.Identity{}, nil, security.ErrInvalidToken
	}
	observability.RecordTokenVerification(ctx, "valid", "")
	return identity, claims, nil
}

// Revoke kills a token before its natural expiry. The deny-list entry lives
// only as long as the token would have, which bounds the set's size.
func (a *SessionAuthority) Revoke(ctx context.Context, raw, reason string) error {
	claims, err := a.tokens.Parse(raw)
	if err != nil {
		return security.ErrInvalidToken
	}
	if err := a.revoked.Revoke(ctx, claims.ID, time.Until(claims.ExpiresAt.Time)); err != nil {
		return fmt.Errorf("deny-list token: %w", err)
	}
	if _, err := a.sessionRepo.RevokeByTokenID(ctx, claims.ID, reason); err != nil {
		return fmt.Errorf("revoke session record: %w", err)
	}
	return nil
}

func (a *SessionAuthority) ActiveSessions(ctx context.Context, userID uint, currentTokenID string) ([]SessionView, error) {
	sessions, err := a.sessionRepo.ListActiveByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	views := make([]SessionView, 0, len(sessions))
	for _, s := range sessions {
		views = append(views, SessionView{
			ID:        s.ID,
			CreatedAt: s.CreatedAt,
			ExpiresAt: s.ExpiresAt,
			RevokedAt: s.RevokedAt,
			UserAgent: s.UserAgent,
			IP:        s.IP,
			IsCurrent: s.TokenID == currentTokenID,
		})
	}
	return views, nil
}

// CleanupExpired removes session records past their expiry. Run periodically
// by the background sweeper.
func (a *SessionAuthority) CleanupExpired(ctx context.Context) (int64, error) {
	return a.sessionRepo.CleanupExpired(ctx)
}
