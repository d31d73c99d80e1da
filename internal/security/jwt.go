package security

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/breakroom-labs/sentinel/internal/domain"
)

var ErrInvalidToken = errors.New("invalid session token")

type Claims struct {
	Username    string `json:"username"`
	IsAdmin     bool   `json:"is_admin,omitempty"`
	IsSiteOwner bool   `json:"is_site_owner,omitempty"`
	IsBanned    bool   `json:"is_banned,omitempty"`
	jwt.RegisteredClaims
}

// Identity rebuilds the caller identity carried in the claims.
func (c *Claims) Identity() (domain.Identity, error) {
	var userID uint
	if _, err := fmt.Sscanf(c.Subject, "%d", &userID); err != nil {
		return domain.Identity{}, ErrInvalidToken
	}
	return domain.Identity{
		UserID:      userID,
		Username:    c.Username,
		IsAdmin:     c.IsAdmin,
		IsSiteOwner: c.IsSiteOwner,
		IsBanned:    c.IsBanned,
	}, nil
}

// TokenAuthority signs and parses session tokens. Parsing fails closed: a
// malformed, mis-signed, mistyped or expired token never yields a partial
// identity.
type TokenAuthority struct {
	issuer   string
	audience string
	secret   []byte
	ttl      time.Duration
}

func NewTokenAuthority(issuer, audience, secret string, ttl time.Duration) *TokenAuthority {
	return &TokenAuthority{
		issuer:   issuer,
		audience: audience,
		secret:   []byte(secret),
		ttl:      ttl,
	}
}

func (a *TokenAuthority) TTL() time.Duration { return a.ttl }

// Sign issues a session token for the given identity. The returned claims
// carry the generated token id (jti) and the computed expiry.
func (a *TokenAuthority) Sign(identity domain.Identity) (string, *Claims, error) {
	now := time.Now()
	claims := &Claims{
		Username:    identity.Username,
		IsAdmin:     identity.IsAdmin,
		IsSiteOwner: identity.IsSiteOwner,
		IsBanned:    identity.IsBanned,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    a.issuer,
			Subject:   fmt.Sprintf("%d", identity.UserID),
			Audience:  []string{a.audience},
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        uuid.NewString(),
		},
	}
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", nil, err
	}
	return raw, claims, nil
}

func (a *TokenAuthority) Parse(raw string) (*Claims, error) {
	claims := &Claims{}
	tok, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (any, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing algorithm")
		}
		return a.secret, nil
	}, jwt.WithIssuer(a.issuer), jwt.WithAudience(a.audience))
	if err != nil {
		return nil, ErrInvalidToken
	}
	if !tok.Valid {
		return nil, ErrInvalidToken
	}
	if claims.ID == "" || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
