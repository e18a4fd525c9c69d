package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const issuer = "intake"

// Manager issues and verifies HS256 session tokens.
type Manager struct {
	secret  []byte
	ttl     time.Duration
	revoked Revocations
	now     func() time.Time
}

// NewManager creates a token manager. revoked may be nil, in which case an
// in-memory revocation list is used.
func NewManager(secret []byte, ttl time.Duration, revoked Revocations) (*Manager, error) {
	if len(secret) < 16 {
		return nil, errors.New("session secret must be at least 16 bytes")
	}
	if ttl <= 0 {
		ttl = 8 * time.Hour
	}
	if revoked == nil {
		revoked = NewMemoryRevocations()
	}
	return &Manager{secret: secret, ttl: ttl, revoked: revoked, now: time.Now}, nil
}

// Issue starts a session for user and returns its signed token.
func (m *Manager) Issue(user string) (string, Session, error) {
	now := m.now().UTC().Truncate(time.Second)
	s := Session{
		ID:        uuid.New().String(),
		User:      user,
		IssuedAt:  now,
		ExpiresAt: now.Add(m.ttl),
	}
	claims := jwt.RegisteredClaims{
		ID:        s.ID,
		Subject:   s.User,
		Issuer:    issuer,
		IssuedAt:  jwt.NewNumericDate(s.IssuedAt),
		ExpiresAt: jwt.NewNumericDate(s.ExpiresAt),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", Session{}, fmt.Errorf("sign session token: %w", err)
	}
	return token, s, nil
}

// Verify parses token and checks that it has not been revoked.
func (m *Manager) Verify(ctx context.Context, token string) (Session, error) {
	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return m.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil || !parsed.Valid || claims.Subject == "" || claims.ID == "" {
		return Session{}, ErrNoSession
	}

	revoked, err := m.revoked.IsRevoked(ctx, claims.ID)
	if err != nil {
		return Session{}, fmt.Errorf("check session revocation: %w", err)
	}
	if revoked {
		return Session{}, ErrNoSession
	}

	s := Session{ID: claims.ID, User: claims.Subject}
	if claims.IssuedAt != nil {
		s.IssuedAt = claims.IssuedAt.Time.UTC()
	}
	s.ExpiresAt = claims.ExpiresAt.Time.UTC()
	return s, nil
}

// Revoke ends s. Tokens for s are rejected from then on.
func (m *Manager) Revoke(ctx context.Context, s Session) error {
	if !s.Authenticated() || s.ID == "" {
		return ErrNoSession
	}
	return m.revoked.Revoke(ctx, s.ID, s.ExpiresAt)
}
