// Package session gates the intake API behind a single configured operator
// credential. A successful login issues a signed session token; logout
// revokes it. The gate is a convenience for a front-desk workstation and is
// not a security boundary.
package session

import (
	"context"
	"errors"
	"time"
)

var (
	ErrUsernameRequired   = errors.New("username is required")
	ErrPasswordRequired   = errors.New("password is required")
	ErrInvalidCredentials = errors.New("invalid username or password")
	// ErrNoSession is returned when a request carries no usable session.
	ErrNoSession = errors.New("no active session")
)

// Session is an operator session. The zero value is the empty,
// unauthenticated session.
type Session struct {
	ID        string    `json:"id,omitempty"`
	User      string    `json:"user,omitempty"`
	IssuedAt  time.Time `json:"issued_at,omitempty"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

// Authenticated reports whether s belongs to a logged-in operator.
func (s Session) Authenticated() bool {
	return s.User != ""
}

// Expired reports whether s has passed its expiry at now.
func (s Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

type ctxKey struct{}

// WithSession returns a copy of ctx carrying s.
func WithSession(ctx context.Context, s Session) context.Context {
	return context.WithValue(ctx, ctxKey{}, s)
}

// FromContext returns the session stored by the session middleware.
func FromContext(ctx context.Context) (Session, bool) {
	s, ok := ctx.Value(ctxKey{}).(Session)
	return s, ok && s.Authenticated()
}
