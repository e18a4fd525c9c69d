package session

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// Authenticator checks operator credentials against the single configured
// username and password.
type Authenticator struct {
	username string
	hash     []byte
}

// NewAuthenticator hashes password with the given bcrypt cost. A cost of 0
// uses bcrypt.DefaultCost.
func NewAuthenticator(username, password string, cost int) (*Authenticator, error) {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return nil, fmt.Errorf("hash operator password: %w", err)
	}
	return &Authenticator{username: username, hash: hash}, nil
}

// NewAuthenticatorWithHash uses a precomputed bcrypt hash.
func NewAuthenticatorWithHash(username string, hash []byte) (*Authenticator, error) {
	if _, err := bcrypt.Cost(hash); err != nil {
		return nil, fmt.Errorf("invalid password hash: %w", err)
	}
	return &Authenticator{username: username, hash: hash}, nil
}

// Authenticate verifies a login attempt. Both fields are required before
// the credentials are compared; missing fields are all reported, joined.
func (a *Authenticator) Authenticate(username, password string) error {
	var errs []error
	if strings.TrimSpace(username) == "" {
		errs = append(errs, ErrUsernameRequired)
	}
	if password == "" {
		errs = append(errs, ErrPasswordRequired)
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(a.username)) == 1
	passErr := bcrypt.CompareHashAndPassword(a.hash, []byte(password))
	if !userOK || passErr != nil {
		return ErrInvalidCredentials
	}
	return nil
}
