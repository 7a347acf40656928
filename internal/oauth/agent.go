// Package oauth authenticates group mail senders from OAuth 2.0 bearer
// tokens. The validated token doubles as the session credential the
// privileged helper submits mail with.
package oauth

import (
	"context"
	"errors"
	"time"
)

// Common errors returned by Agent implementations.
var (
	ErrTokenExpired     = errors.New("token expired")
	ErrTokenInvalid     = errors.New("token invalid")
	ErrIssuerMismatch   = errors.New("issuer mismatch")
	ErrAudienceMismatch = errors.New("audience mismatch")
	ErrDomainNotAllowed = errors.New("domain not allowed")
	ErrUsernameMissing  = errors.New("username claim missing")
)

// Identity is an authenticated user.
type Identity struct {
	// Account is the directory account name of the user.
	Account string
	// Username is the raw value of the username claim.
	Username string
	Expiry   time.Time
}

// Agent validates bearer tokens.
type Agent interface {
	// Authenticate validates token and returns who it belongs to.
	Authenticate(ctx context.Context, token string) (Identity, error)

	// Close releases any resources held by the agent.
	Close() error
}
