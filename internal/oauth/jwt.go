package oauth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

// JWTAgent validates JWT bearer tokens against a JWKS.
type JWTAgent struct {
	keySet         jwk.Set
	cache          *jwk.Cache
	cancel         context.CancelFunc
	jwksURL        string
	issuer         string
	audience       string
	usernameClaim  string
	allowedDomains map[string]bool
}

// JWTAgentConfig holds configuration for creating a JWTAgent.
type JWTAgentConfig struct {
	JWKSURL         string
	Issuer          string
	Audience        string
	UsernameClaim   string
	RefreshInterval time.Duration
	// AllowedDomains, when set, requires usernames of the form
	// account@domain with domain in the list. The account part is then
	// used as the directory account.
	AllowedDomains []string
}

// NewJWTAgent fetches the JWKS and keeps it refreshed until Close.
func NewJWTAgent(ctx context.Context, cfg JWTAgentConfig) (*JWTAgent, error) {
	if cfg.JWKSURL == "" {
		return nil, fmt.Errorf("JWKS URL is required")
	}
	if cfg.Issuer == "" {
		return nil, fmt.Errorf("issuer is required")
	}
	if cfg.Audience == "" {
		return nil, fmt.Errorf("audience is required")
	}

	if cfg.UsernameClaim == "" {
		cfg.UsernameClaim = "preferred_username"
	}
	if cfg.RefreshInterval == 0 {
		cfg.RefreshInterval = time.Hour
	}

	cacheCtx, cancel := context.WithCancel(context.Background())
	cache := jwk.NewCache(cacheCtx)
	if err := cache.Register(cfg.JWKSURL, jwk.WithMinRefreshInterval(cfg.RefreshInterval)); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to register JWKS URL: %w", err)
	}

	keySet, err := cache.Refresh(ctx, cfg.JWKSURL)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to fetch JWKS: %w", err)
	}

	allowedDomains := make(map[string]bool)
	for _, d := range cfg.AllowedDomains {
		allowedDomains[strings.ToLower(d)] = true
	}

	return &JWTAgent{
		keySet:         keySet,
		cache:          cache,
		cancel:         cancel,
		jwksURL:        cfg.JWKSURL,
		issuer:         cfg.Issuer,
		audience:       cfg.Audience,
		usernameClaim:  cfg.UsernameClaim,
		allowedDomains: allowedDomains,
	}, nil
}

// Authenticate validates a JWT bearer token.
func (a *JWTAgent) Authenticate(ctx context.Context, token string) (Identity, error) {
	keySet, err := a.cache.Get(ctx, a.jwksURL)
	if err != nil {
		// Keep serving with the last known keys while the IdP is unreachable.
		keySet = a.keySet
	}

	parsed, err := jwt.Parse(
		[]byte(token),
		jwt.WithKeySet(keySet),
		jwt.WithValidate(true),
		jwt.WithIssuer(a.issuer),
		jwt.WithAudience(a.audience),
	)
	if err != nil {
		return Identity{}, classify(err)
	}

	username, err := a.extractUsername(parsed)
	if err != nil {
		return Identity{}, err
	}

	id := Identity{
		Account:  username,
		Username: username,
		Expiry:   parsed.Expiration(),
	}

	if len(a.allowedDomains) > 0 {
		account, domain := splitEmail(username)
		if account == "" || !a.allowedDomains[strings.ToLower(domain)] {
			return Identity{}, ErrDomainNotAllowed
		}
		id.Account = account
	}

	return id, nil
}

// classify maps jwx validation failures onto the package errors.
func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired()):
		return ErrTokenExpired
	case errors.Is(err, jwt.ErrInvalidIssuer()):
		return ErrIssuerMismatch
	case errors.Is(err, jwt.ErrInvalidAudience()):
		return ErrAudienceMismatch
	}
	return fmt.Errorf("%w: %v", ErrTokenInvalid, err)
}

// extractUsername reads the configured claim, falling back to the usual
// username claims.
func (a *JWTAgent) extractUsername(token jwt.Token) (string, error) {
	claims := []string{a.usernameClaim, "preferred_username", "uid", "email", "sub"}
	for _, claim := range claims {
		if val, ok := token.Get(claim); ok {
			if username, ok := val.(string); ok && username != "" {
				return username, nil
			}
		}
	}
	return "", ErrUsernameMissing
}

// Close stops the background JWKS refresh.
func (a *JWTAgent) Close() error {
	a.cancel()
	return nil
}

// splitEmail splits user@domain. Both parts are empty unless both are
// present.
func splitEmail(email string) (string, string) {
	idx := strings.LastIndex(email, "@")
	if idx <= 0 || idx == len(email)-1 {
		return "", ""
	}
	return email[:idx], email[idx+1:]
}
