package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	keyfunc "github.com/MicahParks/keyfunc/v3"
	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
)

// DiscoveryConfig controls validation for tokens whose issuer supports
// OIDC discovery.
type DiscoveryConfig struct {
	Issuer            string
	ExpectedAudiences []string
	RequiredScopes    []string
	// ScopeModeAny accepts any of RequiredScopes instead of all.
	ScopeModeAny bool
	AllowedAlgs  []string
	Leeway       time.Duration
}

// DefaultDiscoveryConfig returns a DiscoveryConfig with safe algorithm
// and leeway defaults.
func DefaultDiscoveryConfig() *DiscoveryConfig {
	return &DiscoveryConfig{AllowedAlgs: []string{"RS256"}, Leeway: 60 * time.Second}
}

type discoveryAuthenticator struct {
	cfg     *DiscoveryConfig
	issuer  string
	keyfunc jwt.Keyfunc
}

var _ Authenticator = (*discoveryAuthenticator)(nil)

// NewFromDiscovery performs OIDC discovery to obtain the issuer's
// jwks_uri and constructs an Authenticator that validates bearer tokens
// under the configured policies. JWKS keys are auto-refreshed.
func NewFromDiscovery(ctx context.Context, cfg *DiscoveryConfig) (Authenticator, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if cfg.Issuer == "" {
		return nil, errors.New("issuer is required")
	}
	if len(cfg.ExpectedAudiences) == 0 {
		return nil, errors.New("at least one expected audience required")
	}
	if len(cfg.AllowedAlgs) == 0 {
		cfg.AllowedAlgs = []string{"RS256"}
	}
	if cfg.Leeway == 0 {
		cfg.Leeway = 60 * time.Second
	}

	provider, err := oidc.NewProvider(ctx, cfg.Issuer)
	if err != nil {
		return nil, fmt.Errorf("oidc discovery failed: %w", err)
	}
	var meta struct {
		Issuer  string `json:"issuer"`
		JwksURI string `json:"jwks_uri"`
	}
	if err := provider.Claims(&meta); err != nil {
		return nil, fmt.Errorf("invalid discovery metadata: %w", err)
	}
	if meta.JwksURI == "" {
		return nil, errors.New("discovery incomplete: missing jwks_uri")
	}

	kf, err := keyfunc.NewDefaultCtx(ctx, []string{meta.JwksURI})
	if err != nil {
		return nil, fmt.Errorf("jwks init failed: %w", err)
	}

	return &discoveryAuthenticator{
		cfg:     cfg,
		issuer:  meta.Issuer,
		keyfunc: allowedAlgsKeyfunc(cfg.AllowedAlgs, kf.Keyfunc),
	}, nil
}

func (a *discoveryAuthenticator) CheckAuthentication(ctx context.Context, tok string) (UserInfo, error) {
	if tok == "" {
		return nil, ErrUnauthorized
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods(a.cfg.AllowedAlgs),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(a.issuer),
		jwt.WithLeeway(a.cfg.Leeway),
	}
	if len(a.cfg.ExpectedAudiences) == 1 {
		opts = append(opts, jwt.WithAudience(a.cfg.ExpectedAudiences[0]))
	}
	parsed, err := jwt.NewParser(opts...).Parse(tok, a.keyfunc)
	if err != nil {
		return nil, fmt.Errorf("%w: token parse/verify failed: %v", ErrUnauthorized, err)
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errors.New("invalid claims type")
	}
	if len(a.cfg.ExpectedAudiences) > 1 && !audIntersects(claims["aud"], a.cfg.ExpectedAudiences) {
		return nil, fmt.Errorf("%w: audience mismatch", ErrUnauthorized)
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return nil, fmt.Errorf("%w: missing sub", ErrUnauthorized)
	}
	if err := checkScopes(claims, a.cfg.RequiredScopes, a.cfg.ScopeModeAny); err != nil {
		return nil, err
	}
	return &userInfo{sub: sub, claims: claims}, nil
}
