package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	keyfunc "github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
)

// StaticConfig controls validation for manual (non-discovery) JWT
// bearer tokens. The caller supplies issuer, one or more expected
// audiences, and a JWKS URI.
type StaticConfig struct {
	Issuer            string
	ExpectedAudiences []string
	RequiredScopes    []string
	// ScopeModeAny accepts any of RequiredScopes instead of all.
	ScopeModeAny bool
	AllowedAlgs  []string
	Leeway       time.Duration
}

// DefaultStaticConfig returns a StaticConfig with safe algorithm and
// leeway defaults.
func DefaultStaticConfig() *StaticConfig {
	return &StaticConfig{AllowedAlgs: []string{"RS256"}, Leeway: 60 * time.Second}
}

type staticAuthenticator struct {
	cfg     *StaticConfig
	keyfunc jwt.Keyfunc
}

var _ Authenticator = (*staticAuthenticator)(nil)

// NewStatic constructs an authenticator that validates JWT bearer
// tokens against a statically configured issuer, audiences and JWKS URI
// (no discovery). Keys are auto-refreshed.
func NewStatic(ctx context.Context, cfg *StaticConfig, jwksURI string) (Authenticator, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if cfg.Issuer == "" {
		return nil, errors.New("issuer is required")
	}
	if len(cfg.ExpectedAudiences) == 0 {
		return nil, errors.New("at least one expected audience required")
	}
	if jwksURI == "" {
		return nil, errors.New("jwks uri required")
	}
	if len(cfg.AllowedAlgs) == 0 {
		cfg.AllowedAlgs = []string{"RS256"}
	}
	if cfg.Leeway == 0 {
		cfg.Leeway = 60 * time.Second
	}

	kf, err := keyfunc.NewDefaultCtx(ctx, []string{jwksURI})
	if err != nil {
		return nil, fmt.Errorf("jwks init failed: %w", err)
	}

	return &staticAuthenticator{cfg: cfg, keyfunc: allowedAlgsKeyfunc(cfg.AllowedAlgs, kf.Keyfunc)}, nil
}

// allowedAlgsKeyfunc rejects tokens signed with an algorithm outside
// the allow list before any key lookup happens.
func allowedAlgsKeyfunc(algs []string, next jwt.Keyfunc) jwt.Keyfunc {
	return func(t *jwt.Token) (any, error) {
		alg := t.Method.Alg()
		for _, a := range algs {
			if alg == a {
				return next(t)
			}
		}
		return nil, fmt.Errorf("disallowed alg: %s", alg)
	}
}

func (a *staticAuthenticator) CheckAuthentication(ctx context.Context, tok string) (UserInfo, error) {
	if tok == "" {
		return nil, ErrUnauthorized
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods(a.cfg.AllowedAlgs),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(a.cfg.Issuer),
		jwt.WithLeeway(a.cfg.Leeway),
	)
	parsed, err := parser.Parse(tok, a.keyfunc)
	if err != nil {
		return nil, fmt.Errorf("%w: token parse/verify failed: %v", ErrUnauthorized, err)
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errors.New("invalid claims type")
	}
	if !audIntersects(claims["aud"], a.cfg.ExpectedAudiences) {
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
