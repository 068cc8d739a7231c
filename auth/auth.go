// Package auth defines the authentication contract for network
// transports and provides JWT bearer-token authenticators: one driven
// by OIDC discovery and one against a statically configured JWKS
// endpoint. The stdio transport never authenticates; the HTTP transport
// requires an Authenticator unless explicitly configured without one.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
)

// ErrUnauthorized indicates authentication failed or no valid
// credentials were supplied.
var ErrUnauthorized = errors.New("unauthorized")

// ErrInsufficientScope indicates the caller authenticated but lacks a
// required scope.
var ErrInsufficientScope = errors.New("insufficient scope")

// UserInfo represents an authenticated principal.
// Implementations should be lightweight and safe for concurrent use.
type UserInfo interface {
	// UserID returns the unique identifier for the user.
	UserID() string
	// Claims unmarshals the user's claims into the provided struct
	// reference.
	Claims(ref any) error
}

// Authenticator validates bearer tokens and returns associated user
// info. It should return ErrUnauthorized for invalid credentials.
type Authenticator interface {
	CheckAuthentication(ctx context.Context, tok string) (UserInfo, error)
}

// userInfo is the concrete claims carrier shared by the JWT
// authenticators.
type userInfo struct {
	sub    string
	claims map[string]any
}

func (u *userInfo) UserID() string { return u.sub }

func (u *userInfo) Claims(ref any) error {
	b, err := json.Marshal(u.claims)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, ref)
}

// checkScopes enforces the scope policy over the token's space-separated
// scope claim.
func checkScopes(claims map[string]any, required []string, anyOf bool) error {
	if len(required) == 0 {
		return nil
	}
	have := map[string]bool{}
	if raw, _ := claims["scope"].(string); raw != "" {
		for _, s := range strings.Fields(raw) {
			have[s] = true
		}
	}
	matched := 0
	for _, want := range required {
		if have[want] {
			matched++
		}
	}
	if anyOf && matched > 0 {
		return nil
	}
	if !anyOf && matched == len(required) {
		return nil
	}
	return ErrInsufficientScope
}

func audIntersects(aud any, wants []string) bool {
	wantSet := map[string]struct{}{}
	for _, w := range wants {
		wantSet[w] = struct{}{}
	}
	switch v := aud.(type) {
	case string:
		_, ok := wantSet[v]
		return ok
	case []any:
		for _, e := range v {
			if s, ok := e.(string); ok {
				if _, ok2 := wantSet[s]; ok2 {
					return true
				}
			}
		}
	case []string:
		for _, s := range v {
			if _, ok := wantSet[s]; ok {
				return true
			}
		}
	}
	return false
}
