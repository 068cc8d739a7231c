package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
)

type mockOIDC struct {
	srv      *httptest.Server
	issuer   string
	jwksPath string
}

func newMockOIDC(t *testing.T, keysJSON []byte) *mockOIDC {
	t.Helper()
	m := &mockOIDC{jwksPath: "/keys"}
	handler := http.NewServeMux()
	handler.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"issuer":   m.issuer,
			"jwks_uri": m.issuer + m.jwksPath,
		})
	})
	handler.HandleFunc(m.jwksPath, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(keysJSON)
	})
	m.srv = httptest.NewServer(handler)
	m.issuer = m.srv.URL
	t.Cleanup(m.srv.Close)
	return m
}

func genRSA(t *testing.T) (*rsa.PrivateKey, string, []byte) {
	t.Helper()
	pk, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("gen key: %v", err)
	}
	kid := "test-key"
	jwk := jose.JSONWebKey{Key: &pk.PublicKey, KeyID: kid, Algorithm: "RS256", Use: "sig"}
	set := struct {
		Keys []jose.JSONWebKey `json:"keys"`
	}{Keys: []jose.JSONWebKey{jwk}}
	b, err := json.Marshal(set)
	if err != nil {
		t.Fatalf("marshal jwks: %v", err)
	}
	return pk, kid, b
}

func signToken(t *testing.T, pk *rsa.PrivateKey, kid string, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = kid
	s, err := tok.SignedString(pk)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return s
}

func baseClaims(issuer, aud string) jwt.MapClaims {
	now := time.Now()
	return jwt.MapClaims{
		"iss":   issuer,
		"sub":   "user-123",
		"aud":   aud,
		"exp":   now.Add(time.Hour).Unix(),
		"iat":   now.Unix(),
		"scope": "repl:eval repl:admin",
	}
}

func TestDiscoveryHappyPath(t *testing.T) {
	pk, kid, jwks := genRSA(t)
	srv := newMockOIDC(t, jwks)

	aud := "https://repl.example.com"
	cfg := DefaultDiscoveryConfig()
	cfg.Issuer = srv.issuer
	cfg.ExpectedAudiences = []string{aud}
	cfg.RequiredScopes = []string{"repl:eval"}

	a, err := NewFromDiscovery(context.Background(), cfg)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	ui, err := a.CheckAuthentication(context.Background(), signToken(t, pk, kid, baseClaims(srv.issuer, aud)))
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if ui.UserID() != "user-123" {
		t.Fatalf("user id = %q", ui.UserID())
	}

	var claims struct {
		Scope string `json:"scope"`
	}
	if err := ui.Claims(&claims); err != nil {
		t.Fatalf("claims: %v", err)
	}
	if claims.Scope != "repl:eval repl:admin" {
		t.Fatalf("scope = %q", claims.Scope)
	}
}

func TestDiscoveryRejectsWrongAudience(t *testing.T) {
	pk, kid, jwks := genRSA(t)
	srv := newMockOIDC(t, jwks)

	cfg := DefaultDiscoveryConfig()
	cfg.Issuer = srv.issuer
	cfg.ExpectedAudiences = []string{"https://repl.example.com"}

	a, err := NewFromDiscovery(context.Background(), cfg)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	_, err = a.CheckAuthentication(context.Background(), signToken(t, pk, kid, baseClaims(srv.issuer, "https://other.example.com")))
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("err = %v", err)
	}
}

func TestDiscoveryRejectsExpired(t *testing.T) {
	pk, kid, jwks := genRSA(t)
	srv := newMockOIDC(t, jwks)

	aud := "https://repl.example.com"
	cfg := DefaultDiscoveryConfig()
	cfg.Issuer = srv.issuer
	cfg.ExpectedAudiences = []string{aud}
	cfg.Leeway = time.Second

	a, err := NewFromDiscovery(context.Background(), cfg)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	claims := baseClaims(srv.issuer, aud)
	claims["exp"] = time.Now().Add(-time.Hour).Unix()
	_, err = a.CheckAuthentication(context.Background(), signToken(t, pk, kid, claims))
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("err = %v", err)
	}
}

func TestDiscoveryInsufficientScope(t *testing.T) {
	pk, kid, jwks := genRSA(t)
	srv := newMockOIDC(t, jwks)

	aud := "https://repl.example.com"
	cfg := DefaultDiscoveryConfig()
	cfg.Issuer = srv.issuer
	cfg.ExpectedAudiences = []string{aud}
	cfg.RequiredScopes = []string{"repl:superuser"}

	a, err := NewFromDiscovery(context.Background(), cfg)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	_, err = a.CheckAuthentication(context.Background(), signToken(t, pk, kid, baseClaims(srv.issuer, aud)))
	if !errors.Is(err, ErrInsufficientScope) {
		t.Fatalf("err = %v", err)
	}
}

func TestStaticHappyPath(t *testing.T) {
	pk, kid, jwks := genRSA(t)
	srv := newMockOIDC(t, jwks)

	aud := "https://repl.example.com"
	cfg := DefaultStaticConfig()
	cfg.Issuer = srv.issuer
	cfg.ExpectedAudiences = []string{aud}

	a, err := NewStatic(context.Background(), cfg, srv.issuer+srv.jwksPath)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	ui, err := a.CheckAuthentication(context.Background(), signToken(t, pk, kid, baseClaims(srv.issuer, aud)))
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if ui.UserID() != "user-123" {
		t.Fatalf("user id = %q", ui.UserID())
	}
}

func TestStaticRejectsGarbage(t *testing.T) {
	_, _, jwks := genRSA(t)
	srv := newMockOIDC(t, jwks)

	cfg := DefaultStaticConfig()
	cfg.Issuer = srv.issuer
	cfg.ExpectedAudiences = []string{"aud"}

	a, err := NewStatic(context.Background(), cfg, srv.issuer+srv.jwksPath)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	if _, err := a.CheckAuthentication(context.Background(), "not.a.jwt"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("err = %v", err)
	}
}

func TestScopeModeAny(t *testing.T) {
	claims := map[string]any{"scope": "repl:eval"}
	if err := checkScopes(claims, []string{"repl:admin", "repl:eval"}, true); err != nil {
		t.Fatalf("any-of mode rejected: %v", err)
	}
	if err := checkScopes(claims, []string{"repl:admin", "repl:eval"}, false); !errors.Is(err, ErrInsufficientScope) {
		t.Fatalf("all-of mode passed: %v", err)
	}
}
