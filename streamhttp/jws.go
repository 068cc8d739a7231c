package streamhttp

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"fmt"

	jose "github.com/go-jose/go-jose/v4"
)

// SignerVerifier provides the minimal JWS operations needed for session
// tokens.
type SignerVerifier interface {
	// Sign returns a compact JWS for the given payload using the active
	// key.
	Sign(payload []byte) (string, error)
	// Verify parses and verifies a compact JWS and returns its payload
	// and the kid used.
	Verify(token string) (payload []byte, kid string, err error)
}

// sessionToken binds a session id to the principal that created it, so
// that a bearer of someone else's session id cannot attach to it.
type sessionToken struct {
	SessionID string `json:"sid"`
	UserID    string `json:"uid,omitempty"`
}

func mintSessionToken(sv SignerVerifier, sessionID, userID string) (string, error) {
	payload, err := json.Marshal(sessionToken{SessionID: sessionID, UserID: userID})
	if err != nil {
		return "", err
	}
	return sv.Sign(payload)
}

func verifySessionToken(sv SignerVerifier, token string) (*sessionToken, error) {
	payload, _, err := sv.Verify(token)
	if err != nil {
		return nil, err
	}
	var st sessionToken
	if err := json.Unmarshal(payload, &st); err != nil {
		return nil, fmt.Errorf("invalid session token payload: %w", err)
	}
	if st.SessionID == "" {
		return nil, fmt.Errorf("session token missing session id")
	}
	return &st, nil
}

// MemoryJWS implements SignerVerifier using an in-memory set of Ed25519
// keys with a designated active key for signing.
type MemoryJWS struct {
	activeKid string
	privKeys  map[string]ed25519.PrivateKey
	pubKeys   map[string]ed25519.PublicKey
}

func NewMemoryJWS() *MemoryJWS {
	return &MemoryJWS{
		privKeys: make(map[string]ed25519.PrivateKey),
		pubKeys:  make(map[string]ed25519.PublicKey),
	}
}

// NewEphemeralJWS returns a MemoryJWS with a single freshly generated
// key. Tokens it signs do not survive a process restart.
func NewEphemeralJWS() (*MemoryJWS, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate session token key: %w", err)
	}
	m := NewMemoryJWS()
	m.AddEd25519Key("ephemeral", priv)
	if err := m.SetActive("ephemeral"); err != nil {
		return nil, err
	}
	return m, nil
}

// AddEd25519Key registers a key pair under kid. The active key is
// unchanged.
func (m *MemoryJWS) AddEd25519Key(kid string, priv ed25519.PrivateKey) {
	m.privKeys[kid] = priv
	m.pubKeys[kid] = priv.Public().(ed25519.PublicKey)
}

// SetActive selects the key used for signing.
func (m *MemoryJWS) SetActive(kid string) error {
	if _, ok := m.privKeys[kid]; !ok {
		return fmt.Errorf("unknown kid: %s", kid)
	}
	m.activeKid = kid
	return nil
}

func (m *MemoryJWS) ActiveKID() string { return m.activeKid }

func (m *MemoryJWS) Sign(payload []byte) (string, error) {
	if m.activeKid == "" {
		return "", fmt.Errorf("no active kid configured")
	}
	priv, ok := m.privKeys[m.activeKid]
	if !ok {
		return "", fmt.Errorf("active kid not found: %s", m.activeKid)
	}
	opts := (&jose.SignerOptions{}).WithType("JWT").WithHeader("kid", m.activeKid)
	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.EdDSA, Key: priv}, opts)
	if err != nil {
		return "", fmt.Errorf("failed to create signer: %w", err)
	}
	jws, err := signer.Sign(payload)
	if err != nil {
		return "", fmt.Errorf("failed to sign payload: %w", err)
	}
	compact, err := jws.CompactSerialize()
	if err != nil {
		return "", fmt.Errorf("failed to serialize jws: %w", err)
	}
	return compact, nil
}

func (m *MemoryJWS) Verify(token string) ([]byte, string, error) {
	jws, err := jose.ParseSigned(token, []jose.SignatureAlgorithm{jose.EdDSA})
	if err != nil {
		return nil, "", fmt.Errorf("failed to parse jws: %w", err)
	}
	if len(jws.Signatures) != 1 {
		return nil, "", fmt.Errorf("unexpected signatures: %d", len(jws.Signatures))
	}
	kid := jws.Signatures[0].Protected.KeyID
	pub, ok := m.pubKeys[kid]
	if !ok {
		return nil, kid, fmt.Errorf("unknown kid: %s", kid)
	}
	payload, err := jws.Verify(pub)
	if err != nil {
		return nil, kid, fmt.Errorf("signature verification failed: %w", err)
	}
	return payload, kid, nil
}
