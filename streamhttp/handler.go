package streamhttp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/elnormous/contenttype"
	"github.com/google/uuid"

	"github.com/replkit/mrepl-server-go/auth"
	"github.com/replkit/mrepl-server-go/internal/logctx"
	"github.com/replkit/mrepl-server-go/mrepl"
	"github.com/replkit/mrepl-server-go/server"
	"github.com/replkit/mrepl-server-go/sessions"
)

var _ http.Handler = (*Handler)(nil)

var (
	jsonMediaType         = contenttype.NewMediaType("application/json")
	eventStreamMediaType  = contenttype.NewMediaType("text/event-stream")
	eventStreamMediaTypes = []contenttype.MediaType{eventStreamMediaType}
)

const (
	sessionIDHeader       = "Repl-Session-Id"
	authorizationHeader   = "Authorization"
	wwwAuthenticateHeader = "WWW-Authenticate"

	// slotSessionToken carries a signed session token in place of a raw
	// session id on the wire.
	slotSessionToken = "session-token"
)

// writeJSONError emits a minimal JSON body for HTTP-layer rejections
// before any message exchange is possible. This is transport-level.
// Shape: {"error":{"code":<httpStatus>,"message":"<reason>"}}
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	if ct := w.Header().Get("Content-Type"); ct == "" || ct == jsonMediaType.String() {
		w.Header().Set("Content-Type", jsonMediaType.String())
	}
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"code": status, "message": msg}})
}

// Option configures the Handler.
type Option func(*newConfig)

type newConfig struct {
	logger        *slog.Logger
	authenticator auth.Authenticator
	realm         string
	signer        SignerVerifier
}

// WithLogger sets the logger used by the handler. If not provided,
// slog.Default() is used.
func WithLogger(l *slog.Logger) Option {
	return func(c *newConfig) { c.logger = l }
}

// WithAuthenticator requires a valid bearer token on every request.
func WithAuthenticator(a auth.Authenticator) Option {
	return func(c *newConfig) { c.authenticator = a }
}

// WithRealm sets the HTTP authentication realm advertised in
// WWW-Authenticate challenges. If empty (default), the realm attribute
// is omitted entirely per RFC 6750.
func WithRealm(realm string) Option {
	return func(c *newConfig) { c.realm = strings.TrimSpace(realm) }
}

// WithSessionSigner overrides the JWS signer used for session tokens.
// Supply one backed by durable keys when tokens must survive restarts.
func WithSessionSigner(sv SignerVerifier) Option {
	return func(c *newConfig) { c.signer = sv }
}

// buildBearerChallenge builds a Bearer challenge header value:
//
//	Bearer realm="<realm>", error="...", error_description="..."
//
// Realm is omitted if empty.
func buildBearerChallenge(realm string, params map[string]string) string {
	pieces := make([]string, 0, 1+len(params))
	esc := func(v string) string { return strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(v) }
	if realm != "" {
		pieces = append(pieces, fmt.Sprintf(`realm="%s"`, esc(realm)))
	}
	if v, ok := params["error"]; ok {
		pieces = append(pieces, fmt.Sprintf(`error="%s"`, esc(v)))
	}
	if v, ok := params["error_description"]; ok {
		pieces = append(pieces, fmt.Sprintf(`error_description="%s"`, esc(v)))
	}
	if len(pieces) == 0 {
		return "Bearer"
	}
	return "Bearer " + strings.Join(pieces, ", ")
}

// Handler serves the message protocol over HTTP with SSE response
// streams.
type Handler struct {
	mux  *http.ServeMux
	log  *slog.Logger
	srv  *server.Server
	auth auth.Authenticator

	signer SignerVerifier
	realm  string
}

// New constructs a Handler serving the message endpoint at the path of
// publicEndpoint.
//
// An authenticator is optional; without one, every request is treated
// as a single anonymous principal and session tokens carry no user
// binding.
func New(publicEndpoint string, srv *server.Server, opts ...Option) (*Handler, error) {
	if srv == nil {
		return nil, fmt.Errorf("server is required")
	}

	endpoint, err := url.Parse(publicEndpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint URL %q: %w", publicEndpoint, err)
	}
	if endpoint.Scheme != "https" && endpoint.Scheme != "http" {
		return nil, fmt.Errorf("endpoint URL must use HTTP or HTTPS scheme, got %q", endpoint.Scheme)
	}

	cfg := &newConfig{logger: slog.Default()}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.signer == nil {
		cfg.signer, err = NewEphemeralJWS()
		if err != nil {
			return nil, err
		}
	}

	h := &Handler{
		log:    slog.New(logctx.Handler{Handler: cfg.logger.Handler()}),
		srv:    srv,
		auth:   cfg.authenticator,
		signer: cfg.signer,
		realm:  cfg.realm,
	}

	path := endpoint.Path
	if path == "" {
		path = "/"
	}
	mux := http.NewServeMux()
	mux.HandleFunc(fmt.Sprintf("POST %s", path), h.handlePost)
	mux.HandleFunc(fmt.Sprintf("DELETE %s", path), h.handleDelete)
	h.mux = mux
	return h, nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r.WithContext(logctx.WithConnData(r.Context(), &logctx.ConnData{
		Transport: "http",
		Remote:    r.RemoteAddr,
	})))
}

// handlePost accepts one message and streams its responses back as SSE
// events, closing the stream after the terminal response.
func (h *Handler) handlePost(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	h.log.InfoContext(ctx, "http.post.start")

	ctype, err := contenttype.GetMediaType(r)
	if err != nil || !ctype.Matches(jsonMediaType) {
		writeJSONError(w, http.StatusUnsupportedMediaType, "content-type must be application/json")
		h.log.WarnContext(ctx, "content_type.unsupported")
		return
	}
	if acc := r.Header.Get("Accept"); acc != "" {
		if _, _, err := contenttype.GetAcceptableMediaType(r, eventStreamMediaTypes); err != nil {
			w.WriteHeader(http.StatusNotAcceptable)
			h.log.WarnContext(ctx, "accept.unsupported", slog.String("accept", acc))
			return
		}
	}

	f, ok := w.(http.Flusher)
	if !ok {
		w.WriteHeader(http.StatusInternalServerError)
		h.log.ErrorContext(ctx, "flusher.missing")
		return
	}

	userID, ok := h.checkAuthentication(ctx, r, w)
	if !ok {
		h.log.InfoContext(ctx, "auth.fail")
		return
	}

	var raw json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		h.log.WarnContext(ctx, "json.decode.fail", slog.String("err", err.Error()))
		return
	}
	if len(raw) > 0 && raw[0] == '[' {
		writeJSONError(w, http.StatusBadRequest, "message batches are not supported")
		h.log.WarnContext(ctx, "message.batch.forbidden")
		return
	}
	var msg mrepl.Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid message: "+err.Error())
		h.log.WarnContext(ctx, "message.invalid", slog.String("err", err.Error()))
		return
	}
	if msg.Op() == "" {
		writeJSONError(w, http.StatusBadRequest, "message missing op slot")
		h.log.WarnContext(ctx, "message.op.missing")
		return
	}
	if msg.ID() == "" {
		msg[mrepl.SlotID] = uuid.NewString()
	}

	if tok, ok := msg.StringSlot(slotSessionToken); ok {
		st, err := verifySessionToken(h.signer, tok)
		if err != nil {
			writeJSONError(w, http.StatusForbidden, "invalid session token")
			h.log.WarnContext(ctx, "session_token.invalid", slog.String("err", err.Error()))
			return
		}
		if st.UserID != userID {
			writeJSONError(w, http.StatusForbidden, "session token principal mismatch")
			h.log.WarnContext(ctx, "session_token.principal.mismatch")
			return
		}
		delete(msg, slotSessionToken)
		msg[mrepl.SlotSession] = st.SessionID
	}

	w.Header().Set("Content-Type", eventStreamMediaType.String())
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	f.Flush()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	tp := &sseTransport{
		wf:     &lockedWriteFlusher{Writer: w, Flusher: f, ctx: ctx},
		msgID:  msg.ID(),
		userID: userID,
		signer: h.signer,
		done:   make(chan struct{}),
	}

	h.srv.Dispatcher().Dispatch(ctx, msg, tp)

	select {
	case <-tp.done:
		h.log.InfoContext(ctx, "http.post.ok", slog.Duration("dur", time.Since(start)))
	case <-ctx.Done():
		h.log.InfoContext(ctx, "http.post.client_gone", slog.Duration("dur", time.Since(start)))
	}
}

// handleDelete terminates the session named by the Repl-Session-Id
// header (or by a session token in the same header).
func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	h.log.InfoContext(ctx, "http.delete.start")

	userID, ok := h.checkAuthentication(ctx, r, w)
	if !ok {
		h.log.InfoContext(ctx, "auth.fail")
		return
	}

	sessID := r.Header.Get(sessionIDHeader)
	if sessID == "" {
		w.WriteHeader(http.StatusBadRequest)
		h.log.WarnContext(ctx, "delete.missing_session_id")
		return
	}
	// A signed token is also accepted; it has two dots, a raw id none.
	if strings.Count(sessID, ".") == 2 {
		st, err := verifySessionToken(h.signer, sessID)
		if err != nil || st.UserID != userID {
			w.WriteHeader(http.StatusForbidden)
			h.log.WarnContext(ctx, "delete.token.invalid")
			return
		}
		sessID = st.SessionID
	}

	if err := h.srv.Store().Close(ctx, sessID); err != nil {
		if errors.Is(err, sessions.ErrSessionNotFound) {
			w.WriteHeader(http.StatusNotFound)
			h.log.InfoContext(ctx, "session.delete.miss")
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
		h.log.ErrorContext(ctx, "session.delete.fail", slog.String("err", err.Error()))
		return
	}
	w.WriteHeader(http.StatusNoContent)
	h.log.InfoContext(ctx, "http.delete.ok")
}

// checkAuthentication enforces bearer auth when an authenticator is
// configured. It returns the principal's user id (empty in authless
// mode) and whether the request may proceed. On rejection the response
// has already been written.
func (h *Handler) checkAuthentication(ctx context.Context, r *http.Request, w http.ResponseWriter) (string, bool) {
	if h.auth == nil {
		return "", true
	}

	authHeader := r.Header.Get(authorizationHeader)
	if authHeader == "" {
		// RFC 6750: no credentials means a bare challenge, no error code.
		w.Header().Add(wwwAuthenticateHeader, buildBearerChallenge(h.realm, nil))
		w.WriteHeader(http.StatusUnauthorized)
		return "", false
	}
	const bearerPrefix = "Bearer "
	if !strings.HasPrefix(authHeader, bearerPrefix) || len(authHeader) <= len(bearerPrefix) {
		w.Header().Add(wwwAuthenticateHeader, buildBearerChallenge(h.realm, map[string]string{"error": "invalid_request", "error_description": "malformed bearer authorization header"}))
		w.WriteHeader(http.StatusBadRequest)
		return "", false
	}
	tok := strings.TrimSpace(authHeader[len(bearerPrefix):])

	userInfo, err := h.auth.CheckAuthentication(ctx, tok)
	if err != nil {
		if errors.Is(err, auth.ErrUnauthorized) {
			w.Header().Add(wwwAuthenticateHeader, buildBearerChallenge(h.realm, map[string]string{"error": "invalid_token", "error_description": err.Error()}))
			w.WriteHeader(http.StatusUnauthorized)
			return "", false
		}
		if errors.Is(err, auth.ErrInsufficientScope) {
			w.Header().Add(wwwAuthenticateHeader, buildBearerChallenge(h.realm, map[string]string{"error": "insufficient_scope", "error_description": err.Error()}))
			w.WriteHeader(http.StatusForbidden)
			return "", false
		}
		w.WriteHeader(http.StatusInternalServerError)
		h.log.ErrorContext(ctx, "auth.check.err", slog.String("err", err.Error()))
		return "", false
	}
	return userInfo.UserID(), true
}

// lockedWriteFlusher serializes concurrent writes/flushes and avoids
// writing after ctx is canceled.
type lockedWriteFlusher struct {
	io.Writer
	http.Flusher
	mu  sync.Mutex
	ctx context.Context
}

func (l *lockedWriteFlusher) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ctx != nil && l.ctx.Err() != nil {
		return 0, l.ctx.Err()
	}
	return l.Writer.Write(p)
}

func (l *lockedWriteFlusher) Flush() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ctx != nil && l.ctx.Err() != nil {
		return
	}
	l.Flusher.Flush()
}

// sseTransport frames each response as an SSE event and closes done
// once the terminal response for the request has gone out. Responses
// announcing a fresh session get a session-token slot bound to the
// requesting principal.
type sseTransport struct {
	wf     *lockedWriteFlusher
	msgID  string
	userID string
	signer SignerVerifier

	mu     sync.Mutex
	seq    int
	closed bool
	done   chan struct{}
}

func (t *sseTransport) Send(_ context.Context, msg mrepl.Message) error {
	if sid, ok := msg["new-session"].(string); ok && sid != "" {
		tok, err := mintSessionToken(t.signer, sid, t.userID)
		if err != nil {
			return fmt.Errorf("mint session token: %w", err)
		}
		msg = msg.Clone()
		msg[slotSessionToken] = tok
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return fmt.Errorf("response stream already closed")
	}
	t.seq++
	if err := writeSSEEvent(t.wf, strconv.Itoa(t.seq), msg); err != nil {
		return err
	}
	if msg.ID() == t.msgID && mrepl.IsTerminal(msg) {
		t.closed = true
		close(t.done)
	}
	return nil
}

// writeSSEEvent writes one response as an SSE frame and flushes it.
func writeSSEEvent(wf *lockedWriteFlusher, eventID string, msg mrepl.Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode response: %w", err)
	}
	if eventID != "" {
		if _, err := fmt.Fprintf(wf, "id: %s\n", eventID); err != nil {
			return fmt.Errorf("failed to write SSE event ID: %w", err)
		}
	}
	if _, err := wf.Write([]byte("data: ")); err != nil {
		return fmt.Errorf("failed to write SSE data prefix: %w", err)
	}
	if _, err := wf.Write(payload); err != nil {
		return fmt.Errorf("failed to write SSE payload: %w", err)
	}
	if _, err := wf.Write([]byte("\n\n")); err != nil {
		return fmt.Errorf("failed to write SSE frame terminator: %w", err)
	}
	wf.Flush()
	return nil
}
