package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/joeshaw/envdecode"
	"github.com/redis/go-redis/v9"

	"github.com/replkit/mrepl-server-go/sessions"
)

// Config for the Redis-backed store. Defaults can be loaded via envdecode.
type Config struct {
	// RedisAddr like "localhost:6379". ENV: MREPL_REDIS_ADDR
	RedisAddr string `env:"MREPL_REDIS_ADDR,default=localhost:6379"`
	// KeyPrefix for all keys. ENV: MREPL_SESSIONS_KEY_PREFIX
	KeyPrefix string `env:"MREPL_SESSIONS_KEY_PREFIX,default=mrepl:sessions:"`
	// TTL for idle session records in Redis; refreshed on every Sync.
	// Zero means no expiry. ENV: MREPL_SESSION_TTL
	TTL time.Duration `env:"MREPL_SESSION_TTL,default=0"`
}

// Store is a sessions.Store persisting bindings to Redis. Live Session
// objects (with their local execution queues) are cached per instance;
// Redis is the source of truth for existence and bindings.
type Store struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
	defaults  map[string]any

	mu    sync.Mutex
	local map[string]*sessions.Session
}

var (
	_ sessions.Store  = (*Store)(nil)
	_ sessions.Syncer = (*Store)(nil)
)

// Option configures a Store.
type Option func(*Store)

// WithDefaultBindings sets the ambient bindings snapshotted into every
// session at Create.
func WithDefaultBindings(b map[string]any) Option {
	return func(s *Store) { s.defaults = b }
}

// WithClient supplies a pre-built Redis client (used by tests against
// miniredis). When set, Config.RedisAddr is ignored.
func WithClient(cl *redis.Client) Option {
	return func(s *Store) { s.client = cl }
}

// New builds a Store and verifies Redis connectivity.
func New(cfg Config, opts ...Option) (*Store, error) {
	s := &Store{
		keyPrefix: cfg.KeyPrefix,
		ttl:       cfg.TTL,
		local:     make(map[string]*sessions.Session),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.keyPrefix == "" {
		s.keyPrefix = "mrepl:sessions:"
	}
	if s.client == nil {
		addr := cfg.RedisAddr
		if addr == "" {
			addr = "localhost:6379"
		}
		s.client = redis.NewClient(&redis.Options{Addr: addr})
	}
	if err := s.client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return s, nil
}

// NewFromEnv builds a Store using envdecode to populate Config.
func NewFromEnv(opts ...Option) (*Store, error) {
	var cfg Config
	_ = envdecode.Decode(&cfg)
	return New(cfg, opts...)
}

// Shutdown closes the Redis client. Local sessions are not touched.
func (s *Store) Shutdown() error { return s.client.Close() }

func (s *Store) bindingsKey(id string) string { return s.keyPrefix + "bindings:" + id }

func (s *Store) Create(ctx context.Context) (*sessions.Session, error) {
	sess := sessions.NewSession(uuid.NewString(), s.defaults)
	if err := s.persist(ctx, sess); err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.local[sess.ID()] = sess
	s.mu.Unlock()
	return sess, nil
}

func (s *Store) Clone(ctx context.Context, id string) (*sessions.Session, error) {
	src, err := s.Lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	sess := sessions.NewSession(uuid.NewString(), src.Bindings())
	if err := s.persist(ctx, sess); err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.local[sess.ID()] = sess
	s.mu.Unlock()
	return sess, nil
}

func (s *Store) Close(ctx context.Context, id string) error {
	n, err := s.client.Del(ctx, s.bindingsKey(id)).Result()
	if err != nil {
		return fmt.Errorf("redis del: %w", err)
	}

	s.mu.Lock()
	sess, hadLocal := s.local[id]
	delete(s.local, id)
	s.mu.Unlock()
	if hadLocal {
		sess.ReleaseResources()
	}

	if n == 0 && !hadLocal {
		return fmt.Errorf("close session %s: %w", id, sessions.ErrSessionNotFound)
	}
	return nil
}

func (s *Store) Lookup(ctx context.Context, id string) (*sessions.Session, error) {
	s.mu.Lock()
	sess, ok := s.local[id]
	s.mu.Unlock()
	if ok {
		return sess, nil
	}

	// Session created elsewhere (or before a restart): rehydrate.
	raw, err := s.client.Get(ctx, s.bindingsKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("lookup session %s: %w", id, sessions.ErrSessionNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	var bindings map[string]any
	if err := json.Unmarshal(raw, &bindings); err != nil {
		return nil, fmt.Errorf("decode session %s bindings: %w", id, err)
	}

	sess = sessions.NewSession(id, bindings)
	s.mu.Lock()
	// Another goroutine may have rehydrated concurrently; keep the winner.
	if existing, ok := s.local[id]; ok {
		sess = existing
	} else {
		s.local[id] = sess
	}
	s.mu.Unlock()
	return sess, nil
}

func (s *Store) IDs(ctx context.Context) ([]string, error) {
	var ids []string
	iter := s.client.Scan(ctx, 0, s.bindingsKey("*"), 0).Iterator()
	prefix := s.bindingsKey("")
	for iter.Next(ctx) {
		ids = append(ids, iter.Val()[len(prefix):])
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan: %w", err)
	}
	return ids, nil
}

// Sync writes the session's current bindings back to Redis. The
// dispatcher calls it after each handled message, while the session's
// turn is still held, so snapshots are consistent.
func (s *Store) Sync(ctx context.Context, sess *sessions.Session) error {
	return s.persist(ctx, sess)
}

func (s *Store) persist(ctx context.Context, sess *sessions.Session) error {
	raw, err := json.Marshal(sess.Bindings())
	if err != nil {
		return fmt.Errorf("encode session %s bindings: %w", sess.ID(), err)
	}
	if err := s.client.Set(ctx, s.bindingsKey(sess.ID()), raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}
