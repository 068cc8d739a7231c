package redisstore

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/replkit/mrepl-server-go/sessions"
)

func newTestStore(t *testing.T, opts ...Option) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store, err := New(Config{}, append([]Option{WithClient(client)}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Shutdown() })
	return store, mr
}

func TestCreateLookupRoundtrip(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t, WithDefaultBindings(map[string]any{"ns": "user"}))

	s, err := store.Create(ctx)
	require.NoError(t, err)

	got, err := store.Lookup(ctx, s.ID())
	require.NoError(t, err)
	assert.Same(t, s, got, "lookup on the creating instance must return the live session")

	v, ok := got.Get("ns")
	require.True(t, ok)
	assert.Equal(t, "user", v)
}

func TestLookupRehydratesFromRedis(t *testing.T) {
	ctx := context.Background()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	storeA, err := New(Config{}, WithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()})))
	require.NoError(t, err)
	storeB, err := New(Config{}, WithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()})))
	require.NoError(t, err)

	s, err := storeA.Create(ctx)
	require.NoError(t, err)
	s.Set("x", "original")
	require.NoError(t, storeA.Sync(ctx, s))

	// Instance B has never seen the session; bindings come from Redis.
	got, err := storeB.Lookup(ctx, s.ID())
	require.NoError(t, err)
	v, ok := got.Get("x")
	require.True(t, ok)
	assert.Equal(t, "original", v)
}

func TestCloneCopiesPersistedBindings(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	s, err := store.Create(ctx)
	require.NoError(t, err)
	s.Set("x", float64(1))
	require.NoError(t, store.Sync(ctx, s))

	clone, err := store.Clone(ctx, s.ID())
	require.NoError(t, err)
	clone.Set("x", float64(2))

	v, _ := s.Get("x")
	assert.Equal(t, float64(1), v, "clone mutation leaked into source session")
}

func TestCloseRemovesEverywhere(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestStore(t)

	s, err := store.Create(ctx)
	require.NoError(t, err)
	require.True(t, mr.Exists("mrepl:sessions:bindings:"+s.ID()))

	require.NoError(t, store.Close(ctx, s.ID()))
	assert.False(t, mr.Exists("mrepl:sessions:bindings:"+s.ID()))
	assert.True(t, s.Closed())

	err = store.Close(ctx, s.ID())
	assert.ErrorIs(t, err, sessions.ErrSessionNotFound)

	_, err = store.Lookup(ctx, s.ID())
	assert.ErrorIs(t, err, sessions.ErrSessionNotFound)
}

func TestIDsListsPersistedSessions(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	a, err := store.Create(ctx)
	require.NoError(t, err)
	b, err := store.Create(ctx)
	require.NoError(t, err)

	ids, err := store.IDs(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{a.ID(), b.ID()}, ids)
}
