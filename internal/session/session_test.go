package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestManager(t *testing.T, ttl time.Duration) *Manager {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewManagerFromClient(client, ttl, zap.NewNop())
}

func TestTouchCreatesOnFirstContact(t *testing.T) {
	m := newTestManager(t, time.Hour)

	s, err := m.Touch(context.Background(), "u1", "s1", "")
	require.NoError(t, err)
	assert.Equal(t, "s1", s.ID)
	assert.Equal(t, "u1", s.UserID)
	assert.Equal(t, 1, s.Turns)

	s2, err := m.Touch(context.Background(), "u1", "s1", "match_workflow")
	require.NoError(t, err)
	assert.Equal(t, 2, s2.Turns)
	assert.Equal(t, "match_workflow", s2.LastWorkflow)
	assert.Equal(t, s.CreatedAt.Unix(), s2.CreatedAt.Unix())
}

func TestTouchGeneratesIDWhenMissing(t *testing.T) {
	m := newTestManager(t, time.Hour)

	s, err := m.Touch(context.Background(), "u1", "", "")
	require.NoError(t, err)
	assert.NotEmpty(t, s.ID)
	assert.Equal(t, 1, s.Turns)
}

func TestTouchRefusesForeignSession(t *testing.T) {
	m := newTestManager(t, time.Hour)

	_, err := m.Touch(context.Background(), "u1", "shared", "")
	require.NoError(t, err)

	s, err := m.Touch(context.Background(), "u2", "shared", "")
	require.NoError(t, err)
	assert.NotEqual(t, "shared", s.ID)
	assert.Equal(t, "u2", s.UserID)
	assert.Equal(t, 1, s.Turns)

	// The original owner's record is untouched.
	orig, err := m.Get(context.Background(), "shared")
	require.NoError(t, err)
	assert.Equal(t, "u1", orig.UserID)
}

func TestGetUnknownSession(t *testing.T) {
	m := newTestManager(t, time.Hour)

	_, err := m.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestExpiredSessionIsRejected(t *testing.T) {
	m := newTestManager(t, 30*time.Millisecond)

	s, err := m.Touch(context.Background(), "u1", "s1", "")
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)

	_, err = m.Get(context.Background(), s.ID)
	assert.ErrorIs(t, err, ErrSessionExpired)
}

func TestGetSurvivesLocalCacheMiss(t *testing.T) {
	m := newTestManager(t, time.Hour)

	s, err := m.Touch(context.Background(), "u1", "s1", "sisu_workflow")
	require.NoError(t, err)

	// Drop the local cache so the read goes to Redis.
	m.mu.Lock()
	m.localCache = make(map[string]*Session)
	m.cacheAccess = make(map[string]time.Time)
	m.mu.Unlock()

	got, err := m.Get(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Turns)
	assert.Equal(t, "sisu_workflow", got.LastWorkflow)
}

func TestLocalCacheEviction(t *testing.T) {
	m := newTestManager(t, time.Hour)
	m.maxCached = 2

	for i := 0; i < 4; i++ {
		_, err := m.Touch(context.Background(), "u1", "", "")
		require.NoError(t, err)
		time.Sleep(2 * time.Millisecond)
	}

	m.mu.Lock()
	size := len(m.localCache)
	m.mu.Unlock()
	assert.LessOrEqual(t, size, 3)
}

func TestDeleteSession(t *testing.T) {
	m := newTestManager(t, time.Hour)

	s, err := m.Touch(context.Background(), "u1", "s1", "")
	require.NoError(t, err)
	require.NoError(t, m.Delete(context.Background(), s.ID))

	_, err = m.Get(context.Background(), s.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}
