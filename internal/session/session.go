// Package session keeps a Redis-backed record per (user, session) pair:
// when the conversation started, how many turns it has run, and which
// workflow answered last. The record carries a sliding TTL and a small
// local cache in front of Redis. It is bookkeeping for the transport
// layer, not a coordination lock; concurrent turns are not serialized here.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nubo-edu/cloudinha/go/orchestrator/internal/metrics"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExpired  = errors.New("session expired")
)

// Session is the per-conversation bookkeeping record.
type Session struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	ExpiresAt    time.Time `json:"expires_at"`
	Turns        int       `json:"turns"`
	LastWorkflow string    `json:"last_workflow,omitempty"`
}

// IsExpired reports whether the record's TTL has lapsed.
func (s *Session) IsExpired() bool {
	return time.Now().After(s.ExpiresAt)
}

// Manager stores sessions in Redis with a bounded local LRU cache.
type Manager struct {
	client *redis.Client
	logger *zap.Logger
	ttl    time.Duration

	mu          sync.Mutex
	localCache  map[string]*Session
	cacheAccess map[string]time.Time
	maxCached   int
}

// NewManager connects to Redis and verifies the connection.
func NewManager(addr, password string, ttl time.Duration, logger *zap.Logger) (*Manager, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           0,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewManagerFromClient(client, ttl, logger), nil
}

// NewManagerFromClient wraps an existing client; tests pass a miniredis
// backed one.
func NewManagerFromClient(client *redis.Client, ttl time.Duration, logger *zap.Logger) *Manager {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Manager{
		client:      client,
		logger:      logger,
		ttl:         ttl,
		localCache:  make(map[string]*Session),
		cacheAccess: make(map[string]time.Time),
		maxCached:   10000,
	}
}

// Touch fetches the session for a turn, creating it on first contact, and
// records the turn: increments the counter, stamps the workflow that
// answered, slides the TTL. A session id owned by a different user is not
// reused; a fresh id is generated instead.
func (m *Manager) Touch(ctx context.Context, userID, sessionID, lastWorkflow string) (*Session, error) {
	var session *Session
	if sessionID != "" {
		existing, err := m.Get(ctx, sessionID)
		switch {
		case err == nil:
			if existing.UserID != userID {
				m.logger.Warn("Session id belongs to another user, issuing a new one",
					zap.String("requested_session_id", sessionID),
					zap.String("user_id", userID),
				)
			} else {
				session = existing
			}
		case errors.Is(err, ErrSessionNotFound), errors.Is(err, ErrSessionExpired):
			session = m.newSession(sessionID, userID)
		default:
			return nil, err
		}
	}
	if session == nil {
		session = m.newSession(uuid.New().String(), userID)
	}

	session.Turns++
	session.LastWorkflow = lastWorkflow
	session.UpdatedAt = time.Now()
	session.ExpiresAt = time.Now().Add(m.ttl)

	if err := m.save(ctx, session); err != nil {
		return nil, err
	}
	m.cachePut(session)
	return session, nil
}

// Get retrieves a session by id, consulting the local cache first.
func (m *Manager) Get(ctx context.Context, sessionID string) (*Session, error) {
	m.mu.Lock()
	if session, ok := m.localCache[sessionID]; ok {
		m.cacheAccess[sessionID] = time.Now()
		m.mu.Unlock()
		if session.IsExpired() {
			_ = m.Delete(ctx, sessionID)
			return nil, ErrSessionExpired
		}
		copied := *session
		return &copied, nil
	}
	m.mu.Unlock()

	data, err := m.client.Get(ctx, m.key(sessionID)).Bytes()
	if err == redis.Nil {
		return nil, ErrSessionNotFound
	} else if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	var session Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	if session.IsExpired() {
		_ = m.Delete(ctx, sessionID)
		return nil, ErrSessionExpired
	}

	m.cachePut(&session)
	return &session, nil
}

// Delete removes a session from Redis and the local cache.
func (m *Manager) Delete(ctx context.Context, sessionID string) error {
	if err := m.client.Del(ctx, m.key(sessionID)).Err(); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	m.mu.Lock()
	delete(m.localCache, sessionID)
	delete(m.cacheAccess, sessionID)
	metrics.SessionCacheSize.Set(float64(len(m.localCache)))
	m.mu.Unlock()
	return nil
}

func (m *Manager) Close() error {
	return m.client.Close()
}

func (m *Manager) newSession(id, userID string) *Session {
	metrics.SessionsCreated.Inc()
	m.logger.Info("Created session",
		zap.String("session_id", id),
		zap.String("user_id", userID),
	)
	return &Session{
		ID:        id,
		UserID:    userID,
		CreatedAt: time.Now(),
	}
}

func (m *Manager) key(sessionID string) string {
	return "turnsession:" + sessionID
}

func (m *Manager) save(ctx context.Context, session *Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	ttl := time.Until(session.ExpiresAt)
	if ttl <= 0 {
		ttl = m.ttl
	}
	if err := m.client.Set(ctx, m.key(session.ID), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

func (m *Manager) cachePut(session *Session) {
	copied := *session
	m.mu.Lock()
	m.localCache[session.ID] = &copied
	m.cacheAccess[session.ID] = time.Now()
	m.evictIfFull()
	metrics.SessionCacheSize.Set(float64(len(m.localCache)))
	m.mu.Unlock()
}

// evictIfFull drops the least recently used half of the cache once it
// exceeds maxCached. Caller holds m.mu.
func (m *Manager) evictIfFull() {
	if len(m.localCache) <= m.maxCached {
		return
	}

	type entry struct {
		id   string
		last time.Time
	}
	entries := make([]entry, 0, len(m.localCache))
	for id := range m.localCache {
		entries = append(entries, entry{id: id, last: m.cacheAccess[id]})
	}
	for i := 0; i < len(entries)-1; i++ {
		for j := i + 1; j < len(entries); j++ {
			if entries[j].last.Before(entries[i].last) {
				entries[i], entries[j] = entries[j], entries[i]
			}
		}
	}

	toRemove := m.maxCached / 2
	for i := 0; i < toRemove && i < len(entries); i++ {
		delete(m.localCache, entries[i].id)
		delete(m.cacheAccess, entries[i].id)
		metrics.SessionCacheEvictions.Inc()
	}
}
