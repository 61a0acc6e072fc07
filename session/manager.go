package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/room4-2/voicebridge/config"
	"github.com/room4-2/voicebridge/logger"
	"github.com/rs/zerolog"
)

// ErrMaxSessions is returned when the server is at capacity
var ErrMaxSessions = errors.New("maximum sessions reached")

const (
	cleanupInterval  = 1 * time.Minute
	activeSessionKey = "active_sessions"
)

// Manager manages all client sessions
type Manager struct {
	sessions       map[string]*ClientSession
	mu             sync.RWMutex
	redis          *redis.Client
	maxSessions    int
	sessionTimeout time.Duration
	opts           Options
	log            zerolog.Logger
}

// ConnectRedis returns a client for the session registry, or nil when redis is
// unreachable. Sessions work without it.
func ConnectRedis(ctx context.Context, cfg *config.Config, log zerolog.Logger) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisURL,
		Password: cfg.RedisPassword,
		DB:       0,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		log.Warn().Err(err).Str("addr", cfg.RedisURL).Msg("redis unavailable, continuing without session registry")
		_ = client.Close()
		return nil
	}
	return client
}

// NewManager creates a session manager. redisClient may be nil.
func NewManager(cfg *config.Config, opts Options, redisClient *redis.Client) *Manager {
	return &Manager{
		sessions:       make(map[string]*ClientSession),
		redis:          redisClient,
		maxSessions:    cfg.MaxSessions,
		sessionTimeout: cfg.SessionTimeout,
		opts:           opts,
		log:            opts.Log,
	}
}

// CreateSession creates a new client session
func (sm *Manager) CreateSession(ctx context.Context, clientConn *websocket.Conn) (*ClientSession, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if len(sm.sessions) >= sm.maxSessions {
		return nil, ErrMaxSessions
	}

	sessionID := uuid.New().String()
	session := NewClientSession(sessionID, clientConn, sm.opts)

	sm.storeSession(ctx, sessionID, session)
	session.metrics.SessionOpened(ctx)
	sm.log.Info().Str("session", logger.ShortID(sessionID)).Int("active", len(sm.sessions)).Msg("session created")
	return session, nil
}

// storeSession saves a session to memory and Redis
func (sm *Manager) storeSession(ctx context.Context, sessionID string, session *ClientSession) {
	sm.sessions[sessionID] = session

	if sm.redis != nil {
		sm.redis.HSet(ctx, "session:"+sessionID, map[string]interface{}{
			"created_at":    session.CreatedAt.Format(time.RFC3339),
			"last_activity": session.LastActivity.Format(time.RFC3339),
			"status":        "active",
		})
		sm.redis.SAdd(ctx, activeSessionKey, sessionID)
		sm.redis.Expire(ctx, "session:"+sessionID, sm.sessionTimeout)
	}
}

// dropSession closes and forgets a session. Caller holds sm.mu.
func (sm *Manager) dropSession(ctx context.Context, sessionID string, session *ClientSession) {
	session.Close()
	delete(sm.sessions, sessionID)
	session.metrics.SessionClosed(ctx)

	if sm.redis != nil {
		sm.redis.Del(ctx, "session:"+sessionID)
		sm.redis.SRem(ctx, activeSessionKey, sessionID)
	}
}

// GetSession retrieves a session by ID
func (sm *Manager) GetSession(sessionID string) (*ClientSession, bool) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	session, exists := sm.sessions[sessionID]
	return session, exists
}

// RemoveSession cleans up and removes a session
func (sm *Manager) RemoveSession(ctx context.Context, sessionID string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	session, exists := sm.sessions[sessionID]
	if !exists {
		return
	}
	sm.dropSession(ctx, sessionID, session)
}

// GetActiveSessionCount returns current session count
func (sm *Manager) GetActiveSessionCount() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.sessions)
}

// CleanupInactiveSessions removes sessions whose client has been silent too long
func (sm *Manager) CleanupInactiveSessions(ctx context.Context, now time.Time) int {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	removed := 0
	for id, session := range sm.sessions {
		if session.Idle(now) > sm.sessionTimeout {
			sm.log.Info().Str("session", logger.ShortID(id)).Msg("closing inactive session")
			sm.dropSession(ctx, id, session)
			removed++
			continue
		}
		sm.refreshSession(ctx, id, session)
	}
	return removed
}

// refreshSession pushes the last activity time to the registry and extends its TTL
func (sm *Manager) refreshSession(ctx context.Context, sessionID string, session *ClientSession) {
	if sm.redis == nil {
		return
	}
	session.mu.RLock()
	last := session.LastActivity
	session.mu.RUnlock()

	pipe := sm.redis.TxPipeline()
	pipe.HSet(ctx, "session:"+sessionID, "last_activity", last.Format(time.RFC3339))
	pipe.Expire(ctx, "session:"+sessionID, sm.sessionTimeout)
	if _, err := pipe.Exec(ctx); err != nil {
		sm.log.Debug().Err(err).Str("session", logger.ShortID(sessionID)).Msg("failed to refresh session registry")
	}
}

// StartCleanupRoutine starts periodic cleanup of inactive sessions
func (sm *Manager) StartCleanupRoutine(ctx context.Context) {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			sm.CleanupInactiveSessions(ctx, now)
		}
	}
}

// Shutdown closes all sessions
func (sm *Manager) Shutdown(ctx context.Context) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	for id, session := range sm.sessions {
		sm.dropSession(ctx, id, session)
	}

	if sm.redis != nil {
		sm.redis.Close()
	}
}
