package memory

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	DefaultTTL                = 30 * time.Minute
	DefaultMaxSessionsPerUser = 10
	DefaultLockTTL            = 30 * time.Second
)

// Options tune a RedisStore.
type Options struct {
	TTL                time.Duration
	MaxSessionsPerUser int
	LockTTL            time.Duration
	Logger             *zap.Logger
	// Now overrides the clock; used by tests.
	Now func() time.Time
}

func (o Options) withDefaults() Options {
	if o.TTL <= 0 {
		o.TTL = DefaultTTL
	}
	if o.MaxSessionsPerUser <= 0 {
		o.MaxSessionsPerUser = DefaultMaxSessionsPerUser
	}
	if o.LockTTL <= 0 {
		o.LockTTL = DefaultLockTTL
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// RedisStore implements Store using Redis. Each user has a sorted set of
// session ids scored by expiry, which is what the quota is counted against.
type RedisStore struct {
	client *redis.Client
	opts   Options
	logger *zap.Logger
}

// Prunes expired index members, enforces the quota, then writes the session
// and extends the index expiry in one step.
var createScript = redis.NewScript(`
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
if redis.call('ZCARD', KEYS[1]) >= tonumber(ARGV[2]) then
  return 0
end
redis.call('ZADD', KEYS[1], tonumber(ARGV[1]) + tonumber(ARGV[3]), ARGV[4])
redis.call('PEXPIRE', KEYS[1], ARGV[3])
redis.call('SET', KEYS[2], ARGV[5], 'PX', ARGV[3])
return 1
`)

// No-op when the session key is gone.
var updateScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return 0
end
redis.call('SET', KEYS[1], ARGV[4], 'PX', ARGV[2])
redis.call('ZADD', KEYS[2], 'XX', tonumber(ARGV[1]) + tonumber(ARGV[2]), ARGV[3])
redis.call('PEXPIRE', KEYS[2], ARGV[2])
return 1
`)

var unlockScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

// NewRedisStore creates a new Redis-backed store
func NewRedisStore(redisURL string, opts Options) (*RedisStore, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisStoreFromClient(client, opts), nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client *redis.Client, opts Options) *RedisStore {
	opts = opts.withDefaults()
	return &RedisStore{
		client: client,
		opts:   opts,
		logger: opts.Logger,
	}
}

func sessionKey(sessionID string) string {
	return fmt.Sprintf("session:%s", sessionID)
}

func userIndexKey(userID string) string {
	return fmt.Sprintf("user_sessions:%s", userID)
}

func lockKey(sessionID string) string {
	return fmt.Sprintf("session_lock:%s", sessionID)
}

// NewSessionID returns 256 bits of randomness as hex.
func NewSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate session id: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// ShortID truncates an id for logs.
func ShortID(id string) string {
	if len(id) > 8 {
		return id[:8] + "..."
	}
	return id
}

// Create registers a new session, failing with ErrQuotaExceeded when the
// user already holds the maximum number of live sessions.
func (r *RedisStore) Create(ctx context.Context, userID, clientIP, userAgent string) (string, error) {
	sessionID, err := NewSessionID()
	if err != nil {
		return "", err
	}

	now := r.opts.Now()
	session := &Session{
		SessionID:           sessionID,
		UserID:              userID,
		LastUpdated:         now,
		ConversationHistory: []ConversationTurn{},
		Metadata: Metadata{
			CreatedAt:    now,
			ClientIP:     clientIP,
			UserAgent:    userAgent,
			LastActivity: now,
		},
	}

	data, err := json.Marshal(session)
	if err != nil {
		return "", fmt.Errorf("failed to marshal session: %w", err)
	}

	created, err := createScript.Run(ctx, r.client,
		[]string{userIndexKey(userID), sessionKey(sessionID)},
		now.UnixMilli(), r.opts.MaxSessionsPerUser, r.opts.TTL.Milliseconds(), sessionID, string(data),
	).Int()
	if err != nil {
		return "", fmt.Errorf("failed to create session in Redis: %w", err)
	}
	if created == 0 {
		r.logger.Warn("session quota exceeded",
			zap.String("user_id", userID),
			zap.Int("max_sessions", r.opts.MaxSessionsPerUser))
		return "", ErrQuotaExceeded
	}

	r.logger.Info("session created",
		zap.String("session_id", ShortID(sessionID)),
		zap.String("user_id", userID))
	return sessionID, nil
}

// Get loads a session owned by userID. Missing, expired or foreign sessions
// all come back as (nil, nil).
func (r *RedisStore) Get(ctx context.Context, userID, sessionID string) (*Session, error) {
	data, err := r.client.Get(ctx, sessionKey(sessionID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session from Redis: %w", err)
	}

	var session Session
	if err := json.Unmarshal([]byte(data), &session); err != nil {
		return nil, fmt.Errorf("failed to parse session data: %w", err)
	}

	if session.UserID != userID {
		return nil, nil
	}

	if r.opts.Now().Sub(session.LastUpdated) > r.opts.TTL {
		r.logger.Info("removing stale session", zap.String("session_id", ShortID(sessionID)))
		if err := r.Delete(ctx, userID, sessionID); err != nil {
			return nil, err
		}
		return nil, nil
	}

	return &session, nil
}

// Update writes the session back and slides its TTL.
func (r *RedisStore) Update(ctx context.Context, userID, sessionID string, s *Session) error {
	now := r.opts.Now()
	s.SessionID = sessionID
	s.UserID = userID
	s.LastUpdated = now
	s.Metadata.LastActivity = now

	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	updated, err := updateScript.Run(ctx, r.client,
		[]string{sessionKey(sessionID), userIndexKey(userID)},
		now.UnixMilli(), r.opts.TTL.Milliseconds(), sessionID, string(data),
	).Int()
	if err != nil {
		return fmt.Errorf("failed to save session to Redis: %w", err)
	}
	if updated == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// Delete removes the session record and its quota entry.
func (r *RedisStore) Delete(ctx context.Context, userID, sessionID string) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, sessionKey(sessionID))
		pipe.ZRem(ctx, userIndexKey(userID), sessionID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// LiveSessions counts the user's unexpired sessions.
func (r *RedisStore) LiveSessions(ctx context.Context, userID string) (int64, error) {
	floor := fmt.Sprintf("(%d", r.opts.Now().UnixMilli())
	n, err := r.client.ZCount(ctx, userIndexKey(userID), floor, "+inf").Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count sessions: %w", err)
	}
	return n, nil
}

// Lock takes a per-session lock, polling until it is free or ctx is done.
func (r *RedisStore) Lock(ctx context.Context, sessionID string) (func(context.Context) error, error) {
	token, err := NewSessionID()
	if err != nil {
		return nil, err
	}
	key := lockKey(sessionID)

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		ok, err := r.client.SetNX(ctx, key, token, r.opts.LockTTL).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to acquire session lock: %w", err)
		}
		if ok {
			return func(ctx context.Context) error {
				if err := unlockScript.Run(ctx, r.client, []string{key}, token).Err(); err != nil {
					return fmt.Errorf("failed to release session lock: %w", err)
				}
				return nil
			}, nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", ErrSessionLocked, ctx.Err())
		case <-ticker.C:
		}
	}
}

// Close closes the Redis connection
func (r *RedisStore) Close() error {
	return r.client.Close()
}

// Ping verifies the Redis connection is alive
func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
