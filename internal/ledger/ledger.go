package ledger

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Deduper records which sessions already triggered a settlement request.
// Claim returns true exactly once per session id until Release drops the claim.
type Deduper interface {
	Claim(ctx context.Context, sessionID string) (bool, error)
	Release(ctx context.Context, sessionID string) error
}

type Memory struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func NewMemory() *Memory { return &Memory{seen: make(map[string]struct{})} }

func (m *Memory) Claim(_ context.Context, sessionID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.seen[sessionID]; ok {
		return false, nil
	}
	m.seen[sessionID] = struct{}{}
	return true, nil
}

func (m *Memory) Release(_ context.Context, sessionID string) error {
	m.mu.Lock()
	delete(m.seen, sessionID)
	m.mu.Unlock()
	return nil
}

const (
	defaultPrefix = "arena:settled:"
	defaultTTL    = 48 * time.Hour
)

// Redis keeps claims across restarts of the client.
type Redis struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedis(rdb *redis.Client, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Redis{rdb: rdb, prefix: defaultPrefix, ttl: ttl}
}

// Open parses a redis:// url and pings it.
func Open(ctx context.Context, url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(strings.TrimSpace(url))
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return rdb, nil
}

func (r *Redis) Claim(ctx context.Context, sessionID string) (bool, error) {
	ok, err := r.rdb.SetNX(ctx, r.prefix+sessionID, time.Now().Unix(), r.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claim settlement %s: %w", sessionID, err)
	}
	return ok, nil
}

// Release forgets a claim so a failed request can be retried later.
func (r *Redis) Release(ctx context.Context, sessionID string) error {
	if err := r.rdb.Del(ctx, r.prefix+sessionID).Err(); err != nil {
		return fmt.Errorf("release settlement %s: %w", sessionID, err)
	}
	return nil
}
