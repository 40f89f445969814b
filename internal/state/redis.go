package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"crt-trading-engine/internal/logging"
)

// ErrCacheUnavailable is returned when Redis is not healthy
var ErrCacheUnavailable = errors.New("cache unavailable - Redis is not healthy")

// Key prefixes
const (
	PrefixCounters = "crt:%s:counters"
	PrefixSnapshot = "crt:%s:snapshot"
)

// DefaultSnapshotTTL bounds how long a cached snapshot outlives its session
const DefaultSnapshotTTL = 10 * time.Minute

// RedisOptions configures the mirror
type RedisOptions struct {
	Address  string
	Password string
	DB       int
	PoolSize int
}

// RedisMirror wraps a primary Store and mirrors every save to Redis. It also
// caches the latest broadcast snapshot per session. Redis failures degrade
// the mirror; the primary store stays authoritative.
type RedisMirror struct {
	primary Store
	client  *redis.Client
	session string
	logger  *logging.Logger

	mu           sync.RWMutex
	healthy      bool
	failureCount int
	maxFailures  int
	lastCheck    time.Time
	recheck      time.Duration
}

// NewRedisMirror connects to Redis. A failed ping returns the mirror in
// degraded mode rather than an error.
func NewRedisMirror(primary Store, session string, opts RedisOptions) *RedisMirror {
	if opts.PoolSize <= 0 {
		opts.PoolSize = 10
	}
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Address,
		Password:     opts.Password,
		DB:           opts.DB,
		PoolSize:     opts.PoolSize,
		MinIdleConns: 1,
		MaxRetries:   2,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	})

	m := &RedisMirror{
		primary:     primary,
		client:      client,
		session:     session,
		logger:      logging.WithComponent("state").WithField("session", session),
		maxFailures: 3,
		recheck:     30 * time.Second,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		m.logger.Warn("Redis unavailable, mirror degraded", "addr", opts.Address, "error", err.Error())
		m.lastCheck = time.Now()
		return m
	}
	m.healthy = true
	m.lastCheck = time.Now()
	m.logger.Info("Redis mirror connected", "addr", opts.Address)
	return m
}

// IsHealthy returns whether Redis is currently available
func (m *RedisMirror) IsHealthy() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.healthy
}

func (m *RedisMirror) recordFailure() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failureCount++
	if m.failureCount >= m.maxFailures {
		if m.healthy {
			m.logger.Warn("Redis marked unhealthy", "failures", m.failureCount)
		}
		m.healthy = false
		m.lastCheck = time.Now()
	}
}

func (m *RedisMirror) recordSuccess() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.healthy {
		m.logger.Info("Redis recovered")
	}
	m.healthy = true
	m.failureCount = 0
	m.lastCheck = time.Now()
}

// available pings an unhealthy client at most once per recheck interval
func (m *RedisMirror) available(ctx context.Context) bool {
	m.mu.RLock()
	healthy := m.healthy
	due := time.Since(m.lastCheck) >= m.recheck
	m.mu.RUnlock()
	if healthy {
		return true
	}
	if !due {
		return false
	}
	if err := m.client.Ping(ctx).Err(); err != nil {
		m.mu.Lock()
		m.lastCheck = time.Now()
		m.mu.Unlock()
		return false
	}
	m.recordSuccess()
	return true
}

// Load reads the primary store, falling back to Redis when the primary has nothing
func (m *RedisMirror) Load(ctx context.Context) (DailyCounters, error) {
	c, err := m.primary.Load(ctx)
	if err == nil || !errors.Is(err, ErrNotFound) {
		return c, err
	}
	if !m.available(ctx) {
		return c, err
	}
	data, rerr := m.client.Get(ctx, fmt.Sprintf(PrefixCounters, m.session)).Bytes()
	if rerr != nil {
		if !errors.Is(rerr, redis.Nil) {
			m.recordFailure()
		}
		return c, err
	}
	m.recordSuccess()
	if jerr := json.Unmarshal(data, &c); jerr != nil {
		return DailyCounters{}, fmt.Errorf("decode mirrored state: %w", jerr)
	}
	return c, nil
}

// Save writes the primary store, then mirrors. Mirror errors are logged only.
func (m *RedisMirror) Save(ctx context.Context, c DailyCounters) error {
	if err := m.primary.Save(ctx, c); err != nil {
		return err
	}
	if err := m.set(ctx, fmt.Sprintf(PrefixCounters, m.session), c, 0); err != nil {
		m.logger.Debug("Counter mirror skipped", "error", err.Error())
	}
	return nil
}

// CacheSnapshot stores the latest snapshot document
func (m *RedisMirror) CacheSnapshot(ctx context.Context, snapshot interface{}) error {
	return m.set(ctx, fmt.Sprintf(PrefixSnapshot, m.session), snapshot, DefaultSnapshotTTL)
}

// CachedSnapshot returns the raw JSON of the last cached snapshot
func (m *RedisMirror) CachedSnapshot(ctx context.Context) ([]byte, error) {
	if !m.available(ctx) {
		return nil, ErrCacheUnavailable
	}
	data, err := m.client.Get(ctx, fmt.Sprintf(PrefixSnapshot, m.session)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		m.recordFailure()
		return nil, fmt.Errorf("redis get failed: %w", err)
	}
	m.recordSuccess()
	return data, nil
}

func (m *RedisMirror) set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if !m.available(ctx) {
		return ErrCacheUnavailable
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}
	if err := m.client.Set(ctx, key, data, ttl).Err(); err != nil {
		m.recordFailure()
		return fmt.Errorf("redis set failed: %w", err)
	}
	m.recordSuccess()
	return nil
}

// Close closes the Redis client
func (m *RedisMirror) Close() error {
	return m.client.Close()
}
