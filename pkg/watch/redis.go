package watch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig configures the Redis-backed ledger.
type RedisConfig struct {
	// Address is the Redis server address (e.g., "localhost:6379").
	Address string

	// Password for Redis authentication (optional).
	Password string

	// Database number to use.
	Database int

	// Prefix is prepended to every ledger key.
	Prefix string

	// TTL expires ledger entries (0 = keep forever).
	TTL time.Duration

	// Timeout bounds each Redis call.
	Timeout time.Duration
}

// DefaultRedisConfig returns the ledger defaults for address.
func DefaultRedisConfig(address string) RedisConfig {
	return RedisConfig{
		Address: address,
		Prefix:  "bcilog:watch:",
		Timeout: 5 * time.Second,
	}
}

// redisClient is the part of *redis.Client the ledger uses.
type redisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Close() error
}

// RedisLedger keeps handled file states in Redis so a restarted watcher
// does not reconvert files it already handled.
type RedisLedger struct {
	cfg    RedisConfig
	client redisClient
}

// NewRedisLedger connects to Redis and checks the connection.
func NewRedisLedger(ctx context.Context, cfg RedisConfig) (*RedisLedger, error) {
	def := DefaultRedisConfig(cfg.Address)
	if cfg.Prefix == "" {
		cfg.Prefix = def.Prefix
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.Database,
		ReadTimeout:  cfg.Timeout,
		WriteTimeout: cfg.Timeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return newRedisLedger(cfg, client), nil
}

func newRedisLedger(cfg RedisConfig, client redisClient) *RedisLedger {
	return &RedisLedger{cfg: cfg, client: client}
}

type ledgerEntry struct {
	ModTime int64 `json:"mod_time"`
	Size    int64 `json:"size"`
}

func (l *RedisLedger) key(path string) string {
	return l.cfg.Prefix + "file:" + path
}

// Seen implements Ledger.
func (l *RedisLedger) Seen(ctx context.Context, path string) (FileState, bool, error) {
	ctx, cancel := l.withTimeout(ctx)
	defer cancel()

	data, err := l.client.Get(ctx, l.key(path)).Bytes()
	if errors.Is(err, redis.Nil) {
		return FileState{}, false, nil
	}
	if err != nil {
		return FileState{}, false, fmt.Errorf("failed to load ledger entry: %w", err)
	}

	var e ledgerEntry
	if err := json.Unmarshal(data, &e); err != nil {
		return FileState{}, false, fmt.Errorf("failed to unmarshal ledger entry: %w", err)
	}
	return FileState{ModTime: time.Unix(0, e.ModTime), Size: e.Size}, true, nil
}

// Mark implements Ledger.
func (l *RedisLedger) Mark(ctx context.Context, path string, state FileState) error {
	ctx, cancel := l.withTimeout(ctx)
	defer cancel()

	data, err := json.Marshal(ledgerEntry{ModTime: state.ModTime.UnixNano(), Size: state.Size})
	if err != nil {
		return fmt.Errorf("failed to marshal ledger entry: %w", err)
	}
	if err := l.client.Set(ctx, l.key(path), data, l.cfg.TTL).Err(); err != nil {
		return fmt.Errorf("failed to save ledger entry: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (l *RedisLedger) Close() error {
	return l.client.Close()
}

func (l *RedisLedger) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if l.cfg.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, l.cfg.Timeout)
}
