// Package cache stores per-unit scan results in Redis so repeated scans of
// the same decompilation skip the regex pass. Keys bind the unit text to the
// scan configuration; any config change invalidates prior entries.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/malsift/malsift/pkg/config"
	"github.com/malsift/malsift/pkg/scan"
	"github.com/malsift/malsift/pkg/unit"
)

const keyPrefix = "malsift:scan:"

// Config configures the Redis connection.
type Config struct {
	Addr     string // defaults to MALSIFT_REDIS_ADDR env
	Password string
	DB       int
	TTL      time.Duration
}

// Cache is a Redis-backed scan result cache.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// New connects to Redis and verifies the connection with a ping.
func New(cfg Config) (*Cache, error) {
	if cfg.Addr == "" {
		cfg.Addr = os.Getenv("MALSIFT_REDIS_ADDR")
	}
	if cfg.Addr == "" {
		return nil, fmt.Errorf("no Redis address configured (set MALSIFT_REDIS_ADDR)")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}

	return &Cache{client: client, ttl: cfg.TTL}, nil
}

// Fingerprint derives a stable digest of the scan configuration. Results
// cached under one fingerprint are never served for another.
func Fingerprint(cfg *config.Config) string {
	data, err := json.Marshal(cfg)
	if err != nil {
		// Config is plain data; marshalling only fails if the struct grows
		// an unsupported field type.
		return "unfingerprintable"
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:8])
}

// Key builds the cache key for a unit under a config fingerprint.
func Key(u unit.Unit, fingerprint string) string {
	h := sha256.New()
	h.Write([]byte(fingerprint))
	h.Write([]byte{0})
	h.Write([]byte(u.Text))
	return keyPrefix + fingerprint + ":" + hex.EncodeToString(h.Sum(nil)[:16])
}

// Get returns the cached result for key, with found=false on a miss.
func (c *Cache) Get(ctx context.Context, key string) (*scan.UnitResult, bool, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache get: %w", err)
	}
	var res scan.UnitResult
	if err := json.Unmarshal(data, &res); err != nil {
		// A corrupt entry is treated as a miss so the scanner recomputes it.
		return nil, false, nil
	}
	return &res, true, nil
}

// Put stores a unit result under key with the configured TTL.
func (c *Cache) Put(ctx context.Context, key string, res *scan.UnitResult) error {
	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("marshal cached result: %w", err)
	}
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache put: %w", err)
	}
	return nil
}

// Close releases the Redis connection.
func (c *Cache) Close() error {
	return c.client.Close()
}
