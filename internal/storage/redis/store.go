// Package redis publishes the snapshot into a single Redis hash.
package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/JakeFAU/radar-snapshot/internal/snapshot"
)

const (
	fieldData    = "data"
	fieldModTime = "modtime"
)

// Config captures the connection and key for the Redis store.
type Config struct {
	Addr     string `mapstructure:"addr" yaml:"addr"`
	Password string `mapstructure:"password" yaml:"password"`
	DB       int    `mapstructure:"db" yaml:"db"`
	Key      string `mapstructure:"key" yaml:"key"`
}

// Client is the subset of go-redis commands the store issues.
type Client interface {
	HSet(ctx context.Context, key string, values ...any) *goredis.IntCmd
	HMGet(ctx context.Context, key string, fields ...string) *goredis.SliceCmd
}

// Store keeps image bytes and modification time as two fields of one hash.
// A single HSET writes both, so readers never pair new bytes with an old time
// or observe a partial image.
type Store struct {
	client Client
	key    string
	now    func() time.Time
}

// Dial opens a client for cfg and verifies it with PING.
func Dial(ctx context.Context, cfg Config) (*goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", cfg.Addr, err)
	}
	return client, nil
}

// New creates a Redis-backed snapshot store.
func New(client Client, cfg Config) (*Store, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if cfg.Key == "" {
		return nil, fmt.Errorf("redis key is required")
	}
	return &Store{client: client, key: cfg.Key, now: time.Now}, nil
}

// Publish replaces the stored snapshot.
func (s *Store) Publish(ctx context.Context, data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("refusing to publish empty snapshot")
	}
	modTime := strconv.FormatInt(s.now().UTC().UnixNano(), 10)
	if err := s.client.HSet(ctx, s.key, fieldData, data, fieldModTime, modTime).Err(); err != nil {
		return fmt.Errorf("hset %s: %w", s.key, err)
	}
	return nil
}

// Read returns the stored snapshot or snapshot.ErrNotFound.
func (s *Store) Read(ctx context.Context) (snapshot.Snapshot, error) {
	vals, err := s.client.HMGet(ctx, s.key, fieldData, fieldModTime).Result()
	if err != nil {
		return snapshot.Snapshot{}, fmt.Errorf("hmget %s: %w", s.key, err)
	}
	if len(vals) != 2 || vals[0] == nil {
		return snapshot.Snapshot{}, snapshot.ErrNotFound
	}
	data, ok := vals[0].(string)
	if !ok {
		return snapshot.Snapshot{}, fmt.Errorf("unexpected %s type %T", fieldData, vals[0])
	}
	snap := snapshot.Snapshot{Data: []byte(data)}
	if raw, ok := vals[1].(string); ok {
		nanos, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return snapshot.Snapshot{}, fmt.Errorf("parse %s: %w", fieldModTime, err)
		}
		snap.ModTime = time.Unix(0, nanos).UTC()
	}
	return snap, nil
}
