package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/shelfmate/internal/model"
	"github.com/hitoshi/shelfmate/internal/shelf"
)

const (
	keyPrefix     = "shelfmate:snapshot:"
	versionPrefix = "shelfmate:snapshot-version:"
	versionTTL    = 24 * time.Hour
)

// RedisCache はRedisに保存するスナップショットキャッシュ。
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisClient はREDIS_URL形式のURLからクライアントを生成する。
func NewRedisClient(rawURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	opts.PoolSize = 10
	opts.MinIdleConns = 2
	opts.MaxRetries = 3
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second
	return redis.NewClient(opts), nil
}

// NewRedisCache はRedisCacheを生成する。ttlが0以下の場合は5分。
func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &RedisCache{client: client, ttl: ttl}
}

// Ping はRedisへの接続を確認する。
func (c *RedisCache) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := c.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

// Get はキャッシュ済みのスナップショットを返す。
func (c *RedisCache) Get(ctx context.Context, userID string) (*model.ShelfSnapshot, bool, error) {
	data, err := c.client.Get(ctx, snapshotKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get snapshot: %w", err)
	}

	var snap model.ShelfSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		// 壊れたエントリはミス扱いにして上書きさせる
		return nil, false, nil
	}
	return &snap, true, nil
}

// Version はユーザーの世代番号を返す。キーがない場合は0。
func (c *RedisCache) Version(ctx context.Context, userID string) (int64, error) {
	v, err := c.client.Get(ctx, versionKey(userID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get snapshot version: %w", err)
	}
	return v, nil
}

// Set は世代番号がversionのままであればスナップショットをTTL付きで保存する。
// 世代番号のキーをWATCHし、途中でInvalidateされた場合は保存しない。
func (c *RedisCache) Set(ctx context.Context, snapshot *model.ShelfSnapshot, version int64) (bool, error) {
	if snapshot == nil {
		return false, nil
	}
	data, err := json.Marshal(snapshot)
	if err != nil {
		return false, fmt.Errorf("failed to encode snapshot: %w", err)
	}

	vkey := versionKey(snapshot.UserID)
	stored := false
	err = c.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, vkey).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if current != version {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, snapshotKey(snapshot.UserID), data, c.ttl)
			return nil
		})
		if err != nil {
			return err
		}
		stored = true
		return nil
	}, vkey)
	if errors.Is(err, redis.TxFailedErr) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to set snapshot: %w", err)
	}
	return stored, nil
}

// Invalidate はユーザーのスナップショットを削除し、世代番号を進める。
func (c *RedisCache) Invalidate(ctx context.Context, userID string) error {
	vkey := versionKey(userID)
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, vkey)
		pipe.Expire(ctx, vkey, versionTTL)
		pipe.Del(ctx, snapshotKey(userID))
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete snapshot: %w", err)
	}
	return nil
}

// Close はクライアントを閉じる。
func (c *RedisCache) Close() error {
	return c.client.Close()
}

func snapshotKey(userID string) string {
	return keyPrefix + userID
}

func versionKey(userID string) string {
	return versionPrefix + userID
}

var _ shelf.SnapshotCache = (*RedisCache)(nil)
