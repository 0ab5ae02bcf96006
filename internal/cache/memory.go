// Package cache は本棚スナップショットのキャッシュを提供する。
//
// プロセス内のTTL付きメモリキャッシュと、複数インスタンスで共有する
// Redisキャッシュの2つの実装がある。どちらも shelf.SnapshotCache を満たす。
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/hitoshi/shelfmate/internal/model"
	"github.com/hitoshi/shelfmate/internal/shelf"
)

type memoryItem struct {
	snapshot  *model.ShelfSnapshot
	expiresAt time.Time
}

// MemoryCache はプロセス内のTTL付きスナップショットキャッシュ。
type MemoryCache struct {
	mu       sync.RWMutex
	items    map[string]memoryItem
	versions map[string]int64
	ttl      time.Duration
	now      func() time.Time
}

// NewMemoryCache はMemoryCacheを生成する。ttlが0以下の場合は5分。
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &MemoryCache{
		items:    make(map[string]memoryItem),
		versions: make(map[string]int64),
		ttl:      ttl,
		now:      time.Now,
	}
}

// Get はキャッシュ済みのスナップショットを返す。期限切れの場合はミス扱い。
func (c *MemoryCache) Get(_ context.Context, userID string) (*model.ShelfSnapshot, bool, error) {
	c.mu.RLock()
	item, ok := c.items[userID]
	c.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if !c.now().Before(item.expiresAt) {
		c.mu.Lock()
		if cur, ok := c.items[userID]; ok && cur.expiresAt.Equal(item.expiresAt) {
			delete(c.items, userID)
		}
		c.mu.Unlock()
		return nil, false, nil
	}
	return item.snapshot, true, nil
}

// Version はユーザーの世代番号を返す。
func (c *MemoryCache) Version(_ context.Context, userID string) (int64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.versions[userID], nil
}

// Set は世代番号がversionのままであればスナップショットを保存する。
func (c *MemoryCache) Set(_ context.Context, snapshot *model.ShelfSnapshot, version int64) (bool, error) {
	if snapshot == nil {
		return false, nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.versions[snapshot.UserID] != version {
		return false, nil
	}
	c.items[snapshot.UserID] = memoryItem{
		snapshot:  snapshot,
		expiresAt: c.now().Add(c.ttl),
	}
	return true, nil
}

// Invalidate はユーザーのスナップショットを破棄し、世代番号を進める。
func (c *MemoryCache) Invalidate(_ context.Context, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, userID)
	c.versions[userID]++
	return nil
}

// Purge は期限切れのエントリを削除し、削除件数を返す。
func (c *MemoryCache) Purge() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	n := 0
	for k, item := range c.items {
		if !now.Before(item.expiresAt) {
			delete(c.items, k)
			n++
		}
	}
	return n
}

// Len はキャッシュ中のエントリ数を返す。
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

var _ shelf.SnapshotCache = (*MemoryCache)(nil)
