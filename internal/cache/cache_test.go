package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hitoshi/shelfmate/internal/model"
)

func sampleSnapshot(userID string) *model.ShelfSnapshot {
	page := 12
	return &model.ShelfSnapshot{
		UserID: userID,
		CurrentlyReading: &model.ShelvedBook{
			Entry: model.ShelfEntry{UserID: userID, BookID: "book-a", Status: model.StatusCurrentlyReading, CurrentPage: &page},
			Book:  model.Book{ID: "book-a", Title: "Book A", PageCount: 300},
		},
		ToRead: []model.ShelvedBook{
			{Entry: model.ShelfEntry{UserID: userID, BookID: "book-b", Status: model.StatusToRead}},
		},
		TakenAt: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestMemoryCache_SetGetInvalidate(t *testing.T) {
	c := NewMemoryCache(time.Minute)
	ctx := context.Background()

	_, ok, err := c.Get(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, ok)

	stored, err := c.Set(ctx, sampleSnapshot("u1"), 0)
	require.NoError(t, err)
	require.True(t, stored)
	snap, ok, err := c.Get(ctx, "u1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, model.StatusCurrentlyReading, snap.StatusOf("book-a"))

	require.NoError(t, c.Invalidate(ctx, "u1"))
	_, ok, err = c.Get(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryCache_Expiry(t *testing.T) {
	c := NewMemoryCache(time.Minute)
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	_, err := c.Set(ctx, sampleSnapshot("u1"), 0)
	require.NoError(t, err)
	_, err = c.Set(ctx, sampleSnapshot("u2"), 0)
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	_, ok, err := c.Get(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 1, c.Len())

	assert.Equal(t, 1, c.Purge())
	assert.Zero(t, c.Len())
}

func TestMemoryCache_DefaultTTL(t *testing.T) {
	c := NewMemoryCache(0)
	assert.Equal(t, 5*time.Minute, c.ttl)
	stored, err := c.Set(context.Background(), nil, 0)
	assert.NoError(t, err)
	assert.False(t, stored)
}

func TestMemoryCache_SetSkipsStaleVersion(t *testing.T) {
	c := NewMemoryCache(time.Minute)
	ctx := context.Background()

	v, err := c.Version(ctx, "u1")
	require.NoError(t, err)

	// 読み込み中に変更があった
	require.NoError(t, c.Invalidate(ctx, "u1"))

	stored, err := c.Set(ctx, sampleSnapshot("u1"), v)
	require.NoError(t, err)
	assert.False(t, stored)
	_, ok, err := c.Get(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, ok)

	v, err = c.Version(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)
	stored, err = c.Set(ctx, sampleSnapshot("u1"), v)
	require.NoError(t, err)
	assert.True(t, stored)
}

func TestRedisCache_RoundTrip(t *testing.T) {
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set, skipping redis test")
	}
	client, err := NewRedisClient(url)
	require.NoError(t, err)
	c := NewRedisCache(client, time.Minute)
	defer c.Close()

	ctx := context.Background()
	require.NoError(t, c.Ping(ctx))

	userID := "redis-test-user"
	require.NoError(t, c.Invalidate(ctx, userID))

	_, ok, err := c.Get(ctx, userID)
	require.NoError(t, err)
	assert.False(t, ok)

	v, err := c.Version(ctx, userID)
	require.NoError(t, err)
	stored, err := c.Set(ctx, sampleSnapshot(userID), v)
	require.NoError(t, err)
	require.True(t, stored)
	snap, ok, err := c.Get(ctx, userID)
	require.NoError(t, err)
	require.True(t, ok)
	require.NotNil(t, snap.CurrentlyReading)
	assert.Equal(t, 12, snap.CurrentlyReading.Entry.Page())
	assert.Equal(t, model.StatusToRead, snap.StatusOf("book-b"))

	require.NoError(t, c.Invalidate(ctx, userID))
	stored, err = c.Set(ctx, sampleSnapshot(userID), v)
	require.NoError(t, err)
	assert.False(t, stored, "stale version must not be written back")
	_, ok, err = c.Get(ctx, userID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNewRedisClient_InvalidURL(t *testing.T) {
	_, err := NewRedisClient("://bad")
	assert.Error(t, err)
}

func TestSnapshotKey(t *testing.T) {
	assert.Equal(t, "shelfmate:snapshot:u1", snapshotKey("u1"))
	assert.Equal(t, "shelfmate:snapshot-version:u1", versionKey("u1"))
}
