package history

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisStore(client, WithPrefix("test")), mr
}

// stores runs fn against every backend.
func stores(t *testing.T, fn func(t *testing.T, s *Service)) {
	t.Run("memory", func(t *testing.T) { fn(t, newTestService(NewMemoryStore())) })
	t.Run("redis", func(t *testing.T) {
		store, _ := setupRedisStore(t)
		fn(t, newTestService(store))
	})
}

// newTestService ticks the clock one second per call.
func newTestService(store Store) *Service {
	s := NewService(store)
	base := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	n := 0
	s.now = func() time.Time {
		n++
		return base.Add(time.Duration(n) * time.Second)
	}
	return s
}

func TestAddMessageCreatesConversationAndTitle(t *testing.T) {
	stores(t, func(t *testing.T, s *Service) {
		ctx := context.Background()
		cur, err := s.Current(ctx)
		require.NoError(t, err)
		assert.Nil(t, cur)

		long := strings.Repeat("weather ", 10)
		_, err = s.AddMessage(ctx, RoleUser, long)
		require.NoError(t, err)
		_, err = s.AddMessage(ctx, RoleAssistant, "It is sunny.", ToolCall{Tool: "get_weather", Args: map[string]any{"location": "Paris"}})
		require.NoError(t, err)

		cur, err = s.Current(ctx)
		require.NoError(t, err)
		require.NotNil(t, cur)
		assert.Equal(t, long[:50]+"...", cur.Title)
		require.Len(t, cur.Messages, 2)
		assert.Equal(t, "get_weather", cur.Messages[1].ToolCalls[0].Tool)
		assert.Equal(t, cur.Messages[1].Timestamp, cur.UpdatedAt)
	})
}

func TestDefaultTitleKeptForAssistantFirst(t *testing.T) {
	stores(t, func(t *testing.T, s *Service) {
		ctx := context.Background()
		c, err := s.Create(ctx, "")
		require.NoError(t, err)
		assert.Equal(t, "Conversation 2024-05-01 09:00:01", c.Title)

		_, err = s.AddMessage(ctx, RoleAssistant, "hello")
		require.NoError(t, err)
		_, err = s.AddMessage(ctx, RoleUser, "short")
		require.NoError(t, err)
		got, err := s.Get(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, "Conversation 2024-05-01 09:00:01", got.Title)
	})
}

func TestListNewestFirstAndSetCurrent(t *testing.T) {
	stores(t, func(t *testing.T, s *Service) {
		ctx := context.Background()
		a, err := s.Create(ctx, "a")
		require.NoError(t, err)
		b, err := s.Create(ctx, "b")
		require.NoError(t, err)

		require.NoError(t, s.SetCurrent(ctx, a.ID))
		_, err = s.AddMessage(ctx, RoleUser, "bump a")
		require.NoError(t, err)

		list, err := s.List(ctx)
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, a.ID, list[0].ID)
		assert.Equal(t, b.ID, list[1].ID)

		assert.ErrorIs(t, s.SetCurrent(ctx, "missing"), ErrNotFound)
	})
}

func TestDeleteClearsCurrent(t *testing.T) {
	stores(t, func(t *testing.T, s *Service) {
		ctx := context.Background()
		c, err := s.Create(ctx, "x")
		require.NoError(t, err)
		require.NoError(t, s.Delete(ctx, c.ID))

		cur, err := s.Current(ctx)
		require.NoError(t, err)
		assert.Nil(t, cur)
		assert.ErrorIs(t, s.Delete(ctx, c.ID), ErrNotFound)

		_, err = s.AddMessage(ctx, RoleUser, "fresh")
		require.NoError(t, err)
		require.NoError(t, s.Clear(ctx))
		list, err := s.List(ctx)
		require.NoError(t, err)
		assert.Empty(t, list)
	})
}

func TestInvalidRole(t *testing.T) {
	s := NewService(nil)
	_, err := s.AddMessage(context.Background(), Role("tool"), "x")
	assert.ErrorIs(t, err, ErrInvalidRole)
}

func TestExportFile(t *testing.T) {
	ctx := context.Background()
	s := newTestService(NewMemoryStore())
	_, err := s.AddMessage(ctx, RoleUser, "hi")
	require.NoError(t, err)
	cur, err := s.Current(ctx)
	require.NoError(t, err)

	data, err := s.Export(ctx, cur.ID)
	require.NoError(t, err)
	assert.Contains(t, string(data), "\n  \"title\": \"hi\"")

	path := filepath.Join(t.TempDir(), "out", "conv.json")
	require.NoError(t, s.ExportFile(ctx, cur.ID, path))
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var back Conversation
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.Equal(t, cur.ID, back.ID)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "tmp file left behind")

	_, err = s.Export(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisListDropsExpiredEntries(t *testing.T) {
	store, mr := setupRedisStore(t)
	store.ttl = time.Minute
	s := newTestService(store)
	ctx := context.Background()
	_, err := s.Create(ctx, "old")
	require.NoError(t, err)

	mr.FastForward(2 * time.Minute)
	list, err := s.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.False(t, mr.Exists("test:conversations"), "stale index entry kept")
}

func TestMemoryStoreCopies(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	c := &Conversation{ID: "c1", Messages: []Message{{ID: "m1"}}}
	require.NoError(t, store.Save(ctx, c))
	c.Messages[0].ID = "changed"
	got, err := store.Load(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "m1", got.Messages[0].ID)
}
