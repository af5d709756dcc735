package checkpoint

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wwwzy/ArcadeAgent/internal/storage"
)

func newSQLiteStore(t *testing.T) Store {
	t.Helper()
	s, err := storage.Open(context.Background(), storage.Config{Path: filepath.Join(t.TempDir(), "ckpt.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	store, err := NewSQLiteStore(s)
	require.NoError(t, err)
	return store
}

func newRedisStore(t *testing.T) Store {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStoreWithClient(client, "test:", 0)
}

func backends(t *testing.T) map[string]func(t *testing.T) Store {
	return map[string]func(t *testing.T) Store{
		BackendMemory: func(*testing.T) Store { return NewMemoryStore() },
		BackendSQLite: newSQLiteStore,
		BackendRedis:  newRedisStore,
	}
}

func TestStore_SaveLoadOverwrite(t *testing.T) {
	for name, mk := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := mk(t)

			_, err := store.Load(ctx, "thread-1")
			require.ErrorIs(t, err, ErrNotFound)

			rec := &Record{ThreadID: "thread-1", Status: "running", LastNode: "input", State: []byte(`{"messages":[]}`)}
			require.NoError(t, store.Save(ctx, rec))
			assert.False(t, rec.UpdatedAt.IsZero())

			require.NoError(t, store.Save(ctx, &Record{
				ThreadID: "thread-1",
				Status:   "awaiting_authorization",
				LastNode: "authorization",
				State:    []byte(`{"pending":{"request_id":"auth-1"}}`),
			}))

			got, err := store.Load(ctx, "thread-1")
			require.NoError(t, err)
			assert.Equal(t, "awaiting_authorization", got.Status)
			assert.Equal(t, "authorization", got.LastNode)
			assert.JSONEq(t, `{"pending":{"request_id":"auth-1"}}`, string(got.State))
		})
	}
}

func TestStore_ListAndDelete(t *testing.T) {
	for name, mk := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := mk(t)

			require.NoError(t, store.Save(ctx, &Record{ThreadID: "a", Status: "finished", State: []byte("{}")}))
			time.Sleep(5 * time.Millisecond)
			require.NoError(t, store.Save(ctx, &Record{ThreadID: "b", Status: "awaiting_authorization", State: []byte("{}")}))
			time.Sleep(5 * time.Millisecond)
			require.NoError(t, store.Save(ctx, &Record{ThreadID: "c", Status: "finished", State: []byte("{}")}))

			all, err := store.List(ctx, ListOptions{})
			require.NoError(t, err)
			require.Len(t, all, 3)
			assert.Equal(t, "c", all[0].ThreadID)

			finished, err := store.List(ctx, ListOptions{Status: "finished", Limit: 1})
			require.NoError(t, err)
			require.Len(t, finished, 1)
			assert.Equal(t, "c", finished[0].ThreadID)

			require.NoError(t, store.Delete(ctx, "b"))
			_, err = store.Load(ctx, "b")
			require.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStore_RejectsInvalidRecord(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	require.Error(t, store.Save(ctx, nil))
	require.Error(t, store.Save(ctx, &Record{State: []byte("{}")}))
	require.Error(t, store.Save(ctx, &Record{ThreadID: "x"}))
}

func TestRedisStore_TTLExpiresAndIndexIsCleaned(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	ctx := context.Background()
	store := NewRedisStoreWithClient(client, "", time.Minute)
	require.NoError(t, store.Save(ctx, &Record{ThreadID: "t", Status: "finished", State: []byte("{}")}))

	mr.FastForward(2 * time.Minute)

	_, err = store.Load(ctx, "t")
	require.ErrorIs(t, err, ErrNotFound)

	list, err := store.List(ctx, ListOptions{})
	require.NoError(t, err)
	assert.Empty(t, list)

	members, err := client.ZRange(ctx, keyThreadIndex, 0, -1).Result()
	require.NoError(t, err)
	assert.Empty(t, members)
}

func TestStore_DeleteBeforeKeepsOpenThreads(t *testing.T) {
	for name, mk := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := mk(t)

			for _, rec := range []Record{
				{ThreadID: "done-1", Status: "finished"},
				{ThreadID: "done-2", Status: "authorization_failed"},
				{ThreadID: "waiting", Status: "awaiting_authorization"},
			} {
				rec.State = []byte(`{}`)
				require.NoError(t, store.Save(ctx, &rec))
			}
			closed := []string{"finished", "authorization_failed"}

			// 截止时间早于所有记录时不删除
			n, err := store.DeleteBefore(ctx, time.Now().UTC().Add(-time.Hour), closed, 10)
			require.NoError(t, err)
			assert.Zero(t, n)

			cut := time.Now().UTC().Add(time.Hour)
			n, err = store.DeleteBefore(ctx, cut, closed, 1)
			require.NoError(t, err)
			assert.EqualValues(t, 1, n)

			n, err = store.DeleteBefore(ctx, cut, closed, 10)
			require.NoError(t, err)
			assert.EqualValues(t, 1, n)

			list, err := store.List(ctx, ListOptions{})
			require.NoError(t, err)
			require.Len(t, list, 1)
			assert.Equal(t, "waiting", list[0].ThreadID)
		})
	}
}
