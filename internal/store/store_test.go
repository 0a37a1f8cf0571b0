package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, ch <-chan Change) Change {
	t.Helper()
	select {
	case c, ok := <-ch:
		require.True(t, ok, "watch channel closed")
		return c
	case <-time.After(3 * time.Second):
		t.Fatal("no change received")
		return Change{}
	}
}

func exercise(t *testing.T, s Store) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, ok, err := s.Get(ctx, "rules")
	require.NoError(t, err)
	assert.False(t, ok)

	changes, err := s.Watch(ctx)
	require.NoError(t, err)

	require.NoError(t, s.Set(ctx, "rules", []byte(`[{"id":"r1"}]`)))
	c := receive(t, changes)
	assert.True(t, c.Has("rules"))

	v, ok, err := s.Get(ctx, "rules")
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `[{"id":"r1"}]`, string(v))

	require.NoError(t, s.Delete(ctx, "rules"))
	c = receive(t, changes)
	assert.Equal(t, []string{"rules"}, c.Keys)

	_, ok, err = s.Get(ctx, "rules")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryStore(t *testing.T) {
	s := NewMemory()
	exercise(t, s)

	require.NoError(t, s.Close())
	_, _, err := s.Get(context.Background(), "rules")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestMemoryWatchEndsWithContext(t *testing.T) {
	s := NewMemory()
	ctx, cancel := context.WithCancel(context.Background())
	ch, err := s.Watch(ctx)
	require.NoError(t, err)
	cancel()
	assert.Eventually(t, func() bool {
		select {
		case _, ok := <-ch:
			return !ok
		default:
			return false
		}
	}, time.Second, 10*time.Millisecond)
}

func TestFileStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.yaml")
	s, err := NewFile(path, 20*time.Millisecond)
	require.NoError(t, err)
	defer s.Close()

	exercise(t, s)
}

func TestFileStoreExternalEdit(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	path := filepath.Join(t.TempDir(), "store.yaml")
	require.NoError(t, os.WriteFile(path, []byte("extensionEnabled: true\nenvironmentVariables: []\n"), 0o644))

	s, err := NewFile(path, 20*time.Millisecond)
	require.NoError(t, err)
	defer s.Close()

	v, ok, err := s.Get(ctx, "extensionEnabled")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "true", string(v))

	changes, err := s.Watch(ctx)
	require.NoError(t, err)

	edited := "extensionEnabled: false\nenvironmentVariables: []\n"
	require.NoError(t, os.WriteFile(path, []byte(edited), 0o644))

	c := receive(t, changes)
	assert.Equal(t, []string{"extensionEnabled"}, c.Keys)
}

func TestFileStoreRejectsNonJSON(t *testing.T) {
	s, err := NewFile(filepath.Join(t.TempDir(), "store.yaml"), 0)
	require.NoError(t, err)
	defer s.Close()
	assert.Error(t, s.Set(context.Background(), "rules", []byte("{nope")))
}

func TestDiff(t *testing.T) {
	prev := map[string][]byte{
		"a": []byte(`{"x":1,"y":2}`),
		"b": []byte(`true`),
		"c": []byte(`[]`),
	}
	next := map[string][]byte{
		"a": []byte(`{"y":2, "x":1}`),
		"b": []byte(`false`),
		"d": []byte(`1`),
	}
	assert.Equal(t, []string{"b", "c", "d"}, diff(prev, next))
}

func TestRedisStore(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	s := newRedis(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "test:")
	defer s.Close()

	exercise(t, s)

	require.NoError(t, s.Set(context.Background(), "groups", []byte(`[]`)))
	got, err := mr.Get("test:groups")
	require.NoError(t, err)
	assert.Equal(t, "[]", got)
}

func TestNewRedisUnreachable(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	addr := mr.Addr()
	mr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err = NewRedis(ctx, RedisOptions{Addr: addr})
	assert.Error(t, err)
}
