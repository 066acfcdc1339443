package storage

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// backends returns a fresh instance of every Backend implementation
func backends(t *testing.T) map[string]Backend {
	t.Helper()

	badgerStore, err := NewBadgerStore(BadgerConfig{InMemory: true}, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = badgerStore.Close() })

	return map[string]Backend{
		"memory":   NewMemoryStore(),
		"badger":   badgerStore,
		"dynamodb": newDynamoDBStore(newFakeDynamo(), testLogger()),
	}
}

func TestBackend_Properties(t *testing.T) {
	ctx := context.Background()

	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, ok, err := store.Property(ctx, "conference", "history.type")
			require.NoError(t, err)
			assert.False(t, ok, "missing property should not exist")

			require.NoError(t, store.SetProperty(ctx, "conference", "history.type", "all"))
			require.NoError(t, store.SetProperty(ctx, "conference", "history.maxNumber", "10"))
			require.NoError(t, store.SetProperty(ctx, "chat", "history.type", "none"))
			require.NoError(t, store.SetProperty(ctx, "", "xmpp.muc.subject.change.strict", "false"))

			value, ok, err := store.Property(ctx, "conference", "history.type")
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, "all", value)

			require.NoError(t, store.SetProperty(ctx, "conference", "history.type", "number"))
			value, _, err = store.Property(ctx, "conference", "history.type")
			require.NoError(t, err)
			assert.Equal(t, "number", value, "SetProperty should overwrite")

			props, err := store.Properties(ctx, "conference")
			require.NoError(t, err)
			assert.Equal(t, map[string]string{
				"history.type":      "number",
				"history.maxNumber": "10",
			}, props)

			global, err := store.Properties(ctx, "")
			require.NoError(t, err)
			assert.Equal(t, map[string]string{"xmpp.muc.subject.change.strict": "false"}, global)

			require.NoError(t, store.DeleteProperty(ctx, "conference", "history.type"))
			require.NoError(t, store.DeleteProperty(ctx, "conference", "missing"))
			_, ok, err = store.Property(ctx, "conference", "history.type")
			require.NoError(t, err)
			assert.False(t, ok, "deleted property should not exist")

			value, ok, err = store.Property(ctx, "chat", "history.type")
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, "none", value, "namespaces must be isolated")
		})
	}
}

func TestBackend_EmptyValue(t *testing.T) {
	ctx := context.Background()

	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.SetProperty(ctx, "conference", "history.maxNumber", ""))

			value, ok, err := store.Property(ctx, "conference", "history.maxNumber")
			require.NoError(t, err)
			assert.True(t, ok, "an empty value is still a stored property")
			assert.Empty(t, value)
		})
	}
}

func TestBackend_Snapshots(t *testing.T) {
	ctx := context.Background()

	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := store.LoadSnapshot(ctx, "lobby")
			assert.ErrorIs(t, err, ErrSnapshotNotFound)

			data := []byte{0x01, 0x02, 0x03}
			require.NoError(t, store.SaveSnapshot(ctx, "lobby", data))
			require.NoError(t, store.SaveSnapshot(ctx, "dev", []byte{0xff}))
			data[0] = 0x09

			loaded, err := store.LoadSnapshot(ctx, "lobby")
			require.NoError(t, err)
			assert.Equal(t, []byte{0x01, 0x02, 0x03}, loaded, "stored snapshot must not alias caller memory")

			rooms, err := store.ListSnapshots(ctx)
			require.NoError(t, err)
			sort.Strings(rooms)
			assert.Equal(t, []string{"dev", "lobby"}, rooms)

			props, err := store.Properties(ctx, "")
			require.NoError(t, err)
			assert.Empty(t, props, "snapshots must not show up as properties")

			require.NoError(t, store.DeleteSnapshot(ctx, "lobby"))
			require.NoError(t, store.DeleteSnapshot(ctx, "lobby"))
			_, err = store.LoadSnapshot(ctx, "lobby")
			assert.ErrorIs(t, err, ErrSnapshotNotFound)
		})
	}
}

func TestBackend_HealthCheck(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			assert.NoError(t, store.HealthCheck(context.Background()))
		})
	}
}

func TestBadgerStore_CancelledContext(t *testing.T) {
	store, err := NewBadgerStore(BadgerConfig{InMemory: true}, testLogger())
	require.NoError(t, err)
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, store.SetProperty(ctx, "conference", "history.type", "all"), context.Canceled)
	_, _, err = store.Property(ctx, "conference", "history.type")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBadgerStore_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	cfg := BadgerConfig{Path: t.TempDir(), SyncWrites: true}

	store, err := NewBadgerStore(cfg, testLogger())
	require.NoError(t, err)
	require.NoError(t, store.SetProperty(ctx, "conference", "history.maxNumber", "40"))
	require.NoError(t, store.SaveSnapshot(ctx, "lobby", []byte("state")))
	require.NoError(t, store.Close())

	reopened, err := NewBadgerStore(cfg, testLogger())
	require.NoError(t, err)
	defer reopened.Close()

	value, ok, err := reopened.Property(ctx, "conference", "history.maxNumber")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "40", value)

	snapshot, err := reopened.LoadSnapshot(ctx, "lobby")
	require.NoError(t, err)
	assert.Equal(t, []byte("state"), snapshot)
}

func TestNewBadgerStore_RequiresPath(t *testing.T) {
	_, err := NewBadgerStore(BadgerConfig{}, testLogger())
	assert.Error(t, err)
}
