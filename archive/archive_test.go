package archive

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStores(t *testing.T) {
	stores := map[string]Store{
		"local":  NewLocalStore(t.TempDir()),
		"memory": NewMemoryStore(),
	}

	for name, store := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, err := store.Get(ctx, "absent")
			require.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, store.Put(ctx, "backups/a.bak", []byte("alpha")))
			require.NoError(t, store.Put(ctx, "backups/b.bak", []byte("beta")))
			require.NoError(t, store.Put(ctx, "other/c.bak", []byte("gamma")))

			data, err := store.Get(ctx, "backups/a.bak")
			require.NoError(t, err)
			assert.Equal(t, []byte("alpha"), data)

			// Put replaces.
			require.NoError(t, store.Put(ctx, "backups/a.bak", []byte("alpha2")))
			data, err = store.Get(ctx, "backups/a.bak")
			require.NoError(t, err)
			assert.Equal(t, []byte("alpha2"), data)

			names, err := store.List(ctx, "backups/")
			require.NoError(t, err)
			assert.Equal(t, []string{"backups/a.bak", "backups/b.bak"}, names)

			names, err = store.List(ctx, "")
			require.NoError(t, err)
			assert.Len(t, names, 3)

			require.NoError(t, store.Delete(ctx, "backups/a.bak"))
			_, err = store.Get(ctx, "backups/a.bak")
			require.ErrorIs(t, err, ErrNotFound)

			// Deleting twice is fine.
			require.NoError(t, store.Delete(ctx, "backups/a.bak"))
		})
	}
}

func TestMemoryStoreIsolation(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	payload := []byte("original")
	require.NoError(t, store.Put(ctx, "x", payload))
	payload[0] = '!'

	data, err := store.Get(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, []byte("original"), data)

	// Mutating the returned slice does not affect the store either.
	data[0] = '?'
	again, err := store.Get(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, []byte("original"), again)
}
