package persist

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStore(t *testing.T) {
	ctx := context.Background()

	t.Run("Save and load round trip", func(t *testing.T) {
		store := NewFileStore(filepath.Join(t.TempDir(), "state.json"))

		require.NoError(t, store.Save(ctx, []byte(`{"version":1}`)))

		data, err := store.Load(ctx)
		require.NoError(t, err)
		assert.Equal(t, []byte(`{"version":1}`), data)
	})

	t.Run("Missing file loads as nil", func(t *testing.T) {
		store := NewFileStore(filepath.Join(t.TempDir(), "missing.json"))

		data, err := store.Load(ctx)
		require.NoError(t, err)
		assert.Nil(t, data)
	})

	t.Run("Save creates parent directories", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "nested", "deeper", "state.json")
		store := NewFileStore(path)

		require.NoError(t, store.Save(ctx, []byte("x")))

		_, err := os.Stat(path)
		assert.NoError(t, err)
	})

	t.Run("Save replaces previous contents", func(t *testing.T) {
		store := NewFileStore(filepath.Join(t.TempDir(), "state.json"))

		require.NoError(t, store.Save(ctx, []byte("first")))
		require.NoError(t, store.Save(ctx, []byte("second")))

		data, err := store.Load(ctx)
		require.NoError(t, err)
		assert.Equal(t, []byte("second"), data)
	})

	t.Run("Leaves no temp files behind", func(t *testing.T) {
		dir := t.TempDir()
		store := NewFileStore(filepath.Join(dir, "state.json"))

		require.NoError(t, store.Save(ctx, []byte("x")))

		entries, err := os.ReadDir(dir)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, "state.json", entries[0].Name())
	})
}
