package session

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/libretto/pkg/descriptor"
	libretoerrors "github.com/tombee/libretto/pkg/errors"
)

func sampleState() *State {
	return &State{
		Headers:     map[string]string{"X-Team": "search"},
		Cookies:     map[string]string{"sid": "abc"},
		Token:       "tok-1",
		TokenExpiry: time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC),
		UpdatedAt:   time.Date(2026, 8, 25, 9, 30, 0, 0, time.UTC),
	}
}

func TestFileStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewFileStore(filepath.Join(t.TempDir(), "state.json"))

	got, err := store.Load(ctx, "shop")
	require.NoError(t, err)
	assert.Nil(t, got, "missing file loads as no state")

	want := sampleState()
	require.NoError(t, store.Save(ctx, "shop", want))

	got, err = store.Load(ctx, "shop")
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestFileStore_PreservesOtherKeys(t *testing.T) {
	ctx := context.Background()
	store := NewFileStore(filepath.Join(t.TempDir(), "state.json"))

	require.NoError(t, store.Save(ctx, "shop", sampleState()))

	other := sampleState()
	other.Token = "tok-2"
	require.NoError(t, store.Save(ctx, "billing", other))

	shop, err := store.Load(ctx, "shop")
	require.NoError(t, err)
	require.NotNil(t, shop)
	assert.Equal(t, "tok-1", shop.Token)

	billing, err := store.Load(ctx, "billing")
	require.NoError(t, err)
	require.NotNil(t, billing)
	assert.Equal(t, "tok-2", billing.Token)
}

func TestFileStore_CreatesParentDirs(t *testing.T) {
	ctx := context.Background()
	store := NewFileStore(filepath.Join(t.TempDir(), "nested", "deep", "state.json"))

	require.NoError(t, store.Save(ctx, "shop", sampleState()))

	got, err := store.Load(ctx, "shop")
	require.NoError(t, err)
	assert.NotNil(t, got)
}

func TestSQLiteStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	defer store.Close()

	got, err := store.Load(ctx, "shop")
	require.NoError(t, err)
	assert.Nil(t, got, "empty table loads as no state")

	want := sampleState()
	require.NoError(t, store.Save(ctx, "shop", want))

	got, err = store.Load(ctx, "shop")
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestSQLiteStore_Upserts(t *testing.T) {
	ctx := context.Background()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	defer store.Close()

	first := sampleState()
	require.NoError(t, store.Save(ctx, "shop", first))

	second := sampleState()
	second.Token = "tok-rotated"
	require.NoError(t, store.Save(ctx, "shop", second))

	got, err := store.Load(ctx, "shop")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "tok-rotated", got.Token)
}

func TestNewStore(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *descriptor.PersistConfig
		wantKey string
	}{
		{
			name:    "file requires path",
			cfg:     &descriptor.PersistConfig{Backend: "file"},
			wantKey: "persist.path",
		},
		{
			name:    "sqlite requires path",
			cfg:     &descriptor.PersistConfig{Backend: "sqlite"},
			wantKey: "persist.path",
		},
		{
			name:    "unknown backend",
			cfg:     &descriptor.PersistConfig{Backend: "redis"},
			wantKey: "persist.backend",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewStore(tt.cfg)
			require.Error(t, err)

			var cfgErr *libretoerrors.ConfigError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tt.wantKey, cfgErr.Key)
		})
	}

	t.Run("file backend", func(t *testing.T) {
		store, err := NewStore(&descriptor.PersistConfig{
			Backend: "file",
			Path:    filepath.Join(t.TempDir(), "state.json"),
		})
		require.NoError(t, err)
		assert.IsType(t, &FileStore{}, store)
	})

	t.Run("keyring backend", func(t *testing.T) {
		store, err := NewStore(&descriptor.PersistConfig{Backend: "keyring"})
		require.NoError(t, err)
		assert.IsType(t, &KeyringStore{}, store)
	})
}
