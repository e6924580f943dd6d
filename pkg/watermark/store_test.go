// Copyright 2024 dbsync Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// See the License for the specific language governing permissions and
// limitations under the License.

package watermark

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	cerror "github.com/dbsync-io/dbsync/pkg/errors"
	"github.com/dbsync-io/dbsync/pkg/model"
)

func TestLoadMissingFileIsZeroWatermark(t *testing.T) {
	t.Parallel()

	store := NewStore(filepath.Join(t.TempDir(), "wm.toml"))
	wm, err := store.Load()
	require.NoError(t, err)
	require.True(t, wm.IsZero())
	require.Equal(t, int64(0), wm.LastSyncedKey)
}

func TestSaveThenLoadRoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "wm.toml")
	store := NewStore(path)
	_, err := store.Load()
	require.NoError(t, err)

	saved := model.Watermark{
		LastSyncedKey: 120,
		LastSyncedAt:  time.Now().Truncate(time.Second),
	}
	require.NoError(t, store.Save(saved))
	require.Equal(t, saved, store.Current())

	// A fresh store reading the same file sees the persisted watermark.
	reopened := NewStore(path)
	wm, err := reopened.Load()
	require.NoError(t, err)
	require.Equal(t, saved.LastSyncedKey, wm.LastSyncedKey)
	require.True(t, saved.LastSyncedAt.Equal(wm.LastSyncedAt))
}

func TestSaveRefusesBackwardMovement(t *testing.T) {
	t.Parallel()

	store := NewStore(filepath.Join(t.TempDir(), "wm.toml"))
	_, err := store.Load()
	require.NoError(t, err)

	require.NoError(t, store.Save(model.Watermark{LastSyncedKey: 50, LastSyncedAt: time.Now()}))
	err = store.Save(model.Watermark{LastSyncedKey: 49, LastSyncedAt: time.Now()})
	require.True(t, cerror.ErrWatermarkMovedBackwards.Equal(err))
	require.Equal(t, int64(50), store.Current().LastSyncedKey)

	// Saving the same key again is allowed, only regression is refused.
	require.NoError(t, store.Save(model.Watermark{LastSyncedKey: 50, LastSyncedAt: time.Now()}))
}

func TestLoadCorruptFileIsFatal(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "wm.toml")
	require.NoError(t, os.WriteFile(path, []byte("last-synced-key = \"not a number"), 0o644))

	_, err := NewStore(path).Load()
	require.True(t, cerror.ErrWatermarkCorrupt.Equal(err))
}

func TestLoadNegativeKeyIsFatal(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "wm.toml")
	content := "last-synced-key = -3\nlast-synced-at = 2024-05-17T11:22:33Z\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	_, err := NewStore(path).Load()
	require.True(t, cerror.ErrWatermarkCorrupt.Equal(err))
}

func TestLeftoverTempFileDoesNotShadowWatermark(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "wm.toml")
	store := NewStore(path)
	_, err := store.Load()
	require.NoError(t, err)
	require.NoError(t, store.Save(model.Watermark{LastSyncedKey: 7, LastSyncedAt: time.Now()}))

	// A crash between temp write and rename leaves garbage beside the real
	// file. Loading must still see the last committed watermark.
	require.NoError(t, os.WriteFile(path+".12345", []byte("garbage"), 0o644))

	wm, err := NewStore(path).Load()
	require.NoError(t, err)
	require.Equal(t, int64(7), wm.LastSyncedKey)
}

func TestDefaultPath(t *testing.T) {
	t.Parallel()

	require.Equal(t,
		filepath.Join("/var/lib/dbsync", "dbsync-watermark-orders.toml"),
		DefaultPath("/var/lib/dbsync", "orders"))
}
