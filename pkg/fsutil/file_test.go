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

package fsutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteFileAtomic(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "data.toml")
	require.NoError(t, WriteFileAtomic(path, []byte("first"), 0o644))
	require.True(t, IsFileExists(path))

	// Overwrite in place, the old content never shows through.
	require.NoError(t, WriteFileAtomic(path, []byte("second"), 0o644))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "second", string(data))

	// No temp droppings left behind.
	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestIsFileExists(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.False(t, IsFileExists(filepath.Join(dir, "nope")))
	require.False(t, IsFileExists(dir))

	path := filepath.Join(dir, "f")
	require.NoError(t, os.WriteFile(path, nil, 0o644))
	require.True(t, IsFileExists(path))
}
