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

// Package watermark persists the durable sync cursor. When re-syncing after
// a restart we reload it to guarantee continuous transmission without
// re-sending rows already committed at the target.
package watermark

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/BurntSushi/toml"

	cerror "github.com/dbsync-io/dbsync/pkg/errors"
	"github.com/dbsync-io/dbsync/pkg/fsutil"
	"github.com/dbsync-io/dbsync/pkg/model"
)

// Store is a file-backed watermark store. Save is atomic with respect to
// process crash: the file is written to a temp name and renamed into place,
// so a reader observes either the old or the new watermark, never a torn
// one. The store is single-writer; concurrent reads are allowed.
type Store struct {
	mu   sync.RWMutex
	path string
	wm   model.Watermark
}

// NewStore creates a Store persisting at path. Call Load before first use.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// DefaultPath returns the conventional watermark file location for a table.
func DefaultPath(dataDir, table string) string {
	return filepath.Join(dataDir, fmt.Sprintf("dbsync-watermark-%s.toml", table))
}

// Load reads the persisted watermark. A missing file is the defined first-run
// case and yields the zero watermark. A file that exists but does not parse
// is fatal: the process must not guess a starting point.
func (s *Store) Load() (model.Watermark, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !fsutil.IsFileExists(s.path) {
		// First run for this (source, table, target) pairing.
		s.wm = model.Watermark{}
		return s.wm, nil
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		return model.Watermark{}, cerror.WrapError(cerror.ErrWatermarkCorrupt, err, s.path)
	}

	var wm model.Watermark
	if err := toml.Unmarshal(data, &wm); err != nil {
		return model.Watermark{}, cerror.WrapError(cerror.ErrWatermarkCorrupt, err, s.path)
	}
	if wm.LastSyncedKey < 0 {
		return model.Watermark{}, cerror.ErrWatermarkCorrupt.GenWithStackByArgs(s.path)
	}
	s.wm = wm
	return wm, nil
}

// Save durably persists a new watermark. The key is monotonically
// non-decreasing; an attempt to move it backwards is refused.
func (s *Store) Save(wm model.Watermark) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if wm.LastSyncedKey < s.wm.LastSyncedKey {
		return cerror.ErrWatermarkMovedBackwards.GenWithStackByArgs(s.wm.LastSyncedKey, wm.LastSyncedKey)
	}

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(wm); err != nil {
		return cerror.Trace(err)
	}
	if err := fsutil.WriteFileAtomic(s.path, buf.Bytes(), 0o644); err != nil {
		return cerror.Trace(err)
	}
	s.wm = wm
	return nil
}

// Current returns the in-memory watermark without touching disk. Safe for
// concurrent observability reads while a cycle is running.
func (s *Store) Current() model.Watermark {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.wm
}
