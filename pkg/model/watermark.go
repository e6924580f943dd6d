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

package model

import (
	"fmt"
	"time"
)

// Watermark is the durable cursor marking the last source row known to be
// applied at the target. The key is drawn from a monotonically increasing
// column of the source table; it never decreases over the lifetime of a
// (source, table, target) pairing.
type Watermark struct {
	LastSyncedKey int64     `toml:"last-synced-key"`
	LastSyncedAt  time.Time `toml:"last-synced-at"`
}

// IsZero reports whether this is the "no prior watermark" first-run value.
func (w Watermark) IsZero() bool {
	return w.LastSyncedKey == 0 && w.LastSyncedAt.IsZero()
}

func (w Watermark) String() string {
	return fmt.Sprintf("key=%d, at=%s", w.LastSyncedKey, w.LastSyncedAt.Format(time.RFC3339))
}
