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

package frame

import (
	"github.com/vmihailenco/msgpack/v5"

	cerror "github.com/dbsync-io/dbsync/pkg/errors"
	"github.com/dbsync-io/dbsync/pkg/model"
)

// Splitter chunks an ordered row stream into batches whose encoded frame
// never exceeds the configured byte limit. A batch boundary never splits a
// single row.
type Splitter struct {
	maxFrameBytes int
}

// NewSplitter creates a Splitter for the given frame byte limit.
func NewSplitter(maxFrameBytes int) *Splitter {
	return &Splitter{maxFrameBytes: maxFrameBytes}
}

// Split partitions rows in order into encodable batches. Concatenating the
// resulting batches' rows reproduces the input exactly. A single row whose
// own frame exceeds the limit is a fatal configuration error, never a silent
// drop.
func (s *Splitter) Split(keyColumn string, rows []model.Row) ([]*model.Batch, error) {
	if len(rows) == 0 {
		return nil, nil
	}

	batches := make([]*model.Batch, 0, 1)
	cur := &model.Batch{KeyColumn: keyColumn, Columns: rows[0].Columns}
	for i := range rows {
		cur.Rows = append(cur.Rows, rows[i].Values)
		size, err := s.encodedFrameSize(cur)
		if err != nil {
			return nil, err
		}
		if size <= s.maxFrameBytes {
			continue
		}
		if len(cur.Rows) == 1 {
			return nil, cerror.ErrRowExceedsFrameLimit.GenWithStackByArgs(size, s.maxFrameBytes)
		}
		// The last appended row overflowed the frame. Close the current
		// batch without it and start the next one from that row.
		cur.Rows = cur.Rows[:len(cur.Rows)-1]
		batches = append(batches, cur)
		cur = &model.Batch{
			KeyColumn: keyColumn,
			Columns:   rows[0].Columns,
			Rows:      [][]model.Value{rows[i].Values},
		}
		size, err = s.encodedFrameSize(cur)
		if err != nil {
			return nil, err
		}
		if size > s.maxFrameBytes {
			return nil, cerror.ErrRowExceedsFrameLimit.GenWithStackByArgs(size, s.maxFrameBytes)
		}
	}
	batches = append(batches, cur)
	return batches, nil
}

func (s *Splitter) encodedFrameSize(batch *model.Batch) (int, error) {
	payload, err := msgpack.Marshal(batch)
	if err != nil {
		return 0, cerror.WrapError(cerror.ErrMalformedFrame, err, "size batch")
	}
	return HeaderSize + len(payload), nil
}
