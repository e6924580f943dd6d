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
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	cerror "github.com/dbsync-io/dbsync/pkg/errors"
	"github.com/dbsync-io/dbsync/pkg/model"
)

func makeRows(n int) []model.Row {
	rows := make([]model.Row, 0, n)
	for i := 0; i < n; i++ {
		rows = append(rows, model.Row{
			Columns: []string{"id", "name"},
			Values: []model.Value{
				model.NewIntValue(int64(i + 1)),
				model.NewTextValue(fmt.Sprintf("row-%d", i+1)),
			},
		})
	}
	return rows
}

// twoRowFrameSize returns the exact encoded frame size of a batch holding the
// first two rows, used as a limit that fits two rows but not three.
func twoRowFrameSize(t *testing.T, rows []model.Row) int {
	t.Helper()
	batch := &model.Batch{
		KeyColumn: "id",
		Columns:   rows[0].Columns,
		Rows:      [][]model.Value{rows[0].Values, rows[1].Values},
	}
	data, err := EncodeBatch(batch, 1)
	require.NoError(t, err)
	return len(data)
}

func TestSplitRespectsFrameLimit(t *testing.T) {
	t.Parallel()

	rows := makeRows(5)
	limit := twoRowFrameSize(t, rows)
	splitter := NewSplitter(limit)

	batches, err := splitter.Split("id", rows)
	require.NoError(t, err)
	require.Len(t, batches, 3)
	require.Equal(t, 2, batches[0].RowCount())
	require.Equal(t, 2, batches[1].RowCount())
	require.Equal(t, 1, batches[2].RowCount())

	for seq, batch := range batches {
		data, err := EncodeBatch(batch, uint32(seq+1))
		require.NoError(t, err)
		require.LessOrEqual(t, len(data), limit)
	}
}

func TestSplitReassemblesExactly(t *testing.T) {
	t.Parallel()

	rows := makeRows(5)
	splitter := NewSplitter(twoRowFrameSize(t, rows))

	batches, err := splitter.Split("id", rows)
	require.NoError(t, err)

	var reassembled [][]model.Value
	for _, batch := range batches {
		require.Equal(t, "id", batch.KeyColumn)
		require.Equal(t, rows[0].Columns, batch.Columns)
		reassembled = append(reassembled, batch.Rows...)
	}
	require.Len(t, reassembled, len(rows))
	for i := range rows {
		require.Equal(t, rows[i].Values, reassembled[i])
	}
}

func TestSplitAllRowsInOneFrame(t *testing.T) {
	t.Parallel()

	rows := makeRows(5)
	splitter := NewSplitter(1 << 20)

	batches, err := splitter.Split("id", rows)
	require.NoError(t, err)
	require.Len(t, batches, 1)
	require.Equal(t, 5, batches[0].RowCount())
	highest, err := batches[0].HighestKey()
	require.NoError(t, err)
	require.Equal(t, int64(5), highest)
}

func TestSplitEmptyInput(t *testing.T) {
	t.Parallel()

	batches, err := NewSplitter(1024).Split("id", nil)
	require.NoError(t, err)
	require.Nil(t, batches)
}

func TestSplitSingleRowOverLimit(t *testing.T) {
	t.Parallel()

	rows := makeRows(1)
	_, err := NewSplitter(HeaderSize + 1).Split("id", rows)
	require.True(t, cerror.ErrRowExceedsFrameLimit.Equal(err))
}

func TestSplitOversizeRowInMiddle(t *testing.T) {
	t.Parallel()

	rows := makeRows(3)
	rows[1].Values[1] = model.NewTextValue(string(make([]byte, 4096)))

	_, err := NewSplitter(twoRowFrameSize(t, makeRows(2))).Split("id", rows)
	require.True(t, cerror.ErrRowExceedsFrameLimit.Equal(err))
}

func TestHighestKeyOfBatch(t *testing.T) {
	t.Parallel()

	rows := makeRows(4)
	batches, err := NewSplitter(1 << 20).Split("id", rows)
	require.NoError(t, err)
	require.Len(t, batches, 1)
	highest, err := batches[0].HighestKey()
	require.NoError(t, err)
	require.Equal(t, int64(4), highest)

	key, err := batches[0].KeyAt(2)
	require.NoError(t, err)
	require.Equal(t, int64(3), key)
}
