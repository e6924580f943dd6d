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

package sink

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	cerror "github.com/dbsync-io/dbsync/pkg/errors"
	"github.com/dbsync-io/dbsync/pkg/model"
)

func testBatch(keys ...int64) *model.Batch {
	batch := &model.Batch{
		KeyColumn: "id",
		Columns:   []string{"id", "name"},
	}
	for _, k := range keys {
		batch.Rows = append(batch.Rows, []model.Value{
			model.NewIntValue(k),
			model.NewTextValue("row"),
		})
	}
	return batch
}

func TestGenUpsertSQL(t *testing.T) {
	t.Parallel()

	require.Equal(t,
		"INSERT INTO `shop`.`users` (`id`,`name`) VALUES (?,?) "+
			"ON DUPLICATE KEY UPDATE `id`=VALUES(`id`),`name`=VALUES(`name`)",
		genUpsertSQL("shop", "users", []string{"id", "name"}))
}

func TestApplyBatchUpsertsEveryRow(t *testing.T) {
	t.Parallel()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	for _, k := range []int64{1, 2, 3} {
		mock.ExpectExec("INSERT INTO `shop`.`users` .*ON DUPLICATE KEY UPDATE.*").
			WithArgs(k, "row").
			WillReturnResult(sqlmock.NewResult(0, 1))
	}

	sink := NewMySQLSink(db, "shop", "users")
	highest, err := sink.ApplyBatch(context.Background(), testBatch(1, 2, 3))
	require.NoError(t, err)
	require.Equal(t, int64(3), highest)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyBatchPartialFailure(t *testing.T) {
	t.Parallel()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("INSERT INTO `shop`.`users` .*").
		WithArgs(int64(1), "row").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO `shop`.`users` .*").
		WithArgs(int64(2), "row").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO `shop`.`users` .*").
		WithArgs(int64(3), "row").
		WillReturnError(cerror.New("constraint violation"))

	sink := NewMySQLSink(db, "shop", "users")
	highest, err := sink.ApplyBatch(context.Background(), testBatch(1, 2, 3))
	require.True(t, cerror.ErrSinkRejected.Equal(err))
	require.Equal(t, int64(2), highest)
}

func TestApplyBatchEmpty(t *testing.T) {
	t.Parallel()

	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	highest, err := NewMySQLSink(db, "shop", "users").ApplyBatch(context.Background(), testBatch())
	require.NoError(t, err)
	require.Equal(t, int64(0), highest)
}

func TestCheckTableMissing(t *testing.T) {
	t.Parallel()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("SELECT 1 FROM `shop`.`users` LIMIT 1").
		WillReturnError(cerror.New("table does not exist"))

	err = NewMySQLSink(db, "shop", "users").CheckTable(context.Background())
	require.True(t, cerror.ErrTargetTableMissing.Equal(err))
}
