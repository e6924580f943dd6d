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

package source

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	cerror "github.com/dbsync-io/dbsync/pkg/errors"
	"github.com/dbsync-io/dbsync/pkg/model"
)

func TestFetchSinceQueryShape(t *testing.T) {
	t.Parallel()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT \\* FROM `shop`.`users` WHERE `id` > \\? ORDER BY `id` ASC$").
		WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).
			AddRow(int64(6), "alice").
			AddRow(int64(7), "bob"))

	src := NewMySQLSource(db, "shop", "users", "id", 0)
	rows, err := src.FetchSince(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, []string{"id", "name"}, rows[0].Columns)

	key, err := rows[0].Key("id")
	require.NoError(t, err)
	require.Equal(t, int64(6), key)
	require.Equal(t, model.NewTextValue("alice"), rows[0].Values[1])

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFetchSinceAppliesLimit(t *testing.T) {
	t.Parallel()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT \\* FROM `shop`.`users` WHERE `id` > \\? ORDER BY `id` ASC LIMIT 10$").
		WithArgs(int64(0)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}))

	src := NewMySQLSource(db, "shop", "users", "id", 10)
	rows, err := src.FetchSince(context.Background(), 0)
	require.NoError(t, err)
	require.Empty(t, rows)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFetchSinceQueryFailure(t *testing.T) {
	t.Parallel()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT \\* FROM `shop`.`users`").
		WillReturnError(cerror.New("connection refused"))

	src := NewMySQLSource(db, "shop", "users", "id", 0)
	_, err = src.FetchSince(context.Background(), 0)
	require.True(t, cerror.ErrSourceUnavailable.Equal(err))
}

func TestToValueConversions(t *testing.T) {
	t.Parallel()

	ts := time.Date(2024, 5, 17, 11, 22, 33, 0, time.UTC)
	cases := []struct {
		typeName string
		in       interface{}
		want     model.Value
	}{
		{"BIGINT", nil, model.NewNullValue()},
		{"BIGINT", int64(42), model.NewIntValue(42)},
		{"DOUBLE", float64(2.5), model.NewFloatValue(2.5)},
		{"TINYINT", true, model.NewBoolValue(true)},
		{"TIMESTAMP", ts, model.NewTimestampValue(ts)},
		{"VARCHAR", "hello", model.NewTextValue("hello")},
		{"VARCHAR", []byte("world"), model.NewTextValue("world")},
		{"VARBINARY", []byte{0x01, 0x02}, model.NewBinaryValue([]byte{0x01, 0x02})},
		{"BLOB", []byte{0xFF}, model.NewBinaryValue([]byte{0xFF})},
	}
	for _, cs := range cases {
		got := toValue(cs.typeName, cs.in)
		require.True(t, cs.want.Equal(got), "type %s in %v", cs.typeName, cs.in)
	}
}
