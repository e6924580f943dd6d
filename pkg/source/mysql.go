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

// Package source reads rows that still need replication out of the source
// database.
package source

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	cerror "github.com/dbsync-io/dbsync/pkg/errors"
	"github.com/dbsync-io/dbsync/pkg/model"
	"github.com/dbsync-io/dbsync/pkg/quotes"
)

// RowSource produces the ordered sequence of rows strictly newer than a
// watermark key. Each call is independent and restartable; there is no
// cursor to resume.
type RowSource interface {
	FetchSince(ctx context.Context, lastKey int64) ([]model.Row, error)
}

// MySQLSource fetches rows over a database/sql handle to a MySQL-protocol
// database.
type MySQLSource struct {
	db         *sql.DB
	schema     string
	table      string
	keyColumn  string
	fetchLimit int
}

// NewMySQLSource creates a RowSource reading table rows ordered by the
// monotonic key column. The table name is schema-qualified so the fetch does
// not depend on the connection's default database. fetchLimit of 0 means
// unlimited.
func NewMySQLSource(db *sql.DB, schema, table, keyColumn string, fetchLimit int) *MySQLSource {
	return &MySQLSource{db: db, schema: schema, table: table, keyColumn: keyColumn, fetchLimit: fetchLimit}
}

// FetchSince implements RowSource.
func (s *MySQLSource) FetchSince(ctx context.Context, lastKey int64) ([]model.Row, error) {
	query := fmt.Sprintf("SELECT * FROM %s WHERE %s > ? ORDER BY %s ASC",
		quotes.QuoteSchema(s.schema, s.table), quotes.QuoteName(s.keyColumn), quotes.QuoteName(s.keyColumn))
	if s.fetchLimit > 0 {
		query += fmt.Sprintf(" LIMIT %d", s.fetchLimit)
	}

	rows, err := s.db.QueryContext(ctx, query, lastKey)
	if err != nil {
		return nil, cerror.WrapError(cerror.ErrSourceUnavailable, err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, cerror.WrapError(cerror.ErrSourceUnavailable, err)
	}
	columnTypes, err := rows.ColumnTypes()
	if err != nil {
		return nil, cerror.WrapError(cerror.ErrSourceUnavailable, err)
	}

	var result []model.Row
	for rows.Next() {
		dest := make([]interface{}, len(columns))
		for i := range dest {
			dest[i] = new(interface{})
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, cerror.WrapError(cerror.ErrSourceUnavailable, err)
		}
		values := make([]model.Value, len(columns))
		for i := range dest {
			values[i] = toValue(columnTypes[i].DatabaseTypeName(), *dest[i].(*interface{}))
		}
		result = append(result, model.Row{Columns: columns, Values: values})
	}
	if err := rows.Err(); err != nil {
		return nil, cerror.WrapError(cerror.ErrSourceUnavailable, err)
	}
	return result, nil
}

// binaryTypes are MySQL column types whose []byte scan result is real binary
// data rather than text.
var binaryTypes = map[string]struct{}{
	"BINARY":     {},
	"VARBINARY":  {},
	"BLOB":       {},
	"TINYBLOB":   {},
	"MEDIUMBLOB": {},
	"LONGBLOB":   {},
	"BIT":        {},
}

func toValue(typeName string, v interface{}) model.Value {
	switch x := v.(type) {
	case nil:
		return model.NewNullValue()
	case int64:
		return model.NewIntValue(x)
	case float64:
		return model.NewFloatValue(x)
	case bool:
		return model.NewBoolValue(x)
	case time.Time:
		return model.NewTimestampValue(x)
	case string:
		return model.NewTextValue(x)
	case []byte:
		if _, ok := binaryTypes[typeName]; ok {
			buf := make([]byte, len(x))
			copy(buf, x)
			return model.NewBinaryValue(buf)
		}
		return model.NewTextValue(string(x))
	default:
		// The driver handed back something outside its documented set.
		return model.NewTextValue(fmt.Sprint(x))
	}
}
