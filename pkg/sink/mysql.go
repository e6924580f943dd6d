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

// Package sink applies replicated rows to the target database.
package sink

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	cerror "github.com/dbsync-io/dbsync/pkg/errors"
	"github.com/dbsync-io/dbsync/pkg/model"
	"github.com/dbsync-io/dbsync/pkg/quotes"
)

// RowSink applies a batch of rows to the target table, idempotently per row.
// It returns the highest watermark key durably applied, which on a partial
// failure is the key of the last row before the failing one.
type RowSink interface {
	ApplyBatch(ctx context.Context, batch *model.Batch) (int64, error)
}

// MySQLSink upserts rows into a MySQL-protocol target table. Idempotency
// comes from INSERT ... ON DUPLICATE KEY UPDATE keyed on the table's primary
// key, so re-applying an already-applied row changes nothing.
type MySQLSink struct {
	db     *sql.DB
	schema string
	table  string
}

// NewMySQLSink creates a RowSink writing into the schema-qualified table.
func NewMySQLSink(db *sql.DB, schema, table string) *MySQLSink {
	return &MySQLSink{db: db, schema: schema, table: table}
}

// CheckTable probes the target table once at startup so a missing schema
// fails fast instead of failing on the first batch.
func (s *MySQLSink) CheckTable(ctx context.Context) error {
	query := fmt.Sprintf("SELECT 1 FROM %s LIMIT 1", quotes.QuoteSchema(s.schema, s.table))
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return cerror.WrapError(cerror.ErrTargetTableMissing, err, quotes.QuoteSchema(s.schema, s.table))
	}
	return nil
}

// ApplyBatch implements RowSink. Rows are applied one statement at a time in
// batch order so that a mid-batch rejection reports the exact durable high
// key; everything before the failing row stays applied and acknowledged.
func (s *MySQLSink) ApplyBatch(ctx context.Context, batch *model.Batch) (int64, error) {
	if batch.RowCount() == 0 {
		return 0, nil
	}
	query := genUpsertSQL(s.schema, s.table, batch.Columns)

	var highest int64
	for i := range batch.Rows {
		key, err := batch.KeyAt(i)
		if err != nil {
			return highest, err
		}
		args := make([]interface{}, len(batch.Rows[i]))
		for j, v := range batch.Rows[i] {
			args[j] = v.Interface()
		}
		if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
			return highest, cerror.WrapError(cerror.ErrSinkRejected, err)
		}
		if key > highest {
			highest = key
		}
	}
	return highest, nil
}

// genUpsertSQL builds the idempotent insert statement for one column layout.
func genUpsertSQL(schema, table string, columns []string) string {
	var buf strings.Builder
	buf.WriteString("INSERT INTO ")
	buf.WriteString(quotes.QuoteSchema(schema, table))
	buf.WriteString(" (")
	for i, col := range columns {
		if i > 0 {
			buf.WriteString(",")
		}
		buf.WriteString(quotes.QuoteName(col))
	}
	buf.WriteString(") VALUES (")
	for i := range columns {
		if i > 0 {
			buf.WriteString(",")
		}
		buf.WriteString("?")
	}
	buf.WriteString(") ON DUPLICATE KEY UPDATE ")
	for i, col := range columns {
		if i > 0 {
			buf.WriteString(",")
		}
		buf.WriteString(quotes.QuoteName(col))
		buf.WriteString("=VALUES(")
		buf.WriteString(quotes.QuoteName(col))
		buf.WriteString(")")
	}
	return buf.String()
}
