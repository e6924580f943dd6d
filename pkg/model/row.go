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
	"time"

	cerror "github.com/dbsync-io/dbsync/pkg/errors"
)

// ValueKind identifies which scalar type a Value carries.
type ValueKind uint8

// Value kinds.
const (
	KindNull ValueKind = iota
	KindInt
	KindFloat
	KindText
	KindBool
	KindTimestamp
	KindBinary
)

// Value is a typed scalar cell of a row. Exactly one of the payload fields is
// meaningful, selected by Kind. Values must round-trip exactly through the
// frame codec, which is why the timestamp is kept as a full time.Time instead
// of a lossy string form.
type Value struct {
	_msgpack struct{} `msgpack:",as_array"`

	Kind  ValueKind
	Int   int64
	Float float64
	Text  string
	Bool  bool
	Time  time.Time
	Bytes []byte
}

// NewNullValue returns the null scalar.
func NewNullValue() Value { return Value{Kind: KindNull} }

// NewIntValue returns an integer scalar.
func NewIntValue(v int64) Value { return Value{Kind: KindInt, Int: v} }

// NewFloatValue returns a float scalar.
func NewFloatValue(v float64) Value { return Value{Kind: KindFloat, Float: v} }

// NewTextValue returns a text scalar.
func NewTextValue(v string) Value { return Value{Kind: KindText, Text: v} }

// NewBoolValue returns a boolean scalar.
func NewBoolValue(v bool) Value { return Value{Kind: KindBool, Bool: v} }

// NewTimestampValue returns a timestamp scalar.
func NewTimestampValue(v time.Time) Value { return Value{Kind: KindTimestamp, Time: v} }

// NewBinaryValue returns a binary scalar.
func NewBinaryValue(v []byte) Value { return Value{Kind: KindBinary, Bytes: v} }

// Interface converts the value into a driver-friendly interface{} for use as
// a SQL statement argument.
func (v Value) Interface() interface{} {
	switch v.Kind {
	case KindInt:
		return v.Int
	case KindFloat:
		return v.Float
	case KindText:
		return v.Text
	case KindBool:
		return v.Bool
	case KindTimestamp:
		return v.Time
	case KindBinary:
		return v.Bytes
	default:
		return nil
	}
}

// Equal reports whether two values are the same scalar. Timestamps compare by
// instant, so a decode that lands in another location still matches.
func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindNull:
		return true
	case KindInt:
		return v.Int == o.Int
	case KindFloat:
		return v.Float == o.Float
	case KindText:
		return v.Text == o.Text
	case KindBool:
		return v.Bool == o.Bool
	case KindTimestamp:
		return v.Time.Equal(o.Time)
	case KindBinary:
		return string(v.Bytes) == string(o.Bytes)
	}
	return false
}

// Row is one source table row: column names and their values in matching
// order. Column order matters for encoding only, not for semantics.
type Row struct {
	Columns []string
	Values  []Value
}

// Key extracts the watermark key of the row from the named column. The key
// column must hold an integer.
func (r *Row) Key(keyColumn string) (int64, error) {
	for i, col := range r.Columns {
		if col != keyColumn {
			continue
		}
		if r.Values[i].Kind != KindInt {
			return 0, cerror.ErrKeyColumnMissing.GenWithStackByArgs(keyColumn)
		}
		return r.Values[i].Int, nil
	}
	return 0, cerror.ErrKeyColumnMissing.GenWithStackByArgs(keyColumn)
}

// Batch is a bounded ordered group of rows sent as one frame. The columns
// header is shared by all rows; KeyColumn names the monotonic column the
// watermark is drawn from so the receiving side can de-duplicate and
// acknowledge without out-of-band agreement.
type Batch struct {
	_msgpack struct{} `msgpack:",as_array"`

	KeyColumn string
	Columns   []string
	Rows      [][]Value
}

// RowCount returns the number of rows in the batch.
func (b *Batch) RowCount() int {
	if b == nil {
		return 0
	}
	return len(b.Rows)
}

// KeyAt returns the watermark key of the i-th row.
func (b *Batch) KeyAt(i int) (int64, error) {
	r := Row{Columns: b.Columns, Values: b.Rows[i]}
	return r.Key(b.KeyColumn)
}

// HighestKey returns the largest watermark key in the batch, or 0 for an
// empty batch. Rows arrive ordered ascending but the maximum is computed
// explicitly rather than trusted.
func (b *Batch) HighestKey() (int64, error) {
	var highest int64
	for i := range b.Rows {
		k, err := b.KeyAt(i)
		if err != nil {
			return 0, err
		}
		if k > highest {
			highest = k
		}
	}
	return highest, nil
}
