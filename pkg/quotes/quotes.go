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

package quotes

import (
	"fmt"
	"strings"
)

// QuoteName adds backticks to an identifier, escaping embedded backticks.
func QuoteName(name string) string {
	return "`" + EscapeName(name) + "`"
}

// QuoteSchema quotes a full table name as `schema`.`table`.
func QuoteSchema(schema string, table string) string {
	return fmt.Sprintf("%s.%s", QuoteName(schema), QuoteName(table))
}

// EscapeName replaces all "`" in name with "``".
func EscapeName(name string) string {
	return strings.Replace(name, "`", "``", -1)
}
