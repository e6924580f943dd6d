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

package errors

import (
	"github.com/pingcap/errors"
)

// re-export some useful functions from pingcap/errors so that most callers
// only need to import this package.
var (
	New       = errors.New
	Errorf    = errors.Errorf
	Trace     = errors.Trace
	Annotate  = errors.Annotate
	Annotatef = errors.Annotatef
	Cause     = errors.Cause
)

// WrapError generates a new error based on given `*errors.Error`, wraps the
// err as cause error. If given `err` is nil, returns a nil error, which is a
// different behavior from `Wrap` in pingcap/errors.
func WrapError(rfcError *errors.Error, err error, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return rfcError.Wrap(err).GenWithStackByArgs(args...)
}
