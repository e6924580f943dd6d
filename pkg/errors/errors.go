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

// errors
var (
	// transport errors
	ErrConnectionFailed = errors.Normalize(
		"connect or TLS handshake with peer failed",
		errors.RFCCodeText("DBS:ErrConnectionFailed"),
	)
	ErrMalformedFrame = errors.Normalize(
		"malformed frame, %s",
		errors.RFCCodeText("DBS:ErrMalformedFrame"),
	)
	ErrUnsupportedVersion = errors.Normalize(
		"unsupported protocol version %d",
		errors.RFCCodeText("DBS:ErrUnsupportedVersion"),
	)
	ErrSequenceGap = errors.Normalize(
		"frame sequence gap, expected %d, got %d",
		errors.RFCCodeText("DBS:ErrSequenceGap"),
	)

	// data layer errors
	ErrSourceUnavailable = errors.Normalize(
		"source database unavailable",
		errors.RFCCodeText("DBS:ErrSourceUnavailable"),
	)
	ErrSinkRejected = errors.Normalize(
		"target database rejected batch",
		errors.RFCCodeText("DBS:ErrSinkRejected"),
	)
	ErrKeyColumnMissing = errors.Normalize(
		"key column %s not found in row or not an integer",
		errors.RFCCodeText("DBS:ErrKeyColumnMissing"),
	)

	// watermark errors
	ErrWatermarkCorrupt = errors.Normalize(
		"watermark store %s is corrupt, refusing to guess a starting point",
		errors.RFCCodeText("DBS:ErrWatermarkCorrupt"),
	)
	ErrWatermarkMovedBackwards = errors.Normalize(
		"refusing to move watermark key backwards from %d to %d",
		errors.RFCCodeText("DBS:ErrWatermarkMovedBackwards"),
	)

	// configuration errors
	ErrRowExceedsFrameLimit = errors.Normalize(
		"a single row encodes to %d bytes which exceeds the frame limit %d, raise max-frame-size",
		errors.RFCCodeText("DBS:ErrRowExceedsFrameLimit"),
	)
	ErrInvalidConfig = errors.Normalize(
		"invalid configuration: %s",
		errors.RFCCodeText("DBS:ErrInvalidConfig"),
	)
	ErrToTLSConfigFailed = errors.Normalize(
		"generate tls config failed",
		errors.RFCCodeText("DBS:ErrToTLSConfigFailed"),
	)
	ErrTargetTableMissing = errors.Normalize(
		"target table %s is not reachable, apply the schema before starting the server",
		errors.RFCCodeText("DBS:ErrTargetTableMissing"),
	)
)
