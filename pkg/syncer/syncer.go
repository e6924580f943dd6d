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

// Package syncer drives repeated transfer sessions on a fixed interval.
// Per-cycle failures are logged and absorbed; only watermark corruption and
// unrecoverable configuration errors stop the loop.
package syncer

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/dustin/go-humanize"
	"github.com/pingcap/log"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	cerror "github.com/dbsync-io/dbsync/pkg/errors"
	"github.com/dbsync-io/dbsync/pkg/session"
)

// CycleRunner runs one sync cycle. *session.Session implements it.
type CycleRunner interface {
	Run(ctx context.Context) (*session.Outcome, error)
}

// Syncer is the client-side control loop: sleep for the configured interval,
// run one transfer session, log the outcome, repeat. It never overlaps
// cycles and survives process restarts by construction, since every cycle
// starts from the persisted watermark.
type Syncer struct {
	interval time.Duration
	runner   CycleRunner
	clock    clock.Clock

	cyclesOK     atomic.Int64
	cyclesFailed atomic.Int64
}

// New creates a Syncer ticking every interval.
func New(interval time.Duration, runner CycleRunner) *Syncer {
	return &Syncer{
		interval: interval,
		runner:   runner,
		clock:    clock.New(),
	}
}

// WithClock swaps the wall clock, for tests.
func (s *Syncer) WithClock(c clock.Clock) *Syncer {
	s.clock = c
	return s
}

// Stats returns the number of successful and failed cycles so far.
func (s *Syncer) Stats() (ok, failed int64) {
	return s.cyclesOK.Load(), s.cyclesFailed.Load()
}

// Run loops until ctx is cancelled. The returned error is nil on normal
// shutdown; a non-nil error means the loop hit a fatal condition the
// operator must resolve.
func (s *Syncer) Run(ctx context.Context) error {
	ticker := s.clock.Ticker(s.interval)
	defer ticker.Stop()

	log.Info("sync loop started", zap.Duration("interval", s.interval))
	for {
		select {
		case <-ctx.Done():
			log.Info("sync loop stopped")
			return nil
		case <-ticker.C:
		}

		start := s.clock.Now()
		outcome, err := s.runner.Run(ctx)
		elapsed := s.clock.Now().Sub(start)
		if err != nil {
			if ctx.Err() != nil {
				log.Info("sync loop stopped")
				return nil
			}
			s.cyclesFailed.Inc()
			cycleTotal.WithLabelValues(resultLabel(err)).Inc()
			if isFatal(err) {
				log.Error("sync cycle hit a fatal condition, stopping", zap.Error(err))
				return err
			}
			log.Warn("sync cycle failed, retrying next tick",
				zap.Duration("elapsed", elapsed),
				zap.Error(err))
			continue
		}

		s.cyclesOK.Inc()
		rowsSentTotal.Add(float64(outcome.RowsSent))
		syncedWatermarkGauge.Set(float64(outcome.AckedKey))
		cycleDuration.Observe(elapsed.Seconds())
		if outcome.Partial {
			cycleTotal.WithLabelValues("partial").Inc()
			log.Warn("sync cycle finished with partial acknowledgment",
				zap.String("cycle", outcome.CycleID),
				zap.Int("rowsSent", outcome.RowsSent),
				zap.Int64("highestSent", outcome.HighestKey),
				zap.Int64("ackedKey", outcome.AckedKey),
				zap.Duration("elapsed", elapsed))
			continue
		}
		cycleTotal.WithLabelValues("success").Inc()
		log.Info("sync cycle finished",
			zap.String("cycle", outcome.CycleID),
			zap.Int("rowsSent", outcome.RowsSent),
			zap.Int("framesSent", outcome.FramesSent),
			zap.String("bytesSent", humanize.IBytes(uint64(outcome.BytesSent))),
			zap.Int64("ackedKey", outcome.AckedKey),
			zap.Bool("advanced", outcome.Advanced),
			zap.Duration("elapsed", elapsed))
	}
}

// isFatal reports whether the loop must stop instead of retrying next tick.
func isFatal(err error) bool {
	return cerror.ErrWatermarkCorrupt.Equal(err) ||
		cerror.ErrRowExceedsFrameLimit.Equal(err)
}

func resultLabel(err error) string {
	switch {
	case cerror.ErrConnectionFailed.Equal(err):
		return "connection-failed"
	case cerror.ErrSourceUnavailable.Equal(err):
		return "source-unavailable"
	case cerror.ErrMalformedFrame.Equal(err), cerror.ErrUnsupportedVersion.Equal(err):
		return "protocol-error"
	default:
		return "error"
	}
}
