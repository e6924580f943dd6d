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

package syncer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"

	cerror "github.com/dbsync-io/dbsync/pkg/errors"
	"github.com/dbsync-io/dbsync/pkg/leakutil"
	"github.com/dbsync-io/dbsync/pkg/session"
)

func TestMain(m *testing.M) {
	leakutil.SetUpLeakTest(m)
}

type stubRunner struct {
	mu       sync.Mutex
	outcomes []*session.Outcome
	errs     []error
	calls    int
}

func (r *stubRunner) Run(ctx context.Context) (*session.Outcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i := r.calls
	r.calls++
	if i >= len(r.errs) {
		i = len(r.errs) - 1
	}
	return r.outcomes[i], r.errs[i]
}

func (r *stubRunner) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

// tick advances the mock clock by interval and waits for the runner to pick
// the tick up.
func tick(t *testing.T, mock *clock.Mock, interval time.Duration, r *stubRunner, want int) {
	t.Helper()
	mock.Add(interval)
	require.Eventually(t, func() bool {
		return r.callCount() >= want
	}, 5*time.Second, 10*time.Millisecond)
}

func TestRunCyclesOnEachTick(t *testing.T) {
	interval := 30 * time.Second
	runner := &stubRunner{
		outcomes: []*session.Outcome{
			{CycleID: "a", RowsSent: 3, AckedKey: 3, Advanced: true},
			{CycleID: "b", RowsSent: 0, AckedKey: 3},
		},
		errs: []error{nil, nil},
	}
	mock := clock.NewMock()
	s := New(interval, runner).WithClock(mock)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	// Give Run a moment to install its ticker before the first advance.
	time.Sleep(20 * time.Millisecond)
	tick(t, mock, interval, runner, 1)
	tick(t, mock, interval, runner, 2)

	cancel()
	require.NoError(t, <-done)

	ok, failed := s.Stats()
	require.Equal(t, int64(2), ok)
	require.Equal(t, int64(0), failed)
}

func TestRunAbsorbsTransientFailures(t *testing.T) {
	interval := time.Second
	runner := &stubRunner{
		outcomes: []*session.Outcome{
			nil,
			{CycleID: "b", RowsSent: 1, AckedKey: 1, Advanced: true},
		},
		errs: []error{
			cerror.ErrConnectionFailed.GenWithStackByArgs(),
			nil,
		},
	}
	mock := clock.NewMock()
	s := New(interval, runner).WithClock(mock)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	tick(t, mock, interval, runner, 1)
	tick(t, mock, interval, runner, 2)

	cancel()
	require.NoError(t, <-done)

	ok, failed := s.Stats()
	require.Equal(t, int64(1), ok)
	require.Equal(t, int64(1), failed)
}

func TestRunStopsOnFatalError(t *testing.T) {
	interval := time.Second
	runner := &stubRunner{
		outcomes: []*session.Outcome{nil},
		errs:     []error{cerror.ErrWatermarkCorrupt.GenWithStackByArgs("wm.toml")},
	}
	mock := clock.NewMock()
	s := New(interval, runner).WithClock(mock)

	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background()) }()

	time.Sleep(20 * time.Millisecond)
	tick(t, mock, interval, runner, 1)

	err := <-done
	require.True(t, cerror.ErrWatermarkCorrupt.Equal(err))
}

func TestIsFatal(t *testing.T) {
	t.Parallel()

	require.True(t, isFatal(cerror.ErrWatermarkCorrupt.GenWithStackByArgs("p")))
	require.True(t, isFatal(cerror.ErrRowExceedsFrameLimit.GenWithStackByArgs(2048, 1024)))
	require.False(t, isFatal(cerror.ErrConnectionFailed.GenWithStackByArgs()))
	require.False(t, isFatal(cerror.ErrSinkRejected.GenWithStackByArgs()))
}
