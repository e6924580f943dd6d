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

// Package session drives one sync cycle end to end on the client side:
// fetch rows since the watermark, stream them as frames over TLS, await the
// acknowledgment and advance the watermark no further than the peer
// confirms.
package session

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/pingcap/log"
	"go.uber.org/zap"

	cerror "github.com/dbsync-io/dbsync/pkg/errors"
	"github.com/dbsync-io/dbsync/pkg/frame"
	"github.com/dbsync-io/dbsync/pkg/model"
	"github.com/dbsync-io/dbsync/pkg/source"
	"github.com/dbsync-io/dbsync/pkg/watermark"
)

// State is the lifecycle phase of a transfer session.
type State int32

// Session states.
const (
	StateIdle State = iota
	StateConnecting
	StateAuthenticating
	StateStreaming
	StateAwaitingAck
	StateCommitting
	StateClosed
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateStreaming:
		return "streaming"
	case StateAwaitingAck:
		return "awaiting-ack"
	case StateCommitting:
		return "committing"
	case StateClosed:
		return "closed"
	case StateError:
		return "error"
	}
	return "unknown"
}

// Outcome summarizes one completed cycle.
type Outcome struct {
	CycleID    string
	RowsSent   int
	FramesSent int
	BytesSent  int
	HighestKey int64
	AckedKey   int64
	// Partial is set when the peer acknowledged less than what was sent;
	// the unacknowledged remainder is redelivered next cycle.
	Partial bool
	// Advanced is set when the watermark moved forward this cycle.
	Advanced bool
}

// Session runs sync cycles against one remote listener. A Session is not
// safe for concurrent cycles; the sync loop never overlaps them.
type Session struct {
	remoteAddr string
	tlsConfig  *tls.Config
	ioTimeout  time.Duration

	src      source.RowSource
	store    *watermark.Store
	splitter *frame.Splitter

	keyColumn     string
	maxFrameBytes int

	state State
}

// New creates a Session.
func New(
	remoteAddr string,
	tlsConfig *tls.Config,
	ioTimeout time.Duration,
	src source.RowSource,
	store *watermark.Store,
	keyColumn string,
	maxFrameBytes int,
) *Session {
	return &Session{
		remoteAddr:    remoteAddr,
		tlsConfig:     tlsConfig,
		ioTimeout:     ioTimeout,
		src:           src,
		store:         store,
		splitter:      frame.NewSplitter(maxFrameBytes),
		keyColumn:     keyColumn,
		maxFrameBytes: maxFrameBytes,
		state:         StateIdle,
	}
}

// State returns the current lifecycle phase.
func (s *Session) State() State { return s.state }

func (s *Session) setState(cycleID string, next State) {
	log.Debug("session state transition",
		zap.String("cycle", cycleID),
		zap.Stringer("from", s.state),
		zap.Stringer("to", next))
	s.state = next
}

// Run executes one sync cycle. A dropped connection or any mid-cycle failure
// aborts the cycle without advancing the watermark past what the peer
// acknowledged; the next cycle starts fresh from the persisted state.
func (s *Session) Run(ctx context.Context) (*Outcome, error) {
	cycleID := uuid.New().String()
	outcome := &Outcome{CycleID: cycleID}
	s.state = StateIdle

	wm, err := s.store.Load()
	if err != nil {
		s.setState(cycleID, StateError)
		return nil, err
	}

	s.setState(cycleID, StateConnecting)
	dialer := &net.Dialer{Timeout: s.ioTimeout}
	rawConn, err := dialer.DialContext(ctx, "tcp", s.remoteAddr)
	if err != nil {
		s.setState(cycleID, StateError)
		return nil, cerror.WrapError(cerror.ErrConnectionFailed, err)
	}
	tlsConfig := s.tlsConfig.Clone()
	if tlsConfig.ServerName == "" {
		host, _, err := net.SplitHostPort(s.remoteAddr)
		if err != nil {
			rawConn.Close()
			s.setState(cycleID, StateError)
			return nil, cerror.WrapError(cerror.ErrConnectionFailed, err)
		}
		tlsConfig.ServerName = host
	}
	conn := tls.Client(rawConn, tlsConfig)
	defer conn.Close()

	s.setState(cycleID, StateAuthenticating)
	if err := conn.SetDeadline(time.Now().Add(s.ioTimeout)); err != nil {
		s.setState(cycleID, StateError)
		return nil, cerror.WrapError(cerror.ErrConnectionFailed, err)
	}
	if err := conn.HandshakeContext(ctx); err != nil {
		s.setState(cycleID, StateError)
		return nil, cerror.WrapError(cerror.ErrConnectionFailed, err)
	}

	rows, err := s.src.FetchSince(ctx, wm.LastSyncedKey)
	if err != nil {
		s.setState(cycleID, StateError)
		return nil, err
	}
	batches, err := s.splitter.Split(s.keyColumn, rows)
	if err != nil {
		s.setState(cycleID, StateError)
		return nil, err
	}

	s.setState(cycleID, StateStreaming)
	seq := uint32(0)
	for _, batch := range batches {
		seq++
		data, err := frame.EncodeBatch(batch, seq)
		if err != nil {
			s.setState(cycleID, StateError)
			return nil, err
		}
		if err := s.writeFrame(conn, data); err != nil {
			s.setState(cycleID, StateError)
			return nil, err
		}
		highest, err := batch.HighestKey()
		if err != nil {
			s.setState(cycleID, StateError)
			return nil, err
		}
		if highest > outcome.HighestKey {
			outcome.HighestKey = highest
		}
		outcome.RowsSent += batch.RowCount()
		outcome.FramesSent++
		outcome.BytesSent += len(data)
	}
	// Terminating sentinel, sequence keeps incrementing.
	seq++
	sentinel := frame.EncodeSentinel(seq)
	if err := s.writeFrame(conn, sentinel); err != nil {
		s.setState(cycleID, StateError)
		return nil, err
	}
	outcome.FramesSent++
	outcome.BytesSent += len(sentinel)

	s.setState(cycleID, StateAwaitingAck)
	acked, err := s.readAck(conn)
	if err != nil {
		s.setState(cycleID, StateError)
		return nil, err
	}
	outcome.AckedKey = acked

	s.setState(cycleID, StateCommitting)
	if outcome.RowsSent > 0 {
		outcome.Partial = acked < outcome.HighestKey
		// Advance only to the acknowledged key, never beyond. An ack below
		// the current watermark leaves it untouched.
		if acked > wm.LastSyncedKey {
			newWM := model.Watermark{LastSyncedKey: acked, LastSyncedAt: time.Now()}
			if err := s.store.Save(newWM); err != nil {
				s.setState(cycleID, StateError)
				return nil, err
			}
			outcome.Advanced = true
		}
	}

	s.setState(cycleID, StateClosed)
	return outcome, nil
}

func (s *Session) writeFrame(conn net.Conn, data []byte) error {
	if err := conn.SetWriteDeadline(time.Now().Add(s.ioTimeout)); err != nil {
		return cerror.WrapError(cerror.ErrConnectionFailed, err)
	}
	if _, err := conn.Write(data); err != nil {
		return cerror.WrapError(cerror.ErrConnectionFailed, err)
	}
	return nil
}

func (s *Session) readAck(conn net.Conn) (int64, error) {
	if err := conn.SetReadDeadline(time.Now().Add(s.ioTimeout)); err != nil {
		return 0, cerror.WrapError(cerror.ErrConnectionFailed, err)
	}
	dec := frame.NewDecoder(conn, s.maxFrameBytes)
	header, payload, err := dec.ReadFrame()
	if err != nil {
		// A peer that vanished while we waited is a transport failure, not a
		// protocol one: EOF, reset and timeout all mean the ack never came.
		var netErr net.Error
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.As(err, &netErr) {
			return 0, cerror.WrapError(cerror.ErrConnectionFailed, err)
		}
		return 0, err
	}
	if !header.IsAck() {
		return 0, cerror.ErrMalformedFrame.GenWithStackByArgs("expected acknowledgment frame")
	}
	return frame.DecodeAckKey(payload)
}
