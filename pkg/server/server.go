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

// Package server accepts replication connections, applies decoded batches
// to the row sink and acknowledges the highest durably applied key.
package server

import (
	"context"
	"crypto/tls"
	"net"
	"time"

	"github.com/pingcap/log"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	cerror "github.com/dbsync-io/dbsync/pkg/errors"
	"github.com/dbsync-io/dbsync/pkg/frame"
	"github.com/dbsync-io/dbsync/pkg/model"
	"github.com/dbsync-io/dbsync/pkg/sink"
	"github.com/dbsync-io/dbsync/pkg/watermark"
)

// connState is the lifecycle phase of one accepted connection.
type connState int32

const (
	stateAccepted connState = iota
	stateAuthenticating
	stateReceiving
	stateApplying
	stateAcknowledging
	stateClosed
	stateConnError
)

func (s connState) String() string {
	switch s {
	case stateAccepted:
		return "accepted"
	case stateAuthenticating:
		return "authenticating"
	case stateReceiving:
		return "receiving"
	case stateApplying:
		return "applying"
	case stateAcknowledging:
		return "acknowledging"
	case stateClosed:
		return "closed"
	case stateConnError:
		return "error"
	}
	return "unknown"
}

// Server owns the TLS listener. Each accepted connection is serviced by its
// own goroutine; workers share no mutable state except the sink's underlying
// storage and the server-side watermark store, which serializes itself.
type Server struct {
	tlsListener net.Listener
	ioTimeout   time.Duration
	maxFrame    int
	sink        sink.RowSink
	store       *watermark.Store
}

// New binds the listener and returns a Server ready to Run.
func New(
	addr string,
	tlsConfig *tls.Config,
	ioTimeout time.Duration,
	maxFrameBytes int,
	rowSink sink.RowSink,
	store *watermark.Store,
) (*Server, error) {
	ln, err := tls.Listen("tcp", addr, tlsConfig)
	if err != nil {
		return nil, cerror.WrapError(cerror.ErrConnectionFailed, err)
	}
	return &Server{
		tlsListener: ln,
		ioTimeout:   ioTimeout,
		maxFrame:    maxFrameBytes,
		sink:        rowSink,
		store:       store,
	}, nil
}

// Addr returns the bound listen address.
func (s *Server) Addr() string { return s.tlsListener.Addr().String() }

// Run accepts and services connections until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	log.Info("listener started", zap.String("addr", s.Addr()))
	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		<-ctx.Done()
		return s.tlsListener.Close()
	})
	eg.Go(func() error {
		for {
			conn, err := s.tlsListener.Accept()
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return cerror.WrapError(cerror.ErrConnectionFailed, err)
			}
			connectionsTotal.Inc()
			eg.Go(func() error {
				s.handleConn(ctx, conn)
				return nil
			})
		}
	})
	err := eg.Wait()
	log.Info("listener stopped", zap.String("addr", s.Addr()))
	return err
}

// handleConn services one replication connection: handshake, receive frames
// in sequence order, apply batches, acknowledge, close. Per-connection
// failures never take the listener down.
func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	peer := conn.RemoteAddr().String()
	state := stateAccepted
	logConn := func(next connState) {
		log.Debug("connection state transition",
			zap.String("peer", peer),
			zap.Stringer("from", state),
			zap.Stringer("to", next))
		state = next
	}

	logConn(stateAuthenticating)
	tlsConn := conn.(*tls.Conn)
	if err := conn.SetDeadline(time.Now().Add(s.ioTimeout)); err != nil {
		logConn(stateConnError)
		return
	}
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		log.Warn("TLS handshake failed", zap.String("peer", peer), zap.Error(err))
		logConn(stateConnError)
		return
	}

	logConn(stateReceiving)
	dec := frame.NewDecoder(conn, s.maxFrame)
	expected := uint32(1)
	highest := s.store.Current().LastSyncedKey
	var rowsApplied, batchesApplied, duplicatesSkipped int

	for {
		if err := conn.SetReadDeadline(time.Now().Add(s.ioTimeout)); err != nil {
			logConn(stateConnError)
			return
		}
		header, payload, err := dec.ReadFrame()
		if err != nil {
			// Protocol corruption or a dead peer: drop the connection
			// without acknowledging. The client redelivers next cycle.
			log.Warn("dropping connection on frame read",
				zap.String("peer", peer), zap.Error(err))
			protocolErrorsTotal.Inc()
			logConn(stateConnError)
			return
		}
		if header.IsAck() || header.Sequence != expected {
			log.Error("frame sequence gap, dropping connection",
				zap.String("peer", peer),
				zap.Uint32("expected", expected),
				zap.Uint32("got", header.Sequence),
				zap.Error(cerror.ErrSequenceGap.GenWithStackByArgs(expected, header.Sequence)))
			protocolErrorsTotal.Inc()
			logConn(stateConnError)
			return
		}
		expected++

		if payload == nil {
			// End-of-cycle sentinel.
			break
		}

		batch, err := frame.DecodeBatch(payload)
		if err != nil {
			log.Warn("malformed batch, dropping connection",
				zap.String("peer", peer), zap.Error(err))
			protocolErrorsTotal.Inc()
			logConn(stateConnError)
			return
		}
		batch, skipped := dedupBatch(batch, highest)
		duplicatesSkipped += skipped
		if batch.RowCount() == 0 {
			continue
		}

		logConn(stateApplying)
		applied, err := s.sink.ApplyBatch(ctx, batch)
		if applied > highest {
			highest = applied
		}
		if err != nil {
			// Stop consuming further frames and acknowledge only what was
			// durably applied before the failure.
			log.Warn("batch apply failed, acknowledging partial progress",
				zap.String("peer", peer),
				zap.Int64("highestApplied", highest),
				zap.Error(err))
			applyErrorsTotal.Inc()
			break
		}
		rowsApplied += batch.RowCount()
		batchesApplied++
		logConn(stateReceiving)
	}

	// Persist the server-side watermark before acknowledging so the ack
	// never claims more than what survives a crash. It also answers empty
	// cycles with the prior high key and backs duplicate suppression.
	if highest > s.store.Current().LastSyncedKey {
		wm := model.Watermark{LastSyncedKey: highest, LastSyncedAt: time.Now()}
		if err := s.store.Save(wm); err != nil {
			log.Error("failed to persist applied watermark, closing without ack",
				zap.String("peer", peer), zap.Error(err))
			logConn(stateConnError)
			return
		}
	}

	logConn(stateAcknowledging)
	if err := conn.SetWriteDeadline(time.Now().Add(s.ioTimeout)); err != nil {
		logConn(stateConnError)
		return
	}
	if _, err := conn.Write(frame.EncodeAck(highest)); err != nil {
		log.Warn("failed to write acknowledgment", zap.String("peer", peer), zap.Error(err))
		logConn(stateConnError)
		return
	}

	rowsAppliedTotal.Add(float64(rowsApplied))
	batchesAppliedTotal.Add(float64(batchesApplied))
	appliedWatermarkGauge.Set(float64(highest))
	log.Info("connection finished",
		zap.String("peer", peer),
		zap.Int("rowsApplied", rowsApplied),
		zap.Int("batchesApplied", batchesApplied),
		zap.Int("duplicatesSkipped", duplicatesSkipped),
		zap.Int64("ackedKey", highest))
	logConn(stateClosed)
}

// dedupBatch drops rows at or below the durable high key. Redelivered rows
// are harmless thanks to the sink's upsert, but skipping them saves target
// round trips.
func dedupBatch(batch *model.Batch, highKey int64) (*model.Batch, int) {
	kept := batch.Rows[:0:0]
	skipped := 0
	for i := range batch.Rows {
		key, err := batch.KeyAt(i)
		if err != nil {
			// Let the sink surface the key problem on apply.
			kept = append(kept, batch.Rows[i])
			continue
		}
		if key <= highKey {
			skipped++
			continue
		}
		kept = append(kept, batch.Rows[i])
	}
	if skipped == 0 {
		return batch, 0
	}
	return &model.Batch{
		KeyColumn: batch.KeyColumn,
		Columns:   batch.Columns,
		Rows:      kept,
	}, skipped
}
