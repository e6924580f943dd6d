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

// Package frame implements the length-delimited wire envelope of the
// replication protocol and the chunking policy that keeps every envelope
// within the configured byte budget.
//
// Wire layout of one frame:
//
//	+----------------+---------+--------------+------------------+
//	| length (4B BE) | version | seq (4B BE)  | payload          |
//	+----------------+---------+--------------+------------------+
//
// length counts everything after the length field itself. An empty payload
// is the end-of-cycle sentinel. The acknowledgment frame uses the reserved
// sequence number 0 and carries the highest applied key as an 8-byte
// big-endian payload.
package frame

import (
	"encoding/binary"
	"io"

	"github.com/vmihailenco/msgpack/v5"

	cerror "github.com/dbsync-io/dbsync/pkg/errors"
	"github.com/dbsync-io/dbsync/pkg/model"
)

// Version1 is the only protocol version currently spoken.
const Version1 byte = 0x01

const (
	lengthSize = 4
	// headerRemainder is the version byte plus the sequence number, the part
	// of a frame counted by the length field besides the payload.
	headerRemainder = 5
	// HeaderSize is the full fixed-size frame header.
	HeaderSize = lengthSize + headerRemainder

	// AckSequence is the sequence number reserved for acknowledgment frames.
	AckSequence uint32 = 0

	ackPayloadSize = 8
)

// Header is the decoded metadata of one frame.
type Header struct {
	Version  byte
	Sequence uint32
}

// IsAck reports whether the frame is an acknowledgment.
func (h Header) IsAck() bool { return h.Sequence == AckSequence }

// EncodeBatch serializes a non-empty batch into a complete frame. Encoding is
// deterministic: the same batch and sequence number always produce the same
// bytes, so a retransmitted frame is byte-identical.
func EncodeBatch(batch *model.Batch, seq uint32) ([]byte, error) {
	payload, err := msgpack.Marshal(batch)
	if err != nil {
		return nil, cerror.WrapError(cerror.ErrMalformedFrame, err, "encode batch")
	}
	return assemble(seq, payload), nil
}

// EncodeSentinel builds the terminating empty-payload frame of a cycle.
func EncodeSentinel(seq uint32) []byte {
	return assemble(seq, nil)
}

// EncodeAck builds an acknowledgment frame carrying the highest applied key.
func EncodeAck(highestAppliedKey int64) []byte {
	payload := make([]byte, ackPayloadSize)
	binary.BigEndian.PutUint64(payload, uint64(highestAppliedKey))
	return assemble(AckSequence, payload)
}

func assemble(seq uint32, payload []byte) []byte {
	buf := make([]byte, HeaderSize+len(payload))
	binary.BigEndian.PutUint32(buf, uint32(headerRemainder+len(payload)))
	buf[lengthSize] = Version1
	binary.BigEndian.PutUint32(buf[lengthSize+1:], seq)
	copy(buf[HeaderSize:], payload)
	return buf
}

// DecodeBatch deserializes a data frame payload.
func DecodeBatch(payload []byte) (*model.Batch, error) {
	batch := new(model.Batch)
	if err := msgpack.Unmarshal(payload, batch); err != nil {
		return nil, cerror.WrapError(cerror.ErrMalformedFrame, err, "decode batch")
	}
	return batch, nil
}

// DecodeAckKey extracts the highest applied key from an ack frame payload.
func DecodeAckKey(payload []byte) (int64, error) {
	if len(payload) != ackPayloadSize {
		return 0, cerror.ErrMalformedFrame.GenWithStackByArgs("ack payload size")
	}
	return int64(binary.BigEndian.Uint64(payload)), nil
}

// Decoder reads frames off a byte stream. The length prefix makes frames
// self-describing, so the reader never guesses boundaries.
type Decoder struct {
	r        io.Reader
	maxBytes int
}

// NewDecoder creates a Decoder bounded by maxFrameBytes, the same limit the
// sending side chunks against.
func NewDecoder(r io.Reader, maxFrameBytes int) *Decoder {
	return &Decoder{r: r, maxBytes: maxFrameBytes}
}

// ReadFrame reads exactly one frame and returns its header and raw payload.
// A truncated stream or a declared length that cannot be satisfied yields
// ErrMalformedFrame; an unknown protocol tag yields ErrUnsupportedVersion.
// io.EOF is returned as-is when the stream ends cleanly between frames.
func (d *Decoder) ReadFrame() (Header, []byte, error) {
	var lenBuf [lengthSize]byte
	if _, err := io.ReadFull(d.r, lenBuf[:]); err != nil {
		if err == io.EOF {
			return Header{}, nil, io.EOF
		}
		return Header{}, nil, cerror.WrapError(cerror.ErrMalformedFrame, err, "read length prefix")
	}
	length := int(binary.BigEndian.Uint32(lenBuf[:]))
	if length < headerRemainder {
		return Header{}, nil, cerror.ErrMalformedFrame.GenWithStackByArgs("declared length too small")
	}
	if d.maxBytes > 0 && lengthSize+length > d.maxBytes {
		return Header{}, nil, cerror.ErrMalformedFrame.GenWithStackByArgs("declared length exceeds frame limit")
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(d.r, body); err != nil {
		return Header{}, nil, cerror.WrapError(cerror.ErrMalformedFrame, err, "read frame body")
	}
	header := Header{
		Version:  body[0],
		Sequence: binary.BigEndian.Uint32(body[1:headerRemainder]),
	}
	if header.Version != Version1 {
		return Header{}, nil, cerror.ErrUnsupportedVersion.GenWithStackByArgs(header.Version)
	}
	payload := body[headerRemainder:]
	if len(payload) == 0 {
		payload = nil
	}
	return header, payload, nil
}
