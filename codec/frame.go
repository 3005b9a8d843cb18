// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package codec implements the wire format of routed samples. A frame is a
// sequence of protobuf-encoded fields; metadata fields are present only when
// set, so a default Put costs the key and the payload.
package codec

import (
	"errors"
	"fmt"

	"github.com/absmach/fluxpub/core"
	"github.com/google/uuid"
	"google.golang.org/protobuf/encoding/protowire"
)

var (
	// ErrMalformed is returned when a frame cannot be decoded.
	ErrMalformed = errors.New("malformed frame")

	// ErrTooLarge is returned for payloads over MaxPayloadSize. Decode wraps
	// it in ErrMalformed.
	ErrTooLarge = errors.New("payload too large")
)

// Field numbers.
const (
	fieldKeyExpr        protowire.Number = 1
	fieldPayload        protowire.Number = 2
	fieldPriority       protowire.Number = 3
	fieldReliability    protowire.Number = 4
	fieldCongestion     protowire.Number = 5
	fieldCompression    protowire.Number = 6
	fieldKind           protowire.Number = 7
	fieldEncodingPrefix protowire.Number = 8
	fieldEncodingSuffix protowire.Number = 9
	fieldTimestampTime  protowire.Number = 10
	fieldTimestampID    protowire.Number = 11
	fieldSourceID       protowire.Number = 12
	fieldSourceSN       protowire.Number = 13
)

// Frame is one sample as it travels between nodes.
type Frame struct {
	KeyExpr    string
	Payload    []byte
	Channel    core.Channel
	Congestion core.CongestionControl
	Info       *core.DataInfo
}

// Encode serialises f. The payload is compressed with c when it is at least
// MinCompressSize bytes and compression makes it smaller.
func Encode(f Frame, c Compression) ([]byte, error) {
	if f.KeyExpr == "" {
		return nil, fmt.Errorf("%w: empty key expression", ErrMalformed)
	}
	if len(f.Payload) > MaxPayloadSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrTooLarge, len(f.Payload))
	}

	payload := f.Payload
	applied := CompressionNone
	if c != CompressionNone && len(payload) >= MinCompressSize {
		if compressed := compress(payload, c); len(compressed) < len(payload) {
			payload = compressed
			applied = c
		}
	}

	b := make([]byte, 0, len(f.KeyExpr)+len(payload)+32)
	b = protowire.AppendTag(b, fieldKeyExpr, protowire.BytesType)
	b = protowire.AppendString(b, f.KeyExpr)
	if len(payload) > 0 {
		b = protowire.AppendTag(b, fieldPayload, protowire.BytesType)
		b = protowire.AppendBytes(b, payload)
	}
	b = appendVarint(b, fieldPriority, uint64(f.Channel.Priority))
	b = appendVarint(b, fieldReliability, uint64(f.Channel.Reliability))
	if f.Congestion != core.DefaultCongestionControl {
		b = appendVarint(b, fieldCongestion, uint64(f.Congestion))
	}
	if applied != CompressionNone {
		b = appendVarint(b, fieldCompression, uint64(applied))
	}

	if info := f.Info; info != nil {
		if info.Kind != nil {
			b = appendVarint(b, fieldKind, uint64(*info.Kind))
		}
		if info.Encoding != nil {
			b = appendVarint(b, fieldEncodingPrefix, uint64(info.Encoding.Prefix))
			if info.Encoding.Suffix != "" {
				b = protowire.AppendTag(b, fieldEncodingSuffix, protowire.BytesType)
				b = protowire.AppendString(b, info.Encoding.Suffix)
			}
		}
		if ts := info.Timestamp; ts != nil {
			b = protowire.AppendTag(b, fieldTimestampTime, protowire.Fixed64Type)
			b = protowire.AppendFixed64(b, uint64(ts.Time))
			b = protowire.AppendTag(b, fieldTimestampID, protowire.BytesType)
			b = protowire.AppendBytes(b, ts.ID[:])
		}
		if info.SourceID != nil {
			b = protowire.AppendTag(b, fieldSourceID, protowire.BytesType)
			b = protowire.AppendBytes(b, info.SourceID[:])
		}
		if info.SourceSN != nil {
			b = appendVarint(b, fieldSourceSN, *info.SourceSN)
		}
	}
	return b, nil
}

// varintMax is the largest value accepted for each enum field.
var varintMax = map[protowire.Number]uint64{
	fieldPriority:       uint64(core.Background),
	fieldReliability:    uint64(core.Reliable),
	fieldCongestion:     uint64(core.Block),
	fieldCompression:    uint64(CompressionZstd),
	fieldKind:           uint64(core.Delete),
	fieldEncodingPrefix: uint64(core.ImageGIF),
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

// Decode parses a frame produced by Encode. Unknown fields are skipped. The
// returned payload does not alias b when it was compressed.
func Decode(b []byte) (Frame, error) {
	var (
		f           Frame
		info        core.DataInfo
		hasInfo     bool
		compression Compression
		tsTime      *uint64
		tsID        *uuid.UUID
		encoding    core.Encoding
		hasEncoding bool
	)
	f.Channel.Priority = core.DefaultPriority

	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return Frame{}, fmt.Errorf("%w: %w", ErrMalformed, protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case num == fieldKeyExpr && typ == protowire.BytesType:
			v, m := protowire.ConsumeString(b)
			if m < 0 {
				return Frame{}, fieldError(num, m)
			}
			f.KeyExpr, n = v, m

		case num == fieldPayload && typ == protowire.BytesType:
			v, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return Frame{}, fieldError(num, m)
			}
			f.Payload, n = v, m

		case num == fieldEncodingSuffix && typ == protowire.BytesType:
			v, m := protowire.ConsumeString(b)
			if m < 0 {
				return Frame{}, fieldError(num, m)
			}
			encoding.Suffix, n = v, m
			hasEncoding, hasInfo = true, true

		case (num == fieldTimestampID || num == fieldSourceID) && typ == protowire.BytesType:
			v, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return Frame{}, fieldError(num, m)
			}
			id, err := uuid.FromBytes(v)
			if err != nil {
				return Frame{}, fmt.Errorf("%w: field %d: %w", ErrMalformed, num, err)
			}
			if num == fieldTimestampID {
				tsID = &id
			} else {
				info.SourceID = &id
			}
			n, hasInfo = m, true

		case num == fieldTimestampTime && typ == protowire.Fixed64Type:
			v, m := protowire.ConsumeFixed64(b)
			if m < 0 {
				return Frame{}, fieldError(num, m)
			}
			tsTime, n, hasInfo = &v, m, true

		case typ == protowire.VarintType:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return Frame{}, fieldError(num, m)
			}
			n = m
			if limit, ok := varintMax[num]; ok && v > limit {
				return Frame{}, fmt.Errorf("%w: field %d: value %d out of range", ErrMalformed, num, v)
			}
			switch num {
			case fieldPriority:
				f.Channel.Priority = core.Priority(v)
			case fieldReliability:
				f.Channel.Reliability = core.Reliability(v)
			case fieldCongestion:
				f.Congestion = core.CongestionControl(v)
			case fieldCompression:
				compression = Compression(v)
			case fieldKind:
				kind := core.SampleKind(v)
				info.Kind, hasInfo = &kind, true
			case fieldEncodingPrefix:
				encoding.Prefix = core.KnownEncoding(v)
				hasEncoding, hasInfo = true, true
			case fieldSourceSN:
				info.SourceSN, hasInfo = &v, true
			}

		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return Frame{}, fieldError(num, n)
			}
		}
		b = b[n:]
	}

	if f.KeyExpr == "" {
		return Frame{}, fmt.Errorf("%w: missing key expression", ErrMalformed)
	}
	if !f.Channel.Priority.Valid() {
		return Frame{}, fmt.Errorf("%w: invalid priority %d", ErrMalformed, f.Channel.Priority)
	}
	if (tsTime == nil) != (tsID == nil) {
		return Frame{}, fmt.Errorf("%w: incomplete timestamp", ErrMalformed)
	}

	payload, err := decompress(f.Payload, compression)
	if err != nil {
		return Frame{}, fmt.Errorf("%w: payload: %w", ErrMalformed, err)
	}
	f.Payload = payload

	if hasEncoding {
		info.Encoding = &encoding
	}
	if tsTime != nil {
		info.Timestamp = &core.Timestamp{Time: core.NTP64(*tsTime), ID: *tsID}
	}
	if hasInfo {
		f.Info = &info
	}
	return f, nil
}

func fieldError(num protowire.Number, n int) error {
	return fmt.Errorf("%w: field %d: %w", ErrMalformed, num, protowire.ParseError(n))
}
