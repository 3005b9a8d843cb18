// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"testing"

	"github.com/absmach/fluxpub/core"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

func fullInfo() *core.DataInfo {
	kind := core.Delete
	enc := core.NewEncoding(core.TextPlain).WithSuffix(";charset=utf-8")
	src := uuid.New()
	sn := uint64(42)
	return &core.DataInfo{
		Kind:      &kind,
		Encoding:  &enc,
		Timestamp: &core.Timestamp{Time: core.NTP64(123456789), ID: uuid.New()},
		SourceID:  &src,
		SourceSN:  &sn,
	}
}

func TestFrame_RoundTrip(t *testing.T) {
	large := bytes.Repeat([]byte("fluxpub "), 200)

	tests := []struct {
		name        string
		frame       Frame
		compression Compression
	}{
		{
			name:  "minimal put",
			frame: Frame{KeyExpr: "a/b", Payload: []byte("hello"), Channel: core.Channel{Priority: core.Data, Reliability: core.Reliable}},
		},
		{
			name:  "delete without payload",
			frame: Frame{KeyExpr: "a/b", Channel: core.Channel{Priority: core.Data}, Info: fullInfo()},
		},
		{
			name:        "block with s2",
			frame:       Frame{KeyExpr: "big/s2", Payload: large, Channel: core.Channel{Priority: core.RealTime}, Congestion: core.Block},
			compression: CompressionS2,
		},
		{
			name:        "zstd with metadata",
			frame:       Frame{KeyExpr: "big/zstd", Payload: large, Channel: core.Channel{Priority: core.Background, Reliability: core.Reliable}, Info: fullInfo()},
			compression: CompressionZstd,
		},
		{
			name:        "small payload stays raw",
			frame:       Frame{KeyExpr: "small", Payload: []byte("x"), Channel: core.Channel{Priority: core.Data}},
			compression: CompressionZstd,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := Encode(tt.frame, tt.compression)
			require.NoError(t, err)

			got, err := Decode(b)
			require.NoError(t, err)
			assert.Equal(t, tt.frame.KeyExpr, got.KeyExpr)
			assert.Equal(t, tt.frame.Channel, got.Channel)
			assert.Equal(t, tt.frame.Congestion, got.Congestion)
			assert.Equal(t, tt.frame.Info, got.Info)
			if len(tt.frame.Payload) == 0 {
				assert.Empty(t, got.Payload)
			} else {
				assert.Equal(t, tt.frame.Payload, got.Payload)
			}
		})
	}
}

func TestEncode_CompressesLargePayloads(t *testing.T) {
	large := bytes.Repeat([]byte("abcdefgh"), 512)
	frame := Frame{KeyExpr: "k", Payload: large, Channel: core.Channel{Priority: core.Data}}

	raw, err := Encode(frame, CompressionNone)
	require.NoError(t, err)
	s2Frame, err := Encode(frame, CompressionS2)
	require.NoError(t, err)
	zstdFrame, err := Encode(frame, CompressionZstd)
	require.NoError(t, err)

	assert.Less(t, len(s2Frame), len(raw))
	assert.Less(t, len(zstdFrame), len(raw))
}

func TestEncode_MetadataOmittedForDefaults(t *testing.T) {
	b, err := Encode(Frame{KeyExpr: "k", Payload: []byte("v"), Channel: core.Channel{Priority: core.Data}}, CompressionNone)
	require.NoError(t, err)

	got, err := Decode(b)
	require.NoError(t, err)
	assert.Nil(t, got.Info)
	assert.Equal(t, core.Put, got.Info.SampleKind())
	assert.Equal(t, core.DefaultEncoding, got.Info.ValueEncoding())
}

func TestDecode_Errors(t *testing.T) {
	valid, err := Encode(Frame{KeyExpr: "k", Payload: []byte("payload"), Channel: core.Channel{Priority: core.Data}}, CompressionNone)
	require.NoError(t, err)

	badPriority := protowire.AppendTag(nil, fieldKeyExpr, protowire.BytesType)
	badPriority = protowire.AppendString(badPriority, "k")
	badPriority = appendVarint(badPriority, fieldPriority, 0)

	halfTimestamp := protowire.AppendTag(nil, fieldKeyExpr, protowire.BytesType)
	halfTimestamp = protowire.AppendString(halfTimestamp, "k")
	halfTimestamp = protowire.AppendTag(halfTimestamp, fieldTimestampTime, protowire.Fixed64Type)
	halfTimestamp = protowire.AppendFixed64(halfTimestamp, 1)

	badCompression := append([]byte(nil), valid...)
	badCompression = appendVarint(badCompression, fieldCompression, uint64(CompressionS2))

	outOfRange := func(num protowire.Number, v uint64) []byte {
		b := append([]byte(nil), valid...)
		return appendVarint(b, num, v)
	}

	tests := []struct {
		name string
		data []byte
	}{
		{"truncated payload", valid[:6]},
		{"missing key", appendVarint(nil, fieldPriority, uint64(core.Data))},
		{"invalid priority", badPriority},
		{"half timestamp", halfTimestamp},
		{"corrupt compressed payload", badCompression},
		{"garbage tag", []byte{0xff, 0xff, 0xff}},
		{"priority wraps around uint8", outOfRange(fieldPriority, 257)},
		{"unknown kind", outOfRange(fieldKind, 9)},
		{"unknown reliability", outOfRange(fieldReliability, 2)},
		{"unknown congestion control", outOfRange(fieldCongestion, 256)},
		{"compression wraps around uint8", outOfRange(fieldCompression, 258)},
		{"unknown encoding prefix", outOfRange(fieldEncodingPrefix, uint64(core.ImageGIF)+1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.data)
			assert.ErrorIs(t, err, ErrMalformed)
		})
	}
}

func TestDecode_PayloadTooLarge(t *testing.T) {
	oversized := make([]byte, MaxPayloadSize+1)

	for _, c := range []Compression{CompressionS2, CompressionZstd} {
		t.Run(c.String(), func(t *testing.T) {
			compressed := compress(oversized, c)
			require.Less(t, len(compressed), 1<<20)

			b := protowire.AppendTag(nil, fieldKeyExpr, protowire.BytesType)
			b = protowire.AppendString(b, "a/b")
			b = protowire.AppendTag(b, fieldPayload, protowire.BytesType)
			b = protowire.AppendBytes(b, compressed)
			b = appendVarint(b, fieldCompression, uint64(c))

			f, err := Decode(b)
			assert.ErrorIs(t, err, ErrMalformed)
			assert.ErrorIs(t, err, ErrTooLarge)
			assert.Nil(t, f.Payload)
		})
	}
}

func TestDecode_PayloadAtLimit(t *testing.T) {
	payload := make([]byte, MaxPayloadSize)
	b, err := Encode(Frame{KeyExpr: "a/b", Payload: payload, Channel: core.Channel{Priority: core.Data}}, CompressionZstd)
	require.NoError(t, err)

	f, err := Decode(b)
	require.NoError(t, err)
	assert.Len(t, f.Payload, MaxPayloadSize)
}

func TestEncode_PayloadTooLarge(t *testing.T) {
	_, err := Encode(Frame{KeyExpr: "a/b", Payload: make([]byte, MaxPayloadSize+1)}, CompressionZstd)
	assert.ErrorIs(t, err, ErrTooLarge)
}

func TestDecode_SkipsUnknownFields(t *testing.T) {
	b, err := Encode(Frame{KeyExpr: "k", Payload: []byte("v"), Channel: core.Channel{Priority: core.Data}}, CompressionNone)
	require.NoError(t, err)
	b = protowire.AppendTag(b, 99, protowire.BytesType)
	b = protowire.AppendString(b, "future")

	got, err := Decode(b)
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got.Payload)
}

func TestEncode_EmptyKey(t *testing.T) {
	_, err := Encode(Frame{}, CompressionNone)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestParseCompression(t *testing.T) {
	for _, c := range []Compression{CompressionNone, CompressionS2, CompressionZstd} {
		got, err := ParseCompression(c.String())
		require.NoError(t, err)
		assert.Equal(t, c, got)
	}
	_, err := ParseCompression("lz4")
	assert.Error(t, err)
}
