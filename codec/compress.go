// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"errors"
	"fmt"

	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/zstd"
)

// Compression selects how a frame payload is compressed on the wire.
type Compression uint8

const (
	CompressionNone Compression = iota
	CompressionS2
	CompressionZstd
)

// MinCompressSize is the payload size below which payloads are sent as is.
const MinCompressSize = 256

// MaxPayloadSize bounds a frame payload after decompression.
const MaxPayloadSize = 16 << 20

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionS2:
		return "s2"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("compression(%d)", uint8(c))
	}
}

// ParseCompression parses "none", "s2" or "zstd". The empty string is none.
func ParseCompression(s string) (Compression, error) {
	switch s {
	case "", "none":
		return CompressionNone, nil
	case "s2":
		return CompressionS2, nil
	case "zstd":
		return CompressionZstd, nil
	default:
		return CompressionNone, fmt.Errorf("unknown compression %q", s)
	}
}

var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.SpeedDefault),
		zstd.WithEncoderConcurrency(1),
	)
	if err != nil {
		panic("failed to create zstd encoder: " + err.Error())
	}

	zstdDecoder, err = zstd.NewReader(nil,
		zstd.WithDecoderConcurrency(1),
		zstd.WithDecoderMaxMemory(MaxPayloadSize),
	)
	if err != nil {
		panic("failed to create zstd decoder: " + err.Error())
	}
}

func compress(data []byte, c Compression) []byte {
	switch c {
	case CompressionS2:
		return s2.Encode(nil, data)
	case CompressionZstd:
		return zstdEncoder.EncodeAll(data, nil)
	default:
		return data
	}
}

func decompress(data []byte, c Compression) ([]byte, error) {
	switch c {
	case CompressionNone:
		if len(data) > MaxPayloadSize {
			return nil, ErrTooLarge
		}
		return data, nil
	case CompressionS2:
		n, err := s2.DecodedLen(data)
		if err != nil {
			return nil, err
		}
		if n > MaxPayloadSize {
			return nil, fmt.Errorf("%w: %d bytes", ErrTooLarge, n)
		}
		return s2.Decode(nil, data)
	case CompressionZstd:
		b, err := zstdDecoder.DecodeAll(data, nil)
		if errors.Is(err, zstd.ErrDecoderSizeExceeded) || errors.Is(err, zstd.ErrWindowSizeExceeded) {
			return nil, fmt.Errorf("%w: %w", ErrTooLarge, err)
		}
		return b, err
	default:
		return nil, fmt.Errorf("%w: unknown compression %d", ErrMalformed, c)
	}
}
