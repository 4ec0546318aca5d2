// SPDX-License-Identifier: MPL-2.0

package archive

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// minZstdWindow is the smallest window the zstd decoder accepts as a limit.
const minZstdWindow = 1 << 10

var zstdEncoder = sync.OnceValues(func() (*zstd.Encoder, error) {
	return zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.SpeedDefault),
		zstd.WithEncoderConcurrency(1),
	)
})

func compress(c Compression, content []byte) ([]byte, error) {
	switch c {
	case CompressionNone:
		return content, nil
	case CompressionZstd:
		enc, err := zstdEncoder()
		if err != nil {
			return nil, fmt.Errorf("zstd encoder: %w", err)
		}
		return enc.EncodeAll(content, make([]byte, 0, len(content)/2+64)), nil
	case CompressionLZ4:
		var buf bytes.Buffer
		w := lz4.NewWriter(&buf)
		if err := w.Apply(lz4.ConcurrencyOption(1), lz4.ChecksumOption(false)); err != nil {
			return nil, fmt.Errorf("lz4 writer: %w", err)
		}
		if _, err := w.Write(content); err != nil {
			return nil, fmt.Errorf("lz4 compress: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("lz4 compress: %w", err)
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownCompression, uint8(c))
	}
}

// decompress expands stored bytes. The caller compares the result with the
// declared size; output is cut at size+1 bytes, and zstd frames whose
// window exceeds the declared size are rejected before decoding.
func decompress(c Compression, stored []byte, size uint32) ([]byte, error) {
	switch c {
	case CompressionNone:
		return stored, nil
	case CompressionZstd:
		limit := max(uint64(size), minZstdWindow)
		dec, err := zstd.NewReader(bytes.NewReader(stored),
			zstd.WithDecoderConcurrency(1),
			zstd.WithDecoderMaxWindow(limit),
			zstd.WithDecoderMaxMemory(limit),
		)
		if err != nil {
			return nil, fmt.Errorf("zstd decoder: %w", err)
		}
		defer dec.Close()
		out, err := io.ReadAll(io.LimitReader(dec, int64(size)+1))
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		return out, nil
	case CompressionLZ4:
		r := io.LimitReader(lz4.NewReader(bytes.NewReader(stored)), int64(size)+1)
		out, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("lz4 decompress: %w", err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownCompression, uint8(c))
	}
}
