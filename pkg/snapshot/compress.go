package snapshot

import (
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression identifies the algorithm applied to a snapshot payload.
// The numeric values are stored in sealed snapshots and must not change.
type Compression uint8

const (
	CompressionNone Compression = 0
	CompressionLZ4  Compression = 1
	CompressionZstd Compression = 2
)

// errIncompressible means compressing would not shrink the payload
var errIncompressible = errors.New("snapshot: payload is incompressible")

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(c))
	}
}

// ParseCompression parses a compression name as used in configuration.
func ParseCompression(name string) (Compression, error) {
	switch name {
	case "none", "":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	case "zstd":
		return CompressionZstd, nil
	default:
		return 0, fmt.Errorf("snapshot: unknown compression %q", name)
	}
}

// zstd encoders and decoders are safe for concurrent use and expensive
// to create.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("snapshot: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(MaxStateSize))
	if err != nil {
		panic("snapshot: zstd decoder initialization failed: " + err.Error())
	}
}

func compress(data []byte, c Compression) ([]byte, error) {
	switch c {
	case CompressionNone:
		return data, nil
	case CompressionLZ4:
		destination := make([]byte, lz4.CompressBlockBound(len(data)))
		written, err := lz4.CompressBlock(data, destination, nil)
		if err != nil {
			return nil, fmt.Errorf("snapshot: lz4 compress: %w", err)
		}
		// CompressBlock reports 0 for incompressible input
		if written == 0 || written >= len(data) {
			return nil, errIncompressible
		}
		return destination[:written], nil
	case CompressionZstd:
		compressed := zstdEncoder.EncodeAll(data, nil)
		if len(compressed) >= len(data) {
			return nil, errIncompressible
		}
		return compressed, nil
	default:
		return nil, fmt.Errorf("snapshot: unsupported compression %s", c)
	}
}

func decompress(payload []byte, c Compression, size int) ([]byte, error) {
	switch c {
	case CompressionNone:
		if len(payload) != size {
			return nil, fmt.Errorf("snapshot: payload is %d bytes, expected %d", len(payload), size)
		}
		return payload, nil
	case CompressionLZ4:
		destination := make([]byte, size)
		read, err := lz4.UncompressBlock(payload, destination)
		if err != nil {
			return nil, fmt.Errorf("snapshot: lz4 decompress: %w", err)
		}
		if read != size {
			return nil, fmt.Errorf("snapshot: lz4 produced %d bytes, expected %d", read, size)
		}
		return destination, nil
	case CompressionZstd:
		data, err := zstdDecoder.DecodeAll(payload, make([]byte, 0, size))
		if err != nil {
			return nil, fmt.Errorf("snapshot: zstd decompress: %w", err)
		}
		if len(data) != size {
			return nil, fmt.Errorf("snapshot: zstd produced %d bytes, expected %d", len(data), size)
		}
		return data, nil
	default:
		return nil, fmt.Errorf("snapshot: unsupported compression %s", c)
	}
}
