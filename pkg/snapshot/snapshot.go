// Package snapshot seals serialized room history state for storage and
// cluster transfer: the state is optionally compressed, checksummed with
// BLAKE3, and wrapped in a CBOR envelope that names the room.
package snapshot

import (
	"errors"
	"fmt"

	"github.com/epw80/muc-history/pkg/codec"
	"github.com/zeebo/blake3"
)

// Version is the envelope format written by Seal
const Version = 1

// MaxStateSize caps the uncompressed state Seal accepts and Open will
// allocate for
const MaxStateSize = 64 << 20

var (
	ErrStateTooLarge      = errors.New("snapshot: state exceeds maximum size")
	ErrMalformed          = errors.New("snapshot: malformed envelope")
	ErrUnsupportedVersion = errors.New("snapshot: unsupported envelope version")
	ErrChecksumMismatch   = errors.New("snapshot: checksum mismatch")
)

// Envelope is the stored form of a snapshot
type Envelope struct {
	Version     int         `cbor:"version"`
	Room        string      `cbor:"room"`
	Compression Compression `cbor:"compression"`
	Size        int         `cbor:"size"`
	Checksum    [32]byte    `cbor:"checksum"`
	Payload     []byte      `cbor:"payload"`
}

// Snapshot is an opened, verified snapshot
type Snapshot struct {
	Room        string
	Compression Compression
	Checksum    [32]byte
	State       []byte
}

// Seal wraps state for room. When the requested compression would not
// shrink the state it is stored uncompressed. State larger than
// MaxStateSize is rejected, since Open could never read it back.
func Seal(room string, state []byte, compression Compression) ([]byte, error) {
	if len(state) > MaxStateSize {
		return nil, fmt.Errorf("%w: %d bytes, limit %d", ErrStateTooLarge, len(state), MaxStateSize)
	}

	payload, err := compress(state, compression)
	if errors.Is(err, errIncompressible) {
		payload, compression = state, CompressionNone
	} else if err != nil {
		return nil, err
	}

	data, err := codec.Marshal(Envelope{
		Version:     Version,
		Room:        room,
		Compression: compression,
		Size:        len(state),
		Checksum:    blake3.Sum256(state),
		Payload:     payload,
	})
	if err != nil {
		return nil, fmt.Errorf("snapshot: encode envelope: %w", err)
	}
	return data, nil
}

// Inspect decodes the envelope without decompressing or verifying the payload.
func Inspect(data []byte) (*Envelope, error) {
	var env Envelope
	if err := codec.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.Version != Version {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, env.Version)
	}
	if env.Size < 0 || env.Size > MaxStateSize {
		return nil, fmt.Errorf("%w: state size %d out of range", ErrMalformed, env.Size)
	}
	return &env, nil
}

// Open decodes, decompresses and verifies a sealed snapshot.
func Open(data []byte) (*Snapshot, error) {
	env, err := Inspect(data)
	if err != nil {
		return nil, err
	}

	state, err := decompress(env.Payload, env.Compression, env.Size)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if blake3.Sum256(state) != env.Checksum {
		return nil, ErrChecksumMismatch
	}

	return &Snapshot{
		Room:        env.Room,
		Compression: env.Compression,
		Checksum:    env.Checksum,
		State:       state,
	}, nil
}
