package snapshot

import (
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/epw80/muc-history/pkg/codec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func compressibleState() []byte {
	return bytes.Repeat([]byte(`<message type="groupchat" from="lobby@conference/alice"><body>hello</body></message>`), 64)
}

func TestSealOpen(t *testing.T) {
	state := compressibleState()

	for _, compression := range []Compression{CompressionNone, CompressionLZ4, CompressionZstd} {
		t.Run(compression.String(), func(t *testing.T) {
			sealed, err := Seal("lobby", state, compression)
			require.NoError(t, err)

			if compression != CompressionNone {
				assert.Less(t, len(sealed), len(state), "compressed snapshot should be smaller")
			}

			opened, err := Open(sealed)
			require.NoError(t, err)
			assert.Equal(t, "lobby", opened.Room)
			assert.Equal(t, compression, opened.Compression)
			assert.Equal(t, state, opened.State)
		})
	}
}

func TestSeal_Deterministic(t *testing.T) {
	state := compressibleState()

	first, err := Seal("lobby", state, CompressionZstd)
	require.NoError(t, err)
	second, err := Seal("lobby", state, CompressionZstd)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestSeal_IncompressibleFallsBack(t *testing.T) {
	state := make([]byte, 256)
	_, err := rand.Read(state)
	require.NoError(t, err)

	for _, compression := range []Compression{CompressionLZ4, CompressionZstd} {
		t.Run(compression.String(), func(t *testing.T) {
			sealed, err := Seal("lobby", state, compression)
			require.NoError(t, err)

			env, err := Inspect(sealed)
			require.NoError(t, err)
			assert.Equal(t, CompressionNone, env.Compression)

			opened, err := Open(sealed)
			require.NoError(t, err)
			assert.Equal(t, state, opened.State)
		})
	}
}

func TestSeal_EmptyState(t *testing.T) {
	sealed, err := Seal("empty", nil, CompressionZstd)
	require.NoError(t, err)

	opened, err := Open(sealed)
	require.NoError(t, err)
	assert.Empty(t, opened.State)
}

func TestOpen_Errors(t *testing.T) {
	state := compressibleState()
	sealed, err := Seal("lobby", state, CompressionZstd)
	require.NoError(t, err)

	env, err := Inspect(sealed)
	require.NoError(t, err)

	reseal := func(mutate func(*Envelope)) []byte {
		copied := *env
		copied.Payload = bytes.Clone(env.Payload)
		mutate(&copied)
		data, err := codec.Marshal(copied)
		require.NoError(t, err)
		return data
	}

	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"garbage", []byte("not cbor"), ErrMalformed},
		{"future version", reseal(func(e *Envelope) { e.Version = 2 }), ErrUnsupportedVersion},
		{"oversized", reseal(func(e *Envelope) { e.Size = MaxStateSize + 1 }), ErrMalformed},
		{"wrong size", reseal(func(e *Envelope) { e.Size++ }), ErrMalformed},
		{"unknown compression", reseal(func(e *Envelope) { e.Compression = 9 }), ErrMalformed},
		{"checksum", reseal(func(e *Envelope) { e.Checksum[0] ^= 0xff }), ErrChecksumMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Open(tt.data)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestSeal_TooLarge(t *testing.T) {
	_, err := Seal("lobby", make([]byte, MaxStateSize+1), CompressionZstd)
	assert.ErrorIs(t, err, ErrStateTooLarge)
}

func TestOpen_ZstdExpansionLimited(t *testing.T) {
	if testing.Short() {
		t.Skip("compresses more than MaxStateSize bytes")
	}

	// a tiny payload that inflates past the state limit
	payload := zstdEncoder.EncodeAll(make([]byte, MaxStateSize+1<<20), nil)
	data, err := codec.Marshal(Envelope{
		Version:     Version,
		Room:        "lobby",
		Compression: CompressionZstd,
		Size:        16,
		Payload:     payload,
	})
	require.NoError(t, err)

	_, err = Open(data)
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = decompress(payload, CompressionZstd, MaxStateSize)
	assert.Error(t, err)
}

func TestParseCompression(t *testing.T) {
	tests := []struct {
		name    string
		want    Compression
		wantErr bool
	}{
		{"", CompressionNone, false},
		{"none", CompressionNone, false},
		{"lz4", CompressionLZ4, false},
		{"zstd", CompressionZstd, false},
		{"gzip", 0, true},
	}

	for _, tt := range tests {
		got, err := ParseCompression(tt.name)
		if tt.wantErr {
			assert.Error(t, err, tt.name)
			continue
		}
		require.NoError(t, err, tt.name)
		assert.Equal(t, tt.want, got, tt.name)
		if tt.name != "" {
			assert.Equal(t, tt.name, got.String())
		}
	}
}
