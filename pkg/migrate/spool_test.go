package migrate

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpoolStaysInMemoryBelowLimit(t *testing.T) {
	sp := newSpool(16)
	_, err := sp.Write([]byte("0123456789abcdef")) // exactly the limit
	require.NoError(t, err)

	lo := NewLo("da39a3ee5e6b4b0d3255bfef95601890afd80709", 1, 16, "")
	require.NoError(t, sp.bind(lo))
	assert.Equal(t, PayloadMemory, lo.PayloadKind())
	lo.ReleasePayload()
}

func TestSpoolSpillsAboveLimit(t *testing.T) {
	sp := newSpool(8)
	_, err := sp.Write([]byte("01234567"))
	require.NoError(t, err)
	_, err = sp.Write([]byte("89")) // crosses the limit, spills
	require.NoError(t, err)
	_, err = sp.Write([]byte("abcdef"))
	require.NoError(t, err)

	lo := NewLo("da39a3ee5e6b4b0d3255bfef95601890afd80709", 1, 16, "")
	require.NoError(t, sp.bind(lo))
	assert.Equal(t, PayloadFile, lo.PayloadKind())

	r, err := lo.OpenPayload()
	require.NoError(t, err)
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "0123456789abcdef", string(data))

	lo.ReleasePayload()
}

func TestSpoolSpillPreservesChunkBoundaries(t *testing.T) {
	// The write that crosses the limit must not be split between memory
	// and file.
	sp := newSpool(4)
	payload := bytes.Repeat([]byte{0xAB}, 64)
	for i := 0; i < len(payload); i += 8 {
		_, err := sp.Write(payload[i : i+8])
		require.NoError(t, err)
	}

	lo := NewLo("da39a3ee5e6b4b0d3255bfef95601890afd80709", 1, 64, "")
	require.NoError(t, sp.bind(lo))
	r, err := lo.OpenPayload()
	require.NoError(t, err)
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, payload, data)
	lo.ReleasePayload()
}

func TestSpoolDiscardRemovesScratchFile(t *testing.T) {
	sp := newSpool(1)
	_, err := sp.Write([]byte("forces a spill"))
	require.NoError(t, err)
	require.NotNil(t, sp.file)

	path := sp.path
	sp.discard()
	assert.NoFileExists(t, path)

	// discard after bind is a no-op
	sp2 := newSpool(1024)
	_, err = sp2.Write([]byte("in memory"))
	require.NoError(t, err)
	lo := NewLo("da39a3ee5e6b4b0d3255bfef95601890afd80709", 1, 9, "")
	require.NoError(t, sp2.bind(lo))
	sp2.discard()
	r, err := lo.OpenPayload()
	require.NoError(t, err)
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "in memory", string(data))
	lo.ReleasePayload()
}

func TestSpoolEmptyPayload(t *testing.T) {
	sp := newSpool(1024)
	lo := NewLo("da39a3ee5e6b4b0d3255bfef95601890afd80709", 1, 0, "")
	require.NoError(t, sp.bind(lo))
	assert.Equal(t, PayloadMemory, lo.PayloadKind())

	r, err := lo.OpenPayload()
	require.NoError(t, err)
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Empty(t, data)
	lo.ReleasePayload()
}
