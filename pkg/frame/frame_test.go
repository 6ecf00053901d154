package frame_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xpra-go/relay/pkg/frame"
)

func roundTrip(t *testing.T, compressor frame.Compressor, cipher *frame.Cipher, payload []byte) {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, frame.WriteFrame(&buf, payload, 0, false, compressor, cipher))

	var registry *frame.Registry
	if compressor != nil {
		registry = frame.NewRegistry(compressor)
	} else {
		registry = frame.NewRegistry()
	}
	_, got, err := frame.ReadFrame(&buf, registry, cipher, frame.DefaultMaxPayload)
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

func TestRoundTripUncompressed(t *testing.T) {
	roundTrip(t, nil, nil, []byte("hello world"))
}

func TestRoundTripLZ4(t *testing.T) {
	payload := bytes.Repeat([]byte("xpra-core-transport-payload-"), 64)
	roundTrip(t, frame.NewLZ4(), nil, payload)
}

func TestRoundTripBrotli(t *testing.T) {
	payload := bytes.Repeat([]byte("xpra-core-transport-payload-"), 64)
	roundTrip(t, frame.NewBrotli(5), nil, payload)
}

func TestRoundTripZlib(t *testing.T) {
	payload := bytes.Repeat([]byte("xpra-core-transport-payload-"), 64)
	roundTrip(t, frame.NewZlib(), nil, payload)
}

func TestRoundTripEncrypted(t *testing.T) {
	key := frame.DeriveKey("s3cret", []byte("salt1234"), 100)
	cipher, err := frame.NewCipher(key)
	require.NoError(t, err)
	payload := bytes.Repeat([]byte("encrypted-payload-"), 32)
	roundTrip(t, frame.NewLZ4(), cipher, payload)
}

func TestZeroLengthCompressedIsRejected(t *testing.T) {
	var buf bytes.Buffer
	h := frame.Header{Flags: frame.FlagLZ4, ChunkIdx: 0, Length: 0}
	require.NoError(t, h.Encode(&buf))
	_, _, err := frame.ReadFrame(&buf, frame.NewRegistry(frame.NewLZ4()), nil, frame.DefaultMaxPayload)
	require.Error(t, err)
}

func TestOversizeLengthRejectedWithoutAllocating(t *testing.T) {
	var buf bytes.Buffer
	h := frame.Header{Flags: 0, ChunkIdx: 0, Length: 1 << 30}
	require.NoError(t, h.Encode(&buf))
	_, _, err := frame.ReadFrame(&buf, frame.NewRegistry(), nil, 1024)
	require.Error(t, err)
}

func TestUnadvertisedCompressionFlagIsTransportError(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, frame.WriteFrame(&buf, bytes.Repeat([]byte("a"), 512), 0, false, frame.NewBrotli(5), nil))
	// Reader only advertises lz4, not brotli: must be a transport error.
	_, _, err := frame.ReadFrame(&buf, frame.NewRegistry(frame.NewLZ4()), nil, frame.DefaultMaxPayload)
	require.Error(t, err)
}

func TestDecryptFailureIsFatal(t *testing.T) {
	key1 := frame.DeriveKey("pw1", []byte("salt1234"), 100)
	key2 := frame.DeriveKey("pw2", []byte("salt1234"), 100)
	c1, err := frame.NewCipher(key1)
	require.NoError(t, err)
	c2, err := frame.NewCipher(key2)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, frame.WriteFrame(&buf, []byte("secret"), 0, false, nil, c1))
	_, _, err = frame.ReadFrame(&buf, frame.NewRegistry(), c2, frame.DefaultMaxPayload)
	require.Error(t, err)
}
