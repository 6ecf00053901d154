package wire_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xpra-go/relay/pkg/wire"
)

func TestPacketRoundTrip(t *testing.T) {
	cases := []wire.Packet{
		wire.NewPacket("hello", wire.Map(map[string]wire.Value{
			"version": wire.String("6.0"),
			"ping":    wire.Bool(true),
		})),
		wire.NewPacket("ping", wire.Int(1000)),
		wire.NewPacket("pointer-position", wire.Int(7), wire.List(wire.Int(100), wire.Int(200)), wire.List()),
		wire.NewPacket("clipboard-contents", wire.Int(7), wire.String("CLIPBOARD"), wire.String("ATOM"), wire.Int(32), wire.Bytes([]byte{1, 2, 3})),
		wire.NewPacket("disconnect"),
	}

	for _, p := range cases {
		encoded := wire.EncodePacket(p)
		decoded, err := wire.DecodePacket(encoded)
		require.NoError(t, err)
		require.Equal(t, p.Type, decoded.Type)
		require.Len(t, decoded.Args, len(p.Args))
		for i := range p.Args {
			require.Equal(t, p.Args[i].String(), decoded.Args[i].String())
		}
	}
}

func TestUnknownTagRoundTrips(t *testing.T) {
	// A future tag this decoder doesn't understand must survive an
	// encode/decode cycle unchanged (forward compatibility, spec §4.C).
	raw := wire.Value{Kind: wire.KindRaw, RawTag: 0x99, Bytes: []byte("future-payload")}
	encoded := wire.Encode(raw)
	decoded, err := wire.Decode(encoded)
	require.NoError(t, err)
	require.Equal(t, raw, decoded)
}

func TestDecodeTruncatedIsError(t *testing.T) {
	p := wire.NewPacket("hello", wire.String("x"))
	encoded := wire.EncodePacket(p)
	_, err := wire.DecodePacket(encoded[:len(encoded)-1])
	require.Error(t, err)
}
