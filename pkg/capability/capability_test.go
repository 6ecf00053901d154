package capability_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xpra-go/relay/pkg/capability"
	"github.com/xpra-go/relay/pkg/wire"
)

func TestMergeSelfIsNormalized(t *testing.T) {
	m := map[string]capability.Value{
		"version": wire.String("6.0"),
		"audio": wire.Map(map[string]wire.Value{
			"decoders": wire.List(wire.String("opus"), wire.String("flac")),
			"send":     wire.Bool(true),
		}),
	}
	merged := capability.Merge(m, m, capability.DefaultPolicies())
	v, ok := capability.HasPath(merged, "audio.send")
	require.True(t, ok)
	b, _ := v.AsBool()
	require.True(t, b)

	decoders, ok := capability.HasPath(merged, "audio.decoders")
	require.True(t, ok)
	list, _ := decoders.AsList()
	require.Len(t, list, 2)
}

func TestBoolAndResolution(t *testing.T) {
	local := map[string]capability.Value{
		"clipboard": wire.Map(map[string]wire.Value{"enabled": wire.Bool(true)}),
	}
	peer := map[string]capability.Value{
		"clipboard": wire.Map(map[string]wire.Value{"enabled": wire.Bool(false)}),
	}
	merged := capability.Merge(local, peer, capability.DefaultPolicies())
	v, ok := capability.HasPath(merged, "clipboard.enabled")
	require.True(t, ok)
	b, _ := v.AsBool()
	require.False(t, b, "clipboard.enabled must be the AND of both sides")
}

func TestIntersectOrderedBySender(t *testing.T) {
	local := map[string]capability.Value{
		"encoding": wire.Map(map[string]wire.Value{
			"encodings": wire.List(wire.String("lz4"), wire.String("zlib"), wire.String("brotli")),
		}),
	}
	peer := map[string]capability.Value{
		"encoding": wire.Map(map[string]wire.Value{
			"encodings": wire.List(wire.String("brotli"), wire.String("lz4")),
		}),
	}
	merged := capability.Merge(local, peer, capability.DefaultPolicies())
	v, _ := capability.HasPath(merged, "encoding.encodings")
	list, _ := v.AsList()
	require.Len(t, list, 2)
	s0, _ := list[0].AsString()
	require.Equal(t, "lz4", s0, "must preserve the local sender's preference order")
}

func TestUnknownKeyPreservedVerbatim(t *testing.T) {
	local := map[string]capability.Value{"vendor-x-feature": wire.Bool(true)}
	peer := map[string]capability.Value{}
	merged := capability.Merge(local, peer, capability.DefaultPolicies())
	v, ok := merged["vendor-x-feature"]
	require.True(t, ok)
	b, _ := v.AsBool()
	require.True(t, b)
}

func TestNoCommonEncodingIsDetectable(t *testing.T) {
	local := map[string]capability.Value{
		"encoding": wire.Map(map[string]wire.Value{"encodings": wire.List(wire.String("h264"))}),
	}
	peer := map[string]capability.Value{
		"encoding": wire.Map(map[string]wire.Value{"encodings": wire.List(wire.String("vp9"))}),
	}
	merged := capability.Merge(local, peer, capability.DefaultPolicies())
	v, _ := capability.HasPath(merged, "encoding.encodings")
	list, _ := v.AsList()
	require.Empty(t, list)
}
