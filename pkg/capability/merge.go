package capability

import (
	"strings"

	"github.com/xpra-go/relay/pkg/wire"
)

// Merge combines a local and peer capability map into the agreed session
// profile, applying the caller's policies per key path as given (they are
// not combined with DefaultPolicies here). Unknown keys — present on
// only one side — are preserved verbatim, per spec §4.C.
func Merge(local, peer map[string]Value, policies PolicyTable) map[string]Value {
	return mergeAt(local, peer, policies, "")
}

func mergeAt(local, peer map[string]Value, policies PolicyTable, prefix string) map[string]Value {
	out := make(map[string]Value, len(local)+len(peer))
	seen := make(map[string]bool, len(local)+len(peer))

	for k := range local {
		seen[k] = true
	}
	for k := range peer {
		seen[k] = true
	}

	for k := range seen {
		path := k
		if prefix != "" {
			path = prefix + "." + k
		}
		lv, lok := local[k]
		pv, pok := peer[k]

		switch {
		case lok && !pok:
			out[k] = lv
		case !lok && pok:
			out[k] = pv
		case lv.Kind == wire.KindMap && pv.Kind == wire.KindMap:
			out[k] = Value{Kind: wire.KindMap, Map: mergeAt(lv.Map, pv.Map, policies, path)}
		default:
			out[k] = resolveLeaf(lv, pv, policies[path])
		}
	}
	return out
}

func resolveLeaf(local, peer Value, policy Policy) Value {
	switch policy {
	case PolicyLocalWins:
		return local
	case PolicyPeerWins:
		return peer
	case PolicyBoolAnd:
		if local.Kind == wire.KindBool && peer.Kind == wire.KindBool {
			return Value{Kind: wire.KindBool, Bool: local.Bool && peer.Bool}
		}
		return peer
	case PolicyIntersect:
		if local.Kind == wire.KindList && peer.Kind == wire.KindList {
			return intersectOrdered(local, peer)
		}
		return peer
	default: // PolicyPeerOverride: peer's value overrides local default if present
		return peer
	}
}

// intersectOrdered returns the elements of local that also appear in
// peer, preserving local's (the sender's) preference order — the
// encoder/decoder-list resolution rule from spec §4.C.
func intersectOrdered(local, peer Value) Value {
	peerSet := make(map[string]bool, len(peer.List))
	for _, v := range peer.List {
		peerSet[v.String()] = true
	}
	out := make([]Value, 0, len(local.List))
	for _, v := range local.List {
		if peerSet[v.String()] {
			out = append(out, v)
		}
	}
	return Value{Kind: wire.KindList, List: out}
}

// HasPath reports whether dot-path key exists in a merged profile, e.g.
// "audio.send".
func HasPath(profile map[string]Value, path string) (Value, bool) {
	parts := strings.Split(path, ".")
	cur := profile
	for i, p := range parts {
		v, ok := cur[p]
		if !ok {
			return Value{}, false
		}
		if i == len(parts)-1 {
			return v, true
		}
		if v.Kind != wire.KindMap {
			return Value{}, false
		}
		cur = v.Map
	}
	return Value{}, false
}
