// Package capability implements the hello/capability negotiation from
// spec §4.C: merging two nested capability maps into an agreed session
// profile using the per-key resolution policies (local-wins, peer-wins,
// intersect, boolean-AND, peer-overrides-tunable) spec.md fixes per key.
package capability

import "github.com/xpra-go/relay/pkg/wire"

// Value is the capability tree's value type: the same tagged variant used
// for packet arguments (spec §3: "values are scalars, lists, or further
// maps").
type Value = wire.Value

// Policy names how a single capability key is resolved when both sides
// advertise it.
type Policy int

const (
	// PolicyPeerOverride is the default for tunables (spec §4.C): the
	// peer's value overrides the local default if present, otherwise the
	// local default stands.
	PolicyPeerOverride Policy = iota
	// PolicyIntersect resolves encoder/decoder-style lists: this side's
	// list intersected with the peer's, ordered by the sender's (local)
	// preference.
	PolicyIntersect
	// PolicyBoolAnd resolves feature-enable flags: the logical AND of
	// both sides.
	PolicyBoolAnd
	// PolicyLocalWins always keeps the local value.
	PolicyLocalWins
	// PolicyPeerWins always takes the peer's value.
	PolicyPeerWins
)

// PolicyTable maps dot-separated capability key paths (e.g.
// "audio.decoders", "clipboard.enabled") to their resolution Policy.
// Keys absent from the table default to PolicyPeerOverride.
type PolicyTable map[string]Policy

// DefaultPolicies is the core's fixed per-key policy table, covering the
// keys spec.md names explicitly. Subsystems may extend this via
// Merge's policies parameter; this table is the session-level baseline.
func DefaultPolicies() PolicyTable {
	return PolicyTable{
		"audio.decoders":            PolicyIntersect,
		"audio.encoders":            PolicyIntersect,
		"audio.send":                PolicyBoolAnd,
		"audio.receive":             PolicyBoolAnd,
		"clipboard.enabled":         PolicyBoolAnd,
		"clipboard.notifications":   PolicyBoolAnd,
		"clipboard.want_targets":    PolicyBoolAnd,
		"clipboard.greedy":          PolicyBoolAnd,
		"clipboard.preferred-targets": PolicyIntersect,
		"encoding.encodings":        PolicyIntersect,
		"mmap.enabled":              PolicyBoolAnd,
		"notification.enabled":      PolicyBoolAnd,
		"webcam.enabled":            PolicyBoolAnd,
		"ping.enabled":              PolicyBoolAnd,
		"cursor.enabled":            PolicyBoolAnd,
		"logging.enabled":           PolicyBoolAnd,
	}
}
