package session

import (
	"context"
	"fmt"

	"github.com/xpra-go/relay/pkg/auth"
	"github.com/xpra-go/relay/pkg/capability"
	"github.com/xpra-go/relay/pkg/transport"
	"github.com/xpra-go/relay/pkg/wire"
)

// handleHello drives the hello/auth/ready portion of the state machine
// (spec §4.C): the first hello triggers either an auth challenge or an
// immediate capability merge; a second hello (StateAuth) carries the
// challenge response.
func (rt *Runtime) handleHello(conn *Conn, args []wire.Value) error {
	if len(args) == 0 || args[0].Kind != wire.KindMap {
		return fmt.Errorf("hello packet missing capability map argument")
	}
	peerCaps := args[0].Map

	switch conn.State() {
	case StateNew:
		if rt.cfg.AuthScheme == "" {
			return rt.completeHello(conn, peerCaps)
		}
		scheme, err := rt.cfg.AuthRegistry.Get(rt.cfg.AuthScheme)
		if err != nil {
			return fmt.Errorf("hello: %w", err)
		}
		ch, err := scheme.NewChallenge()
		if err != nil {
			return fmt.Errorf("hello: issue challenge: %w", err)
		}
		conn.mu.Lock()
		conn.pendingAuth = &pendingAuth{scheme: rt.cfg.AuthScheme, challenge: ch.Bytes, salt: ch.Salt}
		conn.mu.Unlock()
		conn.setState(StateAuth)
		return conn.Transport.Send(context.Background(), wire.NewPacket("challenge",
			wire.Bytes(ch.Bytes), wire.String(ch.Digest), wire.Bytes(ch.Salt), wire.String(ch.Prompt)),
			transport.PriorityUrgent, true)

	case StateAuth:
		conn.mu.RLock()
		pending := conn.pendingAuth
		conn.mu.RUnlock()
		if pending == nil {
			return fmt.Errorf("hello: no pending challenge for connection in auth state")
		}
		scheme, err := rt.cfg.AuthRegistry.Get(pending.scheme)
		if err != nil {
			return fmt.Errorf("hello: %w", err)
		}
		respVal, present := capability.HasPath(peerCaps, "challenge_response")
		if !present || respVal.Kind != wire.KindBytes {
			return fmt.Errorf("hello: missing challenge_response")
		}
		ch := auth.Challenge{Bytes: pending.challenge, Salt: pending.salt}
		ok, err := scheme.Verify(ch, respVal.Bytes, rt.cfg.Secret)
		if err != nil {
			return fmt.Errorf("hello: verify challenge response: %w", err)
		}
		if !ok {
			return fmt.Errorf("hello: authentication failed")
		}
		return rt.completeHello(conn, peerCaps)

	default:
		return fmt.Errorf("hello: unexpected in state %s", conn.State())
	}
}

// completeHello merges capability profiles, checks for a usable common
// encoding, and transitions the connection to ready.
func (rt *Runtime) completeHello(conn *Conn, peerCaps map[string]wire.Value) error {
	local := make(map[string]wire.Value, len(rt.localCaps))
	for k, v := range rt.localCaps {
		local[k] = v
	}
	profile := capability.Merge(local, peerCaps, rt.cfg.Policies)

	if rt.cfg.RequireCommonEnc {
		v, ok := capability.HasPath(profile, "encoding.encodings")
		list, _ := v.AsList()
		if !ok || len(list) == 0 {
			return fmt.Errorf("no-common-encoding")
		}
	}

	conn.setProfile(profile)
	conn.setState(StateReady)

	reply := wire.NewPacket("hello", wire.Map(local))
	return conn.Transport.Send(context.Background(), reply, transport.PriorityUrgent, true)
}
