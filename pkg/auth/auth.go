// Package auth implements the pluggable challenge/response schemes invoked
// by the hello exchange (spec §4.C, §6 "auth=<scheme>"). The core only
// calls into a registered Scheme; it never implements authentication
// itself (spec §1 Non-goals).
package auth

import "fmt"

// Challenge is the payload sent in a challenge packet (spec §4.C): bytes,
// digest algorithm name, salt, and a human-readable prompt.
type Challenge struct {
	Bytes  []byte
	Digest string
	Salt   []byte
	Prompt string
}

// Scheme is one pluggable challenge/response mechanism.
type Scheme interface {
	// Name identifies this scheme for the "auth=<scheme>" configuration
	// option.
	Name() string
	// NewChallenge produces a fresh challenge for one connection attempt.
	NewChallenge() (Challenge, error)
	// Verify checks a client's challenge_response capability value
	// against the challenge previously issued and the configured secret.
	Verify(ch Challenge, response []byte, secret string) (bool, error)
}

// Registry resolves scheme names to Schemes. Selecting an unregistered
// scheme is a configuration error surfaced at startup, not a runtime
// surprise (SPEC_FULL §4.C).
type Registry struct {
	schemes map[string]Scheme
}

func NewRegistry(schemes ...Scheme) *Registry {
	r := &Registry{schemes: make(map[string]Scheme, len(schemes))}
	for _, s := range schemes {
		r.schemes[s.Name()] = s
	}
	return r
}

func (r *Registry) Get(name string) (Scheme, error) {
	s, ok := r.schemes[name]
	if !ok {
		return nil, fmt.Errorf("auth: unregistered scheme %q", name)
	}
	return s, nil
}
