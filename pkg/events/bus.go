// Package events implements the session-level event bus (spec §4.D):
// cross-subsystem notifications such as bandwidth-limit updates and
// clipboard enable/disable toggles, published so subsystems can react
// without the dispatcher special-casing them. Built on an embedded NATS
// server, grounded on the teacher's api/pkg/pubsub/nats.go.
package events

import (
	"fmt"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// Well-known session-level event subjects, parameterized per connection ID
// (spec §4.D).
const (
	SubjectBandwidthLimit           = "session.%s.bandwidth-limit"
	SubjectClipboardEnabled         = "session.%s.clipboard-enabled"
	SubjectClipboardEnableSelections = "session.%s.clipboard-enable-selections"
	SubjectDisconnect               = "session.%s.disconnect"
)

// Bus is an in-process publish/subscribe bus for one Runtime.
type Bus struct {
	srv  *server.Server
	conn *nats.Conn
	log  zerolog.Logger
}

// NewBus starts an embedded, loopback-only NATS server and connects to it.
// The server never listens beyond 127.0.0.1 and carries no persistent
// state — the core persists nothing across connections (spec §6).
func NewBus(log zerolog.Logger) (*Bus, error) {
	opts := &server.Options{
		Host:        "127.0.0.1",
		Port:        -1, // random free port
		NoLog:       true,
		NoSigs:      true,
		DontListen:  false,
		AllowNonTLS: true,
	}
	srv, err := server.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("events: create embedded nats server: %w", err)
	}
	go srv.Start()
	if !srv.ReadyForConnections(4 * time.Second) {
		srv.Shutdown()
		return nil, fmt.Errorf("events: embedded nats server did not become ready")
	}

	nc, err := nats.Connect(srv.ClientURL())
	if err != nil {
		srv.Shutdown()
		return nil, fmt.Errorf("events: connect to embedded nats server: %w", err)
	}

	return &Bus{srv: srv, conn: nc, log: log.With().Str("component", "events").Logger()}, nil
}

// Publish sends payload to subject as given, without re-encoding it; the
// core only ever sends small event payloads (empty, or a reason string).
func (b *Bus) Publish(subject string, payload []byte) {
	if err := b.conn.Publish(subject, payload); err != nil {
		b.log.Warn().Err(err).Str("subject", subject).Msg("publish failed")
	}
}

// Subscribe registers handler for subject, returning an unsubscribe func.
func (b *Bus) Subscribe(subject string, handler func(subject string, payload []byte)) (func(), error) {
	sub, err := b.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Subject, msg.Data)
	})
	if err != nil {
		return nil, fmt.Errorf("events: subscribe %q: %w", subject, err)
	}
	return func() { _ = sub.Unsubscribe() }, nil
}

// Close drains the connection and shuts down the embedded server.
func (b *Bus) Close() {
	b.conn.Close()
	b.srv.Shutdown()
}
