package main

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"fmt"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/xpra-go/relay/pkg/frame"
	"github.com/xpra-go/relay/pkg/subsystems/mmap"
	"github.com/xpra-go/relay/pkg/transport"
	"github.com/xpra-go/relay/pkg/wire"
)

func newConnectCmd() *cobra.Command {
	var (
		address  string
		path     string
		password string
		token    string
		pings    int
		mmapFile string
		mmapSize int
	)

	cmd := &cobra.Command{
		Use:   "connect",
		Short: "Connect to a relay server and exercise hello/ping diagnostics",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runConnect(cmd.Context(), address, path, password, token, pings, mmapFile, mmapSize)
		},
	}
	cmd.Flags().StringVar(&address, "address", "ws://127.0.0.1:10000", "server address (ws:// or wss://)")
	cmd.Flags().StringVar(&path, "path", "/xpra", "websocket path")
	cmd.Flags().StringVar(&password, "password", "", "password for sha256-salted auth, if the server requires it")
	cmd.Flags().StringVar(&token, "token", "", "bearer token for jwt-bearer auth, if the server requires it")
	cmd.Flags().IntVar(&pings, "pings", 3, "number of ping round-trips to exercise before exiting")
	cmd.Flags().StringVar(&mmapFile, "mmap-file", "", "backing file path to negotiate the MMAP fast path over (same-host only); empty skips it")
	cmd.Flags().IntVar(&mmapSize, "mmap-size", 16<<20, "size in bytes of the MMAP backing file")
	return cmd
}

func runConnect(ctx context.Context, address, path, password, token string, pings int, mmapFile string, mmapSize int) error {
	log := zerolog.New(zerolog.NewConsoleWriter()).With().Timestamp().Logger()

	u, err := url.Parse(address)
	if err != nil {
		return fmt.Errorf("parse address: %w", err)
	}
	u.Path = path

	ws, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", u.String(), err)
	}

	conn := transport.NewWSConn(ws)
	t := transport.New(conn, frame.NewRegistry(frame.NewLZ4()), frame.DefaultMaxPayload, log)

	packets := make(chan wire.Packet, 16)
	t.OnPacket(func(pkt wire.Packet) { packets <- pkt })
	t.OnError(func(err error) { log.Warn().Err(err).Msg("transport error") })

	serveCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go t.Serve(serveCtx)

	localCaps := wire.Map(map[string]wire.Value{
		"ping":     wire.Map(map[string]wire.Value{"enabled": wire.Bool(true)}),
		"encoding": wire.Map(map[string]wire.Value{"encodings": wire.List(wire.String("png"), wire.String("jpeg"))}),
	})
	if err := t.Send(ctx, wire.NewPacket("hello", localCaps), transport.PriorityUrgent, true); err != nil {
		return fmt.Errorf("send hello: %w", err)
	}

	if err := awaitReady(ctx, t, packets, password, token, log); err != nil {
		return err
	}

	if mmapFile != "" {
		if err := negotiateMMAP(ctx, t, packets, mmapFile, mmapSize, log); err != nil {
			return fmt.Errorf("mmap negotiation: %w", err)
		}
	}

	for i := 0; i < pings; i++ {
		start := time.Now()
		if err := t.Send(ctx, wire.NewPacket("ping", wire.Int(time.Now().UnixMilli())), transport.PriorityUrgent, true); err != nil {
			return fmt.Errorf("send ping: %w", err)
		}
		select {
		case pkt := <-packets:
			if pkt.Type != "ping-echo" {
				log.Warn().Str("packet_type", pkt.Type).Msg("expected ping-echo")
				continue
			}
			log.Info().Dur("rtt", time.Since(start)).Msg("ping-echo received")
		case <-time.After(5 * time.Second):
			return fmt.Errorf("timed out waiting for ping-echo")
		case <-ctx.Done():
			return ctx.Err()
		}
		time.Sleep(500 * time.Millisecond)
	}

	return t.Close("diagnostic run complete")
}

// awaitReady drives the client side of hello/auth: the first reply is
// either "hello" (no auth required) or "challenge" (spec §4.C), in which
// case this replies with a second hello carrying challenge_response.
func awaitReady(ctx context.Context, t *transport.Transport, packets <-chan wire.Packet, password, token string, log zerolog.Logger) error {
	select {
	case pkt := <-packets:
		switch pkt.Type {
		case "hello":
			log.Info().Msg("hello acknowledged, no authentication required")
			return nil
		case "challenge":
			return respondToChallenge(ctx, t, pkt, password, token, packets)
		default:
			return fmt.Errorf("unexpected packet %q while awaiting hello/challenge", pkt.Type)
		}
	case <-time.After(10 * time.Second):
		return fmt.Errorf("timed out waiting for hello response")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// negotiateMMAP drives the initiating side of the mutual MMAP handshake
// (spec.md §3, §4.A, §4.E): pre-size the backing file and write a token,
// send mmap-request, verify the responder's mmap-token reply against the
// shared file, and send mmap-verified. A failure here is not fatal to the
// connection; the caller just falls back to inline pixel references.
func negotiateMMAP(ctx context.Context, t *transport.Transport, packets <-chan wire.Packet, path string, size int, log zerolog.Logger) error {
	cn, requestPkt, err := mmap.NewClientNegotiate(path, size)
	if err != nil {
		return fmt.Errorf("prepare mmap area: %w", err)
	}
	if err := t.Send(ctx, requestPkt, transport.PriorityInteractive, true); err != nil {
		return fmt.Errorf("send mmap-request: %w", err)
	}

	select {
	case pkt := <-packets:
		if pkt.Type != "mmap-token" {
			return fmt.Errorf("expected mmap-token, got %q", pkt.Type)
		}
		verifyPkt, err := cn.VerifyServerToken(pkt.Args)
		if err != nil {
			return fmt.Errorf("verify server token: %w", err)
		}
		if err := t.Send(ctx, verifyPkt, transport.PriorityInteractive, true); err != nil {
			return fmt.Errorf("send mmap-verified: %w", err)
		}
		log.Info().Str("path", path).Msg("mmap handshake verified")
		return nil
	case <-time.After(10 * time.Second):
		return fmt.Errorf("timed out waiting for mmap-token")
	case <-ctx.Done():
		return ctx.Err()
	}
}

func respondToChallenge(ctx context.Context, t *transport.Transport, challenge wire.Packet, password, token string, packets <-chan wire.Packet) error {
	if len(challenge.Args) < 4 {
		return fmt.Errorf("malformed challenge packet")
	}
	challengeBytes := challenge.Args[0].Bytes
	digest, _ := challenge.Args[1].AsString()
	salt := challenge.Args[2].Bytes

	var response []byte
	switch digest {
	case "sha256":
		mac := hmac.New(sha256.New, []byte(password))
		mac.Write(challengeBytes)
		mac.Write(salt)
		response = mac.Sum(nil)
	case "jwt-hs256":
		response = []byte(token)
	default:
		return fmt.Errorf("unsupported challenge digest %q", digest)
	}

	reply := wire.Map(map[string]wire.Value{"challenge_response": wire.Bytes(response)})
	if err := t.Send(ctx, wire.NewPacket("hello", reply), transport.PriorityUrgent, true); err != nil {
		return fmt.Errorf("send challenge response: %w", err)
	}

	select {
	case pkt := <-packets:
		if pkt.Type != "hello" {
			return fmt.Errorf("expected hello after challenge response, got %q", pkt.Type)
		}
		return nil
	case <-time.After(10 * time.Second):
		return fmt.Errorf("timed out waiting for post-auth hello")
	case <-ctx.Done():
		return ctx.Err()
	}
}
