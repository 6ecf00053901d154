package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/xpra-go/relay/pkg/auth"
	"github.com/xpra-go/relay/pkg/capability"
	"github.com/xpra-go/relay/pkg/config"
	"github.com/xpra-go/relay/pkg/frame"
	"github.com/xpra-go/relay/pkg/session"
	"github.com/xpra-go/relay/pkg/subsystems/audio"
	"github.com/xpra-go/relay/pkg/subsystems/bandwidth"
	"github.com/xpra-go/relay/pkg/subsystems/clipboard"
	"github.com/xpra-go/relay/pkg/subsystems/command"
	"github.com/xpra-go/relay/pkg/subsystems/cursor"
	"github.com/xpra-go/relay/pkg/subsystems/display"
	"github.com/xpra-go/relay/pkg/subsystems/encoding"
	"github.com/xpra-go/relay/pkg/subsystems/keyboard"
	"github.com/xpra-go/relay/pkg/subsystems/logging"
	"github.com/xpra-go/relay/pkg/subsystems/mmap"
	"github.com/xpra-go/relay/pkg/subsystems/notification"
	"github.com/xpra-go/relay/pkg/subsystems/ping"
	"github.com/xpra-go/relay/pkg/subsystems/pointer"
	"github.com/xpra-go/relay/pkg/subsystems/webcam"
	"github.com/xpra-go/relay/pkg/subsystems/window"
	"github.com/xpra-go/relay/pkg/transport"
)

// NewServeConfig loads and validates the server configuration, failing
// fast at startup rather than surfacing config errors mid-connection.
func NewServeConfig() (*config.ServerConfig, error) {
	cfg, err := config.LoadServerConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load server config: %w", err)
	}
	if cfg.Auth.Scheme != "" && cfg.Auth.Secret == "" {
		return nil, fmt.Errorf("XPRA_AUTH_SECRET is required when XPRA_AUTH_SCHEME is set")
	}
	return &cfg, nil
}

func newServeCmd() *cobra.Command {
	cfg, err := NewServeConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load serve config")
	}

	envHelpText := generateEnvHelpText(cfg, "")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the relay server",
		Long:  "Start the relay server.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd, cfg)
		},
	}
	serveCmd.Long += "\n\nEnvironment Variables:\n\n" + envHelpText
	return serveCmd
}

func newLogger(cfg config.Log) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	var w = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	l := zerolog.New(w).Level(level).With().Timestamp().Logger()
	if cfg.JSON {
		l = zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()
	}
	return l
}

func serve(cmd *cobra.Command, cfg *config.ServerConfig) error {
	logger := newLogger(cfg.Log)
	log.Logger = logger

	if cfg.Sentry.DSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         cfg.Sentry.DSN,
			Environment: cfg.Sentry.Environment,
			SampleRate:  cfg.Sentry.SampleRate,
		}); err != nil {
			return fmt.Errorf("sentry init: %w", err)
		}
		defer sentry.Flush(2 * time.Second)
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer cancel()

	rt, err := buildRuntime(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("build runtime: %w", err)
	}
	defer rt.Events().Close()

	if cfg.Worker.CodecWorkerPath != "" {
		startWorkerPool(rt, cfg.Worker, logger)
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  64 * 1024,
		WriteBufferSize: 64 * 1024,
		CheckOrigin:     func(r *http.Request) bool { return true },
	}

	mux := http.NewServeMux()
	mux.HandleFunc(cfg.Listen.WSPath, func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn().Err(err).Msg("websocket upgrade failed")
			return
		}
		conn := transport.NewWSConn(ws)
		compressors := compressorRegistry(cfg.Transport)
		t := transport.New(conn, compressors, cfg.Transport.MaxPayloadBytes, logger)
		go rt.Accept(ctx, t, logger)
	})

	srv := &http.Server{
		Addr:              cfg.Listen.Address,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("address", cfg.Listen.Address).Str("path", cfg.Listen.WSPath).Msg("listening")
		var err error
		if cfg.Listen.TLSCertFile != "" && cfg.Listen.TLSKeyFile != "" {
			err = srv.ListenAndServeTLS(cfg.Listen.TLSCertFile, cfg.Listen.TLSKeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutting down")
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	return srv.Shutdown(shutdownCtx)
}

// compressorRegistry builds the locally-advertised compressor set in
// preference order: lz4 first (cheapest), then brotli, then zlib.
func compressorRegistry(cfg config.Transport) *frame.Registry {
	var compressors []frame.Compressor
	if cfg.EnableLZ4 {
		compressors = append(compressors, frame.NewLZ4())
	}
	if cfg.EnableBrotli {
		compressors = append(compressors, frame.NewBrotli(cfg.BrotliQuality))
	}
	if cfg.EnableZlib {
		compressors = append(compressors, frame.NewZlib())
	}
	return frame.NewRegistry(compressors...)
}

// buildRuntime wires the session runtime and every subsystem module the
// server advertises, gated by the Capability config flags.
func buildRuntime(ctx context.Context, cfg *config.ServerConfig, logger zerolog.Logger) (*session.Runtime, error) {
	authRegistry := auth.NewRegistry(auth.NewSha256Salted(), auth.NewJWTBearer(cfg.Auth.Issuer))

	rt, err := session.NewRuntime(ctx, session.RuntimeConfig{
		AuthRegistry:     authRegistry,
		AuthScheme:       cfg.Auth.Scheme,
		Secret:           cfg.Auth.Secret,
		Policies:         capability.DefaultPolicies(),
		RequireCommonEnc: cfg.Capability.RequireCommonEncoding,
		Log:              logger,
	})
	if err != nil {
		return nil, err
	}

	modules := []session.Module{
		ping.New(),
		bandwidth.New(),
		logging.New(),
		command.New(map[string]command.Handler{}),
		cursor.New(),
		encoding.New(cfg.Capability.Encodings),
		notification.New(),
		display.New(),
		window.New(),
		audio.New(cfg.Capability.Encodings, cfg.Capability.Encodings),
		pointer.New(),
		keyboard.New(),
	}
	if cfg.Capability.WebcamEnabled {
		modules = append(modules, webcam.New([]string{"/dev/video0"}))
	}
	if cfg.Capability.MMAPEnabled {
		modules = append(modules, mmap.New())
	}
	if cfg.Capability.ClipboardEnabled {
		cb, err := clipboard.New()
		if err != nil {
			return nil, fmt.Errorf("clipboard subsystem: %w", err)
		}
		modules = append(modules, cb)
	}

	for _, m := range modules {
		if err := rt.Register(m); err != nil {
			return nil, err
		}
	}
	return rt, nil
}
