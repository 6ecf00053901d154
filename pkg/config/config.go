// Package config loads the server's configuration tree from the
// environment (spec.md §6), one struct per concern.
package config

import "github.com/kelseyhightower/envconfig"

type ServerConfig struct {
	Listen      Listen
	Auth        Auth
	Transport   Transport
	Capability  Capability
	Worker      Worker
	Sentry      Sentry
	Log         Log
}

// LoadServerConfig reads ServerConfig from the process environment,
// applying the `default` tags below for anything unset.
func LoadServerConfig() (ServerConfig, error) {
	var cfg ServerConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return ServerConfig{}, err
	}
	return cfg, nil
}

// Listen configures the bind addresses this server accepts connections on.
type Listen struct {
	Address     string `envconfig:"XPRA_LISTEN_ADDRESS" default:":10000"`
	WSPath      string `envconfig:"XPRA_LISTEN_WS_PATH" default:"/xpra"`
	TLSCertFile string `envconfig:"XPRA_TLS_CERT_FILE"`
	TLSKeyFile  string `envconfig:"XPRA_TLS_KEY_FILE"`
}

// Auth configures the challenge/response scheme used during hello
// negotiation (spec.md §4.C).
type Auth struct {
	Scheme string `envconfig:"XPRA_AUTH_SCHEME" default:""` // empty disables authentication
	Secret string `envconfig:"XPRA_AUTH_SECRET"`
	Issuer string `envconfig:"XPRA_AUTH_JWT_ISSUER" default:"xpra-go"`
}

// Transport configures the framing layer's compression and payload
// limits (spec.md §4.B).
type Transport struct {
	MaxPayloadBytes   uint32 `envconfig:"XPRA_MAX_PAYLOAD_BYTES" default:"268435456"`
	EnableLZ4         bool   `envconfig:"XPRA_ENABLE_LZ4" default:"true"`
	EnableBrotli      bool   `envconfig:"XPRA_ENABLE_BROTLI" default:"true"`
	EnableZlib        bool   `envconfig:"XPRA_ENABLE_ZLIB" default:"true"`
	BrotliQuality     int    `envconfig:"XPRA_BROTLI_QUALITY" default:"5"`
	PBKDF2Iterations  int    `envconfig:"XPRA_PBKDF2_ITERATIONS" default:"100000"`
}

// Capability configures which subsystems the server advertises as
// available (spec.md §4.C, §4.E).
type Capability struct {
	RequireCommonEncoding bool     `envconfig:"XPRA_REQUIRE_COMMON_ENCODING" default:"true"`
	Encodings             []string `envconfig:"XPRA_ENCODINGS" default:"png,jpeg,h264,vp8,vp9"`
	MMAPEnabled           bool     `envconfig:"XPRA_MMAP_ENABLED" default:"true"`
	ClipboardEnabled      bool     `envconfig:"XPRA_CLIPBOARD_ENABLED" default:"true"`
	WebcamEnabled         bool     `envconfig:"XPRA_WEBCAM_ENABLED" default:"false"`
}

// Worker configures codec/audio subprocess supervision (spec.md §4.F).
type Worker struct {
	CodecWorkerPath    string `envconfig:"XPRA_CODEC_WORKER_PATH" default:"xpra-codec-worker"`
	MaxConcurrent      int    `envconfig:"XPRA_WORKER_MAX_CONCURRENT" default:"4"`
	StartupTimeoutMS   int    `envconfig:"XPRA_WORKER_STARTUP_TIMEOUT_MS" default:"5000"`
	RestartOnCrash     bool   `envconfig:"XPRA_WORKER_RESTART_ON_CRASH" default:"true"`
}

// Sentry configures crash/error reporting from the dispatch loop's
// recover() and worker supervisor.
type Sentry struct {
	DSN         string  `envconfig:"XPRA_SENTRY_DSN"`
	Environment string  `envconfig:"XPRA_SENTRY_ENVIRONMENT" default:"production"`
	SampleRate  float64 `envconfig:"XPRA_SENTRY_SAMPLE_RATE" default:"1.0"`
}

// Log configures the zerolog output level and format.
type Log struct {
	Level string `envconfig:"XPRA_LOG_LEVEL" default:"info"`
	JSON  bool   `envconfig:"XPRA_LOG_JSON" default:"true"`
}
