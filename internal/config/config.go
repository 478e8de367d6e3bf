package config

import (
	"flag"
	"fmt"
	"log/slog"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all runtime configuration for the rlnctun process.
// Precedence: CLI flags > env vars > defaults.
type Config struct {
	PacketLength    int
	CodingWindow    int
	EncodedRatio    float64
	LossSimulation  float64
	FieldPolynomial uint16
	Listen          string
	Remote          string
	MetricsAddr     string
	FlowIdleTimeout time.Duration
	CloseRTO        time.Duration
	LogLevel        string
	LogFormat       string
}

// defaults
const (
	defaultPacketLength    = 1500
	defaultCodingWindow    = 10
	defaultEncodedRatio    = 1.5
	defaultLossSimulation  = 0.0
	defaultFieldPolynomial = 0x11B
	defaultListen          = "0.0.0.0:9100"
	defaultMetricsAddr     = ""
	defaultFlowIdleTimeout = 60 * time.Second
	defaultCloseRTO        = 2 * time.Second
	defaultLogLevel        = "info"
	defaultLogFormat       = "text"
)

// envPrefix is the prefix for all rlnctun environment variables.
const envPrefix = "RLNCTUN_"

// Load parses configuration from CLI flags and environment variables.
// Precedence: CLI flags > env vars > defaults.
func Load() (*Config, error) {
	cfg := &Config{}

	fs := flag.NewFlagSet("rlnctun", flag.ContinueOnError)

	fs.IntVar(&cfg.PacketLength, "packet-length", defaultPacketLength, "clear packet length in bytes (PACKET_LENGTH)")
	fs.IntVar(&cfg.CodingWindow, "coding-window", defaultCodingWindow, "sliding window size in source packets (CODING_WINDOW)")
	fs.Float64Var(&cfg.EncodedRatio, "encoded-ratio", defaultEncodedRatio, "encoded packets emitted per source packet admitted (ENCODED_PER_SOURCE_RATIO)")
	fs.Float64Var(&cfg.LossSimulation, "loss-simulation", defaultLossSimulation, "probability in [0,1) of dropping an inbound encoded datagram, test-only (LOSS_SIMULATION)")
	var fieldPolynomial string
	fs.StringVar(&fieldPolynomial, "field-polynomial", fmt.Sprintf("0x%X", defaultFieldPolynomial), "GF(2^8) reduction polynomial (FIELD_POLYNOMIAL)")
	fs.StringVar(&cfg.Listen, "listen", defaultListen, "local UDP datagram listen address")
	fs.StringVar(&cfg.Remote, "remote", "", "peer UDP datagram address this tunnel exchanges encoded packets with (required)")
	fs.StringVar(&cfg.MetricsAddr, "metrics-addr", defaultMetricsAddr, "optional HTTP metrics/debug listen address, disabled if empty")
	fs.DurationVar(&cfg.FlowIdleTimeout, "flow-idle-timeout", defaultFlowIdleTimeout, "flow inactivity timeout before teardown")
	fs.DurationVar(&cfg.CloseRTO, "close-rto", defaultCloseRTO, "how long a CLOSE_AWAITING flow waits for the peer's CLOSE before it is removed")
	fs.StringVar(&cfg.LogLevel, "log-level", defaultLogLevel, "log level (debug, info, warn, error)")
	fs.StringVar(&cfg.LogFormat, "log-format", defaultLogFormat, "log output format (text, json)")

	if err := fs.Parse(os.Args[1:]); err != nil {
		return nil, fmt.Errorf("parsing flags: %w", err)
	}

	// Apply env var overrides for any flags not explicitly set on the command line.
	// CLI flags take precedence over env vars.
	applyEnvOverrides(fs, cfg, &fieldPolynomial)

	poly, err := parsePolynomial(fieldPolynomial)
	if err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	cfg.FieldPolynomial = poly

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides checks environment variables for any flag that was not
// explicitly provided on the command line. This preserves the precedence:
// CLI flags > env vars > defaults.
func applyEnvOverrides(fs *flag.FlagSet, cfg *Config, fieldPolynomial *string) {
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		set[f.Name] = true
	})

	envMap := map[string]string{
		"packet-length":     envPrefix + "PACKET_LENGTH",
		"coding-window":     envPrefix + "CODING_WINDOW",
		"encoded-ratio":     envPrefix + "ENCODED_RATIO",
		"loss-simulation":   envPrefix + "LOSS_SIMULATION",
		"field-polynomial":  envPrefix + "FIELD_POLYNOMIAL",
		"listen":            envPrefix + "LISTEN",
		"remote":            envPrefix + "REMOTE",
		"metrics-addr":      envPrefix + "METRICS_ADDR",
		"flow-idle-timeout": envPrefix + "FLOW_IDLE_TIMEOUT",
		"close-rto":         envPrefix + "CLOSE_RTO",
		"log-level":         envPrefix + "LOG_LEVEL",
		"log-format":        envPrefix + "LOG_FORMAT",
	}

	for flagName, envVar := range envMap {
		if set[flagName] {
			continue
		}
		val, ok := os.LookupEnv(envVar)
		if !ok || val == "" {
			continue
		}
		switch flagName {
		case "packet-length":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.PacketLength = v
			}
		case "coding-window":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.CodingWindow = v
			}
		case "encoded-ratio":
			if v, err := strconv.ParseFloat(val, 64); err == nil {
				cfg.EncodedRatio = v
			}
		case "loss-simulation":
			if v, err := strconv.ParseFloat(val, 64); err == nil {
				cfg.LossSimulation = v
			}
		case "field-polynomial":
			*fieldPolynomial = val
		case "listen":
			cfg.Listen = val
		case "remote":
			cfg.Remote = val
		case "metrics-addr":
			cfg.MetricsAddr = val
		case "flow-idle-timeout":
			if v, err := time.ParseDuration(val); err == nil {
				cfg.FlowIdleTimeout = v
			}
		case "close-rto":
			if v, err := time.ParseDuration(val); err == nil {
				cfg.CloseRTO = v
			}
		case "log-level":
			cfg.LogLevel = val
		case "log-format":
			cfg.LogFormat = val
		}
	}
}

// parsePolynomial accepts either a 0x-prefixed hex literal or any other
// literal strconv.ParseUint reads with base 0 (e.g. plain decimal) and
// returns the uint16 reduction polynomial. Hex digits without the 0x
// prefix are rejected.
func parsePolynomial(s string) (uint16, error) {
	s = strings.TrimSpace(s)
	base := 0
	if strings.HasPrefix(strings.ToLower(s), "0x") {
		s = s[2:]
		base = 16
	}
	v, err := strconv.ParseUint(s, base, 32)
	if err != nil {
		return 0, fmt.Errorf("field-polynomial: %w", err)
	}
	if v > 0x1FF {
		return 0, fmt.Errorf("field-polynomial must fit in 9 bits (bit 8 set, bits 0-7 the reduction terms), got 0x%X", v)
	}
	return uint16(v), nil
}

// validate checks that the config values are sane.
func (c *Config) validate() error {
	if c.PacketLength < 1 {
		return fmt.Errorf("packet-length must be positive, got %d", c.PacketLength)
	}
	if c.CodingWindow < 1 || c.CodingWindow > 255 {
		return fmt.Errorf("coding-window must be between 1 and 255, got %d", c.CodingWindow)
	}
	if c.EncodedRatio <= 0 {
		return fmt.Errorf("encoded-ratio must be positive, got %f", c.EncodedRatio)
	}
	if c.LossSimulation < 0 || c.LossSimulation >= 1 {
		return fmt.Errorf("loss-simulation must be in [0,1), got %f", c.LossSimulation)
	}
	if c.FieldPolynomial&0x100 == 0 {
		return fmt.Errorf("field-polynomial must have bit 8 set, got 0x%X", c.FieldPolynomial)
	}
	if c.Listen == "" {
		return fmt.Errorf("listen must not be empty")
	}
	if c.Remote != "" {
		if _, err := netip.ParseAddrPort(c.Remote); err != nil {
			return fmt.Errorf("remote: %w", err)
		}
	}
	if c.FlowIdleTimeout <= 0 {
		return fmt.Errorf("flow-idle-timeout must be positive, got %s", c.FlowIdleTimeout)
	}
	if c.CloseRTO <= 0 {
		return fmt.Errorf("close-rto must be positive, got %s", c.CloseRTO)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.LogLevel)] {
		return fmt.Errorf("log-level must be one of debug, info, warn, error; got %q", c.LogLevel)
	}
	c.LogLevel = strings.ToLower(c.LogLevel)

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.LogFormat)] {
		return fmt.Errorf("log-format must be one of text, json; got %q", c.LogFormat)
	}
	c.LogFormat = strings.ToLower(c.LogFormat)

	return nil
}

// MetricsEnabled returns true if an HTTP metrics/debug listen address is
// configured.
func (c *Config) MetricsEnabled() bool {
	return c.MetricsAddr != ""
}

// RemoteAddrPort parses Remote. Remote was already validated by Load, so
// the error return only matters for callers constructing a Config by hand.
func (c *Config) RemoteAddrPort() (netip.AddrPort, error) {
	return netip.ParseAddrPort(c.Remote)
}

// SlogHandler returns a slog.Handler configured with the appropriate format
// (text or json) and log level.
func (c *Config) SlogHandler(w *os.File) slog.Handler {
	opts := &slog.HandlerOptions{Level: c.SlogLevel()}
	if c.LogFormat == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// SlogLevel returns the slog.Level corresponding to the configured log level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
