package config

import (
	"log/slog"
	"os"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, env := range []string{
		"RLNCTUN_PACKET_LENGTH", "RLNCTUN_CODING_WINDOW", "RLNCTUN_ENCODED_RATIO",
		"RLNCTUN_LOSS_SIMULATION", "RLNCTUN_FIELD_POLYNOMIAL", "RLNCTUN_LISTEN",
		"RLNCTUN_METRICS_ADDR", "RLNCTUN_FLOW_IDLE_TIMEOUT", "RLNCTUN_CLOSE_RTO",
		"RLNCTUN_LOG_LEVEL", "RLNCTUN_LOG_FORMAT",
	} {
		t.Setenv(env, "")
		os.Unsetenv(env)
	}
}

func TestDefaults(t *testing.T) {
	clearEnv(t)
	os.Args = []string{"rlnctun"}
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.PacketLength != defaultPacketLength {
		t.Errorf("PacketLength = %d, want %d", cfg.PacketLength, defaultPacketLength)
	}
	if cfg.CodingWindow != defaultCodingWindow {
		t.Errorf("CodingWindow = %d, want %d", cfg.CodingWindow, defaultCodingWindow)
	}
	if cfg.EncodedRatio != defaultEncodedRatio {
		t.Errorf("EncodedRatio = %f, want %f", cfg.EncodedRatio, defaultEncodedRatio)
	}
	if cfg.FieldPolynomial != defaultFieldPolynomial {
		t.Errorf("FieldPolynomial = 0x%X, want 0x%X", cfg.FieldPolynomial, defaultFieldPolynomial)
	}
	if cfg.Listen != defaultListen {
		t.Errorf("Listen = %q, want %q", cfg.Listen, defaultListen)
	}
	if cfg.MetricsEnabled() {
		t.Errorf("MetricsEnabled() = true, want false by default")
	}
	if cfg.FlowIdleTimeout != defaultFlowIdleTimeout {
		t.Errorf("FlowIdleTimeout = %s, want %s", cfg.FlowIdleTimeout, defaultFlowIdleTimeout)
	}
	if cfg.LogLevel != defaultLogLevel {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, defaultLogLevel)
	}
}

func TestEnvVarOverride(t *testing.T) {
	clearEnv(t)
	os.Args = []string{"rlnctun"}
	t.Setenv("RLNCTUN_PACKET_LENGTH", "512")
	t.Setenv("RLNCTUN_CODING_WINDOW", "16")
	t.Setenv("RLNCTUN_LOG_LEVEL", "debug")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.PacketLength != 512 {
		t.Errorf("PacketLength = %d, want 512", cfg.PacketLength)
	}
	if cfg.CodingWindow != 16 {
		t.Errorf("CodingWindow = %d, want 16", cfg.CodingWindow)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
}

func TestCLIFlagsPrecedence(t *testing.T) {
	clearEnv(t)
	os.Args = []string{"rlnctun", "--packet-length", "900", "--log-level", "warn"}
	t.Setenv("RLNCTUN_PACKET_LENGTH", "512")
	t.Setenv("RLNCTUN_LOG_LEVEL", "debug")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.PacketLength != 900 {
		t.Errorf("PacketLength = %d, want 900 (CLI should override env)", cfg.PacketLength)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("LogLevel = %q, want warn (CLI should override env)", cfg.LogLevel)
	}
}

func TestFieldPolynomialHexLiteral(t *testing.T) {
	clearEnv(t)
	os.Args = []string{"rlnctun", "--field-polynomial", "0x11D"}
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.FieldPolynomial != 0x11D {
		t.Errorf("FieldPolynomial = 0x%X, want 0x11D", cfg.FieldPolynomial)
	}
}

func TestRemoteAddrPort(t *testing.T) {
	clearEnv(t)
	os.Args = []string{"rlnctun", "--remote", "198.51.100.7:9100"}
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ap, err := cfg.RemoteAddrPort()
	if err != nil {
		t.Fatalf("RemoteAddrPort: %v", err)
	}
	if ap.Port() != 9100 {
		t.Errorf("Port() = %d, want 9100", ap.Port())
	}
}

func TestValidateInvalidRemote(t *testing.T) {
	clearEnv(t)
	os.Args = []string{"rlnctun", "--remote", "not-an-address"}
	_, err := Load()
	if err == nil {
		t.Fatal("expected error for invalid remote, got nil")
	}
}

func TestValidateInvalidPacketLength(t *testing.T) {
	clearEnv(t)
	os.Args = []string{"rlnctun", "--packet-length", "0"}
	_, err := Load()
	if err == nil {
		t.Fatal("expected error for invalid packet-length, got nil")
	}
}

func TestValidateInvalidCodingWindow(t *testing.T) {
	clearEnv(t)
	os.Args = []string{"rlnctun", "--coding-window", "300"}
	_, err := Load()
	if err == nil {
		t.Fatal("expected error for invalid coding-window, got nil")
	}
}

func TestValidateInvalidLossSimulation(t *testing.T) {
	clearEnv(t)
	os.Args = []string{"rlnctun", "--loss-simulation", "1.5"}
	_, err := Load()
	if err == nil {
		t.Fatal("expected error for invalid loss-simulation, got nil")
	}
}

func TestValidateFieldPolynomialMissingHighBit(t *testing.T) {
	clearEnv(t)
	os.Args = []string{"rlnctun", "--field-polynomial", "0x7B"}
	_, err := Load()
	if err == nil {
		t.Fatal("expected error for field-polynomial missing bit 8, got nil")
	}
}

func TestValidateInvalidLogLevel(t *testing.T) {
	clearEnv(t)
	os.Args = []string{"rlnctun", "--log-level", "verbose"}
	_, err := Load()
	if err == nil {
		t.Fatal("expected error for invalid log-level, got nil")
	}
}

func TestSlogLevel(t *testing.T) {
	tests := []struct {
		level string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			cfg := &Config{LogLevel: tt.level}
			if got := cfg.SlogLevel(); got != tt.want {
				t.Errorf("SlogLevel() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDurationFlags(t *testing.T) {
	clearEnv(t)
	os.Args = []string{"rlnctun", "--flow-idle-timeout", "5s", "--close-rto", "500ms"}
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.FlowIdleTimeout != 5*time.Second {
		t.Errorf("FlowIdleTimeout = %s, want 5s", cfg.FlowIdleTimeout)
	}
	if cfg.CloseRTO != 500*time.Millisecond {
		t.Errorf("CloseRTO = %s, want 500ms", cfg.CloseRTO)
	}
}
