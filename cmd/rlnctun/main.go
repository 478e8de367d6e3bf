// Command rlnctun runs one end of a random linear network coding tunnel:
// it reads clear packets from a tunnel device, forward-error-corrects them
// into a stream of encoded datagrams sent to a fixed peer, and recovers a
// peer's encoded stream back into its original clear packets.
package main

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/flowpbx/rlnctun/internal/config"
	"github.com/flowpbx/rlnctun/internal/debugapi"
	"github.com/flowpbx/rlnctun/internal/engine"
	"github.com/flowpbx/rlnctun/internal/gf"
	"github.com/flowpbx/rlnctun/internal/metrics"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	logger := slog.New(cfg.SlogHandler(os.Stdout))
	slog.SetDefault(logger)

	instanceID := uuid.New().String()
	logger = logger.With("instance", instanceID)

	if cfg.Remote == "" {
		logger.Error("-remote is required")
		os.Exit(1)
	}
	remote, err := cfg.RemoteAddrPort()
	if err != nil {
		logger.Error("invalid remote address", "error", err)
		os.Exit(1)
	}

	logger.Info("starting rlnctun",
		"listen", cfg.Listen,
		"remote", cfg.Remote,
		"packet_length", cfg.PacketLength,
		"coding_window", cfg.CodingWindow,
		"encoded_ratio", cfg.EncodedRatio,
		"field_polynomial", fmt.Sprintf("0x%X", cfg.FieldPolynomial),
	)

	conn, err := net.ListenPacket("udp", cfg.Listen)
	if err != nil {
		logger.Error("failed to open udp socket", "error", err)
		os.Exit(1)
	}
	defer conn.Close()

	tunnel := newStdioTunnel(os.Stdin, os.Stdout, cfg.PacketLength)

	field := gf.New(cfg.FieldPolynomial)
	startTime := time.Now()
	collector := metrics.NewCollector(startTime)

	loop := engine.NewLoop(engine.Config{
		PacketLength:    cfg.PacketLength,
		CodingWindow:    cfg.CodingWindow,
		EncodedRatio:    cfg.EncodedRatio,
		FlowIdleTimeout: cfg.FlowIdleTimeout,
		CloseRTO:        cfg.CloseRTO,
		RemoteAddr:      remote,
		LossSimulation:  cfg.LossSimulation,
	}, field, conn, tunnel, logger, collector)

	var debugSrv *http.Server
	if cfg.MetricsEnabled() {
		registry := prometheus.NewRegistry()
		if err := registry.Register(collector); err != nil {
			logger.Error("failed to register metrics collector", "error", err)
			os.Exit(1)
		}
		srv := debugapi.NewServer(loop.Table(), registry)
		debugSrv = &http.Server{
			Addr:         cfg.MetricsAddr,
			Handler:      srv,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  30 * time.Second,
		}
		go func() {
			logger.Info("debug api listening", "addr", cfg.MetricsAddr)
			if err := debugSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("debug api server error", "error", err)
			}
		}()
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- loop.Run(ctx)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info("received shutdown signal", "signal", sig.String())
	case err := <-errCh:
		if err != nil && err != context.Canceled {
			logger.Error("engine loop stopped", "error", err)
		}
	}

	cancel()
	loop.Close()

	if debugSrv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := debugSrv.Shutdown(shutdownCtx); err != nil {
			logger.Error("debug api shutdown error", "error", err)
		}
	}

	logger.Info("rlnctun stopped")
}

// stdioTunnel is the TunnelDevice substrate used when no platform TAP
// device is wired in: clear packets are framed with a 2-byte big-endian
// length prefix over a pair of byte streams. A real deployment swaps this
// for a TAP device behind the same two-method interface; no TUN/TAP
// platform code belongs in this repository.
type stdioTunnel struct {
	r            *bufio.Reader
	w            io.Writer
	packetLength int
}

func newStdioTunnel(r io.Reader, w io.Writer, packetLength int) *stdioTunnel {
	return &stdioTunnel{r: bufio.NewReader(r), w: w, packetLength: packetLength}
}

func (t *stdioTunnel) ReadPacket(buf []byte) (int, error) {
	var lenPrefix [2]byte
	if _, err := io.ReadFull(t.r, lenPrefix[:]); err != nil {
		return 0, err
	}
	n := int(binary.BigEndian.Uint16(lenPrefix[:]))
	if n > len(buf) {
		n = len(buf)
	}
	if _, err := io.ReadFull(t.r, buf[:n]); err != nil {
		return 0, err
	}
	return n, nil
}

func (t *stdioTunnel) WritePacket(buf []byte) error {
	var lenPrefix [2]byte
	binary.BigEndian.PutUint16(lenPrefix[:], uint16(len(buf)))
	if _, err := t.w.Write(lenPrefix[:]); err != nil {
		return err
	}
	_, err := t.w.Write(buf)
	return err
}
