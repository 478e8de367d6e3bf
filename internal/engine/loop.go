package engine

import (
	"context"
	"log/slog"
	"math/rand"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/flowpbx/rlnctun/internal/coding"
	"github.com/flowpbx/rlnctun/internal/gf"
	"github.com/flowpbx/rlnctun/internal/mux"
)

// Config bundles the options of spec.md §5/§6 that this process's single
// Loop needs at construction.
type Config struct {
	PacketLength    int
	CodingWindow    int
	EncodedRatio    float64
	FlowIdleTimeout time.Duration
	CloseRTO        time.Duration
	RemoteAddr      netip.AddrPort

	// LossSimulation is the probability in [0,1) of discarding an inbound
	// encoded datagram before it reaches the mux table. Test-only: a
	// production deployment leaves this at its zero value.
	LossSimulation float64
}

// Loop is the single-threaded event loop of spec.md §5: one goroutine
// drains a net.PacketConn and a TunnelDevice each into a shared channel,
// and a single consumer goroutine applies every event to the mux table
// and coding engine, so no two flows' state machines or pools are ever
// touched concurrently.
type Loop struct {
	cfg    Config
	field  *gf.Field
	conn   net.PacketConn
	tunnel TunnelDevice
	table  *mux.Table
	logger *slog.Logger
	metric Metrics
	rnd    *rand.Rand

	localRandomIDs sync.Map // fiveTuple -> uint16, randomId this side assigned an originated flow

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewLoop builds a Loop. logger and metric may be nil; nil logger uses
// slog.Default() and nil metric uses a no-op implementation.
func NewLoop(cfg Config, field *gf.Field, conn net.PacketConn, tunnel TunnelDevice, logger *slog.Logger, metric Metrics) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	if metric == nil {
		metric = noopMetrics{}
	}
	l := &Loop{
		cfg:    cfg,
		field:  field,
		conn:   conn,
		tunnel: tunnel,
		logger: logger,
		metric: metric,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	l.table = mux.NewTable(l.newFlow)
	return l
}

func (l *Loop) newFlow(key mux.Key) (*coding.Encoder, *coding.Decoder) {
	enc := coding.NewEncoder(l.field, l.cfg.CodingWindow, l.cfg.PacketLength, l.cfg.EncodedRatio, 0, rand.New(rand.NewSource(l.rnd.Int63())))
	dec := coding.NewDecoder(l.field, l.cfg.CodingWindow, l.cfg.CodingWindow*64)
	return enc, dec
}

// Run starts the reader goroutines and blocks processing events until
// ctx is done or a fatal socket failure occurs on the listening socket
// itself (spec.md §7 SOCKET_FAILURE "fatal to the enclosing program only
// when the listening socket itself fails").
func (l *Loop) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	defer cancel()

	type event struct {
		datagram []byte
		src      netip.AddrPort
		clear    []byte
	}
	events := make(chan event, 256)

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		buf := make([]byte, 65535)
		for {
			n, addr, err := l.conn.ReadFrom(buf)
			if err != nil {
				select {
				case <-ctx.Done():
					return
				default:
				}
				l.logger.Error("listening socket failed", "error", err)
				cancel()
				return
			}
			cp := make([]byte, n)
			copy(cp, buf[:n])
			src, _ := netip.ParseAddrPort(addr.String())
			select {
			case events <- event{datagram: cp, src: src}:
			case <-ctx.Done():
				return
			}
		}
	}()

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		buf := make([]byte, l.cfg.PacketLength)
		for {
			n, err := l.tunnel.ReadPacket(buf)
			if err != nil {
				select {
				case <-ctx.Done():
					return
				default:
				}
				l.logger.Warn("tunnel device read failed", "error", err)
				return
			}
			if n == 0 {
				continue
			}
			cp := make([]byte, n)
			copy(cp, buf[:n])
			select {
			case events <- event{clear: cp}:
			case <-ctx.Done():
				return
			}
		}
	}()

	idleTicker := time.NewTicker(idleSweepInterval(l.cfg.FlowIdleTimeout))
	defer idleTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			l.wg.Wait()
			return ctx.Err()
		case ev := <-events:
			if ev.clear != nil {
				l.dispatchClear(ev.clear)
			} else {
				l.dispatchDatagram(ev.datagram, ev.src)
			}
		case <-idleTicker.C:
			l.sweepIdleFlows()
		}
	}
}

func idleSweepInterval(idleTimeout time.Duration) time.Duration {
	if idleTimeout <= 0 {
		return 30 * time.Second
	}
	return idleTimeout / 4
}

func (l *Loop) dispatchClear(buf []byte) {
	toSend, err := l.HandleClearPacket(buf)
	if err != nil {
		l.logger.Warn("handle clear packet", "error", err)
		return
	}
	for _, datagram := range toSend {
		if _, err := l.conn.WriteTo(datagram, addrPortAddr(l.cfg.RemoteAddr)); err != nil {
			l.logger.Warn("write datagram", "error", err)
		}
	}
}

func (l *Loop) dispatchDatagram(buf []byte, src netip.AddrPort) {
	if l.cfg.LossSimulation > 0 && l.rnd.Float64() < l.cfg.LossSimulation {
		l.logger.Debug("dropped inbound datagram (loss simulation)", "src", src)
		return
	}
	delivered, err := l.HandleDatagram(src, buf)
	if err != nil {
		l.metric.IncMalformed()
		l.logger.Debug("handle datagram", "error", err, "src", src)
		return
	}
	for _, clear := range delivered {
		if err := l.tunnel.WritePacket(clear); err != nil {
			l.logger.Warn("write to tunnel device", "error", err)
		}
	}
}

// addrPortAddr adapts a netip.AddrPort to the net.Addr interface
// net.PacketConn.WriteTo expects.
func addrPortAddr(ap netip.AddrPort) net.Addr {
	return net.UDPAddrFromAddrPort(ap)
}

// Close stops the loop's goroutines and waits for them to exit.
func (l *Loop) Close() {
	if l.cancel != nil {
		l.cancel()
	}
	l.wg.Wait()
}

// Table exposes the flow table for debug inspection (internal/debugapi).
func (l *Loop) Table() *mux.Table { return l.table }
