package engine

import (
	"bytes"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/flowpbx/rlnctun/internal/coding"
	"github.com/flowpbx/rlnctun/internal/gf"
	"github.com/flowpbx/rlnctun/internal/mux"
)

// fakeConn is a net.PacketConn double that records every datagram written
// to it (for asserting CLOSE framing) instead of touching the network.
type fakeConn struct {
	written []writtenDatagram
}

type writtenDatagram struct {
	buf  []byte
	addr net.Addr
}

func (c *fakeConn) ReadFrom(p []byte) (int, net.Addr, error) { return 0, nil, net.ErrClosed }
func (c *fakeConn) WriteTo(p []byte, addr net.Addr) (int, error) {
	cp := make([]byte, len(p))
	copy(cp, p)
	c.written = append(c.written, writtenDatagram{buf: cp, addr: addr})
	return len(p), nil
}
func (c *fakeConn) Close() error                       { return nil }
func (c *fakeConn) LocalAddr() net.Addr                { return nil }
func (c *fakeConn) SetDeadline(t time.Time) error      { return nil }
func (c *fakeConn) SetReadDeadline(t time.Time) error  { return nil }
func (c *fakeConn) SetWriteDeadline(t time.Time) error { return nil }

func testLoop(t *testing.T) *Loop {
	t.Helper()
	cfg := Config{
		PacketLength:    16,
		CodingWindow:    4,
		EncodedRatio:    2.0,
		FlowIdleTimeout: time.Minute,
		CloseRTO:        time.Second,
		RemoteAddr:      netip.MustParseAddrPort("10.0.0.2:5555"),
	}
	return NewLoop(cfg, gf.New(gf.DefaultPolynomial), &fakeConn{}, nil, nil, nil)
}

func TestHandleClearPacketProducesDatagrams(t *testing.T) {
	l := testLoop(t)
	payload := bytes.Repeat([]byte{0x42}, 16)

	toSend, err := l.HandleClearPacket(payload)
	if err != nil {
		t.Fatalf("HandleClearPacket: %v", err)
	}
	if len(toSend) == 0 {
		t.Fatalf("expected at least one datagram, got none")
	}
	for _, d := range toSend {
		if len(d) < mux.HeaderLen {
			t.Fatalf("datagram shorter than header: %d bytes", len(d))
		}
		h, _, err := mux.Parse(d)
		if err != nil {
			t.Fatalf("Parse(toSend): %v", err)
		}
		if h.Type != mux.TypeData {
			t.Errorf("Type = %v, want DATA", h.Type)
		}
	}
}

func TestHandleDatagramMalformedHeaderIsRejected(t *testing.T) {
	l := testLoop(t)
	src := netip.MustParseAddrPort("10.0.0.3:9")
	if _, err := l.HandleDatagram(src, []byte{0x00, 0x01}); err != mux.ErrMalformedHeader {
		t.Fatalf("err = %v, want ErrMalformedHeader", err)
	}
}

// TestClearToDatagramToDeliveredRoundTrip drives HandleClearPacket
// against one Loop and feeds its output datagrams into HandleDatagram
// on another, exercising the full send/receive path end to end.
func TestClearToDatagramToDeliveredRoundTrip(t *testing.T) {
	tx := testLoop(t)
	rx := testLoop(t)
	src := netip.MustParseAddrPort("10.0.0.1:4242")

	var sources [][]byte
	var datagrams [][]byte
	for i := 0; i < 4; i++ {
		payload := bytes.Repeat([]byte{byte(i + 1)}, 16)
		sources = append(sources, payload)
		toSend, err := tx.HandleClearPacket(payload)
		if err != nil {
			t.Fatalf("HandleClearPacket(%d): %v", i, err)
		}
		datagrams = append(datagrams, toSend...)
	}

	var delivered [][]byte
	for _, d := range datagrams {
		got, err := rx.HandleDatagram(src, d)
		if err != nil {
			t.Fatalf("HandleDatagram: %v", err)
		}
		delivered = append(delivered, got...)
		if len(delivered) >= len(sources) {
			break
		}
	}

	if len(delivered) != len(sources) {
		t.Fatalf("recovered %d of %d source packets", len(delivered), len(sources))
	}
	for i, got := range delivered {
		if !bytes.Equal(got, sources[i]) {
			t.Errorf("delivered[%d] = %x, want %x", i, got, sources[i])
		}
	}
}

func TestHandleDatagramCloseTearsDownFlow(t *testing.T) {
	l := testLoop(t)
	src := netip.MustParseAddrPort("10.0.0.4:1")
	header := mux.Header{SPort: 1, DPort: 2, Type: mux.TypeData, RandomID: 9}
	pkt := &coding.EncodedPacket{Coeffs: []byte{1}, Payload: make([]byte, 16)}

	if _, err := l.HandleDatagram(src, mux.Marshal(header, pkt.Marshal())); err != nil {
		t.Fatalf("seed DATA: %v", err)
	}
	if l.table.Len() != 1 {
		t.Fatalf("table.Len() = %d, want 1", l.table.Len())
	}

	closeHeader := mux.Header{SPort: 1, DPort: 2, Type: mux.TypeClose, RandomID: 9}
	if _, err := l.HandleDatagram(src, mux.Marshal(closeHeader, nil)); err != nil {
		t.Fatalf("CLOSE: %v", err)
	}
	if l.table.Len() != 0 {
		t.Fatalf("table.Len() after CLOSE = %d, want 0", l.table.Len())
	}

	conn := l.conn.(*fakeConn)
	if len(conn.written) != 1 {
		t.Fatalf("wrote %d datagrams, want 1 reciprocal CLOSE", len(conn.written))
	}
	h, _, err := mux.Parse(conn.written[0].buf)
	if err != nil {
		t.Fatalf("Parse(written CLOSE): %v", err)
	}
	if h.Type != mux.TypeClose {
		t.Errorf("written Type = %v, want CLOSE", h.Type)
	}
}

// TestSweepIdleFlowsSendsCloseThenWaitsForRTO exercises the
// locally-initiated teardown path end to end: an idle flow gets CLOSE
// sent and moves to CLOSE_AWAITING, stays in the table until CloseRTO has
// elapsed, and is only then removed.
func TestSweepIdleFlowsSendsCloseThenWaitsForRTO(t *testing.T) {
	l := testLoop(t)
	src := netip.MustParseAddrPort("10.0.0.5:1")
	header := mux.Header{SPort: 1, DPort: 2, Type: mux.TypeData, RandomID: 9}
	pkt := &coding.EncodedPacket{Coeffs: []byte{1}, Payload: make([]byte, 16)}
	if _, err := l.HandleDatagram(src, mux.Marshal(header, pkt.Marshal())); err != nil {
		t.Fatalf("seed DATA: %v", err)
	}

	flow, ok := l.table.Lookup(mux.Key{SPort: 1, DPort: 2, UDPRemote: src, RandomID: 9})
	if !ok {
		t.Fatalf("flow not found after seeding")
	}
	flow.LastActivity = time.Now().Add(-2 * l.cfg.FlowIdleTimeout)

	l.sweepIdleFlows()

	if l.table.Len() != 1 {
		t.Fatalf("table.Len() after idle sweep = %d, want 1 (CLOSE_AWAITING, not yet removed)", l.table.Len())
	}
	if flow.State != mux.StateCloseAwaiting {
		t.Fatalf("flow.State = %v, want CLOSE_AWAITING", flow.State)
	}
	conn := l.conn.(*fakeConn)
	if len(conn.written) != 1 {
		t.Fatalf("wrote %d datagrams, want 1 CLOSE", len(conn.written))
	}
	h, _, err := mux.Parse(conn.written[0].buf)
	if err != nil {
		t.Fatalf("Parse(written CLOSE): %v", err)
	}
	if h.Type != mux.TypeClose {
		t.Errorf("written Type = %v, want CLOSE", h.Type)
	}

	// Still within CloseRTO: a second sweep must not remove the flow yet.
	l.sweepIdleFlows()
	if l.table.Len() != 1 {
		t.Fatalf("table.Len() before CloseRTO elapsed = %d, want 1", l.table.Len())
	}

	flow.LastActivity = time.Now().Add(-2 * l.cfg.CloseRTO)
	l.sweepIdleFlows()
	if l.table.Len() != 0 {
		t.Fatalf("table.Len() after CloseRTO elapsed = %d, want 0", l.table.Len())
	}
}

func TestDispatchDatagramLossSimulationDropsDeterministically(t *testing.T) {
	cfg := Config{
		PacketLength:    16,
		CodingWindow:    4,
		EncodedRatio:    2.0,
		FlowIdleTimeout: time.Minute,
		CloseRTO:        time.Second,
		RemoteAddr:      netip.MustParseAddrPort("10.0.0.2:5555"),
		LossSimulation:  1.0,
	}
	l := NewLoop(cfg, gf.New(gf.DefaultPolynomial), &fakeConn{}, nil, nil, nil)
	src := netip.MustParseAddrPort("10.0.0.3:9")
	header := mux.Header{SPort: 1, DPort: 2, Type: mux.TypeData, RandomID: 9}
	pkt := &coding.EncodedPacket{Coeffs: []byte{1}, Payload: make([]byte, 16)}

	l.dispatchDatagram(mux.Marshal(header, pkt.Marshal()), src)

	if l.table.Len() != 0 {
		t.Fatalf("table.Len() = %d, want 0: a LossSimulation of 1.0 must drop every inbound datagram", l.table.Len())
	}
}
