package engine

import (
	"net/netip"
	"time"

	"github.com/flowpbx/rlnctun/internal/coding"
	"github.com/flowpbx/rlnctun/internal/mux"
)

// HandleClearPacket is the concrete contract spec.md §9 leaves as a stub
// (`handleInClear` in the reference): given one clear packet read from
// the tunnel device, admit it into the right flow's encoder window and
// return zero or more fully framed datagrams ready to send (spec.md §4.3,
// §4.5). The flow is identified by peeking the packet's embedded IPv4
// header; packets that don't parse as IPv4/TCP or IPv4/UDP fall back to
// a single default flow keyed on an all-zero five-tuple, so a tunnel
// carrying only one connection still works without IP parsing succeeding.
func (l *Loop) HandleClearPacket(buf []byte) ([][]byte, error) {
	ft := peekFiveTuple(buf)
	key := l.localKey(ft)

	flow, _ := l.table.AssignMux(key)
	if err := flow.HandleOutboundData(); err != nil {
		// CLOSE_AWAITING: silently drop, the flow is tearing down.
		return nil, nil
	}
	flow.LastActivity = time.Now()

	if err := flow.Encoder.IngestClearPacket(padOrTruncate(buf, l.cfg.PacketLength)); err != nil {
		return nil, err
	}

	var toSend [][]byte
	for flow.Encoder.Ready() {
		pkt, err := flow.Encoder.Encode()
		if err == coding.ErrRateLimited || err == coding.ErrEmptyWindow {
			break
		}
		if err != nil {
			return toSend, err
		}
		header := mux.Header{SPort: key.SPort, DPort: key.DPort, RemoteIP: key.RemoteIP, Type: mux.TypeData, RandomID: key.RandomID}
		toSend = append(toSend, mux.Marshal(header, pkt.Marshal()))
		l.metric.IncEncodedSent()
	}
	return toSend, nil
}

// localKey returns the Key this process uses for a flow it originates,
// assigning a fresh random RandomID the first time a given five-tuple is
// seen from the tunnel device and reusing it afterward (spec.md §4.5
// "two flows with the same five-tuple but different randomId are
// distinct" implies one side must pick and stick to a randomId for the
// lifetime of a flow).
func (l *Loop) localKey(ft fiveTuple) mux.Key {
	id, _ := l.localRandomIDs.LoadOrStore(ft, uint16(l.rnd.Intn(1<<16)))
	return mux.Key{
		SPort:     ft.sport,
		DPort:     ft.dport,
		RemoteIP:  ft.remoteIP,
		UDPRemote: l.cfg.RemoteAddr,
		RandomID:  id.(uint16),
	}
}

// HandleDatagram is the concrete contract for `handleInCoded`: given one
// datagram read off the listening socket, parse its framing header,
// route it to the right flow, and apply it. DATA datagrams advance the
// decoder; ACK and EMPTY are keepalive/no-ops; CLOSE and CLOSE_AWAITING
// tear the flow down. It returns every clear packet the decoder newly
// solved as a result, in source order.
func (l *Loop) HandleDatagram(src netip.AddrPort, buf []byte) ([][]byte, error) {
	header, body, err := mux.Parse(buf)
	if err != nil {
		return nil, err
	}

	key := mux.Key{SPort: header.SPort, DPort: header.DPort, RemoteIP: header.RemoteIP, UDPRemote: src, RandomID: header.RandomID}
	flow, _ := l.table.AssignMux(key)
	if flow.State != mux.StateCloseAwaiting {
		flow.LastActivity = time.Now()
	}

	switch header.Type {
	case mux.TypeData:
		return l.handleData(flow, key, body)
	case mux.TypeACK:
		return nil, nil
	case mux.TypeEmpty:
		flow.HandleEmpty()
		return nil, nil
	case mux.TypeClose, mux.TypeCloseAwaiting:
		l.handlePeerClose(flow, key)
		return nil, nil
	default:
		return nil, mux.ErrMalformedHeader
	}
}

func (l *Loop) handleData(flow *mux.Flow, key mux.Key, body []byte) ([][]byte, error) {
	if err := flow.HandleInboundData(); err != nil {
		// CLOSE_AWAITING: spec.md §8 scenario 6, discard without mutation.
		return nil, nil
	}

	pkt, err := coding.UnmarshalEncodedPacket(body)
	if err != nil {
		return nil, err
	}
	if len(pkt.Payload) != l.cfg.PacketLength {
		return nil, coding.ErrPacketLengthMismatch
	}

	innovative, err := flow.Decoder.AddEncodedPacket(pkt)
	switch err {
	case nil:
	case coding.ErrCoefficientWidthMismatch:
		return nil, err
	case coding.ErrResourceExhausted:
		l.closeFlow(flow, key)
		return nil, err
	default:
		return nil, err
	}
	if innovative {
		l.metric.IncInnovative()
	} else {
		l.metric.IncNonInnovative()
	}

	solved := flow.Decoder.ExtractPackets()
	out := make([][]byte, len(solved))
	for i, s := range solved {
		out[i] = s.Clear.Payload
		l.metric.IncSourceDelivered()
	}
	return out, nil
}

// handlePeerClose applies the receive side of the close handshake
// (spec.md §4.5 "a matching CLOSE from the peer ... transitions to
// teardown"). Two cases: if we're already CLOSE_AWAITING, we sent our own
// CLOSE earlier and this is the matching reply completing the handshake
// (HandleCloseReceived), so the flow is removed immediately without
// waiting for CloseRTO. Otherwise the peer is closing first; we
// reciprocate by sending our own CLOSE (so the peer doesn't have to wait
// out its own RTO) and tear down right away, since both sides now agree
// the flow is done.
func (l *Loop) handlePeerClose(flow *mux.Flow, key mux.Key) {
	if flow.State == mux.StateCloseAwaiting {
		flow.HandleCloseReceived()
	} else {
		flow.HandleSendClose()
		l.sendClose(key)
	}
	l.removeFlow(flow, key)
}

// initiateClose sends a CLOSE datagram for key and transitions flow into
// CLOSE_AWAITING (spec.md §4.5 "any opened state -> CLOSE_AWAITING on
// sending CLOSE"). It does not remove the flow: the caller waits for the
// peer's matching CLOSE (handlePeerClose) or CloseRTO (sweepIdleFlows)
// before that happens. A flow already CLOSE_AWAITING is left untouched;
// re-sending CLOSE for it would just restart the RTO wait.
func (l *Loop) initiateClose(flow *mux.Flow, key mux.Key) {
	if flow.State == mux.StateCloseAwaiting {
		return
	}
	if err := flow.HandleSendClose(); err != nil {
		return
	}
	flow.LastActivity = time.Now()
	l.sendClose(key)
}

// closeFlow is the RESOURCE_EXHAUSTED path (spec.md §7 "tear down the
// affected flow (CLOSE), continue serving others"): the flow's own
// coding state is what failed to allocate, so there is nothing to gain by
// waiting out an RTO for a peer reply that this side can't act on anyway.
// It sends CLOSE once as a courtesy to the peer, then removes immediately.
func (l *Loop) closeFlow(flow *mux.Flow, key mux.Key) {
	if flow.State != mux.StateCloseAwaiting {
		flow.HandleSendClose()
		l.sendClose(key)
	}
	l.removeFlow(flow, key)
}

// sendClose marshals and writes a CLOSE datagram to key's peer.
func (l *Loop) sendClose(key mux.Key) {
	header := mux.Header{SPort: key.SPort, DPort: key.DPort, RemoteIP: key.RemoteIP, Type: mux.TypeClose, RandomID: key.RandomID}
	datagram := mux.Marshal(header, nil)
	if _, err := l.conn.WriteTo(datagram, addrPortAddr(key.UDPRemote)); err != nil {
		l.logger.Warn("write close datagram", "error", err, "key", key)
	}
}

func (l *Loop) removeFlow(flow *mux.Flow, key mux.Key) {
	l.logger.Debug("removing flow", "flow", flow.String())
	if err := l.table.RemoveMux(key); err != nil {
		l.logger.Debug("remove mux", "error", err, "key", key)
	}
}

// sweepIdleFlows drives two timers per spec.md §5/§4.5: a flow stuck in
// CLOSE_AWAITING past CloseRTO without a matching peer CLOSE is removed
// unilaterally, and an opened flow idle for FlowIdleTimeout has CLOSE
// sent and starts its own CloseRTO wait (handled on a later sweep once it
// lands in the first case). A flow still in INIT after FlowIdleTimeout was
// never opened, so it cannot send CLOSE; it is removed directly.
func (l *Loop) sweepIdleFlows() {
	now := time.Now()
	flows := l.table.Flows()
	l.metric.SetActiveFlows(len(flows))

	for _, flow := range flows {
		idleFor := now.Sub(flow.LastActivity)
		switch {
		case flow.State == mux.StateCloseAwaiting && l.cfg.CloseRTO > 0 && idleFor >= l.cfg.CloseRTO:
			if flow.HandleTimeout() {
				l.removeFlow(flow, flow.Key)
			}
		case flow.State == mux.StateInit && l.cfg.FlowIdleTimeout > 0 && idleFor >= l.cfg.FlowIdleTimeout:
			l.removeFlow(flow, flow.Key)
		case flow.State != mux.StateCloseAwaiting && l.cfg.FlowIdleTimeout > 0 && idleFor >= l.cfg.FlowIdleTimeout:
			l.initiateClose(flow, flow.Key)
		}
	}
}
