// Package engine wires the coding and mux packages to the two external
// interfaces spec.md §6 describes: a datagram substrate (any
// net.PacketConn) and a tunnel device that produces and consumes clear
// packets as opaque byte buffers.
package engine

import "encoding/binary"

// TunnelDevice is the clear-packet substrate: whatever reads and writes
// the unencoded traffic this process tunnels (a TAP device, or the
// length-prefixed stdio framing in cmd/rlnctun). The engine never
// interprets the bytes beyond peeking at an embedded IPv4 header to
// classify which flow a buffer belongs to (spec.md §5 "the core does not
// interpret their contents").
type TunnelDevice interface {
	ReadPacket(buf []byte) (int, error)
	WritePacket(buf []byte) error
}

// fiveTuple is the subset of an IPv4/TCP or IPv4/UDP header the mux uses
// to key a flow, read directly from a clear packet's bytes without
// allocating.
type fiveTuple struct {
	sport    uint16
	dport    uint16
	remoteIP uint32
	ok       bool
}

// peekFiveTuple reads the source port, destination port and destination
// address straight out of an IPv4 header at the front of buf, the way a
// real tunnel transport would need to in order to multiplex several
// tunneled connections over one coding flow. It recognizes TCP and UDP
// inner protocols; anything else, or a buffer too short to hold a
// minimal IPv4 header plus 4 bytes of transport header, yields ok=false
// and the caller falls back to a single default flow.
func peekFiveTuple(buf []byte) fiveTuple {
	const minIPv4Header = 20
	if len(buf) < minIPv4Header+4 {
		return fiveTuple{}
	}
	if buf[0]>>4 != 4 {
		return fiveTuple{}
	}
	ihl := int(buf[0]&0x0F) * 4
	if ihl < minIPv4Header || len(buf) < ihl+4 {
		return fiveTuple{}
	}
	proto := buf[9]
	if proto != 6 && proto != 17 { // TCP, UDP
		return fiveTuple{}
	}
	dstIP := binary.BigEndian.Uint32(buf[16:20])
	sport := binary.BigEndian.Uint16(buf[ihl : ihl+2])
	dport := binary.BigEndian.Uint16(buf[ihl+2 : ihl+4])
	return fiveTuple{sport: sport, dport: dport, remoteIP: dstIP, ok: true}
}

// padOrTruncate returns a copy of buf exactly n bytes long: zero-padded
// if shorter, truncated if longer. PACKET_LENGTH is a flow-wide constant
// (spec.md §3); the tunnel side is not required to produce exactly that
// width, so the engine enforces it at the boundary.
func padOrTruncate(buf []byte, n int) []byte {
	out := make([]byte, n)
	copy(out, buf)
	return out
}
