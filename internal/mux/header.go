// Package mux implements the flow multiplexer: wire framing (spec.md
// §4.5), the six-tuple keyed flow table, and each flow's protocol state
// machine.
package mux

import (
	"encoding/binary"
	"fmt"
)

// HeaderLen is the fixed size of the framing header in bytes.
const HeaderLen = 11

// Type is the one-byte message kind carried in a framing header.
type Type byte

const (
	TypeData          Type = 0x00
	TypeACK           Type = 0x01
	TypeClose         Type = 0x02
	TypeCloseAwaiting Type = 0x03
	// 0x04 is unassigned and must be rejected by Parse.
	TypeEmpty Type = 0x05
)

func (t Type) String() string {
	switch t {
	case TypeData:
		return "DATA"
	case TypeACK:
		return "ACK"
	case TypeClose:
		return "CLOSE"
	case TypeCloseAwaiting:
		return "CLOSE_AWAITING"
	case TypeEmpty:
		return "EMPTY"
	default:
		return fmt.Sprintf("Type(%#02x)", byte(t))
	}
}

func (t Type) valid() bool {
	switch t {
	case TypeData, TypeACK, TypeClose, TypeCloseAwaiting, TypeEmpty:
		return true
	default:
		return false
	}
}

// Header is the fixed 11-byte framing header that precedes every body on
// the wire.
type Header struct {
	SPort    uint16
	DPort    uint16
	RemoteIP uint32
	Type     Type
	RandomID uint16
}

// ErrMalformedHeader is returned by Parse when the buffer is shorter than
// HeaderLen or its type byte is not one of the legal values (spec.md §7
// MALFORMED_HEADER).
var ErrMalformedHeader = fmt.Errorf("mux: malformed header")

// Marshal writes h followed by body into a freshly allocated buffer.
func Marshal(h Header, body []byte) []byte {
	buf := make([]byte, HeaderLen+len(body))
	binary.BigEndian.PutUint16(buf[0:2], h.SPort)
	binary.BigEndian.PutUint16(buf[2:4], h.DPort)
	binary.BigEndian.PutUint32(buf[4:8], h.RemoteIP)
	buf[8] = byte(h.Type)
	binary.BigEndian.PutUint16(buf[9:11], h.RandomID)
	copy(buf[HeaderLen:], body)
	return buf
}

// Parse splits buf into its header and body. It returns ErrMalformedHeader
// if buf is shorter than HeaderLen or carries an illegal type byte.
func Parse(buf []byte) (Header, []byte, error) {
	if len(buf) < HeaderLen {
		return Header{}, nil, ErrMalformedHeader
	}
	h := Header{
		SPort:    binary.BigEndian.Uint16(buf[0:2]),
		DPort:    binary.BigEndian.Uint16(buf[2:4]),
		RemoteIP: binary.BigEndian.Uint32(buf[4:8]),
		Type:     Type(buf[8]),
		RandomID: binary.BigEndian.Uint16(buf[9:11]),
	}
	if !h.Type.valid() {
		return Header{}, nil, ErrMalformedHeader
	}
	return h, buf[HeaderLen:], nil
}
