// Package coding implements the random linear network coding engine:
// encoding clear packets into a sliding window of linear combinations
// (spec.md §4.3) and decoding them back via incremental Gauss-Jordan
// elimination over GF(2⁸) (spec.md §4.4).
package coding

import (
	"encoding/binary"
	"fmt"
)

// ClearPacket is a single unencoded payload admitted into an encoder's
// window. Every clear packet belonging to one flow has the same length,
// the flow's PACKET_LENGTH (spec.md §3).
type ClearPacket struct {
	Payload []byte
}

// EncodedPacket is a coefficient vector over GF(2⁸) paired with the
// payload that results from combining the window's clear packets with
// those coefficients, plus the absolute index of the window's oldest
// slot at the time of encoding so a decoder can align its own generation
// bookkeeping (spec.md §3, §4.3 point 4).
type EncodedPacket struct {
	BaseIndex uint32
	Coeffs    []byte
	Payload   []byte
}

// encodedPacketHeaderLen is the fixed prefix written ahead of the
// coefficient vector and payload: a 4-byte base index and a 2-byte
// coefficient count.
const encodedPacketHeaderLen = 6

// Marshal serializes an encoded packet as
// [baseIndex:4][nCoeffs:2][coeffs...][payload...], all integers
// big-endian. This is the DATA body that travels inside the mux's
// framing header (spec.md §4.5).
func (p *EncodedPacket) Marshal() []byte {
	buf := make([]byte, encodedPacketHeaderLen+len(p.Coeffs)+len(p.Payload))
	binary.BigEndian.PutUint32(buf[0:4], p.BaseIndex)
	binary.BigEndian.PutUint16(buf[4:6], uint16(len(p.Coeffs)))
	n := copy(buf[encodedPacketHeaderLen:], p.Coeffs)
	copy(buf[encodedPacketHeaderLen+n:], p.Payload)
	return buf
}

// UnmarshalEncodedPacket parses the wire form written by Marshal.
func UnmarshalEncodedPacket(buf []byte) (*EncodedPacket, error) {
	if len(buf) < encodedPacketHeaderLen {
		return nil, fmt.Errorf("coding: encoded packet too short: %d bytes", len(buf))
	}
	baseIndex := binary.BigEndian.Uint32(buf[0:4])
	nCoeffs := int(binary.BigEndian.Uint16(buf[4:6]))
	rest := buf[encodedPacketHeaderLen:]
	if len(rest) < nCoeffs {
		return nil, fmt.Errorf("coding: encoded packet truncated: want %d coeff bytes, have %d", nCoeffs, len(rest))
	}
	coeffs := make([]byte, nCoeffs)
	copy(coeffs, rest[:nCoeffs])
	payload := make([]byte, len(rest)-nCoeffs)
	copy(payload, rest[nCoeffs:])
	return &EncodedPacket{BaseIndex: baseIndex, Coeffs: coeffs, Payload: payload}, nil
}
