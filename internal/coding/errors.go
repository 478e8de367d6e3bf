package coding

import "errors"

// Error kinds from spec.md §7 that the coding engine itself can raise.
// NON_INNOVATIVE is not here: it is the ordinary false return of
// AddIfInnovative, not an error.
var (
	// ErrCoefficientWidthMismatch is returned when an encoded packet's
	// coefficient count disagrees with the pool's established window width.
	// The caller discards that packet only; the pool is unaffected.
	ErrCoefficientWidthMismatch = errors.New("coding: coefficient width mismatch")

	// ErrResourceExhausted signals that growing the pool would exceed its
	// configured bound. The caller tears down the owning flow.
	ErrResourceExhausted = errors.New("coding: resource exhausted")

	// ErrEmptyWindow is returned by Encode when the encoder's window holds
	// no clear packets yet.
	ErrEmptyWindow = errors.New("coding: encoder window is empty")

	// ErrRateLimited is returned by Encode when emitting another encoded
	// packet would exceed ENCODED_PER_SOURCE_RATIO's current budget.
	ErrRateLimited = errors.New("coding: encoder rate limited")

	// ErrPacketLengthMismatch is returned when a clear or encoded packet's
	// payload length disagrees with the flow's fixed PACKET_LENGTH
	// (Encoder.IngestClearPacket for clear packets, the engine's DATA
	// handler for encoded ones).
	ErrPacketLengthMismatch = errors.New("coding: packet length mismatch")
)
