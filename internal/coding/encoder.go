package coding

import (
	"math/rand"

	"golang.org/x/time/rate"

	"github.com/flowpbx/rlnctun/internal/gf"
)

// Encoder holds one flow's sliding coding window and draws random linear
// combinations of it (spec.md §4.3). It is not safe for concurrent use;
// the engine's single-threaded event loop owns it.
type Encoder struct {
	field        *gf.Field
	packetLength int
	windowSize   int

	window    [][]byte // clear payloads currently in the window, oldest first
	baseIndex uint32   // absolute source index of window[0]

	rnd *rand.Rand

	ratio   float64 // ENCODED_PER_SOURCE_RATIO
	credits float64 // fractional emission budget accrued by admitted clear packets
	limiter *rate.Limiter
}

// NewEncoder builds an encoder for one flow. windowSize is CODING_WINDOW,
// packetLength is PACKET_LENGTH, ratio is ENCODED_PER_SOURCE_RATIO. burstPPS
// bounds the wall-clock rate at which Encode will actually admit emission,
// independent of the ratio's bookkeeping, so a sudden run of admissions
// cannot emit an unbounded burst onto the wire.
func NewEncoder(field *gf.Field, windowSize, packetLength int, ratio float64, burstPPS float64, rnd *rand.Rand) *Encoder {
	if burstPPS <= 0 {
		burstPPS = 1000
	}
	return &Encoder{
		field:        field,
		packetLength: packetLength,
		windowSize:   windowSize,
		window:       make([][]byte, 0, windowSize),
		rnd:          rnd,
		ratio:        ratio,
		limiter:      rate.NewLimiter(rate.Limit(burstPPS), int(burstPPS)+1),
	}
}

// IngestClearPacket admits a new source packet into the window, dropping
// the oldest one and advancing BaseIndex if the window is already full
// (spec.md §4.3 point 1), and accrues emission credit toward
// ENCODED_PER_SOURCE_RATIO.
func (e *Encoder) IngestClearPacket(payload []byte) error {
	if len(payload) != e.packetLength {
		return ErrPacketLengthMismatch
	}
	cp := make([]byte, len(payload))
	copy(cp, payload)

	if len(e.window) >= e.windowSize {
		e.window = e.window[1:]
		e.baseIndex++
	}
	e.window = append(e.window, cp)
	e.credits += e.ratio
	return nil
}

// Ready reports whether Encode would currently be willing to emit a
// packet, without consuming any budget.
func (e *Encoder) Ready() bool {
	return len(e.window) > 0 && e.credits >= 1
}

// Encode draws w = len(window) uniformly random coefficients and returns
// the resulting linear combination as an EncodedPacket (spec.md §4.3
// points 2-4). It returns ErrEmptyWindow if the window is empty and
// ErrRateLimited if ENCODED_PER_SOURCE_RATIO's budget or the burst cap is
// currently exhausted.
func (e *Encoder) Encode() (*EncodedPacket, error) {
	w := len(e.window)
	if w == 0 {
		return nil, ErrEmptyWindow
	}
	if e.credits < 1 {
		return nil, ErrRateLimited
	}
	if !e.limiter.Allow() {
		return nil, ErrRateLimited
	}

	coeffs := make([]byte, w)
	e.rnd.Read(coeffs)

	payload := make([]byte, e.packetLength)
	for i, c := range coeffs {
		if c == 0 {
			continue
		}
		src := e.window[i]
		for j := 0; j < e.packetLength; j++ {
			payload[j] = gf.Add(payload[j], e.field.Mul(c, src[j]))
		}
	}

	e.credits--
	return &EncodedPacket{BaseIndex: e.baseIndex, Coeffs: coeffs, Payload: payload}, nil
}

// WindowLen returns the number of clear packets currently in the window.
func (e *Encoder) WindowLen() int { return len(e.window) }

// BaseIndex returns the absolute source index of the window's oldest slot.
func (e *Encoder) BaseIndex() uint32 { return e.baseIndex }
