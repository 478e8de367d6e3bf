package coding

import (
	"fmt"

	"github.com/flowpbx/rlnctun/internal/gf"
	"github.com/flowpbx/rlnctun/internal/matrix"
)

// Pool is a decoder's accumulated state for one coding generation: the
// received encoded packets plus the reduced coefficient matrix and its
// paired inverted-transform matrix, kept in lockstep so that at every
// point invertedCoeffs * originalCoeffMatrix == rrefCoeffs (invariant I2,
// spec.md §4.4). Pool is not safe for concurrent use.
//
// Every packet, including the first, runs through the same elimination
// and innovation test (spec.md §9 open question 1): there is no special
// case that accepts an early packet unconditionally. This keeps invariant
// I1 (row i of rrefCoeffs has 1 at column i and 0 at columns < i) true
// after every insertion, including the very first.
type Pool struct {
	field *gf.Field

	widthSet bool
	width    int
	maxWidth int // window can still be growing when a packet arrives; cap it

	packets        []*EncodedPacket
	rrefCoeffs     *matrix.Matrix
	invertedCoeffs *matrix.Matrix

	maxPackets int // resource bound; 0 means unbounded
}

// NewPool returns an empty pool bound to one coding generation. maxWidth
// is CODING_WINDOW: a candidate whose coefficient vector is longer than
// that is a protocol violation (ErrCoefficientWidthMismatch), since no
// generation ever exceeds the configured window. A candidate narrower
// than the pool's current width is zero-padded, and a candidate wider
// than the pool's current (but still <= maxWidth) widens the pool in
// place — both are normal while the sliding window is still filling
// (spec.md §4.3: the encoder draws w <= CODING_WINDOW coefficients,
// where w grows as new source packets are admitted).
//
// maxPackets bounds how many encoded packets the pool will accumulate
// before AddIfInnovative starts returning ErrResourceExhausted; 0 means
// no bound.
func NewPool(field *gf.Field, maxWidth, maxPackets int) *Pool {
	return &Pool{field: field, maxWidth: maxWidth, maxPackets: maxPackets}
}

// Rank returns the number of innovative packets accepted so far.
func (p *Pool) Rank() int { return len(p.packets) }

// Width returns the pool's coefficient width: the length of the widest
// coefficient vector processed so far, or 0 if no packet has been
// processed yet.
func (p *Pool) Width() int { return p.width }

// String renders the pool's summary state for debugging (the Go
// equivalent of the original decoderStatePrint/poolPrint dump).
func (p *Pool) String() string {
	return fmt.Sprintf("Pool{width=%d rank=%d maxWidth=%d maxPackets=%d}", p.width, len(p.packets), p.maxWidth, p.maxPackets)
}

// AddIfInnovative runs one candidate encoded packet through elimination
// against the pool's current rows and, if the result is not the zero
// vector and has a nonzero entry in the pivot column for the next row,
// appends it as a new row of both rrefCoeffs and invertedCoeffs and
// returns true. Otherwise it discards the candidate and returns false.
// On a non-innovative candidate, or one rejected with ErrResourceExhausted,
// the only change to the pool is its width: the first candidate sets it,
// and a wider one widens it with zero columns. ErrCoefficientWidthMismatch
// leaves the pool untouched.
func (p *Pool) AddIfInnovative(packet *EncodedPacket) (bool, error) {
	n := len(packet.Coeffs)
	if p.maxWidth > 0 && n > p.maxWidth {
		return false, ErrCoefficientWidthMismatch
	}

	if !p.widthSet {
		p.width = n
		p.widthSet = true
		p.rrefCoeffs = matrix.New(0, n)
		p.invertedCoeffs = matrix.New(0, n)
	} else if n > p.width {
		p.rrefCoeffs.GrowCols(n)
		p.invertedCoeffs.GrowCols(n)
		p.width = n
	}

	if p.maxPackets > 0 && len(p.packets) >= p.maxPackets {
		return false, ErrResourceExhausted
	}

	n = p.width
	nPackets := len(p.packets)

	r := make([]byte, n)
	copy(r, packet.Coeffs) // shorter candidates are implicitly zero-padded by make

	factors := make([]byte, nPackets)
	for i := 0; i < nPackets; i++ {
		factors[i] = r[i]
		p.field.RowMulSub(r, p.rrefCoeffs.Row(i), factors[i], n)
	}

	allZero := true
	for _, v := range r {
		if v != 0 {
			allZero = false
			break
		}
	}
	// nPackets == n means the pool's n pivot rows already span the entire
	// n-dimensional space at this width; no further row can be innovative,
	// and r is guaranteed to have reduced to the zero vector above.
	if allZero || nPackets >= n || r[nPackets] == 0 {
		return false, nil
	}

	u := make([]byte, n)
	u[nPackets] = 1
	for i := 0; i < nPackets; i++ {
		p.field.RowMulSub(u, p.invertedCoeffs.Row(i), factors[i], n)
	}

	pivot := r[nPackets]
	p.field.RowReduce(r, pivot, n)
	p.field.RowReduce(u, pivot, n)

	p.rrefCoeffs.AppendRow(r)
	p.invertedCoeffs.AppendRow(u)
	p.packets = append(p.packets, packet)
	return true, nil
}

// solve returns a fresh copy of rrefCoeffs/invertedCoeffs carried from the
// pool's row-echelon form (I1: 1 on the diagonal, zero below it, nonzero
// above permitted) to reduced row-echelon form (zero off the diagonal in
// the first Rank() columns; columns at or beyond Rank() are left as they
// are), via back substitution from the last row to the first.
// It does not mutate the pool: insertion keeps operating against the
// pool's row-echelon form regardless of how many times solve is called,
// which makes repeated extraction calls idempotent.
func (p *Pool) solve() (rref, inv *matrix.Matrix) {
	n := p.width
	rank := len(p.packets)

	rref = matrix.New(rank, n)
	inv = matrix.New(rank, n)
	for i := 0; i < rank; i++ {
		copy(rref.Row(i), p.rrefCoeffs.Row(i))
		copy(inv.Row(i), p.invertedCoeffs.Row(i))
	}

	for i := rank - 1; i >= 0; i-- {
		for k := 0; k < i; k++ {
			factor := rref.Row(k)[i]
			if factor == 0 {
				continue
			}
			p.field.RowMulSub(rref.Row(k), rref.Row(i), factor, n)
			p.field.RowMulSub(inv.Row(k), inv.Row(i), factor, n)
		}
	}
	return rref, inv
}

// SolvedPacket pairs a decoded cleartext payload with its row index within
// the pool (the source index relative to the generation's BaseIndex).
type SolvedPacket struct {
	RowIndex int
	Clear    ClearPacket
}

// ExtractPackets returns the decoded cleartext for every fully solved row
// in [0, Rank()) that is not already present in delivered, in increasing
// index order, and records each returned index into delivered so a later
// call (after more packets arrive) does not repeat it (spec.md §5 "each
// source index is delivered to the upstream consumer at most once").
func (p *Pool) ExtractPackets(delivered map[int]bool) []SolvedPacket {
	rank := len(p.packets)
	if rank == 0 {
		return nil
	}
	rref, inv := p.solve()

	var out []SolvedPacket
	for i := 0; i < rank; i++ {
		if delivered[i] {
			continue
		}
		if !isUnitRow(rref.Row(i), i) {
			continue
		}
		payload := make([]byte, len(p.packets[0].Payload))
		invRow := inv.Row(i)
		for k := 0; k < rank; k++ {
			c := invRow[k]
			if c == 0 {
				continue
			}
			src := p.packets[k].Payload
			for j := range payload {
				payload[j] = gf.Add(payload[j], p.field.Mul(c, src[j]))
			}
		}
		out = append(out, SolvedPacket{RowIndex: i, Clear: ClearPacket{Payload: payload}})
		delivered[i] = true
	}
	return out
}

func isUnitRow(row []byte, pivot int) bool {
	for j, v := range row {
		if j == pivot {
			if v != 1 {
				return false
			}
		} else if v != 0 {
			return false
		}
	}
	return true
}
