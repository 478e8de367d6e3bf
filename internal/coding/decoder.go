package coding

import "github.com/flowpbx/rlnctun/internal/gf"

// IndexedClearPacket is a decoded cleartext payload tagged with its
// absolute source index, so an upstream consumer can place it back into
// the original stream order.
type IndexedClearPacket struct {
	Index uint32
	Clear ClearPacket
}

// Decoder is the decode-side state for one flow: a pool for the current
// coding generation plus the bookkeeping that maps pool row indices back
// to absolute source indices and tracks which of those have already been
// delivered upstream (spec.md §4.4 "Decoder state").
//
// A generation is identified by the BaseIndex carried on encoded packets
// (spec.md §4.3 point 4). When a packet arrives with a BaseIndex newer
// than the decoder's current one, the encoder's window has slid forward;
// the decoder starts a fresh pool for the new generation. Any rows from
// the superseded generation that were not yet solved are lost, which is
// the expected cost of a sliding window rather than a bug: the encoder
// keeps emitting encoded packets over the new window regardless.
type Decoder struct {
	field      *gf.Field
	maxWidth   int // CODING_WINDOW
	maxPackets int

	haveGen   bool
	genBase   uint32
	pool      *Pool
	delivered map[int]bool
}

// NewDecoder returns a decoder with no generation established yet.
// maxWidth is CODING_WINDOW; maxPackets bounds each generation's pool
// (spec.md §7 RESOURCE_EXHAUSTED), 0 meaning unbounded.
func NewDecoder(field *gf.Field, maxWidth, maxPackets int) *Decoder {
	return &Decoder{field: field, maxWidth: maxWidth, maxPackets: maxPackets}
}

// AddEncodedPacket runs packet through the current (or a freshly started)
// generation's pool. It returns the same (innovative, err) pair as
// Pool.AddIfInnovative; a stale packet from a superseded generation is
// silently discarded and reported as non-innovative.
func (d *Decoder) AddEncodedPacket(packet *EncodedPacket) (bool, error) {
	switch {
	case !d.haveGen:
		d.startGeneration(packet.BaseIndex)
	case packet.BaseIndex > d.genBase:
		d.startGeneration(packet.BaseIndex)
	case packet.BaseIndex < d.genBase:
		return false, nil
	}
	return d.pool.AddIfInnovative(packet)
}

func (d *Decoder) startGeneration(base uint32) {
	d.haveGen = true
	d.genBase = base
	d.pool = NewPool(d.field, d.maxWidth, d.maxPackets)
	d.delivered = make(map[int]bool)
}

// ExtractPackets returns every newly solved, not-yet-delivered source
// packet of the current generation, in increasing absolute index order.
func (d *Decoder) ExtractPackets() []IndexedClearPacket {
	if d.pool == nil {
		return nil
	}
	solved := d.pool.ExtractPackets(d.delivered)
	out := make([]IndexedClearPacket, len(solved))
	for i, s := range solved {
		out[i] = IndexedClearPacket{Index: d.genBase + uint32(s.RowIndex), Clear: s.Clear}
	}
	return out
}

// Rank returns the current generation's pool rank, or 0 if no generation
// has been established yet.
func (d *Decoder) Rank() int {
	if d.pool == nil {
		return 0
	}
	return d.pool.Rank()
}
