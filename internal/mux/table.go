package mux

import (
	"fmt"
	"net/netip"
	"sync"

	"github.com/flowpbx/rlnctun/internal/coding"
)

// Key is the six-tuple that identifies a flow (spec.md §4.5 "Flow key").
// Two flows with the same TCP five-tuple but different RandomID are
// distinct.
type Key struct {
	SPort     uint16
	DPort     uint16
	RemoteIP  uint32
	UDPRemote netip.AddrPort
	RandomID  uint16
}

func (k Key) String() string {
	return fmt.Sprintf("sport=%d dport=%d remote_ip=%#08x udp=%s id=%#04x",
		k.SPort, k.DPort, k.RemoteIP, k.UDPRemote, k.RandomID)
}

// NewFlow builds a Flow's encoder/decoder pair. The table calls it once
// per newly assigned key; callers supply it bound to the field, window,
// packet length and ratio configured for the process.
type NewFlow func(key Key) (*coding.Encoder, *coding.Decoder)

// Table is the mux's flow table: a mutex-guarded map from Key to *Flow,
// plus an insertion-ordered index so assignMux can report a stable index
// for a given key (spec.md §8 scenario 5).
type Table struct {
	mu      sync.Mutex
	entries map[Key]*Flow
	order   []Key
	newFlow NewFlow
}

// NewTable returns an empty flow table. newFlow builds the encoder and
// decoder for each freshly assigned flow.
func NewTable(newFlow NewFlow) *Table {
	return &Table{entries: make(map[Key]*Flow), newFlow: newFlow}
}

// AssignMux returns the existing flow for key, or allocates and inserts a
// fresh one in state INIT with a new encoder and decoder (spec.md §4.5
// assignMux). It also returns key's stable index within the table: two
// calls with the same key always report the same index, and a key never
// seen before gets the next unused one.
func (t *Table) AssignMux(key Key) (*Flow, int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if f, ok := t.entries[key]; ok {
		return f, t.indexOfLocked(key)
	}

	enc, dec := t.newFlow(key)
	f := &Flow{Key: key, State: StateInit, Encoder: enc, Decoder: dec}
	t.entries[key] = f
	if i := t.indexOfLocked(key); i >= 0 {
		// key was removed earlier and is being reassigned: keep its index.
		return f, i
	}
	t.order = append(t.order, key)
	return f, len(t.order) - 1
}

func (t *Table) indexOfLocked(key Key) int {
	for i, k := range t.order {
		if k == key {
			return i
		}
	}
	return -1
}

// Lookup returns the flow for key without creating one, and whether it
// was found.
func (t *Table) Lookup(key Key) (*Flow, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	f, ok := t.entries[key]
	return f, ok
}

// ErrDoubleRemove is the fatal programming error raised by RemoveMux when
// called twice for the same key (spec.md §4.5 "Double-remove is a fatal
// programming error").
var ErrDoubleRemove = fmt.Errorf("mux: double remove")

// RemoveMux closes the flow's local socket if present and removes it
// from the table. Calling it twice for the same key is a programming
// error, reported via ErrDoubleRemove rather than by panicking, so the
// caller decides how fatal to treat it.
func (t *Table) RemoveMux(key Key) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	f, ok := t.entries[key]
	if !ok {
		return ErrDoubleRemove
	}
	if f.Socket != nil {
		f.Socket.Close()
	}
	delete(t.entries, key)
	return nil
}

// Len returns the number of flows currently tracked.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Flows returns a snapshot slice of all currently tracked flows, useful
// for periodic sweeps (idle timeout, close-RTO) and debug inspection.
func (t *Table) Flows() []*Flow {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*Flow, 0, len(t.entries))
	for _, k := range t.order {
		if f, ok := t.entries[k]; ok {
			out = append(out, f)
		}
	}
	return out
}
