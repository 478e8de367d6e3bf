package mux

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/flowpbx/rlnctun/internal/coding"
)

// State is one of the four states of a flow's protocol state machine
// (spec.md §4.5). The zero value is StateInit.
type State int

const (
	StateInit State = iota
	StateOpenedSimplex
	StateOpenedDuplex
	StateCloseAwaiting
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateOpenedSimplex:
		return "OPENED_SIMPLEX"
	case StateOpenedDuplex:
		return "OPENED_DUPLEX"
	case StateCloseAwaiting:
		return "CLOSE_AWAITING"
	default:
		return "UNKNOWN"
	}
}

// ErrStateViolation is returned when a wire message is illegal for a
// flow's current state (spec.md §7 STATE_VIOLATION). The caller discards
// the message; the flow's state is left unchanged.
var ErrStateViolation = errors.New("mux: state violation")

// Flow is one entry of the mux table: its protocol state plus the
// encoder/decoder pair that does the actual coding work for this flow
// (spec.md §4.5 assignMux "freshly initialized encoder and decoder").
type Flow struct {
	Key Key

	State State

	Encoder *coding.Encoder
	Decoder *coding.Decoder

	// Socket is the per-flow local socket, if any; RemoveMux closes it.
	Socket io.Closer

	// LastActivity is updated by the engine on every handled message and
	// read by its idle-timeout sweep; the state machine itself does not
	// depend on wall-clock time.
	LastActivity time.Time

	sentData bool
	recvData bool
}

// total transition function: each exported Handle* method is the only
// way a Flow's State changes, and every one of them is a no-op on its
// own illegal input (spec.md §9 "encode as an explicit tagged enum with
// a total transition function; illegal transitions are discards, never
// silent state drift").

// HandleOutboundData records that this flow has now sent DATA in the
// outbound direction and advances INIT->OPENED_SIMPLEX or
// OPENED_SIMPLEX->OPENED_DUPLEX as appropriate.
func (f *Flow) HandleOutboundData() error {
	if f.State == StateCloseAwaiting {
		return ErrStateViolation
	}
	f.sentData = true
	f.advance()
	return nil
}

// HandleInboundData is HandleOutboundData's receive-side counterpart.
func (f *Flow) HandleInboundData() error {
	if f.State == StateCloseAwaiting {
		return ErrStateViolation
	}
	f.recvData = true
	f.advance()
	return nil
}

func (f *Flow) advance() {
	switch f.State {
	case StateInit:
		f.State = StateOpenedSimplex
	case StateOpenedSimplex:
		if f.sentData && f.recvData {
			f.State = StateOpenedDuplex
		}
	}
}

// HandleSendClose transitions an opened flow to CLOSE_AWAITING on
// emitting a CLOSE. It is a state violation to close a flow that was
// never opened, or to close one already awaiting close.
func (f *Flow) HandleSendClose() error {
	if f.State == StateInit || f.State == StateCloseAwaiting {
		return ErrStateViolation
	}
	f.State = StateCloseAwaiting
	return nil
}

// HandleCloseReceived reports whether a CLOSE received from the peer
// warrants tearing the flow down: only legal while awaiting close.
func (f *Flow) HandleCloseReceived() (teardown bool, err error) {
	if f.State != StateCloseAwaiting {
		return false, ErrStateViolation
	}
	return true, nil
}

// HandleTimeout reports whether the close-RTO firing warrants tearing
// the flow down: only meaningful while awaiting close.
func (f *Flow) HandleTimeout() bool {
	return f.State == StateCloseAwaiting
}

// HandleEmpty is a no-op: EMPTY is a keepalive and never changes state.
func (f *Flow) HandleEmpty() {}

// String renders the flow's summary state for debugging (the Go
// equivalent of the original printMux dump).
func (f *Flow) String() string {
	return fmt.Sprintf("Flow{%s state=%s encoder_window=%d decoder_rank=%d}",
		f.Key, f.State, f.Encoder.WindowLen(), f.Decoder.Rank())
}
