package mux

import "testing"

func TestFlowOpensSimplexThenDuplex(t *testing.T) {
	f := &Flow{State: StateInit}

	if err := f.HandleOutboundData(); err != nil {
		t.Fatalf("HandleOutboundData: %v", err)
	}
	if f.State != StateOpenedSimplex {
		t.Fatalf("State = %v, want OPENED_SIMPLEX", f.State)
	}

	if err := f.HandleInboundData(); err != nil {
		t.Fatalf("HandleInboundData: %v", err)
	}
	if f.State != StateOpenedDuplex {
		t.Fatalf("State = %v, want OPENED_DUPLEX", f.State)
	}
}

func TestFlowReceiverOpensSimplexFirst(t *testing.T) {
	f := &Flow{State: StateInit}
	if err := f.HandleInboundData(); err != nil {
		t.Fatalf("HandleInboundData: %v", err)
	}
	if f.State != StateOpenedSimplex {
		t.Fatalf("State = %v, want OPENED_SIMPLEX", f.State)
	}
}

// TestFlowCloseTeardown is spec.md §8 scenario 6.
func TestFlowCloseTeardown(t *testing.T) {
	f := &Flow{State: StateOpenedSimplex}
	if err := f.HandleSendClose(); err != nil {
		t.Fatalf("HandleSendClose: %v", err)
	}
	if f.State != StateCloseAwaiting {
		t.Fatalf("State = %v, want CLOSE_AWAITING", f.State)
	}

	if err := f.HandleInboundData(); err != ErrStateViolation {
		t.Fatalf("HandleInboundData after close: err = %v, want ErrStateViolation", err)
	}
	if f.State != StateCloseAwaiting {
		t.Fatalf("State mutated by illegal DATA: %v", f.State)
	}
}

func TestFlowCloseRequiresOpenedState(t *testing.T) {
	f := &Flow{State: StateInit}
	if err := f.HandleSendClose(); err != ErrStateViolation {
		t.Fatalf("HandleSendClose from INIT: err = %v, want ErrStateViolation", err)
	}
}

func TestFlowCloseReceivedOnlyWhileAwaiting(t *testing.T) {
	f := &Flow{State: StateOpenedDuplex}
	if _, err := f.HandleCloseReceived(); err != ErrStateViolation {
		t.Fatalf("HandleCloseReceived while opened: err = %v, want ErrStateViolation", err)
	}

	f.State = StateCloseAwaiting
	teardown, err := f.HandleCloseReceived()
	if err != nil || !teardown {
		t.Fatalf("HandleCloseReceived while awaiting: teardown=%v err=%v, want true, nil", teardown, err)
	}
}

func TestFlowTimeoutOnlyTearsDownWhileAwaiting(t *testing.T) {
	f := &Flow{State: StateOpenedSimplex}
	if f.HandleTimeout() {
		t.Fatalf("HandleTimeout while opened returned true")
	}
	f.State = StateCloseAwaiting
	if !f.HandleTimeout() {
		t.Fatalf("HandleTimeout while awaiting returned false")
	}
}

func TestFlowEmptyNeverChangesState(t *testing.T) {
	for _, s := range []State{StateInit, StateOpenedSimplex, StateOpenedDuplex, StateCloseAwaiting} {
		f := &Flow{State: s}
		f.HandleEmpty()
		if f.State != s {
			t.Errorf("HandleEmpty mutated state %v to %v", s, f.State)
		}
	}
}
