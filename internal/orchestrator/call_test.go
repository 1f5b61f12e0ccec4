package orchestrator

import (
	"testing"

	"github.com/voiceagent/broker/internal/asp"
)

func TestCallRequestActionDefersDuringUtterance(t *testing.T) {
	c := NewCall(CallerInfo{CallerIDNum: "1000"})
	c.SetUtteranceActive(true)

	pending := c.RequestAction(asp.ActionTransfer, "2000")
	if !pending {
		t.Fatal("RequestAction should defer while an utterance is active")
	}
	if got := c.TakeDeferred(); got == nil || got.Kind != asp.ActionTransfer || got.Target != "2000" {
		t.Fatalf("TakeDeferred = %+v", got)
	}
	if got := c.TakeDeferred(); got != nil {
		t.Fatalf("TakeDeferred should clear after being read once, got %+v", got)
	}
}

func TestCallRequestActionImmediateOutsideUtterance(t *testing.T) {
	c := NewCall(CallerInfo{CallerIDNum: "1000"})
	pending := c.RequestAction(asp.ActionHangup, "")
	if pending {
		t.Fatal("RequestAction should not defer when no utterance is in flight")
	}
	if got := c.TakeDeferred(); got != nil {
		t.Fatalf("no deferred action should have been recorded, got %+v", got)
	}
}

func TestCallStateTransitions(t *testing.T) {
	c := NewCall(CallerInfo{})
	if c.State() != StateRinging {
		t.Fatalf("new call state = %s, want ringing", c.State())
	}
	c.SetState(StateConfirmed)
	if c.State() != StateConfirmed {
		t.Fatalf("state = %s, want confirmed", c.State())
	}
	c.End()
	if c.State() != StateDisconnected {
		t.Fatalf("state after End = %s, want disconnected", c.State())
	}
}

func TestCallStateStringUnknown(t *testing.T) {
	var s CallState = 99
	if s.String() != "unknown" {
		t.Fatalf("String() = %q, want unknown", s.String())
	}
}

func TestRegistryAddGetRemove(t *testing.T) {
	reg := NewRegistry()
	c := NewCall(CallerInfo{})
	reg.Add("call-id-1", c)

	got, ok := reg.Get("call-id-1")
	if !ok || got != c {
		t.Fatal("Get should return the registered call")
	}
	if reg.Count() != 1 {
		t.Fatalf("Count = %d, want 1", reg.Count())
	}

	reg.Remove("call-id-1")
	if _, ok := reg.Get("call-id-1"); ok {
		t.Fatal("Get should fail after Remove")
	}
	if reg.Count() != 0 {
		t.Fatalf("Count = %d, want 0 after Remove", reg.Count())
	}
}

func TestRegistryAll(t *testing.T) {
	reg := NewRegistry()
	reg.Add("a", NewCall(CallerInfo{}))
	reg.Add("b", NewCall(CallerInfo{}))
	all := reg.All()
	if len(all) != 2 {
		t.Fatalf("All() returned %d calls, want 2", len(all))
	}
}
