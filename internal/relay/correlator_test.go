package relay

import (
	"errors"
	"testing"
	"time"
)

func TestCorrelatorResolveDeliversResult(t *testing.T) {
	c := newCorrelator(time.Second)
	req := c.register("client-a", 1, "Page.navigate", "", 1)

	if ok := c.resolve(req.relayID, map[string]any{"frameId": "F"}, ""); !ok {
		t.Fatalf("resolve returned false for a live request")
	}

	select {
	case res := <-req.resultCh:
		if res.err != nil {
			t.Fatalf("unexpected error: %v", res.err)
		}
		m, ok := res.result.(map[string]any)
		if !ok || m["frameId"] != "F" {
			t.Fatalf("unexpected result: %#v", res.result)
		}
	default:
		t.Fatal("resultCh did not receive a terminal signal")
	}
}

// TestCorrelatorResolveIsIdempotent covers invariant 1: exactly one terminal
// signal ever fires per pending request.
func TestCorrelatorResolveIsIdempotent(t *testing.T) {
	c := newCorrelator(time.Second)
	req := c.register("client-a", 1, "Page.navigate", "", 1)

	if ok := c.resolve(req.relayID, "ok", ""); !ok {
		t.Fatalf("first resolve should succeed")
	}
	if ok := c.resolve(req.relayID, "ok-again", ""); ok {
		t.Fatalf("second resolve of the same id must be a no-op (late response)")
	}
}

// TestCorrelatorTimeout: a request that never receives a response fails
// with the fixed timeout message after its deadline.
func TestCorrelatorTimeout(t *testing.T) {
	c := newCorrelator(20 * time.Millisecond)
	req := c.register("client-a", 9, "Page.navigate", "", 1)

	select {
	case res := <-req.resultCh:
		if res.err == nil {
			t.Fatal("expected a timeout error")
		}
		want := "Extension request timeout after 20ms: Page.navigate"
		if res.err.Error() != want {
			t.Fatalf("error = %q, want %q", res.err.Error(), want)
		}
		if !errors.Is(res.err, ErrTimeout) {
			t.Fatalf("error does not classify as KindTimeout: %v", res.err)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for the correlator's own timeout")
	}
}

// TestCorrelatorLateResponseAfterTimeoutIsDropped: a response arriving after
// the timeout fired must be discarded, not delivered a second time.
func TestCorrelatorLateResponseAfterTimeoutIsDropped(t *testing.T) {
	c := newCorrelator(10 * time.Millisecond)
	req := c.register("client-a", 9, "Page.navigate", "", 1)

	<-req.resultCh // drain the timeout signal

	if ok := c.resolve(req.relayID, "late", ""); ok {
		t.Fatal("resolve after timeout should report false (already removed)")
	}
}

// TestCorrelatorCancelEpochFailsOnlyMatchingEpoch: only requests dispatched
// against the superseded epoch are failed.
func TestCorrelatorCancelEpochFailsOnlyMatchingEpoch(t *testing.T) {
	c := newCorrelator(time.Second)
	oldReq := c.register("client-a", 1, "Page.enable", "S", 1)
	newReq := c.register("client-a", 2, "Page.enable", "S", 2)

	victims := c.cancelEpoch(1)
	if len(victims) != 1 || victims[0].relayID != oldReq.relayID {
		t.Fatalf("expected exactly the epoch-1 request to be cancelled, got %#v", victims)
	}

	select {
	case res := <-oldReq.resultCh:
		if !errors.Is(res.err, ErrUpstreamGone) {
			t.Fatalf("expected upstream-gone error, got %v", res.err)
		}
	default:
		t.Fatal("old request was not signalled")
	}

	select {
	case <-newReq.resultCh:
		t.Fatal("epoch-2 request must not be cancelled by an epoch-1 supersession")
	default:
	}
}

func TestCorrelatorCancelClientDropsSilently(t *testing.T) {
	c := newCorrelator(time.Second)
	req := c.register("client-a", 1, "Page.navigate", "", 1)

	c.cancelClient("client-a")

	if ok := c.resolve(req.relayID, "ok", ""); ok {
		t.Fatal("resolve should find nothing after cancelClient removed the entry")
	}
	select {
	case <-req.resultCh:
		t.Fatal("cancelClient must not push a terminal signal; the client socket is already gone")
	default:
	}
}
