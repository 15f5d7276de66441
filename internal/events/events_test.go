package events

import (
	"context"
	"testing"
	"time"
)

func TestSubscribeReceivesEmittedValue(t *testing.T) {
	s := NewSubject(WithSyncDelivery(), WithBufferSize(8))
	defer Complete(s)

	received := make(chan string, 1)
	sub := Subscribe[string](s, "topic.a", func(_ context.Context, msg string) error {
		received <- msg
		return nil
	})
	defer sub.Unsubscribe()

	if err := Emit(s, "topic.a", "hello"); err != nil {
		t.Fatalf("emit failed: %v", err)
	}

	select {
	case msg := <-received:
		if msg != "hello" {
			t.Fatalf("got %q, want %q", msg, "hello")
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber did not receive the emitted value")
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	s := NewSubject(WithSyncDelivery(), WithBufferSize(8))
	defer Complete(s)

	received := make(chan string, 1)
	sub := Subscribe[string](s, "topic.b", func(_ context.Context, msg string) error {
		received <- msg
		return nil
	})
	sub.Unsubscribe()

	if err := Emit(s, "topic.b", "should not arrive"); err != nil {
		t.Fatalf("emit failed: %v", err)
	}

	select {
	case msg := <-received:
		t.Fatalf("unsubscribed handler received %q", msg)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestTopicIsolation(t *testing.T) {
	s := NewSubject(WithSyncDelivery(), WithBufferSize(8))
	defer Complete(s)

	var aCount, bCount int
	subA := Subscribe[string](s, "topic.a", func(_ context.Context, _ string) error { aCount++; return nil })
	subB := Subscribe[string](s, "topic.b", func(_ context.Context, _ string) error { bCount++; return nil })
	defer subA.Unsubscribe()
	defer subB.Unsubscribe()

	_ = Emit(s, "topic.a", "x")
	time.Sleep(20 * time.Millisecond)

	if aCount != 1 || bCount != 0 {
		t.Fatalf("cross-topic delivery: aCount=%d bCount=%d", aCount, bCount)
	}
}

func TestClientTopicIsPerClient(t *testing.T) {
	if ClientTopic("a") == ClientTopic("b") {
		t.Fatal("different client ids must map to different topics")
	}
}
