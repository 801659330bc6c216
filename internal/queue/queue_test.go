package queue

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestInMemoryPublishConsume(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := NewInMemory(4)
	if err := q.Publish(ctx, CheckInMessage("C1")); err != nil {
		t.Fatalf("publish: %v", err)
	}

	msgs, err := q.Consume(ctx)
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	select {
	case msg := <-msgs:
		if msg.Type != "checkin" || string(msg.Body) != "C1" {
			t.Errorf("unexpected message: %+v", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func TestInMemoryPublishFullBuffer(t *testing.T) {
	ctx := context.Background()
	q := NewInMemory(1)
	if err := q.Publish(ctx, CheckInMessage("C1")); err != nil {
		t.Fatalf("publish: %v", err)
	}

	// No consumer is running; the second publish must drop, not block.
	done := make(chan error, 1)
	go func() { done <- q.Publish(ctx, CheckInMessage("C2")) }()
	select {
	case err := <-done:
		if !errors.Is(err, ErrFull) {
			t.Errorf("expected ErrFull, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full buffer")
	}
}

func TestSerializeRoundtrip(t *testing.T) {
	msg := Message{Type: "checkin", Body: []byte("class|with|pipes")}
	got := deserialize(serialize(msg))
	if got.Type != msg.Type || string(got.Body) != string(msg.Body) {
		t.Errorf("roundtrip mismatch: %+v", got)
	}
}

func TestDeserializeNoType(t *testing.T) {
	got := deserialize("bare-body")
	if got.Type != "" || string(got.Body) != "bare-body" {
		t.Errorf("unexpected message: %+v", got)
	}
}
