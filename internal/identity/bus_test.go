package identity

import (
	"context"
	"errors"
	"testing"
	"time"
)

func recv(t *testing.T, sub *Subscription) Event {
	t.Helper()
	select {
	case e, ok := <-sub.C:
		if !ok {
			t.Fatal("subscription closed")
		}
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return Event{}
}

func TestHub_PublishFanOut(t *testing.T) {
	hub := NewHub()
	a, b := hub.Subscribe(), hub.Subscribe()
	defer a.Unsubscribe()
	defer b.Unsubscribe()

	ident := Identity{ID: "u1", Email: "a@example.com"}
	if err := hub.Publish(context.Background(), Event{Kind: EventSignedIn, SessionID: "s1", Identity: &ident}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	for _, sub := range []*Subscription{a, b} {
		e := recv(t, sub)
		if e.Kind != EventSignedIn || e.SessionID != "s1" {
			t.Errorf("event = %+v, want signed_in s1", e)
		}
	}
}

func TestHub_UnsubscribeClosesChannel(t *testing.T) {
	hub := NewHub()
	sub := hub.Subscribe()
	sub.Unsubscribe()
	sub.Unsubscribe()

	if _, ok := <-sub.C; ok {
		t.Error("channel still open after Unsubscribe")
	}
	if err := hub.Publish(context.Background(), Event{Kind: EventSignedOut, SessionID: "s1"}); err != nil {
		t.Errorf("Publish after Unsubscribe: %v", err)
	}
}

func TestHub_PublishHonoursContext(t *testing.T) {
	hub := NewHub()
	sub := hub.Subscribe()
	defer sub.Unsubscribe()

	// Fill the buffer so the next publish has to wait.
	for i := 0; i < cap(sub.C); i++ {
		if err := hub.Publish(context.Background(), Event{Kind: EventRefreshed}); err != nil {
			t.Fatalf("Publish %d: %v", i, err)
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := hub.Publish(ctx, Event{Kind: EventRefreshed}); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Publish on full subscriber err = %v, want DeadlineExceeded", err)
	}
}

func TestSubscribeWithSnapshot_SnapshotFirst(t *testing.T) {
	hub := NewHub()
	snapshot := map[string]Identity{"s1": {ID: "u1", Email: "a@example.com"}}
	sub, err := subscribeWithSnapshot(context.Background(), hub, func(context.Context) (map[string]Identity, error) {
		return snapshot, nil
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	if err := hub.Publish(context.Background(), Event{Kind: EventSignedOut, SessionID: "s1"}); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	first := recv(t, sub)
	if first.Kind != EventSnapshot || len(first.Sessions) != 1 {
		t.Fatalf("first event = %+v, want snapshot with 1 session", first)
	}
	second := recv(t, sub)
	if second.Kind != EventSignedOut {
		t.Errorf("second event = %+v, want signed_out", second)
	}
}

func TestSubscribeWithSnapshot_LoadError(t *testing.T) {
	hub := NewHub()
	_, err := subscribeWithSnapshot(context.Background(), hub, func(context.Context) (map[string]Identity, error) {
		return nil, errors.New("db down")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	hub.mu.RLock()
	n := len(hub.subs)
	hub.mu.RUnlock()
	if n != 0 {
		t.Errorf("hub has %d subscribers after failed subscribe, want 0", n)
	}
}
