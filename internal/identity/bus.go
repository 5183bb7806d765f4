package identity

import (
	"context"
	"sync"
)

// EventKind names an identity change.
type EventKind string

const (
	// EventSnapshot is the first event of every subscription and carries
	// all live sessions.
	EventSnapshot  EventKind = "snapshot"
	EventSignedIn  EventKind = "signed_in"
	EventSignedOut EventKind = "signed_out"
	EventRefreshed EventKind = "refreshed"
)

// Event is an identity change notification. Identity is nil for sign-outs.
type Event struct {
	Kind      EventKind           `json:"kind"`
	SessionID string              `json:"session_id,omitempty"`
	Identity  *Identity           `json:"identity,omitempty"`
	Sessions  map[string]Identity `json:"sessions,omitempty"`
}

// Subscription is a live feed of events. C is closed after Unsubscribe.
type Subscription struct {
	C    <-chan Event
	stop func()
	once sync.Once
}

// NewSubscription wraps c; stop is called once, on the first Unsubscribe,
// and must lead to c being closed.
func NewSubscription(c <-chan Event, stop func()) *Subscription {
	return &Subscription{C: c, stop: stop}
}

// Unsubscribe stops delivery and releases the subscription. It is safe to
// call more than once.
func (s *Subscription) Unsubscribe() {
	s.once.Do(s.stop)
}

// Bus fans identity events out to subscribers.
type Bus interface {
	Publish(ctx context.Context, e Event) error
	Subscribe() *Subscription
}

// Hub is the in-process Bus. Publish blocks until every subscriber has
// accepted the event, unsubscribed, or ctx is done.
type Hub struct {
	mu   sync.RWMutex
	subs map[*hubSub]struct{}
}

type hubSub struct {
	ch   chan Event
	done chan struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[*hubSub]struct{})}
}

func (h *Hub) Publish(ctx context.Context, e Event) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.subs {
		select {
		case s.ch <- e:
		case <-s.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (h *Hub) Subscribe() *Subscription {
	s := &hubSub{ch: make(chan Event, 16), done: make(chan struct{})}
	h.mu.Lock()
	h.subs[s] = struct{}{}
	h.mu.Unlock()

	return NewSubscription(s.ch, func() {
		// done unblocks in-flight publishers before the write lock is taken;
		// the channel is closed only once no publisher can hold it.
		close(s.done)
		h.mu.Lock()
		delete(h.subs, s)
		close(s.ch)
		h.mu.Unlock()
	})
}

// subscribeWithSnapshot subscribes to bus and emits the snapshot returned by
// load before any live event. The bus subscription is taken first so no
// change between the two is lost; replays are idempotent for the projection.
func subscribeWithSnapshot(ctx context.Context, bus Bus, load func(context.Context) (map[string]Identity, error)) (*Subscription, error) {
	inner := bus.Subscribe()
	sessions, err := load(ctx)
	if err != nil {
		inner.Unsubscribe()
		return nil, err
	}

	out := make(chan Event, 1)
	done := make(chan struct{})
	go func() {
		defer close(out)
		select {
		case out <- Event{Kind: EventSnapshot, Sessions: sessions}:
		case <-done:
			return
		}
		for {
			select {
			case e, ok := <-inner.C:
				if !ok {
					return
				}
				select {
				case out <- e:
				case <-done:
					return
				}
			case <-done:
				return
			}
		}
	}()

	return NewSubscription(out, func() {
		close(done)
		inner.Unsubscribe()
	}), nil
}
