// Package session keeps the application's read-only view of who is signed
// in. It is a projection of the identity provider's change notifications;
// nothing else writes to it.
package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/joestump/vetric/internal/identity"
	"github.com/joestump/vetric/internal/metrics"
)

// Source is where the projection's notifications come from.
type Source interface {
	Subscribe(ctx context.Context) (*identity.Subscription, error)
}

// View is what a request sees of its session. While Loading is true the
// projection has not received its first notification and Identity is
// always nil.
type View struct {
	Identity *identity.Identity
	Loading  bool
}

// Authenticated reports whether the view carries an identity.
func (v View) Authenticated() bool { return v.Identity != nil }

// Store is the session projection. Open it once at startup and Close it on
// shutdown.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]identity.Identity
	loaded   bool

	sub   *identity.Subscription
	ready chan struct{}
	done  chan struct{}
}

// Open subscribes to src and starts applying notifications.
func Open(ctx context.Context, src Source) (*Store, error) {
	sub, err := src.Subscribe(ctx)
	if err != nil {
		return nil, fmt.Errorf("subscribe to identity changes: %w", err)
	}
	s := &Store{
		sessions: make(map[string]identity.Identity),
		sub:      sub,
		ready:    make(chan struct{}),
		done:     make(chan struct{}),
	}
	go s.run()
	return s, nil
}

// Lookup returns the view for a provider session handle.
func (s *Store) Lookup(sessionID string) View {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.loaded {
		return View{Loading: true}
	}
	if sessionID == "" {
		return View{}
	}
	ident, ok := s.sessions[sessionID]
	if !ok {
		return View{}
	}
	return View{Identity: &ident}
}

// Ready is closed once the first notification has been applied.
func (s *Store) Ready() <-chan struct{} { return s.ready }

// Len returns the number of live sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Close unsubscribes and waits for the projection to stop.
func (s *Store) Close() {
	s.sub.Unsubscribe()
	<-s.done
}

func (s *Store) run() {
	defer close(s.done)
	for e := range s.sub.C {
		s.apply(e)
	}
}

func (s *Store) apply(e identity.Event) {
	s.mu.Lock()
	switch e.Kind {
	case identity.EventSnapshot:
		s.sessions = make(map[string]identity.Identity, len(e.Sessions))
		for id, ident := range e.Sessions {
			s.sessions[id] = ident
		}
	case identity.EventSignedIn, identity.EventRefreshed:
		if e.Identity != nil {
			s.sessions[e.SessionID] = *e.Identity
		}
	case identity.EventSignedOut:
		delete(s.sessions, e.SessionID)
	}
	first := !s.loaded
	s.loaded = true
	n := len(s.sessions)
	s.mu.Unlock()

	metrics.IdentityEventsTotal.WithLabelValues(string(e.Kind)).Inc()
	metrics.SessionsActive.Set(float64(n))
	if first {
		close(s.ready)
	}
}
