package authflow

import (
	"sync"
	"time"
)

// Navigator carries out the post-success route change: go to `to` once
// `after` has elapsed. Each surface renders it its own way.
type Navigator interface {
	Navigate(to string, after time.Duration)
}

// NavigatorFunc adapts a function to Navigator.
type NavigatorFunc func(to string, after time.Duration)

func (f NavigatorFunc) Navigate(to string, after time.Duration) { f(to, after) }

// Navigation is a requested route change.
type Navigation struct {
	To    string        `json:"to"`
	After time.Duration `json:"-"`
}

// Recorder is a Navigator that keeps the last request for the caller to
// render later.
type Recorder struct {
	mu  sync.Mutex
	nav *Navigation
}

func (r *Recorder) Navigate(to string, after time.Duration) {
	r.mu.Lock()
	r.nav = &Navigation{To: to, After: after}
	r.mu.Unlock()
}

// Requested returns the last navigation, or nil.
func (r *Recorder) Requested() *Navigation {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.nav
}
