// Package authflow is the auth flow controller shared by every presentation
// surface: credential validation, the per-surface flow state machine,
// provider error normalization and the post-success navigation request.
package authflow

import (
	"sync"
	"time"
)

type Mode string

const (
	ModeLogin  Mode = "login"
	ModeSignup Mode = "signup"
)

// ParseMode returns the mode named s, defaulting to login.
func ParseMode(s string) Mode {
	if Mode(s) == ModeSignup {
		return ModeSignup
	}
	return ModeLogin
}

type Status string

const (
	StatusIdle    Status = "idle"
	StatusPending Status = "pending"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// State is a point-in-time copy of a Flow.
type State struct {
	Mode    Mode   `json:"mode"`
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
}

// Pending reports whether a submission is in flight.
func (s State) Pending() bool { return s.Status == StatusPending }

// Flow is the state of one mounted surface instance.
//
// Status is the only submission gate: idle and error accept a submission,
// pending and success do not. Once released a Flow ignores every update.
type Flow struct {
	surface string

	mu       sync.Mutex
	state    State
	released bool
	lastUsed time.Time
}

func NewFlow(surface string, mode Mode) *Flow {
	return &Flow{
		surface:  surface,
		state:    State{Mode: mode, Status: StatusIdle},
		lastUsed: time.Now(),
	}
}

func (f *Flow) Surface() string { return f.surface }

func (f *Flow) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// SetMode switches between login and signup and clears any message.
func (f *Flow) SetMode(m Mode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.gateLocked(); err != nil {
		return err
	}
	f.state.Mode = m
	f.state.Status = StatusIdle
	f.state.Message = ""
	return nil
}

// Edit records a field edit, which returns an errored flow to idle.
func (f *Flow) Edit() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.released {
		return
	}
	f.lastUsed = time.Now()
	f.clearErrorLocked()
}

// Release detaches the flow from its surface. Completions still in flight
// are discarded.
func (f *Flow) Release() {
	f.mu.Lock()
	f.released = true
	f.mu.Unlock()
}

func (f *Flow) Released() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.released
}

// begin moves the flow to pending. validate runs under the lock; a failure
// leaves the flow in error with the validation message.
func (f *Flow) begin(validate func() error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.gateLocked(); err != nil {
		return err
	}
	f.clearErrorLocked()
	if validate != nil {
		if err := validate(); err != nil {
			f.state.Status = StatusError
			f.state.Message = UserMessage(err)
			return err
		}
	}
	f.state.Status = StatusPending
	f.state.Message = ""
	return nil
}

// complete records the outcome of the in-flight submission. It reports false
// when the flow was released meanwhile.
func (f *Flow) complete(status Status, message string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.released {
		return false
	}
	f.lastUsed = time.Now()
	f.state.Status = status
	f.state.Message = message
	return true
}

func (f *Flow) gateLocked() error {
	switch {
	case f.released:
		return ErrReleased
	case f.state.Status == StatusPending:
		return ErrInFlight
	case f.state.Status == StatusSuccess:
		return ErrCompleted
	}
	f.lastUsed = time.Now()
	return nil
}

func (f *Flow) clearErrorLocked() {
	if f.state.Status == StatusError {
		f.state.Status = StatusIdle
		f.state.Message = ""
	}
}

// idle reports whether the flow has not been used since before cutoff and
// has nothing in flight.
func (f *Flow) idle(cutoff time.Time) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state.Status != StatusPending && f.lastUsed.Before(cutoff)
}
