//go:build test

package testutils

import (
	"sync"

	"github.com/srg/roomsense/internal/codec"
	"github.com/srg/roomsense/internal/profile"
	"github.com/srg/roomsense/internal/session"
)

// StateChange is one recorded OnSessionStateChanged call
type StateChange struct {
	State   session.State
	Message string
}

// ReadingEvent is one recorded OnReadingDecoded call
type ReadingEvent struct {
	Role    profile.Role
	Reading codec.Reading
	Index   uint64
}

// RecordingSink records every sink call for later assertions. Safe for concurrent use.
type RecordingSink struct {
	mu          sync.Mutex
	states      []StateChange
	readings    []ReadingEvent
	diagnostics []session.Diagnostic

	// OnState, when set, runs after each recorded state change (outside the lock).
	OnState func(session.State)
}

func NewRecordingSink() *RecordingSink {
	return &RecordingSink{}
}

func (r *RecordingSink) OnSessionStateChanged(state session.State, message string) {
	r.mu.Lock()
	r.states = append(r.states, StateChange{State: state, Message: message})
	hook := r.OnState
	r.mu.Unlock()
	if hook != nil {
		hook(state)
	}
}

func (r *RecordingSink) OnReadingDecoded(role profile.Role, reading codec.Reading, index uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.readings = append(r.readings, ReadingEvent{Role: role, Reading: reading, Index: index})
}

func (r *RecordingSink) OnDiagnostic(d session.Diagnostic) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.diagnostics = append(r.diagnostics, d)
}

// States returns a copy of the recorded state changes
func (r *RecordingSink) States() []StateChange {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]StateChange(nil), r.states...)
}

// Phases returns the recorded state strings, e.g. "EnablingNotifications(1)"
func (r *RecordingSink) Phases() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.states))
	for i, s := range r.states {
		out[i] = s.State.String()
	}
	return out
}

// Readings returns a copy of the recorded readings
func (r *RecordingSink) Readings() []ReadingEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ReadingEvent(nil), r.readings...)
}

// Diagnostics returns a copy of the recorded diagnostics
func (r *RecordingSink) Diagnostics() []session.Diagnostic {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]session.Diagnostic(nil), r.diagnostics...)
}

// DiagnosticsOf returns the recorded diagnostics of one kind
func (r *RecordingSink) DiagnosticsOf(kind session.DiagnosticKind) []session.Diagnostic {
	var out []session.Diagnostic
	for _, d := range r.Diagnostics() {
		if d.Kind == kind {
			out = append(out, d)
		}
	}
	return out
}

// Reset forgets everything recorded so far
func (r *RecordingSink) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states, r.readings, r.diagnostics = nil, nil, nil
}
