package session

import (
	"fmt"

	"github.com/srg/roomsense/internal/codec"
	"github.com/srg/roomsense/internal/profile"
)

// Sink consumes session output. Calls for one session are delivered in order
// from a single goroutine, never under the session lock, so a sink may call
// back into the session.
type Sink interface {
	OnSessionStateChanged(state State, message string)
	OnReadingDecoded(role profile.Role, reading codec.Reading, index uint64)
	OnDiagnostic(d Diagnostic)
}

// DiagnosticKind classifies a diagnostic.
type DiagnosticKind int

const (
	// DiagDecode is a payload that failed to decode and was dropped.
	DiagDecode DiagnosticKind = iota + 1
	// DiagUnrecognized is a notification from a characteristic outside the role table.
	DiagUnrecognized
	// DiagSequencing is an event that arrived out of protocol order and was ignored.
	DiagSequencing
	// DiagTransport is a transport problem that did not change the session state.
	DiagTransport
)

func (k DiagnosticKind) String() string {
	switch k {
	case DiagDecode:
		return "decode"
	case DiagUnrecognized:
		return "unrecognized"
	case DiagSequencing:
		return "sequencing"
	case DiagTransport:
		return "transport"
	default:
		return fmt.Sprintf("diagnostic(%d)", int(k))
	}
}

// Diagnostic is a non-fatal observation. Role is zero when no role applies.
type Diagnostic struct {
	Kind           DiagnosticKind
	Role           profile.Role
	Characteristic string
	Message        string
	Err            error
}

func (d Diagnostic) String() string {
	if d.Err != nil {
		return fmt.Sprintf("%s: %s: %v", d.Kind, d.Message, d.Err)
	}
	return fmt.Sprintf("%s: %s", d.Kind, d.Message)
}

// NopSink discards everything.
type NopSink struct{}

func (NopSink) OnSessionStateChanged(State, string) {}
func (NopSink) OnReadingDecoded(profile.Role, codec.Reading, uint64) {}
func (NopSink) OnDiagnostic(Diagnostic) {}
