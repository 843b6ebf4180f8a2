package sink

import (
	"github.com/srg/roomsense/internal/codec"
	"github.com/srg/roomsense/internal/profile"
	"github.com/srg/roomsense/internal/session"
)

// Multi forwards every notification to each sink in order.
type Multi []session.Sink

// NewMulti drops nil sinks.
func NewMulti(sinks ...session.Sink) Multi {
	out := make(Multi, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

func (m Multi) OnSessionStateChanged(state session.State, message string) {
	for _, s := range m {
		s.OnSessionStateChanged(state, message)
	}
}

func (m Multi) OnReadingDecoded(role profile.Role, reading codec.Reading, index uint64) {
	for _, s := range m {
		s.OnReadingDecoded(role, reading, index)
	}
}

func (m Multi) OnDiagnostic(d session.Diagnostic) {
	for _, s := range m {
		s.OnDiagnostic(d)
	}
}
