package session

import (
	"fmt"

	"github.com/srg/roomsense/internal/gatt"
)

// Phase is the coarse session state.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseConnecting
	PhaseServiceDiscovery
	PhaseEnablingNotifications
	PhaseReady
	PhaseDisconnecting
	PhaseFailed
)

var phaseNames = [...]string{
	PhaseIdle:                  "Idle",
	PhaseConnecting:            "Connecting",
	PhaseServiceDiscovery:      "ServiceDiscovery",
	PhaseEnablingNotifications: "EnablingNotifications",
	PhaseReady:                 "Ready",
	PhaseDisconnecting:         "Disconnecting",
	PhaseFailed:                "Failed",
}

func (p Phase) String() string {
	if int(p) >= 0 && int(p) < len(phaseNames) {
		return phaseNames[p]
	}
	return fmt.Sprintf("Phase(%d)", int(p))
}

// State is a snapshot of the session state.
// RoleIndex is meaningful in PhaseEnablingNotifications; Reason in PhaseFailed.
type State struct {
	Phase     Phase
	RoleIndex int
	Reason    *Failure
}

func (s State) String() string {
	switch s.Phase {
	case PhaseEnablingNotifications:
		return fmt.Sprintf("%s(%d)", s.Phase, s.RoleIndex)
	case PhaseFailed:
		if s.Reason != nil {
			return fmt.Sprintf("%s(%s)", s.Phase, s.Reason.Describe())
		}
	}
	return s.Phase.String()
}

// Is reports whether the state is in phase p.
func (s State) Is(p Phase) bool { return s.Phase == p }

// FailureKind classifies why a session failed.
type FailureKind int

const (
	// FailureTransport is a failed connect, discovery or descriptor write.
	FailureTransport FailureKind = iota + 1
	// FailureTimeout is an operation that never completed.
	FailureTimeout
	// FailureServiceNotFound means a required service was not discovered.
	FailureServiceNotFound
	// FailureCharacteristicNotFound means a role's characteristic is absent or cannot notify.
	FailureCharacteristicNotFound
	// FailureSequencing means the peripheral broke the enablement protocol.
	FailureSequencing
)

func (k FailureKind) String() string {
	switch k {
	case FailureTransport:
		return "Transport"
	case FailureTimeout:
		return "Timeout"
	case FailureServiceNotFound:
		return "ServiceNotFound"
	case FailureCharacteristicNotFound:
		return "CharacteristicNotFound"
	case FailureSequencing:
		return "Sequencing"
	default:
		return fmt.Sprintf("FailureKind(%d)", int(k))
	}
}

// Transient reports whether the failure is transport-class. Transient
// failures return the session to Idle; protocol failures rest in Failed.
func (k FailureKind) Transient() bool {
	return k == FailureTransport || k == FailureTimeout
}

// Failure is the reason carried by a Failed state. It is also an error.
type Failure struct {
	Kind      FailureKind
	RoleIndex int         // for FailureCharacteristicNotFound
	Status    gatt.Status // transport status, when one was reported
	Message   string
	Err       error
}

// Describe renders the failure tag, e.g. "CharacteristicNotFound(1)".
func (f *Failure) Describe() string {
	if f.Kind == FailureCharacteristicNotFound {
		return fmt.Sprintf("%s(%d)", f.Kind, f.RoleIndex)
	}
	return f.Kind.String()
}

func (f *Failure) Error() string {
	msg := f.Message
	if msg == "" {
		msg = f.Describe()
	}
	if f.Err != nil {
		return fmt.Sprintf("%s: %v", msg, f.Err)
	}
	return msg
}

func (f *Failure) Unwrap() error { return f.Err }

// Is allows errors.Is to match failures by Kind.
func (f *Failure) Is(target error) bool {
	t, ok := target.(*Failure)
	return ok && t.Kind == f.Kind
}

// Sentinels for errors.Is checks against State.Reason.
var (
	ErrTransport              = &Failure{Kind: FailureTransport}
	ErrTimeout                = &Failure{Kind: FailureTimeout}
	ErrServiceNotFound        = &Failure{Kind: FailureServiceNotFound}
	ErrCharacteristicNotFound = &Failure{Kind: FailureCharacteristicNotFound}
	ErrSequencing             = &Failure{Kind: FailureSequencing}
)
