package codec

import (
	"fmt"
)

// ErrorKind classifies a decode failure.
type ErrorKind int

const (
	// TooShort means the buffer is below the layout's minimum length.
	TooShort ErrorKind = iota + 1
	// UnknownWidth means a width-dispatched layout got an unsupported length.
	UnknownWidth
	// UnknownLayout means the layout is not known to this codec.
	UnknownLayout
	// Mismatch means a reading was encoded with a layout of another kind.
	Mismatch
)

func (k ErrorKind) String() string {
	switch k {
	case TooShort:
		return "too short"
	case UnknownWidth:
		return "unknown width"
	case UnknownLayout:
		return "unknown layout"
	case Mismatch:
		return "reading mismatch"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// DecodeError is returned for payloads that cannot be turned into a reading.
type DecodeError struct {
	Kind   ErrorKind
	Layout Layout
	Name   string // layout name as given, for UnknownLayout from ParseLayout
	Need   int
	Got    int
}

func (e *DecodeError) Error() string {
	switch e.Kind {
	case TooShort:
		return fmt.Sprintf("%s: payload too short: need %d bytes, got %d", e.Layout, e.Need, e.Got)
	case UnknownWidth:
		return fmt.Sprintf("%s: unknown width %d (want 1, 2 or 4 bytes)", e.Layout, e.Got)
	case UnknownLayout:
		if e.Name != "" {
			return fmt.Sprintf("unknown layout %q", e.Name)
		}
		return fmt.Sprintf("unknown layout %s", e.Layout)
	case Mismatch:
		return fmt.Sprintf("%s: cannot encode reading of kind %q", e.Layout, e.Name)
	default:
		return fmt.Sprintf("%s: %s", e.Layout, e.Kind)
	}
}

// Is allows errors.Is to compare DecodeError values by Kind
func (e *DecodeError) Is(target error) bool {
	t, ok := target.(*DecodeError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Sentinels for errors.Is checks.
var (
	ErrTooShort      = &DecodeError{Kind: TooShort}
	ErrUnknownWidth  = &DecodeError{Kind: UnknownWidth}
	ErrUnknownLayout = &DecodeError{Kind: UnknownLayout}
	ErrMismatch      = &DecodeError{Kind: Mismatch}
)
