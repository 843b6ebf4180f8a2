package gatt

import "fmt"

// Status is the completion status reported with an event.
// Values follow the GATT status codes used by common platform stacks.
type Status int

const (
	StatusSuccess             Status = 0x00
	StatusReadNotPermitted    Status = 0x02
	StatusWriteNotPermitted   Status = 0x03
	StatusInsufficientAuth    Status = 0x05
	StatusRequestNotSupported Status = 0x06
	StatusInvalidOffset       Status = 0x07
	StatusConnectionTimeout   Status = 0x08
	StatusRemoteTerminated    Status = 0x13
	StatusLocalTerminated     Status = 0x16
	StatusConnectionFailed    Status = 0x3e
	StatusError               Status = 0x85
	StatusFailure             Status = 0x101
)

var statusNames = map[Status]string{
	StatusSuccess:             "success",
	StatusReadNotPermitted:    "read not permitted",
	StatusWriteNotPermitted:   "write not permitted",
	StatusInsufficientAuth:    "insufficient authentication",
	StatusRequestNotSupported: "request not supported",
	StatusInvalidOffset:       "invalid offset",
	StatusConnectionTimeout:   "connection timeout",
	StatusRemoteTerminated:    "terminated by peer",
	StatusLocalTerminated:     "terminated locally",
	StatusConnectionFailed:    "connection failed to establish",
	StatusError:               "gatt error",
	StatusFailure:             "gatt failure",
}

// OK reports whether s is StatusSuccess.
func (s Status) OK() bool { return s == StatusSuccess }

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return fmt.Sprintf("%s (0x%02x)", name, int(s))
	}
	return fmt.Sprintf("status 0x%02x", int(s))
}
