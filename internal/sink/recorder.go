package sink

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hedzr/go-ringbuf/v2/mpmc"

	"github.com/srg/roomsense/internal/codec"
	"github.com/srg/roomsense/internal/profile"
	"github.com/srg/roomsense/internal/session"
)

// EventType tags a recorded notification.
type EventType int

const (
	EventState EventType = iota + 1
	EventReading
	EventDiagnostic
)

func (t EventType) String() string {
	switch t {
	case EventState:
		return "state"
	case EventReading:
		return "reading"
	case EventDiagnostic:
		return "diagnostic"
	default:
		return fmt.Sprintf("EventType(%d)", int(t))
	}
}

// Event is one recorded notification. Only the fields of its Type are set.
type Event struct {
	Type EventType
	Time time.Time

	State   session.State
	Message string

	Role    profile.Role
	Reading codec.Reading
	Index   uint64

	Diagnostic session.Diagnostic
}

// MaxRecorderSize caps the ring size.
const MaxRecorderSize uint32 = 64 * 1024

// Recorder keeps the most recent notifications in an overlapped ring buffer.
// When full, the oldest event is overwritten.
type Recorder struct {
	buffer mpmc.RichOverlappedRingBuffer[Event]

	// mu serializes Drain so two readers never split one history.
	mu sync.Mutex

	recorded    int64
	overwritten int64

	now func() time.Time
}

// NewRecorder creates a recorder holding about size events. The ring
// implementation may round the size to a power of two.
func NewRecorder(size uint32) (*Recorder, error) {
	if size == 0 {
		return nil, fmt.Errorf("recorder size must be > 0")
	}
	if size > MaxRecorderSize {
		return nil, fmt.Errorf("recorder size %d exceeds maximum %d", size, MaxRecorderSize)
	}
	return &Recorder{
		buffer: mpmc.NewOverlappedRingBuffer[Event](size),
		now:    time.Now,
	}, nil
}

func (r *Recorder) record(ev Event) {
	ev.Time = r.now()
	overwrites, err := r.buffer.EnqueueM(ev)
	if err != nil {
		return
	}
	atomic.AddInt64(&r.recorded, 1)
	atomic.AddInt64(&r.overwritten, int64(overwrites))
}

func (r *Recorder) OnSessionStateChanged(state session.State, message string) {
	r.record(Event{Type: EventState, State: state, Message: message})
}

func (r *Recorder) OnReadingDecoded(role profile.Role, reading codec.Reading, index uint64) {
	r.record(Event{Type: EventReading, Role: role, Reading: reading, Index: index})
}

func (r *Recorder) OnDiagnostic(d session.Diagnostic) {
	r.record(Event{Type: EventDiagnostic, Diagnostic: d, Message: d.Message})
}

// Drain removes and returns the buffered events, oldest first.
func (r *Recorder) Drain() ([]Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Event
	for !r.buffer.IsEmpty() {
		ev, err := r.buffer.Dequeue()
		if err != nil {
			return out, fmt.Errorf("recorder dequeue: %w", err)
		}
		out = append(out, ev)
	}
	return out, nil
}

// Recorded is the total number of events accepted.
func (r *Recorder) Recorded() int64 { return atomic.LoadInt64(&r.recorded) }

// Overwritten is the number of events lost to overflow.
func (r *Recorder) Overwritten() int64 { return atomic.LoadInt64(&r.overwritten) }

var _ session.Sink = (*Recorder)(nil)
