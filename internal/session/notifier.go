package session

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/srg/roomsense/internal/codec"
	"github.com/srg/roomsense/internal/groutine"
	"github.com/srg/roomsense/internal/profile"
)

type notification struct {
	deliver func(Sink)
	reading bool
}

// notifier queues sink calls and delivers them in order from one goroutine.
// It implements Sink so the session and router can enqueue without blocking.
//
// Only readings are bounded: once maxReadings are waiting, the oldest queued
// reading is dropped. State changes and diagnostics always get through.
type notifier struct {
	sink        Sink
	maxReadings int
	logger      *logrus.Logger

	mu       sync.Mutex
	queue    []notification
	readings int
	dropped  uint64
	closed   bool

	wake chan struct{}
	done chan struct{}
}

func newNotifier(sink Sink, maxReadings int, logger *logrus.Logger) *notifier {
	n := &notifier{
		sink:        sink,
		maxReadings: maxReadings,
		logger:      logger,
		wake:        make(chan struct{}, 1),
		done:        make(chan struct{}),
	}
	groutine.Go(context.Background(), "session-notifier", n.run)
	return n
}

func (n *notifier) run(context.Context) {
	defer close(n.done)
	for {
		n.mu.Lock()
		for len(n.queue) == 0 && !n.closed {
			n.mu.Unlock()
			<-n.wake
			n.mu.Lock()
		}
		batch := n.queue
		n.queue = nil
		n.readings = 0
		closed := n.closed
		n.mu.Unlock()

		for _, item := range batch {
			item.deliver(n.sink)
		}
		if closed && len(batch) == 0 {
			return
		}
	}
}

func (n *notifier) enqueue(item notification) bool {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return false
	}
	dropped := false
	if item.reading && n.readings >= n.maxReadings {
		n.dropOldestReadingLocked()
		dropped = true
	}
	n.queue = append(n.queue, item)
	if item.reading {
		n.readings++
	}
	total := n.dropped
	n.mu.Unlock()

	select {
	case n.wake <- struct{}{}:
	default:
	}

	if dropped {
		n.logger.WithFields(logrus.Fields{
			"queue_size": n.maxReadings,
			"dropped":    total,
		}).Warn("Sink is falling behind, dropped oldest reading")
	}
	return true
}

func (n *notifier) dropOldestReadingLocked() {
	for i, item := range n.queue {
		if item.reading {
			n.queue = append(n.queue[:i], n.queue[i+1:]...)
			n.readings--
			n.dropped++
			return
		}
	}
}

func (n *notifier) droppedReadings() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.dropped
}

func (n *notifier) OnSessionStateChanged(state State, message string) {
	n.enqueue(notification{deliver: func(s Sink) { s.OnSessionStateChanged(state, message) }})
}

func (n *notifier) OnReadingDecoded(role profile.Role, reading codec.Reading, index uint64) {
	n.enqueue(notification{deliver: func(s Sink) { s.OnReadingDecoded(role, reading, index) }, reading: true})
}

func (n *notifier) OnDiagnostic(d Diagnostic) {
	n.enqueue(notification{deliver: func(s Sink) { s.OnDiagnostic(d) }})
}

// flush blocks until everything queued before the call has been delivered.
// It must not be called from inside a sink callback.
func (n *notifier) flush() {
	marker := make(chan struct{})
	if !n.enqueue(notification{deliver: func(Sink) { close(marker) }}) {
		<-n.done
		return
	}
	select {
	case <-marker:
	case <-n.done:
	}
}

// close delivers what is queued and stops the dispatcher.
func (n *notifier) close() {
	n.mu.Lock()
	n.closed = true
	n.mu.Unlock()
	select {
	case n.wake <- struct{}{}:
	default:
	}
	<-n.done
}
