// Package session drives one BLE peripheral connection through the sensor
// handshake: connect, settle, discover services, enable notifications role by
// role, then stream decoded readings.
//
// All transport completions enter through a single apply path and transitions
// run under one mutex. Transport requests are fire-and-forget: they are queued
// while the mutex is held and issued after it is released, so a transport may
// complete a request by calling the handler before the request returns.
package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/srg/roomsense/internal/device"
	"github.com/srg/roomsense/internal/gatt"
	"github.com/srg/roomsense/internal/profile"
)

// ErrSessionBusy is returned by Connect outside Idle and Failed.
var ErrSessionBusy = device.ErrBusy

// ErrClosed is returned after Close.
var ErrClosed = errors.New("session closed")

// Config holds the timing and role table of a session.
type Config struct {
	Profile profile.Profile
	// ConnectTimeout bounds Connecting. Zero disables it.
	ConnectTimeout time.Duration
	// OperationTimeout bounds each discovery, descriptor write and teardown. Zero disables it.
	OperationTimeout time.Duration
	// ConnectSettle delays discovery after the link comes up. Zero means immediately.
	ConnectSettle time.Duration
	// QueueSize is the reading backlog before the oldest queued readings are
	// dropped. State changes and diagnostics are never dropped.
	QueueSize int
	// MaxIgnoredAcks is how many out-of-order descriptor acks one role
	// tolerates before the session fails with Sequencing. Zero disables it.
	MaxIgnoredAcks int
}

// DefaultConfig returns the timing the sensor firmware needs.
func DefaultConfig(p profile.Profile) Config {
	return Config{
		Profile:          p,
		ConnectTimeout:   15 * time.Second,
		OperationTimeout: 10 * time.Second,
		ConnectSettle:    600 * time.Millisecond,
		QueueSize:        256,
		MaxIgnoredAcks:   8,
	}
}

// Session is one connection attempt at a time to one peripheral. It
// exclusively owns the gatt.Link it opens.
type Session struct {
	mu sync.Mutex

	cfg    Config
	dialer gatt.Dialer
	router *Router
	out    *notifier
	logger *logrus.Logger

	state      State
	peripheral device.Peripheral
	link       gatt.Link
	gen        uint64 // bumped per Connect; events from older links are dropped

	timer    *time.Timer
	timerSeq uint64

	// dialing is set while Dial runs; events of the new link are held in early
	// until Dial has returned it.
	dialing bool
	early   []gatt.Event

	discovering bool
	services    []gatt.Service
	inFlight    gatt.DescriptorID
	acked       int
	ignoredAcks int

	// pending holds transport requests issued by unlock.
	pending []func()

	closed bool
}

// New creates an idle session. The profile must be normalized and valid.
func New(dialer gatt.Dialer, sink Sink, cfg Config, logger *logrus.Logger) (*Session, error) {
	if dialer == nil {
		return nil, errors.New("session: dialer is required")
	}
	if err := cfg.Profile.Validate(); err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.PanicLevel)
	}
	if sink == nil {
		sink = NopSink{}
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}

	out := newNotifier(sink, cfg.QueueSize, logger)
	return &Session{
		cfg:    cfg,
		dialer: dialer,
		router: NewRouter(cfg.Profile, out, logger),
		out:    out,
		logger: logger,
		state:  State{Phase: PhaseIdle},
	}, nil
}

// State returns a snapshot of the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Peripheral returns the peripheral of the current or last attempt.
func (s *Session) Peripheral() (device.Peripheral, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peripheral, s.peripheral.Address != ""
}

// Profile returns the role table the session enables.
func (s *Session) Profile() profile.Profile {
	return s.cfg.Profile
}

// Connect starts a new attempt to p. It is accepted from Idle and Failed and
// returns ErrSessionBusy otherwise, leaving the running attempt untouched.
func (s *Session) Connect(p device.Peripheral) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.state.Phase != PhaseIdle && s.state.Phase != PhaseFailed {
		err := &device.ConnectionError{State: device.Busy, Msg: fmt.Sprintf("in %s with %s", s.state, s.peripheral.Address)}
		s.mu.Unlock()
		return err
	}

	s.teardownLinkLocked(true)

	s.gen++
	gen := s.gen
	s.peripheral = p
	s.services = nil
	s.discovering = false
	s.acked = 0
	s.dialing = true
	s.early = nil
	s.router.Reset()

	s.setStateLocked(State{Phase: PhaseConnecting}, fmt.Sprintf("connecting to %s", p.DisplayName()))
	s.unlock()

	link, err := s.dialer.Dial(p, func(ev gatt.Event) { s.apply(gen, ev) })

	s.mu.Lock()
	defer s.unlock()

	if gen != s.gen || !s.dialing {
		// Disconnect or Close ended the attempt while Dial ran.
		if link != nil {
			s.pending = append(s.pending, func() {
				_ = link.Disconnect()
				link.Release()
			})
		}
		if s.closed {
			return ErrClosed
		}
		return nil
	}
	s.dialing = false
	early := s.early
	s.early = nil

	if err != nil {
		err = fmt.Errorf("dial %s: %w", p.Address, err)
		s.failLocked(&Failure{Kind: FailureTransport, Message: "connection failed", Err: err})
		return err
	}
	s.link = link

	if s.cfg.ConnectTimeout > 0 {
		timeout := s.cfg.ConnectTimeout
		s.armLocked(timeout, func() {
			s.failLocked(&Failure{
				Kind:    FailureTimeout,
				Message: fmt.Sprintf("no connection callback within %s", timeout),
			})
		})
	}

	for _, ev := range early {
		if gen != s.gen || s.link == nil {
			break
		}
		s.handleLocked(ev)
	}
	return nil
}

// Disconnect tears the current attempt down. It is safe from any state and
// idempotent: from Idle it does nothing, from Failed it returns to Idle.
func (s *Session) Disconnect() error {
	s.mu.Lock()
	defer s.unlock()

	switch s.state.Phase {
	case PhaseIdle, PhaseDisconnecting:
		return nil
	case PhaseFailed:
		s.teardownLinkLocked(false)
		s.setStateLocked(State{Phase: PhaseIdle}, "idle")
		return nil
	}

	if s.dialing {
		s.abortDialLocked()
		s.finishTeardownLocked("disconnected")
		return nil
	}

	s.stopTimerLocked()
	s.setStateLocked(State{Phase: PhaseDisconnecting}, fmt.Sprintf("disconnecting from %s", s.peripheral.DisplayName()))

	link, gen := s.link, s.gen
	s.pending = append(s.pending, func() {
		err := link.Disconnect()
		if err == nil {
			return
		}
		s.mu.Lock()
		defer s.unlock()
		if gen != s.gen || s.link == nil || s.state.Phase != PhaseDisconnecting {
			return
		}
		s.logger.WithFields(logrus.Fields{
			"address": s.peripheral.Address,
			"error":   err,
		}).Debug("Disconnect request failed, releasing link")
		s.out.OnDiagnostic(Diagnostic{Kind: DiagTransport, Message: "disconnect request failed, link released", Err: err})
		s.finishTeardownLocked("disconnected")
	})

	if s.cfg.OperationTimeout > 0 {
		s.armLocked(s.cfg.OperationTimeout, func() {
			s.logger.WithField("address", s.peripheral.Address).Warn("Teardown did not complete, forcing release")
			s.finishTeardownLocked("disconnected (forced)")
		})
	}
	return nil
}

// Apply feeds one transport event to the session as if it came from the current link.
func (s *Session) Apply(ev gatt.Event) {
	s.mu.Lock()
	gen := s.gen
	s.mu.Unlock()
	s.apply(gen, ev)
}

// Flush blocks until every sink notification queued so far has been delivered.
// It must not be called from a sink callback.
func (s *Session) Flush() {
	s.out.flush()
}

// DroppedReadings returns how many readings were dropped because the sink fell behind.
func (s *Session) DroppedReadings() uint64 {
	return s.out.droppedReadings()
}

// Close releases any link, returns to Idle and stops the notification
// dispatcher after delivering what is queued.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	if s.dialing {
		s.abortDialLocked()
	}
	if s.link != nil {
		s.stopTimerLocked()
		link := s.link
		s.pending = append(s.pending, func() {
			if err := link.Disconnect(); err != nil {
				s.logger.WithField("error", err).Debug("Disconnect on close failed")
				s.out.OnDiagnostic(Diagnostic{Kind: DiagTransport, Message: "disconnect on close failed", Err: err})
			}
		})
		s.finishTeardownLocked("closed")
	} else if s.state.Phase != PhaseIdle {
		s.setStateLocked(State{Phase: PhaseIdle}, "closed")
	}
	s.unlock()

	s.out.close()
}

// unlock releases the lock and then issues the transport requests queued
// while it was held, in order.
func (s *Session) unlock() {
	ops := s.pending
	s.pending = nil
	s.mu.Unlock()
	for _, op := range ops {
		op()
	}
}

// abortDialLocked invalidates a Dial that has not returned yet. Connect
// releases the link it returns.
func (s *Session) abortDialLocked() {
	s.dialing = false
	s.early = nil
	s.gen++
}

func (s *Session) apply(gen uint64, ev gatt.Event) {
	s.mu.Lock()
	defer s.unlock()

	if gen == s.gen && s.dialing {
		s.early = append(s.early, ev)
		return
	}
	if gen != s.gen || s.link == nil {
		s.logger.WithFields(logrus.Fields{
			"event": ev.String(),
			"phase": s.state.Phase.String(),
		}).Debug("Dropping event from stale link")
		return
	}
	s.handleLocked(ev)
}

func (s *Session) handleLocked(ev gatt.Event) {
	switch e := ev.(type) {
	case gatt.ConnectionStateChanged:
		s.onConnectionStateLocked(e)
	case gatt.ServicesDiscovered:
		s.onServicesDiscoveredLocked(e)
	case gatt.DescriptorWritten:
		s.onDescriptorWrittenLocked(e)
	case gatt.CharacteristicChanged:
		s.onCharacteristicChangedLocked(e)
	default:
		s.logger.WithField("event", fmt.Sprintf("%T", ev)).Debug("Ignoring unknown event")
	}
}

func (s *Session) onConnectionStateLocked(e gatt.ConnectionStateChanged) {
	phase := s.state.Phase

	if e.Connected && e.Status.OK() {
		if phase != PhaseConnecting {
			s.sequencingLocked(fmt.Sprintf("duplicate connected callback in %s", s.state))
			return
		}
		s.stopTimerLocked()
		s.setStateLocked(State{Phase: PhaseServiceDiscovery}, fmt.Sprintf("connected to %s, discovering services", s.peripheral.DisplayName()))

		if s.cfg.ConnectSettle > 0 {
			s.armLocked(s.cfg.ConnectSettle, s.discoverLocked)
		} else {
			s.discoverLocked()
		}
		return
	}

	switch phase {
	case PhaseDisconnecting:
		s.finishTeardownLocked(fmt.Sprintf("disconnected from %s", s.peripheral.DisplayName()))
	case PhaseReady:
		msg := fmt.Sprintf("disconnected from %s", s.peripheral.DisplayName())
		if !e.Status.OK() {
			msg = fmt.Sprintf("%s: %s", msg, e.Status)
		}
		s.logger.WithFields(logrus.Fields{
			"address": s.peripheral.Address,
			"status":  e.Status.String(),
		}).Info("Peripheral disconnected")
		s.finishTeardownLocked(msg)
	case PhaseConnecting:
		s.failLocked(&Failure{Kind: FailureTransport, Status: e.Status, Message: fmt.Sprintf("connection failed: %s", e.Status)})
	default:
		s.failLocked(&Failure{Kind: FailureTransport, Status: e.Status, Message: fmt.Sprintf("connection lost during %s: %s", s.state, e.Status)})
	}
}

func (s *Session) discoverLocked() {
	s.discovering = true
	if s.cfg.OperationTimeout > 0 {
		timeout := s.cfg.OperationTimeout
		s.armLocked(timeout, func() {
			s.failLocked(&Failure{Kind: FailureTimeout, Message: fmt.Sprintf("service discovery did not complete within %s", timeout)})
		})
	}
	s.requestLocked(
		func(l gatt.Link) error { return l.DiscoverServices() },
		func() bool { return s.state.Phase == PhaseServiceDiscovery && s.discovering },
		func(err error) *Failure {
			return &Failure{Kind: FailureTransport, Message: "service discovery request failed", Err: err}
		},
	)
}

func (s *Session) onServicesDiscoveredLocked(e gatt.ServicesDiscovered) {
	if s.state.Phase != PhaseServiceDiscovery || !s.discovering {
		s.sequencingLocked(fmt.Sprintf("unexpected service discovery result in %s", s.state))
		return
	}
	s.stopTimerLocked()
	s.discovering = false

	if !e.Status.OK() {
		s.failLocked(&Failure{Kind: FailureTransport, Status: e.Status, Message: fmt.Sprintf("service discovery failed: %s", e.Status)})
		return
	}

	for _, uuid := range s.cfg.Profile.Services() {
		if _, ok := gatt.FindService(e.Services, uuid); !ok {
			s.failLocked(&Failure{
				Kind:    FailureServiceNotFound,
				Message: fmt.Sprintf("required service %s not found on %s", uuid, s.peripheral.DisplayName()),
				Err:     &device.NotFoundError{Resource: device.ResourceService, UUIDs: []string{uuid}},
			})
			return
		}
	}

	s.services = e.Services
	s.enableLocked(0)
}

// enableLocked issues the CCCD write for role i.
func (s *Session) enableLocked(i int) {
	role := s.cfg.Profile.Roles[i]
	notFound := func(msg string) {
		s.failLocked(&Failure{
			Kind:      FailureCharacteristicNotFound,
			RoleIndex: i,
			Message:   fmt.Sprintf("role %d (%s): %s", i, role.Name, msg),
			Err:       &device.NotFoundError{Resource: device.ResourceCharacteristic, UUIDs: []string{role.Service, role.Characteristic}},
		})
	}

	svc, _ := gatt.FindService(s.services, role.Service)
	char, ok := svc.Characteristic(role.Characteristic)
	if !ok {
		notFound("characteristic not found")
		return
	}
	if !char.CanSubscribe() {
		notFound(fmt.Sprintf("characteristic does not support notifications (%s)", char.Properties))
		return
	}
	// A nil descriptor list means the transport does not report descriptors.
	if char.Descriptors != nil && !char.HasDescriptor(gatt.DescriptorClientConfig) {
		notFound("client configuration descriptor not found")
		return
	}

	s.inFlight = gatt.ClientConfigOf(role.Service, role.Characteristic)
	s.ignoredAcks = 0
	s.setStateLocked(
		State{Phase: PhaseEnablingNotifications, RoleIndex: i},
		fmt.Sprintf("enabling %s notifications (%d/%d)", role.Name, i+1, len(s.cfg.Profile.Roles)),
	)

	if s.cfg.OperationTimeout > 0 {
		timeout := s.cfg.OperationTimeout
		s.armLocked(timeout, func() {
			s.failLocked(&Failure{Kind: FailureTimeout, Message: fmt.Sprintf("enabling %s notifications did not complete within %s", role.Name, timeout)})
		})
	}
	id, value := s.inFlight, char.SubscriptionValue()
	s.requestLocked(
		func(l gatt.Link) error { return l.WriteDescriptor(id, value) },
		func() bool { return s.state.Phase == PhaseEnablingNotifications && s.inFlight == id },
		func(err error) *Failure {
			return &Failure{Kind: FailureTransport, Message: fmt.Sprintf("enabling %s notifications failed", role.Name), Err: err}
		},
	)
}

// requestLocked queues op against the current link. If op fails while current
// still reports the request as outstanding, the session fails with failure(err).
func (s *Session) requestLocked(op func(gatt.Link) error, current func() bool, failure func(error) *Failure) {
	link, gen := s.link, s.gen
	s.pending = append(s.pending, func() {
		err := op(link)
		if err == nil {
			return
		}
		s.mu.Lock()
		defer s.unlock()
		if gen != s.gen || s.link == nil || !current() {
			s.logger.WithField("error", err).Debug("Ignoring failed request of a finished step")
			return
		}
		s.failLocked(failure(err))
	})
}

func (s *Session) onDescriptorWrittenLocked(e gatt.DescriptorWritten) {
	if s.state.Phase != PhaseEnablingNotifications || !e.Descriptor.Matches(s.inFlight) {
		s.sequencingLocked(fmt.Sprintf("ignoring descriptor ack for %s in %s", e.Descriptor, s.state))
		if s.state.Phase == PhaseEnablingNotifications && s.cfg.MaxIgnoredAcks > 0 {
			s.ignoredAcks++
			if s.ignoredAcks > s.cfg.MaxIgnoredAcks {
				i := s.state.RoleIndex
				s.failLocked(&Failure{
					Kind:      FailureSequencing,
					RoleIndex: i,
					Message:   fmt.Sprintf("%d out-of-order descriptor acks while enabling role %d (%s)", s.ignoredAcks, i, s.cfg.Profile.Roles[i].Name),
				})
			}
		}
		return
	}
	s.stopTimerLocked()

	i := s.state.RoleIndex
	role := s.cfg.Profile.Roles[i]
	if !e.Status.OK() {
		s.failLocked(&Failure{Kind: FailureTransport, Status: e.Status, Message: fmt.Sprintf("enabling %s notifications failed: %s", role.Name, e.Status)})
		return
	}

	s.acked = i + 1
	s.logger.WithFields(logrus.Fields{
		"address":   s.peripheral.Address,
		"role":      role.Name,
		"char_uuid": role.Characteristic,
	}).Debug("Notifications enabled")

	if s.acked < len(s.cfg.Profile.Roles) {
		s.enableLocked(s.acked)
		return
	}

	s.inFlight = gatt.DescriptorID{}
	s.setStateLocked(State{Phase: PhaseReady}, fmt.Sprintf("ready: streaming %d characteristics from %s", s.acked, s.peripheral.DisplayName()))
}

func (s *Session) onCharacteristicChangedLocked(e gatt.CharacteristicChanged) {
	switch s.state.Phase {
	case PhaseReady:
		s.router.Route(e.Characteristic, e.Data)
	case PhaseEnablingNotifications:
		if _, order, ok := s.router.Lookup(e.Characteristic); ok && order >= s.acked {
			s.sequencingLocked(fmt.Sprintf("notification from %s before its notifications were enabled", e.Characteristic))
			return
		}
		s.router.Route(e.Characteristic, e.Data)
	default:
		s.sequencingLocked(fmt.Sprintf("notification from %s in %s", e.Characteristic, s.state))
	}
}

// failLocked enters Failed, releases the link and, for transport-class
// reasons, continues to Idle.
func (s *Session) failLocked(f *Failure) {
	s.stopTimerLocked()
	s.teardownLinkLocked(false)

	s.logger.WithFields(logrus.Fields{
		"address": s.peripheral.Address,
		"phase":   s.state.String(),
		"reason":  f.Describe(),
		"error":   f.Error(),
	}).Warn("Session failed")

	s.setStateLocked(State{Phase: PhaseFailed, Reason: f}, f.Error())
	if f.Kind.Transient() {
		s.setStateLocked(State{Phase: PhaseIdle}, "idle, ready to reconnect")
	}
}

func (s *Session) finishTeardownLocked(message string) {
	s.stopTimerLocked()
	s.teardownLinkLocked(false)
	s.setStateLocked(State{Phase: PhaseIdle}, message)
}

// teardownLinkLocked releases the link exactly once. disconnect also asks the
// transport to drop the connection first.
func (s *Session) teardownLinkLocked(disconnect bool) {
	s.discovering = false
	s.inFlight = gatt.DescriptorID{}
	if s.link == nil {
		return
	}
	link := s.link
	s.link = nil
	s.pending = append(s.pending, func() {
		if disconnect {
			if err := link.Disconnect(); err != nil {
				s.logger.WithField("error", err).Debug("Disconnect of previous link failed")
				s.out.OnDiagnostic(Diagnostic{Kind: DiagTransport, Message: "disconnect of previous link failed", Err: err})
			}
		}
		link.Release()
	})
}

func (s *Session) setStateLocked(state State, message string) {
	prev := s.state
	s.state = state
	s.logger.WithFields(logrus.Fields{
		"address": s.peripheral.Address,
		"from":    prev.String(),
		"phase":   state.String(),
	}).Debug("Session state changed")
	s.out.OnSessionStateChanged(state, message)
}

func (s *Session) sequencingLocked(message string) {
	s.logger.WithFields(logrus.Fields{
		"address": s.peripheral.Address,
		"phase":   s.state.String(),
	}).Debug(message)
	s.out.OnDiagnostic(Diagnostic{Kind: DiagSequencing, Message: message})
}

// armLocked replaces the pending timer. fn runs under the lock, and only if
// neither the link generation nor the timer was replaced in the meantime.
// Requests fn queues are issued once the lock is released.
func (s *Session) armLocked(d time.Duration, fn func()) {
	s.stopTimerLocked()
	s.timerSeq++
	seq, gen := s.timerSeq, s.gen
	s.timer = time.AfterFunc(d, func() {
		s.mu.Lock()
		defer s.unlock()
		if seq != s.timerSeq || gen != s.gen || s.link == nil {
			return
		}
		s.timer = nil
		fn()
	})
}

func (s *Session) stopTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.timerSeq++
}
