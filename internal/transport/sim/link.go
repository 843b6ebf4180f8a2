package sim

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/srg/roomsense/internal/codec"
	"github.com/srg/roomsense/internal/device"
	"github.com/srg/roomsense/internal/gatt"
	"github.com/srg/roomsense/internal/groutine"
	"github.com/srg/roomsense/internal/profile"
	"github.com/srg/roomsense/internal/ringchan"
)

// Dialer connects to one simulated firmware. It implements gatt.Dialer.
type Dialer struct {
	fw     *Firmware
	logger *logrus.Logger
}

// NewDialer creates a dialer for fw.
func NewDialer(fw *Firmware, logger *logrus.Logger) *Dialer {
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.PanicLevel)
	}
	return &Dialer{fw: fw, logger: logger}
}

// Dial connects after the firmware latency. Addresses other than the
// firmware's fail to connect.
func (d *Dialer) Dial(p device.Peripheral, handler gatt.Handler) (gatt.Link, error) {
	if handler == nil {
		return nil, fmt.Errorf("event handler is required")
	}
	ctx, cancel := context.WithCancel(context.Background())
	l := &Link{
		fw:      d.fw,
		logger:  d.logger,
		handler: handler,
		ctx:     ctx,
		cancel:  cancel,
		events:  ringchan.New[gatt.Event](256),
		enabled: make(map[string]profile.Role),
	}
	groutine.Go(context.Background(), "sim-events", l.deliver)

	match := p.Equal(d.fw.Peripheral)
	l.after(func() {
		if !match {
			l.emit(gatt.ConnectionStateChanged{Status: gatt.StatusConnectionFailed})
			return
		}
		l.mu.Lock()
		l.connected = true
		l.mu.Unlock()
		l.emit(gatt.ConnectionStateChanged{Status: gatt.StatusSuccess, Connected: true})
	})
	return l, nil
}

// Link is a connection to the simulated firmware.
type Link struct {
	fw      *Firmware
	logger  *logrus.Logger
	handler gatt.Handler

	ctx    context.Context
	cancel context.CancelFunc
	events *ringchan.RingChannel[gatt.Event]

	mu        sync.Mutex
	connected bool
	released  bool
	enabled   map[string]profile.Role
	streaming bool
	sent      int
}

func (l *Link) deliver(context.Context) {
	for ev := range l.events.C() {
		l.mu.Lock()
		released := l.released
		l.mu.Unlock()
		if !released {
			l.handler(ev)
		}
	}
}

func (l *Link) emit(ev gatt.Event) {
	l.events.Send(ev)
}

// after runs fn once the firmware latency has passed, unless the link is released first.
func (l *Link) after(fn func()) {
	groutine.Go(l.ctx, "sim-completion", func(ctx context.Context) {
		select {
		case <-time.After(l.fw.Latency):
			fn()
		case <-ctx.Done():
		}
	})
}

func (l *Link) isConnected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.connected && !l.released
}

func (l *Link) DiscoverServices() error {
	if !l.isConnected() {
		return device.ErrNotConnected
	}
	services := l.fw.services()
	l.after(func() {
		l.emit(gatt.ServicesDiscovered{Status: gatt.StatusSuccess, Services: services})
	})
	return nil
}

func (l *Link) WriteDescriptor(id gatt.DescriptorID, value []byte) error {
	if !l.isConnected() {
		return device.ErrNotConnected
	}
	cfg, err := gatt.ParseClientConfig(value)
	if err != nil {
		return err
	}

	var role profile.Role
	found := false
	for _, r := range l.fw.Profile.Roles {
		if id.Matches(gatt.ClientConfigOf(r.Service, r.Characteristic)) {
			role, found = r, true
			break
		}
	}

	l.after(func() {
		if !found {
			l.emit(gatt.DescriptorWritten{Descriptor: id, Status: gatt.StatusWriteNotPermitted})
			return
		}
		l.mu.Lock()
		if cfg.Notifications || cfg.Indications {
			l.enabled[role.Characteristic] = role
		} else {
			delete(l.enabled, role.Characteristic)
		}
		start := !l.streaming && len(l.enabled) > 0
		l.streaming = l.streaming || start
		l.mu.Unlock()

		l.emit(gatt.DescriptorWritten{Descriptor: id, Status: gatt.StatusSuccess})
		if start {
			groutine.Go(l.ctx, "sim-stream", l.stream)
		}
	})
	return nil
}

func (l *Link) stream(ctx context.Context) {
	ticker := time.NewTicker(l.fw.Interval)
	defer ticker.Stop()

	var index uint64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		l.mu.Lock()
		roles := make([]profile.Role, 0, len(l.enabled))
		for _, r := range l.fw.Profile.Roles {
			if _, ok := l.enabled[r.Characteristic]; ok {
				roles = append(roles, r)
			}
		}
		l.mu.Unlock()

		for _, r := range roles {
			reading := l.fw.Generate(r, index)
			data, err := codec.Encode(r.Layout, reading)
			if err != nil {
				l.logger.WithFields(logrus.Fields{
					"role":  r.Name,
					"error": err,
				}).Warn("Simulated firmware cannot encode reading")
				continue
			}
			l.emit(gatt.CharacteristicChanged{Characteristic: r.Characteristic, Data: data})

			if l.countPacket() {
				l.dropConnection(gatt.StatusRemoteTerminated)
				return
			}
		}
		index++
	}
}

// countPacket reports whether the DropAfter budget is exhausted.
func (l *Link) countPacket() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sent++
	return l.fw.DropAfter > 0 && l.sent >= l.fw.DropAfter
}

func (l *Link) dropConnection(status gatt.Status) {
	l.mu.Lock()
	was := l.connected
	l.connected = false
	l.enabled = make(map[string]profile.Role)
	l.mu.Unlock()
	if was {
		l.emit(gatt.ConnectionStateChanged{Status: status})
	}
}

func (l *Link) Disconnect() error {
	l.mu.Lock()
	if l.released {
		l.mu.Unlock()
		return device.ErrNotConnected
	}
	l.mu.Unlock()

	l.after(func() { l.dropConnection(gatt.StatusLocalTerminated) })
	return nil
}

func (l *Link) Release() {
	l.mu.Lock()
	if l.released {
		l.mu.Unlock()
		return
	}
	l.released = true
	l.connected = false
	l.mu.Unlock()

	l.cancel()
	l.events.Close()
}

var _ gatt.Dialer = (*Dialer)(nil)
