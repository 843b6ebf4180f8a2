package bluez

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"tinygo.org/x/bluetooth"

	"github.com/srg/roomsense/internal/device"
	"github.com/srg/roomsense/internal/gatt"
	"github.com/srg/roomsense/internal/groutine"
	"github.com/srg/roomsense/internal/ringchan"
)

// Notifier is a characteristic whose notifications can be switched on and off.
// A nil callback switches them off.
type Notifier interface {
	EnableNotifications(callback func(buf []byte)) error
}

// Remote is a connected peripheral.
type Remote interface {
	Discover() ([]gatt.Service, map[string]Notifier, error)
	Disconnect() error
}

type deviceRemote struct {
	dev bluetooth.Device
}

// Discover walks every service and characteristic. tinygo does not expose
// characteristic properties or descriptors portably, so characteristics are
// reported as notify-capable with unknown descriptors and a characteristic
// that cannot notify fails at EnableNotifications instead.
func (r deviceRemote) Discover() ([]gatt.Service, map[string]Notifier, error) {
	services, err := r.dev.DiscoverServices(nil)
	if err != nil {
		return nil, nil, err
	}

	out := make([]gatt.Service, 0, len(services))
	chars := make(map[string]Notifier)
	for i := range services {
		svc := gatt.Service{UUID: device.NormalizeUUID(services[i].UUID().String())}
		found, err := services[i].DiscoverCharacteristics(nil)
		if err != nil {
			return nil, nil, fmt.Errorf("discover characteristics of %s: %w", svc.UUID, err)
		}
		for j := range found {
			ch := &found[j]
			uuid := device.NormalizeUUID(ch.UUID().String())
			svc.Characteristics = append(svc.Characteristics, gatt.Characteristic{
				UUID:       uuid,
				Properties: gatt.PropRead | gatt.PropNotify,
			})
			chars[svc.UUID+"/"+uuid] = ch
		}
		out = append(out, svc)
	}
	return out, chars, nil
}

func (r deviceRemote) Disconnect() error {
	return r.dev.Disconnect()
}

// Link is one tinygo connection. Completions are delivered to the handler in
// order from a dedicated goroutine.
type Link struct {
	central *Central
	address string
	handler gatt.Handler
	logger  *logrus.Logger

	ctx    context.Context
	cancel context.CancelFunc
	events *ringchan.RingChannel[gatt.Event]

	mu         sync.Mutex
	remote     Remote
	chars      map[string]Notifier
	localClose bool
	released   bool

	down     atomic.Bool
	downOnce sync.Once
}

func newLink(c *Central, address string, handler gatt.Handler) *Link {
	ctx, cancel := context.WithCancel(context.Background())
	l := &Link{
		central: c,
		address: address,
		handler: handler,
		logger:  c.logger,
		ctx:     ctx,
		cancel:  cancel,
		events:  ringchan.New[gatt.Event](c.EventBuffer),
		chars:   make(map[string]Notifier),
	}
	groutine.Go(context.Background(), "bluez-events", l.deliver)
	return l
}

func (l *Link) deliver(context.Context) {
	for ev := range l.events.C() {
		if l.isReleased() {
			continue
		}
		l.handler(ev)
	}
}

func (l *Link) emit(ev gatt.Event) {
	if dropped := l.events.ForceSend(ev); dropped {
		l.logger.WithFields(logrus.Fields{
			"address": l.address,
			"event":   ev.String(),
		}).Warn("Link event queue full, dropped oldest event")
	}
}

func (l *Link) isReleased() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.released
}

func (l *Link) attach(r Remote) {
	l.mu.Lock()
	if l.released || l.localClose {
		l.mu.Unlock()
		if err := r.Disconnect(); err != nil {
			l.logger.WithField("error", err).Debug("Failed to drop connection of closed link")
		}
		l.markDown(gatt.StatusLocalTerminated)
		return
	}
	l.remote = r
	l.mu.Unlock()

	l.logger.WithField("address", l.address).Info("BLE device connected")
	l.emit(gatt.ConnectionStateChanged{Status: gatt.StatusSuccess, Connected: true})
}

func (l *Link) dialFailed(err error) {
	l.logger.WithFields(logrus.Fields{
		"address": l.address,
		"error":   err,
	}).Warn("Failed to dial BLE device")

	status := gatt.StatusConnectionFailed
	if l.ctx.Err() != nil {
		status = gatt.StatusLocalTerminated
	}
	l.markDown(status)
}

func (l *Link) downStatus() gatt.Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.localClose {
		return gatt.StatusLocalTerminated
	}
	return gatt.StatusRemoteTerminated
}

func (l *Link) markDown(status gatt.Status) {
	l.downOnce.Do(func() {
		l.down.Store(true)
		l.emit(gatt.ConnectionStateChanged{Status: status, Connected: false})
	})
}

func (l *Link) connected() (Remote, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.released || l.remote == nil || l.down.Load() {
		return nil, device.ErrNotConnected
	}
	return l.remote, nil
}

func (l *Link) DiscoverServices() error {
	r, err := l.connected()
	if err != nil {
		return err
	}

	groutine.Go(l.ctx, "bluez-discover", func(context.Context) {
		services, chars, err := r.Discover()
		if err != nil {
			l.logger.WithFields(logrus.Fields{
				"address": l.address,
				"error":   err,
			}).Warn("Failed to discover services")
			l.emit(gatt.ServicesDiscovered{Status: gatt.StatusFailure})
			return
		}
		l.mu.Lock()
		l.chars = chars
		l.mu.Unlock()
		l.emit(gatt.ServicesDiscovered{Status: gatt.StatusSuccess, Services: services})
	})
	return nil
}

// WriteDescriptor maps CCCD writes onto EnableNotifications; tinygo writes
// the descriptor itself.
func (l *Link) WriteDescriptor(id gatt.DescriptorID, value []byte) error {
	if device.NormalizeUUID(id.Descriptor) != gatt.DescriptorClientConfig {
		return fmt.Errorf("tinygo bluetooth can only write the client configuration descriptor, not %s", id.Descriptor)
	}
	cfg, err := gatt.ParseClientConfig(value)
	if err != nil {
		return err
	}
	if _, err := l.connected(); err != nil {
		return err
	}

	svc, charUUID := device.NormalizeUUID(id.Service), device.NormalizeUUID(id.Characteristic)
	l.mu.Lock()
	ch, ok := l.chars[svc+"/"+charUUID]
	l.mu.Unlock()
	if !ok {
		return &device.NotFoundError{Resource: device.ResourceCharacteristic, UUIDs: []string{id.Service, id.Characteristic}}
	}

	groutine.Go(l.ctx, "bluez-cccd", func(context.Context) {
		var cb func([]byte)
		if cfg.Notifications || cfg.Indications {
			cb = func(buf []byte) {
				l.emit(gatt.CharacteristicChanged{Characteristic: charUUID, Data: bytes.Clone(buf)})
			}
		}
		status := gatt.StatusSuccess
		if err := ch.EnableNotifications(cb); err != nil {
			l.logger.WithFields(logrus.Fields{
				"address":   l.address,
				"char_uuid": charUUID,
				"error":     err,
			}).Warn("Failed to update characteristic notifications")
			status = gatt.StatusError
		}
		l.emit(gatt.DescriptorWritten{Descriptor: id, Status: status})
	})
	return nil
}

func (l *Link) Disconnect() error {
	l.mu.Lock()
	if l.released {
		l.mu.Unlock()
		return device.ErrNotConnected
	}
	l.localClose = true
	r := l.remote
	l.mu.Unlock()

	if r == nil {
		l.cancel()
		return nil
	}

	groutine.Go(context.Background(), "bluez-disconnect", func(context.Context) {
		if err := r.Disconnect(); err != nil {
			l.logger.WithField("error", err).Warn("BLE device disconnected with errors")
		}
		l.markDown(gatt.StatusLocalTerminated)
	})
	return nil
}

func (l *Link) Release() {
	l.mu.Lock()
	if l.released {
		l.mu.Unlock()
		return
	}
	l.released = true
	r := l.remote
	l.remote = nil
	l.mu.Unlock()

	l.cancel()
	l.events.Close()
	l.central.forget(l)

	if r != nil && !l.down.Load() {
		groutine.Go(context.Background(), "bluez-release", func(context.Context) {
			if err := r.Disconnect(); err != nil {
				l.logger.WithField("error", err).Debug("Failed to disconnect on release")
			}
		})
	}
}

var _ gatt.Link = (*Link)(nil)
