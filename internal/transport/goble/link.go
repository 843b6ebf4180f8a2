package goble

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"

	"github.com/srg/roomsense/internal/device"
	"github.com/srg/roomsense/internal/gatt"
	"github.com/srg/roomsense/internal/groutine"
	"github.com/srg/roomsense/internal/ringchan"
)

// Client is the subset of ble.Client the link drives.
type Client interface {
	DiscoverProfile(force bool) (*ble.Profile, error)
	Subscribe(c *ble.Characteristic, ind bool, h ble.NotificationHandler) error
	Unsubscribe(c *ble.Characteristic, ind bool) error
	CancelConnection() error
}

type subscription struct {
	char     *ble.Characteristic
	indicate bool
}

// Link is one go-ble connection. Completions are queued and delivered to the
// handler in order from a dedicated goroutine.
type Link struct {
	address string
	handler gatt.Handler
	logger  *logrus.Logger

	ctx    context.Context // cancelled by Disconnect before the dial completes, and by Release
	cancel context.CancelFunc
	events *ringchan.RingChannel[gatt.Event]

	mu         sync.Mutex
	client     Client
	chars      map[string]*ble.Characteristic
	subscribed map[string]subscription
	localClose bool
	released   bool

	down     atomic.Bool
	downOnce sync.Once
}

func newLink(address string, handler gatt.Handler, bufferSize int, logger *logrus.Logger) *Link {
	ctx, cancel := context.WithCancel(context.Background())
	l := &Link{
		address:    address,
		handler:    handler,
		logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
		events:     ringchan.New[gatt.Event](bufferSize),
		chars:      make(map[string]*ble.Characteristic),
		subscribed: make(map[string]subscription),
	}
	groutine.Go(context.Background(), "goble-events", l.deliver)
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

// attach installs the dialed client. A link released while dialing drops the
// new connection straight away.
func (l *Link) attach(c Client) {
	l.mu.Lock()
	if l.released || l.localClose {
		l.mu.Unlock()
		l.logger.WithField("address", l.address).Debug("Link closed while dialing, cancelling new connection")
		if err := c.CancelConnection(); err != nil {
			l.logger.WithField("error", err).Debug("Failed to cancel connection of closed link")
		}
		l.markDown(gatt.StatusLocalTerminated)
		return
	}
	l.client = c
	l.mu.Unlock()

	// Monitor go-ble client Disconnected() channel (Darwin-specific)
	if dc, ok := c.(interface{ Disconnected() <-chan struct{} }); ok {
		groutine.Go(l.ctx, "goble-link-monitor", func(ctx context.Context) {
			select {
			case <-dc.Disconnected():
				l.logger.WithField("address", l.address).Debug("CoreBluetooth reported disconnection")
				l.markDown(l.downStatus())
			case <-ctx.Done():
			}
		})
	} else {
		l.logger.Debug("Client does not support Disconnected() channel (non-Darwin platform?)")
	}

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

// markDown reports the disconnection once, whichever path notices it first.
func (l *Link) markDown(status gatt.Status) {
	l.downOnce.Do(func() {
		l.down.Store(true)
		l.emit(gatt.ConnectionStateChanged{Status: status, Connected: false})
	})
}

func (l *Link) connectedClient() (Client, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.released || l.client == nil || l.down.Load() {
		return nil, device.ErrNotConnected
	}
	return l.client, nil
}

// DiscoverServices runs a full profile discovery in the background.
func (l *Link) DiscoverServices() error {
	c, err := l.connectedClient()
	if err != nil {
		return err
	}

	groutine.Go(l.ctx, "goble-discover", func(context.Context) {
		l.logger.WithField("address", l.address).Debug("Discovering services and characteristics...")
		p, err := c.DiscoverProfile(true)
		if err != nil {
			l.logger.WithFields(logrus.Fields{
				"address": l.address,
				"error":   NormalizeError(err),
			}).Warn("Failed to discover profile")
			l.emit(gatt.ServicesDiscovered{Status: gatt.StatusFailure})
			return
		}

		services, chars := convertProfile(p)
		l.mu.Lock()
		l.chars = chars
		l.mu.Unlock()

		l.logger.WithFields(logrus.Fields{
			"address":         l.address,
			"services":        len(services),
			"characteristics": len(chars),
		}).Debug("Profile discovered successfully")
		l.emit(gatt.ServicesDiscovered{Status: gatt.StatusSuccess, Services: services})
	})
	return nil
}

// WriteDescriptor applies a CCCD value through Subscribe or Unsubscribe.
func (l *Link) WriteDescriptor(id gatt.DescriptorID, value []byte) error {
	if device.NormalizeUUID(id.Descriptor) != gatt.DescriptorClientConfig {
		return fmt.Errorf("go-ble can only write the client configuration descriptor, not %s", id.Descriptor)
	}
	cfg, err := gatt.ParseClientConfig(value)
	if err != nil {
		return err
	}

	c, err := l.connectedClient()
	if err != nil {
		return err
	}
	key := charKey(id.Service, id.Characteristic)
	l.mu.Lock()
	char, ok := l.chars[key]
	l.mu.Unlock()
	if !ok {
		return &device.NotFoundError{Resource: device.ResourceCharacteristic, UUIDs: []string{id.Service, id.Characteristic}}
	}

	charUUID := device.NormalizeUUID(id.Characteristic)
	groutine.Go(l.ctx, "goble-cccd", func(context.Context) {
		var err error
		if cfg.Notifications || cfg.Indications {
			indicate := cfg.Indications && !cfg.Notifications
			err = NormalizeError(c.Subscribe(char, indicate, func(data []byte) {
				l.emit(gatt.CharacteristicChanged{Characteristic: charUUID, Data: bytes.Clone(data)})
			}))
			if err == nil {
				l.mu.Lock()
				l.subscribed[key] = subscription{char: char, indicate: indicate}
				l.mu.Unlock()
			}
		} else {
			err = l.tryUnsubscribe(c, char, charUUID)
			l.mu.Lock()
			delete(l.subscribed, key)
			l.mu.Unlock()
		}

		status := gatt.StatusSuccess
		if err != nil {
			l.logger.WithFields(logrus.Fields{
				"address":   l.address,
				"char_uuid": charUUID,
				"error":     err,
			}).Warn("Failed to update characteristic subscription")
			status = gatt.StatusError
		}
		l.emit(gatt.DescriptorWritten{Descriptor: id, Status: status})
	})
	return nil
}

// tryUnsubscribe attempts to unsubscribe using both notify and indicate modes.
// Returns error only if both modes fail.
func (l *Link) tryUnsubscribe(c Client, char *ble.Characteristic, charUUID string) error {
	err1 := NormalizeError(c.Unsubscribe(char, false))
	err2 := NormalizeError(c.Unsubscribe(char, true))
	if err1 != nil && err2 != nil {
		return fmt.Errorf("%s: notify=%v, indicate=%v", charUUID, err1, err2)
	}
	return nil
}

// Disconnect closes the connection in the background. Before the dial
// completes it aborts the dial instead.
func (l *Link) Disconnect() error {
	l.mu.Lock()
	if l.released {
		l.mu.Unlock()
		return device.ErrNotConnected
	}
	l.localClose = true
	c := l.client
	subs := make([]subscription, 0, len(l.subscribed))
	for _, sub := range l.subscribed {
		subs = append(subs, sub)
	}
	l.subscribed = make(map[string]subscription)
	l.mu.Unlock()

	if c == nil {
		l.cancel()
		return nil
	}

	groutine.Go(context.Background(), "goble-disconnect", func(context.Context) {
		l.logger.WithField("address", l.address).Info("Disconnecting BLE device...")
		for _, sub := range subs {
			if err := NormalizeError(c.Unsubscribe(sub.char, sub.indicate)); err != nil {
				l.logger.WithField("error", err).Debug("Failed to unsubscribe during disconnect")
			}
		}
		if err := c.CancelConnection(); err != nil {
			l.logger.WithField("error", err).Warn("BLE device disconnected with errors")
		}
		l.markDown(gatt.StatusLocalTerminated)
	})
	return nil
}

// Release stops event delivery and drops the connection if it is still up.
func (l *Link) Release() {
	l.mu.Lock()
	if l.released {
		l.mu.Unlock()
		return
	}
	l.released = true
	c := l.client
	l.client = nil
	l.mu.Unlock()

	l.cancel()
	l.events.Close()

	if c != nil && !l.down.Load() {
		groutine.Go(context.Background(), "goble-release", func(context.Context) {
			if err := c.CancelConnection(); err != nil {
				l.logger.WithField("error", err).Debug("Failed to cancel connection on release")
			}
		})
	}
}

var _ gatt.Link = (*Link)(nil)
