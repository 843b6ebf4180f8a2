package bluez

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"
	"tinygo.org/x/bluetooth"

	"github.com/srg/roomsense/internal/device"
	"github.com/srg/roomsense/internal/gatt"
	"github.com/srg/roomsense/internal/groutine"
	"github.com/srg/roomsense/internal/registry"
)

// DefaultResolveTimeout bounds the scan that looks up an unseen address before dialing.
const DefaultResolveTimeout = 10 * time.Second

// Adapter is the subset of *bluetooth.Adapter the central drives.
type Adapter interface {
	Enable() error
	Scan(callback func(*bluetooth.Adapter, bluetooth.ScanResult)) error
	StopScan() error
	Connect(address bluetooth.Address, params bluetooth.ConnectionParams) (bluetooth.Device, error)
	SetConnectHandler(c func(device bluetooth.Device, connected bool))
}

// ConnectFunc opens a connection to a resolved platform address.
type ConnectFunc func(address bluetooth.Address) (Remote, error)

// Central scans for and connects to peripherals through one adapter.
// It implements gatt.Dialer.
type Central struct {
	adapter Adapter
	connect ConnectFunc
	logger  *logrus.Logger

	addresses *hashmap.Map[string, bluetooth.Address]
	links     *hashmap.Map[string, *Link]

	enableOnce sync.Once
	enableErr  error
	scanMu     sync.Mutex

	// WatchServices lists the service UUIDs checked in each advertisement.
	// tinygo cannot enumerate advertised services, only test for one.
	WatchServices []string

	ResolveTimeout time.Duration
	EventBuffer    int
}

// Option configures a Central.
type Option func(*Central)

// WithConnectFunc replaces the adapter connect, for tests.
func WithConnectFunc(fn ConnectFunc) Option {
	return func(c *Central) { c.connect = fn }
}

// WithWatchServices sets the services checked in advertisements.
func WithWatchServices(uuids ...string) Option {
	return func(c *Central) { c.WatchServices = append(c.WatchServices, uuids...) }
}

// NewCentral wraps adapter and installs its connect handler.
func NewCentral(adapter Adapter, logger *logrus.Logger, opts ...Option) *Central {
	if logger == nil {
		logger = logrus.New()
	}
	c := &Central{
		adapter:        adapter,
		logger:         logger,
		addresses:      hashmap.New[string, bluetooth.Address](),
		links:          hashmap.New[string, *Link](),
		ResolveTimeout: DefaultResolveTimeout,
		EventBuffer:    128,
	}
	c.connect = c.adapterConnect
	for _, opt := range opts {
		opt(c)
	}
	adapter.SetConnectHandler(c.onConnectionChanged)
	return c
}

// NewDefaultCentral uses the process-wide tinygo adapter.
func NewDefaultCentral(logger *logrus.Logger, opts ...Option) *Central {
	return NewCentral(bluetooth.DefaultAdapter, logger, opts...)
}

func (c *Central) enable() error {
	c.enableOnce.Do(func() {
		if err := c.adapter.Enable(); err != nil {
			c.enableErr = fmt.Errorf("%w: %v", device.ErrBluetoothOff, err)
		}
	})
	return c.enableErr
}

func (c *Central) adapterConnect(address bluetooth.Address) (Remote, error) {
	dev, err := c.adapter.Connect(address, bluetooth.ConnectionParams{})
	if err != nil {
		return nil, err
	}
	return deviceRemote{dev: dev}, nil
}

// Remember records the platform address of a peripheral so Dial need not scan for it.
func (c *Central) Remember(address bluetooth.Address) string {
	key := device.NormalizeAddress(address.String())
	c.addresses.Set(key, address)
	return key
}

func (c *Central) onConnectionChanged(dev bluetooth.Device, connected bool) {
	key := device.NormalizeAddress(dev.Address.String())
	l, ok := c.links.Get(key)
	if !ok {
		return
	}
	c.logger.WithFields(logrus.Fields{
		"address":   key,
		"connected": connected,
	}).Debug("Adapter reported connection change")
	if !connected {
		l.markDown(l.downStatus())
	}
}

// Scan reports advertisements to listener until ctx is done.
func (c *Central) Scan(ctx context.Context, listener registry.Listener) error {
	if err := c.enable(); err != nil {
		listener.OnScanFailed(registry.ScanFailedFeatureUnsupported)
		return err
	}

	watch := make([]bluetooth.UUID, 0, len(c.WatchServices))
	for _, s := range c.WatchServices {
		u, err := bluetooth.ParseUUID(s)
		if err != nil {
			return fmt.Errorf("invalid watch service %q: %w", s, err)
		}
		watch = append(watch, u)
	}

	err := c.scan(ctx, func(r bluetooth.ScanResult) bool {
		var services []string
		for _, u := range watch {
			if r.HasServiceUUID(u) {
				services = append(services, u.String())
			}
		}
		listener.OnDeviceFound(device.NewPeripheral(r.Address.String(), r.LocalName(), int(r.RSSI), services...))
		return true
	})
	if err != nil {
		code := scanFailureCode(err)
		c.logger.WithFields(logrus.Fields{
			"error": err,
			"code":  code,
		}).Error("BLE scan failed")
		listener.OnScanFailed(code)
		return err
	}
	return nil
}

// scan runs one adapter scan. fn returns false to stop early.
func (c *Central) scan(ctx context.Context, fn func(bluetooth.ScanResult) bool) error {
	c.scanMu.Lock()
	defer c.scanMu.Unlock()

	done := make(chan struct{})
	defer close(done)
	groutine.Go(ctx, "bluez-scan-stopper", func(ctx context.Context) {
		select {
		case <-ctx.Done():
			if err := c.adapter.StopScan(); err != nil {
				c.logger.WithField("error", err).Debug("StopScan failed")
			}
		case <-done:
		}
	})

	return c.adapter.Scan(func(_ *bluetooth.Adapter, r bluetooth.ScanResult) {
		c.Remember(r.Address)
		if !fn(r) {
			if err := c.adapter.StopScan(); err != nil {
				c.logger.WithField("error", err).Debug("StopScan failed")
			}
		}
	})
}

// resolve returns the platform address for key, scanning for it if needed.
func (c *Central) resolve(ctx context.Context, key string) (bluetooth.Address, error) {
	if addr, ok := c.addresses.Get(key); ok {
		return addr, nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.ResolveTimeout)
	defer cancel()

	c.logger.WithField("address", key).Debug("Address not seen yet, scanning for it")
	err := c.scan(ctx, func(r bluetooth.ScanResult) bool {
		return device.NormalizeAddress(r.Address.String()) != key
	})
	if err != nil {
		return bluetooth.Address{}, err
	}
	if addr, ok := c.addresses.Get(key); ok {
		return addr, nil
	}
	if err := ctx.Err(); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return bluetooth.Address{}, err
	}
	return bluetooth.Address{}, &device.NotFoundError{Resource: device.ResourcePeripheral, UUIDs: []string{key}}
}

// Dial returns immediately; the outcome arrives as a gatt.ConnectionStateChanged event.
func (c *Central) Dial(p device.Peripheral, handler gatt.Handler) (gatt.Link, error) {
	key := device.NormalizeAddress(p.Address)
	if strings.TrimSpace(key) == "" {
		return nil, fmt.Errorf("device address is empty")
	}
	if handler == nil {
		return nil, fmt.Errorf("event handler is required")
	}
	if err := c.enable(); err != nil {
		return nil, err
	}

	l := newLink(c, key, handler)
	if prev, ok := c.links.Get(key); ok {
		prev.Release()
	}
	c.links.Set(key, l)

	c.logger.WithFields(logrus.Fields{
		"address": key,
		"name":    p.Name,
	}).Info("Connecting to BLE device...")

	groutine.Go(l.ctx, "bluez-dial", func(ctx context.Context) {
		addr, err := c.resolve(ctx, key)
		if err != nil {
			l.dialFailed(err)
			return
		}
		remote, err := c.connect(addr)
		if err != nil {
			l.dialFailed(fmt.Errorf("failed to connect to device with address %q: %w", key, err))
			return
		}
		l.attach(remote)
	})
	return l, nil
}

func (c *Central) forget(l *Link) {
	if cur, ok := c.links.Get(l.address); ok && cur == l {
		c.links.Del(l.address)
	}
}

func scanFailureCode(err error) int {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "already"):
		return registry.ScanFailedAlreadyStarted
	case strings.Contains(msg, "not powered"), strings.Contains(msg, "turned off"):
		return registry.ScanFailedFeatureUnsupported
	default:
		return registry.ScanFailedInternalError
	}
}

var _ gatt.Dialer = (*Central)(nil)
