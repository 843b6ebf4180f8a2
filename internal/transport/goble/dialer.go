package goble

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"

	"github.com/srg/roomsense/internal/device"
	"github.com/srg/roomsense/internal/gatt"
	"github.com/srg/roomsense/internal/groutine"
)

// DefaultEventBuffer is the per-link completion queue size.
const DefaultEventBuffer = 128

// DialFunc opens a go-ble connection to address.
type DialFunc func(ctx context.Context, address string) (Client, error)

// Dialer opens go-ble links. It implements gatt.Dialer.
type Dialer struct {
	dial        DialFunc
	eventBuffer int
	logger      *logrus.Logger
}

// Option configures a Dialer.
type Option func(*Dialer)

// WithDialFunc replaces the go-ble dial, for tests and for custom host devices.
func WithDialFunc(fn DialFunc) Option {
	return func(d *Dialer) { d.dial = fn }
}

// WithEventBuffer sets the per-link completion queue size.
func WithEventBuffer(n int) Option {
	return func(d *Dialer) {
		if n > 0 {
			d.eventBuffer = n
		}
	}
}

// NewDialer creates a dialer on the shared go-ble default device.
func NewDialer(logger *logrus.Logger, opts ...Option) *Dialer {
	if logger == nil {
		logger = logrus.New()
	}
	d := &Dialer{
		dial:        dialDefaultDevice,
		eventBuffer: DefaultEventBuffer,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func dialDefaultDevice(ctx context.Context, address string) (Client, error) {
	if _, err := DefaultDevice(); err != nil {
		return nil, err
	}
	client, err := ble.Dial(ctx, ble.NewAddr(address))
	if err != nil {
		return nil, NormalizeError(err)
	}
	return client, nil
}

// Dial returns immediately; the connection outcome arrives as a
// gatt.ConnectionStateChanged event.
func (d *Dialer) Dial(p device.Peripheral, handler gatt.Handler) (gatt.Link, error) {
	if strings.TrimSpace(p.Address) == "" {
		return nil, fmt.Errorf("device address is empty")
	}
	if handler == nil {
		return nil, fmt.Errorf("event handler is required")
	}

	l := newLink(p.Address, handler, d.eventBuffer, d.logger)
	d.logger.WithFields(logrus.Fields{
		"address": p.Address,
		"name":    p.Name,
	}).Info("Connecting to BLE device...")

	groutine.Go(l.ctx, "goble-dial", func(ctx context.Context) {
		client, err := d.dial(ctx, p.Address)
		if err != nil {
			l.dialFailed(fmt.Errorf("failed to connect to device with address %q: %w", p.Address, err))
			return
		}
		l.attach(client)
	})
	return l, nil
}

var _ gatt.Dialer = (*Dialer)(nil)
