// Package registry deduplicates the peripherals reported during a scan window
// and exposes them in first-seen order.
package registry

import (
	"sync"

	"github.com/sirupsen/logrus"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/srg/roomsense/internal/device"
	"github.com/srg/roomsense/internal/ringchan"
)

// Listener is the entry point a scan source reports into.
type Listener interface {
	OnDeviceFound(p device.Peripheral)
	OnScanFailed(code int)
}

// EventType marks whether a peripheral was newly discovered or refreshed.
type EventType int

const (
	EventNew EventType = iota
	EventUpdated
	EventScanFailed
)

// Event is published on Events for every accepted report.
type Event struct {
	Type       EventType
	Peripheral device.Peripheral
	Err        error // set for EventScanFailed
}

// Registry is safe for concurrent use by a scan callback and readers.
type Registry struct {
	mu      sync.RWMutex
	devices *orderedmap.OrderedMap[string, device.Peripheral]
	scanErr error

	filter Filter
	events *ringchan.RingChannel[Event]
	logger *logrus.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithFilter drops reports that do not pass f.
func WithFilter(f Filter) Option {
	return func(r *Registry) { r.filter = f }
}

// WithEventBuffer sets the capacity of the Events channel.
func WithEventBuffer(n int) Option {
	return func(r *Registry) { r.events = ringchan.New[Event](n) }
}

// New creates an empty registry.
func New(logger *logrus.Logger, opts ...Option) *Registry {
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.PanicLevel)
	}
	r := &Registry{
		devices: orderedmap.New[string, device.Peripheral](),
		events:  ringchan.New[Event](100),
		logger:  logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Observe records p and reports whether its address was not seen before.
// A known address keeps its position; its name, RSSI and services are refreshed.
// A peripheral without an address is not recorded.
func (r *Registry) Observe(p device.Peripheral) bool {
	isNew, _, _ := r.observe(p)
	return isNew
}

func (r *Registry) observe(p device.Peripheral) (isNew bool, stored device.Peripheral, ok bool) {
	key := device.NormalizeAddress(p.Address)
	if key == "" {
		return false, p, false
	}
	p.Address = key

	r.mu.Lock()
	defer r.mu.Unlock()

	existing, found := r.devices.Get(key)
	if !found {
		r.devices.Set(key, p)
		return true, p, true
	}

	if p.Name != "" {
		existing.Name = p.Name
	}
	if p.RSSI != 0 {
		existing.RSSI = p.RSSI
	}
	if len(p.Services) > 0 {
		existing.Services = p.Services
	}
	r.devices.Set(key, existing)
	return false, existing, true
}

// Snapshot returns a copy of all peripherals in first-seen order.
func (r *Registry) Snapshot() []device.Peripheral {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]device.Peripheral, 0, r.devices.Len())
	for pair := r.devices.Oldest(); pair != nil; pair = pair.Next() {
		p := pair.Value
		p.Services = append([]string(nil), p.Services...)
		out = append(out, p)
	}
	return out
}

// Lookup returns the peripheral recorded for address.
func (r *Registry) Lookup(address string) (device.Peripheral, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.devices.Get(device.NormalizeAddress(address))
}

// Len returns the number of distinct peripherals.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.devices.Len()
}

// Clear forgets every peripheral and any recorded scan failure.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.devices = orderedmap.New[string, device.Peripheral]()
	r.scanErr = nil
}

// OnDeviceFound applies the filter, records p and publishes an event.
func (r *Registry) OnDeviceFound(p device.Peripheral) {
	if !r.filter.Allows(p) {
		return
	}

	isNew, stored, ok := r.observe(p)
	if !ok {
		r.logger.WithField("name", p.Name).Debug("Ignoring advertisement without an address")
		return
	}
	event := Event{Type: EventUpdated, Peripheral: stored}
	if isNew {
		event.Type = EventNew
		r.logger.WithFields(logrus.Fields{
			"device":  stored.DisplayName(),
			"address": stored.Address,
			"rssi":    stored.RSSI,
		}).Info("Discovered new device")
	}

	r.events.Send(event)
}

// OnScanFailed records the terminal scan failure reported by the platform.
func (r *Registry) OnScanFailed(code int) {
	err := &ScanFailure{Code: code}

	r.mu.Lock()
	r.scanErr = err
	r.mu.Unlock()

	r.logger.WithFields(logrus.Fields{
		"code":  code,
		"error": err.Error(),
	}).Error("Scan failed")

	r.events.Send(Event{Type: EventScanFailed, Err: err})
}

// Err returns the last scan failure, or nil.
func (r *Registry) Err() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.scanErr
}

// Events returns a read-only channel of registry events. Old events are
// dropped when the consumer falls behind.
func (r *Registry) Events() <-chan Event {
	return r.events.C()
}

// Close closes the Events channel. The registry stays readable.
func (r *Registry) Close() {
	r.events.Close()
}

var _ Listener = (*Registry)(nil)
