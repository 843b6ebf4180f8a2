package gatt

import (
	"github.com/srg/roomsense/internal/device"
)

// Dialer opens links to peripherals.
type Dialer interface {
	// Dial starts connecting to p and returns immediately. The outcome arrives
	// as a ConnectionStateChanged event on handler.
	Dial(p device.Peripheral, handler Handler) (Link, error)
}

// Link is one open transport handle to a peripheral.
type Link interface {
	// DiscoverServices requests the peripheral's GATT profile; completes with ServicesDiscovered.
	DiscoverServices() error
	// WriteDescriptor writes value to the descriptor; completes with DescriptorWritten.
	WriteDescriptor(id DescriptorID, value []byte) error
	// Disconnect starts tearing the link down; completes with ConnectionStateChanged{Connected: false}.
	Disconnect() error
	// Release frees the handle, closing the connection if it is still open.
	// Events still queued are discarded; once Release returns, no new handler
	// call starts, though one already running may finish. Release may be called
	// from inside the handler and is called once.
	Release()
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(p device.Peripheral, handler Handler) (Link, error)

func (f DialerFunc) Dial(p device.Peripheral, handler Handler) (Link, error) {
	return f(p, handler)
}
