//go:build test

package mocks

import (
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/srg/roomsense/internal/device"
	"github.com/srg/roomsense/internal/gatt"
)

// MockLink is a testify mock of gatt.Link.
type MockLink struct {
	mock.Mock
}

func (m *MockLink) DiscoverServices() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockLink) WriteDescriptor(id gatt.DescriptorID, value []byte) error {
	args := m.Called(id, value)
	return args.Error(0)
}

func (m *MockLink) Disconnect() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockLink) Release() {
	m.Called()
}

// MockDialer is a testify mock of gatt.Dialer that keeps every handler it was given,
// so a test can play the transport side of each link.
type MockDialer struct {
	mock.Mock

	mu       sync.Mutex
	handlers []gatt.Handler
}

func (m *MockDialer) Dial(p device.Peripheral, handler gatt.Handler) (gatt.Link, error) {
	m.mu.Lock()
	m.handlers = append(m.handlers, handler)
	m.mu.Unlock()

	args := m.Called(p, handler)
	link, _ := args.Get(0).(gatt.Link)
	return link, args.Error(1)
}

// Handler returns the handler passed to the i-th Dial call.
func (m *MockDialer) Handler(i int) gatt.Handler {
	m.mu.Lock()
	defer m.mu.Unlock()
	if i < 0 || i >= len(m.handlers) {
		return nil
	}
	return m.handlers[i]
}

// Emit delivers ev through the handler of the latest Dial call.
func (m *MockDialer) Emit(ev gatt.Event) {
	m.mu.Lock()
	n := len(m.handlers)
	m.mu.Unlock()
	if h := m.Handler(n - 1); h != nil {
		h(ev)
	}
}

// Dials returns how many times Dial was called.
func (m *MockDialer) Dials() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.handlers)
}
