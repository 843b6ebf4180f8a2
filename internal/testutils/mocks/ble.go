//go:build test

package mocks

import (
	"context"

	"github.com/go-ble/ble"
	"github.com/stretchr/testify/mock"
)

// MockBLEClient mocks the subset of ble.Client the go-ble transport uses.
type MockBLEClient struct {
	mock.Mock
	disconnected chan struct{}
}

// NewMockBLEClient returns a client whose Disconnected channel closes on CloseDisconnected.
func NewMockBLEClient() *MockBLEClient {
	return &MockBLEClient{disconnected: make(chan struct{})}
}

func (m *MockBLEClient) DiscoverProfile(force bool) (*ble.Profile, error) {
	args := m.Called(force)
	p, _ := args.Get(0).(*ble.Profile)
	return p, args.Error(1)
}

func (m *MockBLEClient) Subscribe(c *ble.Characteristic, ind bool, h ble.NotificationHandler) error {
	args := m.Called(c, ind, h)
	return args.Error(0)
}

func (m *MockBLEClient) Unsubscribe(c *ble.Characteristic, ind bool) error {
	args := m.Called(c, ind)
	return args.Error(0)
}

func (m *MockBLEClient) CancelConnection() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockBLEClient) Disconnected() <-chan struct{} {
	return m.disconnected
}

// CloseDisconnected simulates the peripheral dropping the link.
func (m *MockBLEClient) CloseDisconnected() {
	close(m.disconnected)
}

// MockBLEDevice mocks the scanning half of ble.Device.
type MockBLEDevice struct {
	mock.Mock
}

func (m *MockBLEDevice) Scan(ctx context.Context, allowDup bool, h ble.AdvHandler) error {
	args := m.Called(ctx, allowDup, h)
	return args.Error(0)
}

func (m *MockBLEDevice) Stop() error {
	args := m.Called()
	return args.Error(0)
}

// MockAdvertisement mocks ble.Advertisement. Accessors the scanner never reads return zero values.
type MockAdvertisement struct {
	mock.Mock
}

// NewMockAdvertisement returns an advertisement with the given identity.
func NewMockAdvertisement(addr, name string, rssi int, services ...string) *MockAdvertisement {
	uuids := make([]ble.UUID, 0, len(services))
	for _, s := range services {
		uuids = append(uuids, ble.MustParse(s))
	}
	m := &MockAdvertisement{}
	m.On("Addr").Return(ble.NewAddr(addr))
	m.On("LocalName").Return(name)
	m.On("RSSI").Return(rssi)
	m.On("Services").Return(uuids)
	m.On("Connectable").Return(true)
	return m
}

func (m *MockAdvertisement) LocalName() string {
	return m.Called().String(0)
}

func (m *MockAdvertisement) RSSI() int {
	return m.Called().Int(0)
}

func (m *MockAdvertisement) Addr() ble.Addr {
	addr, _ := m.Called().Get(0).(ble.Addr)
	return addr
}

func (m *MockAdvertisement) Services() []ble.UUID {
	uuids, _ := m.Called().Get(0).([]ble.UUID)
	return uuids
}

func (m *MockAdvertisement) Connectable() bool {
	return m.Called().Bool(0)
}

func (m *MockAdvertisement) ManufacturerData() []byte { return nil }
func (m *MockAdvertisement) ServiceData() []ble.ServiceData { return nil }
func (m *MockAdvertisement) OverflowService() []ble.UUID { return nil }
func (m *MockAdvertisement) TxPowerLevel() int { return 0 }
func (m *MockAdvertisement) SolicitedService() []ble.UUID { return nil }

var _ ble.Advertisement = (*MockAdvertisement)(nil)
