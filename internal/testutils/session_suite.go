//go:build test

package testutils

import (
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"

	"github.com/srg/roomsense/internal/device"
	"github.com/srg/roomsense/internal/gatt"
	"github.com/srg/roomsense/internal/profile"
	"github.com/srg/roomsense/internal/session"
	"github.com/srg/roomsense/internal/testutils/mocks"
)

// SessionSuite provides a session wired to a mock dialer and a recording sink.
// The test plays the transport: it emits events through Emit, the way a
// platform callback would, and inspects the calls made on each MockLink.
//
//	type HandshakeSuite struct {
//	    testutils.SessionSuite
//	}
//
//	func (s *HandshakeSuite) TestReady() {
//	    s.ConnectToReady()
//	    s.Equal(session.PhaseReady, s.Session.State().Phase)
//	}
//
// Timeouts and the settle delay are disabled by default; tests that need them
// change Config and call NewSession.
type SessionSuite struct {
	suite.Suite

	Helper *TestHelper
	Logger *logrus.Logger

	ProfileName string // built-in profile used by SetupTest, somnosense when empty

	Profile    profile.Profile
	Config     session.Config
	Peripheral device.Peripheral

	Dialer  *mocks.MockDialer
	Links   []*mocks.MockLink
	Sink    *RecordingSink
	Session *session.Session
}

// SetupSuite is called once before all tests in the suite.
func (s *SessionSuite) SetupSuite() {
	s.Helper = NewTestHelper(s.T())
	s.Logger = s.Helper.Logger
}

// SetupTest builds a fresh session for each test.
func (s *SessionSuite) SetupTest() {
	name := s.ProfileName
	if name == "" {
		name = profile.Somnosense
	}
	p, err := profile.Builtin(name)
	s.Require().NoError(err)
	s.Profile = p

	s.Config = session.DefaultConfig(s.Profile)
	s.Config.ConnectTimeout = 0
	s.Config.OperationTimeout = 0
	s.Config.ConnectSettle = 0

	s.Peripheral = device.NewPeripheral("C0:98:E5:49:00:01", "SomnoSense", -52, profile.SensorService)
	s.NewSession()
}

// TearDownTest closes the session.
func (s *SessionSuite) TearDownTest() {
	if s.Session != nil {
		s.Session.Close()
	}
}

// NewSession replaces the session using the current Profile and Config.
func (s *SessionSuite) NewSession() {
	if s.Session != nil {
		s.Session.Close()
	}
	s.Config.Profile = s.Profile
	s.Dialer = &mocks.MockDialer{}
	s.Links = nil
	s.Sink = NewRecordingSink()

	sess, err := session.New(s.Dialer, s.Sink, s.Config, s.Logger)
	s.Require().NoError(err, "session creation MUST succeed")
	s.Session = sess
}

// ExpectDial queues a permissive link for the next Dial call and returns it.
func (s *SessionSuite) ExpectDial() *mocks.MockLink {
	link := &mocks.MockLink{}
	link.On("DiscoverServices").Return(nil)
	link.On("WriteDescriptor", mock.Anything, mock.Anything).Return(nil)
	link.On("Disconnect").Return(nil)
	link.On("Release").Return()

	s.Dialer.On("Dial", mock.Anything, mock.Anything).Return(link, nil).Once()
	s.Links = append(s.Links, link)
	return link
}

// Emit delivers ev through the latest link's handler.
func (s *SessionSuite) Emit(ev gatt.Event) {
	s.Dialer.Emit(ev)
}

// Flush waits until every queued sink notification has been recorded.
func (s *SessionSuite) Flush() {
	s.Session.Flush()
}

// Connect dials the suite peripheral and reports the link as connected.
func (s *SessionSuite) Connect() *mocks.MockLink {
	link := s.ExpectDial()
	s.Require().NoError(s.Session.Connect(s.Peripheral), "connect MUST be accepted")
	s.Emit(gatt.ConnectionStateChanged{Status: gatt.StatusSuccess, Connected: true})
	return link
}

// Services returns the discovery result a healthy peripheral reports for the profile.
func (s *SessionSuite) Services() []gatt.Service {
	return NewServicesBuilder().WithService("1800").FromProfile(s.Profile).Build()
}

// Discover reports a successful discovery with services.
func (s *SessionSuite) Discover(services []gatt.Service) {
	s.Emit(gatt.ServicesDiscovered{Status: gatt.StatusSuccess, Services: services})
}

// Ack reports a successful CCCD write for role i.
func (s *SessionSuite) Ack(i int) {
	s.Emit(gatt.DescriptorWritten{Descriptor: s.CCCD(i), Status: gatt.StatusSuccess})
}

// CCCD returns the descriptor identifier of role i.
func (s *SessionSuite) CCCD(i int) gatt.DescriptorID {
	r := s.Profile.Roles[i]
	return gatt.ClientConfigOf(r.Service, r.Characteristic)
}

// ConnectToReady drives a full handshake and returns the link.
func (s *SessionSuite) ConnectToReady() *mocks.MockLink {
	link := s.Connect()
	s.Discover(s.Services())
	for i := range s.Profile.Roles {
		s.Ack(i)
	}
	s.Require().Equal(session.PhaseReady, s.Session.State().Phase, "handshake MUST reach Ready")
	return link
}

// Notify delivers a payload for role i.
func (s *SessionSuite) Notify(i int, data []byte) {
	s.Emit(gatt.CharacteristicChanged{Characteristic: s.Profile.Roles[i].Characteristic, Data: data})
}
