//go:build test

package session_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"

	"github.com/srg/roomsense/internal/codec"
	"github.com/srg/roomsense/internal/device"
	"github.com/srg/roomsense/internal/gatt"
	"github.com/srg/roomsense/internal/profile"
	"github.com/srg/roomsense/internal/session"
	"github.com/srg/roomsense/internal/testutils"
	"github.com/srg/roomsense/internal/testutils/mocks"
)

type SessionTestSuite struct {
	testutils.SessionSuite
}

func TestSessionTestSuite(t *testing.T) {
	suite.Run(t, new(SessionTestSuite))
}

func (s *SessionTestSuite) gasPayload(g codec.GasPanel) []byte {
	data, err := codec.Encode(codec.LayoutGasPanel, g)
	s.Require().NoError(err)
	return data
}

func (s *SessionTestSuite) countPhase(phase string) int {
	n := 0
	for _, p := range s.Sink.Phases() {
		if p == phase {
			n++
		}
	}
	return n
}

func (s *SessionTestSuite) TestHandshakeReachesReadyAndForwardsGasPanel() {
	// GOAL: Verify the two-role handshake reaches Ready and the first gas packet is forwarded with index 0
	//
	// TEST SCENARIO: connect → connected → discovery → ack(0) → ack(1) → Ready → 20-byte gas packet → one reading
	p, err := profile.WithRoles(s.Profile, s.Profile.Roles[:2])
	s.Require().NoError(err)
	s.Profile = p
	s.NewSession()

	link := s.Connect()
	s.Discover(s.Services())
	s.Equal("EnablingNotifications(0)", s.Session.State().String())
	s.Ack(0)
	s.Equal("EnablingNotifications(1)", s.Session.State().String())
	s.Ack(1)
	s.Equal(session.PhaseReady, s.Session.State().Phase)

	s.Notify(0, s.gasPayload(codec.GasPanel{CO: 1, NO2: 2, NH3: 3, CH4: 4, EtOH: 5}))
	s.Flush()

	readings := s.Sink.Readings()
	s.Require().Len(readings, 1, "exactly one reading MUST be forwarded")
	s.Equal("gas", readings[0].Role.Name)
	s.Equal(codec.GasPanel{CO: 1, NO2: 2, NH3: 3, CH4: 4, EtOH: 5}, readings[0].Reading)
	s.Equal(uint64(0), readings[0].Index)

	s.Equal([]string{
		"Connecting",
		"ServiceDiscovery",
		"EnablingNotifications(0)",
		"EnablingNotifications(1)",
		"Ready",
	}, s.Sink.Phases())

	link.AssertNumberOfCalls(s.T(), "DiscoverServices", 1)
	link.AssertCalled(s.T(), "WriteDescriptor", s.CCCD(0), gatt.EnableNotificationValue())
	link.AssertCalled(s.T(), "WriteDescriptor", s.CCCD(1), gatt.EnableNotificationValue())
	link.AssertNotCalled(s.T(), "Release")
}

func (s *SessionTestSuite) TestRolesEnabledInDeclaredOrder() {
	link := s.ConnectToReady()

	var written []gatt.DescriptorID
	for _, call := range link.Calls {
		if call.Method == "WriteDescriptor" {
			written = append(written, call.Arguments.Get(0).(gatt.DescriptorID))
		}
	}
	s.Equal([]gatt.DescriptorID{s.CCCD(0), s.CCCD(1), s.CCCD(2)}, written, "CCCD writes MUST follow role order gas, environment, sound")
}

func (s *SessionTestSuite) TestServiceNotFoundIssuesNoFurtherRequests() {
	// GOAL: Verify a discovery result without the sensor service fails the session and stops all requests
	//
	// TEST SCENARIO: connect → connected → discovery with only GAP service → Failed(ServiceNotFound), release only
	link := s.Connect()
	s.Discover(testutils.NewServicesBuilder().WithService("1800").WithCharacteristic("2a00", "read").Build())

	state := s.Session.State()
	s.Equal(session.PhaseFailed, state.Phase, "protocol failures MUST rest in Failed")
	s.Equal("Failed(ServiceNotFound)", state.String())
	s.ErrorIs(state.Reason, session.ErrServiceNotFound)

	var notFound *device.NotFoundError
	s.ErrorAs(state.Reason, &notFound)

	link.AssertNumberOfCalls(s.T(), "DiscoverServices", 1)
	link.AssertNotCalled(s.T(), "WriteDescriptor", mock.Anything, mock.Anything)
	link.AssertNotCalled(s.T(), "Disconnect")
	link.AssertNumberOfCalls(s.T(), "Release", 1)

	// Late callbacks from the released link are dropped
	s.Ack(0)
	s.Equal(session.PhaseFailed, s.Session.State().Phase)
}

func (s *SessionTestSuite) TestConnectRejectedWhileBusy() {
	// GOAL: Verify Connect during ServiceDiscovery is rejected and leaves the attempt untouched
	//
	// TEST SCENARIO: connect → connected (ServiceDiscovery) → second Connect → ErrSessionBusy, same state, one dial
	link := s.Connect()
	before := s.Session.State()
	s.Equal(session.PhaseServiceDiscovery, before.Phase)

	other := device.NewPeripheral("C0:98:E5:49:00:02", "Other", -70)
	err := s.Session.Connect(other)

	s.Error(err)
	s.ErrorIs(err, session.ErrSessionBusy)
	s.True(device.IsConnectionState(err, device.Busy))
	s.Contains(err.Error(), "session busy")

	s.Equal(before, s.Session.State())
	s.Equal(1, s.Dialer.Dials(), "busy connect MUST NOT dial")
	link.AssertNotCalled(s.T(), "Release")

	current, ok := s.Session.Peripheral()
	s.True(ok)
	s.Equal(s.Peripheral.Address, current.Address)

	// The running attempt continues normally
	s.Discover(s.Services())
	s.Equal("EnablingNotifications(0)", s.Session.State().String())
}

func (s *SessionTestSuite) TestConnectRejectedInEveryBusyPhase() {
	s.ExpectDial()
	s.Require().NoError(s.Session.Connect(s.Peripheral))
	s.ErrorIs(s.Session.Connect(s.Peripheral), session.ErrSessionBusy, "Connecting MUST be busy")

	s.Emit(gatt.ConnectionStateChanged{Status: gatt.StatusSuccess, Connected: true})
	s.Discover(s.Services())
	s.ErrorIs(s.Session.Connect(s.Peripheral), session.ErrSessionBusy, "EnablingNotifications MUST be busy")

	for i := range s.Profile.Roles {
		s.Ack(i)
	}
	s.ErrorIs(s.Session.Connect(s.Peripheral), session.ErrSessionBusy, "Ready MUST be busy")

	s.Require().NoError(s.Session.Disconnect())
	s.ErrorIs(s.Session.Connect(s.Peripheral), session.ErrSessionBusy, "Disconnecting MUST be busy")
	s.Equal(1, s.Dialer.Dials())
}

func (s *SessionTestSuite) TestOutOfOrderAcksDoNotAdvance() {
	// GOAL: Verify acknowledgments for roles other than the one in flight are ignored
	//
	// TEST SCENARIO: awaiting ack(0) → ack(2), ack(1) → still (0); ack(0) → (1); duplicate ack(0) → still (1)
	link := s.Connect()
	s.Discover(s.Services())

	s.Ack(2)
	s.Ack(1)
	s.Equal("EnablingNotifications(0)", s.Session.State().String(), "out-of-order acks MUST NOT advance")

	s.Ack(0)
	s.Equal("EnablingNotifications(1)", s.Session.State().String())

	s.Ack(0)
	s.Equal("EnablingNotifications(1)", s.Session.State().String(), "duplicate acks MUST NOT advance")

	s.Flush()
	s.Len(s.Sink.DiagnosticsOf(session.DiagSequencing), 3, "every ignored ack MUST be reported")

	// Only the in-flight role's CCCD was written so far
	link.AssertNumberOfCalls(s.T(), "WriteDescriptor", 2)

	s.Ack(1)
	s.Ack(2)
	s.Equal(session.PhaseReady, s.Session.State().Phase)
}

func (s *SessionTestSuite) TestRepeatedOutOfOrderAcksFailSequencing() {
	// GOAL: Verify a peripheral that keeps acknowledging the wrong descriptor ends in Failed(Sequencing)
	//
	// TEST SCENARIO: MaxIgnoredAcks=2 → awaiting ack(0) → ack(2)×3 → Failed(Sequencing), rests in Failed, link released
	s.Config.MaxIgnoredAcks = 2
	s.NewSession()

	link := s.Connect()
	s.Discover(s.Services())
	s.Ack(2)
	s.Ack(2)
	s.Equal("EnablingNotifications(0)", s.Session.State().String(), "acks within the limit MUST only be reported")

	s.Ack(2)
	state := s.Session.State()
	s.Equal("Failed(Sequencing)", state.String())
	s.ErrorIs(state.Reason, session.ErrSequencing)
	s.Equal(0, state.Reason.RoleIndex)
	link.AssertNumberOfCalls(s.T(), "Release", 1)
	link.AssertNumberOfCalls(s.T(), "WriteDescriptor", 1)

	s.Flush()
	s.Equal(0, s.countPhase("Idle"), "a sequencing failure MUST rest in Failed")
	s.Len(s.Sink.DiagnosticsOf(session.DiagSequencing), 3)
}

func (s *SessionTestSuite) TestIgnoredAckCountRestartsPerRole() {
	s.Config.MaxIgnoredAcks = 1
	s.NewSession()

	s.Connect()
	s.Discover(s.Services())
	s.Ack(2)
	s.Ack(0)
	s.Ack(0)
	s.Equal("EnablingNotifications(1)", s.Session.State().String(), "each role MUST get its own allowance")
}

func (s *SessionTestSuite) TestAckBeforeDiscoveryIsIgnored() {
	s.Connect()
	s.Ack(0)
	s.Equal(session.PhaseServiceDiscovery, s.Session.State().Phase)
}

func (s *SessionTestSuite) TestDisconnectionEventReturnsToIdleOnce() {
	// GOAL: Verify a transport disconnect in any live phase ends in Idle exactly once with one release
	//
	// TEST SCENARIO: drive to each phase → emit disconnected → Idle, Release×1, Idle recorded once
	tests := []struct {
		name  string
		drive func()
	}{
		{"Connecting", func() {
			s.ExpectDial()
			s.Require().NoError(s.Session.Connect(s.Peripheral))
		}},
		{"ServiceDiscovery", func() { s.Connect() }},
		{"EnablingNotifications(0)", func() {
			s.Connect()
			s.Discover(s.Services())
		}},
		{"EnablingNotifications(2)", func() {
			s.Connect()
			s.Discover(s.Services())
			s.Ack(0)
			s.Ack(1)
		}},
		{"Ready", func() { s.ConnectToReady() }},
		{"Disconnecting", func() {
			s.ConnectToReady()
			s.Require().NoError(s.Session.Disconnect())
		}},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			s.NewSession()
			tt.drive()
			s.Equal(tt.name, s.Session.State().String())

			s.Emit(gatt.ConnectionStateChanged{Status: gatt.StatusRemoteTerminated, Connected: false})
			s.Emit(gatt.ConnectionStateChanged{Status: gatt.StatusRemoteTerminated, Connected: false})
			s.Flush()

			s.Equal(session.PhaseIdle, s.Session.State().Phase)
			s.Equal(1, s.countPhase("Idle"), "Idle MUST be entered exactly once")
			s.Links[0].AssertNumberOfCalls(s.T(), "Release", 1)
		})
	}
}

func (s *SessionTestSuite) TestReadyDisconnectIsNotAFailure() {
	s.ConnectToReady()
	s.Emit(gatt.ConnectionStateChanged{Status: gatt.StatusSuccess, Connected: false})
	s.Flush()

	s.Equal(0, s.countPhase("Failed(Transport)"), "peer disconnect from Ready MUST NOT be reported as failure")
	states := s.Sink.States()
	s.Contains(states[len(states)-1].Message, "disconnected from SomnoSense")
}

func (s *SessionTestSuite) TestExplicitDisconnect() {
	link := s.ConnectToReady()

	s.Require().NoError(s.Session.Disconnect())
	s.Equal(session.PhaseDisconnecting, s.Session.State().Phase)
	s.Require().NoError(s.Session.Disconnect(), "repeated Disconnect MUST be a no-op")
	link.AssertNumberOfCalls(s.T(), "Disconnect", 1)

	s.Emit(gatt.ConnectionStateChanged{Status: gatt.StatusLocalTerminated, Connected: false})
	s.Equal(session.PhaseIdle, s.Session.State().Phase)
	link.AssertNumberOfCalls(s.T(), "Release", 1)

	s.Require().NoError(s.Session.Disconnect(), "Disconnect from Idle MUST be a no-op")
	link.AssertNumberOfCalls(s.T(), "Disconnect", 1)
	link.AssertNumberOfCalls(s.T(), "Release", 1)
}

func (s *SessionTestSuite) TestDisconnectReleasesWhenTransportRefuses() {
	link := &mocks.MockLink{}
	link.On("DiscoverServices").Return(nil)
	link.On("Disconnect").Return(device.ErrNotConnected)
	link.On("Release").Return()
	s.Dialer.On("Dial", mock.Anything, mock.Anything).Return(link, nil).Once()

	s.Require().NoError(s.Session.Connect(s.Peripheral))
	s.Emit(gatt.ConnectionStateChanged{Status: gatt.StatusSuccess, Connected: true})

	s.Require().NoError(s.Session.Disconnect())
	s.Equal(session.PhaseIdle, s.Session.State().Phase, "a refused disconnect MUST complete teardown immediately")
	link.AssertNumberOfCalls(s.T(), "Release", 1)

	s.Flush()
	diags := s.Sink.DiagnosticsOf(session.DiagTransport)
	s.Require().Len(diags, 1, "a refused disconnect MUST be reported as a transport diagnostic")
	s.ErrorIs(diags[0].Err, device.ErrNotConnected)
}

func (s *SessionTestSuite) TestDisconnectFromFailedReturnsToIdle() {
	s.Connect()
	s.Discover(nil)
	s.Require().Equal(session.PhaseFailed, s.Session.State().Phase)

	s.Require().NoError(s.Session.Disconnect())
	s.Equal(session.PhaseIdle, s.Session.State().Phase)
	s.Links[0].AssertNumberOfCalls(s.T(), "Release", 1)
}

func (s *SessionTestSuite) TestReconnectAfterFailureDropsStaleEvents() {
	// GOAL: Verify a new Connect from Failed opens a fresh link and ignores the old link's callbacks
	//
	// TEST SCENARIO: Failed(ServiceNotFound) → Connect → old handler emits connected → ignored; new handler drives Ready
	s.Connect()
	s.Discover(nil)
	s.Require().Equal(session.PhaseFailed, s.Session.State().Phase)

	second := s.ExpectDial()
	s.Require().NoError(s.Session.Connect(s.Peripheral), "Connect MUST be accepted from Failed")
	s.Equal(session.PhaseConnecting, s.Session.State().Phase)

	s.Dialer.Handler(0)(gatt.ConnectionStateChanged{Status: gatt.StatusSuccess, Connected: true})
	s.Equal(session.PhaseConnecting, s.Session.State().Phase, "stale link events MUST be dropped")

	s.Emit(gatt.ConnectionStateChanged{Status: gatt.StatusSuccess, Connected: true})
	s.Discover(s.Services())
	for i := range s.Profile.Roles {
		s.Ack(i)
	}
	s.Equal(session.PhaseReady, s.Session.State().Phase)
	second.AssertNumberOfCalls(s.T(), "DiscoverServices", 1)
	s.Links[0].AssertNumberOfCalls(s.T(), "Release", 1)
}

func (s *SessionTestSuite) TestCharacteristicNotFound() {
	link := s.Connect()
	services := testutils.NewServicesBuilder().
		WithService(profile.SensorService).
		WithCharacteristic(profile.GasCharacteristic, "read,notify").
		WithCharacteristic(profile.SoundCharacteristic, "read,notify").
		Build()
	s.Discover(services)
	s.Ack(0)

	state := s.Session.State()
	s.Equal("Failed(CharacteristicNotFound(1))", state.String())
	s.ErrorIs(state.Reason, session.ErrCharacteristicNotFound)
	s.Equal(1, state.Reason.RoleIndex)
	link.AssertNumberOfCalls(s.T(), "WriteDescriptor", 1)
	link.AssertNumberOfCalls(s.T(), "Release", 1)
}

func (s *SessionTestSuite) TestCharacteristicWithoutNotifySupport() {
	s.Connect()
	services := testutils.NewServicesBuilder().
		WithService(profile.SensorService).
		WithCharacteristic(profile.GasCharacteristic, "read").
		Build()
	s.Discover(services)

	s.Equal("Failed(CharacteristicNotFound(0))", s.Session.State().String())
}

func (s *SessionTestSuite) TestCharacteristicWithoutCCCD() {
	s.Connect()
	services := testutils.NewServicesBuilder().
		WithService(profile.SensorService).
		WithCharacteristicDescriptors(profile.GasCharacteristic, "notify", "2901").
		Build()
	s.Discover(services)

	s.Equal("Failed(CharacteristicNotFound(0))", s.Session.State().String())
}

func (s *SessionTestSuite) TestIndicateOnlyCharacteristicUsesIndicationValue() {
	link := s.Connect()
	services := testutils.NewServicesBuilder().
		WithService(profile.SensorService).
		WithCharacteristic(profile.GasCharacteristic, "indicate").
		Build()
	s.Discover(services)

	link.AssertCalled(s.T(), "WriteDescriptor", s.CCCD(0), gatt.EnableIndicationValue())
}

func (s *SessionTestSuite) TestTransportFailuresReturnToIdle() {
	tests := []struct {
		name  string
		drive func()
	}{
		{"connect status error", func() {
			s.ExpectDial()
			s.Require().NoError(s.Session.Connect(s.Peripheral))
			s.Emit(gatt.ConnectionStateChanged{Status: gatt.StatusConnectionFailed, Connected: false})
		}},
		{"connected with error status", func() {
			s.ExpectDial()
			s.Require().NoError(s.Session.Connect(s.Peripheral))
			s.Emit(gatt.ConnectionStateChanged{Status: gatt.StatusError, Connected: true})
		}},
		{"discovery status error", func() {
			s.Connect()
			s.Emit(gatt.ServicesDiscovered{Status: gatt.StatusFailure})
		}},
		{"descriptor write status error", func() {
			s.Connect()
			s.Discover(s.Services())
			s.Emit(gatt.DescriptorWritten{Descriptor: s.CCCD(0), Status: gatt.StatusWriteNotPermitted})
		}},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			s.NewSession()
			tt.drive()
			s.Flush()

			s.Equal(session.PhaseIdle, s.Session.State().Phase, "transport failures MUST continue to Idle")
			phases := s.Sink.Phases()
			s.Require().GreaterOrEqual(len(phases), 2)
			s.Equal([]string{"Failed(Transport)", "Idle"}, phases[len(phases)-2:])
			s.Links[0].AssertNumberOfCalls(s.T(), "Release", 1)
		})
	}
}

func (s *SessionTestSuite) TestRequestErrorsFailTheSession() {
	link := &mocks.MockLink{}
	link.On("DiscoverServices").Return(errors.New("gatt busy"))
	link.On("Release").Return()
	s.Dialer.On("Dial", mock.Anything, mock.Anything).Return(link, nil).Once()

	s.Require().NoError(s.Session.Connect(s.Peripheral))
	s.Emit(gatt.ConnectionStateChanged{Status: gatt.StatusSuccess, Connected: true})
	s.Flush()

	s.Equal(session.PhaseIdle, s.Session.State().Phase)
	s.Contains(s.Sink.Phases(), "Failed(Transport)")
	link.AssertNumberOfCalls(s.T(), "Release", 1)
}

func (s *SessionTestSuite) TestDialErrorFailsConnect() {
	s.Dialer.On("Dial", mock.Anything, mock.Anything).Return(nil, device.ErrBluetoothOff).Once()

	err := s.Session.Connect(s.Peripheral)
	s.ErrorIs(err, device.ErrBluetoothOff)
	s.Equal(session.PhaseIdle, s.Session.State().Phase)

	s.Flush()
	s.Equal([]string{"Connecting", "Failed(Transport)", "Idle"}, s.Sink.Phases())
}

func (s *SessionTestSuite) TestConnectTimeout() {
	// GOAL: Verify a connect attempt with no callback times out and force-releases the link
	//
	// TEST SCENARIO: ConnectTimeout=30ms → Connect → no events → Failed(Timeout) → Idle, Release×1
	s.Config.ConnectTimeout = 30 * time.Millisecond
	s.NewSession()

	link := s.ExpectDial()
	s.Require().NoError(s.Session.Connect(s.Peripheral))

	s.Eventually(func() bool {
		return s.Session.State().Phase == session.PhaseIdle
	}, time.Second, 5*time.Millisecond, "session MUST time out back to Idle")

	s.Flush()
	s.Contains(s.Sink.Phases(), "Failed(Timeout)")
	link.AssertNumberOfCalls(s.T(), "Release", 1)

	// A late connected callback from the timed-out link is ignored
	s.Emit(gatt.ConnectionStateChanged{Status: gatt.StatusSuccess, Connected: true})
	s.Equal(session.PhaseIdle, s.Session.State().Phase)
}

func (s *SessionTestSuite) TestConnectTimeoutCancelledByConnection() {
	s.Config.ConnectTimeout = 30 * time.Millisecond
	s.NewSession()

	s.Connect()
	time.Sleep(60 * time.Millisecond)

	s.Equal(session.PhaseServiceDiscovery, s.Session.State().Phase, "connected session MUST NOT time out")
}

func (s *SessionTestSuite) TestOperationTimeoutDuringEnable() {
	s.Config.OperationTimeout = 30 * time.Millisecond
	s.NewSession()

	link := s.Connect()
	s.Discover(s.Services())
	s.Ack(0)

	s.Eventually(func() bool {
		return s.Session.State().Phase == session.PhaseIdle
	}, time.Second, 5*time.Millisecond)

	s.Flush()
	s.Contains(s.Sink.Phases(), "Failed(Timeout)")
	link.AssertNumberOfCalls(s.T(), "Release", 1)
}

func (s *SessionTestSuite) TestTeardownTimeoutForcesRelease() {
	s.Config.OperationTimeout = 30 * time.Millisecond
	s.NewSession()

	link := s.ConnectToReady()
	s.Require().NoError(s.Session.Disconnect())

	s.Eventually(func() bool {
		return s.Session.State().Phase == session.PhaseIdle
	}, time.Second, 5*time.Millisecond, "a teardown without completion MUST be forced")
	link.AssertNumberOfCalls(s.T(), "Release", 1)
}

func (s *SessionTestSuite) TestConnectSettleDelaysDiscovery() {
	s.Config.ConnectSettle = 40 * time.Millisecond
	s.NewSession()

	link := s.Connect()
	s.Equal(session.PhaseServiceDiscovery, s.Session.State().Phase)
	link.AssertNotCalled(s.T(), "DiscoverServices")

	// Results cannot arrive before discovery was requested
	s.Discover(s.Services())
	s.Equal(session.PhaseServiceDiscovery, s.Session.State().Phase)

	s.Eventually(func() bool {
		s.Discover(s.Services())
		return s.Session.State().Phase == session.PhaseEnablingNotifications
	}, time.Second, 5*time.Millisecond, "discovery MUST start after the settle delay")
	link.AssertNumberOfCalls(s.T(), "DiscoverServices", 1)
}

func (s *SessionTestSuite) TestSettleCancelledByDisconnect() {
	s.Config.ConnectSettle = 30 * time.Millisecond
	s.NewSession()

	link := s.Connect()
	s.Require().NoError(s.Session.Disconnect())
	s.Emit(gatt.ConnectionStateChanged{Status: gatt.StatusSuccess, Connected: false})
	time.Sleep(60 * time.Millisecond)

	link.AssertNotCalled(s.T(), "DiscoverServices")
	s.Equal(session.PhaseIdle, s.Session.State().Phase)
}

func (s *SessionTestSuite) TestNotificationsDuringEnablement() {
	// GOAL: Verify notifications for already-enabled roles flow during enablement and others are flagged
	//
	// TEST SCENARIO: ack(0) → gas notify forwarded; sound notify (not yet enabled) → sequencing diagnostic
	s.Connect()
	s.Discover(s.Services())
	s.Ack(0)

	s.Notify(0, s.gasPayload(codec.GasPanel{CO: 9}))
	soundData, err := codec.Encode(codec.LayoutSound, codec.Sound{Count: 3})
	s.Require().NoError(err)
	s.Notify(2, soundData)
	s.Flush()

	readings := s.Sink.Readings()
	s.Require().Len(readings, 1)
	s.Equal("gas", readings[0].Role.Name)
	s.Len(s.Sink.DiagnosticsOf(session.DiagSequencing), 1)
}

func (s *SessionTestSuite) TestNotificationBeforeEnablementIsFlagged() {
	s.Connect()
	s.Notify(0, s.gasPayload(codec.GasPanel{}))
	s.Flush()

	s.Empty(s.Sink.Readings())
	s.Len(s.Sink.DiagnosticsOf(session.DiagSequencing), 1)
}

func (s *SessionTestSuite) TestReadyRoutingDiagnostics() {
	s.ConnectToReady()

	s.Emit(gatt.CharacteristicChanged{Characteristic: "2a19", Data: []byte{99}})
	s.Notify(0, []byte{1, 2, 3})
	s.Notify(0, s.gasPayload(codec.GasPanel{CO: 1}))
	s.Flush()

	s.Len(s.Sink.DiagnosticsOf(session.DiagUnrecognized), 1)
	decode := s.Sink.DiagnosticsOf(session.DiagDecode)
	s.Require().Len(decode, 1)
	s.ErrorIs(decode[0].Err, codec.ErrTooShort)
	s.Equal(session.PhaseReady, s.Session.State().Phase, "decode errors MUST NOT change session state")

	readings := s.Sink.Readings()
	s.Require().Len(readings, 1)
	s.Equal(uint64(0), readings[0].Index, "dropped payloads MUST NOT consume an index")
}

func (s *SessionTestSuite) TestIndicesArePerRoleAndResetPerSession() {
	s.ConnectToReady()

	env, err := codec.Encode(codec.LayoutEnvironment, codec.Environment{Temperature: 21, Humidity: 40})
	s.Require().NoError(err)

	s.Notify(0, s.gasPayload(codec.GasPanel{}))
	s.Notify(1, env)
	s.Notify(0, s.gasPayload(codec.GasPanel{}))
	s.Notify(1, env)
	s.Notify(0, s.gasPayload(codec.GasPanel{}))
	s.Flush()

	var gas, environment []uint64
	for _, r := range s.Sink.Readings() {
		switch r.Role.Name {
		case "gas":
			gas = append(gas, r.Index)
		case "environment":
			environment = append(environment, r.Index)
		}
	}
	s.Equal([]uint64{0, 1, 2}, gas)
	s.Equal([]uint64{0, 1}, environment)

	s.Emit(gatt.ConnectionStateChanged{Status: gatt.StatusRemoteTerminated})
	s.Flush()
	s.Sink.Reset()
	s.ConnectToReady()
	s.Notify(0, s.gasPayload(codec.GasPanel{}))
	s.Flush()

	readings := s.Sink.Readings()
	s.Require().Len(readings, 1)
	s.Equal(uint64(0), readings[0].Index, "indices MUST restart for a new session")
}

func (s *SessionTestSuite) TestSinkMayCallBackIntoSession() {
	// GOAL: Verify sinks run outside the state lock and may drive the session
	//
	// TEST SCENARIO: sink disconnects on Ready → no deadlock, session reaches Disconnecting
	s.Sink.OnState = func(st session.State) {
		if st.Phase == session.PhaseReady {
			_ = s.Session.Disconnect()
		}
	}

	link := s.ConnectToReady()
	s.Eventually(func() bool {
		return s.Session.State().Phase == session.PhaseDisconnecting
	}, time.Second, 5*time.Millisecond)
	link.AssertNumberOfCalls(s.T(), "Disconnect", 1)
}

func (s *SessionTestSuite) TestCloseFlushesAndReleases() {
	link := s.ConnectToReady()
	s.Notify(0, s.gasPayload(codec.GasPanel{CO: 7}))

	s.Session.Close()
	s.Session.Close()

	s.Len(s.Sink.Readings(), 1, "Close MUST deliver queued notifications")
	phases := s.Sink.Phases()
	s.Equal("Idle", phases[len(phases)-1])
	link.AssertNumberOfCalls(s.T(), "Release", 1)

	s.ErrorIs(s.Session.Connect(s.Peripheral), session.ErrClosed)
}

func (s *SessionTestSuite) TestApplyUsesCurrentLink() {
	s.ExpectDial()
	s.Require().NoError(s.Session.Connect(s.Peripheral))

	s.Session.Apply(gatt.ConnectionStateChanged{Status: gatt.StatusSuccess, Connected: true})
	s.Equal(session.PhaseServiceDiscovery, s.Session.State().Phase)

	s.Session.Apply(gatt.ConnectionStateChanged{Status: gatt.StatusSuccess, Connected: true})
	s.Flush()
	s.Len(s.Sink.DiagnosticsOf(session.DiagSequencing), 1, "duplicate connected callbacks MUST be reported")
}

type GasMonitorSessionSuite struct {
	testutils.SessionSuite
}

func TestGasMonitorSessionSuite(t *testing.T) {
	s := new(GasMonitorSessionSuite)
	s.ProfileName = profile.GasMonitor
	suite.Run(t, s)
}

func (s *GasMonitorSessionSuite) TestSingleRoleHandshake() {
	link := s.Connect()
	s.Discover(s.Services())
	s.Ack(0)

	s.Equal(session.PhaseReady, s.Session.State().Phase)
	want := gatt.ClientConfigOf(profile.SensorService, profile.LegacyGasCharacteristic)
	s.Equal(want, s.CCCD(0))
	link.AssertCalled(s.T(), "WriteDescriptor", want, gatt.EnableNotificationValue())
}

func (s *GasMonitorSessionSuite) TestNewerFirmwareServicesAreMissingLegacyCharacteristic() {
	s.Connect()
	services := testutils.NewServicesBuilder().
		WithService(profile.SensorService).
		WithCharacteristic(profile.GasCharacteristic, "notify").
		Build()
	s.Discover(services)

	s.Equal("Failed(CharacteristicNotFound(0))", s.Session.State().String())
}
