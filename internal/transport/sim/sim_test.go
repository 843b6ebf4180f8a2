//go:build test

package sim_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/roomsense/internal/codec"
	"github.com/srg/roomsense/internal/device"
	"github.com/srg/roomsense/internal/gatt"
	"github.com/srg/roomsense/internal/profile"
	"github.com/srg/roomsense/internal/registry"
	"github.com/srg/roomsense/internal/session"
	"github.com/srg/roomsense/internal/testutils"
	"github.com/srg/roomsense/internal/transport/sim"
)

var unit = device.NewPeripheral("C0:98:E5:49:00:01", "SomnoSense", -48, profile.SensorService)

func newFirmware(t *testing.T, name string) *sim.Firmware {
	t.Helper()
	p, err := profile.Builtin(name)
	require.NoError(t, err)
	fw := sim.NewFirmware(unit, p)
	fw.Latency = time.Millisecond
	fw.Interval = 10 * time.Millisecond
	return fw
}

func newSession(t *testing.T, fw *sim.Firmware) (*session.Session, *testutils.RecordingSink) {
	t.Helper()
	logger, _ := testutils.NewCapturingLogger()
	sink := testutils.NewRecordingSink()

	cfg := session.DefaultConfig(fw.Profile)
	cfg.ConnectSettle = 0
	cfg.ConnectTimeout = time.Second
	cfg.OperationTimeout = time.Second

	s, err := session.New(sim.NewDialer(fw, logger), sink, cfg, logger)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s, sink
}

func waitPhase(t *testing.T, s *session.Session, phase session.Phase) {
	t.Helper()
	require.Eventually(t, func() bool { return s.State().Is(phase) }, 2*time.Second, 2*time.Millisecond,
		"session MUST reach %s, stuck in %s", phase, s.State())
}

func TestSessionStreamsFromSimulatedFirmware(t *testing.T) {
	// GOAL: the session and the simulated firmware agree on the full handshake
	//
	// TEST SCENARIO: connect to a somnosense unit → Ready → packets of every role decode in order

	fw := newFirmware(t, profile.Somnosense)
	s, sink := newSession(t, fw)

	require.NoError(t, s.Connect(unit))
	waitPhase(t, s, session.PhaseReady)

	require.Eventually(t, func() bool {
		s.Flush()
		return len(sink.Readings()) >= 9
	}, 2*time.Second, 5*time.Millisecond, "readings MUST stream once Ready")

	assert.Equal(t, []string{"Connecting", "ServiceDiscovery", "EnablingNotifications(0)", "EnablingNotifications(1)", "EnablingNotifications(2)", "Ready"},
		sink.Phases()[:6], "handshake MUST walk every role in order")

	next := map[string]uint64{}
	for _, r := range sink.Readings() {
		assert.Equal(t, next[r.Role.Name], r.Index, "role %s indices MUST be gapless", r.Role.Name)
		next[r.Role.Name]++

		switch r.Role.Name {
		case "gas":
			assert.IsType(t, codec.GasPanel{}, r.Reading)
		case "environment":
			env := r.Reading.(codec.Environment)
			assert.InDelta(t, 21.5, env.Temperature, 1.6, "temperature MUST stay near the waveform base")
		case "sound":
			assert.IsType(t, codec.Sound{}, r.Reading)
		}
	}
	assert.Empty(t, sink.Diagnostics(), "a healthy stream MUST NOT produce diagnostics")

	require.NoError(t, s.Disconnect())
	waitPhase(t, s, session.PhaseIdle)
}

func TestGasMonitorFirmware(t *testing.T) {
	fw := newFirmware(t, profile.GasMonitor)
	s, sink := newSession(t, fw)

	require.NoError(t, s.Connect(unit))
	waitPhase(t, s, session.PhaseReady)
	require.Eventually(t, func() bool {
		s.Flush()
		return len(sink.Readings()) >= 2
	}, 2*time.Second, 5*time.Millisecond)

	for _, r := range sink.Readings() {
		assert.Equal(t, device.NormalizeUUID(profile.LegacyGasCharacteristic), r.Role.Characteristic)
	}
}

func TestMissingServiceFails(t *testing.T) {
	// GOAL: firmware that lacks the sensor service is rejected
	//
	// TEST SCENARIO: discovery returns only the battery service → Failed(ServiceNotFound)

	fw := newFirmware(t, profile.Somnosense)
	fw.Services = []gatt.Service{{UUID: "180f"}}
	s, _ := newSession(t, fw)

	require.NoError(t, s.Connect(unit))
	waitPhase(t, s, session.PhaseFailed)
	assert.Equal(t, session.FailureServiceNotFound, s.State().Reason.Kind)
}

func TestWrongAddressFailsToConnect(t *testing.T) {
	fw := newFirmware(t, profile.Somnosense)
	s, sink := newSession(t, fw)

	require.NoError(t, s.Connect(device.NewPeripheral("AA:BB:CC:DD:EE:FF", "", 0)))
	waitPhase(t, s, session.PhaseIdle)
	s.Flush()
	assert.Equal(t, []string{"Connecting", "Failed(Transport)", "Idle"}, sink.Phases())
}

func TestFirmwareDropsConnection(t *testing.T) {
	// GOAL: a peripheral-side disconnect ends the session cleanly
	//
	// TEST SCENARIO: firmware drops after 4 packets → Idle, no more readings

	fw := newFirmware(t, profile.Somnosense)
	fw.DropAfter = 4
	s, sink := newSession(t, fw)

	require.NoError(t, s.Connect(unit))
	require.Eventually(t, func() bool {
		s.Flush()
		phases := sink.Phases()
		return len(phases) > 0 && phases[len(phases)-1] == "Idle"
	}, 2*time.Second, 2*time.Millisecond, "session MUST return to Idle after the drop")

	assert.Len(t, sink.Readings(), 4, "exactly the packets sent before the drop MUST be delivered")
	assert.Contains(t, sink.Phases(), "Ready")
	assert.NotContains(t, sink.Phases(), "Failed(Transport)", "a drop while Ready MUST NOT be a failure")
}

func TestReconnectRestartsIndices(t *testing.T) {
	fw := newFirmware(t, profile.GasMonitor)
	s, sink := newSession(t, fw)

	for round := 0; round < 2; round++ {
		require.NoError(t, s.Connect(unit))
		waitPhase(t, s, session.PhaseReady)
		require.Eventually(t, func() bool {
			s.Flush()
			return len(sink.Readings()) >= 1
		}, 2*time.Second, 5*time.Millisecond)
		assert.Equal(t, uint64(0), sink.Readings()[0].Index, "round %d MUST start at index 0", round)

		require.NoError(t, s.Disconnect())
		waitPhase(t, s, session.PhaseIdle)
		s.Flush()
		sink.Reset()
	}
}

func TestScannerAdvertises(t *testing.T) {
	fw := newFirmware(t, profile.Somnosense)
	logger, _ := testutils.NewCapturingLogger()
	reg := registry.New(logger)
	defer reg.Close()

	ctx, cancel := context.WithTimeout(t.Context(), 30*time.Millisecond)
	defer cancel()
	require.NoError(t, sim.NewScanner(fw, 5*time.Millisecond).Scan(ctx, reg))

	p, ok := reg.Lookup(unit.Address)
	require.True(t, ok, "advertised unit MUST be in the registry")
	assert.Equal(t, "SomnoSense", p.Name)
	assert.Equal(t, 1, reg.Len())
}

func TestWaveformCoversEveryLayout(t *testing.T) {
	for _, layout := range codec.Layouts() {
		r := sim.Waveform(profile.Role{Layout: layout}, 3)
		require.NotNil(t, r, "layout %s MUST have a waveform", layout)
		_, err := codec.Encode(layout, r)
		assert.NoError(t, err, "waveform for %s MUST encode", layout)
	}
}
