package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/srg/roomsense/internal/codec"
	"github.com/srg/roomsense/internal/device"
	"github.com/srg/roomsense/internal/gatt"
	"github.com/srg/roomsense/internal/profile"
	"github.com/srg/roomsense/internal/session"
	"github.com/srg/roomsense/internal/sink"
	"github.com/srg/roomsense/internal/transport/sim"
	"github.com/srg/roomsense/pkg/config"
)

// monitorCmd represents the monitor command
var monitorCmd = &cobra.Command{
	Use:   "monitor <device-address>",
	Short: "Stream readings from one unit",
	Long: `Connects to a room monitor unit, enables its sensor characteristics in
firmware order and prints every decoded reading until Ctrl+C or until the unit
disconnects.

Examples:
  # Default somnosense firmware
  roomsense monitor C0:98:E5:49:00:01

  # Gas-only firmware, JSON lines, forwarded to a broker
  roomsense monitor C0:98:E5:49:00:01 --profile gas-monitor --format json \
    --mqtt-broker tcp://localhost:1883

  # No hardware: a simulated unit at the given address
  roomsense monitor C0:98:E5:49:00:01 --simulate --duration 10s`,
	Args: cobra.ExactArgs(1),
	RunE: runMonitor,
}

var (
	monitorProfile    string
	monitorConfigPath string
	monitorSettle     time.Duration
	monitorTimeout    time.Duration
	monitorFormat     string
	monitorMQTTBroker string
	monitorSimulate   bool
	monitorBackend    string
	monitorDuration   time.Duration
	monitorInterval   time.Duration
)

func init() {
	monitorCmd.Flags().StringVarP(&monitorProfile, "profile", "p", profile.Somnosense, "Firmware profile name or YAML role table path")
	monitorCmd.Flags().StringVarP(&monitorConfigPath, "config", "c", "", "YAML config file")
	monitorCmd.Flags().DurationVar(&monitorSettle, "settle", 600*time.Millisecond, "Delay between connecting and service discovery")
	monitorCmd.Flags().DurationVar(&monitorTimeout, "timeout", 15*time.Second, "Connection timeout")
	monitorCmd.Flags().StringVarP(&monitorFormat, "format", "f", "text", "Output format (text, json)")
	monitorCmd.Flags().StringVar(&monitorMQTTBroker, "mqtt-broker", "", "Forward readings to this MQTT broker, e.g. tcp://localhost:1883")
	monitorCmd.Flags().BoolVar(&monitorSimulate, "simulate", false, "Talk to a simulated unit instead of a radio")
	monitorCmd.Flags().StringVar(&monitorBackend, "backend", "goble", "BLE backend (goble, bluez)")
	monitorCmd.Flags().DurationVarP(&monitorDuration, "duration", "d", 0, "Stop after this long (0 until Ctrl+C)")
	monitorCmd.Flags().DurationVar(&monitorInterval, "sim-interval", time.Second, "Packet interval of the simulated unit")
}

// monitorConfig merges the config file with the flags the user set.
func monitorConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(monitorConfigPath)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("profile") || monitorConfigPath == "" {
		cfg.Profile = monitorProfile
	}
	if flags.Changed("settle") {
		cfg.ConnectSettle = monitorSettle
	}
	if flags.Changed("timeout") {
		cfg.ConnectTimeout = monitorTimeout
	}
	if monitorMQTTBroker != "" {
		cfg.MQTT.Enabled = true
		cfg.MQTT.Broker = monitorMQTTBroker
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runMonitor(cmd *cobra.Command, args []string) error {
	if !contains(monitorFormats, monitorFormat) {
		return fmt.Errorf("invalid format '%s': must be one of %v", monitorFormat, monitorFormats)
	}
	if monitorSimulate && monitorInterval <= 0 {
		return fmt.Errorf("--sim-interval must be positive")
	}

	cfg, err := monitorConfig(cmd)
	if err != nil {
		return err
	}

	fallback := defaultLogLevel
	if monitorConfigPath != "" {
		fallback = cfg.Level()
	}
	logger, err := configureLogger(cmd, fallback)
	if err != nil {
		return err
	}

	prof, err := cfg.ResolveProfile()
	if err != nil {
		return err
	}

	target := device.NewPeripheral(args[0], "", 0)
	if target.Address == "" {
		return fmt.Errorf("device address is required")
	}

	cmd.SilenceUsage = true

	var dialer gatt.Dialer
	if monitorSimulate {
		fw := sim.NewFirmware(device.NewPeripheral(target.Address, "SomnoSense-sim", -42, prof.Service), prof)
		fw.Interval = monitorInterval
		dialer = sim.NewDialer(fw, logger)
	} else {
		b, err := backendFactory(monitorBackend, prof.Services(), logger)
		if err != nil {
			return err
		}
		dialer = b.dialer
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if monitorDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, monitorDuration)
		defer cancel()
	}

	recent, err := sink.NewRecorder(recentEventCount)
	if err != nil {
		return err
	}
	watcher := newStateWatcher()
	// The recorder comes before the watcher so it has seen everything up to the state that ends wait.
	sinks := []session.Sink{newConsoleSink(cmd.OutOrStdout(), monitorFormat), sink.NewLog(logger), recent, watcher}

	if cfg.MQTT.Enabled {
		pub, err := connectMQTT(ctx, cfg.MQTT, logger)
		if err != nil {
			return err
		}
		defer pub.Disconnect()
		sinks = append(sinks, sink.NewMQTT(pub, cfg.MQTT.TopicPrefix, target.Address, cfg.MQTT.QoS, logger))
	}

	sess, err := session.New(dialer, sink.NewMulti(sinks...), cfg.SessionConfig(prof), logger)
	if err != nil {
		return err
	}
	defer sess.Close()
	// Runs before Close so the final Disconnecting/Idle never block on the watcher.
	defer watcher.close()

	logger.WithFields(logrus.Fields{
		"address": target.Address,
		"profile": prof.String(),
	}).Info("Connecting")
	if err := sess.Connect(target); err != nil {
		return err
	}

	err = watcher.wait(ctx)
	if n := sess.DroppedReadings(); n > 0 {
		logger.WithField("dropped", n).Warn("Output fell behind, readings were dropped")
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		printRecentDiagnostics(cmd.ErrOrStderr(), recent)
	}
	return err
}

// recentEventCount is how many notifications monitor keeps for the failure report.
const recentEventCount = 64

// printRecentDiagnostics writes the diagnostics still held by rec, oldest first.
func printRecentDiagnostics(out io.Writer, rec *sink.Recorder) {
	events, err := rec.Drain()
	if err != nil {
		fmt.Fprintf(out, "recent diagnostics incomplete: %v\n", err)
	}
	var diags []sink.Event
	for _, ev := range events {
		if ev.Type == sink.EventDiagnostic {
			diags = append(diags, ev)
		}
	}
	if len(diags) == 0 {
		return
	}
	fmt.Fprintf(out, "Recent diagnostics (%d):\n", len(diags))
	for _, ev := range diags {
		fmt.Fprintf(out, "  %s %s\n", ev.Time.Format("15:04:05.000"), ev.Diagnostic)
	}
}

func connectMQTT(ctx context.Context, cfg config.MQTTConfig, logger *logrus.Logger) (*sink.MQTTClient, error) {
	client, err := sink.NewMQTTClient(sink.MQTTOptions{Broker: cfg.Broker, ClientID: cfg.ClientID}, logger)
	if err != nil {
		return nil, err
	}
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Connect(connectCtx); err != nil {
		client.Disconnect()
		return nil, fmt.Errorf("failed to connect to MQTT broker %s: %w", cfg.Broker, err)
	}
	return client, nil
}

// stateWatcher is a sink that hands state changes to the command goroutine.
type stateWatcher struct {
	states chan session.State
	done   chan struct{}
}

func newStateWatcher() *stateWatcher {
	return &stateWatcher{states: make(chan session.State, 16), done: make(chan struct{})}
}

func (w *stateWatcher) OnSessionStateChanged(state session.State, _ string) {
	select {
	case w.states <- state:
	case <-w.done:
	}
}

func (w *stateWatcher) OnReadingDecoded(profile.Role, codec.Reading, uint64) {}
func (w *stateWatcher) OnDiagnostic(session.Diagnostic) {}

func (w *stateWatcher) close() { close(w.done) }

// wait returns nil when ctx times out, ctx.Err() on cancellation, the
// failure when the session fails, and ErrConnectionLost when the unit goes away.
func (w *stateWatcher) wait(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil
			}
			return ctx.Err()
		case state := <-w.states:
			switch state.Phase {
			case session.PhaseFailed:
				if state.Reason != nil {
					return state.Reason
				}
				return fmt.Errorf("session failed")
			case session.PhaseIdle:
				return ErrConnectionLost
			}
		}
	}
}
