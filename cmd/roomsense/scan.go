package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/srg/roomsense/internal/device"
	"github.com/srg/roomsense/internal/groutine"
	"github.com/srg/roomsense/internal/registry"
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for room monitor units",
	Long: `Scan for Bluetooth Low Energy devices and list them in the order they were
first seen, with name, address, RSSI and advertised services.

Examples:
  # Only units advertising the sensor service
  roomsense scan --services 47617353-656e-736f-7253-766300000000

  # Five second scan through BlueZ, as JSON
  roomsense scan -d 5s --backend bluez --format json

  # Report units on stderr as they appear
  roomsense scan --watch`,
	RunE: runScan,
}

var (
	scanDuration  time.Duration
	scanFormat    string
	scanServices  []string
	scanAllowList []string
	scanBlockList []string
	scanBackend   string
	scanWatch     bool
)

func init() {
	scanCmd.Flags().DurationVarP(&scanDuration, "duration", "d", 10*time.Second, "Scan duration (0 until Ctrl+C)")
	scanCmd.Flags().StringVarP(&scanFormat, "format", "f", "table", "Output format (table, json)")
	scanCmd.Flags().StringSliceVarP(&scanServices, "services", "s", nil, "Filter by advertised service UUIDs")
	scanCmd.Flags().StringSliceVar(&scanAllowList, "allow", nil, "Only show devices with these addresses")
	scanCmd.Flags().StringSliceVar(&scanBlockList, "block", nil, "Hide devices with these addresses")
	scanCmd.Flags().StringVar(&scanBackend, "backend", "goble", "BLE backend (goble, bluez, sim)")
	scanCmd.Flags().BoolVarP(&scanWatch, "watch", "w", false, "Print each new device to stderr as it is discovered")
}

func runScan(cmd *cobra.Command, args []string) error {
	validFormats := []string{"table", "json"}
	if !contains(validFormats, scanFormat) {
		return fmt.Errorf("invalid format '%s': must be one of %v", scanFormat, validFormats)
	}

	var serviceUUIDs []string
	if len(scanServices) > 0 {
		var err error
		serviceUUIDs, err = device.ValidateUUID(scanServices...)
		if err != nil {
			return fmt.Errorf("invalid service UUID: %w", err)
		}
	}

	logger, err := configureLogger(cmd, defaultLogLevel)
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	b, err := backendFactory(scanBackend, serviceUUIDs, logger)
	if err != nil {
		return err
	}

	reg := registry.New(logger, registry.WithFilter(registry.Filter{
		AllowList: scanAllowList,
		BlockList: scanBlockList,
		Services:  serviceUUIDs,
	}))
	defer reg.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if scanDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, scanDuration)
		defer cancel()
	}

	var live groutine.Group
	if scanWatch {
		live.Go(ctx, "scan-live", func(context.Context) {
			streamRegistryEvents(cmd.ErrOrStderr(), reg.Events())
		})
	}

	err = b.scanner.Scan(ctx, reg)
	reg.Close()
	live.Wait()
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		logger.WithError(err).Error("scan failed")
		return err
	}
	if err := reg.Err(); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if scanFormat == "json" {
		return displayPeripheralsJSON(out, reg.Snapshot())
	}
	return displayPeripheralsTable(out, reg.Snapshot())
}

func displayPeripheralsTable(out io.Writer, peripherals []device.Peripheral) error {
	if len(peripherals) == 0 {
		fmt.Fprintln(out, "No devices discovered")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tADDRESS\tRSSI\tSERVICES")
	fmt.Fprintln(w, strings.Repeat("-", 80))
	for _, p := range peripherals {
		name := p.DisplayName()
		if len(name) > 20 {
			name = name[:17] + "..."
		}
		uuids := make([]string, 0, len(p.Services))
		for _, u := range p.Services {
			uuids = append(uuids, displayUUID(u))
		}
		services := strings.Join(uuids, ",")
		if len(services) > 40 {
			services = services[:37] + "..."
		}
		fmt.Fprintf(w, "%s\t%s\t%d dBm\t%s\n", name, p.Address, p.RSSI, services)
	}
	return w.Flush()
}

func displayPeripheralsJSON(out io.Writer, peripherals []device.Peripheral) error {
	type entry struct {
		Name     string   `json:"name"`
		Address  string   `json:"address"`
		RSSI     int      `json:"rssi"`
		Services []string `json:"services"`
	}
	list := make([]entry, 0, len(peripherals))
	for _, p := range peripherals {
		services := p.Services
		if services == nil {
			services = []string{}
		}
		list = append(list, entry{Name: p.Name, Address: p.Address, RSSI: p.RSSI, Services: services})
	}
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(list)
}

// streamRegistryEvents prints new devices and scan failures until events is closed.
func streamRegistryEvents(out io.Writer, events <-chan registry.Event) {
	for ev := range events {
		switch ev.Type {
		case registry.EventNew:
			p := ev.Peripheral
			short := make([]string, 0, len(p.Services))
			for _, u := range p.Services {
				short = append(short, device.ShortenUUID(u))
			}
			name := p.Name
			if name == "" {
				name = "(unnamed)"
			}
			fmt.Fprintf(out, "+ %s %s %d dBm %s\n", p.Address, name, p.RSSI, strings.Join(short, ","))
		case registry.EventScanFailed:
			fmt.Fprintf(out, "! %v\n", ev.Err)
		}
	}
}

// displayUUID renders a normalised UUID in dashed form when it has one.
func displayUUID(u string) string {
	if c := device.CanonicalUUID(u); c != "" && len(u) == 32 {
		return c
	}
	return u
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
