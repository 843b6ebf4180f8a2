package goble

import (
	"context"
	"errors"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"

	"github.com/srg/roomsense/internal/device"
	"github.com/srg/roomsense/internal/registry"
)

// ScanDevice is the scanning half of ble.Device.
type ScanDevice interface {
	Scan(ctx context.Context, allowDup bool, h ble.AdvHandler) error
	Stop() error
}

// Scanner feeds go-ble advertisements into a registry.Listener.
type Scanner struct {
	dev    ScanDevice
	logger *logrus.Logger

	// AllowDuplicates reports repeated advertisements so RSSI stays fresh.
	AllowDuplicates bool
}

// NewScanner creates a scanner on the shared go-ble default device.
func NewScanner(logger *logrus.Logger) (*Scanner, error) {
	dev, err := DefaultDevice()
	if err != nil {
		return nil, err
	}
	return NewScannerWithDevice(dev, logger), nil
}

// NewScannerWithDevice creates a scanner on dev.
func NewScannerWithDevice(dev ScanDevice, logger *logrus.Logger) *Scanner {
	if logger == nil {
		logger = logrus.New()
	}
	return &Scanner{dev: dev, logger: logger, AllowDuplicates: true}
}

// Scan blocks until ctx is done or the scan fails. A failure is reported to
// the listener as a scan-failure code and returned.
func (s *Scanner) Scan(ctx context.Context, listener registry.Listener) error {
	s.logger.WithField("allow_duplicates", s.AllowDuplicates).Debug("Starting BLE scan")

	err := s.dev.Scan(ctx, s.AllowDuplicates, func(adv ble.Advertisement) {
		listener.OnDeviceFound(peripheralFromAdvertisement(adv))
	})
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}

	err = NormalizeError(err)
	code := scanFailureCode(err)
	s.logger.WithFields(logrus.Fields{
		"error": err,
		"code":  code,
	}).Error("BLE scan failed")
	listener.OnScanFailed(code)
	return err
}

// Stop asks the controller to stop scanning.
func (s *Scanner) Stop() error {
	return NormalizeError(s.dev.Stop())
}

func peripheralFromAdvertisement(adv ble.Advertisement) device.Peripheral {
	uuids := adv.Services()
	services := make([]string, 0, len(uuids))
	for _, u := range uuids {
		services = append(services, u.String())
	}
	var address string
	if addr := adv.Addr(); addr != nil {
		address = addr.String()
	}
	return device.NewPeripheral(address, adv.LocalName(), adv.RSSI(), services...)
}
