package sim

import (
	"context"
	"time"

	"github.com/srg/roomsense/internal/registry"
)

// Scanner advertises the firmware's peripheral.
type Scanner struct {
	fw       *Firmware
	interval time.Duration
}

// NewScanner advertises fw every interval.
func NewScanner(fw *Firmware, interval time.Duration) *Scanner {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	return &Scanner{fw: fw, interval: interval}
}

// Scan reports the peripheral until ctx is done.
func (s *Scanner) Scan(ctx context.Context, listener registry.Listener) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		listener.OnDeviceFound(s.fw.Peripheral)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
