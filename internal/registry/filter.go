package registry

import (
	"strings"

	"github.com/srg/roomsense/internal/device"
)

// Filter selects which scan reports enter the registry. The zero value allows everything.
type Filter struct {
	AllowList  []string // addresses; when non-empty only these pass
	BlockList  []string // addresses that never pass
	Services   []string // at least one must be advertised
	NamePrefix string   // case-insensitive advertised-name prefix
}

// Allows applies the block, allow, service and name rules in that order.
func (f Filter) Allows(p device.Peripheral) bool {
	addr := device.NormalizeAddress(p.Address)

	for _, blocked := range f.BlockList {
		if device.NormalizeAddress(blocked) == addr {
			return false
		}
	}

	if len(f.AllowList) > 0 {
		allowed := false
		for _, a := range f.AllowList {
			if device.NormalizeAddress(a) == addr {
				allowed = true
				break
			}
		}
		if !allowed {
			return false
		}
	}

	if len(f.Services) > 0 {
		hasRequired := false
		for _, required := range f.Services {
			if p.Advertises(required) {
				hasRequired = true
				break
			}
		}
		if !hasRequired {
			return false
		}
	}

	if f.NamePrefix != "" && !strings.HasPrefix(strings.ToLower(p.Name), strings.ToLower(f.NamePrefix)) {
		return false
	}

	return true
}
