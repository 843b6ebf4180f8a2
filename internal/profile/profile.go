// Package profile describes which characteristics a peripheral firmware
// exposes, in which order they are enabled, and how each payload is laid out.
package profile

import (
	"errors"
	"fmt"
	"strings"

	"github.com/srg/roomsense/internal/codec"
	"github.com/srg/roomsense/internal/device"
)

// Kind is the sensor record type a role produces.
type Kind string

const (
	KindGasPanel    Kind = "gas_panel"
	KindEnvironment Kind = "environment"
	KindSound       Kind = "sound"
	KindGasLevel    Kind = "gas_level"
)

// Role is one subscribed characteristic.
type Role struct {
	Name           string       `json:"name" yaml:"name"`
	Kind           Kind         `json:"kind" yaml:"kind"`
	Service        string       `json:"service,omitempty" yaml:"service,omitempty"`
	Characteristic string       `json:"characteristic" yaml:"characteristic"`
	Layout         codec.Layout `json:"layout" yaml:"layout"`
}

func (r Role) String() string {
	if r.Name != "" {
		return r.Name
	}
	return string(r.Kind)
}

// Profile is an ordered role table for one firmware variant.
// Roles are enabled strictly in slice order.
type Profile struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Service     string `json:"service" yaml:"service"`
	Roles       []Role `json:"roles" yaml:"roles"`
}

// ErrInvalidProfile is wrapped by every Validate failure.
var ErrInvalidProfile = errors.New("invalid profile")

// Normalized returns a copy with every UUID normalized and each role's service
// defaulted to the profile service.
func (p Profile) Normalized() Profile {
	out := p
	out.Service = device.NormalizeUUID(p.Service)
	out.Roles = make([]Role, len(p.Roles))
	for i, r := range p.Roles {
		if r.Service == "" {
			r.Service = out.Service
		}
		r.Service = device.NormalizeUUID(r.Service)
		r.Characteristic = device.NormalizeUUID(r.Characteristic)
		if r.Name == "" {
			r.Name = string(r.Kind)
		}
		out.Roles[i] = r
	}
	return out
}

// Validate checks the role table. It expects a Normalized profile.
func (p Profile) Validate() error {
	if p.Service == "" {
		return fmt.Errorf("%w %q: service UUID is required", ErrInvalidProfile, p.Name)
	}
	if len(p.Roles) == 0 {
		return fmt.Errorf("%w %q: at least one role is required", ErrInvalidProfile, p.Name)
	}

	seen := make(map[string]int, len(p.Roles))
	for i, r := range p.Roles {
		if r.Characteristic == "" {
			return fmt.Errorf("%w %q: role %d (%s): characteristic UUID is missing or malformed", ErrInvalidProfile, p.Name, i, r)
		}
		if r.Service == "" {
			return fmt.Errorf("%w %q: role %d (%s): service UUID is malformed", ErrInvalidProfile, p.Name, i, r)
		}
		if r.Layout.MinLength() == 0 {
			return fmt.Errorf("%w %q: role %d (%s): unknown layout", ErrInvalidProfile, p.Name, i, r)
		}
		if prev, dup := seen[r.Characteristic]; dup {
			return fmt.Errorf("%w %q: roles %d and %d share characteristic %s", ErrInvalidProfile, p.Name, prev, i, r.Characteristic)
		}
		seen[r.Characteristic] = i
	}
	return nil
}

// Services returns the distinct services the roles live in, profile service first.
func (p Profile) Services() []string {
	out := []string{p.Service}
	for _, r := range p.Roles {
		found := false
		for _, s := range out {
			if s == r.Service {
				found = true
				break
			}
		}
		if !found {
			out = append(out, r.Service)
		}
	}
	return out
}

// RoleNames returns the role names in enablement order.
func (p Profile) RoleNames() []string {
	names := make([]string, len(p.Roles))
	for i, r := range p.Roles {
		names[i] = r.String()
	}
	return names
}

func (p Profile) String() string {
	return fmt.Sprintf("%s [%s]", p.Name, strings.Join(p.RoleNames(), " -> "))
}
