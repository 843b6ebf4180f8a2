package profile

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Parse decodes a YAML role table, normalizes and validates it.
//
//	name: lab-board
//	service: 47617353-656e-736f-7253-766300000000
//	roles:
//	  - name: gas
//	    kind: gas_level
//	    characteristic: 47617352-6561-6469-6e67-730000000000
//	    layout: gas_level_varwidth
func Parse(data []byte) (Profile, error) {
	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Profile{}, fmt.Errorf("failed to parse profile: %w", err)
	}
	p = p.Normalized()
	if err := p.Validate(); err != nil {
		return Profile{}, err
	}
	return p, nil
}

// Load reads a YAML profile from path.
func Load(path string) (Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Profile{}, fmt.Errorf("failed to read profile %s: %w", path, err)
	}
	p, err := Parse(data)
	if err != nil {
		return Profile{}, fmt.Errorf("%s: %w", path, err)
	}
	if p.Name == "" {
		p.Name = path
	}
	return p, nil
}

// Resolve returns the built-in profile with the given name, or loads it from a
// YAML file when the name is not a built-in and a file exists at that path.
func Resolve(nameOrPath string) (Profile, error) {
	if p, err := Builtin(nameOrPath); err == nil {
		return p, nil
	}
	if _, statErr := os.Stat(nameOrPath); statErr == nil {
		return Load(nameOrPath)
	}
	return Builtin(nameOrPath)
}

// WithRoles returns base with its role table replaced by roles, for configs
// that declare a custom table on top of a named profile.
func WithRoles(base Profile, roles []Role) (Profile, error) {
	if len(roles) == 0 {
		return base, nil
	}
	p := base
	p.Roles = roles
	p = p.Normalized()
	if err := p.Validate(); err != nil {
		return Profile{}, err
	}
	return p, nil
}
