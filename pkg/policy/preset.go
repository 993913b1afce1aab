package policy

import "fmt"

const (
	PresetRestrictive = "restrictive"
	PresetStandard    = "standard"
	PresetPermissive  = "permissive"
)

// presets holds the three built-in policies verbatim from spec §3.
var presets = map[string]Policy{
	PresetRestrictive: {
		Filesystem: Filesystem{
			Enabled:     true,
			ReadOnly:    true,
			MaxFileSize: 1 * 1024 * 1024,
		},
		Shell: Shell{
			Enabled:   false,
			TimeoutMS: 30_000,
		},
		Network: Network{Enabled: false},
	},
	PresetStandard: {
		Filesystem: Filesystem{
			Enabled:     true,
			ReadOnly:    false,
			MaxFileSize: 10 * 1024 * 1024,
		},
		Shell: Shell{
			Enabled:          true,
			AllowedCommands:  []string{"bun", "node", "npm", "npx", "cat", "echo", "ls", "pwd", "head", "tail", "grep", "find", "wc"},
			BlockedPatterns:  []string{"sudo", "chmod", "chown", "curl", "wget", "ssh", "rm -rf /", "rm -rf ~"},
			ApprovalRequired: []string{"rm -rf", "rm -r"},
			TimeoutMS:        30_000,
		},
		Network: Network{Enabled: false},
	},
	PresetPermissive: {
		Filesystem: Filesystem{
			Enabled:     true,
			ReadOnly:    false,
			MaxFileSize: 100 * 1024 * 1024,
		},
		Shell: Shell{
			Enabled:          true,
			BlockedPatterns:  []string{},
			ApprovalRequired: []string{"rm -rf", "chmod", "chown"},
			TimeoutMS:        5 * 60_000,
		},
		Network: Network{Enabled: true, AllowedDomains: []string{"*"}},
	},
}

// FromPreset returns a copy of the named built-in preset.
func FromPreset(name string) (Policy, error) {
	p, ok := presets[name]
	if !ok {
		return Policy{}, fmt.Errorf("unknown policy preset %q", name)
	}
	return clonePolicy(p), nil
}

// Overrides is the partial-update shape accepted alongside a preset name.
// Every field is a pointer/nil-able so "field absent" and "field reset to
// zero value" are distinguishable.
type Overrides struct {
	Filesystem *FilesystemOverrides `yaml:"filesystem,omitempty" json:"filesystem,omitempty"`
	Shell      *ShellOverrides      `yaml:"shell,omitempty" json:"shell,omitempty"`
	Network    *NetworkOverrides    `yaml:"network,omitempty" json:"network,omitempty"`
}

type FilesystemOverrides struct {
	Enabled      *bool    `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	ReadOnly     *bool    `yaml:"readOnly,omitempty" json:"readOnly,omitempty"`
	MaxFileSize  *int64   `yaml:"maxFileSize,omitempty" json:"maxFileSize,omitempty"`
	AllowedPaths []string `yaml:"allowedPaths,omitempty" json:"allowedPaths,omitempty"`
	BlockedPaths []string `yaml:"blockedPaths,omitempty" json:"blockedPaths,omitempty"`
}

type ShellOverrides struct {
	Enabled          *bool    `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	AllowedCommands  []string `yaml:"allowedCommands,omitempty" json:"allowedCommands,omitempty"`
	BlockedPatterns  []string `yaml:"blockedPatterns,omitempty" json:"blockedPatterns,omitempty"`
	TimeoutMS        *int64   `yaml:"timeoutMs,omitempty" json:"timeoutMs,omitempty"`
	ApprovalRequired []string `yaml:"approvalRequired,omitempty" json:"approvalRequired,omitempty"`
}

type NetworkOverrides struct {
	Enabled        *bool    `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	AllowedDomains []string `yaml:"allowedDomains,omitempty" json:"allowedDomains,omitempty"`
	BlockedDomains []string `yaml:"blockedDomains,omitempty" json:"blockedDomains,omitempty"`
}

// FromPresetWithOverrides resolves a named preset then applies a shallow
// merge at the top level and a one-level-deep merge within each of
// filesystem/shell/network (spec §4.2): arrays and scalars at the leaf are
// replaced wholesale, never concatenated.
func FromPresetWithOverrides(name string, overrides Overrides) (Policy, error) {
	p, err := FromPreset(name)
	if err != nil {
		return Policy{}, err
	}

	if overrides.Filesystem != nil {
		o := overrides.Filesystem
		if o.Enabled != nil {
			p.Filesystem.Enabled = *o.Enabled
		}
		if o.ReadOnly != nil {
			p.Filesystem.ReadOnly = *o.ReadOnly
		}
		if o.MaxFileSize != nil {
			p.Filesystem.MaxFileSize = *o.MaxFileSize
		}
		if o.AllowedPaths != nil {
			p.Filesystem.AllowedPaths = o.AllowedPaths
		}
		if o.BlockedPaths != nil {
			p.Filesystem.BlockedPaths = o.BlockedPaths
		}
	}

	if overrides.Shell != nil {
		o := overrides.Shell
		if o.Enabled != nil {
			p.Shell.Enabled = *o.Enabled
		}
		if o.AllowedCommands != nil {
			p.Shell.AllowedCommands = o.AllowedCommands
		}
		if o.BlockedPatterns != nil {
			p.Shell.BlockedPatterns = o.BlockedPatterns
		}
		if o.TimeoutMS != nil {
			p.Shell.TimeoutMS = *o.TimeoutMS
		}
		if o.ApprovalRequired != nil {
			p.Shell.ApprovalRequired = o.ApprovalRequired
		}
	}

	if overrides.Network != nil {
		o := overrides.Network
		if o.Enabled != nil {
			p.Network.Enabled = *o.Enabled
		}
		if o.AllowedDomains != nil {
			p.Network.AllowedDomains = o.AllowedDomains
		}
		if o.BlockedDomains != nil {
			p.Network.BlockedDomains = o.BlockedDomains
		}
	}

	return p, nil
}

func clonePolicy(p Policy) Policy {
	clone := p
	clone.Filesystem.AllowedPaths = append([]string(nil), p.Filesystem.AllowedPaths...)
	clone.Filesystem.BlockedPaths = append([]string(nil), p.Filesystem.BlockedPaths...)
	clone.Shell.AllowedCommands = append([]string(nil), p.Shell.AllowedCommands...)
	clone.Shell.BlockedPatterns = append([]string(nil), p.Shell.BlockedPatterns...)
	clone.Shell.ApprovalRequired = append([]string(nil), p.Shell.ApprovalRequired...)
	clone.Network.AllowedDomains = append([]string(nil), p.Network.AllowedDomains...)
	clone.Network.BlockedDomains = append([]string(nil), p.Network.BlockedDomains...)
	return clone
}
