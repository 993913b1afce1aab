package policy

import (
	"fmt"
	"os"

	"github.com/docker/go-units"
	"gopkg.in/yaml.v3"
)

// document is the on-disk shape of a policy file: a preset name plus
// optional overrides, with human-readable size strings ("10MB", "1GiB")
// instead of raw byte counts at the maxFileSize leaf. This is the
// supplemented on-disk form SPEC_FULL.md §3 describes — spec.md itself
// only specifies the in-memory merge operation.
type document struct {
	Preset    string        `yaml:"preset"`
	Overrides *rawOverrides `yaml:"overrides,omitempty"`
}

type rawOverrides struct {
	Filesystem *rawFilesystemOverrides `yaml:"filesystem,omitempty"`
	Shell      *ShellOverrides         `yaml:"shell,omitempty"`
	Network    *NetworkOverrides       `yaml:"network,omitempty"`
}

// rawFilesystemOverrides mirrors FilesystemOverrides but accepts
// maxFileSize as a human string, resolved to bytes by FromFile.
type rawFilesystemOverrides struct {
	Enabled      *bool    `yaml:"enabled,omitempty"`
	ReadOnly     *bool    `yaml:"readOnly,omitempty"`
	MaxFileSize  string   `yaml:"maxFileSize,omitempty"`
	AllowedPaths []string `yaml:"allowedPaths,omitempty"`
	BlockedPaths []string `yaml:"blockedPaths,omitempty"`
}

// FromFile loads a policy document from disk: read → parse → resolve sizes
// → merge over the named preset → return, mirroring the teacher's
// config.loadConfig single-entry-point shape (read file, parse YAML,
// validate, return).
func FromFile(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}

	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse policy file: %w", err)
	}

	if doc.Preset == "" {
		doc.Preset = PresetStandard
	}

	overrides, err := resolveOverrides(doc.Overrides)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve policy overrides: %w", err)
	}

	p, err := FromPresetWithOverrides(doc.Preset, overrides)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve policy preset %q: %w", doc.Preset, err)
	}

	return &p, nil
}

func resolveOverrides(raw *rawOverrides) (Overrides, error) {
	if raw == nil {
		return Overrides{}, nil
	}

	out := Overrides{Shell: raw.Shell, Network: raw.Network}

	if raw.Filesystem != nil {
		fs := &FilesystemOverrides{
			Enabled:      raw.Filesystem.Enabled,
			ReadOnly:     raw.Filesystem.ReadOnly,
			AllowedPaths: raw.Filesystem.AllowedPaths,
			BlockedPaths: raw.Filesystem.BlockedPaths,
		}
		if raw.Filesystem.MaxFileSize != "" {
			bytes, err := units.FromHumanSize(raw.Filesystem.MaxFileSize)
			if err != nil {
				return Overrides{}, fmt.Errorf("invalid maxFileSize %q: %w", raw.Filesystem.MaxFileSize, err)
			}
			fs.MaxFileSize = &bytes
		}
		out.Filesystem = fs
	}

	return out, nil
}
