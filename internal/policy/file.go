package policy

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Source supplies the current policy. The scheduler calls Load at the top
// of every cycle, so edits take effect without a restart.
type Source interface {
	Load() (Config, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func() (Config, error)

// Load calls f.
func (f SourceFunc) Load() (Config, error) { return f() }

// FileSource reads the policy document at Path, writing the default
// document first if it does not exist.
type FileSource struct {
	Path string
}

// Load implements Source.
func (s FileSource) Load() (Config, error) {
	return LoadOrInit(s.Path)
}

// Parse decodes a policy document. JSON documents are accepted too.
func Parse(data []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse policy: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Load reads the policy document at path.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read policy: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// LoadOrInit reads the policy at path, creating it with Default when missing.
func LoadOrInit(path string) (Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		cfg = Default()
		if err := Save(path, cfg); err != nil {
			return Config{}, err
		}
		return cfg, nil
	}
	return cfg, err
}

// Save validates cfg and writes it to path, replacing the file atomically.
func Save(path string, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal policy: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create policy directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write policy: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("write policy: %w", err)
	}
	return nil
}

// Update loads the policy at path, applies fn and saves the result.
func Update(path string, fn func(*Config) error) (Config, error) {
	cfg, err := LoadOrInit(path)
	if err != nil {
		return Config{}, err
	}
	if err := fn(&cfg); err != nil {
		return Config{}, err
	}
	if err := Save(path, cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
