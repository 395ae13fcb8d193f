package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config describes a single DESFire session: which reader to use, which
// wire framing and secure channel to establish, and the key material to
// authenticate with.
type Config struct {
	Runtime RuntimeConfig `yaml:"runtime"`
	Session SessionConfig `yaml:"session"`
	Key     KeyConfig     `yaml:"key"`
}

type RuntimeConfig struct {
	ReaderIndex *int `yaml:"reader_index"`
}

// SessionConfig selects the wire framing and secure-channel generation
// to authenticate under (CommandSet/SecureChannel).
type SessionConfig struct {
	CommandSet    string `yaml:"command_set"`    // "native", "native_iso", "iso"
	SecureChannel string `yaml:"secure_channel"` // "none", "d40", "ev1", "ev2"
}

// KeyConfig names the key slot and algorithm to authenticate with and
// points at a .hex file holding the raw key material.
type KeyConfig struct {
	KeyNum  *int   `yaml:"key_num"`
	KeyType string `yaml:"key_type"` // "des", "2tdea", "3tdea", "aes"
	KeyFile string `yaml:"key_hex_file"`
}

func Load(path string) (*Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(content))
	dec.KnownFields(true)

	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse config yaml: %w", err)
	}
	cfg.resolvePaths(path)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Runtime.ReaderIndex == nil {
		return fmt.Errorf("config.runtime.reader_index is required")
	}
	if *c.Runtime.ReaderIndex < 0 {
		return fmt.Errorf("config.runtime.reader_index must be >= 0")
	}

	switch strings.ToLower(c.Session.CommandSet) {
	case "native", "native_iso", "iso":
	default:
		return fmt.Errorf("config.session.command_set must be one of native, native_iso, iso")
	}
	switch strings.ToLower(c.Session.SecureChannel) {
	case "none", "d40", "ev1", "ev2":
	default:
		return fmt.Errorf("config.session.secure_channel must be one of none, d40, ev1, ev2")
	}

	if c.Key.KeyNum == nil {
		return fmt.Errorf("config.key.key_num is required")
	}
	if *c.Key.KeyNum < 0 || *c.Key.KeyNum > 13 {
		return fmt.Errorf("config.key.key_num must be 0..13")
	}
	switch strings.ToLower(c.Key.KeyType) {
	case "des", "2tdea", "3tdea", "aes":
	default:
		return fmt.Errorf("config.key.key_type must be one of des, 2tdea, 3tdea, aes")
	}
	if strings.TrimSpace(c.Key.KeyFile) == "" {
		return fmt.Errorf("config.key.key_hex_file is required")
	}
	if err := validateReadableFile(c.Key.KeyFile, "config.key.key_hex_file"); err != nil {
		return err
	}
	return nil
}

func (c *Config) resolvePaths(configPath string) {
	configDir := filepath.Dir(configPath)
	c.Key.KeyFile = resolvePath(configDir, c.Key.KeyFile)
}

func resolvePath(baseDir, path string) string {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" || filepath.IsAbs(trimmed) {
		return trimmed
	}
	return filepath.Clean(filepath.Join(baseDir, trimmed))
}

func validateReadableFile(path string, field string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%s must point to a file, got directory", field)
	}
	return nil
}
