// Package config loads the optional YAML configuration file wchisp reads
// for defaults that would otherwise need repeating on every CLI
// invocation: which transport/port to use, which chip to expect, and
// where the firmware image lives.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the root of the YAML document, e.g.:
//
//	transport:
//	  kind: serial
//	  port: /dev/ttyUSB0
//	chip:
//	  expect_name: CH32V303
//	flash:
//	  image_file: firmware.bin
type Config struct {
	Transport TransportConfig `yaml:"transport"`
	Chip      ChipConfig      `yaml:"chip"`
	Flash     FlashConfig     `yaml:"flash"`
}

// TransportConfig selects and configures the link to the bootloader.
type TransportConfig struct {
	Kind     string `yaml:"kind"` // "usb" or "serial"
	Port     string `yaml:"port"` // serial device path, ignored for usb
	BaudRate *int   `yaml:"baud_rate"`
}

// ChipConfig carries an optional human sanity check against the chip the
// device actually identifies as.
type ChipConfig struct {
	ExpectName string `yaml:"expect_name"`
}

// FlashConfig names the firmware image and whether to verify after
// programming.
type FlashConfig struct {
	ImageFile string `yaml:"image_file"`
	Verify    *bool  `yaml:"verify"`
}

// Load reads and validates the config file at path.
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

// Validate checks the fields Load always requires, regardless of which
// subcommand ultimately consumes the config.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Transport.Kind) {
	case "usb":
		// no further fields required
	case "serial":
		if strings.TrimSpace(c.Transport.Port) == "" {
			return fmt.Errorf("config.transport.port is required when transport.kind is serial")
		}
	case "":
		return fmt.Errorf("config.transport.kind is required (usb or serial)")
	default:
		return fmt.Errorf("config.transport.kind must be usb or serial, got %q", c.Transport.Kind)
	}

	if c.Transport.BaudRate != nil && *c.Transport.BaudRate <= 0 {
		return fmt.Errorf("config.transport.baud_rate must be positive")
	}

	if c.Flash.ImageFile != "" {
		if err := validateReadableFile(c.Flash.ImageFile, "config.flash.image_file"); err != nil {
			return err
		}
	}

	return nil
}

func (c *Config) resolvePaths(configPath string) {
	configDir := filepath.Dir(configPath)
	c.Flash.ImageFile = resolvePath(configDir, c.Flash.ImageFile)
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
