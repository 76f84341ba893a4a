package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadValidSerialConfigAndResolveRelativePaths(t *testing.T) {
	tmp := t.TempDir()
	imagePath := filepath.Join(tmp, "firmware.bin")
	if err := os.WriteFile(imagePath, []byte{0xde, 0xad, 0xbe, 0xef}, 0o644); err != nil {
		t.Fatalf("write firmware: %v", err)
	}

	cfgPath := filepath.Join(tmp, "config.yaml")
	cfgYAML := `
transport:
  kind: serial
  port: /dev/ttyUSB0
chip:
  expect_name: CH32V303
flash:
  image_file: firmware.bin
  verify: true
`
	if err := os.WriteFile(cfgPath, []byte(cfgYAML), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Flash.ImageFile != imagePath {
		t.Fatalf("expected resolved image path %q, got %q", imagePath, cfg.Flash.ImageFile)
	}
	if cfg.Chip.ExpectName != "CH32V303" {
		t.Fatalf("expected expect_name CH32V303, got %q", cfg.Chip.ExpectName)
	}
}

func TestLoadUSBConfigDoesNotRequirePort(t *testing.T) {
	tmp := t.TempDir()
	cfgPath := filepath.Join(tmp, "config.yaml")
	cfgYAML := `
transport:
  kind: usb
`
	if err := os.WriteFile(cfgPath, []byte(cfgYAML), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if _, err := Load(cfgPath); err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
}

func TestLoadSerialConfigMissingPortFails(t *testing.T) {
	tmp := t.TempDir()
	cfgPath := filepath.Join(tmp, "config.yaml")
	cfgYAML := `
transport:
  kind: serial
`
	if err := os.WriteFile(cfgPath, []byte(cfgYAML), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if _, err := Load(cfgPath); err == nil {
		t.Fatalf("expected error for missing transport.port, got nil")
	}
}

func TestLoadRejectsUnknownField(t *testing.T) {
	tmp := t.TempDir()
	cfgPath := filepath.Join(tmp, "config.yaml")
	cfgYAML := `
transport:
  kind: usb
  bogus_field: true
`
	if err := os.WriteFile(cfgPath, []byte(cfgYAML), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if _, err := Load(cfgPath); err == nil {
		t.Fatalf("expected error for unknown field, got nil")
	}
}
