package wchisp

import "testing"

func TestLoadCatalogSucceeds(t *testing.T) {
	cat, err := LoadCatalog()
	if err != nil {
		t.Fatalf("LoadCatalog returned error: %v", err)
	}
	if len(cat.Families) == 0 {
		t.Fatalf("expected at least one family")
	}
}

func TestFindChipByPrimaryID(t *testing.T) {
	cat, err := LoadCatalog()
	if err != nil {
		t.Fatalf("LoadCatalog returned error: %v", err)
	}
	chip, err := cat.FindChip(0x69, 0x17)
	if err != nil {
		t.Fatalf("FindChip(0x69, 0x17) returned error: %v", err)
	}
	if chip.Name != "CH32V303CBT6" {
		t.Fatalf("expected CH32V303CBT6, got %s", chip.Name)
	}
	if chip.FlashSize != 224*1024 {
		t.Fatalf("expected flash size 224KiB, got %d", chip.FlashSize)
	}
}

func TestFindChipByAltID(t *testing.T) {
	cat, err := LoadCatalog()
	if err != nil {
		t.Fatalf("LoadCatalog returned error: %v", err)
	}
	chip, err := cat.FindChip(0x72, 0x17)
	if err != nil {
		t.Fatalf("FindChip(0x72, 0x17) returned error: %v", err)
	}
	if chip.Name != "CH32V307VCT6" {
		t.Fatalf("expected CH32V307VCT6, got %s", chip.Name)
	}
}

func TestFindChipAllWildcard(t *testing.T) {
	cat, err := LoadCatalog()
	if err != nil {
		t.Fatalf("LoadCatalog returned error: %v", err)
	}
	chip, err := cat.FindChip(0x99, 0x23)
	if err != nil {
		t.Fatalf("FindChip(0x99, 0x23) via all-wildcard returned error: %v", err)
	}
	if chip.Name != "CH32X035R8T6" {
		t.Fatalf("expected CH32X035R8T6, got %s", chip.Name)
	}
}

func TestFindChipUnknown(t *testing.T) {
	cat, err := LoadCatalog()
	if err != nil {
		t.Fatalf("LoadCatalog returned error: %v", err)
	}
	_, err = cat.FindChip(0xff, 0xff)
	if !IsUnknownChip(err) {
		t.Fatalf("expected *UnknownChipError, got %v", err)
	}
}

func TestFindChipIsIsolatedPerCall(t *testing.T) {
	cat, err := LoadCatalog()
	if err != nil {
		t.Fatalf("LoadCatalog returned error: %v", err)
	}
	a, err := cat.FindChip(0x03, 0x21)
	if err != nil {
		t.Fatalf("FindChip returned error: %v", err)
	}
	a.ConfigRegisters[0].Reset = 0xdeadbeef

	b, err := cat.FindChip(0x03, 0x21)
	if err != nil {
		t.Fatalf("FindChip returned error: %v", err)
	}
	if b.ConfigRegisters[0].Reset == 0xdeadbeef {
		t.Fatalf("mutating one FindChip result leaked into a later call")
	}
}

func TestCodeFlashProtectSupport(t *testing.T) {
	cat, err := LoadCatalog()
	if err != nil {
		t.Fatalf("LoadCatalog returned error: %v", err)
	}
	ch56x, err := cat.FindChip(0x68, 0x10)
	if err != nil {
		t.Fatalf("FindChip(0x68, 0x10) returned error: %v", err)
	}
	if ch56x.Family.SupportsCodeFlashProtect() {
		t.Fatalf("expected device_type 0x10 to not support code flash protect")
	}

	v30x, err := cat.FindChip(0x69, 0x17)
	if err != nil {
		t.Fatalf("FindChip(0x69, 0x17) returned error: %v", err)
	}
	if !v30x.Family.SupportsCodeFlashProtect() {
		t.Fatalf("expected device_type 0x17 to support code flash protect")
	}
}

func TestDebugRegisterLookup(t *testing.T) {
	cat, err := LoadCatalog()
	if err != nil {
		t.Fatalf("LoadCatalog returned error: %v", err)
	}
	v30x, err := cat.FindChip(0x69, 0x17)
	if err != nil {
		t.Fatalf("FindChip(0x69, 0x17) returned error: %v", err)
	}
	reg := v30x.DebugRegister()
	if reg == nil {
		t.Fatalf("expected CH32V30x to declare an enable_debug/disable_debug register")
	}
	if *reg.EnableDebug == *reg.DisableDebug {
		t.Fatalf("expected enable_debug and disable_debug to differ")
	}

	v20x, err := cat.FindChip(0x20, 0x19)
	if err != nil {
		t.Fatalf("FindChip(0x20, 0x19) returned error: %v", err)
	}
	if reg := v20x.DebugRegister(); reg != nil {
		t.Fatalf("expected CH32V20x to declare no enable_debug/disable_debug register, got %+v", reg)
	}
}
