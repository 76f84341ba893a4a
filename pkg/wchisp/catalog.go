package wchisp

import (
	"embed"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed devices/*.yaml
var deviceFS embed.FS

// Chip describes one chip variant within a family: its identifying bytes,
// flash/EEPROM geometry, and the config registers it exposes (inherited
// from its family and overridable per-variant).
type Chip struct {
	Name            string           `yaml:"name"`
	ChipIDRaw       string           `yaml:"chip_id"`
	AltChipIDsRaw   yaml.Node        `yaml:"alt_chip_ids"`
	FlashSizeRaw    string           `yaml:"flash_size"`
	EepromSizeRaw   string           `yaml:"eeprom_size"`
	SRAMSizeRaw     string           `yaml:"sram_size"`
	ConfigRegisters []ConfigRegister `yaml:"config_registers,omitempty"`

	ChipID     byte        `yaml:"-"`
	AltChipIDs []byte      `yaml:"-"`
	FlashSize  int         `yaml:"-"`
	EepromSize int         `yaml:"-"`
	SRAMSize   int         `yaml:"-"`
	Family     *ChipFamily `yaml:"-"`
}

// ChipFamily groups chip variants that share an mcu_type/device_type and
// a baseline set of config registers. device_type is always mcu_type+0x10.
type ChipFamily struct {
	Name            string           `yaml:"name"`
	Description     string           `yaml:"description"`
	McuTypeRaw      string           `yaml:"mcu_type"`
	UIDSize         int              `yaml:"uid_size"`
	MinEraseSectors int              `yaml:"min_erase_sector_number"`
	ConfigRegisters []ConfigRegister `yaml:"config_registers,omitempty"`
	Chips           []Chip           `yaml:"chips"`

	McuType    byte `yaml:"-"`
	DeviceType byte `yaml:"-"`
}

// deviceTypeOf returns mcu_type + 0x10, the device_type byte IDENTIFY's
// response reports.
func (f *ChipFamily) deviceTypeOf(mcuType byte) byte { return mcuType + 0x10 }

// parseNumber parses a decimal or 0x-prefixed hex literal, as used
// throughout the YAML catalog for chip_id, mcu_type, and register values.
func parseNumber(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return strconv.ParseUint(s[2:], 16, 32)
	}
	return strconv.ParseUint(s, 10, 32)
}

// parseSize parses a flash/eeprom/sram size literal in the catalog's
// shorthand: a bare number of bytes, or a number suffixed with K/KB/KiB
// meaning *1024.
func parseSize(s string) (int, error) {
	s = strings.TrimSpace(s)
	for _, suffix := range []string{"KiB", "KB", "K", "k"} {
		if strings.HasSuffix(s, suffix) {
			n, err := parseNumber(strings.TrimSuffix(s, suffix))
			if err != nil {
				return 0, err
			}
			return int(n) * 1024, nil
		}
	}
	n, err := parseNumber(s)
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// parseAltChipIDs expands the alt_chip_ids YAML node, which is either a
// list of chip_id literals or the literal string "all" meaning every byte
// 0x00-0xff is accepted as an alternate id for this variant.
func parseAltChipIDs(node yaml.Node) ([]byte, error) {
	if node.Kind == 0 {
		return nil, nil
	}
	if node.Kind == yaml.ScalarNode {
		var s string
		if err := node.Decode(&s); err != nil {
			return nil, err
		}
		if strings.EqualFold(s, "all") {
			all := make([]byte, 256)
			for i := range all {
				all[i] = byte(i)
			}
			return all, nil
		}
		return nil, fmt.Errorf("alt_chip_ids scalar must be \"all\", got %q", s)
	}
	var raw []string
	if err := node.Decode(&raw); err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(raw))
	for _, r := range raw {
		n, err := parseNumber(r)
		if err != nil {
			return nil, fmt.Errorf("alt_chip_ids entry %q: %w", r, err)
		}
		out = append(out, byte(n))
	}
	return out, nil
}

// Catalog is the resolved, validated set of chip families loaded from the
// embedded devices/*.yaml files. It is not modified after LoadCatalog;
// FindChip returns a per-call copy of the matched Chip with its own
// ConfigRegisters and Fields slices, so edits to those do not reach the
// catalog.
type Catalog struct {
	Families []*ChipFamily
}

// LoadCatalog decodes every devices/*.yaml file and validates the result.
func LoadCatalog() (*Catalog, error) {
	entries, err := deviceFS.ReadDir("devices")
	if err != nil {
		return nil, fmt.Errorf("wchisp: reading embedded devices dir: %w", err)
	}

	cat := &Catalog{}
	for _, ent := range entries {
		if ent.IsDir() || !strings.HasSuffix(ent.Name(), ".yaml") {
			continue
		}
		data, err := deviceFS.ReadFile("devices/" + ent.Name())
		if err != nil {
			return nil, fmt.Errorf("wchisp: reading %s: %w", ent.Name(), err)
		}

		var fam ChipFamily
		dec := yaml.NewDecoder(strings.NewReader(string(data)))
		dec.KnownFields(true)
		if err := dec.Decode(&fam); err != nil {
			return nil, fmt.Errorf("wchisp: decoding %s: %w", ent.Name(), err)
		}
		if err := resolveFamily(&fam); err != nil {
			return nil, fmt.Errorf("wchisp: %s: %w", ent.Name(), err)
		}
		cat.Families = append(cat.Families, &fam)
	}

	if err := cat.validate(); err != nil {
		return nil, err
	}
	return cat, nil
}

// resolveFamily fills in the derived numeric fields (mcu_type, device_type,
// chip_id, sizes, alt ids) from their raw YAML string forms, and has each
// chip inherit the family's config registers unless it declares its own.
func resolveFamily(fam *ChipFamily) error {
	mcuType, err := parseNumber(fam.McuTypeRaw)
	if err != nil {
		return fmt.Errorf("family %s: bad mcu_type %q: %w", fam.Name, fam.McuTypeRaw, err)
	}
	fam.McuType = byte(mcuType)
	fam.DeviceType = fam.deviceTypeOf(fam.McuType)

	for i := range fam.Chips {
		c := &fam.Chips[i]
		id, err := parseNumber(c.ChipIDRaw)
		if err != nil {
			return fmt.Errorf("family %s: chip %s: bad chip_id %q: %w", fam.Name, c.Name, c.ChipIDRaw, err)
		}
		c.ChipID = byte(id)

		alt, err := parseAltChipIDs(c.AltChipIDsRaw)
		if err != nil {
			return fmt.Errorf("family %s: chip %s: %w", fam.Name, c.Name, err)
		}
		c.AltChipIDs = alt

		if c.FlashSizeRaw != "" {
			if c.FlashSize, err = parseSize(c.FlashSizeRaw); err != nil {
				return fmt.Errorf("family %s: chip %s: bad flash_size: %w", fam.Name, c.Name, err)
			}
		}
		if c.EepromSizeRaw != "" {
			if c.EepromSize, err = parseSize(c.EepromSizeRaw); err != nil {
				return fmt.Errorf("family %s: chip %s: bad eeprom_size: %w", fam.Name, c.Name, err)
			}
		}
		if c.SRAMSizeRaw != "" {
			if c.SRAMSize, err = parseSize(c.SRAMSizeRaw); err != nil {
				return fmt.Errorf("family %s: chip %s: bad sram_size: %w", fam.Name, c.Name, err)
			}
		}
		if len(c.ConfigRegisters) == 0 {
			c.ConfigRegisters = fam.ConfigRegisters
		}
		c.Family = fam
	}
	return nil
}

// validate checks catalog-wide invariants: every register within every
// chip obeys ConfigRegister.validate, and (chip_id, device_type) pairs
// (after alt-id expansion) are unique across the whole catalog.
func (cat *Catalog) validate() error {
	seen := map[[2]byte]string{}
	for _, fam := range cat.Families {
		for _, c := range fam.Chips {
			for _, r := range c.ConfigRegisters {
				if err := r.validate(fam.Name); err != nil {
					return err
				}
			}
			ids := append([]byte{c.ChipID}, c.AltChipIDs...)
			for _, id := range ids {
				key := [2]byte{id, fam.DeviceType}
				if prev, ok := seen[key]; ok && prev != fam.Name+"/"+c.Name {
					return &CatalogError{Family: fam.Name, Detail: fmt.Sprintf(
						"chip_id 0x%02x device_type 0x%02x already claimed by %s", id, fam.DeviceType, prev)}
				}
				seen[key] = fam.Name + "/" + c.Name
			}
		}
	}
	return nil
}

// FindChip resolves (chipID, deviceType) to a catalog entry. A chip
// matches either by its primary ChipID or by membership in AltChipIDs;
// primary matches are preferred when both exist for the same pair, and
// ties among alt-only matches resolve to catalog declaration order. An
// alt-id match returns a copy whose ChipID is the queried chipID.
func (cat *Catalog) FindChip(chipID, deviceType byte) (*Chip, error) {
	var altMatch *Chip
	for _, fam := range cat.Families {
		if fam.DeviceType != deviceType {
			continue
		}
		for i := range fam.Chips {
			c := &fam.Chips[i]
			if c.ChipID == chipID {
				return cloneChip(c), nil
			}
			if altMatch == nil {
				for _, alt := range c.AltChipIDs {
					if alt == chipID {
						altMatch = c
						break
					}
				}
			}
		}
	}
	if altMatch != nil {
		out := cloneChip(altMatch)
		out.ChipID = chipID
		return out, nil
	}
	return nil, &UnknownChipError{ChipID: chipID, DeviceType: deviceType}
}

// cloneChip returns a deep-enough copy for per-session use: the
// ConfigRegisters slice and its nested Fields are copied so a session
// cannot accidentally mutate the shared catalog.
func cloneChip(c *Chip) *Chip {
	out := *c
	out.ConfigRegisters = make([]ConfigRegister, len(c.ConfigRegisters))
	for i, r := range c.ConfigRegisters {
		r.Fields = append([]RegisterField{}, r.Fields...)
		out.ConfigRegisters[i] = r
	}
	out.AltChipIDs = append([]byte{}, c.AltChipIDs...)
	return &out
}

// DebugRegister returns the config register declaring enable_debug/
// disable_debug values, or nil if this chip's catalog entry doesn't
// declare one (EnableDebug/DisableDebug are unsupported on that family).
func (c *Chip) DebugRegister() *ConfigRegister {
	for i := range c.ConfigRegisters {
		r := &c.ConfigRegisters[i]
		if r.EnableDebug != nil && r.DisableDebug != nil {
			return r
		}
	}
	return nil
}

// SupportsCodeFlashProtect reports whether this family's device_type is
// known to implement the RDPR code-flash read-protect bit meaningfully.
// Only this specific set of device types wires the bit up; everything
// else, including the early CH56x/CH55x parts and the newer CH32V00x/
// CH32X03x parts, reports unprotected regardless of RDPR's value.
func (f *ChipFamily) SupportsCodeFlashProtect() bool {
	switch f.DeviceType {
	case 0x14, 0x15, 0x17, 0x18, 0x19, 0x20:
		return true
	default:
		return false
	}
}

// FamiliesSorted returns the catalog's families sorted by device_type, useful
// for deterministic `list-chips` style output.
func (cat *Catalog) FamiliesSorted() []*ChipFamily {
	out := append([]*ChipFamily{}, cat.Families...)
	sort.Slice(out, func(i, j int) bool { return out[i].DeviceType < out[j].DeviceType })
	return out
}
