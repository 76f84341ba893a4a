package wchisp

import (
	"fmt"
	"sort"
)

// RegisterField names a bit range within a ConfigRegister and maps its
// possible values to human-readable explanations.
type RegisterField struct {
	Name      string         `yaml:"name"`
	BitOffset int            `yaml:"bit_offset"`
	BitWidth  int            `yaml:"bit_width"`
	Explain   map[string]string `yaml:"explain,omitempty"`
}

// mask returns the bitmask covering this field's bit range.
func (f RegisterField) mask() uint32 {
	return ((uint32(1) << f.BitWidth) - 1) << f.BitOffset
}

// Extract pulls this field's value out of a register word.
func (f RegisterField) Extract(word uint32) uint32 {
	return (word & f.mask()) >> f.BitOffset
}

// Set returns word with this field's bits replaced by value.
func (f RegisterField) Set(word, value uint32) uint32 {
	return (word &^ f.mask()) | ((value << f.BitOffset) & f.mask())
}

// explanation looks up the human-readable meaning of the field's current
// value in word, falling back to the "_" wildcard entry if present.
func (f RegisterField) explanation(word uint32) (string, bool) {
	key := fmt.Sprintf("%d", f.Extract(word))
	if s, ok := f.Explain[key]; ok {
		return s, true
	}
	if s, ok := f.Explain["_"]; ok {
		return s, true
	}
	return "", false
}

// sortedExplainKeys returns the Explain map's keys in the order they
// should be displayed: the "_" wildcard always sorts last, everything
// else lexicographically, so the key order is deterministic across runs
// despite Go's randomized map iteration.
func (f RegisterField) sortedExplainKeys() []string {
	keys := make([]string, 0, len(f.Explain))
	for k := range f.Explain {
		if k == "_" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if _, ok := f.Explain["_"]; ok {
		keys = append(keys, "_")
	}
	return keys
}

// ConfigRegister is one addressable word within the chip's 12-byte
// RDPR/USER/DATA/WPR config block (see CfgMaskRDPRUserDataWPR).
//
// EnableDebug and DisableDebug, when present, are whole-register values
// (not bit masks) the engine writes verbatim to toggle hardware debug
// on this family — the bit position and every other bit's resting value
// varies enough across families that the catalog states the values
// outright rather than the engine guessing a bit offset.
type ConfigRegister struct {
	Name         string          `yaml:"name"`
	Offset       int             `yaml:"offset"`
	Reset        uint32          `yaml:"reset"`
	EnableDebug  *uint32         `yaml:"enable_debug,omitempty"`
	DisableDebug *uint32         `yaml:"disable_debug,omitempty"`
	Fields       []RegisterField `yaml:"fields,omitempty"`
}

// validate checks that Offset is within the 12-byte block and that no two
// fields overlap, raising *CatalogError on violation. Called once per
// family at catalog load time, not per session.
func (r ConfigRegister) validate(family string) error {
	if r.Offset < 0 || r.Offset+4 > 12 {
		return &CatalogError{Family: family, Detail: fmt.Sprintf(
			"register %q offset %d out of 12-byte config block", r.Name, r.Offset)}
	}
	var used uint32
	for _, f := range r.Fields {
		if f.BitOffset < 0 || f.BitWidth <= 0 || f.BitOffset+f.BitWidth > 32 {
			return &CatalogError{Family: family, Detail: fmt.Sprintf(
				"register %q field %q has invalid bit range [%d,+%d)",
				r.Name, f.Name, f.BitOffset, f.BitWidth)}
		}
		m := f.mask()
		if used&m != 0 {
			return &CatalogError{Family: family, Detail: fmt.Sprintf(
				"register %q field %q overlaps a preceding field", r.Name, f.Name)}
		}
		used |= m
	}
	return nil
}

// Explain returns, for each field in declaration order, its name and the
// explanation string for the field's value in word (empty if none).
func (r ConfigRegister) Explain(word uint32) []FieldExplanation {
	out := make([]FieldExplanation, 0, len(r.Fields))
	for _, f := range r.Fields {
		text, _ := f.explanation(word)
		out = append(out, FieldExplanation{
			Field: f.Name,
			Value: f.Extract(word),
			Text:  text,
		})
	}
	return out
}

// FieldExplanation is one rendered line of a config register dump.
type FieldExplanation struct {
	Field string
	Value uint32
	Text  string
}
