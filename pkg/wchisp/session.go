package wchisp

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"strings"
)

// Session represents an opened, identified ISP device: the resolved chip,
// its current config register contents, and the derived XOR key used for
// the rest of the conversation. Open performs the IDENTIFY + READ_CONFIG
// sequence every other operation depends on and derives the key.
type Session struct {
	link *Link
	cat  *Catalog

	Chip   *Chip
	UID    []byte
	BTVER  [2]byte // major, minor
	Config [3]uint32 // RDPR/USER, DATA0/DATA1, WPR block, each a little-endian word

	key [8]byte
}

// Open runs the session-open sequence against link: IDENTIFY, then
// READ_CONFIG with the full bitmask, then resolves the reported chip_id
// and device_type against cat, validates the UID checksum, and derives
// the XOR key. It does not send ISP_KEY itself; callers needing the
// device to accept the key call SendISPKey explicitly, since some
// operations (plain identify/info) don't need it.
func Open(link *Link, cat *Catalog) (*Session, error) {
	idResp, err := link.Transfer(IdentifyCommand(0x00, 0x00))
	if err != nil {
		return nil, fmt.Errorf("identify: %w", err)
	}
	if len(idResp.Payload) < 2 {
		return nil, &FramingError{Reason: "identify response shorter than 2 bytes"}
	}
	chipID := idResp.Payload[0]
	deviceType := idResp.Payload[1]

	cfgResp, err := link.Transfer(ReadConfigCommand(CfgMaskAll))
	if err != nil {
		return nil, fmt.Errorf("read_config: %w", err)
	}
	// Wire layout: 2 echo bytes, then the 12-byte RDPR/USER/DATA/WPR block,
	// then a 4-byte BTVER, then the UID. See spec.md §4.1/§4.2 and
	// original_source/src/flashing.rs:48-58.
	if len(cfgResp.Payload) < 26 {
		return nil, &FramingError{Reason: fmt.Sprintf(
			"read_config response too short: %d bytes, want >= 26", len(cfgResp.Payload))}
	}
	block := cfgResp.Payload[2:14]

	var cfg [3]uint32
	for i := 0; i < 3; i++ {
		cfg[i] = binary.LittleEndian.Uint32(block[i*4 : i*4+4])
	}
	btver := [2]byte{cfgResp.Payload[15], cfgResp.Payload[16]}
	chip, err := cat.FindChip(chipID, deviceType)
	if err != nil {
		return nil, err
	}
	uidSize := chip.Family.UIDSize
	if uidSize <= 0 || uidSize > 8 {
		uidSize = 8
	}
	uid := append([]byte{}, cfgResp.Payload[18:18+uidSize]...)

	if !uidChecksumOK(uid) {
		var arr [8]byte
		copy(arr[:], uid)
		return nil, &UIDChecksumError{UID: arr}
	}

	if cfg[2] != 0xffffffff {
		slog.Warn("wchisp: WPR word is not fully unset, flash write-protection may be active",
			"wpr", fmt.Sprintf("0x%08x", cfg[2]))
	}

	s := &Session{
		link:   link,
		cat:    cat,
		Chip:   chip,
		UID:    uid,
		BTVER:  btver,
		Config: cfg,
		key:    deriveXORKey(uid, chipID, chip.Family.UIDSize),
	}
	slog.Info("wchisp: session opened", "chip", chip.Name, "uid", fmt.Sprintf("% x", uid),
		"btver", fmt.Sprintf("%d.%d", btver[0], btver[1]))
	return s, nil
}

// SendISPKey sends the ISP_KEY command with an all-zero seed, which the
// bootloader requires before it will accept key-obfuscated
// PROGRAM/VERIFY/DATA_PROGRAM payloads.
func (s *Session) SendISPKey() error {
	_, err := s.link.Transfer(IspKeyCommand(zeroISPKeySeed()))
	if err != nil {
		return fmt.Errorf("isp_key: %w", err)
	}
	return nil
}

// End sends ISP_END, terminating the session. reason should be 1 if a
// config write happened during the session (prompts the bootloader to
// apply it on reset), 0 otherwise.
func (s *Session) End(reason byte) error {
	_, err := s.link.Transfer(IspEndCommand(reason))
	if err != nil {
		return fmt.Errorf("isp_end: %w", err)
	}
	return nil
}

// Reidentify re-runs IDENTIFY and checks the reported chip_id/device_type
// still match s.Chip, then issues a READ_CONFIG whose response is
// discarded, without re-deriving the session key. Used after a RESET to
// confirm the device came back up as the same part.
func (s *Session) Reidentify() error {
	idResp, err := s.link.Transfer(IdentifyCommand(0x00, 0x00))
	if err != nil {
		return fmt.Errorf("reidentify: %w", err)
	}
	if len(idResp.Payload) < 2 {
		return &FramingError{Reason: "identify response shorter than 2 bytes"}
	}
	if idResp.Payload[0] != s.Chip.ChipID || idResp.Payload[1] != s.Chip.Family.DeviceType {
		return &UnknownChipError{ChipID: idResp.Payload[0], DeviceType: idResp.Payload[1]}
	}
	if _, err := s.link.Transfer(ReadConfigCommand(CfgMaskAll)); err != nil {
		return fmt.Errorf("reidentify read_config: %w", err)
	}
	return nil
}

// ExpectChipName fails unless s.Chip's name case-insensitively contains
// want, letting CLI callers guard against flashing the wrong board when a
// --chip hint was given.
func (s *Session) ExpectChipName(want string) error {
	if want == "" {
		return nil
	}
	if !strings.Contains(strings.ToLower(s.Chip.Name), strings.ToLower(want)) {
		return &UnknownChipError{ChipID: s.Chip.ChipID, DeviceType: s.Chip.Family.DeviceType}
	}
	return nil
}

// CodeFlashProtected reports whether the RDPR register's current value
// indicates code-flash read-out protection is engaged.
func (s *Session) CodeFlashProtected() bool {
	if !s.Chip.Family.SupportsCodeFlashProtect() {
		return false
	}
	return byte(s.Config[0]&0xff) != 0xa5
}

// InfoReport is a snapshot of a session's identity, suitable for `info`
// subcommand output or logging.
type InfoReport struct {
	ChipName        string
	ChipID          byte
	DeviceType      byte
	UID             []byte
	BTVERMajor      byte
	BTVERMinor      byte
	FlashSize       int
	EepromSize      int
	SRAMSize        int
	CodeFlashLocked bool
}

// Info summarizes the session for display.
func (s *Session) Info() InfoReport {
	return InfoReport{
		ChipName:        s.Chip.Name,
		ChipID:          s.Chip.ChipID,
		DeviceType:      s.Chip.Family.DeviceType,
		UID:             s.UID,
		BTVERMajor:      s.BTVER[0],
		BTVERMinor:      s.BTVER[1],
		FlashSize:       s.Chip.FlashSize,
		EepromSize:      s.Chip.EepromSize,
		SRAMSize:        s.Chip.SRAMSize,
		CodeFlashLocked: s.CodeFlashProtected(),
	}
}

// ConfigExplanation renders every config register this chip declares
// against the session's currently cached Config words.
func (s *Session) ConfigExplanation() map[string][]FieldExplanation {
	out := make(map[string][]FieldExplanation, len(s.Chip.ConfigRegisters))
	for _, r := range s.Chip.ConfigRegisters {
		word := s.configWordAt(r.Offset)
		out[r.Name] = r.Explain(word)
	}
	return out
}

// configWordAt returns the 4-byte little-endian word of s.Config covering
// offset, which must be 0, 4, or 8 (the three words of the 12-byte block).
func (s *Session) configWordAt(offset int) uint32 {
	idx := offset / 4
	if idx < 0 || idx >= len(s.Config) {
		return 0
	}
	return s.Config[idx]
}
