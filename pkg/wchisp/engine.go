package wchisp

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// chunkSize is the largest PROGRAM/VERIFY/DATA_PROGRAM payload the
// bootloader accepts per command, leaving room in the 64-byte USB packet
// for the command header and address.
const chunkSize = 56

// Post-command settle delays: the bootloader needs real wall-clock time
// to complete flash-controller operations before it will answer the next
// command coherently.
const (
	eraseWait       = 5 * time.Second
	programWait     = 300 * time.Millisecond
	eepromProgWait  = 5 * time.Millisecond
	dataEraseWait   = 1 * time.Second
)

// EraseCode erases the whole code flash region, using the chip's full
// size to compute the sector count. Use this for a standalone "erase"
// operation; Flash erases only what it is about to program.
func (s *Session) EraseCode() error {
	sectors := s.Chip.FlashSize/SectorSize + 1
	if sectors < s.Chip.Family.MinEraseSectors {
		sectors = s.Chip.Family.MinEraseSectors
	}
	return s.eraseCode(uint32(sectors))
}

// Flash erases enough sectors to cover len(image) starting at address 0,
// sends ISP_KEY, programs image in chunkSize pieces, and leaves the
// session ready for an optional Verify. It does not send ISP_END;
// callers finish the session themselves so they can choose the reason
// byte (a config write earlier in the same session wants reason=1).
func (s *Session) Flash(ctx context.Context, image []byte) error {
	if len(image) > s.Chip.FlashSize {
		return &SizeMismatchError{Want: s.Chip.FlashSize, Got: len(image)}
	}

	// Deliberately len/1024 + 1, not a true ceiling division: the real
	// WCH tooling this package matches computes it this way too, so an
	// image whose length is an exact multiple of 1024 erases one sector
	// more than strictly necessary. Preserved for behavioral parity.
	sectors := len(image)/SectorSize + 1
	if sectors < s.Chip.Family.MinEraseSectors {
		sectors = s.Chip.Family.MinEraseSectors
	}
	if err := s.eraseCode(uint32(sectors)); err != nil {
		return err
	}
	if err := s.SendISPKey(); err != nil {
		return err
	}

	slog.Info("wchisp: programming", "bytes", len(image), "chunk_size", chunkSize)
	for off := 0; off < len(image); off += chunkSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := off + chunkSize
		if end > len(image) {
			end = len(image)
		}
		if err := s.flashChunk(uint32(off), image[off:end]); err != nil {
			return fmt.Errorf("program chunk at 0x%08x: %w", off, err)
		}
	}
	return nil
}

// flashChunk XORs and sends one PROGRAM command, waiting programWait for
// the controller to commit it.
func (s *Session) flashChunk(address uint32, data []byte) error {
	padded := append([]byte{}, data...)
	xorPayload(padded, s.key)
	if _, err := s.link.Transfer(ProgramCommand(address, 0, padded)); err != nil {
		return err
	}
	time.Sleep(programWait)
	return nil
}

// eraseCode sends ERASE for the given sector count and waits eraseWait,
// the flash controller's worst-case mass-erase latency.
func (s *Session) eraseCode(sectors uint32) error {
	slog.Info("wchisp: erasing code flash", "sectors", sectors)
	if _, err := s.link.TransferTimeout(EraseCommand(sectors), eraseWait+defaultTimeout); err != nil {
		return fmt.Errorf("erase: %w", err)
	}
	time.Sleep(eraseWait)
	return nil
}

// Verify re-sends image in chunkSize pieces as VERIFY commands, returning
// a *VerifyMismatchError at the first chunk the device reports as
// differing from flash contents.
func (s *Session) Verify(ctx context.Context, image []byte) error {
	for off := 0; off < len(image); off += chunkSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := off + chunkSize
		if end > len(image) {
			end = len(image)
		}
		padded := append([]byte{}, image[off:end]...)
		xorPayload(padded, s.key)

		resp, err := s.link.Transfer(VerifyCommand(uint32(off), 0, padded))
		if err != nil {
			if de, ok := IsDeviceError(err); ok && de.Status != 0x00 {
				return &VerifyMismatchError{Address: uint32(off)}
			}
			return fmt.Errorf("verify chunk at 0x%08x: %w", off, err)
		}
		if len(resp.Payload) > 0 && resp.Payload[0] != 0x00 {
			return &VerifyMismatchError{Address: uint32(off)}
		}
	}
	return nil
}

// EraseData erases the EEPROM-like data flash region. sectors follows the
// same 1024-byte granularity as code flash.
func (s *Session) EraseData(sectors uint32) error {
	if s.Chip.EepromSize == 0 {
		return &UnsupportedOperationError{Op: "erase-data", Reason: "chip has no data flash"}
	}
	slog.Info("wchisp: erasing data flash", "sectors", sectors)
	if _, err := s.link.TransferTimeout(DataEraseCommand(uint16(sectors)), dataEraseWait+defaultTimeout); err != nil {
		return fmt.Errorf("data_erase: %w", err)
	}
	time.Sleep(dataEraseWait)
	return nil
}

// WriteEEPROM sends ISP_KEY then programs data into the data flash region
// starting at address, chunkSize bytes at a time.
func (s *Session) WriteEEPROM(ctx context.Context, address uint32, data []byte) error {
	if s.Chip.EepromSize == 0 {
		return &UnsupportedOperationError{Op: "write-eeprom", Reason: "chip has no data flash"}
	}
	if int(address)+len(data) > s.Chip.EepromSize {
		return &SizeMismatchError{Want: s.Chip.EepromSize, Got: int(address) + len(data)}
	}
	if err := s.SendISPKey(); err != nil {
		return err
	}
	for off := 0; off < len(data); off += chunkSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := off + chunkSize
		if end > len(data) {
			end = len(data)
		}
		padded := append([]byte{}, data[off:end]...)
		xorPayload(padded, s.key)
		if _, err := s.link.Transfer(DataProgramCommand(address+uint32(off), 0, padded)); err != nil {
			return fmt.Errorf("data_program chunk at 0x%08x: %w", off, err)
		}
		time.Sleep(eepromProgWait)
	}
	return nil
}

// dataReadChunk is the largest DATA_READ length the bootloader accepts
// per command; the response frame must still fit in one 64-byte packet.
const dataReadChunk = 0x3a

// DumpEEPROM reads the whole data flash region in dataReadChunk pieces.
func (s *Session) DumpEEPROM(ctx context.Context) ([]byte, error) {
	if s.Chip.EepromSize == 0 {
		return nil, &UnsupportedOperationError{Op: "dump-eeprom", Reason: "chip has no data flash"}
	}
	out := make([]byte, 0, s.Chip.EepromSize)
	for off := 0; off < s.Chip.EepromSize; off += dataReadChunk {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n := dataReadChunk
		if off+n > s.Chip.EepromSize {
			n = s.Chip.EepromSize - off
		}
		resp, err := s.link.Transfer(DataReadCommand(uint32(off), uint16(n)))
		if err != nil {
			return nil, fmt.Errorf("data_read chunk at 0x%08x: %w", off, err)
		}
		if len(resp.Payload) != n {
			return nil, &SizeMismatchError{Want: n, Got: len(resp.Payload)}
		}
		out = append(out, resp.Payload...)
	}
	return out, nil
}

// WriteConfig sends the 12-byte RDPR/USER/DATA/WPR block unmodified except
// for the three words supplied, then re-reads the block with READ_CONFIG
// to confirm the device actually holds what was written before caching it
// in s.Config. Callers must still End(1) to apply it.
func (s *Session) WriteConfig(words [3]uint32) error {
	data := make([]byte, 12)
	for i, w := range words {
		putUint32LE(data[i*4:i*4+4], w)
	}
	if _, err := s.link.Transfer(WriteConfigCommand(CfgMaskRDPRUserDataWPR, data)); err != nil {
		return fmt.Errorf("write_config: %w", err)
	}
	readBack, err := s.readConfigBlock()
	if err != nil {
		return err
	}
	if readBack != words {
		return &ConfigWriteError{Want: words, Got: readBack}
	}
	s.Config = readBack
	return nil
}

// readConfigBlock re-reads the 12-byte RDPR/USER/DATA/WPR block directly,
// skipping the 2-byte echo prefix every READ_CONFIG response carries.
func (s *Session) readConfigBlock() ([3]uint32, error) {
	var cfg [3]uint32
	resp, err := s.link.Transfer(ReadConfigCommand(CfgMaskRDPRUserDataWPR))
	if err != nil {
		return cfg, fmt.Errorf("read_config: %w", err)
	}
	if len(resp.Payload) < 14 {
		return cfg, &FramingError{Reason: fmt.Sprintf(
			"read_config response too short: %d bytes, want >= 14", len(resp.Payload))}
	}
	block := resp.Payload[2:14]
	for i := 0; i < 3; i++ {
		cfg[i] = binary.LittleEndian.Uint32(block[i*4 : i*4+4])
	}
	return cfg, nil
}

func putUint32LE(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

// ResetConfig restores the RDPR/USER/DATA/WPR block to its family's
// documented factory-reset values.
func (s *Session) ResetConfig() error {
	var reset [3]uint32
	for _, r := range s.Chip.ConfigRegisters {
		idx := r.Offset / 4
		if idx >= 0 && idx < len(reset) {
			reset[idx] = r.Reset
		}
	}
	return s.WriteConfig(reset)
}

// Unprotect forces the chip out of code-flash read-protection: RDPR goes
// to the documented "unprotected" sentinel 0xa5, nRDPR (its complement
// byte) to 0x5a, and the WPR word is forced fully unset so no sector-level
// write-protect bit survives alongside the disabled read-protect. This
// matches the worked example of a5 5a .. .. .. .. .. .. ff ff ff ff.
func (s *Session) Unprotect() error {
	if !s.Chip.Family.SupportsCodeFlashProtect() {
		return &UnsupportedOperationError{Op: "unprotect", Reason: "device_type does not support code-flash protect"}
	}
	words := s.Config
	words[0] = (words[0] &^ 0xffff) | 0x5aa5
	words[2] = 0xffffffff
	return s.WriteConfig(words)
}

// EnableDebug and DisableDebug write the chip's catalog-declared
// enable_debug/disable_debug whole-register values to its debug register.
// Both return *UnsupportedOperationError unless the catalog declares both
// values on one of this chip's registers.
func (s *Session) EnableDebug() error  { return s.setDebugBit(true) }
func (s *Session) DisableDebug() error { return s.setDebugBit(false) }

func (s *Session) setDebugBit(enable bool) error {
	reg := s.Chip.DebugRegister()
	if reg == nil {
		return &UnsupportedOperationError{Op: "set-debug", Reason: "chip declares no enable_debug/disable_debug value"}
	}
	value := *reg.DisableDebug
	if enable {
		value = *reg.EnableDebug
	}
	words := s.Config
	idx := reg.Offset / 4
	if idx < 0 || idx >= len(words) {
		return &CatalogError{Family: s.Chip.Family.Name, Detail: fmt.Sprintf(
			"debug register %q offset %d out of config block", reg.Name, reg.Offset)}
	}
	words[idx] = value
	return s.WriteConfig(words)
}

// Reset sends ISP_END with reason 1, which both terminates the session
// and instructs the bootloader to reset the MCU so any pending config
// write takes effect and code execution begins.
//
// This is the one place an error is deliberately hidden: once the request
// was sent, a failed receive is logged at Debug and Reset returns nil,
// since the device may already be resetting. A failed send still
// propagates.
func (s *Session) Reset() error {
	err := s.End(1)
	var te *TransportError
	if errors.As(err, &te) && te.Op == "recv" {
		slog.Debug("wchisp: ignoring receive error after ISP_END reset", "err", err)
		return nil
	}
	return err
}
