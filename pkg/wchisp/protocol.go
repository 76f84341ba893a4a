package wchisp

import (
	"encoding/binary"
	"fmt"
)

// Command is a tagged union of the 14 ISP commands. Only the field group
// commented for a given kind is meaningful; encoding dispatches per-kind
// rather than sharing one packed struct, since the payload shapes are
// heterogeneous.
type Command struct {
	kind byte

	// Identify
	deviceID, deviceType byte

	// IspEnd
	reason byte

	// IspKey
	keySeed []byte

	// Erase / DataErase
	sectors uint32

	// Program / Verify / DataProgram
	address uint32
	padding byte
	data    []byte

	// ReadConfig / WriteConfig
	bitMask    byte
	configData []byte

	// DataRead
	readLen uint16

	// SetBaud
	baud uint32

	// WriteOTP / ReadOTP
	otp byte
}

// IdentifyCommand builds an IDENTIFY request.
func IdentifyCommand(deviceID, deviceType byte) Command {
	return Command{kind: cmdIdentify, deviceID: deviceID, deviceType: deviceType}
}

// IspEndCommand builds an ISP_END request. reason is 0 for a normal end,
// 1 after a configuration change.
func IspEndCommand(reason byte) Command {
	return Command{kind: cmdIspEnd, reason: reason}
}

// IspKeyCommand builds an ISP_KEY request carrying the 30-byte seed.
func IspKeyCommand(seed []byte) Command {
	return Command{kind: cmdIspKey, keySeed: seed}
}

// EraseCommand builds an ERASE (code flash) request for the given sector count.
func EraseCommand(sectors uint32) Command {
	return Command{kind: cmdErase, sectors: sectors}
}

// ProgramCommand builds a PROGRAM request. data is the already-XORed payload.
func ProgramCommand(address uint32, padding byte, data []byte) Command {
	return Command{kind: cmdProgram, address: address, padding: padding, data: data}
}

// VerifyCommand builds a VERIFY request, same payload shape as PROGRAM.
func VerifyCommand(address uint32, padding byte, data []byte) Command {
	return Command{kind: cmdVerify, address: address, padding: padding, data: data}
}

// ReadConfigCommand builds a READ_CONFIG request for the given bit-mask.
func ReadConfigCommand(bitMask byte) Command {
	return Command{kind: cmdReadConfig, bitMask: bitMask}
}

// WriteConfigCommand builds a WRITE_CONFIG request; data must be exactly
// the bytes covered by bitMask.
func WriteConfigCommand(bitMask byte, data []byte) Command {
	return Command{kind: cmdWriteConfig, bitMask: bitMask, configData: data}
}

// DataEraseCommand builds a DATA_ERASE (EEPROM) request.
func DataEraseCommand(sectors uint16) Command {
	return Command{kind: cmdDataErase, sectors: uint32(sectors)}
}

// DataProgramCommand builds a DATA_PROGRAM (EEPROM) request.
func DataProgramCommand(address uint32, padding byte, data []byte) Command {
	return Command{kind: cmdDataProgram, address: address, padding: padding, data: data}
}

// DataReadCommand builds a DATA_READ (EEPROM) request. length must be <= 0x3a.
func DataReadCommand(address uint32, length uint16) Command {
	return Command{kind: cmdDataRead, address: address, readLen: length}
}

// SetBaudCommand builds a SET_BAUD request (serial transport only).
func SetBaudCommand(baud uint32) Command {
	return Command{kind: cmdSetBaud, baud: baud}
}

// WriteOTPCommand builds a reserved WRITE_OTP request.
func WriteOTPCommand(b byte) Command { return Command{kind: cmdWriteOTP, otp: b} }

// ReadOTPCommand builds a reserved READ_OTP request.
func ReadOTPCommand(b byte) Command { return Command{kind: cmdReadOTP, otp: b} }

// Byte returns the command byte this Command will encode with.
func (c Command) Byte() byte { return c.kind }

// Encode serializes the command to its wire frame: cmd(1) + len(2 LE) + payload.
func (c Command) Encode() ([]byte, error) {
	var payload []byte
	switch c.kind {
	case cmdIdentify:
		payload = make([]byte, 0, 18)
		payload = append(payload, c.deviceID, c.deviceType)
		payload = append(payload, identifyMagic...)
	case cmdIspEnd:
		payload = []byte{c.reason}
	case cmdIspKey:
		payload = append([]byte{}, c.keySeed...)
	case cmdErase:
		payload = make([]byte, 4)
		binary.LittleEndian.PutUint32(payload, c.sectors)
	case cmdProgram, cmdVerify, cmdDataProgram:
		payload = make([]byte, 5+len(c.data))
		binary.LittleEndian.PutUint32(payload[0:4], c.address)
		payload[4] = c.padding
		copy(payload[5:], c.data)
	case cmdReadConfig:
		payload = []byte{c.bitMask, 0x00}
	case cmdWriteConfig:
		payload = make([]byte, 2+len(c.configData))
		payload[0] = c.bitMask
		payload[1] = 0x00
		copy(payload[2:], c.configData)
	case cmdDataErase:
		payload = []byte{0, 0, 0, 0, byte(c.sectors), 0, 0}
	case cmdDataRead:
		payload = make([]byte, 6)
		binary.LittleEndian.PutUint32(payload[0:4], c.address)
		binary.LittleEndian.PutUint16(payload[4:6], c.readLen)
	case cmdSetBaud:
		payload = make([]byte, 4)
		binary.LittleEndian.PutUint32(payload, c.baud)
	case cmdWriteOTP, cmdReadOTP:
		payload = []byte{c.otp}
	default:
		return nil, fmt.Errorf("wchisp: unknown command kind 0x%02x", c.kind)
	}

	buf := make([]byte, 3+len(payload))
	buf[0] = c.kind
	binary.LittleEndian.PutUint16(buf[1:3], uint16(len(payload)))
	copy(buf[3:], payload)
	return buf, nil
}

// Response is a decoded ISP response frame: the status byte and payload.
// Status 0x00 and 0x82 both mean OK (see DecodeResponse); any other status
// is surfaced as a *DeviceError but the payload is still returned so callers
// that want to inspect it (e.g. dump tooling) can.
type Response struct {
	Cmd     byte
	Status  byte
	Payload []byte
}

// statusOK reports whether a status byte should be treated as success.
// Early bootloader revisions use only 0x00; a later revision also returns
// 0x82 for success. We are lenient on the status byte and rely on
// payload-length consistency, rather than failing on an unrecognized but
// plausible status.
func statusOK(status byte) bool {
	return status == 0x00 || status == 0x82
}

// DecodeResponse parses a raw response frame of the form
// cmd(1) + status(1) + len(2 LE) + payload(len). It always validates the
// declared length against the actual remaining bytes.
func DecodeResponse(raw []byte) (*Response, error) {
	if len(raw) < 4 {
		return nil, &FramingError{Reason: fmt.Sprintf("response too short: %d bytes", len(raw))}
	}
	cmd := raw[0]
	status := raw[1]
	declared := int(binary.LittleEndian.Uint16(raw[2:4]))
	payload := raw[4:]
	if len(payload) != declared {
		return nil, &FramingError{Reason: fmt.Sprintf(
			"declared payload length %d does not match actual %d", declared, len(payload))}
	}

	resp := &Response{Cmd: cmd, Status: status, Payload: payload}
	if !statusOK(status) {
		return resp, &DeviceError{Cmd: cmd, Status: status, Payload: payload}
	}
	return resp, nil
}
