package wchisp

import (
	"encoding/binary"
	"time"
)

// mockTransport is an in-memory stand-in for a USB/serial link, shaped
// like the teacher's Card interface: no framing of its own, just raw
// request/response bytes. respond is invoked with the raw request frame
// (cmd, len, payload) this package's Encode produced, and must return a
// raw response frame of the same shape DecodeResponse expects.
type mockTransport struct {
	respond func(reqRaw []byte) []byte
	sent    [][]byte
	closed  bool
}

func (m *mockTransport) SendRaw(data []byte) error {
	cp := append([]byte{}, data...)
	m.sent = append(m.sent, cp)
	return nil
}

func (m *mockTransport) RecvRaw(timeout time.Duration) ([]byte, error) {
	last := m.sent[len(m.sent)-1]
	return m.respond(last), nil
}

func (m *mockTransport) Close() error {
	m.closed = true
	return nil
}

// okResponse builds a raw OK response frame for cmd carrying payload.
func okResponse(cmd byte, payload []byte) []byte {
	buf := make([]byte, 4+len(payload))
	buf[0] = cmd
	buf[1] = 0x00
	binary.LittleEndian.PutUint16(buf[2:4], uint16(len(payload)))
	copy(buf[4:], payload)
	return buf
}

// errResponse builds a raw error-status response frame for cmd.
func errResponse(cmd, status byte) []byte {
	return []byte{cmd, status, 0x00, 0x00}
}

// fixedIdentifyReadConfig wires a mockTransport that answers IDENTIFY and
// READ_CONFIG for the given chip_id/device_type/uid, then defers to
// extra for anything else (ISP_KEY, ERASE, PROGRAM, VERIFY, ISP_END, ...).
// The READ_CONFIG payload follows the real wire layout: 2 echo bytes,
// then the 12-byte RDPR/USER/DATA/WPR block, then a 4-byte BTVER, then
// the UID.
func fixedIdentifyReadConfig(chipID, deviceType byte, uid [8]byte, extra func(reqRaw []byte) []byte) *mockTransport {
	return &mockTransport{
		respond: func(reqRaw []byte) []byte {
			switch reqRaw[0] {
			case cmdIdentify:
				return okResponse(cmdIdentify, []byte{chipID, deviceType})
			case cmdReadConfig:
				payload := make([]byte, 26)
				payload[0], payload[1] = CfgMaskAll, 0x00 // echo of the request bitmask
				binary.LittleEndian.PutUint32(payload[2:6], 0x5affffa5)
				binary.LittleEndian.PutUint32(payload[6:10], 0xffffffff)
				binary.LittleEndian.PutUint32(payload[10:14], 0xffffffff)
				payload[15] = 0x02 // BTVER major
				payload[16] = 0x08 // BTVER minor
				copy(payload[18:26], uid[:])
				return okResponse(cmdReadConfig, payload)
			default:
				return extra(reqRaw)
			}
		},
	}
}

// validUID8 returns an 8-byte UID satisfying the device's real checksum
// invariant: the little-endian 16-bit words at offsets 0, 2, and 4 sum
// (mod 65536) to the little-endian 16-bit word at offset 6.
func validUID8(w0, w1, w2 uint16) [8]byte {
	var uid [8]byte
	binary.LittleEndian.PutUint16(uid[0:2], w0)
	binary.LittleEndian.PutUint16(uid[2:4], w1)
	binary.LittleEndian.PutUint16(uid[4:6], w2)
	binary.LittleEndian.PutUint16(uid[6:8], w0+w1+w2)
	return uid
}
