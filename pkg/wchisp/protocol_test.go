package wchisp

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func TestIdentifyCommandEncode(t *testing.T) {
	raw, err := IdentifyCommand(0x00, 0x00).Encode()
	if err != nil {
		t.Fatalf("Encode returned error: %v", err)
	}
	if raw[0] != cmdIdentify {
		t.Fatalf("expected command byte 0x%02x, got 0x%02x", cmdIdentify, raw[0])
	}
	wantLen := uint16(2 + len(identifyMagic))
	gotLen := binary.LittleEndian.Uint16(raw[1:3])
	if gotLen != wantLen {
		t.Fatalf("expected declared length %d, got %d", wantLen, gotLen)
	}
	if string(raw[5:]) != identifyMagic {
		t.Fatalf("expected trailing magic %q, got %q", identifyMagic, raw[5:])
	}
}

func TestProgramCommandEncode(t *testing.T) {
	data := []byte{0xaa, 0xbb, 0xcc}
	raw, err := ProgramCommand(0x00001000, 0, data).Encode()
	if err != nil {
		t.Fatalf("Encode returned error: %v", err)
	}
	if raw[0] != cmdProgram {
		t.Fatalf("expected command byte 0x%02x, got 0x%02x", cmdProgram, raw[0])
	}
	gotLen := binary.LittleEndian.Uint16(raw[1:3])
	if int(gotLen) != 5+len(data) {
		t.Fatalf("expected declared length %d, got %d", 5+len(data), gotLen)
	}
	address := binary.LittleEndian.Uint32(raw[3:7])
	if address != 0x1000 {
		t.Fatalf("expected address 0x1000, got 0x%x", address)
	}
	if !bytes.Equal(raw[8:], data) {
		t.Fatalf("expected payload %x, got %x", data, raw[8:])
	}
}

func TestReadConfigCommandEncode(t *testing.T) {
	raw, err := ReadConfigCommand(CfgMaskAll).Encode()
	if err != nil {
		t.Fatalf("Encode returned error: %v", err)
	}
	want := []byte{cmdReadConfig, 0x02, 0x00, CfgMaskAll, 0x00}
	if !bytes.Equal(raw, want) {
		t.Fatalf("expected %x, got %x", want, raw)
	}
}

func TestDecodeResponseOKStatus(t *testing.T) {
	for _, status := range []byte{0x00, 0x82} {
		raw := []byte{cmdIdentify, status, 0x02, 0x00, 0x11, 0x22}
		resp, err := DecodeResponse(raw)
		if err != nil {
			t.Fatalf("status 0x%02x: expected no error, got %v", status, err)
		}
		if resp.Status != status {
			t.Fatalf("expected status 0x%02x, got 0x%02x", status, resp.Status)
		}
		if !bytes.Equal(resp.Payload, []byte{0x11, 0x22}) {
			t.Fatalf("expected payload [11 22], got %x", resp.Payload)
		}
	}
}

func TestDecodeResponseErrorStatus(t *testing.T) {
	raw := []byte{cmdErase, 0xff, 0x00, 0x00}
	resp, err := DecodeResponse(raw)
	if err == nil {
		t.Fatalf("expected error for non-OK status")
	}
	de, ok := IsDeviceError(err)
	if !ok {
		t.Fatalf("expected *DeviceError, got %T", err)
	}
	if de.Status != 0xff || de.Cmd != cmdErase {
		t.Fatalf("unexpected DeviceError fields: %+v", de)
	}
	if resp == nil || resp.Cmd != cmdErase {
		t.Fatalf("expected non-nil Response with decoded Cmd even on device error")
	}
}

func TestDecodeResponseLengthMismatch(t *testing.T) {
	raw := []byte{cmdIdentify, 0x00, 0x05, 0x00, 0x11}
	_, err := DecodeResponse(raw)
	if !IsFramingError(err) {
		t.Fatalf("expected *FramingError for length mismatch, got %v", err)
	}
}

func TestDecodeResponseTooShort(t *testing.T) {
	_, err := DecodeResponse([]byte{0x01, 0x02})
	if !IsFramingError(err) {
		t.Fatalf("expected *FramingError for too-short frame, got %v", err)
	}
}
