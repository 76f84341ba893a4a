package wchisp

import (
	"fmt"
	"time"

	"go.bug.st/serial"
)

// serialTransport frames raw command/response bytes over a UART link.
// Outgoing frames are prefixed 0x57 0xab; incoming frames are prefixed
// 0x55 0xaa. Both carry a trailing one-byte checksum (sum of the bytes
// between the preamble and the checksum, mod 256). Neither preamble nor
// checksum is part of the logical cmd/status/len/payload the codec in
// protocol.go works with.
type serialTransport struct {
	port serial.Port
}

// ScanPorts lists the system's available serial ports by name, in
// whatever order the platform's port enumeration reports them.
func ScanPorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, &TransportError{Op: "scan", Cause: err}
	}
	return ports, nil
}

// OpenNthSerialPort opens the nth entry (0-based) of ScanPorts' result at
// baudRate, failing with a *TransportError if fewer than n+1 ports exist.
// Used by CLI callers that pick a port by index instead of by name.
func OpenNthSerialPort(n int, baudRate int) (Transport, error) {
	ports, err := ScanPorts()
	if err != nil {
		return nil, err
	}
	if n < 0 || n >= len(ports) {
		return nil, &TransportError{Op: "open-nth", Cause: fmt.Errorf(
			"no serial port at index %d: %d port(s) found", n, len(ports))}
	}
	return OpenSerial(ports[n], baudRate)
}

// OpenSerial opens portName at 8N1, baudRate (or the ISP bootloader's
// default of 115200 if baudRate is 0).
func OpenSerial(portName string, baudRate int) (Transport, error) {
	if baudRate == 0 {
		baudRate = serialDefaultBaud
	}
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, &TransportError{Op: "open", Cause: err}
	}
	return &serialTransport{port: port}, nil
}

func checksum(data []byte) byte {
	var s byte
	for _, b := range data {
		s += b
	}
	return s
}

func (s *serialTransport) SendRaw(data []byte) error {
	frame := make([]byte, 0, 2+len(data)+1)
	frame = append(frame, serialReqPrefixLo, serialReqPrefixHi)
	frame = append(frame, data...)
	frame = append(frame, checksum(data))

	n, err := s.port.Write(frame)
	if err != nil {
		return fmt.Errorf("serial write: %w", err)
	}
	if n != len(frame) {
		return &FramingError{Reason: fmt.Sprintf("short write: wrote %d of %d bytes", n, len(frame))}
	}
	return nil
}

func (s *serialTransport) RecvRaw(timeout time.Duration) ([]byte, error) {
	if err := s.port.SetReadTimeout(timeout); err != nil {
		return nil, fmt.Errorf("serial set read timeout: %w", err)
	}

	header := make([]byte, 6)
	if err := readFull(s.port, header); err != nil {
		return nil, err
	}
	if header[0] != serialRespPrefixLo || header[1] != serialRespPrefixHi {
		return nil, &FramingError{Reason: fmt.Sprintf(
			"bad response preamble: got %02x %02x, want %02x %02x",
			header[0], header[1], serialRespPrefixLo, serialRespPrefixHi)}
	}

	// header[4] is the low byte of the declared payload length; the payload
	// is followed by the one-byte checksum.
	remaining := int(header[4]) + 1
	rest := make([]byte, remaining)
	if err := readFull(s.port, rest); err != nil {
		return nil, err
	}

	if len(rest) < 1 {
		return nil, &FramingError{Reason: "response missing checksum byte"}
	}
	body := rest[:len(rest)-1]
	sum := rest[len(rest)-1]
	logical := append(append([]byte{}, header[2:]...), body...)
	if checksum(logical) != sum {
		return nil, &FramingError{Reason: "response checksum mismatch"}
	}

	return logical, nil
}

func readFull(p serial.Port, buf []byte) error {
	read := 0
	for read < len(buf) {
		n, err := p.Read(buf[read:])
		if err != nil {
			return fmt.Errorf("serial read: %w", err)
		}
		if n == 0 {
			return &FramingError{Reason: "serial read timed out"}
		}
		read += n
	}
	return nil
}

func (s *serialTransport) Close() error { return s.port.Close() }
