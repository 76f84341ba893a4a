package wchisp

import (
	"context"
	"log/slog"
	"time"
)

// Transport is the capability a byte-oriented link to the ISP bootloader
// must satisfy. Implementations (transport_usb.go, transport_serial.go)
// move whole logical frames, adding and stripping only their substrate's
// own wrapping (the serial preamble and checksum); command encoding,
// response decoding and command/response matching live in Link.
type Transport interface {
	// SendRaw writes one already-framed request.
	SendRaw(data []byte) error
	// RecvRaw reads one response frame, blocking up to timeout.
	RecvRaw(timeout time.Duration) ([]byte, error)
	// Close releases the underlying device handle.
	Close() error
}

const defaultTimeout = 3 * time.Second

// Link pairs a Transport with the codec, providing the Transfer operation
// callers actually use: encode, send, receive, decode, and verify the
// response answers the request that was sent.
type Link struct {
	t Transport
}

// NewLink wraps a Transport in the protocol-level Transfer API.
func NewLink(t Transport) *Link { return &Link{t: t} }

// Close releases the underlying transport.
func (l *Link) Close() error { return l.t.Close() }

// Transfer encodes cmd, sends it, and decodes the response, verifying
// that the response's command byte matches what was sent.
func (l *Link) Transfer(cmd Command) (*Response, error) {
	return l.TransferTimeout(cmd, defaultTimeout)
}

// TransferTimeout is Transfer with an explicit response timeout, used by
// operations (ERASE, DATA_ERASE) whose device-side latency exceeds the
// default.
func (l *Link) TransferTimeout(cmd Command, timeout time.Duration) (*Response, error) {
	raw, err := cmd.Encode()
	if err != nil {
		return nil, err
	}
	slog.Debug("wchisp: send", "cmd", slog.Int("byte", int(cmd.Byte())), "len", len(raw))
	if err := l.t.SendRaw(raw); err != nil {
		return nil, &TransportError{Op: "send", Cause: err}
	}

	respRaw, err := l.t.RecvRaw(timeout)
	if err != nil {
		return nil, &TransportError{Op: "recv", Cause: err}
	}
	slog.Debug("wchisp: recv", "len", len(respRaw))

	resp, decErr := DecodeResponse(respRaw)
	if decErr != nil {
		if _, ok := IsDeviceError(decErr); !ok {
			return nil, decErr
		}
	}
	if resp != nil && resp.Cmd != cmd.Byte() {
		return resp, &ProtocolError{Sent: cmd.Byte(), Got: resp.Cmd}
	}
	return resp, decErr
}

// TransferContext is TransferTimeout but bails early if ctx is done before
// the call is issued. The ISP protocol has no mid-flight cancellation, so
// this only prevents starting a new chunk once the caller has given up.
func (l *Link) TransferContext(ctx context.Context, cmd Command, timeout time.Duration) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return l.TransferTimeout(cmd, timeout)
}
