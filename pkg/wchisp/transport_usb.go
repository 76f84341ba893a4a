package wchisp

import (
	"context"
	"fmt"
	"time"

	"github.com/google/gousb"
)

// usbTransport sends and receives raw frames over a USB bulk endpoint pair.
// WCH's ISP bootloader enumerates as vendor 0x4348 or 0x1a86, product
// 0x55e0, with interface 0 exposing a single bulk OUT/IN pair.
type usbTransport struct {
	ctx       *gousb.Context
	dev       *gousb.Device
	intf      *gousb.Interface
	intfDone  func()
	outEP     *gousb.OutEndpoint
	inEP      *gousb.InEndpoint
}

// OpenUSB scans the USB bus for a WCH ISP bootloader device and claims it.
func OpenUSB() (Transport, error) {
	ctx := gousb.NewContext()

	dev, err := ctx.OpenDeviceWithVIDPID(gousb.ID(usbVendorWCH1), gousb.ID(usbProductISP))
	if err == nil && dev == nil {
		dev, err = ctx.OpenDeviceWithVIDPID(gousb.ID(usbVendorWCH2), gousb.ID(usbProductISP))
	}
	if err != nil {
		ctx.Close()
		return nil, &TransportError{Op: "open", Cause: err}
	}
	if dev == nil {
		ctx.Close()
		return nil, &TransportError{Op: "open", Cause: fmt.Errorf(
			"no WCH ISP device found (vid 0x%04x/0x%04x pid 0x%04x); "+
				"on Linux check udev rules grant access, on Windows install the WinUSB driver via Zadig",
			usbVendorWCH1, usbVendorWCH2, usbProductISP)}
	}

	dev.SetAutoDetach(true)

	cfg, err := dev.Config(1)
	if err != nil {
		dev.Close()
		ctx.Close()
		return nil, &TransportError{Op: "config", Cause: err}
	}
	intf, done, err := cfg.Interface(usbInterfaceNum, 0)
	if err != nil {
		cfg.Close()
		dev.Close()
		ctx.Close()
		return nil, &TransportError{Op: "claim-interface", Cause: err}
	}

	outEP, err := intf.OutEndpoint(usbEndpointOut)
	if err != nil {
		done()
		cfg.Close()
		dev.Close()
		ctx.Close()
		return nil, &TransportError{Op: "out-endpoint", Cause: err}
	}
	inEP, err := intf.InEndpoint(usbEndpointIn & 0x7f)
	if err != nil {
		done()
		cfg.Close()
		dev.Close()
		ctx.Close()
		return nil, &TransportError{Op: "in-endpoint", Cause: err}
	}

	return &usbTransport{ctx: ctx, dev: dev, intf: intf, intfDone: done, outEP: outEP, inEP: inEP}, nil
}

func (u *usbTransport) SendRaw(data []byte) error {
	_, err := u.outEP.Write(data)
	if err != nil {
		return fmt.Errorf("usb bulk write: %w", err)
	}
	return nil
}

func (u *usbTransport) RecvRaw(timeout time.Duration) ([]byte, error) {
	buf := make([]byte, MaxPacketSize)
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	n, err := u.inEP.ReadContext(ctx, buf)
	if err != nil {
		return nil, fmt.Errorf("usb bulk read: %w", err)
	}
	return buf[:n], nil
}

func (u *usbTransport) Close() error {
	u.intfDone()
	u.dev.Close()
	u.ctx.Close()
	return nil
}
