/*
Package wchisp implements the host side of the WCH in-system programmer (ISP)
protocol used by CH32V/CH32F/CH5xx/CH32X0xx microcontrollers' USB/UART
bootloader.

This package consolidates the protocol codec, chip/family catalog,
configuration-register model, and flashing orchestration behind one API:
  - Frame encoding/decoding for the 14 ISP commands (Identify, IspEnd,
    IspKey, Erase, Program, Verify, ReadConfig, WriteConfig, DataErase,
    DataProgram, DataRead, WriteOTP, ReadOTP, SetBaud)
  - A narrow Transport capability satisfied by both the USB bulk backend
    (transport_usb.go, github.com/google/gousb) and the serial backend
    (transport_serial.go, go.bug.st/serial)
  - A static chip family/variant catalog, embedded as YAML and resolved by
    (chip_id, device_type)
  - A Session type that opens a device, derives the XOR obfuscation key,
    and exposes Flash/Verify/Erase/DumpEEPROM/WriteEEPROM/config operations

# XOR key derivation

The device's ISP_KEY command accepts a 30-byte seed and mixes it with an
internal per-device secret to derive an 8-byte XOR key used to obfuscate
Program/Verify/DataProgram payloads. This package always sends an all-zero
seed and derives the key purely from the chip UID and chip ID (see
xorKey), which is sufficient to interoperate with the bootloader but is not
the full key algorithm the silicon supports. A non-zero seed would require
mirroring the device's internal mixing function, which is not implemented
here. DESIGN.md records this simplification.

# Config bit-mask

READ_CONFIG/WRITE_CONFIG select register groups with a bitmask:
mask 0x07 selects the 12-byte RDPR/USER/DATA/WPR block, mask 0x1f selects
everything (block + BTVER + UID, 24 bytes of register content).
*/
package wchisp
