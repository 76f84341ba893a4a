package wchisp

// MaxPacketSize is the USB bulk endpoint's maximum packet size.
const MaxPacketSize = 64

// SectorSize is the code/data flash erase and program granularity.
const SectorSize = 1024

// Config bit-mask groups for ReadConfig/WriteConfig.
//
//	BYTE0   BYTE1   BYTE2   BYTE3
//	RDPR    nRDPR   USER    nUSER
//	DATA0   nDATA0  DATA1   nDATA1
//	WPR0    WPR1    WPR2    WPR3
const (
	// CfgMaskRDPRUserDataWPR selects the 12-byte RDPR/USER/DATA/WPR block.
	CfgMaskRDPRUserDataWPR byte = 0x07
	// CfgMaskBTVER selects the 4-byte bootloader version, [0x00, major, minor, 0x00].
	CfgMaskBTVER byte = 0x08
	// CfgMaskUID selects the 8-byte device unique ID.
	CfgMaskUID byte = 0x10
	// CfgMaskAll selects the full 24-byte config block (block + BTVER + UID).
	CfgMaskAll byte = 0x1f
)

// Command bytes for the ISP protocol.
const (
	cmdIdentify    byte = 0xa1
	cmdIspEnd      byte = 0xa2
	cmdIspKey      byte = 0xa3
	cmdErase       byte = 0xa4
	cmdProgram     byte = 0xa5
	cmdVerify      byte = 0xa6
	cmdReadConfig  byte = 0xa7
	cmdWriteConfig byte = 0xa8
	cmdDataErase   byte = 0xa9
	cmdDataProgram byte = 0xaa
	cmdDataRead    byte = 0xab
	cmdWriteOTP    byte = 0xc3
	cmdReadOTP     byte = 0xc4
	cmdSetBaud     byte = 0xc5
)

// identifyMagic is the fixed trailer of the IDENTIFY request payload.
const identifyMagic = "MCU ISP & WCH.CN"

// USB identifiers for the WCH ISP bootloader.
const (
	usbVendorWCH1   = 0x4348
	usbVendorWCH2   = 0x1a86
	usbProductISP   = 0x55e0
	usbEndpointOut  = 0x02
	usbEndpointIn   = 0x82
	usbInterfaceNum = 0
)

// Serial framing constants.
const (
	serialDefaultBaud  = 115200
	serialReqPrefixLo  = 0x57
	serialReqPrefixHi  = 0xab
	serialRespPrefixLo = 0x55
	serialRespPrefixHi = 0xaa
)
