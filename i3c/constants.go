package i3c

import "fmt"

// Well-known addresses (MIPI I3C Basic v1.1).
const (
	BroadcastAddr = 0x7e // I3C broadcast address
	HotJoinAddr   = 0x02 // Reserved hot-join request address
	MaxAddr       = 0x7f // Highest 7-bit address
)

// Common Command Codes. Direct CCCs have bit 7 set.
const (
	CCCDirect = 0x80

	CCCENECBroadcast   = 0x00
	CCCDISECBroadcast  = 0x01
	CCCENTAS0Broadcast = 0x02
	CCCENTAS1Broadcast = 0x03
	CCCENTAS2Broadcast = 0x04
	CCCENTAS3Broadcast = 0x05
	CCCRSTDAABroadcast = 0x06
	CCCENTDAA          = 0x07
	CCCDEFSLVS         = 0x08
	CCCSETMWLBroadcast = 0x09
	CCCSETMRLBroadcast = 0x0a
	CCCENTTM           = 0x0b
	CCCENTHDR0         = 0x20

	CCCENECDirect   = 0x80
	CCCDISECDirect  = 0x81
	CCCENTAS0Direct = 0x82
	CCCENTAS1Direct = 0x83
	CCCENTAS2Direct = 0x84
	CCCENTAS3Direct = 0x85
	CCCRSTDAADirect = 0x86
	CCCSETDASA      = 0x87
	CCCSETNEWDA     = 0x88
	CCCSETMWLDirect = 0x89
	CCCSETMRLDirect = 0x8a
	CCCGETMWL       = 0x8b
	CCCGETMRL       = 0x8c
	CCCGETPID       = 0x8d
	CCCGETBCR       = 0x8e
	CCCGETDCR       = 0x8f
	CCCGETSTATUS    = 0x90
	CCCGETACCMST    = 0x91
	CCCGETMXDS      = 0x94
	CCCGETHDRCAP    = 0x95
)

// Event bits carried by ENEC/DISEC.
const (
	EventSIR = 1 << 0 // Slave interrupt requests
	EventMR  = 1 << 1 // Mastership requests
	EventHJ  = 1 << 3 // Hot-join requests

	EventAll = EventSIR | EventMR | EventHJ
)

// Bus Characteristics Register bits.
const (
	BCRMaxDataSpeedLimit = 1 << 0
	BCRIBIRequestCapable = 1 << 1
	BCRIBIPayload        = 1 << 2
	BCROfflineCapable    = 1 << 3
	BCRBridge            = 1 << 4
	BCRHDRCapable        = 1 << 5
	BCRDeviceRoleMask    = 0x3 << 6
)

// Bus rates.
const (
	TypicalI3CSCLRate = 12500000
	I2CFMSCLRate      = 400000
	I2CFMPlusSCLRate  = 1000000
)

// BusMode describes which devices share the bus.
type BusMode uint8

// Bus modes.
const (
	BusModePure         BusMode = iota // Only I3C devices
	BusModeMixedFast                   // I3C + I2C devices without 50ns spike filter
	BusModeMixedLimited                // I3C + I2C devices limiting SCL rate
	BusModeMixedSlow                   // I3C + I2C devices requiring slow SCL
)

// String returns a human-readable bus mode.
func (m BusMode) String() string {
	switch m {
	case BusModePure:
		return "pure"
	case BusModeMixedFast:
		return "mixed-fast"
	case BusModeMixedLimited:
		return "mixed-limited"
	case BusModeMixedSlow:
		return "mixed-slow"
	default:
		return fmt.Sprintf("unknown(%d)", m)
	}
}

// Mixed reports whether legacy I2C devices share the bus.
func (m BusMode) Mixed() bool {
	return m != BusModePure
}

// CCCName returns the mnemonic of a common command code.
func CCCName(id uint8) string {
	switch id {
	case CCCENECBroadcast, CCCENECDirect:
		return "ENEC"
	case CCCDISECBroadcast, CCCDISECDirect:
		return "DISEC"
	case CCCENTAS0Broadcast, CCCENTAS0Direct:
		return "ENTAS0"
	case CCCENTAS1Broadcast, CCCENTAS1Direct:
		return "ENTAS1"
	case CCCENTAS2Broadcast, CCCENTAS2Direct:
		return "ENTAS2"
	case CCCENTAS3Broadcast, CCCENTAS3Direct:
		return "ENTAS3"
	case CCCRSTDAABroadcast, CCCRSTDAADirect:
		return "RSTDAA"
	case CCCENTDAA:
		return "ENTDAA"
	case CCCDEFSLVS:
		return "DEFSLVS"
	case CCCSETMWLBroadcast, CCCSETMWLDirect:
		return "SETMWL"
	case CCCSETMRLBroadcast, CCCSETMRLDirect:
		return "SETMRL"
	case CCCENTTM:
		return "ENTTM"
	case CCCENTHDR0:
		return "ENTHDR0"
	case CCCSETDASA:
		return "SETDASA"
	case CCCSETNEWDA:
		return "SETNEWDA"
	case CCCGETMWL:
		return "GETMWL"
	case CCCGETMRL:
		return "GETMRL"
	case CCCGETPID:
		return "GETPID"
	case CCCGETBCR:
		return "GETBCR"
	case CCCGETDCR:
		return "GETDCR"
	case CCCGETSTATUS:
		return "GETSTATUS"
	case CCCGETACCMST:
		return "GETACCMST"
	case CCCGETMXDS:
		return "GETMXDS"
	case CCCGETHDRCAP:
		return "GETHDRCAP"
	default:
		return fmt.Sprintf("CCC(0x%02x)", id)
	}
}
