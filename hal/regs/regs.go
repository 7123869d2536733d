// Package regs describes the register contract of the DesignWare-style I3C
// master block: offsets, field layouts and helpers to encode them.
package regs

// Register offsets.
const (
	DeviceCtrl            = 0x00
	DeviceAddr            = 0x04
	HWCapability          = 0x08
	CommandQueuePort      = 0x0c
	ResponseQueuePort     = 0x10
	RxTxDataPort          = 0x14
	IBIQueueStatus        = 0x18
	IBIQueueData          = 0x18
	QueueThldCtrl         = 0x1c
	DataBufferThldCtrl    = 0x20
	IBIQueueCtrl          = 0x24
	IBIMRReqReject        = 0x2c
	IBISIRReqReject       = 0x30
	ResetCtrl             = 0x34
	IntrStatus            = 0x3c
	IntrStatusEn          = 0x40
	IntrSignalEn          = 0x44
	IntrForce             = 0x48
	QueueStatusLevel      = 0x4c
	DataBufferStatusLevel = 0x50
	PresentState          = 0x54
	DeviceAddrTablePtr    = 0x5c
	SDAHoldSwitchDlyTime  = 0xd0
	SCLI3CODTiming        = 0xb4
	SCLI3CPPTiming        = 0xb8
	SCLI2CFMTiming        = 0xbc
	SCLI2CFMPTiming       = 0xc0
	SCLExtLcntTiming      = 0xc8
	BusFreeTiming         = 0xd4
)

// DEVICE_CTRL fields.
const (
	DevCtrlEnable          = 1 << 31
	DevCtrlResume          = 1 << 30
	DevCtrlHotJoinNACK     = 1 << 8
	DevCtrlI2CSlavePresent = 1 << 7
)

// DEVICE_ADDR fields.
const DevAddrDynamicAddrValid = 1 << 31

// DevAddrDynamic encodes the controller's own dynamic address.
func DevAddrDynamic(addr uint8) uint32 {
	return uint32(addr&0x7f) << 16
}

// Command attribute, bits [2:0] of every command queue word.
const (
	CmdAttrTransferCmd = 0x0
	CmdAttrTransferArg = 0x1
	CmdAttrShortData   = 0x2
	CmdAttrAddrAssign  = 0x3
	CmdAttrMask        = 0x7
)

// COMMAND_QUEUE_PORT fields of a transfer or address-assignment command.
const (
	CmdTOC  = 1 << 30 // Terminate on completion
	CmdRead = 1 << 28 // Read transfer
	CmdSDAP = 1 << 27 // Short data argument present
	CmdROC  = 1 << 26 // Response on completion
	CmdCP   = 1 << 15 // Command (CCC) present
)

// CmdSpeed encodes the transfer speed field.
func CmdSpeed(s uint8) uint32 { return uint32(s&0x7) << 21 }

// Speed field values of commands addressed to legacy I2C devices.
const (
	SpeedI2CFM     = 0 // Fast Mode, 400 kHz
	SpeedI2CFMPlus = 1 // Fast Mode Plus, 1 MHz
)

// CmdDevIndex encodes the device address table index.
func CmdDevIndex(i int) uint32 { return uint32(i&0x1f) << 16 }

// CmdCCC encodes the common command code.
func CmdCCC(id uint8) uint32 { return uint32(id) << 7 }

// CmdTID encodes the transaction id echoed in the response.
func CmdTID(tid int) uint32 { return uint32(tid&0xf) << 3 }

// CmdDevCount encodes the number of devices for address assignment.
func CmdDevCount(n int) uint32 { return uint32(n&0x1f) << 21 }

// ArgDataLen encodes the data length of a transfer argument word.
func ArgDataLen(n int) uint32 { return uint32(n&0xffff) << 16 }

// Field decoders for command words, used by register models.
func CmdSpeedOf(w uint32) uint8  { return uint8(w>>21) & 0x7 }
func CmdDevIndexOf(w uint32) int { return int(w>>16) & 0x1f }
func CmdCCCOf(w uint32) uint8    { return uint8(w >> 7) }
func CmdTIDOf(w uint32) int      { return int(w>>3) & 0xf }
func CmdDevCountOf(w uint32) int { return int(w>>21) & 0x1f }
func ArgDataLenOf(w uint32) int  { return int(w >> 16) }

// Response status codes, RESPONSE_QUEUE_PORT bits [31:28].
const (
	RespNoError       = 0
	RespErrCRC        = 1
	RespErrParity     = 2
	RespErrFrame      = 3
	RespErrIBANACK    = 4
	RespErrAddrNACK   = 5
	RespErrOverflow   = 6
	RespErrAbort      = 8
	RespErrI2CWriteNA = 9
)

// Response packs a response queue word.
func Response(status uint8, tid int, dataLen int) uint32 {
	return uint32(status&0xf)<<28 | uint32(tid&0xf)<<24 | uint32(dataLen&0xffff)
}

// RespStatus extracts the error status of a response word.
func RespStatus(w uint32) uint8 { return uint8(w>>28) & 0xf }

// RespTID extracts the transaction id of a response word.
func RespTID(w uint32) int { return int(w>>24) & 0xf }

// RespDataLen extracts the data length (or remaining device count).
func RespDataLen(w uint32) int { return int(w & 0xffff) }

// IBI_QUEUE_STATUS fields.
const (
	IBIStatusIDShift = 8
)

// IBIStatus packs an IBI status word from the raw id byte and payload length.
func IBIStatus(id uint8, dataLen int) uint32 {
	return uint32(id)<<IBIStatusIDShift | uint32(dataLen&0xff)
}

// IBIID extracts the raw (address<<1 | RnW) byte.
func IBIID(w uint32) uint8 { return uint8(w >> IBIStatusIDShift) }

// IBIAddr extracts the originating address.
func IBIAddr(w uint32) uint8 { return IBIID(w) >> 1 }

// IBIRnW reports whether the IBI carried the read bit.
func IBIRnW(w uint32) bool { return IBIID(w)&1 != 0 }

// IBIDataLen extracts the payload length.
func IBIDataLen(w uint32) int { return int(w & 0xff) }

// QUEUE_THLD_CTRL fields.
const (
	QueueThldRespBufMask = 0xff << 8
	QueueThldIBIStatMask = 0xff << 24
	QueueThldIBIDataMask = 0x1f << 16
)

// QueueThldRespBuf encodes the response threshold for n responses.
func QueueThldRespBuf(n int) uint32 { return uint32((n-1)&0xff) << 8 }

// QueueThldIBIStat encodes the IBI status threshold for n entries.
func QueueThldIBIStat(n int) uint32 { return uint32((n-1)&0xff) << 24 }

// QueueThldIBIData encodes the IBI data threshold in words.
func QueueThldIBIData(n int) uint32 { return uint32(n&0x1f) << 16 }

// RespThldOf decodes the number of responses the threshold waits for.
func RespThldOf(w uint32) int { return int(w>>8&0xff) + 1 }

// DATA_BUFFER_THLD_CTRL fields.
const DataBufThldRxBuf = 0x7 << 8

// IBI reject masks.
const IBIReqRejectAll = 0xffffffff

// RESET_CTRL fields.
const (
	ResetIBIQueue = 1 << 5
	ResetRxFIFO   = 1 << 4
	ResetTxFIFO   = 1 << 3
	ResetRespQ    = 1 << 2
	ResetCmdQ     = 1 << 1
	ResetSoft     = 1 << 0

	ResetXferQueues = ResetRxFIFO | ResetTxFIFO | ResetRespQ | ResetCmdQ
)

// Interrupt bits shared by INTR_STATUS, INTR_STATUS_EN, INTR_SIGNAL_EN.
const (
	IntrBusOwnerUpdate = 1 << 13
	IntrIBIUpdated     = 1 << 12
	IntrReadReqRecv    = 1 << 11
	IntrDefSlv         = 1 << 10
	IntrTransferErr    = 1 << 9
	IntrDynAddrAssign  = 1 << 8
	IntrCCCUpdated     = 1 << 6
	IntrTransferAbort  = 1 << 5
	IntrRespReady      = 1 << 4
	IntrCmdQueueReady  = 1 << 3
	IntrIBIThld        = 1 << 2
	IntrRxThld         = 1 << 1
	IntrTxThld         = 1 << 0

	IntrAll        = 0xffff
	IntrMasterMask = IntrTransferErr | IntrRespReady
)

// PackQueueStatusLevel packs QUEUE_STATUS_LEVEL.
func PackQueueStatusLevel(ibiCnt, resp, cmdFree int) uint32 {
	return uint32(ibiCnt&0x1f)<<24 | uint32(resp&0xff)<<8 | uint32(cmdFree&0xff)
}

// QueueStatusIBICount extracts the number of pending IBI status entries.
func QueueStatusIBICount(w uint32) int { return int(w>>24) & 0x1f }

// QueueStatusResp extracts the number of pending responses.
func QueueStatusResp(w uint32) int { return int(w>>8) & 0xff }

// QueueStatusCmd extracts the number of free command queue entries.
func QueueStatusCmd(w uint32) int { return int(w) & 0xff }

// DataBufferStatusTx extracts the number of free TX buffer words.
func DataBufferStatusTx(w uint32) int { return int(w) & 0xff }

// DeviceAddrTablePointer packs the DAT depth and start offset.
func DeviceAddrTablePointer(depth int, start uint32) uint32 {
	return uint32(depth&0xffff)<<16 | start&0xffff
}

// DATDepth extracts the number of DAT entries.
func DATDepth(w uint32) int { return int(w >> 16) }

// DATStart extracts the byte offset of the first DAT entry.
func DATStart(w uint32) uint32 { return w & 0xffff }

// DATLoc returns the byte offset of DAT entry idx.
func DATLoc(start uint32, idx int) uint32 { return start + uint32(idx)<<2 }

// Device address table entry fields.
const (
	DATLegacyI2C = 1 << 31
	DATSIRReject = 1 << 13
	DATIBIMDB    = 1 << 12 // IBI carries a mandatory data byte
	DATIBIPEC    = 1 << 11
)

// DATDynamicAddr encodes a dynamic address (with parity in bit 7).
func DATDynamicAddr(a uint8) uint32 { return uint32(a) << 16 }

// DATStaticAddr encodes a legacy I2C static address.
func DATStaticAddr(a uint8) uint32 { return uint32(a & 0x7f) }

// DATDynamicAddrOf extracts the dynamic address byte including parity.
func DATDynamicAddrOf(w uint32) uint8 { return uint8(w >> 16) }

// DATStaticAddrOf extracts the static address.
func DATStaticAddrOf(w uint32) uint8 { return uint8(w & 0x7f) }

// Timing register fields.
const SCLI3CTimingCntMin = 5

// SCLI3CTiming packs an I3C high/low count pair.
func SCLI3CTiming(hcnt, lcnt uint32) uint32 {
	return (hcnt&0xff)<<16 | lcnt&0xff
}

// SCLI2CFM packs the I2C Fast Mode pair.
func SCLI2CFM(hcnt, lcnt uint32) uint32 {
	return (hcnt&0xffff)<<16 | lcnt&0xffff
}

// SCLI2CFMP packs the I2C Fast Mode Plus pair.
func SCLI2CFMP(hcnt, lcnt uint32) uint32 {
	return (hcnt&0xff)<<16 | lcnt&0xffff
}

// SCLExtLcnt packs the four SDR low counts.
func SCLExtLcnt(l [4]uint32) uint32 {
	return (l[3]&0xff)<<24 | (l[2]&0xff)<<16 | (l[1]&0xff)<<8 | l[0]&0xff
}

// BusI3CMstFree encodes the bus free time.
func BusI3CMstFree(cnt uint32) uint32 { return cnt & 0xffff }

// SDA_HOLD_SWITCH_DLY_TIMING fields.
const (
	SDATxHoldShift = 16
	SDATxHoldMask  = 0x7 << SDATxHoldShift
	SDATxHoldMin   = 1
	SDATxHoldMax   = 7
)
