package i3c

// CCCError is the command-level error reported for a CCC, distinct from
// the Go error returned by the transfer.
type CCCError uint8

// CCC errors (MIPI I3C error types relevant to CCC framing).
const (
	CCCErrorNone CCCError = iota
	CCCErrorM0            // Illegally formatted CCC
	CCCErrorM1            // Monitoring error
	CCCErrorM2            // No acknowledge: device absent or busy
	CCCErrorUnknown
)

// String returns the error mnemonic.
func (e CCCError) String() string {
	switch e {
	case CCCErrorNone:
		return "none"
	case CCCErrorM0:
		return "M0"
	case CCCErrorM1:
		return "M1"
	case CCCErrorM2:
		return "M2"
	default:
		return "unknown"
	}
}

// CCCDest is one destination of a CCC with its payload.
// For read commands Data is the receive buffer and Len is updated to the
// number of bytes the device returned.
type CCCDest struct {
	Addr uint8
	Data []byte
	Len  int
}

// CCCCmd is a common command code addressed to one or all devices.
type CCCCmd struct {
	ID    uint8
	RnW   bool
	Dests []CCCDest
	Err   CCCError
}

// IsDirect reports whether the command targets a single device.
func (c *CCCCmd) IsDirect() bool {
	return c.ID&CCCDirect != 0
}

// NewBroadcastCCC builds a broadcast write CCC with the given payload.
func NewBroadcastCCC(id uint8, payload []byte) *CCCCmd {
	return &CCCCmd{
		ID:    id,
		Dests: []CCCDest{{Addr: BroadcastAddr, Data: payload, Len: len(payload)}},
	}
}

// NewDirectCCC builds a direct CCC for addr. For reads, data is the
// receive buffer.
func NewDirectCCC(id uint8, addr uint8, rnw bool, data []byte) *CCCCmd {
	return &CCCCmd{
		ID:    id,
		RnW:   rnw,
		Dests: []CCCDest{{Addr: addr, Data: data, Len: len(data)}},
	}
}
