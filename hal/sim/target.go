package sim

import (
	"github.com/ardnew/softi3c/hal/regs"
	"github.com/ardnew/softi3c/i3c"
	"github.com/ardnew/softi3c/pkg"
)

// regFileSize is the size of a target's private register file.
const regFileSize = 256

// Target is a simulated I3C device.
type Target struct {
	PID        uint64
	BCR        uint8
	DCR        uint8
	StaticAddr uint8

	MaxReadLen  uint16
	MaxWriteLen uint16
	MaxIBILen   uint8
	MXDS        [2]uint8 // write, read
	HDRCap      uint8

	h *HAL

	dynAddr   uint8
	events    uint8
	ptr       uint8
	mem       [regFileSize]byte
	shortRead int
	inject    uint8
	absent    bool
}

// NewTarget creates a target with the given identity. It answers no
// address until DAA or SETDASA assigns one.
func NewTarget(pid uint64, bcr, dcr uint8) *Target {
	return &Target{
		PID:         pid,
		BCR:         bcr,
		DCR:         dcr,
		MaxReadLen:  regFileSize,
		MaxWriteLen: regFileSize,
		MaxIBILen:   8,
		events:      i3c.EventSIR | i3c.EventMR | i3c.EventHJ,
	}
}

// AddTarget connects t to the bus.
func (h *HAL) AddTarget(t *Target) {
	h.mu.Lock()
	defer h.mu.Unlock()
	t.h = h
	h.targets = append(h.targets, t)
}

// DynAddr returns the target's dynamic address, or 0.
func (t *Target) DynAddr() uint8 {
	t.h.mu.Lock()
	defer t.h.mu.Unlock()
	return t.dynAddr
}

// Events returns the events enabled on the target by ENEC/DISEC.
func (t *Target) Events() uint8 {
	t.h.mu.Lock()
	defer t.h.mu.Unlock()
	return t.events
}

// Mem returns a copy of the target's register file.
func (t *Target) Mem() []byte {
	t.h.mu.Lock()
	defer t.h.mu.Unlock()
	return append([]byte(nil), t.mem[:]...)
}

// SetMem stores data in the register file at reg.
func (t *Target) SetMem(reg uint8, data []byte) {
	t.h.mu.Lock()
	defer t.h.mu.Unlock()
	copy(t.mem[reg:], data)
}

// ShortRead limits every private read to n bytes. Zero removes the limit.
func (t *Target) ShortRead(n int) {
	t.h.mu.Lock()
	defer t.h.mu.Unlock()
	t.shortRead = n
}

// InjectError makes the next transfer addressed to the target complete
// with the given response status.
func (t *Target) InjectError(status uint8) {
	t.h.mu.Lock()
	defer t.h.mu.Unlock()
	t.inject = status
}

// SetAbsent makes the target stop acknowledging its address.
func (t *Target) SetAbsent(absent bool) {
	t.h.mu.Lock()
	defer t.h.mu.Unlock()
	t.absent = absent
}

func (t *Target) write(data []byte) {
	if len(data) == 0 {
		return
	}
	t.ptr = data[0]
	copy(t.mem[t.ptr:], data[1:])
}

func (t *Target) read(n int) []byte {
	if t.shortRead > 0 && n > t.shortRead {
		n = t.shortRead
	}
	end := min(int(t.ptr)+n, regFileSize)
	return append([]byte(nil), t.mem[t.ptr:end]...)
}

// RaiseIBI makes the target request an SIR with payload. It fails when the
// target is unaddressed, has SIR disabled, or the controller NACKs it.
func (t *Target) RaiseIBI(payload []byte) error {
	h := t.h
	h.mu.Lock()
	defer h.mu.Unlock()

	if t.dynAddr == 0 {
		return ErrNotAddressed
	}
	if t.events&i3c.EventSIR == 0 {
		return ErrEventDisabled
	}
	idx := h.datIndexLocked(t.dynAddr)
	if idx < 0 ||
		h.regs[regs.IBISIRReqReject]&(1<<idx) != 0 ||
		h.dat[idx]&regs.DATSIRReject != 0 {
		pkg.LogDebug(pkg.ComponentHAL, "sir nacked", pkg.AddrAttr("addr", t.dynAddr))
		return ErrIBINacked
	}
	if t.BCR&i3c.BCRIBIPayload == 0 {
		payload = nil
	}
	return h.pushIBILocked(t.dynAddr<<1|1, payload)
}

// RaiseHotJoin issues a hot-join request.
func (h *HAL) RaiseHotJoin() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.regs[regs.DeviceCtrl]&regs.DevCtrlHotJoinNACK != 0 {
		return ErrIBINacked
	}
	return h.pushIBILocked(i3c.HotJoinAddr<<1, nil)
}

// InjectIBI places a raw IBI status entry and payload in the IBI queue,
// bypassing acceptance checks.
func (h *HAL) InjectIBI(id uint8, payload []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.pushIBILocked(id, payload)
}

func (h *HAL) pushIBILocked(id uint8, payload []byte) error {
	nw := 1 + (len(payload)+3)/4
	if len(h.ibi)+nw > h.cfg.IBIDepth {
		return ErrIBINacked
	}
	h.ibi = append(h.ibi, ibiWord{val: regs.IBIStatus(id, len(payload)), status: true})
	h.nibi++
	for _, w := range packWords(payload) {
		h.ibi = append(h.ibi, ibiWord{val: w})
	}
	h.signalLocked()
	return nil
}

// datIndexLocked returns the DAT entry holding dynamic address addr.
func (h *HAL) datIndexLocked(addr uint8) int {
	for i, e := range h.dat {
		if e&regs.DATLegacyI2C == 0 && regs.DATDynamicAddrOf(e)&0x7f == addr && e != 0 {
			return i
		}
	}
	return -1
}

// I2CTarget is a simulated legacy I2C device.
type I2CTarget struct {
	Addr uint8

	h      *HAL
	ptr    uint8
	mem    [regFileSize]byte
	absent bool
}

// NewI2CTarget creates a legacy device at addr.
func NewI2CTarget(addr uint8) *I2CTarget {
	return &I2CTarget{Addr: addr}
}

// AddI2CTarget connects t to the bus.
func (h *HAL) AddI2CTarget(t *I2CTarget) {
	h.mu.Lock()
	defer h.mu.Unlock()
	t.h = h
	h.i2c = append(h.i2c, t)
}

// Mem returns a copy of the device's register file.
func (t *I2CTarget) Mem() []byte {
	t.h.mu.Lock()
	defer t.h.mu.Unlock()
	return append([]byte(nil), t.mem[:]...)
}

// SetMem stores data in the register file at reg.
func (t *I2CTarget) SetMem(reg uint8, data []byte) {
	t.h.mu.Lock()
	defer t.h.mu.Unlock()
	copy(t.mem[reg:], data)
}

// SetAbsent makes the device stop acknowledging its address.
func (t *I2CTarget) SetAbsent(absent bool) {
	t.h.mu.Lock()
	defer t.h.mu.Unlock()
	t.absent = absent
}

func packWords(b []byte) []uint32 {
	out := make([]uint32, 0, (len(b)+3)/4)
	for i := 0; i < len(b); i += 4 {
		var w uint32
		for j := 0; j < 4 && i+j < len(b); j++ {
			w |= uint32(b[i+j]) << (8 * j)
		}
		out = append(out, w)
	}
	return out
}

func unpackWords(w []uint32, n int) []byte {
	out := make([]byte, 0, n)
	for _, v := range w {
		for j := 0; j < 4 && len(out) < n; j++ {
			out = append(out, byte(v>>(8*j)))
		}
	}
	return out
}
