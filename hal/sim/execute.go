package sim

import (
	"encoding/binary"
	"sort"

	"github.com/ardnew/softi3c/hal/regs"
	"github.com/ardnew/softi3c/i3c"
	"github.com/ardnew/softi3c/pkg"
)

// executeLocked runs one command and posts its response.
func (h *HAL) executeLocked(c Command) {
	tid := regs.CmdTIDOf(c.Lo)
	var (
		status uint8
		rxLen  int
	)

	switch c.Lo & regs.CmdAttrMask {
	case regs.CmdAttrAddrAssign:
		status, rxLen = h.entdaaLocked(c)
	case regs.CmdAttrTransferCmd:
		n := regs.ArgDataLenOf(c.Hi)
		read := c.Lo&regs.CmdRead != 0
		var wdata []byte
		if !read {
			wdata = h.popTxLocked(n)
		}
		var rdata []byte
		if c.Lo&regs.CmdCP != 0 {
			status, rdata = h.cccLocked(regs.CmdCCCOf(c.Lo), regs.CmdDevIndexOf(c.Lo), read, wdata, n)
		} else {
			status, rdata = h.privLocked(regs.CmdDevIndexOf(c.Lo), read, wdata, n)
		}
		if status == regs.RespNoError && read {
			h.rx = append(h.rx, packWords(rdata)...)
			rxLen = len(rdata)
		}
	default:
		status = regs.RespErrFrame
	}

	if c.Lo&regs.CmdROC != 0 || status != regs.RespNoError {
		h.resp = append(h.resp, regs.Response(status, tid, rxLen))
	}
	if status != regs.RespNoError {
		h.halted = true
		h.intr |= regs.IntrTransferErr
		pkg.LogDebug(pkg.ComponentHAL, "command failed", "status", status, "tid", tid)
	}
}

func (h *HAL) popTxLocked(n int) []byte {
	nw := min((n+3)/4, len(h.tx))
	w := h.tx[:nw]
	h.tx = h.tx[nw:]
	return unpackWords(w, n)
}

// targetLocked resolves the I3C target at DAT entry idx.
func (h *HAL) targetLocked(idx int) *Target {
	if idx < 0 || idx >= len(h.dat) {
		return nil
	}
	e := h.dat[idx]
	if e&regs.DATLegacyI2C != 0 {
		return nil
	}
	addr := regs.DATDynamicAddrOf(e) & 0x7f
	if addr == 0 {
		return nil
	}
	for _, t := range h.targets {
		if t.absent {
			continue
		}
		if t.dynAddr == addr || (t.dynAddr == 0 && t.StaticAddr == addr) {
			return t
		}
	}
	return nil
}

func (h *HAL) i2cTargetLocked(idx int) *I2CTarget {
	if idx < 0 || idx >= len(h.dat) {
		return nil
	}
	e := h.dat[idx]
	if e&regs.DATLegacyI2C == 0 {
		return nil
	}
	addr := regs.DATStaticAddrOf(e)
	for _, t := range h.i2c {
		if !t.absent && t.Addr == addr {
			return t
		}
	}
	return nil
}

// privLocked runs a private transfer to the device at DAT entry idx.
func (h *HAL) privLocked(idx int, read bool, wdata []byte, n int) (uint8, []byte) {
	if t := h.i2cTargetLocked(idx); t != nil {
		if read {
			end := min(int(t.ptr)+n, regFileSize)
			return regs.RespNoError, append([]byte(nil), t.mem[t.ptr:end]...)
		}
		if len(wdata) > 0 {
			t.ptr = wdata[0]
			copy(t.mem[t.ptr:], wdata[1:])
		}
		return regs.RespNoError, nil
	}

	t := h.targetLocked(idx)
	if t == nil {
		return regs.RespErrAddrNACK, nil
	}
	if t.inject != regs.RespNoError {
		st := t.inject
		t.inject = regs.RespNoError
		return st, nil
	}
	if read {
		return regs.RespNoError, t.read(n)
	}
	t.write(wdata)
	return regs.RespNoError, nil
}

// cccLocked runs a broadcast or direct CCC.
func (h *HAL) cccLocked(id uint8, idx int, read bool, wdata []byte, n int) (uint8, []byte) {
	if id&i3c.CCCDirect == 0 {
		return h.broadcastLocked(id, wdata)
	}
	t := h.targetLocked(idx)
	if t == nil {
		return regs.RespErrAddrNACK, nil
	}
	if t.inject != regs.RespNoError {
		st := t.inject
		t.inject = regs.RespNoError
		return st, nil
	}

	var out []byte
	switch id {
	case i3c.CCCENECDirect:
		if len(wdata) > 0 {
			t.events |= wdata[0]
		}
	case i3c.CCCDISECDirect:
		if len(wdata) > 0 {
			t.events &^= wdata[0]
		}
	case i3c.CCCRSTDAADirect:
		t.dynAddr = 0
	case i3c.CCCSETDASA, i3c.CCCSETNEWDA:
		if len(wdata) == 0 {
			return regs.RespErrFrame, nil
		}
		t.dynAddr = wdata[0] >> 1
	case i3c.CCCSETMWLDirect:
		if len(wdata) >= 2 {
			t.MaxWriteLen = binary.BigEndian.Uint16(wdata)
		}
	case i3c.CCCSETMRLDirect:
		if len(wdata) >= 2 {
			t.MaxReadLen = binary.BigEndian.Uint16(wdata)
		}
	case i3c.CCCGETPID:
		var pid [8]byte
		binary.BigEndian.PutUint64(pid[:], t.PID)
		out = pid[2:]
	case i3c.CCCGETBCR:
		out = []byte{t.BCR}
	case i3c.CCCGETDCR:
		out = []byte{t.DCR}
	case i3c.CCCGETMXDS:
		out = t.MXDS[:]
	case i3c.CCCGETMWL:
		out = binary.BigEndian.AppendUint16(nil, t.MaxWriteLen)
	case i3c.CCCGETMRL:
		out = binary.BigEndian.AppendUint16(nil, t.MaxReadLen)
		if t.BCR&i3c.BCRIBIPayload != 0 {
			out = append(out, t.MaxIBILen)
		}
	case i3c.CCCGETHDRCAP:
		out = []byte{t.HDRCap}
	case i3c.CCCGETSTATUS:
		out = []byte{0, 0}
	}
	if !read {
		return regs.RespNoError, nil
	}
	if len(out) > n {
		out = out[:n]
	}
	return regs.RespNoError, append([]byte(nil), out...)
}

func (h *HAL) broadcastLocked(id uint8, wdata []byte) (uint8, []byte) {
	var acked bool
	for _, t := range h.targets {
		if t.absent {
			continue
		}
		acked = true
		switch id {
		case i3c.CCCENECBroadcast:
			if len(wdata) > 0 && t.dynAddr != 0 {
				t.events |= wdata[0]
			}
		case i3c.CCCDISECBroadcast:
			if len(wdata) > 0 && t.dynAddr != 0 {
				t.events &^= wdata[0]
			}
		case i3c.CCCRSTDAABroadcast:
			t.dynAddr = 0
		case i3c.CCCSETMWLBroadcast:
			if len(wdata) >= 2 {
				t.MaxWriteLen = binary.BigEndian.Uint16(wdata)
			}
		case i3c.CCCSETMRLBroadcast:
			if len(wdata) >= 2 {
				t.MaxReadLen = binary.BigEndian.Uint16(wdata)
			}
		}
	}
	if !acked {
		return regs.RespErrIBANACK, nil
	}
	return regs.RespNoError, nil
}

// entdaaLocked assigns the addresses programmed in the DAT, starting at
// the command's device index, to unaddressed targets in arbitration order.
// The response length is the number of entries left unused.
func (h *HAL) entdaaLocked(c Command) (uint8, int) {
	count := regs.CmdDevCountOf(c.Lo)
	idx := regs.CmdDevIndexOf(c.Lo)

	var pending []*Target
	for _, t := range h.targets {
		if !t.absent && t.dynAddr == 0 {
			pending = append(pending, t)
		}
	}
	sort.Slice(pending, func(i, j int) bool {
		return pending[i].PID < pending[j].PID
	})

	assigned := 0
	for slot := idx; slot < idx+count && slot < len(h.dat) && len(pending) > 0; slot++ {
		e := regs.DATDynamicAddrOf(h.dat[slot])
		addr := e & 0x7f
		if addr == 0 || h.addrInUseLocked(addr) {
			continue
		}
		if parity(addr) != e>>7 {
			return regs.RespErrParity, count - assigned
		}
		pending[0].dynAddr = addr
		pkg.LogDebug(pkg.ComponentHAL, "entdaa assigned",
			pkg.PIDAttr(pending[0].PID),
			pkg.AddrAttr("addr", addr),
			"slot", slot)
		pending = pending[1:]
		assigned++
	}
	h.intr |= regs.IntrDynAddrAssign
	return regs.RespNoError, count - assigned
}

func (h *HAL) addrInUseLocked(addr uint8) bool {
	for _, t := range h.targets {
		if !t.absent && t.dynAddr == addr {
			return true
		}
	}
	return false
}

// parity returns the bit that gives addr odd parity over eight bits.
func parity(addr uint8) uint8 {
	var n uint8
	for a := addr; a != 0; a >>= 1 {
		n += a & 1
	}
	return 1 - n&1
}
