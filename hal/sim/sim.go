package sim

import (
	"context"
	"errors"
	"sync"

	"periph.io/x/conn/v3/physic"

	"github.com/ardnew/softi3c/hal"
	"github.com/ardnew/softi3c/hal/regs"
	"github.com/ardnew/softi3c/pkg"
)

// Errors.
var (
	ErrIBINacked     = errors.New("ibi not acknowledged")
	ErrNotAddressed  = errors.New("target has no dynamic address")
	ErrEventDisabled = errors.New("event disabled on target")
	ErrClosed        = errors.New("hal closed")
)

// Config describes the simulated controller geometry.
type Config struct {
	CmdDepth   int              // Command queue entries
	DataDepth  int              // TX and RX FIFO depth in words
	DATDepth   int              // Device address table entries
	DATStart   uint32           // Byte offset of the first DAT entry
	IBIDepth   int              // IBI FIFO depth in words
	CoreClock  physic.Frequency // Core clock reported to the engine
	ResetPolls int              // RESET_CTRL reads before it self-clears
}

// DefaultConfig returns a geometry matching a common integration.
func DefaultConfig() Config {
	return Config{
		CmdDepth:   16,
		DataDepth:  64,
		DATDepth:   8,
		DATStart:   0x280,
		IBIDepth:   64,
		CoreClock:  100 * physic.MegaHertz,
		ResetPolls: 1,
	}
}

// Command is one executed command queue pair.
type Command struct {
	Hi, Lo uint32
}

type ibiWord struct {
	val    uint32
	status bool
}

// HAL is the in-memory controller model.
type HAL struct {
	cfg Config

	mu    sync.Mutex
	regs  map[uint32]uint32
	dat   []uint32
	arg   *uint32
	cmdQ  []Command
	resp  []uint32
	tx    []uint32
	rx    []uint32
	ibi   []ibiWord
	nibi  int
	intr  uint32 // latched status bits
	reset struct {
		val   uint32
		polls int
	}
	halted bool
	held   bool
	closed bool

	targets []*Target
	i2c     []*I2CTarget

	executed []Command
	writes   int

	irq chan struct{}
}

var _ hal.HAL = (*HAL)(nil)

// New creates a controller model. Zero fields of cfg take their defaults.
func New(cfg Config) *HAL {
	def := DefaultConfig()
	if cfg.CmdDepth <= 0 {
		cfg.CmdDepth = def.CmdDepth
	}
	if cfg.DataDepth <= 0 {
		cfg.DataDepth = def.DataDepth
	}
	if cfg.DATDepth <= 0 {
		cfg.DATDepth = def.DATDepth
	}
	if cfg.DATStart == 0 {
		cfg.DATStart = def.DATStart
	}
	if cfg.IBIDepth <= 0 {
		cfg.IBIDepth = def.IBIDepth
	}
	if cfg.CoreClock == 0 {
		cfg.CoreClock = def.CoreClock
	}
	if cfg.ResetPolls < 0 {
		cfg.ResetPolls = 0
	}
	h := &HAL{
		cfg:  cfg,
		regs: make(map[uint32]uint32),
		dat:  make([]uint32, cfg.DATDepth),
		irq:  make(chan struct{}, 1),
	}
	h.softResetLocked()
	return h
}

// Config returns the model geometry.
func (h *HAL) Config() Config { return h.cfg }

// Init implements hal.HAL.
func (h *HAL) Init(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrClosed
	}
	pkg.LogDebug(pkg.ComponentHAL, "sim initialized",
		"cmdDepth", h.cfg.CmdDepth,
		"dataDepth", h.cfg.DataDepth,
		"datDepth", h.cfg.DATDepth)
	return nil
}

// Close implements hal.HAL.
func (h *HAL) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	close(h.irq)
	return nil
}

// Interrupts implements hal.HAL.
func (h *HAL) Interrupts() <-chan struct{} { return h.irq }

// CoreClock implements hal.HAL.
func (h *HAL) CoreClock() physic.Frequency { return h.cfg.CoreClock }

func (h *HAL) isDAT(off uint32) (int, bool) {
	if off < h.cfg.DATStart || off >= h.cfg.DATStart+uint32(len(h.dat))*4 || off&3 != 0 {
		return 0, false
	}
	return int(off-h.cfg.DATStart) / 4, true
}

// Read32 implements hal.HAL.
func (h *HAL) Read32(off uint32) uint32 {
	h.mu.Lock()
	defer h.mu.Unlock()

	if idx, ok := h.isDAT(off); ok {
		return h.dat[idx]
	}

	switch off {
	case regs.ResponseQueuePort:
		if len(h.resp) == 0 {
			return 0
		}
		v := h.resp[0]
		h.resp = h.resp[1:]
		return v
	case regs.RxTxDataPort:
		if len(h.rx) == 0 {
			return 0
		}
		v := h.rx[0]
		h.rx = h.rx[1:]
		return v
	case regs.IBIQueueStatus:
		if len(h.ibi) == 0 {
			return 0
		}
		w := h.ibi[0]
		h.ibi = h.ibi[1:]
		if w.status {
			h.nibi--
		}
		return w.val
	case regs.IntrStatus:
		return h.intrStatusLocked() & h.regs[regs.IntrStatusEn]
	case regs.QueueStatusLevel:
		return regs.PackQueueStatusLevel(h.nibi, len(h.resp), h.cfg.CmdDepth-len(h.cmdQ))
	case regs.DataBufferStatusLevel:
		return uint32(max(h.cfg.DataDepth-len(h.tx), 0))
	case regs.DeviceAddrTablePtr:
		return regs.DeviceAddrTablePointer(h.cfg.DATDepth, h.cfg.DATStart)
	case regs.ResetCtrl:
		if h.reset.polls > 0 {
			h.reset.polls--
			return h.reset.val
		}
		return 0
	}
	return h.regs[off]
}

// Write32 implements hal.HAL.
func (h *HAL) Write32(off uint32, v uint32) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.writes++

	if idx, ok := h.isDAT(off); ok {
		h.dat[idx] = v
		return
	}

	switch off {
	case regs.CommandQueuePort:
		if h.arg == nil {
			h.arg = &v
			return
		}
		if len(h.cmdQ) >= h.cfg.CmdDepth {
			pkg.LogWarn(pkg.ComponentHAL, "command queue overflow")
		} else {
			h.cmdQ = append(h.cmdQ, Command{Hi: *h.arg, Lo: v})
		}
		h.arg = nil
		h.runLocked()
	case regs.RxTxDataPort:
		if len(h.tx) >= h.cfg.DataDepth {
			pkg.LogWarn(pkg.ComponentHAL, "tx fifo overflow")
			return
		}
		h.tx = append(h.tx, v)
	case regs.IntrStatus:
		h.intr &^= v
		h.signalLocked()
	case regs.ResetCtrl:
		h.resetLocked(v)
	case regs.DeviceCtrl:
		resume := v&regs.DevCtrlResume != 0
		h.regs[off] = v &^ regs.DevCtrlResume
		if resume {
			h.halted = false
		}
		h.runLocked()
	case regs.IntrStatusEn, regs.IntrSignalEn:
		h.regs[off] = v
		h.signalLocked()
	default:
		h.regs[off] = v
	}
}

func (h *HAL) softResetLocked() {
	h.regs = map[uint32]uint32{
		regs.QueueThldCtrl: regs.QueueThldRespBuf(1),
	}
	for i := range h.dat {
		h.dat[i] = 0
	}
	h.resetLocked(regs.ResetXferQueues | regs.ResetIBIQueue)
	h.intr = 0
	h.halted = false
	h.reset.polls = 0
}

func (h *HAL) resetLocked(v uint32) {
	orig := v
	if v&regs.ResetSoft != 0 {
		v &^= regs.ResetSoft
		h.softResetLocked()
	}
	if v&regs.ResetCmdQ != 0 {
		h.cmdQ = nil
		h.arg = nil
	}
	if v&regs.ResetRespQ != 0 {
		h.resp = nil
	}
	if v&regs.ResetTxFIFO != 0 {
		h.tx = nil
	}
	if v&regs.ResetRxFIFO != 0 {
		h.rx = nil
	}
	if v&regs.ResetIBIQueue != 0 {
		h.ibi = nil
		h.nibi = 0
	}
	h.reset.val = orig
	h.reset.polls = h.cfg.ResetPolls
}

func (h *HAL) intrStatusLocked() uint32 {
	st := h.intr
	thld := regs.RespThldOf(h.regs[regs.QueueThldCtrl])
	if len(h.resp) >= thld || (h.halted && len(h.resp) > 0) {
		st |= regs.IntrRespReady
	}
	if h.nibi > 0 {
		st |= regs.IntrIBIThld
	}
	return st
}

// signalLocked asserts the interrupt line if an enabled, signalled status
// bit is set.
func (h *HAL) signalLocked() {
	if h.closed {
		return
	}
	st := h.intrStatusLocked() & h.regs[regs.IntrStatusEn] & h.regs[regs.IntrSignalEn]
	if st == 0 {
		return
	}
	select {
	case h.irq <- struct{}{}:
	default:
	}
}

// runLocked executes queued commands until the queue is empty, held or
// halted by an error.
func (h *HAL) runLocked() {
	for len(h.cmdQ) > 0 && !h.held && !h.halted && h.regs[regs.DeviceCtrl]&regs.DevCtrlEnable != 0 {
		c := h.cmdQ[0]
		h.cmdQ = h.cmdQ[1:]
		h.executed = append(h.executed, c)
		h.executeLocked(c)
	}
	h.signalLocked()
}

// Hold stops command execution; queued commands wait for Release.
func (h *HAL) Hold() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.held = true
}

// Release resumes command execution.
func (h *HAL) Release() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.held = false
	h.runLocked()
}

// Halted reports whether the command queue stopped on an error.
func (h *HAL) Halted() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.halted
}

// Executed returns every command executed so far.
func (h *HAL) Executed() []Command {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Command(nil), h.executed...)
}

// Writes returns the number of register writes so far.
func (h *HAL) Writes() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.writes
}

// Peek returns a register value without read side effects.
func (h *HAL) Peek(off uint32) uint32 {
	h.mu.Lock()
	defer h.mu.Unlock()
	if idx, ok := h.isDAT(off); ok {
		return h.dat[idx]
	}
	return h.regs[off]
}

// DATEntry returns device address table entry idx.
func (h *HAL) DATEntry(idx int) uint32 {
	h.mu.Lock()
	defer h.mu.Unlock()
	if idx < 0 || idx >= len(h.dat) {
		return 0
	}
	return h.dat[idx]
}

// QueuedCommands returns the number of commands waiting to execute.
func (h *HAL) QueuedCommands() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.cmdQ)
}

// PendingIBIs returns the number of IBI status entries not yet read.
func (h *HAL) PendingIBIs() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.nibi
}
