package dw

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ardnew/softi3c/hal/regs"
	"github.com/ardnew/softi3c/hal/sim"
	"github.com/ardnew/softi3c/i3c"
	"github.com/ardnew/softi3c/pkg"
)

// broadcastXfer builds a single-command broadcast CCC write.
func broadcastXfer(id uint8, payload []byte) *xfer {
	x := newXfer(1)
	x.cmds[0].hi = regs.ArgDataLen(len(payload)) | regs.CmdAttrTransferArg
	x.cmds[0].lo = regs.CmdCP | regs.CmdCCC(id) | regs.CmdTOC | regs.CmdROC
	x.cmds[0].tx = payload
	return x
}

func waitDone(t *testing.T, x *xfer) error {
	t.Helper()
	select {
	case <-x.done:
		return x.err
	case <-time.After(2 * time.Second):
		t.Fatal("transfer did not complete")
		return nil
	}
}

// =============================================================================
// Response Status Tests
// =============================================================================

func TestResponseStatus_Kind(t *testing.T) {
	tests := []struct {
		status responseStatus
		want   pkg.TransferStatus
	}{
		{respNoError, pkg.TransferStatusSuccess},
		{respErrCRC, pkg.TransferStatusIOError},
		{respErrParity, pkg.TransferStatusIOError},
		{respErrFrame, pkg.TransferStatusIOError},
		{respErrIBANACK, pkg.TransferStatusIOError},
		{respErrAddrNACK, pkg.TransferStatusIOError},
		{respErrAbort, pkg.TransferStatusIOError},
		{respErrOverflow, pkg.TransferStatusOverflow},
		{respErrI2CWriteNA, pkg.TransferStatusInvalid},
		{responseStatus(0xc), pkg.TransferStatusInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.status.String(), func(t *testing.T) {
			if got := tt.status.Kind(); got != tt.want {
				t.Errorf("Kind() = %v, want %v", got, tt.want)
			}
			err := tt.status.Err()
			if tt.want == pkg.TransferStatusSuccess {
				if err != nil {
					t.Errorf("Err() = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.want.Error()) {
				t.Errorf("Err() = %v, want wrapping %v", err, tt.want.Error())
			}
		})
	}
}

func TestResponseStatus_AddrNACK(t *testing.T) {
	if !respErrIBANACK.addrNACK() || !respErrAddrNACK.addrNACK() {
		t.Error("address NACK statuses not recognized")
	}
	if respErrCRC.addrNACK() || respNoError.addrNACK() {
		t.Error("non-NACK status reported as address NACK")
	}
}

// =============================================================================
// Queue Tests
// =============================================================================

func TestQueue_FIFOOrder(t *testing.T) {
	c, h, _ := newBus(t, i3c.BusModePure, sim.NewTarget(0x100, 0, 0))
	before := len(h.Executed())

	h.Hold()
	ids := []uint8{i3c.CCCENECBroadcast, i3c.CCCDISECBroadcast, i3c.CCCENECBroadcast, i3c.CCCDISECBroadcast}
	payloads := [][]byte{{0x01}, {0x02}, {0x08}, {0x0b}}
	xfers := make([]*xfer, len(ids))
	for i := range ids {
		xfers[i] = broadcastXfer(ids[i], payloads[i])
		c.enqueue(xfers[i])
	}

	c.xferMu.Lock()
	if c.cur != xfers[0] {
		t.Error("first transfer is not current")
	}
	if len(c.pending) != 3 {
		t.Errorf("len(pending) = %d, want 3", len(c.pending))
	}
	c.xferMu.Unlock()

	h.Release()
	for i, x := range xfers {
		if err := waitDone(t, x); err != nil {
			t.Errorf("transfer %d failed: %v", i, err)
		}
	}

	exec := h.Executed()[before:]
	if len(exec) != len(xfers) {
		t.Fatalf("executed %d commands, want %d", len(exec), len(xfers))
	}
	for i, cmd := range exec {
		if cmd.Lo != xfers[i].cmds[0].lo {
			t.Errorf("command %d = %#x, want %#x", i, cmd.Lo, xfers[i].cmds[0].lo)
		}
	}

	c.xferMu.Lock()
	defer c.xferMu.Unlock()
	if c.cur != nil || len(c.pending) != 0 {
		t.Error("queue not empty after all transfers completed")
	}
}

func TestQueue_CapacityRejected(t *testing.T) {
	simCfg := sim.DefaultConfig()
	simCfg.CmdDepth = 4
	simCfg.DataDepth = 4
	h := sim.New(simCfg)
	tg := sim.NewTarget(0x100, 0, 0)
	h.AddTarget(tg)
	c := New(h, testConfig())
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	bus := i3c.NewBus(c, i3c.BusConfig{Mode: i3c.BusModePure})
	if err := bus.Init(context.Background()); err != nil {
		t.Fatalf("bus Init failed: %v", err)
	}
	dev := bus.Device(0x08)
	if dev == nil {
		t.Fatal("device not discovered")
	}

	tests := []struct {
		name  string
		xfers []i3c.PrivXfer
	}{
		{
			name: "too many commands",
			xfers: []i3c.PrivXfer{
				{Data: []byte{0}}, {Data: []byte{0}}, {Data: []byte{0}},
				{Data: []byte{0}}, {Data: []byte{0}},
			},
		},
		{
			name:  "tx too large",
			xfers: []i3c.PrivXfer{{Data: make([]byte, 17)}},
		},
		{
			name:  "rx too large",
			xfers: []i3c.PrivXfer{{RnW: true, Data: make([]byte, 20)}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			writes := h.Writes()
			err := c.PrivXfers(context.Background(), dev, tt.xfers)
			if !errors.Is(err, pkg.ErrNotSupported) {
				t.Errorf("PrivXfers = %v, want ErrNotSupported", err)
			}
			if h.Writes() != writes {
				t.Errorf("%d register writes for a rejected transfer", h.Writes()-writes)
			}
		})
	}

	// Exactly at capacity is accepted.
	if err := c.PrivXfers(context.Background(), dev, []i3c.PrivXfer{{Data: make([]byte, 16)}}); err != nil {
		t.Errorf("PrivXfers at capacity failed: %v", err)
	}
}

func TestQueue_TimeoutRecovery(t *testing.T) {
	cfg := testConfig()
	h := sim.New(sim.DefaultConfig())
	h.AddTarget(sim.NewTarget(0x100, 0, 0))
	c := New(h, cfg)
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	bus := i3c.NewBus(c, i3c.BusConfig{Mode: i3c.BusModePure})
	if err := bus.Init(context.Background()); err != nil {
		t.Fatalf("bus Init failed: %v", err)
	}
	dev := bus.Device(0x08)
	if dev == nil {
		t.Fatal("device not discovered")
	}

	c.cfg.XferTimeout = 50 * time.Millisecond
	h.Hold()
	err := c.PrivXfers(context.Background(), dev, []i3c.PrivXfer{{Data: []byte{0x00, 0xaa}}})
	if !errors.Is(err, pkg.ErrTimeout) {
		t.Fatalf("PrivXfers = %v, want ErrTimeout", err)
	}

	c.xferMu.Lock()
	if c.cur != nil {
		t.Error("timed-out transfer still current")
	}
	c.xferMu.Unlock()
	if n := h.QueuedCommands(); n != 0 {
		t.Errorf("%d commands left in hardware queue after reset", n)
	}

	h.Release()
	c.cfg.XferTimeout = cfg.XferTimeout
	buf := make([]byte, 1)
	n, err := dev.WriteRead(context.Background(), []byte{0x00}, buf)
	if err != nil {
		t.Fatalf("WriteRead after timeout failed: %v", err)
	}
	if n != 1 {
		t.Errorf("WriteRead returned %d bytes, want 1", n)
	}
	if buf[0] == 0xaa {
		t.Error("aborted write reached the device")
	}
}

func TestQueue_TimeoutStartsPending(t *testing.T) {
	c, h, _ := newBus(t, i3c.BusModePure, sim.NewTarget(0x100, 0, 0))

	h.Hold()
	first := broadcastXfer(i3c.CCCENECBroadcast, []byte{0x01})
	second := broadcastXfer(i3c.CCCDISECBroadcast, []byte{0x01})
	c.enqueue(first)
	c.enqueue(second)

	c.xferMu.Lock()
	c.dequeueLocked(first)
	promoted := c.cur == second
	c.xferMu.Unlock()
	if !promoted {
		t.Fatal("pending transfer not promoted after dequeue")
	}

	h.Release()
	if err := waitDone(t, second); err != nil {
		t.Errorf("promoted transfer failed: %v", err)
	}
}

func TestQueue_DequeuePending(t *testing.T) {
	c, h, _ := newBus(t, i3c.BusModePure, sim.NewTarget(0x100, 0, 0))

	h.Hold()
	first := broadcastXfer(i3c.CCCENECBroadcast, []byte{0x01})
	second := broadcastXfer(i3c.CCCDISECBroadcast, []byte{0x01})
	c.enqueue(first)
	c.enqueue(second)

	c.xferMu.Lock()
	c.dequeueLocked(second)
	if len(c.pending) != 0 {
		t.Errorf("len(pending) = %d after dequeue, want 0", len(c.pending))
	}
	if c.cur != first {
		t.Error("current transfer changed by dequeue of pending one")
	}
	c.xferMu.Unlock()

	h.Release()
	if err := waitDone(t, first); err != nil {
		t.Errorf("first transfer failed: %v", err)
	}
}

func TestQueue_Cancelled(t *testing.T) {
	c, h, bus := newBus(t, i3c.BusModePure, sim.NewTarget(0x100, 0, 0))
	dev := bus.Device(0x08)
	if dev == nil {
		t.Fatal("device not discovered")
	}

	h.Hold()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := c.PrivXfers(ctx, dev, []i3c.PrivXfer{{Data: []byte{0x00}}})
	if !errors.Is(err, pkg.ErrCancelled) {
		t.Errorf("PrivXfers = %v, want ErrCancelled", err)
	}
	h.Release()
}

func TestQueue_NotRunning(t *testing.T) {
	c := New(sim.New(sim.DefaultConfig()), testConfig())
	c.cmdDepth, c.dataDepth = 4, 4
	err := c.submit(context.Background(), broadcastXfer(i3c.CCCENECBroadcast, []byte{1}))
	if !errors.Is(err, pkg.ErrNotRunning) {
		t.Errorf("submit = %v, want ErrNotRunning", err)
	}
}

// =============================================================================
// Error Classification Tests
// =============================================================================

func TestQueue_ErrorClassification(t *testing.T) {
	tests := []struct {
		name   string
		status uint8
		want   error
	}{
		{"crc", regs.RespErrCRC, pkg.ErrIO},
		{"parity", regs.RespErrParity, pkg.ErrIO},
		{"frame", regs.RespErrFrame, pkg.ErrIO},
		{"abort", regs.RespErrAbort, pkg.ErrIO},
		{"overflow", regs.RespErrOverflow, pkg.ErrOverflow},
		{"i2c write nack", regs.RespErrI2CWriteNA, pkg.ErrInvalidParameter},
	}

	tg := sim.NewTarget(0x100, 0, 0)
	c, h, bus := newBus(t, i3c.BusModePure, tg)
	dev := bus.Device(0x08)
	if dev == nil {
		t.Fatal("device not discovered")
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tg.InjectError(tt.status)
			err := c.PrivXfers(context.Background(), dev, []i3c.PrivXfer{
				{Data: []byte{0x00}},
				{RnW: true, Data: make([]byte, 2)},
			})
			if !errors.Is(err, tt.want) {
				t.Errorf("PrivXfers = %v, want %v", err, tt.want)
			}
			// The caller may wake before the resume lands.
			eventually(t, "controller resumed", func() bool { return !h.Halted() })

			// The engine recovers for the next transfer.
			if err := c.PrivXfers(context.Background(), dev, []i3c.PrivXfer{{Data: []byte{0x00}}}); err != nil {
				t.Errorf("transfer after error failed: %v", err)
			}
		})
	}
}

// writeLog records every register write made through a sim HAL.
type writeLog struct {
	*sim.HAL

	mu     sync.Mutex
	writes []regWrite
}

type regWrite struct {
	off uint32
	val uint32
}

func (w *writeLog) Write32(off uint32, v uint32) {
	w.mu.Lock()
	w.writes = append(w.writes, regWrite{off, v})
	w.mu.Unlock()
	w.HAL.Write32(off, v)
}

func (w *writeLog) reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.writes = nil
}

// first returns the index of the first recorded write matching match, or -1.
func (w *writeLog) first(match func(regWrite) bool) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	for i, rw := range w.writes {
		if match(rw) {
			return i
		}
	}
	return -1
}

// privWrite builds a single private write to DAT entry idx.
func privWrite(idx int, data []byte) *xfer {
	x := newXfer(1)
	x.cmds[0].hi = regs.ArgDataLen(len(data)) | regs.CmdAttrTransferArg
	x.cmds[0].lo = regs.CmdDevIndex(idx) | regs.CmdROC | regs.CmdTOC
	x.cmds[0].tx = data
	return x
}

func TestQueue_ErrorResumesBeforeNext(t *testing.T) {
	h := sim.New(sim.DefaultConfig())
	tg := sim.NewTarget(0x100, 0, 0)
	h.AddTarget(tg)
	log := &writeLog{HAL: h}
	c := New(log, testConfig())
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	bus := i3c.NewBus(c, i3c.BusConfig{Mode: i3c.BusModePure})
	if err := bus.Init(context.Background()); err != nil {
		t.Fatalf("bus Init failed: %v", err)
	}
	idx, err := c.devIndex(bus.Device(0x08))
	if err != nil {
		t.Fatalf("devIndex failed: %v", err)
	}

	h.Hold()
	failing := privWrite(idx, []byte{0x20, 0x01})
	next := privWrite(idx, []byte{0x20, 0x02})
	c.enqueue(failing)
	c.enqueue(next)
	tg.InjectError(regs.RespErrCRC)
	log.reset()
	h.Release()

	if err := waitDone(t, failing); !errors.Is(err, pkg.ErrIO) {
		t.Errorf("failing transfer = %v, want ErrIO", err)
	}
	if err := waitDone(t, next); err != nil {
		t.Fatalf("next transfer failed: %v", err)
	}

	reset := log.first(func(w regWrite) bool {
		return w.off == regs.ResetCtrl && w.val&regs.ResetXferQueues != 0
	})
	resume := log.first(func(w regWrite) bool {
		return w.off == regs.DeviceCtrl && w.val&regs.DevCtrlResume != 0
	})
	started := log.first(func(w regWrite) bool {
		return w.off == regs.CommandQueuePort || w.off == regs.RxTxDataPort
	})
	if reset < 0 || resume < 0 || started < 0 {
		t.Fatalf("missing writes: reset=%d resume=%d start=%d", reset, resume, started)
	}
	if !(reset < resume && resume < started) {
		t.Errorf("write order reset=%d resume=%d start=%d, want reset, resume, then next start",
			reset, resume, started)
	}
	if got := tg.Mem()[0x20]; got != 0x02 {
		t.Errorf("mem[0x20] = %#x, want 0x02 from the next transfer", got)
	}
}

func TestQueue_UnrequestedReadDrained(t *testing.T) {
	tg := sim.NewTarget(0x100, 0, 0)
	tg.SetMem(0x10, []byte{1, 2, 3, 4, 5, 6})
	c, _, bus := newBus(t, i3c.BusModePure, tg)
	dev := bus.Device(0x08)
	if dev == nil {
		t.Fatal("device not discovered")
	}
	idx, err := c.devIndex(dev)
	if err != nil {
		t.Fatalf("devIndex failed: %v", err)
	}

	if _, err := dev.WriteRead(context.Background(), []byte{0x10}, nil); err != nil {
		t.Fatalf("pointer write failed: %v", err)
	}
	// A read with no destination buffer still returns data.
	x := newXfer(1)
	x.cmds[0].hi = regs.ArgDataLen(2) | regs.CmdAttrTransferArg
	x.cmds[0].lo = regs.CmdRead | regs.CmdDevIndex(idx) | regs.CmdROC | regs.CmdTOC
	if err := c.submit(context.Background(), x); err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if x.cmds[0].rxLen != 2 {
		t.Errorf("rxLen = %d, want 2", x.cmds[0].rxLen)
	}

	got := make([]byte, 3)
	if _, err := dev.WriteRead(context.Background(), []byte{0x12}, got); err != nil {
		t.Fatalf("WriteRead failed: %v", err)
	}
	if want := []byte{3, 4, 5}; string(got) != string(want) {
		t.Errorf("read %v, want %v", got, want)
	}
}

// =============================================================================
// FIFO Packing Tests
// =============================================================================

func TestFIFO_Packing(t *testing.T) {
	tg := sim.NewTarget(0x100, 0, 0)
	_, _, bus := newBus(t, i3c.BusModePure, tg)
	dev := bus.Device(0x08)
	if dev == nil {
		t.Fatal("device not discovered")
	}

	for _, n := range []int{1, 3, 4, 5, 7, 8, 13} {
		data := make([]byte, n)
		for i := range data {
			data[i] = byte(0x40 + n + i)
		}
		if _, err := dev.WriteRead(context.Background(), append([]byte{0x10}, data...), nil); err != nil {
			t.Fatalf("write %d bytes failed: %v", n, err)
		}
		got := make([]byte, n)
		rn, err := dev.WriteRead(context.Background(), []byte{0x10}, got)
		if err != nil {
			t.Fatalf("read %d bytes failed: %v", n, err)
		}
		if rn != n {
			t.Errorf("read %d bytes, want %d", rn, n)
		}
		for i := range data {
			if got[i] != data[i] {
				t.Errorf("n=%d: byte %d = 0x%02x, want 0x%02x", n, i, got[i], data[i])
			}
		}
	}
}

func TestFIFO_ReadBoundedByBuffer(t *testing.T) {
	c, _ := newStarted(t, sim.DefaultConfig(), testConfig())
	buf := make([]byte, 2)
	// Nothing in the FIFO reads as zero words; the buffer must not grow.
	c.readRxFIFO(buf, 6)
	if len(buf) != 2 {
		t.Errorf("len(buf) = %d, want 2", len(buf))
	}
}
