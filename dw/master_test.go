package dw

import (
	"context"
	"errors"
	"testing"
	"time"

	"periph.io/x/conn/v3/physic"

	"github.com/ardnew/softi3c/hal/regs"
	"github.com/ardnew/softi3c/hal/sim"
	"github.com/ardnew/softi3c/i3c"
	"github.com/ardnew/softi3c/pkg"
)

// =============================================================================
// Test Helpers
// =============================================================================

const testMasterAddr = 0x70

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.DynamicAddr = testMasterAddr
	cfg.XferTimeout = 500 * time.Millisecond
	cfg.ResetTimeout = 100 * time.Millisecond
	return cfg
}

// newStarted returns a started controller on a fresh sim.
func newStarted(t *testing.T, simCfg sim.Config, cfg Config) (*Controller, *sim.HAL) {
	t.Helper()
	h := sim.New(simCfg)
	c := New(h, cfg)
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c, h
}

// newBus returns a controller with targets attached to an initialized bus.
func newBus(t *testing.T, mode i3c.BusMode, targets ...*sim.Target) (*Controller, *sim.HAL, *i3c.Bus) {
	t.Helper()
	h := sim.New(sim.DefaultConfig())
	for _, tg := range targets {
		h.AddTarget(tg)
	}
	c := New(h, testConfig())
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })

	bus := i3c.NewBus(c, i3c.BusConfig{Mode: mode})
	if err := bus.Init(context.Background()); err != nil {
		t.Fatalf("bus Init failed: %v", err)
	}
	return c, h, bus
}

// fakeBus is a minimal BusModel for exercising the controller without
// the device-information handshake.
type fakeBus struct {
	mode    i3c.BusMode
	addrs   *i3c.AddrSlots
	freeErr error
	added   []uint8
	ctrl    *Controller
}

func newFakeBus(c *Controller) *fakeBus {
	return &fakeBus{addrs: i3c.NewAddrSlots(), ctrl: c}
}

func (b *fakeBus) Mode() i3c.BusMode { return b.mode }

func (b *fakeBus) SCLRate() physic.Frequency { return 0 }

func (b *fakeBus) FreeAddr(start uint8) (uint8, error) {
	if b.freeErr != nil {
		return 0, b.freeErr
	}
	return b.addrs.FreeAddr(start)
}

func (b *fakeBus) SetMasterAddr(addr uint8) error {
	b.addrs.Set(addr, i3c.AddrSlotI3CDev)
	return nil
}

func (b *fakeBus) AddI3CDevice(ctx context.Context, addr uint8) error {
	b.added = append(b.added, addr)
	b.addrs.Set(addr, i3c.AddrSlotI3CDev)
	return b.ctrl.AttachI3CDev(i3c.NewDevice(i3c.DeviceInfo{DynAddr: addr}))
}

var _ i3c.BusModel = (*fakeBus)(nil)

// =============================================================================
// Controller Lifecycle Tests
// =============================================================================

func TestNew_Defaults(t *testing.T) {
	c := New(sim.New(sim.DefaultConfig()), Config{})

	if c.cfg.XferTimeout != DefaultXferTimeout {
		t.Errorf("XferTimeout = %v, want %v", c.cfg.XferTimeout, DefaultXferTimeout)
	}
	if c.cfg.ResetTimeout != DefaultResetTimeout {
		t.Errorf("ResetTimeout = %v, want %v", c.cfg.ResetTimeout, DefaultResetTimeout)
	}
	if _, ok := c.cfg.Variant.(Generic); !ok {
		t.Errorf("Variant = %T, want Generic", c.cfg.Variant)
	}
	if c.IsRunning() {
		t.Error("IsRunning() = true before Start")
	}
}

func TestController_StartStop(t *testing.T) {
	h := sim.New(sim.DefaultConfig())
	c := New(h, testConfig())
	ctx := context.Background()

	if err := c.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if !c.IsRunning() {
		t.Error("IsRunning() = false after Start")
	}
	if err := c.Start(ctx); !errors.Is(err, pkg.ErrAlreadyRunning) {
		t.Errorf("second Start = %v, want ErrAlreadyRunning", err)
	}
	if err := c.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if err := c.Stop(); !errors.Is(err, pkg.ErrNotRunning) {
		t.Errorf("second Stop = %v, want ErrNotRunning", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
}

func TestController_Probe(t *testing.T) {
	simCfg := sim.DefaultConfig()
	simCfg.CmdDepth = 8
	simCfg.DataDepth = 32
	simCfg.DATDepth = 12
	c, h := newStarted(t, simCfg, testConfig())

	if c.CmdDepth() != 8 {
		t.Errorf("CmdDepth() = %d, want 8", c.CmdDepth())
	}
	if c.DataDepth() != 32 {
		t.Errorf("DataDepth() = %d, want 32", c.DataDepth())
	}
	if c.MaxDevices() != 12 {
		t.Errorf("MaxDevices() = %d, want 12", c.MaxDevices())
	}
	if got := c.FreeMask(); got != 1<<12-1 {
		t.Errorf("FreeMask() = %#x, want %#x", got, 1<<12-1)
	}
	if got := h.Peek(regs.IntrStatusEn); got != regs.IntrMasterMask {
		t.Errorf("INTR_STATUS_EN = %#x, want %#x", got, regs.IntrMasterMask)
	}
	if got := h.Peek(regs.IBISIRReqReject); got != regs.IBIReqRejectAll {
		t.Errorf("IBI_SIR_REQ_REJECT = %#x, want all ones", got)
	}
}

func TestController_ProbeRejectsOversizedTable(t *testing.T) {
	simCfg := sim.DefaultConfig()
	simCfg.DATDepth = 40
	c := New(sim.New(simCfg), testConfig())
	if err := c.Start(context.Background()); !errors.Is(err, pkg.ErrNotSupported) {
		t.Errorf("Start = %v, want ErrNotSupported", err)
	}
}

func TestController_BusInit(t *testing.T) {
	c, h, bus := newBus(t, i3c.BusModePure)

	if bus.MasterAddr() != testMasterAddr {
		t.Errorf("MasterAddr() = 0x%02x, want 0x%02x", bus.MasterAddr(), testMasterAddr)
	}
	want := uint32(regs.DevAddrDynamicAddrValid) | regs.DevAddrDynamic(testMasterAddr)
	if got := h.Peek(regs.DeviceAddr); got != want {
		t.Errorf("DEVICE_ADDR = %#x, want %#x", got, want)
	}
	ctrl := h.Peek(regs.DeviceCtrl)
	if ctrl&regs.DevCtrlEnable == 0 {
		t.Error("controller not enabled")
	}
	if ctrl&regs.DevCtrlHotJoinNACK == 0 {
		t.Error("hot-join not NACKed")
	}
	if c.DAAState() != DAADevicesAttached {
		t.Errorf("DAAState() = %v, want %v", c.DAAState(), DAADevicesAttached)
	}

	bus.Cleanup()
	if h.Peek(regs.DeviceCtrl)&regs.DevCtrlEnable != 0 {
		t.Error("controller still enabled after cleanup")
	}
}

func TestController_BusInitBeforeStart(t *testing.T) {
	c := New(sim.New(sim.DefaultConfig()), testConfig())
	if err := c.BusInit(context.Background(), newFakeBus(c)); !errors.Is(err, pkg.ErrNotRunning) {
		t.Errorf("BusInit = %v, want ErrNotRunning", err)
	}
}

func TestController_SpuriousInterrupt(t *testing.T) {
	c, _ := newStarted(t, sim.DefaultConfig(), testConfig())
	if c.handleIRQ() {
		t.Error("handleIRQ() = true with no status pending")
	}
}
