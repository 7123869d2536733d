package dw

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ardnew/softi3c/hal/regs"
	"github.com/ardnew/softi3c/hal/sim"
	"github.com/ardnew/softi3c/i3c"
	"github.com/ardnew/softi3c/pkg"
)

// =============================================================================
// Test Helpers
// =============================================================================

const ibiBCR = i3c.BCRIBIRequestCapable | i3c.BCRIBIPayload

// eventually polls cond until it holds or a second passes.
func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func recvIBI(t *testing.T, ch <-chan []byte) []byte {
	t.Helper()
	select {
	case p := <-ch:
		return p
	case <-time.After(2 * time.Second):
		t.Fatal("no IBI delivered")
		return nil
	}
}

// ibiBus brings up a bus with one IBI-capable target at 0x08 and
// subscribes to its interrupts. Payloads are copied to the returned
// channel.
func ibiBus(t *testing.T, cfg Config, maxLen, slots int) (*Controller, *sim.HAL, *sim.Target, *i3c.Device, <-chan []byte) {
	t.Helper()
	h := sim.New(sim.DefaultConfig())
	tg := sim.NewTarget(0x100, ibiBCR, 0)
	h.AddTarget(tg)
	c := New(h, cfg)
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	bus := i3c.NewBus(c, i3c.BusConfig{})
	if err := bus.Init(context.Background()); err != nil {
		t.Fatalf("bus Init failed: %v", err)
	}
	dev := bus.Device(0x08)
	if dev == nil {
		t.Fatal("device not discovered")
	}

	ch := make(chan []byte, 16)
	err := dev.RequestIBI(i3c.IBISetup{
		MaxPayloadLen: maxLen,
		NumSlots:      slots,
		Handler: func(_ *i3c.Device, p i3c.IBIPayload) {
			ch <- bytes.Clone(p.Data)
		},
	})
	if err != nil {
		t.Fatalf("RequestIBI failed: %v", err)
	}
	return c, h, tg, dev, ch
}

// =============================================================================
// Classification Tests
// =============================================================================

func TestClassifyIBI(t *testing.T) {
	tests := []struct {
		id   uint8
		want ibiKind
	}{
		{0x08<<1 | 1, ibiSIR},
		{i3c.HotJoinAddr << 1, ibiHotJoin},
		{0x08 << 1, ibiMasterRequest},
		{i3c.HotJoinAddr<<1 | 1, ibiUnknown},
	}
	for _, tt := range tests {
		got := classifyIBI(regs.IBIStatus(tt.id, 0))
		if got != tt.want {
			t.Errorf("classifyIBI(0x%02x) = %s, want %s", tt.id, got, tt.want)
		}
	}
}

// =============================================================================
// Enable / Disable Tests
// =============================================================================

func TestIBI_EnableDeliver(t *testing.T) {
	_, h, tg, dev, ch := ibiBus(t, testConfig(), 4, 2)
	ctx := context.Background()

	if h.Peek(regs.IntrSignalEn)&regs.IntrIBIThld != 0 {
		t.Error("IBI threshold interrupt enabled before any subscription")
	}
	if err := tg.RaiseIBI([]byte{0xee}); !errors.Is(err, sim.ErrIBINacked) {
		t.Errorf("RaiseIBI before enable = %v, want ErrIBINacked", err)
	}

	if err := dev.EnableIBI(ctx); err != nil {
		t.Fatalf("EnableIBI failed: %v", err)
	}
	if tg.Events()&i3c.EventSIR == 0 {
		t.Error("SIR not enabled on the device")
	}
	e := h.DATEntry(0)
	if e&regs.DATSIRReject != 0 {
		t.Error("DAT entry still rejects SIR")
	}
	if e&regs.DATIBIMDB == 0 {
		t.Error("DAT entry missing mandatory data byte flag")
	}
	if e&regs.DATIBIPEC != 0 {
		t.Error("generic variant set PEC")
	}
	if h.Peek(regs.IBISIRReqReject)&1 != 0 {
		t.Error("global reject bit still set for slot 0")
	}
	for _, off := range []uint32{regs.IntrStatusEn, regs.IntrSignalEn} {
		if h.Peek(off)&regs.IntrIBIThld == 0 {
			t.Errorf("IBI threshold interrupt not enabled in %#x", off)
		}
	}

	if err := tg.RaiseIBI([]byte{0x11, 0x22, 0x33}); err != nil {
		t.Fatalf("RaiseIBI failed: %v", err)
	}
	if got := recvIBI(t, ch); !bytes.Equal(got, []byte{0x11, 0x22, 0x33}) {
		t.Errorf("payload = %x, want 112233", got)
	}
}

func TestIBI_Disable(t *testing.T) {
	_, h, tg, dev, _ := ibiBus(t, testConfig(), 4, 2)
	ctx := context.Background()

	if err := dev.EnableIBI(ctx); err != nil {
		t.Fatalf("EnableIBI failed: %v", err)
	}
	if err := dev.DisableIBI(ctx); err != nil {
		t.Fatalf("DisableIBI failed: %v", err)
	}

	if err := tg.RaiseIBI([]byte{0x01}); !errors.Is(err, sim.ErrEventDisabled) {
		t.Errorf("RaiseIBI = %v, want ErrEventDisabled", err)
	}
	if h.DATEntry(0)&regs.DATSIRReject == 0 {
		t.Error("DAT entry accepts SIR after disable")
	}
	if h.Peek(regs.IBISIRReqReject) != regs.IBIReqRejectAll {
		t.Errorf("reject mask = %#x, want all", h.Peek(regs.IBISIRReqReject))
	}
	for _, off := range []uint32{regs.IntrStatusEn, regs.IntrSignalEn} {
		if h.Peek(off)&regs.IntrIBIThld != 0 {
			t.Errorf("IBI threshold interrupt still enabled in %#x", off)
		}
	}
	if h.Peek(regs.IntrSignalEn)&regs.IntrTransferErr == 0 {
		t.Error("transfer interrupts lost while toggling IBI")
	}
}

func TestIBI_EnableFailureRollsBack(t *testing.T) {
	_, h, tg, dev, _ := ibiBus(t, testConfig(), 4, 2)

	tg.SetAbsent(true)
	err := dev.EnableIBI(context.Background())
	if !errors.Is(err, pkg.ErrNoDevice) {
		t.Fatalf("EnableIBI = %v, want ErrNoDevice", err)
	}
	if h.DATEntry(0)&regs.DATSIRReject == 0 {
		t.Error("DAT entry left accepting SIR")
	}
	if h.Peek(regs.IBISIRReqReject) != regs.IBIReqRejectAll {
		t.Errorf("reject mask = %#x, want all", h.Peek(regs.IBISIRReqReject))
	}
}

func TestIBI_FreeWhileEnabled(t *testing.T) {
	c, _, _, dev, _ := ibiBus(t, testConfig(), 4, 2)
	ctx := context.Background()

	if err := dev.EnableIBI(ctx); err != nil {
		t.Fatalf("EnableIBI failed: %v", err)
	}
	if err := dev.FreeIBI(); !errors.Is(err, pkg.ErrBusy) {
		t.Errorf("FreeIBI = %v, want ErrBusy", err)
	}
	if err := dev.DisableIBI(ctx); err != nil {
		t.Fatalf("DisableIBI failed: %v", err)
	}
	if err := dev.FreeIBI(); err != nil {
		t.Fatalf("FreeIBI failed: %v", err)
	}

	data, err := devDataOf(dev)
	if err != nil {
		t.Fatalf("devDataOf failed: %v", err)
	}
	c.devsMu.Lock()
	pool, sub := data.ibiPool, c.devs[data.index].ibiDev
	c.devsMu.Unlock()
	if pool != nil || sub != nil {
		t.Error("controller still holds the subscription after FreeIBI")
	}
}

func TestIBI_RequestTwice(t *testing.T) {
	c, _, _, dev, _ := ibiBus(t, testConfig(), 4, 2)
	setup := &i3c.IBISetup{MaxPayloadLen: 1, NumSlots: 1, Handler: func(*i3c.Device, i3c.IBIPayload) {}}
	if err := c.RequestIBI(dev, setup); !errors.Is(err, pkg.ErrBusy) {
		t.Errorf("RequestIBI = %v, want ErrBusy", err)
	}
	if err := c.RequestIBI(i3c.NewDevice(i3c.DeviceInfo{DynAddr: 0x40}), setup); !errors.Is(err, pkg.ErrNoDevice) {
		t.Errorf("RequestIBI on unattached device = %v, want ErrNoDevice", err)
	}
}

func TestIBI_AST2600PEC(t *testing.T) {
	cfg := testConfig()
	cfg.Variant = AST2600{}
	_, h, _, dev, _ := ibiBus(t, cfg, 4, 2)

	if err := dev.EnableIBI(context.Background()); err != nil {
		t.Fatalf("EnableIBI failed: %v", err)
	}
	if h.DATEntry(0)&regs.DATIBIPEC == 0 {
		t.Error("AST2600 did not set PEC on the DAT entry")
	}
}

// =============================================================================
// Delivery Tests
// =============================================================================

func TestIBI_OversizedDropped(t *testing.T) {
	_, h, tg, dev, ch := ibiBus(t, testConfig(), 4, 2)
	if err := dev.EnableIBI(context.Background()); err != nil {
		t.Fatalf("EnableIBI failed: %v", err)
	}

	if err := tg.RaiseIBI([]byte{1, 2, 3, 4, 5}); err != nil {
		t.Fatalf("RaiseIBI failed: %v", err)
	}
	eventually(t, "oversized IBI drained", func() bool { return h.PendingIBIs() == 0 })

	if err := tg.RaiseIBI([]byte{0xaa, 0xbb}); err != nil {
		t.Fatalf("RaiseIBI failed: %v", err)
	}
	if got := recvIBI(t, ch); !bytes.Equal(got, []byte{0xaa, 0xbb}) {
		t.Errorf("payload = %x, want aabb", got)
	}
}

func TestIBI_UnknownAddressDrained(t *testing.T) {
	_, h, tg, dev, ch := ibiBus(t, testConfig(), 4, 2)
	if err := dev.EnableIBI(context.Background()); err != nil {
		t.Fatalf("EnableIBI failed: %v", err)
	}

	if err := h.InjectIBI(0x33<<1|1, []byte{9, 9, 9, 9, 9, 9}); err != nil {
		t.Fatalf("InjectIBI failed: %v", err)
	}
	eventually(t, "unknown IBI drained", func() bool { return h.PendingIBIs() == 0 })

	if err := tg.RaiseIBI([]byte{0x42}); err != nil {
		t.Fatalf("RaiseIBI failed: %v", err)
	}
	if got := recvIBI(t, ch); !bytes.Equal(got, []byte{0x42}) {
		t.Errorf("payload = %x, want 42 (stale data left in queue?)", got)
	}
}

func TestIBI_HotJoin(t *testing.T) {
	_, h, tg, dev, ch := ibiBus(t, testConfig(), 4, 2)
	if err := dev.EnableIBI(context.Background()); err != nil {
		t.Fatalf("EnableIBI failed: %v", err)
	}

	if err := h.RaiseHotJoin(); !errors.Is(err, sim.ErrIBINacked) {
		t.Errorf("RaiseHotJoin = %v, want ErrIBINacked", err)
	}

	// A hot-join that slipped through is drained, not delivered.
	if err := h.InjectIBI(i3c.HotJoinAddr<<1, nil); err != nil {
		t.Fatalf("InjectIBI failed: %v", err)
	}
	eventually(t, "hot-join drained", func() bool { return h.PendingIBIs() == 0 })

	if err := tg.RaiseIBI([]byte{0x07}); err != nil {
		t.Fatalf("RaiseIBI failed: %v", err)
	}
	if got := recvIBI(t, ch); !bytes.Equal(got, []byte{0x07}) {
		t.Errorf("payload = %x, want 07", got)
	}
}

func TestIBI_SlotExhaustion(t *testing.T) {
	h := sim.New(sim.DefaultConfig())
	tg := sim.NewTarget(0x100, ibiBCR, 0)
	h.AddTarget(tg)
	c := New(h, testConfig())
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	bus := i3c.NewBus(c, i3c.BusConfig{})
	if err := bus.Init(context.Background()); err != nil {
		t.Fatalf("bus Init failed: %v", err)
	}
	dev := bus.Device(0x08)
	if dev == nil {
		t.Fatal("device not discovered")
	}

	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	got := make(chan byte, 4)
	err := dev.RequestIBI(i3c.IBISetup{
		MaxPayloadLen: 1,
		NumSlots:      1,
		Handler: func(_ *i3c.Device, p i3c.IBIPayload) {
			select {
			case entered <- struct{}{}:
			default:
			}
			<-release
			got <- p.Data[0]
		},
	})
	if err != nil {
		t.Fatalf("RequestIBI failed: %v", err)
	}
	if err := dev.EnableIBI(context.Background()); err != nil {
		t.Fatalf("EnableIBI failed: %v", err)
	}

	if err := tg.RaiseIBI([]byte{1}); err != nil {
		t.Fatalf("RaiseIBI failed: %v", err)
	}
	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("handler not invoked")
	}

	// The only slot is in the handler.
	if err := tg.RaiseIBI([]byte{2}); err != nil {
		t.Fatalf("RaiseIBI failed: %v", err)
	}
	eventually(t, "IBI without slot drained", func() bool { return h.PendingIBIs() == 0 })
	close(release)

	if v := <-got; v != 1 {
		t.Errorf("first payload = %d, want 1", v)
	}
	eventually(t, "slot recycled", func() bool {
		data, err := devDataOf(dev)
		return err == nil && data.ibiPool.Free() == 1
	})

	if err := tg.RaiseIBI([]byte{3}); err != nil {
		t.Fatalf("RaiseIBI failed: %v", err)
	}
	select {
	case v := <-got:
		if v != 3 {
			t.Errorf("payload = %d, want 3 (dropped IBI delivered?)", v)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("IBI after recycle not delivered")
	}
}
