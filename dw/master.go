package dw

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ardnew/softi3c/hal"
	"github.com/ardnew/softi3c/hal/regs"
	"github.com/ardnew/softi3c/i3c"
	"github.com/ardnew/softi3c/pkg"
)

// Default timeouts.
const (
	DefaultXferTimeout  = time.Second
	DefaultResetTimeout = time.Second
)

// Config configures a Controller.
type Config struct {
	// XferTimeout bounds how long a caller waits for a transfer.
	XferTimeout time.Duration

	// ResetTimeout bounds the wait for RESET_CTRL to self-clear.
	ResetTimeout time.Duration

	// Variant selects integration quirks. Nil means Generic.
	Variant Variant

	// DynamicAddr is the master's own dynamic address. Zero takes the
	// first free address on the bus.
	DynamicAddr uint8
}

// DefaultConfig returns the default controller configuration.
func DefaultConfig() Config {
	return Config{
		XferTimeout:  DefaultXferTimeout,
		ResetTimeout: DefaultResetTimeout,
		Variant:      Generic{},
	}
}

// Controller is the I3C master engine. It implements
// [i3c.MasterController] and [i3c.IBIController].
type Controller struct {
	hal hal.HAL
	cfg Config

	// Discovered at Start
	maxDevs   int
	cmdDepth  int
	dataDepth int
	datStart  uint32

	// Transfer queue, guarded by xferMu
	xferMu  sync.Mutex
	cur     *xfer
	pending []*xfer

	// Device table, guarded by devsMu
	devsMu sync.Mutex
	devs   []datSlot

	// Bus view and DAA progress, guarded by mutex
	mutex    sync.RWMutex
	bus      i3c.BusModel
	daaState DAAState
	running  bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

var (
	_ i3c.MasterController = (*Controller)(nil)
	_ i3c.IBIController    = (*Controller)(nil)
)

// New creates a controller on top of a HAL.
func New(h hal.HAL, cfg Config) *Controller {
	if cfg.XferTimeout <= 0 {
		cfg.XferTimeout = DefaultXferTimeout
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = DefaultResetTimeout
	}
	if cfg.Variant == nil {
		cfg.Variant = Generic{}
	}
	return &Controller{hal: h, cfg: cfg}
}

// HAL returns the controller's hardware abstraction.
func (c *Controller) HAL() hal.HAL { return c.hal }

// Config returns the controller configuration.
func (c *Controller) Config() Config { return c.cfg }

// MaxDevices returns the number of DAT entries.
func (c *Controller) MaxDevices() int { return c.maxDevs }

// CmdDepth returns the command queue depth.
func (c *Controller) CmdDepth() int { return c.cmdDepth }

// DataDepth returns the TX/RX data FIFO depth in 32-bit words.
func (c *Controller) DataDepth() int { return c.dataDepth }

// IsRunning reports whether the controller is started.
func (c *Controller) IsRunning() bool {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.running
}

// Start initializes the HAL, reads the controller's capabilities and
// starts the interrupt goroutine.
func (c *Controller) Start(ctx context.Context) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.running {
		return pkg.ErrAlreadyRunning
	}

	if err := c.hal.Init(ctx); err != nil {
		return fmt.Errorf("hal init: %w", err)
	}
	if err := c.readGeometry(); err != nil {
		return err
	}

	irqCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.running = true

	c.wg.Add(1)
	go c.irqLoop(irqCtx)

	pkg.LogInfo(pkg.ComponentMaster, "controller started",
		"variant", c.cfg.Variant.String(),
		"maxDevs", c.maxDevs,
		"cmdDepth", c.cmdDepth,
		"dataDepth", c.dataDepth)
	return nil
}

// Stop disables the controller and stops the interrupt goroutine. Callers
// blocked in transfers observe a timeout.
func (c *Controller) Stop() error {
	c.mutex.Lock()
	if !c.running {
		c.mutex.Unlock()
		return pkg.ErrNotRunning
	}
	c.running = false
	c.cancel()
	c.mutex.Unlock()

	c.wg.Wait()
	c.disable()

	pkg.LogInfo(pkg.ComponentMaster, "controller stopped")
	return nil
}

// Close stops the controller if needed and closes the HAL.
func (c *Controller) Close() error {
	if c.IsRunning() {
		_ = c.Stop()
	}
	return c.hal.Close()
}

// readGeometry resets the block and reads its queue and table geometry.
func (c *Controller) readGeometry() error {
	c.hal.Write32(regs.ResetCtrl, regs.ResetSoft)
	if err := c.pollReset(); err != nil {
		return fmt.Errorf("soft reset: %w", err)
	}

	c.cmdDepth = regs.QueueStatusCmd(c.hal.Read32(regs.QueueStatusLevel))
	c.dataDepth = regs.DataBufferStatusTx(c.hal.Read32(regs.DataBufferStatusLevel))

	ptr := c.hal.Read32(regs.DeviceAddrTablePtr)
	c.maxDevs = regs.DATDepth(ptr)
	c.datStart = regs.DATStart(ptr)
	if c.maxDevs <= 0 || c.maxDevs > i3c.MaxDevices {
		return fmt.Errorf("device address table depth %d: %w", c.maxDevs, pkg.ErrNotSupported)
	}
	if c.cmdDepth <= 0 || c.dataDepth <= 0 {
		return fmt.Errorf("queue depth %d/%d: %w", c.cmdDepth, c.dataDepth, pkg.ErrNotSupported)
	}

	c.devsMu.Lock()
	c.devs = make([]datSlot, c.maxDevs)
	for i := 0; i < c.maxDevs; i++ {
		c.hal.Write32(regs.DATLoc(c.datStart, i), 0)
	}
	c.devsMu.Unlock()

	c.xferMu.Lock()
	c.cur = nil
	c.pending = nil
	c.xferMu.Unlock()

	c.hal.Write32(regs.IntrStatus, regs.IntrAll)
	c.hal.Write32(regs.IntrStatusEn, regs.IntrMasterMask)
	c.hal.Write32(regs.IntrSignalEn, regs.IntrMasterMask)

	thld := c.hal.Read32(regs.QueueThldCtrl)
	thld &^= regs.QueueThldRespBufMask | regs.QueueThldIBIStatMask | regs.QueueThldIBIDataMask
	thld |= regs.QueueThldIBIStat(1) | regs.QueueThldIBIData(31)
	c.hal.Write32(regs.QueueThldCtrl, thld)

	thld = c.hal.Read32(regs.DataBufferThldCtrl)
	thld &^= regs.DataBufThldRxBuf
	c.hal.Write32(regs.DataBufferThldCtrl, thld)

	c.hal.Write32(regs.IBISIRReqReject, regs.IBIReqRejectAll)
	c.hal.Write32(regs.IBIMRReqReject, regs.IBIReqRejectAll)
	return nil
}

func (c *Controller) enable() {
	c.hal.Write32(regs.DeviceCtrl, c.hal.Read32(regs.DeviceCtrl)|regs.DevCtrlEnable)
}

func (c *Controller) disable() {
	c.hal.Write32(regs.DeviceCtrl, c.hal.Read32(regs.DeviceCtrl)&^regs.DevCtrlEnable)
}

// busModel returns the bus bound by BusInit.
func (c *Controller) busModel() (i3c.BusModel, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	if c.bus == nil {
		return nil, fmt.Errorf("bus not initialized: %w", pkg.ErrNotRunning)
	}
	return c.bus, nil
}

// BusInit programs timing for the bus mode, claims the master's own
// dynamic address and enables the controller.
func (c *Controller) BusInit(ctx context.Context, bus i3c.BusModel) error {
	if !c.IsRunning() {
		return pkg.ErrNotRunning
	}
	if err := c.cfg.Variant.Init(c.hal); err != nil {
		return fmt.Errorf("%s init: %w", c.cfg.Variant, err)
	}

	t, err := ComputeTiming(c.hal.CoreClock(), bus.SCLRate(), bus.Mode())
	if err != nil {
		return err
	}
	c.applyTiming(t)

	addr := c.cfg.DynamicAddr
	if addr == 0 {
		if addr, err = bus.FreeAddr(0); err != nil {
			return fmt.Errorf("master address: %w", err)
		}
	}
	if err := bus.SetMasterAddr(addr); err != nil {
		return fmt.Errorf("master address 0x%02x: %w", addr, err)
	}
	c.hal.Write32(regs.DeviceAddr, regs.DevAddrDynamicAddrValid|regs.DevAddrDynamic(addr))

	c.hal.Write32(regs.IBISIRReqReject, regs.IBIReqRejectAll)
	c.hal.Write32(regs.IBIMRReqReject, regs.IBIReqRejectAll)

	// Hot-join is not supported; NACK every request.
	c.hal.Write32(regs.DeviceCtrl, c.hal.Read32(regs.DeviceCtrl)|regs.DevCtrlHotJoinNACK)

	c.mutex.Lock()
	c.bus = bus
	c.daaState = DAAIdle
	c.mutex.Unlock()

	c.enable()

	pkg.LogInfo(pkg.ComponentMaster, "bus initialized",
		"mode", bus.Mode().String(),
		pkg.AddrAttr("addr", addr))
	return nil
}

// BusCleanup disables the controller.
func (c *Controller) BusCleanup() {
	c.disable()
	c.mutex.Lock()
	c.bus = nil
	c.mutex.Unlock()
}

// irqLoop services controller interrupts until ctx is cancelled.
func (c *Controller) irqLoop(ctx context.Context) {
	defer c.wg.Done()
	irq := c.hal.Interrupts()
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-irq:
			if !ok {
				pkg.LogWarn(pkg.ComponentMaster, "interrupt source closed")
				return
			}
			c.handleIRQ()
		}
	}
}

// handleIRQ services one interrupt assertion. It reports whether the
// interrupt was ours.
func (c *Controller) handleIRQ() bool {
	status := c.hal.Read32(regs.IntrStatus)
	if status&c.hal.Read32(regs.IntrStatusEn) == 0 {
		c.hal.Write32(regs.IntrStatus, regs.IntrAll)
		return false
	}

	c.xferMu.Lock()
	c.endXferLocked(status)
	if status&regs.IntrTransferErr != 0 {
		c.hal.Write32(regs.IntrStatus, regs.IntrTransferErr)
	}
	c.xferMu.Unlock()

	if status&regs.IntrIBIThld != 0 {
		c.handleIBIs()
	}
	return true
}
