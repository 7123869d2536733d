package i3c

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"periph.io/x/conn/v3/physic"

	"github.com/ardnew/softi3c/pkg"
)

// BusConfig holds the static configuration of a bus.
type BusConfig struct {
	Mode    BusMode
	SCLRate physic.Frequency // I3C push-pull rate; zero selects 12.5 MHz
}

// Bus manages one I3C bus: its master, its address space and the devices
// discovered on it.
type Bus struct {
	master MasterController
	cfg    BusConfig

	addrs      *AddrSlots
	masterAddr uint8

	// Discovered devices
	devices    []*Device
	i2cDevices []*I2CDevice

	// State
	initialized bool
	mutex       sync.RWMutex

	// Event channel
	deviceAdded chan *Device

	// Callbacks
	onDeviceAdd func(*Device)
}

// MaxDevices bounds the device notification queue.
const MaxDevices = 32

// NewBus creates a bus driven by master.
func NewBus(master MasterController, cfg BusConfig) *Bus {
	if cfg.SCLRate == 0 {
		cfg.SCLRate = TypicalI3CSCLRate * physic.Hertz
	}
	return &Bus{
		master:      master,
		cfg:         cfg,
		addrs:       NewAddrSlots(),
		deviceAdded: make(chan *Device, MaxDevices),
	}
}

// Mode returns the bus mode.
func (b *Bus) Mode() BusMode { return b.cfg.Mode }

// SCLRate returns the I3C SCL rate.
func (b *Bus) SCLRate() physic.Frequency { return b.cfg.SCLRate }

// Master returns the bus master.
func (b *Bus) Master() MasterController { return b.master }

// FreeAddr returns the first free address at or above start.
func (b *Bus) FreeAddr(start uint8) (uint8, error) {
	b.mutex.RLock()
	defer b.mutex.RUnlock()
	return b.addrs.FreeAddr(start)
}

// AddrStatus returns the usage of addr.
func (b *Bus) AddrStatus(addr uint8) AddrSlotStatus {
	b.mutex.RLock()
	defer b.mutex.RUnlock()
	return b.addrs.Status(addr)
}

// SetMasterAddr records the master's own dynamic address.
func (b *Bus) SetMasterAddr(addr uint8) error {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	if st := b.addrs.Status(addr); st != AddrSlotFree {
		return fmt.Errorf("master address 0x%02x is %s: %w", addr, st, pkg.ErrInvalidParameter)
	}
	if b.masterAddr != 0 {
		b.addrs.Set(b.masterAddr, AddrSlotFree)
	}
	b.masterAddr = addr
	b.addrs.Set(addr, AddrSlotI3CDev)
	return nil
}

// MasterAddr returns the master's own dynamic address.
func (b *Bus) MasterAddr() uint8 {
	b.mutex.RLock()
	defer b.mutex.RUnlock()
	return b.masterAddr
}

// SetOnDeviceAdd sets the callback for newly discovered devices.
func (b *Bus) SetOnDeviceAdd(cb func(*Device)) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.onDeviceAdd = cb
}

// WaitDevice blocks until a device is discovered.
func (b *Bus) WaitDevice(ctx context.Context) (*Device, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case dev := <-b.deviceAdded:
		return dev, nil
	}
}

// Devices returns all I3C devices on the bus.
func (b *Bus) Devices() []*Device {
	b.mutex.RLock()
	defer b.mutex.RUnlock()
	result := make([]*Device, len(b.devices))
	copy(result, b.devices)
	return result
}

// Device returns the I3C device at addr, or nil.
func (b *Bus) Device(addr uint8) *Device {
	b.mutex.RLock()
	defer b.mutex.RUnlock()
	for _, d := range b.devices {
		if d.Addr() == addr {
			return d
		}
	}
	return nil
}

// I2CDevice returns the legacy device at addr, or nil.
func (b *Bus) I2CDevice(addr uint16) *I2CDevice {
	b.mutex.RLock()
	defer b.mutex.RUnlock()
	for _, d := range b.i2cDevices {
		if d.Addr == addr {
			return d
		}
	}
	return nil
}

// RegisterI2C declares a legacy I2C device. Before Init the device is
// attached during bus initialization; afterwards it is attached at once.
func (b *Bus) RegisterI2C(addr uint16, lvr uint8) (*I2CDevice, error) {
	if addr > MaxAddr {
		return nil, pkg.ErrInvalidParameter
	}
	b.mutex.Lock()
	defer b.mutex.Unlock()
	if !b.cfg.Mode.Mixed() {
		return nil, fmt.Errorf("i2c device on %s bus: %w", b.cfg.Mode, pkg.ErrNotSupported)
	}
	if st := b.addrs.Status(uint8(addr)); st != AddrSlotFree {
		return nil, fmt.Errorf("address 0x%02x is %s: %w", addr, st, pkg.ErrBusy)
	}
	dev := NewI2CDevice(addr, lvr)
	dev.bus = b
	if b.initialized {
		if err := b.master.AttachI2CDev(dev); err != nil {
			return nil, err
		}
	}
	b.addrs.Set(uint8(addr), AddrSlotI2CDev)
	b.i2cDevices = append(b.i2cDevices, dev)
	return dev, nil
}

// Init brings the bus up: master initialization, reset of all dynamic
// addresses, events disabled, legacy devices attached, then DAA.
func (b *Bus) Init(ctx context.Context) error {
	b.mutex.Lock()
	if b.initialized {
		b.mutex.Unlock()
		return pkg.ErrAlreadyRunning
	}
	b.mutex.Unlock()

	if err := b.master.BusInit(ctx, b); err != nil {
		return err
	}

	// Nobody may be listening yet; a NACK here is not a failure.
	if err := b.sendCCC(ctx, NewBroadcastCCC(CCCRSTDAABroadcast, nil)); err != nil &&
		!errors.Is(err, pkg.ErrNoDevice) {
		return fmt.Errorf("RSTDAA: %w", err)
	}
	if err := b.sendCCC(ctx, NewBroadcastCCC(CCCDISECBroadcast, []byte{EventAll})); err != nil &&
		!errors.Is(err, pkg.ErrNoDevice) {
		return fmt.Errorf("DISEC: %w", err)
	}

	b.mutex.Lock()
	for _, dev := range b.i2cDevices {
		if err := b.master.AttachI2CDev(dev); err != nil {
			b.mutex.Unlock()
			return fmt.Errorf("attach i2c 0x%02x: %w", dev.Addr, err)
		}
	}
	b.initialized = true
	b.mutex.Unlock()

	pkg.LogInfo(pkg.ComponentBus, "bus initialized",
		"mode", b.cfg.Mode.String(),
		"scl", b.cfg.SCLRate.String(),
		"masterAddr", b.MasterAddr())

	if _, err := b.DoDAA(ctx); err != nil {
		return err
	}
	return nil
}

// DoDAA runs a dynamic address assignment round and returns the number of
// devices that acquired an address.
func (b *Bus) DoDAA(ctx context.Context) (int, error) {
	n, err := b.master.DAA(ctx)
	if err != nil {
		pkg.LogWarn(pkg.ComponentBus, "DAA failed", "error", err)
		return n, err
	}
	return n, nil
}

// AddI3CDevice attaches a device that acquired addr during DAA and reads
// its identity.
func (b *Bus) AddI3CDevice(ctx context.Context, addr uint8) error {
	dev := newDevice(b, DeviceInfo{DynAddr: addr})
	if err := b.master.AttachI3CDev(dev); err != nil {
		return err
	}

	b.mutex.Lock()
	b.addrs.Set(addr, AddrSlotI3CDev)
	b.mutex.Unlock()

	if err := b.retrieveDevInfo(ctx, dev); err != nil {
		b.master.DetachI3CDev(dev)
		b.mutex.Lock()
		b.addrs.Set(addr, AddrSlotFree)
		b.mutex.Unlock()
		return err
	}

	b.mutex.Lock()
	b.devices = append(b.devices, dev)
	cb := b.onDeviceAdd
	b.mutex.Unlock()

	select {
	case b.deviceAdded <- dev:
	default:
	}
	if cb != nil {
		cb(dev)
	}

	info := dev.Info()
	pkg.LogInfo(pkg.ComponentBus, "device added",
		pkg.DeviceAttrs(addr, info.PID, info.BCR, info.DCR)...)
	return nil
}

// retrieveDevInfo reads the identity of a freshly addressed device.
func (b *Bus) retrieveDevInfo(ctx context.Context, dev *Device) error {
	info := dev.Info()
	addr := info.DynAddr

	var pid [6]byte
	if err := b.getCCC(ctx, CCCGETPID, addr, pid[:]); err != nil {
		return fmt.Errorf("GETPID 0x%02x: %w", addr, err)
	}
	info.PID = 0
	for _, v := range pid {
		info.PID = info.PID<<8 | uint64(v)
	}

	var one [1]byte
	if err := b.getCCC(ctx, CCCGETBCR, addr, one[:]); err != nil {
		return fmt.Errorf("GETBCR 0x%02x: %w", addr, err)
	}
	info.BCR = one[0]
	if err := b.getCCC(ctx, CCCGETDCR, addr, one[:]); err != nil {
		return fmt.Errorf("GETDCR 0x%02x: %w", addr, err)
	}
	info.DCR = one[0]

	if info.BCR&BCRMaxDataSpeedLimit != 0 {
		var mxds [2]byte
		if err := b.getCCC(ctx, CCCGETMXDS, addr, mxds[:]); err != nil {
			return fmt.Errorf("GETMXDS 0x%02x: %w", addr, err)
		}
		info.MaxWriteDS = mxds[0]
		info.MaxReadDS = mxds[1]
	}
	if info.BCR&BCRIBIPayload != 0 {
		info.MaxIBILen = 1
	}

	// Optional on many targets.
	var mrl [3]byte
	if err := b.getCCC(ctx, CCCGETMRL, addr, mrl[:]); err == nil {
		info.MaxReadLen = binary.BigEndian.Uint16(mrl[:2])
		if info.BCR&BCRIBIPayload != 0 && mrl[2] != 0 {
			info.MaxIBILen = int(mrl[2])
		}
	}
	var mwl [2]byte
	if err := b.getCCC(ctx, CCCGETMWL, addr, mwl[:]); err == nil {
		info.MaxWriteLen = binary.BigEndian.Uint16(mwl[:])
	}

	if info.BCR&BCRHDRCapable != 0 {
		if err := b.getCCC(ctx, CCCGETHDRCAP, addr, one[:]); err == nil {
			info.HDRCap = one[0]
		}
	}

	dev.SetInfo(info)
	return nil
}

// ChangeAddress moves dev to newAddr with SETNEWDA.
func (b *Bus) ChangeAddress(ctx context.Context, dev *Device, newAddr uint8) error {
	if st := b.AddrStatus(newAddr); st != AddrSlotFree {
		return fmt.Errorf("address 0x%02x is %s: %w", newAddr, st, pkg.ErrBusy)
	}
	info := dev.Info()
	old := info.DynAddr
	cmd := NewDirectCCC(CCCSETNEWDA, old, false, []byte{newAddr << 1})
	if err := b.sendCCC(ctx, cmd); err != nil {
		return fmt.Errorf("SETNEWDA 0x%02x->0x%02x: %w", old, newAddr, err)
	}
	info.DynAddr = newAddr
	dev.SetInfo(info)
	if err := b.master.ReattachI3CDev(dev, old); err != nil {
		return err
	}
	b.mutex.Lock()
	b.addrs.Set(old, AddrSlotFree)
	b.addrs.Set(newAddr, AddrSlotI3CDev)
	b.mutex.Unlock()
	return nil
}

// RemoveDevice detaches dev and releases its address.
func (b *Bus) RemoveDevice(dev *Device) {
	if _, ok := dev.IBISetup(); ok {
		if err := dev.DisableIBI(context.Background()); err != nil {
			pkg.LogWarn(pkg.ComponentBus, "disable IBI on removal failed",
				"dev", dev.String(), "error", err)
		}
		dev.forceFreeIBI()
	}
	b.master.DetachI3CDev(dev)

	b.mutex.Lock()
	defer b.mutex.Unlock()
	for i, d := range b.devices {
		if d == dev {
			b.devices = append(b.devices[:i], b.devices[i+1:]...)
			break
		}
	}
	b.addrs.Set(dev.Addr(), AddrSlotFree)
}

// Cleanup detaches every device and disables the master.
func (b *Bus) Cleanup() {
	for _, dev := range b.Devices() {
		b.RemoveDevice(dev)
	}
	b.mutex.Lock()
	for _, dev := range b.i2cDevices {
		b.master.DetachI2CDev(dev)
		b.addrs.Set(uint8(dev.Addr), AddrSlotFree)
	}
	b.i2cDevices = nil
	b.initialized = false
	b.mutex.Unlock()

	b.master.BusCleanup()
	pkg.LogInfo(pkg.ComponentBus, "bus cleaned up")
}

// Enable enables the given events on every device (broadcast ENEC).
func (b *Bus) Enable(ctx context.Context, events uint8) error {
	return b.sendCCC(ctx, NewBroadcastCCC(CCCENECBroadcast, []byte{events}))
}

// Disable disables the given events on every device (broadcast DISEC).
func (b *Bus) Disable(ctx context.Context, events uint8) error {
	return b.sendCCC(ctx, NewBroadcastCCC(CCCDISECBroadcast, []byte{events}))
}

// SendCCC sends a command after checking the master supports it.
func (b *Bus) SendCCC(ctx context.Context, cmd *CCCCmd) error {
	return b.sendCCC(ctx, cmd)
}

func (b *Bus) sendCCC(ctx context.Context, cmd *CCCCmd) error {
	if !b.master.SupportsCCC(cmd) {
		return fmt.Errorf("%s: %w", CCCName(cmd.ID), pkg.ErrNotSupported)
	}
	return b.master.SendCCC(ctx, cmd)
}

func (b *Bus) getCCC(ctx context.Context, id uint8, addr uint8, buf []byte) error {
	cmd := NewDirectCCC(id, addr, true, buf)
	if err := b.sendCCC(ctx, cmd); err != nil {
		return err
	}
	if cmd.Dests[0].Len != len(buf) {
		return fmt.Errorf("%s returned %d of %d bytes: %w",
			CCCName(id), cmd.Dests[0].Len, len(buf), pkg.ErrProtocol)
	}
	return nil
}

// I2C returns a periph.io I2C bus view of the legacy devices.
func (b *Bus) I2C() *I2CBus {
	return &I2CBus{bus: b}
}
