package i3c

import (
	"context"
	"fmt"
	"sync"

	"github.com/ardnew/softi3c/pkg"
)

// DeviceInfo describes an I3C device as seen by the bus master.
type DeviceInfo struct {
	DynAddr     uint8  // Dynamic address, 0 if unassigned
	StaticAddr  uint8  // Static address, 0 if none
	PID         uint64 // 48-bit provisioned ID
	BCR         uint8  // Bus characteristics register
	DCR         uint8  // Device characteristics register
	MaxReadDS   uint8  // Max read data speed (GETMXDS)
	MaxWriteDS  uint8  // Max write data speed (GETMXDS)
	MaxReadLen  uint16 // GETMRL
	MaxWriteLen uint16 // GETMWL
	MaxIBILen   int    // Max IBI payload the device may send
	HDRCap      uint8  // GETHDRCAP
}

// Addr returns the address the device currently answers to.
func (i *DeviceInfo) Addr() uint8 {
	if i.DynAddr != 0 {
		return i.DynAddr
	}
	return i.StaticAddr
}

// Device represents an I3C device attached to a bus.
type Device struct {
	bus *Bus

	info  DeviceInfo
	mutex sync.RWMutex

	// Controller-private per-device state (DAT index, IBI pool).
	masterData any

	ibi *deviceIBI
}

// NewDevice creates a device descriptor that is not yet part of a bus.
// Controllers and tests use it; devices discovered on a bus are created by
// the bus itself.
func NewDevice(info DeviceInfo) *Device {
	return &Device{info: info}
}

func newDevice(bus *Bus, info DeviceInfo) *Device {
	d := NewDevice(info)
	d.bus = bus
	return d
}

// Info returns a copy of the device information.
func (d *Device) Info() DeviceInfo {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	return d.info
}

// Addr returns the device's current address.
func (d *Device) Addr() uint8 {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	return d.info.Addr()
}

// SetInfo replaces the device information.
func (d *Device) SetInfo(info DeviceInfo) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.info = info
}

// MasterData returns the controller-private state attached to the device.
func (d *Device) MasterData() any {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	return d.masterData
}

// SetMasterData attaches controller-private state to the device.
func (d *Device) SetMasterData(v any) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.masterData = v
}

// String returns a short description of the device.
func (d *Device) String() string {
	info := d.Info()
	return fmt.Sprintf("i3c-%012x@0x%02x", info.PID, info.Addr())
}

// PrivXfers performs private SDR transfers with the device.
func (d *Device) PrivXfers(ctx context.Context, xfers []PrivXfer) error {
	if d.bus == nil {
		return pkg.ErrNotRunning
	}
	return d.bus.master.PrivXfers(ctx, d, xfers)
}

// WriteRead writes w then reads into r in a single transfer.
// It returns the number of bytes the device actually returned.
func (d *Device) WriteRead(ctx context.Context, w, r []byte) (int, error) {
	xfers := make([]PrivXfer, 0, 2)
	if len(w) > 0 {
		xfers = append(xfers, PrivXfer{Data: w})
	}
	if len(r) > 0 {
		xfers = append(xfers, PrivXfer{RnW: true, Data: r})
	}
	if len(xfers) == 0 {
		return 0, nil
	}
	if err := d.PrivXfers(ctx, xfers); err != nil {
		return 0, err
	}
	if len(r) > 0 {
		return xfers[len(xfers)-1].Len, nil
	}
	return 0, nil
}

// PrivXfer is one message of a private I3C transfer.
// For writes Data holds the payload; for reads Data is the receive buffer
// and Len is set to the number of bytes received, which may be fewer than
// len(Data).
type PrivXfer struct {
	RnW  bool
	Data []byte
	Len  int
}

// I2CDevice represents a legacy I2C device on a mixed bus.
type I2CDevice struct {
	bus *Bus

	Addr uint16
	LVR  uint8 // Legacy virtual register

	mutex      sync.RWMutex
	masterData any
}

// NewI2CDevice creates a legacy device descriptor that is not yet part of
// a bus.
func NewI2CDevice(addr uint16, lvr uint8) *I2CDevice {
	return &I2CDevice{Addr: addr, LVR: lvr}
}

// MasterData returns the controller-private state attached to the device.
func (d *I2CDevice) MasterData() any {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	return d.masterData
}

// SetMasterData attaches controller-private state to the device.
func (d *I2CDevice) SetMasterData(v any) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.masterData = v
}

// I2CMsg is one message of a legacy I2C transfer.
// For reads Len is set to the number of bytes received.
type I2CMsg struct {
	Addr uint16
	Read bool
	Data []byte
	Len  int
}
