package i3c

import (
	"context"

	"periph.io/x/conn/v3/physic"
)

// MasterController is the contract a bus master driver exposes to the bus.
//
// Implementations serialize hardware access internally; all methods are
// safe for concurrent use. Methods that touch the bus block until the
// transfer completes or times out.
type MasterController interface {
	// Bus lifecycle

	// BusInit configures timing for the bus mode, claims the master's own
	// dynamic address and enables the controller.
	BusInit(ctx context.Context, bus BusModel) error

	// BusCleanup disables the controller.
	BusCleanup()

	// Device management

	AttachI3CDev(dev *Device) error
	ReattachI3CDev(dev *Device, oldAddr uint8) error
	DetachI3CDev(dev *Device)

	// DAA runs dynamic address assignment and reports every newly
	// addressed device through BusModel.AddI3CDevice. It returns the
	// number of devices that acquired an address.
	DAA(ctx context.Context) (int, error)

	// CCC

	SupportsCCC(cmd *CCCCmd) bool
	SendCCC(ctx context.Context, cmd *CCCCmd) error

	// Transfers

	PrivXfers(ctx context.Context, dev *Device, xfers []PrivXfer) error

	AttachI2CDev(dev *I2CDevice) error
	DetachI2CDev(dev *I2CDevice)
	I2CXfers(ctx context.Context, dev *I2CDevice, msgs []I2CMsg) error
}

// IBIController is implemented by masters whose hardware can receive
// in-band interrupts.
type IBIController interface {
	RequestIBI(dev *Device, setup *IBISetup) error
	FreeIBI(dev *Device)
	EnableIBI(ctx context.Context, dev *Device) error
	DisableIBI(ctx context.Context, dev *Device) error
	RecycleIBISlot(dev *Device, slot *IBISlot)
}

// BusModel is the view of the bus a master needs while initializing the
// bus and assigning addresses.
type BusModel interface {
	Mode() BusMode
	SCLRate() physic.Frequency

	// FreeAddr returns the first free address at or above start.
	FreeAddr(start uint8) (uint8, error)

	// SetMasterAddr records the master's own dynamic address.
	SetMasterAddr(addr uint8) error

	// AddI3CDevice registers a device that acquired addr during DAA.
	AddI3CDevice(ctx context.Context, addr uint8) error
}
