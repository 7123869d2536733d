package dw

import (
	"fmt"

	"github.com/ardnew/softi3c/hal"
	"github.com/ardnew/softi3c/hal/regs"
	"github.com/ardnew/softi3c/i3c"
	"github.com/ardnew/softi3c/pkg"
)

// Variant captures the differences between integrations of the
// controller. It is selected once, at construction.
type Variant interface {
	String() string

	// Init runs before the bus clocks are configured.
	Init(h hal.HAL) error

	// SetDATIBI adjusts a DAT entry when IBIs are enabled or disabled for
	// a device and returns the entry to program.
	SetDATIBI(info i3c.DeviceInfo, enable bool, entry uint32) uint32
}

// Generic is the plain controller with no integration quirks.
type Generic struct{}

// String implements Variant.
func (Generic) String() string { return "generic" }

// Init implements Variant.
func (Generic) Init(hal.HAL) error { return nil }

// SetDATIBI implements Variant.
func (Generic) SetDATIBI(_ i3c.DeviceInfo, _ bool, entry uint32) uint32 { return entry }

// AST2600 is the controller as integrated in the ASPEED AST2600.
type AST2600 struct {
	// SDATxHold is the SDA transmit hold time in core clocks (1-7).
	// Zero selects the minimum.
	SDATxHold uint8
}

// String implements Variant.
func (AST2600) String() string { return "ast2600" }

// Init programs the SDA hold time.
func (v AST2600) Init(h hal.HAL) error {
	hold := uint32(v.SDATxHold)
	if hold == 0 {
		hold = regs.SDATxHoldMin
	}
	if hold > regs.SDATxHoldMax {
		return fmt.Errorf("sda tx hold %d: %w", hold, pkg.ErrInvalidParameter)
	}
	reg := h.Read32(regs.SDAHoldSwitchDlyTime)
	reg &^= regs.SDATxHoldMask
	reg |= hold << regs.SDATxHoldShift
	h.Write32(regs.SDAHoldSwitchDlyTime, reg)
	return nil
}

// SetDATIBI forces PEC on IBIs with payload: the AST2600 locks up on
// 4n+1-byte IBIs without it.
func (AST2600) SetDATIBI(info i3c.DeviceInfo, enable bool, entry uint32) uint32 {
	if enable && info.BCR&i3c.BCRIBIPayload != 0 {
		entry |= regs.DATIBIPEC
	}
	return entry
}
