package dw

import (
	"fmt"

	"github.com/ardnew/softi3c/hal/regs"
	"github.com/ardnew/softi3c/i3c"
	"github.com/ardnew/softi3c/pkg"
)

// datSlot mirrors one device address table entry.
type datSlot struct {
	used   bool
	legacy bool
	addr   uint8

	// Device subscribed to IBIs through this slot.
	ibiDev *i3c.Device
}

// devData is the controller's per-device state, stored as the device's
// master data.
type devData struct {
	index   int
	ibiPool *i3c.IBIPool
}

// Slot is a snapshot of one DAT entry.
type Slot struct {
	Index  int
	Used   bool
	Legacy bool
	Addr   uint8
}

// Slots returns a snapshot of the device address table.
func (c *Controller) Slots() []Slot {
	c.devsMu.Lock()
	defer c.devsMu.Unlock()
	out := make([]Slot, len(c.devs))
	for i, s := range c.devs {
		out[i] = Slot{Index: i, Used: s.used, Legacy: s.legacy, Addr: s.addr}
	}
	return out
}

// FreeMask returns a bitmap with one set bit per free DAT entry.
func (c *Controller) FreeMask() uint32 {
	c.devsMu.Lock()
	defer c.devsMu.Unlock()
	return c.freeMaskLocked()
}

func (c *Controller) freeMaskLocked() uint32 {
	var m uint32
	for i, s := range c.devs {
		if !s.used {
			m |= 1 << i
		}
	}
	return m
}

// freePosLocked returns the lowest free DAT index, or -1.
func (c *Controller) freePosLocked() int {
	for i, s := range c.devs {
		if !s.used {
			return i
		}
	}
	return -1
}

// addrPosLocked returns the DAT index holding addr, or -1.
func (c *Controller) addrPosLocked(addr uint8) int {
	for i, s := range c.devs {
		if s.used && s.addr == addr {
			return i
		}
	}
	return -1
}

func (c *Controller) datWrite(idx int, entry uint32) {
	c.hal.Write32(regs.DATLoc(c.datStart, idx), entry)
}

func (c *Controller) datRead(idx int) uint32 {
	return c.hal.Read32(regs.DATLoc(c.datStart, idx))
}

func datEntry(addr uint8, legacy bool) uint32 {
	if legacy {
		return regs.DATLegacyI2C | regs.DATStaticAddr(addr)
	}
	return regs.DATDynamicAddr(withParity(addr))
}

// datAttachLocked claims the lowest free slot for addr.
func (c *Controller) datAttachLocked(addr uint8, legacy bool) (int, error) {
	if c.addrPosLocked(addr) >= 0 {
		return -1, fmt.Errorf("address 0x%02x already attached: %w", addr, pkg.ErrBusy)
	}
	pos := c.freePosLocked()
	if pos < 0 {
		return -1, fmt.Errorf("device address table full: %w", pkg.ErrNoResources)
	}
	c.devs[pos] = datSlot{used: true, legacy: legacy, addr: addr}
	c.datWrite(pos, datEntry(addr, legacy))

	pkg.LogDebug(pkg.ComponentDAT, "slot attached",
		"index", pos,
		pkg.AddrAttr("addr", addr),
		"legacy", legacy)
	return pos, nil
}

// datReattachLocked records a new address for the device in slot idx,
// moving it to a lower free slot when one exists. It returns the slot the
// device ends up in.
func (c *Controller) datReattachLocked(idx int, addr uint8) (int, error) {
	if other := c.addrPosLocked(addr); other >= 0 && other != idx {
		return idx, fmt.Errorf("address 0x%02x already attached: %w", addr, pkg.ErrBusy)
	}

	flags := c.datRead(idx) & (regs.DATSIRReject | regs.DATIBIMDB | regs.DATIBIPEC)
	if pos := c.freePosLocked(); pos >= 0 && pos < idx {
		c.datWrite(idx, 0)
		c.devs[pos] = c.devs[idx]
		c.devs[idx] = datSlot{}

		// An enabled IBI follows the device to its new slot.
		mask := c.hal.Read32(regs.IBISIRReqReject)
		if mask&(1<<idx) == 0 {
			mask |= 1 << idx
			mask &^= 1 << pos
			c.hal.Write32(regs.IBISIRReqReject, mask)
		}

		pkg.LogDebug(pkg.ComponentDAT, "slot moved", "from", idx, "to", pos)
		idx = pos
	}
	c.devs[idx].addr = addr
	c.datWrite(idx, datEntry(addr, false)|flags)
	return idx, nil
}

// datDetachLocked releases slot idx.
func (c *Controller) datDetachLocked(idx int) {
	if idx < 0 || idx >= len(c.devs) {
		return
	}
	c.datWrite(idx, 0)
	c.devs[idx] = datSlot{}
	c.setSIRRejectLocked(idx, true)
	pkg.LogDebug(pkg.ComponentDAT, "slot detached", "index", idx)
}

// devDataOf returns the controller state attached to dev.
func devDataOf(dev *i3c.Device) (*devData, error) {
	if dev == nil {
		return nil, pkg.ErrInvalidParameter
	}
	data, ok := dev.MasterData().(*devData)
	if !ok || data == nil {
		return nil, fmt.Errorf("%s not attached: %w", dev, pkg.ErrNoDevice)
	}
	return data, nil
}

// devIndex returns the DAT slot of an attached device.
func (c *Controller) devIndex(dev *i3c.Device) (int, error) {
	data, err := devDataOf(dev)
	if err != nil {
		return -1, err
	}
	c.devsMu.Lock()
	defer c.devsMu.Unlock()
	return data.index, nil
}

// AttachI3CDev places dev in the lowest free slot at its current address.
func (c *Controller) AttachI3CDev(dev *i3c.Device) error {
	if dev == nil {
		return pkg.ErrInvalidParameter
	}
	c.devsMu.Lock()
	defer c.devsMu.Unlock()
	pos, err := c.datAttachLocked(dev.Addr(), false)
	if err != nil {
		return err
	}
	dev.SetMasterData(&devData{index: pos})
	return nil
}

// ReattachI3CDev updates the table after dev's address changed.
func (c *Controller) ReattachI3CDev(dev *i3c.Device, oldAddr uint8) error {
	data, err := devDataOf(dev)
	if err != nil {
		return err
	}
	c.devsMu.Lock()
	defer c.devsMu.Unlock()
	idx, err := c.datReattachLocked(data.index, dev.Addr())
	if err != nil {
		return err
	}
	data.index = idx

	pkg.LogDebug(pkg.ComponentDAT, "device reattached",
		pkg.AddrAttr("old", oldAddr),
		pkg.AddrAttr("new", dev.Addr()),
		"index", idx)
	return nil
}

// DetachI3CDev releases dev's slot.
func (c *Controller) DetachI3CDev(dev *i3c.Device) {
	data, err := devDataOf(dev)
	if err != nil {
		return
	}
	c.devsMu.Lock()
	c.datDetachLocked(data.index)
	c.devsMu.Unlock()
	dev.SetMasterData(nil)
}

// AttachI2CDev places a legacy device in the lowest free slot.
func (c *Controller) AttachI2CDev(dev *i3c.I2CDevice) error {
	if dev == nil || dev.Addr > 0x7f {
		return pkg.ErrInvalidParameter
	}
	c.devsMu.Lock()
	defer c.devsMu.Unlock()
	pos, err := c.datAttachLocked(uint8(dev.Addr), true)
	if err != nil {
		return err
	}
	dev.SetMasterData(&devData{index: pos})
	return nil
}

// DetachI2CDev releases a legacy device's slot.
func (c *Controller) DetachI2CDev(dev *i3c.I2CDevice) {
	if dev == nil {
		return
	}
	data, ok := dev.MasterData().(*devData)
	if !ok || data == nil {
		return
	}
	c.devsMu.Lock()
	c.datDetachLocked(data.index)
	c.devsMu.Unlock()
	dev.SetMasterData(nil)
}

func (c *Controller) i2cIndex(dev *i3c.I2CDevice) (int, error) {
	if dev == nil {
		return -1, pkg.ErrInvalidParameter
	}
	data, ok := dev.MasterData().(*devData)
	if !ok || data == nil {
		return -1, fmt.Errorf("i2c device 0x%02x not attached: %w", dev.Addr, pkg.ErrNoDevice)
	}
	c.devsMu.Lock()
	defer c.devsMu.Unlock()
	return data.index, nil
}
