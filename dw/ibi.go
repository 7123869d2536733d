package dw

import (
	"context"
	"fmt"

	"github.com/ardnew/softi3c/hal/regs"
	"github.com/ardnew/softi3c/i3c"
	"github.com/ardnew/softi3c/pkg"
)

// ibiKind classifies an IBI queue status entry.
type ibiKind uint8

const (
	ibiSIR ibiKind = iota
	ibiHotJoin
	ibiMasterRequest
	ibiUnknown
)

func (k ibiKind) String() string {
	switch k {
	case ibiSIR:
		return "sir"
	case ibiHotJoin:
		return "hot-join"
	case ibiMasterRequest:
		return "mastership-request"
	default:
		return "unknown"
	}
}

func classifyIBI(status uint32) ibiKind {
	addr, rnw := regs.IBIAddr(status), regs.IBIRnW(status)
	switch {
	case addr != i3c.HotJoinAddr && rnw:
		return ibiSIR
	case addr == i3c.HotJoinAddr && !rnw:
		return ibiHotJoin
	case addr != i3c.HotJoinAddr && !rnw:
		return ibiMasterRequest
	default:
		return ibiUnknown
	}
}

// setSIRRejectLocked updates the global SIR reject mask for slot idx and
// toggles the IBI threshold interrupt when the mask leaves or reaches
// all-ones.
func (c *Controller) setSIRRejectLocked(idx int, reject bool) {
	mask := c.hal.Read32(regs.IBISIRReqReject)
	var global bool
	if reject {
		if mask&(1<<idx) != 0 {
			return
		}
		mask |= 1 << idx
		global = mask == regs.IBIReqRejectAll
	} else {
		global = mask == regs.IBIReqRejectAll
		mask &^= 1 << idx
	}
	c.hal.Write32(regs.IBISIRReqReject, mask)

	if global {
		for _, off := range []uint32{regs.IntrStatusEn, regs.IntrSignalEn} {
			reg := c.hal.Read32(off)
			if reject {
				reg &^= regs.IntrIBIThld
			} else {
				reg |= regs.IntrIBIThld
			}
			c.hal.Write32(off, reg)
		}
	}
}

// setSIREnabledLocked enables or disables SIR acceptance for slot idx.
func (c *Controller) setSIREnabledLocked(idx int, info i3c.DeviceInfo, enable bool) {
	entry := c.datRead(idx)
	if enable {
		entry &^= regs.DATSIRReject
		if info.BCR&i3c.BCRIBIPayload != 0 {
			entry |= regs.DATIBIMDB
		}
	} else {
		entry |= regs.DATSIRReject
	}
	entry = c.cfg.Variant.SetDATIBI(info, enable, entry)
	c.datWrite(idx, entry)

	c.setSIRRejectLocked(idx, !enable)
}

func (c *Controller) sirEnabledLocked(idx int) bool {
	return c.hal.Read32(regs.IBISIRReqReject)&(1<<idx) == 0
}

// RequestIBI allocates the slot pool for dev's IBI subscription.
func (c *Controller) RequestIBI(dev *i3c.Device, setup *i3c.IBISetup) error {
	data, err := devDataOf(dev)
	if err != nil {
		return err
	}
	pool, err := i3c.NewIBIPool(setup)
	if err != nil {
		return err
	}

	c.devsMu.Lock()
	defer c.devsMu.Unlock()
	if data.ibiPool != nil {
		return fmt.Errorf("%s ibi already requested: %w", dev, pkg.ErrBusy)
	}
	data.ibiPool = pool
	c.devs[data.index].ibiDev = dev

	pkg.LogDebug(pkg.ComponentIBI, "ibi requested",
		"dev", dev.String(),
		"slots", setup.NumSlots,
		"maxLen", setup.MaxPayloadLen)
	return nil
}

// FreeIBI releases dev's IBI subscription, disabling it first if needed.
func (c *Controller) FreeIBI(dev *i3c.Device) {
	data, err := devDataOf(dev)
	if err != nil {
		return
	}
	c.devsMu.Lock()
	defer c.devsMu.Unlock()
	if c.devs[data.index].ibiDev == dev {
		if c.sirEnabledLocked(data.index) {
			c.setSIREnabledLocked(data.index, dev.Info(), false)
		}
		c.devs[data.index].ibiDev = nil
	}
	data.ibiPool = nil
}

// EnableIBI accepts SIRs from dev and enables them on the device.
func (c *Controller) EnableIBI(ctx context.Context, dev *i3c.Device) error {
	data, err := devDataOf(dev)
	if err != nil {
		return err
	}
	info := dev.Info()

	c.devsMu.Lock()
	c.setSIREnabledLocked(data.index, info, true)
	c.devsMu.Unlock()

	cmd := i3c.NewDirectCCC(i3c.CCCENECDirect, info.Addr(), false, []byte{i3c.EventSIR})
	if err := c.SendCCC(ctx, cmd); err != nil {
		c.devsMu.Lock()
		c.setSIREnabledLocked(data.index, info, false)
		c.devsMu.Unlock()
		return fmt.Errorf("enable ibi: %w", err)
	}
	return nil
}

// DisableIBI disables SIRs on dev, then rejects them in the controller.
func (c *Controller) DisableIBI(ctx context.Context, dev *i3c.Device) error {
	data, err := devDataOf(dev)
	if err != nil {
		return err
	}
	info := dev.Info()

	cmd := i3c.NewDirectCCC(i3c.CCCDISECDirect, info.Addr(), false, []byte{i3c.EventSIR})
	if err := c.SendCCC(ctx, cmd); err != nil {
		return fmt.Errorf("disable ibi: %w", err)
	}

	c.devsMu.Lock()
	c.setSIREnabledLocked(data.index, info, false)
	c.devsMu.Unlock()
	return nil
}

// RecycleIBISlot returns a consumed slot to dev's pool.
func (c *Controller) RecycleIBISlot(dev *i3c.Device, slot *i3c.IBISlot) {
	data, err := devDataOf(dev)
	if err != nil {
		return
	}
	c.devsMu.Lock()
	pool := data.ibiPool
	c.devsMu.Unlock()
	if pool != nil {
		pool.Recycle(slot)
	}
}

// handleIBIs drains the IBI queue.
func (c *Controller) handleIBIs() {
	n := regs.QueueStatusIBICount(c.hal.Read32(regs.QueueStatusLevel))
	for i := 0; i < n; i++ {
		status := c.hal.Read32(regs.IBIQueueStatus)
		kind := classifyIBI(status)
		if kind == ibiSIR {
			c.handleSIR(status)
			continue
		}
		pkg.LogDebug(pkg.ComponentIBI, "ibi not handled",
			"kind", kind.String(),
			pkg.AddrAttr("addr", regs.IBIAddr(status)))
		c.drainIBI(regs.IBIDataLen(status))
	}
}

// handleSIR delivers one slave interrupt request to its subscriber, or
// drops its payload.
func (c *Controller) handleSIR(status uint32) {
	addr := regs.IBIAddr(status)
	n := regs.IBIDataLen(status)

	c.devsMu.Lock()
	defer c.devsMu.Unlock()

	drop := func(reason string) {
		pkg.LogDebug(pkg.ComponentIBI, "ibi dropped",
			pkg.AddrAttr("addr", addr),
			"len", n,
			"reason", reason)
		c.drainIBI(n)
	}

	idx := c.addrPosLocked(addr)
	if idx < 0 {
		drop("unknown address")
		return
	}
	dev := c.devs[idx].ibiDev
	if dev == nil || !c.sirEnabledLocked(idx) {
		drop("no subscription")
		return
	}
	data, err := devDataOf(dev)
	if err != nil || data.ibiPool == nil {
		drop("no subscription")
		return
	}
	setup, ok := dev.IBISetup()
	if !ok {
		drop("no subscription")
		return
	}
	if n > setup.MaxPayloadLen {
		drop("payload too long")
		return
	}
	slot := data.ibiPool.GetFreeSlot()
	if slot == nil {
		drop("no free slot")
		return
	}

	c.readFIFO(regs.IBIQueueData, slot.Data, n)
	slot.Len = n

	if !dev.QueueIBI(slot) {
		data.ibiPool.Recycle(slot)
		return
	}
	pkg.LogDebug(pkg.ComponentIBI, "ibi queued", "dev", dev.String(), "len", n)
}

// drainIBI discards an IBI payload of n bytes.
func (c *Controller) drainIBI(n int) {
	for i := 0; i < words(n); i++ {
		c.hal.Read32(regs.IBIQueueData)
	}
}
