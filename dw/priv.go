package dw

import (
	"context"

	"github.com/ardnew/softi3c/hal/regs"
	"github.com/ardnew/softi3c/i3c"
)

// PrivXfers runs a group of private SDR transfers to dev as one queued
// transfer. Read lengths are updated to what the device returned.
func (c *Controller) PrivXfers(ctx context.Context, dev *i3c.Device, xfers []i3c.PrivXfer) error {
	if len(xfers) == 0 {
		return nil
	}

	var ntx, nrx int
	for _, px := range xfers {
		if px.RnW {
			nrx += words(len(px.Data))
		} else {
			ntx += words(len(px.Data))
		}
	}
	if err := c.checkCapacity(len(xfers), ntx, nrx); err != nil {
		return err
	}

	idx, err := c.devIndex(dev)
	if err != nil {
		return err
	}
	info := dev.Info()

	x := newXfer(len(xfers))
	for i, px := range xfers {
		cm := &x.cmds[i]
		cm.hi = regs.ArgDataLen(len(px.Data)) | regs.CmdAttrTransferArg
		if px.RnW {
			cm.rx = px.Data
			cm.lo = regs.CmdRead | regs.CmdSpeed(info.MaxReadDS)
		} else {
			cm.tx = px.Data
			cm.lo = regs.CmdSpeed(info.MaxWriteDS)
		}
		cm.lo |= regs.CmdTID(i) | regs.CmdDevIndex(idx) | regs.CmdROC
		if i == len(xfers)-1 {
			cm.lo |= regs.CmdTOC
		}
	}

	err = c.submit(ctx, x)
	for i := range xfers {
		if xfers[i].RnW {
			xfers[i].Len = min(x.cmds[i].rxLen, len(xfers[i].Data))
		}
	}
	return err
}

// i2cSpeed selects FM+ on a mixed-fast bus and FM on the slower mixed
// modes, matching the legacy timing programmed by BusInit.
func (c *Controller) i2cSpeed() uint8 {
	bus, err := c.busModel()
	if err == nil && bus.Mode() == i3c.BusModeMixedFast {
		return regs.SpeedI2CFMPlus
	}
	return regs.SpeedI2CFM
}

// I2CXfers runs a group of legacy I2C messages to dev as one queued
// transfer.
func (c *Controller) I2CXfers(ctx context.Context, dev *i3c.I2CDevice, msgs []i3c.I2CMsg) error {
	if len(msgs) == 0 {
		return nil
	}

	var ntx, nrx int
	for _, m := range msgs {
		if m.Read {
			nrx += words(len(m.Data))
		} else {
			ntx += words(len(m.Data))
		}
	}
	if err := c.checkCapacity(len(msgs), ntx, nrx); err != nil {
		return err
	}

	idx, err := c.i2cIndex(dev)
	if err != nil {
		return err
	}

	speed := c.i2cSpeed()
	x := newXfer(len(msgs))
	for i, m := range msgs {
		cm := &x.cmds[i]
		cm.hi = regs.ArgDataLen(len(m.Data)) | regs.CmdAttrTransferArg
		cm.lo = regs.CmdTID(i) | regs.CmdDevIndex(idx) | regs.CmdROC | regs.CmdSpeed(speed)
		if m.Read {
			cm.lo |= regs.CmdRead
			cm.rx = m.Data
		} else {
			cm.tx = m.Data
		}
		if i == len(msgs)-1 {
			cm.lo |= regs.CmdTOC
		}
	}

	err = c.submit(ctx, x)
	for i := range msgs {
		if msgs[i].Read {
			msgs[i].Len = min(x.cmds[i].rxLen, len(msgs[i].Data))
		}
	}
	return err
}
