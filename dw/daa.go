package dw

import (
	"context"
	"fmt"

	"github.com/ardnew/softi3c/hal/regs"
	"github.com/ardnew/softi3c/i3c"
	"github.com/ardnew/softi3c/pkg"
)

// DAAState is the progress of a dynamic address assignment.
type DAAState uint8

// DAA states.
const (
	DAAIdle DAAState = iota
	DAAAddressesPrepared
	DAAEntdaaSent
	DAADevicesAttached
)

// String returns a string representation of the DAA state.
func (s DAAState) String() string {
	switch s {
	case DAAIdle:
		return "idle"
	case DAAAddressesPrepared:
		return "addresses-prepared"
	case DAAEntdaaSent:
		return "entdaa-sent"
	case DAADevicesAttached:
		return "devices-attached"
	default:
		return "unknown"
	}
}

// DAAState returns the state reached by the last address assignment.
func (c *Controller) DAAState() DAAState {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.daaState
}

func (c *Controller) setDAAState(s DAAState) {
	c.mutex.Lock()
	c.daaState = s
	c.mutex.Unlock()
	pkg.LogDebug(pkg.ComponentDAA, "daa state", "state", s.String())
}

// evenParity returns 1 when addr has an even number of set bits, which is
// the value that makes the 8-bit DAT address field odd parity.
func evenParity(addr uint8) uint8 {
	p := addr ^ addr>>4
	p &= 0xf
	return uint8(uint16(0x9669)>>p) & 1
}

// withParity sets bit 7 of a 7-bit address to its parity bit.
func withParity(addr uint8) uint8 {
	addr &= 0x7f
	return addr | evenParity(addr)<<7
}

// DAA runs ENTDAA over every free DAT slot and registers each device that
// acquired an address with the bus. It returns the number of newly
// addressed devices.
func (c *Controller) DAA(ctx context.Context) (int, error) {
	bus, err := c.busModel()
	if err != nil {
		return 0, err
	}
	c.setDAAState(DAAIdle)

	// Pick an address for every free slot before touching the hardware.
	c.devsMu.Lock()
	var free []int
	for i, s := range c.devs {
		if !s.used {
			free = append(free, i)
		}
	}
	c.devsMu.Unlock()
	if len(free) == 0 {
		return 0, fmt.Errorf("daa: %w", pkg.ErrNoResources)
	}

	addrs := make([]uint8, len(free))
	var last uint8
	for i, pos := range free {
		addr, err := bus.FreeAddr(last + 1)
		if err != nil {
			return 0, fmt.Errorf("daa slot %d: %w", pos, pkg.ErrNoSpace)
		}
		addrs[i] = addr
		last = addr
	}

	c.devsMu.Lock()
	for i, pos := range free {
		if c.devs[pos].used {
			continue
		}
		c.devs[pos].addr = addrs[i]
		c.datWrite(pos, regs.DATDynamicAddr(withParity(addrs[i])))
	}
	start := c.freePosLocked()
	c.devsMu.Unlock()
	if start < 0 {
		c.releasePrepared(free)
		return 0, fmt.Errorf("daa: %w", pkg.ErrNoResources)
	}
	c.setDAAState(DAAAddressesPrepared)

	count := c.maxDevs - start
	x := newXfer(1)
	cm := &x.cmds[0]
	cm.hi = regs.CmdAttrTransferArg
	cm.lo = regs.CmdTOC | regs.CmdROC |
		regs.CmdDevCount(count) |
		regs.CmdDevIndex(start) |
		regs.CmdCCC(i3c.CCCENTDAA) |
		regs.CmdAttrAddrAssign

	if err := c.submit(ctx, x); err != nil {
		return 0, fmt.Errorf("ENTDAA: %w: %w", pkg.ErrProtocol, err)
	}
	c.setDAAState(DAAEntdaaSent)

	// The response length is the number of devices the command was
	// prepared for but did not address.
	newly := min(max(count-cm.rxLen, 0), count)

	pkg.LogInfo(pkg.ComponentDAA, "daa complete",
		"start", start,
		"count", count,
		"assigned", newly)

	reported := 0
	for i, pos := range free {
		if reported == newly {
			break
		}
		if pos < start {
			continue
		}
		reported++
		if err := bus.AddI3CDevice(ctx, addrs[i]); err != nil {
			pkg.LogWarn(pkg.ComponentDAA, "failed to add device",
				pkg.AddrAttr("addr", addrs[i]),
				"error", err)
		}
	}

	c.setDAAState(DAADevicesAttached)
	return newly, nil
}

// releasePrepared clears prepared entries when DAA gives up before
// ENTDAA. Once ENTDAA has run, unclaimed slots keep their prepared address
// until the next round overwrites it.
func (c *Controller) releasePrepared(free []int) {
	c.devsMu.Lock()
	defer c.devsMu.Unlock()
	for _, pos := range free {
		if !c.devs[pos].used {
			c.devs[pos].addr = 0
			c.datWrite(pos, 0)
		}
	}
}
