package dw

import (
	"context"
	"fmt"

	"github.com/ardnew/softi3c/hal/regs"
	"github.com/ardnew/softi3c/i3c"
	"github.com/ardnew/softi3c/pkg"
)

// SupportsCCC reports whether the controller can send cmd.
func (c *Controller) SupportsCCC(cmd *i3c.CCCCmd) bool {
	if cmd == nil {
		return false
	}
	switch cmd.ID {
	case i3c.CCCENECBroadcast, i3c.CCCENECDirect,
		i3c.CCCDISECBroadcast, i3c.CCCDISECDirect,
		i3c.CCCENTAS0Broadcast, i3c.CCCENTAS0Direct,
		i3c.CCCENTAS1Broadcast, i3c.CCCENTAS1Direct,
		i3c.CCCENTAS2Broadcast, i3c.CCCENTAS2Direct,
		i3c.CCCENTAS3Broadcast, i3c.CCCENTAS3Direct,
		i3c.CCCRSTDAABroadcast, i3c.CCCRSTDAADirect,
		i3c.CCCENTDAA,
		i3c.CCCSETMWLBroadcast, i3c.CCCSETMWLDirect,
		i3c.CCCSETMRLBroadcast, i3c.CCCSETMRLDirect,
		i3c.CCCDEFSLVS,
		i3c.CCCENTHDR0,
		i3c.CCCSETDASA,
		i3c.CCCSETNEWDA,
		i3c.CCCGETMWL, i3c.CCCGETMRL,
		i3c.CCCGETPID, i3c.CCCGETBCR, i3c.CCCGETDCR,
		i3c.CCCGETSTATUS, i3c.CCCGETMXDS, i3c.CCCGETHDRCAP:
		return true
	default:
		return false
	}
}

// SendCCC sends a broadcast or direct CCC with a single destination.
// ENTDAA is only issued through DAA.
func (c *Controller) SendCCC(ctx context.Context, cmd *i3c.CCCCmd) error {
	if cmd == nil || len(cmd.Dests) == 0 {
		return pkg.ErrInvalidParameter
	}
	if cmd.ID == i3c.CCCENTDAA {
		return fmt.Errorf("ENTDAA outside DAA: %w", pkg.ErrInvalidParameter)
	}
	if len(cmd.Dests) > 1 {
		return fmt.Errorf("%s with %d destinations: %w",
			i3c.CCCName(cmd.ID), len(cmd.Dests), pkg.ErrNotSupported)
	}

	dest := &cmd.Dests[0]
	pos := 0
	if cmd.IsDirect() {
		c.devsMu.Lock()
		pos = c.addrPosLocked(dest.Addr)
		c.devsMu.Unlock()
		if pos < 0 {
			cmd.Err = i3c.CCCErrorM2
			return fmt.Errorf("%s to 0x%02x: %w", i3c.CCCName(cmd.ID), dest.Addr, pkg.ErrNoDevice)
		}
	}

	x := newXfer(1)
	cm := &x.cmds[0]
	cm.hi = regs.ArgDataLen(len(dest.Data)) | regs.CmdAttrTransferArg
	cm.lo = regs.CmdCP | regs.CmdDevIndex(pos) | regs.CmdCCC(cmd.ID) | regs.CmdTOC | regs.CmdROC
	if cmd.RnW {
		cm.lo |= regs.CmdRead
		cm.rx = dest.Data
	} else {
		cm.tx = dest.Data
	}

	err := c.submit(ctx, x)

	cmd.Err = i3c.CCCErrorNone
	if cm.status.addrNACK() {
		cmd.Err = i3c.CCCErrorM2
		return fmt.Errorf("%s to 0x%02x: %w: %w", i3c.CCCName(cmd.ID), dest.Addr, pkg.ErrNoDevice, err)
	}
	if err != nil {
		return fmt.Errorf("%s: %w", i3c.CCCName(cmd.ID), err)
	}
	if cmd.RnW {
		dest.Len = min(cm.rxLen, len(dest.Data))
	}

	pkg.LogDebug(pkg.ComponentQueue, "ccc sent",
		"ccc", i3c.CCCName(cmd.ID),
		pkg.AddrAttr("addr", dest.Addr),
		"len", dest.Len)
	return nil
}
