package dw

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/jpillora/backoff"

	"github.com/ardnew/softi3c/hal/regs"
	"github.com/ardnew/softi3c/pkg"
)

// cmd is one command of a transfer with its data buffers and the outcome
// reported by the response queue.
type cmd struct {
	hi, lo uint32

	tx []byte
	rx []byte

	rxLen  int
	status responseStatus
}

// xfer is a group of commands submitted to the hardware queue together.
type xfer struct {
	cmds []cmd
	done chan struct{}
	err  error
}

func newXfer(ncmds int) *xfer {
	return &xfer{
		cmds: make([]cmd, ncmds),
		done: make(chan struct{}),
		err:  pkg.ErrTimeout,
	}
}

func words(n int) int { return divRoundUp(n, 4) }

// checkCapacity verifies a transfer fits the hardware queues.
func (c *Controller) checkCapacity(ncmds, ntx, nrx int) error {
	if ncmds > c.cmdDepth {
		return fmt.Errorf("%d commands exceed queue depth %d: %w",
			ncmds, c.cmdDepth, pkg.ErrNotSupported)
	}
	if ntx > c.dataDepth || nrx > c.dataDepth {
		return fmt.Errorf("%d/%d data words exceed fifo depth %d: %w",
			ntx, nrx, c.dataDepth, pkg.ErrNotSupported)
	}
	return nil
}

// submit enqueues x and waits for its completion, a timeout or ctx.
func (c *Controller) submit(ctx context.Context, x *xfer) error {
	var ntx, nrx int
	for i := range x.cmds {
		ntx += words(len(x.cmds[i].tx))
		nrx += words(len(x.cmds[i].rx))
	}
	if err := c.checkCapacity(len(x.cmds), ntx, nrx); err != nil {
		return err
	}
	if !c.IsRunning() {
		return pkg.ErrNotRunning
	}

	c.enqueue(x)

	timer := time.NewTimer(c.cfg.XferTimeout)
	defer timer.Stop()

	select {
	case <-x.done:
		return x.err
	case <-timer.C:
	case <-ctx.Done():
	}

	c.xferMu.Lock()
	c.dequeueLocked(x)
	err := x.err
	c.xferMu.Unlock()

	if errors.Is(err, pkg.ErrTimeout) {
		if ctx.Err() != nil {
			return fmt.Errorf("transfer: %w: %w", pkg.ErrCancelled, ctx.Err())
		}
		pkg.LogWarn(pkg.ComponentQueue, "transfer timed out",
			"cmds", len(x.cmds),
			"timeout", c.cfg.XferTimeout)
	}
	return err
}

// enqueue makes x the current transfer or appends it to the pending list.
func (c *Controller) enqueue(x *xfer) {
	c.xferMu.Lock()
	defer c.xferMu.Unlock()

	if c.cur != nil {
		c.pending = append(c.pending, x)
		pkg.LogDebug(pkg.ComponentQueue, "transfer pending", "depth", len(c.pending))
		return
	}
	c.cur = x
	c.startLocked()
}

// startLocked pushes the current transfer into the hardware: TX data,
// the response threshold, then every command.
func (c *Controller) startLocked() {
	x := c.cur
	if x == nil {
		return
	}

	for i := range x.cmds {
		c.writeTxFIFO(x.cmds[i].tx)
	}

	thld := c.hal.Read32(regs.QueueThldCtrl)
	thld &^= regs.QueueThldRespBufMask
	thld |= regs.QueueThldRespBuf(len(x.cmds))
	c.hal.Write32(regs.QueueThldCtrl, thld)

	for i := range x.cmds {
		c.hal.Write32(regs.CommandQueuePort, x.cmds[i].hi)
		c.hal.Write32(regs.CommandQueuePort, x.cmds[i].lo)
	}
	pkg.LogDebug(pkg.ComponentQueue, "transfer started", "cmds", len(x.cmds))
}

// advanceLocked promotes the oldest pending transfer and starts it.
func (c *Controller) advanceLocked() {
	c.cur = nil
	if len(c.pending) == 0 {
		return
	}
	c.cur = c.pending[0]
	c.pending[0] = nil
	c.pending = c.pending[1:]
	c.startLocked()
}

// dequeueLocked removes x from the queue. An active transfer is aborted by
// resetting the hardware queues; the next pending transfer then starts.
func (c *Controller) dequeueLocked(x *xfer) {
	if c.cur == x {
		c.resetQueuesLocked()
		c.advanceLocked()
		return
	}
	for i, p := range c.pending {
		if p == x {
			c.pending = append(c.pending[:i], c.pending[i+1:]...)
			return
		}
	}
}

// resetQueuesLocked flushes the command, response and data queues.
func (c *Controller) resetQueuesLocked() {
	c.hal.Write32(regs.ResetCtrl, regs.ResetXferQueues)
	if err := c.pollReset(); err != nil {
		pkg.LogError(pkg.ComponentQueue, "queue reset did not complete", "error", err)
	}
}

// endXferLocked completes the current transfer from the response queue.
func (c *Controller) endXferLocked(status uint32) {
	x := c.cur
	if x == nil {
		return
	}
	if status&(regs.IntrRespReady|regs.IntrTransferErr) == 0 {
		return
	}

	nresp := regs.QueueStatusResp(c.hal.Read32(regs.QueueStatusLevel))
	if nresp == 0 {
		return
	}

	for i := 0; i < nresp; i++ {
		resp := c.hal.Read32(regs.ResponseQueuePort)
		tid := regs.RespTID(resp)
		if tid >= len(x.cmds) {
			pkg.LogWarn(pkg.ComponentQueue, "response for unknown tid", "tid", tid)
			continue
		}
		cm := &x.cmds[tid]
		cm.rxLen = regs.RespDataLen(resp)
		cm.status = responseStatus(regs.RespStatus(resp))
		// Read data nobody asked for is still popped to keep the FIFO
		// aligned. Address assignment reports a device count, not data.
		if cm.rxLen > 0 && cm.status == respNoError && cm.lo&regs.CmdRead != 0 {
			c.readRxFIFO(cm.rx, cm.rxLen)
		}
	}

	var err error
	for i := range x.cmds {
		if e := x.cmds[i].status.Err(); e != nil {
			err = e
			break
		}
	}
	x.err = err
	close(x.done)

	if err != nil {
		pkg.LogDebug(pkg.ComponentQueue, "transfer failed", "error", err)
		c.resetQueuesLocked()
		c.hal.Write32(regs.DeviceCtrl, c.hal.Read32(regs.DeviceCtrl)|regs.DevCtrlResume)
	}
	c.advanceLocked()
}

// pollReset waits for RESET_CTRL to self-clear.
func (c *Controller) pollReset() error {
	b := &backoff.Backoff{
		Min:    10 * time.Microsecond,
		Max:    10 * time.Millisecond,
		Factor: 2,
	}
	deadline := time.Now().Add(c.cfg.ResetTimeout)
	for c.hal.Read32(regs.ResetCtrl) != 0 {
		if time.Now().After(deadline) {
			return fmt.Errorf("reset control: %w", pkg.ErrTimeout)
		}
		time.Sleep(b.Duration())
	}
	return nil
}

// writeTxFIFO pushes buf as little-endian words, zero-padding the tail.
func (c *Controller) writeTxFIFO(buf []byte) {
	for len(buf) >= 4 {
		c.hal.Write32(regs.RxTxDataPort, binary.LittleEndian.Uint32(buf))
		buf = buf[4:]
	}
	if len(buf) > 0 {
		var w [4]byte
		copy(w[:], buf)
		c.hal.Write32(regs.RxTxDataPort, binary.LittleEndian.Uint32(w[:]))
	}
}

func (c *Controller) readRxFIFO(buf []byte, n int) {
	c.readFIFO(regs.RxTxDataPort, buf, n)
}

// readFIFO pops ceil(n/4) words from off, storing at most len(buf) bytes.
func (c *Controller) readFIFO(off uint32, buf []byte, n int) {
	var w [4]byte
	for i := 0; i < words(n); i++ {
		binary.LittleEndian.PutUint32(w[:], c.hal.Read32(off))
		if i*4 < len(buf) {
			copy(buf[i*4:], w[:min(4, n-i*4)])
		}
	}
}
