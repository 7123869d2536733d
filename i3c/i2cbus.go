package i3c

import (
	"context"
	"fmt"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/physic"

	"github.com/ardnew/softi3c/pkg"
)

// I2CBus exposes the legacy I2C devices of a mixed bus as a periph.io
// i2c.Bus, so existing periph device drivers can talk to them.
type I2CBus struct {
	bus *Bus
}

var _ i2c.Bus = (*I2CBus)(nil)

// String implements conn.Resource.
func (i *I2CBus) String() string {
	return fmt.Sprintf("i3c-legacy(%s)", i.bus.Mode())
}

// Tx writes w then reads r from the registered legacy device at addr,
// as one transfer with a repeated start.
func (i *I2CBus) Tx(addr uint16, w, r []byte) error {
	dev := i.bus.I2CDevice(addr)
	if dev == nil {
		return fmt.Errorf("i2c 0x%02x: %w", addr, pkg.ErrNoDevice)
	}
	msgs := make([]I2CMsg, 0, 2)
	if len(w) > 0 {
		msgs = append(msgs, I2CMsg{Addr: addr, Data: w})
	}
	if len(r) > 0 {
		msgs = append(msgs, I2CMsg{Addr: addr, Read: true, Data: r})
	}
	if len(msgs) == 0 {
		return nil
	}
	if err := i.bus.master.I2CXfers(context.Background(), dev, msgs); err != nil {
		return err
	}
	if len(r) > 0 && msgs[len(msgs)-1].Len != len(r) {
		return fmt.Errorf("i2c 0x%02x: short read %d/%d: %w",
			addr, msgs[len(msgs)-1].Len, len(r), pkg.ErrIO)
	}
	return nil
}

// SetSpeed is not supported: legacy timing follows the bus mode.
func (i *I2CBus) SetSpeed(f physic.Frequency) error {
	return fmt.Errorf("i2c speed %s: %w", f, pkg.ErrNotSupported)
}
