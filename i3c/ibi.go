package i3c

import (
	"context"
	"sync"

	"github.com/ardnew/softi3c/pkg"
)

// IBIPayload is the data delivered with an in-band interrupt.
type IBIPayload struct {
	Data []byte
}

// IBISetup describes an IBI subscription.
type IBISetup struct {
	// MaxPayloadLen is the largest payload the subscriber accepts. Larger
	// IBIs are discarded, never truncated.
	MaxPayloadLen int

	// NumSlots is the number of IBIs that may be pending delivery at once.
	NumSlots int

	// Handler is called from the device's IBI worker for every delivered
	// event. The payload is only valid during the call.
	Handler func(dev *Device, payload IBIPayload)
}

// IBISlot holds one received IBI until its handler has consumed it.
type IBISlot struct {
	Data []byte
	Len  int

	pool *IBIPool
}

// IBIPool is a fixed set of IBI slots owned by one subscription.
type IBIPool struct {
	mu    sync.Mutex
	slots []*IBISlot
	free  []*IBISlot
}

// NewIBIPool allocates setup.NumSlots slots of setup.MaxPayloadLen bytes.
func NewIBIPool(setup *IBISetup) (*IBIPool, error) {
	if setup == nil || setup.NumSlots <= 0 || setup.MaxPayloadLen < 0 || setup.Handler == nil {
		return nil, pkg.ErrInvalidParameter
	}
	p := &IBIPool{
		slots: make([]*IBISlot, setup.NumSlots),
		free:  make([]*IBISlot, 0, setup.NumSlots),
	}
	for i := range p.slots {
		s := &IBISlot{Data: make([]byte, setup.MaxPayloadLen), pool: p}
		p.slots[i] = s
		p.free = append(p.free, s)
	}
	return p, nil
}

// GetFreeSlot takes a slot from the pool, or returns nil if every slot is
// awaiting delivery. It never blocks.
func (p *IBIPool) GetFreeSlot() *IBISlot {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := len(p.free)
	if n == 0 {
		return nil
	}
	s := p.free[n-1]
	p.free = p.free[:n-1]
	s.Len = 0
	return s
}

// Recycle returns a consumed slot to the pool.
func (p *IBIPool) Recycle(s *IBISlot) {
	if s == nil || s.pool != p {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, f := range p.free {
		if f == s {
			return
		}
	}
	p.free = append(p.free, s)
}

// Free returns the number of slots available.
func (p *IBIPool) Free() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free)
}

// Size returns the total number of slots.
func (p *IBIPool) Size() int {
	return len(p.slots)
}

// deviceIBI is the per-device delivery state of an IBI subscription.
type deviceIBI struct {
	setup   IBISetup
	enabled bool
	work    chan *IBISlot
	done    chan struct{}
}

// ibiController returns the bus master's IBI capability.
func (d *Device) ibiController() (IBIController, error) {
	if d.bus == nil {
		return nil, pkg.ErrNotRunning
	}
	ic, ok := d.bus.master.(IBIController)
	if !ok {
		return nil, pkg.ErrNotSupported
	}
	return ic, nil
}

// RequestIBI subscribes to in-band interrupts from the device.
// Events are not delivered until EnableIBI is called.
func (d *Device) RequestIBI(setup IBISetup) error {
	ic, err := d.ibiController()
	if err != nil {
		return err
	}
	d.mutex.Lock()
	if d.ibi != nil {
		d.mutex.Unlock()
		return pkg.ErrBusy
	}
	d.mutex.Unlock()

	if setup.Handler == nil || setup.NumSlots <= 0 {
		return pkg.ErrInvalidParameter
	}
	if err := ic.RequestIBI(d, &setup); err != nil {
		return err
	}

	ibi := &deviceIBI{
		setup: setup,
		work:  make(chan *IBISlot, setup.NumSlots),
		done:  make(chan struct{}),
	}
	d.mutex.Lock()
	d.ibi = ibi
	d.mutex.Unlock()

	go d.ibiWorker(ic, ibi)
	return nil
}

// EnableIBI enables delivery of a requested subscription.
func (d *Device) EnableIBI(ctx context.Context) error {
	ic, err := d.ibiController()
	if err != nil {
		return err
	}
	d.mutex.Lock()
	ibi := d.ibi
	d.mutex.Unlock()
	if ibi == nil {
		return pkg.ErrInvalidParameter
	}
	if err := ic.EnableIBI(ctx, d); err != nil {
		return err
	}
	d.mutex.Lock()
	ibi.enabled = true
	d.mutex.Unlock()
	return nil
}

// DisableIBI stops delivery; the subscription stays allocated.
func (d *Device) DisableIBI(ctx context.Context) error {
	ic, err := d.ibiController()
	if err != nil {
		return err
	}
	d.mutex.Lock()
	ibi := d.ibi
	d.mutex.Unlock()
	if ibi == nil {
		return pkg.ErrInvalidParameter
	}
	if err := ic.DisableIBI(ctx, d); err != nil {
		return err
	}
	d.mutex.Lock()
	ibi.enabled = false
	d.mutex.Unlock()
	return nil
}

// FreeIBI releases the subscription. It must be disabled first.
func (d *Device) FreeIBI() error {
	ic, err := d.ibiController()
	if err != nil {
		return err
	}
	d.mutex.Lock()
	ibi := d.ibi
	if ibi == nil {
		d.mutex.Unlock()
		return nil
	}
	if ibi.enabled {
		d.mutex.Unlock()
		return pkg.ErrBusy
	}
	d.ibi = nil
	d.mutex.Unlock()

	close(ibi.work)
	<-ibi.done
	ic.FreeIBI(d)
	return nil
}

// forceFreeIBI releases the subscription even if it is still enabled.
func (d *Device) forceFreeIBI() {
	d.mutex.Lock()
	if d.ibi != nil {
		d.ibi.enabled = false
	}
	d.mutex.Unlock()
	_ = d.FreeIBI()
}

// IBISetup returns the active subscription, if any.
func (d *Device) IBISetup() (IBISetup, bool) {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	if d.ibi == nil {
		return IBISetup{}, false
	}
	return d.ibi.setup, true
}

// QueueIBI hands a filled slot to the device's IBI worker. Controllers call
// it from their interrupt path; it never blocks because a subscription can
// have at most NumSlots slots outstanding. It reports false when the device
// has no subscription.
func (d *Device) QueueIBI(slot *IBISlot) bool {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	if d.ibi == nil {
		return false
	}
	select {
	case d.ibi.work <- slot:
		return true
	default:
		return false
	}
}

func (d *Device) ibiWorker(ic IBIController, ibi *deviceIBI) {
	defer close(ibi.done)
	for slot := range ibi.work {
		ibi.setup.Handler(d, IBIPayload{Data: slot.Data[:slot.Len]})
		ic.RecycleIBISlot(d, slot)
	}
	pkg.LogDebug(pkg.ComponentIBI, "ibi worker stopped", "dev", d.String())
}
