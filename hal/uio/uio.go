//go:build linux

package uio

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
	"periph.io/x/conn/v3/physic"

	"github.com/ardnew/softi3c/hal"
	"github.com/ardnew/softi3c/pkg"
)

// Defaults.
const (
	DefaultDevice  = "/dev/uio0"
	DefaultMapSize = 0x1000

	// pollTimeoutMs bounds how long the interrupt goroutine waits before
	// checking for shutdown.
	pollTimeoutMs = 100
)

// Errors.
var (
	ErrNotOpen   = errors.New("uio device not open")
	ErrBadOffset = errors.New("register offset outside mapped window")
	ErrClosed    = errors.New("uio device closed")
)

// Config describes the UIO device.
type Config struct {
	Device    string           // Path of the UIO character device
	MapSize   int              // Size of the register window in bytes
	CoreClock physic.Frequency // Core clock feeding the controller
}

// HAL maps a controller through /dev/uioN.
type HAL struct {
	cfg Config

	mu     sync.Mutex
	fd     int
	mem    []byte
	irq    chan struct{}
	done   chan struct{}
	closed bool
	wg     sync.WaitGroup
}

var _ hal.HAL = (*HAL)(nil)

// New creates a UIO HAL. Zero fields of cfg take their defaults.
func New(cfg Config) *HAL {
	if cfg.Device == "" {
		cfg.Device = DefaultDevice
	}
	if cfg.MapSize <= 0 {
		cfg.MapSize = DefaultMapSize
	}
	return &HAL{
		cfg: cfg,
		fd:  -1,
		irq: make(chan struct{}, 1),
	}
}

// Init opens the device, maps the register window and starts the
// interrupt goroutine. A HAL cannot be initialized again once closed,
// since Close ends the interrupt channel.
func (h *HAL) Init(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrClosed
	}
	if h.fd >= 0 {
		return pkg.ErrAlreadyRunning
	}

	fd, err := unix.Open(h.cfg.Device, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return fmt.Errorf("open %s: %w", h.cfg.Device, err)
	}
	mem, err := unix.Mmap(fd, 0, h.cfg.MapSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		return fmt.Errorf("mmap %s: %w", h.cfg.Device, err)
	}
	h.fd = fd
	h.mem = mem
	h.done = make(chan struct{})

	h.wg.Add(1)
	go h.interruptLoop(fd, h.done)

	pkg.LogInfo(pkg.ComponentHAL, "uio device mapped",
		"device", h.cfg.Device,
		"size", h.cfg.MapSize)
	return nil
}

// Close stops interrupt delivery and unmaps the device.
func (h *HAL) Close() error {
	h.mu.Lock()
	if h.fd < 0 {
		h.mu.Unlock()
		return nil
	}
	close(h.done)
	h.mu.Unlock()

	h.wg.Wait()

	h.mu.Lock()
	defer h.mu.Unlock()
	var errs []error
	if err := unix.Munmap(h.mem); err != nil {
		errs = append(errs, fmt.Errorf("munmap: %w", err))
	}
	if err := unix.Close(h.fd); err != nil {
		errs = append(errs, fmt.Errorf("close: %w", err))
	}
	h.mem = nil
	h.fd = -1
	h.closed = true
	close(h.irq)
	return errors.Join(errs...)
}

func (h *HAL) reg(off uint32) *uint32 {
	if h.mem == nil || off&3 != 0 || int(off)+4 > len(h.mem) {
		pkg.LogError(pkg.ComponentHAL, "bad register access",
			"offset", off,
			"error", ErrBadOffset)
		return nil
	}
	return (*uint32)(unsafe.Pointer(&h.mem[off]))
}

// Read32 implements hal.HAL.
func (h *HAL) Read32(off uint32) uint32 {
	p := h.reg(off)
	if p == nil {
		return 0
	}
	return atomic.LoadUint32(p)
}

// Write32 implements hal.HAL.
func (h *HAL) Write32(off uint32, v uint32) {
	if p := h.reg(off); p != nil {
		atomic.StoreUint32(p, v)
	}
}

// Interrupts implements hal.HAL.
func (h *HAL) Interrupts() <-chan struct{} { return h.irq }

// CoreClock implements hal.HAL.
func (h *HAL) CoreClock() physic.Frequency { return h.cfg.CoreClock }

// interruptLoop re-arms the UIO interrupt and forwards every assertion.
func (h *HAL) interruptLoop(fd int, done <-chan struct{}) {
	defer h.wg.Done()

	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], 1)
	fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}

	for {
		if _, err := unix.Write(fd, buf[:]); err != nil {
			pkg.LogError(pkg.ComponentHAL, "irq unmask failed", "error", err)
			return
		}
		for {
			select {
			case <-done:
				return
			default:
			}
			n, err := unix.Poll(fds, pollTimeoutMs)
			if err != nil {
				if errors.Is(err, unix.EINTR) {
					continue
				}
				pkg.LogError(pkg.ComponentHAL, "irq poll failed", "error", err)
				return
			}
			if n > 0 && fds[0].Revents&unix.POLLIN != 0 {
				break
			}
		}

		var count [4]byte
		if _, err := unix.Read(fd, count[:]); err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			pkg.LogError(pkg.ComponentHAL, "irq read failed", "error", err)
			return
		}
		select {
		case h.irq <- struct{}{}:
		default:
		}
	}
}
