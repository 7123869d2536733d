// Package hal defines the hardware abstraction consumed by the I3C master
// engine: a 32-bit register window, an interrupt line and the controller's
// core clock.
package hal

import (
	"context"

	"periph.io/x/conn/v3/physic"
)

// HAL defines the Hardware Abstraction Layer interface for an I3C master
// controller register block.
//
// Platform vendors implement this interface to run the engine on their
// controller. The engine never assumes anything about the backing store
// beyond 32-bit little-endian register semantics at byte offsets.
type HAL interface {
	// Initialization and Lifecycle

	// Init prepares the register window and the interrupt source.
	// The context can be used to cancel initialization.
	Init(ctx context.Context) error

	// Close releases all resources associated with the HAL.
	// After Close returns, the HAL should not be used.
	Close() error

	// Register Access

	// Read32 returns the register at byte offset off.
	Read32(off uint32) uint32

	// Write32 stores v into the register at byte offset off.
	Write32(off uint32, v uint32)

	// Interrupts

	// Interrupts returns a channel that receives a value each time the
	// controller asserts its interrupt line. Consecutive assertions may be
	// coalesced into a single notification; receivers must drain all
	// pending work on every receive.
	Interrupts() <-chan struct{}

	// Clocks

	// CoreClock returns the rate of the clock feeding the controller's
	// timing counters. Zero means unknown.
	CoreClock() physic.Frequency
}
