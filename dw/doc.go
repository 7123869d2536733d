// Package dw implements the master engine for a DesignWare-style I3C
// controller.
//
// The controller exposes a single hardware command/response queue, a
// device address table (DAT) and an IBI queue. The engine owns all of
// them:
//
//   - Timing: bus timing counters derived from the core clock
//   - DAT: slot allocation for attached I3C and legacy I2C devices
//   - Transfer queue: one active transfer, FIFO of pending transfers,
//     completion from the interrupt path, reset-based recovery
//   - CCC, private and legacy I2C dispatchers built on the queue
//   - Dynamic address assignment
//   - In-band interrupt delivery
//
// # Usage
//
//	ctrl := dw.New(h, dw.DefaultConfig())
//	if err := ctrl.Start(ctx); err != nil {
//	    return err
//	}
//	bus := i3c.NewBus(ctrl, i3c.BusConfig{Mode: i3c.BusModePure})
//	if err := bus.Init(ctx); err != nil {
//	    return err
//	}
//
// # Concurrency
//
// Two locks guard the engine state. The queue lock serializes enqueue,
// start, completion and dequeue; the device-table lock guards the DAT
// arena and IBI subscriptions, which the interrupt path reads while
// callers attach and detach devices. Hardware events are consumed by one
// goroutine reading [hal.HAL.Interrupts].
package dw
