// Package sim provides an in-memory register model of the controller for
// tests and simulation.
//
// The model implements [hal.HAL]. Writes to the command queue port execute
// commands synchronously against a set of simulated targets, filling the
// response queue, the RX FIFO and the interrupt status exactly as the
// engine expects from hardware:
//
//	h := sim.New(sim.DefaultConfig())
//	h.AddTarget(sim.NewTarget(0x0123_4567_0001, i3c.BCRIBIRequestCapable, 0x00))
//	ctrl := dw.New(h, dw.DefaultConfig())
//
// # Targets
//
// A [Target] is an I3C device with a provisioned ID, BCR and DCR that
// takes part in ENTDAA, answers the common GET/SET CCCs and exposes a
// small register file to private transfers: the first byte of a write
// selects the register, further bytes are stored from there, and reads
// return data from the selected register onward. An [I2CTarget] is the
// legacy equivalent, addressed through a static address.
//
// # Fault injection
//
// Tests can hold the command queue to provoke timeouts ([HAL.Hold]),
// make the next transfer to a target fail with any response status
// ([Target.InjectError]), shorten reads ([Target.ShortRead]) and raise
// in-band interrupts ([Target.RaiseIBI], [HAL.RaiseHotJoin],
// [HAL.InjectIBI]).
//
// Register accesses are serialized by an internal mutex, so the model can
// be driven from the engine's interrupt goroutine and from test goroutines
// at the same time.
package sim
