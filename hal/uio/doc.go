// Package uio provides a Linux HAL that drives a memory-mapped controller
// exported through the userspace I/O framework.
//
// The controller's register window is mapped from /dev/uioN (map 0) and
// its interrupt is delivered by blocking reads on the same file. Each
// interrupt is re-armed by writing 1 to the file, as uio_pdrv_genirq
// expects.
//
// # Usage
//
//	h := uio.New(uio.Config{
//	    Device:    "/dev/uio0",
//	    CoreClock: 100 * physic.MegaHertz,
//	})
//	ctrl := dw.New(h, dw.DefaultConfig())
package uio
