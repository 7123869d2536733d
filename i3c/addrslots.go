package i3c

import (
	"fmt"

	"github.com/ardnew/softi3c/pkg"
)

// AddrSlotStatus is the usage state of one 7-bit bus address.
type AddrSlotStatus uint8

// Address slot states.
const (
	AddrSlotFree AddrSlotStatus = iota
	AddrSlotReserved
	AddrSlotI2CDev
	AddrSlotI3CDev
)

// String returns the slot state name.
func (s AddrSlotStatus) String() string {
	switch s {
	case AddrSlotFree:
		return "free"
	case AddrSlotReserved:
		return "reserved"
	case AddrSlotI2CDev:
		return "i2c"
	case AddrSlotI3CDev:
		return "i3c"
	default:
		return fmt.Sprintf("unknown(%d)", s)
	}
}

// AddrSlots tracks which bus addresses are in use.
// The zero value has every address free; use NewAddrSlots for a bus.
type AddrSlots struct {
	status [MaxAddr + 1]AddrSlotStatus
}

// NewAddrSlots returns a table with the protocol-reserved addresses marked:
// 0x00-0x07, the broadcast address and every address one bit-flip away
// from it.
func NewAddrSlots() *AddrSlots {
	s := &AddrSlots{}
	for a := 0; a < 8; a++ {
		s.status[a] = AddrSlotReserved
	}
	s.status[BroadcastAddr] = AddrSlotReserved
	for i := 0; i < 7; i++ {
		s.status[BroadcastAddr^(1<<i)] = AddrSlotReserved
	}
	return s
}

// Status returns the state of addr.
func (s *AddrSlots) Status(addr uint8) AddrSlotStatus {
	if addr > MaxAddr {
		return AddrSlotReserved
	}
	return s.status[addr]
}

// Set records the state of addr.
func (s *AddrSlots) Set(addr uint8, st AddrSlotStatus) {
	if addr > MaxAddr {
		return
	}
	s.status[addr] = st
}

// FreeAddr returns the first free address at or above start.
// It does not wrap: when nothing is free up to 0x7f it returns pkg.ErrNoSpace.
func (s *AddrSlots) FreeAddr(start uint8) (uint8, error) {
	for a := int(start); a <= MaxAddr; a++ {
		if s.status[a] == AddrSlotFree {
			return uint8(a), nil
		}
	}
	return 0, pkg.ErrNoSpace
}
