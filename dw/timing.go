package dw

import (
	"fmt"

	"golang.org/x/exp/constraints"
	"periph.io/x/conn/v3/physic"

	"github.com/ardnew/softi3c/hal/regs"
	"github.com/ardnew/softi3c/i3c"
	"github.com/ardnew/softi3c/pkg"
)

// Bus timing requirements (MIPI I3C Basic, NXP UM10204).
const (
	i3cTHighMaxNs      = 41
	i3cTLowODMinNs     = 200
	i2cFMTLowMinNs     = 1300
	i2cFMPlusTLowMinNs = 500
)

// sdrRates are the four sub-data-rate tiers used with GETMXDS limits.
var sdrRates = [4]int64{8000000, 6000000, 4000000, 2000000}

// Timing holds the counter values programmed into the timing registers.
// Counts are in core clock cycles.
type Timing struct {
	HighCount    int64    // SCL high, push-pull and open-drain
	PPLowCount   int64    // SCL low, push-pull
	ODLowCount   int64    // SCL low, open-drain
	ExtLowCounts [4]int64 // SCL low for SDR1..SDR4
	BusFree      int64    // Bus free condition

	I2CPresent   bool
	FMHighCount  int64
	FMLowCount   int64
	FMPHighCount int64
	FMPLowCount  int64
}

func divRoundUp[T constraints.Integer](n, d T) T {
	return (n + d - 1) / d
}

// ComputeTiming derives the timing counters for a core clock, a target
// I3C SCL rate and a bus mode. A zero scl selects the typical 12.5 MHz.
func ComputeTiming(core, scl physic.Frequency, mode i3c.BusMode) (Timing, error) {
	coreHz := int64(core / physic.Hertz)
	if coreHz <= 0 {
		return Timing{}, fmt.Errorf("core clock %s: %w", core, pkg.ErrInvalidParameter)
	}
	sclHz := int64(scl / physic.Hertz)
	if sclHz <= 0 {
		sclHz = i3c.TypicalI3CSCLRate
	}
	period := divRoundUp(int64(1000000000), coreHz)

	var t Timing
	t.HighCount = max(divRoundUp(int64(i3cTHighMaxNs), period)-1, regs.SCLI3CTimingCntMin)
	t.PPLowCount = max(divRoundUp(coreHz, sclHz)-t.HighCount, regs.SCLI3CTimingCntMin)
	// Open-drain low is never shorter than push-pull low.
	t.ODLowCount = max(divRoundUp(int64(i3cTLowODMinNs), period), t.PPLowCount)
	for i, rate := range sdrRates {
		t.ExtLowCounts[i] = divRoundUp(coreHz, rate) - t.HighCount
	}
	t.BusFree = t.PPLowCount

	if mode.Mixed() {
		t.I2CPresent = true
		t.FMPLowCount = divRoundUp(int64(i2cFMPlusTLowMinNs), period)
		t.FMPHighCount = divRoundUp(coreHz, i3c.I2CFMPlusSCLRate) - t.FMPLowCount
		t.FMLowCount = divRoundUp(int64(i2cFMTLowMinNs), period)
		t.FMHighCount = divRoundUp(coreHz, i3c.I2CFMSCLRate) - t.FMLowCount
		t.BusFree = t.FMLowCount
	}
	return t, nil
}

// applyTiming programs the timing registers.
func (c *Controller) applyTiming(t Timing) {
	if t.I2CPresent {
		c.hal.Write32(regs.SCLI2CFMPTiming,
			regs.SCLI2CFMP(uint32(t.FMPHighCount), uint32(t.FMPLowCount)))
		c.hal.Write32(regs.SCLI2CFMTiming,
			regs.SCLI2CFM(uint32(t.FMHighCount), uint32(t.FMLowCount)))
		c.hal.Write32(regs.DeviceCtrl, c.hal.Read32(regs.DeviceCtrl)|regs.DevCtrlI2CSlavePresent)
	}
	c.hal.Write32(regs.SCLI3CPPTiming,
		regs.SCLI3CTiming(uint32(t.HighCount), uint32(t.PPLowCount)))
	c.hal.Write32(regs.SCLI3CODTiming,
		regs.SCLI3CTiming(uint32(t.HighCount), uint32(t.ODLowCount)))
	c.hal.Write32(regs.BusFreeTiming, regs.BusI3CMstFree(uint32(t.BusFree)))

	var ext [4]uint32
	for i, l := range t.ExtLowCounts {
		ext[i] = uint32(l)
	}
	c.hal.Write32(regs.SCLExtLcntTiming, regs.SCLExtLcnt(ext))

	pkg.LogDebug(pkg.ComponentMaster, "timing configured",
		"hcnt", t.HighCount,
		"ppLcnt", t.PPLowCount,
		"odLcnt", t.ODLowCount,
		"busFree", t.BusFree,
		"i2c", t.I2CPresent)
}
