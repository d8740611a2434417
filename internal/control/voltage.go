package control

import (
	"math"

	"periph.io/x/periph/conn/physic"

	"plasmadriver/internal/acquire"
	"plasmadriver/internal/decode"
)

// voltageGain converts a millivolt voltage error into a dead-time-percent
// delta; coupled with the PWM generator, trimming dead-time reshapes the
// bridge waveform and changes fundamental amplitude.
const voltageGain = 100.0

// VoltageResult is the voltage controller's output for one capture.
type VoltageResult struct {
	DeltaDeadtimePct int
	PeakMv           float64
}

// Voltage computes the differential plasma voltage's peak across buf and
// emits a dead-time delta driving it toward desiredMv.
func Voltage(buf *acquire.CaptureBuffer, desiredMv float64) VoltageResult {
	groups := buf.GroupsUsed
	peak := -math.MaxFloat64
	for i := 0; i < groups; i++ {
		g := buf.Group(i)
		l1 := float64(decode.PlasmaVoltage(g[acquire.SlotPlasmaVoltL1])) / float64(physic.MilliVolt)
		l2 := float64(decode.PlasmaVoltage(g[acquire.SlotPlasmaVoltL2])) / float64(physic.MilliVolt)
		vl := math.Sqrt2 * (l1 - l2)
		if vl > peak {
			peak = vl
		}
	}
	if groups == 0 {
		peak = 0
	}
	delta := int(math.Round((desiredMv - peak) / voltageGain))
	return VoltageResult{DeltaDeadtimePct: delta, PeakMv: peak}
}
