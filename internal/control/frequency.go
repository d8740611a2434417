// Package control implements the two closed-loop controllers that turn
// one capture into a signed correction: the frequency controller tracks
// the plasma's resonant operating point, and the voltage controller
// trims dead-time to hold peak plasma voltage at an operator setpoint.
package control

import (
	"math"

	"periph.io/x/periph/conn/physic"

	"plasmadriver/internal/acquire"
	"plasmadriver/internal/decode"
)

// minWindowGroups is the smallest conducting window the frequency
// controller will trust; anything shorter is assumed clipped by a buffer
// edge and is rejected rather than fed back.
const minWindowGroups = 5

const (
	gateStartCode = 500   // gate raw code below this marks window start
	gateEndCode   = 65000 // gate raw code above this marks window end
	minNormSwing  = 10    // current swing floor before normalizing by max instead
	freqGain      = 1000  // proportional gain applied to the normalized swing
)

// FrequencyResult is the frequency controller's output for one capture.
type FrequencyResult struct {
	DeltaHz int
	Valid   bool
	// Upper and Lower are the window-boundary currents (mA) the delta was
	// computed from, carried through for the CSV log line.
	Upper, Lower float64
}

// Frequency walks buf's groups tracking the min/max decoded bridge
// current, locates the conducting window from the gating PWM's raw code,
// and emits a signed Hz delta proportional to the current's asymmetry
// across that window, normalized by its overall swing.
//
// This is the resonance tracker: as the bridge frequency approaches the
// plasma load's resonant point, the conducting-window current becomes
// more symmetric; the sign and magnitude of the asymmetry says which way
// to move.
func Frequency(buf *acquire.CaptureBuffer) FrequencyResult {
	groups := buf.GroupsUsed
	if groups == 0 {
		return FrequencyResult{}
	}

	min, max := math.MaxFloat64, -math.MaxFloat64
	decoded := make([]float64, groups)
	for i := 0; i < groups; i++ {
		g := buf.Group(i)
		mA := float64(decode.Current(g[acquire.SlotBridgeCurrent])) / float64(physic.MilliAmpere)
		decoded[i] = mA
		if mA < min {
			min = mA
		}
		if mA > max {
			max = mA
		}
	}

	start, end := -1, -1
	for i := 0; i < groups; i++ {
		gate := buf.Group(i)[acquire.SlotTimerGate]
		if start == -1 && gate < gateStartCode {
			start = i
			continue
		}
		if start != -1 && gate > gateEndCode {
			end = i
			break
		}
	}

	if start == -1 || end == -1 || end-start < minWindowGroups {
		return FrequencyResult{}
	}
	if start+1 >= groups || end-1 < 0 {
		return FrequencyResult{}
	}

	upper := decoded[start+1]
	lower := decoded[end-1]

	norm := max - min
	if norm < minNormSwing {
		norm = max
	}
	if norm == 0 {
		return FrequencyResult{}
	}

	delta := int(math.Round(freqGain * (upper - lower) / norm))
	return FrequencyResult{DeltaHz: delta, Valid: true, Upper: upper, Lower: lower}
}
