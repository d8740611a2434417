// Package bridge programs the H-bridge advanced timer: complementary
// 50%-duty outputs at a commanded frequency with an inserted dead-time,
// and the stop path that forces both outputs to the driver-disabled level.
package bridge

import "errors"

const (
	// MinFrequencyHz and MaxFrequencyHz bound BridgeSetpoint.FrequencyHz.
	MinFrequencyHz = 15_000
	MaxFrequencyHz = 65_000

	// MinDeadtimePct and MaxDeadtimePct bound BridgeSetpoint.DeadtimePct.
	MinDeadtimePct = 1
	MaxDeadtimePct = 40

	// BaseClockHz is the advanced timer's input clock.
	BaseClockHz = 34_375_000

	// minDeadtimeUs is the floor applied to the requested dead-time
	// before encoding, regardless of how small deadtime_pct computes to.
	minDeadtimeUs = 1.0
)

// tDTS is the dead-time generator tick, one period of BaseClockHz, in
// microseconds.
const tDTS = 1e6 / float64(BaseClockHz)

var (
	// ErrFrequencyOutOfRange is returned by NewSetpoint when frequency_hz
	// falls outside [MinFrequencyHz, MaxFrequencyHz].
	ErrFrequencyOutOfRange = errors.New("bridge: frequency out of range")
	// ErrDeadtimeOutOfRange is returned by NewSetpoint when deadtime_pct
	// falls outside [MinDeadtimePct, MaxDeadtimePct].
	ErrDeadtimeOutOfRange = errors.New("bridge: deadtime out of range")
)

// Setpoint is the mutable configuration driving the PWM generator.
type Setpoint struct {
	On           bool
	FrequencyHz  int
	DeadtimePct  int
}

// NewSetpoint validates frequency and dead-time against their clamps and
// returns a Setpoint, or an error naming which field is out of range.
func NewSetpoint(on bool, frequencyHz, deadtimePct int) (Setpoint, error) {
	if frequencyHz < MinFrequencyHz || frequencyHz > MaxFrequencyHz {
		return Setpoint{}, ErrFrequencyOutOfRange
	}
	if deadtimePct < MinDeadtimePct || deadtimePct > MaxDeadtimePct {
		return Setpoint{}, ErrDeadtimeOutOfRange
	}
	return Setpoint{On: on, FrequencyHz: frequencyHz, DeadtimePct: deadtimePct}, nil
}

// ClampFrequency folds hz into [MinFrequencyHz, MaxFrequencyHz].
func ClampFrequency(hz int) int {
	if hz < MinFrequencyHz {
		return MinFrequencyHz
	}
	if hz > MaxFrequencyHz {
		return MaxFrequencyHz
	}
	return hz
}

// ClampDeadtime folds pct into [MinDeadtimePct, MaxDeadtimePct].
func ClampDeadtime(pct int) int {
	if pct < MinDeadtimePct {
		return MinDeadtimePct
	}
	if pct > MaxDeadtimePct {
		return MaxDeadtimePct
	}
	return pct
}

// Timing is the result of reducing a Setpoint to register values: the
// auto-reload value, the compare value for 50% duty, and the encoded
// dead-time field.
type Timing struct {
	ARR uint32
	CCR uint32
	DTG uint8
}

// Program reduces sp to the ARR/CCR/DTG register values the timer driver
// writes. It does not touch hardware; HW.ApplyTiming does that.
func Program(sp Setpoint) Timing {
	arrF := float64(BaseClockHz) / float64(sp.FrequencyHz)
	arr := uint32(arrF + 0.5)
	ccr := arr / 2

	dtUs := float64(sp.DeadtimePct) * (10_000.0 / float64(sp.FrequencyHz))
	if dtUs < minDeadtimeUs {
		dtUs = minDeadtimeUs
	}

	return Timing{ARR: arr, CCR: ccr, DTG: encodeDeadtime(dtUs)}
}

// encodeDeadtime maps a requested dead-time in microseconds onto the
// timer's 8-bit DTG field using the four piecewise ranges the advanced
// timer's dead-time generator implements: 1x/2x/8x/16x tDTS steps with
// growing offsets, saturating at 0xFF past the last range.
func encodeDeadtime(dtUs float64) uint8 {
	switch {
	case dtUs <= 127*tDTS:
		dt := uint8(dtUs/tDTS + 0.5)
		if dt > 127 {
			dt = 127
		}
		return dt
	case dtUs <= 127*2*tDTS:
		dt := int(dtUs/(2*tDTS) - 64 + 0.5)
		if dt > 63 {
			dt = 63
		}
		return 0x80 | uint8(dt)
	case dtUs <= 63*8*tDTS:
		dt := int(dtUs/(8*tDTS) - 32 + 0.5)
		if dt > 31 {
			dt = 31
		}
		return 0xC0 | uint8(dt)
	case dtUs <= 63*16*tDTS:
		dt := int(dtUs/(16*tDTS) - 32 + 0.5)
		if dt > 31 {
			dt = 31
		}
		return 0xE0 | uint8(dt)
	default:
		return 0xFF
	}
}

// DecodeDeadtime recovers the approximate dead-time in microseconds that
// a DTG field encodes, the left-inverse used to verify round-trip error
// stays within one encoding step.
func DecodeDeadtime(dtg uint8) float64 {
	switch {
	case dtg&0x80 == 0:
		return float64(dtg) * tDTS
	case dtg&0xC0 == 0x80:
		return float64(64+int(dtg&0x3F)) * 2 * tDTS
	case dtg&0xE0 == 0xC0:
		return float64(32+int(dtg&0x1F)) * 8 * tDTS
	default:
		return float64(32+int(dtg&0x1F)) * 16 * tDTS
	}
}

// HW is the register-level surface the timer driver needs: apply new
// timing and flip the outputs between running and driver-disabled.
type HW interface {
	// ApplyTiming writes ARR, CCR and the masked-in DTG field. Safe to
	// call while the timer is running; the acquisition engine does not
	// start a new capture until the next PWM rising edge after this
	// returns, so there is no torn-read window visible downstream.
	ApplyTiming(t Timing)
	// Start enables both complementary outputs atomically.
	Start()
	// Stop disables both outputs and forces the driver-disabled level
	// (both high on this board's inverted gate drivers).
	Stop()
}

// Driver is the H-bridge PWM generator: it tracks the last programmed
// Setpoint and the channel's running/idle state, and serializes
// reprogram/start/stop against the hardware surface.
type Driver struct {
	hw      HW
	current Setpoint
	running bool
}

// NewDriver wraps hw with a Driver, initially idle.
func NewDriver(hw HW) *Driver {
	return &Driver{hw: hw}
}

// Apply drives the bridge to sp: reprograms period/duty/dead-time, and
// starts or stops the outputs to match sp.On. Starting from idle enables
// the pins and starts both outputs together, so there is never a window
// with only one half-bridge driven.
func (d *Driver) Apply(sp Setpoint) {
	d.hw.ApplyTiming(Program(sp))
	switch {
	case sp.On && !d.running:
		d.hw.Start()
		d.running = true
	case !sp.On && d.running:
		d.hw.Stop()
		d.running = false
	}
	d.current = sp
}

// Current returns the last Setpoint applied.
func (d *Driver) Current() Setpoint {
	return d.current
}

// Running reports whether the bridge outputs are currently energized.
func (d *Driver) Running() bool {
	return d.running
}
