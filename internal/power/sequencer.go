// Package power implements the three-supply (15V, 3.3V, 500V) power
// sequencing state machine: strict ordering on the way up, the exact
// reverse on the way down, an undervoltage interlock that aborts and
// unwinds a failed ramp, and precedence for the hardware E-stop line
// over any foreground command.
package power

import (
	"errors"

	"plasmadriver/internal/decode"
	"plasmadriver/internal/hal"
)

// Phase is one state in the power sequencing state machine.
type Phase int

const (
	PhaseOff Phase = iota
	Phase15VOn
	Phase3V3On
	PhaseDrvOn
	PhaseHVOn
	PhaseReady
)

func (p Phase) String() string {
	switch p {
	case PhaseOff:
		return "OFF"
	case Phase15VOn:
		return "15V_ON"
	case Phase3V3On:
		return "3V3_ON"
	case PhaseDrvOn:
		return "DRV_ON"
	case PhaseHVOn:
		return "HV_ON"
	case PhaseReady:
		return "READY"
	default:
		return "UNKNOWN"
	}
}

// ErrUndervoltage is returned by PowerOn when a rail fails to reach
// threshold after its enable delay; the sequencer has already unwound
// whatever it brought up before returning this.
var ErrUndervoltage = errors.New("power: rail undervoltage")

// ErrInterlock is returned when a low-rail power-off is requested while
// the HV rail is still on.
var ErrInterlock = errors.New("power: HV rail is on, cannot power off low supplies")

// Thresholds holds the raw-code thresholds for the 15V, 3.3V and HV
// entries of the 11-entry aux threshold table. PowerOn checks V15 and HV;
// V33 is carried but not consulted.
type Thresholds struct {
	V15 uint16
	V33 uint16
	HV  uint16
}

// AuxSampler captures one aux reading and returns the 11 raw codes, used
// to check a rail against its threshold after an enable delay.
type AuxSampler func() [11]uint16

// BridgeStopper stops the PWM outputs unconditionally; it must be a
// no-op when already stopped (idempotent stop, exercised by the
// power-off path running twice in a row).
type BridgeStopper func()

// Sequencer drives the three-supply ramp and owns the current Phase.
type Sequencer struct {
	pin15V    hal.Pin
	pin3V3    hal.Pin
	pinDrv1   hal.Pin
	pinDrv2   hal.Pin
	pinHV     hal.Pin
	pinActive hal.Pin
	clock     hal.Clock
	sampleAux AuxSampler
	stopPWM   BridgeStopper

	thresholds Thresholds
	phase      Phase
}

// Config bundles everything New needs to wire a Sequencer.
type Config struct {
	Pin15V, Pin3V3, PinDrv1, PinDrv2, PinHV, PinActive hal.Pin
	Clock                                              hal.Clock
	SampleAux                                          AuxSampler
	StopPWM                                            BridgeStopper
	Thresholds                                         Thresholds
}

// New builds a Sequencer in PhaseOff and asserts line-driver 2, which is
// enabled unconditionally at init regardless of the rest of the ramp.
func New(cfg Config) *Sequencer {
	s := &Sequencer{
		pin15V: cfg.Pin15V, pin3V3: cfg.Pin3V3, pinDrv1: cfg.PinDrv1,
		pinDrv2: cfg.PinDrv2, pinHV: cfg.PinHV, pinActive: cfg.PinActive,
		clock: cfg.Clock, sampleAux: cfg.SampleAux, stopPWM: cfg.StopPWM,
		thresholds: cfg.Thresholds, phase: PhaseOff,
	}
	s.pinDrv2.Set(true)
	return s
}

// Phase returns the sequencer's current state.
func (s *Sequencer) Phase() Phase { return s.phase }

const settleUs = 1000

// PowerOn runs the full power-on ramp: 15V, then 3.3V, then (after
// stopping PWM unconditionally) line-driver 1 and the HV rail. If the 15V
// rail or the HV rail reads below its threshold after its settle delay,
// the ramp aborts, unwinds whatever was brought up, and returns
// ErrUndervoltage. The 3.3V rail is not checked.
func (s *Sequencer) PowerOn() error {
	s.pin15V.Set(true)
	s.clock.SleepMicros(settleUs)
	aux := s.sampleAux()
	if !rawAtLeast(aux[decode.Channel15V], s.thresholds.V15) {
		s.powerOffLow()
		return ErrUndervoltage
	}
	s.phase = Phase15VOn

	s.pin3V3.Set(true)
	s.clock.SleepMicros(settleUs)
	s.phase = Phase3V3On

	s.stopPWM()
	s.pinDrv1.Set(true)
	s.clock.SleepMicros(settleUs)
	s.phase = PhaseDrvOn

	s.pinHV.Set(true)
	s.clock.SleepMicros(settleUs)
	aux = s.sampleAux()
	if !rawAtLeast(aux[decode.ChannelHV], s.thresholds.HV) {
		s.powerOffHigh()
		s.powerOffLow()
		return ErrUndervoltage
	}
	s.phase = PhaseHVOn

	s.pinActive.Set(true)
	s.phase = PhaseReady
	return nil
}

// PowerOff runs the exact reverse ramp: HV off (always stopping PWM
// first), then drivers, then 3.3V, then 15V.
func (s *Sequencer) PowerOff() {
	s.powerOffHigh()
	s.powerOffLow()
}

// powerOffHigh de-energizes the HV rail and line-driver 1, always
// stopping PWM first so the bridge can never be driven with HV
// de-asserting underneath it.
func (s *Sequencer) powerOffHigh() {
	s.stopPWM()
	s.pinHV.Set(false)
	s.clock.SleepMicros(settleUs)
	s.pinDrv1.Set(false)
	s.clock.SleepMicros(settleUs)
	s.pinActive.Set(false)
	s.phase = Phase3V3On
}

// powerOffLow de-energizes 3.3V then 15V. Per the interlock invariant,
// callers going through PowerOffLowSupplies directly (not via PowerOff)
// must have already confirmed the HV rail is off; powerOffLow itself is
// the low-level action, PowerOffLowSupplies below is the guarded entry
// point.
func (s *Sequencer) powerOffLow() {
	s.pin3V3.Set(false)
	s.clock.SleepMicros(settleUs)
	s.pin15V.Set(false)
	s.clock.SleepMicros(settleUs)
	s.phase = PhaseOff
}

// PowerOffHighSupplies is the operator-facing entry point for the plasma
// lifecycle's STOP transition: it de-energizes the HV rail and
// line-driver 1 only, leaving the 15V/3.3V rails up (Phase3V3On). A later
// PowerOn runs the whole ramp again, starting from the 15V step.
func (s *Sequencer) PowerOffHighSupplies() {
	s.powerOffHigh()
}

// PowerOffLowSupplies is the guarded operator-facing entry point: it
// refuses to de-energize 15V/3.3V while the HV rail is on.
func (s *Sequencer) PowerOffLowSupplies() error {
	if s.phase >= PhaseHVOn {
		return ErrInterlock
	}
	s.powerOffLow()
	return nil
}

// EStop drives the full power-off sequence unconditionally, with
// precedence over any foreground command. The E-stop interrupt handler,
// lifecycle.Lifecycle.EStop, calls it after stopping the bridge.
func (s *Sequencer) EStop() {
	s.PowerOff()
}

func rawAtLeast(raw, threshold uint16) bool {
	return raw >= threshold
}
