// Package lifecycle drives the plasma run state machine: IDLE, STRIKE,
// ACTIVE and STOP. It is the one place that ties the bridge driver,
// acquisition engine, decoder, and both closed-loop controllers together
// into a single per-iteration step, the way the foreground loop calls it.
package lifecycle

import (
	"errors"
	"time"

	"plasmadriver/internal/acquire"
	"plasmadriver/internal/bridge"
	"plasmadriver/internal/control"
	"plasmadriver/internal/decode"
	"plasmadriver/internal/hal"
	"plasmadriver/internal/power"
)

// State is one state in the plasma lifecycle.
type State int

const (
	StateIdle State = iota
	StateStrike
	StateActive
	StateStop
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateStrike:
		return "STRIKE"
	case StateActive:
		return "ACTIVE"
	case StateStop:
		return "STOP"
	default:
		return "UNKNOWN"
	}
}

// strikeFrequencyHz and strikeDeadtimePct are the initial setpoint STRIKE
// programs before handing control to the closed loops.
const (
	strikeFrequencyHz = 45_000
	strikeDeadtimePct = 1
)

// captureTimeout bounds how long ACTIVE will busy-wait on one primary
// capture before giving up and logging a peripheral fault.
const captureTimeout = 50 * time.Millisecond

// ErrHVNotReady is returned by Strike when the power sequencer has not
// reached PhaseReady (HV rail energized).
var ErrHVNotReady = errors.New("lifecycle: HV rail not ready, cannot strike")

// ErrAlreadyActive is returned by Strike when the plasma is already
// running.
var ErrAlreadyActive = errors.New("lifecycle: plasma already active")

// voltageDisabled is the sentinel VoltageSetpointMv value meaning the
// voltage controller is off, matching the remote protocol's "-1 disables"
// convention.
const voltageDisabled = -1

// Lifecycle owns the plasma run state machine and the per-iteration
// control step. It does not own the UART or command parsing; those are
// board/remote-protocol glue that calls into this type.
type Lifecycle struct {
	driver *bridge.Driver
	engine *acquire.Engine
	buf    *acquire.CaptureBuffer
	seq    *power.Sequencer
	clock  hal.Clock

	state State

	autoFrequency bool
	autoVoltage   bool
	voltageSetMv  int

	loggingArmed    bool
	oneShotLogArmed bool
	debug           bool

	lastUpper, lastLower float64
}

// Config bundles the collaborators New wires a Lifecycle to.
type Config struct {
	Driver *bridge.Driver
	Engine *acquire.Engine
	Buffer *acquire.CaptureBuffer
	Seq    *power.Sequencer
	Clock  hal.Clock
}

// New builds a Lifecycle in StateIdle with voltage control disabled.
func New(cfg Config) *Lifecycle {
	return &Lifecycle{
		driver: cfg.Driver, engine: cfg.Engine, buf: cfg.Buffer,
		seq: cfg.Seq, clock: cfg.Clock,
		state: StateIdle, voltageSetMv: voltageDisabled,
	}
}

// State returns the lifecycle's current state.
func (l *Lifecycle) State() State { return l.state }

// CurrentSetpoint returns the bridge's last-applied Setpoint.
func (l *Lifecycle) CurrentSetpoint() bridge.Setpoint { return l.driver.Current() }

// ApplySetpoint validates and applies a manually-entered frequency/
// dead-time pair, preserving whether the bridge is currently running.
// This backs the remote protocol's and TEST-mode menu's direct `f!`/`d!`
// commands, as distinct from the closed loops' per-iteration deltas.
func (l *Lifecycle) ApplySetpoint(frequencyHz, deadtimePct int) error {
	sp, err := bridge.NewSetpoint(l.driver.Running(), frequencyHz, deadtimePct)
	if err != nil {
		return err
	}
	l.driver.Apply(sp)
	return nil
}

// Strike transitions IDLE -> ACTIVE through the momentary STRIKE state: it
// requires the power sequencer to already be at PhaseReady, programs the
// bridge to its initial 45kHz/1% setpoint, and starts the outputs.
func (l *Lifecycle) Strike() error {
	if l.state == StateActive {
		return ErrAlreadyActive
	}
	if l.seq.Phase() != power.PhaseReady {
		return ErrHVNotReady
	}
	l.state = StateStrike

	sp, err := bridge.NewSetpoint(true, strikeFrequencyHz, strikeDeadtimePct)
	if err != nil {
		return err
	}
	l.driver.Apply(sp)
	l.state = StateActive
	return nil
}

// SetAutoFrequency and SetAutoVoltage toggle the two closed loops the
// ACTIVE step runs each iteration.
func (l *Lifecycle) SetAutoFrequency(enabled bool) { l.autoFrequency = enabled }
func (l *Lifecycle) SetAutoVoltage(enabled bool)   { l.autoVoltage = enabled }

// SetVoltageSetpoint sets the voltage controller's target in mV, or
// disables it when mv is negative.
func (l *Lifecycle) SetVoltageSetpoint(mv int) {
	if mv < 0 {
		l.voltageSetMv = voltageDisabled
		return
	}
	l.voltageSetMv = mv
}

// VoltageSetpoint returns the current target in mV, or -1 if disabled.
func (l *Lifecycle) VoltageSetpoint() int { return l.voltageSetMv }

// SetLogging arms or disarms the continuous per-iteration CSV log stream.
func (l *Lifecycle) SetLogging(enabled bool) { l.loggingArmed = enabled }

// RequestOneShotLog arms exactly one CSV log line on the next ACTIVE step,
// independent of the continuous logging flag.
func (l *Lifecycle) RequestOneShotLog() { l.oneShotLogArmed = true }

// SetDebug sets the debug-verbosity flag and Debug reports it; nothing in
// this package prints diagnostics based on it.
func (l *Lifecycle) SetDebug(enabled bool) { l.debug = enabled }
func (l *Lifecycle) Debug() bool           { return l.debug }

// Step runs one ACTIVE iteration: capture, optionally run the frequency
// and voltage controllers, apply the combined setpoint, and return the CSV
// log line if one was requested. It is a no-op (ok=false) outside
// StateActive.
func (l *Lifecycle) Step() (logLine string, ok bool, err error) {
	if l.state != StateActive {
		return "", false, nil
	}

	sp := l.driver.Current()
	groups := acquire.GroupsForFrequency(sp.FrequencyHz)
	if capErr := l.engine.CapturePrimary(groups, captureTimeout); capErr != nil {
		return "", false, capErr
	}

	if l.autoFrequency {
		freqResult := control.Frequency(l.buf)
		if freqResult.Valid {
			l.lastUpper, l.lastLower = freqResult.Upper, freqResult.Lower
			sp.FrequencyHz = control.ApplyFrequencyDelta(sp.FrequencyHz, freqResult.DeltaHz, control.RemoteFrequencyCeilingHz)
		}
	}

	if l.autoVoltage && l.voltageSetMv != voltageDisabled {
		voltResult := control.Voltage(l.buf, float64(l.voltageSetMv))
		sp.DeadtimePct = control.ApplyDeadtimeDelta(sp.DeadtimePct, voltResult.DeltaDeadtimePct)
	}

	newSp, spErr := bridge.NewSetpoint(true, sp.FrequencyHz, sp.DeadtimePct)
	if spErr != nil {
		return "", false, spErr
	}
	l.driver.Apply(newSp)

	wantLog := l.loggingArmed || l.oneShotLogArmed
	l.oneShotLogArmed = false
	if !wantLog {
		return "", false, nil
	}
	return l.csvLine(newSp), true, nil
}

// Stop transitions ACTIVE -> STOP -> IDLE: stops the PWM outputs and
// powers off the HV rail, leaving the 15V/3.3V rails energized
// (Phase3V3On). Strike refuses until the sequencer is back at PhaseReady,
// which PowerOn reaches by running the whole ramp again. Every transition
// out of a supply-on state passes through
// stop_PWM before HV_OFF; PowerOffHighSupplies enforces that ordering.
func (l *Lifecycle) Stop() {
	l.state = StateStop
	off, _ := bridge.NewSetpoint(false, bridge.MinFrequencyHz, bridge.MinDeadtimePct)
	l.driver.Apply(off)
	l.seq.PowerOffHighSupplies()
	l.state = StateIdle
}

// EStop is the handler the emergency-stop interrupt calls directly. It
// always drives the full power-off sequence regardless of the current
// state and returns to IDLE, so any capture Step attempts afterward are
// refused because the plasma is no longer active.
func (l *Lifecycle) EStop() {
	off, _ := bridge.NewSetpoint(false, bridge.MinFrequencyHz, bridge.MinDeadtimePct)
	l.driver.Apply(off)
	l.seq.EStop()
	l.state = StateIdle
}

// csvLine renders the CSV log line format: µs_time, freq_hz,
// deadtime_pct, Is_mA, VplaL1_mV, VplaL2_mV, VbriS1_mV, VbriS2_mV,
// gate_raw, upper, lower. Per-sample fields come from group 0 of the most
// recent capture; upper/lower are the window boundary currents, in mA,
// from the most recent valid frequency-controller result (they keep that
// value on steps where the controller is off or invalid, and are 0 until
// the first valid result).
func (l *Lifecycle) csvLine(sp bridge.Setpoint) string {
	g := l.buf.Group(0)
	current := decode.Current(g[acquire.SlotBridgeCurrent])
	vL1 := decode.PlasmaVoltage(g[acquire.SlotPlasmaVoltL1])
	vL2 := decode.PlasmaVoltage(g[acquire.SlotPlasmaVoltL2])
	vBriS1 := decode.BridgeVoltage(g[acquire.SlotBridgeVoltS1])
	vBriS2 := decode.BridgeVoltage(g[acquire.SlotBridgeVoltS2])
	gate := g[acquire.SlotTimerGate]

	return sprintCSVLine(l.clock.NowMicros(), sp.FrequencyHz, sp.DeadtimePct,
		current, vL1, vL2, vBriS1, vBriS2, gate, l.lastUpper, l.lastLower)
}
