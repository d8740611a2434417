// Command plasmadriver is the board bring-up and foreground control loop
// for the plasma driver core: it wires the hardware adapters from
// setupBoard into the portable internal/* packages, then runs the
// single-threaded cooperative loop that consumes one command per
// iteration before driving the lifecycle's control step.
package main

import (
	"fmt"
	"time"

	"plasmadriver/internal/bridge"
	"plasmadriver/internal/config"
	"plasmadriver/internal/decode"
	"plasmadriver/internal/lifecycle"
	"plasmadriver/internal/power"
	"plasmadriver/internal/remote"
)

// commandRingSize bounds the byte-oriented command ring the UART receive
// interrupt fills; an overflowing ring resets silently rather than acting
// on a corrupted command, matching the documented command_ready protocol.
const commandRingSize = 128

// auxDumpTimeout bounds the one-shot aux scan the `a` command triggers.
const auxDumpTimeout = 50 * time.Millisecond

// powerThresholds are the raw aux-chain codes the three scenarios in the
// design notes were worked against.
var powerThresholds = power.Thresholds{V15: 3600, V33: 3389, HV: 3326}

func main() {
	b, err := setupBoard()
	if err != nil {
		panic("board setup failed: " + err.Error())
	}

	store := config.New(b.flashSector)
	mode := store.Load().Mode

	seq := power.New(power.Config{
		Pin15V: b.pin15V, Pin3V3: b.pin3V3, PinDrv1: b.pinDrv1, PinDrv2: b.pinDrv2,
		PinHV: b.pinHV, PinActive: b.pinActive,
		Clock:      b.clock,
		SampleAux:  b.sampleAux,
		StopPWM:    func() { b.driver.Apply(bridge.Setpoint{On: false, FrequencyHz: bridge.MinFrequencyHz, DeadtimePct: bridge.MinDeadtimePct}) },
		Thresholds: powerThresholds,
	})
	lc := lifecycle.New(lifecycle.Config{
		Driver: b.driver, Engine: b.engine, Buffer: b.buf, Seq: seq, Clock: b.clock,
	})
	b.pinEStop.SetInterrupt(true, lc.EStop)

	dispatcher := remote.New(buildHooks(lc, seq, store, b))
	ring := newCommandRing(commandRingSize)

	b.uart.WriteString(fmt.Sprintf("plasmadriver ready, mode=%s\r\n", mode))

	for {
		if line, ok := ring.pollLine(b.uart); ok {
			reply, cmdErr := dispatcher.Handle(line)
			if cmdErr != nil {
				b.uart.WriteString("err: " + cmdErr.Error() + "\r\n")
			} else {
				b.uart.WriteString(reply + "\r\n")
			}
		}

		line, logged, stepErr := lc.Step()
		if stepErr != nil {
			b.uart.WriteString("fault: " + stepErr.Error() + "\r\n")
			continue
		}
		if logged {
			b.uart.WriteString(line + "\r\n")
		}
	}
}

// buildHooks adapts the lifecycle, power sequencer and config store to
// the remote protocol's registered-closure surface. Individual rail
// queries report the sequencer's aggregate Phase rather than an
// independent per-rail flag: the ramp is strictly ordered, so "is 3.3V
// on" and "has the sequencer reached at least Phase3V3On" are the same
// question.
func buildHooks(lc *lifecycle.Lifecycle, seq *power.Sequencer, store *config.Store, b *board) remote.Hooks {
	querySupply := func(name string) (bool, bool) {
		switch name {
		case "15", "lv":
			return seq.Phase() >= power.Phase15VOn, true
		case "3.3":
			return seq.Phase() >= power.Phase3V3On, true
		case "hv":
			return seq.Phase() >= power.PhaseHVOn, true
		}
		return false, false
	}
	toggleSupply := func(name string) error {
		switch name {
		case "15", "lv", "3.3":
			if seq.Phase() == power.PhaseOff {
				return seq.PowerOn()
			}
			return seq.PowerOffLowSupplies()
		case "hv":
			if seq.Phase() < power.PhaseHVOn {
				return seq.PowerOn()
			}
			seq.PowerOffHighSupplies()
			return nil
		}
		return remote.ErrMalformed
	}

	return remote.Hooks{
		QuerySupply:  querySupply,
		ToggleSupply: toggleSupply,

		QueryPlasma: func() bool { return lc.State() == lifecycle.StateActive },
		TogglePlasma: func() error {
			if lc.State() == lifecycle.StateActive {
				lc.Stop()
				return nil
			}
			return lc.Strike()
		},

		QueryDeadtime: func() int { return lc.CurrentSetpoint().DeadtimePct },
		SetDeadtime: func(pct int) error {
			sp := lc.CurrentSetpoint()
			return lc.ApplySetpoint(sp.FrequencyHz, pct)
		},

		QueryFrequency: func() int { return lc.CurrentSetpoint().FrequencyHz },
		SetFrequency: func(hz int) error {
			sp := lc.CurrentSetpoint()
			return lc.ApplySetpoint(hz, sp.DeadtimePct)
		},

		QueryVoltageSetpoint: lc.VoltageSetpoint,
		SetVoltageSetpoint:   func(mv int) error { lc.SetVoltageSetpoint(mv); return nil },

		SetLogging:        lc.SetLogging,
		LogHeader:          lifecycle.CSVHeader,
		RequestOneShotLog:  lc.RequestOneShotLog,
		SetAutoFrequency:   lc.SetAutoFrequency,
		SetAutoVoltage:     lc.SetAutoVoltage,

		// The `a` reply is FormatAuxDump's text: one labelled
		// "index name: code" line per aux channel, not comma-separated.
		AuxDumpCSV: func() string {
			if err := b.engine.CaptureAux(auxDumpTimeout); err != nil {
				return "err: " + err.Error()
			}
			return decode.FormatAuxDump(b.buf.AuxSamples)
		},

		StopPlasma: func() {
			if lc.State() == lifecycle.StateActive {
				lc.Stop()
			}
		},
		StopAndCutLowRails: func() {
			if lc.State() == lifecycle.StateActive {
				lc.Stop()
			}
			_ = seq.PowerOffLowSupplies()
		},
	}
}

func newCommandRing(size int) *commandRing {
	return &commandRing{buf: make([]byte, 0, size), cap: size}
}

// commandRing accumulates UART bytes until a \r terminator, matching the
// documented command_ready protocol; an overflow silently discards the
// partial line rather than ever acting on a corrupted command.
type commandRing struct {
	buf []byte
	cap int
}

func (r *commandRing) pollLine(u byteReader) (string, bool) {
	for {
		b, ok := u.ReadByte()
		if !ok {
			return "", false
		}
		if b == '\r' {
			line := string(r.buf)
			r.buf = r.buf[:0]
			return line, true
		}
		if len(r.buf) >= r.cap {
			r.buf = r.buf[:0]
			continue
		}
		r.buf = append(r.buf, b)
	}
}

// byteReader is the narrow slice of hal.UART the command ring needs.
type byteReader interface {
	ReadByte() (byte, bool)
}
