// Package remote implements the `~`-prefixed line protocol an external
// operator/GUI uses once it has taken over the serial surface from the
// local TEST-mode menu. Line editing, echo, and CSV formatting for the
// periodic telemetry stream live outside this package (those are named
// external collaborators); this package tokenizes one already-received
// line and dispatches it against the registered Hooks.
package remote

import (
	"errors"
	"strconv"
)

// ErrMalformed is returned when a line doesn't match any known command
// shape.
var ErrMalformed = errors.New("remote: malformed command")

// Hooks are the registered closures a command dispatches into. Each is
// the core's actual behavior; this package only decides which one a line
// invokes and how to format the reply.
type Hooks struct {
	QuerySupply  func(name string) (on bool, ok bool)
	ToggleSupply func(name string) error

	QueryPlasma  func() bool
	TogglePlasma func() error

	QueryDeadtime func() int
	SetDeadtime   func(pct int) error

	QueryFrequency func() int
	SetFrequency   func(hz int) error

	// QueryVoltageSetpoint returns the setpoint in mV, or -1 if disabled.
	QueryVoltageSetpoint func() int
	SetVoltageSetpoint   func(mv int) error

	SetLogging        func(enabled bool)
	LogHeader         func() string
	RequestOneShotLog func()

	SetAutoFrequency func(enabled bool)
	SetAutoVoltage   func(enabled bool)

	AuxDumpCSV func() string

	StopPlasma         func()
	StopAndCutLowRails func()
}

// Dispatcher tokenizes and executes one remote-protocol line at a time.
type Dispatcher struct {
	hooks Hooks
}

// New wraps hooks with a Dispatcher.
func New(hooks Hooks) *Dispatcher {
	return &Dispatcher{hooks: hooks}
}

// Handle executes one line (already stripped of its \r terminator) and
// returns the reply text to write back, or ErrMalformed if the line
// doesn't match any command shape.
func (d *Dispatcher) Handle(line string) (string, error) {
	if line == "" {
		return "", ErrMalformed
	}
	switch line[0] {
	case 'p':
		return d.handleSupply(line[1:])
	case 's':
		return d.handlePlasma(line[1:])
	case 'd':
		return d.handleDeadtime(line[1:])
	case 'f':
		return d.handleFrequency(line[1:])
	case 'v':
		return d.handleVoltage(line[1:])
	case 'l':
		return d.handleLogging(line[1:])
	case 'm':
		return d.handleAutoMode(line[1:])
	case 'a':
		return d.hooks.AuxDumpCSV(), nil
	case 'q':
		d.hooks.StopPlasma()
		return "ok", nil
	case 'z':
		d.hooks.StopAndCutLowRails()
		return "ok", nil
	}
	return "", ErrMalformed
}

func (d *Dispatcher) handleSupply(rest string) (string, error) {
	if len(rest) < 2 {
		return "", ErrMalformed
	}
	op, name := rest[0], rest[1:]
	switch op {
	case '?':
		on, ok := d.hooks.QuerySupply(name)
		if !ok {
			return "", ErrMalformed
		}
		return onOff(on), nil
	case '!':
		if err := d.hooks.ToggleSupply(name); err != nil {
			return "", err
		}
		on, _ := d.hooks.QuerySupply(name)
		return onOff(on), nil
	}
	return "", ErrMalformed
}

func (d *Dispatcher) handlePlasma(rest string) (string, error) {
	switch rest {
	case "?":
		return onOff(d.hooks.QueryPlasma()), nil
	case "!":
		if err := d.hooks.TogglePlasma(); err != nil {
			return "", err
		}
		return onOff(d.hooks.QueryPlasma()), nil
	}
	return "", ErrMalformed
}

func (d *Dispatcher) handleDeadtime(rest string) (string, error) {
	if rest == "?" {
		return strconv.Itoa(d.hooks.QueryDeadtime()), nil
	}
	if len(rest) >= 2 && rest[0] == '!' {
		v, ok := parseUint(rest[1:])
		if !ok {
			return "", ErrMalformed
		}
		if err := d.hooks.SetDeadtime(v); err != nil {
			return "", err
		}
		return "ok", nil
	}
	return "", ErrMalformed
}

func (d *Dispatcher) handleFrequency(rest string) (string, error) {
	if rest == "?" {
		return strconv.Itoa(d.hooks.QueryFrequency()), nil
	}
	if len(rest) >= 2 && rest[0] == '!' {
		v, ok := parseUint(rest[1:])
		if !ok {
			return "", ErrMalformed
		}
		if err := d.hooks.SetFrequency(v); err != nil {
			return "", err
		}
		return "ok", nil
	}
	return "", ErrMalformed
}

func (d *Dispatcher) handleVoltage(rest string) (string, error) {
	if rest == "?" {
		return strconv.Itoa(d.hooks.QueryVoltageSetpoint()), nil
	}
	v, ok := parseInt(rest)
	if !ok {
		return "", ErrMalformed
	}
	if err := d.hooks.SetVoltageSetpoint(v); err != nil {
		return "", err
	}
	return "ok", nil
}

func (d *Dispatcher) handleLogging(rest string) (string, error) {
	switch rest {
	case "1":
		d.hooks.SetLogging(true)
		return "ok", nil
	case "0":
		d.hooks.SetLogging(false)
		return "ok", nil
	case "h":
		return d.hooks.LogHeader(), nil
	case "?":
		d.hooks.RequestOneShotLog()
		return "ok", nil
	}
	return "", ErrMalformed
}

func (d *Dispatcher) handleAutoMode(rest string) (string, error) {
	switch rest {
	case "f1":
		d.hooks.SetAutoFrequency(true)
	case "f0":
		d.hooks.SetAutoFrequency(false)
	case "v1":
		d.hooks.SetAutoVoltage(true)
	case "v0":
		d.hooks.SetAutoVoltage(false)
	default:
		return "", ErrMalformed
	}
	return "ok", nil
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}

// parseUint accumulates a non-negative decimal integer by standard
// positional weighting (v = v*10 + digit), rejecting empty or non-digit
// payloads. This replaces digit-times-position arithmetic that does not
// actually compute a base-10 value.
func parseUint(s string) (int, bool) {
	if s == "" {
		return 0, false
	}
	v := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c < '0' || c > '9' {
			return 0, false
		}
		v = v*10 + int(c-'0')
	}
	return v, true
}

// parseInt is parseUint with an optional leading '-', needed for the
// voltage setpoint's "-1 disables" sentinel.
func parseInt(s string) (int, bool) {
	if s == "" {
		return 0, false
	}
	neg := false
	if s[0] == '-' {
		neg = true
		s = s[1:]
	}
	v, ok := parseUint(s)
	if !ok {
		return 0, false
	}
	if neg {
		v = -v
	}
	return v, true
}
