// Package acquire implements the synchronized dual-ADC + DMA acquisition
// engine: one PWM-gated primary chain capturing bridge current and
// bridge/plasma voltages, and one scan-mode aux chain monitoring supply
// rails and thermistors. Both chains share a single completion-hook
// dispatch so captures never overlap.
package acquire

import (
	"errors"
	"math"
	"runtime"
	"time"
)

const (
	// PrimaryGroupSlots is the number of interleaved 16-bit values per
	// primary capture group: {TimerGate, BridgeCurrent, BridgeVoltS1,
	// BridgeVoltS2, PlasmaVoltL1, PlasmaVoltL2}.
	PrimaryGroupSlots = 6

	// MaxGroups bounds how many groups a primary capture can hold.
	MaxGroups = 100

	// AuxChannels is the aux chain's channel count.
	AuxChannels = 11
)

// ErrTooManyGroups is returned by StartPrimary when GroupsUsed exceeds
// MaxGroups.
var ErrTooManyGroups = errors.New("acquire: groups_used exceeds buffer capacity")

// Primary chain slot indices within one group.
const (
	SlotTimerGate = iota
	SlotBridgeCurrent
	SlotBridgeVoltS1
	SlotBridgeVoltS2
	SlotPlasmaVoltL1
	SlotPlasmaVoltL2
)

// CaptureBuffer holds one primary capture and one aux capture, along
// with the busy flags the ISR dispatch chain owns exclusively.
type CaptureBuffer struct {
	PrimarySamples [MaxGroups * PrimaryGroupSlots]uint16
	AuxSamples     [AuxChannels]uint16
	GroupsUsed     int

	busyPrimary bool
	busyAux     bool
}

// GroupsForFrequency computes groups_used for a bridge running at
// frequencyHz: enough 1us groups to span two periods, plus two guard
// groups so the first edge of the following period is captured, capped
// at MaxGroups.
func GroupsForFrequency(frequencyHz int) int {
	periodUs := 1_000_000.0 / float64(frequencyHz)
	groups := int(math.Ceil(2*periodUs)) + 2
	if groups > MaxGroups {
		groups = MaxGroups
	}
	return groups
}

// Group returns the 6 interleaved slot values for group index i.
func (b *CaptureBuffer) Group(i int) [PrimaryGroupSlots]uint16 {
	var g [PrimaryGroupSlots]uint16
	copy(g[:], b.PrimarySamples[i*PrimaryGroupSlots:(i+1)*PrimaryGroupSlots])
	return g
}

// BusyPrimary and BusyAux report the single-writer busy flags; they are
// cleared only by the matching DMA-complete callback.
func (b *CaptureBuffer) BusyPrimary() bool { return b.busyPrimary }
func (b *CaptureBuffer) BusyAux() bool     { return b.busyAux }

// CompletionHook is invoked from an interrupt context when a chain's DMA
// transfer completes (or errors). It is the only place that may trigger
// the next pipeline stage; this is what keeps primary and aux captures
// from ever overlapping.
type CompletionHook func(errCode int)

// Engine owns the two DMA channels and the CaptureBuffer they fill, and
// dispatches completion hooks registered by the foreground/lifecycle
// layer.
type Engine struct {
	primaryCh Channel
	auxCh     Channel
	buf       *CaptureBuffer

	onPrimaryDone CompletionHook
	onAuxDone     CompletionHook
}

// NewEngine wires an Engine to its DMA channels and the buffer they fill.
func NewEngine(primaryCh, auxCh Channel, buf *CaptureBuffer) *Engine {
	return &Engine{primaryCh: primaryCh, auxCh: auxCh, buf: buf}
}

// OnPrimaryDone and OnAuxDone register the completion hooks the ISRs
// invoke. Registering nil disables dispatch for that chain.
func (e *Engine) OnPrimaryDone(hook CompletionHook) { e.onPrimaryDone = hook }
func (e *Engine) OnAuxDone(hook CompletionHook)     { e.onAuxDone = hook }

// StartPrimary arms the primary chain for groupsUsed groups, gated on the
// next PWM rising edge. It fails without touching hardware if groupsUsed
// exceeds the buffer's capacity.
func (e *Engine) StartPrimary(groupsUsed int) error {
	if groupsUsed > MaxGroups {
		return ErrTooManyGroups
	}
	e.buf.GroupsUsed = groupsUsed
	n := groupsUsed * PrimaryGroupSlots
	e.primaryCh.Configure(e.buf.PrimarySamples[:n], ReqPrimaryADC)
	e.buf.busyPrimary = true
	if err := e.primaryCh.Start(); err != nil {
		e.buf.busyPrimary = false
		return err
	}
	return nil
}

// StartAux arms the aux scan-mode chain.
func (e *Engine) StartAux() error {
	e.auxCh.Configure(e.buf.AuxSamples[:], ReqAuxADC)
	e.buf.busyAux = true
	if err := e.auxCh.Start(); err != nil {
		e.buf.busyAux = false
		return err
	}
	return nil
}

// CapturePrimary starts a primary capture for groupsUsed groups and
// blocks until the DMA-complete interrupt clears busy_primary or timeout
// elapses. This is the foreground busy-wait suspension point; it does not
// itself invoke the completion hook chain (the real ISR does that on
// actual hardware, and in tests a fake channel may call PrimaryComplete
// synchronously from Start).
func (e *Engine) CapturePrimary(groupsUsed int, timeout time.Duration) error {
	if err := e.StartPrimary(groupsUsed); err != nil {
		return err
	}
	dl := newDeadline(timeout)
	for e.buf.BusyPrimary() {
		if dl.expired() {
			return ErrChannelTimeout
		}
		runtime.Gosched()
	}
	return nil
}

// CaptureAux starts an aux scan-mode capture and blocks until the
// DMA-complete interrupt clears busy_aux or timeout elapses.
func (e *Engine) CaptureAux(timeout time.Duration) error {
	if err := e.StartAux(); err != nil {
		return err
	}
	dl := newDeadline(timeout)
	for e.buf.BusyAux() {
		if dl.expired() {
			return ErrChannelTimeout
		}
		runtime.Gosched()
	}
	return nil
}

// PrimaryComplete is the ISR entry point for the primary chain's
// DMA-complete (or DMA/ADC error) interrupt. errCode is 0 on success.
// The busy flag is cleared unconditionally: on error, the pipeline halts
// until a foreground restart, but it must not wedge on a stale flag.
func (e *Engine) PrimaryComplete(errCode int) {
	e.buf.busyPrimary = false
	if e.onPrimaryDone != nil {
		e.onPrimaryDone(errCode)
	}
}

// AuxComplete is the ISR entry point for the aux chain's DMA-complete (or
// error) interrupt.
func (e *Engine) AuxComplete(errCode int) {
	e.buf.busyAux = false
	if e.onAuxDone != nil {
		e.onAuxDone(errCode)
	}
}

// AbortAll cancels any in-flight transfer on both chains and clears both
// busy flags, used on the foreground-restart error path after a reported
// DMA/ADC error.
func (e *Engine) AbortAll() {
	e.primaryCh.Abort()
	e.auxCh.Abort()
	e.buf.busyPrimary = false
	e.buf.busyAux = false
}
