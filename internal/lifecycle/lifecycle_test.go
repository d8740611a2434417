package lifecycle

import (
	"strings"
	"testing"

	"plasmadriver/internal/acquire"
	"plasmadriver/internal/bridge"
	"plasmadriver/internal/hal"
	"plasmadriver/internal/power"
)

type fakeHW struct {
	timing  bridge.Timing
	started int
	stopped int
}

func (f *fakeHW) ApplyTiming(t bridge.Timing) { f.timing = t }
func (f *fakeHW) Start()                      { f.started++ }
func (f *fakeHW) Stop()                       { f.stopped++ }

// completingChannel fires its owner Engine's completion callback
// synchronously from Start, standing in for the DMA-complete interrupt a
// host test has no hardware to actually wait on.
type completingChannel struct {
	onStart func()
	busy    bool
}

func (c *completingChannel) Configure(dst []uint16, req acquire.RequestSignal) {}
func (c *completingChannel) Start() error {
	c.busy = true
	if c.onStart != nil {
		c.onStart()
	}
	return nil
}
func (c *completingChannel) Busy() bool { return c.busy }
func (c *completingChannel) Abort()     { c.busy = false }

func newTestLifecycle(t *testing.T) (*Lifecycle, *fakeHW, *power.Sequencer) {
	t.Helper()
	hw := &fakeHW{}
	driver := bridge.NewDriver(hw)

	buf := &acquire.CaptureBuffer{}
	primary := &completingChannel{}
	aux := &completingChannel{}
	engine := acquire.NewEngine(primary, aux, buf)
	primary.onStart = func() { engine.PrimaryComplete(0) }
	aux.onStart = func() { engine.AuxComplete(0) }

	for i := 0; i < 6; i++ {
		base := i * acquire.PrimaryGroupSlots
		buf.PrimarySamples[base+acquire.SlotBridgeCurrent] = 29_000
		buf.PrimarySamples[base+acquire.SlotPlasmaVoltL1] = 30_000
		buf.PrimarySamples[base+acquire.SlotPlasmaVoltL2] = 30_000
	}

	pins := make([]*hal.FakePin, 6)
	for i := range pins {
		pins[i] = &hal.FakePin{}
	}
	clock := &hal.FakeClock{}
	seq := power.New(power.Config{
		Pin15V: pins[0], Pin3V3: pins[1], PinDrv1: pins[2], PinDrv2: pins[3],
		PinHV: pins[4], PinActive: pins[5],
		Clock: clock,
		SampleAux: func() [11]uint16 {
			return [11]uint16{}
		},
		StopPWM:    func() { driver.Apply(bridge.Setpoint{On: false, FrequencyHz: bridge.MinFrequencyHz, DeadtimePct: bridge.MinDeadtimePct}) },
		Thresholds: power.Thresholds{V15: 0, V33: 0, HV: 0},
	})

	l := New(Config{Driver: driver, Engine: engine, Buffer: buf, Seq: seq, Clock: clock})
	return l, hw, seq
}

func TestLifecycle_strikeRefusedWithoutHV(t *testing.T) {
	l, _, _ := newTestLifecycle(t)
	if err := l.Strike(); err != ErrHVNotReady {
		t.Fatalf("Strike() = %v, want ErrHVNotReady", err)
	}
	if l.State() != StateIdle {
		t.Errorf("state = %v, want IDLE", l.State())
	}
}

func TestLifecycle_strikeTransitionsToActive(t *testing.T) {
	l, hw, seq := newTestLifecycle(t)
	if err := seq.PowerOn(); err != nil {
		t.Fatalf("PowerOn: %v", err)
	}
	if err := l.Strike(); err != nil {
		t.Fatalf("Strike: %v", err)
	}
	if l.State() != StateActive {
		t.Errorf("state = %v, want ACTIVE", l.State())
	}
	sp := l.driver.Current()
	if sp.FrequencyHz != strikeFrequencyHz || sp.DeadtimePct != strikeDeadtimePct || !sp.On {
		t.Errorf("initial setpoint = %+v, want {on:true %d %d}", sp, strikeFrequencyHz, strikeDeadtimePct)
	}
	if hw.started == 0 {
		t.Errorf("expected bridge outputs started on strike")
	}
}

func TestLifecycle_strikeRefusedWhenAlreadyActive(t *testing.T) {
	l, _, seq := newTestLifecycle(t)
	if err := seq.PowerOn(); err != nil {
		t.Fatalf("PowerOn: %v", err)
	}
	if err := l.Strike(); err != nil {
		t.Fatalf("Strike: %v", err)
	}
	if err := l.Strike(); err != ErrAlreadyActive {
		t.Fatalf("second Strike() = %v, want ErrAlreadyActive", err)
	}
}

func TestLifecycle_applySetpointPreservesRunning(t *testing.T) {
	l, _, seq := newTestLifecycle(t)
	if err := seq.PowerOn(); err != nil {
		t.Fatalf("PowerOn: %v", err)
	}
	if err := l.Strike(); err != nil {
		t.Fatalf("Strike: %v", err)
	}
	if err := l.ApplySetpoint(40_000, 5); err != nil {
		t.Fatalf("ApplySetpoint: %v", err)
	}
	sp := l.CurrentSetpoint()
	if !sp.On || sp.FrequencyHz != 40_000 || sp.DeadtimePct != 5 {
		t.Errorf("setpoint = %+v, want {on:true 40000 5}", sp)
	}
	if err := l.ApplySetpoint(1, 5); err == nil {
		t.Errorf("expected out-of-range frequency to be rejected")
	}
}

func TestLifecycle_debugToggle(t *testing.T) {
	l, _, _ := newTestLifecycle(t)
	if l.Debug() {
		t.Fatalf("debug should default to off")
	}
	l.SetDebug(true)
	if !l.Debug() {
		t.Errorf("expected debug on after SetDebug(true)")
	}
}

func TestLifecycle_stepOutsideActiveIsNoop(t *testing.T) {
	l, _, _ := newTestLifecycle(t)
	line, ok, err := l.Step()
	if err != nil || ok || line != "" {
		t.Errorf("Step() outside ACTIVE = %q, %v, %v; want \"\", false, nil", line, ok, err)
	}
}

func TestLifecycle_stepRunsCaptureAndLogs(t *testing.T) {
	l, _, seq := newTestLifecycle(t)
	if err := seq.PowerOn(); err != nil {
		t.Fatalf("PowerOn: %v", err)
	}
	if err := l.Strike(); err != nil {
		t.Fatalf("Strike: %v", err)
	}
	l.SetLogging(true)

	line, ok, err := l.Step()
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	if !ok || line == "" {
		t.Fatalf("expected a log line when logging is armed, got %q, %v", line, ok)
	}
	if !strings.Contains(line, ",") {
		t.Errorf("log line doesn't look like CSV: %q", line)
	}
}

func TestLifecycle_oneShotLogConsumedOnce(t *testing.T) {
	l, _, seq := newTestLifecycle(t)
	if err := seq.PowerOn(); err != nil {
		t.Fatalf("PowerOn: %v", err)
	}
	if err := l.Strike(); err != nil {
		t.Fatalf("Strike: %v", err)
	}
	l.RequestOneShotLog()

	_, ok, err := l.Step()
	if err != nil || !ok {
		t.Fatalf("first Step after RequestOneShotLog should log, got ok=%v err=%v", ok, err)
	}
	_, ok, err = l.Step()
	if err != nil || ok {
		t.Fatalf("second Step should not log, got ok=%v err=%v", ok, err)
	}
}

func TestLifecycle_stopReturnsToIdle(t *testing.T) {
	l, hw, seq := newTestLifecycle(t)
	if err := seq.PowerOn(); err != nil {
		t.Fatalf("PowerOn: %v", err)
	}
	if err := l.Strike(); err != nil {
		t.Fatalf("Strike: %v", err)
	}
	l.Stop()
	if l.State() != StateIdle {
		t.Errorf("state = %v, want IDLE", l.State())
	}
	if seq.Phase() != power.Phase3V3On {
		t.Errorf("phase = %v, want 3V3_ON (HV off, low rails left up)", seq.Phase())
	}
	if hw.stopped == 0 {
		t.Errorf("expected bridge outputs stopped")
	}
}

func TestLifecycle_eStopRefusesSubsequentStep(t *testing.T) {
	l, _, seq := newTestLifecycle(t)
	if err := seq.PowerOn(); err != nil {
		t.Fatalf("PowerOn: %v", err)
	}
	if err := l.Strike(); err != nil {
		t.Fatalf("Strike: %v", err)
	}

	l.EStop()

	if l.State() != StateIdle {
		t.Errorf("state = %v, want IDLE after E-stop", l.State())
	}
	if seq.Phase() != power.PhaseOff {
		t.Errorf("phase = %v, want OFF after E-stop", seq.Phase())
	}
	if _, ok, _ := l.Step(); ok {
		t.Errorf("Step after E-stop should be refused (on=false), got ok=true")
	}
}
