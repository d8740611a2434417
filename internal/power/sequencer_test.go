package power

import (
	"testing"

	"plasmadriver/internal/decode"
	"plasmadriver/internal/hal"
)

func newTestSequencer(aux15, auxHV uint16) (*Sequencer, *hal.FakePin, *hal.FakePin, *int) {
	pin15, pin33, drv1, drv2, hv, active := &hal.FakePin{}, &hal.FakePin{}, &hal.FakePin{}, &hal.FakePin{}, &hal.FakePin{}, &hal.FakePin{}
	clock := &hal.FakeClock{}
	stopCount := 0
	stopPWM := func() { stopCount++ }
	sampleAux := func() [11]uint16 {
		var a [11]uint16
		a[decode.Channel15V] = aux15
		a[decode.ChannelHV] = auxHV
		return a
	}
	s := New(Config{
		Pin15V: pin15, Pin3V3: pin33, PinDrv1: drv1, PinDrv2: drv2, PinHV: hv, PinActive: active,
		Clock: clock, SampleAux: sampleAux, StopPWM: stopPWM,
		Thresholds: Thresholds{V15: 3600, V33: 3389, HV: 3326},
	})
	return s, hv, active, &stopCount
}

func TestSequencer_powerOnHappyPath(t *testing.T) {
	s, _, active, _ := newTestSequencer(3600, 3326)
	if err := s.PowerOn(); err != nil {
		t.Fatalf("PowerOn: %v", err)
	}
	if s.Phase() != PhaseReady {
		t.Errorf("phase = %v, want READY", s.Phase())
	}
	if !active.Get() {
		t.Errorf("expected active indicator asserted")
	}
}

func TestSequencer_powerOnLowRailFailure(t *testing.T) {
	s, hv, active, _ := newTestSequencer(3000, 3326)
	err := s.PowerOn()
	if err != ErrUndervoltage {
		t.Fatalf("expected ErrUndervoltage, got %v", err)
	}
	if s.Phase() != PhaseOff {
		t.Errorf("phase = %v, want OFF after unwind", s.Phase())
	}
	if hv.Get() || active.Get() {
		t.Errorf("HV/active should never have been asserted")
	}
}

func TestSequencer_powerOnHVRailFailure(t *testing.T) {
	s, hv, active, stopCount := newTestSequencer(3600, 1000)
	err := s.PowerOn()
	if err != ErrUndervoltage {
		t.Fatalf("expected ErrUndervoltage, got %v", err)
	}
	if s.Phase() != PhaseOff {
		t.Errorf("phase = %v, want OFF after unwind", s.Phase())
	}
	if hv.Get() {
		t.Errorf("HV rail should have been de-asserted on unwind")
	}
	if active.Get() {
		t.Errorf("active indicator should not be asserted on HV failure")
	}
	if *stopCount == 0 {
		t.Errorf("expected stopPWM called at least once during HV ramp/unwind")
	}
}

func TestSequencer_interlockRejectsLowOffWhileHVOn(t *testing.T) {
	s, _, _, _ := newTestSequencer(3600, 3326)
	if err := s.PowerOn(); err != nil {
		t.Fatalf("PowerOn: %v", err)
	}
	if err := s.PowerOffLowSupplies(); err != ErrInterlock {
		t.Errorf("expected ErrInterlock while HV on, got %v", err)
	}
}

func TestSequencer_powerOffIdempotent(t *testing.T) {
	s, _, _, _ := newTestSequencer(3600, 3326)
	if err := s.PowerOn(); err != nil {
		t.Fatalf("PowerOn: %v", err)
	}
	s.PowerOff()
	if s.Phase() != PhaseOff {
		t.Fatalf("phase = %v, want OFF", s.Phase())
	}
	s.PowerOff()
	if s.Phase() != PhaseOff {
		t.Errorf("second PowerOff must leave phase OFF, got %v", s.Phase())
	}
}

func TestSequencer_eStopPrecedence(t *testing.T) {
	s, hv, active, _ := newTestSequencer(3600, 3326)
	if err := s.PowerOn(); err != nil {
		t.Fatalf("PowerOn: %v", err)
	}
	s.EStop()
	if s.Phase() != PhaseOff {
		t.Errorf("phase = %v, want OFF after E-stop", s.Phase())
	}
	if hv.Get() || active.Get() {
		t.Errorf("E-stop must de-assert HV and active")
	}
}
