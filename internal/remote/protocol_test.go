package remote

import "testing"

func testHooks() Hooks {
	supplies := map[string]bool{"15": true, "3.3": false, "hv": false, "lv": true}
	plasmaOn := false
	deadtime := 10
	freq := 30000
	voltage := -1
	logging := false
	autoFreq, autoVolt := false, false
	_, _, _ = logging, autoFreq, autoVolt

	return Hooks{
		QuerySupply: func(name string) (bool, bool) {
			v, ok := supplies[name]
			return v, ok
		},
		ToggleSupply: func(name string) error {
			if _, ok := supplies[name]; !ok {
				return ErrMalformed
			}
			supplies[name] = !supplies[name]
			return nil
		},
		QueryPlasma:  func() bool { return plasmaOn },
		TogglePlasma: func() error { plasmaOn = !plasmaOn; return nil },

		QueryDeadtime: func() int { return deadtime },
		SetDeadtime:   func(pct int) error { deadtime = pct; return nil },

		QueryFrequency: func() int { return freq },
		SetFrequency:   func(hz int) error { freq = hz; return nil },

		QueryVoltageSetpoint: func() int { return voltage },
		SetVoltageSetpoint:   func(mv int) error { voltage = mv; return nil },

		SetLogging:        func(enabled bool) { logging = enabled },
		LogHeader:         func() string { return "us_time,freq_hz,deadtime_pct" },
		RequestOneShotLog: func() {},

		SetAutoFrequency: func(enabled bool) { autoFreq = enabled },
		SetAutoVoltage:   func(enabled bool) { autoVolt = enabled },

		AuxDumpCSV: func() string { return "aux,csv" },

		StopPlasma:         func() { plasmaOn = false },
		StopAndCutLowRails: func() { plasmaOn = false; supplies["15"] = false },
	}
}

func TestDispatcher_supplyQueryAndToggle(t *testing.T) {
	d := New(testHooks())

	reply, err := d.Handle("p?15")
	if err != nil || reply != "on" {
		t.Fatalf("p?15 = %q, %v; want on, nil", reply, err)
	}
	reply, err = d.Handle("p!15")
	if err != nil || reply != "off" {
		t.Fatalf("p!15 = %q, %v; want off, nil", reply, err)
	}
}

func TestDispatcher_deadtimeSetAndQuery(t *testing.T) {
	d := New(testHooks())
	if reply, err := d.Handle("d!25"); err != nil || reply != "ok" {
		t.Fatalf("d!25 = %q, %v", reply, err)
	}
	if reply, err := d.Handle("d?"); err != nil || reply != "25" {
		t.Fatalf("d? = %q, %v; want 25", reply, err)
	}
}

func TestDispatcher_frequencySetAndQuery(t *testing.T) {
	d := New(testHooks())
	if reply, err := d.Handle("f!46000"); err != nil || reply != "ok" {
		t.Fatalf("f!46000 = %q, %v", reply, err)
	}
	if reply, err := d.Handle("f?"); err != nil || reply != "46000" {
		t.Fatalf("f? = %q, %v; want 46000", reply, err)
	}
}

func TestDispatcher_voltageSetpointNegative(t *testing.T) {
	d := New(testHooks())
	if reply, err := d.Handle("v-1"); err != nil || reply != "ok" {
		t.Fatalf("v-1 = %q, %v", reply, err)
	}
	if reply, err := d.Handle("v?"); err != nil || reply != "-1" {
		t.Fatalf("v? = %q, %v; want -1", reply, err)
	}
}

func TestDispatcher_loggingAndAutoMode(t *testing.T) {
	d := New(testHooks())
	if reply, err := d.Handle("l1"); err != nil || reply != "ok" {
		t.Fatalf("l1 = %q, %v", reply, err)
	}
	if reply, err := d.Handle("lh"); err != nil || reply == "" {
		t.Fatalf("lh = %q, %v", reply, err)
	}
	if reply, err := d.Handle("mf1"); err != nil || reply != "ok" {
		t.Fatalf("mf1 = %q, %v", reply, err)
	}
	if reply, err := d.Handle("mv0"); err != nil || reply != "ok" {
		t.Fatalf("mv0 = %q, %v", reply, err)
	}
}

func TestDispatcher_stopAndCutLowRailsCommands(t *testing.T) {
	d := New(testHooks())
	if reply, err := d.Handle("q"); err != nil || reply != "ok" {
		t.Fatalf("q = %q, %v", reply, err)
	}
	if reply, err := d.Handle("z"); err != nil || reply != "ok" {
		t.Fatalf("z = %q, %v", reply, err)
	}
}

func TestDispatcher_malformed(t *testing.T) {
	d := New(testHooks())
	if _, err := d.Handle(""); err != ErrMalformed {
		t.Errorf("empty line should be malformed, got %v", err)
	}
	if _, err := d.Handle("x"); err != ErrMalformed {
		t.Errorf("unknown command should be malformed, got %v", err)
	}
	if _, err := d.Handle("d!abc"); err != ErrMalformed {
		t.Errorf("non-digit payload should be malformed, got %v", err)
	}
}

func TestParseUint_standardAccumulation(t *testing.T) {
	v, ok := parseUint("123")
	if !ok || v != 123 {
		t.Errorf("parseUint(123) = %d, %v; want 123, true", v, ok)
	}
	if _, ok := parseUint(""); ok {
		t.Errorf("parseUint(\"\") should fail")
	}
	if _, ok := parseUint("12a"); ok {
		t.Errorf("parseUint(12a) should fail")
	}
}
