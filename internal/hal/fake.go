package hal

// FakeUART is an in-memory UART used by package tests: writes accumulate
// in Out, and bytes queued into In are handed back one at a time.
type FakeUART struct {
	Out []byte
	In  []byte
}

func (f *FakeUART) WriteString(s string) (int, error) {
	f.Out = append(f.Out, s...)
	return len(s), nil
}

func (f *FakeUART) ReadByte() (byte, bool) {
	if len(f.In) == 0 {
		return 0, false
	}
	b := f.In[0]
	f.In = f.In[1:]
	return b, true
}

// FakeFlashSector is an in-memory flash sector used by package tests.
// Erase fills the backing array with 0xFF, matching real NOR flash.
type FakeFlashSector struct {
	Backing []byte
}

func NewFakeFlashSector(size int) *FakeFlashSector {
	b := make([]byte, size)
	for i := range b {
		b[i] = 0xFF
	}
	return &FakeFlashSector{Backing: b}
}

func (f *FakeFlashSector) Read(dst []byte) error {
	copy(dst, f.Backing)
	return nil
}

func (f *FakeFlashSector) EraseAndProgram(src []byte) error {
	for i := range f.Backing {
		f.Backing[i] = 0xFF
	}
	copy(f.Backing, src)
	return nil
}

func (f *FakeFlashSector) Size() int { return len(f.Backing) }

// FakePin is a settable/readable GPIO line with an optional registered
// interrupt callback, for tests that need to simulate an edge (E-stop).
type FakePin struct {
	level     bool
	risingFn  func()
	fallingFn func()
}

func (p *FakePin) Set(high bool) { p.level = high }
func (p *FakePin) Get() bool     { return p.level }

func (p *FakePin) SetInterrupt(risingEdge bool, fn func()) {
	if risingEdge {
		p.risingFn = fn
	} else {
		p.fallingFn = fn
	}
}

// Fire simulates an edge, invoking whichever callback is registered for it.
func (p *FakePin) Fire(risingEdge bool) {
	if risingEdge && p.risingFn != nil {
		p.risingFn()
	}
	if !risingEdge && p.fallingFn != nil {
		p.fallingFn()
	}
}

// FakeClock is a manually-advanced clock for deterministic tests.
type FakeClock struct {
	Micros uint64
}

func (c *FakeClock) NowMicros() uint64 { return c.Micros }
func (c *FakeClock) SleepMicros(us uint64) {
	c.Micros += us
}
