package timebase

import "testing"

func Test_ReduceObservation(t *testing.T) {
	scale := uint64(0x10000)
	type testCase struct {
		args []uint32
		r    uint64
	}
	var tests = []testCase{
		{[]uint32{100, 40, 100, 45}, 100*scale + 40},
		{[]uint32{100, 0xfff5, 100, 45}, 100*scale + 0xfff5},
		{[]uint32{100, 0xfff5, 101, 45}, 100*scale + 0xfff5},
		{[]uint32{100, 40, 101, 45}, 101*scale + 40},
	}

	for _, test := range tests {
		v := ReduceObservation(scale, test.args[0], test.args[1], test.args[2], test.args[3])
		if v != test.r {
			t.Errorf("ReduceObservation(%d, %d, %d, %d, %d) = %d, want %d",
				scale, test.args[0], test.args[1], test.args[2], test.args[3], v, test.r)
		}
	}
}

type fakeCounter struct {
	highs []uint32
	lows  []uint32
	i     int
}

func (f *fakeCounter) High() uint32 {
	v := f.highs[f.i]
	return v
}

func (f *fakeCounter) Low() uint32 {
	v := f.lows[f.i]
	f.i++
	return v
}

func Test_Clock_NowMicros(t *testing.T) {
	// Counter ticks at 1MHz so ticks convert 1:1 to microseconds.
	c := &fakeCounter{highs: []uint32{0, 0}, lows: []uint32{1_000_000, 1_000_000}}
	clk := New(c, 1_000_000)
	if got := clk.NowMicros(); got != 1_000_000 {
		t.Errorf("NowMicros() = %d, want 1000000", got)
	}
}
