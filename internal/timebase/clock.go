/*
 * Copyright 2025 Ted Dunning
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 * http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package timebase reconstructs a jitter-free monotonic microsecond clock
// out of a free-running hardware counter that is wider than one machine
// word.
package timebase

// Counter is a free-running hardware counter split across a high word and
// a low word, read as two separate registers. Board wiring supplies one of
// these backed by whatever timer peripheral the target actually has.
type Counter interface {
	// High and Low read the current high and low words. Callers read
	// High, Low, High, Low in that order and use ReduceObservation to
	// disambiguate a low-word rollover that happened mid-read.
	High() uint32
	Low() uint32
}

// Clock produces monotonic microsecond timestamps from a Counter ticking
// at tickHz.
type Clock struct {
	counter Counter
	tickHz  uint32
}

// New builds a Clock over counter, which increments at tickHz ticks per
// second.
func New(counter Counter, tickHz uint32) *Clock {
	return &Clock{counter: counter, tickHz: tickHz}
}

// NowTicks returns the current 64-bit tick count, jitter-free across a
// low-word rollover.
func (c *Clock) NowTicks() uint64 {
	th1, tl1 := c.counter.High(), c.counter.Low()
	th2, tl2 := c.counter.High(), c.counter.Low()
	return ReduceObservation(1<<32, th1, tl1, th2, tl2)
}

// NowMicros returns the current time in microseconds since the counter
// started, implementing hal.Clock.
func (c *Clock) NowMicros() uint64 {
	return c.NowTicks() * 1_000_000 / uint64(c.tickHz)
}

// SleepMicros busy-waits until us microseconds have elapsed on this
// clock, completing hal.Clock.
func (c *Clock) SleepMicros(us uint64) {
	end := c.NowMicros() + us
	for c.NowMicros() < end {
	}
}

/*
ReduceObservation reduces repeated measurements of a value expressed as two
32bit unsigned words into a single jitter free 64bit observation even though
the lower 32bit value might overflow during the observation.

This assumes the underlying 64bit value is monotonically increasing at a
rate that is small relative to the sampling frequency: no more than about
2^15 counts between the two register reads. For a timer counter ticking in
the tens-of-MHz range and a read pair that takes a few hundred nanoseconds,
that bound holds with room to spare.
*/
func ReduceObservation(scale uint64, th1, tl1, th2, tl2 uint32) uint64 {
	var t0 uint64
	if th1 == th2 {
		// if th incremented, we didn't see it, so it was after tl1
		t0 = uint64(th1)*scale + uint64(tl1)
	} else if tl1 < tl2 {
		// both tl1 and tl2 occurred after the increment because there
		// is no rollover between them
		t0 = uint64(th2)*scale + uint64(tl1)
	} else {
		// tl1 was before the increment (and will be >scale/2)
		t0 = uint64(th1)*scale + uint64(tl1)
	}
	return t0
}
