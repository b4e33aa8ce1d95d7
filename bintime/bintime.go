/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

/*
Package bintime implements the fixed-point time format used by the timecounter
code: signed whole seconds plus an unsigned 64-bit binary fraction of a second.

Arithmetic never touches floating point, so values computed on the read path
round the same way on every platform. Conversions to nanoseconds floor, and
conversions from nanoseconds round up, which makes a Duration survive the
round trip unchanged.
*/
package bintime

import (
	"fmt"
	"math"
	"math/bits"
	"time"
)

const nsPerSec = 1000000000

// BinTime is a point in time or an interval in 64.64 fixed point
type BinTime struct {
	Sec  int64
	Frac uint64
}

// Zero is the zero BinTime
var Zero = BinTime{}

// nsToFrac converts nanoseconds (< 1s) to a binary fraction, rounding up
func nsToFrac(ns uint64) uint64 {
	q, r := bits.Div64(ns, 0, nsPerSec)
	if r != 0 {
		q++
	}
	return q
}

// fracToNs converts a binary fraction to nanoseconds, rounding down
func fracToNs(frac uint64) int64 {
	hi, _ := bits.Mul64(frac, nsPerSec)
	return int64(hi)
}

// FromDuration converts time.Duration into BinTime
func FromDuration(d time.Duration) BinTime {
	sec := int64(d / time.Second)
	ns := int64(d % time.Second)
	if ns < 0 {
		sec--
		ns += nsPerSec
	}
	return BinTime{Sec: sec, Frac: nsToFrac(uint64(ns))}
}

// FromTime converts wall clock time into BinTime counted from the Unix epoch
func FromTime(t time.Time) BinTime {
	return BinTime{Sec: t.Unix(), Frac: nsToFrac(uint64(t.Nanosecond()))}
}

// FromSeconds builds BinTime of whole seconds
func FromSeconds(sec int64) BinTime {
	return BinTime{Sec: sec}
}

// Duration converts BinTime to time.Duration, truncating to nanoseconds
func (b BinTime) Duration() time.Duration {
	return time.Duration(b.Sec)*time.Second + time.Duration(fracToNs(b.Frac))
}

// Time treats BinTime as offset from the Unix epoch
func (b BinTime) Time() time.Time {
	return time.Unix(b.Sec, fracToNs(b.Frac))
}

// Nanoseconds returns the fractional part in nanoseconds
func (b BinTime) Nanoseconds() int64 {
	return fracToNs(b.Frac)
}

// Add returns b+o
func (b BinTime) Add(o BinTime) BinTime {
	u := b.Frac
	b.Frac += o.Frac
	if u > b.Frac {
		b.Sec++
	}
	b.Sec += o.Sec
	return b
}

// AddFrac adds a fraction of a second, carrying into seconds
func (b BinTime) AddFrac(frac uint64) BinTime {
	u := b.Frac
	b.Frac += frac
	if u > b.Frac {
		b.Sec++
	}
	return b
}

// Sub returns b-o
func (b BinTime) Sub(o BinTime) BinTime {
	u := b.Frac
	b.Frac -= o.Frac
	if u < b.Frac {
		b.Sec--
	}
	b.Sec -= o.Sec
	return b
}

// Neg returns -b
func (b BinTime) Neg() BinTime {
	return Zero.Sub(b)
}

// AddScaled returns b + scale*ticks, where scale is a fraction of a second per tick.
// The product is computed in 128 bits so any number of ticks is accepted.
func (b BinTime) AddScaled(scale, ticks uint64) BinTime {
	hi, lo := bits.Mul64(scale, ticks)
	b = b.AddFrac(lo)
	b.Sec += int64(hi)
	return b
}

// Half returns b/2, rounded towards negative infinity
func (b BinTime) Half() BinTime {
	b.Frac = b.Frac>>1 | uint64(b.Sec)<<63
	b.Sec >>= 1
	return b
}

// Average returns the midpoint between a and b
func Average(a, b BinTime) BinTime {
	return a.Half().Add(b.Half()).AddFrac(a.Frac & b.Frac & 1)
}

// Cmp compares b and o, returning -1, 0 or +1
func (b BinTime) Cmp(o BinTime) int {
	switch {
	case b.Sec < o.Sec:
		return -1
	case b.Sec > o.Sec:
		return 1
	case b.Frac < o.Frac:
		return -1
	case b.Frac > o.Frac:
		return 1
	}
	return 0
}

// Before reports whether b is earlier than o
func (b BinTime) Before(o BinTime) bool {
	return b.Cmp(o) < 0
}

// After reports whether b is later than o
func (b BinTime) After(o BinTime) bool {
	return b.Cmp(o) > 0
}

// IsZero reports whether b is zero
func (b BinTime) IsZero() bool {
	return b.Sec == 0 && b.Frac == 0
}

// Seconds returns b as floating point seconds. Only meant for reporting.
func (b BinTime) Seconds() float64 {
	return float64(b.Sec) + math.Ldexp(float64(b.Frac), -64)
}

// Round returns b rounded to the nearest whole second
func (b BinTime) Round() BinTime {
	if b.Frac >= 1<<63 {
		return BinTime{Sec: b.Sec + 1}
	}
	return BinTime{Sec: b.Sec}
}

func (b BinTime) String() string {
	if b.Sec < 0 {
		n := b.Neg()
		return fmt.Sprintf("-%d.%09ds", n.Sec, n.Nanoseconds())
	}
	return fmt.Sprintf("%d.%09ds", b.Sec, b.Nanoseconds())
}
