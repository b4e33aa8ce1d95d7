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

package timecounter

import (
	"math"
	"sync/atomic"

	"github.com/facebook/timecounter/bintime"
)

// atomicBinTime is a BinTime which may be loaded while another goroutine stores it.
// The two halves are independent: consistency comes from the timehands generation.
type atomicBinTime struct {
	sec  atomic.Int64
	frac atomic.Uint64
}

func (a *atomicBinTime) Load() bintime.BinTime {
	return bintime.BinTime{Sec: a.sec.Load(), Frac: a.frac.Load()}
}

func (a *atomicBinTime) Store(b bintime.BinTime) {
	a.sec.Store(b.Sec)
	a.frac.Store(b.Frac)
}

// timehands is one slot of the snapshot ring.
// Generation 0 means the slot is being rewritten.
type timehands struct {
	counter     atomic.Pointer[entry]
	adjustment  atomic.Int64 // ns/s, 32.32 fixed point
	scale       atomic.Uint64
	offsetCount atomic.Uint64
	offset      atomicBinTime // uptime at offsetCount
	base        atomicBinTime // wall time at uptime zero
	wall        atomicBinTime // offset + base
	generation  atomic.Uint32
	next        *timehands
}

// copyFrom copies everything but the generation
func (th *timehands) copyFrom(o *timehands) {
	th.counter.Store(o.counter.Load())
	th.adjustment.Store(o.adjustment.Load())
	th.scale.Store(o.scale.Load())
	th.offsetCount.Store(o.offsetCount.Load())
	th.offset.Store(o.offset.Load())
	th.base.Store(o.base.Load())
	th.wall.Store(o.wall.Load())
}

func newRing(size int) []*timehands {
	ring := make([]*timehands, size)
	for i := range ring {
		ring[i] = &timehands{}
	}
	for i, th := range ring {
		th.next = ring[(i+1)%size]
	}
	return ring
}

// nextGeneration skips 0 on wraparound
func nextGeneration(gen uint32) uint32 {
	gen++
	if gen == 0 {
		gen = 1
	}
	return gen
}

// computeScale returns the 0.64 fixed point seconds per tick of a counter running
// at freq ticks per second, corrected by adjustment (ns/s in 32.32 fixed point).
// 2^64/freq does not fit 64 bits for a 1 Hz counter, so the result saturates.
func computeScale(adjustment int64, freq uint64) uint64 {
	if freq == 0 {
		panic("timecounter: scale of a zero frequency counter")
	}
	// (adjustment / 1024) * 2199 ~= adjustment * 2^31 / 1e9: half the correction in 0.64 units
	num := uint64(1)<<63 + uint64((adjustment/1024)*2199)
	q := num / freq
	if q >= 1<<63 {
		return math.MaxUint64
	}
	return q * 2
}
