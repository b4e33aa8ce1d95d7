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
	"math/bits"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/facebook/timecounter/bintime"
	"github.com/facebook/timecounter/counter"
)

func TestComputeScale(t *testing.T) {
	testCases := []uint64{2, 3, 1000, 32768, 1000000, 14318180, 1000000000, 3000000000, 10000000000}
	for _, freq := range testCases {
		exact, _ := bits.Div64(1, 0, freq)
		scale := computeScale(0, freq)
		require.LessOrEqual(t, exact-scale, uint64(1), "freq %d", freq)
	}
	require.Equal(t, uint64(math.MaxUint64), computeScale(0, 1))
	require.Panics(t, func() { computeScale(0, 0) })
}

func TestComputeScaleAdjustment(t *testing.T) {
	base := computeScale(0, 1000000000)
	// +500ppm
	faster := computeScale(500000<<32, 1000000000)
	require.InDelta(t, 1.0005, float64(faster)/float64(base), 1e-7)
	// -500ppm
	slower := computeScale(-500000<<32, 1000000000)
	require.InDelta(t, 0.9995, float64(slower)/float64(base), 1e-7)
}

func TestNextGeneration(t *testing.T) {
	require.Equal(t, uint32(2), nextGeneration(1))
	require.Equal(t, uint32(1), nextGeneration(math.MaxUint32))
}

func TestNewBadConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RingSize = 1
	_, err := New(cfg)
	require.Error(t, err)
}

func TestWindupGenerations(t *testing.T) {
	tk := newTimekeeper(t)
	first := tk.current.Load()
	gen := first.generation.Load()
	tk.Tick()
	second := tk.current.Load()
	require.Same(t, first.next, second)
	require.NotZero(t, second.generation.Load())
	require.NotEqual(t, gen, first.generation.Load(), "superseded slot keeps its generation")
	require.Equal(t, uint64(1), tk.Stats().Windups)

	// the ring is reused
	for i := 0; i < tk.cfg.RingSize-1; i++ {
		tk.Tick()
	}
	require.Same(t, first, tk.current.Load())
}

func TestWindupTornReads(t *testing.T) {
	tk := newTimekeeper(t)
	m := counter.NewManual("manual", 1024, math.MaxUint32, 10)
	require.NoError(t, tk.Register(m))

	var stages []windupStage
	tk.hook = func(s windupStage) {
		stages = append(stages, s)
		cur := tk.current.Load()
		switch s {
		case stageZeroed, stageCopied, stageUpdated:
			// the slot being rewritten never reads successfully
			_, _, ok := cur.next.uptime()
			require.False(t, ok)
			_, _, ok = cur.next.cached()
			require.False(t, ok)
			// the published one still does
			_, _, ok = cur.uptime()
			require.True(t, ok)
		}
	}

	old := tk.current.Load()
	oldGen := old.generation.Load()
	_, _, ok := old.uptime()
	require.True(t, ok)
	m.Advance(1024)
	tk.Tick()
	require.Equal(t, []windupStage{stageZeroed, stageCopied, stageUpdated, stagePublished}, stages)

	// readers which loaded the superseded slot before the windup notice
	require.NotEqual(t, oldGen, old.generation.Load())
	require.NotZero(t, old.generation.Load())
	up, _, ok := tk.current.Load().uptime()
	require.True(t, ok)
	require.NotSame(t, old, tk.current.Load())
	require.Greater(t, up.Sec, int64(0))
}

func TestWindupConcurrentReadersMonotonic(t *testing.T) {
	tk := newTimekeeper(t)
	m := counter.NewManual("manual", 1024, 0xFFFF, 10)
	require.NoError(t, tk.Register(m))
	tk.hook = func(windupStage) { time.Sleep(10 * time.Microsecond) }

	stop := make(chan struct{})
	var wg sync.WaitGroup
	errs := make(chan string, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var prev bintime.BinTime
			for {
				select {
				case <-stop:
					return
				default:
				}
				up := tk.BinUptime()
				if up.Before(prev) {
					errs <- up.String() + " after " + prev.String()
					return
				}
				prev = up
			}
		}()
	}
	for i := 0; i < 500; i++ {
		m.Advance(uint64(100 + i%50))
		tk.Tick()
	}
	close(stop)
	wg.Wait()
	close(errs)
	for e := range errs {
		t.Fatalf("uptime went backwards: %s", e)
	}
}

func TestWindupRealCounterMonotonic(t *testing.T) {
	tk := newTimekeeper(t)
	require.NoError(t, tk.Register(counter.NewMonotonic("mono", math.MaxUint64, 10)))

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				tk.Tick()
			}
		}
	}()
	var prev bintime.BinTime
	for i := 0; i < 100000; i++ {
		up := tk.BinUptime()
		require.False(t, up.Before(prev), "%s after %s", up, prev)
		prev = up
	}
	close(stop)
	wg.Wait()
}

func TestWindupWraparound(t *testing.T) {
	tk := newTimekeeper(t)
	m := counter.NewManual("manual", 1024, 0xFFFF, 10)
	m.Set(60000)
	require.NoError(t, tk.Register(m))
	start := tk.BinUptime()

	for i := 1; i <= 20; i++ {
		// 40000 ticks per tick wraps the 16 bit counter every other step
		m.Advance(40000)
		tk.Tick()
		up := tk.BinUptime()
		require.InDelta(t, float64(i)*40000/1024, up.Sub(start).Seconds(), 1e-9)
	}
}

func TestWindupPollsPPS(t *testing.T) {
	tk := newTimekeeper(t)
	m := counter.NewManual("manual", 1000000, math.MaxUint32, 10)
	polls := 0
	m.OnPPS(func() { polls++ })
	require.NoError(t, tk.Register(m))
	require.Equal(t, 0, polls, "dummy was the outgoing counter")
	tk.Tick()
	tk.Tick()
	require.Equal(t, 2, polls)
}

func TestEndToEnd(t *testing.T) {
	tk := newTimekeeper(t)
	m := counter.NewManual("manual", 1000000, 0xFFFFFFFF, 10)
	require.NoError(t, tk.Register(m))
	m.Set(500000)
	tk.Tick()
	m.Set(1000000)
	require.InDelta(t, 1.0, tk.BinUptime().Seconds(), 1e-6)
	require.InDelta(t, 0.5, tk.CachedBinUptime().Seconds(), 1e-6)
	require.InDelta(t, time.Second, tk.Uptime(), float64(time.Microsecond))
}

type fakeNTP struct {
	seconds []int64
	adj     int64
	leapAt  int64
	leap    int64
	offsets []time.Duration
	step    time.Duration
}

func (f *fakeNTP) UpdateSecond(_ int64, sec int64) (int64, int64) {
	f.seconds = append(f.seconds, sec)
	if f.leapAt != 0 && sec == f.leapAt {
		f.leapAt = 0
		return f.adj, sec + f.leap
	}
	return f.adj, sec
}

func (f *fakeNTP) Reference(offset time.Duration, _ bintime.BinTime) time.Duration {
	f.offsets = append(f.offsets, offset)
	return f.step
}

func TestWindupSecondProcessing(t *testing.T) {
	tk := newTimekeeper(t)
	m := counter.NewManual("manual", 1024, math.MaxUint32, 10)
	require.NoError(t, tk.Register(m))
	ntp := &fakeNTP{}
	tk.SetNTP(ntp)

	m.Advance(3 * 1024)
	tk.Tick()
	require.Len(t, ntp.seconds, 3)
	require.Equal(t, tk.CachedBinTime().Sec, ntp.seconds[0])

	// nothing crossed
	tk.Tick()
	require.Len(t, ntp.seconds, 3)

	// a step far beyond LargeStep is processed as two seconds
	ntp.seconds = nil
	tk.SetClock(time.Unix(1700000000, 0))
	require.Len(t, ntp.seconds, 2)
}

func TestWindupLeapSecond(t *testing.T) {
	tk := newTimekeeper(t)
	m := counter.NewManual("manual", 1024, math.MaxUint32, 10)
	require.NoError(t, tk.Register(m))
	tk.SetClockBin(bintime.FromSeconds(86399))
	ntp := &fakeNTP{leapAt: 86400, leap: -1}
	tk.SetNTP(ntp)

	m.Advance(1024)
	tk.Tick()
	// 86399 is repeated
	require.Equal(t, int64(86399), tk.BinTime().Sec)
	m.Advance(1024)
	tk.Tick()
	require.Equal(t, int64(86400), tk.BinTime().Sec)
}

func TestWindupAdjustment(t *testing.T) {
	tk := newTimekeeper(t)
	m := counter.NewManual("manual", 1000000000, math.MaxUint64, 10)
	require.NoError(t, tk.Register(m))
	before := tk.Stats().Scale
	tk.SetNTP(&fakeNTP{adj: 100000 << 32})
	m.Advance(1000000000)
	tk.Tick()
	st := tk.Stats()
	require.Equal(t, int64(100000<<32), st.Adjustment)
	require.InDelta(t, 1.0001, float64(st.Scale)/float64(before), 1e-7)
}
