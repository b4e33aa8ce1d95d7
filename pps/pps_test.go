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

package pps

import (
	"context"
	"math"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/facebook/timecounter/bintime"
	"github.com/facebook/timecounter/counter"
	"github.com/facebook/timecounter/timecounter"
)

type recorder struct {
	offsets []time.Duration
}

func (r *recorder) UpdateSecond(adj int64, sec int64) (int64, int64) {
	return adj, sec
}

func (r *recorder) Reference(offset time.Duration, _ bintime.BinTime) time.Duration {
	r.offsets = append(r.offsets, offset)
	return 0
}

func newClock(t *testing.T) (*timecounter.Timekeeper, *counter.Manual) {
	tk, err := timecounter.New(timecounter.DefaultConfig())
	require.NoError(t, err)
	m := counter.NewManual("manual", 1024, math.MaxUint32, 10)
	require.NoError(t, tk.Register(m))
	tk.SetClockBin(bintime.FromSeconds(1000))
	return tk, m
}

const quarter = uint64(1) << 62

func TestEvent(t *testing.T) {
	tk, m := newClock(t)
	src := New("pps0", tk, CaptureBoth|OffsetAssert)
	require.Equal(t, "pps0", src.Name())
	require.Equal(t, CaptureBoth|OffsetAssert, src.Capabilities())
	require.NoError(t, src.SetParams(Params{Mode: CaptureAssert}))

	require.ErrorIs(t, src.Event(EdgeAssert), ErrNoCapture)

	m.Advance(256)
	src.Capture()
	require.NoError(t, src.Event(EdgeAssert))
	info := src.Info()
	require.Equal(t, bintime.BinTime{Sec: 1000, Frac: quarter}, info.AssertTime)
	require.Equal(t, uint64(1), info.AssertSequence)
	require.Equal(t, CaptureAssert, info.Mode)

	// clear edges are not captured
	src.Capture()
	require.NoError(t, src.Event(EdgeClear))
	require.Equal(t, uint64(0), src.Info().ClearSequence)

	require.NoError(t, src.SetParams(Params{Mode: CaptureBoth}))
	src.Capture()
	require.NoError(t, src.Event(EdgeClear))
	require.Equal(t, uint64(1), src.Info().ClearSequence)
	require.Equal(t, bintime.BinTime{Sec: 1000, Frac: quarter}, src.Info().ClearTime)

	// capture is consumed
	require.ErrorIs(t, src.Event(EdgeClear), ErrNoCapture)
}

func TestEventStale(t *testing.T) {
	tk, _ := newClock(t)
	src := New("pps0", tk, CaptureAssert)
	require.NoError(t, src.SetParams(Params{Mode: CaptureAssert}))
	src.Capture()
	tk.Tick()
	require.ErrorIs(t, src.Event(EdgeAssert), timecounter.ErrStaleCapture)
	require.Equal(t, uint64(0), src.Info().AssertSequence)
}

func TestParams(t *testing.T) {
	tk, m := newClock(t)
	src := New("pps0", tk, CaptureAssert|OffsetAssert)
	err := src.SetParams(Params{Mode: CaptureClear})
	require.ErrorIs(t, err, ErrBadMode)

	p := Params{Mode: CaptureAssert | OffsetAssert, AssertOffset: -250 * time.Millisecond}
	require.NoError(t, src.SetParams(p))
	require.Equal(t, p, src.GetParams())

	m.Advance(256)
	src.Capture()
	require.NoError(t, src.Event(EdgeAssert))
	require.Equal(t, bintime.FromSeconds(1000), src.Info().AssertTime)
}

func TestFetch(t *testing.T) {
	tk, m := newClock(t)
	src := New("pps0", tk, CaptureAssert)
	require.NoError(t, src.SetParams(Params{Mode: CaptureAssert}))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := src.Fetch(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	got := make(chan Info, 1)
	go func() {
		info, err := src.Fetch(context.Background())
		if err == nil {
			got <- info
		}
	}()
	for {
		m.Advance(1024)
		src.Capture()
		require.NoError(t, src.Event(EdgeAssert))
		select {
		case info := <-got:
			require.NotZero(t, info.AssertSequence)
			return
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestSubscribe(t *testing.T) {
	tk, m := newClock(t)
	src := New("pps0", tk, CaptureAssert)
	require.NoError(t, src.SetParams(Params{Mode: CaptureAssert}))
	ch, stop := src.Subscribe()

	m.Advance(1024)
	src.Capture()
	require.NoError(t, src.Event(EdgeAssert))
	// nobody reads, this one is dropped
	src.Capture()
	require.NoError(t, src.Event(EdgeAssert))

	info := <-ch
	require.Equal(t, uint64(1), info.AssertSequence)
	require.Equal(t, bintime.FromSeconds(1001), info.AssertTime)

	stop()
	stop()
	_, ok := <-ch
	require.False(t, ok)
}

func TestBindKernel(t *testing.T) {
	tk, m := newClock(t)
	ntp := &recorder{}
	tk.SetNTP(ntp)
	src := New("pps0", tk, CaptureAssert|OffsetAssert)
	require.NoError(t, src.SetParams(Params{Mode: CaptureAssert}))

	require.ErrorIs(t, src.BindKernel(EdgeClear), ErrBadMode)
	require.NoError(t, src.BindKernel(EdgeAssert))
	require.ErrorIs(t, src.BindKernel(EdgeAssert), ErrKernelBound)

	// edge 250ms after the second on the local clock
	m.Advance(256)
	src.Capture()
	require.NoError(t, src.Event(EdgeAssert))
	require.Equal(t, []time.Duration{250 * time.Millisecond}, ntp.offsets)

	// the pulse is known to arrive 250ms late
	require.NoError(t, src.SetParams(Params{Mode: CaptureAssert | OffsetAssert, AssertOffset: -250 * time.Millisecond}))
	m.Advance(1024)
	src.Capture()
	require.NoError(t, src.Event(EdgeAssert))
	require.Equal(t, []time.Duration{250 * time.Millisecond, 0}, ntp.offsets)

	src.UnbindKernel()
	m.Advance(1024)
	src.Capture()
	require.NoError(t, src.Event(EdgeAssert))
	require.Len(t, ntp.offsets, 2)
}

func TestEventAt(t *testing.T) {
	tk, m := newClock(t)
	ntp := &recorder{}
	tk.SetNTP(ntp)
	src := New("pps0", tk, CaptureAssert|OffsetAssert)
	require.NoError(t, src.SetParams(Params{Mode: CaptureAssert}))
	require.NoError(t, src.BindKernel(EdgeAssert))

	// latched 32 ticks before the capture
	m.Advance(256 + 32)
	src.Capture()
	require.NoError(t, src.EventAt(EdgeAssert, 31250*time.Microsecond))
	require.Equal(t, bintime.BinTime{Sec: 1000, Frac: quarter}, src.Info().AssertTime)
	require.Equal(t, []time.Duration{250 * time.Millisecond}, ntp.offsets)

	require.NoError(t, src.SetParams(Params{Mode: CaptureAssert | OffsetAssert, AssertOffset: -250 * time.Millisecond}))
	m.Advance(1024)
	src.Capture()
	require.NoError(t, src.EventAt(EdgeAssert, 31250*time.Microsecond))
	require.Equal(t, bintime.FromSeconds(1001), src.Info().AssertTime)
	require.Equal(t, []time.Duration{250 * time.Millisecond, 0}, ntp.offsets)
}

func TestLatency(t *testing.T) {
	m := counter.NewManual("latch", 1024, math.MaxUint32, 10)
	ago, ok := latency(m, 300, 268)
	require.True(t, ok)
	require.Equal(t, 31250*time.Microsecond, ago)

	ago, ok = latency(m, 30, math.MaxUint32-1)
	require.True(t, ok)
	require.Equal(t, 31250*time.Microsecond, ago)

	_, ok = latency(m, 300, 301)
	require.False(t, ok)
	_, ok = latency(m, 3000, 300)
	require.False(t, ok)
}

func TestRun(t *testing.T) {
	tk, m := newClock(t)
	src := New("pps0", tk, CaptureAssert)
	require.NoError(t, src.SetParams(Params{Mode: CaptureAssert}))
	var polls atomic.Int32
	m.OnPPS(func() { polls.Add(1) })
	ch, stop := src.Subscribe()
	defer stop()

	ticks := make(chan uint64)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error)
	go func() { done <- src.Run(ctx, m, ticks, time.Millisecond) }()

	m.Advance(1024 + 32)
	ticks <- 1024
	info := <-ch
	require.Equal(t, bintime.FromSeconds(1001), info.AssertTime)

	// over a second old
	ticks <- 0
	require.Eventually(t, func() bool { return polls.Load() > 0 }, time.Second, time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	require.Equal(t, uint64(1), src.Info().AssertSequence)
}

func TestJitter(t *testing.T) {
	tk, m := newClock(t)
	src := New("pps0", tk, CaptureAssert)
	require.NoError(t, src.SetParams(Params{Mode: CaptureAssert}))
	require.Equal(t, Jitter{}, src.Jitter())
	for i := 0; i < 4; i++ {
		m.Advance(1024)
		src.Capture()
		require.NoError(t, src.Event(EdgeAssert))
	}
	j := src.Jitter()
	require.Equal(t, 3, j.Count)
	require.InDelta(t, float64(time.Second), float64(j.Mean), 1)
	require.InDelta(t, 0, float64(j.Stddev), 1)
}

func TestStrings(t *testing.T) {
	require.Equal(t, "assert", EdgeAssert.String())
	require.Equal(t, "clear", EdgeClear.String())
	require.Equal(t, "edge(5)", Edge(5).String())
}
