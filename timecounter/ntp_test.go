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
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/facebook/timecounter/bintime"
	"github.com/facebook/timecounter/counter"
)

func frozen(t *testing.T) (*Timekeeper, *counter.Manual) {
	tk := newTimekeeper(t)
	m := counter.NewManual("manual", 1024, math.MaxUint32, 10)
	require.NoError(t, tk.Register(m))
	return tk, m
}

func TestSetClock(t *testing.T) {
	tk, m := frozen(t)
	up := tk.BinUptime()
	want := time.Date(2026, time.October, 15, 12, 0, 0, 123456789, time.UTC)
	tk.SetClock(want)
	require.Equal(t, want, tk.Now().UTC())
	require.Equal(t, want, tk.CachedNow().UTC())
	require.Equal(t, up, tk.BinUptime(), "uptime is not affected")

	m.Advance(1024)
	tk.Tick()
	require.Equal(t, want.Add(time.Second), tk.Now().UTC())
	require.Equal(t, up.Add(bintime.FromSeconds(1)), tk.BinUptime())

	// backwards
	tk.SetClockBin(bintime.FromSeconds(10))
	require.Equal(t, bintime.FromSeconds(10), tk.BinTime())
	require.Equal(t, bintime.FromSeconds(10), tk.CachedBinTime())
}

func TestStepComposes(t *testing.T) {
	a, _ := frozen(t)
	b, _ := frozen(t)
	a.SetClockBin(bintime.FromSeconds(1000))
	b.SetClockBin(bintime.FromSeconds(1000))

	d1 := 1500 * time.Millisecond
	d2 := -300*time.Millisecond - 7
	a.Step(d1)
	a.Step(d2)
	b.Step(d1 + d2)
	require.Equal(t, a.BinTime().Duration(), b.BinTime().Duration())
	require.Equal(t, bintime.FromSeconds(1001).Add(bintime.FromDuration(200*time.Millisecond-7)).Duration(), b.BinTime().Duration())
}

func TestCapture(t *testing.T) {
	tk, m := frozen(t)
	tk.SetClockBin(bintime.FromSeconds(100))
	m.Advance(512)
	c := tk.Capture()
	require.NotZero(t, c.Generation)

	up, ok := tk.ConvertCapture(c)
	require.True(t, ok)
	require.Equal(t, tk.BinUptime(), up)
	wall, ok := tk.CaptureTime(c)
	require.True(t, ok)
	require.Equal(t, bintime.BinTime{Sec: 100, Frac: 1 << 63}, wall)

	tk.Tick()
	_, ok = tk.ConvertCapture(c)
	require.False(t, ok)
	_, ok = tk.ConvertCapture(Capture{})
	require.False(t, ok)
}

func TestFeedReference(t *testing.T) {
	tk, m := frozen(t)
	tk.SetClockBin(bintime.FromSeconds(1000))
	ntp := &fakeNTP{}

	// no discipline, nothing happens
	c := tk.Capture()
	require.NoError(t, tk.FeedReference(c, bintime.FromSeconds(999), ModeCapture))
	require.Equal(t, bintime.FromSeconds(1000), tk.BinTime())

	tk.SetNTP(ntp)
	c = tk.Capture()
	require.NoError(t, tk.FeedReference(c, bintime.FromSeconds(999), ModeCapture))
	require.Equal(t, []time.Duration{time.Second}, ntp.offsets)

	// the discipline asks for a step
	ntp.step = -time.Second
	require.NoError(t, tk.FeedReference(c, bintime.FromSeconds(999), ModeCurrent))
	require.Equal(t, bintime.FromSeconds(999), tk.BinTime())
	ntp.step = 0

	// stale capture
	require.ErrorIs(t, tk.FeedReference(c, bintime.FromSeconds(999), ModeCapture), ErrStaleCapture)
	require.NoError(t, tk.FeedReference(c, bintime.FromSeconds(999), ModeCurrent))

	// capture taken a quarter second before now
	c = tk.Capture()
	m.Advance(256)
	ntp.offsets = nil
	require.NoError(t, tk.FeedReference(c, bintime.FromSeconds(999), ModeAverage))
	require.Equal(t, []time.Duration{125 * time.Millisecond}, ntp.offsets)

	// 250ms past the second
	c = tk.Capture()
	ntp.offsets = nil
	require.NoError(t, tk.FeedReference(c, bintime.Zero, ModeExactSecond))
	require.Equal(t, []time.Duration{250 * time.Millisecond}, ntp.offsets)

	require.ErrorIs(t, tk.FeedReference(c, bintime.Zero, Mode(42)), ErrBadMode)
}

func TestModeFromString(t *testing.T) {
	for _, m := range []Mode{ModeCapture, ModeCurrent, ModeAverage, ModeExactSecond} {
		got, err := ModeFromString(m.String())
		require.NoError(t, err)
		require.Equal(t, m, got)
	}
	_, err := ModeFromString("nope")
	require.ErrorIs(t, err, ErrBadMode)
	require.Equal(t, "mode(42)", Mode(42).String())
}
