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

package bintime

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDurationRoundTrip(t *testing.T) {
	for _, d := range []time.Duration{
		0,
		1,
		999999999,
		time.Second,
		1500 * time.Millisecond,
		-1,
		-1500 * time.Millisecond,
		1234567890123456789,
	} {
		t.Run(d.String(), func(t *testing.T) {
			require.Equal(t, d, FromDuration(d).Duration())
		})
	}
}

func TestFromDurationNegative(t *testing.T) {
	b := FromDuration(-1500 * time.Millisecond)
	require.Equal(t, int64(-2), b.Sec)
	require.Equal(t, uint64(1<<63), b.Frac)
}

func TestAddSubCarry(t *testing.T) {
	half := BinTime{Frac: 1 << 63}
	require.Equal(t, BinTime{Sec: 1}, half.Add(half))

	b := BinTime{Sec: 1}.Sub(BinTime{Frac: 1})
	require.Equal(t, BinTime{Sec: 0, Frac: math.MaxUint64}, b)

	require.Equal(t, BinTime{Sec: 5, Frac: 1}, BinTime{Sec: 4, Frac: math.MaxUint64}.AddFrac(2))
}

func TestAddScaled(t *testing.T) {
	// half a second per tick
	b := Zero.AddScaled(1<<63, 3)
	require.Equal(t, BinTime{Sec: 1, Frac: 1 << 63}, b)

	b = BinTime{Sec: 10, Frac: 1 << 63}.AddScaled(1<<63, 1)
	require.Equal(t, BinTime{Sec: 11}, b)
}

func TestHalfAndAverage(t *testing.T) {
	require.Equal(t, BinTime{Sec: -1, Frac: 1 << 63}, BinTime{Sec: -1}.Half())
	require.Equal(t, BinTime{Sec: 1, Frac: 1 << 63}, Average(BinTime{Sec: 1}, BinTime{Sec: 2}))
	require.Equal(t, Zero, Average(FromDuration(-time.Second), FromDuration(time.Second)))
	require.Equal(t, BinTime{Frac: 1}, Average(BinTime{Frac: 1}, BinTime{Frac: 1}))
}

func TestCmp(t *testing.T) {
	a := BinTime{Sec: 1, Frac: 5}
	b := BinTime{Sec: 1, Frac: 6}
	require.True(t, a.Before(b))
	require.True(t, b.After(a))
	require.Equal(t, 0, a.Cmp(a))
	require.True(t, BinTime{Sec: -1, Frac: math.MaxUint64}.Before(Zero))
}

func TestTimeConversion(t *testing.T) {
	now := time.Unix(1700000000, 123456789)
	b := FromTime(now)
	require.Equal(t, int64(1700000000), b.Sec)
	require.True(t, now.Equal(b.Time()))
	require.Equal(t, int64(123456789), b.Nanoseconds())
}

func TestRound(t *testing.T) {
	require.Equal(t, BinTime{Sec: 2}, BinTime{Sec: 1, Frac: 1 << 63}.Round())
	require.Equal(t, BinTime{Sec: 1}, BinTime{Sec: 1, Frac: 1<<63 - 1}.Round())
}

func TestSeconds(t *testing.T) {
	require.InDelta(t, 1.5, FromDuration(1500*time.Millisecond).Seconds(), 1e-12)
	require.InDelta(t, -1.5, FromDuration(-1500*time.Millisecond).Seconds(), 1e-12)
}

func TestString(t *testing.T) {
	require.Equal(t, "1.500000000s", FromDuration(1500*time.Millisecond).String())
	require.Equal(t, "-1.500000000s", FromDuration(-1500*time.Millisecond).String())
}
