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
	"time"

	"github.com/facebook/timecounter/bintime"
)

// uptime makes one attempt at reading th. It fails if th is being or has been rewritten.
func (th *timehands) uptime() (up, base bintime.BinTime, ok bool) {
	gen := th.generation.Load()
	if gen == 0 {
		return up, base, false
	}
	up = th.offset.Load()
	c := th.counter.Load()
	up = up.AddScaled(th.scale.Load(), c.delta(th.offsetCount.Load()))
	base = th.base.Load()
	return up, base, th.generation.Load() == gen
}

// cached makes one attempt at reading the values computed by windup
func (th *timehands) cached() (up, wall bintime.BinTime, ok bool) {
	gen := th.generation.Load()
	if gen == 0 {
		return up, wall, false
	}
	up = th.offset.Load()
	wall = th.wall.Load()
	return up, wall, th.generation.Load() == gen
}

// fine reads the current counter and returns uptime and the time base of the snapshot used.
// Readers keep an epoch stamp for the whole attempt so the counter can't be released under them.
func (tk *Timekeeper) fine() (bintime.BinTime, bintime.BinTime) {
	g := tk.epoch.Enter()
	defer tk.epoch.Exit(g)
	for {
		if up, base, ok := tk.current.Load().uptime(); ok {
			return up, base
		}
	}
}

// cached needs no epoch stamp: no counter is touched
func (tk *Timekeeper) cached() (bintime.BinTime, bintime.BinTime) {
	for {
		if up, wall, ok := tk.current.Load().cached(); ok {
			return up, wall
		}
	}
}

// BinUptime returns time since the Timekeeper was created
func (tk *Timekeeper) BinUptime() bintime.BinTime {
	up, _ := tk.fine()
	return up
}

// Uptime returns time since the Timekeeper was created
func (tk *Timekeeper) Uptime() time.Duration {
	return tk.BinUptime().Duration()
}

// BinTime returns wall clock time
func (tk *Timekeeper) BinTime() bintime.BinTime {
	up, base := tk.fine()
	return up.Add(base)
}

// Now returns wall clock time
func (tk *Timekeeper) Now() time.Time {
	return tk.BinTime().Time()
}

// CachedBinUptime returns uptime as of the last Tick
func (tk *Timekeeper) CachedBinUptime() bintime.BinTime {
	up, _ := tk.cached()
	return up
}

// CachedBinTime returns wall clock time as of the last Tick
func (tk *Timekeeper) CachedBinTime() bintime.BinTime {
	_, wall := tk.cached()
	return wall
}

// CachedNow returns wall clock time as of the last Tick
func (tk *Timekeeper) CachedNow() time.Time {
	return tk.CachedBinTime().Time()
}
