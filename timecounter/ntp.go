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
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/facebook/timecounter/bintime"
)

// SetClock sets wall clock time. Uptime is not affected.
func (tk *Timekeeper) SetClock(t time.Time) {
	tk.SetClockBin(bintime.FromTime(t))
}

// SetClockBin sets wall clock time. Uptime is not affected.
func (tk *Timekeeper) SetClockBin(t bintime.BinTime) {
	tk.mu.Lock()
	defer tk.mu.Unlock()
	up := tk.BinUptime()
	old := up.Add(tk.base)
	tk.base = t.Sub(up)
	tk.windup()
	log.Infof("clock set %s -> %s", old, t)
}

// Step moves wall clock time by d
func (tk *Timekeeper) Step(d time.Duration) {
	tk.mu.Lock()
	defer tk.mu.Unlock()
	tk.base = tk.base.Add(bintime.FromDuration(d))
	tk.windup()
	log.Infof("clock stepped by %v", d)
}

// Capture is a counter reading tied to the snapshot it was taken against
type Capture struct {
	th         *timehands
	Generation uint32
	Tick       uint64
}

// Capture reads the active counter without converting the reading.
// The capture can be converted until the snapshot it was taken against is superseded.
func (tk *Timekeeper) Capture() Capture {
	g := tk.epoch.Enter()
	defer tk.epoch.Exit(g)
	for {
		th := tk.current.Load()
		gen := th.generation.Load()
		if gen == 0 {
			continue
		}
		tick := th.counter.Load().Read()
		if th.generation.Load() == gen {
			return Capture{th: th, Generation: gen, Tick: tick}
		}
	}
}

func (tk *Timekeeper) convert(c Capture) (up, base bintime.BinTime, ok bool) {
	th := c.th
	if th == nil || c.Generation == 0 || th.generation.Load() != c.Generation {
		return up, base, false
	}
	e := th.counter.Load()
	delta := (c.Tick - th.offsetCount.Load()) & e.mask
	up = th.offset.Load().AddScaled(th.scale.Load(), delta)
	base = th.base.Load()
	if th.generation.Load() != c.Generation {
		return up, base, false
	}
	return up, base, true
}

// ConvertCapture returns uptime at the captured tick. It fails if the snapshot is gone.
func (tk *Timekeeper) ConvertCapture(c Capture) (bintime.BinTime, bool) {
	up, _, ok := tk.convert(c)
	return up, ok
}

// CaptureTime returns wall clock time at the captured tick. It fails if the snapshot is gone.
func (tk *Timekeeper) CaptureTime(c Capture) (bintime.BinTime, bool) {
	up, base, ok := tk.convert(c)
	return up.Add(base), ok
}

// Mode selects which local timestamp a reference is compared with
type Mode int

// Reference modes
const (
	// ModeCapture compares with the time of the capture
	ModeCapture Mode = iota
	// ModeCurrent compares with the time of the call
	ModeCurrent
	// ModeAverage compares with the midpoint of the capture and the call
	ModeAverage
	// ModeExactSecond assumes the event happened on a whole second, the reference is ignored
	ModeExactSecond
)

var modeToString = map[Mode]string{
	ModeCapture:     "capture",
	ModeCurrent:     "current",
	ModeAverage:     "average",
	ModeExactSecond: "exact-second",
}

func (m Mode) String() string {
	if s, ok := modeToString[m]; ok {
		return s
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

// ModeFromString parses Mode
func ModeFromString(s string) (Mode, error) {
	for m, str := range modeToString {
		if str == s {
			return m, nil
		}
	}
	return ModeCapture, fmt.Errorf("%w: %q", ErrBadMode, s)
}

// FeedReference hands the offset of the local clock from ref to the discipline.
// If the discipline decides to step, the clock is stepped.
func (tk *Timekeeper) FeedReference(c Capture, ref bintime.BinTime, mode Mode) error {
	capUp, capBase, ok := tk.convert(c)
	if !ok && mode != ModeCurrent {
		return ErrStaleCapture
	}
	nowUp, nowBase := tk.fine()
	capWall := capUp.Add(capBase)
	up := capUp

	var local bintime.BinTime
	switch mode {
	case ModeCapture:
		local = capWall
	case ModeCurrent:
		local = nowUp.Add(nowBase)
		up = nowUp
	case ModeAverage:
		local = bintime.Average(capWall, nowUp.Add(nowBase))
		up = bintime.Average(capUp, nowUp)
	case ModeExactSecond:
		local = capWall
		ref = capWall.Round()
	default:
		return fmt.Errorf("%w: %v", ErrBadMode, mode)
	}

	ntp := tk.discipline()
	if ntp == nil {
		return nil
	}
	offset := local.Sub(ref).Duration()
	if step := ntp.Reference(offset, up); step != 0 {
		tk.Step(step)
	}
	return nil
}
