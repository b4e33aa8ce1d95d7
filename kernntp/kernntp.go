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
Package kernntp implements the kernel side of NTP clock discipline: once per
second it computes the frequency adjustment the timecounter runs with,
combining the frequency estimate, the slew of the remaining phase offset and
any adjtime correction in progress, and it inserts or deletes leap seconds
at the end of a UTC day.

Offsets from a reference (PPS edges, PTP or NTP measurements) are turned into
frequency corrections by the PI servo.
*/
package kernntp

import (
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/facebook/timecounter/bintime"
	"github.com/facebook/timecounter/servo"
)

// Limits of the discipline
const (
	// MaxPhase is the largest phase offset accepted by SetOffset
	MaxPhase = 500 * time.Millisecond
	// MaxFreqPPB is the largest frequency correction
	MaxFreqPPB = 500000
	// MaxTimeConstant is the largest PLL time constant
	MaxTimeConstant = 10

	shiftPLL = 4
	// offsets older than this many seconds don't correct the frequency
	maxSec = 2048
	// adjtime slews at most this many microseconds per second
	adjtimeFast = 5000
	adjtimeSlow = 500
	// adjtime corrections above this many microseconds slew fast
	adjtimeBig = 1000000
)

// Leap is the pending leap second announcement
type Leap int

// Leap announcements
const (
	LeapNone Leap = iota
	LeapInsert
	LeapDelete
)

func (l Leap) String() string {
	switch l {
	case LeapNone:
		return "none"
	case LeapInsert:
		return "insert"
	case LeapDelete:
		return "delete"
	}
	return fmt.Sprintf("leap(%d)", int(l))
}

// State is the leap second state
type State int

// Leap second states
const (
	StateOK State = iota
	StateIns
	StateDel
	StateOOP
	StateWait
)

var stateToString = map[State]string{
	StateOK:   "OK",
	StateIns:  "INS",
	StateDel:  "DEL",
	StateOOP:  "OOP",
	StateWait: "WAIT",
}

func (s State) String() string {
	if str, ok := stateToString[s]; ok {
		return str
	}
	return fmt.Sprintf("STATE(%d)", int(s))
}

// MarshalText makes State readable in JSON
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses State from its String form
func (s *State) UnmarshalText(b []byte) error {
	for k, v := range stateToString {
		if v == string(b) {
			*s = k
			return nil
		}
	}
	return fmt.Errorf("unknown state %q", b)
}

// Config is the discipline configuration
type Config struct {
	// TimeConstant of the phase-locked loop, 0 to MaxTimeConstant
	TimeConstant int
	// SyncInterval is how often Reference is called
	SyncInterval time.Duration
	// StepThreshold is the offset above which the clock is stepped, 0 never steps
	StepThreshold time.Duration
	// FirstStepThreshold is the offset above which the clock is stepped on the first update
	FirstStepThreshold time.Duration
	// Filter enables servo spike filtering
	Filter bool
}

// DefaultConfig returns default discipline config
func DefaultConfig() Config {
	return Config{
		TimeConstant:       2,
		SyncInterval:       time.Second,
		FirstStepThreshold: 20 * time.Microsecond,
	}
}

// Stats is a snapshot of the discipline state
type Stats struct {
	State        State         `json:"state"`
	Leap         Leap          `json:"leap"`
	TAI          int32         `json:"tai"`
	Offset       time.Duration `json:"offset"`
	FrequencyPPB float64       `json:"frequency_ppb"`
	Adjtime      time.Duration `json:"adjtime"`
	TimeConstant int           `json:"time_constant"`
	Servo        string        `json:"servo"`
	Second       int64         `json:"second"`
}

// Discipline keeps NTP state. It implements timecounter.NTP.
type Discipline struct {
	mu       sync.Mutex
	state    State
	leap     Leap
	tai      int32
	offset   int64 // phase to slew, ns 32.32
	freq     int64 // ns/s 32.32
	adjtime  int64 // us
	constant int
	sec      int64
	reftime  int64
	pi       *servo.PiServo
}

// New creates a discipline starting at the frequency correction freqPPB
func New(cfg Config, freqPPB float64) *Discipline {
	sc := servo.DefaultServoConfig()
	sc.StepThreshold = cfg.StepThreshold.Nanoseconds()
	sc.FirstStepThreshold = cfg.FirstStepThreshold.Nanoseconds()
	sc.FirstUpdate = cfg.FirstStepThreshold > 0
	// the servo works with the correction to apply, which is the opposite of the frequency
	pi := servo.NewPiServo(sc, servo.DefaultPiServoCfg(), -freqPPB)
	pi.SetMaxFreq(MaxFreqPPB)
	interval := cfg.SyncInterval
	if interval <= 0 {
		interval = time.Second
	}
	pi.SyncInterval(interval.Seconds())
	if cfg.Filter {
		servo.NewPiServoFilter(pi, servo.DefaultPiServoFilterCfg())
	}
	d := &Discipline{pi: pi}
	d.setTimeConstant(cfg.TimeConstant)
	d.setFrequencyPPB(freqPPB)
	return d
}

// rshift is an arithmetic shift rounding towards zero
func rshift(v int64, n int) int64 {
	if v < 0 {
		return -(-v >> n)
	}
	return v >> n
}

func clamp(v, lim int64) int64 {
	return max(-lim, min(v, lim))
}

// UpdateSecond is called once per second. It advances the leap second state machine,
// possibly moving sec by a second, and returns the adjustment (ns/s, 32.32 fixed point)
// to run the next second with.
func (d *Discipline) UpdateSecond(_ int64, sec int64) (int64, int64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch d.state {
	case StateOK:
		if d.leap == LeapInsert {
			d.setState(StateIns)
		} else if d.leap == LeapDelete {
			d.setState(StateDel)
		}
	case StateIns:
		if d.leap != LeapInsert {
			d.setState(StateOK)
		} else if sec%86400 == 0 {
			sec--
			d.tai++
			d.setState(StateOOP)
			log.Warningf("leap second inserted, TAI offset %d", d.tai)
		}
	case StateDel:
		if d.leap != LeapDelete {
			d.setState(StateOK)
		} else if (sec+1)%86400 == 0 {
			sec++
			d.tai--
			d.setState(StateWait)
			log.Warningf("leap second deleted, TAI offset %d", d.tai)
		}
	case StateOOP:
		d.setState(StateWait)
	case StateWait:
		if d.leap == LeapNone {
			d.setState(StateOK)
		}
	}
	d.sec = sec

	// slew part of the remaining phase offset
	slew := rshift(d.offset, shiftPLL+d.constant)
	d.offset -= slew
	adj := slew + d.freq

	if d.adjtime != 0 {
		var rate int64
		switch {
		case d.adjtime > adjtimeBig:
			rate = adjtimeFast
		case d.adjtime < -adjtimeBig:
			rate = -adjtimeFast
		case d.adjtime > adjtimeSlow:
			rate = adjtimeSlow
		case d.adjtime < -adjtimeSlow:
			rate = -adjtimeSlow
		default:
			rate = d.adjtime
		}
		d.adjtime -= rate
		adj += (rate * 1000) << 32
	}
	return adj, sec
}

func (d *Discipline) setState(s State) {
	if d.state != s {
		log.Debugf("leap state %s -> %s", d.state, s)
	}
	d.state = s
}

// Reference takes the offset of local time from a reference measured at local uptime and
// runs the servo. It returns the step to apply to the clock, or 0 if the frequency was
// corrected instead.
func (d *Discipline) Reference(offset time.Duration, uptime bintime.BinTime) time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	ns := offset.Nanoseconds()
	if d.pi.IsSpike(ns) {
		d.setFrequencyPPB(-d.pi.MeanFreq())
		log.Debugf("offset %10d servo %s freq %+7.0f", ns, servo.StateFilter, d.frequencyPPB())
		return 0
	}
	freqAdj, state := d.pi.Sample(ns, uint64(uptime.Duration()))
	log.Debugf("offset %10d servo %s freq %+7.0f", ns, state, -freqAdj)
	switch state {
	case servo.StateJump:
		log.Infof("stepping clock by %v", -offset)
		return -offset
	case servo.StateLocked:
		d.setFrequencyPPB(-freqAdj)
		// make sure we don't step after we get into the locked state
		d.pi.UnsetFirstUpdate()
	}
	return 0
}

// Adjtime slews the clock by delta and returns the part of the previous correction not applied yet
func (d *Discipline) Adjtime(delta time.Duration) time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	old := time.Duration(d.adjtime) * time.Microsecond
	d.adjtime = delta.Microseconds()
	return old
}

// SetOffset sets the phase offset to slew out, clamped to MaxPhase.
// The frequency estimate is corrected by the offset accumulated since the previous call,
// unless the previous call was 2048 or more seconds ago.
func (d *Discipline) SetOffset(offset time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	ns := clamp(offset.Nanoseconds(), MaxPhase.Nanoseconds())
	d.offset = ns << 32
	if d.reftime == 0 {
		d.reftime = d.sec
	}
	if elapsed := d.sec - d.reftime; elapsed > 0 && elapsed < maxSec {
		d.freq = clamp(d.freq+rshift(ns<<32, (shiftPLL+2+d.constant)<<1)*elapsed, MaxFreqPPB<<32)
	}
	d.reftime = d.sec
}

// SetFrequencyPPB sets the frequency correction, clamped to MaxFreqPPB
func (d *Discipline) SetFrequencyPPB(ppb float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.setFrequencyPPB(ppb)
	d.pi.SetLastFreq(-d.frequencyPPB())
}

func (d *Discipline) setFrequencyPPB(ppb float64) {
	ppb = max(-MaxFreqPPB, min(ppb, MaxFreqPPB))
	d.freq = int64(ppb * (1 << 32))
}

// FrequencyPPB returns the frequency correction
func (d *Discipline) FrequencyPPB() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.frequencyPPB()
}

func (d *Discipline) frequencyPPB() float64 {
	return float64(d.freq) / (1 << 32)
}

// SetLeap announces a leap second at the end of the current UTC day, LeapNone cancels
func (d *Discipline) SetLeap(l Leap) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.leap != l {
		log.Infof("leap second announcement: %s", l)
	}
	d.leap = l
}

// SetTimeConstant sets the PLL time constant, clamped to [0, MaxTimeConstant]
func (d *Discipline) SetTimeConstant(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.setTimeConstant(n)
}

func (d *Discipline) setTimeConstant(n int) {
	d.constant = max(0, min(n, MaxTimeConstant))
}

// SetTAI sets the TAI-UTC offset
func (d *Discipline) SetTAI(tai int32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tai = tai
}

// TAI returns the TAI-UTC offset
func (d *Discipline) TAI() int32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.tai
}

// State returns the leap second state
func (d *Discipline) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Stats returns a snapshot of the discipline
func (d *Discipline) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Stats{
		State:        d.state,
		Leap:         d.leap,
		TAI:          d.tai,
		Offset:       time.Duration(rshift(d.offset, 32)),
		FrequencyPPB: d.frequencyPPB(),
		Adjtime:      time.Duration(d.adjtime) * time.Microsecond,
		TimeConstant: d.constant,
		Servo:        d.pi.GetState().String(),
		Second:       d.sec,
	}
}
