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
Package timecounter keeps uptime and wall clock time on top of free running
hardware counters.

Readers never lock: the current state is published as one of a small ring of
snapshots, each guarded by a generation number. A reader retries when the
snapshot it used got rewritten under it. Tick periodically folds the elapsed
counter ticks into a fresh snapshot, applies NTP frequency and phase
corrections and switches counters. Counters can be added and removed at
runtime; removal waits until no reader can be inside the removed counter.
*/
package timecounter

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/facebook/timecounter/bintime"
	"github.com/facebook/timecounter/counter"
	"github.com/facebook/timecounter/epoch"
)

// State is the lifecycle state of a registered counter
type State int

// Counter states
const (
	StateRegistered State = iota
	StateActive
	StateDraining
	StateFreed
)

var stateToString = map[State]string{
	StateRegistered: "REGISTERED",
	StateActive:     "ACTIVE",
	StateDraining:   "DRAINING",
	StateFreed:      "FREED",
}

func (s State) String() string {
	if str, ok := stateToString[s]; ok {
		return str
	}
	return fmt.Sprintf("UNKNOWN(%d)", int(s))
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
	return fmt.Errorf("unknown counter state %q", b)
}

// NTP is the clock discipline consulted by windup
type NTP interface {
	// UpdateSecond runs once per wall clock second crossed. It takes the current
	// frequency adjustment (ns/s, 32.32 fixed point) and the wall clock second and
	// returns the new adjustment and the second, moved if a leap second was applied.
	UpdateSecond(adjustment int64, sec int64) (int64, int64)
	// Reference takes the offset of the local clock from a reference sampled at
	// the given uptime. A non-zero result is a step to apply to the clock.
	Reference(offset time.Duration, uptime bintime.BinTime) time.Duration
}

// entry is a registered counter with its parameters cached at registration
type entry struct {
	counter.Counter
	name    string
	mask    uint64
	freq    uint64
	quality int
	bad     bool
	state   State
}

func newEntry(c counter.Counter) *entry {
	return &entry{
		Counter: c,
		name:    c.Name(),
		mask:    c.Mask(),
		freq:    c.Frequency(),
		quality: c.Quality(),
	}
}

// delta is the number of ticks since count, modulo the counter width
func (e *entry) delta(count uint64) uint64 {
	return (e.Read() - count) & e.mask
}

// windupStage marks points inside windup for tests
type windupStage int

const (
	stageZeroed windupStage = iota
	stageCopied
	stageUpdated
	stagePublished
)

// Timekeeper maintains time on the registered counters
type Timekeeper struct {
	cfg     Config
	epoch   *epoch.Table
	current atomic.Pointer[timehands]
	ring    []*timehands
	windups atomic.Uint64

	// mu serializes writers: windup and everything that changes counters or the time base
	mu       sync.Mutex
	counters map[string]*entry
	dummy    *entry
	active   *entry
	chosen   bool
	removals uint64 // unregistrations whose readers drained
	base     bintime.BinTime
	ntp      NTP
	hook     func(windupStage)
}

// New creates a Timekeeper running on the built-in dummy counter
func New(cfg Config) (*Timekeeper, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	tk := &Timekeeper{
		cfg:      cfg,
		epoch:    epoch.NewTable(cfg.EpochSlots),
		ring:     newRing(cfg.RingSize),
		counters: map[string]*entry{},
	}
	tk.dummy = newEntry(&counter.Dummy{})
	tk.dummy.state = StateActive
	tk.counters[tk.dummy.name] = tk.dummy
	tk.active = tk.dummy

	th := tk.ring[0]
	th.counter.Store(tk.dummy)
	th.scale.Store(computeScale(0, tk.dummy.freq))
	th.generation.Store(1)
	tk.current.Store(th)
	return tk, nil
}

// Config returns the configuration the Timekeeper was created with
func (tk *Timekeeper) Config() Config {
	return tk.cfg
}

// SetNTP installs the clock discipline, nil disables it
func (tk *Timekeeper) SetNTP(n NTP) {
	tk.mu.Lock()
	defer tk.mu.Unlock()
	tk.ntp = n
}

func (tk *Timekeeper) discipline() NTP {
	tk.mu.Lock()
	defer tk.mu.Unlock()
	return tk.ntp
}

// Stats is a snapshot of Timekeeper internals
type Stats struct {
	Active     string `json:"active"`
	Chosen     bool   `json:"chosen"`
	Generation uint32 `json:"generation"`
	Windups    uint64 `json:"windups"`
	Removals   uint64 `json:"removals"`
	Adjustment int64  `json:"adjustment"`
	Scale      uint64 `json:"scale"`
	Counters   int    `json:"counters"`
}

// Stats returns current Timekeeper internals
func (tk *Timekeeper) Stats() Stats {
	tk.mu.Lock()
	defer tk.mu.Unlock()
	th := tk.current.Load()
	return Stats{
		Active:     tk.active.name,
		Chosen:     tk.chosen,
		Generation: th.generation.Load(),
		Windups:    tk.windups.Load(),
		Removals:   tk.removals,
		Adjustment: th.adjustment.Load(),
		Scale:      th.scale.Load(),
		Counters:   len(tk.counters),
	}
}

func (tk *Timekeeper) stage(s windupStage) {
	if tk.hook != nil {
		tk.hook(s)
	}
}

// activate makes e the counter the next windup switches to
func (tk *Timekeeper) activate(e *entry) {
	if tk.active == e {
		return
	}
	// two reads to let it settle
	e.Read()
	e.Read()
	if tk.active.state == StateActive {
		tk.active.state = StateRegistered
	}
	e.state = StateActive
	log.Infof("switching timecounter %q -> %q", tk.active.name, e.name)
	tk.active = e
}
