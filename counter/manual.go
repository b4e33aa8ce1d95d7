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

package counter

import (
	"fmt"
	"sync/atomic"
)

// Manual is a counter whose tick value is set explicitly.
// It is used by simulations and tests to drive the timecounter deterministically.
type Manual struct {
	name    string
	freq    uint64
	mask    uint64
	quality int

	tick   atomic.Uint64
	reads  atomic.Uint64
	closed atomic.Bool
	pps    atomic.Pointer[func()]
}

// NewManual returns a Manual counter starting at tick 0
func NewManual(name string, freq, mask uint64, quality int) *Manual {
	return &Manual{name: name, freq: freq, mask: mask, quality: quality}
}

// Set sets the raw tick value
func (m *Manual) Set(tick uint64) {
	m.tick.Store(tick)
}

// Advance moves the counter forward by n ticks, wrapping at the mask
func (m *Manual) Advance(n uint64) {
	m.tick.Add(n)
}

// Reads returns how many times the counter was read
func (m *Manual) Reads() uint64 {
	return m.reads.Load()
}

// Name implements Counter
func (m *Manual) Name() string { return m.name }

// Read implements Counter. Reading a closed counter is a bug in the caller and panics.
func (m *Manual) Read() uint64 {
	if m.closed.Load() {
		panic(fmt.Sprintf("counter %q read after release", m.name))
	}
	m.reads.Add(1)
	return m.tick.Load() & m.mask
}

// Mask implements Counter
func (m *Manual) Mask() uint64 { return m.mask }

// Frequency implements Counter
func (m *Manual) Frequency() uint64 { return m.freq }

// Quality implements Counter
func (m *Manual) Quality() int { return m.quality }

// OnPPS installs a function called whenever the counter is polled for PPS edges
func (m *Manual) OnPPS(f func()) {
	m.pps.Store(&f)
}

// PollPPS implements PPSPoller
func (m *Manual) PollPPS() {
	if f := m.pps.Load(); f != nil && *f != nil {
		(*f)()
	}
}

// Close implements io.Closer
func (m *Manual) Close() error {
	if m.closed.Swap(true) {
		return fmt.Errorf("counter %q already released", m.name)
	}
	return nil
}

// Closed reports whether Close was called
func (m *Manual) Closed() bool {
	return m.closed.Load()
}
