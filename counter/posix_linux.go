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
	"math"
	"sync/atomic"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/facebook/timecounter/clock"
)

// Posix reads a POSIX clock (CLOCK_MONOTONIC_RAW by default) in nanoseconds
type Posix struct {
	name    string
	clockid int32
	quality int
	last    atomic.Uint64
}

// NewPosix returns a counter reading given clock id
func NewPosix(name string, clockid int32, quality int) (*Posix, error) {
	p := &Posix{name: name, clockid: clockid, quality: quality}
	// make sure the clock is readable before anyone registers it
	ns, err := clock.Nanotime(clockid)
	if err != nil {
		return nil, err
	}
	p.last.Store(ns)
	return p, nil
}

// NewMonotonicRaw returns a counter reading CLOCK_MONOTONIC_RAW
func NewMonotonicRaw(quality int) (*Posix, error) {
	return NewPosix("monotonic_raw", unix.CLOCK_MONOTONIC_RAW, quality)
}

// Name implements Counter
func (p *Posix) Name() string { return p.name }

// Read implements Counter. On the (unexpected) syscall failure last good value is repeated.
func (p *Posix) Read() uint64 {
	ns, err := clock.Nanotime(p.clockid)
	if err != nil {
		log.Errorf("counter %s: %v", p.name, err)
		return p.last.Load()
	}
	p.last.Store(ns)
	return ns
}

// Mask implements Counter
func (p *Posix) Mask() uint64 { return math.MaxUint64 }

// Frequency implements Counter
func (p *Posix) Frequency() uint64 { return 1000000000 }

// Quality implements Counter
func (p *Posix) Quality() int { return p.quality }
