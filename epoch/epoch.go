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
Package epoch implements epoch based reclamation for objects which readers use
without taking a lock.

Every reader claims a slot in the Table for the duration of its read and
stamps it with the removal generation current at entry. A writer that wants to
release an object first makes it unreachable for new readers, then calls
Retire to open a new generation and Drain to wait until no slot carries an
older stamp. Readers never block on writers; only Drain sleeps.

A nested read (for example a reader that triggers another read through a
callback) claims a separate slot, so the outer stamp is never overwritten or
cleared early.
*/
package epoch

import (
	"context"
	"math/rand/v2"
	"runtime"
	"sync/atomic"
	"time"
)

// DefaultRetryInterval is how long Drain sleeps between scans
const DefaultRetryInterval = 10 * time.Millisecond

const minSlots = 64

// slot is padded to a cache line so concurrent readers don't share one
type slot struct {
	stamp atomic.Uint64
	_     [56]byte
}

// Table holds reader stamps and the removal counter
type Table struct {
	removals atomic.Uint64
	slots    []slot
}

// Guard identifies the slot claimed by Enter
type Guard int

// NewTable returns a Table with room for size concurrent readers.
// Size <= 0 picks a default based on GOMAXPROCS.
func NewTable(size int) *Table {
	if size <= 0 {
		size = max(minSlots, 8*runtime.GOMAXPROCS(0))
	}
	t := &Table{slots: make([]slot, size)}
	// stamps are never 0, 0 means "not reading"
	t.removals.Store(1)
	return t
}

// Enter stamps a free slot with the current removal generation.
// It must be paired with Exit. When every slot is taken Enter spins, yielding
// the processor, until some reader calls Exit.
func (t *Table) Enter() Guard {
	stamp := t.removals.Load()
	n := len(t.slots)
	i := rand.IntN(n)
	for tries := 1; ; tries++ {
		if t.slots[i].stamp.CompareAndSwap(0, stamp) {
			return Guard(i)
		}
		if i++; i == n {
			i = 0
		}
		// every slot is taken, let someone finish
		if tries%n == 0 {
			runtime.Gosched()
		}
	}
}

// Exit releases the slot claimed by Enter
func (t *Table) Exit(g Guard) {
	t.slots[g].stamp.Store(0)
}

// Removals returns the current removal generation
func (t *Table) Removals() uint64 {
	return t.removals.Load()
}

// Retire opens a new removal generation and returns it.
// Anything made unreachable before the call is safe to release once Drain for the returned generation returns.
func (t *Table) Retire() uint64 {
	return t.removals.Add(1)
}

// Busy returns how many readers entered before generation r and are still reading
func (t *Table) Busy(r uint64) int {
	busy := 0
	for i := range t.slots {
		if s := t.slots[i].stamp.Load(); s != 0 && s < r {
			busy++
		}
	}
	return busy
}

// Drain waits until no reader that entered before generation r remains.
// Readers that entered later can't have seen what was retired and are not waited for.
func (t *Table) Drain(ctx context.Context, r uint64, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultRetryInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if t.Busy(r) == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
