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
	"errors"
	"fmt"
	"time"
)

// Errors returned by Timekeeper
var (
	// ErrInsufficientHz means the counter wraps faster than windup runs. It was registered but won't be auto-selected.
	ErrInsufficientHz = errors.New("counter wraps faster than the tick rate")
	// ErrInvalidCounter means the counter can't keep time at all
	ErrInvalidCounter = errors.New("invalid counter")
	// ErrNotFound means there is no registered counter with such name
	ErrNotFound = errors.New("counter not found")
	// ErrExists means a counter with the same name is already registered
	ErrExists = errors.New("counter already registered")
	// ErrBuiltin means the operation is not allowed on the fallback counter
	ErrBuiltin = errors.New("operation not permitted on the builtin counter")
	// ErrStaleCapture means the snapshot a capture was taken against has been superseded
	ErrStaleCapture = errors.New("capture is stale")
	// ErrBadMode means unknown reference mode
	ErrBadMode = errors.New("unsupported reference mode")
)

// Config is the Timekeeper configuration
type Config struct {
	// RingSize is the number of snapshots in the ring, at least 2
	RingSize int
	// Hz is how many times per second Tick is called
	Hz int
	// LargeStep is the number of seconds a windup may cross before NTP second processing is cut down to two iterations
	LargeStep int64
	// RemovalRetryInterval is how long Unregister sleeps between scans for lingering readers
	RemovalRetryInterval time.Duration
	// EpochSlots is the number of readers which can be inside a read at once, 0 picks a default.
	// Readers past that spin in Enter until another reader leaves, so reads stay lock-free
	// only while fewer goroutines read concurrently than there are slots.
	EpochSlots int
}

// DefaultConfig returns default Timekeeper configuration
func DefaultConfig() Config {
	return Config{
		RingSize:             10,
		Hz:                   100,
		LargeStep:            200,
		RemovalRetryInterval: 10 * time.Millisecond,
	}
}

// Validate checks the config for sanity
func (c *Config) Validate() error {
	if c.RingSize < 2 {
		return fmt.Errorf("bad config: 'ringsize' must be at least 2")
	}
	if c.Hz <= 0 {
		return fmt.Errorf("bad config: 'hz' must be positive")
	}
	if c.LargeStep < 2 {
		return fmt.Errorf("bad config: 'largestep' must be at least 2 seconds")
	}
	if c.RemovalRetryInterval <= 0 {
		return fmt.Errorf("bad config: 'removalretryinterval' must be positive")
	}
	if c.EpochSlots < 0 {
		return fmt.Errorf("bad config: 'epochslots' must not be negative")
	}
	return nil
}
