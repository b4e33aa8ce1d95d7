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
	"time"
)

// Monotonic reads Go runtime monotonic clock as nanoseconds since creation
type Monotonic struct {
	name    string
	base    time.Time
	mask    uint64
	quality int
}

// NewMonotonic returns a Monotonic counter. Mask allows emulating narrow hardware counters.
func NewMonotonic(name string, mask uint64, quality int) *Monotonic {
	return &Monotonic{name: name, base: time.Now(), mask: mask, quality: quality}
}

// Name implements Counter
func (m *Monotonic) Name() string { return m.name }

// Read implements Counter
func (m *Monotonic) Read() uint64 { return uint64(time.Since(m.base)) & m.mask }

// Mask implements Counter
func (m *Monotonic) Mask() uint64 { return m.mask }

// Frequency implements Counter
func (m *Monotonic) Frequency() uint64 { return uint64(time.Second) }

// Quality implements Counter
func (m *Monotonic) Quality() int { return m.quality }
