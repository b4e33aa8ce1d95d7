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
)

// DummyName is the name the fallback counter is registered under
const DummyName = "dummy"

// Dummy is a fallback counter which advances one tick per read.
// It keeps time monotonic while no real counter is registered,
// but has nothing to do with the passage of real time.
type Dummy struct {
	nonce atomic.Uint64
}

// Name implements Counter
func (d *Dummy) Name() string { return DummyName }

// Read implements Counter
func (d *Dummy) Read() uint64 { return d.nonce.Add(1) & math.MaxUint32 }

// Mask implements Counter
func (d *Dummy) Mask() uint64 { return math.MaxUint32 }

// Frequency implements Counter. One nanosecond per read keeps uptime close to zero.
func (d *Dummy) Frequency() uint64 { return 1000000000 }

// Quality implements Counter
func (d *Dummy) Quality() int { return QualityDummy }
