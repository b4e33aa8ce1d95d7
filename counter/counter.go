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
Package counter defines hardware tick sources for the timecounter.

A Counter is a free running tick source which may wrap around: only the bits
covered by Mask are significant, and the difference between two reads taken
modulo Mask+1 is the number of ticks elapsed, at Frequency ticks per second.
Quality ranks counters for automatic selection; counters with negative
quality are only ever used when chosen explicitly.

Counters which latch PPS edges in hardware implement PPSPoller. Counters which
hold OS resources implement io.Closer; the timecounter calls Close only after
no reader can observe the counter anymore.
*/
package counter

// Counter is a free running, possibly wrapping, tick source
type Counter interface {
	// Name is the unique name the counter is registered under
	Name() string
	// Read returns the current raw tick value
	Read() uint64
	// Mask selects the significant bits of Read
	Mask() uint64
	// Frequency is the number of ticks per second
	Frequency() uint64
	// Quality ranks counters for automatic selection, negative means never auto-select
	Quality() int
}

// PPSPoller is implemented by counters which latch PPS edges themselves
// and need to be polled before they stop being the active counter.
type PPSPoller interface {
	PollPPS()
}

// Well-known qualities
const (
	// QualityDummy is the quality of the built-in fallback counter
	QualityDummy = -1000000
	// QualityInsufficientHz is what counters which would wrap between two ticks get demoted to
	QualityInsufficientHz = -2000
)
