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

package daemon

import (
	"container/ring"
	"math"
	"sync"
	"time"
)

// Sample is what we store in the sample ring buffer
type Sample struct {
	// Time is the timecounter wall clock when the sample was taken
	Time time.Time
	// OffsetNS is the timecounter minus the reference, in NanoSeconds
	OffsetNS float64
	// FrequencyPPB is the discipline frequency correction in parts per billion
	FrequencyPPB float64
	// AdjtimeNS is the adjtime correction not applied yet, in NanoSeconds
	AdjtimeNS float64
}

// state of the daemon, guarded by mutex
type daemonState struct {
	sync.Mutex

	samples *ring.Ring // samples we collected
	count   int

	leapArmed time.Time // UTC day we last armed a leap second for
}

func newDaemonState(ringSize int) *daemonState {
	return &daemonState{
		samples: ring.New(ringSize),
	}
}

func (s *daemonState) pushSample(data *Sample) {
	s.Lock()
	defer s.Unlock()
	s.samples.Value = data
	s.samples = s.samples.Next()
	s.count = min(s.count+1, s.samples.Len())
}

// takeSamples returns up to n last samples, newest first
func (s *daemonState) takeSamples(n int) []*Sample {
	s.Lock()
	defer s.Unlock()
	result := []*Sample{}
	r := s.samples.Prev()
	for j := 0; j < min(n, s.count); j++ {
		result = append(result, r.Value.(*Sample))
		r = r.Prev()
	}
	return result
}

// aggregateSamplesMax returns the max absolute values over last n samples
func (s *daemonState) aggregateSamplesMax(n int) *Sample {
	d := &Sample{}
	for _, dp := range s.takeSamples(n) {
		d.OffsetNS = math.Max(d.OffsetNS, math.Abs(dp.OffsetNS))
		d.FrequencyPPB = math.Max(d.FrequencyPPB, math.Abs(dp.FrequencyPPB))
		d.AdjtimeNS = math.Max(d.AdjtimeNS, math.Abs(dp.AdjtimeNS))
	}
	return d
}

// armLeap reports whether leap second for the UTC day of now wasn't armed yet, and marks it armed
func (s *daemonState) armLeap(now time.Time) bool {
	s.Lock()
	defer s.Unlock()
	day := now.UTC().Truncate(24 * time.Hour)
	if s.leapArmed.Equal(day) {
		return false
	}
	s.leapArmed = day
	return true
}
