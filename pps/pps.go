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
Package pps timestamps pulse-per-second edges against the timecounter.

A driver calls Capture as close to the edge as it can, then Event to turn the
capture into a timestamp. Consumers poll Info, block in Fetch or Subscribe
to a channel. One edge of a source can be bound to the kernel clock
discipline, in which case every event of that edge is fed to it as a
reference on the whole second.
*/
package pps

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/eclesh/welford"
	log "github.com/sirupsen/logrus"

	"github.com/facebook/timecounter/bintime"
	"github.com/facebook/timecounter/timecounter"
)

// Edge of the pulse
type Edge int

// Edges
const (
	EdgeAssert Edge = iota
	EdgeClear
)

func (e Edge) String() string {
	switch e {
	case EdgeAssert:
		return "assert"
	case EdgeClear:
		return "clear"
	}
	return fmt.Sprintf("edge(%d)", int(e))
}

// Mode bits of Params
type Mode uint32

// Modes
const (
	CaptureAssert Mode = 1 << iota
	CaptureClear
	OffsetAssert
	OffsetClear

	CaptureBoth = CaptureAssert | CaptureClear
)

// Errors returned by Source
var (
	ErrNoCapture   = errors.New("no capture pending")
	ErrBadMode     = errors.New("unsupported mode")
	ErrKernelBound = errors.New("kernel consumer already bound")
)

// Clock is what a Source timestamps edges with
type Clock interface {
	Capture() timecounter.Capture
	CaptureTime(c timecounter.Capture) (bintime.BinTime, bool)
	FeedReference(c timecounter.Capture, ref bintime.BinTime, mode timecounter.Mode) error
}

// Params of a Source
type Params struct {
	Mode         Mode
	AssertOffset time.Duration
	ClearOffset  time.Duration
}

// Info is the latest timestamp of each edge with its sequence number
type Info struct {
	AssertTime     bintime.BinTime
	AssertSequence uint64
	ClearTime      bintime.BinTime
	ClearSequence  uint64
	Mode           Mode
}

// Jitter describes the spread of the intervals between assert edges
type Jitter struct {
	Count  int
	Mean   time.Duration
	Stddev time.Duration
}

// Source is a PPS source
type Source struct {
	name  string
	clock Clock
	caps  Mode

	mu         sync.Mutex
	params     Params
	info       Info
	pending    timecounter.Capture
	event      chan struct{}
	subs       map[chan Info]struct{}
	kernel     bool
	kernelEdge Edge
	intervals  *welford.Stats
	count      int
}

// New creates a Source supporting the capture modes in caps
func New(name string, clock Clock, caps Mode) *Source {
	return &Source{
		name:      name,
		clock:     clock,
		caps:      caps,
		event:     make(chan struct{}),
		subs:      map[chan Info]struct{}{},
		intervals: welford.New(),
	}
}

// Name of the source
func (s *Source) Name() string {
	return s.name
}

// Capabilities returns supported modes
func (s *Source) Capabilities() Mode {
	return s.caps
}

// Capture reads the clock at the edge. It's meant to be called from the edge handler.
func (s *Source) Capture() {
	c := s.clock.Capture()
	s.mu.Lock()
	s.pending = c
	s.mu.Unlock()
}

func edgeMode(e Edge) (capture, offset Mode) {
	if e == EdgeClear {
		return CaptureClear, OffsetClear
	}
	return CaptureAssert, OffsetAssert
}

// Event converts the pending capture into a timestamp of the given edge.
// Edges not enabled in Params are dropped.
func (s *Source) Event(e Edge) error {
	return s.EventAt(e, 0)
}

// EventAt is Event for an edge which happened ago before the pending capture,
// as reported by hardware which latched it.
func (s *Source) EventAt(e Edge, ago time.Duration) error {
	s.mu.Lock()
	c := s.pending
	s.pending = timecounter.Capture{}
	if c.Generation == 0 {
		s.mu.Unlock()
		return ErrNoCapture
	}
	captureBit, offsetBit := edgeMode(e)
	if s.params.Mode&captureBit == 0 {
		s.mu.Unlock()
		return nil
	}
	ts, ok := s.clock.CaptureTime(c)
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%s %s event: %w", s.name, e, timecounter.ErrStaleCapture)
	}
	ts = ts.Sub(bintime.FromDuration(ago))
	var offset time.Duration
	if s.params.Mode&offsetBit != 0 {
		offset = s.params.AssertOffset
		if e == EdgeClear {
			offset = s.params.ClearOffset
		}
		ts = ts.Add(bintime.FromDuration(offset))
	}
	if e == EdgeClear {
		s.info.ClearTime = ts
		s.info.ClearSequence++
	} else {
		if s.info.AssertSequence > 0 {
			s.intervals.Add(ts.Sub(s.info.AssertTime).Seconds())
			s.count++
		}
		s.info.AssertTime = ts
		s.info.AssertSequence++
	}
	info := s.info
	close(s.event)
	s.event = make(chan struct{})
	for ch := range s.subs {
		select {
		case ch <- info:
		default:
			log.Debugf("%s: subscriber is slow, dropping event", s.name)
		}
	}
	kernel := s.kernel && s.kernelEdge == e
	s.mu.Unlock()

	if !kernel {
		return nil
	}
	if offset == 0 && ago == 0 {
		return s.clock.FeedReference(c, bintime.Zero, timecounter.ModeExactSecond)
	}
	// the edge is on the second once the offset is applied, the capture is ago after it
	ref := ts.Round().Sub(bintime.FromDuration(offset)).Add(bintime.FromDuration(ago))
	return s.clock.FeedReference(c, ref, timecounter.ModeCapture)
}

// SetParams changes the mode and offsets
func (s *Source) SetParams(p Params) error {
	if p.Mode&^s.caps != 0 {
		return fmt.Errorf("%w: %#x, supported %#x", ErrBadMode, p.Mode, s.caps)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.params = p
	s.info.Mode = p.Mode
	return nil
}

// GetParams returns current params
func (s *Source) GetParams() Params {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.params
}

// Info returns the latest timestamps without waiting
func (s *Source) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info
}

// Fetch waits for the next event
func (s *Source) Fetch(ctx context.Context) (Info, error) {
	s.mu.Lock()
	ch := s.event
	s.mu.Unlock()
	select {
	case <-ctx.Done():
		return Info{}, ctx.Err()
	case <-ch:
		return s.Info(), nil
	}
}

// Subscribe returns a channel receiving every event and a function to stop the subscription.
// Events are dropped if the channel isn't drained.
func (s *Source) Subscribe() (<-chan Info, func()) {
	ch := make(chan Info, 1)
	s.mu.Lock()
	s.subs[ch] = struct{}{}
	s.mu.Unlock()
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, ch)
			s.mu.Unlock()
			close(ch)
		})
	}
}

// BindKernel feeds every event of the edge to the kernel discipline
func (s *Source) BindKernel(e Edge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.kernel {
		return fmt.Errorf("%s: %w", s.name, ErrKernelBound)
	}
	captureBit, _ := edgeMode(e)
	if s.caps&captureBit == 0 {
		return fmt.Errorf("%w: can't capture %s", ErrBadMode, e)
	}
	s.kernel = true
	s.kernelEdge = e
	log.Infof("%s: %s edge bound to the kernel discipline", s.name, e)
	return nil
}

// UnbindKernel stops feeding the kernel discipline
func (s *Source) UnbindKernel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.kernel = false
}

// Jitter returns statistics of the intervals between assert edges
func (s *Source) Jitter() Jitter {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.count == 0 {
		return Jitter{}
	}
	j := Jitter{
		Count: s.count,
		Mean:  time.Duration(s.intervals.Mean() * float64(time.Second)),
	}
	if s.count > 1 {
		j.Stddev = time.Duration(s.intervals.Stddev() * float64(time.Second))
	}
	return j
}
