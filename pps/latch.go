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

package pps

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"
)

// Latch is a counter which timestamps edges in hardware, like a PHC external timestamp channel.
// PollPPS delivers latched ticks, in the counter's units, to the channel Run reads.
type Latch interface {
	Name() string
	Read() uint64
	Mask() uint64
	Frequency() uint64
	PollPPS()
}

// latency is how long before now the tick was latched
func latency(l Latch, now, tick uint64) (time.Duration, bool) {
	ticks := (now - tick) & l.Mask()
	// more than a second old or from the future
	if ticks > l.Frequency() {
		return 0, false
	}
	return time.Duration(float64(ticks) / float64(l.Frequency()) * float64(time.Second)), true
}

// Run turns ticks latched by l into assert events until ctx is done.
// The latch is polled every poll interval in case it isn't the active counter and nobody else polls it.
func (s *Source) Run(ctx context.Context, l Latch, ticks <-chan uint64, poll time.Duration) error {
	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			l.PollPPS()
		case tick := <-ticks:
			s.Capture()
			ago, ok := latency(l, l.Read(), tick)
			if !ok {
				log.Debugf("%s: dropping stale edge latched at %d on %s", s.name, tick, l.Name())
				continue
			}
			if err := s.EventAt(EdgeAssert, ago); err != nil && !errors.Is(err, ErrNoCapture) {
				log.Warningf("%s: %v", s.name, err)
			}
		}
	}
}
