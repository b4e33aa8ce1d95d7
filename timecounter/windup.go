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
	"github.com/facebook/timecounter/counter"
)

// windup folds the ticks elapsed since the current snapshot into the next ring slot
// and publishes it. Must be called with tk.mu held.
func (tk *Timekeeper) windup() {
	tho := tk.current.Load()
	th := tho.next

	// readers which picked th up before now will retry
	ogen := th.generation.Load()
	th.generation.Store(0)
	tk.stage(stageZeroed)
	th.copyFrom(tho)
	tk.stage(stageCopied)

	c := th.counter.Load()
	delta := c.delta(th.offsetCount.Load())
	switching := tk.active != c
	var ncount uint64
	if switching {
		ncount = tk.active.Read()
	}
	th.offsetCount.Store((th.offsetCount.Load() + delta) & c.mask)
	offset := th.offset.Load().AddScaled(th.scale.Load(), delta)
	th.offset.Store(offset)

	// the outgoing counter may hold a PPS edge latched against it
	if p, ok := c.Counter.(counter.PPSPoller); ok {
		p.PollPPS()
	}

	adj := th.adjustment.Load()
	wall := offset.Add(tk.base)
	if tk.ntp != nil {
		i := wall.Sec - tho.wall.Load().Sec
		if i > tk.cfg.LargeStep {
			i = 2
		}
		for ; i > 0; i-- {
			t := wall.Sec
			adj, wall.Sec = tk.ntp.UpdateSecond(adj, wall.Sec)
			if wall.Sec != t {
				tk.base.Sec += wall.Sec - t
			}
		}
	}
	th.base.Store(tk.base)
	th.wall.Store(offset.Add(tk.base))

	if switching {
		c = tk.active
		th.counter.Store(c)
		th.offsetCount.Store(ncount & c.mask)
	}
	if switching || adj != tho.adjustment.Load() {
		th.scale.Store(computeScale(adj, c.freq))
	}
	th.adjustment.Store(adj)
	tk.stage(stageUpdated)

	// zero is skipped, see nextGeneration
	th.generation.Store(nextGeneration(ogen))
	tk.current.Store(th)
	tho.generation.Store(nextGeneration(tho.generation.Load()))
	tk.windups.Add(1)
	tk.stage(stagePublished)
}
