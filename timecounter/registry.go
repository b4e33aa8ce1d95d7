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
	"context"
	"fmt"
	"io"
	"sort"

	log "github.com/sirupsen/logrus"

	"github.com/facebook/timecounter/counter"
)

// qualityBad is what MarkBad sets counters to
const qualityBad = -100

// Info describes a registered counter
type Info struct {
	Name      string `json:"name"`
	Frequency uint64 `json:"frequency"`
	Mask      uint64 `json:"mask"`
	Quality   int    `json:"quality"`
	State     State  `json:"state"`
	Active    bool   `json:"active"`
	Chosen    bool   `json:"chosen"`
	Bad       bool   `json:"bad"`
}

// better reports whether a should be preferred over b for automatic selection
func better(a, b *entry) bool {
	if a.quality != b.quality {
		return a.quality > b.quality
	}
	if a.freq != b.freq {
		return a.freq > b.freq
	}
	return a.name < b.name
}

// best picks the counter automatic selection would use, falling back to the dummy
func (tk *Timekeeper) best() *entry {
	res := tk.dummy
	for _, e := range tk.counters {
		if e.quality < 0 || e.state == StateDraining {
			continue
		}
		if res == tk.dummy || better(e, res) {
			res = e
		}
	}
	return res
}

// Register adds a counter. It becomes active right away if it's better than the active one
// and no counter was chosen with Select. Counters which would wrap between two ticks are
// registered with negative quality and ErrInsufficientHz is returned.
func (tk *Timekeeper) Register(c counter.Counter) error {
	e := newEntry(c)
	if e.freq == 0 || e.mask == 0 {
		return fmt.Errorf("%w: %q has frequency %d and mask %#x", ErrInvalidCounter, e.name, e.freq, e.mask)
	}
	tk.mu.Lock()
	defer tk.mu.Unlock()
	if _, ok := tk.counters[e.name]; ok {
		return fmt.Errorf("%w: %q", ErrExists, e.name)
	}

	var err error
	u := e.freq / e.mask
	u = u * 11 / 10
	if u > uint64(tk.cfg.Hz) && e.quality >= 0 {
		err = fmt.Errorf("%w: %q needs %d Hz, have %d Hz", ErrInsufficientHz, e.name, u, tk.cfg.Hz)
		log.Warningf("%v, demoting to quality %d", err, counter.QualityInsufficientHz)
		e.quality = counter.QualityInsufficientHz
	}
	e.state = StateRegistered
	tk.counters[e.name] = e
	log.Infof("registered timecounter %q frequency %d Hz quality %d", e.name, e.freq, e.quality)

	// never automatically switch to a counter with negative quality, or away from a chosen one
	if tk.chosen || e.quality < 0 || !better(e, tk.active) {
		return err
	}
	tk.activate(e)
	tk.windup()
	return err
}

// MarkBad demotes a counter. If it is active the next Tick moves to the best remaining one.
func (tk *Timekeeper) MarkBad(name string) error {
	tk.mu.Lock()
	defer tk.mu.Unlock()
	e, ok := tk.counters[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	if e == tk.dummy {
		return fmt.Errorf("%w: %q", ErrBuiltin, name)
	}
	e.bad = true
	if e.quality >= 0 {
		e.quality = qualityBad
	}
	log.Warningf("timecounter %q marked bad", name)
	return nil
}

// Tick folds elapsed time into a new snapshot. It has to be called at least Config.Hz times per second.
func (tk *Timekeeper) Tick() {
	tk.mu.Lock()
	defer tk.mu.Unlock()
	if tk.active.bad {
		tk.chosen = false
		tk.activate(tk.best())
	}
	tk.windup()
}

// Select makes the named counter active regardless of its quality.
// It stays active until it is marked bad or unregistered.
func (tk *Timekeeper) Select(name string) error {
	tk.mu.Lock()
	defer tk.mu.Unlock()
	e, ok := tk.counters[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	tk.activate(e)
	tk.chosen = true
	tk.windup()
	return nil
}

// Active returns the name of the active counter
func (tk *Timekeeper) Active() string {
	tk.mu.Lock()
	defer tk.mu.Unlock()
	return tk.active.name
}

// List returns registered counters sorted by name
func (tk *Timekeeper) List() []Info {
	tk.mu.Lock()
	defer tk.mu.Unlock()
	res := make([]Info, 0, len(tk.counters))
	for _, e := range tk.counters {
		res = append(res, Info{
			Name:      e.name,
			Frequency: e.freq,
			Mask:      e.mask,
			Quality:   e.quality,
			State:     e.state,
			Active:    e == tk.active,
			Chosen:    e == tk.active && tk.chosen,
			Bad:       e.bad,
		})
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Name < res[j].Name })
	return res
}

// Unregister removes a counter. It returns once no reader can be using it anymore,
// closing the counter if it implements io.Closer. If ctx is done first the counter
// is left draining and not closed.
func (tk *Timekeeper) Unregister(ctx context.Context, name string) error {
	tk.mu.Lock()
	e, ok := tk.counters[name]
	if !ok {
		tk.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	if e == tk.dummy {
		tk.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrBuiltin, name)
	}
	delete(tk.counters, name)
	e.state = StateDraining
	if tk.active == e {
		tk.chosen = false
		tk.activate(tk.best())
	}
	if tk.current.Load().counter.Load() == e {
		tk.windup()
	}
	r := tk.epoch.Retire()
	tk.mu.Unlock()

	log.Debugf("waiting for readers of timecounter %q to leave", name)
	if err := tk.epoch.Drain(ctx, r, tk.cfg.RemovalRetryInterval); err != nil {
		return fmt.Errorf("draining timecounter %q: %w", name, err)
	}

	tk.mu.Lock()
	e.state = StateFreed
	tk.removals++
	tk.mu.Unlock()
	log.Infof("unregistered timecounter %q", name)
	if closer, ok := e.Counter.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			return fmt.Errorf("closing timecounter %q: %w", name, err)
		}
	}
	return nil
}
