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

// Package leapsectz reads leap second information from the system timezone
// database and answers when the next leap second is due.
package leapsectz

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"time"
)

// DefaultFile is a tzfile carrying leap second records
const DefaultFile = "/usr/share/zoneinfo/right/UTC"

// taiBase is TAI-UTC before the first leap second
const taiBase = 10

var (
	errBadData            = errors.New("malformed time zone information")
	errUnsupportedVersion = errors.New("unsupported version")
	errNoLeapSeconds      = errors.New("no leap seconds information found")
)

// LeapSecond is a leap second record: Tleap is when it takes effect, in seconds since
// the epoch counting previous leap seconds, and Nleap is the total correction after it
type LeapSecond struct {
	Tleap uint64
	Nleap int32
}

// Time returns when the leap second event occurs
func (l LeapSecond) Time() time.Time {
	return time.Unix(int64(l.Tleap-uint64(l.Nleap)+1), 0)
}

// Table is a list of leap seconds sorted by time
type Table []LeapSecond

// Load reads leap seconds from path. Pass "" to use DefaultFile
func Load(path string) (Table, error) {
	if path == "" {
		path = DefaultFile
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	ls, err := decode(f)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	sort.Slice(ls, func(i, j int) bool { return ls[i].Tleap < ls[j].Tleap })
	return Table(ls), nil
}

// Latest returns the most recent leap second before now
func (t Table) Latest(now time.Time) (LeapSecond, bool) {
	for i := len(t) - 1; i >= 0; i-- {
		if t[i].Time().Before(now) {
			return t[i], true
		}
	}
	return LeapSecond{}, false
}

// Next returns the first leap second after now and whether it inserts a second
func (t Table) Next(now time.Time) (l LeapSecond, insert bool, ok bool) {
	for i, ls := range t {
		if !ls.Time().After(now) {
			continue
		}
		prev := int32(0)
		if i > 0 {
			prev = t[i-1].Nleap
		}
		return ls, ls.Nleap > prev, true
	}
	return LeapSecond{}, false, false
}

// Pending returns the leap second due at the end of the UTC day of now, if any
func (t Table) Pending(now time.Time) (l LeapSecond, insert bool, ok bool) {
	l, insert, ok = t.Next(now)
	if !ok {
		return l, insert, false
	}
	midnight := now.UTC().Truncate(24 * time.Hour).Add(24 * time.Hour)
	if l.Time().After(midnight) {
		return LeapSecond{}, false, false
	}
	return l, insert, true
}

// TAI returns TAI-UTC at now
func (t Table) TAI(now time.Time) int32 {
	l, ok := t.Latest(now)
	if !ok {
		return taiBase
	}
	return taiBase + l.Nleap
}
