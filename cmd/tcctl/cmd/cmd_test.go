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

package cmd

import (
	"bytes"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/require"

	"github.com/facebook/timecounter/daemon"
	"github.com/facebook/timecounter/kernntp"
	"github.com/facebook/timecounter/timecounter"
)

func init() {
	color.NoColor = true
}

func TestMarker(t *testing.T) {
	require.Equal(t, "*", marker(timecounter.Info{Active: true}))
	require.Equal(t, "*pinned", marker(timecounter.Info{Active: true, Chosen: true}))
	require.Equal(t, "bad", marker(timecounter.Info{Active: true, Bad: true}))
	require.Equal(t, "-", marker(timecounter.Info{Quality: -2000}))
	require.Equal(t, "", marker(timecounter.Info{Quality: 10}))
}

func TestPrintCounters(t *testing.T) {
	b := &bytes.Buffer{}
	err := printCounters(b, []timecounter.Info{
		{Name: "dummy", Frequency: 1000000000, Mask: 0xffffffff, Quality: -1000000, State: timecounter.StateRegistered},
		{Name: "tsc", Frequency: 1024, Mask: 0xffff, Quality: 100, State: timecounter.StateActive, Active: true},
	})
	require.NoError(t, err)
	out := b.String()
	require.Contains(t, out, "dummy")
	require.Contains(t, out, "0xffffffff")
	require.Contains(t, out, "REGISTERED")
	require.Contains(t, out, "tsc")
	require.Contains(t, out, "ACTIVE")
}

func TestPrintStats(t *testing.T) {
	b := &bytes.Buffer{}
	require.NoError(t, printStats(b, map[string]int64{"b": 2, "a": -1}, false))
	require.Equal(t, "a: -1\nb: 2\n", b.String())

	b.Reset()
	require.NoError(t, printStats(b, map[string]int64{"b": 2, "a": -1}, true))
	require.Equal(t, "{\"a\":-1,\"b\":2}\n", b.String())
}

func TestPrintStatus(t *testing.T) {
	b := &bytes.Buffer{}
	printStatus(b, &daemon.Status{
		Now:    time.Unix(1483228800, 0),
		Uptime: time.Minute,
		Timecounter: timecounter.Stats{
			Active: "tsc",
			Chosen: true,
		},
		Discipline: kernntp.Stats{
			State: kernntp.StateIns,
			Leap:  kernntp.LeapInsert,
			TAI:   36,
		},
	})
	out := b.String()
	require.Contains(t, out, "time:         2017-01-01 00:00:00.000000000 UTC\n")
	require.Contains(t, out, "counter:      tsc (pinned)\n")
	require.Contains(t, out, "leap:         insert (INS)\n")
	require.Contains(t, out, "TAI offset:   36\n")
}
