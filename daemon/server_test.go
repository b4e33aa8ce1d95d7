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
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/facebook/timecounter/counter"
	"github.com/facebook/timecounter/kernntp"
	"github.com/facebook/timecounter/timecounter"
)

type fakeController struct {
	sync.Mutex
	selected string
	bad      string
}

func (f *fakeController) List() []timecounter.Info {
	f.Lock()
	defer f.Unlock()
	return []timecounter.Info{
		{Name: counter.DummyName, Frequency: 1000000000, Mask: 0xffffffff, Quality: counter.QualityDummy, State: timecounter.StateRegistered},
		{Name: "tsc", Frequency: 1024, Mask: 0xffff, Quality: 100, State: timecounter.StateActive, Active: true, Chosen: f.selected == "tsc", Bad: f.bad == "tsc"},
	}
}

func (f *fakeController) Select(name string) error {
	if name != "tsc" {
		return fmt.Errorf("%w: %q", timecounter.ErrNotFound, name)
	}
	f.Lock()
	f.selected = name
	f.Unlock()
	return nil
}

func (f *fakeController) MarkBad(name string) error {
	if name == counter.DummyName {
		return timecounter.ErrBuiltin
	}
	if name != "tsc" {
		return fmt.Errorf("%w: %q", timecounter.ErrNotFound, name)
	}
	f.Lock()
	f.bad = name
	f.Unlock()
	return nil
}

func (f *fakeController) Status() Status {
	return Status{
		Now:    time.Unix(1700000000, 42).UTC(),
		Uptime: time.Hour,
		Timecounter: timecounter.Stats{
			Active:     "tsc",
			Generation: 7,
			Windups:    100,
			Removals:   1,
			Scale:      1 << 54,
			Counters:   2,
		},
		Discipline: kernntp.Stats{
			State:        kernntp.StateIns,
			Leap:         kernntp.LeapInsert,
			TAI:          37,
			FrequencyPPB: -12.5,
			TimeConstant: 2,
			Servo:        "LOCKED",
		},
	}
}

func startServer(t *testing.T) (*Client, *Stats, *fakeController) {
	stats := NewStats()
	ctl := &fakeController{}
	ts := httptest.NewServer(NewServer(stats, ctl).Handler())
	t.Cleanup(ts.Close)
	return NewClient(ts.URL), stats, ctl
}

func TestServerCounters(t *testing.T) {
	c, _, ctl := startServer(t)
	got, err := c.Counters()
	require.NoError(t, err)
	require.Equal(t, ctl.List(), got)
}

func TestServerSelect(t *testing.T) {
	c, _, _ := startServer(t)
	got, err := c.Select("tsc")
	require.NoError(t, err)
	require.True(t, got[1].Chosen)

	_, err = c.Select("hpet")
	require.ErrorContains(t, err, "404")
	require.ErrorContains(t, err, "counter not found")
}

func TestServerMarkBad(t *testing.T) {
	c, _, _ := startServer(t)
	got, err := c.MarkBad("tsc")
	require.NoError(t, err)
	require.True(t, got[1].Bad)

	_, err = c.MarkBad(counter.DummyName)
	require.ErrorContains(t, err, "403")
}

func TestServerStatus(t *testing.T) {
	c, _, ctl := startServer(t)
	got, err := c.Status()
	require.NoError(t, err)
	want := ctl.Status()
	require.True(t, want.Now.Equal(got.Now))
	require.Equal(t, want.Uptime, got.Uptime)
	require.Equal(t, want.Timecounter, got.Timecounter)
	require.Equal(t, want.Discipline, got.Discipline)
}

func TestServerStats(t *testing.T) {
	c, stats, _ := startServer(t)
	stats.SetCounter("offset_ns", -42)
	stats.SetCounter("timecounter.windups", 3)
	got, err := c.Stats()
	require.NoError(t, err)
	require.Equal(t, map[string]int64{"offset_ns": -42, "timecounter.windups": 3}, got)
}

func TestServerBadRequests(t *testing.T) {
	stats := NewStats()
	ts := httptest.NewServer(NewServer(stats, &fakeController{}).Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/select?name=tsc")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	resp, err = http.Post(ts.URL+"/select", "", nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Post(ts.URL+"/counters", "", nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/nope")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServerMetrics(t *testing.T) {
	stats := NewStats()
	ts := httptest.NewServer(NewServer(stats, &fakeController{}).Handler())
	defer ts.Close()

	stats.SetCounter("offset_ns.60.abs_max", 1234)
	stats.SetCounter("discipline.tai", 37)
	for range 2 {
		resp, err := http.Get(ts.URL + "/metrics")
		require.NoError(t, err)
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.Contains(t, string(body), "timecounter_offset_ns_60_abs_max 1234")
		require.Contains(t, string(body), "timecounter_discipline_tai 37")
	}
}

func TestFlattenKey(t *testing.T) {
	require.Equal(t, "process_cpu_pct_avg_1", flattenKey("process.cpu_pct.avg.1"))
	require.Equal(t, "a_b_c_d_e_f", flattenKey("a b-c=d/e:f"))
}

func TestNewClientAddress(t *testing.T) {
	require.Equal(t, "http://localhost:21040", NewClient("localhost:21040").address)
	require.Equal(t, "https://host:1", NewClient("https://host:1/").address)
}
