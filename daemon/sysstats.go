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
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/process"
)

var procStartTime = time.Now()

// SysStats collects process and Go runtime stats
type SysStats struct {
	memstats *runtime.MemStats
}

// setRate is a helper function to make a crude rate/diff
func setRate(name string, counts map[string]uint64, cur, prev uint64, interval time.Duration) {
	if prev > cur {
		return
	}
	secs := max(uint64(interval.Seconds()), 1)
	counts[fmt.Sprintf("%s.sum.%d", name, secs)] = cur - prev
	counts[fmt.Sprintf("%s.rate.%d", name, secs)] = (cur - prev) / secs
}

// CollectRuntimeStats gathers cpu, mem, gc statistics
func (s *SysStats) CollectRuntimeStats(interval time.Duration) (map[string]uint64, error) {
	stats := make(map[string]uint64)
	m := &runtime.MemStats{}
	runtime.ReadMemStats(m)
	lastStats := s.memstats

	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, err
	}
	stats["process.uptime"] = uint64(time.Since(procStartTime).Seconds())

	if val, err := proc.Percent(0); err == nil {
		stats[fmt.Sprintf("process.cpu_pct.avg.%d", int(interval.Seconds()))] = uint64(val * 100)
	}
	if val, err := proc.MemoryInfo(); err == nil {
		stats["process.rss"] = val.RSS
		stats["process.vms"] = val.VMS
	}
	if val, err := proc.NumFDs(); err == nil {
		stats["process.num_fds"] = uint64(val)
	}
	if val, err := proc.NumThreads(); err == nil {
		stats["process.num_threads"] = uint64(val)
	}

	stats["runtime.cpu.goroutines"] = uint64(runtime.NumGoroutine())
	stats["runtime.mem.alloc"] = m.Alloc
	stats["runtime.mem.sys"] = m.Sys
	stats["runtime.mem.heap.alloc"] = m.HeapAlloc
	stats["runtime.mem.heap.inuse"] = m.HeapInuse
	stats["runtime.mem.heap.objects"] = m.HeapObjects
	stats["runtime.mem.gc.pause_total"] = m.PauseTotalNs
	stats["runtime.mem.gc.count"] = uint64(m.NumGC)
	if lastStats != nil {
		setRate("runtime.mem.mallocs", stats, m.Mallocs, lastStats.Mallocs, interval)
		setRate("runtime.gc.pause_ns", stats, m.PauseTotalNs, lastStats.PauseTotalNs, interval)
		setRate("runtime.gc.count", stats, uint64(m.NumGC), uint64(lastStats.NumGC), interval)
	}
	s.memstats = m
	return stats, nil
}
