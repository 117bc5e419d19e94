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

package stats

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/process"
)

var procStartTime = time.Now()

// SysStats collects process and Go runtime stats of gptpd
type SysStats struct {
	memstats *runtime.MemStats
}

// delta records difference between two readings and its per second rate
func delta(stats map[string]uint64, name string, cur, prev uint64, interval time.Duration) {
	secs := uint64(interval.Seconds())
	if prev > cur || secs == 0 {
		return
	}
	stats[fmt.Sprintf("%s.sum.%d", name, secs)] = cur - prev
	stats[fmt.Sprintf("%s.rate.%d", name, secs)] = (cur - prev) / secs
}

func processStats(stats map[string]uint64, interval time.Duration) error {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return err
	}
	stats["process.uptime"] = uint64(time.Since(procStartTime).Seconds())
	if pct, err := proc.Percent(0); err == nil {
		stats[fmt.Sprintf("process.cpu_pct.avg.%d", int(interval.Seconds()))] = uint64(pct * 100)
	}
	if mem, err := proc.MemoryInfo(); err == nil {
		stats["process.rss"] = mem.RSS
		stats["process.vms"] = mem.VMS
	}
	if fds, err := proc.NumFDs(); err == nil {
		stats["process.num_fds"] = uint64(fds)
	}
	if threads, err := proc.NumThreads(); err == nil {
		stats["process.num_threads"] = uint64(threads)
	}
	return nil
}

// CollectRuntimeStats gathers cpu, mem, gc statistics
func (s *SysStats) CollectRuntimeStats(interval time.Duration) (map[string]uint64, error) {
	stats := make(map[string]uint64)
	if err := processStats(stats, interval); err != nil {
		return nil, err
	}

	m := &runtime.MemStats{}
	runtime.ReadMemStats(m)
	stats["runtime.cpu.goroutines"] = uint64(runtime.NumGoroutine())
	stats["runtime.mem.alloc"] = m.Alloc
	stats["runtime.mem.sys"] = m.Sys
	stats["runtime.mem.heap.alloc"] = m.HeapAlloc
	stats["runtime.mem.heap.inuse"] = m.HeapInuse
	stats["runtime.mem.heap.objects"] = m.HeapObjects
	stats["runtime.mem.gc.pause_total"] = m.PauseTotalNs
	stats["runtime.mem.gc.count"] = uint64(m.NumGC)
	if prev := s.memstats; prev != nil {
		delta(stats, "runtime.mem.mallocs", m.Mallocs, prev.Mallocs, interval)
		delta(stats, "runtime.mem.frees", m.Frees, prev.Frees, interval)
		delta(stats, "runtime.gc.pause_ns", m.PauseTotalNs, prev.PauseTotalNs, interval)
		delta(stats, "runtime.gc.count", uint64(m.NumGC), uint64(prev.NumGC), interval)
	}
	s.memstats = m
	return stats, nil
}
