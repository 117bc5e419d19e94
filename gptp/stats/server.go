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
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Stats holds gptpd counters and the latest port snapshot
type Stats struct {
	mux       sync.Mutex
	counters  map[string]int64
	portStats PortStats
}

// NewStats created new instance of Stats
func NewStats() *Stats {
	return &Stats{
		counters: map[string]int64{},
	}
}

// UpdateCounterBy will increment counter
func (s *Stats) UpdateCounterBy(key string, count int64) {
	s.mux.Lock()
	s.counters[key] += count
	s.mux.Unlock()
}

// SetCounter will set a counter to the provided value.
func (s *Stats) SetCounter(key string, val int64) {
	s.mux.Lock()
	s.counters[key] = val
	s.mux.Unlock()
}

// GetCounters returns an map of counters
func (s *Stats) GetCounters() map[string]int64 {
	ret := make(map[string]int64)
	s.mux.Lock()
	for key, val := range s.counters {
		ret[key] = val
	}
	s.mux.Unlock()
	return ret
}

// Reset all the values of counters
func (s *Stats) Reset() {
	s.mux.Lock()
	for k := range s.counters {
		s.counters[k] = 0
	}
	s.mux.Unlock()
}

// SetPortStats stores port snapshot
func (s *Stats) SetPortStats(ps *PortStats) {
	s.mux.Lock()
	s.portStats = *ps
	s.mux.Unlock()
}

// GetPortStats returns copy of port snapshot
func (s *Stats) GetPortStats() PortStats {
	s.mux.Lock()
	defer s.mux.Unlock()
	return s.portStats
}

// JSONStats is what we want to report as stats via http
type JSONStats struct {
	Stats
	sys SysStats
}

// NewJSONStats returns a new JSONStats
func NewJSONStats() *JSONStats {
	return &JSONStats{Stats: Stats{counters: map[string]int64{}}}
}

// CollectSysStats gathers process and runtime stats into counters
func (s *JSONStats) CollectSysStats(interval time.Duration) error {
	sysStats, err := s.sys.CollectRuntimeStats(interval)
	if err != nil {
		return err
	}
	for k, v := range sysStats {
		s.SetCounter(k, int64(v))
	}
	return nil
}

// Start runs http server and collects sys stats every interval
func (s *JSONStats) Start(monitoringport int, interval time.Duration) {
	// collect stats forever
	go func() {
		for range time.Tick(interval) {
			// update stats on every tick
			if err := s.CollectSysStats(interval); err != nil {
				log.Warningf("failed to get system metrics %s", err)
			}
		}
	}()

	addr := fmt.Sprintf(":%d", monitoringport)
	log.Infof("Starting http json server on %s", addr)
	if err := http.ListenAndServe(addr, s.handler()); err != nil {
		log.Fatalf("Failed to start listener: %v", err)
	}
}

func (s *JSONStats) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleRootRequest)
	mux.HandleFunc("/counters", s.handleCountersRequest)
	return mux
}

func reply(w http.ResponseWriter, v any) {
	js, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if _, err = w.Write(js); err != nil {
		log.Errorf("Failed to reply: %v", err)
	}
}

// handleRootRequest replies with port state
func (s *JSONStats) handleRootRequest(w http.ResponseWriter, _ *http.Request) {
	ps := s.GetPortStats()
	reply(w, &ps)
}

// handleCountersRequest replies with all counters
func (s *JSONStats) handleCountersRequest(w http.ResponseWriter, _ *http.Request) {
	reply(w, s.GetCounters())
}
