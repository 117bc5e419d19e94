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
Package timer implements fixed set of polled per-port timers.

Timers don't run on their own, they are evaluated by Tick called from the port loop.
A timer fires when at least its interval passed since it was started or last fired,
and restarts from the moment it fired.
*/
package timer

import (
	"fmt"
	"time"
)

// ID identifies one of the port timers
type ID int

// Port timers, in firing order
const (
	PDelayReqRepeat ID = iota
	PDelayReqTimeout
	AnnounceRepeat
	AnnounceTimeout
	SyncRepeat
	SyncTimeout
	// Count is the number of timers
	Count
)

var idToString = [Count]string{
	PDelayReqRepeat:  "PDELAY_REQ_REPEAT",
	PDelayReqTimeout: "PDELAY_REQ_TIMEOUT",
	AnnounceRepeat:   "ANNOUNCE_REPEAT",
	AnnounceTimeout:  "ANNOUNCE_TIMEOUT",
	SyncRepeat:       "SYNC_REPEAT",
	SyncTimeout:      "SYNC_TIMEOUT",
}

func (id ID) String() string {
	if id < 0 || id >= Count {
		return fmt.Sprintf("TIMER(%d)", int(id))
	}
	return idToString[id]
}

// Clock returns current monotonic time
type Clock func() time.Time

// Timer is a single polled timer. Zero Interval means it's inactive.
type Timer[E any] struct {
	Last     time.Time
	Interval time.Duration
	Event    E
	gen      uint64
}

// Active reports whether timer is running
func (t Timer[E]) Active() bool {
	return t.Interval > 0
}

// Fired is a timer that expired during Tick
type Fired[E any] struct {
	ID    ID
	Event E
	gen   uint64
}

// Registry holds all timers of a port
type Registry[E any] struct {
	timers [Count]Timer[E]
	clock  Clock
	gen    uint64
}

// NewRegistry returns Registry with all timers inactive. Nil clock means time.Now.
func NewRegistry[E any](clock Clock) *Registry[E] {
	if clock == nil {
		clock = time.Now
	}
	return &Registry[E]{clock: clock}
}

// Now returns current time as seen by the registry
func (r *Registry[E]) Now() time.Time {
	return r.clock()
}

// Start (re)arms timer to fire event every interval, counting from now
func (r *Registry[E]) Start(id ID, interval time.Duration, event E) error {
	if id < 0 || id >= Count {
		return fmt.Errorf("unknown timer %v", id)
	}
	if interval <= 0 {
		return fmt.Errorf("timer %v: interval must be positive, got %v", id, interval)
	}
	r.gen++
	r.timers[id] = Timer[E]{
		Last:     r.clock(),
		Interval: interval,
		Event:    event,
		gen:      r.gen,
	}
	return nil
}

// Stop deactivates timer. It won't fire again until started.
func (r *Registry[E]) Stop(id ID) {
	if id < 0 || id >= Count {
		return
	}
	var zero E
	t := &r.timers[id]
	t.Interval = 0
	t.Event = zero
	t.gen = 0
}

// Reset restarts countdown of an active timer. Inactive timers stay untouched.
func (r *Registry[E]) Reset(id ID) {
	if id < 0 || id >= Count {
		return
	}
	t := &r.timers[id]
	if !t.Active() {
		return
	}
	t.Last = r.clock()
}

// Get returns copy of the timer state
func (r *Registry[E]) Get(id ID) Timer[E] {
	return r.timers[id]
}

// Tick returns all timers expired by now, in ID order, and restarts them from now
func (r *Registry[E]) Tick(now time.Time) []Fired[E] {
	var fired []Fired[E]
	for i := range r.timers {
		t := &r.timers[i]
		if !t.Active() {
			continue
		}
		if now.Sub(t.Last) >= t.Interval {
			t.Last = now
			fired = append(fired, Fired[E]{ID: ID(i), Event: t.Event, gen: t.gen})
		}
	}
	return fired
}

// Pending reports whether fired timer is still the same running timer.
// Timers stopped or restarted after Tick returned are no longer pending,
// so the caller must skip their events.
func (r *Registry[E]) Pending(f Fired[E]) bool {
	if f.ID < 0 || f.ID >= Count {
		return false
	}
	t := &r.timers[f.ID]
	return t.Active() && t.gen == f.gen
}
