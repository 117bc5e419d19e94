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

package timer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) time.Time {
	c.now = c.now.Add(d)
	return c.now
}

func newTestRegistry() (*Registry[string], *fakeClock) {
	c := &fakeClock{now: time.Unix(1000, 0)}
	return NewRegistry[string](c.Now), c
}

func TestTimerFires(t *testing.T) {
	r, c := newTestRegistry()
	require.NoError(t, r.Start(SyncRepeat, time.Second, "sync"))

	require.Empty(t, r.Tick(c.Advance(999*time.Millisecond)))
	fired := r.Tick(c.Advance(time.Millisecond))
	require.Len(t, fired, 1)
	require.Equal(t, SyncRepeat, fired[0].ID)
	require.Equal(t, "sync", fired[0].Event)
	require.True(t, r.Pending(fired[0]))

	// restarts from the moment it fired, not from the previous deadline
	require.Empty(t, r.Tick(c.Advance(900*time.Millisecond)))
	now := c.Advance(300 * time.Millisecond)
	require.Len(t, r.Tick(now), 1)
	require.Equal(t, now, r.Get(SyncRepeat).Last)
}

func TestTimerOrder(t *testing.T) {
	r, c := newTestRegistry()
	require.NoError(t, r.Start(SyncTimeout, time.Second, "c"))
	require.NoError(t, r.Start(PDelayReqRepeat, time.Second, "a"))
	require.NoError(t, r.Start(AnnounceRepeat, 2*time.Second, "b"))

	fired := r.Tick(c.Advance(3 * time.Second))
	require.Len(t, fired, 3)
	require.Equal(t, PDelayReqRepeat, fired[0].ID)
	require.Equal(t, AnnounceRepeat, fired[1].ID)
	require.Equal(t, SyncTimeout, fired[2].ID)
}

func TestTimerStop(t *testing.T) {
	r, c := newTestRegistry()
	require.NoError(t, r.Start(PDelayReqTimeout, time.Second, "timeout"))
	r.Stop(PDelayReqTimeout)
	require.False(t, r.Get(PDelayReqTimeout).Active())
	require.Equal(t, "", r.Get(PDelayReqTimeout).Event)
	require.Empty(t, r.Tick(c.Advance(time.Hour)))
}

func TestTimerStopWithinTick(t *testing.T) {
	r, c := newTestRegistry()
	require.NoError(t, r.Start(AnnounceTimeout, time.Second, "timeout"))
	require.NoError(t, r.Start(SyncTimeout, time.Second, "sync timeout"))
	fired := r.Tick(c.Advance(time.Second))
	require.Len(t, fired, 2)

	// handling of the first event stops the second timer
	r.Stop(SyncTimeout)
	require.True(t, r.Pending(fired[0]))
	require.False(t, r.Pending(fired[1]))

	// restarted timer is a new timer
	require.NoError(t, r.Start(SyncTimeout, time.Second, "sync timeout"))
	require.False(t, r.Pending(fired[1]))
}

func TestTimerResetIdempotence(t *testing.T) {
	r, c := newTestRegistry()
	before := r.Get(AnnounceTimeout)
	c.Advance(time.Second)
	r.Reset(AnnounceTimeout)
	require.Equal(t, before, r.Get(AnnounceTimeout))
	require.False(t, r.Get(AnnounceTimeout).Active())

	require.NoError(t, r.Start(AnnounceTimeout, 3*time.Second, "timeout"))
	r.Stop(AnnounceTimeout)
	stopped := r.Get(AnnounceTimeout)
	c.Advance(time.Second)
	r.Reset(AnnounceTimeout)
	require.Equal(t, stopped, r.Get(AnnounceTimeout))
	require.Empty(t, r.Tick(c.Advance(time.Hour)))
}

func TestTimerReset(t *testing.T) {
	r, c := newTestRegistry()
	require.NoError(t, r.Start(AnnounceTimeout, 3*time.Second, "timeout"))
	c.Advance(2 * time.Second)
	r.Reset(AnnounceTimeout)
	require.Empty(t, r.Tick(c.Advance(2*time.Second)))
	require.Len(t, r.Tick(c.Advance(time.Second)), 1)
}

func TestTimerStartErrors(t *testing.T) {
	r, _ := newTestRegistry()
	require.Error(t, r.Start(Count, time.Second, "x"))
	require.Error(t, r.Start(SyncRepeat, 0, "x"))
	require.Equal(t, "TIMER(6)", Count.String())
	require.Equal(t, "ANNOUNCE_TIMEOUT", AnnounceTimeout.String())
}

func TestDefaultClock(t *testing.T) {
	r := NewRegistry[int](nil)
	require.WithinDuration(t, time.Now(), r.Now(), time.Second)
}
