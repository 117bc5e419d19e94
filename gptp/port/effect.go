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

package port

import (
	"fmt"
	"time"

	ptp "github.com/facebook/gptp/gptp/protocol"
	"github.com/facebook/gptp/gptp/timer"
)

// Slot is an index into port timestamp scratch
type Slot int

// Scratch slots
const (
	// NoSlot means no timestamp is read or written
	NoSlot Slot = -1

	SlotT1          Slot = iota - 1 // local PDelayReq departure
	SlotT2                          // peer receipt of PDelayReq
	SlotT3                          // peer PDelayResp departure
	SlotT4                          // local receipt of PDelayResp
	SlotPeerReqRX                   // local receipt of peer PDelayReq
	SlotRespTX                      // local PDelayResp departure
	SlotSyncTX                      // local Sync departure
	SlotSyncRX                      // local Sync receipt
	SlotMasterTX                    // master Sync departure from FollowUp
	SlotCorrected                   // master Sync departure corrected by path delay
	SlotClockBefore                 // clock reading before correction
	SlotClockAfter                  // clock reading after correction

	// SlotCount is the size of Scratch
	SlotCount
)

// Scratch holds timestamps of the exchanges in flight
type Scratch [SlotCount]time.Time

// Clear zeroes slots [from, to]
func (s *Scratch) Clear(from, to Slot) {
	for i := from; i <= to; i++ {
		s[i] = time.Time{}
	}
}

// Effect is a side effect requested by a state machine. Port executes effects in order.
type Effect interface {
	fmt.Stringer
}

// Send transmits Packet. TX timestamp is stored into CaptureTX slot,
// Origin slot is copied into packet origin timestamp right before sending.
type Send struct {
	Packet    ptp.Packet
	CaptureTX Slot
	Origin    Slot
}

func (e Send) String() string {
	return fmt.Sprintf("send %s", e.Packet.MessageType())
}

// StartTimer (re)starts timer
type StartTimer struct {
	ID       timer.ID
	Interval time.Duration
	Event    Event
}

func (e StartTimer) String() string {
	return fmt.Sprintf("start %s every %v", e.ID, e.Interval)
}

// StopTimer stops timer
type StopTimer struct {
	ID timer.ID
}

func (e StopTimer) String() string {
	return fmt.Sprintf("stop %s", e.ID)
}

// ResetTimer restarts countdown of running timer
type ResetTimer struct {
	ID timer.ID
}

func (e ResetTimer) String() string {
	return fmt.Sprintf("reset %s", e.ID)
}

// PublishDelay publishes new mean link delay
type PublishDelay struct {
	Delay time.Duration
}

func (e PublishDelay) String() string {
	return fmt.Sprintf("publish delay %v", e.Delay)
}

// SetRole tells clock synchronization whether we are the grandmaster
type SetRole struct {
	GrandMaster bool
}

func (e SetRole) String() string {
	if e.GrandMaster {
		return "set role grandmaster"
	}
	return "set role slave"
}

// SetClock hard sets clock to the corrected master time projected to the moment of setting
type SetClock struct {
	Corrected time.Time
	LocalRX   time.Time
}

func (e SetClock) String() string {
	return fmt.Sprintf("set clock to %v", e.Corrected)
}

// AdjustClock slews clock by Offset
type AdjustClock struct {
	Offset time.Duration
}

func (e AdjustClock) String() string {
	return fmt.Sprintf("adjust clock by %v", e.Offset)
}

// Count increments counter Key
type Count struct {
	Key string
}

func (e Count) String() string {
	return fmt.Sprintf("count %s", e.Key)
}

// projectedTime is the corrected master time moved forward by the time elapsed since the Sync was received
func projectedTime(clockNow, localRX, corrected time.Time) time.Time {
	return corrected.Add(clockNow.Sub(localRX))
}
