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
	"net"
	"time"

	ptp "github.com/facebook/gptp/gptp/protocol"
)

// Event identifies what happened to the port. Upper bits carry the destination state machine.
type Event uint32

// destinations
const (
	DestDM  Event = 0x10000
	DestBMC Event = 0x20000
	DestCS  Event = 0x40000
	DestAll Event = DestDM | DestBMC | DestCS

	destMask Event = 0xFFFF0000
)

// Events delivered to state machines
const (
	EventStateEntry Event = DestAll | 1
	EventStateExit  Event = DestAll | 2

	EventDMEnable             Event = DestDM | 0
	EventDMPDelayReq          Event = DestDM | 1
	EventDMPDelayResp         Event = DestDM | 2
	EventDMPDelayRespFollowUp Event = DestDM | 3
	EventDMReqRepeat          Event = DestDM | 4
	EventDMReqTimeout         Event = DestDM | 5

	EventBMCEnable          Event = DestBMC | 0
	EventBMCAnnounceRepeat  Event = DestBMC | 4
	EventBMCAnnounceTimeout Event = DestBMC | 5
	EventBMCAnnounce        Event = DestBMC | 6

	EventCSEnable      Event = DestCS | 0
	EventCSSyncRepeat  Event = DestCS | 4
	EventCSSyncTimeout Event = DestCS | 5
	EventCSSync        Event = DestCS | 6
	EventCSFollowUp    Event = DestCS | 7
)

var eventToString = map[Event]string{
	EventStateEntry:           "STATE_ENTRY",
	EventStateExit:            "STATE_EXIT",
	EventDMEnable:             "DM_ENABLE",
	EventDMPDelayReq:          "DM_PDELAY_REQ",
	EventDMPDelayResp:         "DM_PDELAY_RESP",
	EventDMPDelayRespFollowUp: "DM_PDELAY_RESP_FOLLOW_UP",
	EventDMReqRepeat:          "DM_REQ_REPEAT",
	EventDMReqTimeout:         "DM_REQ_TIMEOUT",
	EventBMCEnable:            "BMC_ENABLE",
	EventBMCAnnounceRepeat:    "BMC_ANNOUNCE_REPEAT",
	EventBMCAnnounceTimeout:   "BMC_ANNOUNCE_TIMEOUT",
	EventBMCAnnounce:          "BMC_ANNOUNCE",
	EventCSEnable:             "CS_ENABLE",
	EventCSSyncRepeat:         "CS_SYNC_REPEAT",
	EventCSSyncTimeout:        "CS_SYNC_TIMEOUT",
	EventCSSync:               "CS_SYNC",
	EventCSFollowUp:           "CS_FOLLOW_UP",
}

func (e Event) String() string {
	if s, ok := eventToString[e]; ok {
		return s
	}
	return fmt.Sprintf("EVENT(0x%x)", uint32(e))
}

// Destination returns destination bits of the event
func (e Event) Destination() Event {
	return e & destMask
}

// Input is an event with everything state machine needs to handle it
type Input struct {
	Event  Event
	Packet ptp.Packet
	// RX is the receive timestamp of Packet
	RX     time.Time
	Source net.HardwareAddr
}
