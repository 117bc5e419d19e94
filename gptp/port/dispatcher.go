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
	"errors"
	"fmt"
	"time"

	ptp "github.com/facebook/gptp/gptp/protocol"
)

// ErrUnsupportedMessage is returned for valid PTP frames no state machine handles
var ErrUnsupportedMessage = errors.New("unsupported message type")

// ErrForeignSdoID is returned for PTP frames of another profile (majorSdoId other than 802.1AS)
var ErrForeignSdoID = errors.New("foreign majorSdoId")

var msgTypeToEvent = map[ptp.MessageType]Event{
	ptp.MessagePDelayReq:          EventDMPDelayReq,
	ptp.MessagePDelayResp:         EventDMPDelayResp,
	ptp.MessagePDelayRespFollowUp: EventDMPDelayRespFollowUp,
	ptp.MessageAnnounce:           EventBMCAnnounce,
	ptp.MessageSync:               EventCSSync,
	ptp.MessageFollowUp:           EventCSFollowUp,
}

// Classify decodes Ethernet frame and returns Input destined to the state machine handling the message
func Classify(frame []byte, rx time.Time) (Input, error) {
	src, payload, err := ptp.Unframe(frame)
	if err != nil {
		return Input{}, err
	}
	msgType, err := ptp.ProbeMsgType(payload)
	if err != nil {
		return Input{}, err
	}
	if sdoID := ptp.SdoIDAndMsgType(payload[0]).SdoID(); sdoID != ptp.TransportSpecific {
		return Input{}, fmt.Errorf("%w: %d", ErrForeignSdoID, sdoID)
	}
	event, found := msgTypeToEvent[msgType]
	if !found {
		return Input{}, fmt.Errorf("%w: %s", ErrUnsupportedMessage, msgType)
	}
	packet, err := ptp.DecodePacket(payload)
	if err != nil {
		return Input{}, fmt.Errorf("decoding %s: %w", msgType, err)
	}
	return Input{
		Event:  event,
		Packet: packet,
		RX:     rx,
		Source: src,
	}, nil
}

// isEventMessage reports whether message is timestamped on receipt
func isEventMessage(t ptp.MessageType) bool {
	return t == ptp.MessageSync || t == ptp.MessagePDelayReq || t == ptp.MessagePDelayResp
}
