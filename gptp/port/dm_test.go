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
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	ptp "github.com/facebook/gptp/gptp/protocol"
	"github.com/facebook/gptp/gptp/timer"
)

var (
	testMAC      = net.HardwareAddr{0x00, 0x1b, 0x21, 0x12, 0x34, 0x56}
	testIdentity = ptp.PortIdentity{ClockIdentity: 0x001b21fffe123456, PortNumber: 1}
	peerMAC      = net.HardwareAddr{0x00, 0x11, 0xdd, 0x00, 0x00, 0x01}
	peerIdentity = ptp.PortIdentity{ClockIdentity: 0x0011ddfffe000001, PortNumber: 1}
)

func sentPackets(effects []Effect) []Send {
	var res []Send
	for _, e := range effects {
		if s, ok := e.(Send); ok {
			res = append(res, s)
		}
	}
	return res
}

func newTestDM(t *testing.T) (*DelayMeasurement, *Scratch) {
	scratch := &Scratch{}
	dm := NewDelayMeasurement(DefaultConfig(), testIdentity, scratch)
	effects := dm.Handle(Input{Event: EventDMEnable})
	require.Equal(t, DMIdle, dm.State())
	require.Equal(t, []Effect{
		StartTimer{ID: timer.PDelayReqRepeat, Interval: 8 * time.Second, Event: EventDMReqRepeat},
	}, effects)
	return dm, scratch
}

// requestDelay fires repeat timer and returns the PDelayReq sent
func requestDelay(t *testing.T, dm *DelayMeasurement) *ptp.PDelayReq {
	effects := dm.Handle(Input{Event: EventDMReqRepeat})
	require.Equal(t, DMRespWait, dm.State())
	require.Len(t, effects, 3)
	require.Equal(t, StopTimer{ID: timer.PDelayReqRepeat}, effects[0])
	send, ok := effects[1].(Send)
	require.True(t, ok)
	require.Equal(t, SlotT1, send.CaptureTX)
	require.Equal(t, NoSlot, send.Origin)
	require.Equal(t, StartTimer{ID: timer.PDelayReqTimeout, Interval: 16 * time.Second, Event: EventDMReqTimeout}, effects[2])
	req, ok := send.Packet.(*ptp.PDelayReq)
	require.True(t, ok)
	require.Equal(t, testIdentity, req.SourcePortIdentity)
	return req
}

func pdelayResp(seq uint16, requester ptp.PortIdentity, t2 time.Time) *ptp.PDelayResp {
	return &ptp.PDelayResp{
		Header: ptp.NewHeader(ptp.MessagePDelayResp, seq, ptp.FlagTwoStep, ptp.ControlOther, ptp.LogIntervalResponse, peerIdentity),
		PDelayRespBody: ptp.PDelayRespBody{
			RequestReceiptTimestamp: ptp.NewTimestamp(t2),
			RequestingPortIdentity:  requester,
		},
	}
}

func pdelayRespFollowUp(seq uint16, requester ptp.PortIdentity, t3 time.Time) *ptp.PDelayRespFollowUp {
	return &ptp.PDelayRespFollowUp{
		Header: ptp.NewHeader(ptp.MessagePDelayRespFollowUp, seq, 0, ptp.ControlOther, ptp.LogIntervalResponse, peerIdentity),
		PDelayRespFollowUpBody: ptp.PDelayRespFollowUpBody{
			ResponseOriginTimestamp: ptp.NewTimestamp(t3),
			RequestingPortIdentity:  requester,
		},
	}
}

func TestComputeDelay(t *testing.T) {
	t1 := time.Unix(1700000000, 0)
	t2 := time.Unix(1700000100, 0)
	cases := []struct {
		name       string
		initiator  time.Duration
		responder  time.Duration
		wantDelay  time.Duration
		wantEffect Effect
	}{
		{
			name:      "accepted",
			initiator: 10*time.Microsecond + 200*time.Nanosecond,
			responder: 10 * time.Microsecond,
			wantDelay: 100 * time.Nanosecond,
		},
		{
			name:       "reversed turnaround",
			initiator:  10 * time.Microsecond,
			responder:  10*time.Microsecond + time.Nanosecond,
			wantEffect: Count{Key: counterDelayNegative},
		},
		{
			name:       "too large",
			initiator:  130 * time.Microsecond,
			responder:  10 * time.Microsecond,
			wantEffect: Count{Key: counterDelayTooLarge},
		},
		{
			name:      "large but fine",
			initiator: 90 * time.Microsecond,
			responder: 10 * time.Microsecond,
			wantDelay: 40 * time.Microsecond,
		},
		{
			name:      "exactly max",
			initiator: 110 * time.Microsecond,
			responder: 10 * time.Microsecond,
			wantDelay: 50 * time.Microsecond,
		},
		{
			name:      "zero",
			initiator: 10 * time.Microsecond,
			responder: 10 * time.Microsecond,
			wantDelay: 0,
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			delay, effect := computeDelay(t1, t2, t2.Add(c.responder), t1.Add(c.initiator), 50*time.Microsecond)
			require.Equal(t, c.wantEffect, effect)
			require.Equal(t, c.wantDelay, delay)
		})
	}
}

func TestDMFullCycle(t *testing.T) {
	dm, scratch := newTestDM(t)
	req := requestDelay(t, dm)
	require.Equal(t, uint16(0), req.SequenceID)

	t1 := time.Unix(1700000000, 0)
	t2 := time.Unix(1700000100, 0)
	t3 := t2.Add(10 * time.Microsecond)
	t4 := t1.Add(10*time.Microsecond + 200*time.Nanosecond)
	// port stores TX timestamp of the request
	scratch[SlotT1] = t1

	effects := dm.Handle(Input{Event: EventDMPDelayResp, Packet: pdelayResp(0, testIdentity, t2), RX: t4})
	require.Equal(t, DMRespFollowUpWait, dm.State())
	require.Equal(t, []Effect{
		StopTimer{ID: timer.PDelayReqTimeout},
		StartTimer{ID: timer.PDelayReqTimeout, Interval: 16 * time.Second, Event: EventDMReqTimeout},
	}, effects)
	require.Equal(t, peerIdentity, dm.Peer())

	effects = dm.Handle(Input{Event: EventDMPDelayRespFollowUp, Packet: pdelayRespFollowUp(0, testIdentity, t3)})
	require.Equal(t, DMIdle, dm.State())
	require.Equal(t, []Effect{
		Count{Key: counterDelayAccepted},
		PublishDelay{Delay: 100 * time.Nanosecond},
		StopTimer{ID: timer.PDelayReqTimeout},
		StartTimer{ID: timer.PDelayReqRepeat, Interval: 8 * time.Second, Event: EventDMReqRepeat},
	}, effects)
	require.Equal(t, 100*time.Nanosecond, dm.Delay())
	require.Equal(t, int64(1), dm.Samples())

	// duplicate follow up is ignored in Idle
	effects = dm.Handle(Input{Event: EventDMPDelayRespFollowUp, Packet: pdelayRespFollowUp(0, testIdentity, t3)})
	require.Empty(t, effects)
	require.Equal(t, int64(1), dm.Samples())

	// next cycle uses next sequence
	req = requestDelay(t, dm)
	require.Equal(t, uint16(1), req.SequenceID)
}

func TestDMAsymmetry(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DelayAsymmetry = 20 * time.Nanosecond
	scratch := &Scratch{}
	dm := NewDelayMeasurement(cfg, testIdentity, scratch)
	dm.Handle(Input{Event: EventDMEnable})
	requestDelay(t, dm)

	t1 := time.Unix(1700000000, 0)
	t2 := time.Unix(1700000100, 0)
	scratch[SlotT1] = t1
	dm.Handle(Input{Event: EventDMPDelayResp, Packet: pdelayResp(0, testIdentity, t2), RX: t1.Add(10*time.Microsecond + 200*time.Nanosecond)})
	effects := dm.Handle(Input{Event: EventDMPDelayRespFollowUp, Packet: pdelayRespFollowUp(0, testIdentity, t2.Add(10*time.Microsecond))})
	require.Contains(t, effects, PublishDelay{Delay: 80 * time.Nanosecond})
}

func TestDMTimeoutRetry(t *testing.T) {
	dm, _ := newTestDM(t)
	req := requestDelay(t, dm)
	require.Equal(t, uint16(0), req.SequenceID)

	effects := dm.Handle(Input{Event: EventDMReqTimeout})
	require.Equal(t, DMRespWait, dm.State())
	require.Len(t, effects, 2)
	require.Equal(t, Count{Key: counterDMRetry}, effects[0])
	sent := sentPackets(effects)
	require.Len(t, sent, 1)
	require.Equal(t, uint16(1), sent[0].Packet.(*ptp.PDelayReq).SequenceID)

	// response to the abandoned request doesn't match
	effects = dm.Handle(Input{Event: EventDMPDelayResp, Packet: pdelayResp(0, testIdentity, time.Unix(1, 0)), RX: time.Unix(2, 0)})
	require.Equal(t, []Effect{Count{Key: counterDMMismatch}}, effects)
	require.Equal(t, DMRespWait, dm.State())
}

func TestDMResponseMismatch(t *testing.T) {
	dm, _ := newTestDM(t)
	requestDelay(t, dm)

	// response to someone else's request
	effects := dm.Handle(Input{Event: EventDMPDelayResp, Packet: pdelayResp(0, peerIdentity, time.Unix(1, 0)), RX: time.Unix(2, 0)})
	require.Equal(t, []Effect{Count{Key: counterDMMismatch}}, effects)
	require.Equal(t, DMRespWait, dm.State())

	effects = dm.Handle(Input{Event: EventDMPDelayResp, Packet: pdelayResp(0, testIdentity, time.Unix(1, 0)), RX: time.Unix(2, 0)})
	require.Equal(t, DMRespFollowUpWait, dm.State())
	require.Len(t, effects, 2)

	// follow up with wrong sequence
	effects = dm.Handle(Input{Event: EventDMPDelayRespFollowUp, Packet: pdelayRespFollowUp(5, testIdentity, time.Unix(1, 0))})
	require.Equal(t, []Effect{Count{Key: counterDMMismatch}}, effects)
	require.Equal(t, DMRespFollowUpWait, dm.State())
}

func TestDMFollowUpTimeout(t *testing.T) {
	dm, _ := newTestDM(t)
	requestDelay(t, dm)
	dm.Handle(Input{Event: EventDMPDelayResp, Packet: pdelayResp(0, testIdentity, time.Unix(1, 0)), RX: time.Unix(2, 0)})
	require.Equal(t, DMRespFollowUpWait, dm.State())

	effects := dm.Handle(Input{Event: EventDMReqTimeout})
	require.Equal(t, DMIdle, dm.State())
	require.Equal(t, []Effect{
		Count{Key: counterDMFollowUpTimeout},
		StopTimer{ID: timer.PDelayReqTimeout},
		StartTimer{ID: timer.PDelayReqRepeat, Interval: 8 * time.Second, Event: EventDMReqRepeat},
	}, effects)
}

func TestDMMissingTimestamp(t *testing.T) {
	dm, _ := newTestDM(t)
	requestDelay(t, dm)
	// T1 was never captured
	dm.Handle(Input{Event: EventDMPDelayResp, Packet: pdelayResp(0, testIdentity, time.Unix(1, 0)), RX: time.Unix(2, 0)})
	effects := dm.Handle(Input{Event: EventDMPDelayRespFollowUp, Packet: pdelayRespFollowUp(0, testIdentity, time.Unix(1, 100))})
	require.Equal(t, Count{Key: counterDelayMissingTS}, effects[0])
	require.Equal(t, DMIdle, dm.State())
	require.Equal(t, int64(0), dm.Samples())
}

func TestDMRespond(t *testing.T) {
	dm, scratch := newTestDM(t)
	rx := time.Unix(1700000000, 42)
	req := &ptp.PDelayReq{
		Header: ptp.NewHeader(ptp.MessagePDelayReq, 77, 0, ptp.ControlOther, 0, peerIdentity),
	}
	effects := dm.Handle(Input{Event: EventDMPDelayReq, Packet: req, RX: rx})
	require.Equal(t, DMIdle, dm.State())
	require.Equal(t, rx, scratch[SlotPeerReqRX])
	require.Len(t, effects, 2)

	send := effects[0].(Send)
	require.Equal(t, SlotRespTX, send.CaptureTX)
	resp := send.Packet.(*ptp.PDelayResp)
	require.Equal(t, uint16(77), resp.SequenceID)
	require.Equal(t, ptp.FlagTwoStep, resp.FlagField)
	require.Equal(t, peerIdentity, resp.RequestingPortIdentity)
	require.Equal(t, rx, resp.RequestReceiptTimestamp.Time())
	require.Equal(t, testIdentity, resp.SourcePortIdentity)

	send = effects[1].(Send)
	require.Equal(t, SlotRespTX, send.Origin)
	require.Equal(t, NoSlot, send.CaptureTX)
	fup := send.Packet.(*ptp.PDelayRespFollowUp)
	require.Equal(t, uint16(77), fup.SequenceID)
	require.Equal(t, peerIdentity, fup.RequestingPortIdentity)

	// responder works while waiting for our own response too
	requestDelay(t, dm)
	effects = dm.Handle(Input{Event: EventDMPDelayReq, Packet: req, RX: rx})
	require.Len(t, sentPackets(effects), 2)
	require.Equal(t, DMRespWait, dm.State())
}

func TestDMDisabled(t *testing.T) {
	dm := NewDelayMeasurement(DefaultConfig(), testIdentity, &Scratch{})
	require.Equal(t, DMInit, dm.State())
	require.Empty(t, dm.Handle(Input{Event: EventDMReqRepeat}))
	require.Empty(t, dm.Handle(Input{Event: EventDMPDelayReq, Packet: &ptp.PDelayReq{}}))
	require.Equal(t, DMInit, dm.State())
	require.Equal(t, "RESP_FOLLOW_UP_WAIT", DMRespFollowUpWait.String())
	require.Equal(t, "DM_STATE(9)", DMState(9).String())
}
