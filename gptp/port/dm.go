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

	log "github.com/sirupsen/logrus"

	ptp "github.com/facebook/gptp/gptp/protocol"
	"github.com/facebook/gptp/gptp/timer"
)

// DMState is a state of delay measurement
type DMState uint8

// Delay measurement states
const (
	DMInit DMState = iota
	DMIdle
	DMRespWait
	DMRespFollowUpWait
)

var dmStateToString = map[DMState]string{
	DMInit:             "INIT",
	DMIdle:             "IDLE",
	DMRespWait:         "RESP_WAIT",
	DMRespFollowUpWait: "RESP_FOLLOW_UP_WAIT",
}

func (s DMState) String() string {
	if v, ok := dmStateToString[s]; ok {
		return v
	}
	return fmt.Sprintf("DM_STATE(%d)", s)
}

// DelayMeasurement measures mean link delay to the peer with the peer delay mechanism.
// As a responder it answers peer PDelayReq in every state but Init.
type DelayMeasurement struct {
	state    DMState
	identity ptp.PortIdentity
	domain   uint8
	scratch  *Scratch

	reqInterval time.Duration
	reqTimeout  time.Duration
	logInterval ptp.LogInterval
	maxDelay    time.Duration
	asymmetry   time.Duration

	txSeq   uint16 // next PDelayReq sequence
	reqSeq  uint16 // outstanding PDelayReq sequence
	rxSeq   uint16 // last peer PDelayReq sequence
	peer    ptp.PortIdentity
	delay   time.Duration
	samples int64
}

// NewDelayMeasurement returns DelayMeasurement in Init state
func NewDelayMeasurement(cfg *Config, identity ptp.PortIdentity, scratch *Scratch) *DelayMeasurement {
	li, err := ptp.NewLogInterval(cfg.PDelayReqInterval)
	if err != nil {
		log.Warningf("pdelay_req_interval: %v", err)
	}
	return &DelayMeasurement{
		identity:    identity,
		domain:      cfg.DomainNumber,
		scratch:     scratch,
		reqInterval: cfg.PDelayReqInterval,
		reqTimeout:  cfg.PDelayReqTimeout,
		logInterval: li,
		maxDelay:    cfg.MaxDelay,
		asymmetry:   cfg.DelayAsymmetry,
	}
}

// State returns current state
func (d *DelayMeasurement) State() DMState {
	return d.state
}

// Delay returns last accepted mean link delay
func (d *DelayMeasurement) Delay() time.Duration {
	return d.delay
}

// Samples returns number of accepted delay measurements
func (d *DelayMeasurement) Samples() int64 {
	return d.samples
}

// Peer returns identity of the port answering our requests
func (d *DelayMeasurement) Peer() ptp.PortIdentity {
	return d.peer
}

// Handle processes event and returns effects to execute
func (d *DelayMeasurement) Handle(in Input) []Effect {
	switch d.state {
	case DMInit:
		if in.Event == EventDMEnable {
			return d.transition(DMIdle)
		}

	case DMIdle:
		switch in.Event {
		case EventStateEntry:
			return []Effect{StartTimer{ID: timer.PDelayReqRepeat, Interval: d.reqInterval, Event: EventDMReqRepeat}}
		case EventDMReqRepeat:
			effects := []Effect{StopTimer{ID: timer.PDelayReqRepeat}}
			effects = append(effects, d.request()...)
			return append(effects, d.transition(DMRespWait)...)
		case EventDMPDelayReq:
			return d.respond(in)
		}

	case DMRespWait:
		switch in.Event {
		case EventStateEntry:
			return []Effect{StartTimer{ID: timer.PDelayReqTimeout, Interval: d.reqTimeout, Event: EventDMReqTimeout}}
		case EventStateExit:
			return []Effect{StopTimer{ID: timer.PDelayReqTimeout}}
		case EventDMPDelayReq:
			return d.respond(in)
		case EventDMReqTimeout:
			log.Debugf("no PDelayResp for sequence %d, retrying", d.reqSeq)
			return append([]Effect{Count{Key: counterDMRetry}}, d.request()...)
		case EventDMPDelayResp:
			resp, ok := in.Packet.(*ptp.PDelayResp)
			if !ok || !d.matches(resp.SequenceID, resp.RequestingPortIdentity) {
				return []Effect{Count{Key: counterDMMismatch}}
			}
			d.scratch[SlotT2] = resp.RequestReceiptTimestamp.Time()
			d.scratch[SlotT4] = in.RX
			d.peer = resp.SourcePortIdentity
			return d.transition(DMRespFollowUpWait)
		}

	case DMRespFollowUpWait:
		switch in.Event {
		// a lost follow up would keep us here forever, so timeout is armed again
		case EventStateEntry:
			return []Effect{StartTimer{ID: timer.PDelayReqTimeout, Interval: d.reqTimeout, Event: EventDMReqTimeout}}
		case EventStateExit:
			return []Effect{StopTimer{ID: timer.PDelayReqTimeout}}
		case EventDMPDelayReq:
			return d.respond(in)
		case EventDMReqTimeout:
			log.Debugf("no PDelayRespFollowUp for sequence %d", d.reqSeq)
			return append([]Effect{Count{Key: counterDMFollowUpTimeout}}, d.transition(DMIdle)...)
		case EventDMPDelayRespFollowUp:
			fup, ok := in.Packet.(*ptp.PDelayRespFollowUp)
			if !ok || !d.matches(fup.SequenceID, fup.RequestingPortIdentity) || fup.SourcePortIdentity != d.peer {
				return []Effect{Count{Key: counterDMMismatch}}
			}
			d.scratch[SlotT3] = fup.ResponseOriginTimestamp.Time()
			effects := d.compute()
			return append(effects, d.transition(DMIdle)...)
		}
	}
	return nil
}

func (d *DelayMeasurement) transition(to DMState) []Effect {
	effects := d.Handle(Input{Event: EventStateExit})
	log.Debugf("DM %s -> %s", d.state, to)
	d.state = to
	return append(effects, d.Handle(Input{Event: EventStateEntry})...)
}

func (d *DelayMeasurement) matches(seq uint16, requester ptp.PortIdentity) bool {
	return seq == d.reqSeq && requester == d.identity
}

// request starts new measurement cycle
func (d *DelayMeasurement) request() []Effect {
	d.scratch.Clear(SlotT1, SlotT4)
	d.reqSeq = d.txSeq
	d.txSeq++
	req := &ptp.PDelayReq{
		Header: ptp.NewHeader(ptp.MessagePDelayReq, d.reqSeq, 0, ptp.ControlOther, d.logInterval, d.identity),
	}
	req.DomainNumber = d.domain
	return []Effect{Send{Packet: req, CaptureTX: SlotT1, Origin: NoSlot}}
}

// respond answers peer PDelayReq with PDelayResp and PDelayRespFollowUp
func (d *DelayMeasurement) respond(in Input) []Effect {
	req, ok := in.Packet.(*ptp.PDelayReq)
	if !ok {
		return nil
	}
	d.scratch[SlotPeerReqRX] = in.RX
	d.rxSeq = req.SequenceID
	resp := &ptp.PDelayResp{
		Header: ptp.NewHeader(ptp.MessagePDelayResp, d.rxSeq, ptp.FlagTwoStep, ptp.ControlOther, ptp.LogIntervalResponse, d.identity),
		PDelayRespBody: ptp.PDelayRespBody{
			RequestReceiptTimestamp: ptp.NewTimestamp(in.RX),
			RequestingPortIdentity:  req.SourcePortIdentity,
		},
	}
	resp.DomainNumber = d.domain
	fup := &ptp.PDelayRespFollowUp{
		Header: ptp.NewHeader(ptp.MessagePDelayRespFollowUp, d.rxSeq, 0, ptp.ControlOther, ptp.LogIntervalResponse, d.identity),
		PDelayRespFollowUpBody: ptp.PDelayRespFollowUpBody{
			RequestingPortIdentity: req.SourcePortIdentity,
		},
	}
	fup.DomainNumber = d.domain
	return []Effect{
		Send{Packet: resp, CaptureTX: SlotRespTX, Origin: NoSlot},
		Send{Packet: fup, CaptureTX: NoSlot, Origin: SlotRespTX},
	}
}

// compute calculates mean link delay from t1..t4. Rejected samples keep previous delay.
func (d *DelayMeasurement) compute() []Effect {
	t1, t2, t3, t4 := d.scratch[SlotT1], d.scratch[SlotT2], d.scratch[SlotT3], d.scratch[SlotT4]
	if t1.IsZero() || t2.IsZero() || t3.IsZero() || t4.IsZero() {
		log.Warningf("incomplete delay measurement t1=%v t2=%v t3=%v t4=%v", t1, t2, t3, t4)
		return []Effect{Count{Key: counterDelayMissingTS}}
	}
	delay, effect := computeDelay(t1, t2, t3, t4, d.maxDelay)
	if effect != nil {
		return []Effect{effect}
	}
	d.delay = delay - d.asymmetry
	d.samples++
	log.Debugf("mean link delay %v", d.delay)
	return []Effect{Count{Key: counterDelayAccepted}, PublishDelay{Delay: d.delay}}
}

// computeDelay returns half of the round trip minus peer turnaround,
// or a Count effect explaining why the sample was rejected
func computeDelay(t1, t2, t3, t4 time.Time, maxDelay time.Duration) (time.Duration, Effect) {
	initiator := t4.Sub(t1)
	responder := t3.Sub(t2)
	if responder > initiator {
		log.Warningf("negative delay ignored: initiator turnaround %v, responder turnaround %v", initiator, responder)
		return 0, Count{Key: counterDelayNegative}
	}
	delay := (initiator - responder) / 2
	if delay > maxDelay {
		log.Warningf("abnormally large delay ignored: %v", delay)
		return 0, Count{Key: counterDelayTooLarge}
	}
	return delay, nil
}
