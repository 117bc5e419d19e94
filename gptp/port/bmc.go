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

	"github.com/facebook/gptp/gptp/bmc"
	ptp "github.com/facebook/gptp/gptp/protocol"
	"github.com/facebook/gptp/gptp/timer"
)

// BMCState is a state of best master selection
type BMCState uint8

// Best master selection states
const (
	BMCInit BMCState = iota
	BMCGrandMaster
	BMCSlave
)

var bmcStateToString = map[BMCState]string{
	BMCInit:        "INIT",
	BMCGrandMaster: "GRAND_MASTER",
	BMCSlave:       "SLAVE",
}

func (s BMCState) String() string {
	if v, ok := bmcStateToString[s]; ok {
		return v
	}
	return fmt.Sprintf("BMC_STATE(%d)", s)
}

// BestMaster decides whether the port is the grandmaster by comparing
// received Announce priority vectors with its own
type BestMaster struct {
	state    BMCState
	mode     string
	identity ptp.PortIdentity
	domain   uint8
	defaults PriorityConfig

	announceInterval time.Duration
	announceTimeout  time.Duration
	logInterval      ptp.LogInterval

	seq  uint16
	port bmc.PriorityVector // our own vector
	gm   bmc.PriorityVector // best vector heard
}

// NewBestMaster returns BestMaster in Init state
func NewBestMaster(cfg *Config, identity ptp.PortIdentity) *BestMaster {
	li, err := ptp.NewLogInterval(cfg.AnnounceInterval)
	if err != nil {
		log.Warningf("announce_interval: %v", err)
	}
	return &BestMaster{
		mode:             cfg.BMCMode,
		identity:         identity,
		domain:           cfg.DomainNumber,
		defaults:         cfg.Priority,
		announceInterval: cfg.AnnounceInterval,
		announceTimeout:  cfg.AnnounceTimeout,
		logInterval:      li,
	}
}

// State returns current state
func (b *BestMaster) State() BMCState {
	return b.state
}

// PortPriority returns priority vector of the port
func (b *BestMaster) PortPriority() bmc.PriorityVector {
	return b.port
}

// GMPriority returns priority vector of the current grandmaster
func (b *BestMaster) GMPriority() bmc.PriorityVector {
	return b.gm
}

// Handle processes event and returns effects to execute
func (b *BestMaster) Handle(in Input) []Effect {
	switch b.state {
	case BMCInit:
		if in.Event == EventBMCEnable {
			b.updatePriorityVectors()
			if b.mode == BMCModeSlave {
				return b.transition(BMCSlave)
			}
			return b.transition(BMCGrandMaster)
		}

	case BMCGrandMaster:
		switch in.Event {
		case EventStateEntry:
			return []Effect{
				StartTimer{ID: timer.AnnounceRepeat, Interval: b.announceInterval, Event: EventBMCAnnounceRepeat},
				SetRole{GrandMaster: true},
			}
		case EventStateExit:
			return []Effect{StopTimer{ID: timer.AnnounceRepeat}}
		case EventBMCAnnounceRepeat:
			return []Effect{Send{Packet: b.announce(), CaptureTX: NoSlot, Origin: NoSlot}}
		case EventBMCAnnounce:
			if b.mode == BMCModeMaster {
				return nil
			}
			better, effects := b.updateAnnounceInfo(in)
			if better {
				return append(effects, b.transition(BMCSlave)...)
			}
			return effects
		}

	case BMCSlave:
		switch in.Event {
		case EventStateEntry:
			return []Effect{
				StartTimer{ID: timer.AnnounceTimeout, Interval: b.announceTimeout, Event: EventBMCAnnounceTimeout},
				SetRole{GrandMaster: false},
			}
		case EventStateExit:
			return []Effect{StopTimer{ID: timer.AnnounceTimeout}}
		case EventBMCAnnounce:
			better, effects := b.updateAnnounceInfo(in)
			if better {
				return append(effects, ResetTimer{ID: timer.AnnounceTimeout})
			}
			return effects
		case EventBMCAnnounceTimeout:
			effects := []Effect{Count{Key: counterBMCAnnounceTimeout}}
			if b.mode == BMCModeSlave {
				log.Warning("no Announce from grandmaster, staying slave")
				return effects
			}
			log.Warning("no Announce from grandmaster, assuming grandmaster role")
			b.gm = b.port
			return append(effects, b.transition(BMCGrandMaster)...)
		}
	}
	return nil
}

func (b *BestMaster) transition(to BMCState) []Effect {
	effects := b.Handle(Input{Event: EventStateExit})
	log.Infof("BMC %s -> %s", b.state, to)
	b.state = to
	return append(effects, b.Handle(Input{Event: EventStateEntry})...)
}

// updatePriorityVectors populates our vector from configured defaults
func (b *BestMaster) updatePriorityVectors() {
	b.port = bmc.PriorityVector{
		Priority1:               b.defaults.Priority1,
		ClockClass:              b.defaults.ClockClass,
		ClockAccuracy:           b.defaults.ClockAccuracy,
		OffsetScaledLogVariance: b.defaults.OffsetScaledLogVariance,
		Priority2:               b.defaults.Priority2,
		ClockIdentity:           b.identity.ClockIdentity,
		StepsRemoved:            0,
		TimeSource:              b.defaults.TimeSource,
	}
	b.gm = b.port
}

// updateAnnounceInfo adopts received vector if it's better than ours
func (b *BestMaster) updateAnnounceInfo(in Input) (bool, []Effect) {
	a, ok := in.Packet.(*ptp.Announce)
	if !ok {
		return false, nil
	}
	if pt := a.PathTrace(); pt != nil && pt.Contains(b.identity.ClockIdentity) {
		log.Debugf("Announce from %s already passed through us, discarding", a.SourcePortIdentity)
		return false, []Effect{Count{Key: counterBMCLoop}}
	}
	received := bmc.FromAnnounce(a)
	if !bmc.IsBetter(received, b.port) {
		log.Debugf("low priority Announce from %s: %s", a.SourcePortIdentity, received)
		return false, []Effect{Count{Key: counterBMCInferior}}
	}
	if received != b.gm {
		log.Infof("high priority Announce from %s: %s", a.SourcePortIdentity, received)
	}
	b.gm = received
	return true, nil
}

func (b *BestMaster) announce() *ptp.Announce {
	a := &ptp.Announce{
		Header:       ptp.NewHeader(ptp.MessageAnnounce, b.seq, ptp.FlagPTPTimescale, ptp.ControlOther, b.logInterval, b.identity),
		AnnounceBody: b.port.AnnounceBody(),
		TLVs:         []ptp.TLV{ptp.NewPathTraceTLV(b.identity.ClockIdentity)},
	}
	a.DomainNumber = b.domain
	b.seq++
	return a
}
