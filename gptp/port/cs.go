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

// CSState is a state of clock synchronization
type CSState uint8

// Clock synchronization states
const (
	CSInit CSState = iota
	CSGrandMaster
	CSSlave
)

var csStateToString = map[CSState]string{
	CSInit:        "INIT",
	CSGrandMaster: "GRAND_MASTER",
	CSSlave:       "SLAVE",
}

func (s CSState) String() string {
	if v, ok := csStateToString[s]; ok {
		return v
	}
	return fmt.Sprintf("CS_STATE(%d)", s)
}

// ClockSync distributes time when we are the grandmaster and follows it otherwise.
// Role is decided by best master selection via SetRole.
type ClockSync struct {
	state    CSState
	identity ptp.PortIdentity
	domain   uint8
	scratch  *Scratch

	syncInterval  time.Duration
	syncTimeout   time.Duration
	logInterval   ptp.LogInterval
	stepThreshold time.Duration

	seq            uint16 // next Sync sequence
	rxSeq          uint16 // sequence of last received Sync
	syncPending    bool   // Sync received, waiting for FollowUp
	syncCorrection ptp.Correction
	master         ptp.PortIdentity
	delay          time.Duration
	offset         time.Duration
	rateRatio      float64 // grandmaster to master rate ratio from Follow_Up information TLV
}

// NewClockSync returns ClockSync in Init state
func NewClockSync(cfg *Config, identity ptp.PortIdentity, scratch *Scratch) *ClockSync {
	li, err := ptp.NewLogInterval(cfg.SyncInterval)
	if err != nil {
		log.Warningf("sync_interval: %v", err)
	}
	return &ClockSync{
		identity:      identity,
		domain:        cfg.DomainNumber,
		scratch:       scratch,
		syncInterval:  cfg.SyncInterval,
		syncTimeout:   cfg.SyncTimeout,
		logInterval:   li,
		stepThreshold: cfg.StepThreshold,
	}
}

// State returns current state
func (c *ClockSync) State() CSState {
	return c.state
}

// Offset returns last computed offset from master
func (c *ClockSync) Offset() time.Duration {
	return c.offset
}

// Master returns identity of the port we receive Sync from
func (c *ClockSync) Master() ptp.PortIdentity {
	return c.master
}

// RateRatio returns cumulative rate ratio to the grandmaster reported by master, 1 if unknown
func (c *ClockSync) RateRatio() float64 {
	if c.rateRatio == 0 {
		return 1
	}
	return c.rateRatio
}

// SetDelay sets mean link delay used to correct master time
func (c *ClockSync) SetDelay(d time.Duration) {
	c.delay = d
}

// SetRole switches between grandmaster and slave
func (c *ClockSync) SetRole(grandMaster bool) []Effect {
	switch {
	case grandMaster && c.state != CSGrandMaster:
		log.Info("assuming grandmaster role")
		return c.transition(CSGrandMaster)
	case !grandMaster && c.state != CSSlave:
		log.Info("external grandmaster found")
		return c.transition(CSSlave)
	}
	log.Debugf("CS already in %s", c.state)
	return nil
}

// Handle processes event and returns effects to execute
func (c *ClockSync) Handle(in Input) []Effect {
	switch c.state {
	case CSInit:
		// nothing to do until role is known

	case CSGrandMaster:
		switch in.Event {
		case EventStateEntry:
			return []Effect{StartTimer{ID: timer.SyncRepeat, Interval: c.syncInterval, Event: EventCSSyncRepeat}}
		case EventStateExit:
			return []Effect{StopTimer{ID: timer.SyncRepeat}}
		case EventCSSyncRepeat:
			return c.sync()
		}

	case CSSlave:
		switch in.Event {
		case EventStateEntry:
			c.syncPending = false
			return []Effect{StartTimer{ID: timer.SyncTimeout, Interval: c.syncTimeout, Event: EventCSSyncTimeout}}
		case EventStateExit:
			return []Effect{StopTimer{ID: timer.SyncTimeout}}
		case EventCSSync:
			s, ok := in.Packet.(*ptp.Sync)
			if !ok {
				return nil
			}
			c.scratch[SlotSyncRX] = in.RX
			c.rxSeq = s.SequenceID
			c.syncCorrection = s.CorrectionField
			c.master = s.SourcePortIdentity
			c.syncPending = true
		case EventCSFollowUp:
			fup, ok := in.Packet.(*ptp.FollowUp)
			if !ok {
				return nil
			}
			if !c.syncPending || fup.SequenceID != c.rxSeq || fup.SourcePortIdentity != c.master {
				return []Effect{Count{Key: counterCSMismatch}}
			}
			c.syncPending = false
			return c.synchronize(fup)
		case EventCSSyncTimeout:
			log.Warningf("no Sync received in %v", c.syncTimeout)
			return []Effect{Count{Key: counterCSSyncTimeout}}
		}
	}
	return nil
}

func (c *ClockSync) transition(to CSState) []Effect {
	effects := c.Handle(Input{Event: EventStateExit})
	log.Infof("CS %s -> %s", c.state, to)
	c.state = to
	return append(effects, c.Handle(Input{Event: EventStateEntry})...)
}

// sync sends two-step Sync followed by FollowUp with Sync departure time
func (c *ClockSync) sync() []Effect {
	s := &ptp.Sync{
		Header: ptp.NewHeader(ptp.MessageSync, c.seq, ptp.FlagTwoStep, ptp.ControlSync, c.logInterval, c.identity),
	}
	s.DomainNumber = c.domain
	fup := &ptp.FollowUp{
		Header: ptp.NewHeader(ptp.MessageFollowUp, c.seq, ptp.FlagPTPTimescale, ptp.ControlFollowUp, c.logInterval, c.identity),
		TLVs:   []ptp.TLV{ptp.NewFollowUpInformationTLV()},
	}
	fup.DomainNumber = c.domain
	c.seq++
	c.scratch[SlotSyncTX] = time.Time{}
	return []Effect{
		Send{Packet: s, CaptureTX: SlotSyncTX, Origin: NoSlot},
		Send{Packet: fup, CaptureTX: NoSlot, Origin: SlotSyncTX},
	}
}

// synchronize computes offset from master and decides how to correct the clock
func (c *ClockSync) synchronize(fup *ptp.FollowUp) []Effect {
	rx := c.scratch[SlotSyncRX]
	if rx.IsZero() {
		return []Effect{Count{Key: counterRXTimestampMissing}}
	}
	c.scratch[SlotMasterTX] = fup.PreciseOriginTimestamp.Time()
	corrected := c.scratch[SlotMasterTX].Add(c.delay + c.syncCorrection.Duration() + fup.CorrectionField.Duration())
	c.scratch[SlotCorrected] = corrected
	c.offset = corrected.Sub(rx)
	log.Debugf("master departure %v, local receipt %v, delay %v, offset %v", c.scratch[SlotMasterTX], rx, c.delay, c.offset)
	if fi := fup.FollowUpInformation(); fi != nil {
		// cumulativeScaledRateOffset is (rateRatio - 1) * 2^41
		c.rateRatio = 1 + float64(fi.CumulativeScaledRateOffset)/(1<<41)
		log.Debugf("grandmaster rate ratio %.12f", c.rateRatio)
	}

	effects := []Effect{ResetTimer{ID: timer.SyncTimeout}}
	// a zero offset is slewed, not stepped; this is intentional
	if c.needsStep(c.offset) {
		return append(effects, Count{Key: counterCSClockSet}, SetClock{Corrected: corrected, LocalRX: rx})
	}
	return append(effects, Count{Key: counterCSClockAdjust}, AdjustClock{Offset: c.offset})
}

// needsStep reports whether offset is too big or negative to be slewed.
// Only whole seconds are compared against the threshold.
func (c *ClockSync) needsStep(offset time.Duration) bool {
	return offset < 0 || offset.Truncate(time.Second) > c.stepThreshold
}
