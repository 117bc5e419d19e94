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
	"bytes"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/eclesh/welford"
	"github.com/fatih/color"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	ptp "github.com/facebook/gptp/gptp/protocol"
	"github.com/facebook/gptp/gptp/stats"
	"github.com/facebook/gptp/gptp/timer"
	"github.com/facebook/gptp/timestamp"
)

// Port is a single gPTP port running delay measurement, best master selection and clock synchronization
type Port struct {
	cfg   *Config
	conn  Conn
	clock Clock
	stats StatsServer

	identity ptp.PortIdentity
	mac      net.HardwareAddr
	timers   *timer.Registry[Event]
	scratch  Scratch

	dm  *DelayMeasurement
	bmc *BestMaster
	cs  *ClockSync

	delayStats     *welford.Stats
	warnLimiter    *rate.Limiter
	lastCorrection time.Duration
}

// NewPort creates Port on top of conn. Nil now means time.Now is used for timers.
func NewPort(cfg *Config, conn Conn, clock Clock, stats StatsServer, now timer.Clock) (*Port, error) {
	mac := conn.HardwareAddr()
	clockID, err := ptp.NewClockIdentity(mac)
	if err != nil {
		return nil, fmt.Errorf("creating clock identity from %v: %w", mac, err)
	}
	p := &Port{
		cfg:   cfg,
		conn:  conn,
		clock: clock,
		stats: stats,
		identity: ptp.PortIdentity{
			ClockIdentity: clockID,
			PortNumber:    1,
		},
		mac:         mac,
		timers:      timer.NewRegistry[Event](now),
		delayStats:  welford.New(),
		warnLimiter: rate.NewLimiter(rate.Every(time.Second), 5),
	}
	p.dm = NewDelayMeasurement(cfg, p.identity, &p.scratch)
	p.bmc = NewBestMaster(cfg, p.identity)
	p.cs = NewClockSync(cfg, p.identity, &p.scratch)
	log.Infof("port identity %s on %s", p.identity, cfg.Iface)
	return p, nil
}

// Identity returns port identity
func (p *Port) Identity() ptp.PortIdentity {
	return p.identity
}

// Enable delivers Enable to all state machines. It's a no-op for already enabled ones.
func (p *Port) Enable() {
	p.route(Input{Event: EventDMEnable})
	p.route(Input{Event: EventBMCEnable})
	p.route(Input{Event: EventCSEnable})
}

// Tick dispatches events of all timers expired by now
func (p *Port) Tick(now time.Time) {
	for _, f := range p.timers.Tick(now) {
		// timer stopped or restarted by an earlier event of this tick
		if !p.timers.Pending(f) {
			log.Debugf("dropping stale %s event of %s", f.Event, f.ID)
			p.stats.UpdateCounterBy(counterTimerEventsDropped, 1)
			continue
		}
		p.route(Input{Event: f.Event})
	}
}

// HandleFrame classifies received Ethernet frame and feeds it to the state machine handling it
func (p *Port) HandleFrame(b []byte, rx time.Time) {
	in, err := Classify(b, rx)
	if err != nil {
		p.stats.UpdateCounterBy(counterDecodeError, 1)
		if p.warnLimiter.Allow() {
			log.Warningf("dropping frame: %v", err)
		}
		return
	}
	h := packetHeader(in.Packet)
	msgType := in.Packet.MessageType()
	if bytes.Equal(in.Source, p.mac) || h.SourcePortIdentity == p.identity {
		p.stats.UpdateCounterBy(counterOwnFrame, 1)
		return
	}
	if h.DomainNumber != p.cfg.DomainNumber {
		log.Debugf("ignoring %s from domain %d", msgType, h.DomainNumber)
		return
	}
	if isEventMessage(msgType) && rx.IsZero() {
		p.stats.UpdateCounterBy(counterRXTimestampMissing, 1)
		if p.warnLimiter.Allow() {
			log.Warningf("%s from %s has no RX timestamp", msgType, h.SourcePortIdentity)
		}
		return
	}
	p.stats.UpdateCounterBy(portStatsKey(stats.PortStatsRxPrefix, msgType), 1)
	p.logReceive(msgType, "seq=%d from %s", h.SequenceID, h.SourcePortIdentity)
	p.route(in)
}

func (p *Port) route(in Input) {
	var effects []Effect
	switch in.Event.Destination() {
	case DestDM:
		effects = p.dm.Handle(in)
	case DestBMC:
		effects = p.bmc.Handle(in)
	case DestCS:
		effects = p.cs.Handle(in)
	default:
		log.Errorf("event %s has unknown destination", in.Event)
		p.stats.UpdateCounterBy(counterUnknownDestination, 1)
		return
	}
	p.execute(effects)
}

func (p *Port) execute(effects []Effect) {
	for _, effect := range effects {
		log.Tracef("executing %s", effect)
		switch e := effect.(type) {
		case Send:
			p.send(e)
		case StartTimer:
			if err := p.timers.Start(e.ID, e.Interval, e.Event); err != nil {
				log.Errorf("starting timer: %v", err)
			}
		case StopTimer:
			p.timers.Stop(e.ID)
		case ResetTimer:
			p.timers.Reset(e.ID)
		case PublishDelay:
			p.cs.SetDelay(e.Delay)
			p.delayStats.Add(float64(e.Delay))
		case SetRole:
			p.execute(p.cs.SetRole(e.GrandMaster))
		case SetClock:
			p.setClock(e)
		case AdjustClock:
			p.adjustClock(e)
		case Count:
			p.stats.UpdateCounterBy(e.Key, 1)
		default:
			log.Errorf("unknown effect %T", effect)
		}
	}
}

func (p *Port) send(e Send) {
	msgType := e.Packet.MessageType()
	if e.Origin != NoSlot {
		origin := p.scratch[e.Origin]
		if origin.IsZero() {
			log.Warningf("not sending %s: no departure timestamp of the preceding message", msgType)
			p.stats.UpdateCounterBy(counterTXTimestampError, 1)
			return
		}
		setOrigin(e.Packet, origin)
	}
	frame, err := ptp.Frame(p.mac, e.Packet)
	if err != nil {
		log.Errorf("framing %s: %v", msgType, err)
		p.stats.UpdateCounterBy(counterTXError, 1)
		return
	}
	tx, err := p.conn.WriteFrame(frame, e.CaptureTX != NoSlot)
	if err != nil {
		if errors.Is(err, timestamp.ErrTimeout) {
			log.Warningf("no TX timestamp for %s: %v", msgType, err)
			p.stats.UpdateCounterBy(counterTXTimestampError, 1)
		} else {
			log.Errorf("sending %s: %v", msgType, err)
			p.stats.UpdateCounterBy(counterTXError, 1)
		}
		return
	}
	if e.CaptureTX != NoSlot {
		p.scratch[e.CaptureTX] = tx
	}
	p.stats.UpdateCounterBy(portStatsKey(stats.PortStatsTxPrefix, msgType), 1)
	p.logSent(msgType, "seq=%d tx=%v", packetHeader(e.Packet).SequenceID, tx)
}

func (p *Port) setClock(e SetClock) {
	now, err := p.clock.Now()
	if err != nil {
		log.Errorf("reading clock: %v", err)
		p.stats.UpdateCounterBy(counterCSClockError, 1)
		return
	}
	p.scratch[SlotClockBefore] = now
	target := projectedTime(now, e.LocalRX, e.Corrected)
	log.Infof("setting clock to %v, offset %v, path delay %v", target, p.cs.Offset(), p.dm.Delay())
	if err := p.clock.Set(target); err != nil {
		log.Errorf("setting clock to %v: %v", target, err)
		p.stats.UpdateCounterBy(counterCSClockError, 1)
		return
	}
	p.lastCorrection = target.Sub(now)
	p.readClockAfter()
}

func (p *Port) adjustClock(e AdjustClock) {
	if now, err := p.clock.Now(); err == nil {
		p.scratch[SlotClockBefore] = now
	}
	log.Infof("offset %10d path delay %10d", e.Offset.Nanoseconds(), p.dm.Delay().Nanoseconds())
	if err := p.clock.Adjust(e.Offset); err != nil {
		log.Errorf("adjusting clock by %v: %v", e.Offset, err)
		p.stats.UpdateCounterBy(counterCSClockError, 1)
		return
	}
	p.lastCorrection = e.Offset
	p.readClockAfter()
}

func (p *Port) readClockAfter() {
	after, err := p.clock.Now()
	if err != nil {
		log.Warningf("reading clock after correction: %v", err)
		return
	}
	p.scratch[SlotClockAfter] = after
	log.Debugf("clock before correction %v, after %v", p.scratch[SlotClockBefore], after)
}

// PortStats returns snapshot of the port state
func (p *Port) PortStats() *stats.PortStats {
	gm := p.bmc.GMPriority()
	return &stats.PortStats{
		Iface:              p.cfg.Iface,
		PortIdentity:       p.identity.String(),
		DMState:            p.dm.State().String(),
		BMCState:           p.bmc.State().String(),
		CSState:            p.cs.State().String(),
		MeanLinkDelay:      p.dm.Delay().Nanoseconds(),
		DelayMean:          p.delayStats.Mean(),
		DelayStddev:        p.delayStats.Stddev(),
		DelaySamples:       p.dm.Samples(),
		PeerPortIdentity:   p.dm.Peer().String(),
		MasterPortIdentity: p.cs.Master().String(),
		Offset:             p.cs.Offset().Nanoseconds(),
		GMIdentity:         gm.ClockIdentity.String(),
		GMPriority:         gm,
		LastCorrection:     p.lastCorrection.Nanoseconds(),
	}
}

func (p *Port) publishStats() {
	p.stats.SetPortStats(p.PortStats())
}

func (p *Port) logSent(t ptp.MessageType, msg string, v ...interface{}) {
	log.Debugf(color.GreenString("[%s] port -> %s (%s)", p.cfg.Iface, t, fmt.Sprintf(msg, v...)))
}

func (p *Port) logReceive(t ptp.MessageType, msg string, v ...interface{}) {
	log.Debugf(color.BlueString("[%s] peer -> %s (%s)", p.cfg.Iface, t, fmt.Sprintf(msg, v...)))
}

func packetHeader(p ptp.Packet) *ptp.Header {
	switch v := p.(type) {
	case *ptp.Sync:
		return &v.Header
	case *ptp.FollowUp:
		return &v.Header
	case *ptp.PDelayReq:
		return &v.Header
	case *ptp.PDelayResp:
		return &v.Header
	case *ptp.PDelayRespFollowUp:
		return &v.Header
	case *ptp.Announce:
		return &v.Header
	}
	return &ptp.Header{}
}

// setOrigin fills origin timestamp of follow up messages
func setOrigin(p ptp.Packet, origin time.Time) {
	switch v := p.(type) {
	case *ptp.FollowUp:
		v.PreciseOriginTimestamp = ptp.NewTimestamp(origin)
	case *ptp.PDelayRespFollowUp:
		v.ResponseOriginTimestamp = ptp.NewTimestamp(origin)
	}
}
