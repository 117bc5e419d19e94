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
	"golang.org/x/sys/unix"

	"github.com/facebook/gptp/clock"
	"github.com/facebook/gptp/phc"
)

// Clock is the iface for the clock we synchronize
type Clock interface {
	Now() (time.Time, error)
	Set(t time.Time) error
	Adjust(offset time.Duration) error
}

func abs(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

// PHC groups methods for interactions with PHC devices
type PHC struct {
	dev *phc.Device
}

// NewPHC opens PHC device of network interface
func NewPHC(iface string) (*PHC, error) {
	dev, err := phc.OpenIface(iface)
	if err != nil {
		return nil, fmt.Errorf("failed to open PHC of %s: %w", iface, err)
	}
	return &PHC{dev: dev}, nil
}

// Now returns PHC time
func (p *PHC) Now() (time.Time, error) {
	return p.dev.Time()
}

// Set sets PHC time
func (p *PHC) Set(t time.Time) error {
	return p.dev.SetTime(t)
}

// Adjust slews PHC by offset if driver supports it, otherwise steps
func (p *PHC) Adjust(offset time.Duration) error {
	if abs(offset) <= clock.MaxPhaseOffset {
		err := p.dev.AdjPhase(offset)
		if err == nil {
			return nil
		}
		log.Debugf("phase adjustment of %s failed, stepping: %v", p.dev.Name(), err)
	}
	return p.dev.Step(offset)
}

// Close releases PHC device
func (p *PHC) Close() error {
	return p.dev.Close()
}

// SysClock groups methods for interacting with system clock
type SysClock struct{}

// Now returns system time
func (c *SysClock) Now() (time.Time, error) {
	return clock.Time(unix.CLOCK_REALTIME)
}

// Set sets system time
func (c *SysClock) Set(t time.Time) error {
	return clock.SetTime(unix.CLOCK_REALTIME, t)
}

// Adjust slews system clock by offset, offsets too big for the kernel PLL are stepped
func (c *SysClock) Adjust(offset time.Duration) error {
	var state int
	var err error
	if abs(offset) <= clock.MaxPhaseOffset {
		state, err = clock.AdjPhase(unix.CLOCK_REALTIME, offset)
	} else {
		state, err = clock.Step(unix.CLOCK_REALTIME, offset)
	}
	if err == nil && state != unix.TIME_OK {
		log.Warningf("clock state %d is not TIME_OK after adjusting", state)
	}
	return err
}

// FreeRunningClock is a clock that is never corrected
type FreeRunningClock struct{}

// Now returns system time
func (c *FreeRunningClock) Now() (time.Time, error) {
	return time.Now(), nil
}

// Set does nothing
func (c *FreeRunningClock) Set(_ time.Time) error {
	return nil
}

// Adjust does nothing
func (c *FreeRunningClock) Adjust(_ time.Duration) error {
	return nil
}

// NewClock returns Clock configured by cfg
func NewClock(cfg *Config) (Clock, error) {
	switch cfg.Clock {
	case ClockPHC:
		p, err := NewPHC(cfg.Iface)
		if err != nil {
			return nil, err
		}
		return p, nil
	case ClockSys:
		return &SysClock{}, nil
	case ClockFreeRunning:
		log.Warning("operating in FreeRunning mode, will NOT adjust clock")
		return &FreeRunningClock{}, nil
	}
	return nil, fmt.Errorf("unsupported clock %q", cfg.Clock)
}
