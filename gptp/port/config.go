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
	"os"
	"time"

	log "github.com/sirupsen/logrus"
	yaml "gopkg.in/yaml.v2"

	ptp "github.com/facebook/gptp/gptp/protocol"
	"github.com/facebook/gptp/timestamp"
)

// supported clocks
const (
	ClockPHC         = "phc"
	ClockSys         = "sys"
	ClockFreeRunning = "freerunning"
)

// BMC modes
const (
	// BMCModeAuto runs best master elections
	BMCModeAuto = "auto"
	// BMCModeMaster always acts as grandmaster and ignores Announces
	BMCModeMaster = "master"
	// BMCModeSlave always follows, Announce timeouts never promote us
	BMCModeSlave = "slave"
)

// PriorityConfig is the default priority vector advertised by the port
type PriorityConfig struct {
	Priority1               uint8             `yaml:"priority1"`
	ClockClass              ptp.ClockClass    `yaml:"clock_class"`
	ClockAccuracy           ptp.ClockAccuracy `yaml:"clock_accuracy"`
	OffsetScaledLogVariance uint16            `yaml:"offset_scaled_log_variance"`
	Priority2               uint8             `yaml:"priority2"`
	TimeSource              ptp.TimeSource    `yaml:"time_source"`
}

// Config specifies gPTP port run options
type Config struct {
	Iface             string              `yaml:"iface"`
	DomainNumber      uint8               `yaml:"domain_number"`
	Timestamping      timestamp.Timestamp `yaml:"timestamping"`
	Clock             string              `yaml:"clock"`
	BMCMode           string              `yaml:"bmc_mode"`
	PDelayReqInterval time.Duration       `yaml:"pdelay_req_interval"`
	PDelayReqTimeout  time.Duration       `yaml:"pdelay_req_timeout"`
	AnnounceInterval  time.Duration       `yaml:"announce_interval"`
	AnnounceTimeout   time.Duration       `yaml:"announce_timeout"`
	SyncInterval      time.Duration       `yaml:"sync_interval"`
	SyncTimeout       time.Duration       `yaml:"sync_timeout"`
	TickInterval      time.Duration       `yaml:"tick_interval"`
	RXTimeout         time.Duration       `yaml:"rx_timeout"`
	TimeoutTXTS       time.Duration       `yaml:"timeout_txts"`
	MaxDelay          time.Duration       `yaml:"max_delay"`       // path delays above are discarded
	DelayAsymmetry    time.Duration       `yaml:"delay_asymmetry"` // subtracted from measured path delay
	StepThreshold     time.Duration       `yaml:"step_threshold"`  // offsets above are stepped instead of slewed
	Priority          PriorityConfig      `yaml:"priority"`
	MonitoringPort    int                 `yaml:"monitoring_port"`
	LinkUp            bool                `yaml:"link_up"` // bring the interface up before binding
}

// DefaultConfig returns Config initialized with default values
func DefaultConfig() *Config {
	return &Config{
		Iface:             "eth0",
		Timestamping:      timestamp.HW,
		Clock:             ClockPHC,
		BMCMode:           BMCModeAuto,
		PDelayReqInterval: 8 * time.Second,
		PDelayReqTimeout:  16 * time.Second,
		AnnounceInterval:  2 * time.Second,
		AnnounceTimeout:   8 * time.Second,
		SyncInterval:      2 * time.Second,
		SyncTimeout:       32 * time.Second,
		TickInterval:      100 * time.Millisecond,
		RXTimeout:         time.Second,
		TimeoutTXTS:       time.Second,
		MaxDelay:          50 * time.Microsecond,
		StepThreshold:     10 * time.Second,
		Priority: PriorityConfig{
			Priority1:               250,
			ClockClass:              ptp.ClockClassDefault,
			ClockAccuracy:           ptp.ClockAccuracyUnknown,
			OffsetScaledLogVariance: ptp.VarianceDefault,
			Priority2:               250,
			TimeSource:              ptp.TimeSourceInternalOscillator,
		},
		MonitoringPort: 4270,
	}
}

// Validate config is sane
func (c *Config) Validate() error {
	if c.Iface == "" {
		return fmt.Errorf("iface must be specified")
	}
	if c.Timestamping != timestamp.HW && c.Timestamping != timestamp.SW {
		return fmt.Errorf("only %q and %q timestamping is supported", timestamp.HW, timestamp.SW)
	}
	if c.Clock != ClockPHC && c.Clock != ClockSys && c.Clock != ClockFreeRunning {
		return fmt.Errorf("clock must be either %q, %q or %q", ClockPHC, ClockSys, ClockFreeRunning)
	}
	if c.Clock == ClockPHC && c.Timestamping != timestamp.HW {
		return fmt.Errorf("%q clock requires %q timestamping", ClockPHC, timestamp.HW)
	}
	if c.BMCMode != BMCModeAuto && c.BMCMode != BMCModeMaster && c.BMCMode != BMCModeSlave {
		return fmt.Errorf("bmc_mode must be either %q, %q or %q", BMCModeAuto, BMCModeMaster, BMCModeSlave)
	}
	for name, d := range map[string]time.Duration{
		"pdelay_req_interval": c.PDelayReqInterval,
		"pdelay_req_timeout":  c.PDelayReqTimeout,
		"announce_interval":   c.AnnounceInterval,
		"announce_timeout":    c.AnnounceTimeout,
		"sync_interval":       c.SyncInterval,
		"sync_timeout":        c.SyncTimeout,
		"tick_interval":       c.TickInterval,
		"rx_timeout":          c.RXTimeout,
		"timeout_txts":        c.TimeoutTXTS,
		"max_delay":           c.MaxDelay,
		"step_threshold":      c.StepThreshold,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be greater than zero", name)
		}
	}
	if c.AnnounceTimeout <= c.AnnounceInterval {
		return fmt.Errorf("announce_timeout must be greater than announce_interval")
	}
	if c.MonitoringPort < 0 {
		return fmt.Errorf("monitoring_port must be 0 or positive")
	}
	return nil
}

// ReadConfig reads config from the file
func ReadConfig(path string) (*Config, error) {
	c := DefaultConfig()
	cData, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	err = yaml.Unmarshal(cData, &c)
	if err != nil {
		return nil, err
	}

	return c, nil
}

// PrepareConfig prepares final version of config based on defaults, CLI flags and on-disk config, and validates resulting config
func PrepareConfig(cfgPath string, iface string, monitoringPort int, ts timestamp.Timestamp, bmcMode string, setFlags map[string]bool) (*Config, error) {
	cfg := DefaultConfig()
	var err error
	warn := func(name string) {
		log.Warningf("overriding %s from CLI flag", name)
	}
	if cfgPath != "" {
		cfg, err = ReadConfig(cfgPath)
		if err != nil {
			return nil, fmt.Errorf("reading config from %q: %w", cfgPath, err)
		}
	}
	if setFlags["iface"] {
		warn("iface")
		cfg.Iface = iface
	}
	if setFlags["monitoringport"] {
		warn("monitoringPort")
		cfg.MonitoringPort = monitoringPort
	}
	if setFlags["timestamping"] {
		warn("timestamping")
		cfg.Timestamping = ts
	}
	if setFlags["bmcmode"] {
		warn("bmcMode")
		cfg.BMCMode = bmcMode
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	log.Debugf("config: %+v", cfg)
	return cfg, nil
}
