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
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/facebook/gptp/timestamp"
)

func TestReadConfigMissing(t *testing.T) {
	_, err := ReadConfig("/does/not/exist")
	require.Error(t, err)
}

func TestReadConfigDefaults(t *testing.T) {
	f, err := os.CreateTemp("", "gptp")
	require.NoError(t, err)
	defer os.Remove(f.Name()) // clean up
	cfg, err := ReadConfig(f.Name())
	require.NoError(t, err)
	require.Equal(t, DefaultConfig(), cfg)
	require.NoError(t, cfg.Validate())
}

func TestReadConfig(t *testing.T) {
	f, err := os.CreateTemp("", "gptp")
	require.NoError(t, err)
	defer os.Remove(f.Name()) // clean up
	_, err = f.Write([]byte(`iface: enp1s0
domain_number: 0
timestamping: software
clock: sys
bmc_mode: slave
pdelay_req_interval: 1s
pdelay_req_timeout: 2s
announce_interval: 1s
announce_timeout: 3s
sync_interval: 125ms
sync_timeout: 1s
tick_interval: 10ms
max_delay: 20us
delay_asymmetry: 15ns
step_threshold: 1s
monitoring_port: 4271
link_up: true
priority:
  priority1: 246
  clock_class: 248
  clock_accuracy: 254
  offset_scaled_log_variance: 16640
  priority2: 248
  time_source: 160
`))
	require.NoError(t, err)
	cfg, err := ReadConfig(f.Name())
	require.NoError(t, err)
	want := DefaultConfig()
	want.Iface = "enp1s0"
	want.Timestamping = timestamp.SW
	want.Clock = ClockSys
	want.BMCMode = BMCModeSlave
	want.PDelayReqInterval = time.Second
	want.PDelayReqTimeout = 2 * time.Second
	want.AnnounceInterval = time.Second
	want.AnnounceTimeout = 3 * time.Second
	want.SyncInterval = 125 * time.Millisecond
	want.SyncTimeout = time.Second
	want.TickInterval = 10 * time.Millisecond
	want.MaxDelay = 20 * time.Microsecond
	want.DelayAsymmetry = 15 * time.Nanosecond
	want.StepThreshold = time.Second
	want.MonitoringPort = 4271
	want.LinkUp = true
	want.Priority.Priority1 = 246
	want.Priority.Priority2 = 248
	require.Equal(t, want, cfg)
	require.NoError(t, cfg.Validate())
}

func TestConfigValidate(t *testing.T) {
	cases := []struct {
		name   string
		modify func(c *Config)
	}{
		{name: "no iface", modify: func(c *Config) { c.Iface = "" }},
		{name: "bad timestamping", modify: func(c *Config) { c.Timestamping = timestamp.Timestamp(42) }},
		{name: "bad clock", modify: func(c *Config) { c.Clock = "atomic" }},
		{name: "phc with sw timestamps", modify: func(c *Config) { c.Timestamping = timestamp.SW }},
		{name: "bad bmc mode", modify: func(c *Config) { c.BMCMode = "passive" }},
		{name: "zero tick", modify: func(c *Config) { c.TickInterval = 0 }},
		{name: "negative sync interval", modify: func(c *Config) { c.SyncInterval = -time.Second }},
		{name: "announce timeout too short", modify: func(c *Config) { c.AnnounceTimeout = c.AnnounceInterval }},
		{name: "negative monitoring port", modify: func(c *Config) { c.MonitoringPort = -1 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.modify(cfg)
			require.Error(t, cfg.Validate())
		})
	}
}

func TestPrepareConfigDefaults(t *testing.T) {
	cfg, err := PrepareConfig("", "eth1", 4272, timestamp.SW, BMCModeMaster, map[string]bool{})
	require.NoError(t, err)
	require.Equal(t, DefaultConfig(), cfg)
}

func TestPrepareConfigOverrides(t *testing.T) {
	f, err := os.CreateTemp("", "gptp")
	require.NoError(t, err)
	defer os.Remove(f.Name()) // clean up
	_, err = f.Write([]byte("iface: eth3\nclock: freerunning\nmonitoring_port: 1000\n"))
	require.NoError(t, err)

	cfg, err := PrepareConfig(f.Name(), "eth1", 4272, timestamp.SW, BMCModeMaster, map[string]bool{
		"iface":          true,
		"monitoringport": true,
		"timestamping":   true,
		"bmcmode":        true,
	})
	require.NoError(t, err)
	require.Equal(t, "eth1", cfg.Iface)
	require.Equal(t, 4272, cfg.MonitoringPort)
	require.Equal(t, timestamp.SW, cfg.Timestamping)
	require.Equal(t, BMCModeMaster, cfg.BMCMode)
	require.Equal(t, ClockFreeRunning, cfg.Clock)
}

func TestPrepareConfigInvalid(t *testing.T) {
	// phc clock can't work with software timestamps
	_, err := PrepareConfig("", "eth1", 4272, timestamp.SW, BMCModeAuto, map[string]bool{"timestamping": true})
	require.Error(t, err)

	_, err = PrepareConfig("/does/not/exist", "", 0, timestamp.HW, BMCModeAuto, map[string]bool{})
	require.Error(t, err)
}
