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

/*
Package stats implements gptpd monitoring: counters and port state served over HTTP as JSON,
clients fetching them, and a Prometheus exporter.
*/
package stats

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/facebook/gptp/gptp/bmc"
)

// port stats prefixes
const (
	PortStatsTxPrefix = "gptp.portstats.tx."
	PortStatsRxPrefix = "gptp.portstats.rx."
)

// PortStats is a snapshot of gPTP port state
type PortStats struct {
	Iface              string             `json:"iface"`
	PortIdentity       string             `json:"port_identity"`
	DMState            string             `json:"dm_state"`
	BMCState           string             `json:"bmc_state"`
	CSState            string             `json:"cs_state"`
	MeanLinkDelay      int64              `json:"mean_link_delay"`
	DelayMean          float64            `json:"delay_mean"`
	DelayStddev        float64            `json:"delay_stddev"`
	DelaySamples       int64              `json:"delay_samples"`
	PeerPortIdentity   string             `json:"peer_port_identity"`
	MasterPortIdentity string             `json:"master_port_identity"`
	Offset             int64              `json:"offset"`
	GMIdentity         string             `json:"gm_identity"`
	GMPriority         bmc.PriorityVector `json:"gm_priority"`
	LastCorrection     int64              `json:"last_correction"`
}

// IsGrandMaster reports whether port acts as the grandmaster
func (s *PortStats) IsGrandMaster() bool {
	return s.CSState == "GRAND_MASTER"
}

// Counters is various counters exported by gptpd
type Counters map[string]int64

// PortStats returns two maps: packet type to counter, TX and RX
func (c Counters) PortStats() (tx map[string]uint64, rx map[string]uint64) {
	tx = map[string]uint64{}
	rx = map[string]uint64{}
	for k, v := range c {
		if strings.HasPrefix(k, PortStatsTxPrefix) {
			tx[strings.TrimPrefix(k, PortStatsTxPrefix)] = uint64(v)
		}
		if strings.HasPrefix(k, PortStatsRxPrefix) {
			rx[strings.TrimPrefix(k, PortStatsRxPrefix)] = uint64(v)
		}
	}
	return
}

// SysStats return sys stats from counters
func (c Counters) SysStats() map[string]int64 {
	res := map[string]int64{}
	for k, v := range c {
		if strings.HasPrefix(k, PortStatsTxPrefix) {
			continue
		}
		if strings.HasPrefix(k, PortStatsRxPrefix) {
			continue
		}
		res[k] = v
	}
	return res
}

func fetch(url string, v any) error {
	c := http.Client{
		Timeout: time.Second * 2,
	}

	resp, err := c.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s returned %s", url, resp.Status)
	}

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}

// FetchPortStats returns port state fetched from the url
func FetchPortStats(url string) (*PortStats, error) {
	s := &PortStats{}
	if err := fetch(url, s); err != nil {
		return nil, err
	}
	return s, nil
}

// FetchCounters returns counters map fetched from the url
func FetchCounters(url string) (Counters, error) {
	counters := make(Counters)
	err := fetch(fmt.Sprintf("%s/counters", url), &counters)
	return counters, err
}

// FetchPortCounters fetches all counters and then returns two maps: packet type to counter, TX and RX
func FetchPortCounters(url string) (tx map[string]uint64, rx map[string]uint64, err error) {
	counters, err := FetchCounters(url)
	if err != nil {
		return nil, nil, err
	}
	tx, rx = counters.PortStats()
	return tx, rx, err
}

// FetchSysStats fetches all counters and return sys stats from them
func FetchSysStats(url string) (map[string]int64, error) {
	counters, err := FetchCounters(url)
	if err != nil {
		return nil, err
	}
	return counters.SysStats(), nil
}
