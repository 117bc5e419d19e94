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

package stats

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func TestFlattenKey(t *testing.T) {
	require.Equal(t, "gptp_portstats_tx_pdelay_req", flattenKey("gptp.portstats.tx.pdelay_req"))
	require.Equal(t, "process_cpu_pct_avg_60", flattenKey("process.cpu_pct.avg.60"))
	require.Equal(t, "a_b_c_d_e", flattenKey("a b-c=d/e"))
}

func gauges(t *testing.T, r *prometheus.Registry) map[string]float64 {
	families, err := r.Gather()
	require.NoError(t, err)
	res := map[string]float64{}
	for _, f := range families {
		for _, m := range f.GetMetric() {
			res[f.GetName()] = m.GetGauge().GetValue()
		}
	}
	return res
}

func TestScrapeMetrics(t *testing.T) {
	s := NewJSONStats()
	s.UpdateCounterBy("gptp.dm.delay.accepted", 3)
	s.SetPortStats(&PortStats{MeanLinkDelay: 450, Offset: -20, CSState: "GRAND_MASTER"})
	ts := httptest.NewServer(s.handler())
	defer ts.Close()

	e := NewPrometheusExporter(0, 0, time.Second)
	e.gptpdURL = ts.URL
	require.NoError(t, e.scrapeMetrics())
	got := gauges(t, e.registry)
	require.Equal(t, 3.0, got["gptp_dm_delay_accepted"])
	require.Equal(t, 450.0, got["gptp_port_mean_link_delay"])
	require.Equal(t, -20.0, got["gptp_port_offset"])
	require.Equal(t, 1.0, got["gptp_port_grandmaster"])

	// values are updated in place on the next scrape
	s.UpdateCounterBy("gptp.dm.delay.accepted", 1)
	require.NoError(t, e.scrapeMetrics())
	require.Equal(t, 4.0, gauges(t, e.registry)["gptp_dm_delay_accepted"])
}

func TestScrapeMetricsUnavailable(t *testing.T) {
	ts := httptest.NewServer(nil)
	ts.Close()
	e := NewPrometheusExporter(0, 0, time.Second)
	e.gptpdURL = ts.URL
	require.Error(t, e.scrapeMetrics())
}
