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
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

// PrometheusExporter exposes gptpd counters and port state as Prometheus gauges
type PrometheusExporter struct {
	registry   *prometheus.Registry
	listenPort int
	gptpdURL   string
	interval   time.Duration
}

// NewPrometheusExporter creates a new instance of PrometheusExporter
func NewPrometheusExporter(listenPort int, gptpdPort int, scrapeInterval time.Duration) *PrometheusExporter {
	return &PrometheusExporter{
		registry:   prometheus.NewRegistry(),
		interval:   scrapeInterval,
		listenPort: listenPort,
		gptpdURL:   fmt.Sprintf("http://localhost:%d", gptpdPort),
	}
}

// Start starts the exporter
func (e *PrometheusExporter) Start() {
	go func() {
		for {
			if err := e.scrapeMetrics(); err != nil {
				log.Errorf("failed to fetch gptpd metrics: %v", err)
			}
			time.Sleep(e.interval)
		}
	}()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(
		e.registry,
		promhttp.HandlerOpts{
			// Opt into OpenMetrics to support exemplars.
			EnableOpenMetrics: true,
		},
	))

	log.Fatal(http.ListenAndServe(fmt.Sprintf(":%d", e.listenPort), mux))
}

func (e *PrometheusExporter) setGauge(key string, val float64) {
	gauge := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: flattenKey(key),
		Help: key,
	})
	if err := e.registry.Register(gauge); err != nil {
		are := &prometheus.AlreadyRegisteredError{}
		if !errors.As(err, are) {
			log.Errorf("failed to register metric %s %v", key, err)
			return
		}
		gauge = are.ExistingCollector.(prometheus.Gauge)
	}
	gauge.Set(val)
}

func (e *PrometheusExporter) scrapeMetrics() error {
	counters, err := FetchCounters(e.gptpdURL)
	if err != nil {
		return err
	}
	for k, v := range counters {
		e.setGauge(k, float64(v))
	}
	ps, err := FetchPortStats(e.gptpdURL)
	if err != nil {
		return err
	}
	e.setGauge("gptp.port.mean_link_delay", float64(ps.MeanLinkDelay))
	e.setGauge("gptp.port.offset", float64(ps.Offset))
	e.setGauge("gptp.port.delay_stddev", ps.DelayStddev)
	gm := 0.0
	if ps.IsGrandMaster() {
		gm = 1
	}
	e.setGauge("gptp.port.grandmaster", gm)
	return nil
}

func flattenKey(key string) string {
	return strings.NewReplacer(" ", "_", ".", "_", "-", "_", "=", "_", "/", "_").Replace(key)
}
