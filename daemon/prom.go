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

package daemon

import (
	"errors"
	"net/http"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

// PrometheusExporter exposes stats counters as Prometheus gauges
type PrometheusExporter struct {
	sync.Mutex
	registry *prometheus.Registry
	gauges   map[string]prometheus.Gauge
}

// NewPrometheusExporter creates a new instance of PrometheusExporter
func NewPrometheusExporter() *PrometheusExporter {
	return &PrometheusExporter{
		registry: prometheus.NewRegistry(),
		gauges:   map[string]prometheus.Gauge{},
	}
}

// Update sets gauges to values of counters, registering new gauges on the way
func (e *PrometheusExporter) Update(counters map[string]int64) {
	e.Lock()
	defer e.Unlock()
	for mkey, mval := range counters {
		g, found := e.gauges[mkey]
		if !found {
			g = prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "timecounter",
				Name:      flattenKey(mkey),
				Help:      mkey,
			})
			if err := e.registry.Register(g); err != nil {
				are := prometheus.AlreadyRegisteredError{}
				if !errors.As(err, &are) {
					log.Errorf("failed to register metric %s %v", mkey, err)
					continue
				}
				g = are.ExistingCollector.(prometheus.Gauge)
			}
			e.gauges[mkey] = g
		}
		g.Set(float64(mval))
	}
}

// Handler returns http handler serving metrics
func (e *PrometheusExporter) Handler() http.Handler {
	return promhttp.HandlerFor(
		e.registry,
		promhttp.HandlerOpts{
			// Opt into OpenMetrics to support exemplars.
			EnableOpenMetrics: true,
		},
	)
}

func flattenKey(key string) string {
	return strings.NewReplacer(" ", "_", ".", "_", "-", "_", "=", "_", "/", "_", ":", "_").Replace(key)
}
