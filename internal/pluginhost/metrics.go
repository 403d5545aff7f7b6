// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package pluginhost

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Reload statuses recorded by Metrics.
const (
	statusOK       = "ok"
	statusFailed   = "failed"
	statusCanceled = "canceled"
)

// reasonExtraction labels archives that yielded no plugin directory.
const reasonExtraction = "extraction"

// Metrics holds the host's Prometheus collectors. A nil *Metrics records
// nothing.
type Metrics struct {
	ReloadsTotal      *prometheus.CounterVec
	LoadFailuresTotal *prometheus.CounterVec
	LoadedPlugins     prometheus.Gauge
	ReloadDuration    prometheus.Histogram
}

// NewMetrics creates and registers host metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ReloadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "plughost_reloads_total",
				Help: "Total number of registry reloads by status",
			},
			[]string{"status"},
		),
		LoadFailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "plughost_load_failures_total",
				Help: "Total number of plugin artifacts excluded from the registry by reason",
			},
			[]string{"reason"},
		),
		LoadedPlugins: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "plughost_loaded_plugins",
			Help: "Number of plugins in the current registry",
		}),
		ReloadDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "plughost_reload_duration_seconds",
			Help:    "Time taken by a full registry reload",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(m.ReloadsTotal, m.LoadFailuresTotal, m.LoadedPlugins, m.ReloadDuration)
	return m
}

func (m *Metrics) observeReload(status string, started time.Time) {
	if m == nil {
		return
	}
	m.ReloadsTotal.WithLabelValues(status).Inc()
	m.ReloadDuration.Observe(time.Since(started).Seconds())
}

func (m *Metrics) loadFailed(reason string) {
	if m == nil {
		return
	}
	m.LoadFailuresTotal.WithLabelValues(reason).Inc()
}

func (m *Metrics) setLoaded(n int) {
	if m == nil {
		return
	}
	m.LoadedPlugins.Set(float64(n))
}
