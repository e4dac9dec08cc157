// Package metrics exposes Prometheus counters for flag lifecycle events.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/zulandar/misunderstood/internal/misunderstood"
)

const namespace = "misunderstood"

// Recorder counts store mutations and API requests. It implements
// misunderstood.Hook.
type Recorder struct {
	gatherer prometheus.Gatherer

	flagsAdded    *prometheus.CounterVec
	statusUpdates *prometheus.CounterVec
	notifyDropped prometheus.Counter
	httpDuration  *prometheus.HistogramVec
}

// NewRecorder creates a Recorder registered on a fresh registry.
func NewRecorder() (*Recorder, error) {
	reg := prometheus.NewRegistry()
	r := &Recorder{
		gatherer: reg,
		flagsAdded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flags_added_total",
			Help:      "Flagged events added, by bot and reason",
		}, []string{"bot_id", "reason"}),
		statusUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "status_updates_total",
			Help:      "Flagged event rows moved to a status, by bot and status",
		}, []string{"bot_id", "status"}),
		notifyDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_dropped_total",
			Help:      "Notifications dropped because the queue was full",
		}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Review API request latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "code"}),
	}

	for _, c := range []prometheus.Collector{
		r.flagsAdded, r.statusUpdates, r.notifyDropped, r.httpDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("metrics: register: %w", err)
		}
	}
	return r, nil
}

// AfterChange counts adds and status updates. Updates that matched no row
// are not counted.
func (r *Recorder) AfterChange(_ context.Context, c misunderstood.Change) {
	switch c.Op {
	case misunderstood.OpAdd:
		r.flagsAdded.WithLabelValues(c.BotID, string(c.Reason)).Inc()
	case misunderstood.OpUpdateStatus:
		if c.RowsAffected > 0 {
			r.statusUpdates.WithLabelValues(c.BotID, string(c.Status)).Add(float64(c.RowsAffected))
		}
	}
}

// NotificationDropped counts one notification lost to a full queue.
func (r *Recorder) NotificationDropped() { r.notifyDropped.Inc() }

// ObserveRequest records one API request.
func (r *Recorder) ObserveRequest(method, route string, code int, d time.Duration) {
	r.httpDuration.WithLabelValues(method, route, strconv.Itoa(code)).Observe(d.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{})
}
