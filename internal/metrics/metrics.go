package metrics

import (
    "github.com/prometheus/client_golang/prometheus"
    "github.com/prometheus/client_golang/prometheus/promauto"
)

// Tick outcomes.
const (
    OutcomeSuccess = "success"
    OutcomeFailure = "failure"
)

// Metrics holds the feed pipeline collectors. A nil *Metrics is valid and
// records nothing, so components can be wired with metrics disabled.
type Metrics struct {
    ticks      *prometheus.CounterVec
    quotes     *prometheus.CounterVec
    publishes  prometheus.Counter
    schedulers prometheus.Gauge
    listeners  prometheus.Gauge
}

// New registers the feed collectors against reg.
func New(reg prometheus.Registerer) *Metrics {
    factory := promauto.With(reg)
    return &Metrics{
        ticks: factory.NewCounterVec(
            prometheus.CounterOpts{
                Name: "feed_ticks_total",
                Help: "Scheduler ticks by outcome (success or failure).",
            },
            []string{"outcome"},
        ),
        quotes: factory.NewCounterVec(
            prometheus.CounterOpts{
                Name: "feed_quotes_total",
                Help: "Quotes fetched, by originating source.",
            },
            []string{"source"},
        ),
        publishes: factory.NewCounter(
            prometheus.CounterOpts{
                Name: "feed_publishes_total",
                Help: "Updates published to subscribers.",
            },
        ),
        schedulers: factory.NewGauge(
            prometheus.GaugeOpts{
                Name: "feed_schedulers_active",
                Help: "Polling schedulers currently running.",
            },
        ),
        listeners: factory.NewGauge(
            prometheus.GaugeOpts{
                Name: "feed_listeners_active",
                Help: "Update listeners currently registered.",
            },
        ),
    }
}

// Tick records one scheduler tick with the given outcome.
func (m *Metrics) Tick(outcome string) {
    if m == nil { return }
    m.ticks.WithLabelValues(outcome).Inc()
}

// Quote records one fetched quote attributed to source.
func (m *Metrics) Quote(source string) {
    if m == nil { return }
    m.quotes.WithLabelValues(source).Inc()
}

// Publish records one update delivered to the hub.
func (m *Metrics) Publish() {
    if m == nil { return }
    m.publishes.Inc()
}

func (m *Metrics) SchedulerStarted() {
    if m == nil { return }
    m.schedulers.Inc()
}

func (m *Metrics) SchedulerStopped() {
    if m == nil { return }
    m.schedulers.Dec()
}

func (m *Metrics) ListenerAdded() {
    if m == nil { return }
    m.listeners.Inc()
}

func (m *Metrics) ListenerRemoved() {
    if m == nil { return }
    m.listeners.Dec()
}
