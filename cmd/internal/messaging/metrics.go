package messaging

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the core's collectors. A nil *Metrics records nothing.
type Metrics struct {
	MessagesAppended    *prometheus.CounterVec
	Sends               *prometheus.CounterVec
	BroadcastRecipients *prometheus.CounterVec
	LiveSubscriptions   prometheus.Gauge
	SearchScans         *prometheus.CounterVec
	OptimisticRollbacks prometheus.Counter
}

// NewMetrics registers the collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		MessagesAppended: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coachhub_messages_appended_total",
				Help: "Messages persisted, by backend",
			},
			[]string{"backend"},
		),
		Sends: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coachhub_send_total",
				Help: "Send operations by kind (direct, broadcast) and result",
			},
			[]string{"kind", "result"},
		),
		BroadcastRecipients: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coachhub_broadcast_recipients_total",
				Help: "Per-recipient broadcast appends by result",
			},
			[]string{"result"},
		),
		LiveSubscriptions: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "coachhub_live_subscriptions_active",
				Help: "Open live conversation subscriptions",
			},
		),
		SearchScans: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coachhub_search_scans_total",
				Help: "Per-conversation search scans by result",
			},
			[]string{"result"},
		),
		OptimisticRollbacks: f.NewCounter(
			prometheus.CounterOpts{
				Name: "coachhub_optimistic_rollbacks_total",
				Help: "Optimistic messages removed after a failed append",
			},
		),
	}
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func (m *Metrics) messageAppended(backend string) {
	if m == nil {
		return
	}
	m.MessagesAppended.WithLabelValues(backend).Inc()
}

func (m *Metrics) send(kind string, err error) {
	if m == nil {
		return
	}
	m.Sends.WithLabelValues(kind, result(err)).Inc()
}

func (m *Metrics) broadcastRecipients(ok, failed int) {
	if m == nil {
		return
	}
	m.BroadcastRecipients.WithLabelValues("ok").Add(float64(ok))
	m.BroadcastRecipients.WithLabelValues("error").Add(float64(failed))
}

func (m *Metrics) liveSubscription(delta float64) {
	if m == nil {
		return
	}
	m.LiveSubscriptions.Add(delta)
}

func (m *Metrics) searchScan(err error) {
	if m == nil {
		return
	}
	m.SearchScans.WithLabelValues(result(err)).Inc()
}

func (m *Metrics) rollback() {
	if m == nil {
		return
	}
	m.OptimisticRollbacks.Inc()
}
