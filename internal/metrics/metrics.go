package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	MessagesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chat_messages_sent_total",
		Help: "Messages durably persisted.",
	})
	DeliveriesAttempted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chat_deliveries_attempted_total",
		Help: "Per-recipient live push attempts.",
	})
	DeliveriesPushed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chat_deliveries_pushed_total",
		Help: "Per-recipient live pushes that reached at least one connection.",
	})
	DeliveriesOffline = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chat_deliveries_offline_total",
		Help: "Per-recipient live pushes skipped because no local connection existed.",
	})
	QueueDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chat_delivery_queue_dropped_total",
		Help: "Delivery jobs dropped because the dispatch queue was full.",
	})
	RelayFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chat_delivery_relay_failures_total",
		Help: "Failed cross-instance relay publishes.",
	})
	LiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chat_live_connections",
		Help: "Currently open websocket connections.",
	})
)

// Handler returns an http.Handler for Prometheus scraping.
func Handler() http.Handler {
	return promhttp.Handler()
}
