package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Decisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_decisions_total",
			Help: "Authorization decisions by outcome.",
		},
		[]string{"outcome"},
	)

	WebhookDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_deliveries_total",
			Help: "Webhook delivery attempts by result.",
		},
		[]string{"result"},
	)

	WindowRollovers = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ratelimit_window_rollovers_total",
		Help: "Rate-limit windows rolled over to a new period.",
	})

	Escalations = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tenant_escalations_total",
		Help: "Tenants suspended by the escalation policy.",
	})
)

// Init registers the gateway metrics with the default registry.
func Init() {
	prometheus.MustRegister(Decisions, WebhookDeliveries, WindowRollovers, Escalations)
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
