package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the engine's Prometheus collectors.
type Metrics struct {
	// Labels: arm
	participants *prometheus.CounterVec
	// Labels: arm
	conversions *prometheus.CounterVec
	// Labels: status (the status entered)
	transitions *prometheus.CounterVec
}

// NewMetrics registers the engine collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		participants: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pagesplit",
			Subsystem: "engine",
			Name:      "participants_total",
			Help:      "Participants recorded, by arm",
		}, []string{"arm"}),
		conversions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pagesplit",
			Subsystem: "engine",
			Name:      "conversions_total",
			Help:      "Conversions recorded, by arm",
		}, []string{"arm"}),
		transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pagesplit",
			Subsystem: "engine",
			Name:      "transitions_total",
			Help:      "Lifecycle transitions, by the status entered",
		}, []string{"status"}),
	}
}
