// Package metrics exposes the service's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// CheckIns counts check-in attempts by outcome: "success" or a rejection
// reason.
var CheckIns = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "fitpass_checkins_total",
	Help: "Check-in attempts by outcome.",
}, []string{"outcome"})

// PresenceClients tracks currently-connected presence observers.
var PresenceClients = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "fitpass_presence_clients",
	Help: "Currently connected presence WebSocket clients.",
})

// SessionsStarted counts session activations.
var SessionsStarted = promauto.NewCounter(prometheus.CounterOpts{
	Name: "fitpass_sessions_started_total",
	Help: "Sessions transitioned to ACTIVE.",
})
