package login

import "github.com/prometheus/client_golang/prometheus"

const (
	outcomeSuccess  = "success"
	outcomeRejected = "rejected"
	outcomeError    = "error"
	outcomeInvalid  = "invalid_input"
	outcomeInFlight = "in_flight"
)

var (
	attemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "meshfield",
			Subsystem: "admin_login",
			Name:      "attempts_total",
			Help:      "Admin login submissions by outcome.",
		},
		[]string{"outcome"},
	)
	inFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "meshfield",
			Subsystem: "admin_login",
			Name:      "in_flight",
			Help:      "Admin login submissions waiting on the credential backend.",
		},
	)
)

func init() {
	prometheus.MustRegister(attemptsTotal)
	prometheus.MustRegister(inFlight)
}
