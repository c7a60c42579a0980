package chain

import "github.com/prometheus/client_golang/prometheus"

var callsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "chain_calls_total",
		Help: "Contract calls and transactions by method and outcome",
	},
	[]string{"method", "outcome"},
)

func init() {
	prometheus.MustRegister(callsTotal)
}

func observe(method string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	callsTotal.WithLabelValues(method, outcome).Inc()
}
