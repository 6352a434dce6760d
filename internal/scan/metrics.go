package scan

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var scansTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "classtrack",
	Name:      "scans_total",
	Help:      "Scan attempts by outcome.",
}, []string{"outcome"})

func countScan(res Result) {
	outcome := string(res.Kind)
	if res.Accepted {
		outcome = string(res.Record.Status)
	}
	scansTotal.WithLabelValues(outcome).Inc()
}
