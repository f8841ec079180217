package throttle

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	admissions *prometheus.CounterVec
}

func newMetrics(registerer prometheus.Registerer) (*metrics, error) {
	m := &metrics{
		admissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dispatch",
			Subsystem: "throttle",
			Name:      "admissions_total",
			Help:      "Admission decisions by outcome.",
		}, []string{"outcome"}),
	}

	if registerer != nil {
		if err := registerer.Register(m.admissions); err != nil {
			return nil, fmt.Errorf("register throttle metrics: %w", err)
		}
	}

	return m, nil
}

func (m *metrics) observe(decision Decision) {
	outcome := "allowed"
	if !decision.Allowed {
		outcome = string(decision.Reason)
	}
	m.admissions.WithLabelValues(outcome).Inc()
}
