package lease

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	grants   prometheus.Counter
	commits  prometheus.Counter
	denials  *prometheus.CounterVec
	releases *prometheus.CounterVec
	active   prometheus.GaugeFunc
}

func newMetrics(registerer prometheus.Registerer, activeLeases func() float64) (*metrics, error) {
	m := &metrics{
		grants: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dispatch",
			Subsystem: "lease",
			Name:      "grants_total",
			Help:      "Leases granted.",
		}),
		commits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dispatch",
			Subsystem: "lease",
			Name:      "commits_total",
			Help:      "Assignments committed to the order store.",
		}),
		denials: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dispatch",
			Subsystem: "lease",
			Name:      "denials_total",
			Help:      "Rejected acquire and confirm calls by reason.",
		}, []string{"reason"}),
		releases: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dispatch",
			Subsystem: "lease",
			Name:      "releases_total",
			Help:      "Leases that ended, by cause.",
		}, []string{"cause"}),
		active: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "dispatch",
			Subsystem: "lease",
			Name:      "active",
			Help:      "Leases currently valid.",
		}, activeLeases),
	}

	if registerer != nil {
		for _, collector := range []prometheus.Collector{m.grants, m.commits, m.denials, m.releases, m.active} {
			if err := registerer.Register(collector); err != nil {
				return nil, fmt.Errorf("register lease metrics: %w", err)
			}
		}
	}

	return m, nil
}
