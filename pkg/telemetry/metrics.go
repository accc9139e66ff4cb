package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every counter/gauge tierd exposes. The teacher's own
// Prometheus usage (pkg/monitoring/prometheus) is a query client against
// an external server; here the same library's other half — registry and
// collectors — is used to produce the metrics an external Prometheus
// would scrape.
type Metrics struct {
	registry *prometheus.Registry

	FaultsTotal       prometheus.Counter
	MigrationsTotal   prometheus.Counter
	PolicyCyclesTotal prometheus.Counter
	SamplerThrottle   prometheus.Counter
	TierUsedBytes     *prometheus.GaugeVec
	TierCapacityBytes *prometheus.GaugeVec
}

// NewMetrics builds and registers every collector against a fresh
// registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		FaultsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tierd_faults_total",
			Help: "Total page faults resolved by the fault-handler thread.",
		}),
		MigrationsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tierd_migrations_total",
			Help: "Total page migrations executed by the policy loop.",
		}),
		PolicyCyclesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tierd_policy_cycles_total",
			Help: "Total policy control loop cycles run.",
		}),
		SamplerThrottle: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tierd_sampler_throttle_total",
			Help: "Total throttle/unthrottle events observed by the hardware sampler.",
		}),
		TierUsedBytes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tierd_tier_used_bytes",
			Help: "Currently accounted bytes per tier.",
		}, []string{"tier"}),
		TierCapacityBytes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tierd_tier_capacity_bytes",
			Help: "Configured capacity per tier.",
		}, []string{"tier"}),
	}

	reg.MustRegister(
		m.FaultsTotal,
		m.MigrationsTotal,
		m.PolicyCyclesTotal,
		m.SamplerThrottle,
		m.TierUsedBytes,
		m.TierCapacityBytes,
	)
	return m
}

// Handler returns the HTTP handler an hosting binary can mount to expose
// these metrics for scraping.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
