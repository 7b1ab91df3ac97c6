// Package metrics registers the Prometheus collectors of the tournament service.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tourney"

type Metrics struct {
	reg *prometheus.Registry

	Votes           *prometheus.CounterVec // result
	Acks            *prometheus.CounterVec // kind, result
	Resolutions     *prometheus.CounterVec // kind: plain | tie
	GateReleases    prometheus.Counter
	Sessions        *prometheus.CounterVec // event: started | finished | cancelled
	TxConflicts     prometheus.Counter
	BroadcastEvents *prometheus.CounterVec // type
	BroadcastDrops  prometheus.Counter
}

// New builds a fresh registry; tests get isolated counters by calling it again.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		reg: reg,
		Votes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "votes_total", Help: "Votes received, by result.",
		}, []string{"result"}),
		Acks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "acks_total", Help: "Continue acknowledgments, by kind and result.",
		}, []string{"kind", "result"}),
		Resolutions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "duel_resolutions_total", Help: "Resolved duels, by kind.",
		}, []string{"kind"}),
		GateReleases: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "gate_releases_total", Help: "Duel transitions released by the continue quorum.",
		}),
		Sessions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "sessions_total", Help: "Session lifecycle events.",
		}, []string{"event"}),
		TxConflicts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "tx_conflicts_total", Help: "Session updates retried after a version conflict.",
		}),
		BroadcastEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "broadcast_events_total", Help: "Events published to observers, by type.",
		}, []string{"type"}),
		BroadcastDrops: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "broadcast_dropped_clients_total", Help: "Observers dropped for not keeping up.",
		}),
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

func (m *Metrics) Registry() *prometheus.Registry { return m.reg }
