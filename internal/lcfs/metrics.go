package lcfs

import "github.com/prometheus/client_golang/prometheus"

// Metrics exposes a registry's clone/write/inode counters as Prometheus
// instruments so a mounted registry can be scraped by a standard exporter.
type Metrics struct {
	Clones      prometheus.CounterFunc
	InodeWrites prometheus.CounterFunc
	InodesTotal prometheus.GaugeFunc
}

// NewMetrics builds a Metrics bundle bound to g's live counters and
// registers them with reg.
func NewMetrics(g *Registry, reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		Clones: prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "lcfs",
			Name:      "clones_total",
			Help:      "Total number of inode clone operations across all layers.",
		}, func() float64 { return float64(g.Clones()) }),
		InodeWrites: prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "lcfs",
			Name:      "inode_writes_total",
			Help:      "Total number of inode blocks written across all layers.",
		}, func() float64 { return float64(g.Writes()) }),
		InodesTotal: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "lcfs",
			Name:      "inodes_total",
			Help:      "Best-effort live inode count across all layers.",
		}, func() float64 { return float64(g.InodesTotal()) }),
	}
	reg.MustRegister(m.Clones, m.InodeWrites, m.InodesTotal)
	return m
}
