package metrics

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

// PipelineStats exposes live pipeline state to the collector.
type PipelineStats interface {
	InFlight() map[string]int64
}

// Collector reports gauges that are read at scrape time rather than
// maintained by the request path.
type Collector struct {
	pool  *pgxpool.Pool
	stats PipelineStats

	inFlight   *prometheus.Desc
	dbConns    *prometheus.Desc
	dbMaxConns *prometheus.Desc
}

// NewCollector creates the scrape-time collector. Either argument may be
// nil; its series are then omitted.
func NewCollector(pool *pgxpool.Pool, stats PipelineStats) *Collector {
	return &Collector{
		pool:  pool,
		stats: stats,
		inFlight: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "pipeline", "in_flight"),
			"Pipeline runs currently in progress.",
			[]string{"pipeline"}, nil,
		),
		dbConns: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "db_pool", "conns"),
			"Database pool connections by state.",
			[]string{"state"}, nil,
		),
		dbMaxConns: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "db_pool", "max_conns"),
			"Configured database pool size.",
			nil, nil,
		),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.inFlight
	ch <- c.dbConns
	ch <- c.dbMaxConns
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	if c.stats != nil {
		for name, n := range c.stats.InFlight() {
			ch <- prometheus.MustNewConstMetric(c.inFlight, prometheus.GaugeValue, float64(n), name)
		}
	}
	if c.pool == nil {
		return
	}
	stat := c.pool.Stat()
	for state, n := range map[string]int32{
		"total":    stat.TotalConns(),
		"acquired": stat.AcquiredConns(),
		"idle":     stat.IdleConns(),
	} {
		ch <- prometheus.MustNewConstMetric(c.dbConns, prometheus.GaugeValue, float64(n), state)
	}
	ch <- prometheus.MustNewConstMetric(c.dbMaxConns, prometheus.GaugeValue, float64(stat.MaxConns()))
}
