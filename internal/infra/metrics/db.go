package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(dbPoolConns, dbPoolEmptyAcquires)
}

var (
	dbPoolConns = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "billing_db_pool_connections",
			Help: "Postgres pool connections by state.",
		},
		[]string{"state"}, // 'total', 'idle', 'acquired', 'max'
	)

	dbPoolEmptyAcquires = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "billing_db_pool_empty_acquires",
		Help: "Cumulative acquires that had to wait for a free connection.",
	})
)

// PoolStat is the subset of *pgxpool.Stat the gauges read.
type PoolStat interface {
	TotalConns() int32
	IdleConns() int32
	AcquiredConns() int32
	MaxConns() int32
	EmptyAcquireCount() int64
}

func ObservePool(st PoolStat) {
	dbPoolConns.WithLabelValues("total").Set(float64(st.TotalConns()))
	dbPoolConns.WithLabelValues("idle").Set(float64(st.IdleConns()))
	dbPoolConns.WithLabelValues("acquired").Set(float64(st.AcquiredConns()))
	dbPoolConns.WithLabelValues("max").Set(float64(st.MaxConns()))
	dbPoolEmptyAcquires.Set(float64(st.EmptyAcquireCount()))
}
