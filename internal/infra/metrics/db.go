package metrics

import (
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

func init() { register(dbPoolStats) }

var dbPoolStats = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "db_pool_connections",
		Help: "Current state of the database connection pool.",
	},
	[]string{"state"}, // total | idle | in_use
)

// ObservePool copies pgxpool statistics into the gauge.
func ObservePool(pool *pgxpool.Pool) {
	if pool == nil {
		return
	}
	st := pool.Stat()
	dbPoolStats.WithLabelValues("total").Set(float64(st.TotalConns()))
	dbPoolStats.WithLabelValues("idle").Set(float64(st.IdleConns()))
	dbPoolStats.WithLabelValues("in_use").Set(float64(st.AcquiredConns()))
}
