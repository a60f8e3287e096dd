package store

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	poolAcquiredDesc = prometheus.NewDesc(
		"movieratings_db_pool_acquired_conns", "Connections currently checked out of the pool.", nil, nil)
	poolIdleDesc = prometheus.NewDesc(
		"movieratings_db_pool_idle_conns", "Idle connections held by the pool.", nil, nil)
	poolTotalDesc = prometheus.NewDesc(
		"movieratings_db_pool_total_conns", "Connections owned by the pool.", nil, nil)
	poolMaxDesc = prometheus.NewDesc(
		"movieratings_db_pool_max_conns", "Configured pool size.", nil, nil)
	poolAcquireCountDesc = prometheus.NewDesc(
		"movieratings_db_pool_acquires_total", "Successful connection acquisitions.", nil, nil)
	poolEmptyAcquireDesc = prometheus.NewDesc(
		"movieratings_db_pool_empty_acquires_total", "Acquisitions that waited because the pool was empty.", nil, nil)
	poolAcquireSecondsDesc = prometheus.NewDesc(
		"movieratings_db_pool_acquire_seconds_total", "Time spent acquiring connections.", nil, nil)
)

// poolCollector exports pgxpool statistics at scrape time.
type poolCollector struct {
	pool *pgxpool.Pool
}

func (c poolCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- poolAcquiredDesc
	ch <- poolIdleDesc
	ch <- poolTotalDesc
	ch <- poolMaxDesc
	ch <- poolAcquireCountDesc
	ch <- poolEmptyAcquireDesc
	ch <- poolAcquireSecondsDesc
}

func (c poolCollector) Collect(ch chan<- prometheus.Metric) {
	stat := c.pool.Stat()
	ch <- prometheus.MustNewConstMetric(poolAcquiredDesc, prometheus.GaugeValue, float64(stat.AcquiredConns()))
	ch <- prometheus.MustNewConstMetric(poolIdleDesc, prometheus.GaugeValue, float64(stat.IdleConns()))
	ch <- prometheus.MustNewConstMetric(poolTotalDesc, prometheus.GaugeValue, float64(stat.TotalConns()))
	ch <- prometheus.MustNewConstMetric(poolMaxDesc, prometheus.GaugeValue, float64(stat.MaxConns()))
	ch <- prometheus.MustNewConstMetric(poolAcquireCountDesc, prometheus.CounterValue, float64(stat.AcquireCount()))
	ch <- prometheus.MustNewConstMetric(poolEmptyAcquireDesc, prometheus.CounterValue, float64(stat.EmptyAcquireCount()))
	ch <- prometheus.MustNewConstMetric(poolAcquireSecondsDesc, prometheus.CounterValue, stat.AcquireDuration().Seconds())
}

// Collector returns a Prometheus collector reporting this store's pool statistics.
func (s *Store) Collector() prometheus.Collector {
	return poolCollector{pool: s.pool}
}

// RegisterMetrics registers the pool collector with reg. Registering the same
// store twice is a no-op.
func (s *Store) RegisterMetrics(reg prometheus.Registerer) error {
	if err := reg.Register(s.Collector()); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			return nil
		}
		return fmt.Errorf("register pool metrics: %w", err)
	}
	return nil
}
