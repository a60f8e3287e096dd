package store_test

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Clark-Hu/movie-review-aggregator/internal/pgtest"
	"github.com/Clark-Hu/movie-review-aggregator/internal/store"
)

func TestStorePoolAndMetrics(t *testing.T) {
	db := pgtest.New(t, "store_test")
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	st, err := store.New(context.Background(), db.URL, store.Options{
		MaxConns:    4,
		ConnTimeout: 5 * time.Second,
		Logger:      logger,
	})
	require.NoError(t, err)
	t.Cleanup(st.Close)

	require.NoError(t, st.HealthCheck(context.Background()))

	assert.Equal(t, 7, testutil.CollectAndCount(st.Collector()))

	reg := prometheus.NewRegistry()
	require.NoError(t, st.RegisterMetrics(reg))
	require.NoError(t, st.RegisterMetrics(reg), "registering twice is a no-op")

	families, err := reg.Gather()
	require.NoError(t, err)
	var maxConns float64
	for _, mf := range families {
		if mf.GetName() == "movieratings_db_pool_max_conns" {
			maxConns = mf.GetMetric()[0].GetGauge().GetValue()
		}
	}
	assert.Equal(t, 4.0, maxConns)
}

func TestStoreNilSafety(t *testing.T) {
	var st *store.Store
	assert.Error(t, st.HealthCheck(context.Background()))
	st.Close()
}
