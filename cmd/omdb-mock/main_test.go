package main

import (
	"context"
	"io"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Clark-Hu/movie-review-aggregator/internal/omdb"
)

func quietLogger() logrus.FieldLogger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestLoadFixtures(t *testing.T) {
	movies, err := loadFixtures("fixtures.yaml")
	require.NoError(t, err)
	require.Contains(t, movies, "spider-man: homecoming")
	assert.Len(t, movies["arrival"].Ratings, 3)

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("movies: [unclosed"), 0o644))
	_, err = loadFixtures(bad)
	assert.Error(t, err)
}

func TestMockServesOMDbClient(t *testing.T) {
	movies, err := loadFixtures("fixtures.yaml")
	require.NoError(t, err)
	srv := httptest.NewServer(newHandler(movies, "test-key", 0, quietLogger()))
	t.Cleanup(srv.Close)

	client, err := omdb.NewHTTPClient(srv.URL, "test-key", 2*time.Second, quietLogger())
	require.NoError(t, err)

	result, err := client.Fetch(context.Background(), "ARRIVAL")
	require.NoError(t, err)
	assert.Equal(t, "Arrival", result.Title)
	assert.Equal(t, "tt2543164", result.IMDbID)
	require.Len(t, result.Ratings, 3)
	assert.Equal(t, "94%", result.Ratings[1].Value)

	_, err = client.Fetch(context.Background(), "Batman")
	assert.ErrorIs(t, err, omdb.ErrNotFound)

	wrongKey, err := omdb.NewHTTPClient(srv.URL, "other", 2*time.Second, quietLogger())
	require.NoError(t, err)
	_, err = wrongKey.Fetch(context.Background(), "Arrival")
	assert.ErrorIs(t, err, omdb.ErrUpstream)
	assert.NotErrorIs(t, err, omdb.ErrNotFound)
}
