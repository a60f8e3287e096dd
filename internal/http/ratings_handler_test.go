package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Clark-Hu/movie-review-aggregator/internal/config"
	"github.com/Clark-Hu/movie-review-aggregator/internal/domain"
	"github.com/Clark-Hu/movie-review-aggregator/internal/omdb"
	"github.com/Clark-Hu/movie-review-aggregator/internal/pgtest"
	"github.com/Clark-Hu/movie-review-aggregator/internal/repository"
	"github.com/Clark-Hu/movie-review-aggregator/internal/resolver"
)

// fakeOMDb serves canned provider data keyed by lower-cased title.
type fakeOMDb struct {
	mu     sync.Mutex
	movies map[string]*omdb.Result
	err    error
	calls  int
}

func (f *fakeOMDb) Fetch(ctx context.Context, title string) (*omdb.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if movie, ok := f.movies[strings.ToLower(strings.TrimSpace(title))]; ok {
		return movie, nil
	}
	return nil, omdb.ErrNotFound
}

type testServer struct {
	srv      *Server
	db       *pgtest.DB
	repo     *repository.Repository
	provider *fakeOMDb
}

func buildTestServer(tb testing.TB) *testServer {
	tb.Helper()

	db := pgtest.New(tb, "movies_test_handlers")
	repo := repository.NewWithPool(db.Pool)
	provider := &fakeOMDb{movies: map[string]*omdb.Result{
		"arrival": {
			Title: "Arrival",
			Ratings: []domain.RawRating{
				{Source: "Internet Movie Database", Value: "7.9/10"},
				{Source: "Rotten Tomatoes", Value: "94%"},
				{Source: "Metacritic", Value: "81/100"},
			},
		},
	}}
	res := resolver.New(repo.MovieRatings, provider, resolver.Options{Logger: quietLogger()})
	cfg := config.Config{Port: "0", AuthToken: "secret"}

	return &testServer{
		srv:      New(cfg, stubHealth{}, repo, res, quietLogger()),
		db:       db,
		repo:     repo,
		provider: provider,
	}
}

func (ts *testServer) do(tb testing.TB, method, path string, body interface{}) *httptest.ResponseRecorder {
	tb.Helper()
	var reader *bytes.Reader
	switch v := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(v))
	default:
		payload, err := json.Marshal(v)
		require.NoError(tb, err)
		reader = bytes.NewReader(payload)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Authorization", "Bearer secret")
	rec := httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeReview(t *testing.T, rec *httptest.ResponseRecorder) reviewResponse {
	t.Helper()
	var resp reviewResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestRatingsHandlers(t *testing.T) {
	ts := buildTestServer(t)

	t.Run("create review", func(t *testing.T) {
		ts.db.Truncate(t)

		rec := ts.do(t, http.MethodPost, "/ratings", map[string]interface{}{
			"movie": " Heat ", "review": "Tense.", "rating": 88,
		})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		created := decodeReview(t, rec)
		assert.Equal(t, "Heat", created.Movie)
		assert.Equal(t, "Tense.", created.Review)
		require.NotNil(t, created.Rating)
		assert.InDelta(t, 88, *created.Rating, 1e-9)
		assert.Nil(t, created.AggregatedScore)
		assert.Equal(t, "/reviews/"+created.ID, rec.Header().Get("Location"))

		dup := ts.do(t, http.MethodPost, "/ratings", map[string]interface{}{
			"movie": "HEAT", "review": "", "rating": 10,
		})
		assert.Equal(t, http.StatusConflict, dup.Code)
	})

	t.Run("create review validation", func(t *testing.T) {
		ts.db.Truncate(t)

		cases := []struct {
			name string
			body interface{}
		}{
			{"missing fields", map[string]interface{}{"movie": "Heat"}},
			{"blank movie", map[string]interface{}{"movie": "  ", "review": "x", "rating": 50}},
			{"rating above range", map[string]interface{}{"movie": "Heat", "review": "x", "rating": 101}},
			{"rating below range", map[string]interface{}{"movie": "Heat", "review": "x", "rating": -1}},
			{"rating not a number", `{"movie":"Heat","review":"x","rating":"ten"}`},
			{"malformed json", "not json"},
			{"unknown field", `{"movie":"Heat","review":"x","rating":5,"genre":"crime"}`},
		}
		for _, c := range cases {
			t.Run(c.name, func(t *testing.T) {
				rec := ts.do(t, http.MethodPost, "/ratings", c.body)
				assert.Contains(t, []int{http.StatusBadRequest, http.StatusUnprocessableEntity}, rec.Code, rec.Body.String())
			})
		}

		all, err := ts.repo.MovieRatings.All(context.Background())
		require.NoError(t, err)
		assert.Empty(t, all)
	})

	t.Run("create requires bearer token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/ratings", strings.NewReader(`{"movie":"Heat","review":"","rating":1}`))
		rec := httptest.NewRecorder()
		ts.srv.Handler().ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("list resolves movie then filters", func(t *testing.T) {
		ts.db.Truncate(t)

		rec := ts.do(t, http.MethodGet, "/ratings?movie=arrival", nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var page reviewListResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
		assert.Equal(t, 1, page.Page)
		assert.Equal(t, 5, page.PerPage)
		assert.EqualValues(t, 1, page.Total)
		assert.Equal(t, 1, page.TotalPages)
		require.Len(t, page.Reviews, 1)
		assert.Equal(t, "Arrival", page.Reviews[0].Movie)
		require.NotNil(t, page.Reviews[0].AggregatedScore)
		assert.InDelta(t, 84.67, *page.Reviews[0].AggregatedScore, 1e-9)

		again := ts.do(t, http.MethodGet, "/ratings?movie=ARRIVAL", nil)
		require.Equal(t, http.StatusOK, again.Code)
		all, err := ts.repo.MovieRatings.All(context.Background())
		require.NoError(t, err)
		assert.Len(t, all, 1, "resolving the same title twice must not duplicate")
	})

	t.Run("list suggestions and not found", func(t *testing.T) {
		ts.db.Truncate(t)
		_, err := ts.repo.MovieRatings.Create(context.Background(), repository.CreateParams{Title: "Spider-Man: Homecoming"})
		require.NoError(t, err)

		rec := ts.do(t, http.MethodGet, "/ratings?movie=Spider", nil)
		require.Equal(t, http.StatusNotFound, rec.Code)
		body := decodeError(t, rec)
		assert.Equal(t, map[string]interface{}{"suggestions": []interface{}{"Spider-Man: Homecoming"}}, body.Details)

		rec = ts.do(t, http.MethodGet, "/ratings?movie=Batman", nil)
		require.Equal(t, http.StatusNotFound, rec.Code)
		assert.Nil(t, decodeError(t, rec).Details)
	})

	t.Run("list sorts and paginates", func(t *testing.T) {
		ts.db.Truncate(t)
		for i, v := range []float64{40, 90, 70} {
			_, err := ts.repo.MovieRatings.Create(context.Background(), repository.CreateParams{
				Title:   fmt.Sprintf("Movie %d", i),
				Ratings: []domain.Rating{{Source: domain.SourceMetacritic, Value: &v}},
			})
			require.NoError(t, err)
		}

		rec := ts.do(t, http.MethodGet, "/ratings?sort_by=aggregated_score&order=desc&per_page=2&min_rating=50", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var page reviewListResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
		assert.EqualValues(t, 2, page.Total)
		require.Len(t, page.Reviews, 2)
		assert.Equal(t, "Movie 1", page.Reviews[0].Movie)
		assert.Equal(t, "Movie 2", page.Reviews[1].Movie)

		rec = ts.do(t, http.MethodGet, "/ratings?page=0", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		rec = ts.do(t, http.MethodGet, "/ratings/all", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var all []reviewResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &all))
		assert.Len(t, all, 3)
	})

	t.Run("resolve movie by path", func(t *testing.T) {
		ts.db.Truncate(t)

		rec := ts.do(t, http.MethodGet, "/movies/Arrival", nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		resp := decodeReview(t, rec)
		assert.Equal(t, "Arrival", resp.Movie)
		assert.Len(t, resp.Ratings, 3)
	})

	t.Run("review lifecycle", func(t *testing.T) {
		ts.db.Truncate(t)

		created, err := ts.repo.MovieRatings.Create(context.Background(), repository.CreateParams{Title: "Arrival"})
		require.NoError(t, err)
		path := "/reviews/" + created.ID

		rec := ts.do(t, http.MethodGet, path, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		rec = ts.do(t, http.MethodPut, path, map[string]interface{}{"review": "Quietly huge.", "rating": 95})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		updated := decodeReview(t, rec)
		assert.Equal(t, "Quietly huge.", updated.Review)
		require.NotNil(t, updated.Rating)
		assert.InDelta(t, 95, *updated.Rating, 1e-9)

		rec = ts.do(t, http.MethodPut, path, map[string]interface{}{"rating": 150})
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

		rec = ts.do(t, http.MethodPost, path+"/refresh", nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		refreshed := decodeReview(t, rec)
		require.NotNil(t, refreshed.AggregatedScore)
		assert.InDelta(t, 84.67, *refreshed.AggregatedScore, 1e-9)
		assert.Equal(t, "Quietly huge.", refreshed.Review)

		rec = ts.do(t, http.MethodDelete, path, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		for _, method := range []string{http.MethodGet, http.MethodPut, http.MethodDelete} {
			var body interface{}
			if method == http.MethodPut {
				body = map[string]interface{}{"review": "gone"}
			}
			rec = ts.do(t, method, path, body)
			assert.Equal(t, http.StatusNotFound, rec.Code, method)
		}
	})

	t.Run("unknown ids", func(t *testing.T) {
		for _, path := range []string{"/reviews/42", "/reviews/00000000-0000-0000-0000-000000000000"} {
			rec := ts.do(t, http.MethodGet, path, nil)
			assert.Equal(t, http.StatusNotFound, rec.Code, path)
		}
	})
}
