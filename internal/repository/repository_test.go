package repository

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Clark-Hu/movie-review-aggregator/internal/domain"
	"github.com/Clark-Hu/movie-review-aggregator/internal/pgtest"
)

type testEnv struct {
	ctx        context.Context
	db         *pgtest.DB
	repository *Repository
}

func newTestEnv(tb testing.TB) *testEnv {
	tb.Helper()
	db := pgtest.New(tb, "movie_ratings_test")
	return &testEnv{
		ctx:        context.Background(),
		db:         db,
		repository: NewWithPool(db.Pool),
	}
}

func score(v float64) *float64 { return &v }

func mustCreate(tb testing.TB, env *testEnv, title string, ratings ...domain.Rating) domain.MovieRating {
	tb.Helper()
	movie, err := env.repository.MovieRatings.Create(env.ctx, CreateParams{Title: title, Ratings: ratings})
	if err != nil {
		tb.Fatalf("create %q: %v", title, err)
	}
	return movie
}

func TestMovieRatingsRepository(t *testing.T) {
	env := newTestEnv(t)
	repo := env.repository.MovieRatings

	t.Run("create derives aggregated score", func(t *testing.T) {
		env.db.Truncate(t)

		movie := mustCreate(t, env, "  Arrival ",
			domain.Rating{Source: domain.SourceIMDb, Value: score(79)},
			domain.Rating{Source: domain.SourceRottenTomatoes, Value: score(94)},
			domain.Rating{Source: domain.SourceMetacritic, Value: nil},
		)

		assert.NotEmpty(t, movie.ID)
		assert.Equal(t, "Arrival", movie.Title)
		assert.Equal(t, "", movie.Review)
		require.NotNil(t, movie.AggregatedScore)
		assert.InDelta(t, 86.5, *movie.AggregatedScore, 1e-9)
		require.Len(t, movie.Ratings, 3)
		assert.Nil(t, movie.Ratings[2].Value)
		assert.False(t, movie.LastUpdated.IsZero())
	})

	t.Run("create without ratings stores null score", func(t *testing.T) {
		env.db.Truncate(t)

		movie := mustCreate(t, env, "Unrated")
		assert.Nil(t, movie.AggregatedScore)
		assert.Empty(t, movie.Ratings)
	})

	t.Run("titles are unique ignoring case", func(t *testing.T) {
		env.db.Truncate(t)

		mustCreate(t, env, "Inception")
		_, err := repo.Create(env.ctx, CreateParams{Title: "inception "})
		assert.ErrorIs(t, err, ErrConflict)

		_, inserted, err := repo.CreateIfAbsent(env.ctx, CreateParams{Title: "INCEPTION"})
		require.NoError(t, err)
		assert.False(t, inserted)

		fresh, inserted, err := repo.CreateIfAbsent(env.ctx, CreateParams{Title: "Interstellar"})
		require.NoError(t, err)
		assert.True(t, inserted)
		assert.Equal(t, "Interstellar", fresh.Title)
	})

	t.Run("find by title", func(t *testing.T) {
		env.db.Truncate(t)

		created := mustCreate(t, env, "inception")
		found, err := repo.FindByTitle(env.ctx, " Inception")
		require.NoError(t, err)
		assert.Equal(t, created.ID, found.ID)

		_, err = repo.FindByTitle(env.ctx, "Incep")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("search by title", func(t *testing.T) {
		env.db.Truncate(t)

		mustCreate(t, env, "Spider-Man: Homecoming")
		mustCreate(t, env, "Spider-Man: Far From Home")
		mustCreate(t, env, "Arrival")
		mustCreate(t, env, "100% Wolf")

		matches, err := repo.SearchByTitle(env.ctx, "spider", 10)
		require.NoError(t, err)
		require.Len(t, matches, 2)
		assert.Equal(t, "Spider-Man: Far From Home", matches[0].Title)
		assert.Equal(t, "Spider-Man: Homecoming", matches[1].Title)

		literal, err := repo.SearchByTitle(env.ctx, "0%", 10)
		require.NoError(t, err)
		require.Len(t, literal, 1)
		assert.Equal(t, "100% Wolf", literal[0].Title)

		none, err := repo.SearchByTitle(env.ctx, "Batman", 10)
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("search by title without limit returns every match", func(t *testing.T) {
		env.db.Truncate(t)

		for i := 0; i < 25; i++ {
			mustCreate(t, env, fmt.Sprintf("Star Saga %02d", i))
		}
		mustCreate(t, env, "Arrival")

		all, err := repo.SearchByTitle(env.ctx, "star", 0)
		require.NoError(t, err)
		assert.Len(t, all, 25)

		capped, err := repo.SearchByTitle(env.ctx, "star", 3)
		require.NoError(t, err)
		assert.Len(t, capped, 3)
	})

	t.Run("get update delete", func(t *testing.T) {
		env.db.Truncate(t)

		movie := mustCreate(t, env, "Heat")

		_, err := repo.GetByID(env.ctx, "non-existent")
		assert.ErrorIs(t, err, ErrNotFound)

		review := "Tense and long."
		updated, err := repo.Update(env.ctx, movie.ID, UpdateParams{Review: &review, UserRating: score(88)})
		require.NoError(t, err)
		assert.Equal(t, review, updated.Review)
		require.NotNil(t, updated.UserRating)
		assert.InDelta(t, 88, *updated.UserRating, 1e-9)
		assert.False(t, updated.LastUpdated.Before(movie.LastUpdated))

		got, err := repo.GetByID(env.ctx, movie.ID)
		require.NoError(t, err)
		assert.Equal(t, "Heat", got.Title)

		mustCreate(t, env, "Ronin")
		clash := "RONIN"
		_, err = repo.Update(env.ctx, movie.ID, UpdateParams{Title: &clash})
		assert.ErrorIs(t, err, ErrConflict)

		outOfRange := 150.0
		_, err = repo.Update(env.ctx, movie.ID, UpdateParams{UserRating: &outOfRange})
		assert.ErrorIs(t, err, ErrInvalid)

		require.NoError(t, repo.Delete(env.ctx, movie.ID))
		assert.ErrorIs(t, repo.Delete(env.ctx, movie.ID), ErrNotFound)
		_, err = repo.GetByID(env.ctx, movie.ID)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("update ratings recomputes score", func(t *testing.T) {
		env.db.Truncate(t)

		movie := mustCreate(t, env, "Dune", domain.Rating{Source: domain.SourceIMDb, Value: score(80)})
		updated, err := repo.UpdateRatings(env.ctx, movie.ID, []domain.Rating{
			{Source: domain.SourceIMDb, Value: score(80)},
			{Source: domain.SourceMetacritic, Value: score(74)},
		})
		require.NoError(t, err)
		require.NotNil(t, updated.AggregatedScore)
		assert.InDelta(t, 77, *updated.AggregatedScore, 1e-9)

		cleared, err := repo.UpdateRatings(env.ctx, movie.ID, nil)
		require.NoError(t, err)
		assert.Nil(t, cleared.AggregatedScore)
	})

	t.Run("list filters sorts and paginates", func(t *testing.T) {
		env.db.Truncate(t)

		mustCreate(t, env, "Alpha", domain.Rating{Source: domain.SourceIMDb, Value: score(50)})
		mustCreate(t, env, "Bravo", domain.Rating{Source: domain.SourceIMDb, Value: score(90)})
		mustCreate(t, env, "Charlie", domain.Rating{Source: domain.SourceIMDb, Value: score(70)})
		mustCreate(t, env, "Bravo Two")

		page, err := repo.List(env.ctx, ListFilters{SortBy: "aggregated_score", Desc: true, PerPage: 2})
		require.NoError(t, err)
		assert.EqualValues(t, 4, page.Total)
		assert.Equal(t, 2, page.TotalPages)
		require.Len(t, page.Items, 2)
		assert.Equal(t, "Bravo", page.Items[0].Title)
		assert.Equal(t, "Charlie", page.Items[1].Title)

		second, err := repo.List(env.ctx, ListFilters{SortBy: "aggregated_score", Desc: true, PerPage: 2, Page: 2})
		require.NoError(t, err)
		require.Len(t, second.Items, 2)
		assert.Equal(t, "Alpha", second.Items[0].Title)
		assert.Equal(t, "Bravo Two", second.Items[1].Title, "null scores sort last")

		filtered, err := repo.List(env.ctx, ListFilters{Title: strPtr("bravo"), MinScore: score(60), SortBy: "movie"})
		require.NoError(t, err)
		assert.EqualValues(t, 1, filtered.Total)
		require.Len(t, filtered.Items, 1)
		assert.Equal(t, "Bravo", filtered.Items[0].Title)

		_, err = repo.List(env.ctx, ListFilters{SortBy: "budget"})
		assert.ErrorIs(t, err, ErrInvalid)

		all, err := repo.All(env.ctx)
		require.NoError(t, err)
		assert.Len(t, all, 4)
	})
}

func TestMovieRatingsRepository_ConcurrentCreateIfAbsent(t *testing.T) {
	env := newTestEnv(t)

	const workers = 10
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		inserted int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			title := "Arrival"
			if i%2 == 0 {
				title = "arrival"
			}
			_, ok, err := env.repository.MovieRatings.CreateIfAbsent(env.ctx, CreateParams{Title: title})
			if err != nil {
				t.Errorf("create if absent: %v", err)
				return
			}
			if ok {
				mu.Lock()
				inserted++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, inserted)
	all, err := env.repository.MovieRatings.All(env.ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestContainsPattern(t *testing.T) {
	assert.Equal(t, "%spider%", containsPattern(" spider "))
	assert.Equal(t, `%100\%%`, containsPattern("100%"))
	assert.Equal(t, `%a\_b%`, containsPattern("a_b"))
}

func strPtr(s string) *string { return &s }

func BenchmarkMovieRatingsRepositoryCreate(b *testing.B) {
	env := newTestEnv(b)

	for i := 0; i < b.N; i++ {
		mustCreate(b, env, fmt.Sprintf("Bench Movie %d", i),
			domain.Rating{Source: domain.SourceIMDb, Value: score(float64(i % 100))})
	}
}
