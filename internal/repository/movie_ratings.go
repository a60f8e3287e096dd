package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Clark-Hu/movie-review-aggregator/internal/domain"
	"github.com/Clark-Hu/movie-review-aggregator/internal/rating"
)

const (
	tableMovieRatings = "movie_ratings"

	defaultPerPage = 5
	maxPerPage     = 100
)

var movieRatingColumns = []string{
	"id::text",
	"title",
	"review",
	"user_rating",
	"ratings",
	"aggregated_score",
	"last_updated",
}

// sortColumns maps the public sort keys to table columns.
var sortColumns = map[string]string{
	"id":               "id",
	"movie":            "title",
	"rating":           "user_rating",
	"aggregated_score": "aggregated_score",
	"last_updated":     "last_updated",
}

// SortColumns lists the accepted sort keys in a stable order.
var SortColumns = []string{"id", "movie", "rating", "aggregated_score", "last_updated"}

// IsSortColumn reports whether key is accepted by List.
func IsSortColumn(key string) bool {
	_, ok := sortColumns[key]
	return ok
}

// MovieRatingsRepository persists movie rating records.
type MovieRatingsRepository struct {
	pool *pgxpool.Pool
}

// CreateParams bundles the fields required to create a record. The aggregated
// score is always derived from Ratings.
type CreateParams struct {
	Title      string
	Review     string
	UserRating *float64
	Ratings    []domain.Rating
}

// UpdateParams carries a partial update; nil fields are left untouched.
type UpdateParams struct {
	Title      *string
	Review     *string
	UserRating *float64
}

// ListFilters encapsulates search, sorting and pagination options.
type ListFilters struct {
	Title    *string
	MinScore *float64
	SortBy   string
	Desc     bool
	Page     int
	PerPage  int
}

// ListResult returns one page plus the totals needed to navigate the rest.
type ListResult struct {
	Items      []domain.MovieRating
	Page       int
	PerPage    int
	Total      int64
	TotalPages int
}

// Create inserts a new record. A record whose title matches an existing one
// case-insensitively yields ErrConflict.
func (r *MovieRatingsRepository) Create(ctx context.Context, params CreateParams) (domain.MovieRating, error) {
	query, args, err := insertQuery(params, "")
	if err != nil {
		return domain.MovieRating{}, err
	}
	movie, err := scanMovieRating(r.pool.QueryRow(ctx, query, args...))
	if err != nil {
		return domain.MovieRating{}, mapError(err)
	}
	return movie, nil
}

// CreateIfAbsent inserts a record unless one with the same normalized title
// exists. The boolean reports whether a row was inserted; when false the caller
// should read the existing row with FindByTitle.
func (r *MovieRatingsRepository) CreateIfAbsent(ctx context.Context, params CreateParams) (domain.MovieRating, bool, error) {
	query, args, err := insertQuery(params, "ON CONFLICT DO NOTHING")
	if err != nil {
		return domain.MovieRating{}, false, err
	}
	movie, err := scanMovieRating(r.pool.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.MovieRating{}, false, nil
		}
		return domain.MovieRating{}, false, mapError(err)
	}
	return movie, true, nil
}

func insertQuery(params CreateParams, onConflict string) (string, []interface{}, error) {
	title := strings.TrimSpace(params.Title)
	if title == "" {
		return "", nil, fmt.Errorf("%w: title is required", ErrInvalid)
	}
	ratingsJSON, err := marshalRatings(params.Ratings)
	if err != nil {
		return "", nil, err
	}

	ib := sqlbuilder.PostgreSQL.NewInsertBuilder()
	ib.InsertInto(tableMovieRatings)
	ib.Cols("title", "review", "user_rating", "ratings", "aggregated_score")
	ib.Values(title, params.Review, params.UserRating, ratingsJSON, rating.Aggregate(params.Ratings))
	if onConflict != "" {
		ib.SQL(onConflict)
	}
	ib.SQL("RETURNING " + strings.Join(movieRatingColumns, ", "))

	query, args := ib.Build()
	return query, args, nil
}

// GetByID fetches a record by its identifier.
func (r *MovieRatingsRepository) GetByID(ctx context.Context, id string) (domain.MovieRating, error) {
	if _, err := uuid.Parse(id); err != nil {
		return domain.MovieRating{}, ErrNotFound
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(movieRatingColumns...).From(tableMovieRatings)
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()
	movie, err := scanMovieRating(r.pool.QueryRow(ctx, query, args...))
	if err != nil {
		return domain.MovieRating{}, mapError(err)
	}
	return movie, nil
}

// FindByTitle returns the record whose title equals title ignoring case and
// surrounding whitespace.
func (r *MovieRatingsRepository) FindByTitle(ctx context.Context, title string) (domain.MovieRating, error) {
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(movieRatingColumns...).From(tableMovieRatings)
	sb.Where(fmt.Sprintf("lower(btrim(title)) = lower(btrim(%s))", sb.Var(title)))
	sb.Limit(1)

	query, args := sb.Build()
	movie, err := scanMovieRating(r.pool.QueryRow(ctx, query, args...))
	if err != nil {
		return domain.MovieRating{}, mapError(err)
	}
	return movie, nil
}

// SearchByTitle returns records whose title contains fragment, ignoring case,
// ordered by title. A limit of zero or less returns every match.
func (r *MovieRatingsRepository) SearchByTitle(ctx context.Context, fragment string, limit int) ([]domain.MovieRating, error) {
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(movieRatingColumns...).From(tableMovieRatings)
	sb.Where(sb.ILike("title", containsPattern(fragment)))
	sb.OrderBy("title", "id")
	if limit > 0 {
		sb.Limit(limit)
	}

	query, args := sb.Build()
	return r.queryMany(ctx, query, args...)
}

// List returns one page of records matching filters.
func (r *MovieRatingsRepository) List(ctx context.Context, filters ListFilters) (ListResult, error) {
	if filters.Page <= 0 {
		filters.Page = 1
	}
	if filters.PerPage <= 0 {
		filters.PerPage = defaultPerPage
	} else if filters.PerPage > maxPerPage {
		filters.PerPage = maxPerPage
	}
	if filters.SortBy == "" {
		filters.SortBy = "id"
	}
	column, ok := sortColumns[filters.SortBy]
	if !ok {
		return ListResult{}, fmt.Errorf("%w: invalid sort column %q", ErrInvalid, filters.SortBy)
	}

	where := func(sb *sqlbuilder.SelectBuilder) []string {
		conds := make([]string, 0, 2)
		if filters.Title != nil && strings.TrimSpace(*filters.Title) != "" {
			conds = append(conds, sb.ILike("title", containsPattern(*filters.Title)))
		}
		if filters.MinScore != nil {
			conds = append(conds, sb.GreaterEqualThan("aggregated_score", *filters.MinScore))
		}
		return conds
	}

	countSb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	countSb.Select("COUNT(*)").From(tableMovieRatings)
	if conds := where(countSb); len(conds) > 0 {
		countSb.Where(conds...)
	}
	countQuery, countArgs := countSb.Build()

	var total int64
	if err := r.pool.QueryRow(ctx, countQuery, countArgs...).Scan(&total); err != nil {
		return ListResult{}, fmt.Errorf("count movie ratings: %w", err)
	}

	direction := "ASC"
	if filters.Desc {
		direction = "DESC"
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(movieRatingColumns...).From(tableMovieRatings)
	if conds := where(sb); len(conds) > 0 {
		sb.Where(conds...)
	}
	sb.OrderBy(fmt.Sprintf("%s %s NULLS LAST", column, direction), "id "+direction)
	sb.Limit(filters.PerPage).Offset((filters.Page - 1) * filters.PerPage)

	query, args := sb.Build()
	items, err := r.queryMany(ctx, query, args...)
	if err != nil {
		return ListResult{}, err
	}

	return ListResult{
		Items:      items,
		Page:       filters.Page,
		PerPage:    filters.PerPage,
		Total:      total,
		TotalPages: int(math.Ceil(float64(total) / float64(filters.PerPage))),
	}, nil
}

// All returns every record ordered by title.
func (r *MovieRatingsRepository) All(ctx context.Context) ([]domain.MovieRating, error) {
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(movieRatingColumns...).From(tableMovieRatings)
	sb.OrderBy("title", "id")

	query, args := sb.Build()
	return r.queryMany(ctx, query, args...)
}

// Update applies a partial update and refreshes last_updated.
func (r *MovieRatingsRepository) Update(ctx context.Context, id string, params UpdateParams) (domain.MovieRating, error) {
	if _, err := uuid.Parse(id); err != nil {
		return domain.MovieRating{}, ErrNotFound
	}

	ub := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	ub.Update(tableMovieRatings)

	sets := []string{ub.Assign("last_updated", time.Now().UTC())}
	if params.Title != nil {
		title := strings.TrimSpace(*params.Title)
		if title == "" {
			return domain.MovieRating{}, fmt.Errorf("%w: title cannot be empty", ErrInvalid)
		}
		sets = append(sets, ub.Assign("title", title))
	}
	if params.Review != nil {
		sets = append(sets, ub.Assign("review", *params.Review))
	}
	if params.UserRating != nil {
		sets = append(sets, ub.Assign("user_rating", *params.UserRating))
	}
	ub.Set(sets...)
	ub.Where(ub.Equal("id", id))
	ub.SQL("RETURNING " + strings.Join(movieRatingColumns, ", "))

	query, args := ub.Build()
	movie, err := scanMovieRating(r.pool.QueryRow(ctx, query, args...))
	if err != nil {
		return domain.MovieRating{}, mapError(err)
	}
	return movie, nil
}

// UpdateRatings replaces the provider ratings and recomputes the aggregated score.
func (r *MovieRatingsRepository) UpdateRatings(ctx context.Context, id string, ratings []domain.Rating) (domain.MovieRating, error) {
	if _, err := uuid.Parse(id); err != nil {
		return domain.MovieRating{}, ErrNotFound
	}
	ratingsJSON, err := marshalRatings(ratings)
	if err != nil {
		return domain.MovieRating{}, err
	}

	ub := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	ub.Update(tableMovieRatings)
	ub.Set(
		ub.Assign("ratings", ratingsJSON),
		ub.Assign("aggregated_score", rating.Aggregate(ratings)),
		ub.Assign("last_updated", time.Now().UTC()),
	)
	ub.Where(ub.Equal("id", id))
	ub.SQL("RETURNING " + strings.Join(movieRatingColumns, ", "))

	query, args := ub.Build()
	movie, err := scanMovieRating(r.pool.QueryRow(ctx, query, args...))
	if err != nil {
		return domain.MovieRating{}, mapError(err)
	}
	return movie, nil
}

// Delete removes a record by identifier.
func (r *MovieRatingsRepository) Delete(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return ErrNotFound
	}

	del := sqlbuilder.PostgreSQL.NewDeleteBuilder()
	del.DeleteFrom(tableMovieRatings)
	del.Where(del.Equal("id", id))

	query, args := del.Build()
	tag, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *MovieRatingsRepository) queryMany(ctx context.Context, query string, args ...interface{}) ([]domain.MovieRating, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.MovieRating, 0)
	for rows.Next() {
		movie, err := scanMovieRating(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, movie)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func scanMovieRating(row pgx.Row) (domain.MovieRating, error) {
	var (
		movie       domain.MovieRating
		ratingsJSON []byte
	)

	err := row.Scan(
		&movie.ID,
		&movie.Title,
		&movie.Review,
		&movie.UserRating,
		&ratingsJSON,
		&movie.AggregatedScore,
		&movie.LastUpdated,
	)
	if err != nil {
		return domain.MovieRating{}, err
	}

	movie.Ratings = []domain.Rating{}
	if len(ratingsJSON) > 0 {
		if err := json.Unmarshal(ratingsJSON, &movie.Ratings); err != nil {
			return domain.MovieRating{}, fmt.Errorf("decode ratings: %w", err)
		}
	}
	return movie, nil
}

func marshalRatings(ratings []domain.Rating) ([]byte, error) {
	if ratings == nil {
		ratings = []domain.Rating{}
	}
	payload, err := json.Marshal(ratings)
	if err != nil {
		return nil, fmt.Errorf("encode ratings: %w", err)
	}
	return payload, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// containsPattern builds an ILIKE pattern matching fragment literally anywhere.
func containsPattern(fragment string) string {
	return "%" + likeEscaper.Replace(strings.TrimSpace(fragment)) + "%"
}
