package repository

import (
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Clark-Hu/movie-review-aggregator/internal/store"
)

var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("repository: not found")
	// ErrConflict indicates a record with the same normalized title already exists.
	ErrConflict = errors.New("repository: title already exists")
	// ErrInvalid indicates the row was rejected by a table constraint.
	ErrInvalid = errors.New("repository: invalid record")
)

// Postgres SQLSTATE codes.
const (
	codeUniqueViolation = "23505"
	codeCheckViolation  = "23514"
)

// Repository aggregates all domain-specific repositories.
type Repository struct {
	MovieRatings *MovieRatingsRepository
}

// New constructs a Repository backed by the provided store.
func New(st *store.Store) *Repository {
	return NewWithPool(st.Pool())
}

// NewWithPool allows constructing repositories directly from a pgx pool.
func NewWithPool(pool *pgxpool.Pool) *Repository {
	return &Repository{
		MovieRatings: &MovieRatingsRepository{pool: pool},
	}
}

func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeUniqueViolation:
			return ErrConflict
		case codeCheckViolation:
			return errors.Join(ErrInvalid, err)
		}
	}
	return err
}
