// Package resolver turns a user-supplied movie title into a stored rating
// record, fetching from the rating provider only when no local record exists.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/Clark-Hu/movie-review-aggregator/internal/domain"
	"github.com/Clark-Hu/movie-review-aggregator/internal/metrics"
	"github.com/Clark-Hu/movie-review-aggregator/internal/omdb"
	"github.com/Clark-Hu/movie-review-aggregator/internal/rating"
	"github.com/Clark-Hu/movie-review-aggregator/internal/repository"
)

const defaultProviderTimeout = 5 * time.Second

// Outcome classifies a resolution.
type Outcome string

const (
	OutcomeFound         Outcome = "found"
	OutcomeSuggestions   Outcome = "suggestions"
	OutcomeNotFound      Outcome = "not_found"
	OutcomeProviderError Outcome = "provider_error"
)

// Result is the outcome of Resolve. Record is set for OutcomeFound,
// Suggestions for OutcomeSuggestions and Err for OutcomeProviderError.
// Created is true only for the caller whose resolution inserted the record.
type Result struct {
	Outcome     Outcome
	Record      *domain.MovieRating
	Created     bool
	Suggestions []string
	Message     string
	Err         error
}

// Store is the subset of the record store the resolver needs.
type Store interface {
	GetByID(ctx context.Context, id string) (domain.MovieRating, error)
	FindByTitle(ctx context.Context, title string) (domain.MovieRating, error)
	SearchByTitle(ctx context.Context, fragment string, limit int) ([]domain.MovieRating, error)
	CreateIfAbsent(ctx context.Context, params repository.CreateParams) (domain.MovieRating, bool, error)
	UpdateRatings(ctx context.Context, id string, ratings []domain.Rating) (domain.MovieRating, error)
}

// Locker serializes work on a key across processes.
type Locker interface {
	Lock(ctx context.Context, key string) (release func(), err error)
}

// Options tunes a Resolver. Zero values select defaults.
type Options struct {
	ProviderTimeout time.Duration
	// Timeout bounds a whole resolution, which may outlive a cancelled caller
	// while other callers wait on the same title. Defaults to 3x ProviderTimeout.
	Timeout time.Duration
	// SuggestionLimit caps fallback suggestions; zero returns every match.
	SuggestionLimit int
	Locker          Locker
	Logger          logrus.FieldLogger
}

// Resolver implements lookup-or-fetch-and-persist for movie titles.
type Resolver struct {
	store           Store
	provider        omdb.Client
	locker          Locker
	providerTimeout time.Duration
	timeout         time.Duration
	suggestionLimit int
	logger          logrus.FieldLogger
	flights         singleflight.Group
}

// New constructs a Resolver.
func New(store Store, provider omdb.Client, opts Options) *Resolver {
	if opts.ProviderTimeout <= 0 {
		opts.ProviderTimeout = defaultProviderTimeout
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 3 * opts.ProviderTimeout
	}
	if opts.SuggestionLimit < 0 {
		opts.SuggestionLimit = 0
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	return &Resolver{
		store:           store,
		provider:        provider,
		locker:          opts.Locker,
		providerTimeout: opts.ProviderTimeout,
		timeout:         opts.Timeout,
		suggestionLimit: opts.SuggestionLimit,
		logger:          opts.Logger.WithField("component", "resolver"),
	}
}

// Resolve returns the stored record for title, creating it from provider data
// on first sight. Concurrent calls for the same normalized title share one
// execution.
func (r *Resolver) Resolve(ctx context.Context, title string) Result {
	title = strings.TrimSpace(title)
	if title == "" {
		return r.count(Result{Outcome: OutcomeNotFound, Message: "title is empty"})
	}

	// Only the caller that starts the flight runs its closure.
	var leader atomic.Bool
	ch := r.flights.DoChan(normalizeTitle(title), func() (interface{}, error) {
		leader.Store(true)
		flightCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
		defer cancel()
		return r.resolve(flightCtx, title), nil
	})

	select {
	case res := <-ch:
		return r.count(ownCopy(res.Val.(Result), leader.Load()))
	case <-ctx.Done():
		return r.count(failure("resolve cancelled", ctx.Err()))
	}
}

func (r *Resolver) resolve(ctx context.Context, title string) (result Result) {
	logger := r.logger.WithField("title", title)
	defer func() {
		if p := recover(); p != nil {
			logger.WithField("panic", p).Error("resolve panicked")
			result = failure("unexpected failure", fmt.Errorf("%v", p))
		}
	}()

	if existing, err := r.store.FindByTitle(ctx, title); err == nil {
		logger.Debug("exact match in store")
		return found(existing, false)
	} else if !errors.Is(err, repository.ErrNotFound) {
		return failure("look up title", err)
	}

	if r.locker != nil {
		release, err := r.locker.Lock(ctx, normalizeTitle(title))
		if err != nil {
			logger.WithError(err).Warn("resolve lock unavailable, relying on title constraint")
		} else {
			defer release()
			if existing, err := r.store.FindByTitle(ctx, title); err == nil {
				return found(existing, false)
			} else if !errors.Is(err, repository.ErrNotFound) {
				return failure("look up title", err)
			}
		}
	}

	fetchCtx, cancel := context.WithTimeout(ctx, r.providerTimeout)
	defer cancel()
	movie, err := r.provider.Fetch(fetchCtx, title)
	if err != nil {
		if errors.Is(err, omdb.ErrNotFound) {
			logger.Debug("provider has no match, searching store")
			return r.suggest(ctx, title)
		}
		logger.WithError(err).Warn("provider fetch failed")
		return failure("fetch ratings", err)
	}

	canonical := strings.TrimSpace(movie.Title)
	if canonical == "" {
		canonical = title
	}
	ratings := r.normalize(movie.Ratings)

	// The provider's canonical title can differ from the user's input.
	if existing, err := r.store.FindByTitle(ctx, canonical); err == nil {
		metrics.DuplicateInsertsAvoided.WithLabelValues("recheck").Inc()
		logger.WithField("canonical", canonical).Debug("canonical title already stored")
		return found(existing, false)
	} else if !errors.Is(err, repository.ErrNotFound) {
		return failure("look up canonical title", err)
	}

	created, inserted, err := r.store.CreateIfAbsent(ctx, repository.CreateParams{
		Title:   canonical,
		Ratings: ratings,
	})
	if err != nil {
		return failure("store ratings", err)
	}
	if !inserted {
		metrics.DuplicateInsertsAvoided.WithLabelValues("conflict").Inc()
		existing, err := r.store.FindByTitle(ctx, canonical)
		if err != nil {
			return failure("read conflicting record", err)
		}
		return found(existing, false)
	}

	metrics.RecordsCreatedTotal.Inc()
	logger.WithFields(logrus.Fields{"id": created.ID, "canonical": created.Title}).Info("stored provider ratings")
	return found(created, true)
}

func (r *Resolver) suggest(ctx context.Context, title string) Result {
	matches, err := r.store.SearchByTitle(ctx, title, r.suggestionLimit)
	if err != nil {
		return failure("search titles", err)
	}
	if len(matches) == 0 {
		return Result{
			Outcome: OutcomeNotFound,
			Message: "Movie not found in database or OMDb, and no similar matches found.",
		}
	}
	titles := make([]string, 0, len(matches))
	for _, m := range matches {
		titles = append(titles, m.Title)
	}
	return Result{
		Outcome:     OutcomeSuggestions,
		Suggestions: titles,
		Message:     "Exact match not found. Here are the closest matches:",
	}
}

// Refresh re-fetches the provider ratings for a stored record and recomputes
// its aggregated score.
func (r *Resolver) Refresh(ctx context.Context, id string) (domain.MovieRating, error) {
	existing, err := r.store.GetByID(ctx, id)
	if err != nil {
		return domain.MovieRating{}, err
	}

	fetchCtx, cancel := context.WithTimeout(ctx, r.providerTimeout)
	defer cancel()
	movie, err := r.provider.Fetch(fetchCtx, existing.Title)
	if err != nil {
		return domain.MovieRating{}, fmt.Errorf("refresh %q: %w", existing.Title, err)
	}

	updated, err := r.store.UpdateRatings(ctx, id, r.normalize(movie.Ratings))
	if err != nil {
		return domain.MovieRating{}, fmt.Errorf("refresh %q: %w", existing.Title, err)
	}
	r.logger.WithFields(logrus.Fields{"id": id, "title": updated.Title}).Info("refreshed provider ratings")
	return updated, nil
}

func (r *Resolver) normalize(raw []domain.RawRating) []domain.Rating {
	ratings := rating.NormalizeAll(raw)
	for _, rt := range ratings {
		if rt.Value == nil {
			metrics.UnparseableRatingsTotal.WithLabelValues(string(rt.Source)).Inc()
		}
	}
	return ratings
}

func (r *Resolver) count(result Result) Result {
	metrics.ResolutionsTotal.WithLabelValues(string(result.Outcome)).Inc()
	return result
}

// ownCopy detaches a shared flight result so callers cannot alias each other's
// record, and clears Created for callers that only waited.
func ownCopy(shared Result, leader bool) Result {
	out := shared
	out.Created = shared.Created && leader
	if shared.Record != nil {
		record := *shared.Record
		record.Ratings = cloneRatings(shared.Record.Ratings)
		record.UserRating = cloneFloat(shared.Record.UserRating)
		record.AggregatedScore = cloneFloat(shared.Record.AggregatedScore)
		out.Record = &record
	}
	if shared.Suggestions != nil {
		out.Suggestions = append([]string(nil), shared.Suggestions...)
	}
	return out
}

func cloneRatings(in []domain.Rating) []domain.Rating {
	if in == nil {
		return nil
	}
	out := make([]domain.Rating, len(in))
	for i, rt := range in {
		out[i] = domain.Rating{Source: rt.Source, Value: cloneFloat(rt.Value)}
	}
	return out
}

func cloneFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func found(record domain.MovieRating, created bool) Result {
	return Result{Outcome: OutcomeFound, Record: &record, Created: created}
}

func failure(stage string, err error) Result {
	return Result{
		Outcome: OutcomeProviderError,
		Message: fmt.Sprintf("%s: %v", stage, err),
		Err:     err,
	}
}

// normalizeTitle is the key under which titles are considered the same movie.
func normalizeTitle(title string) string {
	return strings.ToLower(strings.TrimSpace(title))
}
