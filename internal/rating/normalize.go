// Package rating converts provider rating strings to a common 0-100 scale and
// combines them into a single score.
package rating

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/Clark-Hu/movie-review-aggregator/internal/domain"
)

var (
	// ErrUnknownSource is returned for sources outside domain.KnownSources.
	ErrUnknownSource = errors.New("rating: unknown source")
	// ErrMalformedValue is returned when a raw value cannot be parsed.
	ErrMalformedValue = errors.New("rating: malformed value")
)

// Normalize converts a raw provider value into a number in [0,100].
//
//	Internet Movie Database  "7.5/10" -> 75
//	Rotten Tomatoes          "88%"    -> 88
//	Metacritic               "70/100" -> 70
func Normalize(source domain.Source, raw string) (float64, error) {
	raw = strings.TrimSpace(raw)

	var (
		value float64
		err   error
	)
	switch source {
	case domain.SourceIMDb:
		value, err = parseNumerator(raw)
		value *= 10
	case domain.SourceRottenTomatoes:
		value, err = parseNumber(strings.TrimSuffix(raw, "%"))
	case domain.SourceMetacritic:
		value, err = parseNumerator(raw)
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownSource, source)
	}
	if err != nil {
		return 0, fmt.Errorf("%w: %s %q", ErrMalformedValue, source, raw)
	}
	if value < 0 || value > 100 {
		return 0, fmt.Errorf("%w: %s %q out of range", ErrMalformedValue, source, raw)
	}
	return value, nil
}

// NormalizeAll drops unknown sources and normalizes the rest. Values that fail to
// parse are kept with a nil Value so the source is still listed.
func NormalizeAll(raw []domain.RawRating) []domain.Rating {
	ratings := make([]domain.Rating, 0, len(raw))
	for _, r := range raw {
		source := domain.Source(r.Source)
		if !source.IsKnown() {
			continue
		}
		rating := domain.Rating{Source: source}
		if value, err := Normalize(source, r.Value); err == nil {
			rating.Value = &value
		}
		ratings = append(ratings, rating)
	}
	return ratings
}

func parseNumerator(raw string) (float64, error) {
	numerator, _, _ := strings.Cut(raw, "/")
	return parseNumber(numerator)
}

func parseNumber(raw string) (float64, error) {
	value, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, fmt.Errorf("not a finite number")
	}
	return value, nil
}
