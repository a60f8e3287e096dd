package rating

import (
	"math"

	"github.com/Clark-Hu/movie-review-aggregator/internal/domain"
)

// Aggregate returns the mean of all present values rounded to two decimals, or
// nil when no rating carries a value.
func Aggregate(ratings []domain.Rating) *float64 {
	var (
		sum   float64
		count int
	)
	for _, r := range ratings {
		if r.Value == nil {
			continue
		}
		sum += *r.Value
		count++
	}
	if count == 0 {
		return nil
	}
	score := Round2(sum / float64(count))
	return &score
}

// Round2 rounds half away from zero to two decimal places.
func Round2(value float64) float64 {
	return math.Round(value*100) / 100
}
