package domain

import "time"

// MovieRating is the persisted aggregate for a single logical movie.
type MovieRating struct {
	ID              string    `json:"id"`
	Title           string    `json:"title"`
	Review          string    `json:"review"`
	UserRating      *float64  `json:"user_rating"`
	Ratings         []Rating  `json:"ratings"`
	AggregatedScore *float64  `json:"aggregated_score"`
	LastUpdated     time.Time `json:"last_updated"`
}
