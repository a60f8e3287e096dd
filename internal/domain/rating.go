package domain

// Source identifies an upstream rating provider as reported by OMDb.
type Source string

// Known rating sources. Ratings from any other source are dropped before storage.
const (
	SourceIMDb           Source = "Internet Movie Database"
	SourceRottenTomatoes Source = "Rotten Tomatoes"
	SourceMetacritic     Source = "Metacritic"
)

// KnownSources lists the sources that are normalized and stored, in display order.
var KnownSources = []Source{SourceIMDb, SourceRottenTomatoes, SourceMetacritic}

// IsKnown reports whether s is one of the supported sources.
func (s Source) IsKnown() bool {
	for _, known := range KnownSources {
		if s == known {
			return true
		}
	}
	return false
}

// RawRating is a provider rating before normalization, e.g. {"Rotten Tomatoes", "88%"}.
type RawRating struct {
	Source string
	Value  string
}

// Rating is a normalized rating on the 0-100 scale. A nil Value means the
// provider value could not be parsed and must be treated as absent.
type Rating struct {
	Source Source   `json:"source"`
	Value  *float64 `json:"value"`
}
