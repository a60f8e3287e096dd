package httpserver

import (
	"net/url"
	"testing"
)

func FuzzBuildListFilters(f *testing.F) {
	seeds := []string{
		"movie=Inception&sort_by=rating&order=desc",
		"min_rating=abc",
		"page=0&per_page=-1",
		"sort_by=budget",
		"",
	}
	for _, seed := range seeds {
		f.Add(seed)
	}

	f.Fuzz(func(t *testing.T, raw string) {
		values, err := url.ParseQuery(raw)
		if err != nil {
			return
		}
		filters, err := buildListFilters(values)
		if err != nil {
			return
		}
		if filters.Page <= 0 || filters.PerPage <= 0 {
			t.Fatalf("accepted non-positive pagination: %+v", filters)
		}
		if filters.MinScore != nil && *filters.MinScore <= 0 {
			t.Fatalf("accepted non-positive min_rating: %v", *filters.MinScore)
		}
	})
}
