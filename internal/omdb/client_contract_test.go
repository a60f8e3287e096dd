package omdb

import (
	"context"
	"os"
	"testing"
	"time"
)

// TestHTTPClientSmoke checks a live (or mock) OMDb endpoint when OMDB_URL is set.
func TestHTTPClientSmoke(t *testing.T) {
	baseURL := os.Getenv("OMDB_URL")
	if baseURL == "" {
		t.Skip("OMDB_URL not provided")
	}
	client, err := NewHTTPClient(baseURL, os.Getenv("OMDB_API_KEY"), 3*time.Second, discardLogger())
	if err != nil {
		t.Fatalf("create http client: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	result, err := client.Fetch(ctx, "Inception")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if result.Title == "" || len(result.Ratings) == 0 {
		t.Fatalf("unexpected payload: %+v", result)
	}
}
