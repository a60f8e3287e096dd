package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

type fixtureFile struct {
	Movies []movieFixture `yaml:"movies"`
}

type movieFixture struct {
	Title   string          `yaml:"title" json:"Title"`
	Year    string          `yaml:"year" json:"Year,omitempty"`
	IMDbID  string          `yaml:"imdbID" json:"imdbID,omitempty"`
	Ratings []ratingFixture `yaml:"ratings" json:"Ratings"`
}

type ratingFixture struct {
	Source string `yaml:"source" json:"Source"`
	Value  string `yaml:"value" json:"Value"`
}

type movieResponse struct {
	movieFixture
	Response string `json:"Response"`
}

type errorResponse struct {
	Response string `json:"Response"`
	Error    string `json:"Error"`
}

func main() {
	var (
		port    = flag.String("port", "9099", "port to listen on")
		data    = flag.String("data", "cmd/omdb-mock/fixtures.yaml", "path to YAML fixture file")
		apiKey  = flag.String("api-key", "", "reject requests whose apikey differs (empty accepts any)")
		delay   = flag.Duration("delay", 0, "artificial latency added to every response")
		verbose = flag.Bool("log", false, "enable request logging")
	)
	flag.Parse()

	logger := logrus.New()
	if *verbose {
		logger.SetLevel(logrus.DebugLevel)
	}

	movies, err := loadFixtures(*data)
	if err != nil {
		logger.WithError(err).Fatal("load fixtures")
	}

	addr := ":" + *port
	logger.WithFields(logrus.Fields{"addr": addr, "movies": len(movies)}).Info("mock omdb listening")
	if err := http.ListenAndServe(addr, newHandler(movies, *apiKey, *delay, logger)); err != nil {
		logger.WithError(err).Fatal("server error")
	}
}

// loadFixtures reads the fixture file into a map keyed by lower-cased title.
func loadFixtures(path string) (map[string]movieFixture, error) {
	file, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixtures: %w", err)
	}
	var payload fixtureFile
	if err := yaml.Unmarshal(file, &payload); err != nil {
		return nil, fmt.Errorf("parse fixtures: %w", err)
	}
	movies := make(map[string]movieFixture, len(payload.Movies))
	for _, m := range payload.Movies {
		movies[strings.ToLower(strings.TrimSpace(m.Title))] = m
	}
	return movies, nil
}

func newHandler(movies map[string]movieFixture, apiKey string, delay time.Duration, logger logrus.FieldLogger) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if delay > 0 {
			time.Sleep(delay)
		}
		query := r.URL.Query()
		title := query.Get("t")
		logger.WithField("title", title).Debug("mock omdb request")

		w.Header().Set("Content-Type", "application/json")
		if apiKey != "" && query.Get("apikey") != apiKey {
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(errorResponse{Response: "False", Error: "Invalid API key!"})
			return
		}
		if strings.TrimSpace(title) == "" {
			_ = json.NewEncoder(w).Encode(errorResponse{Response: "False", Error: "Incorrect IMDb ID."})
			return
		}
		movie, ok := movies[strings.ToLower(strings.TrimSpace(title))]
		if !ok {
			_ = json.NewEncoder(w).Encode(errorResponse{Response: "False", Error: "Movie not found!"})
			return
		}
		if err := json.NewEncoder(w).Encode(movieResponse{movieFixture: movie, Response: "True"}); err != nil {
			logger.WithError(err).Warn("encode response")
		}
	})
	return mux
}
