package omdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Clark-Hu/movie-review-aggregator/internal/domain"
	"github.com/Clark-Hu/movie-review-aggregator/internal/metrics"
)

const maxResponseBody = 1 << 20 // 1 MiB

var (
	// ErrNotFound is returned when upstream reports that it has no such title.
	ErrNotFound = errors.New("omdb: not found")
	// ErrUpstream is returned when upstream answers with an unexpected status.
	ErrUpstream = errors.New("omdb: upstream error")
)

// Result contains the canonical title and raw ratings for a movie.
type Result struct {
	Title   string
	Year    string
	IMDbID  string
	Ratings []domain.RawRating
}

// Client defines the contract for querying the upstream ratings API.
type Client interface {
	Fetch(ctx context.Context, title string) (*Result, error)
}

// HTTPClient implements Client over HTTP.
type HTTPClient struct {
	baseURL *url.URL
	apiKey  string
	client  *http.Client
	logger  logrus.FieldLogger
}

// NewHTTPClient constructs a new HTTP-backed OMDb client.
func NewHTTPClient(baseURL, apiKey string, timeout time.Duration, logger logrus.FieldLogger) (*HTTPClient, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if apiKey == "" {
		return nil, fmt.Errorf("omdb api key is required")
	}
	parsed, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return nil, fmt.Errorf("parse omdb url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("omdb url %q must be absolute", baseURL)
	}
	return &HTTPClient{
		baseURL: parsed,
		apiKey:  apiKey,
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				DialContext: (&net.Dialer{
					Timeout:   timeout,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				TLSHandshakeTimeout:   timeout,
				ResponseHeaderTimeout: timeout,
				ExpectContinueTimeout: 1 * time.Second,
			},
		},
		logger: logger.WithField("component", "omdb"),
	}, nil
}

// Fetch retrieves ratings by title. Only a 200 with Response "False" yields
// ErrNotFound; any non-2xx status is ErrUpstream.
func (c *HTTPClient) Fetch(ctx context.Context, title string) (result *Result, err error) {
	start := time.Now()
	defer func() {
		metrics.ProviderRequestDuration.Observe(time.Since(start).Seconds())
		metrics.ProviderRequestsTotal.WithLabelValues(resultLabel(err)).Inc()
	}()

	endpoint := *c.baseURL
	q := endpoint.Query()
	q.Set("t", title)
	q.Set("apikey", c.apiKey)
	endpoint.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			urlErr.URL = redactKey(endpoint)
		}
		return nil, fmt.Errorf("omdb: request failed: %w", err)
	}
	defer resp.Body.Close()

	body := io.LimitReader(resp.Body, maxResponseBody)

	switch resp.StatusCode {
	case http.StatusOK:
		var payload apiResponse
		if err := json.NewDecoder(body).Decode(&payload); err != nil {
			return nil, fmt.Errorf("decode omdb response: %w", err)
		}
		if !strings.EqualFold(payload.Response, "True") {
			c.logger.WithField("title", title).Debugf("omdb has no match: %s", payload.Error)
			return nil, fmt.Errorf("%w: %s", ErrNotFound, payload.Error)
		}
		return convertToResult(payload, title), nil
	default:
		var payload apiResponse
		_ = json.NewDecoder(body).Decode(&payload)
		c.logger.WithFields(logrus.Fields{
			"status": resp.StatusCode,
			"title":  title,
			"error":  payload.Error,
		}).Warn("unexpected omdb status")
		return nil, fmt.Errorf("%w: status %d %s", ErrUpstream, resp.StatusCode, payload.Error)
	}
}

type apiResponse struct {
	Title    string          `json:"Title"`
	Year     string          `json:"Year"`
	IMDbID   string          `json:"imdbID"`
	Ratings  []ratingPayload `json:"Ratings"`
	Response string          `json:"Response"`
	Error    string          `json:"Error"`
}

type ratingPayload struct {
	Source string `json:"Source"`
	Value  string `json:"Value"`
}

func convertToResult(payload apiResponse, requested string) *Result {
	title := strings.TrimSpace(payload.Title)
	if title == "" {
		title = strings.TrimSpace(requested)
	}

	ratings := make([]domain.RawRating, 0, len(payload.Ratings))
	for _, r := range payload.Ratings {
		ratings = append(ratings, domain.RawRating{Source: r.Source, Value: r.Value})
	}

	return &Result{
		Title:   title,
		Year:    payload.Year,
		IMDbID:  payload.IMDbID,
		Ratings: ratings,
	}
}

// redactKey hides the api key so request errors can be logged and returned.
func redactKey(endpoint url.URL) string {
	q := endpoint.Query()
	if q.Has("apikey") {
		q.Set("apikey", "REDACTED")
	}
	endpoint.RawQuery = q.Encode()
	return endpoint.String()
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "found"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}
