package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/Clark-Hu/movie-review-aggregator/internal/domain"
	"github.com/Clark-Hu/movie-review-aggregator/internal/omdb"
	"github.com/Clark-Hu/movie-review-aggregator/internal/repository"
	"github.com/Clark-Hu/movie-review-aggregator/internal/resolver"
)

const maxRequestBody = 1 << 20 // 1 MiB

type errorResponse struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

type messageResponse struct {
	Message string `json:"message"`
}

type createRatingRequest struct {
	Movie  string   `json:"movie" validate:"required,max=500"`
	Review *string  `json:"review" validate:"required"`
	Rating *float64 `json:"rating" validate:"required,gte=0,lte=100"`
}

type updateReviewRequest struct {
	Movie  *string  `json:"movie" validate:"omitempty,min=1,max=500"`
	Review *string  `json:"review"`
	Rating *float64 `json:"rating" validate:"omitempty,gte=0,lte=100"`
}

type reviewResponse struct {
	ID              string          `json:"id"`
	Movie           string          `json:"movie"`
	Review          string          `json:"review"`
	Rating          *float64        `json:"rating"`
	Ratings         []domain.Rating `json:"ratings"`
	AggregatedScore *float64        `json:"aggregated_score"`
	LastUpdated     time.Time       `json:"last_updated"`
}

type reviewListResponse struct {
	Page       int              `json:"page"`
	PerPage    int              `json:"per_page"`
	Total      int64            `json:"total"`
	TotalPages int              `json:"total_pages"`
	Reviews    []reviewResponse `json:"reviews"`
}

type suggestionDetails struct {
	Suggestions []string `json:"suggestions"`
}

func (s *Server) handleCreateRating(w http.ResponseWriter, r *http.Request) {
	var req createRatingRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		s.respondDecodeError(w, err)
		return
	}
	req.Movie = strings.TrimSpace(req.Movie)
	if err := s.validate.Struct(req); err != nil {
		s.respondValidationError(w, err)
		return
	}

	movie, err := s.repo.MovieRatings.Create(r.Context(), repository.CreateParams{
		Title:      req.Movie,
		Review:     *req.Review,
		UserRating: req.Rating,
	})
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrConflict):
			s.respondError(w, http.StatusConflict, "CONFLICT", fmt.Sprintf("A review for %q already exists", req.Movie))
		case errors.Is(err, repository.ErrInvalid):
			s.respondError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error())
		default:
			s.logger.WithError(err).Error("create review failed")
			s.respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to create review")
		}
		return
	}

	w.Header().Set("Location", "/reviews/"+movie.ID)
	s.respondJSON(w, http.StatusCreated, toReviewResponse(movie))
}

func (s *Server) handleListRatings(w http.ResponseWriter, r *http.Request) {
	filters, err := buildListFilters(r.URL.Query())
	if err != nil {
		var sortErr *invalidSortError
		if errors.As(err, &sortErr) {
			s.respondErrorDetails(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), repository.SortColumns)
			return
		}
		s.respondError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}

	if filters.Title != nil {
		result := s.resolver.Resolve(r.Context(), *filters.Title)
		if result.Outcome != resolver.OutcomeFound {
			s.respondResolution(w, result)
			return
		}
	}

	page, err := s.repo.MovieRatings.List(r.Context(), filters)
	if err != nil {
		s.logger.WithError(err).Error("list reviews failed")
		s.respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list reviews")
		return
	}

	s.respondJSON(w, http.StatusOK, reviewListResponse{
		Page:       page.Page,
		PerPage:    page.PerPage,
		Total:      page.Total,
		TotalPages: page.TotalPages,
		Reviews:    toReviewResponses(page.Items),
	})
}

type invalidSortError struct {
	value string
}

func (e *invalidSortError) Error() string {
	return fmt.Sprintf("Invalid sort value %q. Choose from %s.", e.value, strings.Join(repository.SortColumns, ", "))
}

func buildListFilters(query url.Values) (repository.ListFilters, error) {
	filters := repository.ListFilters{Page: 1, PerPage: 5, SortBy: "id"}

	if val := strings.TrimSpace(query.Get("movie")); val != "" {
		filters.Title = &val
	}
	if val := strings.TrimSpace(query.Get("min_rating")); val != "" {
		minRating, err := strconv.ParseFloat(val, 64)
		if err != nil || math.IsNaN(minRating) || math.IsInf(minRating, 0) || minRating <= 0 {
			return filters, fmt.Errorf("min_rating must be a positive number")
		}
		filters.MinScore = &minRating
	}
	if val := strings.TrimSpace(query.Get("sort_by")); val != "" {
		if !repository.IsSortColumn(val) {
			return filters, &invalidSortError{value: val}
		}
		filters.SortBy = val
	}
	switch strings.ToLower(strings.TrimSpace(query.Get("order"))) {
	case "", "asc":
	case "desc":
		filters.Desc = true
	default:
		return filters, fmt.Errorf("order must be asc or desc")
	}
	if val := strings.TrimSpace(query.Get("page")); val != "" {
		page, err := strconv.Atoi(val)
		if err != nil || page <= 0 {
			return filters, fmt.Errorf("page must be a positive integer")
		}
		filters.Page = page
	}
	if val := strings.TrimSpace(query.Get("per_page")); val != "" {
		perPage, err := strconv.Atoi(val)
		if err != nil || perPage <= 0 {
			return filters, fmt.Errorf("per_page must be a positive integer")
		}
		filters.PerPage = perPage
	}
	return filters, nil
}

func (s *Server) handleAllRatings(w http.ResponseWriter, r *http.Request) {
	items, err := s.repo.MovieRatings.All(r.Context())
	if err != nil {
		s.logger.WithError(err).Error("list all reviews failed")
		s.respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list reviews")
		return
	}
	s.respondJSON(w, http.StatusOK, toReviewResponses(items))
}

func (s *Server) handleResolveMovie(w http.ResponseWriter, r *http.Request) {
	title, err := decodeTitleParam(r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}

	result := s.resolver.Resolve(r.Context(), title)
	if result.Outcome != resolver.OutcomeFound {
		s.respondResolution(w, result)
		return
	}
	s.respondJSON(w, http.StatusOK, toReviewResponse(*result.Record))
}

// respondResolution renders every outcome other than OutcomeFound.
func (s *Server) respondResolution(w http.ResponseWriter, result resolver.Result) {
	switch result.Outcome {
	case resolver.OutcomeSuggestions:
		s.respondErrorDetails(w, http.StatusNotFound, "NOT_FOUND", result.Message, suggestionDetails{Suggestions: result.Suggestions})
	case resolver.OutcomeNotFound:
		s.respondError(w, http.StatusNotFound, "NOT_FOUND", result.Message)
	default:
		s.logger.WithError(result.Err).Warn("title resolution failed")
		s.respondError(w, http.StatusBadGateway, "PROVIDER_ERROR", result.Message)
	}
}

func (s *Server) handleGetReview(w http.ResponseWriter, r *http.Request) {
	movie, err := s.repo.MovieRatings.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondRepositoryError(w, err, "Failed to fetch review")
		return
	}
	s.respondJSON(w, http.StatusOK, toReviewResponse(movie))
}

func (s *Server) handleUpdateReview(w http.ResponseWriter, r *http.Request) {
	var req updateReviewRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		s.respondDecodeError(w, err)
		return
	}
	if req.Movie != nil {
		trimmed := strings.TrimSpace(*req.Movie)
		req.Movie = &trimmed
	}
	if err := s.validate.Struct(req); err != nil {
		s.respondValidationError(w, err)
		return
	}

	movie, err := s.repo.MovieRatings.Update(r.Context(), chi.URLParam(r, "id"), repository.UpdateParams{
		Title:      req.Movie,
		Review:     req.Review,
		UserRating: req.Rating,
	})
	if err != nil {
		s.respondRepositoryError(w, err, "Failed to update review")
		return
	}
	s.respondJSON(w, http.StatusOK, toReviewResponse(movie))
}

func (s *Server) handleDeleteReview(w http.ResponseWriter, r *http.Request) {
	if err := s.repo.MovieRatings.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.respondRepositoryError(w, err, "Failed to delete review")
		return
	}
	s.respondJSON(w, http.StatusOK, messageResponse{Message: "Review deleted"})
}

func (s *Server) handleRefreshReview(w http.ResponseWriter, r *http.Request) {
	movie, err := s.resolver.Refresh(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			s.respondError(w, http.StatusNotFound, "NOT_FOUND", "Review not found")
		case errors.Is(err, omdb.ErrNotFound):
			s.respondError(w, http.StatusNotFound, "NOT_FOUND", "Movie no longer found in OMDb")
		default:
			s.logger.WithError(err).Warn("refresh review failed")
			s.respondError(w, http.StatusBadGateway, "PROVIDER_ERROR", err.Error())
		}
		return
	}
	s.respondJSON(w, http.StatusOK, toReviewResponse(movie))
}

func (s *Server) respondRepositoryError(w http.ResponseWriter, err error, message string) {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		s.respondError(w, http.StatusNotFound, "NOT_FOUND", "Review not found")
	case errors.Is(err, repository.ErrConflict):
		s.respondError(w, http.StatusConflict, "CONFLICT", "A review for that movie already exists")
	case errors.Is(err, repository.ErrInvalid):
		s.respondError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error())
	default:
		s.logger.WithError(err).Error(strings.ToLower(message))
		s.respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", message)
	}
}

func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	return nil
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			s.logger.WithError(err).Warn("failed to encode response")
		}
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, code, message string) {
	s.respondErrorDetails(w, status, code, message, nil)
}

func (s *Server) respondErrorDetails(w http.ResponseWriter, status int, code, message string, details interface{}) {
	s.respondJSON(w, status, errorResponse{
		Code:    code,
		Message: message,
		Details: details,
	})
}

func (s *Server) respondDecodeError(w http.ResponseWriter, err error) {
	var syntaxError *json.SyntaxError
	var typeError *json.UnmarshalTypeError
	var maxBytesError *http.MaxBytesError
	switch {
	case errors.As(err, &syntaxError):
		s.respondError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Malformed JSON payload")
	case errors.As(err, &typeError):
		s.respondError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", fmt.Sprintf("Invalid value for field %s", typeError.Field))
	case errors.As(err, &maxBytesError):
		s.respondError(w, http.StatusRequestEntityTooLarge, "VALIDATION_ERROR", "Request body too large")
	case errors.Is(err, io.EOF):
		s.respondError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Request body cannot be empty")
	default:
		s.respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Unable to parse request body")
	}
}

func (s *Server) respondValidationError(w http.ResponseWriter, err error) {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		s.respondError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error())
		return
	}
	details := make(map[string]string, len(fieldErrs))
	for _, fe := range fieldErrs {
		details[jsonFieldName(fe.Field())] = describeFieldError(fe)
	}
	s.respondErrorDetails(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Invalid input", details)
}

func describeFieldError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "gte":
		return "must be at least " + fe.Param()
	case "lte":
		return "must be at most " + fe.Param()
	case "min":
		return "cannot be empty"
	case "max":
		return "must be at most " + fe.Param() + " characters"
	default:
		return "is invalid"
	}
}

func jsonFieldName(field string) string {
	return strings.ToLower(field)
}

func toReviewResponse(movie domain.MovieRating) reviewResponse {
	ratings := movie.Ratings
	if ratings == nil {
		ratings = []domain.Rating{}
	}
	return reviewResponse{
		ID:              movie.ID,
		Movie:           movie.Title,
		Review:          movie.Review,
		Rating:          movie.UserRating,
		Ratings:         ratings,
		AggregatedScore: movie.AggregatedScore,
		LastUpdated:     movie.LastUpdated,
	}
}

func toReviewResponses(items []domain.MovieRating) []reviewResponse {
	out := make([]reviewResponse, 0, len(items))
	for _, item := range items {
		out = append(out, toReviewResponse(item))
	}
	return out
}

func decodeTitleParam(r *http.Request) (string, error) {
	raw := chi.URLParam(r, "title")
	if raw == "" {
		return "", fmt.Errorf("missing title parameter")
	}
	title, err := url.PathUnescape(raw)
	if err != nil {
		return "", fmt.Errorf("invalid title parameter")
	}
	if strings.TrimSpace(title) == "" {
		return "", fmt.Errorf("missing title parameter")
	}
	return title, nil
}
