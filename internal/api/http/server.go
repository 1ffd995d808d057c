package apihttp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"vodstream/searchservice/internal/domain"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type SearchService interface {
	Search(ctx context.Context, request domain.SearchRequest) (domain.SearchResponse, error)
	SearchStream(ctx context.Context, request domain.SearchRequest) (<-chan domain.StreamEvent, error)
	SearchOne(ctx context.Context, request domain.OneRequest) (<-chan []domain.SearchResult, error)
	Suggest(ctx context.Context, query string, timeout time.Duration) (<-chan []domain.Suggestion, error)
	Detail(ctx context.Context, request domain.DetailRequest) (domain.SearchResult, error)
	Snapshot(ctx context.Context) (domain.ConfigSnapshot, error)
	Diagnostics(ctx context.Context) ([]domain.SourceDiagnostics, error)
}

type SourceSettingsService interface {
	PatchSource(ctx context.Context, patch domain.SourcePatch) (domain.Source, error)
}

type Server struct {
	search     SearchService
	settings   SourceSettingsService
	authSecret string
	rateRPS    float64
	rateBurst  int
	logger     *slog.Logger
}

const (
	maxQueryLength   = 500
	defaultRateRPS   = 50
	defaultRateBurst = 100
)

type ServerOption func(*Server)

func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

func WithSourceSettings(settings SourceSettingsService) ServerOption {
	return func(s *Server) {
		s.settings = settings
	}
}

// WithAuthSecret sets the HMAC key used to verify the auth cookie. Without a
// secret any cookie carrying a username is accepted.
func WithAuthSecret(secret string) ServerOption {
	return func(s *Server) {
		s.authSecret = secret
	}
}

func WithRateLimit(rps float64, burst int) ServerOption {
	return func(s *Server) {
		if rps > 0 {
			s.rateRPS = rps
		}
		if burst > 0 {
			s.rateBurst = burst
		}
	}
}

func NewServer(searchService SearchService, options ...ServerOption) *Server {
	server := &Server{
		search:    searchService,
		rateRPS:   defaultRateRPS,
		rateBurst: defaultRateBurst,
		logger:    slog.Default(),
	}
	for _, option := range options {
		if option != nil {
			option(server)
		}
	}
	if server.logger == nil {
		server.logger = slog.Default()
	}
	return server
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/search", s.handleSearch)
	mux.HandleFunc("/search/one", s.handleSearchOne)
	mux.HandleFunc("/search/suggestions", s.handleSuggestions)
	mux.HandleFunc("/search/sources", s.handleSources)
	mux.HandleFunc("/search/sources/health", s.handleSourcesHealth)
	mux.HandleFunc("/search/settings/sources", s.handleSourceSettings)
	mux.HandleFunc("/detail", s.handleDetail)
	traced := otelhttp.NewHandler(loggingMiddleware(s.logger, mux), "vod-search",
		otelhttp.WithFilter(func(r *http.Request) bool {
			p := r.URL.Path
			return p != "/metrics" && p != "/health"
		}),
	)
	return requestIDMiddleware(recoveryMiddleware(s.logger, rateLimitMiddleware(s.rateRPS, s.rateBurst, metricsMiddleware(traced))))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC(),
	})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/search" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.search == nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "search service is not configured")
		return
	}

	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		w.Header().Set("Cache-Control", "no-store")
		writeJSON(w, http.StatusOK, map[string]any{"results": []domain.SearchResult{}})
		return
	}
	if utf8.RuneCountInString(query) > maxQueryLength {
		writeError(w, http.StatusBadRequest, "invalid_request", "query too long (max 500 characters)")
		return
	}
	timeout, err := parseTimeoutSeconds(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid timeout")
		return
	}

	request := domain.SearchRequest{
		Query:   query,
		Sources: parseCSV(r.URL.Query().Get("sources")),
		Timeout: timeout,
	}

	if strings.TrimSpace(r.URL.Query().Get("stream")) == "0" {
		s.serveSearchJSON(w, r, request)
		return
	}
	s.serveSearchStream(w, r, request)
}

func (s *Server) serveSearchJSON(w http.ResponseWriter, r *http.Request, request domain.SearchRequest) {
	started := time.Now()
	response, err := s.search.Search(r.Context(), request)
	if err != nil {
		s.writeSearchError(w, request.Query, err)
		return
	}

	s.logger.Info("search completed",
		slog.String("query", truncate(request.Query, 80)),
		slog.Any("sources", request.Sources),
		slog.Int("totalItems", len(response.AggregatedResults)),
		slog.Int64("elapsedMs", time.Since(started).Milliseconds()),
		slog.Int("failedSources", len(response.FailedSources)),
	)
	if len(response.FailedSources) > 0 {
		s.logger.Warn("search sources partially failed",
			slog.String("query", truncate(request.Query, 80)),
			slog.Any("failedSources", failedKeys(response.FailedSources)),
		)
	}

	w.Header().Set("Cache-Control", cacheDirective(len(response.AggregatedResults), response.CacheTime))
	writeJSON(w, http.StatusOK, response)
}

func (s *Server) serveSearchStream(w http.ResponseWriter, r *http.Request, request domain.SearchRequest) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "internal_error", "streaming is not supported")
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	events, err := s.search.SearchStream(ctx, request)
	if err != nil {
		s.writeSearchError(w, request.Query, err)
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	encoder := json.NewEncoder(w)
	writeFailed := false
	for event := range events {
		if writeFailed {
			continue
		}
		if err := encoder.Encode(event); err != nil {
			// Client disconnected; cancel upstream work and drain.
			writeFailed = true
			cancel()
			continue
		}
		flusher.Flush()
	}
}

func (s *Server) writeSearchError(w http.ResponseWriter, query string, err error) {
	s.logger.Warn("search request failed",
		slog.String("query", truncate(query, 80)),
		slog.String("error", err.Error()),
	)
	switch {
	case errors.Is(err, domain.ErrInvalidQuery):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, domain.ErrUnknownSource):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, domain.ErrNoSources):
		writeError(w, http.StatusServiceUnavailable, "service_unavailable", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", "search failed")
	}
}

func (s *Server) handleSearchOne(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/search/one" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.search == nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "search service is not configured")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "internal_error", "streaming is not supported")
		return
	}

	query := strings.TrimSpace(r.URL.Query().Get("q"))
	resourceID := strings.TrimSpace(r.URL.Query().Get("resourceId"))
	if query == "" || resourceID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "q and resourceId are required")
		return
	}
	if utf8.RuneCountInString(query) > maxQueryLength {
		writeError(w, http.StatusBadRequest, "invalid_request", "query too long (max 500 characters)")
		return
	}
	timeout, err := parseTimeoutSeconds(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid timeout")
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	batches, err := s.search.SearchOne(ctx, domain.OneRequest{Query: query, Source: resourceID, Timeout: timeout})
	if err != nil {
		s.writeSearchError(w, query, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	writeFailed := false
	for batch := range batches {
		if writeFailed {
			continue
		}
		if err := writeSSEEvent(w, flusher, "", batch); err != nil {
			writeFailed = true
			cancel()
		}
	}
}

func (s *Server) handleSuggestions(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/search/suggestions" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.search == nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "search service is not configured")
		return
	}

	snapshot, err := s.search.Snapshot(r.Context())
	if err != nil {
		s.logger.Warn("load source config failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal_error", "source config unavailable")
		return
	}
	user, ok := authenticate(r, s.authSecret)
	if !ok || snapshot.IsBanned(user) {
		writeError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
		return
	}

	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		writeJSON(w, http.StatusOK, map[string]any{"suggestions": []domain.Suggestion{}})
		return
	}
	if utf8.RuneCountInString(query) > maxQueryLength {
		writeError(w, http.StatusBadRequest, "invalid_request", "query too long (max 500 characters)")
		return
	}
	timeout, err := parseTimeoutSeconds(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid timeout")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "internal_error", "streaming is not supported")
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	batches, err := s.search.Suggest(ctx, query, timeout)
	if err != nil {
		s.writeSearchError(w, query, err)
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson; charset=utf-8")
	w.Header().Set("Cache-Control", fmt.Sprintf("private, max-age=%d", int(snapshot.CacheTime.Seconds())))
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	encoder := json.NewEncoder(w)
	writeFailed := false
	for batch := range batches {
		if writeFailed {
			continue
		}
		if err := encoder.Encode(map[string]any{"suggestions": batch}); err != nil {
			writeFailed = true
			cancel()
			continue
		}
		flusher.Flush()
	}
}

func (s *Server) handleDetail(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/detail" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.search == nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "search service is not configured")
		return
	}

	source := strings.TrimSpace(r.URL.Query().Get("source"))
	id := strings.TrimSpace(r.URL.Query().Get("id"))
	if source == "" || id == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "source and id are required")
		return
	}
	timeout, err := parseTimeoutSeconds(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid timeout")
		return
	}

	result, err := s.search.Detail(r.Context(), domain.DetailRequest{
		Source:  source,
		ID:      id,
		Title:   strings.TrimSpace(r.URL.Query().Get("title")),
		Timeout: timeout,
	})
	if err != nil {
		s.logger.Warn("detail request failed",
			slog.String("source", source),
			slog.String("id", id),
			slog.String("error", err.Error()),
		)
		switch {
		case errors.Is(err, domain.ErrUnknownSource):
			writeError(w, http.StatusNotFound, "not_found", err.Error())
		case errors.Is(err, domain.ErrInvalidQuery):
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		case errors.Is(err, domain.ErrDetailFetch):
			writeError(w, http.StatusBadGateway, string(domain.FailureDetailFetch), err.Error())
		default:
			writeError(w, http.StatusInternalServerError, "internal_error", "detail lookup failed")
		}
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleSources(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/search/sources" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.search == nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "search service is not configured")
		return
	}
	snapshot, err := s.search.Snapshot(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "source config unavailable")
		return
	}
	items := snapshot.Sources
	if items == nil {
		items = []domain.Source{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) handleSourcesHealth(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/search/sources/health" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.search == nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "search service is not configured")
		return
	}
	items, err := s.search.Diagnostics(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "source config unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"checkedAt": time.Now().UTC(),
		"items":     items,
	})
}

func (s *Server) handleSourceSettings(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/search/settings/sources" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodPatch {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.settings == nil {
		writeError(w, http.StatusNotImplemented, "not_configured", "source settings are not configured")
		return
	}

	var body struct {
		Key      string `json:"key"`
		Disabled *bool  `json:"disabled"`
	}
	if err := decodeJSONBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(body.Key) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "key is required")
		return
	}

	source, err := s.settings.PatchSource(r.Context(), domain.SourcePatch{
		Key:      strings.TrimSpace(body.Key),
		Disabled: body.Disabled,
	})
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrUnknownSource):
			writeError(w, http.StatusNotFound, "not_found", err.Error())
		case errors.Is(err, domain.ErrReadOnlyConfig):
			writeError(w, http.StatusNotImplemented, "not_configured", err.Error())
		default:
			s.logger.Error("source settings update failed",
				slog.String("source", body.Key),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, "internal_error", "source settings update failed")
		}
		return
	}
	writeJSON(w, http.StatusOK, source)
}

func cacheDirective(results int, cacheTime time.Duration) string {
	if results == 0 || cacheTime <= 0 {
		return "no-store"
	}
	return fmt.Sprintf("private, max-age=%d", int(cacheTime.Seconds()))
}

func failedKeys(failures []domain.FailedSource) []string {
	keys := make([]string, 0, len(failures))
	for _, failure := range failures {
		keys = append(keys, failure.Key+":"+string(failure.Reason))
	}
	return keys
}

// parseTimeoutSeconds reads the optional timeout parameter. Zero means the
// service default.
func parseTimeoutSeconds(r *http.Request) (time.Duration, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("timeout"))
	if raw == "" {
		return 0, nil
	}
	seconds, err := strconv.ParseFloat(raw, 64)
	if err != nil || seconds <= 0 || math.IsInf(seconds, 0) || math.IsNaN(seconds) {
		return 0, errors.New("invalid value")
	}
	return time.Duration(seconds * float64(time.Second)), nil
}

func parseCSV(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	seen := make(map[string]struct{}, len(parts))
	for _, part := range parts {
		value := strings.TrimSpace(part)
		if value == "" {
			continue
		}
		if _, exists := seen[value]; exists {
			continue
		}
		seen[value] = struct{}{}
		out = append(out, value)
	}
	return out
}

func decodeJSONBody(r *http.Request, dest any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read request body: %w", err)
	}
	if len(bytes.TrimSpace(payload)) == 0 {
		return nil
	}

	decoder := json.NewDecoder(bytes.NewReader(payload))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("invalid json body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	})
}

func writeSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if event != "" {
		if _, err := fmt.Fprintf(w, "event: %s\n", event); err != nil {
			return err // Client disconnected
		}
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err // Client disconnected
	}
	flusher.Flush()
	return nil
}
