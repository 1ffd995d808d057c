package apihttp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"vodstream/searchservice/internal/domain"
)

type fakeSearchService struct {
	mu          sync.Mutex
	snapshot    domain.ConfigSnapshot
	response    domain.SearchResponse
	events      []domain.StreamEvent
	batches     [][]domain.SearchResult
	suggestions [][]domain.Suggestion
	detail      domain.SearchResult
	diagnostics []domain.SourceDiagnostics
	err         error

	lastRequest domain.SearchRequest
	lastOne     domain.OneRequest
	lastDetail  domain.DetailRequest
	lastTimeout time.Duration
	callCount   int
}

func (f *fakeSearchService) record(fn func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.callCount++
	fn()
}

func (f *fakeSearchService) Search(_ context.Context, request domain.SearchRequest) (domain.SearchResponse, error) {
	f.record(func() { f.lastRequest = request })
	if f.err != nil {
		return domain.SearchResponse{}, f.err
	}
	return f.response, nil
}

func (f *fakeSearchService) SearchStream(ctx context.Context, request domain.SearchRequest) (<-chan domain.StreamEvent, error) {
	f.record(func() { f.lastRequest = request })
	if f.err != nil {
		return nil, f.err
	}
	out := make(chan domain.StreamEvent)
	go func() {
		defer close(out)
		for _, event := range f.events {
			select {
			case out <- event:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (f *fakeSearchService) SearchOne(ctx context.Context, request domain.OneRequest) (<-chan []domain.SearchResult, error) {
	f.record(func() { f.lastOne = request })
	if _, ok := f.snapshot.FindEnabled(request.Source); !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownSource, request.Source)
	}
	out := make(chan []domain.SearchResult)
	go func() {
		defer close(out)
		for _, batch := range f.batches {
			select {
			case out <- batch:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (f *fakeSearchService) Suggest(ctx context.Context, _ string, timeout time.Duration) (<-chan []domain.Suggestion, error) {
	f.record(func() { f.lastTimeout = timeout })
	out := make(chan []domain.Suggestion)
	go func() {
		defer close(out)
		for _, batch := range f.suggestions {
			select {
			case out <- batch:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (f *fakeSearchService) Detail(_ context.Context, request domain.DetailRequest) (domain.SearchResult, error) {
	f.record(func() { f.lastDetail = request })
	if _, ok := f.snapshot.FindEnabled(request.Source); !ok {
		return domain.SearchResult{}, domain.ErrUnknownSource
	}
	if f.err != nil {
		return domain.SearchResult{}, f.err
	}
	return f.detail, nil
}

func (f *fakeSearchService) Snapshot(context.Context) (domain.ConfigSnapshot, error) {
	return f.snapshot, nil
}

func (f *fakeSearchService) Diagnostics(context.Context) ([]domain.SourceDiagnostics, error) {
	return f.diagnostics, nil
}

type fakeSettingsService struct {
	sources []domain.Source
	err     error
}

func (f *fakeSettingsService) PatchSource(_ context.Context, patch domain.SourcePatch) (domain.Source, error) {
	if f.err != nil {
		return domain.Source{}, f.err
	}
	for i := range f.sources {
		if f.sources[i].Key != patch.Key {
			continue
		}
		f.sources[i].Disabled = patch.Disabled != nil && *patch.Disabled
		return f.sources[i], nil
	}
	return domain.Source{}, domain.ErrUnknownSource
}

func testSnapshot() domain.ConfigSnapshot {
	return domain.ConfigSnapshot{
		Sources: []domain.Source{
			{Key: "alpha", Name: "Alpha", API: "https://alpha.example/api.php/provide/vod"},
			{Key: "beta", Name: "Beta", API: "https://beta.example/api.php/provide/vod"},
			{Key: "off", Name: "Off", API: "https://off.example/api.php/provide/vod", Disabled: true},
		},
		MaxPages:    5,
		CacheTime:   2 * time.Hour,
		BannedUsers: []string{"mallory"},
	}
}

func readLines(t *testing.T, body string) []map[string]json.RawMessage {
	t.Helper()
	var lines []map[string]json.RawMessage
	scanner := bufio.NewScanner(strings.NewReader(body))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var decoded map[string]json.RawMessage
		if err := json.Unmarshal([]byte(line), &decoded); err != nil {
			t.Fatalf("decode line %q: %v", line, err)
		}
		lines = append(lines, decoded)
	}
	return lines
}

func authCookieFor(t *testing.T, username, secret string) *http.Cookie {
	t.Helper()
	payload, err := json.Marshal(authCookie{Username: username, Signature: signUsername(secret, username)})
	if err != nil {
		t.Fatalf("marshal cookie: %v", err)
	}
	return &http.Cookie{Name: authCookieName, Value: url.QueryEscape(string(payload))}
}

func TestHealth(t *testing.T) {
	server := NewServer(&fakeSearchService{})
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"status":"ok"`) {
		t.Fatalf("unexpected health response: %d %s", rec.Code, rec.Body.String())
	}
}

func TestSearchEmptyQueryIsNotCached(t *testing.T) {
	fake := &fakeSearchService{snapshot: testSnapshot()}
	server := NewServer(fake)

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/search?q=%20", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := rec.Header().Get("Cache-Control"); got != "no-store" {
		t.Fatalf("Cache-Control = %q", got)
	}
	if strings.TrimSpace(rec.Body.String()) != `{"results":[]}` {
		t.Fatalf("unexpected body: %s", rec.Body.String())
	}
	if fake.callCount != 0 {
		t.Fatalf("search must not run for an empty query")
	}
}

func TestSearchNonStreamCacheDirective(t *testing.T) {
	tests := []struct {
		name      string
		response  domain.SearchResponse
		wantCache string
	}{
		{
			name: "results",
			response: domain.SearchResponse{
				AggregatedResults: []domain.SearchResult{{ID: "1", Title: "Show", Source: "alpha"}},
				FailedSources:     []domain.FailedSource{},
				CacheTime:         2 * time.Hour,
			},
			wantCache: "private, max-age=7200",
		},
		{
			name: "empty",
			response: domain.SearchResponse{
				AggregatedResults: []domain.SearchResult{},
				FailedSources:     []domain.FailedSource{{Key: "alpha", Name: "Alpha", Reason: domain.FailureNoResults}},
				CacheTime:         2 * time.Hour,
			},
			wantCache: "no-store",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &fakeSearchService{snapshot: testSnapshot(), response: tt.response}
			rec := httptest.NewRecorder()
			NewServer(fake).Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/search?q=show&stream=0", nil))

			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
			}
			if got := rec.Header().Get("Cache-Control"); got != tt.wantCache {
				t.Fatalf("Cache-Control = %q, want %q", got, tt.wantCache)
			}
			var body map[string]json.RawMessage
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if _, ok := body["aggregatedResults"]; !ok {
				t.Fatalf("missing aggregatedResults: %s", rec.Body.String())
			}
			if _, ok := body["failedSources"]; !ok {
				t.Fatalf("missing failedSources: %s", rec.Body.String())
			}
		})
	}
}

func TestSearchPassesSourcesAndTimeout(t *testing.T) {
	fake := &fakeSearchService{snapshot: testSnapshot()}
	rec := httptest.NewRecorder()
	NewServer(fake).Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/search?q=show&stream=0&sources=beta,%20alpha,beta&timeout=2", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := fake.lastRequest.Sources; len(got) != 2 || got[0] != "beta" || got[1] != "alpha" {
		t.Fatalf("sources = %v", got)
	}
	if fake.lastRequest.Timeout != 2*time.Second {
		t.Fatalf("timeout = %v", fake.lastRequest.Timeout)
	}
}

func TestSearchRejectsMalformedRequests(t *testing.T) {
	tests := []struct {
		name   string
		target string
	}{
		{name: "bad timeout", target: "/search?q=show&timeout=abc"},
		{name: "negative timeout", target: "/search?q=show&timeout=-1"},
		{name: "long query", target: "/search?q=" + strings.Repeat("a", maxQueryLength+1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &fakeSearchService{snapshot: testSnapshot()}
			rec := httptest.NewRecorder()
			NewServer(fake).Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.target, nil))
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d", rec.Code)
			}
			if fake.callCount != 0 {
				t.Fatalf("search must not run for a malformed request")
			}
		})
	}
}

func TestSearchQueryLengthCountsCharacters(t *testing.T) {
	fake := &fakeSearchService{snapshot: testSnapshot()}
	handler := NewServer(fake).Handler()

	accepted := strings.Repeat("斗", maxQueryLength)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/search?stream=0&q="+url.QueryEscape(accepted), nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d for a %d-character query", rec.Code, maxQueryLength)
	}
	if fake.lastRequest.Query != accepted {
		t.Fatalf("query was not passed through")
	}

	rejected := strings.Repeat("斗", maxQueryLength+1)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/search?stream=0&q="+url.QueryEscape(rejected), nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d for a %d-character query", rec.Code, maxQueryLength+1)
	}
}

func TestSearchMethodNotAllowed(t *testing.T) {
	rec := httptest.NewRecorder()
	NewServer(&fakeSearchService{}).Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/search?q=x", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestSearchStreamWritesNDJSON(t *testing.T) {
	fake := &fakeSearchService{
		snapshot: testSnapshot(),
		events: []domain.StreamEvent{
			{Kind: domain.StreamEventPage, Site: "alpha", Results: []domain.SearchResult{{ID: "1", Source: "alpha"}}},
			{Kind: domain.StreamEventFailures, Failures: []domain.FailedSource{{Key: "beta", Name: "Beta", Reason: domain.FailureTimeout}}},
			{Kind: domain.StreamEventAggregate, Results: []domain.SearchResult{{ID: "1", Source: "alpha"}}},
		},
	}
	rec := httptest.NewRecorder()
	NewServer(fake).Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/search?q=show", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := rec.Header().Get("Cache-Control"); got != "no-store" {
		t.Fatalf("Cache-Control = %q", got)
	}
	lines := readLines(t, rec.Body.String())
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d: %s", len(lines), rec.Body.String())
	}
	if string(lines[0]["site"]) != `"alpha"` || lines[0]["pageResults"] == nil {
		t.Fatalf("unexpected page line: %s", rec.Body.String())
	}
	if lines[1]["failedSources"] == nil {
		t.Fatalf("expected failures line second")
	}
	if lines[2]["aggregatedResults"] == nil {
		t.Fatalf("expected aggregate line last")
	}
}

func TestSearchErrorsMapToStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "invalid", err: domain.ErrInvalidQuery, want: http.StatusBadRequest},
		{name: "no sources", err: domain.ErrNoSources, want: http.StatusServiceUnavailable},
		{name: "other", err: errors.New("boom"), want: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &fakeSearchService{snapshot: testSnapshot(), err: tt.err}
			for _, target := range []string{"/search?q=x", "/search?q=x&stream=0"} {
				rec := httptest.NewRecorder()
				NewServer(fake).Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
				if rec.Code != tt.want {
					t.Fatalf("%s: status = %d, want %d", target, rec.Code, tt.want)
				}
			}
		})
	}
}

func TestSearchOneStreamsServerSentEvents(t *testing.T) {
	fake := &fakeSearchService{
		snapshot: testSnapshot(),
		batches: [][]domain.SearchResult{
			{{ID: "1", Source: "alpha"}},
			{{ID: "2", Source: "alpha"}},
		},
	}
	rec := httptest.NewRecorder()
	NewServer(fake).Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/search/one?q=show&resourceId=alpha&timeout=1", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := rec.Header().Get("Content-Type"); !strings.HasPrefix(got, "text/event-stream") {
		t.Fatalf("Content-Type = %q", got)
	}
	frames := strings.Split(strings.TrimSpace(rec.Body.String()), "\n\n")
	if len(frames) != 2 {
		t.Fatalf("expected 2 frames, got %q", rec.Body.String())
	}
	for i, frame := range frames {
		if !strings.HasPrefix(frame, "data: [") {
			t.Fatalf("frame %d is not a data array: %q", i, frame)
		}
	}
	if fake.lastOne.Source != "alpha" || fake.lastOne.Timeout != time.Second {
		t.Fatalf("unexpected request: %+v", fake.lastOne)
	}
}

func TestSearchOneValidation(t *testing.T) {
	tests := []struct {
		name   string
		target string
		want   int
	}{
		{name: "missing q", target: "/search/one?resourceId=alpha", want: http.StatusBadRequest},
		{name: "missing resource", target: "/search/one?q=show", want: http.StatusBadRequest},
		{name: "unknown resource", target: "/search/one?q=show&resourceId=nope", want: http.StatusNotFound},
		{name: "disabled resource", target: "/search/one?q=show&resourceId=off", want: http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			NewServer(&fakeSearchService{snapshot: testSnapshot()}).Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.target, nil))
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestSuggestionsRequireAuth(t *testing.T) {
	const secret = "s3cret"
	tests := []struct {
		name   string
		cookie *http.Cookie
		want   int
	}{
		{name: "no cookie", want: http.StatusUnauthorized},
		{name: "garbage", cookie: &http.Cookie{Name: authCookieName, Value: "not-json"}, want: http.StatusUnauthorized},
		{name: "bad signature", cookie: authCookieFor(t, "alice", "other"), want: http.StatusUnauthorized},
		{name: "banned", cookie: authCookieFor(t, "mallory", secret), want: http.StatusUnauthorized},
		{name: "valid", cookie: authCookieFor(t, "alice", secret), want: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &fakeSearchService{snapshot: testSnapshot()}
			req := httptest.NewRequest(http.MethodGet, "/search/suggestions?q=show", nil)
			if tt.cookie != nil {
				req.AddCookie(tt.cookie)
			}
			rec := httptest.NewRecorder()
			NewServer(fake, WithAuthSecret(secret)).Handler().ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestSuggestionsWithoutSecretAcceptUsername(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/search/suggestions?q=", nil)
	req.AddCookie(&http.Cookie{Name: authCookieName, Value: url.QueryEscape(`{"username":"bob"}`)})
	rec := httptest.NewRecorder()
	NewServer(&fakeSearchService{snapshot: testSnapshot()}).Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if strings.TrimSpace(rec.Body.String()) != `{"suggestions":[]}` {
		t.Fatalf("unexpected body: %s", rec.Body.String())
	}
}

func TestSuggestionsStreamBatches(t *testing.T) {
	fake := &fakeSearchService{
		snapshot: testSnapshot(),
		suggestions: [][]domain.Suggestion{
			{{Text: "Show", Type: domain.SuggestionExact, Score: 2}},
			{{Text: "Shows", Type: domain.SuggestionRelated, Score: 1.8}},
		},
	}
	req := httptest.NewRequest(http.MethodGet, "/search/suggestions?q=show&timeout=3", nil)
	req.AddCookie(authCookieFor(t, "alice", "k"))
	rec := httptest.NewRecorder()
	NewServer(fake, WithAuthSecret("k")).Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := rec.Header().Get("Cache-Control"); got != "private, max-age=7200" {
		t.Fatalf("Cache-Control = %q", got)
	}
	lines := readLines(t, rec.Body.String())
	if len(lines) != 2 || lines[0]["suggestions"] == nil {
		t.Fatalf("unexpected body: %s", rec.Body.String())
	}
	if fake.lastTimeout != 3*time.Second {
		t.Fatalf("timeout = %v", fake.lastTimeout)
	}
}

func TestDetailEndpoint(t *testing.T) {
	tests := []struct {
		name   string
		target string
		err    error
		want   int
	}{
		{name: "ok", target: "/detail?source=alpha&id=7&title=Show", want: http.StatusOK},
		{name: "missing id", target: "/detail?source=alpha", want: http.StatusBadRequest},
		{name: "unknown source", target: "/detail?source=nope&id=7", want: http.StatusNotFound},
		{name: "fetch failure", target: "/detail?source=alpha&id=7", err: fmt.Errorf("%w: empty list", domain.ErrDetailFetch), want: http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &fakeSearchService{
				snapshot: testSnapshot(),
				detail:   domain.SearchResult{ID: "7", Title: "Show", Source: "alpha"},
				err:      tt.err,
			}
			rec := httptest.NewRecorder()
			NewServer(fake).Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.target, nil))
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d body=%s", rec.Code, tt.want, rec.Body.String())
			}
			if tt.want == http.StatusOK && fake.lastDetail.Title != "Show" {
				t.Fatalf("title was not forwarded: %+v", fake.lastDetail)
			}
		})
	}
}

func TestSourcesAndHealth(t *testing.T) {
	fake := &fakeSearchService{
		snapshot:    testSnapshot(),
		diagnostics: []domain.SourceDiagnostics{{Key: "alpha", Name: "Alpha", Enabled: true, TotalRequests: 3}},
	}
	handler := NewServer(fake).Handler()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/search/sources", nil))
	var sources struct {
		Items []domain.Source `json:"items"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &sources); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(sources.Items) != 3 || !sources.Items[2].Disabled {
		t.Fatalf("unexpected sources: %+v", sources.Items)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/search/sources/health", nil))
	var health struct {
		CheckedAt time.Time                  `json:"checkedAt"`
		Items     []domain.SourceDiagnostics `json:"items"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &health); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if health.CheckedAt.IsZero() || len(health.Items) != 1 || health.Items[0].TotalRequests != 3 {
		t.Fatalf("unexpected health: %+v", health)
	}
}

func TestSourceSettingsPatch(t *testing.T) {
	settings := &fakeSettingsService{sources: testSnapshot().Sources}
	handler := NewServer(&fakeSearchService{snapshot: testSnapshot()}, WithSourceSettings(settings)).Handler()

	req := httptest.NewRequest(http.MethodPatch, "/search/settings/sources", strings.NewReader(`{"key":"beta","disabled":true}`))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	var source domain.Source
	if err := json.Unmarshal(rec.Body.Bytes(), &source); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if source.Key != "beta" || !source.Disabled {
		t.Fatalf("unexpected source: %+v", source)
	}

	tests := []struct {
		name string
		body string
		want int
	}{
		{name: "unknown key", body: `{"key":"nope","disabled":true}`, want: http.StatusNotFound},
		{name: "missing key", body: `{"disabled":true}`, want: http.StatusBadRequest},
		{name: "unknown field", body: `{"key":"beta","api":"x"}`, want: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPatch, "/search/settings/sources", strings.NewReader(tt.body)))
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestSourceSettingsNotConfigured(t *testing.T) {
	body := `{"key":"beta","disabled":true}`

	rec := httptest.NewRecorder()
	NewServer(&fakeSearchService{}).Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPatch, "/search/settings/sources", strings.NewReader(body)))
	if rec.Code != http.StatusNotImplemented {
		t.Fatalf("status = %d", rec.Code)
	}

	readOnly := &fakeSettingsService{err: fmt.Errorf("%w: no redis", domain.ErrReadOnlyConfig)}
	rec = httptest.NewRecorder()
	NewServer(&fakeSearchService{}, WithSourceSettings(readOnly)).Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPatch, "/search/settings/sources", strings.NewReader(body)))
	if rec.Code != http.StatusNotImplemented {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestRateLimitRejectsBurst(t *testing.T) {
	handler := NewServer(&fakeSearchService{snapshot: testSnapshot()}, WithRateLimit(0.001, 1)).Handler()

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/search?q=", nil))
	second := httptest.NewRecorder()
	handler.ServeHTTP(second, httptest.NewRequest(http.MethodGet, "/search?q=", nil))

	if first.Code != http.StatusOK || second.Code != http.StatusTooManyRequests {
		t.Fatalf("statuses = %d, %d", first.Code, second.Code)
	}
	health := httptest.NewRecorder()
	handler.ServeHTTP(health, httptest.NewRequest(http.MethodGet, "/health", nil))
	if health.Code != http.StatusOK {
		t.Fatalf("health must bypass the limiter, got %d", health.Code)
	}
}

func TestNormalizeRoute(t *testing.T) {
	cases := map[string]string{
		"/search":                  "/search",
		"/search/one":              "/search/one",
		"/search/sources/health":   "/search/sources/health",
		"/search/settings/sources": "/search/settings/sources",
		"/anything/else":           "/other",
	}
	for path, want := range cases {
		if got := normalizeRoute(path); got != want {
			t.Fatalf("normalizeRoute(%q) = %q, want %q", path, got, want)
		}
	}
}
