package apihttp

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"vodstream/searchservice/internal/domain"
	"vodstream/searchservice/internal/providers/maccms"
	"vodstream/searchservice/internal/search"
	"vodstream/searchservice/internal/sources"
)

func upstreamItem(id, title, typeName string) string {
	return fmt.Sprintf(`{"vod_id":%q,"vod_name":%q,"vod_pic":"https://img.example/%s.jpg","vod_play_url":"第1集$https://cdn.example/%s/1.m3u8#第2集$https://cdn.example/%s/2.m3u8","vod_year":"2023","vod_content":"<p>%s</p>","type_name":%q}`,
		id, title, id, id, id, title, typeName)
}

// newUpstream serves two MacCMS sources: "good" with two pages and "adult"
// whose only item is removed by the content filter.
func newUpstream(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		switch r.URL.Path {
		case "/good":
			if ids := query.Get("ids"); ids != "" {
				fmt.Fprintf(w, `{"list":[%s]}`, upstreamItem(ids, "Detail "+ids, "剧集"))
				return
			}
			if query.Get("pg") == "2" {
				fmt.Fprintf(w, `{"page":2,"pagecount":2,"list":[%s]}`, upstreamItem("2", "Good Two", "剧集"))
				return
			}
			fmt.Fprintf(w, `{"page":1,"pagecount":"2","list":[%s]}`, upstreamItem("1", "Good One", "剧集"))
		case "/adult":
			fmt.Fprintf(w, `{"page":1,"pagecount":1,"list":[%s]}`, upstreamItem("9", "Hidden", "伦理片"))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newE2EServer(t *testing.T) http.Handler {
	t.Helper()
	upstream := newUpstream(t)

	dead := httptest.NewServer(http.NotFoundHandler())
	deadURL := dead.URL
	dead.Close()

	config := fmt.Sprintf(`{
		"cache_time": 600,
		"api_site": {
			"good":   {"api": %q, "name": "Good"},
			"broken": {"api": %q, "name": "Broken"},
			"adult":  {"api": %q, "name": "Adult"}
		},
		"banned_users": ["mallory"]
	}`, upstream.URL+"/good", deadURL+"/broken", upstream.URL+"/adult")
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(config), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	provider := sources.NewProvider(sources.Config{
		Path:     path,
		Defaults: sources.Defaults{MaxPages: 5, FilterEnabled: true},
	})
	client := maccms.NewClient(maccms.Config{Timeout: 2 * time.Second})
	service := search.NewService(provider, client, search.WithTimeout(2*time.Second))
	return NewServer(service, WithSourceSettings(service)).Handler()
}

func TestE2EStreamedSearchAcrossSources(t *testing.T) {
	handler := newE2EServer(t)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/search?q=good", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	lines := readLines(t, rec.Body.String())
	if len(lines) < 3 {
		t.Fatalf("expected pages, failures and aggregate, got %s", rec.Body.String())
	}

	var pageIDs []string
	for _, line := range lines[:len(lines)-2] {
		var results []domain.SearchResult
		if err := json.Unmarshal(line["pageResults"], &results); err != nil {
			t.Fatalf("decode page: %v", err)
		}
		if string(line["site"]) != `"good"` {
			t.Fatalf("only the good source may emit pages, got %s", line["site"])
		}
		for _, result := range results {
			pageIDs = append(pageIDs, result.ID)
		}
	}
	if strings.Join(pageIDs, ",") != "1,2" {
		t.Fatalf("pages out of order: %v", pageIDs)
	}

	var failures []domain.FailedSource
	if err := json.Unmarshal(lines[len(lines)-2]["failedSources"], &failures); err != nil {
		t.Fatalf("decode failures: %v", err)
	}
	reasons := map[string]domain.FailureReason{}
	for _, failure := range failures {
		reasons[failure.Key] = failure.Reason
	}
	if reasons["broken"] != domain.FailureNetwork || reasons["adult"] != domain.FailureFilteredEmpty || len(reasons) != 2 {
		t.Fatalf("unexpected failures: %+v", failures)
	}

	var aggregate []domain.SearchResult
	if err := json.Unmarshal(lines[len(lines)-1]["aggregatedResults"], &aggregate); err != nil {
		t.Fatalf("decode aggregate: %v", err)
	}
	if len(aggregate) != 2 {
		t.Fatalf("expected 2 aggregated results, got %+v", aggregate)
	}
	for _, result := range aggregate {
		if len(result.Episodes) != 2 || len(result.EpisodeTitles) != 2 || result.Year != "2023" {
			t.Fatalf("result not normalized: %+v", result)
		}
	}
}

func TestE2ENonStreamedSearchWithSubset(t *testing.T) {
	handler := newE2EServer(t)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/search?q=good&stream=0&sources=good", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := rec.Header().Get("Cache-Control"); got != "private, max-age=600" {
		t.Fatalf("Cache-Control = %q", got)
	}
	var response domain.SearchResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &response); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(response.AggregatedResults) != 2 || len(response.FailedSources) != 0 {
		t.Fatalf("unexpected response: %+v", response)
	}
}

func TestE2ESearchOneAndDetail(t *testing.T) {
	handler := newE2EServer(t)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/search/one?q=good&resourceId=good", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if frames := strings.Count(rec.Body.String(), "data: "); frames != 2 {
		t.Fatalf("expected 2 frames, got %q", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/detail?source=good&id=2&title=Good%20Two", nil))
	var matched domain.SearchResult
	if err := json.Unmarshal(rec.Body.Bytes(), &matched); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if matched.Title != "Good Two" {
		t.Fatalf("expected the title match, got %+v", matched)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/detail?source=good&id=5", nil))
	var direct domain.SearchResult
	if err := json.Unmarshal(rec.Body.Bytes(), &direct); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if direct.Title != "Detail 5" || len(direct.Episodes) != 2 {
		t.Fatalf("expected the detail endpoint result, got %+v", direct)
	}
}

func TestE2ESuggestionsAndReadOnlySettings(t *testing.T) {
	handler := newE2EServer(t)

	req := httptest.NewRequest(http.MethodGet, "/search/suggestions?q=good", nil)
	req.AddCookie(authCookieFor(t, "alice", ""))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	lines := readLines(t, rec.Body.String())
	if len(lines) != 2 {
		t.Fatalf("expected one batch per page, got %s", rec.Body.String())
	}
	var first []domain.Suggestion
	if err := json.Unmarshal(lines[0]["suggestions"], &first); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(first) != 1 || first[0].Text != "Good" || first[0].Type != domain.SuggestionExact {
		t.Fatalf("unexpected suggestions: %+v", first)
	}

	banned := httptest.NewRequest(http.MethodGet, "/search/suggestions?q=good", nil)
	banned.AddCookie(authCookieFor(t, "mallory", ""))
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, banned)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("banned user status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPatch, "/search/settings/sources", strings.NewReader(`{"key":"good","disabled":true}`)))
	if rec.Code != http.StatusNotImplemented {
		t.Fatalf("settings without a runtime store: status = %d", rec.Code)
	}
}
