package domain

import "time"

const UnknownYear = "unknown"

type SearchRequest struct {
	Query   string
	Sources []string
	Timeout time.Duration
}

type OneRequest struct {
	Query   string
	Source  string
	Timeout time.Duration
}

type DetailRequest struct {
	Source  string
	ID      string
	Title   string
	Timeout time.Duration
}

type SearchResult struct {
	ID            string   `json:"id"`
	Title         string   `json:"title"`
	Poster        string   `json:"poster"`
	Episodes      []string `json:"episodes"`
	EpisodeTitles []string `json:"episodes_titles"`
	Source        string   `json:"source"`
	SourceName    string   `json:"source_name"`
	Class         string   `json:"class,omitempty"`
	Year          string   `json:"year"`
	Desc          string   `json:"desc"`
	TypeName      string   `json:"type_name,omitempty"`
	DoubanID      int      `json:"douban_id,omitempty"`
}

type FailureReason string

const (
	FailureTimeout       FailureReason = "timeout"
	FailureNetwork       FailureReason = "network-error"
	FailureNoResults     FailureReason = "no-results"
	FailureFilteredEmpty FailureReason = "filtered-empty"
	FailureDetailFetch   FailureReason = "detail-fetch-error"
	FailureUnknown       FailureReason = "unknown-error"
)

type FailedSource struct {
	Name    string        `json:"sourceName"`
	Key     string        `json:"sourceKey"`
	Reason  FailureReason `json:"reason"`
	Message string        `json:"message,omitempty"`
}

type SearchResponse struct {
	AggregatedResults []SearchResult `json:"aggregatedResults"`
	FailedSources     []FailedSource `json:"failedSources"`
	CacheTime         time.Duration  `json:"-"`
}

// Page is one element of a source's page sequence. A non-nil Err ends the
// sequence and means the source failed before producing anything.
type Page struct {
	Number  int
	Results []SearchResult
	Err     error
}

type SuggestionType string

const (
	SuggestionExact   SuggestionType = "exact"
	SuggestionRelated SuggestionType = "related"
	SuggestionOther   SuggestionType = "suggestion"
)

func (t SuggestionType) Priority() int {
	switch t {
	case SuggestionExact:
		return 3
	case SuggestionRelated:
		return 2
	default:
		return 1
	}
}

type Suggestion struct {
	Text  string         `json:"text"`
	Type  SuggestionType `json:"type"`
	Score float64        `json:"score"`
}

type SourceDiagnostics struct {
	Key                 string                  `json:"key"`
	Name                string                  `json:"name"`
	Enabled             bool                    `json:"enabled"`
	ConsecutiveFailures int                     `json:"consecutiveFailures"`
	LastError           string                  `json:"lastError,omitempty"`
	LastReason          FailureReason           `json:"lastReason,omitempty"`
	LastSuccessAt       *time.Time              `json:"lastSuccessAt,omitempty"`
	LastFailureAt       *time.Time              `json:"lastFailureAt,omitempty"`
	LastLatencyMS       int64                   `json:"lastLatencyMs,omitempty"`
	LastQuery           string                  `json:"lastQuery,omitempty"`
	TotalRequests       int64                   `json:"totalRequests,omitempty"`
	TotalFailures       int64                   `json:"totalFailures,omitempty"`
	FailuresByReason    map[FailureReason]int64 `json:"failuresByReason,omitempty"`
}

type StreamOptions struct {
	// Parallel fetches pages 2..n concurrently; they are still delivered in
	// ascending page order.
	Parallel bool
	Timeout  time.Duration
	MaxPages int
}
