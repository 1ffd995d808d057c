package domain

import "encoding/json"

type StreamEventKind string

const (
	StreamEventPage      StreamEventKind = "page"
	StreamEventFailures  StreamEventKind = "failures"
	StreamEventAggregate StreamEventKind = "aggregate"
)

// StreamEvent is one newline-delimited message of a streamed search.
type StreamEvent struct {
	Kind     StreamEventKind
	Site     string
	Results  []SearchResult
	Failures []FailedSource
}

func (e StreamEvent) MarshalJSON() ([]byte, error) {
	switch e.Kind {
	case StreamEventFailures:
		return json.Marshal(struct {
			FailedSources []FailedSource `json:"failedSources"`
		}{nonNilFailures(e.Failures)})
	case StreamEventAggregate:
		return json.Marshal(struct {
			AggregatedResults []SearchResult `json:"aggregatedResults"`
		}{nonNilResults(e.Results)})
	default:
		return json.Marshal(struct {
			Site        string         `json:"site,omitempty"`
			PageResults []SearchResult `json:"pageResults"`
		}{e.Site, nonNilResults(e.Results)})
	}
}

func nonNilResults(items []SearchResult) []SearchResult {
	if items == nil {
		return []SearchResult{}
	}
	return items
}

func nonNilFailures(items []FailedSource) []FailedSource {
	if items == nil {
		return []FailedSource{}
	}
	return items
}
