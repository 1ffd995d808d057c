package search

import (
	"strings"

	"github.com/samber/lo"

	"vodstream/searchservice/internal/domain"
)

// contentFilter drops results whose category label contains a denylisted
// word.
type contentFilter struct {
	enabled bool
	words   []string
}

func newContentFilter(snapshot domain.ConfigSnapshot) contentFilter {
	words := lo.Compact(snapshot.FilterWords)
	return contentFilter{
		enabled: snapshot.FilterEnabled && len(words) > 0,
		words:   words,
	}
}

func (f contentFilter) blocked(typeName string) bool {
	if !f.enabled || typeName == "" {
		return false
	}
	return lo.SomeBy(f.words, func(word string) bool {
		return strings.Contains(typeName, word)
	})
}

func (f contentFilter) apply(items []domain.SearchResult) []domain.SearchResult {
	if !f.enabled {
		return items
	}
	return lo.Reject(items, func(item domain.SearchResult, _ int) bool {
		return f.blocked(item.TypeName)
	})
}
