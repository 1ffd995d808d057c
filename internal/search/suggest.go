package search

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/samber/lo"
	"golang.org/x/text/cases"

	"vodstream/searchservice/internal/domain"
)

const maxSuggestionsPerBatch = 8

// isSuggestionSeparator splits titles on ASCII space through ':' (punctuation
// and digits included) and on the full-width colon, middle dot and ideographic
// comma.
func isSuggestionSeparator(r rune) bool {
	if r >= ' ' && r <= ':' {
		return true
	}
	switch r {
	case '：', '·', '、':
		return true
	}
	return false
}

// RankSuggestions derives suggestion tokens for query from one batch of
// results. Title tokens longer than one rune that contain the query
// (case-insensitively) are kept, deduplicated and capped, then scored and
// ordered by score and relevance class.
func RankSuggestions(query string, results []domain.SearchResult) []domain.Suggestion {
	fold := cases.Fold()
	needle := fold.String(strings.TrimSpace(query))
	if needle == "" {
		return []domain.Suggestion{}
	}
	queryWords := strings.Fields(needle)

	tokens := make([]string, 0, maxSuggestionsPerBatch)
	seen := make(map[string]struct{})
collect:
	for _, result := range results {
		for _, token := range strings.FieldsFunc(result.Title, isSuggestionSeparator) {
			if utf8.RuneCountInString(token) <= 1 {
				continue
			}
			if !strings.Contains(fold.String(token), needle) {
				continue
			}
			if _, ok := seen[token]; ok {
				continue
			}
			seen[token] = struct{}{}
			tokens = append(tokens, token)
			if len(tokens) == maxSuggestionsPerBatch {
				break collect
			}
		}
	}

	suggestions := lo.Map(tokens, func(token string, _ int) domain.Suggestion {
		score := scoreSuggestion(fold.String(token), needle, queryWords)
		return domain.Suggestion{Text: token, Type: suggestionType(score), Score: score}
	})
	sort.SliceStable(suggestions, func(i, j int) bool {
		if suggestions[i].Score != suggestions[j].Score {
			return suggestions[i].Score > suggestions[j].Score
		}
		return suggestions[i].Type.Priority() > suggestions[j].Type.Priority()
	})
	return suggestions
}

func scoreSuggestion(token, needle string, queryWords []string) float64 {
	switch {
	case token == needle:
		return 2.0
	case strings.HasPrefix(token, needle), strings.HasSuffix(token, needle):
		return 1.8
	case lo.SomeBy(queryWords, func(word string) bool { return strings.Contains(token, word) }):
		return 1.5
	}
	return 1.0
}

func suggestionType(score float64) domain.SuggestionType {
	switch {
	case score >= 2.0:
		return domain.SuggestionExact
	case score >= 1.5:
		return domain.SuggestionRelated
	}
	return domain.SuggestionOther
}

// Suggest streams one ranked batch per page of the first enabled source.
func (s *Service) Suggest(ctx context.Context, query string, timeout time.Duration) (<-chan []domain.Suggestion, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, domain.ErrInvalidQuery
	}
	snapshot, err := s.config.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	out := make(chan []domain.Suggestion)
	enabled := snapshot.EnabledSources()
	if len(enabled) == 0 {
		close(out)
		return out, nil
	}
	source := enabled[0]

	go func() {
		defer close(out)
		pages := s.client.Stream(ctx, source, query, domain.StreamOptions{
			Parallel: s.parallelPages,
			Timeout:  s.resolveTimeout(timeout),
			MaxPages: snapshot.MaxPages,
		})
		for page := range pages {
			if page.Err != nil {
				s.logger.Debug("suggestion source failed",
					slog.String("source", source.Key),
					slog.String("error", page.Err.Error()),
				)
				continue
			}
			select {
			case out <- RankSuggestions(query, page.Results):
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
