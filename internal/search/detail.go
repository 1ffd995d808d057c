package search

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"vodstream/searchservice/internal/domain"
)

// Detail resolves one item of an enabled source. With a title it first looks
// for the exact source+id among that source's search results and stops at the
// first hit; otherwise, or when nothing matches, it asks the source's detail
// endpoint.
func (s *Service) Detail(ctx context.Context, request domain.DetailRequest) (domain.SearchResult, error) {
	id := strings.TrimSpace(request.ID)
	if id == "" {
		return domain.SearchResult{}, fmt.Errorf("%w: id is required", domain.ErrInvalidQuery)
	}
	snapshot, err := s.config.Snapshot(ctx)
	if err != nil {
		return domain.SearchResult{}, fmt.Errorf("load source config: %w", err)
	}
	key := strings.TrimSpace(request.Source)
	source, ok := snapshot.FindEnabled(key)
	if !ok {
		return domain.SearchResult{}, fmt.Errorf("%w: %s", domain.ErrUnknownSource, key)
	}

	timeout := s.resolveTimeout(request.Timeout)
	if title := strings.TrimSpace(request.Title); title != "" {
		if match, found := s.findByTitle(ctx, source, title, id, snapshot.MaxPages, timeout); found {
			return match, nil
		}
	}
	return s.client.Detail(ctx, source, id, timeout)
}

func (s *Service) findByTitle(ctx context.Context, source domain.Source, title, id string, maxPages int, timeout time.Duration) (domain.SearchResult, bool) {
	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	pages := s.client.Stream(streamCtx, source, title, domain.StreamOptions{
		Parallel: true,
		Timeout:  timeout,
		MaxPages: maxPages,
	})
	for page := range pages {
		if page.Err != nil {
			s.logger.Debug("detail title search failed",
				slog.String("source", source.Key),
				slog.String("error", page.Err.Error()),
			)
			return domain.SearchResult{}, false
		}
		for _, item := range page.Results {
			if item.Source == source.Key && item.ID == id {
				return item, true
			}
		}
	}
	return domain.SearchResult{}, false
}
