package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/sourcegraph/conc/panics"
	"golang.org/x/sync/semaphore"

	"vodstream/searchservice/internal/domain"
	"vodstream/searchservice/internal/metrics"
)

// querySession is the state of one search request. Source tasks only append
// to it under mu; it is discarded once the request completes.
type querySession struct {
	id       string
	query    string
	snapshot domain.ConfigSnapshot
	sources  []domain.Source
	timeout  time.Duration
	filter   contentFilter
	sem      *semaphore.Weighted
	logger   *slog.Logger

	mu       sync.Mutex
	results  []domain.SearchResult
	failures []domain.FailedSource
}

type taskOutcome struct {
	before  int
	after   int
	err     error
	latency time.Duration
}

// Search runs the fan-out and returns once every source task has settled.
func (s *Service) Search(ctx context.Context, request domain.SearchRequest) (domain.SearchResponse, error) {
	session, err := s.prepareSession(ctx, request.Query, request.Sources, request.Timeout)
	if err != nil {
		return domain.SearchResponse{}, err
	}
	s.fanOut(ctx, session, nil)
	return session.response(), nil
}

// SearchStream runs the same fan-out as Search but delivers every surviving
// batch as it arrives. After all source tasks settle the channel carries one
// failures event (only when some source failed) and one aggregate event, then
// closes. When ctx is done pending writes are dropped and upstream calls are
// cancelled.
func (s *Service) SearchStream(ctx context.Context, request domain.SearchRequest) (<-chan domain.StreamEvent, error) {
	session, err := s.prepareSession(ctx, request.Query, request.Sources, request.Timeout)
	if err != nil {
		return nil, err
	}

	out := make(chan domain.StreamEvent)
	go func() {
		defer close(out)
		s.fanOut(ctx, session, func(source domain.Source, batch []domain.SearchResult) {
			emit(ctx, out, domain.StreamEvent{Kind: domain.StreamEventPage, Site: source.Key, Results: batch})
		})

		response := session.response()
		if len(response.FailedSources) > 0 {
			if !emit(ctx, out, domain.StreamEvent{Kind: domain.StreamEventFailures, Failures: response.FailedSources}) {
				return
			}
		}
		emit(ctx, out, domain.StreamEvent{Kind: domain.StreamEventAggregate, Results: response.AggregatedResults})
	}()
	return out, nil
}

// SearchOne streams filtered batches of a single enabled source. Failures are
// recorded in source health but not delivered to the caller.
func (s *Service) SearchOne(ctx context.Context, request domain.OneRequest) (<-chan []domain.SearchResult, error) {
	key := strings.TrimSpace(request.Source)
	session, err := s.prepareSession(ctx, request.Query, nil, request.Timeout)
	if errors.Is(err, domain.ErrNoSources) {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownSource, key)
	}
	if err != nil {
		return nil, err
	}
	source, ok := session.snapshot.FindEnabled(key)
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownSource, key)
	}
	session.sources = []domain.Source{source}

	out := make(chan []domain.SearchResult)
	go func() {
		defer close(out)
		s.fanOut(ctx, session, func(_ domain.Source, batch []domain.SearchResult) {
			select {
			case out <- batch:
			case <-ctx.Done():
			}
		})
	}()
	return out, nil
}

func (s *Service) prepareSession(ctx context.Context, query string, keys []string, timeout time.Duration) (*querySession, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, domain.ErrInvalidQuery
	}
	snapshot, err := s.config.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("load source config: %w", err)
	}
	if len(snapshot.Sources) == 0 {
		return nil, domain.ErrNoSources
	}

	selected := snapshot.EnabledSources()
	wanted := lo.Compact(lo.Map(keys, func(key string, _ int) string { return strings.TrimSpace(key) }))
	if len(wanted) > 0 {
		selected = lo.Filter(selected, func(source domain.Source, _ int) bool {
			return lo.Contains(wanted, source.Key)
		})
	}

	id := uuid.NewString()
	return &querySession{
		id:       id,
		query:    query,
		snapshot: snapshot,
		sources:  selected,
		timeout:  s.resolveTimeout(timeout),
		filter:   newContentFilter(snapshot),
		sem:      semaphore.NewWeighted(s.maxConcurrent),
		logger:   s.logger.With(slog.String("session", id)),
	}, nil
}

// fanOut runs one task per selected source and waits for all of them. A
// failing or panicking task never affects its siblings.
func (s *Service) fanOut(ctx context.Context, session *querySession, deliver func(domain.Source, []domain.SearchResult)) {
	metrics.StreamSessionsActive.Inc()
	defer metrics.StreamSessionsActive.Dec()

	startedAt := time.Now()
	session.logger.Info("search started",
		slog.String("query", session.query),
		slog.Any("sources", lo.Map(session.sources, func(source domain.Source, _ int) string { return source.Key })),
	)

	var wg sync.WaitGroup
	for _, source := range session.sources {
		wg.Add(1)
		go func(current domain.Source) {
			defer wg.Done()
			outcome := s.runSourceTask(ctx, session, current, deliver)
			s.settleSource(ctx, session, current, outcome)
		}(source)
	}
	wg.Wait()

	session.mu.Lock()
	resultCount, failureCount := len(session.results), len(session.failures)
	session.mu.Unlock()
	session.logger.Info("search finished",
		slog.Int("results", resultCount),
		slog.Int("failedSources", failureCount),
		slog.Duration("elapsed", time.Since(startedAt)),
	)
}

func (s *Service) runSourceTask(ctx context.Context, session *querySession, source domain.Source, deliver func(domain.Source, []domain.SearchResult)) (outcome taskOutcome) {
	var catcher panics.Catcher
	catcher.Try(func() {
		outcome = s.consumeSource(ctx, session, source, deliver)
	})
	if recovered := catcher.Recovered(); recovered != nil {
		session.logger.Error("source task panicked",
			slog.String("source", source.Key),
			slog.Any("panic", recovered.Value),
		)
		outcome.err = fmt.Errorf("source task panicked: %v", recovered.Value)
	}
	return outcome
}

func (s *Service) consumeSource(ctx context.Context, session *querySession, source domain.Source, deliver func(domain.Source, []domain.SearchResult)) taskOutcome {
	if err := session.sem.Acquire(ctx, 1); err != nil {
		return taskOutcome{err: fmt.Errorf("search cancelled: %w", err)}
	}
	defer session.sem.Release(1)

	if err := s.waitSourceRateLimit(ctx, source.Key); err != nil {
		return taskOutcome{err: fmt.Errorf("rate limit wait cancelled: %w", err)}
	}

	startedAt := time.Now()
	pages := s.client.Stream(ctx, source, session.query, domain.StreamOptions{
		Parallel: s.parallelPages,
		Timeout:  session.timeout,
		MaxPages: session.snapshot.MaxPages,
	})

	var outcome taskOutcome
	for page := range pages {
		if page.Err != nil {
			outcome.err = page.Err
			continue
		}
		outcome.before += len(page.Results)
		kept := session.filter.apply(page.Results)
		if dropped := len(page.Results) - len(kept); dropped > 0 {
			metrics.ContentFilteredTotal.WithLabelValues(source.Key).Add(float64(dropped))
		}
		if len(kept) == 0 {
			continue
		}
		outcome.after += len(kept)
		session.appendResults(kept)
		if deliver != nil {
			deliver(source, kept)
		}
	}
	outcome.latency = time.Since(startedAt)
	return outcome
}

// settleSource turns a finished task into at most one failure record. A task
// cut short because the caller went away says nothing about the source, so it
// leaves health and failure metrics untouched.
func (s *Service) settleSource(ctx context.Context, session *querySession, source domain.Source, outcome taskOutcome) {
	reason, message := classifyOutcome(outcome)
	if reason != "" && ctx.Err() != nil {
		session.logger.Debug("source abandoned",
			slog.String("source", source.Key),
			slog.String("error", ctx.Err().Error()),
		)
		return
	}
	s.recordSourceResult(source.Key, session.query, reason, message, outcome.latency, time.Now())
	if reason == "" {
		return
	}

	session.logger.Warn("source failed",
		slog.String("source", source.Key),
		slog.String("reason", string(reason)),
		slog.String("error", message),
	)
	metrics.SourceFailuresTotal.WithLabelValues(source.Key, string(reason)).Inc()

	session.mu.Lock()
	defer session.mu.Unlock()
	session.failures = append(session.failures, domain.FailedSource{
		Name:    source.Name,
		Key:     source.Key,
		Reason:  reason,
		Message: message,
	})
}

// classifyOutcome applies one policy for every search path: a fatal error
// keeps its typed reason, a source with nothing at all is no-results, and a
// source whose every item was filtered is filtered-empty.
func classifyOutcome(outcome taskOutcome) (domain.FailureReason, string) {
	switch {
	case outcome.err != nil && outcome.after == 0:
		return domain.ReasonOf(outcome.err), domain.MessageOf(outcome.err)
	case outcome.before == 0:
		return domain.FailureNoResults, ""
	case outcome.after == 0:
		return domain.FailureFilteredEmpty, ""
	}
	return "", ""
}

func (q *querySession) appendResults(items []domain.SearchResult) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.results = append(q.results, items...)
}

func (q *querySession) response() domain.SearchResponse {
	q.mu.Lock()
	defer q.mu.Unlock()
	return domain.SearchResponse{
		AggregatedResults: append(make([]domain.SearchResult, 0, len(q.results)), q.results...),
		FailedSources:     append(make([]domain.FailedSource, 0, len(q.failures)), q.failures...),
		CacheTime:         q.snapshot.CacheTime,
	}
}

func emit(ctx context.Context, out chan<- domain.StreamEvent, event domain.StreamEvent) bool {
	if ctx.Err() != nil {
		return false
	}
	select {
	case out <- event:
		return true
	case <-ctx.Done():
		return false
	}
}
