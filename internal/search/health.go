package search

import (
	"context"
	"time"

	"vodstream/searchservice/internal/domain"
	"vodstream/searchservice/internal/metrics"
)

type sourceHealth struct {
	consecutiveFailures int
	lastError           string
	lastReason          domain.FailureReason
	lastSuccessAt       time.Time
	lastFailureAt       time.Time
	lastLatency         time.Duration
	lastQuery           string
	totalRequests       int64
	totalFailures       int64
	failuresByReason    map[domain.FailureReason]int64
}

// upstreamFailure reports whether a reason means the source itself misbehaved,
// as opposed to answering with nothing usable.
func upstreamFailure(reason domain.FailureReason) bool {
	switch reason {
	case "", domain.FailureNoResults, domain.FailureFilteredEmpty:
		return false
	}
	return true
}

func (s *Service) recordSourceResult(sourceKey, query string, reason domain.FailureReason, message string, latency time.Duration, now time.Time) {
	if s == nil || sourceKey == "" {
		return
	}

	s.healthMu.Lock()
	defer s.healthMu.Unlock()

	state := s.health[sourceKey]
	if state == nil {
		state = &sourceHealth{failuresByReason: make(map[domain.FailureReason]int64)}
		s.health[sourceKey] = state
	}
	state.totalRequests++
	state.lastQuery = query
	if latency > 0 {
		state.lastLatency = latency
	}
	if reason != "" {
		state.failuresByReason[reason]++
		state.lastReason = reason
	}

	if !upstreamFailure(reason) {
		state.consecutiveFailures = 0
		state.lastError = ""
		state.lastSuccessAt = now
		metrics.SourceHealthy.WithLabelValues(sourceKey).Set(1)
		return
	}

	state.consecutiveFailures++
	state.totalFailures++
	state.lastFailureAt = now
	state.lastError = message
	if state.lastError == "" {
		state.lastError = string(reason)
	}
	metrics.SourceHealthy.WithLabelValues(sourceKey).Set(0)
}

// Diagnostics reports the health of every configured source in configuration
// order.
func (s *Service) Diagnostics(ctx context.Context) ([]domain.SourceDiagnostics, error) {
	snapshot, err := s.config.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	s.healthMu.Lock()
	defer s.healthMu.Unlock()

	items := make([]domain.SourceDiagnostics, 0, len(snapshot.Sources))
	for _, source := range snapshot.Sources {
		item := domain.SourceDiagnostics{
			Key:     source.Key,
			Name:    source.Name,
			Enabled: !source.Disabled,
		}
		if state := s.health[source.Key]; state != nil {
			item.ConsecutiveFailures = state.consecutiveFailures
			item.LastError = state.lastError
			item.LastReason = state.lastReason
			if !state.lastSuccessAt.IsZero() {
				lastSuccessAt := state.lastSuccessAt
				item.LastSuccessAt = &lastSuccessAt
			}
			if !state.lastFailureAt.IsZero() {
				lastFailureAt := state.lastFailureAt
				item.LastFailureAt = &lastFailureAt
			}
			item.LastLatencyMS = state.lastLatency.Milliseconds()
			item.LastQuery = state.lastQuery
			item.TotalRequests = state.totalRequests
			item.TotalFailures = state.totalFailures
			if len(state.failuresByReason) > 0 {
				item.FailuresByReason = make(map[domain.FailureReason]int64, len(state.failuresByReason))
				for reason, count := range state.failuresByReason {
					item.FailuresByReason[reason] = count
				}
			}
		}
		items = append(items, item)
	}
	return items, nil
}
