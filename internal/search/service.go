package search

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"vodstream/searchservice/internal/domain"
)

const (
	defaultMaxConcurrentSources = 16
	defaultSourceTimeout        = 3000 * time.Millisecond
)

// SourceClient fetches pages and details from one upstream source.
type SourceClient interface {
	Stream(ctx context.Context, source domain.Source, query string, opts domain.StreamOptions) <-chan domain.Page
	Detail(ctx context.Context, source domain.Source, id string, timeout time.Duration) (domain.SearchResult, error)
}

// ConfigProvider hands out the configuration snapshot a request works on.
type ConfigProvider interface {
	Snapshot(ctx context.Context) (domain.ConfigSnapshot, error)
}

// SourcePatcher is implemented by config providers that accept runtime
// source toggles.
type SourcePatcher interface {
	Patch(ctx context.Context, patch domain.SourcePatch) (domain.Source, error)
}

type Service struct {
	config        ConfigProvider
	client        SourceClient
	timeout       time.Duration
	parallelPages bool
	maxConcurrent int64
	logger        *slog.Logger

	limiterMu   sync.Mutex
	limiters    map[string]*rate.Limiter
	sourceRate  rate.Limit
	sourceBurst int

	healthMu sync.Mutex
	health   map[string]*sourceHealth
}

type ServiceOption func(*Service)

// WithTimeout sets the per-call upstream timeout used when a request does not
// carry its own.
func WithTimeout(timeout time.Duration) ServiceOption {
	return func(s *Service) {
		if timeout > 0 {
			s.timeout = timeout
		}
	}
}

func WithParallelPages(enabled bool) ServiceOption {
	return func(s *Service) {
		s.parallelPages = enabled
	}
}

func WithMaxConcurrentSources(limit int) ServiceOption {
	return func(s *Service) {
		if limit > 0 {
			s.maxConcurrent = int64(limit)
		}
	}
}

// WithSourceRateLimit throttles how often a single source is queried. A
// non-positive rps disables the limit.
func WithSourceRateLimit(rps float64, burst int) ServiceOption {
	return func(s *Service) {
		if rps <= 0 {
			s.sourceRate = rate.Inf
			return
		}
		if burst <= 0 {
			burst = 1
		}
		s.sourceRate = rate.Limit(rps)
		s.sourceBurst = burst
	}
}

func WithLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func NewService(config ConfigProvider, client SourceClient, opts ...ServiceOption) *Service {
	svc := &Service{
		config:        config,
		client:        client,
		timeout:       defaultSourceTimeout,
		parallelPages: true,
		maxConcurrent: defaultMaxConcurrentSources,
		logger:        slog.Default(),
		limiters:      make(map[string]*rate.Limiter),
		sourceRate:    rate.Inf,
		health:        make(map[string]*sourceHealth),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// Sources lists every configured source with its current enabled state.
func (s *Service) Sources(ctx context.Context) ([]domain.Source, error) {
	snapshot, err := s.config.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return snapshot.Sources, nil
}

// Snapshot exposes the configuration view used for one request.
func (s *Service) Snapshot(ctx context.Context) (domain.ConfigSnapshot, error) {
	return s.config.Snapshot(ctx)
}

// PatchSource applies a runtime toggle when the config provider supports it.
func (s *Service) PatchSource(ctx context.Context, patch domain.SourcePatch) (domain.Source, error) {
	patcher, ok := s.config.(SourcePatcher)
	if !ok {
		return domain.Source{}, domain.ErrReadOnlyConfig
	}
	source, err := patcher.Patch(ctx, patch)
	if err != nil {
		return domain.Source{}, err
	}
	s.logger.Info("source runtime state changed",
		slog.String("source", source.Key),
		slog.Bool("disabled", source.Disabled),
	)
	return source, nil
}

func (s *Service) resolveTimeout(requested time.Duration) time.Duration {
	if requested > 0 {
		return requested
	}
	return s.timeout
}
