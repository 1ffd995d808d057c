package search

import (
	"context"

	"golang.org/x/time/rate"
)

func (s *Service) waitSourceRateLimit(ctx context.Context, sourceKey string) error {
	if s.sourceRate == rate.Inf {
		return nil
	}

	s.limiterMu.Lock()
	limiter, ok := s.limiters[sourceKey]
	if !ok {
		limiter = rate.NewLimiter(s.sourceRate, s.sourceBurst)
		s.limiters[sourceKey] = limiter
	}
	s.limiterMu.Unlock()

	return limiter.Wait(ctx)
}
