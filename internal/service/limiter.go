package service

import (
	"context"
	"fmt"
	"slices"
	"time"

	"admission-control/internal/domain"
	"admission-control/internal/metrics"
	"admission-control/internal/storage"
)

// SlidingWindowService implementa domain.SlidingWindowLimiter.
// Cada verificação é um único Update sobre rateLimits/{identifier}/{category}:
// poda, decisão e registro acontecem sob o mesmo lock por caminho.
type SlidingWindowService struct {
	store   domain.KeyValueStore
	limits  map[domain.Category]domain.RateLimitPolicy
	logger  domain.Logger
	metrics *metrics.Metrics
	now     domain.Clock
}

// NewSlidingWindowService cria uma nova instância do limitador
func NewSlidingWindowService(
	store domain.KeyValueStore,
	security domain.SecurityConfig,
	logger domain.Logger,
	m *metrics.Metrics,
	clock domain.Clock,
) *SlidingWindowService {
	return &SlidingWindowService{
		store:   store,
		limits:  security.Clone().RateLimits,
		logger:  logger,
		metrics: m,
		now:     systemClock(clock),
	}
}

// CheckAndRecord decide e registra a operação atomicamente
func (s *SlidingWindowService) CheckAndRecord(ctx context.Context, identifier string, category domain.Category) (*domain.RateLimitResult, error) {
	policy, err := s.policy(identifier, category)
	if err != nil {
		return nil, err
	}

	path := storage.RateLimitPath(identifier, category)
	now := s.now().UnixMilli()

	var result *domain.RateLimitResult
	_, err = s.store.Update(ctx, path, func(current []byte) ([]byte, error) {
		entry, err := decodeValue[domain.RateWindowEntry](path, current)
		if err != nil {
			return nil, err
		}

		kept := keepNewer(entry.Timestamps, now-policy.WindowMs)

		if len(kept) >= policy.Max {
			// Negado: a sequência podada ainda é persistida
			result = &domain.RateLimitResult{
				Allowed:   false,
				Category:  category,
				Limit:     policy.Max,
				Remaining: 0,
				ResetTime: time.UnixMilli(slices.Min(kept) + policy.WindowMs),
			}
			return encodeValue(path, domain.RateWindowEntry{Timestamps: kept})
		}

		kept = append(kept, now)
		result = &domain.RateLimitResult{
			Allowed:   true,
			Category:  category,
			Limit:     policy.Max,
			Remaining: policy.Max - len(kept),
			ResetTime: time.UnixMilli(now + policy.WindowMs),
		}
		return encodeValue(path, domain.RateWindowEntry{Timestamps: kept})
	})
	if err != nil {
		s.logger.Error("Failed to check sliding window", err, map[string]interface{}{
			"path":     path,
			"category": category,
		})
		return nil, fmt.Errorf("failed to check rate limit: %w", err)
	}

	s.metrics.ObserveRateDecision(string(category), result.Allowed)

	if !result.Allowed {
		s.logger.Info("Rate limit exceeded", map[string]interface{}{
			"identifier": identifier,
			"category":   category,
			"limit":      result.Limit,
			"reset_time": result.ResetTime,
		})
	}

	return result, nil
}

// Status retorna a visão atual da janela sem registrar nada
func (s *SlidingWindowService) Status(ctx context.Context, identifier string, category domain.Category) (*domain.RateLimitStatus, error) {
	policy, err := s.policy(identifier, category)
	if err != nil {
		return nil, err
	}

	path := storage.RateLimitPath(identifier, category)
	raw, err := s.store.Get(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("failed to get rate limit status: %w", err)
	}
	entry, err := decodeValue[domain.RateWindowEntry](path, raw)
	if err != nil {
		return nil, err
	}

	now := s.now()
	kept := keepNewer(entry.Timestamps, now.UnixMilli()-policy.WindowMs)

	status := &domain.RateLimitStatus{
		Identifier: identifier,
		Category:   category,
		Count:      len(kept),
		Limit:      policy.Max,
		WindowMs:   policy.WindowMs,
		ResetTime:  now,
	}
	if len(kept) > 0 {
		status.ResetTime = time.UnixMilli(slices.Min(kept) + policy.WindowMs)
	}
	return status, nil
}

// Reset remove a janela de um identificador (uso administrativo)
func (s *SlidingWindowService) Reset(ctx context.Context, identifier string, category domain.Category) error {
	if _, err := s.policy(identifier, category); err != nil {
		return err
	}

	path := storage.RateLimitPath(identifier, category)
	if err := s.store.Delete(ctx, path); err != nil {
		return fmt.Errorf("failed to reset rate limit: %w", err)
	}

	s.logger.Info("Rate limit reset", map[string]interface{}{
		"identifier": identifier,
		"category":   category,
	})
	return nil
}

func (s *SlidingWindowService) policy(identifier string, category domain.Category) (domain.RateLimitPolicy, error) {
	if err := validIdentifier("identifier", identifier); err != nil {
		return domain.RateLimitPolicy{}, err
	}
	policy, ok := s.limits[category]
	if !ok {
		return domain.RateLimitPolicy{}, fmt.Errorf("%w: unknown category %q", domain.ErrInvalidRequest, category)
	}
	return policy, nil
}

// keepNewer mantém apenas timestamps estritamente maiores que cutoff.
// Usado tanto pelo limitador quanto pelo sweeper: o predicado é o mesmo.
func keepNewer(timestamps []int64, cutoff int64) []int64 {
	kept := make([]int64, 0, len(timestamps)+1)
	for _, ts := range timestamps {
		if ts > cutoff {
			kept = append(kept, ts)
		}
	}
	return kept
}
