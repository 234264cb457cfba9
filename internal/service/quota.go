package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"admission-control/internal/domain"
	"admission-control/internal/metrics"
	"admission-control/internal/storage"
)

// QuotaService implementa domain.QuotaTracker.
// Buckets são truncados em UTC: hora cheia e meia-noite.
type QuotaService struct {
	store   domain.KeyValueStore
	limits  domain.TokenLimitPolicy
	logger  domain.Logger
	metrics *metrics.Metrics
	now     domain.Clock
}

// NewQuotaService cria uma nova instância do rastreador de quota
func NewQuotaService(
	store domain.KeyValueStore,
	security domain.SecurityConfig,
	logger domain.Logger,
	m *metrics.Metrics,
	clock domain.Clock,
) *QuotaService {
	return &QuotaService{
		store:   store,
		limits:  security.TokenLimits,
		logger:  logger,
		metrics: m,
		now:     systemClock(clock),
	}
}

// HourStart trunca t para o início da hora em UTC
func HourStart(t time.Time) time.Time {
	return t.UTC().Truncate(time.Hour)
}

// DayStart trunca t para a meia-noite em UTC
func DayStart(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// CheckAndConsume verifica os tetos na ordem hourly-input, hourly-output,
// daily-cost e só incrementa os buckets se todos passarem
func (s *QuotaService) CheckAndConsume(ctx context.Context, agentID string, usage domain.TokenUsage) (*domain.QuotaResult, error) {
	if err := validIdentifier("agent id", agentID); err != nil {
		return nil, err
	}
	if usage.InputTokens < 0 || usage.OutputTokens < 0 || usage.Cost < 0 {
		return nil, fmt.Errorf("%w: usage must not be negative", domain.ErrInvalidRequest)
	}

	now := s.now()
	hourlyPath := storage.QuotaBucketPath(agentID, domain.PeriodHourly, HourStart(now))
	dailyPath := storage.QuotaBucketPath(agentID, domain.PeriodDaily, DayStart(now))

	// Verificação prospectiva sobre um snapshot: nada é gravado se falhar
	hourly, err := s.readBucket(ctx, hourlyPath)
	if err != nil {
		return nil, err
	}
	daily, err := s.readBucket(ctx, dailyPath)
	if err != nil {
		return nil, err
	}
	if reason := s.hourlyViolation(hourly, usage); reason != "" {
		return s.deny(agentID, reason, hourly, daily), nil
	}
	if reason := s.dailyViolation(daily, usage); reason != "" {
		return s.deny(agentID, reason, hourly, daily), nil
	}

	// Re-verificação atômica + incremento do bucket horário
	var reason domain.QuotaReason
	_, err = s.store.Update(ctx, hourlyPath, func(current []byte) ([]byte, error) {
		bucket, err := decodeValue[domain.QuotaBucket](hourlyPath, current)
		if err != nil {
			return nil, err
		}
		hourly = bucket
		if reason = s.hourlyViolation(bucket, usage); reason != "" {
			return current, nil
		}
		hourly.InputTokens += usage.InputTokens
		hourly.OutputTokens += usage.OutputTokens
		hourly.Cost += usage.Cost
		return encodeValue(hourlyPath, hourly)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to update hourly quota bucket: %w", err)
	}
	if reason != "" {
		return s.deny(agentID, reason, hourly, daily), nil
	}

	// Re-verificação atômica + incremento do bucket diário.
	// Daqui em diante o bucket horário já foi gravado.
	_, err = s.store.Update(ctx, dailyPath, func(current []byte) ([]byte, error) {
		bucket, err := decodeValue[domain.QuotaBucket](dailyPath, current)
		if err != nil {
			return nil, err
		}
		daily = bucket
		if reason = s.dailyViolation(bucket, usage); reason != "" {
			return current, nil
		}
		daily.Cost += usage.Cost
		return encodeValue(dailyPath, domain.QuotaBucket{Cost: daily.Cost})
	})
	if err == nil && reason != "" {
		err = errors.New("daily cost ceiling reached by a concurrent update")
	}
	if err != nil {
		partial := &domain.PartialUpdateError{
			AgentID:   agentID,
			HourlyKey: hourlyPath,
			DailyKey:  dailyPath,
			Usage:     usage,
			Err:       err,
		}
		s.logger.Error("Quota consumption left unreconciled", partial, map[string]interface{}{
			"agent_id":   agentID,
			"hourly_key": hourlyPath,
			"daily_key":  dailyPath,
		})
		s.metrics.ObserveQuotaDecision(false, "partial-update")
		return &domain.QuotaResult{Allowed: false, Reason: reason, Hourly: hourly, Daily: daily}, partial
	}

	s.metrics.ObserveQuotaDecision(true, "")
	return &domain.QuotaResult{Allowed: true, Hourly: hourly, Daily: daily}, nil
}

// Usage retorna os buckets correntes de um agente
func (s *QuotaService) Usage(ctx context.Context, agentID string) (*domain.QuotaUsage, error) {
	if err := validIdentifier("agent id", agentID); err != nil {
		return nil, err
	}

	now := s.now()
	usage := &domain.QuotaUsage{
		AgentID:     agentID,
		HourlyStart: HourStart(now),
		DailyStart:  DayStart(now),
	}

	var err error
	if usage.Hourly, err = s.readBucket(ctx, storage.QuotaBucketPath(agentID, domain.PeriodHourly, usage.HourlyStart)); err != nil {
		return nil, err
	}
	if usage.Daily, err = s.readBucket(ctx, storage.QuotaBucketPath(agentID, domain.PeriodDaily, usage.DailyStart)); err != nil {
		return nil, err
	}
	return usage, nil
}

func (s *QuotaService) hourlyViolation(bucket domain.QuotaBucket, usage domain.TokenUsage) domain.QuotaReason {
	if bucket.InputTokens+usage.InputTokens > s.limits.MaxInputTokensPerHour {
		return domain.ReasonHourlyInput
	}
	if bucket.OutputTokens+usage.OutputTokens > s.limits.MaxOutputTokensPerHour {
		return domain.ReasonHourlyOutput
	}
	return ""
}

func (s *QuotaService) dailyViolation(bucket domain.QuotaBucket, usage domain.TokenUsage) domain.QuotaReason {
	if bucket.Cost+usage.Cost > s.limits.MaxCostPerDay {
		return domain.ReasonDailyCost
	}
	return ""
}

func (s *QuotaService) deny(agentID string, reason domain.QuotaReason, hourly, daily domain.QuotaBucket) *domain.QuotaResult {
	s.metrics.ObserveQuotaDecision(false, string(reason))
	s.logger.Info("Quota exceeded", map[string]interface{}{
		"agent_id": agentID,
		"reason":   reason,
	})
	return &domain.QuotaResult{Allowed: false, Reason: reason, Hourly: hourly, Daily: daily}
}

func (s *QuotaService) readBucket(ctx context.Context, path string) (domain.QuotaBucket, error) {
	raw, err := s.store.Get(ctx, path)
	if err != nil {
		return domain.QuotaBucket{}, fmt.Errorf("failed to read quota bucket: %w", err)
	}
	return decodeValue[domain.QuotaBucket](path, raw)
}
