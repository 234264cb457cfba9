package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"admission-control/internal/domain"
	"admission-control/internal/metrics"
)

// AdmissionOptions controla timeout e política de falha do facade
type AdmissionOptions struct {
	// CheckTimeout limita a verificação inteira; zero desativa
	CheckTimeout time.Duration
	// FailOpen admite a operação quando o store falha. Padrão: fail-closed.
	FailOpen bool
}

// AdmissionFacade combina block list, suspensão, janela e quota.
// Ordem: bloqueio -> suspensão -> janela deslizante -> quota.
type AdmissionFacade struct {
	blocks      domain.BlockListStore
	suspensions domain.SuspensionStore
	limiter     domain.SlidingWindowLimiter
	quota       domain.QuotaTracker
	monitor     domain.ActivityMonitor
	options     AdmissionOptions
	logger      domain.Logger
	metrics     *metrics.Metrics
}

// NewAdmissionFacade cria o facade; monitor pode ser nil
func NewAdmissionFacade(
	blocks domain.BlockListStore,
	suspensions domain.SuspensionStore,
	limiter domain.SlidingWindowLimiter,
	quota domain.QuotaTracker,
	monitor domain.ActivityMonitor,
	options AdmissionOptions,
	logger domain.Logger,
	m *metrics.Metrics,
) *AdmissionFacade {
	return &AdmissionFacade{
		blocks:      blocks,
		suspensions: suspensions,
		limiter:     limiter,
		quota:       quota,
		monitor:     monitor,
		options:     options,
		logger:      logger,
		metrics:     m,
	}
}

type evaluation struct {
	decision *domain.AdmissionDecision
	err      error
}

// Admit sempre devolve uma decisão estruturada; erro só para requisição inválida.
// Falha do store ou timeout resultam em negação com reason store-unavailable,
// a menos que FailOpen esteja ligado.
func (f *AdmissionFacade) Admit(ctx context.Context, req domain.AdmissionRequest) (*domain.AdmissionDecision, error) {
	if err := validIdentifier("identifier", req.Identifier); err != nil {
		return nil, err
	}
	if !req.Category.Valid() {
		return nil, fmt.Errorf("%w: unknown category %q", domain.ErrInvalidRequest, req.Category)
	}
	if req.Usage != nil && req.AgentID == "" {
		return nil, fmt.Errorf("%w: token usage requires an agent id", domain.ErrInvalidRequest)
	}

	start := time.Now()
	logger := f.logger.WithContext(ctx)

	checkCtx, cancel := ctx, context.CancelFunc(func() {})
	if f.options.CheckTimeout > 0 {
		checkCtx, cancel = context.WithTimeout(ctx, f.options.CheckTimeout)
	}
	defer cancel()

	done := make(chan evaluation, 1)
	go func() {
		decision, err := f.evaluate(checkCtx, req)
		done <- evaluation{decision: decision, err: err}
	}()

	var result evaluation
	select {
	case result = <-done:
	case <-checkCtx.Done():
		result.err = fmt.Errorf("%w: admission check did not complete: %v", domain.ErrStoreUnavailable, checkCtx.Err())
	}

	decision := result.decision
	if result.err != nil {
		f.metrics.ObserveStoreError("admission")

		var partial *domain.PartialUpdateError
		if errors.As(result.err, &partial) && decision != nil {
			logger.Error("Admission left quota unreconciled", result.err, map[string]interface{}{
				"identifier": req.Identifier,
				"category":   req.Category,
			})
		} else {
			decision = f.unavailable(decision)
			logger.Error("Admission check failed", result.err, map[string]interface{}{
				"identifier":  req.Identifier,
				"category":    req.Category,
				"failed_open": decision.FailedOpen,
			})
		}
	}

	f.metrics.ObserveAdmission(string(req.Category), string(decision.Reason), time.Since(start).Seconds()*1000)
	f.report(context.WithoutCancel(ctx), logger, req, decision)

	return decision, nil
}

func (f *AdmissionFacade) evaluate(ctx context.Context, req domain.AdmissionRequest) (*domain.AdmissionDecision, error) {
	blocked, err := f.blocks.IsBlocked(ctx, req.Identifier)
	if err != nil {
		return nil, err
	}
	if blocked {
		return &domain.AdmissionDecision{Reason: domain.DenialBlocked}, nil
	}

	if req.AgentID != "" {
		suspended, err := f.suspensions.IsSuspended(ctx, req.AgentID)
		if err != nil {
			return nil, err
		}
		if suspended {
			return &domain.AdmissionDecision{Reason: domain.DenialSuspended}, nil
		}
	}

	rate, err := f.limiter.CheckAndRecord(ctx, req.Identifier, req.Category)
	if err != nil {
		return nil, err
	}
	decision := &domain.AdmissionDecision{RateLimit: rate}
	if !rate.Allowed {
		decision.Reason = domain.DenialRateLimited
		return decision, nil
	}

	if req.Usage != nil {
		quota, err := f.quota.CheckAndConsume(ctx, req.AgentID, *req.Usage)
		var partial *domain.PartialUpdateError
		if errors.As(err, &partial) {
			decision.Quota = quota
			decision.Unreconciled = true
			decision.Reason = domain.DenialStoreUnavailable
			if quota != nil && quota.Reason != "" {
				decision.Reason = domain.DenialQuotaExceeded
			}
			return decision, err
		}
		if err != nil {
			return nil, err
		}
		decision.Quota = quota
		if !quota.Allowed {
			decision.Reason = domain.DenialQuotaExceeded
			return decision, nil
		}
	}

	decision.Allowed = true
	return decision, nil
}

// unavailable aplica a política de falha sobre uma decisão indeterminada
func (f *AdmissionFacade) unavailable(partial *domain.AdmissionDecision) *domain.AdmissionDecision {
	decision := &domain.AdmissionDecision{Reason: domain.DenialStoreUnavailable}
	if partial != nil {
		decision.RateLimit = partial.RateLimit
		decision.Quota = partial.Quota
	}
	if f.options.FailOpen {
		decision.Allowed = true
		decision.FailedOpen = true
	}
	return decision
}

// report envia negações de janela e quota ao monitor; falhas só são logadas
func (f *AdmissionFacade) report(ctx context.Context, logger domain.Logger, req domain.AdmissionRequest, decision *domain.AdmissionDecision) {
	if f.monitor == nil || decision.Allowed {
		return
	}

	var (
		activity string
		metadata domain.ActivityMetadata
	)
	switch {
	case decision.Reason == domain.DenialRateLimited && decision.RateLimit != nil:
		activity = "rate_limit_exceeded"
		metadata = domain.RateLimitMetadata(decision.RateLimit)
	case decision.Reason == domain.DenialQuotaExceeded && decision.Quota != nil:
		activity = "quota_exceeded"
		metadata = domain.QuotaMetadata(req.AgentID, decision.Quota.Reason)
	default:
		return
	}

	if _, err := f.monitor.RecordSuspiciousActivity(ctx, req.Identifier, activity, metadata); err != nil {
		logger.Error("Failed to report suspicious activity", err, map[string]interface{}{
			"identifier": req.Identifier,
			"activity":   activity,
		})
	}
}
