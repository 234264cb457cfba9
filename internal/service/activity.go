package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"admission-control/internal/domain"
	"admission-control/internal/metrics"
	"admission-control/internal/storage"
)

// ActivityWindow é a janela móvel usada na contagem de atividades suspeitas
const ActivityWindow = time.Hour

// ActivityMonitorService implementa domain.ActivityMonitor.
// O estado Normal -> Escalated fica em security/escalations/{identifier};
// somente a chamada que muda o estado dispara o dispatcher.
type ActivityMonitorService struct {
	store      domain.KeyValueStore
	dispatcher domain.EscalationDispatcher
	threshold  int
	logger     domain.Logger
	metrics    *metrics.Metrics
	now        domain.Clock
}

// NewActivityMonitorService cria uma nova instância do monitor
func NewActivityMonitorService(
	store domain.KeyValueStore,
	dispatcher domain.EscalationDispatcher,
	security domain.SecurityConfig,
	logger domain.Logger,
	m *metrics.Metrics,
	clock domain.Clock,
) *ActivityMonitorService {
	return &ActivityMonitorService{
		store:      store,
		dispatcher: dispatcher,
		threshold:  security.SuspiciousActivity.Threshold,
		logger:     logger,
		metrics:    m,
		now:        systemClock(clock),
	}
}

// RecordSuspiciousActivity grava, reconta a última hora e talvez escalona.
// A recontagem acontece depois do append para incluir o próprio evento.
func (s *ActivityMonitorService) RecordSuspiciousActivity(
	ctx context.Context,
	identifier, activity string,
	metadata domain.ActivityMetadata,
) (*domain.ActivityOutcome, error) {
	if err := validIdentifier("identifier", identifier); err != nil {
		return nil, err
	}
	if err := metadata.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidRequest, err)
	}

	now := s.now()
	logPath := storage.SuspiciousPath(identifier)
	raw, err := encodeValue(logPath, domain.SuspiciousActivityRecord{
		Identifier: identifier,
		Activity:   activity,
		Timestamp:  now.UnixMilli(),
		Metadata:   metadata,
	})
	if err != nil {
		return nil, err
	}
	if _, err := s.store.Append(ctx, logPath, raw); err != nil {
		return nil, fmt.Errorf("failed to record suspicious activity: %w", err)
	}
	s.metrics.ObserveSuspicious(string(metadata.Kind))

	recent, err := s.recent(ctx, identifier, now)
	if err != nil {
		return nil, err
	}

	outcome := &domain.ActivityOutcome{
		Identifier: identifier,
		Count:      len(recent),
		Threshold:  s.threshold,
	}

	s.logger.Warn("Suspicious activity recorded", map[string]interface{}{
		"identifier": identifier,
		"activity":   activity,
		"kind":       metadata.Kind,
		"count":      outcome.Count,
		"threshold":  s.threshold,
	})

	if outcome.Count < s.threshold {
		return outcome, nil
	}

	transitioned, err := s.escalate(ctx, identifier, now, outcome.Count)
	if err != nil {
		return outcome, err
	}
	if !transitioned {
		return outcome, nil
	}
	outcome.Escalated = true

	s.logger.Warn("Identifier escalated", map[string]interface{}{
		"identifier": identifier,
		"count":      outcome.Count,
	})

	err = s.dispatcher.Dispatch(ctx, domain.Escalation{
		Identifier: identifier,
		Activities: recent,
		Timestamp:  now,
	})
	if err != nil {
		// Volta para Normal para que o próximo registro acima do limiar tente de novo
		if rbErr := s.rollback(ctx, identifier, now); rbErr != nil {
			s.logger.Error("Failed to roll back escalation state", rbErr, map[string]interface{}{
				"identifier": identifier,
			})
		}
		return outcome, fmt.Errorf("escalation actions failed: %w", err)
	}
	return outcome, nil
}

// RecentActivity retorna os registros da última hora em ordem cronológica
func (s *ActivityMonitorService) RecentActivity(ctx context.Context, identifier string) ([]domain.SuspiciousActivityRecord, error) {
	if err := validIdentifier("identifier", identifier); err != nil {
		return nil, err
	}
	return s.recent(ctx, identifier, s.now())
}

// IsEscalated é uma leitura pura do estado persistido
func (s *ActivityMonitorService) IsEscalated(ctx context.Context, identifier string) (bool, error) {
	path := storage.EscalationPath(identifier)
	raw, err := s.store.Get(ctx, path)
	if err != nil {
		return false, fmt.Errorf("failed to read escalation state: %w", err)
	}
	state, err := decodeValue[domain.EscalationState](path, raw)
	if err != nil {
		return false, err
	}
	return state.Escalated, nil
}

// ClearEscalation volta o identificador ao estado Normal (uso administrativo)
func (s *ActivityMonitorService) ClearEscalation(ctx context.Context, identifier string) error {
	if err := validIdentifier("identifier", identifier); err != nil {
		return err
	}
	if err := s.store.Delete(ctx, storage.EscalationPath(identifier)); err != nil {
		return fmt.Errorf("failed to clear escalation: %w", err)
	}

	s.logger.Info("Escalation cleared", map[string]interface{}{"identifier": identifier})
	return nil
}

// escalate muda Normal -> Escalated atomicamente e informa se esta chamada mudou o estado
func (s *ActivityMonitorService) escalate(ctx context.Context, identifier string, now time.Time, count int) (bool, error) {
	path := storage.EscalationPath(identifier)

	transitioned := false
	_, err := s.store.Update(ctx, path, func(current []byte) ([]byte, error) {
		transitioned = false
		state, err := decodeValue[domain.EscalationState](path, current)
		if err != nil {
			return nil, err
		}
		if state.Escalated {
			return current, nil
		}
		transitioned = true
		return encodeValue(path, domain.EscalationState{
			Escalated:    true,
			Timestamp:    now.UnixMilli(),
			TriggerCount: count,
		})
	})
	if err != nil {
		return false, fmt.Errorf("failed to update escalation state: %w", err)
	}
	return transitioned, nil
}

// rollback desfaz a transição feita por esta chamada; um estado gravado por outra
// transição (timestamp diferente) é preservado
func (s *ActivityMonitorService) rollback(ctx context.Context, identifier string, at time.Time) error {
	path := storage.EscalationPath(identifier)
	_, err := s.store.Update(ctx, path, func(current []byte) ([]byte, error) {
		state, err := decodeValue[domain.EscalationState](path, current)
		if err != nil {
			return nil, err
		}
		if !state.Escalated || state.Timestamp != at.UnixMilli() {
			return current, nil
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("failed to roll back escalation state: %w", err)
	}
	return nil
}

func (s *ActivityMonitorService) recent(ctx context.Context, identifier string, now time.Time) ([]domain.SuspiciousActivityRecord, error) {
	prefix := storage.SuspiciousPath(identifier) + "/"
	entries, err := s.store.Scan(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to load suspicious activity: %w", err)
	}

	cutoff := now.Add(-ActivityWindow).UnixMilli()
	records := make([]domain.SuspiciousActivityRecord, 0, len(entries))
	for path, raw := range entries {
		// Apenas filhos diretos do log deste identificador
		if strings.Contains(strings.TrimPrefix(path, prefix), "/") {
			continue
		}
		record, err := decodeValue[domain.SuspiciousActivityRecord](path, raw)
		if err != nil {
			s.logger.Warn("Skipping undecodable activity record", map[string]interface{}{"path": path})
			continue
		}
		if record.Timestamp > cutoff {
			records = append(records, record)
		}
	}

	sort.SliceStable(records, func(i, j int) bool { return records[i].Timestamp < records[j].Timestamp })
	return records, nil
}
