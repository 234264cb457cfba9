package service

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"time"

	"admission-control/internal/domain"
	"admission-control/internal/storage"
)

// BlockListService mantém security/blockedIPs como um conjunto ordenado
type BlockListService struct {
	store  domain.KeyValueStore
	logger domain.Logger
}

// NewBlockListService cria uma nova instância do block list
func NewBlockListService(store domain.KeyValueStore, logger domain.Logger) *BlockListService {
	return &BlockListService{store: store, logger: logger}
}

// IsBlocked é uma leitura pura
func (s *BlockListService) IsBlocked(ctx context.Context, identifier string) (bool, error) {
	blocked, err := s.Blocked(ctx)
	if err != nil {
		return false, err
	}
	_, found := slices.BinarySearch(blocked, identifier)
	return found, nil
}

// Block adiciona o identificador se ausente
func (s *BlockListService) Block(ctx context.Context, identifier string) error {
	if err := validIdentifier("identifier", identifier); err != nil {
		return err
	}

	added := false
	_, err := s.store.Update(ctx, storage.BlockedIPsPath, func(current []byte) ([]byte, error) {
		set, err := decodeValue[[]string](storage.BlockedIPsPath, current)
		if err != nil {
			return nil, err
		}
		i, found := slices.BinarySearch(set, identifier)
		if added = !found; !added {
			return current, nil
		}
		return encodeValue(storage.BlockedIPsPath, slices.Insert(set, i, identifier))
	})
	if err != nil {
		return fmt.Errorf("failed to block identifier: %w", err)
	}

	if added {
		s.logger.Warn("Identifier blocked", map[string]interface{}{"identifier": identifier})
	}
	return nil
}

// Unblock remove o identificador (uso administrativo)
func (s *BlockListService) Unblock(ctx context.Context, identifier string) error {
	if err := validIdentifier("identifier", identifier); err != nil {
		return err
	}

	_, err := s.store.Update(ctx, storage.BlockedIPsPath, func(current []byte) ([]byte, error) {
		set, err := decodeValue[[]string](storage.BlockedIPsPath, current)
		if err != nil {
			return nil, err
		}
		i, found := slices.BinarySearch(set, identifier)
		if !found {
			return current, nil
		}
		set = slices.Delete(set, i, i+1)
		if len(set) == 0 {
			return nil, nil
		}
		return encodeValue(storage.BlockedIPsPath, set)
	})
	if err != nil {
		return fmt.Errorf("failed to unblock identifier: %w", err)
	}

	s.logger.Info("Identifier unblocked", map[string]interface{}{"identifier": identifier})
	return nil
}

// Blocked lista os identificadores bloqueados em ordem
func (s *BlockListService) Blocked(ctx context.Context) ([]string, error) {
	raw, err := s.store.Get(ctx, storage.BlockedIPsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read block list: %w", err)
	}
	set, err := decodeValue[[]string](storage.BlockedIPsPath, raw)
	if err != nil {
		return nil, err
	}
	// Conjuntos gravados por outras versões podem não estar ordenados
	if !slices.IsSorted(set) {
		slices.Sort(set)
	}
	return set, nil
}

// SuspensionService mantém security/suspendedAgents/{agentId} (last-write-wins)
type SuspensionService struct {
	store  domain.KeyValueStore
	logger domain.Logger
	now    domain.Clock
}

// NewSuspensionService cria uma nova instância do store de suspensões
func NewSuspensionService(store domain.KeyValueStore, logger domain.Logger, clock domain.Clock) *SuspensionService {
	return &SuspensionService{store: store, logger: logger, now: systemClock(clock)}
}

// IsSuspended é uma leitura pura
func (s *SuspensionService) IsSuspended(ctx context.Context, agentID string) (bool, error) {
	entry, err := s.Suspension(ctx, agentID)
	if err != nil {
		return false, err
	}
	return entry != nil && entry.Suspended, nil
}

// Suspension retorna a entrada atual ou nil
func (s *SuspensionService) Suspension(ctx context.Context, agentID string) (*domain.SuspensionEntry, error) {
	path := storage.SuspendedPath(agentID)
	raw, err := s.store.Get(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read suspension: %w", err)
	}
	if raw == nil {
		return nil, nil
	}
	entry, err := decodeValue[domain.SuspensionEntry](path, raw)
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (s *SuspensionService) Suspend(ctx context.Context, agentID, reason string) error {
	return s.write(ctx, agentID, true, reason)
}

func (s *SuspensionService) Unsuspend(ctx context.Context, agentID, reason string) error {
	return s.write(ctx, agentID, false, reason)
}

func (s *SuspensionService) write(ctx context.Context, agentID string, suspended bool, reason string) error {
	if err := validIdentifier("agent id", agentID); err != nil {
		return err
	}

	path := storage.SuspendedPath(agentID)
	raw, err := encodeValue(path, domain.SuspensionEntry{
		Suspended: suspended,
		Timestamp: s.now().UnixMilli(),
		Reason:    reason,
	})
	if err != nil {
		return err
	}
	if err := s.store.Set(ctx, path, raw); err != nil {
		return fmt.Errorf("failed to write suspension: %w", err)
	}

	s.logger.Warn("Agent suspension changed", map[string]interface{}{
		"agent_id":  agentID,
		"suspended": suspended,
		"reason":    reason,
	})
	return nil
}

// MonitoringService mantém os marcadores security/enhancedMonitoring/{identifier}
type MonitoringService struct {
	store  domain.KeyValueStore
	logger domain.Logger
	now    domain.Clock
}

// NewMonitoringService cria uma nova instância do store de monitoramento
func NewMonitoringService(store domain.KeyValueStore, logger domain.Logger, clock domain.Clock) *MonitoringService {
	return &MonitoringService{store: store, logger: logger, now: systemClock(clock)}
}

// IsMonitored retorna true enquanto o marcador estiver dentro do prazo
func (s *MonitoringService) IsMonitored(ctx context.Context, identifier string) (bool, error) {
	path := storage.MonitoringPath(identifier)
	raw, err := s.store.Get(ctx, path)
	if err != nil {
		return false, fmt.Errorf("failed to read monitoring marker: %w", err)
	}
	entry, err := decodeValue[domain.MonitoringEntry](path, raw)
	if err != nil {
		return false, err
	}
	return entry.Active(s.now()), nil
}

// EnableMonitoring grava (ou renova) o marcador com a duração informada
func (s *MonitoringService) EnableMonitoring(ctx context.Context, identifier string, duration time.Duration) error {
	if err := validIdentifier("identifier", identifier); err != nil {
		return err
	}
	if duration <= 0 {
		return fmt.Errorf("%w: monitoring duration must be positive", domain.ErrInvalidRequest)
	}

	path := storage.MonitoringPath(identifier)
	raw, err := encodeValue(path, domain.MonitoringEntry{
		Enabled:    true,
		Timestamp:  s.now().UnixMilli(),
		DurationMs: duration.Milliseconds(),
	})
	if err != nil {
		return err
	}
	if err := s.store.Set(ctx, path, raw); err != nil {
		return fmt.Errorf("failed to write monitoring marker: %w", err)
	}

	s.logger.Info("Enhanced monitoring enabled", map[string]interface{}{
		"identifier": identifier,
		"duration":   duration.String(),
	})
	return nil
}

// AlertLogService é o log append-only security/alerts/{autoId}
type AlertLogService struct {
	store  domain.KeyValueStore
	logger domain.Logger
}

// NewAlertLogService cria uma nova instância do log de alertas
func NewAlertLogService(store domain.KeyValueStore, logger domain.Logger) *AlertLogService {
	return &AlertLogService{store: store, logger: logger}
}

// Alert grava o alerta e retorna o caminho criado
func (s *AlertLogService) Alert(ctx context.Context, alert domain.AlertRecord) (string, error) {
	raw, err := encodeValue(storage.AlertsPath, alert)
	if err != nil {
		return "", err
	}
	path, err := s.store.Append(ctx, storage.AlertsPath, raw)
	if err != nil {
		return "", fmt.Errorf("failed to append alert: %w", err)
	}

	s.logger.Warn("Admin alert recorded", map[string]interface{}{
		"identifier": alert.Identifier,
		"severity":   alert.Severity,
		"path":       path,
	})
	return path, nil
}

// Alerts lista os alertas de um identificador (todos se vazio) em ordem cronológica
func (s *AlertLogService) Alerts(ctx context.Context, identifier string) ([]domain.AlertRecord, error) {
	entries, err := s.store.Scan(ctx, storage.AlertsPath+"/")
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}

	alerts := make([]domain.AlertRecord, 0, len(entries))
	for path, raw := range entries {
		alert, err := decodeValue[domain.AlertRecord](path, raw)
		if err != nil {
			s.logger.Warn("Skipping undecodable alert", map[string]interface{}{"path": path})
			continue
		}
		if identifier != "" && alert.Identifier != identifier {
			continue
		}
		alerts = append(alerts, alert)
	}
	sort.SliceStable(alerts, func(i, j int) bool { return alerts[i].Timestamp < alerts[j].Timestamp })
	return alerts, nil
}
