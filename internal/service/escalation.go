package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"admission-control/internal/domain"
	"admission-control/internal/metrics"
)

// MonitoringDuration é o prazo do marcador criado por increase_monitoring
const MonitoringDuration = 24 * time.Hour

// SuspicionReason é o motivo gravado por suspend_agent
const SuspicionReason = "suspicious activity"

// ActionHandler executa uma ação de escalonamento; deve ser idempotente
type ActionHandler func(ctx context.Context, escalation domain.Escalation) error

// ActionRegistry associa cada ação nomeada ao seu handler
type ActionRegistry map[domain.EscalationAction]ActionHandler

// NewActionRegistry monta o registry com as quatro ações conhecidas
func NewActionRegistry(
	blocks domain.BlockListStore,
	suspensions domain.SuspensionStore,
	alerts domain.AlertLog,
	monitoring domain.MonitoringStore,
) ActionRegistry {
	return ActionRegistry{
		domain.ActionBlockIP: func(ctx context.Context, e domain.Escalation) error {
			return blocks.Block(ctx, e.Identifier)
		},
		domain.ActionSuspendAgent: func(ctx context.Context, e domain.Escalation) error {
			return suspensions.Suspend(ctx, e.Identifier, SuspicionReason)
		},
		domain.ActionAlertAdmin: func(ctx context.Context, e domain.Escalation) error {
			_, err := alerts.Alert(ctx, domain.AlertRecord{
				Identifier: e.Identifier,
				Activities: e.Activities,
				Timestamp:  e.Timestamp.UnixMilli(),
				Severity:   domain.SeverityHigh,
				Message: fmt.Sprintf("Suspicious activity threshold reached for %s: %d events in the last hour",
					e.Identifier, len(e.Activities)),
			})
			return err
		},
		domain.ActionIncreaseMonitoring: func(ctx context.Context, e domain.Escalation) error {
			return monitoring.EnableMonitoring(ctx, e.Identifier, MonitoringDuration)
		},
	}
}

// EscalationDispatcherService executa as ações configuradas, em ordem
type EscalationDispatcherService struct {
	actions  []domain.EscalationAction
	handlers ActionRegistry
	logger   domain.Logger
	metrics  *metrics.Metrics
}

// NewEscalationDispatcher valida as ações configuradas contra o registry.
// Ação desconhecida ou sem handler é erro de configuração.
func NewEscalationDispatcher(
	actions []domain.EscalationAction,
	registry ActionRegistry,
	logger domain.Logger,
	m *metrics.Metrics,
) (*EscalationDispatcherService, error) {
	for _, action := range actions {
		if !action.Valid() {
			return nil, domain.InvalidConfigf("unknown escalation action %q", action)
		}
		if registry[action] == nil {
			return nil, domain.InvalidConfigf("no handler registered for escalation action %q", action)
		}
	}

	return &EscalationDispatcherService{
		actions:  append([]domain.EscalationAction(nil), actions...),
		handlers: registry,
		logger:   logger,
		metrics:  m,
	}, nil
}

// Dispatch executa todas as ações mesmo que alguma falhe e agrega os erros
func (d *EscalationDispatcherService) Dispatch(ctx context.Context, escalation domain.Escalation) error {
	var errs []error

	for _, action := range d.actions {
		err := d.handlers[action](ctx, escalation)
		d.metrics.ObserveEscalationAction(string(action), err)

		if err != nil {
			d.logger.Error("Escalation action failed", err, map[string]interface{}{
				"identifier": escalation.Identifier,
				"action":     action,
			})
			errs = append(errs, fmt.Errorf("%s: %w", action, err))
			continue
		}

		d.logger.Info("Escalation action executed", map[string]interface{}{
			"identifier": escalation.Identifier,
			"action":     action,
		})
	}

	return errors.Join(errs...)
}
