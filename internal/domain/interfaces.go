package domain

import (
	"context"
	"time"
)

// UpdateFunc recebe o valor atual (nil se ausente) e devolve o próximo valor.
// Retornar nil remove o caminho; retornar bytes iguais ao atual não escreve nada.
// A função pode ser chamada mais de uma vez e não deve ter efeitos colaterais
// fora das variáveis que ela própria reinicia.
type UpdateFunc func(current []byte) ([]byte, error)

// KeyValueStore define o contrato exigido do armazenamento compartilhado
// Implementa o Strategy Pattern: memória, Redis ou decoradores (circuit breaker)
type KeyValueStore interface {
	// Get recupera o valor de um caminho (nil, nil se não existir)
	Get(ctx context.Context, path string) ([]byte, error)

	// Set grava o valor de um caminho
	Set(ctx context.Context, path string, value []byte) error

	// Append cria um novo filho único sob path e retorna o caminho criado
	Append(ctx context.Context, path string, value []byte) (string, error)

	// Update executa read-modify-write atômico sobre exatamente um caminho
	Update(ctx context.Context, path string, fn UpdateFunc) ([]byte, error)

	// Delete remove um caminho
	Delete(ctx context.Context, path string) error

	// Scan retorna todos os caminhos (e valores) sob um prefixo
	Scan(ctx context.Context, prefix string) (map[string][]byte, error)

	// Health verifica se o storage está saudável
	Health(ctx context.Context) error

	// Close fecha a conexão com o storage
	Close() error
}

// SlidingWindowLimiter aplica "no máximo N operações por janela W"
type SlidingWindowLimiter interface {
	CheckAndRecord(ctx context.Context, identifier string, category Category) (*RateLimitResult, error)
	Status(ctx context.Context, identifier string, category Category) (*RateLimitStatus, error)
	Reset(ctx context.Context, identifier string, category Category) error
}

// QuotaTracker aplica orçamentos por hora (tokens) e por dia (custo)
type QuotaTracker interface {
	CheckAndConsume(ctx context.Context, agentID string, usage TokenUsage) (*QuotaResult, error)
	Usage(ctx context.Context, agentID string) (*QuotaUsage, error)
}

// ActivityMonitor registra atividades suspeitas e decide o escalonamento
type ActivityMonitor interface {
	RecordSuspiciousActivity(ctx context.Context, identifier, activity string, metadata ActivityMetadata) (*ActivityOutcome, error)
	RecentActivity(ctx context.Context, identifier string) ([]SuspiciousActivityRecord, error)
	IsEscalated(ctx context.Context, identifier string) (bool, error)
	ClearEscalation(ctx context.Context, identifier string) error
}

// EscalationDispatcher executa as ações configuradas de escalonamento
type EscalationDispatcher interface {
	Dispatch(ctx context.Context, escalation Escalation) error
}

// BlockListStore mantém o conjunto de identificadores bloqueados
type BlockListStore interface {
	IsBlocked(ctx context.Context, identifier string) (bool, error)
	Block(ctx context.Context, identifier string) error
	Unblock(ctx context.Context, identifier string) error
	Blocked(ctx context.Context) ([]string, error)
}

// SuspensionStore mantém o estado de suspensão por agente
type SuspensionStore interface {
	IsSuspended(ctx context.Context, agentID string) (bool, error)
	Suspend(ctx context.Context, agentID, reason string) error
	Unsuspend(ctx context.Context, agentID, reason string) error
	Suspension(ctx context.Context, agentID string) (*SuspensionEntry, error)
}

// MonitoringStore mantém os marcadores de monitoramento reforçado
type MonitoringStore interface {
	IsMonitored(ctx context.Context, identifier string) (bool, error)
	EnableMonitoring(ctx context.Context, identifier string, duration time.Duration) error
}

// AlertLog é o log append-only de alertas administrativos
type AlertLog interface {
	Alert(ctx context.Context, alert AlertRecord) (string, error)
	Alerts(ctx context.Context, identifier string) ([]AlertRecord, error)
}

// AdmissionService combina bloqueio, suspensão, janela e quota numa decisão
type AdmissionService interface {
	Admit(ctx context.Context, req AdmissionRequest) (*AdmissionDecision, error)
}

// Logger define a interface para logging estruturado
type Logger interface {
	Debug(msg string, fields map[string]interface{})
	Info(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Error(msg string, err error, fields map[string]interface{})
	WithContext(ctx context.Context) Logger
}

// Clock permite injetar o relógio nos serviços (testes usam relógio fixo)
type Clock func() time.Time
