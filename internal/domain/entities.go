package domain

import (
	"fmt"
	"time"
)

// Category define as categorias de recurso com limite por janela deslizante
type Category string

const (
	CategoryAPI      Category = "api"
	CategoryAgents   Category = "agents"
	CategoryMessages Category = "messages"
)

// Categories retorna todas as categorias suportadas
func Categories() []Category {
	return []Category{CategoryAPI, CategoryAgents, CategoryMessages}
}

// Valid verifica se a categoria pertence à enumeração fixa
func (c Category) Valid() bool {
	switch c {
	case CategoryAPI, CategoryAgents, CategoryMessages:
		return true
	}
	return false
}

// RateWindowEntry guarda os timestamps (ms) ainda considerados dentro da janela
type RateWindowEntry struct {
	Timestamps []int64 `json:"timestamps"`
}

// RateLimitResult representa o resultado de uma verificação da janela deslizante
type RateLimitResult struct {
	Allowed   bool      `json:"allowed"`
	Category  Category  `json:"category"`
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	ResetTime time.Time `json:"resetTime"`
}

// RateLimitStatus é a visão somente leitura de uma janela
type RateLimitStatus struct {
	Identifier string    `json:"identifier"`
	Category   Category  `json:"category"`
	Count      int       `json:"count"`
	Limit      int       `json:"limit"`
	WindowMs   int64     `json:"windowMs"`
	ResetTime  time.Time `json:"resetTime"`
}

// PeriodKind identifica o tipo de bucket de quota
type PeriodKind string

const (
	PeriodHourly PeriodKind = "hourly"
	PeriodDaily  PeriodKind = "daily"
)

// QuotaBucket acumula o consumo de um agente em um período fixo
type QuotaBucket struct {
	InputTokens  int64   `json:"inputTokens,omitempty"`
	OutputTokens int64   `json:"outputTokens,omitempty"`
	Cost         float64 `json:"cost"`
}

// QuotaReason identifica qual teto foi violado
type QuotaReason string

const (
	ReasonHourlyInput  QuotaReason = "hourly-input"
	ReasonHourlyOutput QuotaReason = "hourly-output"
	ReasonDailyCost    QuotaReason = "daily-cost"
)

// TokenUsage descreve o consumo de uma operação
type TokenUsage struct {
	InputTokens  int64   `json:"inputTokens"`
	OutputTokens int64   `json:"outputTokens"`
	Cost         float64 `json:"cost"`
}

// QuotaResult representa o resultado de CheckAndConsume
type QuotaResult struct {
	Allowed bool        `json:"allowed"`
	Reason  QuotaReason `json:"reason,omitempty"`
	Hourly  QuotaBucket `json:"hourly"`
	Daily   QuotaBucket `json:"daily"`
}

// QuotaUsage é a visão somente leitura dos buckets atuais de um agente
type QuotaUsage struct {
	AgentID     string      `json:"agentId"`
	HourlyStart time.Time   `json:"hourlyStart"`
	DailyStart  time.Time   `json:"dailyStart"`
	Hourly      QuotaBucket `json:"hourly"`
	Daily       QuotaBucket `json:"daily"`
}

// ActivityKind é a tag do payload de metadados de atividade suspeita
type ActivityKind string

const (
	ActivityRateLimit    ActivityKind = "rate_limit"
	ActivityQuota        ActivityKind = "quota"
	ActivityAccessDenied ActivityKind = "access_denied"
	ActivityReport       ActivityKind = "report"
)

// RateLimitDetail acompanha atividades do tipo rate_limit
type RateLimitDetail struct {
	Category  Category `json:"category"`
	Limit     int      `json:"limit"`
	ResetTime int64    `json:"resetTime"`
}

// QuotaDetail acompanha atividades do tipo quota
type QuotaDetail struct {
	AgentID string      `json:"agentId"`
	Reason  QuotaReason `json:"reason"`
}

// AccessDetail acompanha atividades do tipo access_denied
type AccessDetail struct {
	Reason string `json:"reason"`
}

// ReportDetail acompanha atividades reportadas por outros componentes
type ReportDetail struct {
	Source  string `json:"source"`
	Details string `json:"details,omitempty"`
}

// ActivityMetadata é uma variante fechada: Kind define qual detalhe está presente
type ActivityMetadata struct {
	Kind      ActivityKind     `json:"kind"`
	RateLimit *RateLimitDetail `json:"rateLimit,omitempty"`
	Quota     *QuotaDetail     `json:"quota,omitempty"`
	Access    *AccessDetail    `json:"access,omitempty"`
	Report    *ReportDetail    `json:"report,omitempty"`
}

// Validate garante que exatamente o detalhe correspondente a Kind está preenchido
func (m ActivityMetadata) Validate() error {
	set := 0
	for _, present := range []bool{m.RateLimit != nil, m.Quota != nil, m.Access != nil, m.Report != nil} {
		if present {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("activity metadata must carry exactly one detail, got %d", set)
	}

	var ok bool
	switch m.Kind {
	case ActivityRateLimit:
		ok = m.RateLimit != nil
	case ActivityQuota:
		ok = m.Quota != nil
	case ActivityAccessDenied:
		ok = m.Access != nil
	case ActivityReport:
		ok = m.Report != nil
	default:
		return fmt.Errorf("unknown activity kind %q", m.Kind)
	}
	if !ok {
		return fmt.Errorf("activity metadata detail does not match kind %q", m.Kind)
	}
	return nil
}

// RateLimitMetadata constrói metadados para um excesso de janela
func RateLimitMetadata(result *RateLimitResult) ActivityMetadata {
	return ActivityMetadata{
		Kind: ActivityRateLimit,
		RateLimit: &RateLimitDetail{
			Category:  result.Category,
			Limit:     result.Limit,
			ResetTime: result.ResetTime.UnixMilli(),
		},
	}
}

// QuotaMetadata constrói metadados para um excesso de quota
func QuotaMetadata(agentID string, reason QuotaReason) ActivityMetadata {
	return ActivityMetadata{
		Kind:  ActivityQuota,
		Quota: &QuotaDetail{AgentID: agentID, Reason: reason},
	}
}

// ReportMetadata constrói metadados para atividades reportadas externamente
func ReportMetadata(source, details string) ActivityMetadata {
	return ActivityMetadata{
		Kind:   ActivityReport,
		Report: &ReportDetail{Source: source, Details: details},
	}
}

// SuspiciousActivityRecord é uma entrada do log append-only por identificador
type SuspiciousActivityRecord struct {
	Identifier string           `json:"identifier"`
	Activity   string           `json:"activity"`
	Timestamp  int64            `json:"timestamp"`
	Metadata   ActivityMetadata `json:"metadata"`
}

// ActivityOutcome descreve o efeito de recordSuspiciousActivity
type ActivityOutcome struct {
	Identifier string `json:"identifier"`
	Count      int    `json:"count"`
	Threshold  int    `json:"threshold"`
	Escalated  bool   `json:"escalated"`
}

// EscalationState persiste a máquina de estados Normal -> Escalated
type EscalationState struct {
	Escalated    bool  `json:"escalated"`
	Timestamp    int64 `json:"timestamp"`
	TriggerCount int   `json:"triggerCount"`
}

// Escalation é o contexto entregue às ações de escalonamento
type Escalation struct {
	Identifier string
	Activities []SuspiciousActivityRecord
	Timestamp  time.Time
}

// SuspensionEntry representa a suspensão de um agente (last-write-wins)
type SuspensionEntry struct {
	Suspended bool   `json:"suspended"`
	Timestamp int64  `json:"timestamp"`
	Reason    string `json:"reason"`
}

// Severity classifica alertas administrativos
type Severity string

const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
)

// AlertRecord é o payload do log de alertas administrativos
type AlertRecord struct {
	Identifier string                     `json:"identifier"`
	Activities []SuspiciousActivityRecord `json:"activities"`
	Timestamp  int64                      `json:"timestamp"`
	Severity   Severity                   `json:"severity"`
	Message    string                     `json:"message"`
}

// MonitoringEntry marca um identificador para monitoramento reforçado
type MonitoringEntry struct {
	Enabled    bool  `json:"enabled"`
	Timestamp  int64 `json:"timestamp"`
	DurationMs int64 `json:"durationMs"`
}

// Active verifica se o marcador ainda está dentro do prazo
func (m MonitoringEntry) Active(now time.Time) bool {
	return m.Enabled && now.UnixMilli() < m.Timestamp+m.DurationMs
}

// AdmissionRequest descreve uma operação a ser admitida
type AdmissionRequest struct {
	Identifier string      `json:"identifier"`
	AgentID    string      `json:"agentId,omitempty"`
	Category   Category    `json:"category"`
	Usage      *TokenUsage `json:"usage,omitempty"`
}

// DenialReason identifica por que uma admissão foi negada
type DenialReason string

const (
	DenialBlocked          DenialReason = "blocked"
	DenialSuspended        DenialReason = "suspended"
	DenialRateLimited      DenialReason = "rate-limited"
	DenialQuotaExceeded    DenialReason = "quota-exceeded"
	DenialStoreUnavailable DenialReason = "store-unavailable"
)

// AdmissionDecision é o resultado estruturado do facade de admissão
type AdmissionDecision struct {
	Allowed      bool             `json:"allowed"`
	Reason       DenialReason     `json:"reason,omitempty"`
	RateLimit    *RateLimitResult `json:"rateLimit,omitempty"`
	Quota        *QuotaResult     `json:"quota,omitempty"`
	FailedOpen   bool             `json:"failedOpen,omitempty"`
	Unreconciled bool             `json:"unreconciled,omitempty"`
}

// SweepReport resume uma passada do RetentionSweeper
type SweepReport struct {
	RateEntriesScanned  int `json:"rateEntriesScanned"`
	TimestampsRemoved   int `json:"timestampsRemoved"`
	RateEntriesDeleted  int `json:"rateEntriesDeleted"`
	ActivitiesRemoved   int `json:"activitiesRemoved"`
	MonitoringRemoved   int `json:"monitoringRemoved"`
	QuotaBucketsRemoved int `json:"quotaBucketsRemoved"`
}
