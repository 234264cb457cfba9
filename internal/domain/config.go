package domain

import "time"

// EscalationAction é uma ação nomeada executada no escalonamento
type EscalationAction string

const (
	ActionBlockIP            EscalationAction = "block_ip"
	ActionSuspendAgent       EscalationAction = "suspend_agent"
	ActionAlertAdmin         EscalationAction = "alert_admin"
	ActionIncreaseMonitoring EscalationAction = "increase_monitoring"
)

// EscalationActions retorna a enumeração fixa de ações
func EscalationActions() []EscalationAction {
	return []EscalationAction{ActionBlockIP, ActionSuspendAgent, ActionAlertAdmin, ActionIncreaseMonitoring}
}

// Valid verifica se a ação pertence à enumeração fixa
func (a EscalationAction) Valid() bool {
	for _, known := range EscalationActions() {
		if a == known {
			return true
		}
	}
	return false
}

// MaxRateWindow é a maior janela aceita; o sweeper descarta timestamps mais velhos que isso
const MaxRateWindow = 24 * time.Hour

// RateLimitPolicy define janela e máximo de uma categoria
type RateLimitPolicy struct {
	WindowMs int64 `json:"windowMs" yaml:"windowMs"`
	Max      int   `json:"max" yaml:"max"`
}

// Window retorna a janela como time.Duration
func (p RateLimitPolicy) Window() time.Duration {
	return time.Duration(p.WindowMs) * time.Millisecond
}

// TokenLimitPolicy define os tetos de quota
type TokenLimitPolicy struct {
	MaxInputTokensPerHour  int64   `json:"maxInputTokensPerHour" yaml:"maxInputTokensPerHour"`
	MaxOutputTokensPerHour int64   `json:"maxOutputTokensPerHour" yaml:"maxOutputTokensPerHour"`
	MaxCostPerDay          float64 `json:"maxCostPerDay" yaml:"maxCostPerDay"`
}

// SuspiciousActivityPolicy define limiar e ações de escalonamento
type SuspiciousActivityPolicy struct {
	Threshold int                `json:"threshold" yaml:"threshold"`
	Actions   []EscalationAction `json:"actions" yaml:"actions"`
}

// SecurityConfig é a configuração imutável carregada no startup
type SecurityConfig struct {
	RateLimits         map[Category]RateLimitPolicy `json:"rateLimits" yaml:"rateLimits"`
	TokenLimits        TokenLimitPolicy             `json:"tokenLimits" yaml:"tokenLimits"`
	SuspiciousActivity SuspiciousActivityPolicy     `json:"suspiciousActivity" yaml:"suspiciousActivity"`
}

// Clone devolve uma cópia profunda, usada para manter a configuração imutável
func (c SecurityConfig) Clone() SecurityConfig {
	out := c
	out.RateLimits = make(map[Category]RateLimitPolicy, len(c.RateLimits))
	for k, v := range c.RateLimits {
		out.RateLimits[k] = v
	}
	out.SuspiciousActivity.Actions = append([]EscalationAction(nil), c.SuspiciousActivity.Actions...)
	return out
}
