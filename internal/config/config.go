package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"admission-control/internal/domain"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config representa todas as configurações da aplicação
type Config struct {
	// Server Configuration
	ServerPort string
	GinMode    string

	// Logging Configuration
	LogLevel  string
	LogFormat string

	// Storage Configuration
	StorageType    string
	RedisHost      string
	RedisPort      string
	RedisPassword  string
	RedisDB        int
	RedisNamespace string

	// Circuit breaker do storage
	BreakerMaxFailures uint32
	BreakerTimeout     time.Duration

	// Admission Configuration
	CheckTimeout time.Duration
	FailOpen     bool

	// Proxies cujos X-Forwarded-For/X-Real-IP são aceitos (vazio: nenhum)
	TrustedProxies []string

	// Retention Configuration
	SweepInterval  time.Duration
	QuotaRetention time.Duration

	// Security policy (YAML)
	SecurityPolicyFile string
	Security           domain.SecurityConfig
}

// ConfigLoader carrega a configuração do ambiente e do arquivo de política
type ConfigLoader struct {
	config *Config
}

// NewConfigLoader cria uma nova instância do ConfigLoader
func NewConfigLoader() *ConfigLoader {
	return &ConfigLoader{}
}

// DefaultSecurityConfig retorna a política usada quando nenhum arquivo é informado
func DefaultSecurityConfig() domain.SecurityConfig {
	return domain.SecurityConfig{
		RateLimits: map[domain.Category]domain.RateLimitPolicy{
			domain.CategoryAPI:      {WindowMs: 60000, Max: 100},
			domain.CategoryAgents:   {WindowMs: 60000, Max: 10},
			domain.CategoryMessages: {WindowMs: 60000, Max: 50},
		},
		TokenLimits: domain.TokenLimitPolicy{
			MaxInputTokensPerHour:  50000,
			MaxOutputTokensPerHour: 50000,
			MaxCostPerDay:          100,
		},
		SuspiciousActivity: domain.SuspiciousActivityPolicy{
			Threshold: 5,
			Actions:   []domain.EscalationAction{domain.ActionAlertAdmin, domain.ActionIncreaseMonitoring},
		},
	}
}

// LoadConfig carrega as configurações do .env e da política de segurança
func (c *ConfigLoader) LoadConfig() (*Config, error) {
	// Carrega o arquivo .env se existir
	if err := godotenv.Load(); err != nil {
		// Se não encontrar .env, continua com variáveis do sistema
		fmt.Fprintln(os.Stderr, "Warning: .env file not found, using system environment variables")
	}

	config, err := c.loadFromEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to load environment config: %w", err)
	}

	security, err := LoadSecurityPolicy(config.SecurityPolicyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load security policy: %w", err)
	}
	config.Security = security

	c.config = config
	return config, nil
}

// GetConfig retorna a configuração atual
func (c *ConfigLoader) GetConfig() *Config {
	return c.config
}

// LoadSecurityPolicy lê a política YAML sobre os valores padrão e a valida.
// Caminho vazio ou arquivo inexistente resultam na política padrão.
func LoadSecurityPolicy(path string) (domain.SecurityConfig, error) {
	security := DefaultSecurityConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			fmt.Fprintf(os.Stderr, "Warning: security policy file %s not found, using defaults\n", path)
		case err != nil:
			return domain.SecurityConfig{}, fmt.Errorf("reading %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, &security); err != nil {
				return domain.SecurityConfig{}, domain.InvalidConfigf("parsing %s: %v", path, err)
			}
		}
	}

	if err := ValidateSecurityConfig(security); err != nil {
		return domain.SecurityConfig{}, err
	}
	return security.Clone(), nil
}

// ValidateSecurityConfig rejeita limites não positivos e ações desconhecidas ou repetidas
func ValidateSecurityConfig(security domain.SecurityConfig) error {
	for _, category := range domain.Categories() {
		policy, ok := security.RateLimits[category]
		if !ok {
			return domain.InvalidConfigf("missing rate limit policy for category %q", category)
		}
		if policy.WindowMs <= 0 {
			return domain.InvalidConfigf("rateLimits.%s.windowMs must be greater than 0", category)
		}
		if policy.Window() > domain.MaxRateWindow {
			return domain.InvalidConfigf("rateLimits.%s.windowMs must not exceed %s", category, domain.MaxRateWindow)
		}
		if policy.Max <= 0 {
			return domain.InvalidConfigf("rateLimits.%s.max must be greater than 0", category)
		}
	}
	for category := range security.RateLimits {
		if !category.Valid() {
			return domain.InvalidConfigf("unknown rate limit category %q", category)
		}
	}

	limits := security.TokenLimits
	if limits.MaxInputTokensPerHour <= 0 {
		return domain.InvalidConfigf("tokenLimits.maxInputTokensPerHour must be greater than 0")
	}
	if limits.MaxOutputTokensPerHour <= 0 {
		return domain.InvalidConfigf("tokenLimits.maxOutputTokensPerHour must be greater than 0")
	}
	if limits.MaxCostPerDay <= 0 {
		return domain.InvalidConfigf("tokenLimits.maxCostPerDay must be greater than 0")
	}

	if security.SuspiciousActivity.Threshold <= 0 {
		return domain.InvalidConfigf("suspiciousActivity.threshold must be greater than 0")
	}
	seen := make(map[domain.EscalationAction]bool, len(security.SuspiciousActivity.Actions))
	for _, action := range security.SuspiciousActivity.Actions {
		if !action.Valid() {
			return domain.InvalidConfigf("unknown escalation action %q", action)
		}
		if seen[action] {
			return domain.InvalidConfigf("duplicate escalation action %q", action)
		}
		seen[action] = true
	}

	return nil
}

// loadFromEnv carrega configurações das variáveis de ambiente
func (c *ConfigLoader) loadFromEnv() (*Config, error) {
	config := &Config{
		// Server defaults
		ServerPort: getEnvWithDefault("SERVER_PORT", "8080"),
		GinMode:    getEnvWithDefault("GIN_MODE", "debug"),

		// Logging defaults
		LogLevel:  getEnvWithDefault("LOG_LEVEL", "info"),
		LogFormat: getEnvWithDefault("LOG_FORMAT", "json"),

		// Storage defaults
		StorageType:    strings.ToLower(getEnvWithDefault("STORAGE_TYPE", "memory")),
		RedisHost:      getEnvWithDefault("REDIS_HOST", "localhost"),
		RedisPort:      getEnvWithDefault("REDIS_PORT", "6379"),
		RedisPassword:  getEnvWithDefault("REDIS_PASSWORD", ""),
		RedisNamespace: getEnvWithDefault("REDIS_NAMESPACE", "admission"),

		SecurityPolicyFile: getEnvWithDefault("SECURITY_POLICY_FILE", "internal/config/security.yaml"),
	}

	var err error

	if config.RedisDB, err = strconv.Atoi(getEnvWithDefault("REDIS_DB", "0")); err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB value: %w", err)
	}

	maxFailures, err := strconv.ParseUint(getEnvWithDefault("STORE_BREAKER_MAX_FAILURES", "5"), 10, 32)
	if err != nil {
		return nil, fmt.Errorf("invalid STORE_BREAKER_MAX_FAILURES value: %w", err)
	}
	config.BreakerMaxFailures = uint32(maxFailures)

	if config.BreakerTimeout, err = time.ParseDuration(getEnvWithDefault("STORE_BREAKER_TIMEOUT", "30s")); err != nil {
		return nil, fmt.Errorf("invalid STORE_BREAKER_TIMEOUT value: %w", err)
	}

	if config.CheckTimeout, err = time.ParseDuration(getEnvWithDefault("CHECK_TIMEOUT", "2s")); err != nil {
		return nil, fmt.Errorf("invalid CHECK_TIMEOUT value: %w", err)
	}

	if config.FailOpen, err = strconv.ParseBool(getEnvWithDefault("FAIL_OPEN", "false")); err != nil {
		return nil, fmt.Errorf("invalid FAIL_OPEN value: %w", err)
	}

	if config.SweepInterval, err = time.ParseDuration(getEnvWithDefault("SWEEP_INTERVAL", "1h")); err != nil {
		return nil, fmt.Errorf("invalid SWEEP_INTERVAL value: %w", err)
	}

	if config.QuotaRetention, err = time.ParseDuration(getEnvWithDefault("QUOTA_RETENTION", "0s")); err != nil {
		return nil, fmt.Errorf("invalid QUOTA_RETENTION value: %w", err)
	}

	config.TrustedProxies = splitList(getEnvWithDefault("TRUSTED_PROXIES", ""))

	// Valida configurações obrigatórias
	if err := c.validateConfig(config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// validateConfig valida se as configurações são válidas
func (c *ConfigLoader) validateConfig(config *Config) error {
	if config.StorageType != "memory" && config.StorageType != "redis" {
		return domain.InvalidConfigf("STORAGE_TYPE must be memory or redis, got %q", config.StorageType)
	}

	if config.RedisDB < 0 || config.RedisDB > 15 {
		return domain.InvalidConfigf("REDIS_DB must be between 0 and 15")
	}

	if config.BreakerMaxFailures == 0 {
		return domain.InvalidConfigf("STORE_BREAKER_MAX_FAILURES must be greater than 0")
	}

	if config.BreakerTimeout <= 0 {
		return domain.InvalidConfigf("STORE_BREAKER_TIMEOUT must be greater than 0")
	}

	if config.CheckTimeout <= 0 {
		return domain.InvalidConfigf("CHECK_TIMEOUT must be greater than 0")
	}

	if config.SweepInterval < 0 {
		return domain.InvalidConfigf("SWEEP_INTERVAL must not be negative")
	}

	if config.QuotaRetention < 0 {
		return domain.InvalidConfigf("QUOTA_RETENTION must not be negative")
	}

	return nil
}

// getEnvWithDefault retorna o valor da variável de ambiente ou um valor padrão
func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// splitList separa uma lista por vírgulas descartando itens vazios
func splitList(value string) []string {
	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}
