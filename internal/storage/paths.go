package storage

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"admission-control/internal/domain"
)

// Prefixos do namespace lógico de caminhos
const (
	RateLimitsPrefix  = "rateLimits/"
	TokenUsagePrefix  = "tokenUsage/"
	SuspiciousPrefix  = "security/suspicious/"
	BlockedIPsPath    = "security/blockedIPs"
	SuspendedPrefix   = "security/suspendedAgents/"
	AlertsPath        = "security/alerts"
	MonitoringPrefix  = "security/enhancedMonitoring/"
	EscalationsPrefix = "security/escalations/"
)

// segment escapa um identificador para ocupar exatamente um segmento do caminho
func segment(id string) string {
	return url.PathEscape(id)
}

// RateLimitPath constrói rateLimits/{identifier}/{category}
func RateLimitPath(identifier string, category domain.Category) string {
	return fmt.Sprintf("%s%s/%s", RateLimitsPrefix, segment(identifier), category)
}

// QuotaBucketPath constrói tokenUsage/{agentId}/{period}/{bucketStartMs}
func QuotaBucketPath(agentID string, period domain.PeriodKind, bucketStart time.Time) string {
	return fmt.Sprintf("%s%s/%s/%d", TokenUsagePrefix, segment(agentID), period, bucketStart.UnixMilli())
}

// ParseQuotaBucketPath extrai período e início do bucket de um caminho de quota
func ParseQuotaBucketPath(path string) (domain.PeriodKind, time.Time, bool) {
	parts := strings.Split(strings.TrimPrefix(path, TokenUsagePrefix), "/")
	if len(parts) != 3 {
		return "", time.Time{}, false
	}
	startMs, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return "", time.Time{}, false
	}
	return domain.PeriodKind(parts[1]), time.UnixMilli(startMs).UTC(), true
}

// SuspiciousPath constrói security/suspicious/{identifier}
func SuspiciousPath(identifier string) string {
	return SuspiciousPrefix + segment(identifier)
}

// SuspendedPath constrói security/suspendedAgents/{agentId}
func SuspendedPath(agentID string) string {
	return SuspendedPrefix + segment(agentID)
}

// MonitoringPath constrói security/enhancedMonitoring/{identifier}
func MonitoringPath(identifier string) string {
	return MonitoringPrefix + segment(identifier)
}

// EscalationPath constrói security/escalations/{identifier}
func EscalationPath(identifier string) string {
	return EscalationsPrefix + segment(identifier)
}
