package middleware

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"admission-control/internal/domain"
	"admission-control/internal/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Cabeçalhos lidos e escritos pelo middleware
const (
	HeaderRequestID = "X-Request-ID"
	HeaderAgentID   = "X-Agent-ID"
)

// admissionEventLogger é implementado pelo logger estruturado
type admissionEventLogger interface {
	LogAdmissionEvent(req domain.AdmissionRequest, decision *domain.AdmissionDecision)
}

// AdmissionMiddleware protege um grupo de rotas de uma categoria
type AdmissionMiddleware struct {
	service  domain.AdmissionService
	category domain.Category
	logger   domain.Logger
}

// NewAdmissionMiddleware cria o middleware de admissão para a categoria informada
func NewAdmissionMiddleware(
	service domain.AdmissionService,
	category domain.Category,
	logger domain.Logger,
) gin.HandlerFunc {
	middleware := &AdmissionMiddleware{
		service:  service,
		category: category,
		logger:   logger,
	}

	return middleware.Handle
}

// Handle é o handler principal do middleware
func (m *AdmissionMiddleware) Handle(c *gin.Context) {
	ctx := EnrichContext(c)
	log := m.logger.WithContext(ctx)

	req := domain.AdmissionRequest{
		Identifier: GetClientIP(c),
		AgentID:    GetAgentID(c),
		Category:   m.category,
	}

	decision, err := m.service.Admit(ctx, req)
	if err != nil {
		log.Error("Admission service error", err, map[string]interface{}{
			"identifier": req.Identifier,
			"category":   req.Category,
		})

		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": err.Error(),
		})
		c.Abort()
		return
	}

	if eventLogger, ok := log.(admissionEventLogger); ok {
		eventLogger.LogAdmissionEvent(req, decision)
	}

	SetRateLimitHeaders(c, decision.RateLimit)

	if !decision.Allowed {
		c.JSON(StatusForDecision(decision), DenialBody(decision))
		c.Abort()
		return
	}

	c.Next()
}

// StatusForDecision mapeia a decisão para o status HTTP
func StatusForDecision(decision *domain.AdmissionDecision) int {
	if decision.Allowed {
		return http.StatusOK
	}
	switch decision.Reason {
	case domain.DenialBlocked, domain.DenialSuspended:
		return http.StatusForbidden
	case domain.DenialRateLimited, domain.DenialQuotaExceeded:
		return http.StatusTooManyRequests
	default:
		return http.StatusServiceUnavailable
	}
}

// DenialBody monta o corpo JSON de uma negação
func DenialBody(decision *domain.AdmissionDecision) gin.H {
	body := gin.H{
		"error":  strings.ReplaceAll(string(decision.Reason), "-", "_"),
		"reason": decision.Reason,
	}

	switch decision.Reason {
	case domain.DenialRateLimited:
		body["message"] = "you have reached the maximum number of requests or actions allowed within a certain time frame"
	case domain.DenialQuotaExceeded:
		body["message"] = "token or cost quota exhausted for the current period"
	case domain.DenialBlocked:
		body["message"] = "caller is blocked"
	case domain.DenialSuspended:
		body["message"] = "agent is suspended"
	default:
		body["message"] = "admission state is temporarily unavailable"
	}

	if decision.RateLimit != nil {
		body["details"] = gin.H{
			"category":   decision.RateLimit.Category,
			"limit":      decision.RateLimit.Limit,
			"remaining":  decision.RateLimit.Remaining,
			"reset_time": decision.RateLimit.ResetTime.Unix(),
		}
	}
	if decision.Quota != nil && decision.Quota.Reason != "" {
		body["quota_reason"] = decision.Quota.Reason
	}
	if decision.Unreconciled {
		body["unreconciled"] = true
	}
	return body
}

// SetRateLimitHeaders define headers informativos da janela deslizante
func SetRateLimitHeaders(c *gin.Context, result *domain.RateLimitResult) {
	if result == nil {
		return
	}

	c.Header("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	c.Header("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	c.Header("X-RateLimit-Reset", strconv.FormatInt(result.ResetTime.Unix(), 10))
	c.Header("X-RateLimit-Category", string(result.Category))

	if !result.Allowed {
		retryAfter := int(math.Ceil(time.Until(result.ResetTime).Seconds()))
		if retryAfter > 0 {
			c.Header("Retry-After", strconv.Itoa(retryAfter))
		}
	}
}

// ConfigureClientIP define de quais proxies o router aceita X-Forwarded-For e X-Real-IP.
// Sem proxies confiáveis os cabeçalhos são ignorados e vale o RemoteAddr.
func ConfigureClientIP(router *gin.Engine, trustedProxies []string) error {
	router.ForwardedByClientIP = true
	router.RemoteIPHeaders = []string{"X-Forwarded-For", "X-Real-IP"}
	return router.SetTrustedProxies(trustedProxies)
}

// GetClientIP extrai o IP do cliente; cabeçalhos de proxy só contam quando o
// RemoteAddr é um proxy confiável (ver ConfigureClientIP)
func GetClientIP(c *gin.Context) string {
	if ip := c.ClientIP(); ip != "" {
		return ip
	}

	// RemoteAddr fora do formato host:porta
	if host, _, err := net.SplitHostPort(c.Request.RemoteAddr); err == nil {
		return host
	}
	return c.Request.RemoteAddr
}

// GetAgentID extrai o agente do cabeçalho X-Agent-ID
func GetAgentID(c *gin.Context) string {
	return strings.TrimSpace(c.GetHeader(HeaderAgentID))
}

// GetRequestID obtém ou gera um Request ID para tracking
func GetRequestID(c *gin.Context) string {
	if requestID := c.GetString("request_id"); requestID != "" {
		return requestID
	}

	requestID := c.GetHeader(HeaderRequestID)
	if requestID == "" {
		requestID = uuid.New().String()
	}
	c.Set("request_id", requestID)
	c.Header(HeaderRequestID, requestID)
	return requestID
}

// EnrichContext adiciona as informações da requisição ao contexto para logging
func EnrichContext(c *gin.Context) context.Context {
	return logger.ContextWithRequestInfo(
		c.Request.Context(),
		GetRequestID(c),
		GetClientIP(c),
		GetAgentID(c),
		c.GetHeader("User-Agent"),
	)
}
