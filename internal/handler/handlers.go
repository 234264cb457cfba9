package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"admission-control/internal/domain"
	"admission-control/internal/logger"
	"admission-control/internal/metrics"
	"admission-control/internal/middleware"

	"github.com/gin-gonic/gin"
)

// healthTimeout limita o health check do storage
const healthTimeout = 2 * time.Second

// Sweeper é a parte do RetentionSweeper usada pelas rotas administrativas
type Sweeper interface {
	Sweep(ctx context.Context) (*domain.SweepReport, error)
	SweepQuotaBuckets(ctx context.Context, retention time.Duration) (int, error)
}

// Dependencies agrupa os serviços expostos pela API
type Dependencies struct {
	Store       domain.KeyValueStore
	Admission   domain.AdmissionService
	Limiter     domain.SlidingWindowLimiter
	Quota       domain.QuotaTracker
	Monitor     domain.ActivityMonitor
	Blocks      domain.BlockListStore
	Suspensions domain.SuspensionStore
	Monitoring  domain.MonitoringStore
	Alerts      domain.AlertLog
	Sweeper     Sweeper
	Metrics     *metrics.Metrics

	// QuotaRetention habilita a limpeza de buckets de quota em /admin/sweep
	QuotaRetention time.Duration
}

// Handlers contém os handlers da API
type Handlers struct {
	deps      Dependencies
	logger    domain.Logger
	startTime time.Time
}

// NewHandlers cria uma nova instância dos handlers
func NewHandlers(deps Dependencies, logger domain.Logger) *Handlers {
	return &Handlers{
		deps:      deps,
		logger:    logger,
		startTime: time.Now(),
	}
}

// SetupRoutes configura as rotas da API
func (h *Handlers) SetupRoutes(router *gin.Engine) {
	// Rotas públicas (sem admissão)
	router.GET("/health", h.HealthHandler)
	if h.deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(h.deps.Metrics.Handler()))
	}

	// API de decisão consumida por outros serviços
	v1 := router.Group("/v1")
	{
		v1.POST("/admission", h.AdmissionHandler)
		v1.POST("/suspicious", h.SuspiciousHandler)
		v1.GET("/usage/:agentId", h.UsageHandler)
	}

	// Rotas protegidas, uma categoria por grupo
	api := router.Group("/api")
	api.Use(middleware.NewAdmissionMiddleware(h.deps.Admission, domain.CategoryAPI, h.logger))
	{
		api.GET("/ping", h.ExampleHandler)
	}

	agents := router.Group("/agents")
	agents.Use(middleware.NewAdmissionMiddleware(h.deps.Admission, domain.CategoryAgents, h.logger))
	{
		agents.POST("/run", h.ExampleHandler)
	}

	messages := router.Group("/messages")
	messages.Use(middleware.NewAdmissionMiddleware(h.deps.Admission, domain.CategoryMessages, h.logger))
	{
		messages.POST("", h.ExampleHandler)
	}

	// Rotas administrativas (sem admissão)
	admin := router.Group("/admin")
	{
		admin.GET("/status/:identifier", h.AdminStatusHandler)
		admin.POST("/reset", h.AdminResetHandler)
		admin.GET("/blocked", h.AdminBlockedHandler)
		admin.POST("/block", h.AdminBlockHandler)
		admin.DELETE("/block/:identifier", h.AdminUnblockHandler)
		admin.POST("/suspend", h.AdminSuspendHandler)
		admin.DELETE("/suspend/:agentId", h.AdminUnsuspendHandler)
		admin.DELETE("/escalations/:identifier", h.AdminClearEscalationHandler)
		admin.GET("/alerts/:identifier", h.AdminAlertsHandler)
		admin.POST("/sweep", h.AdminSweepHandler)
	}
}

// HealthHandler verifica o storage compartilhado
func (h *Handlers) HealthHandler(c *gin.Context) {
	response := gin.H{
		"status":    "healthy",
		"service":   "Admission Control API",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"uptime":    time.Since(h.startTime).Round(time.Second).String(),
		"version":   "1.0.0",
	}

	if h.deps.Store != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
		defer cancel()

		if err := h.deps.Store.Health(ctx); err != nil {
			response["status"] = "unhealthy"
			response["store"] = err.Error()
			c.JSON(http.StatusServiceUnavailable, response)
			return
		}
		response["store"] = "ok"
	}

	c.JSON(http.StatusOK, response)
}

// ExampleHandler responde às rotas protegidas depois da admissão
func (h *Handlers) ExampleHandler(c *gin.Context) {
	clientIP := middleware.GetClientIP(c)

	h.log(c).Debug("Protected endpoint accessed", map[string]interface{}{
		"client_ip": clientIP,
		"path":      c.Request.URL.Path,
	})

	response := gin.H{
		"message":   "admitted",
		"service":   "Admission Control API",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"client_ip": clientIP,
		"path":      c.Request.URL.Path,
		"method":    c.Request.Method,
	}
	if agentID := middleware.GetAgentID(c); agentID != "" {
		response["agent_id"] = logger.MaskIdentifier(agentID)
	}

	c.JSON(http.StatusOK, response)
}

// AdmissionRequest é o corpo de POST /v1/admission
type AdmissionRequest struct {
	Identifier string             `json:"identifier" binding:"required"`
	AgentID    string             `json:"agentId"`
	Category   string             `json:"category" binding:"required"`
	Usage      *domain.TokenUsage `json:"usage"`
}

// AdmissionHandler avalia uma operação sem executá-la
func (h *Handlers) AdmissionHandler(c *gin.Context) {
	var req AdmissionRequest
	if !h.bind(c, &req) {
		return
	}

	decision, err := h.deps.Admission.Admit(c.Request.Context(), domain.AdmissionRequest{
		Identifier: strings.TrimSpace(req.Identifier),
		AgentID:    strings.TrimSpace(req.AgentID),
		Category:   domain.Category(strings.ToLower(strings.TrimSpace(req.Category))),
		Usage:      req.Usage,
	})
	if err != nil {
		h.fail(c, err, "Failed to evaluate admission")
		return
	}

	middleware.SetRateLimitHeaders(c, decision.RateLimit)
	c.JSON(http.StatusOK, decision)
}

// SuspiciousRequest é o corpo de POST /v1/suspicious
type SuspiciousRequest struct {
	Identifier string `json:"identifier" binding:"required"`
	Activity   string `json:"activity" binding:"required"`
	Source     string `json:"source" binding:"required"`
	Details    string `json:"details"`
}

// SuspiciousHandler registra uma atividade suspeita reportada por outro componente
func (h *Handlers) SuspiciousHandler(c *gin.Context) {
	var req SuspiciousRequest
	if !h.bind(c, &req) {
		return
	}

	outcome, err := h.deps.Monitor.RecordSuspiciousActivity(
		c.Request.Context(),
		strings.TrimSpace(req.Identifier),
		req.Activity,
		domain.ReportMetadata(req.Source, req.Details),
	)
	if err != nil && outcome == nil {
		h.fail(c, err, "Failed to record suspicious activity")
		return
	}

	response := gin.H{"outcome": outcome}
	if err != nil {
		// registro gravado, mas alguma ação de escalonamento falhou
		h.log(c).Error("Escalation actions failed", err, map[string]interface{}{
			"identifier": outcome.Identifier,
		})
		response["escalation_error"] = err.Error()
	}
	c.JSON(http.StatusAccepted, response)
}

// UsageHandler retorna os buckets de quota atuais de um agente
func (h *Handlers) UsageHandler(c *gin.Context) {
	usage, err := h.deps.Quota.Usage(c.Request.Context(), c.Param("agentId"))
	if err != nil {
		h.fail(c, err, "Failed to read quota usage")
		return
	}
	c.JSON(http.StatusOK, usage)
}

// AdminStatusHandler agrega o estado de um identificador (e opcionalmente de um agente)
func (h *Handlers) AdminStatusHandler(c *gin.Context) {
	ctx := c.Request.Context()
	identifier := strings.TrimSpace(c.Param("identifier"))

	blocked, err := h.deps.Blocks.IsBlocked(ctx, identifier)
	if err != nil {
		h.fail(c, err, "Failed to read block list")
		return
	}

	escalated, err := h.deps.Monitor.IsEscalated(ctx, identifier)
	if err != nil {
		h.fail(c, err, "Failed to read escalation state")
		return
	}

	recent, err := h.deps.Monitor.RecentActivity(ctx, identifier)
	if err != nil {
		h.fail(c, err, "Failed to read suspicious activity")
		return
	}

	monitored, err := h.deps.Monitoring.IsMonitored(ctx, identifier)
	if err != nil {
		h.fail(c, err, "Failed to read monitoring state")
		return
	}

	rateLimits := make(map[domain.Category]*domain.RateLimitStatus, len(domain.Categories()))
	for _, category := range domain.Categories() {
		status, err := h.deps.Limiter.Status(ctx, identifier, category)
		if err != nil {
			h.fail(c, err, "Failed to read rate limit status")
			return
		}
		rateLimits[category] = status
	}

	response := gin.H{
		"identifier":      identifier,
		"blocked":         blocked,
		"escalated":       escalated,
		"monitored":       monitored,
		"recent_activity": len(recent),
		"rate_limits":     rateLimits,
		"timestamp":       time.Now().UTC().Format(time.RFC3339),
	}

	if agentID := strings.TrimSpace(c.Query("agentId")); agentID != "" {
		suspension, err := h.deps.Suspensions.Suspension(ctx, agentID)
		if err != nil {
			h.fail(c, err, "Failed to read suspension")
			return
		}
		usage, err := h.deps.Quota.Usage(ctx, agentID)
		if err != nil {
			h.fail(c, err, "Failed to read quota usage")
			return
		}
		response["suspended"] = suspension != nil && suspension.Suspended
		response["suspension"] = suspension
		response["quota"] = usage
	}

	c.JSON(http.StatusOK, response)
}

// AdminResetRequest representa o corpo da requisição para reset
type AdminResetRequest struct {
	Identifier string `json:"identifier" binding:"required"`
	Category   string `json:"category" binding:"required"`
}

// AdminResetHandler apaga a janela deslizante de um identificador
func (h *Handlers) AdminResetHandler(c *gin.Context) {
	var req AdminResetRequest
	if !h.bind(c, &req) {
		return
	}

	identifier := strings.TrimSpace(req.Identifier)
	category := domain.Category(strings.ToLower(strings.TrimSpace(req.Category)))

	if err := h.deps.Limiter.Reset(c.Request.Context(), identifier, category); err != nil {
		h.fail(c, err, "Failed to reset rate limit")
		return
	}

	h.log(c).Info("Rate limit reset", map[string]interface{}{
		"identifier": identifier,
		"category":   category,
	})
	h.success(c, "Rate limit reset successfully", gin.H{"identifier": identifier, "category": category})
}

// AdminBlockedHandler lista os identificadores bloqueados
func (h *Handlers) AdminBlockedHandler(c *gin.Context) {
	blocked, err := h.deps.Blocks.Blocked(c.Request.Context())
	if err != nil {
		h.fail(c, err, "Failed to read block list")
		return
	}
	c.JSON(http.StatusOK, gin.H{"blocked": blocked, "count": len(blocked)})
}

// AdminBlockRequest é o corpo de POST /admin/block
type AdminBlockRequest struct {
	Identifier string `json:"identifier" binding:"required"`
}

// AdminBlockHandler adiciona um identificador à block list
func (h *Handlers) AdminBlockHandler(c *gin.Context) {
	var req AdminBlockRequest
	if !h.bind(c, &req) {
		return
	}

	identifier := strings.TrimSpace(req.Identifier)
	if err := h.deps.Blocks.Block(c.Request.Context(), identifier); err != nil {
		h.fail(c, err, "Failed to block identifier")
		return
	}

	h.log(c).Info("Identifier blocked by admin", map[string]interface{}{"identifier": identifier})
	h.success(c, "Identifier blocked", gin.H{"identifier": identifier})
}

// AdminUnblockHandler remove um identificador da block list
func (h *Handlers) AdminUnblockHandler(c *gin.Context) {
	identifier := strings.TrimSpace(c.Param("identifier"))
	if err := h.deps.Blocks.Unblock(c.Request.Context(), identifier); err != nil {
		h.fail(c, err, "Failed to unblock identifier")
		return
	}

	h.log(c).Info("Identifier unblocked by admin", map[string]interface{}{"identifier": identifier})
	h.success(c, "Identifier unblocked", gin.H{"identifier": identifier})
}

// AdminSuspendRequest é o corpo de POST /admin/suspend
type AdminSuspendRequest struct {
	AgentID string `json:"agentId" binding:"required"`
	Reason  string `json:"reason"`
}

// AdminSuspendHandler suspende um agente
func (h *Handlers) AdminSuspendHandler(c *gin.Context) {
	var req AdminSuspendRequest
	if !h.bind(c, &req) {
		return
	}

	agentID := strings.TrimSpace(req.AgentID)
	reason := req.Reason
	if reason == "" {
		reason = "suspended by admin"
	}

	if err := h.deps.Suspensions.Suspend(c.Request.Context(), agentID, reason); err != nil {
		h.fail(c, err, "Failed to suspend agent")
		return
	}

	h.log(c).Info("Agent suspended by admin", map[string]interface{}{
		"agent_id": logger.MaskIdentifier(agentID),
		"reason":   reason,
	})
	h.success(c, "Agent suspended", gin.H{"agentId": agentID})
}

// AdminUnsuspendHandler reativa um agente
func (h *Handlers) AdminUnsuspendHandler(c *gin.Context) {
	agentID := strings.TrimSpace(c.Param("agentId"))
	reason := c.DefaultQuery("reason", "reinstated by admin")

	if err := h.deps.Suspensions.Unsuspend(c.Request.Context(), agentID, reason); err != nil {
		h.fail(c, err, "Failed to unsuspend agent")
		return
	}

	h.log(c).Info("Agent reinstated by admin", map[string]interface{}{
		"agent_id": logger.MaskIdentifier(agentID),
	})
	h.success(c, "Agent reinstated", gin.H{"agentId": agentID})
}

// AdminClearEscalationHandler volta o identificador ao estado normal
func (h *Handlers) AdminClearEscalationHandler(c *gin.Context) {
	identifier := strings.TrimSpace(c.Param("identifier"))
	if err := h.deps.Monitor.ClearEscalation(c.Request.Context(), identifier); err != nil {
		h.fail(c, err, "Failed to clear escalation")
		return
	}

	h.log(c).Info("Escalation cleared by admin", map[string]interface{}{"identifier": identifier})
	h.success(c, "Escalation cleared", gin.H{"identifier": identifier})
}

// AdminAlertsHandler lista os alertas administrativos de um identificador
func (h *Handlers) AdminAlertsHandler(c *gin.Context) {
	alerts, err := h.deps.Alerts.Alerts(c.Request.Context(), strings.TrimSpace(c.Param("identifier")))
	if err != nil {
		h.fail(c, err, "Failed to read alerts")
		return
	}
	c.JSON(http.StatusOK, gin.H{"alerts": alerts, "count": len(alerts)})
}

// AdminSweepHandler executa uma passada do sweeper sob demanda
func (h *Handlers) AdminSweepHandler(c *gin.Context) {
	ctx := c.Request.Context()

	report, err := h.deps.Sweeper.Sweep(ctx)
	if err != nil {
		h.fail(c, err, "Retention sweep failed")
		return
	}

	if h.deps.QuotaRetention > 0 {
		removed, err := h.deps.Sweeper.SweepQuotaBuckets(ctx, h.deps.QuotaRetention)
		if err != nil {
			h.fail(c, err, "Quota bucket sweep failed")
			return
		}
		report.QuotaBucketsRemoved = removed
	}

	c.JSON(http.StatusOK, report)
}

// bind decodifica o corpo JSON e responde 400 em caso de erro
func (h *Handlers) bind(c *gin.Context, target interface{}) bool {
	if err := c.ShouldBindJSON(target); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": "Invalid request body: " + err.Error(),
		})
		return false
	}
	return true
}

// fail mapeia erros de domínio para status HTTP
func (h *Handlers) fail(c *gin.Context, err error, message string) {
	switch {
	case errors.Is(err, domain.ErrInvalidRequest):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": err.Error(),
		})
	case errors.Is(err, domain.ErrStoreUnavailable):
		h.log(c).Error(message, err, nil)
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":   "store_unavailable",
			"message": message,
		})
	default:
		h.log(c).Error(message, err, nil)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_server_error",
			"message": message,
		})
	}
}

func (h *Handlers) success(c *gin.Context, message string, extra gin.H) {
	response := gin.H{
		"status":    "success",
		"message":   message,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	for key, value := range extra {
		response[key] = value
	}
	c.JSON(http.StatusOK, response)
}

func (h *Handlers) log(c *gin.Context) domain.Logger {
	return h.logger.WithContext(c.Request.Context())
}
