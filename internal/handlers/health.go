package handlers

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"grcflow/internal/config"
	"grcflow/internal/metrics"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// HealthHandler 健康检查处理器
type HealthHandler struct {
	config *config.Config
	db     *gorm.DB
	logger *logrus.Logger
}

func NewHealthHandler(cfg *config.Config, db *gorm.DB, logger *logrus.Logger) *HealthHandler {
	if logger == nil {
		logger = logrus.New()
	}
	return &HealthHandler{config: cfg, db: db, logger: logger}
}

// HealthResponse 健康检查响应
type HealthResponse struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Services  map[string]ServiceInfo `json:"services"`
	System    SystemInfo             `json:"system"`
}

// ServiceInfo 服务信息
type ServiceInfo struct {
	Status  string      `json:"status"`
	Latency string      `json:"latency,omitempty"`
	Error   string      `json:"error,omitempty"`
	Details interface{} `json:"details,omitempty"`
}

// SystemInfo 系统信息
type SystemInfo struct {
	Uptime    string `json:"uptime"`
	GoVersion string `json:"go_version"`
}

var startTime = time.Now()

// Health 健康检查端点
func (h *HealthHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Services:  make(map[string]ServiceInfo),
		System: SystemInfo{
			Uptime:    time.Since(startTime).String(),
			GoVersion: runtime.Version(),
		},
	}

	if !h.checkDatabase(ctx, &response) {
		response.Status = "unhealthy"
	}

	statusCode := http.StatusOK
	if response.Status == "unhealthy" {
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, response)
}

// Ready 就绪检查端点
func (h *HealthHandler) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	ready := h.pingDatabase(ctx) == nil

	statusCode := http.StatusOK
	if !ready {
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, gin.H{
		"ready":     ready,
		"timestamp": time.Now(),
	})
}

// Metrics 引擎计数器输出
func (h *HealthHandler) Metrics(c *gin.Context) {
	totals, byEvent := metrics.EngineSnapshot()
	c.JSON(http.StatusOK, gin.H{
		"totals":   totals,
		"by_event": byEvent,
	})
}

func (h *HealthHandler) checkDatabase(ctx context.Context, response *HealthResponse) bool {
	start := time.Now()

	serviceInfo := ServiceInfo{
		Details: map[string]interface{}{
			"driver": "postgresql",
			"host":   h.config.Database.Host,
			"port":   h.config.Database.Port,
		},
	}

	err := h.pingDatabase(ctx)
	serviceInfo.Latency = time.Since(start).String()
	if err != nil {
		serviceInfo.Status = "unhealthy"
		serviceInfo.Error = err.Error()
		h.logger.Warnf("database health check failed: %v", err)
	} else {
		serviceInfo.Status = "healthy"
	}

	response.Services["database"] = serviceInfo
	return err == nil
}

func (h *HealthHandler) pingDatabase(ctx context.Context) error {
	sqlDB, err := h.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// RegisterHealthRoutes 注册健康检查与指标路由
func RegisterHealthRoutes(r *gin.Engine, handler *HealthHandler, metricsPath string) {
	r.GET("/health", handler.Health)
	r.GET("/ready", handler.Ready)
	if metricsPath == "" {
		metricsPath = "/metrics"
	}
	r.GET(metricsPath, handler.Metrics)
}
