package handlers

import (
	"net/http"
	"strings"

	"grcflow/internal/services"

	"github.com/gin-gonic/gin"
)

// SLAHandler SLA管理处理器
type SLAHandler struct {
	slaService *services.SLAService
}

// NewSLAHandler 创建SLA处理器
func NewSLAHandler(slaService *services.SLAService) *SLAHandler {
	return &SLAHandler{slaService: slaService}
}

// CreateSLAConfig 创建SLA配置
func (h *SLAHandler) CreateSLAConfig(c *gin.Context) {
	var req services.SLAConfigCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "INVALID_REQUEST",
			Message: "请求参数格式错误: " + err.Error(),
		})
		return
	}

	config, err := h.slaService.CreateSLAConfig(c.Request.Context(), &req)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "CREATE_FAILED",
			Message: "创建SLA配置失败: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusCreated, config)
}

// ListSLAConfigs 获取SLA配置列表
func (h *SLAHandler) ListSLAConfigs(c *gin.Context) {
	configs, err := h.slaService.ListSLAConfigs(c.Request.Context(), c.Query("entity_type"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "LIST_FAILED",
			Message: "获取SLA配置列表失败: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, configs)
}

// DeleteSLAConfig 删除SLA配置
func (h *SLAHandler) DeleteSLAConfig(c *gin.Context) {
	id, err := parseIDParam(c, "id")
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "INVALID_ID",
			Message: "无效的配置ID",
		})
		return
	}

	if err := h.slaService.DeleteSLAConfig(c.Request.Context(), id); err != nil {
		if strings.Contains(err.Error(), "not found") {
			c.JSON(http.StatusNotFound, ErrorResponse{
				Error:   "CONFIG_NOT_FOUND",
				Message: "SLA配置不存在",
			})
			return
		}
		if strings.Contains(err.Error(), "reference it") {
			c.JSON(http.StatusConflict, ErrorResponse{
				Error:   "CONFIG_IN_USE",
				Message: "该配置有关联的跟踪记录，无法删除",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "DELETE_FAILED",
			Message: "删除SLA配置失败: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{Message: "SLA配置删除成功"})
}

// ListTracking 获取SLA跟踪列表
func (h *SLAHandler) ListTracking(c *gin.Context) {
	var req services.SLATrackingListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "INVALID_QUERY",
			Message: "查询参数错误: " + err.Error(),
		})
		return
	}
	if req.Page < 1 {
		req.Page = 1
	}
	if req.PageSize < 1 || req.PageSize > 100 {
		req.PageSize = 20
	}

	tracking, total, err := h.slaService.ListTracking(c.Request.Context(), &req)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "LIST_FAILED",
			Message: "获取SLA跟踪列表失败: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, NewPaginatedResponse(tracking, total, req.Page, req.PageSize))
}

// GetSLAStats 获取SLA统计信息
func (h *SLAHandler) GetSLAStats(c *gin.Context) {
	stats, err := h.slaService.GetSLAStats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "STATS_FAILED",
			Message: "获取SLA统计失败: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, stats)
}

type startTrackingRequest struct {
	EntityType string                 `json:"entity_type" binding:"required"`
	EntityID   uint                   `json:"entity_id" binding:"required"`
	Attributes services.SLAAttributes `json:"attributes"`
}

// StartTracking 开始跟踪一个实体的SLA
func (h *SLAHandler) StartTracking(c *gin.Context) {
	var req startTrackingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "INVALID_REQUEST", Message: err.Error()})
		return
	}

	tracking, err := h.slaService.StartTracking(c.Request.Context(), req.EntityType, req.EntityID, req.Attributes)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "START_FAILED", Message: err.Error()})
		return
	}
	if tracking == nil {
		// 没有匹配的SLA配置
		c.JSON(http.StatusNoContent, nil)
		return
	}

	c.JSON(http.StatusCreated, tracking)
}

type trackingMilestoneRequest struct {
	EntityType string `json:"entity_type" binding:"required"`
	EntityID   uint   `json:"entity_id" binding:"required"`
}

// milestone 里程碑标记的公共包装
func (h *SLAHandler) milestone(c *gin.Context, op string) {
	var req trackingMilestoneRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "INVALID_REQUEST", Message: err.Error()})
		return
	}

	var (
		tracking interface{}
		err      error
	)
	ctx := c.Request.Context()
	switch op {
	case "acknowledge":
		tracking, err = h.slaService.MarkAcknowledged(ctx, req.EntityType, req.EntityID)
	case "respond":
		tracking, err = h.slaService.MarkResponded(ctx, req.EntityType, req.EntityID)
	case "resolve":
		tracking, err = h.slaService.MarkResolved(ctx, req.EntityType, req.EntityID)
	case "pause":
		tracking, err = h.slaService.PauseTracking(ctx, req.EntityType, req.EntityID)
	case "resume":
		tracking, err = h.slaService.ResumeTracking(ctx, req.EntityType, req.EntityID)
	}
	if err != nil {
		status := http.StatusInternalServerError
		if strings.Contains(err.Error(), "no active") ||
			strings.Contains(err.Error(), "not found") {
			status = http.StatusNotFound
		}
		if strings.Contains(err.Error(), "not paused") ||
			strings.Contains(err.Error(), "already paused") {
			status = http.StatusConflict
		}
		c.JSON(status, ErrorResponse{Error: "MILESTONE_FAILED", Message: err.Error()})
		return
	}

	c.JSON(http.StatusOK, tracking)
}

func (h *SLAHandler) MarkAcknowledged(c *gin.Context) { h.milestone(c, "acknowledge") }
func (h *SLAHandler) MarkResponded(c *gin.Context)    { h.milestone(c, "respond") }
func (h *SLAHandler) MarkResolved(c *gin.Context)     { h.milestone(c, "resolve") }
func (h *SLAHandler) PauseTracking(c *gin.Context)    { h.milestone(c, "pause") }
func (h *SLAHandler) ResumeTracking(c *gin.Context)   { h.milestone(c, "resume") }

// RegisterSLARoutes 注册SLA相关路由
func RegisterSLARoutes(r *gin.RouterGroup, handler *SLAHandler) {
	sla := r.Group("/sla")
	{
		configs := sla.Group("/configs")
		{
			configs.POST("", handler.CreateSLAConfig)
			configs.GET("", handler.ListSLAConfigs)
			configs.DELETE("/:id", handler.DeleteSLAConfig)
		}

		tracking := sla.Group("/tracking")
		{
			tracking.GET("", handler.ListTracking)
			tracking.POST("", handler.StartTracking)
			tracking.POST("/acknowledge", handler.MarkAcknowledged)
			tracking.POST("/respond", handler.MarkResponded)
			tracking.POST("/resolve", handler.MarkResolved)
			tracking.POST("/pause", handler.PauseTracking)
			tracking.POST("/resume", handler.ResumeTracking)
		}

		sla.GET("/stats", handler.GetSLAStats)
	}
}
