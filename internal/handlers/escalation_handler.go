package handlers

import (
	"net/http"
	"strings"

	"grcflow/internal/services"

	"github.com/gin-gonic/gin"
)

// EscalationHandler 升级阶梯管理
type EscalationHandler struct {
	service *services.EscalationService
}

func NewEscalationHandler(service *services.EscalationService) *EscalationHandler {
	return &EscalationHandler{service: service}
}

// CreateLevel 创建升级级别
func (h *EscalationHandler) CreateLevel(c *gin.Context) {
	var req services.EscalationLevelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "INVALID_REQUEST", Message: err.Error()})
		return
	}

	level, err := h.service.CreateLevel(c.Request.Context(), &req)
	if err != nil {
		status := http.StatusBadRequest
		if strings.Contains(err.Error(), "already exists") {
			status = http.StatusConflict
		}
		c.JSON(status, ErrorResponse{Error: "CREATE_FAILED", Message: err.Error()})
		return
	}

	c.JSON(http.StatusCreated, level)
}

// ListLevels 获取升级阶梯
func (h *EscalationHandler) ListLevels(c *gin.Context) {
	levels, err := h.service.ListLevels(c.Request.Context(), c.Query("entity_type"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "LIST_FAILED", Message: err.Error()})
		return
	}

	c.JSON(http.StatusOK, levels)
}

// DeleteLevel 删除升级级别
func (h *EscalationHandler) DeleteLevel(c *gin.Context) {
	id, err := parseIDParam(c, "id")
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "INVALID_ID", Message: err.Error()})
		return
	}

	if err := h.service.DeleteLevel(c.Request.Context(), id); err != nil {
		status := http.StatusInternalServerError
		if strings.Contains(err.Error(), "not found") {
			status = http.StatusNotFound
		}
		c.JSON(status, ErrorResponse{Error: "DELETE_FAILED", Message: err.Error()})
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{Message: "deleted"})
}

// RegisterEscalationRoutes 注册升级阶梯路由
func RegisterEscalationRoutes(r *gin.RouterGroup, handler *EscalationHandler) {
	esc := r.Group("/escalation-levels")
	{
		esc.GET("", handler.ListLevels)
		esc.POST("", handler.CreateLevel)
		esc.DELETE("/:id", handler.DeleteLevel)
	}
}
