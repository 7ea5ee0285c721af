package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"grcflow/internal/services"

	"github.com/gin-gonic/gin"
)

// WorkflowHandler 管理自动化规则
// 说明：条件/动作配置由前端传递 JSON 文本。
type WorkflowHandler struct {
	engine *services.WorkflowEngine
}

func NewWorkflowHandler(engine *services.WorkflowEngine) *WorkflowHandler {
	return &WorkflowHandler{engine: engine}
}

// CreateRule 创建规则
func (h *WorkflowHandler) CreateRule(c *gin.Context) {
	var req services.WorkflowRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "INVALID_REQUEST", Message: err.Error()})
		return
	}

	rule, err := h.engine.CreateRule(c.Request.Context(), &req)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "CREATE_FAILED", Message: err.Error()})
		return
	}

	c.JSON(http.StatusCreated, rule)
}

// ListRules 获取规则列表
func (h *WorkflowHandler) ListRules(c *gin.Context) {
	var req services.RuleListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "INVALID_QUERY", Message: err.Error()})
		return
	}

	rules, err := h.engine.ListRules(c.Request.Context(), &req)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "LIST_FAILED", Message: err.Error()})
		return
	}

	c.JSON(http.StatusOK, rules)
}

// DeleteRule 删除规则
func (h *WorkflowHandler) DeleteRule(c *gin.Context) {
	id, err := parseIDParam(c, "id")
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "INVALID_ID", Message: err.Error()})
		return
	}

	if err := h.engine.DeleteRule(c.Request.Context(), id); err != nil {
		status := http.StatusInternalServerError
		if strings.Contains(err.Error(), "not found") {
			status = http.StatusNotFound
		}
		c.JSON(status, ErrorResponse{Error: "DELETE_FAILED", Message: err.Error()})
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{Message: "deleted"})
}

type ruleActiveRequest struct {
	IsActive *bool `json:"is_active" binding:"required"`
}

// SetRuleActive 启用/停用规则
func (h *WorkflowHandler) SetRuleActive(c *gin.Context) {
	id, err := parseIDParam(c, "id")
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "INVALID_ID", Message: err.Error()})
		return
	}

	var req ruleActiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "INVALID_REQUEST", Message: err.Error()})
		return
	}

	if err := h.engine.SetRuleActive(c.Request.Context(), id, *req.IsActive); err != nil {
		status := http.StatusInternalServerError
		if strings.Contains(err.Error(), "not found") {
			status = http.StatusNotFound
		}
		c.JSON(status, ErrorResponse{Error: "UPDATE_FAILED", Message: err.Error()})
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{Message: "updated"})
}

// ListExecutions 获取执行日志
func (h *WorkflowHandler) ListExecutions(c *gin.Context) {
	var req services.ExecutionListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "INVALID_QUERY", Message: err.Error()})
		return
	}
	if req.Page < 1 {
		req.Page = 1
	}
	if req.PageSize < 1 || req.PageSize > 100 {
		req.PageSize = 20
	}

	executions, total, err := h.engine.ListExecutions(c.Request.Context(), &req)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "LIST_FAILED", Message: err.Error()})
		return
	}

	c.JSON(http.StatusOK, NewPaginatedResponse(executions, total, req.Page, req.PageSize))
}

type processEventRequest struct {
	EntityType   string                 `json:"entity_type" binding:"required"`
	EntityID     uint                   `json:"entity_id" binding:"required"`
	TriggerEvent string                 `json:"trigger_event" binding:"required"`
	Previous     map[string]interface{} `json:"previous"`
}

// ProcessEvent 手动投递一个实体事件给引擎
func (h *WorkflowHandler) ProcessEvent(c *gin.Context) {
	var req processEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "INVALID_REQUEST", Message: err.Error()})
		return
	}

	results, err := h.engine.ProcessEvent(c.Request.Context(), req.EntityType, req.EntityID, req.TriggerEvent, nil, req.Previous)
	if err != nil {
		status := http.StatusInternalServerError
		if strings.Contains(err.Error(), "unknown entity type") ||
			strings.Contains(err.Error(), "unsupported trigger event") {
			status = http.StatusBadRequest
		}
		if strings.Contains(err.Error(), "not found") {
			status = http.StatusNotFound
		}
		c.JSON(status, ErrorResponse{Error: "PROCESS_FAILED", Message: err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"executions": results})
}

// DryRun 批量试运行：只求值不执行
func (h *WorkflowHandler) DryRun(c *gin.Context) {
	var req services.DryRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "INVALID_REQUEST", Message: err.Error()})
		return
	}

	resp, err := h.engine.DryRun(c.Request.Context(), &req)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "DRY_RUN_FAILED", Message: err.Error()})
		return
	}

	c.JSON(http.StatusOK, resp)
}

// RunEscalationSweep 手动触发一次升级扫描
func (h *WorkflowHandler) RunEscalationSweep(c *gin.Context) {
	actions, err := h.engine.CheckEscalations(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "SWEEP_FAILED", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"actions": actions})
}

// RunSLASweep 手动触发一次SLA违约扫描
func (h *WorkflowHandler) RunSLASweep(c *gin.Context) {
	actions, err := h.engine.CheckSLABreaches(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "SWEEP_FAILED", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"actions": actions})
}

func parseIDParam(c *gin.Context, name string) (uint, error) {
	id, err := strconv.ParseUint(c.Param(name), 10, 32)
	if err != nil {
		return 0, err
	}
	return uint(id), nil
}

// RegisterWorkflowRoutes 注册工作流路由
func RegisterWorkflowRoutes(r *gin.RouterGroup, handler *WorkflowHandler) {
	wf := r.Group("/workflow")
	{
		rules := wf.Group("/rules")
		{
			rules.GET("", handler.ListRules)
			rules.POST("", handler.CreateRule)
			rules.DELETE("/:id", handler.DeleteRule)
			rules.PUT("/:id/active", handler.SetRuleActive)
		}

		wf.GET("/executions", handler.ListExecutions)
		wf.POST("/events", handler.ProcessEvent)
		wf.POST("/dry-run", handler.DryRun)

		sweeps := wf.Group("/sweeps")
		{
			sweeps.POST("/escalations", handler.RunEscalationSweep)
			sweeps.POST("/sla", handler.RunSLASweep)
		}
	}
}
