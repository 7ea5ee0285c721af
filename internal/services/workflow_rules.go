package services

import (
	"context"
	"fmt"
	"time"

	"grcflow/internal/models"
)

// WorkflowRuleRequest 创建规则请求
type WorkflowRuleRequest struct {
	Name           string   `json:"name" binding:"required"`
	RuleType       string   `json:"rule_type"`
	EntityType     string   `json:"entity_type" binding:"required"`
	TriggerEvent   string   `json:"trigger_event" binding:"required"`
	Conditions     string   `json:"conditions"`
	DelayHours     *float64 `json:"delay_hours"`
	DelayFromField string   `json:"delay_from_field"`
	ActionType     string   `json:"action_type" binding:"required"`
	ActionConfig   string   `json:"action_config"`
	Priority       *int     `json:"priority"`
	StopProcessing bool     `json:"stop_processing"`
	IsActive       *bool    `json:"is_active"`
	Department     string   `json:"department"`
	ContractID     *uint    `json:"contract_id"`
}

// RuleListRequest 规则列表请求
type RuleListRequest struct {
	EntityType   string `form:"entity_type"`
	TriggerEvent string `form:"trigger_event"`
	Active       *bool  `form:"active"`
}

// ExecutionListRequest 执行日志列表请求
type ExecutionListRequest struct {
	Page       int    `form:"page,default=1"`
	PageSize   int    `form:"page_size,default=20"`
	RuleID     *uint  `form:"rule_id"`
	EntityType string `form:"entity_type"`
	EntityID   *uint  `form:"entity_id"`
	Success    *bool  `form:"success"`
}

// DryRunRequest 批量试运行请求：只求值不执行动作
type DryRunRequest struct {
	EntityType   string `json:"entity_type" binding:"required"`
	TriggerEvent string `json:"trigger_event" binding:"required"`
	EntityIDs    []uint `json:"entity_ids" binding:"required"`
}

// DryRunResult 单实体试运行结果
type DryRunResult struct {
	EntityID     uint     `json:"entity_id"`
	MatchedRules []string `json:"matched_rules"`
	Error        string   `json:"error,omitempty"`
}

// DryRunResponse 批量试运行响应
type DryRunResponse struct {
	EntitiesProcessed int            `json:"entities_processed"`
	Matches           int            `json:"matches"`
	Results           []DryRunResult `json:"results"`
}

// CreateRule validates the rule document once at save time: trigger
// event, action type and the whole condition tree.
func (e *WorkflowEngine) CreateRule(ctx context.Context, req *WorkflowRuleRequest) (*models.WorkflowRule, error) {
	if req == nil {
		return nil, fmt.Errorf("request required")
	}
	if !IsKnownEntityType(req.EntityType) {
		return nil, fmt.Errorf("unknown entity type: %s", req.EntityType)
	}
	if !IsSupportedEvent(req.TriggerEvent) {
		return nil, fmt.Errorf("unsupported trigger event: %s", req.TriggerEvent)
	}
	if !e.executor.KnownActionType(req.ActionType) {
		return nil, fmt.Errorf("unknown action type: %s", req.ActionType)
	}
	cond, err := ParseCondition(req.Conditions)
	if err != nil {
		return nil, fmt.Errorf("invalid conditions: %w", err)
	}
	if err := cond.Validate(); err != nil {
		return nil, fmt.Errorf("invalid conditions: %w", err)
	}

	ruleType := req.RuleType
	if ruleType == "" {
		ruleType = "automation"
	}
	if ruleType != "automation" && ruleType != "escalation" {
		return nil, fmt.Errorf("unsupported rule type: %s", ruleType)
	}
	if ruleType == "escalation" && req.DelayHours != nil && *req.DelayHours < 0 {
		return nil, fmt.Errorf("delay hours must be non-negative")
	}

	priority := 100
	if req.Priority != nil {
		priority = *req.Priority
	}
	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}

	rule := &models.WorkflowRule{
		Name:           req.Name,
		RuleType:       ruleType,
		EntityType:     req.EntityType,
		TriggerEvent:   req.TriggerEvent,
		Conditions:     req.Conditions,
		DelayHours:     req.DelayHours,
		DelayFromField: req.DelayFromField,
		ActionType:     req.ActionType,
		ActionConfig:   req.ActionConfig,
		Priority:       priority,
		StopProcessing: req.StopProcessing,
		IsActive:       active,
		Department:     req.Department,
		ContractID:     req.ContractID,
		CreatedAt:      time.Now(),
		UpdatedAt:      time.Now(),
	}
	if err := e.db.WithContext(ctx).Create(rule).Error; err != nil {
		return nil, fmt.Errorf("failed to create workflow rule: %w", err)
	}
	e.logger.Infof("created workflow rule: name=%s entity_type=%s trigger=%s action=%s",
		rule.Name, rule.EntityType, rule.TriggerEvent, rule.ActionType)
	return rule, nil
}

// ListRules 返回规则，按 priority 升序
func (e *WorkflowEngine) ListRules(ctx context.Context, req *RuleListRequest) ([]models.WorkflowRule, error) {
	query := e.db.WithContext(ctx).Model(&models.WorkflowRule{})
	if req != nil {
		if req.EntityType != "" {
			query = query.Where("entity_type = ?", req.EntityType)
		}
		if req.TriggerEvent != "" {
			query = query.Where("trigger_event = ?", req.TriggerEvent)
		}
		if req.Active != nil {
			query = query.Where("is_active = ?", *req.Active)
		}
	}
	var rules []models.WorkflowRule
	if err := query.Order("priority ASC, id ASC").Find(&rules).Error; err != nil {
		return nil, fmt.Errorf("failed to list workflow rules: %w", err)
	}
	return rules, nil
}

// DeleteRule 删除规则；执行日志保留
func (e *WorkflowEngine) DeleteRule(ctx context.Context, id uint) error {
	result := e.db.WithContext(ctx).Delete(&models.WorkflowRule{}, id)
	if result.Error != nil {
		return fmt.Errorf("failed to delete workflow rule: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("workflow rule not found")
	}
	return nil
}

// SetRuleActive 启用/停用规则
func (e *WorkflowEngine) SetRuleActive(ctx context.Context, id uint, active bool) error {
	result := e.db.WithContext(ctx).Model(&models.WorkflowRule{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"is_active": active, "updated_at": time.Now()})
	if result.Error != nil {
		return fmt.Errorf("failed to update workflow rule: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("workflow rule not found")
	}
	return nil
}

// ListExecutions 查询执行日志
func (e *WorkflowEngine) ListExecutions(ctx context.Context, req *ExecutionListRequest) ([]models.RuleExecution, int64, error) {
	query := e.db.WithContext(ctx).Model(&models.RuleExecution{})
	if req.RuleID != nil {
		query = query.Where("rule_id = ?", *req.RuleID)
	}
	if req.EntityType != "" {
		query = query.Where("entity_type = ?", req.EntityType)
	}
	if req.EntityID != nil {
		query = query.Where("entity_id = ?", *req.EntityID)
	}
	if req.Success != nil {
		query = query.Where("success = ?", *req.Success)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count rule executions: %w", err)
	}
	query = query.Order("id DESC")
	if req.PageSize > 0 {
		offset := (req.Page - 1) * req.PageSize
		query = query.Offset(offset).Limit(req.PageSize)
	}
	var executions []models.RuleExecution
	if err := query.Find(&executions).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list rule executions: %w", err)
	}
	return executions, total, nil
}

const dryRunMaxEntities = 500

// DryRun evaluates rules against entities without executing actions or
// writing execution rows.
func (e *WorkflowEngine) DryRun(ctx context.Context, req *DryRunRequest) (*DryRunResponse, error) {
	if req == nil {
		return nil, fmt.Errorf("request required")
	}
	if !IsKnownEntityType(req.EntityType) {
		return nil, fmt.Errorf("unknown entity type: %s", req.EntityType)
	}
	if !IsSupportedEvent(req.TriggerEvent) {
		return nil, fmt.Errorf("unsupported trigger event: %s", req.TriggerEvent)
	}
	if len(req.EntityIDs) == 0 {
		return nil, fmt.Errorf("entity ids required")
	}
	if len(req.EntityIDs) > dryRunMaxEntities {
		return nil, fmt.Errorf("too many entity ids (max %d)", dryRunMaxEntities)
	}

	var rules []models.WorkflowRule
	err := e.db.WithContext(ctx).
		Where("entity_type = ? AND trigger_event = ? AND is_active = ?", req.EntityType, req.TriggerEvent, true).
		Order("priority ASC, id ASC").
		Find(&rules).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load workflow rules: %w", err)
	}

	resp := &DryRunResponse{}
	for _, id := range req.EntityIDs {
		resp.EntitiesProcessed++
		result := DryRunResult{EntityID: id}
		snapshot, err := e.entities.Snapshot(ctx, req.EntityType, id)
		if err != nil {
			result.Error = err.Error()
			resp.Results = append(resp.Results, result)
			continue
		}
		for i := range rules {
			rule := &rules[i]
			if !e.ruleInScope(rule, snapshot) {
				continue
			}
			cond, err := ParseCondition(rule.Conditions)
			if err != nil {
				continue
			}
			if cond.Evaluate(snapshot) {
				result.MatchedRules = append(result.MatchedRules, rule.Name)
				if rule.StopProcessing {
					break
				}
			}
		}
		if len(result.MatchedRules) > 0 {
			resp.Matches++
		}
		resp.Results = append(resp.Results, result)
	}
	return resp, nil
}
