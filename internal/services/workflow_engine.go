package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"grcflow/internal/metrics"
	"grcflow/internal/models"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

// 生命周期触发事件
const (
	EventCreated       = "created"
	EventUpdated       = "updated"
	EventStatusChanged = "status_changed"
	EventDueDatePassed = "due_date_passed"
	EventSLAWarning    = "sla_warning"
	EventSLABreach     = "sla_breach"
	EventEscalated     = "escalated"
	EventClosed        = "closed"
)

var supportedEvents = map[string]bool{
	EventCreated: true, EventUpdated: true, EventStatusChanged: true,
	EventDueDatePassed: true, EventSLAWarning: true, EventSLABreach: true,
	EventEscalated: true, EventClosed: true,
}

// IsSupportedEvent reports whether rules may subscribe to the event.
func IsSupportedEvent(event string) bool {
	return supportedEvents[event]
}

// ExecutionResult 单条规则的执行结果
type ExecutionResult struct {
	RuleID     uint         `json:"rule_id"`
	RuleName   string       `json:"rule_name"`
	ActionType string       `json:"action_type"`
	Result     ActionResult `json:"result"`
}

// SweepAction 周期扫描采取的一项动作，用于可观测性
type SweepAction struct {
	Kind       string `json:"kind"` // escalated, sla_warning, sla_breach
	EntityType string `json:"entity_type"`
	EntityID   uint   `json:"entity_id"`
	RuleID     uint   `json:"rule_id,omitempty"`
	Executions int    `json:"executions"`
}

// WorkflowEngine dispatches lifecycle events to matching rules and
// runs the periodic escalation/SLA sweeps.
type WorkflowEngine struct {
	db       *gorm.DB
	logger   *logrus.Logger
	tracer   trace.Tracer
	entities *EntityStore
	executor *ActionExecutor
	sla      *SLAService
}

func NewWorkflowEngine(db *gorm.DB, logger *logrus.Logger, entities *EntityStore, executor *ActionExecutor, sla *SLAService) *WorkflowEngine {
	if logger == nil {
		logger = logrus.New()
	}
	return &WorkflowEngine{
		db:       db,
		logger:   logger,
		tracer:   otel.Tracer("grcflow.workflow"),
		entities: entities,
		executor: executor,
		sla:      sla,
	}
}

// ProcessEvent runs every active rule matching (entityType, trigger)
// against the snapshot, strictly in priority order. A rule whose
// condition fails is skipped without a log row; an executed rule
// always gets a RuleExecution row, success or not. A matching rule
// with stop_processing ends the loop.
func (e *WorkflowEngine) ProcessEvent(ctx context.Context, entityType string, entityID uint, trigger string, snapshot, previous map[string]interface{}) ([]ExecutionResult, error) {
	ctx, span := e.tracer.Start(ctx, "workflow.process_event")
	defer span.End()
	span.SetAttributes(
		attribute.String("workflow.entity_type", entityType),
		attribute.Int64("workflow.entity_id", int64(entityID)),
		attribute.String("workflow.trigger", trigger),
	)
	metrics.IncEventProcessed(trigger)

	if snapshot == nil {
		var err error
		snapshot, err = e.entities.Snapshot(ctx, entityType, entityID)
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
	}

	var rules []models.WorkflowRule
	err := e.db.WithContext(ctx).
		Where("entity_type = ? AND trigger_event = ? AND is_active = ?", entityType, trigger, true).
		Order("priority ASC, id ASC").
		Find(&rules).Error
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to load workflow rules: %w", err)
	}
	if len(rules) == 0 {
		return nil, nil
	}

	evalSnapshot := snapshot
	if previous != nil {
		evalSnapshot = make(map[string]interface{}, len(snapshot)+1)
		for k, v := range snapshot {
			evalSnapshot[k] = v
		}
		evalSnapshot["previous"] = previous
	}

	var results []ExecutionResult
	for i := range rules {
		rule := &rules[i]
		if !e.ruleInScope(rule, snapshot) {
			continue
		}
		cond, err := ParseCondition(rule.Conditions)
		if err != nil {
			// 配置损坏视为不匹配，绝不外抛
			e.logger.Warnf("workflow: rule %s has invalid conditions: %v", rule.Name, err)
			continue
		}
		if !cond.Evaluate(evalSnapshot) {
			continue
		}

		result := e.executor.Execute(ctx, rule.ActionType, rule.ActionConfig, ActionContext{
			EntityType:   entityType,
			EntityID:     entityID,
			TriggerEvent: trigger,
			Snapshot:     snapshot,
		})
		if result.Success {
			metrics.IncRuleExecuted()
		} else {
			metrics.IncRuleFailed()
		}
		e.recordExecution(ctx, rule, entityType, entityID, trigger, result)
		results = append(results, ExecutionResult{
			RuleID:     rule.ID,
			RuleName:   rule.Name,
			ActionType: rule.ActionType,
			Result:     result,
		})

		if rule.StopProcessing {
			e.logger.Debugf("workflow: rule %s stops processing for %s/%d", rule.Name, entityType, entityID)
			break
		}
	}
	span.SetAttributes(attribute.Int("workflow.rules_executed", len(results)))
	return results, nil
}

// ruleInScope applies the department/contract scope filter. Empty
// scope matches everything.
func (e *WorkflowEngine) ruleInScope(rule *models.WorkflowRule, snapshot map[string]interface{}) bool {
	if rule.Department != "" {
		dept, _ := lookupPath(snapshot, "department")
		if asString(dept) != rule.Department {
			return false
		}
	}
	if rule.ContractID != nil {
		contract, _ := lookupPath(snapshot, "contract_id")
		f, ok := asFloat(contract)
		if !ok || uint(f) != *rule.ContractID {
			return false
		}
	}
	return true
}

// recordExecution appends the audit row for an attempted rule. Each
// write is its own commit; a failure here never disturbs prior rows or
// blocks the remaining rules.
func (e *WorkflowEngine) recordExecution(ctx context.Context, rule *models.WorkflowRule, entityType string, entityID uint, trigger string, result ActionResult) {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		resultJSON = []byte("{}")
	}
	row := &models.RuleExecution{
		RuleID:       rule.ID,
		EntityType:   entityType,
		EntityID:     entityID,
		TriggerEvent: trigger,
		Success:      result.Success,
		ErrorMessage: result.Error,
		Summary:      result.Summary,
		Result:       string(resultJSON),
		CreatedAt:    time.Now(),
	}
	if err := e.db.WithContext(ctx).Create(row).Error; err != nil {
		e.logger.Errorf("workflow: record execution failed for rule %s: %v", rule.Name, err)
	}
}

// CheckEscalations is the periodic sweep over escalation rules with a
// configured delay. Entities whose delay-reference field aged past the
// delay get a synthesized escalated event through ProcessEvent.
func (e *WorkflowEngine) CheckEscalations(ctx context.Context) ([]SweepAction, error) {
	ctx, span := e.tracer.Start(ctx, "workflow.check_escalations")
	defer span.End()

	var rules []models.WorkflowRule
	err := e.db.WithContext(ctx).
		Where("rule_type = ? AND is_active = ? AND delay_hours IS NOT NULL", "escalation", true).
		Order("priority ASC, id ASC").
		Find(&rules).Error
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to load escalation rules: %w", err)
	}

	now := time.Now()
	var actions []SweepAction
	for i := range rules {
		rule := &rules[i]
		cutoff := now.Add(-time.Duration(*rule.DelayHours * float64(time.Hour)))
		ids, err := e.entities.ListOverdue(ctx, rule.EntityType, rule.DelayFromField, cutoff)
		if err != nil {
			e.logger.Errorf("escalation sweep: rule %s scan failed: %v", rule.Name, err)
			continue
		}
		for _, id := range ids {
			if ctx.Err() != nil {
				// 扫描可安全中断，已处理的实体保持进度
				return actions, ctx.Err()
			}
			due, err := e.escalationDue(ctx, rule.EntityType, id, now)
			if err != nil {
				e.logger.Errorf("escalation sweep: pacing check for %s/%d failed: %v", rule.EntityType, id, err)
				continue
			}
			if !due {
				continue
			}
			results, err := e.ProcessEvent(ctx, rule.EntityType, id, EventEscalated, nil, nil)
			if err != nil {
				e.logger.Errorf("escalation sweep: process %s/%d failed: %v", rule.EntityType, id, err)
				continue
			}
			metrics.IncEscalation()
			actions = append(actions, SweepAction{
				Kind:       EventEscalated,
				EntityType: rule.EntityType,
				EntityID:   id,
				RuleID:     rule.ID,
				Executions: len(results),
			})
		}
	}
	span.SetAttributes(attribute.Int("workflow.sweep.escalations", len(actions)))
	return actions, nil
}

// escalationDue applies the ladder's per-rung pacing. An entity already
// on a rung escalates again only after the next rung's
// hours_after_previous has elapsed since the entity last changed.
// 还没上阶梯的实体节奏由规则 delay_hours 决定。
func (e *WorkflowEngine) escalationDue(ctx context.Context, entityType string, entityID uint, now time.Time) (bool, error) {
	current, err := e.entities.CurrentEscalationLevel(ctx, entityType, entityID)
	if err != nil {
		return false, err
	}
	if current < 1 {
		return true, nil
	}
	next, err := e.executor.ladder.NextLevel(ctx, entityType, current+1)
	if err != nil {
		return false, err
	}
	if next == nil || next.HoursAfterPrevious <= 0 {
		return true, nil
	}
	changed, err := e.entities.LastChangedAt(ctx, entityType, entityID)
	if err != nil {
		return false, err
	}
	return now.Sub(changed) >= time.Duration(next.HoursAfterPrevious*float64(time.Hour)), nil
}

// CheckSLABreaches runs the SLA sweep and feeds the resulting warning
// and breach events back through the rule pipeline.
func (e *WorkflowEngine) CheckSLABreaches(ctx context.Context) ([]SweepAction, error) {
	ctx, span := e.tracer.Start(ctx, "workflow.check_sla_breaches")
	defer span.End()

	events, err := e.sla.CheckBreaches(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	var actions []SweepAction
	for _, ev := range events {
		if ctx.Err() != nil {
			return actions, ctx.Err()
		}
		switch ev.Type {
		case EventSLAWarning:
			metrics.IncSLAWarning()
		case EventSLABreach:
			metrics.IncSLABreach()
		}
		results, err := e.ProcessEvent(ctx, ev.EntityType, ev.EntityID, ev.Type, nil, nil)
		if err != nil {
			e.logger.Errorf("sla sweep: process %s/%d failed: %v", ev.EntityType, ev.EntityID, err)
			continue
		}
		actions = append(actions, SweepAction{
			Kind:       ev.Type,
			EntityType: ev.EntityType,
			EntityID:   ev.EntityID,
			Executions: len(results),
		})
	}
	span.SetAttributes(attribute.Int("workflow.sweep.sla_events", len(actions)))
	return actions, nil
}
