package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"grcflow/internal/models"

	"github.com/sirupsen/logrus"
)

// 支持的动作类型
const (
	ActionSendEmail      = "send_email"
	ActionSendSMS        = "send_sms"
	ActionAssignToUser   = "assign_to_user"
	ActionAssignToRole   = "assign_to_role"
	ActionChangeStatus   = "change_status"
	ActionChangePriority = "change_priority"
	ActionEscalate       = "escalate"
	ActionUpdateRisk     = "update_risk_score"
	ActionLogAuditEvent  = "log_audit_event"
	ActionCreateTask     = "create_task"
	ActionWebhook        = "webhook"
)

// ActionResult 单个动作的结构化结果
type ActionResult struct {
	Success   bool                   `json:"success"`
	Completed bool                   `json:"completed"`
	Reason    string                 `json:"reason,omitempty"`
	Error     string                 `json:"error,omitempty"`
	Summary   string                 `json:"summary,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

func actionFailure(format string, args ...interface{}) ActionResult {
	return ActionResult{Success: false, Error: fmt.Sprintf(format, args...)}
}

func actionSuccess(summary string) ActionResult {
	return ActionResult{Success: true, Completed: true, Summary: summary}
}

// ActionContext 动作执行时的实体上下文
type ActionContext struct {
	EntityType   string
	EntityID     uint
	TriggerEvent string
	Snapshot     map[string]interface{}
}

type actionFunc func(ctx context.Context, config map[string]interface{}, ac ActionContext) ActionResult

// ActionExecutor converts action descriptors into side effects. Every
// handler failure, including panics, becomes a failed result; nothing
// escapes to the engine loop.
type ActionExecutor struct {
	logger   *logrus.Logger
	entities *EntityStore
	ladder   *EscalationService
	notifier NotificationDispatcher
	risks    RiskScorer
	auditor  AuditLogger
	tasks    TaskCreator
	webhooks WebhookSender
	handlers map[string]actionFunc
}

func NewActionExecutor(
	logger *logrus.Logger,
	entities *EntityStore,
	ladder *EscalationService,
	notifier NotificationDispatcher,
	risks RiskScorer,
	auditor AuditLogger,
	tasks TaskCreator,
	webhooks WebhookSender,
) *ActionExecutor {
	if logger == nil {
		logger = logrus.New()
	}
	e := &ActionExecutor{
		logger:   logger,
		entities: entities,
		ladder:   ladder,
		notifier: notifier,
		risks:    risks,
		auditor:  auditor,
		tasks:    tasks,
		webhooks: webhooks,
		handlers: map[string]actionFunc{},
	}
	e.handlers[ActionSendEmail] = e.sendNotification("email")
	e.handlers[ActionSendSMS] = e.sendNotification("sms")
	e.handlers[ActionAssignToUser] = e.assignToUser
	e.handlers[ActionAssignToRole] = e.assignToRole
	e.handlers[ActionChangeStatus] = e.changeField("status", "status")
	e.handlers[ActionChangePriority] = e.changeField("priority", "priority")
	e.handlers[ActionEscalate] = e.escalate
	e.handlers[ActionUpdateRisk] = e.updateRiskScore
	e.handlers[ActionLogAuditEvent] = e.logAuditEvent
	e.handlers[ActionCreateTask] = e.createTask
	e.handlers[ActionWebhook] = e.webhook
	return e
}

// KnownActionType reports whether an action type has a handler.
func (e *ActionExecutor) KnownActionType(actionType string) bool {
	_, ok := e.handlers[actionType]
	return ok
}

// Execute dispatches one action. rawConfig is the rule's JSON
// action_config document.
func (e *ActionExecutor) Execute(ctx context.Context, actionType, rawConfig string, ac ActionContext) (result ActionResult) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Errorf("action %s panicked for %s/%d: %v", actionType, ac.EntityType, ac.EntityID, r)
			result = actionFailure("action panicked: %v", r)
		}
	}()

	handler, ok := e.handlers[actionType]
	if !ok {
		return actionFailure("unknown action type: %s", actionType)
	}
	config := map[string]interface{}{}
	if strings.TrimSpace(rawConfig) != "" {
		if err := json.Unmarshal([]byte(rawConfig), &config); err != nil {
			return actionFailure("invalid action config: %v", err)
		}
	}
	return handler(ctx, config, ac)
}

func (e *ActionExecutor) sendNotification(channel string) actionFunc {
	return func(ctx context.Context, config map[string]interface{}, ac ActionContext) ActionResult {
		recipients := cfgStringSlice(config, "recipients")
		if len(recipients) == 0 {
			return actionFailure("recipients required for %s notification", channel)
		}
		template := cfgString(config, "template")
		err := e.notifier.Dispatch(ctx, Notification{
			Channel:    channel,
			Recipients: recipients,
			Template:   template,
			Data: map[string]interface{}{
				"entity_type":   ac.EntityType,
				"entity_id":     ac.EntityID,
				"trigger_event": ac.TriggerEvent,
				"snapshot":      ac.Snapshot,
			},
			EntityType: ac.EntityType,
			EntityID:   ac.EntityID,
		})
		if err != nil {
			return actionFailure("notification dispatch failed: %v", err)
		}
		return actionSuccess(fmt.Sprintf("queued %s to %d recipient(s)", channel, len(recipients)))
	}
}

func (e *ActionExecutor) assignToUser(ctx context.Context, config map[string]interface{}, ac ActionContext) ActionResult {
	userID, ok := cfgUint(config, "user_id")
	if !ok {
		return actionFailure("user_id param required")
	}
	if err := e.entities.SetField(ctx, ac.EntityType, ac.EntityID, "assigned_to_id", userID); err != nil {
		return actionFailure("%v", err)
	}
	return actionSuccess(fmt.Sprintf("assigned %s %d to user %d", ac.EntityType, ac.EntityID, userID))
}

func (e *ActionExecutor) assignToRole(ctx context.Context, config map[string]interface{}, ac ActionContext) ActionResult {
	role := cfgString(config, "role")
	if role == "" {
		return actionFailure("role param required")
	}
	if err := e.entities.SetField(ctx, ac.EntityType, ac.EntityID, "assigned_role", role); err != nil {
		return actionFailure("%v", err)
	}
	return actionSuccess(fmt.Sprintf("assigned %s %d to role %s", ac.EntityType, ac.EntityID, role))
}

func (e *ActionExecutor) changeField(param, column string) actionFunc {
	return func(ctx context.Context, config map[string]interface{}, ac ActionContext) ActionResult {
		value := cfgString(config, param)
		if value == "" {
			return actionFailure("%s param required", param)
		}
		if err := e.entities.SetField(ctx, ac.EntityType, ac.EntityID, column, value); err != nil {
			return actionFailure("%v", err)
		}
		return actionSuccess(fmt.Sprintf("set %s of %s %d to %s", column, ac.EntityType, ac.EntityID, value))
	}
}

// escalate advances the entity one rung on its ladder. At the top it
// keeps returning the same non-fatal result without touching state.
func (e *ActionExecutor) escalate(ctx context.Context, config map[string]interface{}, ac ActionContext) ActionResult {
	current, err := e.entities.CurrentEscalationLevel(ctx, ac.EntityType, ac.EntityID)
	if err != nil {
		return actionFailure("%v", err)
	}
	next, err := e.ladder.NextLevel(ctx, ac.EntityType, current+1)
	if err != nil {
		return actionFailure("%v", err)
	}
	if next == nil {
		return ActionResult{
			Success:   true,
			Completed: false,
			Reason:    "no escalation level configured",
			Summary:   fmt.Sprintf("%s %d already at top of ladder (level %d)", ac.EntityType, ac.EntityID, current),
		}
	}

	if next.EscalateToUserID != nil {
		if err := e.entities.SetField(ctx, ac.EntityType, ac.EntityID, "assigned_to_id", *next.EscalateToUserID); err != nil {
			return actionFailure("%v", err)
		}
	}
	if next.EscalateToRole != "" {
		if err := e.entities.SetField(ctx, ac.EntityType, ac.EntityID, "assigned_role", next.EscalateToRole); err != nil {
			return actionFailure("%v", err)
		}
	}
	if next.NotifyTemplate != "" {
		recipients := cfgStringSlice(config, "recipients")
		if len(recipients) == 0 && next.EscalateToRole != "" {
			recipients = []string{next.EscalateToRole}
		}
		err := e.notifier.Dispatch(ctx, Notification{
			Channel:    "email",
			Recipients: recipients,
			Template:   next.NotifyTemplate,
			Data: map[string]interface{}{
				"entity_type": ac.EntityType,
				"entity_id":   ac.EntityID,
				"level":       next.Level,
			},
			EntityType: ac.EntityType,
			EntityID:   ac.EntityID,
		})
		if err != nil {
			e.logger.Warnf("escalation notify failed for %s/%d: %v", ac.EntityType, ac.EntityID, err)
		}
	}
	if err := e.entities.SetField(ctx, ac.EntityType, ac.EntityID, "escalation_level", next.Level); err != nil {
		return actionFailure("%v", err)
	}
	res := actionSuccess(fmt.Sprintf("escalated %s %d to level %d", ac.EntityType, ac.EntityID, next.Level))
	res.Details = map[string]interface{}{"from_level": current, "to_level": next.Level}
	return res
}

func (e *ActionExecutor) updateRiskScore(ctx context.Context, config map[string]interface{}, ac ActionContext) ActionResult {
	riskID, ok := cfgUint(config, "risk_id")
	if !ok {
		return actionFailure("risk_id param required")
	}
	adjustment, ok := cfgFloat(config, "adjustment")
	if !ok {
		return actionFailure("adjustment param required")
	}
	if err := e.risks.Adjust(ctx, riskID, adjustment); err != nil {
		return actionFailure("%v", err)
	}
	return actionSuccess(fmt.Sprintf("adjusted risk %d score by %+.1f", riskID, adjustment))
}

func (e *ActionExecutor) logAuditEvent(ctx context.Context, config map[string]interface{}, ac ActionContext) ActionResult {
	event := cfgString(config, "event")
	if event == "" {
		event = ac.TriggerEvent
	}
	details := cfgString(config, "details")
	entry := models.AuditLogEntry{
		EntityType: ac.EntityType,
		EntityID:   ac.EntityID,
		Event:      event,
		Actor:      "workflow",
		Details:    details,
	}
	if err := e.auditor.Record(ctx, entry); err != nil {
		return actionFailure("%v", err)
	}
	return actionSuccess(fmt.Sprintf("audit event %s recorded for %s %d", event, ac.EntityType, ac.EntityID))
}

func (e *ActionExecutor) createTask(ctx context.Context, config map[string]interface{}, ac ActionContext) ActionResult {
	title := cfgString(config, "title")
	if title == "" {
		return actionFailure("title param required")
	}
	task := models.Task{
		EntityType:   ac.EntityType,
		EntityID:     ac.EntityID,
		Title:        title,
		Description:  cfgString(config, "description"),
		AssignedRole: cfgString(config, "role"),
	}
	if userID, ok := cfgUint(config, "user_id"); ok {
		task.AssignedToID = &userID
	}
	if dueIn, ok := cfgFloat(config, "due_in_hours"); ok && dueIn > 0 {
		due := time.Now().Add(time.Duration(dueIn * float64(time.Hour)))
		task.DueDate = &due
	}
	if err := e.tasks.Create(ctx, task); err != nil {
		return actionFailure("%v", err)
	}
	return actionSuccess(fmt.Sprintf("created task %q for %s %d", title, ac.EntityType, ac.EntityID))
}

func (e *ActionExecutor) webhook(ctx context.Context, config map[string]interface{}, ac ActionContext) ActionResult {
	url := cfgString(config, "url")
	if url == "" {
		return actionFailure("url param required")
	}
	method := cfgString(config, "method")
	headers := map[string]string{}
	if raw, ok := config["headers"].(map[string]interface{}); ok {
		for k, v := range raw {
			headers[k] = asString(v)
		}
	}
	payload := map[string]interface{}{
		"entity_type":   ac.EntityType,
		"entity_id":     ac.EntityID,
		"trigger_event": ac.TriggerEvent,
		"snapshot":      ac.Snapshot,
	}
	if extra, ok := config["data"].(map[string]interface{}); ok {
		payload["data"] = extra
	}
	deliveryID, err := e.webhooks.Send(ctx, url, method, headers, payload)
	if err != nil {
		return actionFailure("webhook enqueue failed: %v", err)
	}
	res := actionSuccess(fmt.Sprintf("webhook queued for %s", url))
	res.Details = map[string]interface{}{"delivery_id": deliveryID}
	return res
}

// ---- action config helpers ----

func cfgString(config map[string]interface{}, key string) string {
	v, ok := config[key]
	if !ok || v == nil {
		return ""
	}
	return strings.TrimSpace(asString(v))
}

func cfgFloat(config map[string]interface{}, key string) (float64, bool) {
	v, ok := config[key]
	if !ok {
		return 0, false
	}
	return asFloat(v)
}

func cfgUint(config map[string]interface{}, key string) (uint, bool) {
	f, ok := cfgFloat(config, key)
	if !ok || f < 0 {
		return 0, false
	}
	return uint(f), true
}

func cfgStringSlice(config map[string]interface{}, key string) []string {
	v, ok := config[key]
	if !ok || v == nil {
		return nil
	}
	switch t := v.(type) {
	case []interface{}:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s := strings.TrimSpace(asString(item)); s != "" {
				out = append(out, s)
			}
		}
		return out
	case string:
		var out []string
		for _, part := range strings.Split(t, ",") {
			if s := strings.TrimSpace(part); s != "" {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
