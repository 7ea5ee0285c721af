package services

import (
	"context"
	"strings"
	"testing"

	"grcflow/internal/models"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

func newTestExecutor(t *testing.T, db *gorm.DB) (*ActionExecutor, *stubWebhookSender) {
	t.Helper()
	logger := logrus.New()
	entities := NewEntityStore(db, logger)
	ladder := NewEscalationService(db, logger)
	webhooks := &stubWebhookSender{}
	executor := NewActionExecutor(
		logger,
		entities,
		ladder,
		NewOutboxDispatcher(db, logger),
		NewDBRiskScorer(db),
		NewDBAuditLogger(db),
		NewDBTaskCreator(db),
		webhooks,
	)
	return executor, webhooks
}

func incidentContext(id uint) ActionContext {
	return ActionContext{EntityType: "incident", EntityID: id, TriggerEvent: EventCreated}
}

func TestExecute_UnknownActionType(t *testing.T) {
	db := newWorkflowTestDB(t)
	executor, _ := newTestExecutor(t, db)

	result := executor.Execute(context.Background(), "teleport", `{}`, incidentContext(1))
	if result.Success {
		t.Fatalf("unknown action type must fail")
	}
	if !strings.Contains(result.Error, "unknown action type: teleport") {
		t.Errorf("error = %q", result.Error)
	}
}

func TestExecute_InvalidConfigJSON(t *testing.T) {
	db := newWorkflowTestDB(t)
	executor, _ := newTestExecutor(t, db)

	result := executor.Execute(context.Background(), ActionChangeStatus, `{broken`, incidentContext(1))
	if result.Success {
		t.Fatalf("invalid config must fail")
	}
	if !strings.Contains(result.Error, "invalid action config") {
		t.Errorf("error = %q", result.Error)
	}
}

func TestExecute_ChangeStatusAndAssign(t *testing.T) {
	db := newWorkflowTestDB(t)
	executor, _ := newTestExecutor(t, db)
	ctx := context.Background()

	incident := seedIncident(t, db, &models.Incident{Status: "open"})
	ac := incidentContext(incident.ID)

	if result := executor.Execute(ctx, ActionChangeStatus, `{"status": "in_progress"}`, ac); !result.Success {
		t.Fatalf("change_status failed: %s", result.Error)
	}
	if result := executor.Execute(ctx, ActionAssignToUser, `{"user_id": 42}`, ac); !result.Success {
		t.Fatalf("assign_to_user failed: %s", result.Error)
	}
	if result := executor.Execute(ctx, ActionAssignToRole, `{"role": "auditor"}`, ac); !result.Success {
		t.Fatalf("assign_to_role failed: %s", result.Error)
	}

	var reloaded models.Incident
	db.First(&reloaded, incident.ID)
	if reloaded.Status != "in_progress" {
		t.Errorf("status = %s", reloaded.Status)
	}
	if reloaded.AssignedToID == nil || *reloaded.AssignedToID != 42 {
		t.Errorf("assigned_to_id = %v", reloaded.AssignedToID)
	}
	if reloaded.AssignedRole != "auditor" {
		t.Errorf("assigned_role = %s", reloaded.AssignedRole)
	}

	// 缺参数时报错且不动实体
	if result := executor.Execute(ctx, ActionChangeStatus, `{}`, ac); result.Success {
		t.Errorf("change_status without status param must fail")
	}
}

func TestExecute_EscalateWalksLadder(t *testing.T) {
	db := newWorkflowTestDB(t)
	executor, _ := newTestExecutor(t, db)
	ctx := context.Background()

	userID := uint(7)
	levels := []models.EscalationLevel{
		{EntityType: "incident", Level: 1, EscalateToRole: "team_lead", IsActive: true},
		{EntityType: "incident", Level: 2, EscalateToRole: "department_head", EscalateToUserID: &userID, IsActive: true},
	}
	for i := range levels {
		if err := db.Create(&levels[i]).Error; err != nil {
			t.Fatalf("failed to insert level: %v", err)
		}
	}

	incident := seedIncident(t, db, &models.Incident{Status: "open"})
	ac := incidentContext(incident.ID)

	result := executor.Execute(ctx, ActionEscalate, ``, ac)
	if !result.Success || !result.Completed {
		t.Fatalf("first escalate: %+v", result)
	}
	if result.Details["from_level"] != 0 || result.Details["to_level"] != 1 {
		t.Errorf("details = %v", result.Details)
	}

	var reloaded models.Incident
	db.First(&reloaded, incident.ID)
	if reloaded.EscalationLevel != 1 || reloaded.AssignedRole != "team_lead" {
		t.Fatalf("after first rung: level=%d role=%s", reloaded.EscalationLevel, reloaded.AssignedRole)
	}

	result = executor.Execute(ctx, ActionEscalate, ``, ac)
	if !result.Success {
		t.Fatalf("second escalate: %+v", result)
	}
	db.First(&reloaded, incident.ID)
	if reloaded.EscalationLevel != 2 {
		t.Errorf("level = %d, want 2", reloaded.EscalationLevel)
	}
	if reloaded.AssignedToID == nil || *reloaded.AssignedToID != userID {
		t.Errorf("assigned_to_id = %v, want %d", reloaded.AssignedToID, userID)
	}
}

func TestExecute_EscalateAtTopOfLadder(t *testing.T) {
	db := newWorkflowTestDB(t)
	executor, _ := newTestExecutor(t, db)
	ctx := context.Background()

	if err := db.Create(&models.EscalationLevel{
		EntityType: "incident", Level: 1, EscalateToRole: "team_lead", IsActive: true,
	}).Error; err != nil {
		t.Fatalf("failed to insert level: %v", err)
	}

	incident := seedIncident(t, db, &models.Incident{Status: "open"})
	db.Model(&models.Incident{}).Where("id = ?", incident.ID).
		Updates(map[string]interface{}{"escalation_level": 1, "assigned_role": "team_lead"})

	// 已在顶层：成功但未完成，状态不变
	result := executor.Execute(ctx, ActionEscalate, ``, incidentContext(incident.ID))
	if !result.Success {
		t.Fatalf("top-of-ladder escalate must not fail: %+v", result)
	}
	if result.Completed {
		t.Errorf("top-of-ladder escalate must report completed=false")
	}
	if result.Reason != "no escalation level configured" {
		t.Errorf("reason = %q", result.Reason)
	}

	var reloaded models.Incident
	db.First(&reloaded, incident.ID)
	if reloaded.EscalationLevel != 1 || reloaded.AssignedRole != "team_lead" {
		t.Errorf("top-of-ladder escalate mutated the entity")
	}
}

func TestExecute_SendEmailQueuesOutbox(t *testing.T) {
	db := newWorkflowTestDB(t)
	executor, _ := newTestExecutor(t, db)
	ctx := context.Background()

	result := executor.Execute(ctx, ActionSendEmail,
		`{"recipients": ["a@example.com", "b@example.com"], "template": "sla_breach"}`,
		incidentContext(5))
	if !result.Success {
		t.Fatalf("send_email failed: %s", result.Error)
	}

	var row models.NotificationOutbox
	if err := db.First(&row).Error; err != nil {
		t.Fatalf("outbox row missing: %v", err)
	}
	if row.Channel != "email" || row.Status != "queued" {
		t.Errorf("channel=%s status=%s", row.Channel, row.Status)
	}
	if row.Recipients != "a@example.com,b@example.com" {
		t.Errorf("recipients = %q", row.Recipients)
	}
	if row.Template != "sla_breach" {
		t.Errorf("template = %q", row.Template)
	}
	if row.CorrelationID == "" {
		t.Errorf("correlation id not set")
	}

	// 收件人为空直接失败
	if result := executor.Execute(ctx, ActionSendEmail, `{}`, incidentContext(5)); result.Success {
		t.Errorf("send_email without recipients must fail")
	}
}

func TestExecute_SendEmailCommaStringRecipients(t *testing.T) {
	db := newWorkflowTestDB(t)
	executor, _ := newTestExecutor(t, db)

	result := executor.Execute(context.Background(), ActionSendEmail,
		`{"recipients": "x@example.com, y@example.com"}`, incidentContext(1))
	if !result.Success {
		t.Fatalf("comma-string recipients rejected: %s", result.Error)
	}

	var row models.NotificationOutbox
	if err := db.First(&row).Error; err != nil {
		t.Fatalf("outbox row missing: %v", err)
	}
	if row.Recipients != "x@example.com,y@example.com" {
		t.Errorf("recipients = %q", row.Recipients)
	}
}

func TestExecute_CreateTask(t *testing.T) {
	db := newWorkflowTestDB(t)
	executor, _ := newTestExecutor(t, db)

	result := executor.Execute(context.Background(), ActionCreateTask,
		`{"title": "review controls", "role": "auditor", "due_in_hours": 24}`,
		incidentContext(3))
	if !result.Success {
		t.Fatalf("create_task failed: %s", result.Error)
	}

	var task models.Task
	if err := db.First(&task).Error; err != nil {
		t.Fatalf("task row missing: %v", err)
	}
	if task.Title != "review controls" || task.AssignedRole != "auditor" {
		t.Errorf("task = %+v", task)
	}
	if task.EntityType != "incident" || task.EntityID != 3 {
		t.Errorf("task entity link = %s/%d", task.EntityType, task.EntityID)
	}
	if task.DueDate == nil {
		t.Errorf("due date not set")
	}

	if result := executor.Execute(context.Background(), ActionCreateTask, `{}`, incidentContext(3)); result.Success {
		t.Errorf("create_task without title must fail")
	}
}

func TestExecute_LogAuditEvent(t *testing.T) {
	db := newWorkflowTestDB(t)
	executor, _ := newTestExecutor(t, db)

	result := executor.Execute(context.Background(), ActionLogAuditEvent,
		`{"event": "auto_closed", "details": "closed by retention rule"}`,
		incidentContext(9))
	if !result.Success {
		t.Fatalf("log_audit_event failed: %s", result.Error)
	}

	var entry models.AuditLogEntry
	if err := db.First(&entry).Error; err != nil {
		t.Fatalf("audit row missing: %v", err)
	}
	if entry.Event != "auto_closed" || entry.Actor != "workflow" {
		t.Errorf("entry = %+v", entry)
	}

	// event 缺省时回落到触发事件
	executor.Execute(context.Background(), ActionLogAuditEvent, `{}`, incidentContext(9))
	var fallback models.AuditLogEntry
	db.Order("id DESC").First(&fallback)
	if fallback.Event != EventCreated {
		t.Errorf("fallback event = %s, want %s", fallback.Event, EventCreated)
	}
}

func TestExecute_UpdateRiskScore(t *testing.T) {
	db := newWorkflowTestDB(t)
	executor, _ := newTestExecutor(t, db)

	risk := models.Risk{Title: "vendor exposure", Score: 5.0}
	if err := db.Create(&risk).Error; err != nil {
		t.Fatalf("failed to insert risk: %v", err)
	}

	result := executor.Execute(context.Background(), ActionUpdateRisk,
		`{"risk_id": 1, "adjustment": 2.5}`, incidentContext(1))
	if !result.Success {
		t.Fatalf("update_risk_score failed: %s", result.Error)
	}

	var reloaded models.Risk
	db.First(&reloaded, risk.ID)
	if reloaded.Score != 7.5 {
		t.Errorf("score = %v, want 7.5", reloaded.Score)
	}

	if result := executor.Execute(context.Background(), ActionUpdateRisk, `{"risk_id": 999, "adjustment": 1}`, incidentContext(1)); result.Success {
		t.Errorf("adjusting a missing risk must fail")
	}
}

func TestExecute_WebhookUsesSender(t *testing.T) {
	db := newWorkflowTestDB(t)
	executor, webhooks := newTestExecutor(t, db)

	result := executor.Execute(context.Background(), ActionWebhook,
		`{"url": "https://hooks.example.com/grc", "method": "POST"}`, incidentContext(4))
	if !result.Success {
		t.Fatalf("webhook failed: %s", result.Error)
	}
	if len(webhooks.calls) != 1 || webhooks.calls[0] != "https://hooks.example.com/grc" {
		t.Errorf("sender calls = %v", webhooks.calls)
	}
	if result.Details["delivery_id"] != "stub-delivery" {
		t.Errorf("details = %v", result.Details)
	}

	if result := executor.Execute(context.Background(), ActionWebhook, `{}`, incidentContext(4)); result.Success {
		t.Errorf("webhook without url must fail")
	}
}
