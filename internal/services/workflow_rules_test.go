package services

import (
	"context"
	"strings"
	"testing"

	"grcflow/internal/models"
)

func TestCreateRule_Validation(t *testing.T) {
	db := newWorkflowTestDB(t)
	engine, _ := newTestEngine(t, db)
	ctx := context.Background()

	base := func() *WorkflowRuleRequest {
		return &WorkflowRuleRequest{
			Name:         "rule",
			EntityType:   "incident",
			TriggerEvent: EventCreated,
			ActionType:   ActionChangeStatus,
			ActionConfig: `{"status": "closed"}`,
		}
	}

	cases := []struct {
		name    string
		mutate  func(*WorkflowRuleRequest)
		wantErr string
	}{
		{"unknown entity", func(r *WorkflowRuleRequest) { r.EntityType = "spaceship" }, "unknown entity type"},
		{"unknown event", func(r *WorkflowRuleRequest) { r.TriggerEvent = "full_moon" }, "unsupported trigger event"},
		{"unknown action", func(r *WorkflowRuleRequest) { r.ActionType = "teleport" }, "unknown action type"},
		{"bad condition json", func(r *WorkflowRuleRequest) { r.Conditions = `{oops` }, "invalid conditions"},
		{"condition missing operator", func(r *WorkflowRuleRequest) { r.Conditions = `{"field": "status"}` }, "invalid conditions"},
		{"bad rule type", func(r *WorkflowRuleRequest) { r.RuleType = "scheduled" }, "unsupported rule type"},
		{
			"negative delay",
			func(r *WorkflowRuleRequest) {
				r.RuleType = "escalation"
				d := -1.0
				r.DelayHours = &d
			},
			"non-negative",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := base()
			tc.mutate(req)
			_, err := engine.CreateRule(ctx, req)
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("err = %v, want containing %q", err, tc.wantErr)
			}
		})
	}
}

func TestCreateRule_Defaults(t *testing.T) {
	db := newWorkflowTestDB(t)
	engine, _ := newTestEngine(t, db)

	rule, err := engine.CreateRule(context.Background(), &WorkflowRuleRequest{
		Name:         "minimal",
		EntityType:   "incident",
		TriggerEvent: EventCreated,
		ActionType:   ActionLogAuditEvent,
	})
	if err != nil {
		t.Fatalf("CreateRule failed: %v", err)
	}
	if rule.RuleType != "automation" {
		t.Errorf("rule_type = %s, want automation", rule.RuleType)
	}
	if rule.Priority != 100 {
		t.Errorf("priority = %d, want 100", rule.Priority)
	}
	if !rule.IsActive {
		t.Errorf("rule should default to active")
	}
}

func TestCreateRule_InactivePersisted(t *testing.T) {
	db := newWorkflowTestDB(t)
	engine, _ := newTestEngine(t, db)
	ctx := context.Background()

	inactive := false
	rule, err := engine.CreateRule(ctx, &WorkflowRuleRequest{
		Name:         "drafted",
		EntityType:   "incident",
		TriggerEvent: EventCreated,
		ActionType:   ActionChangeStatus,
		ActionConfig: `{"status": "acknowledged"}`,
		IsActive:     &inactive,
	})
	if err != nil {
		t.Fatalf("CreateRule failed: %v", err)
	}

	// 存储行必须是停用的，不能被列默认值改写
	var stored models.WorkflowRule
	if err := db.First(&stored, rule.ID).Error; err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if stored.IsActive {
		t.Fatalf("explicitly inactive rule persisted as active")
	}

	// 停用规则绝不参与事件处理
	incident := seedIncident(t, db, &models.Incident{Status: "open"})
	results, err := engine.ProcessEvent(ctx, "incident", incident.ID, EventCreated, nil, nil)
	if err != nil {
		t.Fatalf("ProcessEvent failed: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("rule created as inactive executed")
	}
}

func TestListRules_FiltersAndOrder(t *testing.T) {
	db := newWorkflowTestDB(t)
	engine, _ := newTestEngine(t, db)
	ctx := context.Background()

	seedRule(t, db, &models.WorkflowRule{
		Name: "low", EntityType: "incident", TriggerEvent: EventCreated,
		ActionType: ActionLogAuditEvent, Priority: 50,
	})
	seedRule(t, db, &models.WorkflowRule{
		Name: "high", EntityType: "incident", TriggerEvent: EventCreated,
		ActionType: ActionLogAuditEvent, Priority: 10,
	})
	seedRule(t, db, &models.WorkflowRule{
		Name: "other-event", EntityType: "incident", TriggerEvent: EventClosed,
		ActionType: ActionLogAuditEvent, Priority: 5,
	})

	rules, err := engine.ListRules(ctx, &RuleListRequest{EntityType: "incident", TriggerEvent: EventCreated})
	if err != nil {
		t.Fatalf("ListRules failed: %v", err)
	}
	if len(rules) != 2 {
		t.Fatalf("rules = %d, want 2", len(rules))
	}
	if rules[0].Name != "high" || rules[1].Name != "low" {
		t.Errorf("order = %s, %s", rules[0].Name, rules[1].Name)
	}

	all, err := engine.ListRules(ctx, nil)
	if err != nil {
		t.Fatalf("ListRules failed: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("all rules = %d, want 3", len(all))
	}
}

func TestDeleteRule_KeepsExecutionLog(t *testing.T) {
	db := newWorkflowTestDB(t)
	engine, _ := newTestEngine(t, db)
	ctx := context.Background()

	incident := seedIncident(t, db, &models.Incident{Status: "open"})
	rule := seedRule(t, db, &models.WorkflowRule{
		Name: "audited", EntityType: "incident", TriggerEvent: EventCreated,
		ActionType: ActionLogAuditEvent, Priority: 10,
	})
	if _, err := engine.ProcessEvent(ctx, "incident", incident.ID, EventCreated, nil, nil); err != nil {
		t.Fatalf("ProcessEvent failed: %v", err)
	}

	if err := engine.DeleteRule(ctx, rule.ID); err != nil {
		t.Fatalf("DeleteRule failed: %v", err)
	}
	if err := engine.DeleteRule(ctx, rule.ID); err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("second delete err = %v", err)
	}

	// 执行日志不随规则删除
	var count int64
	db.Model(&models.RuleExecution{}).Count(&count)
	if count != 1 {
		t.Errorf("execution rows = %d, want 1 after rule deletion", count)
	}
}

func TestSetRuleActive(t *testing.T) {
	db := newWorkflowTestDB(t)
	engine, _ := newTestEngine(t, db)
	ctx := context.Background()

	incident := seedIncident(t, db, &models.Incident{Status: "open"})
	rule := seedRule(t, db, &models.WorkflowRule{
		Name: "toggled", EntityType: "incident", TriggerEvent: EventCreated,
		ActionType: ActionChangeStatus, ActionConfig: `{"status": "acknowledged"}`,
		Priority: 10,
	})

	if err := engine.SetRuleActive(ctx, rule.ID, false); err != nil {
		t.Fatalf("SetRuleActive failed: %v", err)
	}
	results, err := engine.ProcessEvent(ctx, "incident", incident.ID, EventCreated, nil, nil)
	if err != nil {
		t.Fatalf("ProcessEvent failed: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("disabled rule executed")
	}

	if err := engine.SetRuleActive(ctx, rule.ID, true); err != nil {
		t.Fatalf("SetRuleActive failed: %v", err)
	}
	results, _ = engine.ProcessEvent(ctx, "incident", incident.ID, EventCreated, nil, nil)
	if len(results) != 1 {
		t.Errorf("re-enabled rule did not execute")
	}

	if err := engine.SetRuleActive(ctx, 9999, true); err == nil {
		t.Errorf("missing rule must error")
	}
}

func TestListExecutions_FilterAndPaginate(t *testing.T) {
	db := newWorkflowTestDB(t)
	engine, _ := newTestEngine(t, db)
	ctx := context.Background()

	incident := seedIncident(t, db, &models.Incident{Status: "open"})
	seedRule(t, db, &models.WorkflowRule{
		Name: "repeat", EntityType: "incident", TriggerEvent: EventUpdated,
		ActionType: ActionLogAuditEvent, Priority: 10,
	})
	for i := 0; i < 5; i++ {
		if _, err := engine.ProcessEvent(ctx, "incident", incident.ID, EventUpdated, nil, nil); err != nil {
			t.Fatalf("ProcessEvent failed: %v", err)
		}
	}

	executions, total, err := engine.ListExecutions(ctx, &ExecutionListRequest{Page: 1, PageSize: 2})
	if err != nil {
		t.Fatalf("ListExecutions failed: %v", err)
	}
	if total != 5 {
		t.Errorf("total = %d, want 5", total)
	}
	if len(executions) != 2 {
		t.Errorf("page size = %d, want 2", len(executions))
	}
	// 最新在前
	if len(executions) == 2 && executions[0].ID < executions[1].ID {
		t.Errorf("executions not in reverse id order")
	}

	succeeded := true
	_, total, err = engine.ListExecutions(ctx, &ExecutionListRequest{Page: 1, PageSize: 20, Success: &succeeded})
	if err != nil {
		t.Fatalf("ListExecutions failed: %v", err)
	}
	if total != 5 {
		t.Errorf("success filter total = %d, want 5", total)
	}

	otherID := uint(999)
	_, total, err = engine.ListExecutions(ctx, &ExecutionListRequest{Page: 1, PageSize: 20, EntityID: &otherID})
	if err != nil {
		t.Fatalf("ListExecutions failed: %v", err)
	}
	if total != 0 {
		t.Errorf("entity filter total = %d, want 0", total)
	}
}

func TestDryRun_MatchesWithoutSideEffects(t *testing.T) {
	db := newWorkflowTestDB(t)
	engine, _ := newTestEngine(t, db)
	ctx := context.Background()

	high := seedIncident(t, db, &models.Incident{Status: "open", Priority: "high"})
	low := seedIncident(t, db, &models.Incident{Status: "open", Priority: "low"})

	seedRule(t, db, &models.WorkflowRule{
		Name: "match-high", EntityType: "incident", TriggerEvent: EventCreated,
		Conditions: `{"field": "priority", "operator": "equals", "value": "high"}`,
		ActionType: ActionChangeStatus, ActionConfig: `{"status": "acknowledged"}`,
		Priority:   10,
	})
	seedRule(t, db, &models.WorkflowRule{
		Name: "match-all", EntityType: "incident", TriggerEvent: EventCreated,
		ActionType: ActionLogAuditEvent, Priority: 20,
	})

	resp, err := engine.DryRun(ctx, &DryRunRequest{
		EntityType:   "incident",
		TriggerEvent: EventCreated,
		EntityIDs:    []uint{high.ID, low.ID, 9999},
	})
	if err != nil {
		t.Fatalf("DryRun failed: %v", err)
	}
	if resp.EntitiesProcessed != 3 {
		t.Errorf("processed = %d, want 3", resp.EntitiesProcessed)
	}
	if resp.Matches != 2 {
		t.Errorf("matches = %d, want 2", resp.Matches)
	}
	if got := resp.Results[0].MatchedRules; len(got) != 2 || got[0] != "match-high" || got[1] != "match-all" {
		t.Errorf("high incident matched %v", got)
	}
	if got := resp.Results[1].MatchedRules; len(got) != 1 || got[0] != "match-all" {
		t.Errorf("low incident matched %v", got)
	}
	if resp.Results[2].Error == "" {
		t.Errorf("missing entity should carry an error")
	}

	// 试运行零副作用
	var count int64
	db.Model(&models.RuleExecution{}).Count(&count)
	if count != 0 {
		t.Errorf("dry run wrote %d execution rows", count)
	}
	var reloaded models.Incident
	db.First(&reloaded, high.ID)
	if reloaded.Status != "open" {
		t.Errorf("dry run mutated entity status to %s", reloaded.Status)
	}
}

func TestDryRun_StopProcessingShortCircuits(t *testing.T) {
	db := newWorkflowTestDB(t)
	engine, _ := newTestEngine(t, db)
	ctx := context.Background()

	incident := seedIncident(t, db, &models.Incident{Status: "open"})
	stopper := seedRule(t, db, &models.WorkflowRule{
		Name: "stopper", EntityType: "incident", TriggerEvent: EventCreated,
		ActionType: ActionLogAuditEvent, Priority: 10,
	})
	db.Model(&models.WorkflowRule{}).Where("id = ?", stopper.ID).Update("stop_processing", true)
	seedRule(t, db, &models.WorkflowRule{
		Name: "shadowed", EntityType: "incident", TriggerEvent: EventCreated,
		ActionType: ActionLogAuditEvent, Priority: 20,
	})

	resp, err := engine.DryRun(ctx, &DryRunRequest{
		EntityType:   "incident",
		TriggerEvent: EventCreated,
		EntityIDs:    []uint{incident.ID},
	})
	if err != nil {
		t.Fatalf("DryRun failed: %v", err)
	}
	if got := resp.Results[0].MatchedRules; len(got) != 1 || got[0] != "stopper" {
		t.Errorf("matched = %v, want only stopper", got)
	}
}

func TestDryRun_Validation(t *testing.T) {
	db := newWorkflowTestDB(t)
	engine, _ := newTestEngine(t, db)
	ctx := context.Background()

	cases := []struct {
		name    string
		req     *DryRunRequest
		wantErr string
	}{
		{"nil request", nil, "request required"},
		{"unknown entity", &DryRunRequest{EntityType: "spaceship", TriggerEvent: EventCreated, EntityIDs: []uint{1}}, "unknown entity type"},
		{"unknown event", &DryRunRequest{EntityType: "incident", TriggerEvent: "full_moon", EntityIDs: []uint{1}}, "unsupported trigger event"},
		{"empty ids", &DryRunRequest{EntityType: "incident", TriggerEvent: EventCreated}, "entity ids required"},
		{"too many ids", &DryRunRequest{EntityType: "incident", TriggerEvent: EventCreated, EntityIDs: make([]uint, dryRunMaxEntities+1)}, "too many entity ids"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := engine.DryRun(ctx, tc.req)
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("err = %v, want containing %q", err, tc.wantErr)
			}
		})
	}
}
