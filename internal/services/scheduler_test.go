package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grcflow/internal/models"
)

func TestScheduler_Defaults(t *testing.T) {
	db := newWorkflowTestDB(t)
	engine, _ := newTestEngine(t, db)

	s := NewScheduler(engine, nil)
	assert.Equal(t, 5*time.Minute, s.EscalationInterval)
	assert.Equal(t, 5*time.Minute, s.SLAInterval)
}

func TestScheduler_RunsSweepsUntilCancelled(t *testing.T) {
	db := newWorkflowTestDB(t)
	engine, _ := newTestEngine(t, db)

	// 过期开放事件 + 升级规则，扫描应实际处理它
	if err := db.Create(&models.EscalationLevel{
		EntityType: "incident", Level: 1, EscalateToRole: "team_lead", IsActive: true,
	}).Error; err != nil {
		t.Fatalf("seed ladder: %v", err)
	}
	delay := 1.0
	seedRule(t, db, &models.WorkflowRule{
		Name: "stale", RuleType: "escalation",
		EntityType: "incident", TriggerEvent: EventEscalated,
		DelayHours: &delay, ActionType: ActionEscalate, Priority: 10,
	})
	incident := seedIncident(t, db, &models.Incident{Status: "open"})
	db.Model(&models.Incident{}).Where("id = ?", incident.ID).
		Update("created_at", time.Now().Add(-2*time.Hour))

	s := NewScheduler(engine, nil)
	s.EscalationInterval = 10 * time.Millisecond
	s.SLAInterval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)

	// 至少滴答一次
	deadline := time.Now().Add(2 * time.Second)
	var reloaded models.Incident
	for time.Now().Before(deadline) {
		db.First(&reloaded, incident.ID)
		if reloaded.EscalationLevel > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()

	require.Equal(t, 1, reloaded.EscalationLevel, "sweep did not escalate the stale incident")
	assert.Equal(t, "team_lead", reloaded.AssignedRole)
}
