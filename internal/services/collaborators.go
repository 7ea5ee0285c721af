package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"grcflow/internal/models"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Notification 单条出站通知
type Notification struct {
	Channel    string
	Recipients []string
	Template   string
	Data       map[string]interface{}
	EntityType string
	EntityID   uint
}

// NotificationDispatcher accepts notifications for delivery. The
// engine never blocks on the actual transport.
type NotificationDispatcher interface {
	Dispatch(ctx context.Context, n Notification) error
}

// RiskScorer applies adjustments to risk register entries.
type RiskScorer interface {
	Adjust(ctx context.Context, riskID uint, adjustment float64) error
}

// AuditLogger records structured audit entries.
type AuditLogger interface {
	Record(ctx context.Context, entry models.AuditLogEntry) error
}

// TaskCreator creates follow-up tasks from workflow actions.
type TaskCreator interface {
	Create(ctx context.Context, task models.Task) error
}

// OutboxDispatcher queues notifications in the database; an external
// worker drains the outbox and performs channel delivery.
type OutboxDispatcher struct {
	db     *gorm.DB
	logger *logrus.Logger
}

func NewOutboxDispatcher(db *gorm.DB, logger *logrus.Logger) *OutboxDispatcher {
	if logger == nil {
		logger = logrus.New()
	}
	return &OutboxDispatcher{db: db, logger: logger}
}

func (d *OutboxDispatcher) Dispatch(ctx context.Context, n Notification) error {
	if n.Channel == "" {
		return fmt.Errorf("notification channel required")
	}
	payload := "{}"
	if n.Data != nil {
		raw, err := json.Marshal(n.Data)
		if err != nil {
			return fmt.Errorf("failed to encode notification payload: %w", err)
		}
		payload = string(raw)
	}
	row := &models.NotificationOutbox{
		CorrelationID: uuid.NewString(),
		Channel:       n.Channel,
		Recipients:    strings.Join(n.Recipients, ","),
		Template:      n.Template,
		Payload:       payload,
		EntityType:    n.EntityType,
		EntityID:      n.EntityID,
		Status:        "queued",
		CreatedAt:     time.Now(),
	}
	if err := d.db.WithContext(ctx).Create(row).Error; err != nil {
		return fmt.Errorf("failed to enqueue notification: %w", err)
	}
	d.logger.Debugf("notification queued: channel=%s template=%s correlation=%s",
		n.Channel, n.Template, row.CorrelationID)
	return nil
}

// DBRiskScorer adjusts the score column on the risk register row.
type DBRiskScorer struct {
	db *gorm.DB
}

func NewDBRiskScorer(db *gorm.DB) *DBRiskScorer {
	return &DBRiskScorer{db: db}
}

func (r *DBRiskScorer) Adjust(ctx context.Context, riskID uint, adjustment float64) error {
	result := r.db.WithContext(ctx).Model(&models.Risk{}).
		Where("id = ?", riskID).
		Updates(map[string]interface{}{
			"score":        gorm.Expr("score + ?", adjustment),
			"last_scoring": time.Now(),
			"updated_at":   time.Now(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to adjust risk score: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("risk %d not found", riskID)
	}
	return nil
}

// DBAuditLogger persists audit entries as rows.
type DBAuditLogger struct {
	db *gorm.DB
}

func NewDBAuditLogger(db *gorm.DB) *DBAuditLogger {
	return &DBAuditLogger{db: db}
}

func (a *DBAuditLogger) Record(ctx context.Context, entry models.AuditLogEntry) error {
	entry.CreatedAt = time.Now()
	if err := a.db.WithContext(ctx).Create(&entry).Error; err != nil {
		return fmt.Errorf("failed to record audit entry: %w", err)
	}
	return nil
}

// DBTaskCreator inserts follow-up tasks.
type DBTaskCreator struct {
	db *gorm.DB
}

func NewDBTaskCreator(db *gorm.DB) *DBTaskCreator {
	return &DBTaskCreator{db: db}
}

func (t *DBTaskCreator) Create(ctx context.Context, task models.Task) error {
	if task.Title == "" {
		return fmt.Errorf("task title required")
	}
	task.CreatedAt = time.Now()
	task.UpdatedAt = task.CreatedAt
	if err := t.db.WithContext(ctx).Create(&task).Error; err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}
	return nil
}
