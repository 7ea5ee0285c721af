package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"grcflow/internal/models"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// 可被工作流跟踪的业务实体类型
const (
	EntityIncident  = "incident"
	EntityComplaint = "complaint"
	EntityAudit     = "audit"
	EntityPolicy    = "policy"
	EntityCollision = "collision"
)

type entityDescriptor struct {
	table string
	model func() interface{}
}

var entityRegistry = map[string]entityDescriptor{
	EntityIncident:  {table: "incidents", model: func() interface{} { return &models.Incident{} }},
	EntityComplaint: {table: "complaints", model: func() interface{} { return &models.Complaint{} }},
	EntityAudit:     {table: "audits", model: func() interface{} { return &models.Audit{} }},
	EntityPolicy:    {table: "policies", model: func() interface{} { return &models.Policy{} }},
	EntityCollision: {table: "collisions", model: func() interface{} { return &models.Collision{} }},
}

// 动作执行器允许写回的列
var writableEntityColumns = map[string]bool{
	"status":           true,
	"priority":         true,
	"assigned_to_id":   true,
	"assigned_role":    true,
	"escalation_level": true,
}

// 升级扫描允许作为延迟基准的列
var delayReferenceColumns = map[string]bool{
	"created_at": true,
	"updated_at": true,
	"due_date":   true,
}

// EntityStore reads attribute snapshots of business entities and
// applies the few field mutations workflow actions are allowed to
// make. Entity business logic stays outside this core.
type EntityStore struct {
	db     *gorm.DB
	logger *logrus.Logger
}

func NewEntityStore(db *gorm.DB, logger *logrus.Logger) *EntityStore {
	if logger == nil {
		logger = logrus.New()
	}
	return &EntityStore{db: db, logger: logger}
}

// IsKnownEntityType reports whether the workflow engine can operate on
// the given entity type.
func IsKnownEntityType(entityType string) bool {
	_, ok := entityRegistry[entityType]
	return ok
}

// Snapshot loads the entity and flattens it into a nested attribute
// map for condition evaluation.
func (s *EntityStore) Snapshot(ctx context.Context, entityType string, entityID uint) (map[string]interface{}, error) {
	desc, ok := entityRegistry[entityType]
	if !ok {
		return nil, fmt.Errorf("unknown entity type: %s", entityType)
	}
	record := desc.model()
	if err := s.db.WithContext(ctx).First(record, entityID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, fmt.Errorf("%s %d not found", entityType, entityID)
		}
		return nil, fmt.Errorf("failed to load %s %d: %w", entityType, entityID, err)
	}

	// JSON roundtrip 得到嵌套 map，点路径遍历由求值器完成
	raw, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s snapshot: %w", entityType, err)
	}
	snapshot := map[string]interface{}{}
	if err := json.Unmarshal(raw, &snapshot); err != nil {
		return nil, fmt.Errorf("failed to decode %s snapshot: %w", entityType, err)
	}
	return snapshot, nil
}

// SetField writes a single workflow-managed column on the entity row.
func (s *EntityStore) SetField(ctx context.Context, entityType string, entityID uint, column string, value interface{}) error {
	desc, ok := entityRegistry[entityType]
	if !ok {
		return fmt.Errorf("unknown entity type: %s", entityType)
	}
	if !writableEntityColumns[column] {
		return fmt.Errorf("column %s is not writable by workflow actions", column)
	}
	result := s.db.WithContext(ctx).Table(desc.table).
		Where("id = ?", entityID).
		Updates(map[string]interface{}{column: value, "updated_at": time.Now()})
	if result.Error != nil {
		return fmt.Errorf("failed to update %s.%s: %w", entityType, column, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%s %d not found", entityType, entityID)
	}
	return nil
}

// CurrentEscalationLevel reads the stored escalation level of an entity.
func (s *EntityStore) CurrentEscalationLevel(ctx context.Context, entityType string, entityID uint) (int, error) {
	desc, ok := entityRegistry[entityType]
	if !ok {
		return 0, fmt.Errorf("unknown entity type: %s", entityType)
	}
	var level int
	err := s.db.WithContext(ctx).Table(desc.table).
		Where("id = ?", entityID).
		Select("escalation_level").
		Scan(&level).Error
	if err != nil {
		return 0, fmt.Errorf("failed to read escalation level of %s %d: %w", entityType, entityID, err)
	}
	return level, nil
}

// LastChangedAt reads the entity's updated_at column.
func (s *EntityStore) LastChangedAt(ctx context.Context, entityType string, entityID uint) (time.Time, error) {
	desc, ok := entityRegistry[entityType]
	if !ok {
		return time.Time{}, fmt.Errorf("unknown entity type: %s", entityType)
	}
	var ts time.Time
	err := s.db.WithContext(ctx).Table(desc.table).
		Where("id = ?", entityID).
		Select("updated_at").
		Scan(&ts).Error
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to read updated_at of %s %d: %w", entityType, entityID, err)
	}
	return ts, nil
}

// ListOverdue returns ids of open entities whose reference column aged
// past the cutoff. Used by the escalation sweep.
func (s *EntityStore) ListOverdue(ctx context.Context, entityType, referenceColumn string, cutoff time.Time) ([]uint, error) {
	desc, ok := entityRegistry[entityType]
	if !ok {
		return nil, fmt.Errorf("unknown entity type: %s", entityType)
	}
	if referenceColumn == "" {
		referenceColumn = "created_at"
	}
	if !delayReferenceColumns[referenceColumn] {
		return nil, fmt.Errorf("column %s cannot be used as a delay reference", referenceColumn)
	}
	var ids []uint
	err := s.db.WithContext(ctx).Table(desc.table).
		Where(referenceColumn+" <= ?", cutoff).
		Where("status NOT IN ?", []string{"resolved", "closed", "retired"}).
		Where("deleted_at IS NULL").
		Order("id ASC").
		Pluck("id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("failed to scan overdue %s rows: %w", entityType, err)
	}
	return ids, nil
}
