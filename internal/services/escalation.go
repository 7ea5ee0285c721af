package services

import (
	"context"
	"fmt"
	"time"

	"grcflow/internal/models"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// EscalationService manages the per-entity-type escalation ladder.
type EscalationService struct {
	db     *gorm.DB
	logger *logrus.Logger
}

func NewEscalationService(db *gorm.DB, logger *logrus.Logger) *EscalationService {
	if logger == nil {
		logger = logrus.New()
	}
	return &EscalationService{db: db, logger: logger}
}

// NextLevel returns the active ladder entry at the given level, or nil
// when the ladder has no such level. A miss is not an error.
func (s *EscalationService) NextLevel(ctx context.Context, entityType string, level int) (*models.EscalationLevel, error) {
	if level < 1 {
		return nil, fmt.Errorf("escalation level must be 1-based, got %d", level)
	}
	var entry models.EscalationLevel
	err := s.db.WithContext(ctx).
		Where("entity_type = ? AND level = ? AND is_active = ?", entityType, level, true).
		First(&entry).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to look up escalation level: %w", err)
	}
	return &entry, nil
}

// EscalationLevelRequest 创建升级层级请求
type EscalationLevelRequest struct {
	EntityType         string  `json:"entity_type" binding:"required"`
	Level              int     `json:"level" binding:"required,min=1"`
	EscalateToRole     string  `json:"escalate_to_role"`
	EscalateToUserID   *uint   `json:"escalate_to_user_id"`
	NotifyTemplate     string  `json:"notify_template"`
	HoursAfterPrevious float64 `json:"hours_after_previous"`
	IsActive           *bool   `json:"is_active"`
}

// CreateLevel 新建升级层级
func (s *EscalationService) CreateLevel(ctx context.Context, req *EscalationLevelRequest) (*models.EscalationLevel, error) {
	if req == nil {
		return nil, fmt.Errorf("request required")
	}
	if !IsKnownEntityType(req.EntityType) {
		return nil, fmt.Errorf("unknown entity type: %s", req.EntityType)
	}
	if req.Level < 1 {
		return nil, fmt.Errorf("level must be at least 1")
	}
	if req.EscalateToRole == "" && req.EscalateToUserID == nil {
		return nil, fmt.Errorf("escalation target (role or user) required")
	}

	var existing models.EscalationLevel
	err := s.db.WithContext(ctx).
		Where("entity_type = ? AND level = ?", req.EntityType, req.Level).
		First(&existing).Error
	if err == nil {
		return nil, fmt.Errorf("escalation level %d for %s already exists", req.Level, req.EntityType)
	} else if err != gorm.ErrRecordNotFound {
		return nil, fmt.Errorf("failed to check existing level: %w", err)
	}

	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}
	entry := &models.EscalationLevel{
		EntityType:         req.EntityType,
		Level:              req.Level,
		EscalateToRole:     req.EscalateToRole,
		EscalateToUserID:   req.EscalateToUserID,
		NotifyTemplate:     req.NotifyTemplate,
		HoursAfterPrevious: req.HoursAfterPrevious,
		IsActive:           active,
		CreatedAt:          time.Now(),
		UpdatedAt:          time.Now(),
	}
	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		return nil, fmt.Errorf("failed to create escalation level: %w", err)
	}
	s.logger.Infof("created escalation level: entity_type=%s level=%d", req.EntityType, req.Level)
	return entry, nil
}

// ListLevels 按 (entity_type, level) 返回阶梯
func (s *EscalationService) ListLevels(ctx context.Context, entityType string) ([]models.EscalationLevel, error) {
	query := s.db.WithContext(ctx).Model(&models.EscalationLevel{})
	if entityType != "" {
		query = query.Where("entity_type = ?", entityType)
	}
	var levels []models.EscalationLevel
	if err := query.Order("entity_type ASC, level ASC").Find(&levels).Error; err != nil {
		return nil, fmt.Errorf("failed to list escalation levels: %w", err)
	}
	return levels, nil
}

// DeleteLevel 删除升级层级
func (s *EscalationService) DeleteLevel(ctx context.Context, id uint) error {
	result := s.db.WithContext(ctx).Delete(&models.EscalationLevel{}, id)
	if result.Error != nil {
		return fmt.Errorf("failed to delete escalation level: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("escalation level not found")
	}
	return nil
}
