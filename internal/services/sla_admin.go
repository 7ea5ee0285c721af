package services

import (
	"context"
	"fmt"
	"time"

	"grcflow/internal/models"
)

// SLAConfigCreateRequest 创建SLA配置请求
type SLAConfigCreateRequest struct {
	Name       string  `json:"name" binding:"required"`
	EntityType string  `json:"entity_type" binding:"required"`
	Priority   *string `json:"priority"`
	Category   *string `json:"category"`
	Department *string `json:"department"`
	ContractID *uint   `json:"contract_id"`

	AcknowledgmentHours *float64 `json:"acknowledgment_hours"`
	ResponseHours       *float64 `json:"response_hours"`
	ResolutionHours     float64  `json:"resolution_hours" binding:"required"`

	WarningThresholdPercent int   `json:"warning_threshold_percent"`
	BusinessHoursOnly       bool  `json:"business_hours_only"`
	BusinessStartHour       *int  `json:"business_start_hour"`
	BusinessEndHour         *int  `json:"business_end_hour"`
	ExcludeWeekends         bool  `json:"exclude_weekends"`
	MatchPriority           int   `json:"match_priority"`
	IsActive                *bool `json:"is_active"`
}

// SLATrackingListRequest SLA跟踪列表请求
type SLATrackingListRequest struct {
	Page       int    `form:"page,default=1"`
	PageSize   int    `form:"page_size,default=20"`
	EntityType string `form:"entity_type"`
	EntityID   *uint  `form:"entity_id"`
	Breached   *bool  `form:"breached"`
	Paused     *bool  `form:"paused"`
	Resolved   *bool  `form:"resolved"`
}

// SLAStatsResponse SLA统计响应
type SLAStatsResponse struct {
	TotalConfigs    int64 `json:"total_configs"`
	ActiveConfigs   int64 `json:"active_configs"`
	TrackedEntities int64 `json:"tracked_entities"`
	OpenTracking    int64 `json:"open_tracking"`
	Breached        int64 `json:"breached"`
	WarningsSent    int64 `json:"warnings_sent"`
	Paused          int64 `json:"paused"`
}

// CreateSLAConfig 创建SLA配置
func (s *SLAService) CreateSLAConfig(ctx context.Context, req *SLAConfigCreateRequest) (*models.SLAConfiguration, error) {
	ctx, span := s.tracer.Start(ctx, "sla.create_config")
	defer span.End()

	if req == nil {
		return nil, fmt.Errorf("request required")
	}
	if !IsKnownEntityType(req.EntityType) {
		return nil, fmt.Errorf("unknown entity type: %s", req.EntityType)
	}
	if req.ResolutionHours <= 0 {
		return nil, fmt.Errorf("resolution hours must be positive")
	}
	if req.AcknowledgmentHours != nil && *req.AcknowledgmentHours >= req.ResolutionHours {
		return nil, fmt.Errorf("acknowledgment hours must be less than resolution hours")
	}
	if req.ResponseHours != nil && *req.ResponseHours >= req.ResolutionHours {
		return nil, fmt.Errorf("response hours must be less than resolution hours")
	}

	threshold := req.WarningThresholdPercent
	if threshold <= 0 || threshold > 100 {
		threshold = 80
	}
	startHour, endHour := 9, 17
	if req.BusinessStartHour != nil {
		startHour = *req.BusinessStartHour
	}
	if req.BusinessEndHour != nil {
		endHour = *req.BusinessEndHour
	}
	if req.BusinessHoursOnly && (startHour < 0 || endHour <= startHour || endHour > 24) {
		return nil, fmt.Errorf("invalid business window: [%d, %d)", startHour, endHour)
	}
	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}

	cfg := &models.SLAConfiguration{
		Name:                    req.Name,
		EntityType:              req.EntityType,
		Priority:                req.Priority,
		Category:                req.Category,
		Department:              req.Department,
		ContractID:              req.ContractID,
		AcknowledgmentHours:     req.AcknowledgmentHours,
		ResponseHours:           req.ResponseHours,
		ResolutionHours:         req.ResolutionHours,
		WarningThresholdPercent: threshold,
		BusinessHoursOnly:       req.BusinessHoursOnly,
		BusinessStartHour:       startHour,
		BusinessEndHour:         endHour,
		ExcludeWeekends:         req.ExcludeWeekends,
		MatchPriority:           req.MatchPriority,
		IsActive:                active,
		CreatedAt:               time.Now(),
		UpdatedAt:               time.Now(),
	}
	if err := s.db.WithContext(ctx).Create(cfg).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to create SLA configuration: %w", err)
	}
	s.logger.Infof("created SLA configuration: name=%s entity_type=%s resolution=%.1fh",
		cfg.Name, cfg.EntityType, cfg.ResolutionHours)
	return cfg, nil
}

// ListSLAConfigs 按 entity_type 过滤返回配置
func (s *SLAService) ListSLAConfigs(ctx context.Context, entityType string) ([]models.SLAConfiguration, error) {
	query := s.db.WithContext(ctx).Model(&models.SLAConfiguration{})
	if entityType != "" {
		query = query.Where("entity_type = ?", entityType)
	}
	var configs []models.SLAConfiguration
	if err := query.Order("entity_type ASC, match_priority DESC, id ASC").Find(&configs).Error; err != nil {
		return nil, fmt.Errorf("failed to list SLA configurations: %w", err)
	}
	return configs, nil
}

// DeleteSLAConfig 删除配置；已有跟踪行时拒绝删除
func (s *SLAService) DeleteSLAConfig(ctx context.Context, id uint) error {
	var trackingCount int64
	if err := s.db.WithContext(ctx).Model(&models.SLATracking{}).
		Where("sla_config_id = ?", id).Count(&trackingCount).Error; err != nil {
		return fmt.Errorf("failed to check SLA tracking rows: %w", err)
	}
	if trackingCount > 0 {
		return fmt.Errorf("cannot delete SLA configuration: %d tracking rows reference it", trackingCount)
	}
	result := s.db.WithContext(ctx).Delete(&models.SLAConfiguration{}, id)
	if result.Error != nil {
		return fmt.Errorf("failed to delete SLA configuration: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("SLA configuration not found")
	}
	return nil
}

// ListTracking 查询SLA跟踪行
func (s *SLAService) ListTracking(ctx context.Context, req *SLATrackingListRequest) ([]models.SLATracking, int64, error) {
	query := s.db.WithContext(ctx).Model(&models.SLATracking{}).Preload("Config")
	if req.EntityType != "" {
		query = query.Where("entity_type = ?", req.EntityType)
	}
	if req.EntityID != nil {
		query = query.Where("entity_id = ?", *req.EntityID)
	}
	if req.Breached != nil {
		query = query.Where("is_breached = ?", *req.Breached)
	}
	if req.Paused != nil {
		query = query.Where("is_paused = ?", *req.Paused)
	}
	if req.Resolved != nil {
		if *req.Resolved {
			query = query.Where("resolved_at IS NOT NULL")
		} else {
			query = query.Where("resolved_at IS NULL")
		}
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count SLA tracking rows: %w", err)
	}
	query = query.Order("id DESC")
	if req.PageSize > 0 {
		offset := (req.Page - 1) * req.PageSize
		query = query.Offset(offset).Limit(req.PageSize)
	}
	var rows []models.SLATracking
	if err := query.Find(&rows).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list SLA tracking rows: %w", err)
	}
	return rows, total, nil
}

// GetSLAStats SLA统计摘要
func (s *SLAService) GetSLAStats(ctx context.Context) (*SLAStatsResponse, error) {
	stats := &SLAStatsResponse{}
	db := s.db.WithContext(ctx)

	if err := db.Model(&models.SLAConfiguration{}).Count(&stats.TotalConfigs).Error; err != nil {
		return nil, fmt.Errorf("failed to count SLA configurations: %w", err)
	}
	if err := db.Model(&models.SLAConfiguration{}).Where("is_active = ?", true).Count(&stats.ActiveConfigs).Error; err != nil {
		return nil, fmt.Errorf("failed to count active SLA configurations: %w", err)
	}
	if err := db.Model(&models.SLATracking{}).Count(&stats.TrackedEntities).Error; err != nil {
		return nil, fmt.Errorf("failed to count SLA tracking rows: %w", err)
	}
	if err := db.Model(&models.SLATracking{}).Where("resolved_at IS NULL").Count(&stats.OpenTracking).Error; err != nil {
		return nil, fmt.Errorf("failed to count open tracking rows: %w", err)
	}
	if err := db.Model(&models.SLATracking{}).Where("is_breached = ?", true).Count(&stats.Breached).Error; err != nil {
		return nil, fmt.Errorf("failed to count breached rows: %w", err)
	}
	if err := db.Model(&models.SLATracking{}).Where("warning_sent = ?", true).Count(&stats.WarningsSent).Error; err != nil {
		return nil, fmt.Errorf("failed to count warning rows: %w", err)
	}
	if err := db.Model(&models.SLATracking{}).Where("is_paused = ?", true).Count(&stats.Paused).Error; err != nil {
		return nil, fmt.Errorf("failed to count paused rows: %w", err)
	}
	return stats, nil
}
