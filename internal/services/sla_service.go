package services

import (
	"context"
	"fmt"
	"time"

	"grcflow/internal/models"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

// SLAService SLA跟踪生命周期管理
type SLAService struct {
	db     *gorm.DB
	logger *logrus.Logger
	tracer trace.Tracer
}

// NewSLAService 创建SLA服务
func NewSLAService(db *gorm.DB, logger *logrus.Logger) *SLAService {
	if logger == nil {
		logger = logrus.New()
	}
	return &SLAService{
		db:     db,
		logger: logger,
		tracer: otel.Tracer("grcflow.sla"),
	}
}

// SLAAttributes 实体用于SLA配置匹配的维度
type SLAAttributes struct {
	Priority   string
	Category   string
	Department string
	ContractID *uint
}

// SLAEvent 扫描产生的SLA事件，由工作流引擎转为触发事件
type SLAEvent struct {
	Type       string `json:"type"` // sla_warning, sla_breach
	EntityType string `json:"entity_type"`
	EntityID   uint   `json:"entity_id"`
	TrackingID uint   `json:"tracking_id"`
}

// StartTracking opens a tracking period for the entity. When no
// configuration matches the entity type the entity is simply not
// tracked; that is not an error.
func (s *SLAService) StartTracking(ctx context.Context, entityType string, entityID uint, attrs SLAAttributes) (*models.SLATracking, error) {
	ctx, span := s.tracer.Start(ctx, "sla.start_tracking")
	defer span.End()
	span.SetAttributes(
		attribute.String("sla.entity_type", entityType),
		attribute.Int64("sla.entity_id", int64(entityID)),
	)

	cfg, err := s.matchConfiguration(ctx, entityType, attrs)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if cfg == nil {
		s.logger.Debugf("no SLA configuration for entity_type=%s, not tracked", entityType)
		return nil, nil
	}

	now := time.Now()
	window := WindowFromConfig(cfg)
	tracking := &models.SLATracking{
		SLAConfigID: cfg.ID,
		EntityType:  entityType,
		EntityID:    entityID,
		StartedAt:   now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if cfg.AcknowledgmentHours != nil {
		due := DueTime(now, *cfg.AcknowledgmentHours, window)
		tracking.AcknowledgmentDue = &due
	}
	if cfg.ResponseHours != nil {
		due := DueTime(now, *cfg.ResponseHours, window)
		tracking.ResponseDue = &due
	}
	resolutionDue := DueTime(now, cfg.ResolutionHours, window)
	tracking.ResolutionDue = &resolutionDue

	if err := s.db.WithContext(ctx).Create(tracking).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to create SLA tracking: %w", err)
	}
	s.logger.Infof("SLA tracking started: entity=%s/%d config=%d resolution_due=%s",
		entityType, entityID, cfg.ID, resolutionDue.Format(time.RFC3339))
	return tracking, nil
}

// matchConfiguration picks the best active configuration: highest
// match_priority whose every non-null dimension equals the entity's
// value. When rows exist but none match, the first row in query order
// is the fallback.
func (s *SLAService) matchConfiguration(ctx context.Context, entityType string, attrs SLAAttributes) (*models.SLAConfiguration, error) {
	var configs []models.SLAConfiguration
	err := s.db.WithContext(ctx).
		Where("entity_type = ? AND is_active = ?", entityType, true).
		Order("match_priority DESC, id ASC").
		Find(&configs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load SLA configurations: %w", err)
	}
	if len(configs) == 0 {
		return nil, nil
	}
	for i := range configs {
		if configMatches(&configs[i], attrs) {
			return &configs[i], nil
		}
	}
	return &configs[0], nil
}

func configMatches(cfg *models.SLAConfiguration, attrs SLAAttributes) bool {
	if cfg.Priority != nil && *cfg.Priority != attrs.Priority {
		return false
	}
	if cfg.Category != nil && *cfg.Category != attrs.Category {
		return false
	}
	if cfg.Department != nil && *cfg.Department != attrs.Department {
		return false
	}
	if cfg.ContractID != nil {
		if attrs.ContractID == nil || *cfg.ContractID != *attrs.ContractID {
			return false
		}
	}
	return true
}

// activeTracking 返回实体当前（未解决）的跟踪行
func (s *SLAService) activeTracking(ctx context.Context, entityType string, entityID uint) (*models.SLATracking, error) {
	var tracking models.SLATracking
	err := s.db.WithContext(ctx).
		Where("entity_type = ? AND entity_id = ? AND resolved_at IS NULL", entityType, entityID).
		Order("id DESC").
		First(&tracking).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load SLA tracking: %w", err)
	}
	return &tracking, nil
}

// MarkAcknowledged 标记已确认；重复调用为幂等空操作
func (s *SLAService) MarkAcknowledged(ctx context.Context, entityType string, entityID uint) (*models.SLATracking, error) {
	ctx, span := s.tracer.Start(ctx, "sla.mark_acknowledged")
	defer span.End()

	tracking, err := s.activeTracking(ctx, entityType, entityID)
	if err != nil || tracking == nil {
		return tracking, err
	}
	if tracking.AcknowledgedAt != nil {
		return tracking, nil
	}
	now := time.Now()
	met := milestoneMet(now, tracking.AcknowledgmentDue)
	tracking.AcknowledgedAt = &now
	tracking.AcknowledgmentMet = &met
	tracking.UpdatedAt = now
	if err := s.db.WithContext(ctx).Save(tracking).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to mark acknowledged: %w", err)
	}
	return tracking, nil
}

// MarkResponded 标记已响应；重复调用为幂等空操作
func (s *SLAService) MarkResponded(ctx context.Context, entityType string, entityID uint) (*models.SLATracking, error) {
	ctx, span := s.tracer.Start(ctx, "sla.mark_responded")
	defer span.End()

	tracking, err := s.activeTracking(ctx, entityType, entityID)
	if err != nil || tracking == nil {
		return tracking, err
	}
	if tracking.RespondedAt != nil {
		return tracking, nil
	}
	now := time.Now()
	met := milestoneMet(now, tracking.ResponseDue)
	tracking.RespondedAt = &now
	tracking.ResponseMet = &met
	tracking.UpdatedAt = now
	if err := s.db.WithContext(ctx).Save(tracking).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to mark responded: %w", err)
	}
	return tracking, nil
}

// MarkResolved 标记已解决；重复调用为幂等空操作
func (s *SLAService) MarkResolved(ctx context.Context, entityType string, entityID uint) (*models.SLATracking, error) {
	ctx, span := s.tracer.Start(ctx, "sla.mark_resolved")
	defer span.End()

	var tracking models.SLATracking
	err := s.db.WithContext(ctx).
		Where("entity_type = ? AND entity_id = ?", entityType, entityID).
		Order("id DESC").
		First(&tracking).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load SLA tracking: %w", err)
	}
	if tracking.ResolvedAt != nil {
		return &tracking, nil
	}
	now := time.Now()
	met := milestoneMet(now, tracking.ResolutionDue)
	tracking.ResolvedAt = &now
	tracking.ResolutionMet = &met
	tracking.UpdatedAt = now
	if err := s.db.WithContext(ctx).Save(&tracking).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to mark resolved: %w", err)
	}
	s.logger.Infof("SLA resolved: entity=%s/%d met=%v", entityType, entityID, met)
	return &tracking, nil
}

// milestoneMet defaults to true when the milestone has no due time.
func milestoneMet(at time.Time, due *time.Time) bool {
	if due == nil {
		return true
	}
	return !at.After(*due)
}

// PauseTracking 暂停SLA计时
func (s *SLAService) PauseTracking(ctx context.Context, entityType string, entityID uint) (*models.SLATracking, error) {
	ctx, span := s.tracer.Start(ctx, "sla.pause_tracking")
	defer span.End()

	tracking, err := s.activeTracking(ctx, entityType, entityID)
	if err != nil || tracking == nil {
		return tracking, err
	}
	if tracking.IsPaused {
		return tracking, nil
	}
	now := time.Now()
	tracking.IsPaused = true
	tracking.PausedAt = &now
	tracking.UpdatedAt = now
	if err := s.db.WithContext(ctx).Save(tracking).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to pause SLA tracking: %w", err)
	}
	return tracking, nil
}

// ResumeTracking resumes a paused tracking row: the paused duration is
// added to total_paused_hours and every not-yet-reached due timestamp
// shifts forward by the same amount.
func (s *SLAService) ResumeTracking(ctx context.Context, entityType string, entityID uint) (*models.SLATracking, error) {
	ctx, span := s.tracer.Start(ctx, "sla.resume_tracking")
	defer span.End()

	tracking, err := s.activeTracking(ctx, entityType, entityID)
	if err != nil || tracking == nil {
		return tracking, err
	}
	if !tracking.IsPaused || tracking.PausedAt == nil {
		return tracking, nil
	}
	now := time.Now()
	pausedFor := now.Sub(*tracking.PausedAt)
	tracking.TotalPausedHours += pausedFor.Hours()

	if tracking.AcknowledgedAt == nil && tracking.AcknowledgmentDue != nil {
		shifted := tracking.AcknowledgmentDue.Add(pausedFor)
		tracking.AcknowledgmentDue = &shifted
	}
	if tracking.RespondedAt == nil && tracking.ResponseDue != nil {
		shifted := tracking.ResponseDue.Add(pausedFor)
		tracking.ResponseDue = &shifted
	}
	if tracking.ResolvedAt == nil && tracking.ResolutionDue != nil {
		shifted := tracking.ResolutionDue.Add(pausedFor)
		tracking.ResolutionDue = &shifted
	}

	tracking.IsPaused = false
	tracking.PausedAt = nil
	tracking.UpdatedAt = now
	if err := s.db.WithContext(ctx).Save(tracking).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to resume SLA tracking: %w", err)
	}
	s.logger.Infof("SLA tracking resumed: entity=%s/%d paused_hours=%.2f",
		entityType, entityID, pausedFor.Hours())
	return tracking, nil
}

// CheckBreaches scans non-resolved, non-paused tracking rows and
// reports warning/breach events. Both flags are monotonic: the sweep
// only ever sets them.
func (s *SLAService) CheckBreaches(ctx context.Context) ([]SLAEvent, error) {
	ctx, span := s.tracer.Start(ctx, "sla.check_breaches")
	defer span.End()

	var rows []models.SLATracking
	err := s.db.WithContext(ctx).
		Where("resolved_at IS NULL AND is_paused = ?", false).
		Find(&rows).Error
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to scan SLA tracking rows: %w", err)
	}

	now := time.Now()
	var events []SLAEvent
	for i := range rows {
		row := &rows[i]
		if row.ResolutionDue == nil {
			continue
		}

		if !row.WarningSent {
			total := row.ResolutionDue.Sub(row.StartedAt)
			if total > 0 {
				threshold := s.warningThreshold(ctx, row.SLAConfigID)
				elapsed := now.Sub(row.StartedAt)
				percent := float64(elapsed) / float64(total) * 100
				if percent >= float64(threshold) {
					if err := s.setFlags(ctx, row.ID, map[string]interface{}{"warning_sent": true}); err != nil {
						s.logger.Errorf("sla sweep: set warning_sent failed for tracking %d: %v", row.ID, err)
						continue
					}
					events = append(events, SLAEvent{
						Type:       EventSLAWarning,
						EntityType: row.EntityType,
						EntityID:   row.EntityID,
						TrackingID: row.ID,
					})
				}
			}
		}

		if !row.IsBreached && now.After(*row.ResolutionDue) {
			if err := s.setFlags(ctx, row.ID, map[string]interface{}{"is_breached": true, "breach_sent": true}); err != nil {
				s.logger.Errorf("sla sweep: set breach flags failed for tracking %d: %v", row.ID, err)
				continue
			}
			events = append(events, SLAEvent{
				Type:       EventSLABreach,
				EntityType: row.EntityType,
				EntityID:   row.EntityID,
				TrackingID: row.ID,
			})
		}
	}

	span.SetAttributes(
		attribute.Int("sla.sweep.rows_checked", len(rows)),
		attribute.Int("sla.sweep.events", len(events)),
	)
	return events, nil
}

func (s *SLAService) warningThreshold(ctx context.Context, configID uint) int {
	var cfg models.SLAConfiguration
	if err := s.db.WithContext(ctx).First(&cfg, configID).Error; err != nil {
		return 80
	}
	if cfg.WarningThresholdPercent <= 0 {
		return 80
	}
	return cfg.WarningThresholdPercent
}

func (s *SLAService) setFlags(ctx context.Context, trackingID uint, flags map[string]interface{}) error {
	flags["updated_at"] = time.Now()
	return s.db.WithContext(ctx).Model(&models.SLATracking{}).
		Where("id = ?", trackingID).
		Updates(flags).Error
}
