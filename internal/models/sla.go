package models

import "time"

// SLAConfiguration SLA配置。可为空的匹配维度视为通配，
// match_priority 越高越优先。
type SLAConfiguration struct {
	ID         uint    `gorm:"primaryKey" json:"id"`
	Name       string  `gorm:"not null" json:"name"`
	EntityType string  `gorm:"index" json:"entity_type"`
	Priority   *string `json:"priority"`
	Category   *string `json:"category"`
	Department *string `json:"department"`
	ContractID *uint   `json:"contract_id"`

	AcknowledgmentHours *float64 `json:"acknowledgment_hours"`
	ResponseHours       *float64 `json:"response_hours"`
	ResolutionHours     float64  `gorm:"not null" json:"resolution_hours"`

	WarningThresholdPercent int  `gorm:"default:80" json:"warning_threshold_percent"`
	BusinessHoursOnly       bool `gorm:"default:false" json:"business_hours_only"`
	BusinessStartHour       int  `gorm:"default:9" json:"business_start_hour"`
	BusinessEndHour         int  `gorm:"default:17" json:"business_end_hour"`
	ExcludeWeekends         bool `gorm:"default:false" json:"exclude_weekends"`

	MatchPriority int       `gorm:"default:0;index" json:"match_priority"` // higher = more specific
	IsActive      bool      `json:"is_active"` // 不设列默认值，零值 false 会被 gorm 省略导致库默认值覆盖
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// SLATracking 单个实体一个跟踪周期的SLA状态。
// warning/breach 标志单调，只会置位不会清除。
type SLATracking struct {
	ID          uint   `gorm:"primaryKey" json:"id"`
	SLAConfigID uint   `gorm:"index" json:"sla_config_id"`
	EntityType  string `gorm:"index:idx_sla_tracking_entity" json:"entity_type"`
	EntityID    uint   `gorm:"index:idx_sla_tracking_entity" json:"entity_id"`

	StartedAt      time.Time  `json:"started_at"`
	AcknowledgedAt *time.Time `json:"acknowledged_at"`
	RespondedAt    *time.Time `json:"responded_at"`
	ResolvedAt     *time.Time `json:"resolved_at"`

	AcknowledgmentDue *time.Time `json:"acknowledgment_due"`
	ResponseDue       *time.Time `json:"response_due"`
	ResolutionDue     *time.Time `json:"resolution_due"`

	AcknowledgmentMet *bool `json:"acknowledgment_met"`
	ResponseMet       *bool `json:"response_met"`
	ResolutionMet     *bool `json:"resolution_met"`

	WarningSent bool `gorm:"default:false" json:"warning_sent"`
	BreachSent  bool `gorm:"default:false" json:"breach_sent"`
	IsBreached  bool `gorm:"default:false;index" json:"is_breached"`

	IsPaused         bool       `gorm:"default:false;index" json:"is_paused"`
	PausedAt         *time.Time `json:"paused_at"`
	TotalPausedHours float64    `gorm:"default:0" json:"total_paused_hours"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Config SLAConfiguration `gorm:"foreignKey:SLAConfigID" json:"config,omitempty"`
}
