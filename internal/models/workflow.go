package models

import "time"

// WorkflowRule 工作流规则定义。Conditions/ActionConfig 为 JSON 文档，
// 仅由条件求值器/动作执行器解释。
type WorkflowRule struct {
	ID             uint       `gorm:"primaryKey" json:"id"`
	Name           string     `gorm:"unique;not null" json:"name"`
	RuleType       string     `gorm:"default:'automation';index" json:"rule_type"` // automation, escalation
	EntityType     string     `gorm:"index:idx_rules_entity_event" json:"entity_type"`
	TriggerEvent   string     `gorm:"index:idx_rules_entity_event" json:"trigger_event"`
	Conditions     string     `gorm:"type:text" json:"conditions"` // JSON condition tree, empty = unconditional
	DelayHours     *float64   `json:"delay_hours"`                 // escalation rules only
	DelayFromField string     `json:"delay_from_field"`            // defaults to created_at
	ActionType     string     `gorm:"not null" json:"action_type"`
	ActionConfig   string     `gorm:"type:text" json:"action_config"` // JSON, opaque per action_type
	Priority       int        `gorm:"default:100;index" json:"priority"` // lower = evaluated first
	StopProcessing bool       `gorm:"default:false" json:"stop_processing"`
	IsActive       bool       `json:"is_active"` // 不设列默认值，零值 false 会被 gorm 省略导致库默认值覆盖
	Department     string     `json:"department"`  // empty = matches all
	ContractID     *uint      `json:"contract_id"` // nil = matches all
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// RuleExecution 规则执行日志，只追加不修改
type RuleExecution struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	RuleID       uint      `gorm:"index" json:"rule_id"`
	EntityType   string    `gorm:"index:idx_executions_entity" json:"entity_type"`
	EntityID     uint      `gorm:"index:idx_executions_entity" json:"entity_id"`
	TriggerEvent string    `gorm:"index" json:"trigger_event"`
	Success      bool      `gorm:"index" json:"success"`
	ErrorMessage string    `gorm:"type:text" json:"error_message"`
	Summary      string    `json:"summary"`
	Result       string    `gorm:"type:text" json:"result"` // JSON structured result
	CreatedAt    time.Time `json:"created_at"`

	Rule WorkflowRule `gorm:"foreignKey:RuleID" json:"rule,omitempty"`
}

// EscalationLevel 按 (entity_type, level) 组成的升级阶梯，level 从 1 开始
type EscalationLevel struct {
	ID                 uint      `gorm:"primaryKey" json:"id"`
	EntityType         string    `gorm:"index:idx_escalation_ladder,unique" json:"entity_type"`
	Level              int       `gorm:"index:idx_escalation_ladder,unique" json:"level"`
	EscalateToRole     string    `json:"escalate_to_role"`
	EscalateToUserID   *uint     `json:"escalate_to_user_id"`
	NotifyTemplate     string    `json:"notify_template"`
	HoursAfterPrevious float64   `json:"hours_after_previous"`
	IsActive           bool      `json:"is_active"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}
