package models

import (
	"time"

	"gorm.io/gorm"
)

// 用户模型
type User struct {
	ID         uint           `gorm:"primaryKey" json:"id"`
	Username   string         `gorm:"unique;not null" json:"username"`
	Email      string         `gorm:"unique;not null" json:"email"`
	Name       string         `json:"name"`
	Role       string         `gorm:"default:'member'" json:"role"` // member, manager, compliance_officer, admin
	Department string         `json:"department"`
	IsActive   bool           `json:"is_active"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
	DeletedAt  gorm.DeletedAt `gorm:"index" json:"-"`
}

// 合同模型
type Contract struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"not null" json:"name"`
	Customer  string    `json:"customer"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// 事件/事故记录
type Incident struct {
	ID              uint           `gorm:"primaryKey" json:"id"`
	Title           string         `gorm:"not null" json:"title"`
	Description     string         `gorm:"type:text" json:"description"`
	Category        string         `json:"category"` // safety, security, environmental, operational
	Severity        string         `gorm:"default:'minor'" json:"severity"`
	Priority        string         `gorm:"default:'normal'" json:"priority"` // low, normal, high, urgent
	Status          string         `gorm:"default:'open'" json:"status"`     // open, acknowledged, in_progress, resolved, closed
	Department      string         `json:"department"`
	ContractID      *uint          `gorm:"index" json:"contract_id"`
	ReportedByID    *uint          `gorm:"index" json:"reported_by_id"`
	AssignedToID    *uint          `gorm:"index" json:"assigned_to_id"`
	AssignedRole    string         `json:"assigned_role"`
	EscalationLevel int            `gorm:"default:0" json:"escalation_level"`
	OccurredAt      *time.Time     `json:"occurred_at"`
	DueDate         *time.Time     `json:"due_date"`
	ResolvedAt      *time.Time     `json:"resolved_at"`
	ClosedAt        *time.Time     `json:"closed_at"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
	DeletedAt       gorm.DeletedAt `gorm:"index" json:"-"`

	Contract   *Contract `gorm:"foreignKey:ContractID" json:"contract,omitempty"`
	AssignedTo *User     `gorm:"foreignKey:AssignedToID" json:"assigned_to,omitempty"`
}

// 投诉记录
type Complaint struct {
	ID              uint           `gorm:"primaryKey" json:"id"`
	Title           string         `gorm:"not null" json:"title"`
	Description     string         `gorm:"type:text" json:"description"`
	Category        string         `json:"category"` // service, billing, conduct, privacy
	Priority        string         `gorm:"default:'normal'" json:"priority"`
	Status          string         `gorm:"default:'open'" json:"status"`
	Department      string         `json:"department"`
	ContractID      *uint          `gorm:"index" json:"contract_id"`
	Complainant     string         `json:"complainant"`
	AssignedToID    *uint          `gorm:"index" json:"assigned_to_id"`
	AssignedRole    string         `json:"assigned_role"`
	EscalationLevel int            `gorm:"default:0" json:"escalation_level"`
	DueDate         *time.Time     `json:"due_date"`
	ResolvedAt      *time.Time     `json:"resolved_at"`
	ClosedAt        *time.Time     `json:"closed_at"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
	DeletedAt       gorm.DeletedAt `gorm:"index" json:"-"`
}

// 审计任务
type Audit struct {
	ID              uint           `gorm:"primaryKey" json:"id"`
	Title           string         `gorm:"not null" json:"title"`
	Scope           string         `gorm:"type:text" json:"scope"`
	Category        string         `json:"category"` // internal, external, certification
	Priority        string         `gorm:"default:'normal'" json:"priority"`
	Status          string         `gorm:"default:'open'" json:"status"` // open, in_progress, fieldwork, resolved, closed
	Department      string         `json:"department"`
	ContractID      *uint          `gorm:"index" json:"contract_id"`
	AssignedToID    *uint          `gorm:"index" json:"assigned_to_id"`
	AssignedRole    string         `json:"assigned_role"`
	EscalationLevel int            `gorm:"default:0" json:"escalation_level"`
	PlannedStart    *time.Time     `json:"planned_start"`
	DueDate         *time.Time     `json:"due_date"`
	ResolvedAt      *time.Time     `json:"resolved_at"`
	ClosedAt        *time.Time     `json:"closed_at"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
	DeletedAt       gorm.DeletedAt `gorm:"index" json:"-"`
}

// 政策/制度记录
type Policy struct {
	ID              uint           `gorm:"primaryKey" json:"id"`
	Title           string         `gorm:"not null" json:"title"`
	Category        string         `json:"category"` // hr, it, finance, hse
	Priority        string         `gorm:"default:'normal'" json:"priority"`
	Status          string         `gorm:"default:'draft'" json:"status"` // draft, review, approved, retired
	Department      string         `json:"department"`
	OwnerID         *uint          `gorm:"index" json:"owner_id"`
	AssignedToID    *uint          `gorm:"index" json:"assigned_to_id"`
	AssignedRole    string         `json:"assigned_role"`
	EscalationLevel int            `gorm:"default:0" json:"escalation_level"`
	ReviewDue       *time.Time     `json:"review_due"`
	ResolvedAt      *time.Time     `json:"resolved_at"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
	DeletedAt       gorm.DeletedAt `gorm:"index" json:"-"`
}

// 利益/制度冲突记录
type Collision struct {
	ID              uint           `gorm:"primaryKey" json:"id"`
	Title           string         `gorm:"not null" json:"title"`
	Description     string         `gorm:"type:text" json:"description"`
	Category        string         `json:"category"` // interest, regulatory, contractual
	Priority        string         `gorm:"default:'normal'" json:"priority"`
	Status          string         `gorm:"default:'open'" json:"status"`
	Department      string         `json:"department"`
	ContractID      *uint          `gorm:"index" json:"contract_id"`
	AssignedToID    *uint          `gorm:"index" json:"assigned_to_id"`
	AssignedRole    string         `json:"assigned_role"`
	EscalationLevel int            `gorm:"default:0" json:"escalation_level"`
	DueDate         *time.Time     `json:"due_date"`
	ResolvedAt      *time.Time     `json:"resolved_at"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
	DeletedAt       gorm.DeletedAt `gorm:"index" json:"-"`
}

// 风险登记项，update_risk_score 动作的目标
type Risk struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	Title       string    `gorm:"not null" json:"title"`
	Category    string    `json:"category"`
	Score       float64   `gorm:"default:0" json:"score"`
	Likelihood  int       `gorm:"default:1" json:"likelihood"`
	Impact      int       `gorm:"default:1" json:"impact"`
	OwnerID     *uint     `gorm:"index" json:"owner_id"`
	Department  string    `json:"department"`
	LastScoring time.Time `json:"last_scoring"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// 工作流创建的跟进任务
type Task struct {
	ID           uint       `gorm:"primaryKey" json:"id"`
	EntityType   string     `gorm:"index" json:"entity_type"`
	EntityID     uint       `gorm:"index" json:"entity_id"`
	Title        string     `gorm:"not null" json:"title"`
	Description  string     `gorm:"type:text" json:"description"`
	AssignedToID *uint      `gorm:"index" json:"assigned_to_id"`
	AssignedRole string     `json:"assigned_role"`
	DueDate      *time.Time `json:"due_date"`
	Status       string     `gorm:"default:'open'" json:"status"` // open, done, cancelled
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// 通知发件箱：send_email/send_sms 只入队，投递由外部分发器完成
type NotificationOutbox struct {
	ID            uint       `gorm:"primaryKey" json:"id"`
	CorrelationID string     `gorm:"index" json:"correlation_id"`
	Channel       string     `gorm:"index;not null" json:"channel"` // email, sms
	Recipients    string     `gorm:"type:text" json:"recipients"`  // 逗号分隔
	Template      string     `json:"template"`
	Payload       string     `gorm:"type:text" json:"payload"` // JSON data for the template
	EntityType    string     `gorm:"index" json:"entity_type"`
	EntityID      uint       `gorm:"index" json:"entity_id"`
	Status        string     `gorm:"default:'queued'" json:"status"` // queued, sent, failed
	SentAt        *time.Time `json:"sent_at"`
	CreatedAt     time.Time  `json:"created_at"`
}

// 结构化审计日志，log_audit_event 动作的落点
type AuditLogEntry struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	EntityType string    `gorm:"index" json:"entity_type"`
	EntityID   uint      `gorm:"index" json:"entity_id"`
	Event      string    `gorm:"index;not null" json:"event"`
	Actor      string    `json:"actor"`
	Details    string    `gorm:"type:text" json:"details"`
	CreatedAt  time.Time `json:"created_at"`
}

// webhook 动作的投递记录
type WebhookDelivery struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	DeliveryID string    `gorm:"index" json:"delivery_id"`
	URL        string    `gorm:"not null" json:"url"`
	Method     string    `gorm:"default:'POST'" json:"method"`
	Headers    string    `gorm:"type:text" json:"headers"`
	Payload    string    `gorm:"type:text" json:"payload"`
	StatusCode int       `json:"status_code"`
	Success    bool      `json:"success"`
	Error      string    `gorm:"type:text" json:"error"`
	CreatedAt  time.Time `json:"created_at"`
}
