package main

import (
	"fmt"
	"log"
	"os"

	"grcflow/internal/config"
	"grcflow/internal/models"

	"github.com/spf13/viper"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func main() {
	// 加载配置
	viper.AddConfigPath(".")
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AutomaticEnv()
	_ = viper.ReadInConfig()
	cfg := config.Load()

	// 连接数据库
	dsn := fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%d sslmode=disable TimeZone=UTC",
		cfg.Database.Host, cfg.Database.User, cfg.Database.Password, cfg.Database.Name, cfg.Database.Port,
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Info),
	})
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	log.Println("Starting database migration...")

	// 自动迁移所有模型
	err = db.AutoMigrate(
		&models.User{},
		&models.Contract{},
		&models.Incident{},
		&models.Complaint{},
		&models.Audit{},
		&models.Policy{},
		&models.Collision{},
		&models.Risk{},
		&models.Task{},
		&models.WorkflowRule{},
		&models.RuleExecution{},
		&models.EscalationLevel{},
		&models.SLAConfiguration{},
		&models.SLATracking{},
		&models.NotificationOutbox{},
		&models.AuditLogEntry{},
		&models.WebhookDelivery{},
	)
	if err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	log.Println("Database migration completed successfully!")

	// 创建索引
	log.Println("Creating additional indexes...")

	// 规则执行日志按规则与时间查询
	db.Exec("CREATE INDEX IF NOT EXISTS idx_executions_rule_created ON rule_executions(rule_id, created_at)")

	// SLA跟踪扫描：未解决且未暂停
	db.Exec("CREATE INDEX IF NOT EXISTS idx_sla_tracking_open ON sla_trackings(resolved_at, is_paused)")
	db.Exec("CREATE INDEX IF NOT EXISTS idx_sla_tracking_entity ON sla_trackings(entity_type, entity_id)")

	// 通知外发队列
	db.Exec("CREATE INDEX IF NOT EXISTS idx_notification_outbox_status ON notification_outboxes(status, created_at)")

	// 业务实体按状态与截止时间扫描
	for _, table := range []string{"incidents", "complaints", "audits", "policies", "collisions"} {
		db.Exec(fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_status_due ON %s(status, due_date)", table, table))
	}

	log.Println("Additional indexes created successfully!")

	// 插入默认数据
	if len(os.Args) > 1 && os.Args[1] == "--seed" {
		log.Println("Seeding default data...")
		seedDefaultData(db)
		log.Println("Default data seeded successfully!")
	}

	log.Println("Migration process completed!")
}

func seedDefaultData(db *gorm.DB) {
	// 创建默认管理员用户
	var adminUser models.User
	if err := db.Where("username = ?", "admin").First(&adminUser).Error; err != nil {
		adminUser = models.User{
			Username: "admin",
			Email:    "admin@grcflow.local",
			Name:     "系统管理员",
			Role:     "admin",
			IsActive: true,
		}
		db.Create(&adminUser)
		log.Println("Created default admin user")
	}

	// 创建合规负责人
	var officer models.User
	if err := db.Where("username = ?", "compliance_officer").First(&officer).Error; err != nil {
		officer = models.User{
			Username: "compliance_officer",
			Email:    "compliance@grcflow.local",
			Name:     "合规负责人",
			Role:     "compliance_officer",
			IsActive: true,
		}
		db.Create(&officer)
		log.Println("Created compliance officer user")
	}

	// 缺省SLA配置：按优先级各一条，低优先级为兜底
	seedSLAConfigs(db)

	// 事故升级阶梯示例
	seedEscalationLadder(db, officer.ID)
}

func seedSLAConfigs(db *gorm.DB) {
	high := "high"
	medium := "medium"

	ack4, resp8 := 4.0, 8.0
	ack8, resp24 := 8.0, 24.0

	defaults := []models.SLAConfiguration{
		{
			Name:            "incident-high",
			EntityType:      "incident",
			Priority:        &high,
			AcknowledgmentHours: &ack4,
			ResponseHours:       &resp8,
			ResolutionHours:     24,
			WarningThresholdPercent: 80,
			MatchPriority:           10,
			IsActive:                true,
		},
		{
			Name:            "incident-medium",
			EntityType:      "incident",
			Priority:        &medium,
			AcknowledgmentHours: &ack8,
			ResponseHours:       &resp24,
			ResolutionHours:     72,
			WarningThresholdPercent: 80,
			MatchPriority:           5,
			IsActive:                true,
		},
		{
			Name:                    "incident-default",
			EntityType:              "incident",
			ResolutionHours:         120,
			WarningThresholdPercent: 80,
			MatchPriority:           0,
			IsActive:                true,
		},
	}
	for _, cfg := range defaults {
		var existing models.SLAConfiguration
		if err := db.Where("name = ?", cfg.Name).First(&existing).Error; err != nil {
			db.Create(&cfg)
			log.Printf("Created default SLA configuration: %s", cfg.Name)
		}
	}
}

func seedEscalationLadder(db *gorm.DB, officerID uint) {
	levels := []models.EscalationLevel{
		{EntityType: "incident", Level: 1, EscalateToRole: "team_lead", HoursAfterPrevious: 4, IsActive: true},
		{EntityType: "incident", Level: 2, EscalateToRole: "department_head", HoursAfterPrevious: 8, IsActive: true},
		{EntityType: "incident", Level: 3, EscalateToUserID: &officerID, EscalateToRole: "compliance_officer", HoursAfterPrevious: 24, IsActive: true},
	}
	for _, lvl := range levels {
		var existing models.EscalationLevel
		if err := db.Where("entity_type = ? AND level = ?", lvl.EntityType, lvl.Level).First(&existing).Error; err != nil {
			db.Create(&lvl)
			log.Printf("Created escalation level %d for %s", lvl.Level, lvl.EntityType)
		}
	}
}
