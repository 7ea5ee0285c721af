package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"grcflow/internal/config"
	"grcflow/internal/handlers"
	"grcflow/internal/models"
	"grcflow/internal/observability"
	"grcflow/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	gormtracing "gorm.io/plugin/opentelemetry/tracing"
)

func main() {
	// 读取配置文件（默认 ./config.yml）并初始化日志
	viper.AddConfigPath(".")
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AutomaticEnv()
	_ = viper.ReadInConfig()

	cfg := config.Load()
	appLogger, err := config.NewLogger(cfg)
	if err != nil {
		logrus.Warnf("init logger: %v", err)
		appLogger = logrus.StandardLogger()
	}

	// OpenTelemetry 初始化（可选）
	shutdownOTel, err := observability.SetupTracing(context.Background(), cfg)
	if err != nil {
		appLogger.Warnf("init tracing: %v", err)
	} else {
		defer func() { _ = shutdownOTel(context.Background()) }()
	}

	// 构建 Postgres DSN 并连接数据库
	dsn := fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%d sslmode=disable TimeZone=UTC",
		cfg.Database.Host, cfg.Database.User, cfg.Database.Password, cfg.Database.Name, cfg.Database.Port,
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)})
	if err != nil {
		appLogger.Fatalf("Failed to connect to database: %v", err)
	}
	if cfg.Monitoring.Tracing.Enabled {
		_ = db.Use(gormtracing.NewPlugin())
	}
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(cfg.Database.MaxOpenConns)
		sqlDB.SetMaxIdleConns(cfg.Database.MaxIdleConns)
		sqlDB.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)
	}

	// 根据需要迁移（此处默认迁移，生产可改为条件控制）
	if err := db.AutoMigrate(
		&models.User{}, &models.Contract{},
		&models.Incident{}, &models.Complaint{}, &models.Audit{}, &models.Policy{},
		&models.Collision{}, &models.Risk{}, &models.Task{},
		&models.WorkflowRule{}, &models.RuleExecution{}, &models.EscalationLevel{},
		&models.SLAConfiguration{}, &models.SLATracking{},
		&models.NotificationOutbox{}, &models.AuditLogEntry{}, &models.WebhookDelivery{},
	); err != nil {
		appLogger.Fatalf("Failed to migrate database: %v", err)
	}

	// 初始化业务服务
	entities := services.NewEntityStore(db, appLogger)
	escalationService := services.NewEscalationService(db, appLogger)
	slaService := services.NewSLAService(db, appLogger)
	executor := services.NewActionExecutor(
		appLogger,
		entities,
		escalationService,
		services.NewOutboxDispatcher(db, appLogger),
		services.NewDBRiskScorer(db),
		services.NewDBAuditLogger(db),
		services.NewDBTaskCreator(db),
		services.NewHTTPWebhookSender(db, appLogger, cfg.Webhook.Timeout),
	)
	engine := services.NewWorkflowEngine(db, appLogger, entities, executor, slaService)

	// 启动后台扫描
	sweepCtx, cancelSweeps := context.WithCancel(context.Background())
	defer cancelSweeps()
	scheduler := services.NewScheduler(engine, appLogger)
	if cfg.Workflow.EscalationSweepInterval > 0 {
		scheduler.EscalationInterval = cfg.Workflow.EscalationSweepInterval
	}
	if cfg.Workflow.SLASweepInterval > 0 {
		scheduler.SLAInterval = cfg.Workflow.SLASweepInterval
	}
	scheduler.Start(sweepCtx)

	// 初始化 Gin
	if cfg.Log.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Logger())
	r.Use(gin.Recovery())
	r.Use(corsMiddleware(cfg))
	// OpenTelemetry Gin 中间件
	if cfg.Monitoring.Tracing.Enabled {
		r.Use(otelgin.Middleware(cfg.Monitoring.Tracing.ServiceName))
	}

	// 健康检查与指标
	healthHandler := handlers.NewHealthHandler(cfg, db, appLogger)
	handlers.RegisterHealthRoutes(r, healthHandler, cfg.Monitoring.MetricsPath)

	// API 路由组
	api := r.Group("/api")
	handlers.RegisterWorkflowRoutes(api, handlers.NewWorkflowHandler(engine))
	handlers.RegisterSLARoutes(api, handlers.NewSLAHandler(slaService))
	handlers.RegisterEscalationRoutes(api, handlers.NewEscalationHandler(escalationService))

	// 启动服务器
	srv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Server.Port), Handler: r}
	go func() {
		appLogger.Infof("Starting server on port %d", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Fatalf("Failed to start server: %v", err)
		}
	}()

	// 优雅关闭
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	appLogger.Info("Shutting down server...")
	cancelSweeps()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		appLogger.Fatalf("Server forced to shutdown: %v", err)
	}
	appLogger.Info("Server exited")
}

// corsMiddleware CORS 中间件
func corsMiddleware(cfg *config.Config) gin.HandlerFunc {
	origin := "*"
	if c := cfg.Security.CORS; c.Enabled && len(c.AllowedOrigins) > 0 {
		origin = c.AllowedOrigins[0]
	}
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
