package main

import (
	"context"
	"fmt"

	"grcflow/internal/config"
	"grcflow/internal/services"

	"github.com/spf13/cobra"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep [escalations|sla|all]",
	Short: "Run a workflow sweep once and exit",
	Long: `Run the escalation sweep, the SLA breach sweep, or both, one
time. Intended for cron-style scheduling when the long-running server
is not deployed.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSweep,
}

func init() {
	rootCmd.AddCommand(sweepCmd)
}

func runSweep(cmd *cobra.Command, args []string) error {
	target := "all"
	if len(args) == 1 {
		target = args[0]
	}
	if target != "escalations" && target != "sla" && target != "all" {
		return fmt.Errorf("unknown sweep target: %s", target)
	}

	cfg := config.Load()
	appLogger, err := config.NewLogger(cfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	dsn := fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%d sslmode=disable TimeZone=UTC",
		cfg.Database.Host, cfg.Database.User, cfg.Database.Password, cfg.Database.Name, cfg.Database.Port,
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)})
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}

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

	ctx := context.Background()
	if target == "escalations" || target == "all" {
		actions, err := engine.CheckEscalations(ctx)
		if err != nil {
			return fmt.Errorf("escalation sweep: %w", err)
		}
		fmt.Printf("escalation sweep: %d entities processed\n", len(actions))
	}
	if target == "sla" || target == "all" {
		actions, err := engine.CheckSLABreaches(ctx)
		if err != nil {
			return fmt.Errorf("sla sweep: %w", err)
		}
		fmt.Printf("sla sweep: %d events emitted\n", len(actions))
	}
	return nil
}
