package services

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// Scheduler 周期性扫描：升级规则与SLA违约
type Scheduler struct {
	engine             *WorkflowEngine
	logger             *logrus.Logger
	EscalationInterval time.Duration
	SLAInterval        time.Duration
}

func NewScheduler(engine *WorkflowEngine, logger *logrus.Logger) *Scheduler {
	if logger == nil {
		logger = logrus.New()
	}
	return &Scheduler{
		engine:             engine,
		logger:             logger,
		EscalationInterval: 5 * time.Minute,
		SLAInterval:        5 * time.Minute,
	}
}

// Start launches one goroutine per sweep. Both stop when ctx is
// cancelled; a sweep already in flight finishes its current entity
// before exiting.
func (s *Scheduler) Start(ctx context.Context) {
	go s.runEscalationSweep(ctx)
	go s.runSLASweep(ctx)
}

func (s *Scheduler) runEscalationSweep(ctx context.Context) {
	s.logger.Infof("starting escalation sweep (interval: %s)", s.EscalationInterval)

	ticker := time.NewTicker(s.EscalationInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("escalation sweep stopped")
			return
		case <-ticker.C:
			actions, err := s.engine.CheckEscalations(ctx)
			if err != nil {
				s.logger.Errorf("escalation sweep error: %v", err)
				continue
			}
			if len(actions) > 0 {
				s.logger.Infof("escalation sweep processed %d entities", len(actions))
			}
		}
	}
}

func (s *Scheduler) runSLASweep(ctx context.Context) {
	s.logger.Infof("starting SLA breach sweep (interval: %s)", s.SLAInterval)

	ticker := time.NewTicker(s.SLAInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("SLA breach sweep stopped")
			return
		case <-ticker.C:
			events, err := s.engine.CheckSLABreaches(ctx)
			if err != nil {
				s.logger.Errorf("SLA breach sweep error: %v", err)
				continue
			}
			if len(events) > 0 {
				s.logger.Infof("SLA breach sweep emitted %d events", len(events))
			}
		}
	}
}
