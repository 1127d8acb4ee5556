package server

import (
	"context"
	"fmt"
	"time"

	"Bulwark/internal/biz"
	"Bulwark/internal/conf"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/robfig/cron/v3"
)

// defaultCleanupSchedule runs the dead-letter cleanup nightly at 03:30
// (seconds-resolution cron expression).
const defaultCleanupSchedule = "0 30 3 * * *"

// CronServer runs scheduled housekeeping with the application lifecycle.
// Currently it hosts one job: dead-letter retention cleanup.
type CronServer struct {
	cron   *cron.Cron
	logger *log.Helper
}

// NewCronServer registers the cleanup schedule from configuration.
func NewCronServer(c *conf.Resilience, deadLetters *biz.DeadLetterUsecase, logger log.Logger) (*CronServer, error) {
	helper := log.NewHelper(logger)

	schedule := defaultCleanupSchedule
	if c != nil && c.DeadLetter != nil && c.DeadLetter.CleanupSchedule != "" {
		schedule = c.DeadLetter.CleanupSchedule
	}

	crn := cron.New(cron.WithSeconds())
	_, err := crn.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()

		deleted, err := deadLetters.Cleanup(ctx)
		if err != nil {
			helper.Errorw("scheduled dead letter cleanup failed", "error", err)
			return
		}
		helper.Infow("scheduled dead letter cleanup completed", "deleted", deleted)
	})
	if err != nil {
		return nil, fmt.Errorf("invalid cleanup schedule %q: %w", schedule, err)
	}

	helper.Infof("dead letter cleanup scheduled: %s", schedule)
	return &CronServer{
		cron:   crn,
		logger: helper,
	}, nil
}

// Start implements transport.Server.
func (s *CronServer) Start(_ context.Context) error {
	s.cron.Start()
	return nil
}

// Stop implements transport.Server.
func (s *CronServer) Stop(_ context.Context) error {
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
	s.logger.Info("cron server stopped")
	return nil
}
