package skills

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Scheduler periodically re-discovers and re-gates a Manager's skills, so a
// SKILL.md added or edited on disk while a long-lived process is running
// becomes eligible without a restart.
type Scheduler struct {
	manager *Manager
	logger  *slog.Logger
	cron    *cron.Cron
}

// NewScheduler builds a Scheduler over manager. A nil logger falls back to
// slog.Default.
func NewScheduler(manager *Manager, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{manager: manager, logger: logger.With("component", "skills-scheduler")}
}

// Start validates spec and begins running refreshes on that schedule. It
// does not block; call Stop to halt the background goroutine.
func (s *Scheduler) Start(ctx context.Context, spec string) error {
	if _, err := cronParser.Parse(spec); err != nil {
		return fmt.Errorf("invalid refresh_cron %q: %w", spec, err)
	}

	s.cron = cron.New(cron.WithParser(cronParser))
	if _, err := s.cron.AddFunc(spec, func() { s.refresh(ctx) }); err != nil {
		return fmt.Errorf("schedule skills refresh: %w", err)
	}
	s.cron.Start()
	return nil
}

// Stop halts the scheduler and waits for any in-flight refresh to finish.
func (s *Scheduler) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
}

func (s *Scheduler) refresh(ctx context.Context) {
	if err := s.manager.Discover(ctx); err != nil {
		s.logger.Error("scheduled skill discovery failed", "error", err)
		return
	}
	if err := s.manager.RefreshEligible(); err != nil {
		s.logger.Error("scheduled eligibility refresh failed", "error", err)
		return
	}
	s.logger.Info("refreshed skills", "total", len(s.manager.ListAll()), "eligible", len(s.manager.ListEligible()))
}
