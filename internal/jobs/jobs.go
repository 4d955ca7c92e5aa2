// Package jobs schedules periodic maintenance of membership cards.
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const (
	DefaultCardExpirySchedule = "@every 10m"
	defaultJobTimeout         = 30 * time.Second
)

// CardExpirer transitions overdue membership cards to expired.
type CardExpirer interface {
	ExpireCards(ctx context.Context) (int, error)
}

// Scheduler runs card expiry on a cron schedule.
type Scheduler struct {
	cron    *cron.Cron
	expirer CardExpirer
	logger  *zap.Logger
	timeout time.Duration
}

// NewScheduler registers the card expiry job under schedule (standard cron or @every).
func NewScheduler(schedule string, expirer CardExpirer, logger *zap.Logger) (*Scheduler, error) {
	if expirer == nil {
		return nil, fmt.Errorf("jobs: card expirer is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if schedule == "" {
		schedule = DefaultCardExpirySchedule
	}
	scheduler := &Scheduler{
		cron:    cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		expirer: expirer,
		logger:  logger,
		timeout: defaultJobTimeout,
	}
	if _, err := scheduler.cron.AddFunc(schedule, scheduler.ExpireCards); err != nil {
		return nil, fmt.Errorf("jobs: schedule %q: %w", schedule, err)
	}
	return scheduler, nil
}

// ExpireCards runs one expiry pass; the cron job calls it on every tick.
func (scheduler *Scheduler) ExpireCards() {
	ctx, cancel := context.WithTimeout(context.Background(), scheduler.timeout)
	defer cancel()
	expired, err := scheduler.expirer.ExpireCards(ctx)
	if err != nil {
		scheduler.logger.Error("card expiry failed", zap.Error(err))
		return
	}
	if expired > 0 {
		scheduler.logger.Info("cards expired", zap.Int("count", expired))
	}
}

// Run starts the scheduler and blocks until ctx is cancelled, then waits for a running job.
func (scheduler *Scheduler) Run(ctx context.Context) {
	scheduler.cron.Start()
	<-ctx.Done()
	<-scheduler.cron.Stop().Done()
}
