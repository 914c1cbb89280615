package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// RetentionJob periodically purges read notifications.
type RetentionJob struct {
	dispatcher *Dispatcher
	logger     *zap.Logger
	schedule   string
	maxAge     time.Duration
	scheduler  *cron.Cron
}

func NewRetentionJob(dispatcher *Dispatcher, logger *zap.Logger, schedule string, maxAge time.Duration) *RetentionJob {
	return &RetentionJob{
		dispatcher: dispatcher,
		logger:     logger,
		schedule:   schedule,
		maxAge:     maxAge,
	}
}

func (j *RetentionJob) Start() error {
	if j.maxAge <= 0 || j.schedule == "" {
		j.logger.Info("notification retention disabled")
		return nil
	}

	j.scheduler = cron.New()
	if _, err := j.scheduler.AddFunc(j.schedule, func() { j.Run(context.Background()) }); err != nil {
		return fmt.Errorf("invalid retention schedule %q: %w", j.schedule, err)
	}
	j.scheduler.Start()
	j.logger.Info("notification retention scheduled",
		zap.String("schedule", j.schedule),
		zap.Duration("max_age", j.maxAge),
	)
	return nil
}

func (j *RetentionJob) Stop() {
	if j.scheduler == nil {
		return
	}
	<-j.scheduler.Stop().Done()
}

func (j *RetentionJob) Run(ctx context.Context) {
	deleted, err := j.dispatcher.PurgeRead(ctx, j.maxAge)
	if err != nil {
		j.logger.Error("failed to purge read notifications", zap.Error(err))
		return
	}
	j.logger.Info("purged read notifications", zap.Int64("deleted", deleted))
}
