package cron

import (
	"context"
	"fmt"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/reugn/go-quartz/quartz"
	"go.uber.org/zap"
)

// Scheduler fires minute level jobs from cron expressions (with seconds field, e.g. "0 */15 * * * *").
type Scheduler struct {
	sched  quartz.Scheduler
	logger *zap.Logger
}

type tickJob struct {
	name   string
	fn     func()
	logger *zap.Logger
}

func (j *tickJob) Execute(_ context.Context) error {
	j.logger.Debug("cron: tick", zap.String("job", j.name))
	j.fn()
	return nil
}

func (j *tickJob) Description() string {
	return fmt.Sprintf("tick:%s", j.name)
}

func NewScheduler(logger *zap.Logger) *Scheduler {
	return &Scheduler{
		sched:  quartz.NewStdScheduler(),
		logger: logger.With(zap.String("component", "cron")),
	}
}

func (s *Scheduler) Start(ctx context.Context) {
	if !s.sched.IsStarted() {
		s.sched.Start(ctx)
	}
}

// Every schedules fn on the cron expression. A job with the same name is replaced.
func (s *Scheduler) Every(name string, expression string, fn func()) error {
	trigger, err := quartz.NewCronTrigger(expression)
	if err != nil {
		return fmt.Errorf("cron %s: %w", name, err)
	}
	key := quartz.NewJobKey(name)
	_ = s.sched.DeleteJob(key)
	job := &tickJob{name: name, fn: fn, logger: s.logger}
	if err := s.sched.ScheduleJob(quartz.NewJobDetail(job, key), trigger); err != nil {
		return fmt.Errorf("cron %s: %w", name, err)
	}
	s.logger.Info("cron: scheduled", zap.String("job", name), zap.String("expression", expression))
	return nil
}

// SendEvery delivers msg to pid on every cron tick.
func (s *Scheduler) SendEvery(name string, expression string, sender actor.SenderContext, pid *actor.PID, msg any) error {
	return s.Every(name, expression, func() {
		sender.Send(pid, msg)
	})
}

func (s *Scheduler) Stop() {
	if s.sched.IsStarted() {
		s.sched.Stop()
	}
}
