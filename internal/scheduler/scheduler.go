package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hray3182/medbay-reminders/internal/dispatcher"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

type CycleRunner interface {
	RunCycle(ctx context.Context) (dispatcher.CycleReport, error)
}

type Alerter interface {
	Alert(ctx context.Context, rep dispatcher.CycleReport, cycleErr error) error
}

type Config struct {
	CronSpec     string
	CycleTimeout time.Duration
	Location     *time.Location
}

// Scheduler triggers dispatch cycles on a cron schedule or on demand. At most
// one cycle runs at a time; triggers that arrive while one is running are dropped.
type Scheduler struct {
	runner   CycleRunner
	alerter  Alerter
	log      logrus.FieldLogger
	cfg      Config
	notifyCh chan struct{}
}

// New creates a scheduler. alerter may be nil.
func New(runner CycleRunner, alerter Alerter, log logrus.FieldLogger, cfg Config) *Scheduler {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &Scheduler{
		runner:   runner,
		alerter:  alerter,
		log:      log.WithField("component", "scheduler"),
		cfg:      cfg,
		notifyCh: make(chan struct{}, 1),
	}
}

// Notify triggers an immediate cycle. Non-blocking if one is already pending.
func (s *Scheduler) Notify() {
	select {
	case s.notifyCh <- struct{}{}:
	default:
	}
}

// RunOnce runs a single cycle, logs its report and alerts when needed.
func (s *Scheduler) RunOnce(ctx context.Context) (dispatcher.CycleReport, error) {
	if s.cfg.CycleTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.CycleTimeout)
		defer cancel()
	}

	rep, err := s.runner.RunCycle(ctx)
	entry := s.log.WithFields(rep.Fields())
	switch {
	case err != nil:
		entry.WithError(err).Error("Dispatch cycle aborted")
	case rep.Errored > 0:
		entry.Warn("Dispatch cycle finished with failed sends")
	case rep.Processed > 0:
		entry.Info("Dispatch cycle finished")
	default:
		entry.Debug("Dispatch cycle finished")
	}

	// Cancellation means shutdown; no alert.
	if s.alerter != nil && !errors.Is(err, context.Canceled) {
		if alertErr := s.alerter.Alert(context.WithoutCancel(ctx), rep, err); alertErr != nil {
			s.log.WithError(alertErr).Warn("Failed to send cycle alert")
		}
	}
	return rep, err
}

// Start runs cycles until ctx is cancelled, then waits for the running cycle.
func (s *Scheduler) Start(ctx context.Context) error {
	c := cron.New(
		cron.WithLocation(s.cfg.Location),
		cron.WithChain(cron.Recover(cron.PrintfLogger(s.log))),
	)
	job := cron.NewChain(cron.SkipIfStillRunning(cron.PrintfLogger(s.log))).Then(cron.FuncJob(func() {
		_, _ = s.RunOnce(ctx)
	}))
	if _, err := c.AddJob(s.cfg.CronSpec, job); err != nil {
		return fmt.Errorf("invalid cron spec %q: %w", s.cfg.CronSpec, err)
	}

	c.Start()
	s.log.WithField("cron_spec", s.cfg.CronSpec).Info("Scheduler started")

	var wg sync.WaitGroup
	for {
		select {
		case <-ctx.Done():
			stopped := c.Stop()
			<-stopped.Done()
			wg.Wait()
			s.log.Info("Scheduler stopped")
			return nil
		case <-s.notifyCh:
			s.log.Info("Scheduler triggered by notification")
			wg.Add(1)
			go func() {
				defer wg.Done()
				job.Run()
			}()
		}
	}
}
