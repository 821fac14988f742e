// Package jobs runs the periodic maintenance tasks of the platform on a
// cron schedule.
package jobs

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/envie2sortir/envie2sortir/internal/metrics"
	"github.com/envie2sortir/envie2sortir/internal/services"
)

const (
	DeactivateDeals  = "deactivate-deals"
	PurgeClicks      = "purge-clicks"
	PurgeSubscribers = "purge-pending-subscribers"

	// PendingSubscriberTTL is how long an unconfirmed subscription is kept.
	PendingSubscriberTTL = 30 * 24 * time.Hour

	jobTimeout = 5 * time.Minute
)

type Job struct {
	Name     string
	Schedule string
	Run      func(ctx context.Context, now time.Time) (int64, error)
}

type Options struct {
	RetentionDays int
	Location      *time.Location
}

// Scheduler owns the cron runner and the registered jobs.
type Scheduler struct {
	cron *cron.Cron
	jobs map[string]Job
	log  logrus.FieldLogger
	now  func() time.Time
}

func New(deals *services.DealService, analytics *services.AnalyticsService, newsletter *services.NewsletterService, log logrus.FieldLogger, opts Options) *Scheduler {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.RetentionDays <= 0 {
		opts.RetentionDays = 365
	}
	s := &Scheduler{
		cron: cron.New(
			cron.WithLocation(opts.Location),
			cron.WithChain(cron.SkipIfStillRunning(cron.PrintfLogger(log))),
		),
		jobs: map[string]Job{},
		log:  log,
		now:  time.Now,
	}
	retention := time.Duration(opts.RetentionDays) * 24 * time.Hour
	s.add(Job{Name: DeactivateDeals, Schedule: "@hourly", Run: deals.DeactivateEnded})
	s.add(Job{Name: PurgeClicks, Schedule: "30 3 * * *", Run: func(ctx context.Context, now time.Time) (int64, error) {
		return analytics.PurgeBefore(ctx, now.Add(-retention))
	}})
	s.add(Job{Name: PurgeSubscribers, Schedule: "45 3 * * *", Run: func(ctx context.Context, now time.Time) (int64, error) {
		return newsletter.PurgePending(ctx, now.Add(-PendingSubscriberTTL))
	}})
	return s
}

func (s *Scheduler) add(j Job) {
	s.jobs[j.Name] = j
}

// Names lists the registered jobs in a stable order.
func (s *Scheduler) Names() []string {
	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Start registers every job on the cron runner and starts it.
func (s *Scheduler) Start() error {
	for _, name := range s.Names() {
		name := name
		if _, err := s.cron.AddFunc(s.jobs[name].Schedule, func() {
			ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
			defer cancel()
			_, _ = s.RunOnce(ctx, name)
		}); err != nil {
			return fmt.Errorf("jobs: schedule %s: %w", name, err)
		}
	}
	s.cron.Start()
	s.log.WithField("jobs", s.Names()).Info("cron scheduler started")
	return nil
}

// Stop prevents new runs and waits for running ones until ctx expires.
func (s *Scheduler) Stop(ctx context.Context) {
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
		s.log.Warn("cron scheduler stop timed out")
	}
}

// RunOnce runs one job immediately and returns the number of rows it touched.
func (s *Scheduler) RunOnce(ctx context.Context, name string) (int64, error) {
	j, ok := s.jobs[name]
	if !ok {
		return 0, fmt.Errorf("jobs: unknown job %q", name)
	}
	start := time.Now()
	n, err := j.Run(ctx, s.now())
	metrics.RecordJob(name, time.Since(start), err == nil)

	entry := s.log.WithFields(logrus.Fields{"job": name, "affected": n, "duration": time.Since(start).String()})
	if err != nil {
		entry.WithError(err).Error("job failed")
		return n, err
	}
	entry.Info("job finished")
	return n, nil
}
