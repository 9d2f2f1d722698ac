package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/SensingClues/correlaid-environmental-time-series/internal/daterange"
	"github.com/SensingClues/correlaid-environmental-time-series/internal/export"
)

// PreviousMonth is the last complete calendar month before now, in UTC.
func PreviousMonth(now time.Time) daterange.YearMonth {
	first := time.Date(now.UTC().Year(), now.UTC().Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, -1, 0)
	return daterange.YearMonth{Year: first.Year(), Month: first.Month()}
}

// Scheduler runs the driver for the previous month on a cron schedule.
type Scheduler struct {
	cron   *cron.Cron
	driver *Driver
	base   Config
	log    logrus.FieldLogger
	now    func() time.Time
	ctx    context.Context
}

func NewScheduler(driver *Driver, base Config, schedule string, log logrus.FieldLogger) (*Scheduler, error) {
	s := &Scheduler{
		cron:   cron.New(cron.WithLocation(time.UTC)),
		driver: driver,
		base:   base,
		log:    log,
		now:    time.Now,
		ctx:    context.Background(),
	}
	if _, err := s.cron.AddFunc(schedule, s.tick); err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", schedule, err)
	}
	return s, nil
}

// RunPreviousMonth runs the base configuration for the month before now.
func (s *Scheduler) RunPreviousMonth(ctx context.Context) ([]export.JobHandle, error) {
	cfg := s.base
	cfg.Start = PreviousMonth(s.now())
	cfg.End = nil
	return s.driver.Run(ctx, cfg)
}

func (s *Scheduler) tick() {
	handles, err := s.RunPreviousMonth(s.ctx)
	if err != nil {
		s.log.WithError(err).Error("Scheduled run failed")
		return
	}
	s.log.WithField("jobs", len(handles)).Info("Scheduled run submitted")
}

// Start runs the schedule until ctx is cancelled, then waits for a running
// tick to return.
func (s *Scheduler) Start(ctx context.Context) {
	s.ctx = ctx
	s.cron.Start()
	for _, entry := range s.cron.Entries() {
		s.log.WithField("next", entry.Next).Info("Scheduler started")
	}
	<-ctx.Done()
	<-s.cron.Stop().Done()
}
