package certificate

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
)

// Scheduler mints pending certificates periodically.
type Scheduler struct {
	ctx       context.Context
	service   *Service
	scheduler gocron.Scheduler
	stopOnce  sync.Once
}

// NewScheduler creates a new scheduler. Jobs stop picking up work once ctx
// is cancelled.
func NewScheduler(ctx context.Context, service *Service, interval time.Duration) (*Scheduler, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}

	scheduler := &Scheduler{
		ctx:       ctx,
		service:   service,
		scheduler: s,
	}

	_, err = s.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(scheduler.processPendingMints),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return nil, err
	}

	return scheduler, nil
}

// Start begins the processing loop and stops it when the context ends.
func (s *Scheduler) Start() {
	slog.Info("starting mint scheduler...")
	s.scheduler.Start()
	go func() {
		<-s.ctx.Done()
		s.Stop()
	}()
}

// Stop halts the processing loop.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		slog.Info("stopping mint scheduler...")
		if err := s.scheduler.Shutdown(); err != nil {
			slog.Error("error shutting down scheduler", "err", err)
		}
	})
}

// processPendingMints is the task that runs periodically.
func (s *Scheduler) processPendingMints() {
	if s.ctx.Err() != nil {
		return
	}

	// Check if scheduler is active in the database
	isActive, err := s.service.SchedulerActive()
	if err != nil {
		slog.Error("error checking scheduler status", "err", err)
		return
	}

	if !isActive {
		slog.Info("scheduler is paused via kill switch, skipping pending mints")
		return
	}

	s.service.ProcessPendingMints(s.ctx)
}
