package refresh

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"qms/campus-queue/internal/hub"
	"qms/campus-queue/internal/models"
	"qms/campus-queue/internal/queue"
	"qms/campus-queue/internal/store"
)

const SnapshotEvent = "queue.snapshot"

type Source interface {
	GetDepartment(ctx context.Context, id string) (models.Department, error)
	ListTickets(ctx context.Context, q store.Query) ([]models.QueueTicket, error)
}

type Publisher interface {
	Publish(eventType string, value interface{}, meta hub.Subscription, at time.Time) (int, error)
}

type StatsSink interface {
	Set(ctx context.Context, stats queue.Stats) error
}

type Options struct {
	Interval time.Duration
	// Targets returns the department ids to refresh on each tick.
	Targets func() []string
	Cache   StatsSink
	Logger  *zap.Logger
	Now     func() time.Time
}

// Scheduler owns the refresh timer: every tick it re-reads each target
// department, recomputes the staff view and publishes it.
type Scheduler struct {
	source    Source
	publisher Publisher
	interval  time.Duration
	targets   func() []string
	cache     StatsSink
	logger    *zap.Logger
	now       func() time.Time
	running   int32
}

func NewScheduler(source Source, publisher Publisher, opts Options) *Scheduler {
	if opts.Interval <= 0 {
		opts.Interval = 3 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Targets == nil {
		opts.Targets = func() []string { return nil }
	}
	return &Scheduler{
		source:    source,
		publisher: publisher,
		interval:  opts.Interval,
		targets:   opts.Targets,
		cache:     opts.Cache,
		logger:    opts.Logger,
		now:       opts.Now,
	}
}

func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	s.logger.Info("refresh scheduler started", zap.Duration("interval", s.interval))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.Tick(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Warn("refresh tick failed", zap.Error(err))
			}
		}
	}
}

// Tick refreshes every target once. It returns immediately with zero when a
// previous tick is still running.
func (s *Scheduler) Tick(ctx context.Context) (int, error) {
	if !atomic.CompareAndSwapInt32(&s.running, 0, 1) {
		return 0, nil
	}
	defer atomic.StoreInt32(&s.running, 0)

	refreshed := 0
	var errs []error
	for _, id := range s.targets() {
		if _, err := s.Refresh(ctx, id); err != nil {
			errs = append(errs, err)
			continue
		}
		refreshed++
	}
	return refreshed, errors.Join(errs...)
}

func (s *Scheduler) Refresh(ctx context.Context, departmentID string) (queue.StaffView, error) {
	dept, err := s.source.GetDepartment(ctx, departmentID)
	if err != nil {
		return queue.StaffView{}, fmt.Errorf("refresh %s: %w", departmentID, err)
	}
	tickets, err := s.source.ListTickets(ctx, store.Filter(map[string]interface{}{"department_id": departmentID}, "-created_date"))
	if err != nil {
		return queue.StaffView{}, fmt.Errorf("refresh %s: %w", departmentID, err)
	}

	now := s.now()
	view := queue.BuildStaffView(tickets, dept, now)

	if s.cache != nil {
		if err := s.cache.Set(ctx, view.Stats); err != nil {
			s.logger.Warn("stats cache set failed", zap.String("department_id", departmentID), zap.Error(err))
		}
	}
	if s.publisher != nil {
		if _, err := s.publisher.Publish(SnapshotEvent, view, hub.Subscription{DepartmentID: departmentID}, now); err != nil {
			return view, fmt.Errorf("publish %s: %w", departmentID, err)
		}
	}
	return view, nil
}
