package retention

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/NASA-0007/Rosaiq-Trial/internal/observability"
	"github.com/NASA-0007/Rosaiq-Trial/internal/store"
	apperr "github.com/NASA-0007/Rosaiq-Trial/pkg/errors"
	"github.com/robfig/cron/v3"
)

var ErrSweepRunning = fmt.Errorf("%w: a retention sweep is already running", apperr.ErrConflict)

type Result struct {
	MeasurementsDeleted int64 `json:"measurementsDeleted"`
	EventsDeleted       int64 `json:"eventsDeleted"`
}

// Sweeper deletes measurements and events past their age windows. Devices
// and configs are never touched.
type Sweeper struct {
	repo            *store.Repo
	measurementDays int
	eventDays       int
	now             func() time.Time

	mu   sync.Mutex
	cron *cron.Cron
}

type Options struct {
	MeasurementDays int
	EventDays       int
	Now             func() time.Time
}

func New(repo *store.Repo, opts Options) *Sweeper {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Sweeper{
		repo:            repo,
		measurementDays: opts.MeasurementDays,
		eventDays:       opts.EventDays,
		now:             now,
	}
}

// Sweep runs one pass. Overlapping calls fail fast with ErrSweepRunning
// instead of queueing.
func (s *Sweeper) Sweep(ctx context.Context) (Result, error) {
	if !s.mu.TryLock() {
		return Result{}, ErrSweepRunning
	}
	defer s.mu.Unlock()

	now := s.now().UTC()
	var res Result
	var err error
	if s.measurementDays > 0 {
		cutoff := now.AddDate(0, 0, -s.measurementDays)
		if res.MeasurementsDeleted, err = s.repo.DeleteMeasurementsBefore(ctx, cutoff); err != nil {
			return res, fmt.Errorf("delete measurements: %w", err)
		}
	}
	if s.eventDays > 0 {
		cutoff := now.AddDate(0, 0, -s.eventDays)
		if res.EventsDeleted, err = s.repo.DeleteEventsBefore(ctx, cutoff); err != nil {
			return res, fmt.Errorf("delete events: %w", err)
		}
	}
	observability.RetentionDeleted("measurements", res.MeasurementsDeleted)
	observability.RetentionDeleted("events", res.EventsDeleted)
	slog.Info("retention sweep done",
		"measurements_deleted", res.MeasurementsDeleted,
		"events_deleted", res.EventsDeleted,
		"measurement_days", s.measurementDays,
		"event_days", s.eventDays)
	return res, nil
}

// Start schedules Sweep on spec (standard cron syntax or descriptors such as
// "@daily"). An empty spec disables the schedule.
func (s *Sweeper) Start(ctx context.Context, spec string) error {
	if spec == "" {
		slog.Info("retention schedule disabled")
		return nil
	}
	c := cron.New()
	if _, err := c.AddFunc(spec, func() {
		if _, err := s.Sweep(ctx); err != nil {
			slog.Warn("scheduled retention sweep failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("invalid retention schedule %q: %w", spec, err)
	}
	s.cron = c
	c.Start()
	slog.Info("retention schedule started", "spec", spec)
	return nil
}

func (s *Sweeper) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
}
