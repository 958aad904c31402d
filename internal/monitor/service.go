package monitor

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/yegors/arrival-watch/internal/config"
	"github.com/yegors/arrival-watch/internal/delivery"
	"github.com/yegors/arrival-watch/internal/flightradar"
	"github.com/yegors/arrival-watch/internal/policy"
	"github.com/yegors/arrival-watch/internal/schedule"
	"github.com/yegors/arrival-watch/internal/storage/sqlite"
	"github.com/yegors/arrival-watch/pkg/logger"
)

// FlightCache supplies the flights to evaluate each cycle
type FlightCache interface {
	GetTrackingFlights(ctx context.Context, entries []schedule.Entry) ([]flightradar.Flight, error)
	Len() int
}

// Evaluator decides whether a flight deserves a notification
type Evaluator interface {
	Evaluate(ctx context.Context, flight flightradar.Flight, entries []schedule.Entry) policy.Decision
}

// Ledger is the persisted set of notified registrations
type Ledger interface {
	Sync(visible map[string]struct{}) error
	Track(newly map[string]struct{}) error
}

// Marker is the persisted earliest time worth polling again
type Marker interface {
	Get() time.Time
	Save(candidate time.Time) (time.Time, error)
}

// History records delivery attempts. Optional.
type History interface {
	StoreNotification(ctx context.Context, record *sqlite.NotificationRecord) error
}

// Dependencies are the collaborators the poll loop drives
type Dependencies struct {
	Schedule  schedule.Source
	Watcher   *schedule.Watcher // required for config.ReloadWatch
	Cache     FlightCache
	Engine    Evaluator
	Ledger    Ledger
	Marker    Marker
	Deliverer delivery.Deliverer
	History   History // may be nil
}

// Options tune the poll loop
type Options struct {
	Targets      []string
	Commit       bool
	ReloadMode   string
	PollInterval time.Duration
	Lookahead    time.Duration
	JitterMin    time.Duration
	JitterMax    time.Duration
}

// OptionsFromConfig collects the loop options from the configuration
func OptionsFromConfig(cfg *config.Config) Options {
	jitterMin, jitterMax := cfg.Scheduler.JitterRange()
	return Options{
		Targets:      cfg.Delivery.Targets,
		Commit:       cfg.Delivery.Commit,
		ReloadMode:   cfg.Schedule.Reload,
		PollInterval: cfg.Scheduler.PollInterval(),
		Lookahead:    cfg.Scheduler.Lookahead(),
		JitterMin:    jitterMin,
		JitterMax:    jitterMax,
	}
}

// Service is the poll loop. One goroutine runs it; Status may be read from others.
type Service struct {
	deps Dependencies
	opts Options

	// schedule retained between cycles in startup/watch modes
	entries []schedule.Entry

	statusMu sync.RWMutex
	status   Status

	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
	logger *logger.Logger
}

// NewService creates the poll loop
func NewService(deps Dependencies, opts Options, logger *logger.Logger) *Service {
	return &Service{
		deps:   deps,
		opts:   opts,
		status: Status{Phase: PhaseAwaitWindow},
		now:    time.Now,
		sleep:  sleepContext,
		logger: logger.Named("monitor"),
	}
}

// WithClock overrides the time source; used by tests
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Run loops until ctx is cancelled (nil) or a fatal error occurs
func (s *Service) Run(ctx context.Context) error {
	if s.opts.ReloadMode == config.ReloadStartup {
		entries, err := s.deps.Schedule.Load(ctx)
		if err != nil {
			return fmt.Errorf("initial schedule load: %w", err)
		}
		s.entries = entries
	}

	s.logger.Info("Poll loop started",
		logger.Duration("poll_interval", s.opts.PollInterval),
		logger.String("schedule_reload", s.opts.ReloadMode),
		logger.Strings("targets", s.opts.Targets),
		logger.Bool("commit", s.opts.Commit),
	)

	for {
		wait, err := s.RunCycle(ctx)
		if err != nil {
			if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
				return nil
			}
			return err
		}

		s.setPhase(PhaseSleep)
		if err := s.sleep(ctx, wait); err != nil {
			return nil
		}
	}
}

// RunCycle performs one pass of the state machine and returns how long to
// sleep before the next one.
func (s *Service) RunCycle(ctx context.Context) (time.Duration, error) {
	s.setPhase(PhaseAwaitWindow)

	now := s.now()
	marker := s.deps.Marker.Get()
	if now.Before(marker) && s.deps.Cache.Len() > 0 {
		wait := s.jitter()
		s.logger.Debug("Inside quiet window, not fetching",
			logger.Time("marker", marker),
			logger.Duration("sleep", wait),
		)
		return wait, nil
	}

	s.setPhase(PhaseFetchAndEvaluate)

	entries, err := s.currentSchedule(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		s.logger.Error("Schedule unavailable, skipping cycle", logger.Error(err))
		s.recordCycle(CycleSummary{At: now, Err: err.Error()})
		return s.opts.PollInterval, nil
	}

	flights, err := s.deps.Cache.GetTrackingFlights(ctx, entries)
	if err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		s.logger.Warn("Flight fetch failed, skipping cycle", logger.Error(err))
		s.recordCycle(CycleSummary{At: now, Err: err.Error()})
		return s.opts.PollInterval, nil
	}

	visible := make(map[string]struct{}, len(flights))
	for _, f := range flights {
		visible[f.Registration] = struct{}{}
	}
	if err := s.deps.Ledger.Sync(visible); err != nil {
		return 0, fmt.Errorf("ledger sync: %w", err)
	}

	summary := CycleSummary{At: now, Tracked: len(flights)}
	notified := make(map[string]struct{})
	var earliest *time.Time

	for _, f := range flights {
		if err := ctx.Err(); err != nil {
			// Whatever was already dispatched must still reach the ledger.
			if trackErr := s.deps.Ledger.Track(notified); trackErr != nil {
				return 0, fmt.Errorf("ledger track: %w", trackErr)
			}
			return 0, err
		}

		d := s.deps.Engine.Evaluate(ctx, f, entries)
		if eta := d.Flight.EstimatedArrival; eta != nil && (earliest == nil || eta.Before(*earliest)) {
			earliest = eta
		}

		if !d.ShouldNotify() {
			summary.Skipped++
			continue
		}

		s.dispatch(ctx, d)
		notified[d.Flight.Registration] = struct{}{}
		summary.Notified++
	}

	// Recorded even when delivery failed: a missed message beats a repeated one.
	if err := s.deps.Ledger.Track(notified); err != nil {
		return 0, fmt.Errorf("ledger track: %w", err)
	}

	next := s.now()
	if earliest != nil {
		next = earliest.Add(-s.opts.Lookahead)
	}
	saved, err := s.deps.Marker.Save(next)
	if err != nil {
		return 0, fmt.Errorf("marker save: %w", err)
	}
	summary.NextPoll = saved

	s.logger.Info("Cycle complete",
		logger.Int("tracked", summary.Tracked),
		logger.Int("notified", summary.Notified),
		logger.Int("skipped", summary.Skipped),
		logger.Time("next_poll", saved),
	)
	s.recordCycle(summary)

	return s.opts.PollInterval, nil
}

func (s *Service) currentSchedule(ctx context.Context) ([]schedule.Entry, error) {
	switch s.opts.ReloadMode {
	case config.ReloadStartup:
		return s.entries, nil
	case config.ReloadWatch:
		if s.deps.Watcher != nil && !s.deps.Watcher.TakeDirty() && s.entries != nil {
			return s.entries, nil
		}
		entries, err := s.deps.Schedule.Load(ctx)
		if err != nil {
			if s.deps.Watcher != nil {
				s.deps.Watcher.MarkDirty()
			}
			return nil, err
		}
		s.entries = entries
		s.logger.Info("Schedule reloaded", logger.Int("entries", len(entries)))
		return entries, nil
	default:
		return s.deps.Schedule.Load(ctx)
	}
}

func (s *Service) dispatch(ctx context.Context, d policy.Decision) {
	message := strings.Join(d.Lines, "\n")
	for _, target := range s.opts.Targets {
		record := &sqlite.NotificationRecord{
			Registration: d.Flight.Registration,
			Callsign:     d.Flight.Callsign,
			FlightNumber: d.Flight.FlightNumber,
			Owner:        d.Entry.Owner,
			Target:       target,
			Degraded:     d.Degraded,
			Committed:    s.opts.Commit,
			Message:      message,
			CreatedAt:    s.now(),
		}

		if err := s.deps.Deliverer.Deliver(ctx, target, d.Lines, s.opts.Commit); err != nil {
			record.Error = err.Error()
			s.logger.Error("Delivery failed",
				logger.String("registration", d.Flight.Registration),
				logger.String("target", target),
				logger.Error(err),
			)
		} else {
			record.Delivered = true
			s.logger.Info("Notification dispatched",
				logger.String("registration", d.Flight.Registration),
				logger.String("target", target),
				logger.Bool("degraded", d.Degraded),
			)
		}

		if s.deps.History != nil {
			if err := s.deps.History.StoreNotification(ctx, record); err != nil {
				s.logger.Warn("Failed to record notification", logger.Error(err))
			}
		}
	}
}

func (s *Service) jitter() time.Duration {
	lo, hi := s.opts.JitterMin, s.opts.JitterMax
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(rand.Int63n(int64(hi-lo+1)))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
