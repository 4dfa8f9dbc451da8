package callsync

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"insight-call-flow/pkg/logger"

	"github.com/robfig/cron/v3"
)

// Syncer is the part of Service the scheduler drives.
type Syncer interface {
	Sync(ctx context.Context, orgID string, from, to time.Time) (SyncReport, error)
}

// Scheduler runs Sync for every connected organization on a cron schedule.
// Overlapping ticks are skipped rather than queued.
type Scheduler struct {
	cron     *cron.Cron
	conns    ConnectionSource
	syncer   Syncer
	lookback time.Duration
	log      *slog.Logger
	clock    func() time.Time
}

func NewScheduler(schedule string, conns ConnectionSource, syncer Syncer, lookback time.Duration, log *slog.Logger) (*Scheduler, error) {
	if log == nil {
		log = slog.Default()
	}
	if lookback <= 0 {
		lookback = 24 * time.Hour
	}
	cl := cronLogger{log: log}
	s := &Scheduler{
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		conns:    conns,
		syncer:   syncer,
		lookback: lookback,
		log:      log,
		clock:    time.Now,
	}
	if _, err := s.cron.AddFunc(schedule, func() { s.RunOnce(context.Background()) }); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Scheduler) Start() { s.cron.Start() }

// Stop halts the schedule and waits for a running tick until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunOnce syncs every connected organization sequentially over the lookback window.
func (s *Scheduler) RunOnce(ctx context.Context) {
	ctx = logger.With(ctx, s.log.With("component", "telfin_scheduler"))
	conns, err := s.conns.ListAll(ctx)
	if err != nil {
		s.log.Error("list telfin connections", "err", err)
		return
	}
	to := s.clock().UTC()
	from := to.Add(-s.lookback)
	for _, c := range conns {
		if ctx.Err() != nil {
			return
		}
		if _, err := s.syncer.Sync(ctx, c.OrgID, from, to); err != nil && errors.Is(err, ErrSyncInProgress) {
			s.log.Info("telfin sync skipped, already running", "org_id", c.OrgID)
		}
	}
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	log *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error("cron: "+msg, append(keysAndValues, "err", err)...)
}
