package callsync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"insight-call-flow/internal/apperr"
	"insight-call-flow/internal/telephony"
	"insight-call-flow/pkg/logger"
)

var (
	ErrSyncInProgress = errors.New("callsync: sync already running for organization")
	ErrInvalidWindow  = errors.New("callsync: invalid time window")
)

// Service pulls Telfin call history into the staging table and materializes it.
type Service struct {
	conns        ConnectionSource
	provider     telephony.Provider
	records      *Store
	materializer *Materializer
	locker       Locker
	lookback     time.Duration
	clock        func() time.Time
}

// NewService wires the sync pipeline. locker may be nil (single instance, tests).
func NewService(conns ConnectionSource, provider telephony.Provider, records *Store, m *Materializer, locker Locker, lookback time.Duration) *Service {
	if lookback <= 0 {
		lookback = 24 * time.Hour
	}
	return &Service{
		conns:        conns,
		provider:     provider,
		records:      records,
		materializer: m,
		locker:       locker,
		lookback:     lookback,
		clock:        time.Now,
	}
}

// FetchCallHistory lists the org's provider call records in [from, to].
func (s *Service) FetchCallHistory(ctx context.Context, orgID string, from, to time.Time) ([]telephony.CDR, error) {
	conn, err := s.connection(ctx, orgID)
	if err != nil {
		return nil, err
	}
	return s.fetch(ctx, &conn, from, to)
}

func (s *Service) fetch(ctx context.Context, conn *telephony.OAuthConnection, from, to time.Time) ([]telephony.CDR, error) {
	res, err := s.provider.FetchCDR(ctx, conn, telephony.FetchCDRRequest{OrgID: conn.OrgID, From: from, To: to})
	if err != nil {
		return nil, err
	}
	return res.Records, nil
}

// PersistCallHistory stages records idempotently; syncing the same window twice
// never duplicates rows and never resets materialization state.
func (s *Service) PersistCallHistory(ctx context.Context, orgID string, cdrs []telephony.CDR) (int, error) {
	return s.records.Upsert(ctx, orgID, cdrs)
}

// Sync runs fetch, persist and materialize for one organization. Zero bounds
// default to the lookback window ending now.
func (s *Service) Sync(ctx context.Context, orgID string, from, to time.Time) (rep SyncReport, err error) {
	if to.IsZero() {
		to = s.clock().UTC()
	}
	if from.IsZero() {
		from = to.Add(-s.lookback)
	}
	if !from.Before(to) {
		return SyncReport{}, ErrInvalidWindow
	}
	rep = SyncReport{OrgID: orgID, From: from, To: to}

	log := logger.From(ctx).With("org_id", orgID)
	defer func() {
		if s.materializer != nil && s.materializer.observer != nil {
			s.materializer.observer.SyncFinished(orgID, err)
		}
		if err != nil && !errors.Is(err, ErrSyncInProgress) {
			log.Error("telfin sync failed", "err", err, "code", apperr.CodeOf(err))
			logger.CaptureError(ctx, err, map[string]string{"component": "telfin_sync", "code": apperr.CodeOf(err)})
		}
	}()

	if s.locker != nil {
		release, ok, lerr := s.locker.TryLock(ctx, orgID)
		if lerr != nil {
			return rep, fmt.Errorf("acquire sync lock: %w", lerr)
		}
		if !ok {
			return rep, ErrSyncInProgress
		}
		defer release()
	}

	conn, err := s.connection(ctx, orgID)
	if err != nil {
		return rep, err
	}
	cdrs, err := s.fetch(ctx, &conn, from, to)
	if err != nil {
		return rep, err
	}
	rep.Fetched = len(cdrs)

	rep.Persisted, err = s.records.Upsert(ctx, orgID, cdrs)
	if err != nil {
		return rep, err
	}

	if s.materializer != nil {
		rep.Batch, err = s.materializer.materializeAll(ctx, &conn)
		if err != nil {
			return rep, err
		}
	}

	log.Info("telfin sync finished",
		"fetched", rep.Fetched,
		"persisted", rep.Persisted,
		"completed", rep.Batch.Completed,
		"skipped", rep.Batch.Skipped,
		"failed", rep.Batch.Failed,
	)
	return rep, nil
}

// ListRecords returns staged records for the admin view.
func (s *Service) ListRecords(ctx context.Context, orgID string, f ListFilter) ([]TelfinCall, error) {
	return s.records.List(ctx, orgID, f)
}

func (s *Service) connection(ctx context.Context, orgID string) (telephony.OAuthConnection, error) {
	conn, err := s.conns.Get(ctx, orgID)
	if errors.Is(err, telephony.ErrConnectionNotFound) {
		return telephony.OAuthConnection{}, apperr.NewConfigurationError("telfin is not connected for this organization")
	}
	return conn, err
}
