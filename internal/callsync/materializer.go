package callsync

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"insight-call-flow/internal/calls"
	"insight-call-flow/internal/storage"
	"insight-call-flow/internal/telephony"
	"insight-call-flow/pkg/logger"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// ErrRecordBusy means another worker holds the record.
var ErrRecordBusy = errors.New("callsync: record is being materialized")

// CallStore is the part of calls.Store the materializer writes through.
type CallStore interface {
	Create(ctx context.Context, c *calls.Call) error
	FindBySource(ctx context.Context, orgID, provider, sourceCallID string) (calls.Call, bool, error)
}

// ConnectionSource resolves an organization's Telfin connection.
type ConnectionSource interface {
	Get(ctx context.Context, orgID string) (telephony.OAuthConnection, error)
	ListAll(ctx context.Context) ([]telephony.OAuthConnection, error)
}

// Authenticator is implemented by providers that can refresh a token up front,
// so a batch does not refresh once per worker.
type Authenticator interface {
	Authenticate(ctx context.Context, conn *telephony.OAuthConnection) error
}

// Outcome of materializing one record.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeFailed    Outcome = "failed"
)

// Observer receives per-record and per-run outcomes (metrics).
type Observer interface {
	RecordMaterialized(orgID string, outcome Outcome)
	SyncFinished(orgID string, err error)
}

// Materializer turns staged records into calls: it copies the recording into
// object storage, inserts a pending call and hands it to the processing queue.
type Materializer struct {
	records  *Store
	conns    ConnectionSource
	provider telephony.Provider
	objects  storage.ObjectStore
	calls    CallStore
	queue    calls.Enqueuer
	observer Observer
	workers  int
	newID    func() string
}

func NewMaterializer(records *Store, conns ConnectionSource, provider telephony.Provider, objects storage.ObjectStore, callStore CallStore, queue calls.Enqueuer, workers int) *Materializer {
	if workers <= 0 {
		workers = 4
	}
	return &Materializer{
		records:  records,
		conns:    conns,
		provider: provider,
		objects:  objects,
		calls:    callStore,
		queue:    queue,
		workers:  workers,
		newID:    uuid.NewString,
	}
}

// SetObserver attaches an outcome observer. Call before use.
func (m *Materializer) SetObserver(o Observer) { m.observer = o }

// Materialize settles one staged record. Records without a recording are
// skipped without any provider call. On failure the record is marked error
// with the message and the error is returned.
func (m *Materializer) Materialize(ctx context.Context, conn *telephony.OAuthConnection, row TelfinCall) error {
	_, err := m.materialize(ctx, conn, row)
	return err
}

func (m *Materializer) materialize(ctx context.Context, conn *telephony.OAuthConnection, row TelfinCall) (Outcome, error) {
	log := logger.From(ctx).With("org_id", row.OrgID, "provider_call_id", row.ProviderCallID)

	if !row.HasRecord || row.RecordUUID == "" {
		if _, err := m.records.MarkSkipped(ctx, row.ID, reasonNoRecording); err != nil {
			return OutcomeFailed, err
		}
		m.observe(row.OrgID, OutcomeSkipped)
		return OutcomeSkipped, nil
	}

	claimed, err := m.records.Claim(ctx, row.ID)
	if err != nil {
		return OutcomeFailed, err
	}
	if !claimed {
		return OutcomeFailed, ErrRecordBusy
	}

	call, err := m.produceCall(ctx, conn, row)
	if err != nil {
		if merr := m.records.MarkError(ctx, row.ID, calls.FailureMessage(err)); merr != nil {
			log.Error("persist materialization failure", "err", merr)
		}
		log.Warn("materialization failed", "err", err)
		m.observe(row.OrgID, OutcomeFailed)
		return OutcomeFailed, err
	}
	if err := m.records.MarkCompleted(ctx, row.ID, call.ID); err != nil {
		return OutcomeFailed, err
	}
	if m.queue != nil && call.Status == calls.StatusPending {
		m.queue.Enqueue(ctx, call.OrgID, call.ID, call.AudioURL)
	}
	log.Info("telfin call materialized", "call_id", call.ID)
	m.observe(row.OrgID, OutcomeCompleted)
	return OutcomeCompleted, nil
}

func (m *Materializer) produceCall(ctx context.Context, conn *telephony.OAuthConnection, row TelfinCall) (calls.Call, error) {
	// A previous run may have inserted the call and died before settling the record.
	existing, found, err := m.calls.FindBySource(ctx, row.OrgID, telephony.ProviderTelfin, row.ProviderCallID)
	if err != nil {
		return calls.Call{}, err
	}
	if found {
		return existing, nil
	}

	recordURL, err := m.provider.RecordingURL(ctx, conn, row.RecordUUID)
	if err != nil {
		return calls.Call{}, fmt.Errorf("recording url: %w", err)
	}
	rec, err := m.provider.DownloadRecording(ctx, conn, recordURL)
	if err != nil {
		return calls.Call{}, fmt.Errorf("download recording: %w", err)
	}

	key := storage.CallAudioKey(row.OrgID, row.ProviderCallID, "mp3")
	if err := m.objects.Put(ctx, key, rec.Data, rec.ContentType); err != nil {
		return calls.Call{}, fmt.Errorf("store recording: %w", err)
	}
	audioURL, err := m.objects.URL(ctx, key)
	if err != nil {
		return calls.Call{}, fmt.Errorf("recording url: %w", err)
	}

	c := calls.Call{
		ID:             m.newID(),
		OrgID:          row.OrgID,
		AudioURL:       audioURL,
		StartedAt:      row.StartedAt,
		Status:         calls.StatusPending,
		SourceProvider: telephony.ProviderTelfin,
		SourceCallID:   row.ProviderCallID,
	}
	if err := m.calls.Create(ctx, &c); err != nil {
		return calls.Call{}, err
	}
	return c, nil
}

// MaterializePending processes the org's pending and errored records with
// bounded concurrency. A failing record never aborts its siblings.
func (m *Materializer) MaterializePending(ctx context.Context, orgID string) (BatchReport, error) {
	conn, err := m.conns.Get(ctx, orgID)
	if err != nil {
		return BatchReport{}, err
	}
	return m.materializeAll(ctx, &conn)
}

func (m *Materializer) materializeAll(ctx context.Context, conn *telephony.OAuthConnection) (BatchReport, error) {
	rows, err := m.records.ListMaterializable(ctx, conn.OrgID, 0)
	if err != nil {
		return BatchReport{}, err
	}
	report := BatchReport{Total: len(rows)}
	if len(rows) == 0 {
		return report, nil
	}

	if a, ok := m.provider.(Authenticator); ok && needsRecording(rows) {
		if err := a.Authenticate(ctx, conn); err != nil {
			return report, err
		}
	}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(m.workers)
	for _, row := range rows {
		g.Go(func() error {
			// Each worker gets its own copy; token refresh mutates the connection.
			c := *conn
			outcome, err := m.materialize(ctx, &c, row)

			mu.Lock()
			defer mu.Unlock()
			switch outcome {
			case OutcomeCompleted:
				report.Completed++
			case OutcomeSkipped:
				report.Skipped++
			default:
				report.Failed++
				if err != nil && len(report.Errors) < maxReportedErrors {
					report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", row.ProviderCallID, err))
				}
			}
			return nil
		})
	}
	_ = g.Wait()
	return report, nil
}

func needsRecording(rows []TelfinCall) bool {
	for _, r := range rows {
		if r.HasRecord && r.RecordUUID != "" {
			return true
		}
	}
	return false
}

func (m *Materializer) observe(orgID string, o Outcome) {
	if m.observer != nil {
		m.observer.RecordMaterialized(orgID, o)
	}
}
