package calls

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"

	"insight-call-flow/internal/storage"
	"insight-call-flow/pkg/logger"

	"github.com/google/uuid"
)

// Enqueuer schedules a processing run that outlives the caller's request.
type Enqueuer interface {
	Enqueue(ctx context.Context, orgID, callID, audioURL string)
}

// Dispatcher runs ProcessCall in background goroutines with a concurrency limit.
type Dispatcher struct {
	proc    *Processor
	sem     chan struct{}
	timeout time.Duration
	wg      sync.WaitGroup
}

func NewDispatcher(proc *Processor, workers int, timeout time.Duration) *Dispatcher {
	if workers <= 0 {
		workers = 4
	}
	if timeout <= 0 {
		timeout = 15 * time.Minute
	}
	return &Dispatcher{proc: proc, sem: make(chan struct{}, workers), timeout: timeout}
}

// Enqueue detaches from ctx cancellation but keeps its values (logger, request id).
func (d *Dispatcher) Enqueue(ctx context.Context, orgID, callID, audioURL string) {
	base := context.WithoutCancel(ctx)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.sem <- struct{}{}
		defer func() { <-d.sem }()

		runCtx, cancel := context.WithTimeout(base, d.timeout)
		defer cancel()
		if err := d.proc.ProcessCall(runCtx, orgID, callID, audioURL); err != nil && !errors.Is(err, ErrAlreadyProcessing) {
			logger.From(runCtx).Debug("background processing ended with error", "call_id", callID, "err", err)
		}
	}()
}

// Wait blocks until queued runs finish or ctx is done.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Service is the entry point for uploaded calls and manual reprocessing.
type Service struct {
	store   Store
	objects storage.ObjectStore
	queue   Enqueuer
	clock   func() time.Time
	newID   func() string
}

func NewService(store Store, objects storage.ObjectStore, queue Enqueuer) *Service {
	return &Service{store: store, objects: objects, queue: queue, clock: time.Now, newID: uuid.NewString}
}

type UploadRequest struct {
	OrgID       string
	FileName    string
	ContentType string
	Data        []byte
	StartedAt   *time.Time
}

// Upload stores the audio, creates a pending call and queues it for processing.
func (s *Service) Upload(ctx context.Context, req UploadRequest) (Call, error) {
	if strings.TrimSpace(req.OrgID) == "" || len(req.Data) == 0 {
		return Call{}, ErrInvalidArgument
	}
	id := s.newID()
	key := storage.CallAudioKey(req.OrgID, id, path.Ext(req.FileName))
	if err := s.objects.Put(ctx, key, req.Data, req.ContentType); err != nil {
		return Call{}, fmt.Errorf("store audio: %w", err)
	}
	audioURL, err := s.objects.URL(ctx, key)
	if err != nil {
		return Call{}, fmt.Errorf("audio url: %w", err)
	}

	started := req.StartedAt
	if started == nil {
		now := s.clock().UTC()
		started = &now
	}
	c := Call{
		ID:        id,
		OrgID:     req.OrgID,
		AudioURL:  audioURL,
		StartedAt: started,
		Status:    StatusPending,
	}
	if err := s.store.Create(ctx, &c); err != nil {
		return Call{}, err
	}
	s.queue.Enqueue(ctx, c.OrgID, c.ID, c.AudioURL)
	return c, nil
}

// Reprocess queues a stored call again. A call that is currently processing is rejected.
func (s *Service) Reprocess(ctx context.Context, orgID, id string) (Call, error) {
	c, err := s.store.Get(ctx, orgID, id)
	if err != nil {
		return Call{}, err
	}
	if c.Status == StatusProcessing {
		return Call{}, ErrAlreadyProcessing
	}
	if c.AudioURL == "" {
		return Call{}, fmt.Errorf("%w: call has no audio", ErrInvalidArgument)
	}
	s.queue.Enqueue(ctx, c.OrgID, c.ID, c.AudioURL)
	return c, nil
}

func (s *Service) Get(ctx context.Context, orgID, id string) (Call, error) {
	return s.store.Get(ctx, orgID, id)
}

func (s *Service) Status(ctx context.Context, orgID, id string) (StatusView, error) {
	c, err := s.store.Get(ctx, orgID, id)
	if err != nil {
		return StatusView{}, err
	}
	return c.StatusView(), nil
}

func (s *Service) List(ctx context.Context, orgID string, f ListFilter) ([]Call, error) {
	return s.store.List(ctx, orgID, f)
}
