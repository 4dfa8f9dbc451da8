package calls

import (
	"context"
	"sync"
	"testing"
	"time"

	"insight-call-flow/internal/scoring"
	"insight-call-flow/internal/storage"
	"insight-call-flow/internal/transcription"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type queued struct{ orgID, callID, audioURL string }

type recordingQueue struct {
	mu    sync.Mutex
	items []queued
}

func (q *recordingQueue) Enqueue(_ context.Context, orgID, callID, audioURL string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, queued{orgID, callID, audioURL})
}

type staticTranscriber struct{ res transcription.Result }

func (s staticTranscriber) Transcribe(context.Context, string) (transcription.Result, error) {
	return s.res, nil
}

func TestService_UploadStoresAudioAndQueues(t *testing.T) {
	st := newTestStore(t)
	objects, err := storage.NewLocalStore(t.TempDir(), "http://media.local")
	require.NoError(t, err)
	q := &recordingQueue{}

	svc := NewService(st, objects, q)
	svc.newID = func() string { return "call-1" }

	c, err := svc.Upload(context.Background(), UploadRequest{OrgID: "org", FileName: "rec.wav", ContentType: "audio/wav", Data: []byte("RIFF")})
	require.NoError(t, err)
	assert.Equal(t, "http://media.local/calls/org/call-1.wav", c.AudioURL)
	assert.Equal(t, StatusPending, c.Status)
	require.NotNil(t, c.StartedAt)

	require.Len(t, q.items, 1)
	assert.Equal(t, queued{"org", "call-1", c.AudioURL}, q.items[0])

	view, err := svc.Status(context.Background(), "org", "call-1")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, view.Status)
}

func TestService_UploadRejectsEmpty(t *testing.T) {
	svc := NewService(newTestStore(t), nil, &recordingQueue{})
	_, err := svc.Upload(context.Background(), UploadRequest{OrgID: "org"})
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestService_ReprocessRejectsProcessing(t *testing.T) {
	st := newTestStore(t)
	seedCall(t, st, "busy", "org", StatusProcessing)
	seedCall(t, st, "done", "org", StatusFailed)
	q := &recordingQueue{}
	svc := NewService(st, nil, q)

	_, err := svc.Reprocess(context.Background(), "org", "busy")
	assert.ErrorIs(t, err, ErrAlreadyProcessing)

	_, err = svc.Reprocess(context.Background(), "org", "done")
	require.NoError(t, err)
	assert.Len(t, q.items, 1)
}

func TestDispatcher_RunsInBackground(t *testing.T) {
	st := newTestStore(t)
	seedCall(t, st, "c1", "org", StatusPending)
	p := NewProcessor(st, staticTranscriber{res: transcription.Result{Text: "thank you, great offer"}}, scoring.NewHeuristic())
	d := NewDispatcher(p, 2, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	d.Enqueue(ctx, "org", "c1", "http://a/c1.mp3")
	cancel() // request ended; the run must continue

	waitCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
	defer done()
	require.NoError(t, d.Wait(waitCtx))

	c, err := st.Get(context.Background(), "org", "c1")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, c.Status)
}
