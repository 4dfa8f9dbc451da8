package storage

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"insight-call-flow/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCallAudioKey(t *testing.T) {
	assert.Equal(t, "calls/org-1/abc_123.mp3", CallAudioKey("org-1", "abc/123", ""))
	assert.Equal(t, "calls/org-1/c1.wav", CallAudioKey("org-1", "c1", ".wav"))
}

func TestLocalStore_PutOverwritesAndServesURL(t *testing.T) {
	dir := t.TempDir()
	s, err := NewLocalStore(dir, "http://localhost:8080/media/")
	require.NoError(t, err)

	ctx := context.Background()
	key := CallAudioKey("org-1", "call-1", "mp3")
	require.NoError(t, s.Put(ctx, key, []byte("first"), "audio/mpeg"))
	require.NoError(t, s.Put(ctx, key, []byte("second"), "audio/mpeg"))

	b, err := os.ReadFile(filepath.Join(dir, "calls", "org-1", "call-1.mp3"))
	require.NoError(t, err)
	assert.Equal(t, "second", string(b))

	u, err := s.URL(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080/media/calls/org-1/call-1.mp3", u)
}

func TestLocalStore_RejectsTraversal(t *testing.T) {
	s, err := NewLocalStore(t.TempDir(), "http://x")
	require.NoError(t, err)
	assert.ErrorIs(t, s.Put(context.Background(), "../etc/passwd", nil, ""), ErrInvalidKey)
}

func TestS3Store_PutUsesBucketAndKey(t *testing.T) {
	var (
		mu     sync.Mutex
		method string
		path   string
		body   string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		method = r.Method
		path = r.URL.Path
		b, _ := io.ReadAll(r.Body)
		body = string(b)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s, err := NewS3Store(context.Background(), config.StorageConfig{
		Bucket:          "recordings",
		Region:          "us-east-1",
		AccessKeyID:     "AKIDTEST",
		SecretAccessKey: "secret",
		Endpoint:        srv.URL,
		UsePathStyle:    true,
	})
	require.NoError(t, err)

	require.NoError(t, s.Put(context.Background(), "calls/org-1/c1.mp3", []byte("audio-bytes"), "audio/mpeg"))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, http.MethodPut, method)
	assert.Equal(t, "/recordings/calls/org-1/c1.mp3", path)
	assert.Contains(t, body, "audio-bytes")
}

func TestS3Store_URL(t *testing.T) {
	ctx := context.Background()
	public, err := NewS3Store(ctx, config.StorageConfig{
		Bucket: "recordings", Region: "us-east-1", AccessKeyID: "a", SecretAccessKey: "b",
		PublicBaseURL: "https://cdn.example.com",
	})
	require.NoError(t, err)
	u, err := public.URL(ctx, "calls/o/c.mp3")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/calls/o/c.mp3", u)

	signed, err := NewS3Store(ctx, config.StorageConfig{
		Bucket: "recordings", Region: "us-east-1", AccessKeyID: "a", SecretAccessKey: "b",
	})
	require.NoError(t, err)
	u, err = signed.URL(ctx, "calls/o/c.mp3")
	require.NoError(t, err)
	assert.True(t, strings.Contains(u, "X-Amz-Signature="), u)
	assert.Contains(t, u, "calls/o/c.mp3")
}
