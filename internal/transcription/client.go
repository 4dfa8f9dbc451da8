package transcription

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path"
	"strings"
	"time"

	"insight-call-flow/internal/apperr"
	"insight-call-flow/internal/config"
	"insight-call-flow/pkg/logger"
)

// Segment is one diarized span of speech.
type Segment struct {
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Text    string  `json:"text"`
	Speaker string  `json:"speaker,omitempty"`
}

// Result is the verbose_json response of the transcription API.
// Segments keep the order the API returned them in.
type Result struct {
	Task     string    `json:"task"`
	Language string    `json:"language"`
	Duration float64   `json:"duration"`
	Text     string    `json:"text"`
	Segments []Segment `json:"segments,omitempty"`
}

// Transcriber turns a remote audio resource into a transcript.
type Transcriber interface {
	Transcribe(ctx context.Context, audioURL string) (Result, error)
}

// Client talks to a Whisper-compatible transcription endpoint with diarization.
type Client struct {
	apiKey   string
	endpoint string
	http     *http.Client
}

func NewClient(cfg config.TranscriptionConfig, httpClient *http.Client) *Client {
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 5 * time.Minute
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{apiKey: cfg.APIKey, endpoint: cfg.Endpoint, http: httpClient}
}

func (c *Client) Transcribe(ctx context.Context, audioURL string) (Result, error) {
	if strings.TrimSpace(c.apiKey) == "" {
		return Result{}, apperr.NewConfigurationError("transcription API key is not configured")
	}
	if strings.TrimSpace(c.endpoint) == "" {
		return Result{}, apperr.NewConfigurationError("transcription endpoint is not configured")
	}

	audio, err := c.download(ctx, audioURL)
	if err != nil {
		return Result{}, err
	}

	body, contentType, err := buildForm(audio, fileName(audioURL))
	if err != nil {
		return Result{}, fmt.Errorf("transcription: build form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, body)
	if err != nil {
		return Result{}, fmt.Errorf("transcription: new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", contentType)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("transcription: post: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, fmt.Errorf("transcription: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Result{}, apperr.NewTranscriptionServiceError(resp.StatusCode, string(raw))
	}

	var out Result
	if err := json.Unmarshal(raw, &out); err != nil {
		return Result{}, apperr.NewTranscriptionServiceError(resp.StatusCode, "invalid JSON: "+string(raw))
	}

	logger.From(ctx).Debug("transcription done",
		"bytes", len(audio),
		"segments", len(out.Segments),
		"language", out.Language,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return out, nil
}

func (c *Client) download(ctx context.Context, audioURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, audioURL, nil)
	if err != nil {
		return nil, apperr.NewDownloadError(audioURL, 0, err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, apperr.NewDownloadError(audioURL, 0, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, apperr.NewDownloadError(audioURL, resp.StatusCode, nil)
	}
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperr.NewDownloadError(audioURL, resp.StatusCode, err)
	}
	return b, nil
}

func buildForm(audio []byte, name string) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	fw, err := w.CreateFormFile("file", name)
	if err != nil {
		return nil, "", err
	}
	if _, err := fw.Write(audio); err != nil {
		return nil, "", err
	}
	fields := [][2]string{
		{"task", "diarize"},
		{"diarization_setting", "telephonic"},
		{"response_format", "verbose_json"},
	}
	for _, f := range fields {
		if err := w.WriteField(f[0], f[1]); err != nil {
			return nil, "", err
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

func fileName(audioURL string) string {
	u := audioURL
	if i := strings.IndexAny(u, "?#"); i >= 0 {
		u = u[:i]
	}
	base := path.Base(u)
	if base == "" || base == "." || base == "/" {
		return "audio.mp3"
	}
	return base
}
