package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// ObjectStore persists call audio under deterministic keys.
// Put must overwrite an existing object with the same key.
type ObjectStore interface {
	Put(ctx context.Context, key string, body []byte, contentType string) error
	// URL returns a URL the transcription service can fetch the object from.
	URL(ctx context.Context, key string) (string, error)
}

var ErrInvalidKey = errors.New("storage: invalid key")

// CallAudioKey is the object key for a call recording of an organization.
func CallAudioKey(orgID, callRef, ext string) string {
	ext = strings.TrimPrefix(strings.TrimSpace(ext), ".")
	if ext == "" {
		ext = "mp3"
	}
	return fmt.Sprintf("calls/%s/%s.%s", sanitize(orgID), sanitize(callRef), ext)
}

func sanitize(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		default:
			return '_'
		}
	}, s)
}

func validKey(key string) bool {
	if key == "" || strings.HasPrefix(key, "/") {
		return false
	}
	for _, part := range strings.Split(key, "/") {
		if part == ".." || part == "" {
			return false
		}
	}
	return true
}

// LocalStore keeps objects on disk and serves them from PublicBaseURL.
// It backs local development, where the API mounts Dir as a static route.
type LocalStore struct {
	Dir           string
	PublicBaseURL string
}

func NewLocalStore(dir, publicBaseURL string) (*LocalStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("storage: local dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("storage: create dir: %w", err)
	}
	return &LocalStore{Dir: dir, PublicBaseURL: strings.TrimRight(publicBaseURL, "/")}, nil
}

func (s *LocalStore) Put(_ context.Context, key string, body []byte, _ string) error {
	if !validKey(key) {
		return ErrInvalidKey
	}
	p := filepath.Join(s.Dir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("storage: mkdir: %w", err)
	}
	if err := os.WriteFile(p, body, 0o644); err != nil {
		return fmt.Errorf("storage: write: %w", err)
	}
	return nil
}

func (s *LocalStore) URL(_ context.Context, key string) (string, error) {
	if !validKey(key) {
		return "", ErrInvalidKey
	}
	if s.PublicBaseURL == "" {
		return "", errors.New("storage: public base url is not configured")
	}
	return s.PublicBaseURL + "/" + escapePath(key), nil
}

func escapePath(key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}
