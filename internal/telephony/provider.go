package telephony

import (
	"context"
	"time"
)

// Provider defines the provider-agnostic interface used by the sync pipeline.
//
// Rules:
// - No provider HTTP calls outside telephony adapters.
// - Credentials travel explicitly as an *OAuthConnection; adapters keep no per-org state.
// - Keep request/response types provider-agnostic; raw payloads go into CDR.Raw.
type Provider interface {
	Name() string

	FetchCDR(ctx context.Context, conn *OAuthConnection, req FetchCDRRequest) (FetchCDRResult, error)

	// RecordingURL exchanges an opaque recording reference for a short-lived download URL.
	RecordingURL(ctx context.Context, conn *OAuthConnection, recordRef string) (string, error)
	DownloadRecording(ctx context.Context, conn *OAuthConnection, url string) (Recording, error)
}

type FetchCDRRequest struct {
	OrgID string `json:"org_id"`

	// Query by time window.
	From time.Time `json:"from"`
	To   time.Time `json:"to"`

	// Limit is capped by the adapter.
	Limit int `json:"limit,omitempty"`
}

type FetchCDRResult struct {
	OrgID   string `json:"org_id"`
	Records []CDR  `json:"records"`
}

// CDR is a provider-agnostic call detail record.
type CDR struct {
	ProviderCallID string `json:"provider_call_id"`

	// From and To are E.164 where parsable; internal extensions are kept as-is.
	From string `json:"from"`
	To   string `json:"to"`

	StartedAt *time.Time `json:"started_at,omitempty"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`

	DurationSeconds int `json:"duration_seconds"`

	HasRecord bool   `json:"has_record"`
	RecordRef string `json:"record_ref,omitempty"`

	// Disposition is the provider's call result (answered, busy, ...).
	Disposition string `json:"disposition,omitempty"`

	// Raw is the original record as JSON.
	Raw string `json:"raw,omitempty"`
}

type Recording struct {
	Data        []byte
	ContentType string
}
