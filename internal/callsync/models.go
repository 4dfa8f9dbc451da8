package callsync

import (
	"time"

	"insight-call-flow/internal/telephony"
)

// TelfinCall is a staged call detail record pulled from Telfin.
// (OrgID, ProviderCallID) is unique; re-sync refreshes the provider fields only.
type TelfinCall struct {
	ID             uint64 `json:"id" gorm:"primaryKey;autoIncrement"`
	OrgID          string `json:"org_id" gorm:"size:64;not null;uniqueIndex:idx_telfin_calls_org_call,priority:1;index:idx_telfin_calls_org_status,priority:1"`
	ProviderCallID string `json:"provider_call_id" gorm:"size:128;not null;uniqueIndex:idx_telfin_calls_org_call,priority:2"`

	FromNumber      string     `json:"from_number" gorm:"size:64"`
	ToNumber        string     `json:"to_number" gorm:"size:64"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	EndedAt         *time.Time `json:"ended_at,omitempty"`
	DurationSeconds int        `json:"duration_seconds"`
	HasRecord       bool       `json:"has_record"`
	RecordUUID      string     `json:"record_uuid,omitempty" gorm:"size:128"`
	Disposition     string     `json:"disposition,omitempty" gorm:"size:64"`
	Raw             string     `json:"-" gorm:"type:text"`

	Status   RecordStatus `json:"status" gorm:"size:16;not null;index:idx_telfin_calls_org_status,priority:2"`
	Feedback string       `json:"feedback,omitempty" gorm:"type:text"`
	// CallID links the materialized calls row.
	CallID *string `json:"call_id,omitempty" gorm:"size:36"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (TelfinCall) TableName() string { return "telfin_calls" }

type RecordStatus string

const (
	RecordPending    RecordStatus = "pending"
	RecordProcessing RecordStatus = "processing"
	RecordCompleted  RecordStatus = "completed"
	RecordSkipped    RecordStatus = "skipped"
	RecordError      RecordStatus = "error"
)

func (s RecordStatus) Valid() bool {
	switch s {
	case RecordPending, RecordProcessing, RecordCompleted, RecordSkipped, RecordError:
		return true
	default:
		return false
	}
}

// materializable lists the statuses MaterializePending picks up.
var materializable = []RecordStatus{RecordPending, RecordError}

const reasonNoRecording = "no recording available"

func fromCDR(orgID string, c telephony.CDR) TelfinCall {
	return TelfinCall{
		OrgID:           orgID,
		ProviderCallID:  c.ProviderCallID,
		FromNumber:      c.From,
		ToNumber:        c.To,
		StartedAt:       c.StartedAt,
		EndedAt:         c.EndedAt,
		DurationSeconds: c.DurationSeconds,
		HasRecord:       c.HasRecord,
		RecordUUID:      c.RecordRef,
		Disposition:     c.Disposition,
		Raw:             c.Raw,
		Status:          RecordPending,
	}
}

// SyncReport summarizes one Sync run.
type SyncReport struct {
	OrgID     string      `json:"org_id"`
	From      time.Time   `json:"from"`
	To        time.Time   `json:"to"`
	Fetched   int         `json:"fetched"`
	Persisted int         `json:"persisted"`
	Batch     BatchReport `json:"materialized"`
}

// BatchReport counts per-record outcomes of a materialization batch.
type BatchReport struct {
	Total     int      `json:"total"`
	Completed int      `json:"completed"`
	Skipped   int      `json:"skipped"`
	Failed    int      `json:"failed"`
	Errors    []string `json:"errors,omitempty"`
}

// maxReportedErrors bounds BatchReport.Errors.
const maxReportedErrors = 20
