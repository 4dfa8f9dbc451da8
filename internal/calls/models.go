package calls

import (
	"time"

	"insight-call-flow/internal/transcription"
)

// Call is an organization-scoped recorded phone call and its analysis.
//
// Multi-tenant invariant: OrgID is required on every row.
// Status/Step are mutated only by the Processor; Step is meaningful only
// while Status == processing.
type Call struct {
	ID        string     `json:"id" gorm:"primaryKey;size:36"`
	OrgID     string     `json:"org_id" gorm:"size:64;not null;index:idx_calls_org_created,priority:1;index:idx_calls_source,priority:1"`
	AudioURL  string     `json:"audio_url" gorm:"type:text"`
	StartedAt *time.Time `json:"started_at,omitempty"`

	Transcript  string       `json:"transcript,omitempty" gorm:"type:text"`
	Diarization *Diarization `json:"diarization,omitempty" gorm:"serializer:json;type:text"`

	// Scores stay NULL until analysis completes.
	GeneralScore       *int `json:"general_score,omitempty"`
	Satisfaction       *int `json:"satisfaction,omitempty"`
	Communication      *int `json:"communication,omitempty"`
	SalesTechnique     *int `json:"sales_technique,omitempty"`
	TranscriptionScore *int `json:"transcription_score,omitempty"`

	Summary  string `json:"summary,omitempty" gorm:"type:text"`
	Feedback string `json:"feedback,omitempty" gorm:"type:text"`
	Advice   string `json:"advice,omitempty" gorm:"type:text"`

	Status       Status `json:"status" gorm:"size:16;not null;index"`
	Step         Step   `json:"step,omitempty" gorm:"size:16"`
	ErrorMessage string `json:"error_message,omitempty" gorm:"type:text"`

	// SourceProvider/SourceCallID trace calls materialized from a telephony provider.
	SourceProvider string `json:"source_provider,omitempty" gorm:"size:32;index:idx_calls_source,priority:2"`
	SourceCallID   string `json:"source_call_id,omitempty" gorm:"size:128;index:idx_calls_source,priority:3"`

	CreatedAt time.Time `json:"created_at" gorm:"index:idx_calls_org_created,priority:2"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Call) TableName() string { return "calls" }

// Diarization bundles speaker segments for the transcript viewer.
type Diarization struct {
	Segments []transcription.Segment `json:"segments"`
	Duration float64                 `json:"duration"`
	Language string                  `json:"language,omitempty"`
}

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	default:
		return false
	}
}

type Step string

const (
	StepNone         Step = ""
	StepTranscribing Step = "transcribing"
	StepAnalyzing    Step = "analyzing"
)

// StatusView is the cheap polling read.
type StatusView struct {
	ID           string    `json:"id"`
	Status       Status    `json:"status"`
	Step         Step      `json:"step,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (c Call) StatusView() StatusView {
	return StatusView{ID: c.ID, Status: c.Status, Step: c.Step, ErrorMessage: c.ErrorMessage, UpdatedAt: c.UpdatedAt}
}

// Analysis is what the Processor writes once a call is scored.
type Analysis struct {
	Transcript         string
	Diarization        *Diarization
	GeneralScore       int
	Satisfaction       int
	Communication      int
	SalesTechnique     int
	TranscriptionScore int
	Summary            string
	Feedback           string
	Advice             string
}
