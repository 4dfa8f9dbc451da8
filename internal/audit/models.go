package audit

import "time"

// Event is an immutable, append-only audit log record.
//
// Invariants:
// - Events are never updated or deleted.
// - org_id is required for tenancy isolation.
// - actor and ip capture are best-effort; do not block critical flows on audit failures.
type Event struct {
	ID    string `json:"id" gorm:"primaryKey;size:36"`
	OrgID string `json:"org_id" gorm:"size:64;not null;index:idx_audit_org_created,priority:1"`

	// Type indicates the business category of the audit record.
	Type EventType `json:"type" gorm:"size:48;not null"`

	// ActorUserID is the authenticated user causing the event (if applicable).
	ActorUserID string `json:"actor_user_id,omitempty" gorm:"size:64"`
	ActorRole   string `json:"actor_role,omitempty" gorm:"size:32"`

	// IPAddress is the resolved client IP when the event comes from a request.
	IPAddress string `json:"ip_address,omitempty" gorm:"size:64"`

	// Target identifiers (optional, depending on the event type).
	CallID string `json:"call_id,omitempty" gorm:"size:36"`
	ChatID int64  `json:"chat_id,omitempty"`

	// Message is a short human-readable description for internal ops.
	Message string `json:"message,omitempty" gorm:"type:text"`

	// Metadata is optional JSON for full details.
	Metadata string `json:"metadata,omitempty" gorm:"type:text"`

	CreatedAt time.Time `json:"created_at" gorm:"index:idx_audit_org_created,priority:2"`
}

func (Event) TableName() string { return "audit_events" }

type EventType string

const (
	EventTelfinCredentialsSaved EventType = "telfin_credentials_saved"
	EventTelfinTokensCleared    EventType = "telfin_tokens_cleared"
	EventTelfinSyncRequested    EventType = "telfin_sync_requested"
	EventTelegramLinked         EventType = "telegram_linked"
	EventCallFailed             EventType = "call_failed"
)
