package audit

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"insight-call-flow/internal/apperr"
	"insight-call-flow/internal/calls"
	"insight-call-flow/internal/telegram"
	"insight-call-flow/pkg/logger"

	"github.com/google/uuid"
)

// Repository is the persistence contract for audit events.
//
// It MUST be append-only.
// No Update/Delete methods are provided by design.
type Repository interface {
	Append(ctx context.Context, e Event) error
}

// Service logs internal audit information.
//
// IMPORTANT:
// - Audit is internal-only. Do not expose these records to tenant users by default.
// - Callers should treat audit logging as best-effort.
type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var ErrInvalidEvent = errors.New("audit: invalid event")

func (s *Service) Append(ctx context.Context, e Event) error {
	if s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.OrgID == "" {
		return ErrInvalidEvent
	}
	if e.Type == "" {
		return ErrInvalidEvent
	}

	now := s.clock().UTC()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	return s.repo.Append(ctx, e)
}

// Actor identifies who triggered an event from the API.
type Actor struct {
	UserID string
	Role   string
	IP     string
}

// LogAdminAction records an integration change made through the API.
func (s *Service) LogAdminAction(ctx context.Context, orgID string, actor Actor, typ EventType, message string, metadata map[string]any) error {
	return s.Append(ctx, Event{
		OrgID:       orgID,
		Type:        typ,
		ActorUserID: actor.UserID,
		ActorRole:   actor.Role,
		IPAddress:   actor.IP,
		Message:     message,
		Metadata:    encodeMetadata(metadata),
	})
}

// CallProcessed implements calls.Listener; only failures are recorded.
func (s *Service) CallProcessed(ctx context.Context, c calls.Call, err error) {
	if err == nil {
		return
	}
	s.bestEffort(ctx, Event{
		OrgID:    c.OrgID,
		Type:     EventCallFailed,
		CallID:   c.ID,
		Message:  calls.FailureMessage(err),
		Metadata: encodeMetadata(map[string]any{"code": apperr.CodeOf(err), "source_provider": c.SourceProvider}),
	})
}

// ChatLinked implements telegram.Observer.
func (s *Service) ChatLinked(ctx context.Context, res telegram.ConsumeResult, chatID int64) {
	s.bestEffort(ctx, Event{
		OrgID:       res.OrgID,
		Type:        EventTelegramLinked,
		ActorUserID: res.UserID,
		ActorRole:   res.Role,
		ChatID:      chatID,
		Message:     "telegram chat linked",
	})
}

func (s *Service) bestEffort(ctx context.Context, e Event) {
	if err := s.Append(ctx, e); err != nil {
		logger.From(ctx).Warn("audit append failed", "type", e.Type, "org_id", e.OrgID, "err", err)
	}
}

func encodeMetadata(m map[string]any) string {
	if len(m) == 0 {
		return ""
	}
	b, err := json.Marshal(m)
	if err != nil {
		return ""
	}
	return string(b)
}
