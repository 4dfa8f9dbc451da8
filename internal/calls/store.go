package calls

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
)

var (
	ErrNotFound          = errors.New("calls: not found")
	ErrAlreadyProcessing = errors.New("calls: already processing")
	ErrInvalidArgument   = errors.New("calls: invalid argument")
)

// Store is the persistence contract for calls. All reads are org-scoped.
type Store interface {
	Create(ctx context.Context, c *Call) error
	Get(ctx context.Context, orgID, id string) (Call, error)
	List(ctx context.Context, orgID string, f ListFilter) ([]Call, error)
	FindBySource(ctx context.Context, orgID, provider, sourceCallID string) (Call, bool, error)

	// ClaimForProcessing moves a call into processing/transcribing unless it is
	// already processing. It returns ErrAlreadyProcessing when the guard fails.
	ClaimForProcessing(ctx context.Context, orgID, id, audioURL string) error
	SetStep(ctx context.Context, id string, step Step) error
	MarkFailed(ctx context.Context, id, message string) error
	Complete(ctx context.Context, id string, a Analysis) error
}

type ListFilter struct {
	Status Status
	From   time.Time
	To     time.Time
	Limit  int
}

type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// Migrate creates or updates the calls table.
func (s *GormStore) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(&Call{}); err != nil {
		return fmt.Errorf("migrate calls: %w", err)
	}
	return nil
}

func (s *GormStore) Create(ctx context.Context, c *Call) error {
	if c == nil || c.ID == "" || strings.TrimSpace(c.OrgID) == "" {
		return ErrInvalidArgument
	}
	if c.Status == "" {
		c.Status = StatusPending
	}
	if !c.Status.Valid() {
		return ErrInvalidArgument
	}
	if err := s.db.WithContext(ctx).Create(c).Error; err != nil {
		return fmt.Errorf("create call: %w", err)
	}
	return nil
}

func (s *GormStore) Get(ctx context.Context, orgID, id string) (Call, error) {
	var c Call
	err := s.db.WithContext(ctx).Where("org_id = ? AND id = ?", orgID, id).Take(&c).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Call{}, ErrNotFound
		}
		return Call{}, fmt.Errorf("get call: %w", err)
	}
	return c, nil
}

func (s *GormStore) List(ctx context.Context, orgID string, f ListFilter) ([]Call, error) {
	if orgID == "" {
		return nil, ErrInvalidArgument
	}
	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	q := s.db.WithContext(ctx).Where("org_id = ?", orgID)
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if !f.From.IsZero() {
		q = q.Where("created_at >= ?", f.From)
	}
	if !f.To.IsZero() {
		q = q.Where("created_at < ?", f.To)
	}
	var out []Call
	if err := q.Order("created_at DESC").Limit(limit).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list calls: %w", err)
	}
	return out, nil
}

func (s *GormStore) FindBySource(ctx context.Context, orgID, provider, sourceCallID string) (Call, bool, error) {
	var c Call
	err := s.db.WithContext(ctx).
		Where("org_id = ? AND source_provider = ? AND source_call_id = ?", orgID, provider, sourceCallID).
		Take(&c).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Call{}, false, nil
		}
		return Call{}, false, fmt.Errorf("find call by source: %w", err)
	}
	return c, true, nil
}

// ClaimForProcessing moves a call into processing and wipes any earlier
// analysis, so a rerun that fails leaves no stale scores behind.
func (s *GormStore) ClaimForProcessing(ctx context.Context, orgID, id, audioURL string) error {
	updates := map[string]any{
		"status":              StatusProcessing,
		"step":                StepTranscribing,
		"error_message":       "",
		"transcript":          "",
		"diarization":         nil,
		"general_score":       nil,
		"satisfaction":        nil,
		"communication":       nil,
		"sales_technique":     nil,
		"transcription_score": nil,
		"summary":             "",
		"feedback":            "",
		"advice":              "",
	}
	if audioURL != "" {
		updates["audio_url"] = audioURL
	}
	res := s.db.WithContext(ctx).Model(&Call{}).
		Where("org_id = ? AND id = ? AND status <> ?", orgID, id, StatusProcessing).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("claim call: %w", res.Error)
	}
	if res.RowsAffected == 1 {
		return nil
	}
	if _, err := s.Get(ctx, orgID, id); err != nil {
		return err
	}
	return ErrAlreadyProcessing
}

func (s *GormStore) SetStep(ctx context.Context, id string, step Step) error {
	return s.update(ctx, id, map[string]any{"status": StatusProcessing, "step": step})
}

func (s *GormStore) MarkFailed(ctx context.Context, id, message string) error {
	return s.update(ctx, id, map[string]any{
		"status":        StatusFailed,
		"step":          StepNone,
		"error_message": message,
	})
}

func (s *GormStore) Complete(ctx context.Context, id string, a Analysis) error {
	// Select forces zero values (empty step/error) to be written; the struct
	// form lets the json serializer handle Diarization.
	res := s.db.WithContext(ctx).Model(&Call{ID: id}).Select(
		"transcript", "diarization",
		"general_score", "satisfaction", "communication", "sales_technique", "transcription_score",
		"summary", "feedback", "advice",
		"status", "step", "error_message",
	).Updates(&Call{
		Transcript:         a.Transcript,
		Diarization:        a.Diarization,
		GeneralScore:       &a.GeneralScore,
		Satisfaction:       &a.Satisfaction,
		Communication:      &a.Communication,
		SalesTechnique:     &a.SalesTechnique,
		TranscriptionScore: &a.TranscriptionScore,
		Summary:            a.Summary,
		Feedback:           a.Feedback,
		Advice:             a.Advice,
		Status:             StatusCompleted,
		Step:               StepNone,
	})
	if res.Error != nil {
		return fmt.Errorf("complete call: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) update(ctx context.Context, id string, updates map[string]any) error {
	res := s.db.WithContext(ctx).Model(&Call{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("update call: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
