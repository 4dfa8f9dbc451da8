package callsync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"insight-call-flow/internal/telephony"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrRecordNotFound = errors.New("callsync: record not found")

// refreshedColumns are rewritten when a known record is synced again.
// status, feedback and call_id belong to the materializer; the only exception
// is a skipped record whose recording has since appeared, which goes back to pending.
var refreshedColumns = []string{
	"from_number", "to_number", "started_at", "ended_at", "duration_seconds",
	"has_record", "record_uuid", "disposition", "raw", "updated_at",
}

const recordAppeared = "telfin_calls.status = 'skipped' AND excluded.has_record"

func upsertAssignments() clause.Set {
	set := clause.AssignmentColumns(refreshedColumns)
	return append(set,
		clause.Assignment{
			Column: clause.Column{Name: "status"},
			Value:  gorm.Expr("CASE WHEN " + recordAppeared + " THEN 'pending' ELSE telfin_calls.status END"),
		},
		clause.Assignment{
			Column: clause.Column{Name: "feedback"},
			Value:  gorm.Expr("CASE WHEN " + recordAppeared + " THEN '' ELSE telfin_calls.feedback END"),
		},
	)
}

type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(&TelfinCall{}); err != nil {
		return fmt.Errorf("migrate telfin calls: %w", err)
	}
	return nil
}

// Upsert stages cdrs for orgID keyed on (org_id, provider_call_id) and returns
// the number of distinct records written.
func (s *Store) Upsert(ctx context.Context, orgID string, cdrs []telephony.CDR) (int, error) {
	if orgID == "" {
		return 0, fmt.Errorf("callsync: org id is required")
	}
	// A single statement cannot touch the same conflict key twice; last one wins.
	idx := make(map[string]int, len(cdrs))
	rows := make([]TelfinCall, 0, len(cdrs))
	for _, c := range cdrs {
		if c.ProviderCallID == "" {
			continue
		}
		row := fromCDR(orgID, c)
		if i, ok := idx[c.ProviderCallID]; ok {
			rows[i] = row
			continue
		}
		idx[c.ProviderCallID] = len(rows)
		rows = append(rows, row)
	}
	if len(rows) == 0 {
		return 0, nil
	}

	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "org_id"}, {Name: "provider_call_id"}},
			DoUpdates: upsertAssignments(),
		}).
		CreateInBatches(&rows, 200).Error
	if err != nil {
		return 0, fmt.Errorf("upsert telfin calls: %w", err)
	}
	return len(rows), nil
}

func (s *Store) Get(ctx context.Context, orgID string, id uint64) (TelfinCall, error) {
	var r TelfinCall
	if err := s.db.WithContext(ctx).Where("org_id = ? AND id = ?", orgID, id).Take(&r).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return TelfinCall{}, ErrRecordNotFound
		}
		return TelfinCall{}, fmt.Errorf("get telfin call: %w", err)
	}
	return r, nil
}

type ListFilter struct {
	Status RecordStatus
	Limit  int
}

func (s *Store) List(ctx context.Context, orgID string, f ListFilter) ([]TelfinCall, error) {
	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	q := s.db.WithContext(ctx).Where("org_id = ?", orgID)
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	var out []TelfinCall
	if err := q.Order("started_at DESC").Order("id DESC").Limit(limit).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list telfin calls: %w", err)
	}
	return out, nil
}

// ListMaterializable returns the org's pending and errored records, oldest first.
func (s *Store) ListMaterializable(ctx context.Context, orgID string, limit int) ([]TelfinCall, error) {
	if limit <= 0 {
		limit = 500
	}
	var out []TelfinCall
	err := s.db.WithContext(ctx).
		Where("org_id = ? AND status IN ?", orgID, materializable).
		Order("id ASC").Limit(limit).Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list materializable: %w", err)
	}
	return out, nil
}

// Claim moves a pending or errored record into processing. It reports false
// when another worker got there first or the record is already settled.
func (s *Store) Claim(ctx context.Context, id uint64) (bool, error) {
	res := s.db.WithContext(ctx).Model(&TelfinCall{}).
		Where("id = ? AND status IN ?", id, materializable).
		Updates(map[string]any{"status": RecordProcessing, "feedback": ""})
	if res.Error != nil {
		return false, fmt.Errorf("claim telfin call: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// MarkSkipped settles a record that will never produce a call.
func (s *Store) MarkSkipped(ctx context.Context, id uint64, reason string) (bool, error) {
	res := s.db.WithContext(ctx).Model(&TelfinCall{}).
		Where("id = ? AND status IN ?", id, materializable).
		Updates(map[string]any{"status": RecordSkipped, "feedback": reason})
	if res.Error != nil {
		return false, fmt.Errorf("skip telfin call: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (s *Store) MarkError(ctx context.Context, id uint64, message string) error {
	return s.settle(ctx, id, map[string]any{"status": RecordError, "feedback": message})
}

func (s *Store) MarkCompleted(ctx context.Context, id uint64, callID string) error {
	return s.settle(ctx, id, map[string]any{"status": RecordCompleted, "feedback": "", "call_id": callID})
}

func (s *Store) settle(ctx context.Context, id uint64, updates map[string]any) error {
	res := s.db.WithContext(ctx).Model(&TelfinCall{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("update telfin call: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// StatusCounts returns the number of staged records per status in [from, to).
// Zero bounds are open.
func (s *Store) StatusCounts(ctx context.Context, orgID string, from, to time.Time) (map[RecordStatus]int64, error) {
	q := s.db.WithContext(ctx).Model(&TelfinCall{}).Where("org_id = ?", orgID)
	if !from.IsZero() {
		q = q.Where("created_at >= ?", from)
	}
	if !to.IsZero() {
		q = q.Where("created_at < ?", to)
	}
	var rows []struct {
		Status RecordStatus
		N      int64
	}
	if err := q.Select("status, COUNT(*) AS n").Group("status").Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("count telfin calls: %w", err)
	}
	out := make(map[RecordStatus]int64, len(rows))
	for _, r := range rows {
		out[r.Status] = r.N
	}
	return out, nil
}
