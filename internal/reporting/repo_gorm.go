package reporting

import (
	"context"
	"errors"
	"fmt"
	"time"

	"insight-call-flow/internal/calls"
	"insight-call-flow/internal/callsync"

	"gorm.io/gorm"
)

// GormRepo reads the calls table directly and delegates staged record counts
// to the callsync store.
type GormRepo struct {
	db      *gorm.DB
	records *callsync.Store
}

func NewGormRepo(db *gorm.DB, records *callsync.Store) *GormRepo {
	return &GormRepo{db: db, records: records}
}

func (r *GormRepo) ListScores(ctx context.Context, orgID string, from, to time.Time) ([]ScoreRow, error) {
	if orgID == "" {
		return nil, errors.New("org_id required")
	}
	var out []ScoreRow
	err := r.db.WithContext(ctx).Model(&calls.Call{}).
		Select("status, source_provider, general_score, satisfaction, communication, sales_technique").
		Where("org_id = ? AND created_at >= ? AND created_at < ?", orgID, from, to).
		Scan(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list call scores: %w", err)
	}
	return out, nil
}

func (r *GormRepo) RecordCounts(ctx context.Context, orgID string, from, to time.Time) (map[string]int64, error) {
	out := map[string]int64{}
	if r.records == nil {
		return out, nil
	}
	counts, err := r.records.StatusCounts(ctx, orgID, from, to)
	if err != nil {
		return nil, err
	}
	for st, n := range counts {
		out[string(st)] = n
	}
	return out, nil
}
