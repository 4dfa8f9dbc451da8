package audit

import (
	"context"
	"fmt"

	"gorm.io/gorm"
)

// GormRepo stores events in audit_events. It only ever inserts.
type GormRepo struct {
	db *gorm.DB
}

func NewGormRepo(db *gorm.DB) *GormRepo { return &GormRepo{db: db} }

func (r *GormRepo) Migrate(ctx context.Context) error {
	if err := r.db.WithContext(ctx).AutoMigrate(&Event{}); err != nil {
		return fmt.Errorf("migrate audit events: %w", err)
	}
	return nil
}

func (r *GormRepo) Append(ctx context.Context, e Event) error {
	if err := r.db.WithContext(ctx).Create(&e).Error; err != nil {
		return fmt.Errorf("append audit event: %w", err)
	}
	return nil
}

// List returns the org's most recent events, newest first.
func (r *GormRepo) List(ctx context.Context, orgID string, limit int) ([]Event, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var out []Event
	err := r.db.WithContext(ctx).Where("org_id = ?", orgID).
		Order("created_at DESC").Limit(limit).Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	return out, nil
}
