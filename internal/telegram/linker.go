package telegram

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"insight-call-flow/internal/apperr"
	"insight-call-flow/pkg/logger"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const DefaultSessionTTL = 10 * time.Minute

// Linker issues pairing sessions and binds chats to users.
type Linker struct {
	db      *gorm.DB
	ttl     time.Duration
	clock   func() time.Time
	newCode func() (string, error)
}

func NewLinker(db *gorm.DB, ttl time.Duration) *Linker {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &Linker{db: db, ttl: ttl, clock: time.Now, newCode: randomCode}
}

func (l *Linker) Migrate(ctx context.Context) error {
	if err := l.db.WithContext(ctx).AutoMigrate(&Session{}, &Link{}); err != nil {
		return fmt.Errorf("migrate telegram: %w", err)
	}
	return nil
}

// randomCode returns 128 bits from crypto/rand as 32 hex characters.
func randomCode() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func (l *Linker) CreateSession(ctx context.Context, userID, orgID, role string) (Session, error) {
	if strings.TrimSpace(userID) == "" || strings.TrimSpace(orgID) == "" || strings.TrimSpace(role) == "" {
		return Session{}, fmt.Errorf("telegram: user_id, org_id and role are required")
	}
	code, err := l.newCode()
	if err != nil {
		return Session{}, fmt.Errorf("telegram: generate code: %w", err)
	}
	s := Session{
		Code:      code,
		UserID:    userID,
		OrgID:     orgID,
		Role:      role,
		ExpiresAt: l.clock().UTC().Add(l.ttl),
	}
	if err := l.db.WithContext(ctx).Create(&s).Error; err != nil {
		return Session{}, fmt.Errorf("create telegram session: %w", err)
	}
	return s, nil
}

// ConsumeSession redeems code for chatID in one transaction. An expired or
// conflicting attempt leaves the session unused and existing links untouched.
// Concurrent redemptions of one code yield exactly one success.
func (l *Linker) ConsumeSession(ctx context.Context, code string, chatID int64, from User) (ConsumeResult, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return ConsumeResult{}, apperr.NewNotFoundError("session")
	}
	var out ConsumeResult
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var s Session
		if err := tx.Where("code = ?", code).Take(&s).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperr.NewNotFoundError("session")
			}
			return err
		}
		if s.Used {
			return apperr.NewAlreadyUsedError("session has already been used")
		}
		if !l.clock().Before(s.ExpiresAt) {
			return apperr.NewExpiredError("session has expired")
		}

		var existing Link
		err := tx.Where("chat_id = ?", chatID).Take(&existing).Error
		switch {
		case err == nil:
			if existing.Active && existing.UserID != s.UserID {
				return apperr.NewConflictError("chat is linked to another account")
			}
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return err
		}

		res := tx.Model(&Session{}).Where("code = ? AND used = ?", code, false).Update("used", true)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return apperr.NewAlreadyUsedError("session has already been used")
		}

		if err := tx.Model(&Link{}).
			Where("user_id = ? AND active = ?", s.UserID, true).
			Update("active", false).Error; err != nil {
			return err
		}

		link := Link{
			UserID:    s.UserID,
			OrgID:     s.OrgID,
			ChatID:    chatID,
			Username:  from.Username,
			FirstName: from.FirstName,
			Active:    true,
		}
		if err := bindChat(tx, &link); err != nil {
			return err
		}

		out = ConsumeResult{Role: s.Role, UserID: s.UserID, OrgID: s.OrgID}
		return nil
	})
	if err != nil {
		return ConsumeResult{}, err
	}
	logger.From(ctx).Info("telegram chat linked", "user_id", out.UserID, "org_id", out.OrgID, "chat_id", chatID)
	return out, nil
}

// bindChat upserts link by chat id. An active link held by another user is
// never overwritten, even when a concurrent consume slipped past the read check.
func bindChat(tx *gorm.DB, link *Link) error {
	res := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "chat_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"user_id", "org_id", "username", "first_name", "active", "updated_at"}),
		Where: clause.Where{Exprs: []clause.Expression{
			clause.Expr{SQL: "telegram_links.user_id = excluded.user_id OR NOT telegram_links.active"},
		}},
	}).Create(link)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return apperr.NewConflictError("chat is linked to another account")
	}
	return nil
}

// ActiveLink returns the active link of a chat, if any.
func (l *Linker) ActiveLink(ctx context.Context, chatID int64) (Link, bool, error) {
	var link Link
	err := l.db.WithContext(ctx).Where("chat_id = ? AND active = ?", chatID, true).Take(&link).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Link{}, false, nil
		}
		return Link{}, false, fmt.Errorf("get telegram link: %w", err)
	}
	return link, true, nil
}

// Unlink deactivates the chat's link. It reports whether a link was active.
func (l *Linker) Unlink(ctx context.Context, chatID int64) (bool, error) {
	res := l.db.WithContext(ctx).Model(&Link{}).
		Where("chat_id = ? AND active = ?", chatID, true).
		Update("active", false)
	if res.Error != nil {
		return false, fmt.Errorf("unlink telegram chat: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// ActiveLinks lists the org's linked chats.
func (l *Linker) ActiveLinks(ctx context.Context, orgID string) ([]Link, error) {
	var out []Link
	if err := l.db.WithContext(ctx).Where("org_id = ? AND active = ?", orgID, true).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list telegram links: %w", err)
	}
	return out, nil
}
