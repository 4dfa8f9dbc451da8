package telegram

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"insight-call-flow/internal/apperr"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newTestLinker(t *testing.T) *Linker {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "telegram.db")), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	l := NewLinker(db, 0)
	require.NoError(t, l.Migrate(context.Background()))
	return l
}

func loadSession(t *testing.T, l *Linker, code string) Session {
	t.Helper()
	var s Session
	require.NoError(t, l.db.Where("code = ?", code).Take(&s).Error)
	return s
}

func TestCreateSession(t *testing.T) {
	l := newTestLinker(t)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	l.clock = func() time.Time { return now }

	s, err := l.CreateSession(context.Background(), "u1", "org", "manager")
	require.NoError(t, err)
	assert.Len(t, s.Code, 32)
	assert.True(t, s.ExpiresAt.Equal(now.Add(10*time.Minute)))
	assert.False(t, s.Used)

	other, err := l.CreateSession(context.Background(), "u1", "org", "manager")
	require.NoError(t, err)
	assert.NotEqual(t, s.Code, other.Code)

	_, err = l.CreateSession(context.Background(), "", "org", "manager")
	assert.Error(t, err)
}

func TestConsumeSession_SingleUse(t *testing.T) {
	l := newTestLinker(t)
	ctx := context.Background()
	s, err := l.CreateSession(ctx, "u1", "org", "owner")
	require.NoError(t, err)

	res, err := l.ConsumeSession(ctx, s.Code, 100, User{ID: 100, FirstName: "Ann"})
	require.NoError(t, err)
	assert.Equal(t, ConsumeResult{Role: "owner", UserID: "u1", OrgID: "org"}, res)

	_, err = l.ConsumeSession(ctx, s.Code, 100, User{ID: 100})
	assert.True(t, apperr.Is(err, apperr.CodeAlreadyUsed))

	link, ok, err := l.ActiveLink(ctx, 100)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "u1", link.UserID)
	assert.Equal(t, "Ann", link.FirstName)
}

func TestConsumeSession_ConcurrentTapsLinkOnce(t *testing.T) {
	l := newTestLinker(t)
	ctx := context.Background()
	s, err := l.CreateSession(ctx, "u1", "org", "owner")
	require.NoError(t, err)

	const n = 5
	var (
		wg   sync.WaitGroup
		errs = make([]error, n)
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = l.ConsumeSession(ctx, s.Code, 100, User{ID: 100})
		}(i)
	}
	wg.Wait()

	ok, used := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case apperr.Is(err, apperr.CodeAlreadyUsed):
			used++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, n-1, used)
}

func TestConsumeSession_NotFound(t *testing.T) {
	l := newTestLinker(t)
	_, err := l.ConsumeSession(context.Background(), "nope", 1, User{})
	assert.True(t, apperr.Is(err, apperr.CodeNotFound))

	_, err = l.ConsumeSession(context.Background(), " ", 1, User{})
	assert.True(t, apperr.Is(err, apperr.CodeNotFound))
}

func TestConsumeSession_ExpiredStaysUnused(t *testing.T) {
	l := newTestLinker(t)
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	l.clock = func() time.Time { return now }

	s, err := l.CreateSession(ctx, "u1", "org", "owner")
	require.NoError(t, err)

	now = now.Add(11 * time.Minute)
	_, err = l.ConsumeSession(ctx, s.Code, 100, User{ID: 100})
	assert.True(t, apperr.Is(err, apperr.CodeExpired))

	assert.False(t, loadSession(t, l, s.Code).Used)
	_, ok, err := l.ActiveLink(ctx, 100)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestConsumeSession_RejectsCrossAccountRebinding(t *testing.T) {
	l := newTestLinker(t)
	ctx := context.Background()

	a, err := l.CreateSession(ctx, "user-a", "org", "owner")
	require.NoError(t, err)
	_, err = l.ConsumeSession(ctx, a.Code, 100, User{ID: 100})
	require.NoError(t, err)

	b, err := l.CreateSession(ctx, "user-b", "org", "viewer")
	require.NoError(t, err)
	_, err = l.ConsumeSession(ctx, b.Code, 100, User{ID: 100})
	assert.True(t, apperr.Is(err, apperr.CodeConflict))

	link, ok, err := l.ActiveLink(ctx, 100)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "user-a", link.UserID)
	assert.False(t, loadSession(t, l, b.Code).Used)
}

func TestConsumeSession_NewChatDeactivatesPreviousLink(t *testing.T) {
	l := newTestLinker(t)
	ctx := context.Background()

	first, err := l.CreateSession(ctx, "u1", "org", "owner")
	require.NoError(t, err)
	_, err = l.ConsumeSession(ctx, first.Code, 100, User{ID: 100})
	require.NoError(t, err)

	second, err := l.CreateSession(ctx, "u1", "org", "owner")
	require.NoError(t, err)
	_, err = l.ConsumeSession(ctx, second.Code, 200, User{ID: 200})
	require.NoError(t, err)

	_, ok, err := l.ActiveLink(ctx, 100)
	require.NoError(t, err)
	assert.False(t, ok)

	links, err := l.ActiveLinks(ctx, "org")
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, int64(200), links[0].ChatID)
}

func TestConsumeSession_InactiveChatCanBeRebound(t *testing.T) {
	l := newTestLinker(t)
	ctx := context.Background()

	a, err := l.CreateSession(ctx, "user-a", "org", "owner")
	require.NoError(t, err)
	_, err = l.ConsumeSession(ctx, a.Code, 100, User{ID: 100})
	require.NoError(t, err)
	unlinked, err := l.Unlink(ctx, 100)
	require.NoError(t, err)
	assert.True(t, unlinked)

	b, err := l.CreateSession(ctx, "user-b", "org-2", "viewer")
	require.NoError(t, err)
	_, err = l.ConsumeSession(ctx, b.Code, 100, User{ID: 100})
	require.NoError(t, err)

	link, ok, err := l.ActiveLink(ctx, 100)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "user-b", link.UserID)
	assert.Equal(t, "org-2", link.OrgID)
}

func TestBindChat_NeverTakesOverAnotherUsersActiveLink(t *testing.T) {
	l := newTestLinker(t)
	require.NoError(t, bindChat(l.db, &Link{UserID: "user-a", OrgID: "org", ChatID: 100, Active: true}))

	// A second consume that passed the read check before the first committed.
	err := bindChat(l.db, &Link{UserID: "user-b", OrgID: "org", ChatID: 100, Active: true})
	assert.True(t, apperr.Is(err, apperr.CodeConflict))

	link, ok, err := l.ActiveLink(context.Background(), 100)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "user-a", link.UserID)

	require.NoError(t, bindChat(l.db, &Link{UserID: "user-a", OrgID: "org", ChatID: 100, Username: "ann", Active: true}))
	link, _, err = l.ActiveLink(context.Background(), 100)
	require.NoError(t, err)
	assert.Equal(t, "ann", link.Username)
}
