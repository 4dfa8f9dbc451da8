package audit

import (
	"context"
	"path/filepath"
	"testing"

	"insight-call-flow/internal/apperr"
	"insight-call-flow/internal/calls"
	"insight-call-flow/internal/telegram"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestService_AppendRequiresOrgAndType(t *testing.T) {
	svc := NewService(NewMemoryRepo())

	assert.ErrorIs(t, svc.Append(context.Background(), Event{Type: EventCallFailed}), ErrInvalidEvent)
	assert.ErrorIs(t, svc.Append(context.Background(), Event{OrgID: "o"}), ErrInvalidEvent)
}

func TestService_LogAdminAction(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo)

	err := svc.LogAdminAction(context.Background(), "o", Actor{UserID: "u", Role: "owner", IP: "1.2.3.4"},
		EventTelfinCredentialsSaved, "credentials saved", map[string]any{"client_id": "cid"})
	require.NoError(t, err)

	evs := repo.Events()
	require.Len(t, evs, 1)
	assert.Equal(t, "1.2.3.4", evs[0].IPAddress)
	assert.Equal(t, EventTelfinCredentialsSaved, evs[0].Type)
	assert.JSONEq(t, `{"client_id":"cid"}`, evs[0].Metadata)
	assert.NotEmpty(t, evs[0].ID)
	assert.False(t, evs[0].CreatedAt.IsZero())
}

func TestService_ListenersRecordFailuresAndLinks(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo)
	ctx := context.Background()

	svc.CallProcessed(ctx, calls.Call{ID: "c1", OrgID: "o"}, nil)
	svc.CallProcessed(ctx, calls.Call{ID: "c2", OrgID: "o"}, apperr.NewTranscriptionServiceError(500, "boom"))
	svc.ChatLinked(ctx, telegram.ConsumeResult{Role: "owner", UserID: "u", OrgID: "o"}, 42)

	evs := repo.Events()
	require.Len(t, evs, 2)
	assert.Equal(t, EventCallFailed, evs[0].Type)
	assert.Equal(t, "c2", evs[0].CallID)
	assert.Contains(t, evs[0].Message, "[TRANSCRIPTION_SERVICE_ERROR]")
	assert.Equal(t, EventTelegramLinked, evs[1].Type)
	assert.Equal(t, int64(42), evs[1].ChatID)
}

func TestGormRepo_AppendAndList(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "audit.db")), &gorm.Config{})
	require.NoError(t, err)
	repo := NewGormRepo(db)
	require.NoError(t, repo.Migrate(context.Background()))

	svc := NewService(repo)
	require.NoError(t, svc.Append(context.Background(), Event{OrgID: "o", Type: EventTelfinTokensCleared}))
	require.NoError(t, svc.Append(context.Background(), Event{OrgID: "other", Type: EventTelfinTokensCleared}))

	evs, err := repo.List(context.Background(), "o", 0)
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, EventTelfinTokensCleared, evs[0].Type)
}
