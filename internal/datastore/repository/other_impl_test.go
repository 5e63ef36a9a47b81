package repository

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"github.com/tphakala/readerstudy/internal/datastore/entities"
)

func TestReaderRepository(t *testing.T) {
	db := setupTestDB(t)
	repo := NewReaderRepository(db)
	ctx := context.Background()

	reader := createTestReader(t, db, "R01", 1)
	admin := &entities.Reader{ReaderCode: "ADMIN", Name: "Admin", PasswordHash: "x", Role: entities.RoleAdmin, IsActive: true}
	require.NoError(t, repo.Create(ctx, admin))

	t.Run("duplicate code", func(t *testing.T) {
		dup := &entities.Reader{ReaderCode: "R01", Name: "Other", PasswordHash: "x", Role: entities.RoleReader}
		require.ErrorIs(t, repo.Create(ctx, dup), ErrDuplicateKey)
	})

	t.Run("lookup", func(t *testing.T) {
		got, err := repo.GetByCode(ctx, "R01")
		require.NoError(t, err)
		assert.Equal(t, reader.ID, got.ID)
		require.NotNil(t, got.GroupNumber)
		assert.Equal(t, 1, *got.GroupNumber)

		_, err = repo.GetByID(ctx, 4242)
		require.ErrorIs(t, err, ErrReaderNotFound)
	})

	t.Run("inactive flag persists false", func(t *testing.T) {
		require.NoError(t, repo.Update(ctx, reader.ID, map[string]any{"is_active": false}))
		got, err := repo.GetByID(ctx, reader.ID)
		require.NoError(t, err)
		assert.False(t, got.IsActive)

		active, err := repo.List(ctx, ReaderFilter{ActiveOnly: true})
		require.NoError(t, err)
		require.Len(t, active, 1)
		assert.Equal(t, "ADMIN", active[0].ReaderCode)
	})

	t.Run("count by role", func(t *testing.T) {
		n, err := repo.Count(ctx, entities.RoleReader)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
		n, err = repo.Count(ctx, "")
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)
	})

	require.ErrorIs(t, repo.Update(ctx, 4242, map[string]any{"name": "x"}), ErrReaderNotFound)

	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, repo.TouchLastLogin(ctx, admin.ID, at))
	got, err := repo.GetByID(ctx, admin.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastLoginAt)
	assert.True(t, got.LastLoginAt.Equal(at))
}

func TestConfigRepository(t *testing.T) {
	db := setupTestDB(t)
	repo := NewConfigRepository(db)
	ctx := context.Background()

	_, err := repo.Get(ctx)
	require.ErrorIs(t, err, ErrConfigNotFound)

	seed := &entities.StudyConfig{
		StudyName:     "Liver metastasis",
		TotalSessions: 2,
		TotalBlocks:   2,
		TotalGroups:   2,
		KMax:          3,
		AIThreshold:   0.3,
		PositiveCases: datatypes.JSONSlice[string]{"p1", "p2"},
		NegativeCases: datatypes.JSONSlice[string]{"n1", "n2"},
	}
	cfg, err := repo.GetOrCreate(ctx, seed)
	require.NoError(t, err)
	assert.Equal(t, entities.StudyConfigID, cfg.ID)

	other := *seed
	other.StudyName = "ignored"
	cfg, err = repo.GetOrCreate(ctx, &other)
	require.NoError(t, err)
	assert.Equal(t, "Liver metastasis", cfg.StudyName, "existing row wins over a new seed")

	require.NoError(t, repo.Update(ctx, map[string]any{"study_description": "phase II"}))

	by := uint(7)
	locked, err := repo.Lock(ctx, &by, time.Now().UTC())
	require.NoError(t, err)
	assert.True(t, locked)
	locked, err = repo.Lock(ctx, nil, time.Now().UTC())
	require.NoError(t, err)
	assert.False(t, locked)

	cfg, err = repo.Get(ctx)
	require.NoError(t, err)
	assert.True(t, cfg.IsLocked)
	require.NotNil(t, cfg.LockedBy)
	assert.Equal(t, by, *cfg.LockedBy)
	assert.Equal(t, "phase II", cfg.StudyDescription)
	assert.Equal(t, []string{"p1", "p2"}, []string(cfg.PositiveCases))
}

func TestAuditRepository_List(t *testing.T) {
	db := setupTestDB(t)
	repo := NewAuditRepository(db)
	ctx := context.Background()

	readerID := uint(3)
	for i, action := range []string{"LOGIN", "SESSION_START", "CASE_COMPLETE", "CASE_COMPLETE", "LOGOUT"} {
		entry := &entities.AuditLog{
			EventID:      uuid.NewString(),
			Action:       action,
			ResourceType: "session",
			ResourceID:   testCaseID(i),
			Details:      datatypes.JSON(`{"n":1}`),
		}
		if i > 0 {
			entry.ReaderID = &readerID
		}
		require.NoError(t, repo.Append(ctx, entry))
	}

	require.ErrorIs(t, repo.Append(ctx, &entities.AuditLog{Action: "LOGIN"}), ErrInvalidInput)

	entries, total, err := repo.List(ctx, AuditFilter{Action: "CASE_COMPLETE"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Len(t, entries, 2)

	entries, total, err = repo.List(ctx, AuditFilter{ReaderID: &readerID, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(4), total)
	require.Len(t, entries, 2)
	assert.Equal(t, "LOGOUT", entries[0].Action, "newest first")
}
