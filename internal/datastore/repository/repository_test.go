package repository

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/tphakala/readerstudy/internal/datastore"
	"github.com/tphakala/readerstudy/internal/datastore/entities"
)

// setupTestDB creates a migrated SQLite database in a temp directory.
func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	mgr, err := datastore.NewSQLiteManager(filepath.Join(t.TempDir(), "test.db"), datastore.Config{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = mgr.Close() })
	require.NoError(t, mgr.Initialize())

	return mgr.DB()
}

// createTestReader inserts an active reader in the given group.
func createTestReader(t *testing.T, db *gorm.DB, code string, group int) *entities.Reader {
	t.Helper()

	reader := &entities.Reader{
		ReaderCode:   code,
		Name:         "Reader " + code,
		PasswordHash: "x",
		Role:         entities.RoleReader,
		GroupNumber:  &group,
		IsActive:     true,
	}
	require.NoError(t, NewReaderRepository(db).Create(context.Background(), reader))
	return reader
}

// newTestSession builds an unsaved session for reader with small candidate lists.
func newTestSession(readerID uint, code string) *entities.StudySession {
	return &entities.StudySession{
		ReaderID:         readerID,
		SessionCode:      code,
		GroupNumber:      1,
		SessionIndex:     1,
		BlockAMode:       entities.ModeUnaided,
		BlockBMode:       entities.ModeAided,
		CandidatesBlockA: datatypes.JSONSlice[string]{"c1", "c2", "c3"},
		CandidatesBlockB: datatypes.JSONSlice[string]{"c4", "c5"},
		KMax:             3,
		AIThreshold:      0.3,
		Status:           entities.SessionPending,
	}
}

// newTestResult builds an unsaved result with n lesion marks.
func newTestResult(session *entities.StudySession, caseID string, marks int) *entities.StudyResult {
	result := &entities.StudyResult{
		SessionID:       session.ID,
		CaseID:          caseID,
		ReaderID:        session.ReaderID,
		Block:           entities.BlockA,
		Mode:            session.BlockAMode,
		PatientDecision: true,
		TimeSpentSec:    12.5,
	}
	for i := range marks {
		result.LesionMarks = append(result.LesionMarks, entities.LesionMark{
			X: 10 * i, Y: 20, Z: 30,
			Confidence: entities.ConfidenceProbable,
			MarkOrder:  i + 1,
		})
	}
	return result
}

// testCaseID returns a distinct case ID for index i.
func testCaseID(i int) string {
	return fmt.Sprintf("case-%02d", i)
}
