package repository

import (
	"context"
	"time"

	"github.com/tphakala/readerstudy/internal/datastore/entities"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// sessionRepository implements SessionRepository.
type sessionRepository struct {
	db *gorm.DB
}

// NewSessionRepository creates a new SessionRepository.
func NewSessionRepository(db *gorm.DB) SessionRepository {
	return &sessionRepository{db: db}
}

// newProgress returns the initial progress row for a session.
func newProgress(sessionID uint) *entities.SessionProgress {
	return &entities.SessionProgress{
		SessionID:        sessionID,
		CurrentBlock:     entities.BlockA,
		CurrentCaseIndex: 0,
		CompletedCaseIDs: datatypes.JSONSlice[string]{},
	}
}

// CreateIfAbsent inserts the session and its progress row, or returns the
// existing session for the same reader and code.
func (r *sessionRepository) CreateIfAbsent(ctx context.Context, session *entities.StudySession) (*entities.StudySession, bool, error) {
	if session == nil || session.ReaderID == 0 || session.SessionCode == "" {
		return nil, false, ErrInvalidInput
	}

	createErr := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Create(session).Error; err != nil {
			return err
		}
		return tx.Create(newProgress(session.ID)).Error
	})
	if createErr == nil {
		created, err := r.GetByID(ctx, session.ID)
		if err != nil {
			return nil, false, err
		}
		return created, true, nil
	}

	// Handle race condition - another request may have created it.
	// Try to fetch the existing record; if that also fails, return the original create error.
	existing, findErr := r.GetByReaderAndCode(ctx, session.ReaderID, session.SessionCode)
	if findErr != nil {
		if isDuplicate(createErr) {
			return nil, false, ErrDuplicateKey
		}
		return nil, false, createErr
	}
	return existing, false, nil
}

// GetByID loads a session with its progress.
func (r *sessionRepository) GetByID(ctx context.Context, id uint) (*entities.StudySession, error) {
	var session entities.StudySession
	err := r.db.WithContext(ctx).
		Preload("Progress").
		First(&session, id).Error
	if err != nil {
		return nil, notFound(err, ErrSessionNotFound)
	}
	return &session, nil
}

// GetByReaderAndCode loads a session with its progress.
func (r *sessionRepository) GetByReaderAndCode(ctx context.Context, readerID uint, sessionCode string) (*entities.StudySession, error) {
	var session entities.StudySession
	err := r.db.WithContext(ctx).
		Preload("Progress").
		Where("reader_id = ? AND session_code = ?", readerID, sessionCode).
		First(&session).Error
	if err != nil {
		return nil, notFound(err, ErrSessionNotFound)
	}
	return &session, nil
}

// ListByReader returns a reader's sessions ordered by session code.
func (r *sessionRepository) ListByReader(ctx context.Context, readerID uint) ([]entities.StudySession, error) {
	var sessions []entities.StudySession
	err := r.db.WithContext(ctx).
		Preload("Progress").
		Where("reader_id = ?", readerID).
		Order("session_code ASC").
		Find(&sessions).Error
	return sessions, err
}

// ListAll returns every session ordered by reader and session code.
func (r *sessionRepository) ListAll(ctx context.Context) ([]entities.StudySession, error) {
	var sessions []entities.StudySession
	err := r.db.WithContext(ctx).
		Preload("Progress").
		Order("reader_id ASC, session_code ASC").
		Find(&sessions).Error
	return sessions, err
}

// CountByReader returns how many sessions a reader has.
func (r *sessionRepository) CountByReader(ctx context.Context, readerID uint) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&entities.StudySession{}).
		Where("reader_id = ?", readerID).
		Count(&count).Error
	return count, err
}

// Count returns the total number of sessions.
func (r *sessionRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&entities.StudySession{}).Count(&count).Error
	return count, err
}

// SetCaseOrders writes both orders only while none are stored.
func (r *sessionRepository) SetCaseOrders(ctx context.Context, id uint, orderA, orderB []string) (bool, error) {
	result := r.db.WithContext(ctx).Model(&entities.StudySession{}).
		Where("id = ? AND case_order_block_a IS NULL AND case_order_block_b IS NULL", id).
		Updates(map[string]any{
			"case_order_block_a": datatypes.JSONSlice[string](orderA),
			"case_order_block_b": datatypes.JSONSlice[string](orderB),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// MarkEntered records an entry into the session.
func (r *sessionRepository) MarkEntered(ctx context.Context, id uint, at time.Time) (bool, error) {
	var started bool
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&entities.StudySession{}).
			Where("id = ? AND status = ?", id, entities.SessionPending).
			Update("status", entities.SessionInProgress)
		if result.Error != nil {
			return result.Error
		}
		started = result.RowsAffected > 0

		if err := tx.Model(&entities.SessionProgress{}).
			Where("session_id = ? AND started_at IS NULL", id).
			Update("started_at", at).Error; err != nil {
			return err
		}
		return tx.Model(&entities.SessionProgress{}).
			Where("session_id = ?", id).
			Update("last_accessed_at", at).Error
	})
	return started, err
}

// Touch stamps last_accessed_at.
func (r *sessionRepository) Touch(ctx context.Context, id uint, at time.Time) error {
	return r.db.WithContext(ctx).Model(&entities.SessionProgress{}).
		Where("session_id = ?", id).
		Update("last_accessed_at", at).Error
}

// MarkCompleted performs the in_progress to completed transition once.
func (r *sessionRepository) MarkCompleted(ctx context.Context, id uint, at time.Time) (bool, error) {
	var completed bool
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&entities.StudySession{}).
			Where("id = ? AND status <> ?", id, entities.SessionCompleted).
			Update("status", entities.SessionCompleted)
		if result.Error != nil {
			return result.Error
		}
		completed = result.RowsAffected > 0

		return tx.Model(&entities.SessionProgress{}).
			Where("session_id = ? AND completed_at IS NULL", id).
			Update("completed_at", at).Error
	})
	return completed, err
}

// Advance moves the pointer and writes the result atomically. The pointer
// update runs first so the row is write-locked before the insert. It only
// matches while the session is still in the expected generation, so a
// pointer read before a reset never moves the fresh progress row.
func (r *sessionRepository) Advance(ctx context.Context, params *AdvanceParams) error {
	if params == nil || params.Result == nil {
		return ErrInvalidInput
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&entities.SessionProgress{}).
			Where("session_id = ? AND current_block = ? AND current_case_index = ?",
				params.SessionID, params.ExpectedBlock, params.ExpectedIndex).
			Where("EXISTS (?)", tx.Session(&gorm.Session{NewDB: true}).
				Model(&entities.StudySession{}).
				Select("1").
				Where("id = ? AND generation = ?", params.SessionID, params.ExpectedGeneration)).
			Updates(map[string]any{
				"current_block":      params.NextBlock,
				"current_case_index": params.NextIndex,
				"completed_case_ids": datatypes.JSONSlice[string](params.CompletedCaseIDs),
				"last_accessed_at":   params.At,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrStaleProgress
		}

		if err := tx.Create(params.Result).Error; err != nil {
			if isDuplicate(err) {
				return ErrDuplicateKey
			}
			return err
		}
		return nil
	})
}

// Reset clears everything recorded under a session and installs the fresh
// design snapshot. The session keeps its ID.
func (r *sessionRepository) Reset(ctx context.Context, id uint, fresh *entities.StudySession) error {
	if fresh == nil {
		return ErrInvalidInput
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&entities.StudySession{}).
			Where("id = ?", id).
			Updates(map[string]any{
				"status":                 entities.SessionPending,
				"generation":             gorm.Expr("generation + 1"),
				"case_order_block_a":     gorm.Expr("NULL"),
				"case_order_block_b":     gorm.Expr("NULL"),
				"group_number":           fresh.GroupNumber,
				"session_index":          fresh.SessionIndex,
				"block_a_mode":           fresh.BlockAMode,
				"block_b_mode":           fresh.BlockBMode,
				"candidates_block_a":     fresh.CandidatesBlockA,
				"candidates_block_b":     fresh.CandidatesBlockB,
				"k_max":                  fresh.KMax,
				"ai_threshold":           fresh.AIThreshold,
				"require_lesion_marking": fresh.RequireLesionMarking,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrSessionNotFound
		}

		if err := deleteResults(tx, id); err != nil {
			return err
		}

		if err := tx.Where("session_id = ?", id).Delete(&entities.SessionProgress{}).Error; err != nil {
			return err
		}
		return tx.Create(newProgress(id)).Error
	})
}

// Delete removes a session, its progress, results and lesion marks.
func (r *sessionRepository) Delete(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := deleteResults(tx, id); err != nil {
			return err
		}
		if err := tx.Where("session_id = ?", id).Delete(&entities.SessionProgress{}).Error; err != nil {
			return err
		}

		result := tx.Delete(&entities.StudySession{}, id)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrSessionNotFound
		}
		return nil
	})
}

// deleteResults removes the results of a session and their lesion marks.
func deleteResults(tx *gorm.DB, sessionID uint) error {
	var resultIDs []uint
	if err := tx.Model(&entities.StudyResult{}).
		Where("session_id = ?", sessionID).
		Pluck("id", &resultIDs).Error; err != nil {
		return err
	}
	if len(resultIDs) == 0 {
		return nil
	}

	if err := tx.Where("result_id IN ?", resultIDs).Delete(&entities.LesionMark{}).Error; err != nil {
		return err
	}
	return tx.Where("session_id = ?", sessionID).Delete(&entities.StudyResult{}).Error
}
