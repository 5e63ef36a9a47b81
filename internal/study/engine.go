package study

import (
	"context"
	"slices"
	"time"

	"github.com/go-playground/validator/v10"
	"gorm.io/datatypes"

	"github.com/tphakala/readerstudy/internal/audit"
	"github.com/tphakala/readerstudy/internal/auth"
	"github.com/tphakala/readerstudy/internal/catalog"
	"github.com/tphakala/readerstudy/internal/datastore/entities"
	"github.com/tphakala/readerstudy/internal/datastore/repository"
	"github.com/tphakala/readerstudy/internal/errors"
	"github.com/tphakala/readerstudy/internal/logger"
	"github.com/tphakala/readerstudy/internal/observability/metrics"
)

// Admin operation label values.
const (
	opAssign = "assign"
	opReset  = "reset"
	opDelete = "delete"
)

// Options wires the engine to its collaborators. Sessions, Results, Readers,
// Config and Audit are required.
type Options struct {
	Sessions repository.SessionRepository
	Results  repository.ResultRepository
	Readers  repository.ReaderRepository
	Config   *ConfigService
	Audit    audit.Sink
	Metrics  *metrics.StudyMetrics // optional
	Log      logger.Logger         // optional
	Clock    func() time.Time      // defaults to time.Now
	Shuffle  Shuffler              // defaults to Shuffle
}

// Engine runs the session state machine.
type Engine struct {
	sessions repository.SessionRepository
	results  repository.ResultRepository
	readers  repository.ReaderRepository
	config   *ConfigService
	audit    audit.Sink
	metrics  *metrics.StudyMetrics
	log      logger.Logger
	validate *validator.Validate
	now      func() time.Time
	shuffle  Shuffler
}

// NewEngine creates an Engine.
func NewEngine(opts *Options) *Engine {
	e := &Engine{
		sessions: opts.Sessions,
		results:  opts.Results,
		readers:  opts.Readers,
		config:   opts.Config,
		audit:    opts.Audit,
		metrics:  opts.Metrics,
		log:      opts.Log,
		validate: newValidator(),
		now:      opts.Clock,
		shuffle:  opts.Shuffle,
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.shuffle == nil {
		e.shuffle = Shuffle
	}
	return e
}

// EnterSession opens a session for the calling reader, creating it on first
// entry when the study auto-assigns sessions. The case orders are generated
// at most once; every later entry sees the same orders.
func (e *Engine) EnterSession(ctx context.Context, id auth.Identity, sessionCode string) (SessionView, error) {
	if err := requireReader(id); err != nil {
		return nil, err
	}
	reader, err := e.activeReader(ctx, id.ReaderID)
	if err != nil {
		return nil, err
	}

	session, err := e.sessions.GetByReaderAndCode(ctx, reader.ID, sessionCode)
	switch {
	case err == nil:
	case errors.Is(err, repository.ErrSessionNotFound):
		session, err = e.createOnEntry(ctx, reader, sessionCode)
		if err != nil {
			return nil, err
		}
	default:
		return nil, storageError("load session", err)
	}

	session, err = e.ensureCaseOrders(ctx, session)
	if err != nil {
		return nil, err
	}

	started, err := e.sessions.MarkEntered(ctx, session.ID, e.now().UTC())
	if err != nil {
		return nil, storageError("mark session entered", err)
	}
	session, err = e.reload(ctx, session.ID)
	if err != nil {
		return nil, err
	}

	view, err := e.project(ctx, session)
	if err != nil {
		return nil, err
	}

	switch {
	case started:
		e.metrics.RecordEntry(metrics.EntryNew)
		e.audit.Record(ctx, sessionEvent(session, audit.ActionSessionStart, map[string]any{
			"block_a_mode": session.BlockAMode,
			"block_b_mode": session.BlockBMode,
		}))
	case view.SessionComplete():
		e.metrics.RecordEntry(metrics.EntryComplete)
	default:
		e.metrics.RecordEntry(metrics.EntryResume)
		e.audit.Record(ctx, sessionEvent(session, audit.ActionSessionResume, nil))
	}

	return view, nil
}

// GetCurrentCase returns the view of an entered session without changing it,
// apart from stamping completion once both blocks are exhausted.
func (e *Engine) GetCurrentCase(ctx context.Context, id auth.Identity, sessionCode string) (SessionView, error) {
	if err := requireReader(id); err != nil {
		return nil, err
	}
	session, err := e.ownedSession(ctx, id, sessionCode)
	if err != nil {
		return nil, err
	}
	if !session.HasCaseOrders() {
		return nil, stateError("session has not been entered yet")
	}
	return e.project(ctx, session)
}

// SubmitResult records the result for caseID and advances the progress
// pointer in one transaction. A submission for a case that already has a
// result replays the current view instead of failing.
func (e *Engine) SubmitResult(ctx context.Context, id auth.Identity, sessionCode, caseID string, payload *ResultPayload) (SessionView, error) {
	if err := requireReader(id); err != nil {
		return nil, err
	}
	session, err := e.ownedSession(ctx, id, sessionCode)
	if err != nil {
		return nil, err
	}
	if !session.HasCaseOrders() || session.Progress == nil {
		return nil, stateError("session has not been entered yet")
	}

	progress := session.Progress
	pos := Project(session.Order(entities.BlockA), session.Order(entities.BlockB),
		progress.CurrentBlock, progress.CurrentCaseIndex)
	if pos.Complete || pos.CaseID != caseID {
		return e.replayOrConflict(ctx, session, caseID, pos)
	}

	if err := validatePayload(e.validate, session, payload); err != nil {
		e.metrics.RecordSubmission(metrics.OutcomeInvalid)
		return nil, err
	}

	start := time.Now()
	result := newResult(session, pos, caseID, payload)
	err = e.sessions.Advance(ctx, &repository.AdvanceParams{
		SessionID:          session.ID,
		ExpectedGeneration: session.Generation,
		ExpectedBlock:      progress.CurrentBlock,
		ExpectedIndex:      progress.CurrentCaseIndex,
		NextBlock:          pos.Block,
		NextIndex:          pos.Index + 1,
		CompletedCaseIDs:   append(slices.Clone([]string(progress.CompletedCaseIDs)), caseID),
		Result:             result,
		At:                 e.now().UTC(),
	})
	switch {
	case err == nil:
	case errors.Is(err, repository.ErrStaleProgress), errors.Is(err, repository.ErrDuplicateKey):
		// A concurrent submission moved the pointer first.
		fresh, rerr := e.reload(ctx, session.ID)
		if rerr != nil {
			return nil, rerr
		}
		if fresh.Generation != session.Generation {
			e.metrics.RecordSubmission(metrics.OutcomeConflict)
			return nil, conflictError("session was reset by an administrator", map[string]any{
				"case_id": caseID,
			})
		}
		freshPos := Project(fresh.Order(entities.BlockA), fresh.Order(entities.BlockB),
			fresh.Progress.CurrentBlock, fresh.Progress.CurrentCaseIndex)
		return e.replayOrConflict(ctx, fresh, caseID, freshPos)
	default:
		e.metrics.RecordSubmission(metrics.OutcomeError)
		return nil, resultWriteError(err)
	}
	e.metrics.ObserveAdvance(time.Since(start))
	e.metrics.RecordSubmission(metrics.OutcomeRecorded)

	e.audit.Record(ctx, audit.Event{
		ReaderID:     &session.ReaderID,
		Action:       audit.ActionCaseComplete,
		ResourceType: audit.ResourceCase,
		ResourceID:   caseID,
		Details: map[string]any{
			"session_id":   session.ID,
			"session_code": session.SessionCode,
			"block":        pos.Block,
			"mode":         result.Mode,
			"case_index":   pos.Index,
			"lesions":      len(result.LesionMarks),
		},
	})

	session, err = e.reload(ctx, session.ID)
	if err != nil {
		return nil, err
	}
	return e.project(ctx, session)
}

// IsAIResourcePermitted reports whether AI-derived data may be served for
// caseID. It is true only when the case belongs to an AIDED block of one of
// the caller's sessions.
func (e *Engine) IsAIResourcePermitted(ctx context.Context, id auth.Identity, sessionCode, caseID string) (bool, error) {
	permitted, err := e.aiPermitted(ctx, id, sessionCode, caseID)
	if err != nil {
		return false, err
	}
	e.metrics.RecordAIAccess(permitted)
	return permitted, nil
}

func (e *Engine) aiPermitted(ctx context.Context, id auth.Identity, sessionCode, caseID string) (bool, error) {
	if requireReader(id) != nil {
		return false, nil
	}
	if _, err := e.activeReader(ctx, id.ReaderID); err != nil {
		if errors.IsCategory(err, errors.CategoryAuthorization) {
			return false, nil
		}
		return false, err
	}
	session, err := e.sessions.GetByReaderAndCode(ctx, id.ReaderID, sessionCode)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return false, nil
		}
		return false, storageError("load session", err)
	}
	if !session.HasCaseOrders() {
		return false, nil
	}
	block, ok := blockOf(session.Order(entities.BlockA), session.Order(entities.BlockB), caseID)
	if !ok {
		return false, nil
	}
	return session.ModeOf(block) == entities.ModeAided, nil
}

// GetSessionSummaries lists the caller's sessions with their progress.
func (e *Engine) GetSessionSummaries(ctx context.Context, id auth.Identity) ([]SessionSummary, error) {
	if err := requireReader(id); err != nil {
		return nil, err
	}
	if _, err := e.activeReader(ctx, id.ReaderID); err != nil {
		return nil, err
	}
	sessions, err := e.sessions.ListByReader(ctx, id.ReaderID)
	if err != nil {
		return nil, storageError("list sessions", err)
	}
	summaries := make([]SessionSummary, 0, len(sessions))
	for i := range sessions {
		summaries = append(summaries, summarize(&sessions[i]))
	}
	return summaries, nil
}

// AssignSession creates a session for a reader ahead of their first entry.
// Its case orders are drawn when the reader enters it.
func (e *Engine) AssignSession(ctx context.Context, actor auth.Identity, readerID uint, sessionCode string) (*entities.StudySession, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	reader, err := e.readers.GetByID(ctx, readerID)
	if err != nil {
		if errors.Is(err, repository.ErrReaderNotFound) {
			return nil, notFoundError("reader not found")
		}
		return nil, storageError("load reader", err)
	}
	if reader.IsAdmin() {
		return nil, validationError("sessions can only be assigned to readers", nil)
	}

	cfg, err := e.config.Current(ctx)
	if err != nil {
		return nil, err
	}
	built, err := e.newSession(reader, sessionCode, cfg, false)
	if err != nil {
		return nil, err
	}
	session, created, err := e.create(ctx, built)
	if err != nil {
		return nil, err
	}
	if !created {
		return nil, conflictError("session is already assigned", map[string]any{
			"session_id":   session.ID,
			"session_code": session.SessionCode,
		})
	}

	e.metrics.RecordAdminOperation(opAssign)
	e.audit.Record(ctx, audit.Event{
		ReaderID:     actorID(actor),
		Action:       audit.ActionAdminSessionAssign,
		ResourceType: audit.ResourceSession,
		ResourceID:   uintString(session.ID),
		Details: map[string]any{
			"reader_id":    reader.ID,
			"reader_code":  reader.ReaderCode,
			"session_code": session.SessionCode,
			"block_a_mode": session.BlockAMode,
			"block_b_mode": session.BlockBMode,
		},
	})
	return session, nil
}

// ResetSession clears the results and progress of a session and replaces its
// design snapshot with one taken from the current configuration. The next
// entry draws new case orders.
func (e *Engine) ResetSession(ctx context.Context, actor auth.Identity, sessionID uint) (*entities.StudySession, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	session, err := e.sessionByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	reader, err := e.readers.GetByID(ctx, session.ReaderID)
	if err != nil {
		return nil, storageError("load reader", err)
	}
	cfg, err := e.config.Current(ctx)
	if err != nil {
		return nil, err
	}
	fresh, err := e.newSession(reader, session.SessionCode, cfg, false)
	if err != nil {
		return nil, err
	}

	completed := 0
	if session.Progress != nil {
		completed = len(session.Progress.CompletedCaseIDs)
	}
	if err := e.sessions.Reset(ctx, session.ID, fresh); err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return nil, notFoundError("session not found")
		}
		return nil, storageError("reset session", err)
	}

	e.metrics.RecordAdminOperation(opReset)
	e.audit.Record(ctx, audit.Event{
		ReaderID:     actorID(actor),
		Action:       audit.ActionAdminSessionReset,
		ResourceType: audit.ResourceSession,
		ResourceID:   uintString(session.ID),
		Details: map[string]any{
			"reader_id":         session.ReaderID,
			"session_code":      session.SessionCode,
			"previous_status":   session.Status,
			"discarded_results": completed,
			"block_a_mode":      fresh.BlockAMode,
			"block_b_mode":      fresh.BlockBMode,
			"previous_order_a":  session.Order(entities.BlockA),
			"previous_order_b":  session.Order(entities.BlockB),
		},
	})
	if e.log != nil {
		e.log.WithContext(ctx).Info("session reset",
			logger.Uint("session_id", session.ID),
			logger.String("session_code", session.SessionCode),
			logger.Int("discarded_results", completed))
	}

	return e.reload(ctx, session.ID)
}

// DeleteSessionAssignment removes a session and everything recorded under it.
func (e *Engine) DeleteSessionAssignment(ctx context.Context, actor auth.Identity, sessionID uint) error {
	if err := requireAdmin(actor); err != nil {
		return err
	}
	session, err := e.sessionByID(ctx, sessionID)
	if err != nil {
		return err
	}
	if err := e.sessions.Delete(ctx, session.ID); err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return notFoundError("session not found")
		}
		return storageError("delete session", err)
	}

	e.metrics.RecordAdminOperation(opDelete)
	e.audit.Record(ctx, audit.Event{
		ReaderID:     actorID(actor),
		Action:       audit.ActionAdminSessionDelete,
		ResourceType: audit.ResourceSession,
		ResourceID:   uintString(session.ID),
		Details: map[string]any{
			"reader_id":    session.ReaderID,
			"session_code": session.SessionCode,
			"status":       session.Status,
		},
	})
	return nil
}

// ListSessionResults returns the recorded results of a session for review.
func (e *Engine) ListSessionResults(ctx context.Context, actor auth.Identity, sessionID uint) ([]entities.StudyResult, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	if _, err := e.sessionByID(ctx, sessionID); err != nil {
		return nil, err
	}
	results, err := e.results.ListBySession(ctx, sessionID)
	if err != nil {
		return nil, storageError("list results", err)
	}
	return results, nil
}

// createOnEntry creates the session a reader enters for the first time.
// Concurrent first entries collapse onto one row and one pair of orders.
func (e *Engine) createOnEntry(ctx context.Context, reader *entities.Reader, sessionCode string) (*entities.StudySession, error) {
	cfg, err := e.config.Current(ctx)
	if err != nil {
		return nil, err
	}
	if !cfg.AutoAssign {
		return nil, authorizationError("session is not assigned to this reader")
	}
	built, err := e.newSession(reader, sessionCode, cfg, true)
	if err != nil {
		return nil, err
	}
	session, created, err := e.create(ctx, built)
	if err != nil {
		return nil, err
	}
	e.metrics.RecordCaseOrders(created)
	return session, nil
}

// create inserts built unless the reader already has the session.
func (e *Engine) create(ctx context.Context, built *entities.StudySession) (*entities.StudySession, bool, error) {
	session, created, err := e.sessions.CreateIfAbsent(ctx, built)
	if err != nil {
		return nil, false, storageError("create session", err)
	}
	if created {
		e.metrics.RecordSessionCreated()
		e.config.autoLock(ctx, built.ReaderID, built.SessionCode)
		if e.log != nil {
			e.log.WithContext(ctx).Info("session created",
				logger.Uint("session_id", session.ID),
				logger.Uint("reader_id", session.ReaderID),
				logger.String("session_code", session.SessionCode),
				logger.String("block_a_mode", string(session.BlockAMode)),
				logger.String("block_b_mode", string(session.BlockBMode)))
		}
	}
	return session, created, nil
}

// newSession builds the frozen design snapshot of a session for reader.
func (e *Engine) newSession(reader *entities.Reader, sessionCode string, cfg *entities.StudyConfig, withOrders bool) (*entities.StudySession, error) {
	if reader.GroupNumber == nil {
		return nil, configError("reader %s has no group", reader.ReaderCode)
	}
	cross, err := ResolveCrossover(*reader.GroupNumber, sessionCode, Design{
		TotalGroups:   cfg.TotalGroups,
		TotalSessions: cfg.TotalSessions,
	})
	if err != nil {
		return nil, err
	}
	alloc, err := catalog.Allocate(cfg.PositiveCases, cfg.NegativeCases, BlocksPerSession)
	if err != nil {
		return nil, err
	}

	session := &entities.StudySession{
		ReaderID:             reader.ID,
		SessionCode:          sessionCode,
		GroupNumber:          *reader.GroupNumber,
		SessionIndex:         cross.SessionIndex,
		BlockAMode:           cross.BlockAMode,
		BlockBMode:           cross.BlockBMode,
		CandidatesBlockA:     alloc.Blocks[0],
		CandidatesBlockB:     alloc.Blocks[1],
		KMax:                 cfg.KMax,
		AIThreshold:          cfg.AIThreshold,
		RequireLesionMarking: cfg.RequireLesionMarking,
		Status:               entities.SessionPending,
	}
	if withOrders {
		orderA, orderB := caseOrders(e.shuffle, alloc.Blocks[0], alloc.Blocks[1])
		session.CaseOrderBlockA = jsonOrder(orderA)
		session.CaseOrderBlockB = jsonOrder(orderB)
	}
	return session, nil
}

// ensureCaseOrders draws the orders of a session that has none yet. When
// several callers race, the first write wins and all of them return it.
func (e *Engine) ensureCaseOrders(ctx context.Context, session *entities.StudySession) (*entities.StudySession, error) {
	if session.HasCaseOrders() {
		return session, nil
	}

	orderA, orderB := caseOrders(e.shuffle, session.CandidatesBlockA, session.CandidatesBlockB)
	won, err := e.sessions.SetCaseOrders(ctx, session.ID, orderA, orderB)
	if err != nil {
		return nil, storageError("store case orders", err)
	}
	e.metrics.RecordCaseOrders(won)

	persisted, err := e.reload(ctx, session.ID)
	if err != nil {
		return nil, err
	}
	if !persisted.HasCaseOrders() {
		return nil, stateError("case orders missing after generation")
	}
	return persisted, nil
}

// project builds the view of session and stamps completion the first time
// both blocks are found exhausted.
func (e *Engine) project(ctx context.Context, session *entities.StudySession) (SessionView, error) {
	progress := session.Progress
	if progress == nil {
		return nil, stateError("session has no progress")
	}
	pos := Project(session.Order(entities.BlockA), session.Order(entities.BlockB),
		progress.CurrentBlock, progress.CurrentCaseIndex)

	if pos.Complete && session.Status != entities.SessionCompleted {
		done, err := e.sessions.MarkCompleted(ctx, session.ID, e.now().UTC())
		if err != nil {
			return nil, storageError("mark session completed", err)
		}
		if done {
			e.metrics.RecordSessionCompleted()
			e.audit.Record(ctx, sessionEvent(session, audit.ActionSessionComplete, map[string]any{
				"completed_cases": len(progress.CompletedCaseIDs),
			}))
		}
		if session, err = e.reload(ctx, session.ID); err != nil {
			return nil, err
		}
	}
	return buildView(session, pos), nil
}

// replayOrConflict answers a submission for a case other than the current
// one: replay when that case already has a result, conflict otherwise.
func (e *Engine) replayOrConflict(ctx context.Context, session *entities.StudySession, caseID string, pos Position) (SessionView, error) {
	_, err := e.results.GetBySessionAndCase(ctx, session.ID, caseID)
	if err == nil {
		e.metrics.RecordSubmission(metrics.OutcomeReplayed)
		if e.log != nil {
			e.log.WithContext(ctx).Debug("duplicate submission replayed",
				logger.Uint("session_id", session.ID),
				logger.String("case_id", caseID))
		}
		return e.project(ctx, session)
	}
	if !errors.Is(err, repository.ErrResultNotFound) {
		e.metrics.RecordSubmission(metrics.OutcomeError)
		return nil, storageError("load result", err)
	}

	e.metrics.RecordSubmission(metrics.OutcomeConflict)
	return nil, conflictError("case does not match the current case of the session", map[string]any{
		"case_id":          caseID,
		"expected_case_id": pos.CaseID,
		"session_complete": pos.Complete,
	})
}

// activeReader loads the caller and rejects unknown or inactive readers.
func (e *Engine) activeReader(ctx context.Context, readerID uint) (*entities.Reader, error) {
	reader, err := e.readers.GetByID(ctx, readerID)
	if err != nil {
		if errors.Is(err, repository.ErrReaderNotFound) {
			return nil, authorizationError("reader is not active")
		}
		return nil, storageError("load reader", err)
	}
	if !reader.IsActive || reader.IsAdmin() {
		return nil, authorizationError("reader is not active")
	}
	return reader, nil
}

// ownedSession loads a session of the caller, who must still be active.
// Sessions of other readers are indistinguishable from missing ones.
func (e *Engine) ownedSession(ctx context.Context, id auth.Identity, sessionCode string) (*entities.StudySession, error) {
	if _, err := e.activeReader(ctx, id.ReaderID); err != nil {
		return nil, err
	}
	session, err := e.sessions.GetByReaderAndCode(ctx, id.ReaderID, sessionCode)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return nil, notFoundError("session not found")
		}
		return nil, storageError("load session", err)
	}
	return session, nil
}

func (e *Engine) sessionByID(ctx context.Context, id uint) (*entities.StudySession, error) {
	session, err := e.sessions.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return nil, notFoundError("session not found")
		}
		return nil, storageError("load session", err)
	}
	return session, nil
}

func (e *Engine) reload(ctx context.Context, id uint) (*entities.StudySession, error) {
	session, err := e.sessions.GetByID(ctx, id)
	if err != nil {
		return nil, storageError("reload session", err)
	}
	return session, nil
}

// newResult maps a validated payload onto a result row with its marks.
func newResult(session *entities.StudySession, pos Position, caseID string, p *ResultPayload) *entities.StudyResult {
	marks := make([]entities.LesionMark, 0, len(p.Lesions))
	for i, l := range p.Lesions {
		marks = append(marks, entities.LesionMark{
			X:          l.X,
			Y:          l.Y,
			Z:          l.Z,
			Confidence: l.Confidence,
			MarkOrder:  i + 1,
		})
	}
	return &entities.StudyResult{
		SessionID:       session.ID,
		CaseID:          caseID,
		ReaderID:        session.ReaderID,
		Block:           pos.Block,
		Mode:            session.ModeOf(pos.Block),
		CaseIndex:       pos.Index,
		PatientDecision: *p.PatientDecision,
		TimeSpentSec:    p.TimeSpentSec,
		LesionMarks:     marks,
	}
}

func sessionEvent(session *entities.StudySession, action audit.Action, details map[string]any) audit.Event {
	return audit.Event{
		ReaderID:     &session.ReaderID,
		Action:       action,
		ResourceType: audit.ResourceSession,
		ResourceID:   session.SessionCode,
		Details:      details,
	}
}

func jsonOrder(order []string) *datatypes.JSONSlice[string] {
	js := datatypes.JSONSlice[string](order)
	return &js
}
