package study

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/tphakala/readerstudy/internal/audit"
	"github.com/tphakala/readerstudy/internal/auth"
	"github.com/tphakala/readerstudy/internal/conf"
	"github.com/tphakala/readerstudy/internal/datastore/entities"
	"github.com/tphakala/readerstudy/internal/errors"
)

// TestEngine_Scenario walks group 1 through session S1 end to end.
func TestEngine_Scenario(t *testing.T) {
	env := newTestEnv(t, swapFirstTwo)
	ctx := context.Background()
	reader := env.addReader(t, "R001", 1)

	view, err := env.engine.EnterSession(ctx, reader, "S1")
	require.NoError(t, err)
	cv := requireCaseView(t, view)
	assert.Equal(t, "c2", cv.CaseID)
	assert.Equal(t, entities.ModeUnaided, cv.Mode)
	assert.Equal(t, entities.BlockA, cv.Block)
	assert.Equal(t, 0, cv.CaseIndex)
	assert.Equal(t, 3, cv.TotalCasesInBlock)
	assert.False(t, cv.IsLastInBlock)
	assert.Nil(t, cv.AIThreshold, "threshold is hidden in UNAIDED blocks")
	assert.Equal(t, 6, cv.TotalCases)

	session, err := env.sessions.GetByReaderAndCode(ctx, reader.ReaderID, "S1")
	require.NoError(t, err)
	assert.Equal(t, []string{"c2", "c1", "c3"}, session.Order(entities.BlockA))
	assert.Equal(t, []string{"c5", "c4", "c6"}, session.Order(entities.BlockB))
	assert.Equal(t, entities.SessionInProgress, session.Status)

	// Re-entering never reshuffles, whatever the shuffler would do now.
	env.engine.shuffle = Shuffle
	view, err = env.engine.EnterSession(ctx, reader, "S1")
	require.NoError(t, err)
	assert.Equal(t, "c2", requireCaseView(t, view).CaseID)
	session, err = env.sessions.GetByID(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"c2", "c1", "c3"}, session.Order(entities.BlockA))

	// Too many lesions is rejected without any state change.
	_, err = env.engine.SubmitResult(ctx, reader, "S1", "c2", payload(4))
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
	n, err := env.results.CountBySession(ctx, session.ID)
	require.NoError(t, err)
	assert.Zero(t, n)

	p := &ResultPayload{
		PatientDecision: decision(true),
		Lesions: []LesionInput{
			{X: 10, Y: 20, Z: 5, Confidence: entities.ConfidenceDefinite},
			{X: 40, Y: 22, Z: 7, Confidence: entities.ConfidenceProbable},
		},
		TimeSpentSec: 31.2,
	}
	view, err = env.engine.SubmitResult(ctx, reader, "S1", "c2", p)
	require.NoError(t, err)
	cv = requireCaseView(t, view)
	assert.Equal(t, "c1", cv.CaseID)
	assert.Equal(t, 1, cv.CaseIndex)
	assert.Equal(t, 1, cv.CompletedCases)

	stored, err := env.results.GetBySessionAndCase(ctx, session.ID, "c2")
	require.NoError(t, err)
	assert.True(t, stored.PatientDecision)
	assert.Equal(t, entities.ModeUnaided, stored.Mode)
	require.Len(t, stored.LesionMarks, 2)
	assert.Equal(t, entities.ConfidenceDefinite, stored.LesionMarks[0].Confidence)
	assert.Equal(t, 2, stored.LesionMarks[1].MarkOrder)

	view, err = env.engine.SubmitResult(ctx, reader, "S1", "c1", payload(0))
	require.NoError(t, err)
	cv = requireCaseView(t, view)
	assert.Equal(t, "c3", cv.CaseID)
	assert.True(t, cv.IsLastInBlock)

	view, err = env.engine.SubmitResult(ctx, reader, "S1", "c3", payload(1))
	require.NoError(t, err)
	cv = requireCaseView(t, view)
	assert.Equal(t, "c5", cv.CaseID, "block A exhausted rolls into block B")
	assert.Equal(t, entities.BlockB, cv.Block)
	assert.Equal(t, entities.ModeAided, cv.Mode)
	assert.Equal(t, 0, cv.CaseIndex)
	require.NotNil(t, cv.AIThreshold)
	assert.InDelta(t, 0.3, *cv.AIThreshold, 1e-9)

	// The rolled-over read is a projection; the stored pointer is unchanged.
	current, err := env.engine.GetCurrentCase(ctx, reader, "S1")
	require.NoError(t, err)
	assert.Equal(t, cv, current)

	for _, id := range []string{"c5", "c4", "c6"} {
		view, err = env.engine.SubmitResult(ctx, reader, "S1", id, payload(0))
		require.NoError(t, err)
	}
	complete, ok := view.(*SessionCompleteView)
	require.True(t, ok, "expected completion, got %T", view)
	assert.True(t, complete.IsSessionComplete)
	assert.Equal(t, "S1", complete.SessionCode)
	assert.Equal(t, 6, complete.CompletedCases)
	assert.NotNil(t, complete.CompletedAt)

	session, err = env.sessions.GetByID(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, entities.SessionCompleted, session.Status)

	// Re-entry after completion is a terminal view, not an error.
	view, err = env.engine.EnterSession(ctx, reader, "S1")
	require.NoError(t, err)
	assert.True(t, view.SessionComplete())

	assert.Equal(t, 1, env.sink.count(audit.ActionSessionStart))
	assert.Equal(t, 1, env.sink.count(audit.ActionSessionResume))
	assert.Equal(t, 6, env.sink.count(audit.ActionCaseComplete))
	assert.Equal(t, 1, env.sink.count(audit.ActionSessionComplete))
	assert.Equal(t, 1, env.sink.count(audit.ActionConfigAutoLocked))

	cfg, err := env.config.Current(ctx)
	require.NoError(t, err)
	assert.True(t, cfg.IsLocked)
}

func TestEngine_SubmitIdempotent(t *testing.T) {
	env := newTestEnv(t, swapFirstTwo)
	ctx := context.Background()
	reader := env.addReader(t, "R001", 1)

	_, err := env.engine.EnterSession(ctx, reader, "S1")
	require.NoError(t, err)

	first, err := env.engine.SubmitResult(ctx, reader, "S1", "c2", payload(1))
	require.NoError(t, err)
	second, err := env.engine.SubmitResult(ctx, reader, "S1", "c2", payload(1))
	require.NoError(t, err)
	assert.Equal(t, first, second)

	session, err := env.sessions.GetByReaderAndCode(ctx, reader.ReaderID, "S1")
	require.NoError(t, err)
	n, err := env.results.CountBySession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, 1, session.Progress.CurrentCaseIndex)
}

func TestEngine_SubmitConflict(t *testing.T) {
	env := newTestEnv(t, swapFirstTwo)
	ctx := context.Background()
	reader := env.addReader(t, "R001", 1)

	_, err := env.engine.EnterSession(ctx, reader, "S1")
	require.NoError(t, err)

	// c3 is in the session but not current and has no result.
	_, err = env.engine.SubmitResult(ctx, reader, "S1", "c3", payload(0))
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConflict))

	_, err = env.engine.SubmitResult(ctx, reader, "S1", "unknown", payload(0))
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConflict))

	session, err := env.sessions.GetByReaderAndCode(ctx, reader.ReaderID, "S1")
	require.NoError(t, err)
	assert.Equal(t, 0, session.Progress.CurrentCaseIndex)
	assert.Empty(t, session.Progress.CompletedCaseIDs)
}

func TestEngine_SubmitBeforeEnter(t *testing.T) {
	env := newTestEnv(t, swapFirstTwo)
	ctx := context.Background()
	reader := env.addReader(t, "R001", 1)

	_, err := env.engine.SubmitResult(ctx, reader, "S1", "c1", payload(0))
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))

	_, err = env.engine.AssignSession(ctx, env.admin, reader.ReaderID, "S2")
	require.NoError(t, err)
	_, err = env.engine.SubmitResult(ctx, reader, "S2", "c1", payload(0))
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryState))

	_, err = env.engine.GetCurrentCase(ctx, reader, "S2")
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryState))
}

func TestEngine_Monotonic(t *testing.T) {
	env := newTestEnv(t, Shuffle)
	ctx := context.Background()
	reader := env.addReader(t, "R001", 2)

	view, err := env.engine.EnterSession(ctx, reader, "S2")
	require.NoError(t, err)

	prev := -1
	for !view.SessionComplete() {
		cv := requireCaseView(t, view)
		global := cv.CaseIndex
		if cv.Block == entities.BlockB {
			global += 3
		}
		assert.Greater(t, global, prev)
		prev = global

		view, err = env.engine.SubmitResult(ctx, reader, "S2", cv.CaseID, payload(1))
		require.NoError(t, err)
	}
	assert.Equal(t, 5, prev)
}

func TestEngine_ConcurrentFirstEntry(t *testing.T) {
	env := newTestEnv(t, Shuffle)
	ctx := context.Background()
	reader := env.addReader(t, "R001", 1)

	const callers = 8
	views := make([]SessionView, callers)
	var g errgroup.Group
	for i := range callers {
		g.Go(func() error {
			v, err := env.engine.EnterSession(ctx, reader, "S1")
			views[i] = v
			return err
		})
	}
	require.NoError(t, g.Wait())

	first := requireCaseView(t, views[0])
	for _, v := range views[1:] {
		assert.Equal(t, first.CaseID, requireCaseView(t, v).CaseID)
		assert.Equal(t, first.SessionID, requireCaseView(t, v).SessionID)
	}

	sessions, err := env.sessions.ListByReader(ctx, reader.ReaderID)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, first.CaseID, sessions[0].Order(entities.BlockA)[0])
	assert.Equal(t, 1, env.sink.count(audit.ActionSessionStart))
}

func TestEngine_ConcurrentOrderGeneration(t *testing.T) {
	env := newTestEnv(t, Shuffle)
	ctx := context.Background()
	reader := env.addReader(t, "R001", 1)

	// Assigned sessions draw their orders on first entry.
	_, err := env.engine.AssignSession(ctx, env.admin, reader.ReaderID, "S1")
	require.NoError(t, err)

	const callers = 8
	var (
		mu     sync.Mutex
		orders [][]string
	)
	var g errgroup.Group
	for range callers {
		g.Go(func() error {
			if _, err := env.engine.EnterSession(ctx, reader, "S1"); err != nil {
				return err
			}
			s, err := env.sessions.GetByReaderAndCode(ctx, reader.ReaderID, "S1")
			if err != nil {
				return err
			}
			mu.Lock()
			orders = append(orders, append(s.Order(entities.BlockA), s.Order(entities.BlockB)...))
			mu.Unlock()
			return nil
		})
	}
	require.NoError(t, g.Wait())

	require.Len(t, orders, callers)
	for _, o := range orders[1:] {
		assert.Equal(t, orders[0], o)
	}
}

func TestEngine_ConcurrentSubmit(t *testing.T) {
	env := newTestEnv(t, swapFirstTwo)
	ctx := context.Background()
	reader := env.addReader(t, "R001", 1)

	_, err := env.engine.EnterSession(ctx, reader, "S1")
	require.NoError(t, err)

	const callers = 6
	views := make([]SessionView, callers)
	var g errgroup.Group
	for i := range callers {
		g.Go(func() error {
			v, err := env.engine.SubmitResult(ctx, reader, "S1", "c2", payload(1))
			views[i] = v
			return err
		})
	}
	require.NoError(t, g.Wait())

	for _, v := range views {
		assert.Equal(t, "c1", requireCaseView(t, v).CaseID)
	}

	session, err := env.sessions.GetByReaderAndCode(ctx, reader.ReaderID, "S1")
	require.NoError(t, err)
	n, err := env.results.CountBySession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, 1, session.Progress.CurrentCaseIndex)
	assert.Equal(t, []string{"c2"}, []string(session.Progress.CompletedCaseIDs))
	assert.Equal(t, 1, env.sink.count(audit.ActionCaseComplete))
}

func TestEngine_AccessGate(t *testing.T) {
	env := newTestEnv(t, swapFirstTwo)
	ctx := context.Background()
	reader := env.addReader(t, "R001", 1)
	other := env.addReader(t, "R002", 1)

	check := func(id auth.Identity, caseID string) bool {
		t.Helper()
		ok, err := env.engine.IsAIResourcePermitted(ctx, id, "S1", caseID)
		require.NoError(t, err)
		return ok
	}

	assert.False(t, check(reader, "c4"), "no session yet")

	_, err := env.engine.EnterSession(ctx, reader, "S1")
	require.NoError(t, err)

	for _, id := range []string{"c1", "c2", "c3"} {
		assert.False(t, check(reader, id), "block A is UNAIDED: %s", id)
	}
	for _, id := range []string{"c4", "c5", "c6"} {
		assert.True(t, check(reader, id), "block B is AIDED: %s", id)
	}
	assert.False(t, check(reader, "c99"))
	assert.False(t, check(other, "c4"), "another reader's session")
	assert.False(t, check(env.admin, "c4"))
}

func TestEngine_EnterAuthorization(t *testing.T) {
	env := newTestEnv(t, Shuffle, func(s *conf.StudySettings) { s.AutoAssign = false })
	ctx := context.Background()
	reader := env.addReader(t, "R001", 1)

	_, err := env.engine.EnterSession(ctx, reader, "S1")
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryAuthorization))

	_, err = env.engine.EnterSession(ctx, env.admin, "S1")
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryAuthorization))

	_, err = env.engine.AssignSession(ctx, env.admin, reader.ReaderID, "S1")
	require.NoError(t, err)
	view, err := env.engine.EnterSession(ctx, reader, "S1")
	require.NoError(t, err)
	assert.False(t, view.SessionComplete())

	_, err = env.readers.Deactivate(ctx, env.admin, reader.ReaderID)
	require.NoError(t, err)
	_, err = env.engine.EnterSession(ctx, reader, "S1")
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryAuthorization))
}

func TestEngine_DeactivatedReaderLosesAccess(t *testing.T) {
	env := newTestEnv(t, swapFirstTwo)
	ctx := context.Background()
	reader := env.addReader(t, "R001", 1)

	_, err := env.engine.EnterSession(ctx, reader, "S1")
	require.NoError(t, err)
	ok, err := env.engine.IsAIResourcePermitted(ctx, reader, "S1", "c4")
	require.NoError(t, err)
	require.True(t, ok)

	inactive := false
	_, err = env.readers.Update(ctx, env.admin, reader.ReaderID, &UpdateReaderRequest{IsActive: &inactive})
	require.NoError(t, err)

	_, err = env.engine.SubmitResult(ctx, reader, "S1", "c2", payload(0))
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryAuthorization))

	_, err = env.engine.GetCurrentCase(ctx, reader, "S1")
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryAuthorization))

	_, err = env.engine.GetSessionSummaries(ctx, reader)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryAuthorization))

	ok, err = env.engine.IsAIResourcePermitted(ctx, reader, "S1", "c4")
	require.NoError(t, err)
	assert.False(t, ok, "AI data is withheld from inactive readers")

	session, err := env.sessions.GetByReaderAndCode(ctx, reader.ReaderID, "S1")
	require.NoError(t, err)
	n, err := env.results.CountBySession(ctx, session.ID)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, 0, session.Progress.CurrentCaseIndex)
}

func TestEngine_UnknownSessionCode(t *testing.T) {
	env := newTestEnv(t, Shuffle)
	ctx := context.Background()
	reader := env.addReader(t, "R001", 1)

	_, err := env.engine.EnterSession(ctx, reader, "S9")
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))

	n, err := env.sessions.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "no session is created")
}

func TestEngine_FrozenSnapshot(t *testing.T) {
	env := newTestEnv(t, swapFirstTwo)
	ctx := context.Background()
	reader := env.addReader(t, "R001", 1)

	_, err := env.engine.EnterSession(ctx, reader, "S1")
	require.NoError(t, err)

	threshold := 0.9
	_, err = env.config.Update(ctx, env.admin, &ConfigUpdate{AIThreshold: &threshold})
	require.NoError(t, err)

	kmax := 5
	_, err = env.config.Update(ctx, env.admin, &ConfigUpdate{KMax: &kmax})
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConflict))

	// The session keeps the threshold captured at creation.
	_, err = env.engine.SubmitResult(ctx, reader, "S1", "c2", payload(0))
	require.NoError(t, err)
	_, err = env.engine.SubmitResult(ctx, reader, "S1", "c1", payload(0))
	require.NoError(t, err)
	view, err := env.engine.SubmitResult(ctx, reader, "S1", "c3", payload(0))
	require.NoError(t, err)
	cv := requireCaseView(t, view)
	require.NotNil(t, cv.AIThreshold)
	assert.InDelta(t, 0.3, *cv.AIThreshold, 1e-9)
}

func TestEngine_AdminOperations(t *testing.T) {
	env := newTestEnv(t, swapFirstTwo)
	ctx := context.Background()
	reader := env.addReader(t, "R001", 1)

	_, err := env.engine.AssignSession(ctx, reader, reader.ReaderID, "S1")
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryAuthorization))

	session, err := env.engine.AssignSession(ctx, env.admin, reader.ReaderID, "S1")
	require.NoError(t, err)
	assert.Equal(t, entities.SessionPending, session.Status)
	assert.False(t, session.HasCaseOrders())
	assert.Equal(t, entities.ModeUnaided, session.BlockAMode)
	assert.Equal(t, audit.ActionAdminSessionAssign, env.sink.last().Action)

	_, err = env.engine.AssignSession(ctx, env.admin, reader.ReaderID, "S1")
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConflict))

	_, err = env.engine.EnterSession(ctx, reader, "S1")
	require.NoError(t, err)
	_, err = env.engine.SubmitResult(ctx, reader, "S1", "c2", payload(2))
	require.NoError(t, err)

	results, err := env.engine.ListSessionResults(ctx, env.admin, session.ID)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Len(t, results[0].LesionMarks, 2)

	// Reset keeps the session identity and discards recorded work.
	env.engine.shuffle = func(ids []string) []string { return ids }
	reset, err := env.engine.ResetSession(ctx, env.admin, session.ID)
	require.NoError(t, err)
	assert.Equal(t, session.ID, reset.ID)
	assert.Equal(t, entities.SessionPending, reset.Status)
	assert.False(t, reset.HasCaseOrders())
	require.NotNil(t, reset.Progress)
	assert.Equal(t, 0, reset.Progress.CurrentCaseIndex)
	assert.Empty(t, reset.Progress.CompletedCaseIDs)
	resetEvent := env.sink.last()
	assert.Equal(t, audit.ActionAdminSessionReset, resetEvent.Action)
	assert.Equal(t, []string{"c2", "c1", "c3"}, resetEvent.Details["previous_order_a"])
	assert.Equal(t, 1, resetEvent.Details["discarded_results"])

	n, err := env.results.CountBySession(ctx, session.ID)
	require.NoError(t, err)
	assert.Zero(t, n)

	// The next entry draws fresh orders.
	view, err := env.engine.EnterSession(ctx, reader, "S1")
	require.NoError(t, err)
	assert.Equal(t, "c1", requireCaseView(t, view).CaseID)

	require.NoError(t, env.engine.DeleteSessionAssignment(ctx, env.admin, session.ID))
	assert.Equal(t, audit.ActionAdminSessionDelete, env.sink.last().Action)
	_, err = env.sessions.GetByID(ctx, session.ID)
	require.Error(t, err)

	err = env.engine.DeleteSessionAssignment(ctx, env.admin, session.ID)
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))

	_, err = env.engine.ResetSession(ctx, env.admin, session.ID)
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
}

func TestEngine_GetSessionSummaries(t *testing.T) {
	env := newTestEnv(t, swapFirstTwo)
	ctx := context.Background()
	reader := env.addReader(t, "R001", 1)

	_, err := env.engine.AssignSession(ctx, env.admin, reader.ReaderID, "S2")
	require.NoError(t, err)
	_, err = env.engine.EnterSession(ctx, reader, "S1")
	require.NoError(t, err)
	_, err = env.engine.SubmitResult(ctx, reader, "S1", "c2", payload(0))
	require.NoError(t, err)

	summaries, err := env.engine.GetSessionSummaries(ctx, reader)
	require.NoError(t, err)
	require.Len(t, summaries, 2)

	s1 := summaries[0]
	assert.Equal(t, "S1", s1.SessionCode)
	assert.Equal(t, entities.SessionInProgress, s1.Status)
	assert.Equal(t, 1, s1.CompletedCases)
	assert.Equal(t, 6, s1.TotalCases)
	assert.InDelta(t, 16.7, s1.ProgressPercent, 1e-9)
	require.NotNil(t, s1.CurrentBlock)
	assert.Equal(t, entities.BlockA, *s1.CurrentBlock)
	require.NotNil(t, s1.CurrentCaseIndex)
	assert.Equal(t, 1, *s1.CurrentCaseIndex)

	s2 := summaries[1]
	assert.Equal(t, "S2", s2.SessionCode)
	assert.Equal(t, entities.SessionPending, s2.Status)
	assert.Equal(t, 6, s2.TotalCases)
	assert.Nil(t, s2.CurrentBlock)
	assert.Zero(t, s2.ProgressPercent)
}
