package study

import (
	"context"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tphakala/readerstudy/internal/audit"
	"github.com/tphakala/readerstudy/internal/auth"
	"github.com/tphakala/readerstudy/internal/conf"
	"github.com/tphakala/readerstudy/internal/datastore"
	"github.com/tphakala/readerstudy/internal/datastore/entities"
	"github.com/tphakala/readerstudy/internal/datastore/repository"
)

// captureSink keeps recorded audit events in memory.
type captureSink struct {
	mu     sync.Mutex
	events []audit.Event
}

func (s *captureSink) Record(_ context.Context, ev audit.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *captureSink) count(action audit.Action) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, ev := range s.events {
		if ev.Action == action {
			n++
		}
	}
	return n
}

func (s *captureSink) last() audit.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.events[len(s.events)-1]
}

// swapFirstTwo is a deterministic shuffle: [c1 c2 c3] becomes [c2 c1 c3].
func swapFirstTwo(ids []string) []string {
	out := slices.Clone(ids)
	if len(out) > 1 {
		out[0], out[1] = out[1], out[0]
	}
	return out
}

// testEnv is an engine backed by a fresh SQLite database.
type testEnv struct {
	engine   *Engine
	config   *ConfigService
	readers  *ReaderService
	tracker  *Tracker
	sessions repository.SessionRepository
	results  repository.ResultRepository
	readerDB repository.ReaderRepository
	sink     *captureSink
	admin    auth.Identity
}

// testStudySettings gives block A [c1 c2 c3] and block B [c4 c5 c6].
func testStudySettings() *conf.StudySettings {
	return &conf.StudySettings{
		Name:          "Test Study",
		TotalGroups:   2,
		TotalSessions: 2,
		KMax:          3,
		AIThreshold:   0.3,
		AutoAssign:    true,
		Cases: conf.CaseSettings{
			Positive: []string{"c1", "c2", "c4", "c5"},
			Negative: []string{"c3", "c6"},
		},
	}
}

func newTestEnv(t *testing.T, shuffle Shuffler, adjust ...func(*conf.StudySettings)) *testEnv {
	t.Helper()

	mgr, err := datastore.NewSQLiteManager(filepath.Join(t.TempDir(), "study.db"), datastore.Config{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = mgr.Close() })
	require.NoError(t, mgr.Initialize())
	db := mgr.DB()

	env := &testEnv{
		sessions: repository.NewSessionRepository(db),
		results:  repository.NewResultRepository(db),
		readerDB: repository.NewReaderRepository(db),
		sink:     &captureSink{},
		admin:    auth.Identity{ReaderID: 999, ReaderCode: "ADMIN", Role: entities.RoleAdmin},
	}

	settings := testStudySettings()
	for _, fn := range adjust {
		fn(settings)
	}
	env.config = NewConfigService(repository.NewConfigRepository(db), env.sink, nil)
	_, err = env.config.Bootstrap(context.Background(), settings)
	require.NoError(t, err)

	env.engine = NewEngine(&Options{
		Sessions: env.sessions,
		Results:  env.results,
		Readers:  env.readerDB,
		Config:   env.config,
		Audit:    env.sink,
		Clock:    func() time.Time { return time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC) },
		Shuffle:  shuffle,
	})
	env.readers = NewReaderService(env.readerDB, env.sessions, env.config, env.sink)
	env.tracker = NewTracker(env.sessions, env.readerDB, env.config, 0)
	return env
}

// addReader creates an active reader in group and returns its identity.
func (env *testEnv) addReader(t *testing.T, code string, group int) auth.Identity {
	t.Helper()

	r, err := env.readers.Create(context.Background(), env.admin, &CreateReaderRequest{
		ReaderCode: code,
		Name:       "Reader " + code,
		Password:   "password-" + code,
		Group:      &group,
	})
	require.NoError(t, err)
	return auth.IdentityOf(r)
}

func decision(v bool) *bool { return &v }

// payload builds a valid result with n lesion marks.
func payload(n int) *ResultPayload {
	confidences := []entities.Confidence{entities.ConfidenceDefinite, entities.ConfidenceProbable, entities.ConfidencePossible}
	p := &ResultPayload{PatientDecision: decision(n > 0), TimeSpentSec: 12.5}
	for i := range n {
		p.Lesions = append(p.Lesions, LesionInput{X: 10 + i, Y: 20, Z: 30, Confidence: confidences[i%len(confidences)]})
	}
	return p
}

func requireCaseView(t *testing.T, view SessionView) *CurrentCaseView {
	t.Helper()
	cv, ok := view.(*CurrentCaseView)
	require.True(t, ok, "expected a current case view, got %T", view)
	return cv
}
