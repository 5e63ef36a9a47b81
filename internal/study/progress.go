package study

import (
	"context"
	"math"
	"slices"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/errgroup"

	"github.com/tphakala/readerstudy/internal/auth"
	"github.com/tphakala/readerstudy/internal/datastore/entities"
	"github.com/tphakala/readerstudy/internal/datastore/repository"
)

// SessionSummary is the dashboard line of one session.
type SessionSummary struct {
	SessionID        uint                   `json:"session_id"`
	SessionCode      string                 `json:"session_code"`
	Status           entities.SessionStatus `json:"status"`
	BlockAMode       entities.Mode          `json:"block_a_mode"`
	BlockBMode       entities.Mode          `json:"block_b_mode"`
	CurrentBlock     *entities.Block        `json:"current_block"`
	CurrentCaseIndex *int                   `json:"current_case_index"`
	CompletedCases   int                    `json:"completed_cases"`
	TotalCases       int                    `json:"total_cases"`
	ProgressPercent  float64                `json:"progress_percent"`
	StartedAt        *time.Time             `json:"started_at,omitempty"`
	LastAccessedAt   *time.Time             `json:"last_accessed_at"`
	CompletedAt      *time.Time             `json:"completed_at,omitempty"`
}

// summarize derives the summary of a session from its stored rows. Before
// the orders are drawn the total comes from the candidate snapshot.
func summarize(s *entities.StudySession) SessionSummary {
	sum := SessionSummary{
		SessionID:   s.ID,
		SessionCode: s.SessionCode,
		Status:      s.Status,
		BlockAMode:  s.BlockAMode,
		BlockBMode:  s.BlockBMode,
		TotalCases:  len(s.CandidatesBlockA) + len(s.CandidatesBlockB),
	}
	if s.HasCaseOrders() {
		sum.TotalCases = s.TotalCases()
	}

	if p := s.Progress; p != nil {
		sum.CompletedCases = len(p.CompletedCaseIDs)
		sum.StartedAt = p.StartedAt
		sum.LastAccessedAt = p.LastAccessedAt
		sum.CompletedAt = p.CompletedAt
		if s.HasCaseOrders() {
			pos := Project(s.Order(entities.BlockA), s.Order(entities.BlockB), p.CurrentBlock, p.CurrentCaseIndex)
			sum.CurrentBlock = &pos.Block
			sum.CurrentCaseIndex = &pos.Index
		}
	}
	sum.ProgressPercent = percent(sum.CompletedCases, sum.TotalCases)
	return sum
}

// percent returns done/total as a percentage rounded to one decimal.
func percent(done, total int) float64 {
	if total <= 0 {
		return 0
	}
	return math.Round(float64(done)/float64(total)*1000) / 10
}

// ReaderProgress rolls up the sessions of one reader.
type ReaderProgress struct {
	ReaderID          uint       `json:"reader_id"`
	ReaderCode        string     `json:"reader_code"`
	Name              string     `json:"name"`
	Group             *int       `json:"group"`
	IsActive          bool       `json:"is_active"`
	SessionsTotal     int        `json:"sessions_total"`
	SessionsCompleted int        `json:"sessions_completed"`
	CompletedCases    int        `json:"completed_cases"`
	TotalCases        int        `json:"total_cases"`
	ProgressPercent   float64    `json:"progress_percent"`
	LastAccessedAt    *time.Time `json:"last_accessed_at"`
}

// GroupProgress rolls up the readers of one crossover group.
type GroupProgress struct {
	Group             int     `json:"group"`
	Readers           int     `json:"readers"`
	SessionsTotal     int     `json:"sessions_total"`
	SessionsCompleted int     `json:"sessions_completed"`
	CompletedCases    int     `json:"completed_cases"`
	TotalCases        int     `json:"total_cases"`
	ProgressPercent   float64 `json:"progress_percent"`
}

// SessionOverview is a session line of the admin dashboard.
type SessionOverview struct {
	SessionSummary
	ReaderID   uint   `json:"reader_id"`
	ReaderCode string `json:"reader_code"`
	Group      int    `json:"group"`
}

// Dashboard is the admin overview of the whole study.
type Dashboard struct {
	TotalReaders           int                            `json:"total_readers"`
	ReadersStarted         int                            `json:"readers_started"`
	ReadersCompleted       int                            `json:"readers_completed"`
	TotalSessions          int                            `json:"total_sessions"`
	SessionsByStatus       map[entities.SessionStatus]int `json:"sessions_by_status"`
	OverallProgressPercent float64                        `json:"overall_progress_percent"`
	ConfigLocked           bool                           `json:"config_locked"`
	SessionsPerReader      int                            `json:"sessions_per_reader"`
	Readers                []ReaderProgress               `json:"readers"`
	Groups                 []GroupProgress                `json:"groups"`
	Sessions               []SessionOverview              `json:"sessions"`
	GeneratedAt            time.Time                      `json:"generated_at"`
}

const dashboardCacheKey = "admin_dashboard"

// Tracker computes dashboard rollups. Results are cached briefly; the
// dashboards tolerate being a refresh behind.
type Tracker struct {
	sessions repository.SessionRepository
	readers  repository.ReaderRepository
	config   *ConfigService
	cache    *cache.Cache
	now      func() time.Time
}

// NewTracker creates a Tracker caching the admin dashboard for ttl. A zero
// ttl disables caching.
func NewTracker(sessions repository.SessionRepository, readers repository.ReaderRepository, config *ConfigService, ttl time.Duration) *Tracker {
	t := &Tracker{
		sessions: sessions,
		readers:  readers,
		config:   config,
		now:      time.Now,
	}
	if ttl > 0 {
		t.cache = cache.New(ttl, 2*ttl)
	}
	return t
}

// Invalidate drops the cached dashboard.
func (t *Tracker) Invalidate() {
	if t.cache != nil {
		t.cache.Delete(dashboardCacheKey)
	}
}

// Dashboard returns the admin overview.
func (t *Tracker) Dashboard(ctx context.Context, actor auth.Identity) (*Dashboard, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	if t.cache != nil {
		if cached, ok := t.cache.Get(dashboardCacheKey); ok {
			return cached.(*Dashboard), nil
		}
	}

	var (
		readers  []entities.Reader
		sessions []entities.StudySession
		cfg      *entities.StudyConfig
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		readers, err = t.readers.List(gctx, repository.ReaderFilter{Role: entities.RoleReader})
		if err != nil {
			return storageError("list readers", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		sessions, err = t.sessions.ListAll(gctx)
		if err != nil {
			return storageError("list sessions", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		cfg, err = t.config.Current(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	d := buildDashboard(readers, sessions, cfg)
	d.GeneratedAt = t.now().UTC()
	if t.cache != nil {
		t.cache.Set(dashboardCacheKey, d, cache.DefaultExpiration)
	}
	return d, nil
}

// buildDashboard aggregates readers and sessions. A reader counts as
// completed once every configured session code is completed.
func buildDashboard(readers []entities.Reader, sessions []entities.StudySession, cfg *entities.StudyConfig) *Dashboard {
	d := &Dashboard{
		TotalReaders:      len(readers),
		TotalSessions:     len(sessions),
		SessionsByStatus:  map[entities.SessionStatus]int{},
		ConfigLocked:      cfg.IsLocked,
		SessionsPerReader: cfg.TotalSessions,
		Readers:           make([]ReaderProgress, 0, len(readers)),
		Sessions:          make([]SessionOverview, 0, len(sessions)),
	}
	for _, status := range []entities.SessionStatus{entities.SessionPending, entities.SessionInProgress, entities.SessionCompleted} {
		d.SessionsByStatus[status] = 0
	}

	byReader := make(map[uint]*ReaderProgress, len(readers))
	for i := range readers {
		r := &readers[i]
		d.Readers = append(d.Readers, ReaderProgress{
			ReaderID:   r.ID,
			ReaderCode: r.ReaderCode,
			Name:       r.Name,
			Group:      r.GroupNumber,
			IsActive:   r.IsActive,
		})
	}
	for i := range d.Readers {
		byReader[d.Readers[i].ReaderID] = &d.Readers[i]
	}

	var done, total int
	for i := range sessions {
		s := &sessions[i]
		sum := summarize(s)
		d.SessionsByStatus[s.Status]++
		done += sum.CompletedCases
		total += sum.TotalCases

		overview := SessionOverview{SessionSummary: sum, ReaderID: s.ReaderID, Group: s.GroupNumber}
		if rp, ok := byReader[s.ReaderID]; ok {
			overview.ReaderCode = rp.ReaderCode
			rp.SessionsTotal++
			rp.CompletedCases += sum.CompletedCases
			rp.TotalCases += sum.TotalCases
			if s.Status == entities.SessionCompleted {
				rp.SessionsCompleted++
			}
			if sum.LastAccessedAt != nil && (rp.LastAccessedAt == nil || sum.LastAccessedAt.After(*rp.LastAccessedAt)) {
				rp.LastAccessedAt = sum.LastAccessedAt
			}
		}
		d.Sessions = append(d.Sessions, overview)
	}
	d.OverallProgressPercent = percent(done, total)

	groups := map[int]*GroupProgress{}
	for i := range d.Readers {
		rp := &d.Readers[i]
		rp.ProgressPercent = percent(rp.CompletedCases, rp.TotalCases)
		if rp.CompletedCases > 0 {
			d.ReadersStarted++
		}
		if cfg.TotalSessions > 0 && rp.SessionsCompleted >= cfg.TotalSessions {
			d.ReadersCompleted++
		}
		if rp.Group == nil {
			continue
		}
		gp, ok := groups[*rp.Group]
		if !ok {
			gp = &GroupProgress{Group: *rp.Group}
			groups[*rp.Group] = gp
		}
		gp.Readers++
		gp.SessionsTotal += rp.SessionsTotal
		gp.SessionsCompleted += rp.SessionsCompleted
		gp.CompletedCases += rp.CompletedCases
		gp.TotalCases += rp.TotalCases
	}

	d.Groups = make([]GroupProgress, 0, len(groups))
	for _, gp := range groups {
		gp.ProgressPercent = percent(gp.CompletedCases, gp.TotalCases)
		d.Groups = append(d.Groups, *gp)
	}
	slices.SortFunc(d.Groups, func(a, b GroupProgress) int { return a.Group - b.Group })

	return d
}
