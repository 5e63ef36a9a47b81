package study

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"gorm.io/datatypes"

	"github.com/tphakala/readerstudy/internal/audit"
	"github.com/tphakala/readerstudy/internal/auth"
	"github.com/tphakala/readerstudy/internal/catalog"
	"github.com/tphakala/readerstudy/internal/conf"
	"github.com/tphakala/readerstudy/internal/datastore/entities"
	"github.com/tphakala/readerstudy/internal/datastore/repository"
	"github.com/tphakala/readerstudy/internal/errors"
	"github.com/tphakala/readerstudy/internal/logger"
)

// BlocksPerSession is fixed by the two-condition crossover.
const BlocksPerSession = 2

// ConfigUpdate carries the fields an admin may change. Nil fields are kept.
type ConfigUpdate struct {
	StudyName            *string   `json:"study_name" validate:"omitempty,min=1,max=200"`
	StudyDescription     *string   `json:"study_description"`
	AIThreshold          *float64  `json:"ai_threshold" validate:"omitempty,gte=0,lte=1"`
	AutoAssign           *bool     `json:"auto_assign"`
	TotalSessions        *int      `json:"total_sessions" validate:"omitempty,gte=1,lte=16"`
	TotalGroups          *int      `json:"total_groups" validate:"omitempty,gte=1,lte=16"`
	KMax                 *int      `json:"k_max" validate:"omitempty,gte=1,lte=10"`
	RequireLesionMarking *bool     `json:"require_lesion_marking"`
	PositiveCases        *[]string `json:"positive_cases"`
	NegativeCases        *[]string `json:"negative_cases"`
}

// touchesDesign reports whether u changes a field frozen by the lock.
func (u *ConfigUpdate) touchesDesign() bool {
	return u.TotalSessions != nil || u.TotalGroups != nil || u.KMax != nil ||
		u.RequireLesionMarking != nil || u.PositiveCases != nil || u.NegativeCases != nil
}

// ConfigService owns the singleton study configuration.
type ConfigService struct {
	repo     repository.ConfigRepository
	audit    audit.Sink
	log      logger.Logger
	validate *validator.Validate
	now      func() time.Time
}

// NewConfigService creates a ConfigService. log may be nil.
func NewConfigService(repo repository.ConfigRepository, sink audit.Sink, log logger.Logger) *ConfigService {
	return &ConfigService{
		repo:     repo,
		audit:    sink,
		log:      log,
		validate: newValidator(),
		now:      time.Now,
	}
}

// Bootstrap seeds the configuration row from settings on first start. Cases
// found in the dataset folders are added to the configured case lists. An
// existing row is returned unchanged.
func (s *ConfigService) Bootstrap(ctx context.Context, settings *conf.StudySettings) (*entities.StudyConfig, error) {
	positive := append([]string(nil), settings.Cases.Positive...)
	negative := append([]string(nil), settings.Cases.Negative...)

	if settings.Dataset.PositiveDir != "" || settings.Dataset.NegativeDir != "" {
		dataset, err := catalog.ScanDataset(settings.Dataset.PositiveDir, settings.Dataset.NegativeDir)
		if err != nil {
			return nil, err
		}
		scannedPos, scannedNeg := dataset.IDs()
		positive = append(positive, scannedPos...)
		negative = append(negative, scannedNeg...)
	}
	if err := catalog.CheckDisjoint(positive, negative); err != nil {
		return nil, err
	}

	seed := &entities.StudyConfig{
		ID:                   entities.StudyConfigID,
		StudyName:            settings.Name,
		StudyDescription:     settings.Description,
		TotalSessions:        settings.TotalSessions,
		TotalBlocks:          BlocksPerSession,
		TotalGroups:          settings.TotalGroups,
		KMax:                 settings.KMax,
		AIThreshold:          settings.AIThreshold,
		RequireLesionMarking: settings.RequireLesionMarking,
		AutoAssign:           settings.AutoAssign,
		PositiveCases:        positive,
		NegativeCases:        negative,
	}

	cfg, err := s.repo.GetOrCreate(ctx, seed)
	if err != nil {
		return nil, storageError("failed to load study config", err)
	}

	if s.log != nil {
		s.log.Info("study config ready",
			logger.String("study_name", cfg.StudyName),
			logger.Int("total_groups", cfg.TotalGroups),
			logger.Int("total_sessions", cfg.TotalSessions),
			logger.Int("positive_cases", len(cfg.PositiveCases)),
			logger.Int("negative_cases", len(cfg.NegativeCases)),
			logger.Bool("locked", cfg.IsLocked))
	}
	return cfg, nil
}

// Current returns the stored configuration.
func (s *ConfigService) Current(ctx context.Context) (*entities.StudyConfig, error) {
	cfg, err := s.repo.Get(ctx)
	if err != nil {
		if errors.Is(err, repository.ErrConfigNotFound) {
			return nil, configError("study config has not been initialized")
		}
		return nil, storageError("failed to load study config", err)
	}
	return cfg, nil
}

// Allocation returns the block parts of the current case pool.
func (s *ConfigService) Allocation(ctx context.Context) (*catalog.Allocation, error) {
	cfg, err := s.Current(ctx)
	if err != nil {
		return nil, err
	}
	return catalog.Allocate(cfg.PositiveCases, cfg.NegativeCases, BlocksPerSession)
}

// Update applies an admin edit. Once the config is locked only the study
// name, description, AI threshold and auto-assign flag may change.
func (s *ConfigService) Update(ctx context.Context, actor auth.Identity, upd *ConfigUpdate) (*entities.StudyConfig, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	if err := s.validate.Struct(upd); err != nil {
		return nil, validationError(describeValidation(err), err)
	}

	cfg, err := s.Current(ctx)
	if err != nil {
		return nil, err
	}
	if cfg.IsLocked && upd.touchesDesign() {
		return nil, conflictError("study design is locked", map[string]any{"locked_at": cfg.LockedAt})
	}

	updates := map[string]any{}
	if upd.StudyName != nil {
		updates["study_name"] = *upd.StudyName
	}
	if upd.StudyDescription != nil {
		updates["study_description"] = *upd.StudyDescription
	}
	if upd.AIThreshold != nil {
		updates["ai_threshold"] = *upd.AIThreshold
	}
	if upd.AutoAssign != nil {
		updates["auto_assign"] = *upd.AutoAssign
	}
	if upd.TotalSessions != nil {
		updates["total_sessions"] = *upd.TotalSessions
	}
	if upd.TotalGroups != nil {
		updates["total_groups"] = *upd.TotalGroups
	}
	if upd.KMax != nil {
		updates["k_max"] = *upd.KMax
	}
	if upd.RequireLesionMarking != nil {
		updates["require_lesion_marking"] = *upd.RequireLesionMarking
	}
	if upd.PositiveCases != nil || upd.NegativeCases != nil {
		positive, negative := []string(cfg.PositiveCases), []string(cfg.NegativeCases)
		if upd.PositiveCases != nil {
			positive = *upd.PositiveCases
		}
		if upd.NegativeCases != nil {
			negative = *upd.NegativeCases
		}
		if _, err := catalog.Allocate(positive, negative, BlocksPerSession); err != nil {
			return nil, validationError(err.Error(), err)
		}
		if upd.PositiveCases != nil {
			updates["positive_cases"] = datatypes.JSONSlice[string](positive)
		}
		if upd.NegativeCases != nil {
			updates["negative_cases"] = datatypes.JSONSlice[string](negative)
		}
	}
	if len(updates) == 0 {
		return cfg, nil
	}

	if err := s.repo.Update(ctx, updates); err != nil {
		return nil, storageError("failed to update study config", err)
	}

	fields := make([]string, 0, len(updates))
	for k := range updates {
		fields = append(fields, k)
	}
	s.audit.Record(ctx, audit.Event{
		ReaderID:     actorID(actor),
		Action:       audit.ActionConfigUpdated,
		ResourceType: audit.ResourceConfig,
		ResourceID:   "study_config",
		Details:      map[string]any{"fields": fields},
	})

	return s.Current(ctx)
}

// Lock freezes the design fields. Locking an already locked config is a no-op.
func (s *ConfigService) Lock(ctx context.Context, actor auth.Identity) (*entities.StudyConfig, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	locked, err := s.repo.Lock(ctx, actorID(actor), s.now().UTC())
	if err != nil {
		return nil, storageError("failed to lock study config", err)
	}
	if locked {
		s.audit.Record(ctx, audit.Event{
			ReaderID:     actorID(actor),
			Action:       audit.ActionConfigManualLocked,
			ResourceType: audit.ResourceConfig,
			ResourceID:   "study_config",
		})
	}
	return s.Current(ctx)
}

// autoLock locks the config when the first session is created.
func (s *ConfigService) autoLock(ctx context.Context, readerID uint, sessionCode string) {
	locked, err := s.repo.Lock(ctx, nil, s.now().UTC())
	if err != nil {
		if s.log != nil {
			s.log.WithContext(ctx).Error("failed to auto-lock study config", logger.Error(err))
		}
		return
	}
	if !locked {
		return
	}
	s.audit.Record(ctx, audit.Event{
		ReaderID:     &readerID,
		Action:       audit.ActionConfigAutoLocked,
		ResourceType: audit.ResourceConfig,
		ResourceID:   "study_config",
		Details:      map[string]any{"trigger_session_code": sessionCode},
	})
	if s.log != nil {
		s.log.WithContext(ctx).Info("study config locked by first session",
			logger.Uint("reader_id", readerID),
			logger.String("session_code", sessionCode))
	}
}
