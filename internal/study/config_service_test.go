package study

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/readerstudy/internal/audit"
	"github.com/tphakala/readerstudy/internal/conf"
	"github.com/tphakala/readerstudy/internal/errors"
)

func TestConfigService_BootstrapIsOneTime(t *testing.T) {
	env := newTestEnv(t, Shuffle)
	ctx := context.Background()

	changed := testStudySettings()
	changed.Name = "Renamed"
	changed.KMax = 7
	cfg, err := env.config.Bootstrap(ctx, changed)
	require.NoError(t, err)
	assert.Equal(t, "Test Study", cfg.StudyName, "existing row wins over settings")
	assert.Equal(t, 3, cfg.KMax)
	assert.Equal(t, BlocksPerSession, cfg.TotalBlocks)

	alloc, err := env.config.Allocation(ctx)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"c1", "c2", "c3"}, {"c4", "c5", "c6"}}, alloc.Blocks)
}

func TestConfigService_BootstrapScansDataset(t *testing.T) {
	posDir := t.TempDir()
	negDir := t.TempDir()
	for _, name := range []string{
		"p01_20240101_baseline_0000.nii.gz",
		"p01_20240601_followup_0000.nii.gz",
		"p02_20240101_baseline_0000.nii.gz",
		"p02_20240601_followup_0000.nii.gz",
	} {
		require.NoError(t, os.WriteFile(filepath.Join(posDir, name), nil, 0o600))
	}
	for _, name := range []string{
		"n01_20240101_baseline.nii.gz",
		"n01_20240601_followup.nii.gz",
		"n02_20240101_baseline.nii.gz", // no follow-up
	} {
		require.NoError(t, os.WriteFile(filepath.Join(negDir, name), nil, 0o600))
	}

	env := newTestEnv(t, Shuffle, func(s *conf.StudySettings) {
		s.Cases = conf.CaseSettings{}
		s.Dataset = conf.DatasetSettings{PositiveDir: posDir, NegativeDir: negDir}
	})

	cfg, err := env.config.Current(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"pos_p01", "pos_p02"}, []string(cfg.PositiveCases))
	assert.Equal(t, []string{"n01"}, []string(cfg.NegativeCases))
}

func TestConfigService_BootstrapRejectsOverlappingPools(t *testing.T) {
	env := newTestEnv(t, Shuffle)

	settings := testStudySettings()
	settings.Cases.Negative = append(settings.Cases.Negative, "c2")
	_, err := env.config.Bootstrap(context.Background(), settings)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
}

func TestConfigService_UpdateAndLock(t *testing.T) {
	env := newTestEnv(t, Shuffle)
	ctx := context.Background()
	reader := env.addReader(t, "R001", 1)

	name := "Renamed Study"
	_, err := env.config.Update(ctx, reader, &ConfigUpdate{StudyName: &name})
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryAuthorization))

	bad := 1.5
	_, err = env.config.Update(ctx, env.admin, &ConfigUpdate{AIThreshold: &bad})
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))

	tooFew := []string{"only"}
	empty := []string{}
	_, err = env.config.Update(ctx, env.admin, &ConfigUpdate{PositiveCases: &tooFew, NegativeCases: &empty})
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))

	overlapPos := []string{"a", "b", "d"}
	overlapNeg := []string{"a", "c", "e"}
	_, err = env.config.Update(ctx, env.admin, &ConfigUpdate{PositiveCases: &overlapPos, NegativeCases: &overlapNeg})
	require.Error(t, err, "a case cannot be both positive and negative")
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))

	kmax := 5
	cfg, err := env.config.Update(ctx, env.admin, &ConfigUpdate{StudyName: &name, KMax: &kmax})
	require.NoError(t, err)
	assert.Equal(t, name, cfg.StudyName)
	assert.Equal(t, 5, cfg.KMax)
	assert.Equal(t, audit.ActionConfigUpdated, env.sink.last().Action)

	cfg, err = env.config.Lock(ctx, env.admin)
	require.NoError(t, err)
	assert.True(t, cfg.IsLocked)
	require.NotNil(t, cfg.LockedBy)
	assert.Equal(t, env.admin.ReaderID, *cfg.LockedBy)
	assert.Equal(t, 1, env.sink.count(audit.ActionConfigManualLocked))

	_, err = env.config.Lock(ctx, env.admin)
	require.NoError(t, err)
	assert.Equal(t, 1, env.sink.count(audit.ActionConfigManualLocked), "second lock is a no-op")

	groups := 3
	_, err = env.config.Update(ctx, env.admin, &ConfigUpdate{TotalGroups: &groups})
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConflict))

	desc := "still editable"
	cfg, err = env.config.Update(ctx, env.admin, &ConfigUpdate{StudyDescription: &desc})
	require.NoError(t, err)
	assert.Equal(t, desc, cfg.StudyDescription)
}
