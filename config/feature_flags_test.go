package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFeatureFlags_DefaultsEnabled(t *testing.T) {
	ff := LoadFeatureFlags()

	assert.True(t, ff.IsEnabled(FeatureChallengeRecovery, ""))
	assert.True(t, ff.IsEnabled(FeatureForgivenessTokens, "user-1"))
	assert.False(t, ff.IsEnabled("unknown.flag", "user-1"))
}

func TestFeatureFlags_EnvOverride(t *testing.T) {
	t.Setenv("FEATURE_CHALLENGE_RECOVERY", "false")
	t.Setenv("FEATURE_PROGRESSION_CACHE", "50")

	ff := LoadFeatureFlags()

	assert.False(t, ff.IsEnabled(FeatureChallengeRecovery, "user-1"))

	// A 50% rollout is never globally on.
	assert.False(t, ff.IsEnabled(FeatureProgressionCache, ""))
}

func TestFeatureFlags_RolloutBucketsAreStable(t *testing.T) {
	ff := LoadFeatureFlags()
	require.NoError(t, ff.SetRolloutPercent(FeatureProgressionCache, 50))

	first := ff.IsEnabled(FeatureProgressionCache, "user-42")
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, ff.IsEnabled(FeatureProgressionCache, "user-42"))
	}
}

func TestFeatureFlags_UserOverrideWins(t *testing.T) {
	ff := LoadFeatureFlags()
	require.NoError(t, ff.DisableFeature(FeatureChallengeStandings))

	ff.SetUserOverride("user-1", FeatureChallengeStandings, true)
	assert.True(t, ff.IsEnabled(FeatureChallengeStandings, "user-1"))
	assert.False(t, ff.IsEnabled(FeatureChallengeStandings, "user-2"))

	ff.ClearUserOverrides("user-1")
	assert.False(t, ff.IsEnabled(FeatureChallengeStandings, "user-1"))
}

func TestFeatureFlags_SetRolloutPercentValidation(t *testing.T) {
	ff := LoadFeatureFlags()

	assert.ErrorIs(t, ff.SetRolloutPercent("unknown.flag", 10), ErrFeatureNotFound)
	assert.ErrorIs(t, ff.SetRolloutPercent(FeatureProgressionCache, 101), ErrInvalidRolloutPercent)
}
