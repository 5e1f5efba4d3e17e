package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	c := DefaultConfig()
	assert.Equal(t, 0.10, c.ErrorRateThreshold)
	assert.Equal(t, 0.20, c.TimeoutFrequencyThreshold)
	assert.Equal(t, 0.30, c.CollaborationFailureThreshold)
	assert.Equal(t, 10, c.MinSampleCount)
	assert.Equal(t, 0.85, c.GraduationScore)
	assert.Equal(t, 5, c.RemediationLevel)
	assert.Greater(t, c.MultiplierFloor, 0.0)
	assert.LessOrEqual(t, c.MultiplierFloor, 1.0)
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("AEGIS_ERROR_RATE_THRESHOLD", "0.25")
	t.Setenv("AEGIS_MIN_SAMPLE_COUNT", "50")
	t.Setenv("AEGIS_GRADUATION_SCORE", "not-a-number") // ignored

	c := FromEnv()
	assert.Equal(t, 0.25, c.ErrorRateThreshold)
	assert.Equal(t, 50, c.MinSampleCount)
	assert.Equal(t, 0.85, c.GraduationScore)
}

func TestLoadProfile(t *testing.T) {
	dir := t.TempDir()
	content := []byte(`
name: Strict Production
code: strict
config:
  error_rate_threshold: 0.05
  min_sample_count: 25
`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "profile_strict.yaml"), content, 0o644))

	p, err := LoadProfile(dir, "STRICT")
	require.NoError(t, err)
	assert.Equal(t, "Strict Production", p.Name)
	assert.Equal(t, "strict", p.Code)
	assert.Equal(t, 0.05, p.Config.ErrorRateThreshold)
	assert.Equal(t, 25, p.Config.MinSampleCount)
	// Unset fields keep defaults.
	assert.Equal(t, 0.20, p.Config.TimeoutFrequencyThreshold)
}

func TestLoadProfile_Missing(t *testing.T) {
	_, err := LoadProfile(t.TempDir(), "nope")
	assert.Error(t, err)
}

func TestLoadAllProfiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "profile_a.yaml"), []byte("name: A"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "profile_b.yaml"), []byte("name: B\ncode: b"), 0o644))

	profiles, err := LoadAllProfiles(dir)
	require.NoError(t, err)
	assert.Len(t, profiles, 2)
	assert.Equal(t, "A", profiles["a"].Name)
	assert.Equal(t, "B", profiles["b"].Name)
}
