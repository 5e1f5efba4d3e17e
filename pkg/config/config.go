// Package config holds the tunable constants of the governance engine.
// Every trigger threshold and penalty knob is named here so operators can
// tune policy without touching control flow.
package config

import (
	"os"
	"strconv"
)

// Config holds engine configuration.
type Config struct {
	// Trigger thresholds.
	ErrorRateThreshold            float64 `yaml:"error_rate_threshold"`
	TimeoutFrequencyThreshold     float64 `yaml:"timeout_frequency_threshold"`
	CollaborationFailureThreshold float64 `yaml:"collaboration_failure_threshold"`
	QualityDropFraction           float64 `yaml:"quality_drop_fraction"`
	ResourceAbuseCeiling          float64 `yaml:"resource_abuse_ceiling"`

	// Evaluation guards.
	MinSampleCount    int     `yaml:"min_sample_count"`
	OutlierZThreshold float64 `yaml:"outlier_z_threshold"`

	// Throttle sizing and penalty scaling.
	ThrottleCapacity   int     `yaml:"throttle_capacity"`
	ThrottleRefillRate float64 `yaml:"throttle_refill_rate"` // tokens/second
	MultiplierStep     float64 `yaml:"multiplier_step"`      // refill reduction per severity step
	MultiplierFloor    float64 `yaml:"multiplier_floor"`

	// Resource floor no penalty may starve an agent below.
	MinResourceAllocation float64 `yaml:"min_resource_allocation"`

	// Remediation.
	RemediationLevel int     `yaml:"remediation_level"` // penalty level that mandates retraining
	GraduationScore  float64 `yaml:"graduation_score"`

	// Sweeper pacing: metric fetches per second across the fleet.
	SweepFetchRate  float64 `yaml:"sweep_fetch_rate"`
	SweepFetchBurst int     `yaml:"sweep_fetch_burst"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() *Config {
	return &Config{
		ErrorRateThreshold:            0.10,
		TimeoutFrequencyThreshold:     0.20,
		CollaborationFailureThreshold: 0.30,
		QualityDropFraction:           0.20,
		ResourceAbuseCeiling:          1.5,
		MinSampleCount:                10,
		OutlierZThreshold:             2.5,
		ThrottleCapacity:              100,
		ThrottleRefillRate:            10,
		MultiplierStep:                0.1,
		MultiplierFloor:               0.1,
		MinResourceAllocation:         0.1,
		RemediationLevel:              5,
		GraduationScore:               0.85,
		SweepFetchRate:                20,
		SweepFetchBurst:               5,
	}
}

// FromEnv returns defaults overridden by AEGIS_* environment variables.
func FromEnv() *Config {
	c := DefaultConfig()
	envFloat("AEGIS_ERROR_RATE_THRESHOLD", &c.ErrorRateThreshold)
	envFloat("AEGIS_TIMEOUT_THRESHOLD", &c.TimeoutFrequencyThreshold)
	envFloat("AEGIS_COLLAB_FAILURE_THRESHOLD", &c.CollaborationFailureThreshold)
	envFloat("AEGIS_QUALITY_DROP_FRACTION", &c.QualityDropFraction)
	envFloat("AEGIS_RESOURCE_ABUSE_CEILING", &c.ResourceAbuseCeiling)
	envInt("AEGIS_MIN_SAMPLE_COUNT", &c.MinSampleCount)
	envInt("AEGIS_THROTTLE_CAPACITY", &c.ThrottleCapacity)
	envFloat("AEGIS_THROTTLE_REFILL_RATE", &c.ThrottleRefillRate)
	envFloat("AEGIS_MULTIPLIER_FLOOR", &c.MultiplierFloor)
	envFloat("AEGIS_GRADUATION_SCORE", &c.GraduationScore)
	return c
}

func envFloat(key string, dst *float64) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}
