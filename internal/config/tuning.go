// Package config holds the tuning parameters for the context engine.
//
// Every threshold in this file is an empirically tuned constant carried over
// from field traces. None of them have a documented derivation; treat the
// defaults as a starting point for recalibration, not as optimal values. A
// JSON file can override any subset of them, and omitted fields keep their
// defaults via the Get* accessors.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// TuningConfig is the root tuning schema. All fields are pointers so a
// partial JSON override leaves the remaining defaults untouched.
type TuningConfig struct {
	// History buffers
	GPSBufferSize      *int    `json:"gps_buffer_size,omitempty"`
	GPSBufferWindow    *string `json:"gps_buffer_window,omitempty"` // duration string like "10m"
	MotionBufferSize   *int    `json:"motion_buffer_size,omitempty"`
	MotionBufferWindow *string `json:"motion_buffer_window,omitempty"`
	PressureBufferSize *int    `json:"pressure_buffer_size,omitempty"`
	PressureWindow     *string `json:"pressure_buffer_window,omitempty"`

	// GPS quality
	ExcellentAccuracyM  *float64 `json:"excellent_accuracy_m,omitempty"`
	SustainedGPSWindow  *string  `json:"sustained_gps_window,omitempty"`
	SustainedGPSSamples *int     `json:"sustained_gps_samples,omitempty"`

	// Polygon occupancy
	PolygonExitMinMovementM *float64 `json:"polygon_exit_min_movement_m,omitempty"`
	OccupancyBoostAfter     *string  `json:"occupancy_boost_after,omitempty"`

	// Vehicle analyzer
	VehicleConfidenceThreshold *float64 `json:"vehicle_confidence_threshold,omitempty"`
	VehiclePersistWindow       *string  `json:"vehicle_persist_window,omitempty"`
	VehiclePersistHalfLife     *string  `json:"vehicle_persist_half_life,omitempty"`
	VehiclePersistFloor        *float64 `json:"vehicle_persist_floor,omitempty"`
	ParkingSpeedMPS            *float64 `json:"parking_speed_mps,omitempty"`
	AutomotiveRatioStrong      *float64 `json:"automotive_ratio_strong,omitempty"`
	AutomotiveRatioWeak        *float64 `json:"automotive_ratio_weak,omitempty"`
	StopAndGoSpeedStdDev       *float64 `json:"stop_and_go_speed_stddev,omitempty"`

	// Anomaly suppressors
	DriftMinSamples        *int     `json:"drift_min_samples,omitempty"`
	DriftMinOscillations   *int     `json:"drift_min_oscillations,omitempty"`
	DriftMinMovementM      *float64 `json:"drift_min_movement_m,omitempty"`
	DriftConfidence        *float64 `json:"drift_confidence,omitempty"`
	TunnelGoodAccuracyM    *float64 `json:"tunnel_good_accuracy_m,omitempty"`
	TunnelPoorAccuracyM    *float64 `json:"tunnel_poor_accuracy_m,omitempty"`
	TunnelRecoveryM        *float64 `json:"tunnel_recovery_m,omitempty"`
	TunnelRecoverySamples  *int     `json:"tunnel_recovery_samples,omitempty"`
	TunnelMinSpeedMPS      *float64 `json:"tunnel_min_speed_mps,omitempty"`
	TunnelTimeout          *string  `json:"tunnel_timeout,omitempty"`

	// Classifier
	NearWindowVetoDistanceM *float64 `json:"near_window_veto_distance_m,omitempty"`
	NearWindowVetoAfter     *string  `json:"near_window_veto_after,omitempty"`
	AccuracyPenaltyStartM   *float64 `json:"accuracy_penalty_start_m,omitempty"`
	PressureDescentM        *float64 `json:"pressure_descent_m,omitempty"`
	PressureAgreeBonus      *float64 `json:"pressure_agree_bonus,omitempty"`
	VehiclePreemptThreshold *float64 `json:"vehicle_preempt_threshold,omitempty"`
	BuildingClearM          *float64 `json:"building_clear_m,omitempty"`

	// Temporal voter
	VoteWindow           *string  `json:"vote_window,omitempty"`
	VoteFastPathLength   *int     `json:"vote_fast_path_length,omitempty"`
	VoteFastPathMinConf  *float64 `json:"vote_fast_path_min_conf,omitempty"`
	VoteBaseHalfLife     *string  `json:"vote_base_half_life,omitempty"`
	VoteDecisiveMargin   *float64 `json:"vote_decisive_margin,omitempty"`
	VoteMaxStreakBonus   *float64 `json:"vote_max_streak_bonus,omitempty"`
	VotePolygonFreshness *string  `json:"vote_polygon_freshness,omitempty"`

	// Mode lock
	LockMinConfidence     *float64 `json:"lock_min_confidence,omitempty"`
	LockMinSamples        *int     `json:"lock_min_samples,omitempty"`
	LockWindow            *string  `json:"lock_window,omitempty"`
	LockMinSources        *int     `json:"lock_min_sources,omitempty"`
	LockNearBuildingM     *float64 `json:"lock_near_building_m,omitempty"`
	LockReleaseConfidence *float64 `json:"lock_release_confidence,omitempty"`
	LockMaxAge            *string  `json:"lock_max_age,omitempty"`

	// Tracking gate
	OutdoorStartConfidence *float64 `json:"outdoor_start_confidence,omitempty"`
	OutdoorGraceConfidence *float64 `json:"outdoor_grace_confidence,omitempty"`
	StartupGracePeriod     *string  `json:"startup_grace_period,omitempty"`
	OutdoorStopConfidence  *float64 `json:"outdoor_stop_confidence,omitempty"`
	StationaryStopAfter    *string  `json:"stationary_stop_after,omitempty"`
	FastPathGPSDuration    *string  `json:"fast_path_gps_duration,omitempty"`
	UnknownHoldDebounce    *string  `json:"unknown_hold_debounce,omitempty"`
	WalkAwayWindow         *string  `json:"walk_away_window,omitempty"`

	// Pipeline
	SampleStaleAfter *string `json:"sample_stale_after,omitempty"`
	OracleTimeout    *string `json:"oracle_timeout,omitempty"`
}

// EmptyTuningConfig returns a TuningConfig with all fields unset, meaning
// every accessor reports its default.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// LoadTuningConfig loads a TuningConfig from a JSON file. Fields omitted from
// the file retain their defaults, so partial configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that any set fields carry usable values.
func (c *TuningConfig) Validate() error {
	confidences := map[string]*float64{
		"vehicle_confidence_threshold": c.VehicleConfidenceThreshold,
		"vehicle_persist_floor":        c.VehiclePersistFloor,
		"automotive_ratio_strong":      c.AutomotiveRatioStrong,
		"automotive_ratio_weak":        c.AutomotiveRatioWeak,
		"drift_confidence":             c.DriftConfidence,
		"pressure_agree_bonus":         c.PressureAgreeBonus,
		"vehicle_preempt_threshold":    c.VehiclePreemptThreshold,
		"vote_fast_path_min_conf":      c.VoteFastPathMinConf,
		"vote_max_streak_bonus":        c.VoteMaxStreakBonus,
		"lock_min_confidence":          c.LockMinConfidence,
		"lock_release_confidence":      c.LockReleaseConfidence,
		"outdoor_start_confidence":     c.OutdoorStartConfidence,
		"outdoor_grace_confidence":     c.OutdoorGraceConfidence,
		"outdoor_stop_confidence":      c.OutdoorStopConfidence,
	}
	for name, v := range confidences {
		if v != nil && (*v < 0 || *v > 1) {
			return fmt.Errorf("%s must be between 0 and 1, got %f", name, *v)
		}
	}

	durations := map[string]*string{
		"gps_buffer_window":         c.GPSBufferWindow,
		"motion_buffer_window":      c.MotionBufferWindow,
		"pressure_buffer_window":    c.PressureWindow,
		"sustained_gps_window":      c.SustainedGPSWindow,
		"occupancy_boost_after":     c.OccupancyBoostAfter,
		"vehicle_persist_window":    c.VehiclePersistWindow,
		"vehicle_persist_half_life": c.VehiclePersistHalfLife,
		"tunnel_timeout":            c.TunnelTimeout,
		"near_window_veto_after":    c.NearWindowVetoAfter,
		"vote_window":               c.VoteWindow,
		"vote_base_half_life":       c.VoteBaseHalfLife,
		"vote_polygon_freshness":    c.VotePolygonFreshness,
		"lock_window":               c.LockWindow,
		"lock_max_age":              c.LockMaxAge,
		"startup_grace_period":      c.StartupGracePeriod,
		"stationary_stop_after":     c.StationaryStopAfter,
		"fast_path_gps_duration":    c.FastPathGPSDuration,
		"unknown_hold_debounce":     c.UnknownHoldDebounce,
		"walk_away_window":          c.WalkAwayWindow,
		"sample_stale_after":        c.SampleStaleAfter,
		"oracle_timeout":            c.OracleTimeout,
	}
	for name, v := range durations {
		if v != nil && *v != "" {
			if _, err := time.ParseDuration(*v); err != nil {
				return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
			}
		}
	}

	counts := map[string]*int{
		"gps_buffer_size":         c.GPSBufferSize,
		"motion_buffer_size":      c.MotionBufferSize,
		"pressure_buffer_size":    c.PressureBufferSize,
		"sustained_gps_samples":   c.SustainedGPSSamples,
		"drift_min_samples":       c.DriftMinSamples,
		"drift_min_oscillations":  c.DriftMinOscillations,
		"tunnel_recovery_samples": c.TunnelRecoverySamples,
		"vote_fast_path_length":   c.VoteFastPathLength,
		"lock_min_samples":        c.LockMinSamples,
		"lock_min_sources":        c.LockMinSources,
	}
	for name, v := range counts {
		if v != nil && *v < 1 {
			return fmt.Errorf("%s must be positive, got %d", name, *v)
		}
	}

	if c.VoteDecisiveMargin != nil && *c.VoteDecisiveMargin < 1 {
		return fmt.Errorf("vote_decisive_margin must be at least 1, got %f", *c.VoteDecisiveMargin)
	}

	return nil
}

func (c *TuningConfig) duration(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return def
	}
	return d
}

func intOr(v *int, def int) int {
	if v == nil {
		return def
	}
	return *v
}

func floatOr(v *float64, def float64) float64 {
	if v == nil {
		return def
	}
	return *v
}

// History buffers.

func (c *TuningConfig) GetGPSBufferSize() int      { return intOr(c.GPSBufferSize, 60) }
func (c *TuningConfig) GetMotionBufferSize() int   { return intOr(c.MotionBufferSize, 120) }
func (c *TuningConfig) GetPressureBufferSize() int { return intOr(c.PressureBufferSize, 60) }

func (c *TuningConfig) GetGPSBufferWindow() time.Duration {
	return c.duration(c.GPSBufferWindow, 10*time.Minute)
}

func (c *TuningConfig) GetMotionBufferWindow() time.Duration {
	return c.duration(c.MotionBufferWindow, 5*time.Minute)
}

func (c *TuningConfig) GetPressureWindow() time.Duration {
	return c.duration(c.PressureWindow, 10*time.Minute)
}

// GPS quality.

// GetExcellentAccuracyM is the horizontal accuracy below which a fix counts
// as excellent for the sustained-GPS fast path.
func (c *TuningConfig) GetExcellentAccuracyM() float64 { return floatOr(c.ExcellentAccuracyM, 12) }

func (c *TuningConfig) GetSustainedGPSWindow() time.Duration {
	return c.duration(c.SustainedGPSWindow, time.Minute)
}

func (c *TuningConfig) GetSustainedGPSSamples() int { return intOr(c.SustainedGPSSamples, 3) }

// Polygon occupancy.

// GetPolygonExitMinMovementM is the cumulative movement required since a
// polygon entry before an exit is accepted. Below this, an apparent exit is
// GPS jitter.
func (c *TuningConfig) GetPolygonExitMinMovementM() float64 {
	return floatOr(c.PolygonExitMinMovementM, 10)
}

func (c *TuningConfig) GetOccupancyBoostAfter() time.Duration {
	return c.duration(c.OccupancyBoostAfter, 30*time.Second)
}

// Vehicle analyzer.

// GetVehicleConfidenceThreshold is the verdict threshold, deliberately equal
// to the vehicle lock activation threshold so there is no confidence band in
// which the analyzer says vehicle but the lock does not engage.
func (c *TuningConfig) GetVehicleConfidenceThreshold() float64 {
	return floatOr(c.VehicleConfidenceThreshold, 0.85)
}

func (c *TuningConfig) GetVehiclePersistWindow() time.Duration {
	return c.duration(c.VehiclePersistWindow, 5*time.Minute)
}

func (c *TuningConfig) GetVehiclePersistHalfLife() time.Duration {
	return c.duration(c.VehiclePersistHalfLife, 10*time.Minute)
}

func (c *TuningConfig) GetVehiclePersistFloor() float64 { return floatOr(c.VehiclePersistFloor, 0.85) }

func (c *TuningConfig) GetParkingSpeedMPS() float64 { return floatOr(c.ParkingSpeedMPS, 0.5) }

func (c *TuningConfig) GetAutomotiveRatioStrong() float64 {
	return floatOr(c.AutomotiveRatioStrong, 0.5)
}

func (c *TuningConfig) GetAutomotiveRatioWeak() float64 { return floatOr(c.AutomotiveRatioWeak, 0.3) }

func (c *TuningConfig) GetStopAndGoSpeedStdDev() float64 {
	return floatOr(c.StopAndGoSpeedStdDev, 4.0)
}

// Anomaly suppressors.

func (c *TuningConfig) GetDriftMinSamples() int      { return intOr(c.DriftMinSamples, 6) }
func (c *TuningConfig) GetDriftMinOscillations() int { return intOr(c.DriftMinOscillations, 3) }
func (c *TuningConfig) GetDriftMinMovementM() float64 {
	return floatOr(c.DriftMinMovementM, 8)
}
func (c *TuningConfig) GetDriftConfidence() float64 { return floatOr(c.DriftConfidence, 0.60) }

func (c *TuningConfig) GetTunnelGoodAccuracyM() float64 { return floatOr(c.TunnelGoodAccuracyM, 40) }
func (c *TuningConfig) GetTunnelPoorAccuracyM() float64 { return floatOr(c.TunnelPoorAccuracyM, 100) }
func (c *TuningConfig) GetTunnelRecoveryM() float64     { return floatOr(c.TunnelRecoveryM, 50) }
func (c *TuningConfig) GetTunnelRecoverySamples() int   { return intOr(c.TunnelRecoverySamples, 3) }
func (c *TuningConfig) GetTunnelMinSpeedMPS() float64   { return floatOr(c.TunnelMinSpeedMPS, 5) }

func (c *TuningConfig) GetTunnelTimeout() time.Duration {
	return c.duration(c.TunnelTimeout, 10*time.Minute)
}

// Classifier.

// GetNearWindowVetoDistanceM is the building distance inside which a
// long-stationary subject with outdoor-looking GPS is reclassified Inside.
// A desk by a window produces excellent accuracy readings.
func (c *TuningConfig) GetNearWindowVetoDistanceM() float64 {
	return floatOr(c.NearWindowVetoDistanceM, 10)
}

func (c *TuningConfig) GetNearWindowVetoAfter() time.Duration {
	return c.duration(c.NearWindowVetoAfter, 2*time.Minute)
}

func (c *TuningConfig) GetAccuracyPenaltyStartM() float64 {
	return floatOr(c.AccuracyPenaltyStartM, 30)
}

// GetPressureDescentM is the relative-altitude drop that signals an
// underground transition.
func (c *TuningConfig) GetPressureDescentM() float64 { return floatOr(c.PressureDescentM, 1.5) }

func (c *TuningConfig) GetPressureAgreeBonus() float64 { return floatOr(c.PressureAgreeBonus, 0.10) }

func (c *TuningConfig) GetVehiclePreemptThreshold() float64 {
	return floatOr(c.VehiclePreemptThreshold, 0.80)
}

// GetBuildingClearM is the building distance beyond which a subject is
// clearly outside, and the outdoor lock may start.
func (c *TuningConfig) GetBuildingClearM() float64 { return floatOr(c.BuildingClearM, 40) }

// Temporal voter.

func (c *TuningConfig) GetVoteWindow() time.Duration {
	return c.duration(c.VoteWindow, 3*time.Minute)
}

func (c *TuningConfig) GetVoteFastPathLength() int { return intOr(c.VoteFastPathLength, 3) }

func (c *TuningConfig) GetVoteFastPathMinConf() float64 {
	return floatOr(c.VoteFastPathMinConf, 0.70)
}

func (c *TuningConfig) GetVoteBaseHalfLife() time.Duration {
	return c.duration(c.VoteBaseHalfLife, 45*time.Second)
}

// GetVoteDecisiveMargin is the factor by which the winning mode's vote must
// exceed the runner-up before the vote counts.
func (c *TuningConfig) GetVoteDecisiveMargin() float64 { return floatOr(c.VoteDecisiveMargin, 2.5) }

func (c *TuningConfig) GetVoteMaxStreakBonus() float64 { return floatOr(c.VoteMaxStreakBonus, 0.20) }

func (c *TuningConfig) GetVotePolygonFreshness() time.Duration {
	return c.duration(c.VotePolygonFreshness, 15*time.Second)
}

// Mode lock.

func (c *TuningConfig) GetLockMinConfidence() float64 { return floatOr(c.LockMinConfidence, 0.75) }
func (c *TuningConfig) GetLockMinSamples() int        { return intOr(c.LockMinSamples, 8) }

func (c *TuningConfig) GetLockWindow() time.Duration {
	return c.duration(c.LockWindow, 5*time.Minute)
}

func (c *TuningConfig) GetLockMinSources() int { return intOr(c.LockMinSources, 2) }

func (c *TuningConfig) GetLockNearBuildingM() float64 { return floatOr(c.LockNearBuildingM, 30) }

func (c *TuningConfig) GetLockReleaseConfidence() float64 {
	return floatOr(c.LockReleaseConfidence, 0.85)
}

func (c *TuningConfig) GetLockMaxAge() time.Duration {
	return c.duration(c.LockMaxAge, 10*time.Minute)
}

// Tracking gate.

func (c *TuningConfig) GetOutdoorStartConfidence() float64 {
	return floatOr(c.OutdoorStartConfidence, 0.85)
}

func (c *TuningConfig) GetOutdoorGraceConfidence() float64 {
	return floatOr(c.OutdoorGraceConfidence, 0.92)
}

func (c *TuningConfig) GetStartupGracePeriod() time.Duration {
	return c.duration(c.StartupGracePeriod, 10*time.Minute)
}

func (c *TuningConfig) GetOutdoorStopConfidence() float64 {
	return floatOr(c.OutdoorStopConfidence, 0.70)
}

func (c *TuningConfig) GetStationaryStopAfter() time.Duration {
	return c.duration(c.StationaryStopAfter, 3*time.Minute)
}

func (c *TuningConfig) GetFastPathGPSDuration() time.Duration {
	return c.duration(c.FastPathGPSDuration, 45*time.Second)
}

func (c *TuningConfig) GetUnknownHoldDebounce() time.Duration {
	return c.duration(c.UnknownHoldDebounce, 45*time.Second)
}

func (c *TuningConfig) GetWalkAwayWindow() time.Duration {
	return c.duration(c.WalkAwayWindow, time.Minute)
}

// Pipeline.

func (c *TuningConfig) GetSampleStaleAfter() time.Duration {
	return c.duration(c.SampleStaleAfter, 90*time.Second)
}

func (c *TuningConfig) GetOracleTimeout() time.Duration {
	return c.duration(c.OracleTimeout, 2*time.Second)
}
