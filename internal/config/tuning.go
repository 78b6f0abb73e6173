package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
// This is the single source of truth for all default tuning values.
const DefaultConfigPath = "config/tuning.defaults.json"

// TuningConfig represents the root configuration for tuning parameters.
// The schema matches the /api/gaze/params endpoint so the same JSON
// can be used for both startup configuration and runtime updates.
type TuningConfig struct {
	// Fixation detection params
	FixationWindowMS       *int     `json:"fixation_window_ms,omitempty"`
	DispersionThresholdDeg *float64 `json:"dispersion_threshold_deg,omitempty"`
	MinFixationMS          *int     `json:"min_fixation_ms,omitempty"`
	ConfidenceThreshold    *float64 `json:"confidence_threshold,omitempty"`

	// Stream cadence params
	SamplingRateHz *int `json:"sampling_rate_hz,omitempty"`
	SnapshotRateHz *int `json:"snapshot_rate_hz,omitempty"`

	// Feedback rule params
	FeedbackRateLimitMS *int `json:"feedback_rate_limit_ms,omitempty"`
	VocabThresholdMS    *int `json:"vocab_threshold_ms,omitempty"`
	GrammarThresholdMS  *int `json:"grammar_threshold_ms,omitempty"`
	HintThresholdMS     *int `json:"hint_threshold_ms,omitempty"`

	// Screen geometry params
	ScreenWidthPx   *int     `json:"screen_width_px,omitempty"`
	ScreenHeightPx  *int     `json:"screen_height_px,omitempty"`
	PixelsPerDegree *float64 `json:"pixels_per_degree,omitempty"`

	// Pipeline params
	SampleQueueDepth *int    `json:"sample_queue_depth,omitempty"`
	PersistBatchSize *int    `json:"persist_batch_size,omitempty"`
	PersistBatchMS   *int    `json:"persist_batch_ms,omitempty"`
	StopGrace        *string `json:"stop_grace,omitempty"` // duration string like "2s"
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
// The Get* accessors fall back to hardcoded defaults for nil fields.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// DefaultTuningConfig returns a TuningConfig with every field populated
// with its default value. Useful for serializing the full schema, e.g.
// when answering a params query.
func DefaultTuningConfig() *TuningConfig {
	return &TuningConfig{
		FixationWindowMS:       ptrInt(100),
		DispersionThresholdDeg: ptrFloat64(1.0),
		MinFixationMS:          ptrInt(200),
		ConfidenceThreshold:    ptrFloat64(0.8),
		SamplingRateHz:         ptrInt(120),
		SnapshotRateHz:         ptrInt(20),
		FeedbackRateLimitMS:    ptrInt(5000),
		VocabThresholdMS:       ptrInt(1500),
		GrammarThresholdMS:     ptrInt(2000),
		HintThresholdMS:        ptrInt(3000),
		ScreenWidthPx:          ptrInt(1920),
		ScreenHeightPx:         ptrInt(1080),
		PixelsPerDegree:        ptrFloat64(30.0),
		SampleQueueDepth:       ptrInt(256),
		PersistBatchSize:       ptrInt(10),
		PersistBatchMS:         ptrInt(100),
		StopGrace:              ptrString("2s"),
	}
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the max file size.
// Fields omitted from the JSON file retain their default values, so
// partial configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	// Validate the config file path.
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Parse JSON into empty config. The Get* methods provide fallback
	// defaults for any fields not specified in the JSON.
	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	// Validate the configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that the configuration values are valid.
func (c *TuningConfig) Validate() error {
	if c.ConfidenceThreshold != nil {
		if *c.ConfidenceThreshold < 0 || *c.ConfidenceThreshold > 1 {
			return fmt.Errorf("confidence_threshold must be between 0 and 1, got %f", *c.ConfidenceThreshold)
		}
	}

	if c.DispersionThresholdDeg != nil && *c.DispersionThresholdDeg <= 0 {
		return fmt.Errorf("dispersion_threshold_deg must be positive, got %f", *c.DispersionThresholdDeg)
	}

	if c.PixelsPerDegree != nil && *c.PixelsPerDegree <= 0 {
		return fmt.Errorf("pixels_per_degree must be positive, got %f", *c.PixelsPerDegree)
	}

	if c.SamplingRateHz != nil && *c.SamplingRateHz <= 0 {
		return fmt.Errorf("sampling_rate_hz must be positive, got %d", *c.SamplingRateHz)
	}

	if c.SnapshotRateHz != nil && *c.SnapshotRateHz <= 0 {
		return fmt.Errorf("snapshot_rate_hz must be positive, got %d", *c.SnapshotRateHz)
	}

	if c.ScreenWidthPx != nil && *c.ScreenWidthPx <= 0 {
		return fmt.Errorf("screen_width_px must be positive, got %d", *c.ScreenWidthPx)
	}

	if c.ScreenHeightPx != nil && *c.ScreenHeightPx <= 0 {
		return fmt.Errorf("screen_height_px must be positive, got %d", *c.ScreenHeightPx)
	}

	if c.SampleQueueDepth != nil && *c.SampleQueueDepth <= 0 {
		return fmt.Errorf("sample_queue_depth must be positive, got %d", *c.SampleQueueDepth)
	}

	if c.PersistBatchSize != nil && *c.PersistBatchSize <= 0 {
		return fmt.Errorf("persist_batch_size must be positive, got %d", *c.PersistBatchSize)
	}

	// Validate the millisecond fields are non-negative if set
	msFields := map[string]*int{
		"fixation_window_ms":     c.FixationWindowMS,
		"min_fixation_ms":        c.MinFixationMS,
		"feedback_rate_limit_ms": c.FeedbackRateLimitMS,
		"vocab_threshold_ms":     c.VocabThresholdMS,
		"grammar_threshold_ms":   c.GrammarThresholdMS,
		"hint_threshold_ms":      c.HintThresholdMS,
		"persist_batch_ms":       c.PersistBatchMS,
	}
	for name, v := range msFields {
		if v != nil && *v < 0 {
			return fmt.Errorf("%s must be non-negative, got %d", name, *v)
		}
	}

	// Validate StopGrace can be parsed if set
	if c.StopGrace != nil && *c.StopGrace != "" {
		if _, err := time.ParseDuration(*c.StopGrace); err != nil {
			return fmt.Errorf("invalid stop_grace '%s': %w", *c.StopGrace, err)
		}
	}

	return nil
}

// GetFixationWindowMS returns the fixation_window_ms value or the default.
func (c *TuningConfig) GetFixationWindowMS() int {
	if c.FixationWindowMS == nil {
		return 100 // default
	}
	return *c.FixationWindowMS
}

// GetDispersionThresholdDeg returns the dispersion_threshold_deg value or the default.
func (c *TuningConfig) GetDispersionThresholdDeg() float64 {
	if c.DispersionThresholdDeg == nil {
		return 1.0
	}
	return *c.DispersionThresholdDeg
}

// GetMinFixationMS returns the min_fixation_ms value or the default.
func (c *TuningConfig) GetMinFixationMS() int {
	if c.MinFixationMS == nil {
		return 200
	}
	return *c.MinFixationMS
}

// GetConfidenceThreshold returns the confidence_threshold value or the default.
func (c *TuningConfig) GetConfidenceThreshold() float64 {
	if c.ConfidenceThreshold == nil {
		return 0.8
	}
	return *c.ConfidenceThreshold
}

// GetSamplingRateHz returns the sampling_rate_hz value or the default.
func (c *TuningConfig) GetSamplingRateHz() int {
	if c.SamplingRateHz == nil {
		return 120
	}
	return *c.SamplingRateHz
}

// GetSnapshotRateHz returns the snapshot_rate_hz value or the default.
func (c *TuningConfig) GetSnapshotRateHz() int {
	if c.SnapshotRateHz == nil {
		return 20
	}
	return *c.SnapshotRateHz
}

// GetSnapshotInterval derives the broadcast period from snapshot_rate_hz.
func (c *TuningConfig) GetSnapshotInterval() time.Duration {
	hz := c.GetSnapshotRateHz()
	if hz <= 0 {
		hz = 20
	}
	return time.Second / time.Duration(hz)
}

// GetFeedbackRateLimitMS returns the feedback_rate_limit_ms value or the default.
func (c *TuningConfig) GetFeedbackRateLimitMS() int {
	if c.FeedbackRateLimitMS == nil {
		return 5000
	}
	return *c.FeedbackRateLimitMS
}

// GetVocabThresholdMS returns the vocab_threshold_ms value or the default.
func (c *TuningConfig) GetVocabThresholdMS() int {
	if c.VocabThresholdMS == nil {
		return 1500
	}
	return *c.VocabThresholdMS
}

// GetGrammarThresholdMS returns the grammar_threshold_ms value or the default.
func (c *TuningConfig) GetGrammarThresholdMS() int {
	if c.GrammarThresholdMS == nil {
		return 2000
	}
	return *c.GrammarThresholdMS
}

// GetHintThresholdMS returns the hint_threshold_ms value or the default.
func (c *TuningConfig) GetHintThresholdMS() int {
	if c.HintThresholdMS == nil {
		return 3000
	}
	return *c.HintThresholdMS
}

// GetScreenWidthPx returns the screen_width_px value or the default.
func (c *TuningConfig) GetScreenWidthPx() int {
	if c.ScreenWidthPx == nil {
		return 1920
	}
	return *c.ScreenWidthPx
}

// GetScreenHeightPx returns the screen_height_px value or the default.
func (c *TuningConfig) GetScreenHeightPx() int {
	if c.ScreenHeightPx == nil {
		return 1080
	}
	return *c.ScreenHeightPx
}

// GetPixelsPerDegree returns the pixels_per_degree value or the default.
func (c *TuningConfig) GetPixelsPerDegree() float64 {
	if c.PixelsPerDegree == nil {
		return 30.0
	}
	return *c.PixelsPerDegree
}

// GetSampleQueueDepth returns the sample_queue_depth value or the default.
func (c *TuningConfig) GetSampleQueueDepth() int {
	if c.SampleQueueDepth == nil {
		return 256
	}
	return *c.SampleQueueDepth
}

// GetPersistBatchSize returns the persist_batch_size value or the default.
func (c *TuningConfig) GetPersistBatchSize() int {
	if c.PersistBatchSize == nil {
		return 10
	}
	return *c.PersistBatchSize
}

// GetPersistBatchMS returns the persist_batch_ms value or the default.
func (c *TuningConfig) GetPersistBatchMS() int {
	if c.PersistBatchMS == nil {
		return 100
	}
	return *c.PersistBatchMS
}

// GetPersistBatchInterval returns the persistence flush period as a time.Duration.
func (c *TuningConfig) GetPersistBatchInterval() time.Duration {
	return time.Duration(c.GetPersistBatchMS()) * time.Millisecond
}

// GetStopGrace parses and returns the StopGrace drain window as a time.Duration.
func (c *TuningConfig) GetStopGrace() time.Duration {
	if c.StopGrace == nil || *c.StopGrace == "" {
		return 2 * time.Second // default
	}
	d, err := time.ParseDuration(*c.StopGrace)
	if err != nil {
		return 2 * time.Second // default on parse error
	}
	return d
}
