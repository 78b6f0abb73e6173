package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultTuningConfig(t *testing.T) {
	cfg := DefaultTuningConfig()

	// Test that defaults are set via pointers
	if cfg.FixationWindowMS == nil || *cfg.FixationWindowMS != 100 {
		t.Errorf("Expected FixationWindowMS 100, got %v", cfg.FixationWindowMS)
	}
	if cfg.DispersionThresholdDeg == nil || *cfg.DispersionThresholdDeg != 1.0 {
		t.Errorf("Expected DispersionThresholdDeg 1.0, got %v", cfg.DispersionThresholdDeg)
	}
	if cfg.MinFixationMS == nil || *cfg.MinFixationMS != 200 {
		t.Errorf("Expected MinFixationMS 200, got %v", cfg.MinFixationMS)
	}
	if cfg.ConfidenceThreshold == nil || *cfg.ConfidenceThreshold != 0.8 {
		t.Errorf("Expected ConfidenceThreshold 0.8, got %v", cfg.ConfidenceThreshold)
	}
	if cfg.StopGrace == nil || *cfg.StopGrace != "2s" {
		t.Errorf("Expected StopGrace '2s', got %v", cfg.StopGrace)
	}

	// Test getter methods
	if cfg.GetSamplingRateHz() != 120 {
		t.Errorf("GetSamplingRateHz() = %d, want 120", cfg.GetSamplingRateHz())
	}
	if cfg.GetSnapshotRateHz() != 20 {
		t.Errorf("GetSnapshotRateHz() = %d, want 20", cfg.GetSnapshotRateHz())
	}
	if cfg.GetScreenWidthPx() != 1920 || cfg.GetScreenHeightPx() != 1080 {
		t.Errorf("screen = %dx%d, want 1920x1080", cfg.GetScreenWidthPx(), cfg.GetScreenHeightPx())
	}
	if cfg.GetPixelsPerDegree() != 30.0 {
		t.Errorf("GetPixelsPerDegree() = %f, want 30.0", cfg.GetPixelsPerDegree())
	}
	if cfg.GetSampleQueueDepth() != 256 {
		t.Errorf("GetSampleQueueDepth() = %d, want 256", cfg.GetSampleQueueDepth())
	}
}

func TestEmptyConfigGetterDefaults(t *testing.T) {
	cfg := EmptyTuningConfig()

	if cfg.GetFixationWindowMS() != 100 {
		t.Errorf("GetFixationWindowMS() = %d, want 100", cfg.GetFixationWindowMS())
	}
	if cfg.GetMinFixationMS() != 200 {
		t.Errorf("GetMinFixationMS() = %d, want 200", cfg.GetMinFixationMS())
	}
	if cfg.GetConfidenceThreshold() != 0.8 {
		t.Errorf("GetConfidenceThreshold() = %f, want 0.8", cfg.GetConfidenceThreshold())
	}
	if cfg.GetFeedbackRateLimitMS() != 5000 {
		t.Errorf("GetFeedbackRateLimitMS() = %d, want 5000", cfg.GetFeedbackRateLimitMS())
	}
	if cfg.GetVocabThresholdMS() != 1500 {
		t.Errorf("GetVocabThresholdMS() = %d, want 1500", cfg.GetVocabThresholdMS())
	}
	if cfg.GetGrammarThresholdMS() != 2000 {
		t.Errorf("GetGrammarThresholdMS() = %d, want 2000", cfg.GetGrammarThresholdMS())
	}
	if cfg.GetHintThresholdMS() != 3000 {
		t.Errorf("GetHintThresholdMS() = %d, want 3000", cfg.GetHintThresholdMS())
	}
	if cfg.GetPersistBatchSize() != 10 {
		t.Errorf("GetPersistBatchSize() = %d, want 10", cfg.GetPersistBatchSize())
	}
	if cfg.GetPersistBatchInterval() != 100*time.Millisecond {
		t.Errorf("GetPersistBatchInterval() = %v, want 100ms", cfg.GetPersistBatchInterval())
	}
	if cfg.GetStopGrace() != 2*time.Second {
		t.Errorf("GetStopGrace() = %v, want 2s", cfg.GetStopGrace())
	}
	if cfg.GetSnapshotInterval() != 50*time.Millisecond {
		t.Errorf("GetSnapshotInterval() = %v, want 50ms", cfg.GetSnapshotInterval())
	}
}

func TestLoadTuningConfig(t *testing.T) {
	// Create temporary directory
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "test_config.json")

	// Write test config with flat schema
	testJSON := `{
  "fixation_window_ms": 150,
  "dispersion_threshold_deg": 1.5,
  "min_fixation_ms": 250,
  "confidence_threshold": 0.7,
  "snapshot_rate_hz": 10,
  "screen_width_px": 2560,
  "screen_height_px": 1440,
  "stop_grace": "3s"
}`
	if err := os.WriteFile(configPath, []byte(testJSON), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	// Load the config
	cfg, err := LoadTuningConfig(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	// Verify values
	if cfg.FixationWindowMS == nil || *cfg.FixationWindowMS != 150 {
		t.Errorf("Expected FixationWindowMS 150, got %v", cfg.FixationWindowMS)
	}
	if cfg.DispersionThresholdDeg == nil || *cfg.DispersionThresholdDeg != 1.5 {
		t.Errorf("Expected DispersionThresholdDeg 1.5, got %v", cfg.DispersionThresholdDeg)
	}
	if cfg.MinFixationMS == nil || *cfg.MinFixationMS != 250 {
		t.Errorf("Expected MinFixationMS 250, got %v", cfg.MinFixationMS)
	}
	if cfg.GetSnapshotRateHz() != 10 {
		t.Errorf("GetSnapshotRateHz() = %d, want 10", cfg.GetSnapshotRateHz())
	}
	if cfg.GetSnapshotInterval() != 100*time.Millisecond {
		t.Errorf("GetSnapshotInterval() = %v, want 100ms", cfg.GetSnapshotInterval())
	}
	if cfg.GetStopGrace() != 3*time.Second {
		t.Errorf("GetStopGrace() = %v, want 3s", cfg.GetStopGrace())
	}

	// Omitted fields fall back to defaults
	if cfg.GetSamplingRateHz() != 120 {
		t.Errorf("GetSamplingRateHz() = %d, want default 120", cfg.GetSamplingRateHz())
	}
	if cfg.GetPersistBatchSize() != 10 {
		t.Errorf("GetPersistBatchSize() = %d, want default 10", cfg.GetPersistBatchSize())
	}
}

func TestLoadTuningConfigMissing(t *testing.T) {
	_, err := LoadTuningConfig("/nonexistent/path/to/config.json")
	if err == nil {
		t.Error("Expected error when loading missing file, got nil")
	}
}

func TestLoadTuningConfigBadExtension(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte("{}"), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	_, err := LoadTuningConfig(configPath)
	if err == nil {
		t.Error("Expected error for non-json extension, got nil")
	}
}

func TestLoadTuningConfigInvalid(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "invalid_config.json")

	// Write invalid JSON
	invalidJSON := `{
  "confidence_threshold": "invalid"
`
	if err := os.WriteFile(configPath, []byte(invalidJSON), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	_, err := LoadTuningConfig(configPath)
	if err == nil {
		t.Error("Expected error when loading invalid JSON, got nil")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *TuningConfig
		wantErr bool
	}{
		{
			name:    "valid config",
			cfg:     DefaultTuningConfig(),
			wantErr: false,
		},
		{
			name:    "empty config is valid",
			cfg:     &TuningConfig{},
			wantErr: false,
		},
		{
			name: "invalid confidence threshold (too low)",
			cfg: &TuningConfig{
				ConfidenceThreshold: ptrFloat64(-0.1),
			},
			wantErr: true,
		},
		{
			name: "invalid confidence threshold (too high)",
			cfg: &TuningConfig{
				ConfidenceThreshold: ptrFloat64(1.5),
			},
			wantErr: true,
		},
		{
			name: "zero dispersion threshold",
			cfg: &TuningConfig{
				DispersionThresholdDeg: ptrFloat64(0),
			},
			wantErr: true,
		},
		{
			name: "negative pixels per degree",
			cfg: &TuningConfig{
				PixelsPerDegree: ptrFloat64(-30),
			},
			wantErr: true,
		},
		{
			name: "zero snapshot rate",
			cfg: &TuningConfig{
				SnapshotRateHz: ptrInt(0),
			},
			wantErr: true,
		},
		{
			name: "negative min fixation",
			cfg: &TuningConfig{
				MinFixationMS: ptrInt(-1),
			},
			wantErr: true,
		},
		{
			name: "zero queue depth",
			cfg: &TuningConfig{
				SampleQueueDepth: ptrInt(0),
			},
			wantErr: true,
		},
		{
			name: "invalid stop grace",
			cfg: &TuningConfig{
				StopGrace: ptrString("invalid"),
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestGetStopGrace(t *testing.T) {
	tests := []struct {
		name string
		cfg  *TuningConfig
		want time.Duration
	}{
		{
			name: "2 seconds",
			cfg: &TuningConfig{
				StopGrace: ptrString("2s"),
			},
			want: 2 * time.Second,
		},
		{
			name: "500 milliseconds",
			cfg: &TuningConfig{
				StopGrace: ptrString("500ms"),
			},
			want: 500 * time.Millisecond,
		},
		{
			name: "nil pointer returns default",
			cfg:  &TuningConfig{},
			want: 2 * time.Second,
		},
		{
			name: "empty string returns default",
			cfg: &TuningConfig{
				StopGrace: ptrString(""),
			},
			want: 2 * time.Second,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.GetStopGrace(); got != tt.want {
				t.Errorf("GetStopGrace() = %v, want %v", got, tt.want)
			}
		})
	}
}
