// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"

	"github.com/ColonelBlimp/fatiguedetector/internal/fatigue"
)

const (
	AppName       = "fatiguedetector"
	ConfigType    = "yaml"
	DefaultConfig = `# Fatigue Detector Configuration

# Smoothing and derivatives
ewma_alpha: 0.25                  # EWMA smoothing factor (0.0-1.0], higher = less smoothing
slope_lookback_sec: 3             # Slope reference point lies this far back
curvature_lookback_sec: 6         # Previous slope older than this is not used for curvature
spectral_lookback_sec: 8          # Lookback for the spectral (median frequency) slope
history_window_sec: 12            # Retained history; the noise guard looks at this whole window
noise_threshold: 0.07             # Smoothed changes below this are treated as jitter

# Rise (activation increasing)
rise_slope_threshold: 1.0         # %/s
rise_min_duration_sec: 3

# Plateau (activation stable)
plateau_slope_threshold: 0.25     # |%/s|
plateau_curvature_threshold: 0.15 # |%/s^2|
plateau_min_duration_sec: 6

# Fall (fatigue)
fall_slope_threshold: -0.8        # %/s
fall_min_duration_sec: 3
mdf_fall_slope_threshold: -0.5    # spectral slope that confirms a fall, %/s
require_mdf_confirmation: true    # withhold fall until the spectral slope confirms it

# Transport
nats_url: "nats://127.0.0.1:4222"
sample_subject: "fatigue.samples"
state_subject: "fatigue.state"
debug_subject: "fatigue.debug"
control_subject: "fatigue.control"
publish_debug: false              # publish per-sample debug frames to debug_subject
listen_addr: ":8080"              # websocket hub (empty to disable)

# Output
log_format: "text"                # text or json
debug: false                      # enable debug logging
`
)

// Settings holds all application configuration
type Settings struct {
	// Smoothing and derivatives
	EWMAAlpha            float64 `mapstructure:"ewma_alpha"`
	SlopeLookbackSec     float64 `mapstructure:"slope_lookback_sec"`
	CurvatureLookbackSec float64 `mapstructure:"curvature_lookback_sec"`
	SpectralLookbackSec  float64 `mapstructure:"spectral_lookback_sec"`
	HistoryWindowSec     float64 `mapstructure:"history_window_sec"`
	NoiseThreshold       float64 `mapstructure:"noise_threshold"`

	// Candidate conditions
	RiseSlopeThreshold        float64 `mapstructure:"rise_slope_threshold"`
	RiseMinDurationSec        float64 `mapstructure:"rise_min_duration_sec"`
	PlateauSlopeThreshold     float64 `mapstructure:"plateau_slope_threshold"`
	PlateauCurvatureThreshold float64 `mapstructure:"plateau_curvature_threshold"`
	PlateauMinDurationSec     float64 `mapstructure:"plateau_min_duration_sec"`
	FallSlopeThreshold        float64 `mapstructure:"fall_slope_threshold"`
	FallMinDurationSec        float64 `mapstructure:"fall_min_duration_sec"`
	MDFFallSlopeThreshold     float64 `mapstructure:"mdf_fall_slope_threshold"`
	RequireMDFConfirmation    bool    `mapstructure:"require_mdf_confirmation"`

	// Transport
	NATSURL        string `mapstructure:"nats_url"`
	SampleSubject  string `mapstructure:"sample_subject"`
	StateSubject   string `mapstructure:"state_subject"`
	DebugSubject   string `mapstructure:"debug_subject"`
	ControlSubject string `mapstructure:"control_subject"`
	PublishDebug   bool   `mapstructure:"publish_debug"`
	ListenAddr     string `mapstructure:"listen_addr"`

	// Output
	LogFormat string `mapstructure:"log_format"`
	Debug     bool   `mapstructure:"debug"`
}

// Init initializes Viper with defaults and config file.
// Config file search order: current directory, then ~/.config/fatiguedetector/
func Init() error {
	def := fatigue.DefaultConfig()
	viper.SetDefault("ewma_alpha", def.EWMAAlpha)
	viper.SetDefault("slope_lookback_sec", def.SlopeLookbackSec)
	viper.SetDefault("curvature_lookback_sec", def.CurvatureLookbackSec)
	viper.SetDefault("spectral_lookback_sec", def.SpectralLookbackSec)
	viper.SetDefault("history_window_sec", def.HistoryWindowSec)
	viper.SetDefault("noise_threshold", def.NoiseThreshold)
	viper.SetDefault("rise_slope_threshold", def.RiseSlopeThreshold)
	viper.SetDefault("rise_min_duration_sec", def.RiseMinDurationSec)
	viper.SetDefault("plateau_slope_threshold", def.PlateauSlopeThreshold)
	viper.SetDefault("plateau_curvature_threshold", def.PlateauCurvatureThreshold)
	viper.SetDefault("plateau_min_duration_sec", def.PlateauMinDurationSec)
	viper.SetDefault("fall_slope_threshold", def.FallSlopeThreshold)
	viper.SetDefault("fall_min_duration_sec", def.FallMinDurationSec)
	viper.SetDefault("mdf_fall_slope_threshold", def.MDFFallSlopeThreshold)
	viper.SetDefault("require_mdf_confirmation", def.RequireMDFConfirmation)
	viper.SetDefault("nats_url", "nats://127.0.0.1:4222")
	viper.SetDefault("sample_subject", "fatigue.samples")
	viper.SetDefault("state_subject", "fatigue.state")
	viper.SetDefault("debug_subject", "fatigue.debug")
	viper.SetDefault("control_subject", "fatigue.control")
	viper.SetDefault("publish_debug", false)
	viper.SetDefault("listen_addr", ":8080")
	viper.SetDefault("log_format", "text")
	viper.SetDefault("debug", false)

	// Support both config.yaml and .config.yaml
	viper.SetConfigType(ConfigType)

	// Priority order: current directory first, then XDG config
	viper.AddConfigPath(".")

	configDir, err := os.UserConfigDir()
	if err != nil {
		configDir = filepath.Join(os.Getenv("HOME"), ".config")
	}
	viper.AddConfigPath(filepath.Join(configDir, AppName))

	viper.SetConfigName(".config")
	if err = viper.ReadInConfig(); err != nil {
		viper.SetConfigName("config")
		err = viper.ReadInConfig()
	}

	// Read config file - if not found, create default in XDG config dir
	if err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if errors.As(err, &configFileNotFoundError) {
			xdgConfigPath := filepath.Join(configDir, AppName)
			if err = ensureConfigExists(xdgConfigPath); err != nil {
				return err
			}
			if err = viper.ReadInConfig(); err != nil {
				return fmt.Errorf("read config: %w", err)
			}
		} else {
			return fmt.Errorf("read config: %w", err)
		}
	}

	return nil
}

func ensureConfigExists(configPath string) error {
	configFile := filepath.Join(configPath, "config.yaml")

	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		if err = os.MkdirAll(configPath, 0755); err != nil {
			return fmt.Errorf("create config dir: %w", err)
		}
		if err = os.WriteFile(configFile, []byte(DefaultConfig), 0644); err != nil {
			return fmt.Errorf("write default config: %w", err)
		}
	}
	return nil
}

// Get returns the current settings
func Get() (*Settings, error) {
	var s Settings
	if err := viper.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &s, nil
}

// Detector converts the settings into a detector configuration.
func (s *Settings) Detector() fatigue.Config {
	return fatigue.Config{
		EWMAAlpha:                 s.EWMAAlpha,
		SlopeLookbackSec:          s.SlopeLookbackSec,
		CurvatureLookbackSec:      s.CurvatureLookbackSec,
		SpectralLookbackSec:       s.SpectralLookbackSec,
		HistoryWindowSec:          s.HistoryWindowSec,
		NoiseThreshold:            s.NoiseThreshold,
		RiseSlopeThreshold:        s.RiseSlopeThreshold,
		RiseMinDurationSec:        s.RiseMinDurationSec,
		PlateauSlopeThreshold:     s.PlateauSlopeThreshold,
		PlateauCurvatureThreshold: s.PlateauCurvatureThreshold,
		PlateauMinDurationSec:     s.PlateauMinDurationSec,
		FallSlopeThreshold:        s.FallSlopeThreshold,
		FallMinDurationSec:        s.FallMinDurationSec,
		MDFFallSlopeThreshold:     s.MDFFallSlopeThreshold,
		RequireMDFConfirmation:    s.RequireMDFConfirmation,
	}
}

// Validate checks that all settings are within acceptable ranges
func (s *Settings) Validate() error {
	var errs []error

	// Smoothing and derivatives
	if s.EWMAAlpha <= 0 || s.EWMAAlpha > 1 {
		errs = append(errs, fmt.Errorf("ewma_alpha must be greater than 0.0 and at most 1.0, got %v", s.EWMAAlpha))
	}
	if s.SlopeLookbackSec <= 0 || s.SlopeLookbackSec > 60 {
		errs = append(errs, fmt.Errorf("slope_lookback_sec must be between 0 and 60, got %v", s.SlopeLookbackSec))
	}
	if s.CurvatureLookbackSec <= 0 || s.CurvatureLookbackSec > 60 {
		errs = append(errs, fmt.Errorf("curvature_lookback_sec must be between 0 and 60, got %v", s.CurvatureLookbackSec))
	}
	if s.SpectralLookbackSec <= 0 || s.SpectralLookbackSec > 60 {
		errs = append(errs, fmt.Errorf("spectral_lookback_sec must be between 0 and 60, got %v", s.SpectralLookbackSec))
	}
	if s.HistoryWindowSec < s.SlopeLookbackSec || s.HistoryWindowSec < s.SpectralLookbackSec || s.HistoryWindowSec > 600 {
		errs = append(errs, fmt.Errorf("history_window_sec must cover slope and spectral lookbacks and be at most 600, got %v", s.HistoryWindowSec))
	}
	if s.NoiseThreshold < 0 {
		errs = append(errs, fmt.Errorf("noise_threshold must be non-negative, got %v", s.NoiseThreshold))
	}

	// Candidate conditions
	if s.RiseSlopeThreshold <= 0 {
		errs = append(errs, fmt.Errorf("rise_slope_threshold must be positive, got %v", s.RiseSlopeThreshold))
	}
	if s.FallSlopeThreshold >= 0 {
		errs = append(errs, fmt.Errorf("fall_slope_threshold must be negative, got %v", s.FallSlopeThreshold))
	}
	if s.PlateauSlopeThreshold < 0 {
		errs = append(errs, fmt.Errorf("plateau_slope_threshold must be non-negative, got %v", s.PlateauSlopeThreshold))
	}
	if s.PlateauCurvatureThreshold < 0 {
		errs = append(errs, fmt.Errorf("plateau_curvature_threshold must be non-negative, got %v", s.PlateauCurvatureThreshold))
	}
	if s.RiseMinDurationSec < 0 || s.PlateauMinDurationSec < 0 || s.FallMinDurationSec < 0 {
		errs = append(errs, fmt.Errorf("minimum durations must be non-negative, got rise=%v plateau=%v fall=%v",
			s.RiseMinDurationSec, s.PlateauMinDurationSec, s.FallMinDurationSec))
	}

	// Transport
	if s.SampleSubject == "" || s.StateSubject == "" || s.ControlSubject == "" {
		errs = append(errs, errors.New("sample_subject, state_subject and control_subject must not be empty"))
	}
	if s.PublishDebug && s.DebugSubject == "" {
		errs = append(errs, errors.New("debug_subject must not be empty when publish_debug is enabled"))
	}

	if s.LogFormat != "text" && s.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("log_format must be text or json, got %q", s.LogFormat))
	}

	// Catch anything the detector itself would reject (NaN, Inf)
	if len(errs) == 0 {
		if err := s.Detector().Validate(); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
