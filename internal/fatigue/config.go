// internal/fatigue/config.go
package fatigue

import (
	"errors"
	"math"
)

var (
	// ErrInvalidAlpha indicates the EWMA alpha must be in (0, 1]
	ErrInvalidAlpha = errors.New("ewma alpha must be greater than 0.0 and at most 1.0")
	// ErrInvalidLookback indicates lookback windows must be positive
	ErrInvalidLookback = errors.New("lookback windows must be positive")
	// ErrInvalidHistoryWindow indicates the history window must cover the slope and spectral lookbacks
	ErrInvalidHistoryWindow = errors.New("history window must be at least as long as every lookback")
	// ErrInvalidNoiseThreshold indicates the noise threshold must be non-negative
	ErrInvalidNoiseThreshold = errors.New("noise threshold must be non-negative")
	// ErrInvalidThreshold indicates a slope or curvature threshold is not finite or has the wrong sign
	ErrInvalidThreshold = errors.New("slope thresholds must be finite (rise > 0, fall < 0, plateau/curvature >= 0)")
	// ErrInvalidDuration indicates minimum durations must be non-negative
	ErrInvalidDuration = errors.New("minimum durations must be non-negative")
)

// Fixed per-state confidence reported on StateEvent. These are not derived
// from signal quality.
const (
	RiseConfidence    = 0.75
	PlateauConfidence = 0.70
	FallConfidence    = 0.80
)

// minSlopeSpan is the smallest time span (seconds) used as a slope denominator.
const minSlopeSpan = 0.001

// Config holds the detector thresholds and durations.
// All durations are in seconds, slopes in percent-per-second.
type Config struct {
	// EWMAAlpha is the smoothing factor for the amplitude (from config: ewma_alpha)
	EWMAAlpha float64
	// SlopeLookbackSec is how far back the slope reference point lies (from config: slope_lookback_sec)
	SlopeLookbackSec float64
	// CurvatureLookbackSec bounds the age of the previous slope used for curvature (from config: curvature_lookback_sec)
	CurvatureLookbackSec float64
	// SpectralLookbackSec is the lookback for the spectral slope (from config: spectral_lookback_sec)
	SpectralLookbackSec float64
	// HistoryWindowSec is how much history is retained (from config: history_window_sec)
	HistoryWindowSec float64
	// NoiseThreshold gates both the per-tick slope and the whole-window range (from config: noise_threshold)
	NoiseThreshold float64

	// RiseSlopeThreshold is the minimum effective slope of a Rise (from config: rise_slope_threshold)
	RiseSlopeThreshold float64
	// RiseMinDurationSec is how long the Rise condition must hold (from config: rise_min_duration_sec)
	RiseMinDurationSec float64
	// PlateauSlopeThreshold bounds |effective slope| on a Plateau (from config: plateau_slope_threshold)
	PlateauSlopeThreshold float64
	// PlateauCurvatureThreshold bounds |curvature| on a Plateau (from config: plateau_curvature_threshold)
	PlateauCurvatureThreshold float64
	// PlateauMinDurationSec is how long the Plateau condition must hold (from config: plateau_min_duration_sec)
	PlateauMinDurationSec float64
	// FallSlopeThreshold is the maximum effective slope of a Fall (from config: fall_slope_threshold)
	FallSlopeThreshold float64
	// FallMinDurationSec is how long the Fall condition must hold (from config: fall_min_duration_sec)
	FallMinDurationSec float64

	// MDFFallSlopeThreshold is the spectral slope a Fall must be confirmed by (from config: mdf_fall_slope_threshold)
	MDFFallSlopeThreshold float64
	// RequireMDFConfirmation withholds Fall until the spectral slope confirms it (from config: require_mdf_confirmation)
	RequireMDFConfirmation bool
}

// DefaultConfig returns the reference configuration.
func DefaultConfig() Config {
	return Config{
		EWMAAlpha:                 0.25,
		SlopeLookbackSec:          3,
		CurvatureLookbackSec:      6,
		SpectralLookbackSec:       8,
		HistoryWindowSec:          12,
		NoiseThreshold:            0.07,
		RiseSlopeThreshold:        1.0,
		RiseMinDurationSec:        3,
		PlateauSlopeThreshold:     0.25,
		PlateauCurvatureThreshold: 0.15,
		PlateauMinDurationSec:     6,
		FallSlopeThreshold:        -0.8,
		FallMinDurationSec:        3,
		MDFFallSlopeThreshold:     -0.5,
		RequireMDFConfirmation:    true,
	}
}

// Validate checks the configuration and returns the first violation found.
func (c Config) Validate() error {
	if !finite(c.EWMAAlpha) || c.EWMAAlpha <= 0 || c.EWMAAlpha > 1 {
		return ErrInvalidAlpha
	}
	for _, v := range []float64{c.SlopeLookbackSec, c.CurvatureLookbackSec, c.SpectralLookbackSec} {
		if !finite(v) || v <= 0 {
			return ErrInvalidLookback
		}
	}
	if !finite(c.HistoryWindowSec) || c.HistoryWindowSec < c.SlopeLookbackSec || c.HistoryWindowSec < c.SpectralLookbackSec {
		return ErrInvalidHistoryWindow
	}
	if !finite(c.NoiseThreshold) || c.NoiseThreshold < 0 {
		return ErrInvalidNoiseThreshold
	}
	if !finite(c.RiseSlopeThreshold) || c.RiseSlopeThreshold <= 0 ||
		!finite(c.FallSlopeThreshold) || c.FallSlopeThreshold >= 0 ||
		!finite(c.PlateauSlopeThreshold) || c.PlateauSlopeThreshold < 0 ||
		!finite(c.PlateauCurvatureThreshold) || c.PlateauCurvatureThreshold < 0 ||
		!finite(c.MDFFallSlopeThreshold) {
		return ErrInvalidThreshold
	}
	for _, v := range []float64{c.RiseMinDurationSec, c.PlateauMinDurationSec, c.FallMinDurationSec} {
		if !finite(v) || v < 0 {
			return ErrInvalidDuration
		}
	}
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
