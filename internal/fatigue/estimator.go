// internal/fatigue/estimator.go
package fatigue

import "math"

// Derivatives is the estimator output for one sample.
type Derivatives struct {
	Smoothed float64
	// Slope is percent-per-second over the slope lookback (0 with insufficient history)
	Slope float64
	// EffectiveSlope is Slope after the noise gate
	EffectiveSlope float64
	Curvature      float64
	SpectralSlope  *float64
}

// Estimator computes the EWMA of the amplitude and the slope, curvature and
// spectral slope derived from it.
type Estimator struct {
	alpha             float64
	slopeLookback     float64
	curvatureLookback float64
	spectralLookback  float64
	noiseThreshold    float64

	// EWMA state
	smoothed float64
	seeded   bool

	// Slope history for curvature
	lastSlope     float64
	previousSlope float64
	lastSlopeT    float64
	slopeCount    int
}

// NewEstimator creates an estimator from the detector configuration.
func NewEstimator(cfg Config) *Estimator {
	return &Estimator{
		alpha:             cfg.EWMAAlpha,
		slopeLookback:     cfg.SlopeLookbackSec,
		curvatureLookback: cfg.CurvatureLookbackSec,
		spectralLookback:  cfg.SpectralLookbackSec,
		noiseThreshold:    cfg.NoiseThreshold,
	}
}

// Smooth folds a raw amplitude into the EWMA and returns the new value.
// The first value seeds the average directly.
func (e *Estimator) Smooth(raw float64) float64 {
	if !e.seeded {
		e.smoothed = raw
		e.seeded = true
		return raw
	}
	e.smoothed += e.alpha * (raw - e.smoothed)
	return e.smoothed
}

// Derive computes derivatives at time now. The newest point in h must be the
// sample just smoothed; dt is the time since the previous accepted sample.
func (e *Estimator) Derive(h *History, now, dt float64) Derivatives {
	latest, ok := h.Latest()
	if !ok {
		return Derivatives{}
	}
	d := Derivatives{Smoothed: latest.Smoothed}

	ref, ok := h.PointAtOrBefore(now - e.slopeLookback)
	if !ok || ref.T >= now {
		// Not enough history for a slope
		d.SpectralSlope = e.spectralSlope(h, latest)
		return d
	}

	delta := latest.Smoothed - ref.Smoothed
	d.Slope = delta / math.Max(now-ref.T, minSlopeSpan) * 100
	d.EffectiveSlope = d.Slope
	if math.Abs(delta) < e.noiseThreshold {
		d.EffectiveSlope = 0
	}

	if e.slopeCount > 0 && dt > 0 && now-e.lastSlopeT <= e.curvatureLookback {
		d.Curvature = (d.Slope - e.lastSlope) / dt
	}
	e.previousSlope = e.lastSlope
	e.lastSlope = d.Slope
	e.lastSlopeT = now
	e.slopeCount++

	d.SpectralSlope = e.spectralSlope(h, latest)
	return d
}

// spectralSlope needs the current point's spectral value and an earlier
// spectral value at least spectralLookback old.
func (e *Estimator) spectralSlope(h *History, latest Point) *float64 {
	if latest.Spectral == nil {
		return nil
	}
	ref, ok := h.SpectralAtOrBefore(latest.T - e.spectralLookback)
	if !ok || ref.T >= latest.T {
		return nil
	}
	slope := (*latest.Spectral - *ref.Spectral) / math.Max(latest.T-ref.T, minSlopeSpan) * 100
	return &slope
}

// Slopes returns the last and previous raw slopes.
func (e *Estimator) Slopes() (last, previous float64) {
	return e.lastSlope, e.previousSlope
}

// Reset clears the EWMA and slope history.
func (e *Estimator) Reset() {
	e.smoothed = 0
	e.seeded = false
	e.lastSlope = 0
	e.previousSlope = 0
	e.lastSlopeT = 0
	e.slopeCount = 0
}
