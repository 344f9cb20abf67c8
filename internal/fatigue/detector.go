// internal/fatigue/detector.go
package fatigue

import (
	"log/slog"
	"math"
)

// Option configures a Detector.
type Option func(*Detector)

// WithLogger sets the logger used for dropped samples and listener failures.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Detector) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// Detector classifies one sample stream. It is not safe for concurrent use:
// Update, Reset and the accessors must be called from a single goroutine, or
// serialized by the caller. Subscribing and unsubscribing is safe at any time.
type Detector struct {
	config     Config
	history    *History
	estimator  *Estimator
	classifier *Classifier
	bus        *Bus
	logger     *slog.Logger

	lastT   float64
	hasLast bool
}

// New creates a detector with the given configuration.
func New(cfg Config, opts ...Option) (*Detector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	d := &Detector{
		config:     cfg,
		history:    NewHistory(64),
		estimator:  NewEstimator(cfg),
		classifier: NewClassifier(cfg),
		logger:     slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.bus = NewBus(d.logger)
	return d, nil
}

// Update feeds one sample. Invalid or out-of-order samples are ignored
// without touching any state.
func (d *Detector) Update(s Sample) {
	if !finite(s.Amplitude) || !finite(s.Timestamp) {
		d.logger.Debug("dropping non-finite sample", "t", s.Timestamp, "amplitude", s.Amplitude)
		return
	}
	dt := 0.0
	if d.hasLast {
		if s.Timestamp <= d.lastT {
			d.logger.Debug("dropping out-of-order sample", "t", s.Timestamp, "last", d.lastT)
			return
		}
		dt = s.Timestamp - d.lastT
	}

	var spectral *float64
	if s.Spectral != nil && finite(*s.Spectral) {
		v := *s.Spectral
		spectral = &v
	}

	smoothed := d.estimator.Smooth(s.Amplitude)
	d.history.Push(Point{T: s.Timestamp, Raw: s.Amplitude, Smoothed: smoothed, Spectral: spectral})
	d.history.EvictOlderThan(s.Timestamp - d.config.HistoryWindowSec)

	deriv := d.estimator.Derive(d.history, s.Timestamp, dt)
	event, transitioned := d.classifier.Step(Tick{
		T:              s.Timestamp,
		DT:             dt,
		EffectiveSlope: deriv.EffectiveSlope,
		Curvature:      deriv.Curvature,
		SpectralSlope:  deriv.SpectralSlope,
		RangeOK:        d.history.SmoothedRange() >= d.config.NoiseThreshold,
	})

	d.lastT = s.Timestamp
	d.hasLast = true

	d.bus.PublishDebug(DebugEvent{
		Timestamp:      s.Timestamp,
		Smoothed:       deriv.Smoothed,
		Slope:          deriv.Slope,
		EffectiveSlope: deriv.EffectiveSlope,
		Curvature:      deriv.Curvature,
		SpectralSlope:  deriv.SpectralSlope,
	})
	if transitioned {
		d.logger.Info("fatigue state changed",
			"state", event.State,
			"previous", event.PreviousState,
			"confidence", event.Confidence,
			"t", event.Timestamp)
		d.bus.PublishState(event)
	}
}

// Reset clears all history and state. Subscriptions are kept.
func (d *Detector) Reset() {
	d.history.Reset()
	d.estimator.Reset()
	d.classifier.Reset()
	d.lastT = 0
	d.hasLast = false
}

// State returns the committed state, Unclassified until the first transition.
func (d *Detector) State() State {
	return d.classifier.State()
}

// TimeInState returns max(0, now - time the current state was entered), or 0
// when unclassified.
func (d *Detector) TimeInState(now float64) float64 {
	if math.IsNaN(now) {
		return 0
	}
	return d.classifier.TimeInState(now)
}

// SubscribeState registers a listener for committed transitions.
func (d *Detector) SubscribeState(fn StateListener) Unsubscribe {
	return d.bus.SubscribeState(fn)
}

// SubscribeDebug registers a listener for per-sample debug frames.
func (d *Detector) SubscribeDebug(fn DebugListener) Unsubscribe {
	return d.bus.SubscribeDebug(fn)
}

// Snapshot returns a copy of the classifier state, including the last two slopes.
func (d *Detector) Snapshot() Snapshot {
	snap := d.classifier.Snapshot()
	snap.LastSlope, snap.PreviousSlope = d.estimator.Slopes()
	return snap
}

// LastTimestamp returns the timestamp of the last accepted sample.
func (d *Detector) LastTimestamp() (float64, bool) {
	return d.lastT, d.hasLast
}

// HistoryLen returns the number of retained points.
func (d *Detector) HistoryLen() int {
	return d.history.Len()
}

// Config returns the detector configuration.
func (d *Detector) Config() Config {
	return d.config
}
