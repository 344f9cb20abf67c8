// internal/fatigue/classifier.go
package fatigue

import "math"

// Tick is one classifier input.
type Tick struct {
	// T is the sample timestamp
	T float64
	// DT is the time since the previous accepted sample (0 on the first)
	DT             float64
	EffectiveSlope float64
	Curvature      float64
	SpectralSlope  *float64
	// RangeOK is false while the whole-window smoothed range is below the noise threshold
	RangeOK bool
}

// Snapshot is a copy of the classifier's mutable state.
type Snapshot struct {
	State          State
	StateEnteredAt float64
	HasEnteredAt   bool
	RiseAccum      float64
	PlateauAccum   float64
	FallAccum      float64
	LastSlope      float64
	PreviousSlope  float64
	LastUpdateTime float64
}

// Classifier is the Rise/Plateau/Fall hysteresis machine.
// Each candidate accumulates the time its condition has held continuously;
// the accumulator drops to 0 the moment the condition breaks.
type Classifier struct {
	config Config

	state          State
	stateEnteredAt float64
	hasEnteredAt   bool

	riseAccum    float64
	plateauAccum float64
	fallAccum    float64

	lastUpdateTime float64
}

// NewClassifier creates a classifier in the Unclassified state.
func NewClassifier(cfg Config) *Classifier {
	return &Classifier{config: cfg}
}

// Step advances the accumulators and reports a committed transition, if any.
func (c *Classifier) Step(tick Tick) (StateEvent, bool) {
	c.lastUpdateTime = tick.T
	slope := tick.EffectiveSlope

	// A gap longer than the slope lookback was not observed, so it breaks
	// every candidate and earns no credit.
	dt := tick.DT
	if dt > c.config.SlopeLookbackSec {
		c.riseAccum, c.plateauAccum, c.fallAccum = 0, 0, 0
		dt = 0
	}

	c.riseAccum = accumulate(c.riseAccum, slope >= c.config.RiseSlopeThreshold, dt)
	c.plateauAccum = accumulate(c.plateauAccum,
		math.Abs(slope) <= c.config.PlateauSlopeThreshold &&
			math.Abs(tick.Curvature) <= c.config.PlateauCurvatureThreshold,
		dt)
	c.fallAccum = accumulate(c.fallAccum, slope <= c.config.FallSlopeThreshold, dt)

	if !tick.RangeOK {
		return StateEvent{}, false
	}

	next := c.candidate(tick.SpectralSlope)
	if next == Unclassified || next == c.state {
		return StateEvent{}, false
	}
	return c.commit(next, tick.T), true
}

// candidate returns the first ready candidate in safety order: Fall, Rise, Plateau.
func (c *Classifier) candidate(spectralSlope *float64) State {
	if c.fallAccum >= c.config.FallMinDurationSec && c.fallAccum > 0 && c.fallConfirmed(spectralSlope) {
		return Fall
	}
	if c.riseAccum >= c.config.RiseMinDurationSec && c.riseAccum > 0 {
		return Rise
	}
	if c.plateauAccum >= c.config.PlateauMinDurationSec && c.plateauAccum > 0 {
		return Plateau
	}
	return Unclassified
}

func (c *Classifier) fallConfirmed(spectralSlope *float64) bool {
	if !c.config.RequireMDFConfirmation {
		return true
	}
	return spectralSlope != nil && *spectralSlope <= c.config.MDFFallSlopeThreshold
}

func (c *Classifier) commit(next State, now float64) StateEvent {
	event := StateEvent{
		State:         next,
		Confidence:    next.Confidence(),
		PreviousState: c.state,
		Timestamp:     now,
	}
	if c.state != Unclassified && c.hasEnteredAt {
		event.DurationInPreviousStateSeconds = math.Max(0, now-c.stateEnteredAt)
	}
	c.state = next
	c.stateEnteredAt = now
	c.hasEnteredAt = true
	return event
}

// State returns the committed state.
func (c *Classifier) State() State {
	return c.state
}

// TimeInState returns how long the committed state has held at now, or 0
// when unclassified.
func (c *Classifier) TimeInState(now float64) float64 {
	if c.state == Unclassified || !c.hasEnteredAt {
		return 0
	}
	return math.Max(0, now-c.stateEnteredAt)
}

// Snapshot copies the mutable state.
func (c *Classifier) Snapshot() Snapshot {
	return Snapshot{
		State:          c.state,
		StateEnteredAt: c.stateEnteredAt,
		HasEnteredAt:   c.hasEnteredAt,
		RiseAccum:      c.riseAccum,
		PlateauAccum:   c.plateauAccum,
		FallAccum:      c.fallAccum,
		LastUpdateTime: c.lastUpdateTime,
	}
}

// Reset returns the classifier to Unclassified with empty accumulators.
func (c *Classifier) Reset() {
	c.state = Unclassified
	c.stateEnteredAt = 0
	c.hasEnteredAt = false
	c.riseAccum = 0
	c.plateauAccum = 0
	c.fallAccum = 0
	c.lastUpdateTime = 0
}

func accumulate(accum float64, holds bool, dt float64) float64 {
	if !holds {
		return 0
	}
	return accum + dt
}
