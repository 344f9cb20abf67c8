// internal/fatigue/types.go
// Package fatigue classifies the trajectory of a normalized muscle-activation
// signal during a resistance-training set as rising, plateaued or falling.
package fatigue

import (
	"encoding/json"
	"fmt"
)

// State is a committed fatigue classification.
// The zero value, Unclassified, means nothing has been committed yet.
type State int

const (
	Unclassified State = iota
	Rise
	Plateau
	Fall
)

func (s State) String() string {
	switch s {
	case Unclassified:
		return "unclassified"
	case Rise:
		return "rise"
	case Plateau:
		return "plateau"
	case Fall:
		return "fall"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// MarshalJSON encodes the state by name.
func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON decodes a state name.
func (s *State) UnmarshalJSON(b []byte) error {
	var name string
	if err := json.Unmarshal(b, &name); err != nil {
		return err
	}
	switch name {
	case "unclassified", "":
		*s = Unclassified
	case "rise":
		*s = Rise
	case "plateau":
		*s = Plateau
	case "fall":
		*s = Fall
	default:
		return fmt.Errorf("unknown fatigue state %q", name)
	}
	return nil
}

// Confidence returns the fixed confidence reported for a committed state.
func (s State) Confidence() float64 {
	switch s {
	case Rise:
		return RiseConfidence
	case Plateau:
		return PlateauConfidence
	case Fall:
		return FallConfidence
	default:
		return 0
	}
}

// Sample is one input observation.
type Sample struct {
	// Timestamp in seconds; must not decrease across calls
	Timestamp float64
	// Amplitude is the normalized activation amplitude
	Amplitude float64
	// Spectral is the optional normalized median-frequency signal (nil when absent)
	Spectral *float64
}

// NewSample builds a sample without a spectral value.
func NewSample(t, amplitude float64) Sample {
	return Sample{Timestamp: t, Amplitude: amplitude}
}

// WithSpectral returns a copy of the sample carrying a spectral value.
func (s Sample) WithSpectral(v float64) Sample {
	s.Spectral = &v
	return s
}

// StateEvent is emitted on every committed transition.
type StateEvent struct {
	State                          State   `json:"state"`
	Confidence                     float64 `json:"confidence"`
	PreviousState                  State   `json:"previous_state"`
	DurationInPreviousStateSeconds float64 `json:"duration_in_previous_state_sec"`
	Timestamp                      float64 `json:"t"`
}

// DebugEvent is emitted once for every accepted sample.
type DebugEvent struct {
	Timestamp float64 `json:"t"`
	Smoothed  float64 `json:"smoothed"`
	// Slope is the raw slope, before the noise gate
	Slope float64 `json:"slope"`
	// EffectiveSlope is what the classifier saw
	EffectiveSlope float64  `json:"effective_slope"`
	Curvature      float64  `json:"curvature"`
	SpectralSlope  *float64 `json:"spectral_slope,omitempty"`
}

// StateListener receives state transitions.
// Called synchronously from Update - must be fast and non-blocking.
type StateListener func(event StateEvent)

// DebugListener receives per-sample debug frames.
type DebugListener func(event DebugEvent)

// Unsubscribe removes a listener. Calling it more than once is a no-op.
type Unsubscribe func()
