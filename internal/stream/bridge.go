// internal/stream/bridge.go
// Package stream connects a fatigue detector to NATS: samples arrive on one
// subject, state transitions and debug frames leave on others.
package stream

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/ColonelBlimp/fatiguedetector/internal/fatigue"
	"github.com/ColonelBlimp/fatiguedetector/internal/ingest"
	"github.com/ColonelBlimp/fatiguedetector/internal/recovery"
)

// Envelope types
const (
	TypeState      = "state"
	TypeDebug      = "debug"
	TypeSetStarted = "set_started"
)

// ActionReset starts a new exercise set.
const ActionReset = "reset"

// broadcastQueue is the number of envelopes buffered for the broadcaster.
const broadcastQueue = 256

var (
	// ErrDetectorRequired indicates a detector instance is required
	ErrDetectorRequired = errors.New("detector instance is required")
	// ErrPublisherRequired indicates a publisher is required
	ErrPublisherRequired = errors.New("publisher is required")
	// ErrAlreadyStarted indicates Start was called twice
	ErrAlreadyStarted = errors.New("bridge already started")
)

// Publisher is the subset of *nats.Conn used for output.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Broadcaster receives every envelope in addition to NATS (e.g. the websocket hub).
type Broadcaster interface {
	Broadcast(v any)
}

// Config holds bridge subjects.
type Config struct {
	SampleSubject  string
	StateSubject   string
	DebugSubject   string
	ControlSubject string
	// PublishDebug sends per-sample debug frames to DebugSubject
	PublishDebug bool
}

// Envelope is the published message body.
type Envelope struct {
	SetID string              `json:"set_id"`
	Type  string              `json:"type"`
	State *fatigue.StateEvent `json:"state,omitempty"`
	Debug *fatigue.DebugEvent `json:"debug,omitempty"`
}

// Control is the control-subject message body.
type Control struct {
	Action string `json:"action"`
}

// Status is a point-in-time view of the bridge's detector.
type Status struct {
	SetID       string        `json:"set_id"`
	State       fatigue.State `json:"state"`
	TimeInState float64       `json:"time_in_state_sec"`
	LastSample  float64       `json:"last_sample_t"`
	Samples     int           `json:"samples"`
}

// Bridge owns one detector and serializes every call into it.
type Bridge struct {
	config      Config
	pub         Publisher
	broadcaster Broadcaster
	logger      *slog.Logger

	mu       sync.Mutex
	detector *fatigue.Detector
	setID    string
	lastT    float64
	samples  int

	subs   []*nats.Subscription
	unsubs []fatigue.Unsubscribe
	closed bool

	// broadcaster runs on its own goroutine so slow clients never hold mu
	fanout     chan Envelope
	fanoutDone chan struct{}
}

// NewBridge wires the detector's listeners to the publisher.
// broadcaster and logger may be nil.
func NewBridge(cfg Config, det *fatigue.Detector, pub Publisher, broadcaster Broadcaster, logger *slog.Logger) (*Bridge, error) {
	if det == nil {
		return nil, ErrDetectorRequired
	}
	if pub == nil {
		return nil, ErrPublisherRequired
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	b := &Bridge{
		config:      cfg,
		pub:         pub,
		broadcaster: broadcaster,
		logger:      logger,
		detector:    det,
		setID:       uuid.NewString(),
	}
	if broadcaster != nil {
		b.fanout = make(chan Envelope, broadcastQueue)
		b.fanoutDone = make(chan struct{})
		go b.runFanout()
	}

	b.unsubs = append(b.unsubs, det.SubscribeState(func(e fatigue.StateEvent) {
		b.emit(cfg.StateSubject, Envelope{SetID: b.setID, Type: TypeState, State: &e})
	}))
	if cfg.PublishDebug {
		b.unsubs = append(b.unsubs, det.SubscribeDebug(func(e fatigue.DebugEvent) {
			b.emit(cfg.DebugSubject, Envelope{SetID: b.setID, Type: TypeDebug, Debug: &e})
		}))
	}
	return b, nil
}

// Start subscribes to the sample and control subjects.
func (b *Bridge) Start(nc *nats.Conn) error {
	b.mu.Lock()
	started := len(b.subs) > 0
	b.mu.Unlock()
	if started {
		return ErrAlreadyStarted
	}

	sampleSub, err := nc.Subscribe(b.config.SampleSubject, func(msg *nats.Msg) {
		b.HandleSample(msg.Data)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", b.config.SampleSubject, err)
	}
	controlSub, err := nc.Subscribe(b.config.ControlSubject, func(msg *nats.Msg) {
		b.HandleControl(msg.Data)
	})
	if err != nil {
		_ = sampleSub.Unsubscribe()
		return fmt.Errorf("subscribe %s: %w", b.config.ControlSubject, err)
	}

	b.mu.Lock()
	b.subs = append(b.subs, sampleSub, controlSub)
	b.mu.Unlock()

	b.logger.Info("bridge started",
		"samples", b.config.SampleSubject,
		"control", b.config.ControlSubject,
		"set_id", b.SetID())
	return nil
}

// HandleSample decodes one JSON sample and feeds the detector.
func (b *Bridge) HandleSample(data []byte) {
	s, err := ingest.Decode(data)
	if err != nil {
		b.logger.Warn("dropping undecodable sample", "error", err)
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	prev, hadPrev := b.detector.LastTimestamp()
	b.detector.Update(s)
	if last, ok := b.detector.LastTimestamp(); ok && (!hadPrev || last != prev) {
		b.lastT = last
		b.samples++
	}
}

// HandleControl applies a control message.
func (b *Bridge) HandleControl(data []byte) {
	var c Control
	if err := json.Unmarshal(data, &c); err != nil {
		b.logger.Warn("dropping undecodable control message", "error", err)
		return
	}
	switch c.Action {
	case ActionReset:
		b.Reset()
	default:
		b.logger.Warn("unknown control action", "action", c.Action)
	}
}

// Reset clears the detector for a new set and announces the new set ID.
func (b *Bridge) Reset() string {
	b.mu.Lock()
	b.detector.Reset()
	b.setID = uuid.NewString()
	b.lastT = 0
	b.samples = 0
	id := b.setID
	b.emit(b.config.StateSubject, Envelope{SetID: id, Type: TypeSetStarted})
	b.mu.Unlock()

	b.logger.Info("new set started", "set_id", id)
	return id
}

// SetID returns the current set identifier.
func (b *Bridge) SetID() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.setID
}

// Status reports the detector state at the latest sample time.
func (b *Bridge) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Status{
		SetID:       b.setID,
		State:       b.detector.State(),
		TimeInState: b.detector.TimeInState(b.lastT),
		LastSample:  b.lastT,
		Samples:     b.samples,
	}
}

// Close unsubscribes from NATS and from the detector, then waits for queued
// broadcasts to drain.
func (b *Bridge) Close() error {
	b.mu.Lock()
	subs := b.subs
	b.subs = nil
	unsubs := b.unsubs
	b.unsubs = nil
	wasClosed := b.closed
	b.closed = true
	b.mu.Unlock()

	var errs []error
	for _, s := range subs {
		if err := s.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
			errs = append(errs, err)
		}
	}
	for _, u := range unsubs {
		u()
	}
	if !wasClosed && b.fanout != nil {
		close(b.fanout)
		<-b.fanoutDone
	}
	return errors.Join(errs...)
}

func (b *Bridge) runFanout() {
	defer close(b.fanoutDone)
	for env := range b.fanout {
		if err := recovery.Call(func() { b.broadcaster.Broadcast(env) }); err != nil {
			b.logger.Error("broadcast failed", "error", err, "type", env.Type)
		}
	}
}

// emit is called with b.mu held (from inside detector.Update or Reset).
func (b *Bridge) emit(subject string, env Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		b.logger.Error("marshal envelope", "error", err, "type", env.Type)
		return
	}
	if err := b.pub.Publish(subject, data); err != nil {
		b.logger.Error("publish failed", "error", err, "subject", subject)
	}
	if b.fanout == nil || b.closed {
		return
	}
	select {
	case b.fanout <- env:
	default:
		b.logger.Warn("broadcast queue full, dropping envelope", "type", env.Type, "set_id", env.SetID)
	}
}
