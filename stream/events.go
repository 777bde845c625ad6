// Package stream defines the structured events published during a
// convergence run and the broadcaster that fans them out to observers.
package stream

import "time"

// EventType discriminates event variants on the wire.
type EventType string

const (
	EventConnected     EventType = "connected"
	EventResponse      EventType = "response"
	EventRoundCombined EventType = "round_combined"
	EventTurnCombined  EventType = "turn_combined"
	EventStats         EventType = "stats"
	EventDemoToggled   EventType = "demo_toggled"
	EventFailure       EventType = "failure"
)

// Event is one immutable notification. The broadcaster stamps sequence
// and emission time on publish; observers receive events in emission
// order with no replay for events published before they attached.
type Event interface {
	Type() EventType
	Timestamp() time.Time
}

// BaseEvent carries the discriminator and broadcaster-stamped ordering
// fields shared by every variant.
type BaseEvent struct {
	Kind EventType `json:"type"`
	Seq  uint64    `json:"seq"`
	At   time.Time `json:"ts"`
}

func (b *BaseEvent) Type() EventType      { return b.Kind }
func (b *BaseEvent) Timestamp() time.Time { return b.At }

func (b *BaseEvent) stamp(seq uint64, at time.Time) {
	b.Seq = seq
	b.At = at
}

// stampable lets the broadcaster reach the embedded BaseEvent.
type stampable interface {
	stamp(seq uint64, at time.Time)
}

// ConnectedEvent greets a newly attached observer.
type ConnectedEvent struct {
	BaseEvent
	AvailableBackends []string `json:"available_backends"`
	DemoMode          bool     `json:"demo_mode"`
	CacheEnabled      bool     `json:"cache_enabled"`
}

// NewConnected builds a connected event.
func NewConnected(backends []string, demoMode, cacheEnabled bool) *ConnectedEvent {
	return &ConnectedEvent{
		BaseEvent:         BaseEvent{Kind: EventConnected},
		AvailableBackends: backends,
		DemoMode:          demoMode,
		CacheEnabled:      cacheEnabled,
	}
}

// ResponseEvent reports one backend's answer as it arrives. Emission
// order follows arrival, not backend registration order.
type ResponseEvent struct {
	BaseEvent
	Backend   string `json:"backend"`
	Turn      int    `json:"turn"`
	Round     int    `json:"round"`
	Text      string `json:"text"`
	LatencyMS int64  `json:"latency_ms"`
	Fallback  bool   `json:"fallback"`
}

// NewResponse builds a response event.
func NewResponse(backend string, turn, round int, text string, latency time.Duration, fallback bool) *ResponseEvent {
	return &ResponseEvent{
		BaseEvent: BaseEvent{Kind: EventResponse},
		Backend:   backend,
		Turn:      turn,
		Round:     round,
		Text:      text,
		LatencyMS: latency.Milliseconds(),
		Fallback:  fallback,
	}
}

// RoundCombinedEvent reports the weighted combination of one round.
type RoundCombinedEvent struct {
	BaseEvent
	Turn     int                `json:"turn"`
	Round    int                `json:"round"`
	Combined string             `json:"combined"`
	Weights  map[string]float64 `json:"weights"`
}

// NewRoundCombined builds a round_combined event.
func NewRoundCombined(turn, round int, combined string, weights map[string]float64) *RoundCombinedEvent {
	return &RoundCombinedEvent{
		BaseEvent: BaseEvent{Kind: EventRoundCombined},
		Turn:      turn,
		Round:     round,
		Combined:  combined,
		Weights:   weights,
	}
}

// TurnCombinedEvent reports a turn's final converged output.
type TurnCombinedEvent struct {
	BaseEvent
	Turn     int    `json:"turn"`
	Combined string `json:"combined"`
}

// NewTurnCombined builds a turn_combined event.
func NewTurnCombined(turn int, combined string) *TurnCombinedEvent {
	return &TurnCombinedEvent{
		BaseEvent: BaseEvent{Kind: EventTurnCombined},
		Turn:      turn,
		Combined:  combined,
	}
}

// CacheStats is the wire shape of the cache counters.
type CacheStats struct {
	Hits           uint64  `json:"hits"`
	Misses         uint64  `json:"misses"`
	Size           int     `json:"size"`
	Capacity       int     `json:"capacity"`
	HitRatePercent float64 `json:"hit_rate_percent"`
}

// SessionStats is the wire shape of the session counters. HasAudio is
// reserved for the audio pathway, which lives outside this core.
type SessionStats struct {
	TokensProcessed int64 `json:"tokens_processed"`
	TurnsCompleted  int   `json:"turns_completed"`
	HasAudio        bool  `json:"has_audio"`
}

// StatsEvent answers an explicit stats request.
type StatsEvent struct {
	BaseEvent
	Cache   CacheStats   `json:"cache"`
	Session SessionStats `json:"session"`
}

// NewStats builds a stats event.
func NewStats(cache CacheStats, session SessionStats) *StatsEvent {
	return &StatsEvent{
		BaseEvent: BaseEvent{Kind: EventStats},
		Cache:     cache,
		Session:   session,
	}
}

// DemoToggledEvent reports a demo-mode flip.
type DemoToggledEvent struct {
	BaseEvent
	DemoMode bool `json:"demo_mode"`
}

// NewDemoToggled builds a demo_toggled event.
func NewDemoToggled(demoMode bool) *DemoToggledEvent {
	return &DemoToggledEvent{
		BaseEvent: BaseEvent{Kind: EventDemoToggled},
		DemoMode:  demoMode,
	}
}

// FailureEvent surfaces a fatal per-turn condition. Observers always see
// either a response or an explicit failure; they never go silent.
type FailureEvent struct {
	BaseEvent
	Turn    int    `json:"turn"`
	Round   int    `json:"round"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewFailure builds a failure event.
func NewFailure(turn, round int, code, message string) *FailureEvent {
	return &FailureEvent{
		BaseEvent: BaseEvent{Kind: EventFailure},
		Turn:      turn,
		Round:     round,
		Code:      code,
		Message:   message,
	}
}
