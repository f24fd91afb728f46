package model

import "time"

// EventKind names a simulation event pushed to viewers.
type EventKind string

const (
	EventSimulationStarted   EventKind = "simulation-started"
	EventPacketSent          EventKind = "packet-sent"
	EventPacketArrived       EventKind = "packet-arrived"
	EventPacketLost          EventKind = "packet-lost"
	EventPacketFailed        EventKind = "packet-failed"
	EventPacketMisdelivered  EventKind = "packet-misdelivered"
	EventPacketDelivered     EventKind = "packet-delivered"
	EventSimulationCompleted EventKind = "simulation-completed"
	EventSimulationError     EventKind = "simulation-error"

	// EventConnectionEstablished greets a freshly attached viewer. It is
	// produced by the fan-out layer, never by the engine.
	EventConnectionEstablished EventKind = "connection-established"
	// EventPong answers a viewer's {"type":"ping"} frame.
	EventPong EventKind = "pong"
)

// Terminal reports whether k ends the life of a single packet.
func (k EventKind) Terminal() bool {
	switch k {
	case EventPacketLost, EventPacketFailed, EventPacketMisdelivered, EventPacketDelivered:
		return true
	default:
		return false
	}
}

// SimulationEvent is the unit handed to an event sink. Events are immutable
// once published; Payload must not be modified by receivers.
type SimulationEvent struct {
	Kind      EventKind      `json:"event_type"`
	SessionID string         `json:"session_id"`
	RunID     string         `json:"simulation_id,omitempty"`
	MessageID string         `json:"message_id,omitempty"`
	NodeIDs   []string       `json:"node_ids,omitempty"`
	Payload   map[string]any `json:"data"`
	Timestamp time.Time      `json:"timestamp"`
}
