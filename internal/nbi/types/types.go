// Package types holds the wire shapes of the simulation control service and
// the conversions between them and google.protobuf.Struct, which is what
// travels over gRPC.
package types

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/signalsfoundry/netlab-simulator/core"
	"github.com/signalsfoundry/netlab-simulator/model"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// ErrMalformed is returned when a Struct cannot be decoded into the expected
// request shape.
var ErrMalformed = errors.New("malformed request")

//
// Requests.
//

// LoadScenarioRequest carries a YAML scenario document.
type LoadScenarioRequest struct {
	YAML string `json:"yaml"`
}

// SessionRequest addresses a single session.
type SessionRequest struct {
	SessionID string `json:"session_id"`
}

// StartSimulationRequest mirrors the classroom "simulate" form. Optional
// fields are pointers so that an omitted value can take its default.
type StartSimulationRequest struct {
	SessionID       string   `json:"session_id"`
	MessageIDs      []string `json:"message_ids"`
	SpeedMultiplier *float64 `json:"speed_multiplier,omitempty"`
	EnableAnomalies *bool    `json:"enable_anomalies,omitempty"`
}

// Speed returns the requested speed multiplier, defaulting to 1.
func (r StartSimulationRequest) Speed() float64 {
	if r.SpeedMultiplier == nil {
		return 1
	}
	return *r.SpeedMultiplier
}

// Anomalies reports whether anomaly rules should be applied, defaulting to
// true.
func (r StartSimulationRequest) Anomalies() bool {
	if r.EnableAnomalies == nil {
		return true
	}
	return *r.EnableAnomalies
}

// StopSimulationRequest identifies a run within a session.
type StopSimulationRequest struct {
	SessionID    string `json:"session_id"`
	SimulationID string `json:"simulation_id"`
}

//
// Responses.
//

// LoadScenarioResponse summarises what was stored.
type LoadScenarioResponse struct {
	SessionIDs  []string `json:"session_ids"`
	Nodes       int      `json:"nodes"`
	Connections int      `json:"connections"`
	Messages    int      `json:"messages"`
	Anomalies   int      `json:"anomalies"`
}

// SessionSummary is one row of ListSessions.
type SessionSummary struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Description     string `json:"description,omitempty"`
	NodeCount       int    `json:"node_count"`
	ConnectionCount int    `json:"connection_count"`
	MessageCount    int    `json:"message_count"`
	AnomalyCount    int    `json:"anomaly_count"`
}

// ListSessionsResponse lists stored sessions.
type ListSessionsResponse struct {
	Sessions []SessionSummary `json:"sessions"`
}

// StartSimulationResponse acknowledges a started run.
type StartSimulationResponse struct {
	SimulationID string `json:"simulation_id"`
	Status       string `json:"status"`
	Message      string `json:"message"`
}

// StopSimulationResponse acknowledges a stop request. Stopped is false when
// the run had already finished or was never known.
type StopSimulationResponse struct {
	Message string `json:"message"`
	Stopped bool   `json:"stopped"`
}

// ActiveSimulation is one running run of a session.
type ActiveSimulation struct {
	SimulationID      string    `json:"simulation_id"`
	Status            string    `json:"status"`
	SpeedMultiplier   float64   `json:"speed_multiplier"`
	MessagesTotal     int       `json:"messages_total"`
	MessagesProcessed int       `json:"messages_processed"`
	StartedAt         time.Time `json:"started_at"`
}

// SimulationStatusResponse lists the active runs of a session.
type SimulationStatusResponse struct {
	SessionID         string             `json:"session_id"`
	ActiveSimulations []ActiveSimulation `json:"active_simulations"`
	TotalActive       int                `json:"total_active"`
}

// ValidateNetworkResponse is a topology readiness report.
type ValidateNetworkResponse struct {
	SessionID string `json:"session_id"`
	core.ValidationReport
}

//
// Struct conversions.
//

// Decode fills out from s. Unknown fields are rejected.
func Decode(s *structpb.Struct, out any) error {
	if s == nil {
		s = &structpb.Struct{}
	}
	raw, err := protojson.Marshal(s)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}

// Encode converts v, which must marshal to a JSON object, into a Struct.
func Encode(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(raw, out); err != nil {
		return nil, err
	}
	return out, nil
}

// EventToStruct renders a simulation event in the same JSON shape viewers
// receive over the websocket feed.
func EventToStruct(ev model.SimulationEvent) (*structpb.Struct, error) {
	return Encode(ev)
}

// EventFromStruct is the inverse of EventToStruct. Numbers inside Payload
// come back as float64.
func EventFromStruct(s *structpb.Struct) (model.SimulationEvent, error) {
	var ev model.SimulationEvent
	raw, err := protojson.Marshal(s)
	if err != nil {
		return ev, err
	}
	if err := json.Unmarshal(raw, &ev); err != nil {
		return ev, err
	}
	return ev, nil
}
