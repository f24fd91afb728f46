package model

import "time"

// AnomalyKind identifies the impairment an AnomalyRule injects.
type AnomalyKind string

const (
	AnomalyPacketLoss     AnomalyKind = "packet-loss"
	AnomalyDelay          AnomalyKind = "delay"
	AnomalyCorruption     AnomalyKind = "corruption"
	AnomalyWrongDelivery  AnomalyKind = "wrong-delivery"
	AnomalyOutOfOrder     AnomalyKind = "out-of-order"
	AnomalyConnectionLoss AnomalyKind = "connection-loss"
)

// AnomalyKinds lists every supported kind in a stable order.
var AnomalyKinds = []AnomalyKind{
	AnomalyPacketLoss,
	AnomalyDelay,
	AnomalyCorruption,
	AnomalyWrongDelivery,
	AnomalyOutOfOrder,
	AnomalyConnectionLoss,
}

// Valid reports whether k is one of the known anomaly kinds.
func (k AnomalyKind) Valid() bool {
	for _, known := range AnomalyKinds {
		if k == known {
			return true
		}
	}
	return false
}

// Severity is a coarse label shown to students; it does not change behaviour.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// ParamAdditionalDelayMs is the delay rule parameter holding the extra
// per-hop latency in milliseconds.
const ParamAdditionalDelayMs = "additional_delay_ms"

// AnomalyRule is a read-only copy of a persisted anomaly.
//
// A rule with neither AffectedNodeID nor AffectedConnectionID set applies
// network-wide.
type AnomalyRule struct {
	ID                   string         `json:"id"`
	Kind                 AnomalyKind    `json:"anomaly_type"`
	AffectedNodeID       string         `json:"affected_node_id,omitempty"`
	AffectedConnectionID string         `json:"affected_connection_id,omitempty"`
	Probability          float64        `json:"probability"`
	Severity             Severity       `json:"severity"`
	Parameters           map[string]any `json:"parameters,omitempty"`
	Active               bool           `json:"is_active"`
	ExpiresAt            *time.Time     `json:"expires_at,omitempty"`
}

// NetworkWide reports whether the rule is unscoped.
func (r AnomalyRule) NetworkWide() bool {
	return r.AffectedNodeID == "" && r.AffectedConnectionID == ""
}

// Expired reports whether the rule's expiry lies at or before now.
func (r AnomalyRule) Expired(now time.Time) bool {
	return r.ExpiresAt != nil && !r.ExpiresAt.After(now)
}

// Live reports whether the rule should be considered by a simulation
// starting at now.
func (r AnomalyRule) Live(now time.Time) bool {
	return r.Active && !r.Expired(now)
}
