package model

// ConnectionStatus is the administrative state of a connection. Only active
// connections take part in routing; anything else behaves like a cut link.
type ConnectionStatus string

const (
	ConnectionStatusActive   ConnectionStatus = "active"
	ConnectionStatusInactive ConnectionStatus = "inactive"
	ConnectionStatusError    ConnectionStatus = "error"
)

// ConnectionSnapshot is a read-only copy of a persisted undirected link
// between two nodes.
type ConnectionSnapshot struct {
	ID            string           `json:"id"`
	SourceID      string           `json:"source_node_id"`
	DestinationID string           `json:"destination_node_id"`
	Type          string           `json:"type"` // e.g. "ethernet", "wifi", "fiber"
	BandwidthMbps float64          `json:"bandwidth_mbps"`
	LatencyMs     float64          `json:"latency_ms"`
	Status        ConnectionStatus `json:"status"`
}

// IsActive reports whether the connection participates in routing.
func (c ConnectionSnapshot) IsActive() bool {
	return c.Status == ConnectionStatusActive
}
