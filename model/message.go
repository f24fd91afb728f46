package model

// MessageSnapshot describes one send intent from a source node to a
// destination node.
type MessageSnapshot struct {
	ID            string `json:"id"`
	SourceID      string `json:"source_node_id"`
	DestinationID string `json:"destination_node_id"`
	SizeBytes     int    `json:"packet_size_bytes"`
	Priority      int    `json:"priority"`
}
