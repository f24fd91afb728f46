package model

// NodeStatus is the administrative state of a node as the student set it.
type NodeStatus string

const (
	NodeStatusActive   NodeStatus = "active"
	NodeStatusInactive NodeStatus = "inactive"
	NodeStatusError    NodeStatus = "error"
)

// Position is a canvas coordinate used by viewers to lay out the topology.
type Position struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

// NodeSnapshot is a read-only copy of a persisted network node.
// The simulation engine never mutates it.
type NodeSnapshot struct {
	ID       string     `json:"id"`
	Name     string     `json:"name"`
	Type     string     `json:"type"` // free-form category, e.g. "router", "host"
	Status   NodeStatus `json:"status"`
	Position Position   `json:"position"`
}
