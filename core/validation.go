package core

import (
	"fmt"
	"strings"

	"github.com/signalsfoundry/netlab-simulator/model"
)

// ValidationReport summarises whether a session's topology is ready to be
// simulated.
type ValidationReport struct {
	Valid           bool     `json:"is_valid"`
	NodeCount       int      `json:"node_count"`
	ConnectionCount int      `json:"connection_count"`
	Issues          []string `json:"issues"`
	Warnings        []string `json:"warnings"`
}

// ValidateTopology checks a topology for problems a student should fix
// before simulating: too few nodes, no active connection, isolated nodes
// and nodes that are not active. ConnectionCount only counts active
// connections.
func ValidateTopology(nodes []model.NodeSnapshot, connections []model.ConnectionSnapshot) ValidationReport {
	report := ValidationReport{
		NodeCount: len(nodes),
		Issues:    []string{},
		Warnings:  []string{},
	}

	connected := make(map[string]struct{})
	for _, c := range connections {
		if !c.IsActive() {
			continue
		}
		report.ConnectionCount++
		connected[c.SourceID] = struct{}{}
		connected[c.DestinationID] = struct{}{}
	}

	if len(nodes) < 2 {
		report.Issues = append(report.Issues, "At least 2 nodes required for simulation")
	}
	if report.ConnectionCount < 1 {
		report.Issues = append(report.Issues, "At least 1 connection required for simulation")
	}

	var isolated, inactive []string
	for _, n := range nodes {
		if _, ok := connected[n.ID]; !ok {
			isolated = append(isolated, displayName(n))
		}
		if n.Status != model.NodeStatusActive {
			inactive = append(inactive, displayName(n))
		}
	}
	if len(isolated) > 0 {
		report.Issues = append(report.Issues, "Isolated nodes found: "+strings.Join(isolated, ", "))
		report.Warnings = append(report.Warnings, fmt.Sprintf("Found %d isolated nodes", len(isolated)))
	}
	if len(inactive) > 0 {
		report.Issues = append(report.Issues, "Inactive nodes found: "+strings.Join(inactive, ", "))
	}

	report.Valid = len(report.Issues) == 0
	return report
}

func displayName(n model.NodeSnapshot) string {
	if n.Name != "" {
		return n.Name
	}
	return n.ID
}
