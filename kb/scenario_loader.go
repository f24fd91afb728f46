package kb

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/signalsfoundry/netlab-simulator/model"
	"gopkg.in/yaml.v3"
)

// ErrInvalidScenario wraps every structural problem found in a scenario
// document.
var ErrInvalidScenario = errors.New("invalid scenario")

// Defaults applied to omitted scenario fields.
const (
	DefaultBandwidthMbps = 100.0
	DefaultLatencyMs     = 10.0
	DefaultPacketSize    = 1024
	DefaultPriority      = 1
	DefaultProbability   = 0.1
	DefaultSeverity      = model.SeverityMedium
)

// ScenarioSummary reports what LoadScenario stored.
type ScenarioSummary struct {
	SessionIDs  []string
	Nodes       int
	Connections int
	Messages    int
	Anomalies   int
}

// YAML shapes stay unexported so the document format can evolve without
// touching the model.
type scenarioYAML struct {
	Session     sessionYAML      `yaml:"session"`
	Nodes       []nodeYAML       `yaml:"nodes"`
	Connections []connectionYAML `yaml:"connections"`
	Messages    []messageYAML    `yaml:"messages"`
	Anomalies   []anomalyYAML    `yaml:"anomalies"`
}

type sessionYAML struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

type nodeYAML struct {
	ID       string         `yaml:"id"`
	Name     string         `yaml:"name"`
	Type     string         `yaml:"type"`
	Status   string         `yaml:"status"` // defaults to active
	Position model.Position `yaml:"position"`
}

type connectionYAML struct {
	ID            string   `yaml:"id"`
	Source        string   `yaml:"source"`
	Destination   string   `yaml:"destination"`
	Type          string   `yaml:"type"`
	BandwidthMbps *float64 `yaml:"bandwidth_mbps"`
	LatencyMs     *float64 `yaml:"latency_ms"`
	Status        string   `yaml:"status"`
}

type messageYAML struct {
	ID          string `yaml:"id"`
	Source      string `yaml:"source"`
	Destination string `yaml:"destination"`
	SizeBytes   *int   `yaml:"size_bytes"`
	Priority    *int   `yaml:"priority"`
}

type anomalyYAML struct {
	ID          string         `yaml:"id"`
	Type        string         `yaml:"type"`
	Node        string         `yaml:"node"`
	Connection  string         `yaml:"connection"`
	Probability *float64       `yaml:"probability"`
	Severity    string         `yaml:"severity"`
	Parameters  map[string]any `yaml:"parameters"`
	Active      *bool          `yaml:"active"`
	ExpiresAt   *time.Time     `yaml:"expires_at"`
}

// LoadScenarioFile opens path and loads it with LoadScenario.
func LoadScenarioFile(store *Store, path string) (*ScenarioSummary, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("LoadScenarioFile: %w", err)
	}
	defer f.Close()
	return LoadScenario(store, f)
}

// LoadScenario reads one or more YAML documents from r, each describing a
// session, and stores them. Documents are validated before anything is
// stored, so a bad document leaves the store untouched.
func LoadScenario(store *Store, r io.Reader) (*ScenarioSummary, error) {
	if store == nil {
		return nil, fmt.Errorf("LoadScenario: store is nil")
	}

	var sessions []Session
	dec := yaml.NewDecoder(r)
	for {
		var doc scenarioYAML
		err := dec.Decode(&doc)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("LoadScenario: decode failed: %w", err)
		}
		sess, err := doc.toSession()
		if err != nil {
			return nil, fmt.Errorf("LoadScenario: %w", err)
		}
		sessions = append(sessions, sess)
	}
	if len(sessions) == 0 {
		return nil, fmt.Errorf("LoadScenario: %w: empty document", ErrInvalidScenario)
	}

	summary := &ScenarioSummary{}
	for _, sess := range sessions {
		if err := store.PutSession(sess); err != nil {
			return nil, fmt.Errorf("LoadScenario: %w", err)
		}
		summary.SessionIDs = append(summary.SessionIDs, sess.ID)
		summary.Nodes += len(sess.Nodes)
		summary.Connections += len(sess.Connections)
		summary.Messages += len(sess.Messages)
		summary.Anomalies += len(sess.Anomalies)
	}
	return summary, nil
}

func (doc scenarioYAML) toSession() (Session, error) {
	if doc.Session.ID == "" {
		return Session{}, fmt.Errorf("%w: session.id is required", ErrInvalidScenario)
	}
	sess := Session{
		ID:          doc.Session.ID,
		Name:        doc.Session.Name,
		Description: doc.Session.Description,
	}

	nodes := make(map[string]bool, len(doc.Nodes))
	for i, n := range doc.Nodes {
		if n.ID == "" {
			return Session{}, fmt.Errorf("%w: nodes[%d]: id is required", ErrInvalidScenario, i)
		}
		if nodes[n.ID] {
			return Session{}, fmt.Errorf("%w: duplicate node %q", ErrInvalidScenario, n.ID)
		}
		nodes[n.ID] = true

		status := model.NodeStatus(n.Status)
		if status == "" {
			status = model.NodeStatusActive
		}
		name := n.Name
		if name == "" {
			name = n.ID
		}
		sess.Nodes = append(sess.Nodes, model.NodeSnapshot{
			ID:       n.ID,
			Name:     name,
			Type:     n.Type,
			Status:   status,
			Position: n.Position,
		})
	}

	connections := make(map[string]bool, len(doc.Connections))
	for i, c := range doc.Connections {
		id := c.ID
		if id == "" {
			id = fmt.Sprintf("%s-%s", c.Source, c.Destination)
		}
		if connections[id] {
			return Session{}, fmt.Errorf("%w: duplicate connection %q", ErrInvalidScenario, id)
		}
		if !nodes[c.Source] || !nodes[c.Destination] {
			return Session{}, fmt.Errorf("%w: connections[%d] %q references unknown node", ErrInvalidScenario, i, id)
		}
		if c.Source == c.Destination {
			return Session{}, fmt.Errorf("%w: connection %q connects %q to itself", ErrInvalidScenario, id, c.Source)
		}
		connections[id] = true

		status := model.ConnectionStatus(c.Status)
		if status == "" {
			status = model.ConnectionStatusActive
		}
		sess.Connections = append(sess.Connections, model.ConnectionSnapshot{
			ID:            id,
			SourceID:      c.Source,
			DestinationID: c.Destination,
			Type:          c.Type,
			BandwidthMbps: floatOr(c.BandwidthMbps, DefaultBandwidthMbps),
			LatencyMs:     floatOr(c.LatencyMs, DefaultLatencyMs),
			Status:        status,
		})
	}

	for i, m := range doc.Messages {
		id := m.ID
		if id == "" {
			id = fmt.Sprintf("msg-%d", i+1)
		}
		if !nodes[m.Source] || !nodes[m.Destination] {
			return Session{}, fmt.Errorf("%w: message %q references unknown node", ErrInvalidScenario, id)
		}
		sess.Messages = append(sess.Messages, model.MessageSnapshot{
			ID:            id,
			SourceID:      m.Source,
			DestinationID: m.Destination,
			SizeBytes:     intOr(m.SizeBytes, DefaultPacketSize),
			Priority:      intOr(m.Priority, DefaultPriority),
		})
	}

	for i, a := range doc.Anomalies {
		id := a.ID
		if id == "" {
			id = fmt.Sprintf("anomaly-%d", i+1)
		}
		kind := model.AnomalyKind(a.Type)
		if !kind.Valid() {
			return Session{}, fmt.Errorf("%w: anomaly %q has unknown type %q", ErrInvalidScenario, id, a.Type)
		}
		if a.Node != "" && !nodes[a.Node] {
			return Session{}, fmt.Errorf("%w: anomaly %q references unknown node %q", ErrInvalidScenario, id, a.Node)
		}
		if a.Connection != "" && !connections[a.Connection] {
			return Session{}, fmt.Errorf("%w: anomaly %q references unknown connection %q", ErrInvalidScenario, id, a.Connection)
		}
		p := floatOr(a.Probability, DefaultProbability)
		if p < 0 || p > 1 {
			return Session{}, fmt.Errorf("%w: anomaly %q probability %v outside [0, 1]", ErrInvalidScenario, id, p)
		}
		severity := model.Severity(a.Severity)
		if severity == "" {
			severity = DefaultSeverity
		}
		active := true
		if a.Active != nil {
			active = *a.Active
		}
		sess.Anomalies = append(sess.Anomalies, model.AnomalyRule{
			ID:                   id,
			Kind:                 kind,
			AffectedNodeID:       a.Node,
			AffectedConnectionID: a.Connection,
			Probability:          p,
			Severity:             severity,
			Parameters:           a.Parameters,
			Active:               active,
			ExpiresAt:            a.ExpiresAt,
		})
	}

	return sess, nil
}

func floatOr(v *float64, def float64) float64 {
	if v == nil {
		return def
	}
	return *v
}

func intOr(v *int, def int) int {
	if v == nil {
		return def
	}
	return *v
}
