package kb

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/signalsfoundry/netlab-simulator/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const labScenario = `
session:
  id: lab-1
  name: Three hop lab
nodes:
  - id: A
    name: Router A
    type: router
    position: {x: 10, y: 20}
  - id: B
    type: switch
  - id: C
    type: host
    status: inactive
connections:
  - id: ab
    source: A
    destination: B
    latency_ms: 5
  - source: B
    destination: C
    type: fiber
    latency_ms: 0
    status: error
messages:
  - id: m1
    source: A
    destination: C
  - source: C
    destination: A
    size_bytes: 64
    priority: 3
anomalies:
  - id: slow-b
    type: delay
    node: B
    probability: 1
    severity: high
    parameters:
      additional_delay_ms: 250
  - type: packet-loss
    connection: ab
    active: false
    expires_at: 2030-01-01T00:00:00Z
`

func TestLoadScenarioAppliesDefaults(t *testing.T) {
	s := NewStore()
	summary, err := LoadScenario(s, strings.NewReader(labScenario))
	require.NoError(t, err)
	assert.Equal(t, []string{"lab-1"}, summary.SessionIDs)
	assert.Equal(t, 3, summary.Nodes)
	assert.Equal(t, 2, summary.Connections)
	assert.Equal(t, 2, summary.Messages)
	assert.Equal(t, 2, summary.Anomalies)

	sess, err := s.GetSession("lab-1")
	require.NoError(t, err)
	assert.Equal(t, "Three hop lab", sess.Name)

	assert.Equal(t, model.NodeSnapshot{ID: "A", Name: "Router A", Type: "router", Status: model.NodeStatusActive, Position: model.Position{X: 10, Y: 20}}, sess.Nodes[0])
	assert.Equal(t, "B", sess.Nodes[1].Name, "name falls back to id")
	assert.Equal(t, model.NodeStatusInactive, sess.Nodes[2].Status)

	ab := sess.Connections[0]
	assert.Equal(t, DefaultBandwidthMbps, ab.BandwidthMbps)
	assert.Equal(t, 5.0, ab.LatencyMs)
	assert.Equal(t, model.ConnectionStatusActive, ab.Status)
	bc := sess.Connections[1]
	assert.Equal(t, "B-C", bc.ID)
	assert.Equal(t, 0.0, bc.LatencyMs, "explicit zero latency is kept")
	assert.Equal(t, model.ConnectionStatusError, bc.Status)

	assert.Equal(t, model.MessageSnapshot{ID: "m1", SourceID: "A", DestinationID: "C", SizeBytes: DefaultPacketSize, Priority: DefaultPriority}, sess.Messages[0])
	assert.Equal(t, "msg-2", sess.Messages[1].ID)
	assert.Equal(t, 64, sess.Messages[1].SizeBytes)

	slow := sess.Anomalies[0]
	assert.Equal(t, model.AnomalyDelay, slow.Kind)
	assert.Equal(t, "B", slow.AffectedNodeID)
	assert.Equal(t, model.SeverityHigh, slow.Severity)
	assert.True(t, slow.Active)
	assert.Equal(t, 250, slow.Parameters[model.ParamAdditionalDelayMs])

	loss := sess.Anomalies[1]
	assert.Equal(t, "anomaly-2", loss.ID)
	assert.Equal(t, "ab", loss.AffectedConnectionID)
	assert.Equal(t, DefaultProbability, loss.Probability)
	assert.Equal(t, DefaultSeverity, loss.Severity)
	assert.False(t, loss.Active)
	require.NotNil(t, loss.ExpiresAt)
	assert.True(t, loss.ExpiresAt.Equal(time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)))
}

func TestLoadScenarioMultipleDocuments(t *testing.T) {
	doc := `
session: {id: lab-a}
nodes: [{id: A}, {id: B}]
connections: [{source: A, destination: B}]
---
session: {id: lab-b}
nodes: [{id: X}]
`
	s := NewStore()
	summary, err := LoadScenario(s, strings.NewReader(doc))
	require.NoError(t, err)
	assert.Equal(t, []string{"lab-a", "lab-b"}, summary.SessionIDs)
	assert.Len(t, s.ListSessions(), 2)
}

func TestLoadScenarioRejectsBadDocuments(t *testing.T) {
	cases := map[string]string{
		"empty":              ``,
		"missing session id": `nodes: [{id: A}]`,
		"duplicate node":     "session: {id: s}\nnodes: [{id: A}, {id: A}]",
		"dangling link":      "session: {id: s}\nnodes: [{id: A}]\nconnections: [{source: A, destination: Z}]",
		"self loop":          "session: {id: s}\nnodes: [{id: A}]\nconnections: [{source: A, destination: A}]",
		"dangling message":   "session: {id: s}\nnodes: [{id: A}]\nmessages: [{source: A, destination: Z}]",
		"unknown anomaly":    "session: {id: s}\nnodes: [{id: A}]\nanomalies: [{type: gremlins}]",
		"bad probability":    "session: {id: s}\nnodes: [{id: A}]\nanomalies: [{type: delay, probability: 1.5}]",
		"unknown scope node": "session: {id: s}\nnodes: [{id: A}]\nanomalies: [{type: delay, node: Z}]",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			s := NewStore()
			_, err := LoadScenario(s, strings.NewReader(doc))
			require.ErrorIs(t, err, ErrInvalidScenario)
			require.Empty(t, s.ListSessions())
		})
	}

	_, err := LoadScenario(NewStore(), strings.NewReader("session: [unclosed"))
	require.Error(t, err)
	_, err = LoadScenario(nil, strings.NewReader(labScenario))
	require.Error(t, err)
}

func TestLoadScenarioFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lab.yaml")
	require.NoError(t, os.WriteFile(path, []byte(labScenario), 0o600))

	s := NewStore()
	_, err := LoadScenarioFile(s, path)
	require.NoError(t, err)
	_, err = s.GetSession("lab-1")
	require.NoError(t, err)

	_, err = LoadScenarioFile(s, filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
