package kb

import (
	"testing"
	"time"

	"github.com/signalsfoundry/netlab-simulator/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func labSession() Session {
	return Session{
		ID:   "lab-1",
		Name: "Intro",
		Nodes: []model.NodeSnapshot{
			{ID: "A", Status: model.NodeStatusActive},
			{ID: "B", Status: model.NodeStatusActive},
		},
		Connections: []model.ConnectionSnapshot{
			{ID: "ab", SourceID: "A", DestinationID: "B", LatencyMs: 10, Status: model.ConnectionStatusActive},
			{ID: "ab-down", SourceID: "A", DestinationID: "B", Status: model.ConnectionStatusInactive},
		},
		Messages: []model.MessageSnapshot{
			{ID: "m1", SourceID: "A", DestinationID: "B"},
			{ID: "m2", SourceID: "B", DestinationID: "A"},
		},
		Anomalies: []model.AnomalyRule{
			{ID: "loss", Kind: model.AnomalyPacketLoss, Probability: 0.5, Active: true,
				Parameters: map[string]any{"note": "x"}},
			{ID: "off", Kind: model.AnomalyDelay, Probability: 1, Active: false},
		},
	}
}

func TestPutGetReturnsCopies(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.PutSession(labSession()))

	got, err := s.GetSession("lab-1")
	require.NoError(t, err)
	require.Len(t, got.Nodes, 2)
	require.False(t, got.CreatedAt.IsZero())

	got.Nodes[0].ID = "mutated"
	got.Anomalies[0].Parameters["note"] = "changed"

	again, err := s.GetSession("lab-1")
	require.NoError(t, err)
	assert.Equal(t, "A", again.Nodes[0].ID)
	assert.Equal(t, "x", again.Anomalies[0].Parameters["note"])
}

func TestPutSessionKeepsCreatedAt(t *testing.T) {
	s := NewStore()
	first := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return first }
	require.NoError(t, s.PutSession(labSession()))

	s.now = func() time.Time { return first.Add(time.Hour) }
	require.NoError(t, s.PutSession(labSession()))

	got, err := s.GetSession("lab-1")
	require.NoError(t, err)
	assert.Equal(t, first, got.CreatedAt)
	assert.Equal(t, first.Add(time.Hour), got.UpdatedAt)
}

func TestSessionErrors(t *testing.T) {
	s := NewStore()
	require.ErrorIs(t, s.PutSession(Session{}), ErrInvalidSession)

	_, err := s.GetSession("missing")
	require.ErrorIs(t, err, ErrSessionNotFound)
	require.ErrorIs(t, s.DeleteSession("missing"), ErrSessionNotFound)

	require.NoError(t, s.PutSession(labSession()))
	require.NoError(t, s.DeleteSession("lab-1"))
	require.Empty(t, s.ListSessions())
}

func TestListSessionsSorted(t *testing.T) {
	s := NewStore()
	for _, id := range []string{"lab-3", "lab-1", "lab-2"} {
		require.NoError(t, s.PutSession(Session{ID: id}))
	}
	var ids []string
	for _, sess := range s.ListSessions() {
		ids = append(ids, sess.ID)
	}
	require.Equal(t, []string{"lab-1", "lab-2", "lab-3"}, ids)
}

func TestSimulationInputSelectsMessagesInRequestOrder(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.PutSession(labSession()))

	in, err := s.SimulationInput("lab-1", []string{"m2", "m1"}, true, time.Now())
	require.NoError(t, err)
	require.Equal(t, "m2", in.Messages[0].ID)
	require.Equal(t, "m1", in.Messages[1].ID)
	require.Len(t, in.Connections, 1, "inactive connections are not handed over")
	require.Len(t, in.Anomalies, 1, "inactive rules are not handed over")
	require.Equal(t, "loss", in.Anomalies[0].ID)

	all, err := s.SimulationInput("lab-1", nil, false, time.Now())
	require.NoError(t, err)
	require.Len(t, all.Messages, 2)
	require.Empty(t, all.Anomalies)
}

func TestSimulationInputDropsExpiredRules(t *testing.T) {
	s := NewStore()
	sess := labSession()
	expiry := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	sess.Anomalies[0].ExpiresAt = &expiry
	require.NoError(t, s.PutSession(sess))

	in, err := s.SimulationInput("lab-1", nil, true, expiry.Add(time.Second))
	require.NoError(t, err)
	require.Empty(t, in.Anomalies)

	in, err = s.SimulationInput("lab-1", nil, true, expiry.Add(-time.Second))
	require.NoError(t, err)
	require.Len(t, in.Anomalies, 1)
}

func TestSimulationInputErrors(t *testing.T) {
	s := NewStore()
	_, err := s.SimulationInput("missing", nil, true, time.Now())
	require.ErrorIs(t, err, ErrSessionNotFound)

	require.NoError(t, s.PutSession(labSession()))
	_, err = s.SimulationInput("lab-1", []string{"m1", "nope"}, true, time.Now())
	require.ErrorIs(t, err, ErrMessageNotFound)

	require.NoError(t, s.PutSession(Session{ID: "empty", Messages: []model.MessageSnapshot{{ID: "m1"}}}))
	_, err = s.SimulationInput("empty", nil, true, time.Now())
	require.ErrorIs(t, err, ErrNoNodes)

	require.NoError(t, s.PutSession(Session{ID: "quiet", Nodes: labSession().Nodes}))
	_, err = s.SimulationInput("quiet", nil, true, time.Now())
	require.ErrorIs(t, err, ErrNoMessages)

	cut := labSession()
	cut.ID = "cut"
	cut.Connections = cut.Connections[1:]
	require.NoError(t, s.PutSession(cut))
	_, err = s.SimulationInput("cut", nil, true, time.Now())
	require.ErrorIs(t, err, ErrNoActiveConnections)
}
