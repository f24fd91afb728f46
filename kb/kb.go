// Package kb is the in-memory store of classroom sessions: the nodes,
// connections, messages and anomaly rules a student has built. The engine
// never reads it directly; callers copy snapshots out with SimulationInput.
package kb

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/signalsfoundry/netlab-simulator/model"
)

var (
	ErrSessionNotFound     = errors.New("session not found")
	ErrInvalidSession      = errors.New("invalid session")
	ErrMessageNotFound     = errors.New("one or more messages not found")
	ErrNoNodes             = errors.New("no nodes found in session")
	ErrNoActiveConnections = errors.New("no active connections found in session")
	ErrNoMessages          = errors.New("no messages to simulate")
)

// Session is one student's lab: a topology plus the traffic and impairments
// they want to observe.
type Session struct {
	ID          string
	Name        string
	Description string
	Nodes       []model.NodeSnapshot
	Connections []model.ConnectionSnapshot
	Messages    []model.MessageSnapshot
	Anomalies   []model.AnomalyRule
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// SimulationInput is the set of read-only snapshots handed to the engine
// for one run.
type SimulationInput struct {
	SessionID   string
	Nodes       []model.NodeSnapshot
	Connections []model.ConnectionSnapshot
	Messages    []model.MessageSnapshot
	Anomalies   []model.AnomalyRule
}

// Store is an in-memory, thread-safe session store.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	now      func() time.Time
}

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{
		sessions: make(map[string]*Session),
		now:      time.Now,
	}
}

// PutSession creates or replaces a session. CreatedAt survives replacement.
func (s *Store) PutSession(sess Session) error {
	if sess.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidSession)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	stored := cloneSession(sess)
	stored.UpdatedAt = now
	if prev, ok := s.sessions[sess.ID]; ok {
		stored.CreatedAt = prev.CreatedAt
	} else if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	s.sessions[sess.ID] = &stored
	return nil
}

// GetSession returns a copy of the session with the given ID.
func (s *Store) GetSession(id string) (Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return Session{}, fmt.Errorf("%w: %q", ErrSessionNotFound, id)
	}
	return cloneSession(*sess), nil
}

// DeleteSession removes a session.
func (s *Store) DeleteSession(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[id]; !ok {
		return fmt.Errorf("%w: %q", ErrSessionNotFound, id)
	}
	delete(s.sessions, id)
	return nil
}

// ListSessions returns copies of all sessions sorted by ID.
func (s *Store) ListSessions() []Session {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, cloneSession(*sess))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// SimulationInput gathers the snapshots for a run of sessionID.
//
// messageIDs selects messages in the order given; an empty list selects
// every message of the session in stored order. Only active connections are
// returned. With enableAnomalies false the rule list is empty, otherwise it
// holds the rules that are active and unexpired at now.
func (s *Store) SimulationInput(sessionID string, messageIDs []string, enableAnomalies bool, now time.Time) (SimulationInput, error) {
	sess, err := s.GetSession(sessionID)
	if err != nil {
		return SimulationInput{}, err
	}

	in := SimulationInput{SessionID: sessionID, Nodes: sess.Nodes}

	if len(messageIDs) == 0 {
		in.Messages = sess.Messages
	} else {
		byID := make(map[string]model.MessageSnapshot, len(sess.Messages))
		for _, m := range sess.Messages {
			byID[m.ID] = m
		}
		var missing []string
		for _, id := range messageIDs {
			m, ok := byID[id]
			if !ok {
				missing = append(missing, id)
				continue
			}
			in.Messages = append(in.Messages, m)
		}
		if len(missing) > 0 {
			return SimulationInput{}, fmt.Errorf("%w: %v", ErrMessageNotFound, missing)
		}
	}
	if len(in.Messages) == 0 {
		return SimulationInput{}, ErrNoMessages
	}

	if len(in.Nodes) == 0 {
		return SimulationInput{}, ErrNoNodes
	}

	for _, c := range sess.Connections {
		if c.IsActive() {
			in.Connections = append(in.Connections, c)
		}
	}
	if len(in.Connections) == 0 {
		return SimulationInput{}, ErrNoActiveConnections
	}

	if enableAnomalies {
		for _, r := range sess.Anomalies {
			if r.Live(now) {
				in.Anomalies = append(in.Anomalies, r)
			}
		}
	}
	return in, nil
}

func cloneSession(sess Session) Session {
	out := sess
	out.Nodes = append([]model.NodeSnapshot(nil), sess.Nodes...)
	out.Connections = append([]model.ConnectionSnapshot(nil), sess.Connections...)
	out.Messages = append([]model.MessageSnapshot(nil), sess.Messages...)
	out.Anomalies = make([]model.AnomalyRule, len(sess.Anomalies))
	for i, r := range sess.Anomalies {
		out.Anomalies[i] = cloneRule(r)
	}
	return out
}

func cloneRule(r model.AnomalyRule) model.AnomalyRule {
	if r.Parameters != nil {
		params := make(map[string]any, len(r.Parameters))
		for k, v := range r.Parameters {
			params[k] = v
		}
		r.Parameters = params
	}
	if r.ExpiresAt != nil {
		t := *r.ExpiresAt
		r.ExpiresAt = &t
	}
	return r
}
