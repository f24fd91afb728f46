package core

import (
	"sort"

	"github.com/signalsfoundry/netlab-simulator/model"
)

// EdgeInfo carries the attributes of the active connection between two
// adjacent nodes.
type EdgeInfo struct {
	ConnectionID  string
	Type          string
	BandwidthMbps float64
	LatencyMs     float64
}

// Topology is an undirected, in-memory graph built from one session's node
// and connection snapshots. It is immutable after BuildTopology returns and
// is owned by a single simulation run.
type Topology struct {
	order     []string
	nodes     map[string]model.NodeSnapshot
	adjacency map[string][]string
	edges     map[edgeKey]EdgeInfo
}

type edgeKey struct {
	a, b string
}

func newEdgeKey(a, b string) edgeKey {
	if b < a {
		a, b = b, a
	}
	return edgeKey{a: a, b: b}
}

// BuildTopology constructs a Topology. Every node snapshot becomes a vertex;
// only connections with an active status become edges. A connection whose
// endpoint is not among nodes still contributes that endpoint as a bare
// vertex so that paths through it remain discoverable.
func BuildTopology(nodes []model.NodeSnapshot, connections []model.ConnectionSnapshot) *Topology {
	t := &Topology{
		nodes:     make(map[string]model.NodeSnapshot, len(nodes)),
		adjacency: make(map[string][]string, len(nodes)),
		edges:     make(map[edgeKey]EdgeInfo, len(connections)),
	}

	for _, n := range nodes {
		t.addVertex(n.ID)
		t.nodes[n.ID] = n
	}

	for _, c := range connections {
		if !c.IsActive() {
			continue
		}
		if c.SourceID == "" || c.DestinationID == "" || c.SourceID == c.DestinationID {
			continue
		}
		t.addVertex(c.SourceID)
		t.addVertex(c.DestinationID)

		key := newEdgeKey(c.SourceID, c.DestinationID)
		if _, exists := t.edges[key]; !exists {
			t.adjacency[c.SourceID] = append(t.adjacency[c.SourceID], c.DestinationID)
			t.adjacency[c.DestinationID] = append(t.adjacency[c.DestinationID], c.SourceID)
		}
		// A parallel connection replaces the attributes of the earlier one.
		t.edges[key] = EdgeInfo{
			ConnectionID:  c.ID,
			Type:          c.Type,
			BandwidthMbps: c.BandwidthMbps,
			LatencyMs:     c.LatencyMs,
		}
	}

	return t
}

func (t *Topology) addVertex(id string) {
	if _, ok := t.adjacency[id]; ok {
		return
	}
	t.adjacency[id] = nil
	t.order = append(t.order, id)
}

// HasNode reports whether id is a vertex.
func (t *Topology) HasNode(id string) bool {
	_, ok := t.adjacency[id]
	return ok
}

// Node returns the snapshot for id. Vertices added implicitly by a
// connection have no snapshot.
func (t *Topology) Node(id string) (model.NodeSnapshot, bool) {
	n, ok := t.nodes[id]
	return n, ok
}

// NodeIDs returns all vertex IDs in insertion order.
func (t *Topology) NodeIDs() []string {
	return append([]string(nil), t.order...)
}

// NodeCount returns the number of vertices.
func (t *Topology) NodeCount() int { return len(t.order) }

// EdgeCount returns the number of distinct undirected edges.
func (t *Topology) EdgeCount() int { return len(t.edges) }

// Neighbors returns the vertices adjacent to id in insertion order.
func (t *Topology) Neighbors(id string) []string {
	return append([]string(nil), t.adjacency[id]...)
}

// EdgeInfo returns the attributes of the edge between a and b.
func (t *Topology) EdgeInfo(a, b string) (EdgeInfo, bool) {
	info, ok := t.edges[newEdgeKey(a, b)]
	return info, ok
}

// ShortestPath returns a fewest-hop path from src to dst, inclusive of both
// endpoints. It returns false when either endpoint is absent or dst is
// unreachable.
func (t *Topology) ShortestPath(src, dst string) ([]string, bool) {
	if !t.HasNode(src) || !t.HasNode(dst) {
		return nil, false
	}
	if src == dst {
		return []string{src}, true
	}

	prev := map[string]string{src: ""}
	queue := []string{src}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range t.adjacency[cur] {
			if _, seen := prev[next]; seen {
				continue
			}
			prev[next] = cur
			if next == dst {
				return t.unwind(prev, src, dst), true
			}
			queue = append(queue, next)
		}
	}
	return nil, false
}

func (t *Topology) unwind(prev map[string]string, src, dst string) []string {
	var path []string
	for at := dst; ; at = prev[at] {
		path = append(path, at)
		if at == src {
			break
		}
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}

// AllSimplePaths enumerates simple paths from src to dst that use at most
// maxHops edges, sorted ascending by length (ties keep discovery order) and
// truncated to maxResults. A non-positive maxResults means no truncation.
// A missing endpoint or src == dst yields no paths.
func (t *Topology) AllSimplePaths(src, dst string, maxHops, maxResults int) [][]string {
	if !t.HasNode(src) || !t.HasNode(dst) || src == dst || maxHops < 1 {
		return nil
	}

	var (
		paths   [][]string
		path    = []string{src}
		visited = map[string]bool{src: true}
	)

	var walk func(cur string)
	walk = func(cur string) {
		for _, next := range t.adjacency[cur] {
			if visited[next] {
				continue
			}
			if next == dst {
				found := make([]string, len(path)+1)
				copy(found, path)
				found[len(path)] = dst
				paths = append(paths, found)
				continue
			}
			// Extending to next uses len(path) edges and reaching dst from
			// there takes at least one more.
			if len(path)+1 > maxHops {
				continue
			}
			visited[next] = true
			path = append(path, next)
			walk(next)
			path = path[:len(path)-1]
			visited[next] = false
		}
	}
	walk(src)

	sort.SliceStable(paths, func(i, j int) bool {
		return len(paths[i]) < len(paths[j])
	})
	if maxResults > 0 && len(paths) > maxResults {
		paths = paths[:maxResults]
	}
	return paths
}
