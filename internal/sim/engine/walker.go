package engine

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/signalsfoundry/netlab-simulator/core"
	"github.com/signalsfoundry/netlab-simulator/model"
	"github.com/signalsfoundry/netlab-simulator/timectrl"
)

// emitFunc publishes one event for the owning run. It returns false when the
// run has been stopped and the event was suppressed.
type emitFunc func(ctx context.Context, kind model.EventKind, messageID string, nodeIDs []string, payload map[string]any) bool

// walkResult describes how far one message got.
type walkResult struct {
	Outcome   model.EventKind // terminal kind, empty when the walk was aborted
	Path      []string
	Elapsed   time.Duration // sum of simulated hop delays
	Corrupted bool
}

// walker moves messages hop by hop across one run's topology. It is owned by
// a single run goroutine.
type walker struct {
	topo    *core.Topology
	policy  *core.PolicySet
	clock   timectrl.Clock
	metrics MetricsRecorder
	cfg     Config
	speed   float64
	emit    emitFunc
	stopped func() bool
}

func (w *walker) cancelled(ctx context.Context) bool {
	return ctx.Err() != nil || w.stopped()
}

// walk runs the Routing -> Traversing -> terminal state machine for msg.
// A panic anywhere below is returned as err with res describing the progress
// made so far, including whether a terminal event already went out.
func (w *walker) walk(ctx context.Context, msg model.MessageSnapshot) (res walkResult, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%v", rec)
		}
	}()

	paths := w.topo.AllSimplePaths(msg.SourceID, msg.DestinationID, w.cfg.MaxHops, w.cfg.MaxPaths)
	if len(paths) == 0 {
		w.finish(ctx, &res, model.EventPacketFailed, msg.ID, []string{msg.SourceID},
			failedPayload(msg.ID, ReasonNoPath))
		return res, nil
	}

	path := paths[0]
	res.Path = path
	w.emit(ctx, model.EventPacketSent, msg.ID, []string{msg.SourceID}, sentPayload(msg, path))

	// lastConn is the connection the packet last traversed, which scopes
	// the wrong-delivery decision at the destination.
	var lastConn string
	for i := 0; i+1 < len(path); i++ {
		if w.cancelled(ctx) {
			return res, nil
		}
		current, next := path[i], path[i+1]

		edge, ok := w.topo.EdgeInfo(current, next)
		if !ok {
			continue
		}
		hop := core.Hop{NodeID: current, ConnectionID: edge.ConnectionID}

		baseMs := edge.LatencyMs
		if baseMs < 0 || math.IsNaN(baseMs) || math.IsInf(baseMs, 0) {
			baseMs = float64(w.cfg.DefaultHopDelay) / float64(time.Millisecond)
		}

		if w.policy.ConnectionLoss(hop) {
			w.finish(ctx, &res, model.EventPacketLost, msg.ID, []string{current},
				lostPayload(msg.ID, current, ReasonConnectionLoss))
			return res, nil
		}
		if w.policy.PacketLoss(hop) {
			w.finish(ctx, &res, model.EventPacketLost, msg.ID, []string{current},
				lostPayload(msg.ID, current, ReasonPacketLoss))
			return res, nil
		}

		delayMs := w.policy.Delay(hop, baseMs)
		corrupted := w.policy.Corruption(hop)
		res.Corrupted = res.Corrupted || corrupted

		w.emit(ctx, model.EventPacketArrived, msg.ID, []string{next},
			arrivedPayload(msg.ID, current, next, corrupted, delayMs))

		delay := timectrl.Millis(delayMs)
		res.Elapsed += delay
		w.metrics.ObserveHopDelay(delay)
		if w.clock.Sleep(ctx, timectrl.Scale(delay, w.speed)) != nil {
			return res, nil
		}
		lastConn = edge.ConnectionID
	}

	if w.cancelled(ctx) {
		return res, nil
	}

	last := path[len(path)-1]
	if actual, ok := w.policy.WrongDelivery(core.Hop{NodeID: last, ConnectionID: lastConn}, w.topo.NodeIDs()); ok && actual != msg.DestinationID {
		w.finish(ctx, &res, model.EventPacketMisdelivered, msg.ID, []string{actual},
			misdeliveredPayload(msg, actual))
		return res, nil
	}

	w.finish(ctx, &res, model.EventPacketDelivered, msg.ID, []string{msg.DestinationID},
		deliveredPayload(msg, path))
	return res, nil
}

// finish emits a terminal event and records it on res when it went out.
func (w *walker) finish(ctx context.Context, res *walkResult, kind model.EventKind, messageID string, nodeIDs []string, payload map[string]any) {
	if w.emit(ctx, kind, messageID, nodeIDs, payload) {
		res.Outcome = kind
	}
}
