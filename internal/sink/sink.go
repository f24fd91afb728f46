// Package sink fans simulation events out to viewers. The engine only sees
// Publisher; Broker, Hub and Recorder are the concrete collaborators.
package sink

import (
	"context"

	"github.com/signalsfoundry/netlab-simulator/model"
)

// Publisher accepts simulation events keyed by their SessionID. Publish must
// not block on slow receivers.
type Publisher interface {
	Publish(ctx context.Context, ev model.SimulationEvent)
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, ev model.SimulationEvent)

// Publish calls f(ctx, ev).
func (f PublisherFunc) Publish(ctx context.Context, ev model.SimulationEvent) {
	f(ctx, ev)
}

// Tee returns a Publisher that hands every event to each non-nil publisher
// in order.
func Tee(publishers ...Publisher) Publisher {
	var out []Publisher
	for _, p := range publishers {
		if p != nil {
			out = append(out, p)
		}
	}
	return tee(out)
}

type tee []Publisher

func (t tee) Publish(ctx context.Context, ev model.SimulationEvent) {
	for _, p := range t {
		p.Publish(ctx, ev)
	}
}

// Discard drops every event.
var Discard Publisher = PublisherFunc(func(context.Context, model.SimulationEvent) {})
