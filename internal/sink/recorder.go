package sink

import (
	"context"
	"sync"

	"github.com/signalsfoundry/netlab-simulator/model"
)

// Recorder keeps every published event in memory. The headless runner uses
// it to print a transcript, tests use it to assert ordering.
type Recorder struct {
	mu     sync.Mutex
	events []model.SimulationEvent
	notify chan struct{}
}

// NewRecorder returns an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{notify: make(chan struct{}, 1)}
}

// Publish appends ev.
func (r *Recorder) Publish(_ context.Context, ev model.SimulationEvent) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()

	select {
	case r.notify <- struct{}{}:
	default:
	}
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []model.SimulationEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.SimulationEvent(nil), r.events...)
}

// Kinds returns the kinds of the recorded events, optionally restricted to
// one message.
func (r *Recorder) Kinds(messageID string) []model.EventKind {
	var kinds []model.EventKind
	for _, ev := range r.Events() {
		if messageID != "" && ev.MessageID != messageID {
			continue
		}
		kinds = append(kinds, ev.Kind)
	}
	return kinds
}

// Len returns the number of recorded events.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

// WaitFor blocks until match accepts a recorded event or ctx is done.
func (r *Recorder) WaitFor(ctx context.Context, match func(model.SimulationEvent) bool) (model.SimulationEvent, bool) {
	seen := 0
	for {
		events := r.Events()
		for ; seen < len(events); seen++ {
			if match(events[seen]) {
				return events[seen], true
			}
		}
		select {
		case <-r.notify:
		case <-ctx.Done():
			return model.SimulationEvent{}, false
		}
	}
}

// Reset drops all recorded events.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}
