package core

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/signalsfoundry/netlab-simulator/model"
)

// DefaultAdditionalDelayMs is applied by a firing delay rule that does not
// carry an additional_delay_ms parameter.
const DefaultAdditionalDelayMs = 1000.0

// RandSource is the randomness a PolicySet draws from. *math/rand.Rand
// satisfies it.
type RandSource interface {
	Float64() float64
	Intn(n int) int
}

// FiringObserver is notified whenever a rule fires.
type FiringObserver interface {
	ObserveAnomaly(kind model.AnomalyKind)
}

// Hop identifies where along a path a decision is made: the node the packet
// is currently at and, when known, the connection it is about to traverse.
type Hop struct {
	NodeID       string
	ConnectionID string
}

// PolicySet holds the live anomaly rules of one simulation run and decides,
// per hop, whether a rule fires.
//
// Rules are scanned in insertion order and the first firing rule wins. A
// PolicySet is not safe for concurrent use; each run owns its own.
type PolicySet struct {
	rules    []model.AnomalyRule
	rng      RandSource
	observer FiringObserver
}

// PolicyOption customises PolicySet construction.
type PolicyOption func(*PolicySet)

// WithFiringObserver attaches an observer for fired rules.
func WithFiringObserver(o FiringObserver) PolicyOption {
	return func(p *PolicySet) {
		p.observer = o
	}
}

// NewPolicySet keeps the rules that are active and unexpired at now.
func NewPolicySet(rules []model.AnomalyRule, now time.Time, rng RandSource, opts ...PolicyOption) *PolicySet {
	p := &PolicySet{rng: rng}
	for _, r := range rules {
		if !r.Live(now) {
			continue
		}
		p.rules = append(p.rules, r)
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// Rules returns a copy of the live rules in evaluation order.
func (p *PolicySet) Rules() []model.AnomalyRule {
	return append([]model.AnomalyRule(nil), p.rules...)
}

// Len returns the number of live rules.
func (p *PolicySet) Len() int { return len(p.rules) }

// PacketLoss reports whether the packet is dropped at hop.
func (p *PolicySet) PacketLoss(hop Hop) bool {
	_, ok := p.firstFiring(model.AnomalyPacketLoss, hop)
	return ok
}

// ConnectionLoss reports whether the link leaving hop fails under the packet.
func (p *PolicySet) ConnectionLoss(hop Hop) bool {
	_, ok := p.firstFiring(model.AnomalyConnectionLoss, hop)
	return ok
}

// Corruption reports whether the packet is corrupted at hop.
func (p *PolicySet) Corruption(hop Hop) bool {
	_, ok := p.firstFiring(model.AnomalyCorruption, hop)
	return ok
}

// Delay returns baseMs plus the additional delay of the first firing delay
// rule, or baseMs when none fires.
func (p *PolicySet) Delay(hop Hop, baseMs float64) float64 {
	rule, ok := p.firstFiring(model.AnomalyDelay, hop)
	if !ok {
		return baseMs
	}
	return baseMs + additionalDelayMs(rule)
}

// WrongDelivery returns a node chosen uniformly from candidates when a
// wrong-delivery rule fires at hop.
func (p *PolicySet) WrongDelivery(hop Hop, candidates []string) (string, bool) {
	if len(candidates) == 0 {
		return "", false
	}
	if _, ok := p.firstFiring(model.AnomalyWrongDelivery, hop); !ok {
		return "", false
	}
	return candidates[p.rng.Intn(len(candidates))], true
}

// firstFiring draws independently for each in-scope rule of kind until one
// fires.
func (p *PolicySet) firstFiring(kind model.AnomalyKind, hop Hop) (model.AnomalyRule, bool) {
	if p == nil {
		return model.AnomalyRule{}, false
	}
	for _, r := range p.rules {
		if r.Kind != kind || !inScope(r, hop) {
			continue
		}
		if p.rng.Float64() < r.Probability {
			if p.observer != nil {
				p.observer.ObserveAnomaly(kind)
			}
			return r, true
		}
	}
	return model.AnomalyRule{}, false
}

func inScope(r model.AnomalyRule, hop Hop) bool {
	if r.AffectedNodeID != "" && r.AffectedNodeID != hop.NodeID {
		return false
	}
	if r.AffectedConnectionID != "" && r.AffectedConnectionID != hop.ConnectionID {
		return false
	}
	return true
}

func additionalDelayMs(r model.AnomalyRule) float64 {
	raw, ok := r.Parameters[model.ParamAdditionalDelayMs]
	if !ok {
		return DefaultAdditionalDelayMs
	}
	switch v := raw.(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case uint64:
		return float64(v)
	case json.Number:
		if f, err := v.Float64(); err == nil {
			return f
		}
	case string:
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return DefaultAdditionalDelayMs
}
