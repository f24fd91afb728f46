package engine

import (
	"time"

	"github.com/signalsfoundry/netlab-simulator/model"
)

// Summary aggregates the terminal outcomes of one run.
type Summary struct {
	TotalMessages int `json:"total_messages"`
	Delivered     int `json:"delivered"`
	Lost          int `json:"lost"`
	Misdelivered  int `json:"misdelivered"`
	Failed        int `json:"failed"`
	Corrupted     int `json:"corrupted"`

	deliveryTime time.Duration
}

// record folds one walk into the summary. Walks aborted by cancellation
// carry no outcome and are ignored.
func (s *Summary) record(res walkResult) {
	switch res.Outcome {
	case model.EventPacketDelivered:
		s.Delivered++
		s.deliveryTime += res.Elapsed
	case model.EventPacketLost:
		s.Lost++
	case model.EventPacketMisdelivered:
		s.Misdelivered++
	case model.EventPacketFailed:
		s.Failed++
	default:
		return
	}
	if res.Corrupted {
		s.Corrupted++
	}
}

// Processed returns how many messages reached a terminal outcome.
func (s Summary) Processed() int {
	return s.Delivered + s.Lost + s.Misdelivered + s.Failed
}

// SuccessRate is the delivered share of all messages in the run, in [0, 1].
func (s Summary) SuccessRate() float64 {
	if s.TotalMessages == 0 {
		return 0
	}
	return float64(s.Delivered) / float64(s.TotalMessages)
}

// AverageDeliveryTime is the mean simulated path delay of delivered
// messages, before speed scaling.
func (s Summary) AverageDeliveryTime() time.Duration {
	if s.Delivered == 0 {
		return 0
	}
	return s.deliveryTime / time.Duration(s.Delivered)
}

// Payload renders the summary for the simulation-completed event.
func (s Summary) Payload() map[string]any {
	return map[string]any{
		"total_messages":           s.TotalMessages,
		"delivered":                s.Delivered,
		"lost":                     s.Lost,
		"misdelivered":             s.Misdelivered,
		"failed":                   s.Failed,
		"corrupted":                s.Corrupted,
		"success_rate":             s.SuccessRate(),
		"average_delivery_time_ms": float64(s.AverageDeliveryTime()) / float64(time.Millisecond),
	}
}
