package engine

import (
	"testing"
	"time"

	"github.com/signalsfoundry/netlab-simulator/model"
	"github.com/stretchr/testify/require"
)

func TestSummaryAggregatesOutcomes(t *testing.T) {
	s := Summary{TotalMessages: 5}
	s.record(walkResult{Outcome: model.EventPacketDelivered, Elapsed: 20 * time.Millisecond})
	s.record(walkResult{Outcome: model.EventPacketDelivered, Elapsed: 40 * time.Millisecond, Corrupted: true})
	s.record(walkResult{Outcome: model.EventPacketLost})
	s.record(walkResult{Outcome: model.EventPacketMisdelivered})
	s.record(walkResult{}) // aborted walk

	require.Equal(t, 4, s.Processed())
	require.Equal(t, 0.4, s.SuccessRate())
	require.Equal(t, 30*time.Millisecond, s.AverageDeliveryTime())

	p := s.Payload()
	require.Equal(t, 2, p["delivered"])
	require.Equal(t, 1, p["lost"])
	require.Equal(t, 1, p["misdelivered"])
	require.Equal(t, 0, p["failed"])
	require.Equal(t, 1, p["corrupted"])
	require.Equal(t, 30.0, p["average_delivery_time_ms"])
}

func TestEmptySummary(t *testing.T) {
	var s Summary
	require.Zero(t, s.SuccessRate())
	require.Zero(t, s.AverageDeliveryTime())
}
