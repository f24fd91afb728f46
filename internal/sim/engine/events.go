package engine

import (
	"github.com/signalsfoundry/netlab-simulator/model"
)

// Reasons carried by packet-failed and packet-lost payloads.
const (
	ReasonNoPath         = "No path available"
	ReasonPacketLoss     = "Packet lost"
	ReasonConnectionLoss = "Connection lost"
	internalErrorPrefix  = "internal error: "
)

func startedPayload(runID string, messageCount int) map[string]any {
	return map[string]any{
		"simulation_id": runID,
		"message_count": messageCount,
	}
}

func completedPayload(runID string, s Summary) map[string]any {
	return map[string]any{
		"simulation_id": runID,
		"summary":       s.Payload(),
	}
}

func errorPayload(runID string, err error) map[string]any {
	return map[string]any{
		"simulation_id": runID,
		"error":         err.Error(),
	}
}

func sentPayload(msg model.MessageSnapshot, path []string) map[string]any {
	return map[string]any{
		"message_id":          msg.ID,
		"source_node_id":      msg.SourceID,
		"destination_node_id": msg.DestinationID,
		"path":                append([]string(nil), path...),
		"packet_size":         msg.SizeBytes,
	}
}

func arrivedPayload(messageID, from, to string, corrupted bool, delayMs float64) map[string]any {
	return map[string]any{
		"message_id":      messageID,
		"current_node_id": to,
		"from_node_id":    from,
		"is_corrupted":    corrupted,
		"delay_ms":        delayMs,
	}
}

func lostPayload(messageID, at, reason string) map[string]any {
	return map[string]any{
		"message_id":      messageID,
		"lost_at_node_id": at,
		"reason":          reason,
	}
}

func failedPayload(messageID, reason string) map[string]any {
	return map[string]any{
		"message_id": messageID,
		"reason":     reason,
	}
}

func misdeliveredPayload(msg model.MessageSnapshot, actual string) map[string]any {
	return map[string]any{
		"message_id":           msg.ID,
		"intended_destination": msg.DestinationID,
		"actual_destination":   actual,
	}
}

func deliveredPayload(msg model.MessageSnapshot, path []string) map[string]any {
	return map[string]any{
		"message_id":          msg.ID,
		"destination_node_id": msg.DestinationID,
		"path_taken":          append([]string(nil), path...),
	}
}
