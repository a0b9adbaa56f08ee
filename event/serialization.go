package event

import (
	"encoding/json"
	"fmt"
	"time"
)

// KafkaEventPayload Kafka 消息格式
type KafkaEventPayload struct {
	EventName  string          `json:"event_name"`
	Payload    json.RawMessage `json:"payload"`
	OccurredAt time.Time       `json:"occurred_at"`
	TraceID    string          `json:"trace_id,omitempty"`
}

// SerializeEvent 序列化事件
func SerializeEvent(event Event, traceID string, now time.Time) (*KafkaEventPayload, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("marshal event failed: %w", err)
	}
	return &KafkaEventPayload{
		EventName:  event.Name(),
		Payload:    payload,
		OccurredAt: now,
		TraceID:    traceID,
	}, nil
}
