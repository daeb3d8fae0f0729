package event

import (
	"time"

	"github.com/google/uuid"
)

// Event represents a domain event raised by a case transition. Events are
// published only after the transition they describe has been committed, so
// consumers may treat them as facts.
type Event struct {
	ID            string                 `json:"id"`
	Type          Type                   `json:"type"`
	InstanceID    string                 `json:"instance_id"`
	TemplateCode  string                 `json:"template_code"`
	Actor         string                 `json:"actor"`
	Payload       map[string]interface{} `json:"payload"`
	Timestamp     time.Time              `json:"timestamp"`
	CorrelationID string                 `json:"correlation_id"`
}

// New creates a domain event with an auto-generated ID. The timestamp is
// supplied by the caller so events carry the same clock as the transition
// they describe.
func New(eventType Type, instanceID, templateCode, actor string, payload map[string]interface{}, at time.Time) *Event {
	return &Event{
		ID:            uuid.NewString(),
		Type:          eventType,
		InstanceID:    instanceID,
		TemplateCode:  templateCode,
		Actor:         actor,
		Payload:       payload,
		Timestamp:     at,
		CorrelationID: uuid.NewString(),
	}
}

// WithCorrelation returns a copy of the event linked to a correlation chain
func (e *Event) WithCorrelation(correlationID string) *Event {
	clone := *e
	clone.CorrelationID = correlationID
	return &clone
}

// GetPayloadString retrieves a string value from the payload
func (e *Event) GetPayloadString(key string) string {
	if val, ok := e.Payload[key]; ok {
		if str, ok := val.(string); ok {
			return str
		}
	}
	return ""
}

// GetPayloadInt retrieves an int value from the payload
func (e *Event) GetPayloadInt(key string) int {
	if val, ok := e.Payload[key]; ok {
		switch v := val.(type) {
		case int:
			return v
		case int64:
			return int(v)
		case float64:
			return int(v)
		}
	}
	return 0
}
