package servicecall

import (
	"time"

	"github.com/google/uuid"
)

// Envelope is the wire form of a submitted service call for buses that carry
// JSON messages (MQTT, Redis streams).
type Envelope struct {
	RequestID   string         `json:"request_id"`
	Domain      string         `json:"domain"`
	Service     string         `json:"service"`
	ServiceData map[string]any `json:"service_data"`
	Blocking    bool           `json:"blocking"`
	IssuedAt    time.Time      `json:"issued_at"`
}

func NewEnvelope(domain, action string, payload map[string]any, blocking bool) Envelope {
	return Envelope{
		RequestID:   uuid.NewString(),
		Domain:      domain,
		Service:     action,
		ServiceData: payload,
		Blocking:    blocking,
		IssuedAt:    time.Now().UTC(),
	}
}
