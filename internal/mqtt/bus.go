package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/homenavi/llm-service-bridge/internal/servicecall"
)

// DefaultTopicPrefix is where service calls are published as
// <prefix>/<domain>/<service>.
const DefaultTopicPrefix = "homenavi/llmbridge/services"

// Bus submits service calls as MQTT messages. Acceptance means the client has
// handed the message to the broker at the configured QoS.
type Bus struct {
	client ClientAPI
	prefix string
	qos    byte
}

func NewBus(client ClientAPI, prefix string, qos byte) *Bus {
	prefix = strings.TrimSuffix(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	if qos > 2 {
		qos = 1
	}
	return &Bus{client: client, prefix: prefix, qos: qos}
}

func (b *Bus) Topic(domain, action string) string {
	return b.prefix + "/" + domain + "/" + action
}

func (b *Bus) Dispatch(ctx context.Context, domain, action string, payload map[string]any, blocking bool) error {
	data, err := json.Marshal(servicecall.NewEnvelope(domain, action, payload, blocking))
	if err != nil {
		return fmt.Errorf("encode service call: %w", err)
	}
	return b.client.PublishContext(ctx, b.Topic(domain, action), b.qos, data)
}
