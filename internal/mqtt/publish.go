package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
)

// Maximum payload size for broker messages (1MB). Aligns with typical
// broker limits.
const maxPayloadSize = 1 << 20

// Publish sends a message to the given topic.
//
// Payloads that are not []byte or string are serialized to JSON before
// sending. Publish fails with ErrNotConnected when the client has no live
// connection; callers are responsible for connecting first.
func (c *Client) Publish(ctx context.Context, topic string, payload any, qos byte, retain bool) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}

	body, err := encodePayload(payload)
	if err != nil {
		return fmt.Errorf("%w: encode payload: %w", ErrPublishFailed, err)
	}
	if len(body) > maxPayloadSize {
		return fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrPublishFailed, len(body), maxPayloadSize)
	}

	c.mu.Lock()
	paho := c.paho
	connected := c.status == StatusConnected
	c.mu.Unlock()
	if !connected {
		return ErrNotConnected
	}

	token := paho.Publish(topic, qos, retain, body)
	if err := waitToken(ctx, token, defaultOpTimeout); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return nil
}

func encodePayload(payload any) ([]byte, error) {
	switch p := payload.(type) {
	case []byte:
		return p, nil
	case string:
		return []byte(p), nil
	default:
		return json.Marshal(p)
	}
}
