package mqtt

import (
	"fmt"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// subackFailure is the SUBACK return code for a rejected filter.
const subackFailure = 0x80

// Subscribe registers a handler for messages matching a topic filter.
//
// Parameters:
//   - topic: Topic filter, may contain + and # wildcards
//   - qos: Maximum QoS level for received messages (0, 1, or 2)
//   - handler: Callback invoked for each message
//
// Returns:
//   - error: ErrInvalidTopic, ErrInvalidQoS, ErrNotConnected, or ErrSubscribeFailed
func (c *Client) Subscribe(topic string, qos byte, handler MessageHandler) error {
	return c.SubscribeAll([]string{topic}, qos, handler)
}

// SubscribeAll subscribes to several filters with one SUBSCRIBE packet,
// sharing a single handler. Either all filters are tracked or none are.
func (c *Client) SubscribeAll(topics []string, qos byte, handler MessageHandler) error {
	if len(topics) == 0 {
		return ErrInvalidTopic
	}
	for _, topic := range topics {
		if err := ValidatePattern(topic); err != nil {
			return err
		}
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if handler == nil {
		return fmt.Errorf("%w: handler cannot be nil", ErrSubscribeFailed)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	filters := make(map[string]byte, len(topics))
	for _, topic := range topics {
		filters[topic] = qos
	}

	token := c.client.SubscribeMultiple(filters, c.wrapHandler(handler))
	if !token.WaitTimeout(defaultSubscribeTimeout) {
		return fmt.Errorf("%w: %w after %v", ErrSubscribeFailed, ErrTimeout, defaultSubscribeTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrSubscribeFailed, err)
	}
	if st, ok := token.(*pahomqtt.SubscribeToken); ok {
		for topic, code := range st.Result() {
			if code == subackFailure {
				return fmt.Errorf("%w: broker rejected %q", ErrSubscribeFailed, topic)
			}
		}
	}

	c.subMu.Lock()
	for _, topic := range topics {
		c.subscriptions[topic] = subscription{topic: topic, qos: qos, handler: handler}
	}
	c.subMu.Unlock()

	return nil
}

// Unsubscribe removes a subscription. Messages already in flight may
// still be delivered to the old handler.
func (c *Client) Unsubscribe(topic string) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	c.subMu.Lock()
	delete(c.subscriptions, topic)
	c.subMu.Unlock()

	token := c.client.Unsubscribe(topic)
	if !token.WaitTimeout(defaultSubscribeTimeout) {
		return fmt.Errorf("%w: %w after %v", ErrUnsubscribeFailed, ErrTimeout, defaultSubscribeTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrUnsubscribeFailed, err)
	}
	return nil
}

// SubscriptionCount returns the number of tracked subscriptions.
func (c *Client) SubscriptionCount() int {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	return len(c.subscriptions)
}

// HasSubscription checks for an exact filter string, not a pattern match.
func (c *Client) HasSubscription(topic string) bool {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	_, exists := c.subscriptions[topic]
	return exists
}
