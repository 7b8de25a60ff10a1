package forward

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

const joinTimeout = 10 * time.Second

// Channel represents a Phoenix Channel subscription.
type Channel struct {
	client   *Client
	topic    string
	params   map[string]any
	handlers map[string][]MessageHandler
	mu       sync.RWMutex
	joinRef  string
	joined   bool
}

// MessageHandler processes incoming channel messages.
type MessageHandler func(payload json.RawMessage)

// reply is the payload of a phx_reply message.
type reply struct {
	Status   string          `json:"status"`
	Response json.RawMessage `json:"response"`
}

// NewChannel creates a channel for the given topic and registers it with c.
func NewChannel(c *Client, topic string, params map[string]any) *Channel {
	ch := &Channel{
		client:   c,
		topic:    topic,
		params:   params,
		handlers: make(map[string][]MessageHandler),
	}
	c.RegisterChannel(ch)
	return ch
}

// Topic returns the channel topic.
func (ch *Channel) Topic() string { return ch.topic }

// Join sends a phx_join message and waits for an ok reply.
func (ch *Channel) Join(timeout time.Duration) error {
	ref := ch.client.NextRef()

	payload := ch.params
	if payload == nil {
		payload = map[string]any{}
	}
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal join params: %w", err)
	}

	msg, err := ch.client.request(&PhoenixMessage{
		JoinRef: ref,
		Ref:     ref,
		Topic:   ch.topic,
		Event:   "phx_join",
		Payload: payloadBytes,
	}, timeout)
	if err != nil {
		return fmt.Errorf("join %s: %w", ch.topic, err)
	}
	if _, err := decodeReply(msg); err != nil {
		return fmt.Errorf("join %s: %w", ch.topic, err)
	}

	ch.mu.Lock()
	ch.joinRef = ref
	ch.joined = true
	ch.mu.Unlock()
	ch.client.logger.Debug("joined channel", "topic", ch.topic)
	return nil
}

// Leave sends a phx_leave message and stops routing messages to ch.
func (ch *Channel) Leave() error {
	ch.mu.Lock()
	joinRef := ch.joinRef
	ch.joined = false
	ch.mu.Unlock()

	ch.client.UnregisterChannel(ch)
	return ch.client.Send(&PhoenixMessage{
		JoinRef: joinRef,
		Ref:     ch.client.NextRef(),
		Topic:   ch.topic,
		Event:   "phx_leave",
		Payload: json.RawMessage(`{}`),
	})
}

// Push sends an event on this channel and waits for an ok reply. It
// includes the join_ref so the server routes the message to the right
// channel process.
func (ch *Channel) Push(event string, payload any, timeout time.Duration) (json.RawMessage, error) {
	ch.mu.RLock()
	joined, joinRef := ch.joined, ch.joinRef
	ch.mu.RUnlock()
	if !joined {
		return nil, fmt.Errorf("channel %s not joined", ch.topic)
	}

	msg, err := ch.client.PushWithJoinRef(ch.topic, joinRef, event, payload, timeout)
	if err != nil {
		return nil, err
	}
	response, err := decodeReply(msg)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", event, err)
	}
	return response, nil
}

// On registers a handler for a specific event.
func (ch *Channel) On(event string, handler MessageHandler) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.handlers[event] = append(ch.handlers[event], handler)
}

func (ch *Channel) handleMessage(msg *PhoenixMessage) {
	ch.mu.RLock()
	handlers := ch.handlers[msg.Event]
	ch.mu.RUnlock()

	for _, h := range handlers {
		go h(msg.Payload)
	}
}

func (ch *Channel) rejoin() error {
	ch.mu.Lock()
	ch.joined = false
	ch.mu.Unlock()
	return ch.Join(joinTimeout)
}

func decodeReply(msg *PhoenixMessage) (json.RawMessage, error) {
	var resp reply
	if err := json.Unmarshal(msg.Payload, &resp); err != nil {
		return nil, fmt.Errorf("unmarshal reply: %w", err)
	}
	if resp.Status != "ok" {
		return nil, fmt.Errorf("rejected: %s %s", resp.Status, string(resp.Response))
	}
	return resp.Response, nil
}
