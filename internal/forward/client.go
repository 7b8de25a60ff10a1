package forward

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// Client manages a WebSocket connection to a Phoenix server.
type Client struct {
	conn     *websocket.Conn
	url      string
	token    string
	msgRef   atomic.Int64
	channels map[string]*Channel
	mu       sync.RWMutex
	writeMu  sync.Mutex
	done     chan struct{}
	once     sync.Once
	replies  map[string]chan *PhoenixMessage
	replyMu  sync.Mutex
	logger   *slog.Logger
}

// PhoenixMessage is the wire format for Phoenix Channel messages.
type PhoenixMessage struct {
	JoinRef string          `json:"join_ref,omitempty"`
	Ref     string          `json:"ref,omitempty"`
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// New creates and connects a new Client. A nil logger uses slog.Default.
func New(url, token string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		url:      url,
		token:    token,
		channels: make(map[string]*Channel),
		done:     make(chan struct{}),
		replies:  make(map[string]chan *PhoenixMessage),
		logger:   logger.With("component", "forward"),
	}

	if err := c.connect(); err != nil {
		return nil, err
	}

	go c.readLoop()
	go c.heartbeatLoop()

	return c, nil
}

func (c *Client) connect() error {
	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}

	conn, _, err := websocket.DefaultDialer.Dial(c.url, header)
	if err != nil {
		return fmt.Errorf("websocket dial %s: %w", c.url, err)
	}

	c.writeMu.Lock()
	c.conn = conn
	c.writeMu.Unlock()
	return nil
}

// Close shuts down the client.
func (c *Client) Close() error {
	var err error
	c.once.Do(func() {
		close(c.done)
		c.writeMu.Lock()
		defer c.writeMu.Unlock()
		if c.conn != nil {
			err = c.conn.Close()
		}
	})
	return err
}

// NextRef returns a unique message reference.
func (c *Client) NextRef() string {
	return fmt.Sprintf("%d", c.msgRef.Add(1))
}

// Send writes a PhoenixMessage to the WebSocket.
func (c *Client) Send(msg *PhoenixMessage) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(msg)
}

// PushWithJoinRef sends an event on a topic, tagged with the channel's
// join_ref, and waits for the matching reply.
func (c *Client) PushWithJoinRef(topic, joinRef, event string, payload any, timeout time.Duration) (*PhoenixMessage, error) {
	ref := c.NextRef()

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	return c.request(&PhoenixMessage{
		JoinRef: joinRef,
		Ref:     ref,
		Topic:   topic,
		Event:   event,
		Payload: payloadBytes,
	}, timeout)
}

// request sends msg and waits for the reply carrying msg.Ref.
func (c *Client) request(msg *PhoenixMessage, timeout time.Duration) (*PhoenixMessage, error) {
	replyCh := make(chan *PhoenixMessage, 1)
	c.replyMu.Lock()
	c.replies[msg.Ref] = replyCh
	c.replyMu.Unlock()

	defer func() {
		c.replyMu.Lock()
		delete(c.replies, msg.Ref)
		c.replyMu.Unlock()
	}()

	if err := c.Send(msg); err != nil {
		return nil, err
	}

	select {
	case reply := <-replyCh:
		return reply, nil
	case <-time.After(timeout):
		return nil, fmt.Errorf("push timeout after %v", timeout)
	case <-c.done:
		return nil, fmt.Errorf("client closed")
	}
}

func (c *Client) readLoop() {
	for {
		select {
		case <-c.done:
			return
		default:
		}

		var msg PhoenixMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return
			}
			select {
			case <-c.done:
				return
			default:
			}
			c.logger.Warn("read failed, reconnecting", "error", err)
			c.reconnect()
			continue
		}

		// Route reply
		if msg.Ref != "" {
			c.replyMu.Lock()
			ch, ok := c.replies[msg.Ref]
			c.replyMu.Unlock()
			if ok {
				ch <- &msg
				continue
			}
		}

		// Route to channel handler
		c.mu.RLock()
		ch, ok := c.channels[msg.Topic]
		c.mu.RUnlock()
		if ok {
			ch.handleMessage(&msg)
		}
	}
}

func (c *Client) heartbeatLoop() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			msg := &PhoenixMessage{
				Ref:     c.NextRef(),
				Topic:   "phoenix",
				Event:   "heartbeat",
				Payload: json.RawMessage(`{}`),
			}
			if err := c.Send(msg); err != nil {
				c.logger.Warn("heartbeat failed", "error", err)
			}
		}
	}
}

func (c *Client) reconnect() {
	backoff := time.Second
	maxBackoff := 30 * time.Second

	for {
		select {
		case <-c.done:
			return
		case <-time.After(backoff):
		}

		if err := c.connect(); err != nil {
			c.logger.Warn("reconnect failed", "error", err, "retry_in", backoff)
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}

		c.logger.Info("reconnected", "url", c.url)

		// Rejoin from a separate goroutine: Join waits for a reply that
		// only this read loop can deliver.
		c.mu.RLock()
		channels := make([]*Channel, 0, len(c.channels))
		for _, ch := range c.channels {
			channels = append(channels, ch)
		}
		c.mu.RUnlock()
		go func() {
			for _, ch := range channels {
				if err := ch.rejoin(); err != nil {
					c.logger.Warn("rejoin failed", "topic", ch.topic, "error", err)
				}
			}
		}()
		return
	}
}

// RegisterChannel registers a channel for message routing.
func (c *Client) RegisterChannel(ch *Channel) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.channels[ch.topic] = ch
}

// UnregisterChannel stops routing messages to ch.
func (c *Client) UnregisterChannel(ch *Channel) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.channels[ch.topic] == ch {
		delete(c.channels, ch.topic)
	}
}
