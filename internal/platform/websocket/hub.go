// Package websocket streams appointment changes to connected browsers. A
// client is subscribed to the appointments topic on connect and may add or
// drop topics with subscribe/unsubscribe messages.
package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/ehr/intake/internal/platform/events"
)

// ClientMessage is an inbound control message from a client.
type ClientMessage struct {
	Action string   `json:"action"`
	Topics []string `json:"topics"`
}

// Client is one WebSocket connection. Send is closed when the client is
// unregistered.
type Client struct {
	ID     string
	User   string
	Topics []string
	Send   chan []byte
}

// NewClient returns a client with a buffered send queue.
func NewClient(id, user string, buffer int) *Client {
	if buffer <= 0 {
		buffer = 256
	}
	return &Client{ID: id, User: user, Send: make(chan []byte, buffer)}
}

// Hub tracks clients and their topic subscriptions.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*Client]struct{} // topic -> subscribers
	all     map[*Client]struct{}
	closed  bool
	logger  zerolog.Logger
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		clients: make(map[string]map[*Client]struct{}),
		all:     make(map[*Client]struct{}),
		logger:  logger,
	}
}

var _ events.Publisher = (*Hub)(nil)

// Register adds a client and subscribes it to its initial topics. It returns
// false once the hub is closed.
func (h *Hub) Register(client *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return false
	}
	h.all[client] = struct{}{}
	h.subscribeLocked(client, client.Topics)
	return true
}

// Unregister removes a client from every topic and closes its Send channel.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(client)
}

func (h *Hub) removeLocked(client *Client) {
	if _, ok := h.all[client]; !ok {
		return
	}
	for _, topic := range client.Topics {
		h.dropLocked(topic, client)
	}
	delete(h.all, client)
	close(client.Send)
}

func (h *Hub) dropLocked(topic string, client *Client) {
	if subscribers, ok := h.clients[topic]; ok {
		delete(subscribers, client)
		if len(subscribers) == 0 {
			delete(h.clients, topic)
		}
	}
}

func (h *Hub) subscribeLocked(client *Client, topics []string) {
	for _, topic := range topics {
		if h.clients[topic] == nil {
			h.clients[topic] = make(map[*Client]struct{})
		}
		h.clients[topic][client] = struct{}{}
	}
}

// Subscribe adds topics to a registered client. Topics it already has are
// ignored.
func (h *Hub) Subscribe(client *Client, topics []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.all[client]; !ok {
		return
	}
	have := make(map[string]bool, len(client.Topics))
	for _, t := range client.Topics {
		have[t] = true
	}
	var added []string
	for _, t := range topics {
		if t != "" && !have[t] {
			have[t] = true
			added = append(added, t)
		}
	}
	h.subscribeLocked(client, added)
	client.Topics = append(client.Topics, added...)
}

// Unsubscribe removes topics from a registered client.
func (h *Hub) Unsubscribe(client *Client, topics []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	remove := make(map[string]bool, len(topics))
	for _, t := range topics {
		remove[t] = true
		h.dropLocked(t, client)
	}
	remaining := client.Topics[:0]
	for _, t := range client.Topics {
		if !remove[t] {
			remaining = append(remaining, t)
		}
	}
	client.Topics = remaining
}

// ProcessMessage applies a subscribe or unsubscribe message. Unknown actions
// are an error.
func (h *Hub) ProcessMessage(client *Client, msg ClientMessage) error {
	switch msg.Action {
	case "subscribe":
		h.Subscribe(client, msg.Topics)
	case "unsubscribe":
		h.Unsubscribe(client, msg.Topics)
	default:
		return fmt.Errorf("unknown action %q", msg.Action)
	}
	return nil
}

// Broadcast queues data for every subscriber of topic and returns how many
// received it. Clients with a full queue are skipped.
func (h *Hub) Broadcast(topic string, data []byte) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for client := range h.clients[topic] {
		select {
		case client.Send <- data:
			delivered++
		default:
			h.logger.Warn().Str("client_id", client.ID).Str("topic", topic).Msg("websocket client queue full, event dropped")
		}
	}
	return delivered
}

// Publish sends an appointment event to the subscribers of its topic.
func (h *Hub) Publish(_ context.Context, event events.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("websocket: marshal event: %w", err)
	}
	topic := event.Topic
	if topic == "" {
		topic = events.Topic
	}
	n := h.Broadcast(topic, data)
	h.logger.Debug().Str("event_type", event.Type).Str("topic", topic).Int("clients", n).Msg("event broadcast")
	return nil
}

// Close unregisters every client and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed = true
	for client := range h.all {
		h.removeLocked(client)
	}
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.all)
}

func (h *Hub) TopicCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[topic])
}
