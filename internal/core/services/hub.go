package services

import (
	"log/slog"
	"sync"
	"time"
)

// Well-known hub channels.
const (
	ChannelPipeline   = "pipeline"
	ChannelJobs       = "jobs"
	ChannelUploads    = "uploads"
	ChannelGeneration = "generation"
)

// Message is one outgoing notification. Timestamp is assigned by the hub
// when the caller leaves it zero.
type Message struct {
	Type      string    `json:"type"`
	Channel   string    `json:"channel,omitempty"`
	JobID     string    `json:"job_id,omitempty"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Subscriber is one live observer connection. Send must not block
// indefinitely; a returned error marks the connection dead and the hub
// drops it.
type Subscriber interface {
	Send(msg Message) error
}

// NotificationHub fans job and pipeline state changes out to live
// subscribers. Connections always receive global broadcasts; channel
// broadcasts reach only explicit members.
type NotificationHub struct {
	logger *slog.Logger

	mu       sync.RWMutex
	conns    map[Subscriber]map[string]struct{} // conn -> joined channels
	channels map[string]map[Subscriber]struct{} // channel -> members
}

func NewNotificationHub(logger *slog.Logger) *NotificationHub {
	return &NotificationHub{
		logger:   logger,
		conns:    make(map[Subscriber]map[string]struct{}),
		channels: make(map[string]map[Subscriber]struct{}),
	}
}

// Connect registers a connection for global broadcasts.
func (h *NotificationHub) Connect(sub Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.conns[sub]; !ok {
		h.conns[sub] = make(map[string]struct{})
	}
}

// Subscribe joins a connection to a channel, registering it first if the
// caller skipped Connect.
func (h *NotificationHub) Subscribe(sub Subscriber, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.conns[sub]; !ok {
		h.conns[sub] = make(map[string]struct{})
	}
	h.conns[sub][channel] = struct{}{}

	if _, ok := h.channels[channel]; !ok {
		h.channels[channel] = make(map[Subscriber]struct{})
	}
	h.channels[channel][sub] = struct{}{}
}

// Unsubscribe removes a connection from one channel. The connection keeps
// receiving global broadcasts.
func (h *NotificationHub) Unsubscribe(sub Subscriber, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if joined, ok := h.conns[sub]; ok {
		delete(joined, channel)
	}
	if members, ok := h.channels[channel]; ok {
		delete(members, sub)
		if len(members) == 0 {
			delete(h.channels, channel)
		}
	}
}

// Disconnect removes the connection everywhere. Safe to call more than
// once.
func (h *NotificationHub) Disconnect(sub Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.disconnectLocked(sub)
}

func (h *NotificationHub) disconnectLocked(sub Subscriber) {
	joined, ok := h.conns[sub]
	if !ok {
		return
	}
	for channel := range joined {
		if members, ok := h.channels[channel]; ok {
			delete(members, sub)
			if len(members) == 0 {
				delete(h.channels, channel)
			}
		}
	}
	delete(h.conns, sub)
}

// Broadcast sends to every connection regardless of channel membership.
func (h *NotificationHub) Broadcast(msg Message) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	h.mu.RLock()
	targets := make([]Subscriber, 0, len(h.conns))
	for sub := range h.conns {
		targets = append(targets, sub)
	}
	h.mu.RUnlock()

	h.deliver(targets, msg)
}

// BroadcastToChannel sends only to the channel's members. A channel with
// no subscribers is a no-op.
func (h *NotificationHub) BroadcastToChannel(channel string, msg Message) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	msg.Channel = channel

	h.mu.RLock()
	members, ok := h.channels[channel]
	if !ok {
		h.mu.RUnlock()
		return
	}
	targets := make([]Subscriber, 0, len(members))
	for sub := range members {
		targets = append(targets, sub)
	}
	h.mu.RUnlock()

	h.deliver(targets, msg)
}

// deliver sends to each target; a failed send evicts that connection and
// never aborts delivery to the rest.
func (h *NotificationHub) deliver(targets []Subscriber, msg Message) {
	var dead []Subscriber
	for _, sub := range targets {
		if err := sub.Send(msg); err != nil {
			h.logger.Warn("dropping dead subscriber", "type", msg.Type, "error", err)
			dead = append(dead, sub)
		}
	}

	if len(dead) > 0 {
		h.mu.Lock()
		for _, sub := range dead {
			h.disconnectLocked(sub)
		}
		h.mu.Unlock()
	}
}

// ConnectionCount returns the number of registered connections.
func (h *NotificationHub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// ChannelSubscribers returns the member count of one channel.
func (h *NotificationHub) ChannelSubscribers(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.channels[channel])
}
