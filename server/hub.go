package server

import "sync"

// Broadcaster is the fan-out side of the transport adapter: subscription
// management plus multicast to every connection on a room channel. Unicast is
// Client.Send on the connection itself.
//
// Delivery is at-least-once to currently subscribed connections; ordering is
// only guaranteed between messages emitted from a single goroutine.
type Broadcaster interface {
	Subscribe(channel string, c Client)
	Unsubscribe(channel string, c Client)
	ToRoom(channel string, m *Message)
}

// Hub is the in-process Broadcaster implementation.
type Hub struct {
	mutex    sync.RWMutex
	channels map[string]map[string]Client
}

func NewHub() *Hub {
	return &Hub{
		channels: make(map[string]map[string]Client),
	}
}

func (h *Hub) Subscribe(channel string, c Client) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	subs, ok := h.channels[channel]
	if !ok {
		subs = make(map[string]Client)
		h.channels[channel] = subs
	}
	subs[c.ID()] = c
}

func (h *Hub) Unsubscribe(channel string, c Client) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	subs, ok := h.channels[channel]
	if !ok {
		return
	}
	delete(subs, c.ID())
	if len(subs) == 0 {
		delete(h.channels, channel)
	}
}

func (h *Hub) ToRoom(channel string, m *Message) {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	for _, c := range h.channels[channel] {
		c.Send(m)
	}
}

// Subscribers reports how many connections are on a channel.
func (h *Hub) Subscribers(channel string) int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.channels[channel])
}
