package server

import (
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// RemoteClient is a headless participant used by the stress tool and smoke
// checks. It mirrors the events a browser client would receive and keeps a
// local view of what is currently audible.
type RemoteClient struct {
	conn    *websocket.Conn
	channel string

	mutex   sync.Mutex
	playing map[string]bool

	stop     chan struct{}
	stopOnce sync.Once
}

// Dial connects to a server and joins a channel through the query handshake.
func Dial(dialer *websocket.Dialer, addr, channel, user, password string) (*RemoteClient, error) {
	if dialer == nil {
		dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 45 * time.Second,
		}
	}
	u, err := url.Parse(addr)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("channel", channel)
	q.Set("user", user)
	q.Set("password", password)
	u.RawQuery = q.Encode()

	conn, _, err := dialer.Dial(u.String(), nil)
	if err != nil {
		return nil, err
	}
	return &RemoteClient{
		conn:    conn,
		channel: channel,
		playing: make(map[string]bool),
		stop:    make(chan struct{}),
	}, nil
}

// Run reads events until the connection drops, tracking play and stop.
func (c *RemoteClient) Run() error {
	defer c.conn.Close()
	for {
		select {
		case <-c.stop:
			return nil
		default:
		}
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return err
		}
		m, err := Decode(data)
		if err != nil {
			// server events reuse client event names; anything else is
			// interesting only to browsers
			continue
		}
		c.apply(m)
	}
}

func (c *RemoteClient) apply(m *Message) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	switch m.Event {
	case EventPlay:
		if p, ok := m.Payload.(*PlayPayload); ok {
			c.playing[p.Key] = true
		}
	case EventStop:
		if p, ok := m.Payload.(*StopPayload); ok {
			delete(c.playing, p.Key)
		}
	}
}

// Playing lists the keys this client currently believes are audible.
func (c *RemoteClient) Playing() []string {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	keys := make([]string, 0, len(c.playing))
	for k := range c.playing {
		keys = append(keys, k)
	}
	return keys
}

func (c *RemoteClient) send(m *Message) error {
	b, err := m.Encode()
	if err != nil {
		return err
	}
	c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return c.conn.WriteMessage(websocket.TextMessage, b)
}

// Play asks the room to start a key.
func (c *RemoteClient) Play(key, soundType string, loop bool, volume float64) error {
	return c.send(&Message{Event: EventPlay, Payload: &PlayPayload{
		Channel: c.channel, Key: key, Type: soundType, Loop: loop, Volume: volume,
	}})
}

// Stop asks the room to stop a key.
func (c *RemoteClient) Stop(key string) error {
	return c.send(&Message{Event: EventStop, Payload: &StopPayload{
		Channel: c.channel, Key: key,
	}})
}

// Close stops the read loop and closes the websocket.
func (c *RemoteClient) Close() {
	c.stopOnce.Do(func() {
		close(c.stop)
		c.conn.WriteMessage(websocket.CloseMessage, []byte{})
		c.conn.Close()
	})
}
