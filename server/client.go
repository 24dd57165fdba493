package server

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	clientSendQueueSize = 32

	// WriteWait bounds a single websocket write.
	WriteWait = 10 * time.Second
)

// Client is one connected participant as seen by rooms and the hub.
// Implementations must make Send safe to call from any goroutine.
type Client interface {
	ID() string
	Name() string
	IsGuest() bool
	Send(m *Message)
	Room() *Room
	SetRoom(r *Room)
}

// ClientConn wraps an established websocket connection. A connection is
// created on upgrade and destroyed on disconnect; its room link is held here
// and cleared by Leave.
type ClientConn struct {
	id    string
	name  string
	guest bool
	conn  *websocket.Conn
	srv   *Server

	sendQueue chan *Message

	mutex  sync.Mutex // guards room and closed
	room   *Room
	closed bool
}

// NewClientConn creates a connection wrapper; the caller starts the pumps.
func NewClientConn(id, name string, guest bool, conn *websocket.Conn, srv *Server) *ClientConn {
	return &ClientConn{
		id:        id,
		name:      name,
		guest:     guest,
		conn:      conn,
		srv:       srv,
		sendQueue: make(chan *Message, clientSendQueueSize),
	}
}

func (c *ClientConn) ID() string    { return c.id }
func (c *ClientConn) Name() string  { return c.name }
func (c *ClientConn) IsGuest() bool { return c.guest }

func (c *ClientConn) Room() *Room {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.room
}

func (c *ClientConn) SetRoom(r *Room) {
	c.mutex.Lock()
	c.room = r
	c.mutex.Unlock()
}

// Send queues a message for delivery. Messages to a slow or closed connection
// are dropped rather than blocking the emitter.
func (c *ClientConn) Send(m *Message) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.closed {
		return
	}
	select {
	case c.sendQueue <- m:
	default:
		c.srv.log.Warn("send queue full, dropping message",
			zap.String("client", c.id), zap.String("event", m.Event))
	}
}

// Close stops the connection. Messages already queued are still flushed by
// the write pump before the websocket closes.
func (c *ClientConn) Close() {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.sendQueue)
}

// the goroutine that runs this function reads from c.conn
func (c *ClientConn) readPump() {
	defer func() {
		if r := c.Room(); r != nil {
			r.RequestLeave(c)
		}
		c.Close()
	}()
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.srv.log.Warn("unexpected closure",
					zap.String("client", c.id), zap.Error(err))
			}
			return
		}
		m, err := Decode(data)
		if err != nil {
			c.srv.log.Error("dropping invalid message",
				zap.String("client", c.id), zap.Error(err))
			continue
		}
		c.srv.dispatch(c, m)
	}
}

// the goroutine that runs this function writes to c.conn
func (c *ClientConn) writePump() {
	defer c.conn.Close()
	for {
		m, ok := <-c.sendQueue
		if !ok {
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
		b, err := m.Encode()
		if err != nil {
			c.srv.log.Error("failed to encode message",
				zap.String("event", m.Event), zap.Error(err))
			continue
		}
		c.conn.SetWriteDeadline(time.Now().Add(WriteWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, b); err != nil {
			return
		}
	}
}
