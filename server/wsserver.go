package server

import (
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/rs/xid"
	"go.uber.org/zap"
)

const (
	wsReadBufferSize  = 1024
	wsWriteBufferSize = 1024
)

var wsUpgrader = &websocket.Upgrader{
	ReadBufferSize:  wsReadBufferSize,
	WriteBufferSize: wsWriteBufferSize,
	CheckOrigin: func(r *http.Request) bool {
		return true
	}, // disable origin check
}

// WSHandler returns the websocket endpoint handler for the server.
func WSHandler(s *Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		handleWSClient(s, w, r)
	}
}

// handleWSClient upgrades the connection and admits the client into the
// channel named in the query string. The room must resolve before the
// upgrade; guest or registered identity is decided here from the loaded user
// table.
func handleWSClient(s *Server, w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	channel := q.Get("channel")
	password := q.Get("password")
	userID := q.Get("user")

	room, err := s.registry.Resolve(channel)
	if err != nil {
		s.log.Error("connect to unknown channel",
			zap.String("channel", channel), zap.String("remote", r.RemoteAddr))
		http.Error(w, "unknown channel", http.StatusNotFound)
		return
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error("websocket upgrade failed", zap.Error(err))
		return
	}

	cid := xid.New().String()
	name := "guest-" + cid
	guest := true
	if u, ok := s.User(userID); ok {
		name = u.Name
		guest = false
	}

	client := NewClientConn(cid, name, guest, conn, s)
	go client.writePump()

	if err := room.RequestJoin(client, password); err != nil {
		// the refusal notice is already queued; flush it and close
		client.Close()
		return
	}
	go client.readPump()

	s.log.Info("client connected",
		zap.String("client", cid), zap.String("name", name),
		zap.Bool("guest", guest), zap.String("channel", room.Channel()),
		zap.String("remote", conn.RemoteAddr().String()))
}

// dispatch routes one decoded client event. An unknown channel aborts only
// that event; the connection keeps running.
func (s *Server) dispatch(c Client, m *Message) {
	switch m.Event {
	case EventJoin:
		s.handleJoin(c, m.Payload.(*JoinPayload))
	case EventLoad:
		room := c.Room()
		if room == nil {
			s.log.Error("load without a room", zap.String("client", c.ID()))
			return
		}
		room.Enqueue(&Command{Event: EventLoad, Client: c})
	case EventPlay:
		p := m.Payload.(*PlayPayload)
		s.roomCommand(c, p.Channel, &Command{
			Event: EventPlay, Client: c,
			Key: p.Key, Type: p.Type, Loop: p.Loop, Volume: p.Volume,
		})
	case EventStop:
		p := m.Payload.(*StopPayload)
		s.roomCommand(c, p.Channel, &Command{Event: EventStop, Client: c, Key: p.Key})
	case EventSetVolume:
		p := m.Payload.(*SetVolumePayload)
		s.roomCommand(c, p.Channel, &Command{
			Event: EventSetVolume, Client: c, Key: p.Key, Volume: p.Volume,
		})
	case EventSetMusicVolume:
		p := m.Payload.(*MusicVolumePayload)
		s.roomCommand(c, p.Channel, &Command{
			Event: EventSetMusicVolume, Client: c, Volume: p.Volume,
		})
	default:
		s.log.Error("unhandled event", zap.String("event", m.Event))
	}
}

// handleJoin switches rooms: a full, confirmed leave of the current room
// strictly before the join of the next, so no stale membership survives.
func (s *Server) handleJoin(c Client, p *JoinPayload) {
	room, err := s.registry.Resolve(p.Channel)
	if err != nil {
		s.log.Error("join to unknown channel",
			zap.String("client", c.ID()), zap.String("channel", p.Channel))
		return
	}
	if cur := c.Room(); cur != nil && cur != room {
		cur.RequestLeave(c)
	}
	// a duplicate join of the current room is refused inside Join
	_ = room.RequestJoin(c, p.Password)
}

func (s *Server) roomCommand(c Client, channel string, cmd *Command) {
	room, err := s.registry.Resolve(channel)
	if err != nil {
		s.log.Error("command for unknown channel",
			zap.String("client", c.ID()), zap.String("channel", channel),
			zap.String("event", cmd.Event))
		return
	}
	room.Enqueue(cmd)
}
