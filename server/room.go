package server

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ambientcast/ambientcast/store"
)

const (
	roomCommandQueueSize = 256
	saveTimeout          = 5 * time.Second
	defaultMusicVolume   = 1.0
)

var (
	ErrRoomClosed    = errors.New("room closed")
	ErrInvalidClient = errors.New("invalid client")
	ErrAlreadyJoined = errors.New("already a member of this room")
	ErrGuestsBlocked = errors.New("room does not admit guests")
	ErrBadPassword   = errors.New("wrong room password")
)

// Command is one audio command from a member, handed to the room manager.
type Command struct {
	Event  string
	Client Client // requester, only meaningful for load
	Key    string
	Type   string
	Loop   bool
	Volume float64
}

type joinRequest struct {
	client   Client
	password string
	reply    chan error
}

type leaveRequest struct {
	client Client
	kick   bool
	done   chan struct{}
}

type roomOp struct {
	fn   func()
	done chan struct{}
}

// Room owns one channel's membership and active-audio state. All mutating
// methods are NOT safe for concurrent use; they run in the room's manager
// goroutine, fed through the Request/Enqueue/Do API.
type Room struct {
	rec *store.RoomRecord
	srv *Server

	clients     map[string]Client
	clientCount int
	active      bool
	state       *AudioState
	musicVolume float64

	joinQ     chan *joinRequest
	leaveQ    chan *leaveRequest
	commands  chan *Command
	ops       chan *roomOp
	closing   chan struct{}
	closeOnce sync.Once
}

// NewRoom builds a session around a persisted record. A corrupt state blob is
// logged and replaced with an empty state rather than refusing the room.
func NewRoom(rec *store.RoomRecord, srv *Server) *Room {
	state, err := DecodeState(rec.StateJSON)
	if err != nil {
		srv.log.Error("corrupt room state, starting empty",
			zap.Int64("room", rec.ID), zap.Error(err))
		state = NewAudioState()
	}
	vol := rec.VolumeModifier
	if vol == 0 {
		vol = defaultMusicVolume
	}
	return &Room{
		rec:         rec,
		srv:         srv,
		clients:     make(map[string]Client),
		state:       state,
		musicVolume: vol,
		joinQ:       make(chan *joinRequest),
		leaveQ:      make(chan *leaveRequest),
		commands:    make(chan *Command, roomCommandQueueSize),
		ops:         make(chan *roomOp),
		closing:     make(chan struct{}),
	}
}

func (r *Room) ID() int64     { return r.rec.ID }
func (r *Room) Name() string  { return r.rec.Name }
func (r *Room) Alias() string { return r.rec.Alias }
func (r *Room) Count() int    { return r.clientCount }
func (r *Room) Active() bool  { return r.active }

// SetActive flips the administrative active flag; it is orthogonal to
// occupancy.
func (r *Room) SetActive(v bool) { r.active = v }

func (r *Room) HasPassword() bool { return r.rec.Password != "" }

// State exposes the current audio state for snapshotting and tests.
func (r *Room) State() *AudioState { return r.state }

// MusicVolume is the room's current music volume.
func (r *Room) MusicVolume() float64 { return r.musicVolume }

// Record returns a copy of the persisted record.
func (r *Room) Record() store.RoomRecord { return *r.rec }

// Channel is the room's routable name: the alias when set, the decimal id
// otherwise.
func (r *Room) Channel() string {
	if r.rec.Alias != "" {
		return r.rec.Alias
	}
	return strconv.FormatInt(r.rec.ID, 10)
}

// Run is the room manager loop. Every inbound event is handled to completion
// before the next one, which serialises all mutations without locks.
func (r *Room) Run() {
	for {
		select {
		case req := <-r.joinQ:
			req.reply <- r.Join(req.client, req.password)
		case req := <-r.leaveQ:
			if req.kick {
				r.Kick(req.client)
			} else {
				r.Leave(req.client)
			}
			close(req.done)
		case cmd := <-r.commands:
			r.handle(cmd)
		case op := <-r.ops:
			op.fn()
			close(op.done)
		case <-r.closing:
			return
		}
	}
}

// Close stops the manager loop. Idempotent.
func (r *Room) Close() {
	r.closeOnce.Do(func() {
		close(r.closing)
	})
}

// RequestJoin runs Join in the manager goroutine and reports its outcome.
func (r *Room) RequestJoin(c Client, password string) error {
	req := &joinRequest{client: c, password: password, reply: make(chan error, 1)}
	select {
	case r.joinQ <- req:
	case <-r.closing:
		return ErrRoomClosed
	}
	select {
	case err := <-req.reply:
		return err
	case <-r.closing:
		return ErrRoomClosed
	}
}

// RequestLeave runs Leave in the manager goroutine and waits for it, so a
// caller switching rooms has fully left this one before joining the next.
func (r *Room) RequestLeave(c Client) {
	r.requestRemove(c, false)
}

// RequestKick is RequestLeave with a notice to the removed client first.
func (r *Room) RequestKick(c Client) {
	r.requestRemove(c, true)
}

func (r *Room) requestRemove(c Client, kick bool) {
	req := &leaveRequest{client: c, kick: kick, done: make(chan struct{})}
	select {
	case r.leaveQ <- req:
	case <-r.closing:
		return
	}
	select {
	case <-req.done:
	case <-r.closing:
	}
}

// Enqueue hands a command to the manager loop without waiting.
func (r *Room) Enqueue(cmd *Command) {
	select {
	case r.commands <- cmd:
	case <-r.closing:
	}
}

// Do runs fn in the manager goroutine and waits for it. Never call it from
// inside the loop.
func (r *Room) Do(fn func()) {
	op := &roomOp{fn: fn, done: make(chan struct{})}
	select {
	case r.ops <- op:
	case <-r.closing:
		return
	}
	select {
	case <-op.done:
	case <-r.closing:
	}
}

func (r *Room) canJoin(c Client, password string) error {
	if _, ok := r.clients[c.ID()]; ok {
		return ErrAlreadyJoined
	}
	if r.rec.BlockGuests && c.IsGuest() {
		return ErrGuestsBlocked
	}
	if r.rec.Password != "" && !r.TryPassword(password) {
		return ErrBadPassword
	}
	return nil
}

// CanJoin reports whether the client would be admitted with this password.
// Membership is checked first, so a duplicate join is refused no matter what
// password it carries.
func (r *Room) CanJoin(c Client, password string) bool {
	return r.canJoin(c, password) == nil
}

// TryPassword checks the room password.
func (r *Room) TryPassword(password string) bool {
	return r.rec.Password == password
}

// TryOwnerPassword checks the privileged control password.
func (r *Room) TryOwnerPassword(password string) bool {
	return r.rec.OwnerPassword != "" && r.rec.OwnerPassword == password
}

// Join admits a client: membership, room link, channel subscription, a full
// state snapshot to the joiner and an updated user count to everyone. On
// refusal only the requester is notified and nothing changes.
func (r *Room) Join(c Client, password string) error {
	if c == nil {
		r.srv.log.Error("invalid client attempted to join",
			zap.Int64("room", r.ID()), zap.String("name", r.Name()))
		return ErrInvalidClient
	}
	if err := r.canJoin(c, password); err != nil {
		c.Send(&Message{Event: EventNotice, Payload: &NoticePayload{Text: "Failed to join room."}})
		r.srv.log.Info("join refused",
			zap.Int64("room", r.ID()), zap.String("client", c.Name()), zap.Error(err))
		return err
	}

	r.clients[c.ID()] = c
	r.clientCount++
	c.SetRoom(r)
	r.srv.bus.Subscribe(r.Channel(), c)

	r.sendSnapshot(c)
	c.Send(&Message{Event: EventLoad, Payload: &LibraryPayload{Library: r.srv.Library()}})
	r.broadcastUsers()

	r.srv.log.Info("client joined room",
		zap.Int64("room", r.ID()), zap.String("client", c.Name()))
	return nil
}

// Leave removes a member and clears its room link. A non-member or nil client
// is a logged no-op.
func (r *Room) Leave(c Client) {
	if c == nil {
		r.srv.log.Error("invalid client attempted to leave",
			zap.Int64("room", r.ID()))
		return
	}
	if _, ok := r.clients[c.ID()]; !ok {
		r.srv.log.Info("leave from non-member ignored",
			zap.Int64("room", r.ID()), zap.String("client", c.Name()))
		return
	}

	delete(r.clients, c.ID())
	r.clientCount--
	c.SetRoom(nil)
	r.srv.bus.Unsubscribe(r.Channel(), c)
	r.broadcastUsers()

	r.srv.log.Info("client left room",
		zap.Int64("room", r.ID()), zap.String("client", c.Name()))
}

// Kick sends the client a one-time notice, then removes it like Leave.
func (r *Room) Kick(c Client) {
	if c == nil {
		r.srv.log.Error("attempted to kick invalid client",
			zap.Int64("room", r.ID()))
		return
	}
	c.Send(&Message{Event: EventNotice, Payload: &NoticePayload{Text: "You have been kicked."}})
	r.srv.log.Info("client kicked",
		zap.Int64("room", r.ID()), zap.String("client", c.Name()))
	r.Leave(c)
}

// Clients lists current member names.
func (r *Room) Clients() []string {
	names := make([]string, 0, len(r.clients))
	for _, c := range r.clients {
		names = append(names, c.Name())
	}
	return names
}

func (r *Room) handle(cmd *Command) {
	switch cmd.Event {
	case EventPlay:
		r.Play(cmd)
	case EventStop:
		r.Stop(cmd)
	case EventSetVolume:
		r.SetVolume(cmd)
	case EventSetMusicVolume:
		r.SetMusicVolume(cmd)
	case EventLoad:
		if cmd.Client == nil {
			return
		}
		r.sendSnapshot(cmd.Client)
		cmd.Client.Send(&Message{Event: EventLoad, Payload: &LibraryPayload{Library: r.srv.Library()}})
	default:
		r.srv.log.Error("unknown room command",
			zap.Int64("room", r.ID()), zap.String("event", cmd.Event))
	}
}

// Play starts the music track (type music), upserts a looping effect, or
// fires a one-shot; only the first two touch state. The play event goes to
// every member including the sender so all UIs converge.
func (r *Room) Play(cmd *Command) {
	switch {
	case cmd.Type == SoundTypeMusic:
		r.state.Music = cmd.Key
		r.persist()
	case cmd.Loop:
		r.state.Effects[cmd.Key] = Effect{Volume: cmd.Volume, Loop: true}
		r.persist()
	}
	r.srv.log.Info("playing audio",
		zap.Int64("room", r.ID()), zap.String("key", cmd.Key))
	r.srv.bus.ToRoom(r.Channel(), &Message{Event: EventPlay, Payload: &KeyPayload{Key: cmd.Key}})
}

// Stop clears the music track if the key matches it, removes a matching
// effect otherwise, and always broadcasts the stop event.
func (r *Room) Stop(cmd *Command) {
	if r.state.Music != "" && cmd.Key == r.state.Music {
		r.state.Music = ""
		r.persist()
	} else if _, ok := r.state.Effects[cmd.Key]; ok {
		delete(r.state.Effects, cmd.Key)
		r.persist()
	}
	r.srv.log.Info("stopping audio",
		zap.Int64("room", r.ID()), zap.String("key", cmd.Key))
	r.srv.bus.ToRoom(r.Channel(), &Message{Event: EventStop, Payload: &KeyPayload{Key: cmd.Key}})
}

// SetVolume relays an effect volume change to the room; it is not persisted.
func (r *Room) SetVolume(cmd *Command) {
	r.srv.bus.ToRoom(r.Channel(), &Message{
		Event:   EventSetVolume,
		Payload: &VolumePayload{Key: cmd.Key, Volume: cmd.Volume},
	})
}

// SetMusicVolume stores the room music volume and relays it.
func (r *Room) SetMusicVolume(cmd *Command) {
	r.musicVolume = cmd.Volume
	r.srv.bus.ToRoom(r.Channel(), &Message{
		Event:   EventSetMusicVolume,
		Payload: &MusicVolumePayload{Volume: cmd.Volume},
	})
}

// sendSnapshot reconstructs the full audio state for one client: the effect
// map, the music volume, a play event for the music track if any, then one
// play event per active effect.
func (r *Room) sendSnapshot(c Client) {
	effects := make(map[string]Effect, len(r.state.Effects))
	for k, v := range r.state.Effects {
		effects[k] = v
	}
	c.Send(&Message{Event: EventActive, Payload: &ActivePayload{Active: effects}})
	c.Send(&Message{Event: EventSetMusicVolume, Payload: &MusicVolumePayload{Volume: r.musicVolume}})
	if r.state.Music != "" {
		c.Send(&Message{Event: EventPlay, Payload: &KeyPayload{Key: r.state.Music}})
	}
	for key := range r.state.Effects {
		c.Send(&Message{Event: EventPlay, Payload: &KeyPayload{Key: key}})
	}
}

// UpdateInfo applies an administrative edit; empty fields are left alone.
func (r *Room) UpdateInfo(name, description, imageURL string) {
	if name != "" {
		r.rec.Name = name
	}
	if description != "" {
		r.rec.Description = description
	}
	if imageURL != "" {
		r.rec.ImageURL = imageURL
	}
	r.persist()
}

// RestoreState replaces the audio state from a serialised blob and announces
// the new state to the room with a fresh snapshot broadcast.
func (r *Room) RestoreState(blob []byte) error {
	state, err := DecodeState(blob)
	if err != nil {
		return err
	}
	r.state = state
	r.persist()
	for _, c := range r.clients {
		r.sendSnapshot(c)
	}
	return nil
}

// MarkDeleted soft-deletes the room. The record stays in the store; the
// registry drops the session.
func (r *Room) MarkDeleted() {
	r.rec.Deleted = true
	r.persist()
}

// EvictAll removes every remaining member with a closure notice. Run before
// the manager stops, so no subscription or room link outlives the session.
func (r *Room) EvictAll() {
	for _, c := range r.clients {
		c.Send(&Message{Event: EventNotice, Payload: &NoticePayload{Text: "This room has been closed."}})
		r.Leave(c)
	}
}

// KickByID kicks a member by connection id, reporting whether it was found.
func (r *Room) KickByID(id string) bool {
	c, ok := r.clients[id]
	if !ok {
		return false
	}
	r.Kick(c)
	return true
}

func (r *Room) broadcastUsers() {
	r.srv.bus.ToRoom(r.Channel(), &Message{
		Event:   EventUsers,
		Payload: &UsersPayload{Users: r.clientCount},
	})
}

// persist writes the current state into the record and issues a best-effort
// asynchronous save. The in-memory state stays authoritative; a failed write
// is logged and the mutation is kept.
func (r *Room) persist() {
	b, err := r.state.Encode()
	if err != nil {
		r.srv.log.Error("failed to encode room state",
			zap.Int64("room", r.ID()), zap.Error(err))
		return
	}
	r.rec.StateJSON = b
	r.rec.LastActivity = time.Now()
	rec := *r.rec
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
		defer cancel()
		if err := r.srv.store.SaveRoom(ctx, &rec); err != nil {
			r.srv.log.Error("room save failed",
				zap.Int64("room", rec.ID), zap.Error(err))
		}
	}()
}
