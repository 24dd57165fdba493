// Package server implements the room session engine: the registry of rooms,
// per-room manager goroutines owning membership and active-audio state, the
// websocket event protocol and the REST collaborator surface.
package server

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ambientcast/ambientcast/store"
)

// Server holds the process-wide pieces every room needs: the store, the
// broadcast hub, the registry and the tables loaded at boot.
type Server struct {
	store    store.Store
	bus      Broadcaster
	registry *Registry
	log      *zap.Logger

	mutex  sync.RWMutex // guards users and sounds after load
	users  map[string]*store.User
	sounds []*store.Sound
}

func NewServer(st store.Store, log *zap.Logger) *Server {
	return &Server{
		store:    st,
		bus:      NewHub(),
		registry: NewRegistry(),
		log:      log,
		users:    make(map[string]*store.User),
	}
}

func (s *Server) Registry() *Registry { return s.registry }

// LoadAll runs the three startup loads concurrently and returns when all have
// finished or any has failed. Listening must not start before it returns nil.
func (s *Server) LoadAll(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.loadUsers(ctx) })
	g.Go(func() error { return s.loadSounds(ctx) })
	g.Go(func() error { return s.registry.LoadAll(ctx, s.store, s) })
	return g.Wait()
}

func (s *Server) loadUsers(ctx context.Context) error {
	users, err := s.store.Users(ctx)
	if err != nil {
		return err
	}
	s.mutex.Lock()
	s.users = make(map[string]*store.User, len(users))
	for _, u := range users {
		s.users[u.ID] = u
	}
	s.mutex.Unlock()
	s.log.Info("loaded users from store", zap.Int("count", len(users)))
	return nil
}

func (s *Server) loadSounds(ctx context.Context) error {
	sounds, err := s.store.Sounds(ctx)
	if err != nil {
		return err
	}
	s.mutex.Lock()
	s.sounds = sounds
	s.mutex.Unlock()
	s.log.Info("loaded sounds from store", zap.Int("count", len(sounds)))
	return nil
}

// User looks up a registered account by id.
func (s *Server) User(id string) (*store.User, bool) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	u, ok := s.users[id]
	return u, ok
}

// Library is the audio catalog pushed to clients on load.
func (s *Server) Library() []*store.Sound {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.sounds
}

// Shutdown broadcasts a shutdown notice to every room and stops the room
// managers. Best-effort; transport and store teardown follow separately.
func (s *Server) Shutdown() {
	s.log.Info("server shutting down")
	for _, room := range s.registry.Array() {
		s.bus.ToRoom(room.Channel(), &Message{
			Event:   EventNotice,
			Payload: &NoticePayload{Text: "Server is shutting down."},
		})
		room.Close()
	}
}

// Close releases the persistence capability. Failures are logged, not
// escalated.
func (s *Server) Close() {
	if err := s.store.Close(); err != nil {
		s.log.Error("store close failed", zap.Error(err))
	}
}
