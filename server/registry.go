package server

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"github.com/ambientcast/ambientcast/store"
)

var (
	// ErrRoomNotFound is returned by Resolve for an unknown id or alias.
	ErrRoomNotFound = errors.New("room not found")
	// ErrAliasTaken is returned by Add when another room holds the alias.
	ErrAliasTaken = errors.New("alias already in use")
)

// Registry is the process-wide catalog of rooms, built once from the store at
// boot. Every room-scoped request resolves through it before touching room
// state. It is an explicit instance so tests can build isolated ones.
type Registry struct {
	mutex   sync.RWMutex
	rooms   map[int64]*Room
	aliases map[string]*Room
	array   []*Room
	count   int
}

func NewRegistry() *Registry {
	return &Registry{
		rooms:   make(map[int64]*Room),
		aliases: make(map[string]*Room),
	}
}

// LoadAll pulls every non-deleted room out of the store and registers it.
// Any store failure here aborts startup.
func (reg *Registry) LoadAll(ctx context.Context, st store.Store, srv *Server) error {
	records, err := st.Rooms(ctx)
	if err != nil {
		return fmt.Errorf("load rooms: %w", err)
	}
	n := 0
	for _, rec := range records {
		if rec.Deleted {
			continue
		}
		if err := reg.Add(NewRoom(rec, srv)); err != nil {
			srv.log.Warn("skipping room with conflicting alias",
				zap.Int64("room", rec.ID), zap.String("alias", rec.Alias))
			continue
		}
		n++
	}
	srv.log.Info("loaded rooms from store", zap.Int("count", n))
	return nil
}

// Add registers a room and starts its manager goroutine. Adding an id twice
// is a no-op; an alias already bound to another room is refused.
func (reg *Registry) Add(r *Room) error {
	reg.mutex.Lock()
	defer reg.mutex.Unlock()
	if _, ok := reg.rooms[r.ID()]; ok {
		return nil
	}
	if r.Alias() != "" {
		if _, ok := reg.aliases[r.Alias()]; ok {
			return ErrAliasTaken
		}
	}
	reg.rooms[r.ID()] = r
	if r.Alias() != "" {
		reg.aliases[r.Alias()] = r
	}
	reg.count++
	reg.rebuild()
	go r.Run()
	return nil
}

// Remove deregisters a room, evicts any remaining members and stops its
// manager. Removing an unknown room is a no-op.
func (reg *Registry) Remove(r *Room) {
	reg.mutex.Lock()
	defer reg.mutex.Unlock()
	existing, ok := reg.rooms[r.ID()]
	if !ok || existing != r {
		return
	}
	delete(reg.rooms, r.ID())
	if r.Alias() != "" && reg.aliases[r.Alias()] == r {
		delete(reg.aliases, r.Alias())
	}
	reg.count--
	reg.rebuild()
	// members must be gone before the manager stops; a client left behind
	// would keep its subscription and room link forever
	r.Do(r.EvictAll)
	r.Close()
}

// Resolve finds a room by decimal id or alias.
func (reg *Registry) Resolve(idOrAlias string) (*Room, error) {
	reg.mutex.RLock()
	defer reg.mutex.RUnlock()
	if id, err := strconv.ParseInt(idOrAlias, 10, 64); err == nil {
		if r, ok := reg.rooms[id]; ok {
			return r, nil
		}
	}
	if r, ok := reg.aliases[idOrAlias]; ok {
		return r, nil
	}
	return nil, ErrRoomNotFound
}

// Count reports the number of registered rooms.
func (reg *Registry) Count() int {
	reg.mutex.RLock()
	defer reg.mutex.RUnlock()
	return reg.count
}

// Array returns the enumeration view. The backing slice is rebuilt eagerly on
// every Add and Remove, never lazily, so it cannot serve stale rooms after an
// in-place replacement.
func (reg *Registry) Array() []*Room {
	reg.mutex.RLock()
	defer reg.mutex.RUnlock()
	return reg.array
}

// rebuild recreates the enumeration view; callers hold the write lock.
func (reg *Registry) rebuild() {
	arr := make([]*Room, 0, len(reg.rooms))
	for _, r := range reg.rooms {
		arr = append(arr, r)
	}
	reg.array = arr
}
