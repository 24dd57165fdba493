package store

import (
	"context"
	"sync"
)

// MemStore is an in-process Store for tests and storeless development runs.
type MemStore struct {
	mutex  sync.RWMutex
	rooms  map[int64]*RoomRecord
	nextID int64
	users  []*User
	sounds []*Sound
}

func NewMemStore() *MemStore {
	return &MemStore{
		rooms: make(map[int64]*RoomRecord),
	}
}

// Seed preloads users and sounds, for development runs without redis.
func (s *MemStore) Seed(users []*User, sounds []*Sound) {
	s.mutex.Lock()
	s.users = users
	s.sounds = sounds
	s.mutex.Unlock()
}

func (s *MemStore) Rooms(ctx context.Context) ([]*RoomRecord, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	records := make([]*RoomRecord, 0, len(s.rooms))
	for _, rec := range s.rooms {
		c := *rec
		records = append(records, &c)
	}
	return records, nil
}

func (s *MemStore) Room(ctx context.Context, id int64) (*RoomRecord, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	rec, ok := s.rooms[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *rec
	return &c, nil
}

func (s *MemStore) SaveRoom(ctx context.Context, rec *RoomRecord) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	c := *rec
	s.rooms[rec.ID] = &c
	if rec.ID > s.nextID {
		s.nextID = rec.ID
	}
	return nil
}

func (s *MemStore) NextRoomID(ctx context.Context) (int64, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.nextID++
	return s.nextID, nil
}

func (s *MemStore) Users(ctx context.Context) ([]*User, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return append([]*User(nil), s.users...), nil
}

func (s *MemStore) Sounds(ctx context.Context) ([]*Sound, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return append([]*Sound(nil), s.sounds...), nil
}

func (s *MemStore) Close() error {
	return nil
}
