// Package store provides the persistence capability for ambientcast: room
// records, the user table and the sound catalog, keyed by room identity.
package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a record does not exist in the store.
	ErrNotFound = errors.New("store: record not found")
)

// RoomRecord is the persisted form of a room. Derived session state (client
// set, counts, the active flag) is never part of the record; the audio state
// travels as an opaque blob produced by the session layer.
type RoomRecord struct {
	ID             int64     `json:"id"`
	Name           string    `json:"name"`
	Description    string    `json:"description,omitempty"`
	Password       string    `json:"password,omitempty"`
	OwnerPassword  string    `json:"ownerPassword,omitempty"`
	Alias          string    `json:"alias,omitempty"`
	ImageURL       string    `json:"imageURL,omitempty"`
	VolumeModifier float64   `json:"volumeModifier,omitempty"`
	OwnerID        string    `json:"owner,omitempty"`
	FullAccess     []string  `json:"fullAccess,omitempty"`
	Deleted        bool      `json:"deleted,omitempty"`
	Public         bool      `json:"public,omitempty"`
	BlockGuests    bool      `json:"blockGuests,omitempty"`
	LastActivity   time.Time `json:"lastActivity,omitempty"`
	StateJSON      []byte    `json:"stateJSON,omitempty"`
}

// User is a registered account, loaded once at startup. Anything not in the
// table connects as a guest.
type User struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Sound is one entry of the audio catalog pushed to clients on load.
type Sound struct {
	Key      string `json:"key"`
	Name     string `json:"name"`
	Category string `json:"category,omitempty"`
	File     string `json:"file,omitempty"`
	Loop     bool   `json:"loop,omitempty"`
}

// Store is the durability capability required by the session layer. Rooms,
// Users and Sounds feed the startup load; SaveRoom is issued best-effort on
// every room mutation.
type Store interface {
	Rooms(ctx context.Context) ([]*RoomRecord, error)
	Room(ctx context.Context, id int64) (*RoomRecord, error)
	SaveRoom(ctx context.Context, rec *RoomRecord) error
	NextRoomID(ctx context.Context) (int64, error)
	Users(ctx context.Context) ([]*User, error)
	Sounds(ctx context.Context) ([]*Sound, error)
	Close() error
}
