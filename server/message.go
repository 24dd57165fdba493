package server

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ambientcast/ambientcast/store"
)

// Room channel events. The same names travel in both directions where the
// protocol allows it.
const (
	EventActive         = "active"
	EventSetMusicVolume = "setMusicVolume"
	EventLoad           = "load"
	EventUsers          = "users"
	EventPlay           = "play"
	EventStop           = "stop"
	EventSetVolume      = "setVolume"
	EventJoin           = "join"
	EventNotice         = "notice"
)

var (
	ErrUnknownEvent = errors.New("unknown event")
	ErrEmptyPayload = errors.New("empty payload")
)

// Message is the wire envelope for all room channel traffic.
type Message struct {
	Event   string      `json:"event"`
	Payload interface{} `json:"payload,omitempty"`
}

type receivedMessage struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// ActivePayload carries the full effect map, sent once as the head of a
// snapshot.
type ActivePayload struct {
	Active map[string]Effect `json:"active"`
}

// MusicVolumePayload carries the room music volume; inbound it also names the
// channel.
type MusicVolumePayload struct {
	Channel string  `json:"channel,omitempty"`
	Volume  float64 `json:"volume"`
}

// LibraryPayload pushes the audio catalog to a client.
type LibraryPayload struct {
	Library []*store.Sound `json:"audioLibrary"`
}

// UsersPayload announces the room's client count after a membership change.
type UsersPayload struct {
	Users int `json:"users"`
}

// KeyPayload is the outbound play/stop event body.
type KeyPayload struct {
	Key string `json:"key"`
}

// VolumePayload is the outbound setVolume event body.
type VolumePayload struct {
	Key    string  `json:"key"`
	Volume float64 `json:"volume"`
}

// NoticePayload is a one-off human readable notice (kick, shutdown, refusal).
type NoticePayload struct {
	Text string `json:"text"`
}

// JoinPayload asks to join a channel, optionally with its password.
type JoinPayload struct {
	Channel  string `json:"channel"`
	Password string `json:"password,omitempty"`
}

// PlayPayload starts music, a looping effect, or a one-shot sound.
type PlayPayload struct {
	Channel string  `json:"channel"`
	Key     string  `json:"key"`
	Type    string  `json:"type,omitempty"`
	Loop    bool    `json:"loop,omitempty"`
	Volume  float64 `json:"volume,omitempty"`
}

// StopPayload stops the music track or an effect by key.
type StopPayload struct {
	Channel string `json:"channel"`
	Key     string `json:"key"`
}

// SetVolumePayload adjusts one effect's volume for the whole room.
type SetVolumePayload struct {
	Channel string  `json:"channel"`
	Key     string  `json:"key"`
	Volume  float64 `json:"volume"`
}

// Encode serialises a message to its wire format.
func (m *Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// Decode parses an inbound client message and resolves its payload to the
// typed struct for the event. Events that require a payload fail with
// ErrEmptyPayload when none was sent; callers log and drop such messages
// without affecting other clients.
func Decode(data []byte) (*Message, error) {
	var rm receivedMessage
	if err := json.Unmarshal(data, &rm); err != nil {
		return nil, err
	}

	m := &Message{Event: rm.Event}
	if rm.Event == EventLoad {
		// load carries no payload from clients
		return m, nil
	}
	if len(rm.Payload) == 0 || string(rm.Payload) == "null" {
		return nil, fmt.Errorf("%s: %w", rm.Event, ErrEmptyPayload)
	}

	var err error
	switch rm.Event {
	case EventJoin:
		var p JoinPayload
		err = json.Unmarshal(rm.Payload, &p)
		m.Payload = &p
	case EventPlay:
		var p PlayPayload
		err = json.Unmarshal(rm.Payload, &p)
		m.Payload = &p
	case EventStop:
		var p StopPayload
		err = json.Unmarshal(rm.Payload, &p)
		m.Payload = &p
	case EventSetVolume:
		var p SetVolumePayload
		err = json.Unmarshal(rm.Payload, &p)
		m.Payload = &p
	case EventSetMusicVolume:
		var p MusicVolumePayload
		err = json.Unmarshal(rm.Payload, &p)
		m.Payload = &p
	default:
		return nil, fmt.Errorf("%q: %w", rm.Event, ErrUnknownEvent)
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}
