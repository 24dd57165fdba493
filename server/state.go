package server

import "encoding/json"

// SoundTypeMusic marks a play command as the room's single music track rather
// than a sound effect.
const SoundTypeMusic = "music"

// Effect is one looping sound effect entry. One-shot sounds never end up
// here; they are broadcast and forgotten.
type Effect struct {
	Volume float64 `json:"volume,omitempty"`
	Loop   bool    `json:"loop,omitempty"`
}

// AudioState is the authoritative record of what a room currently sounds
// like: at most one music track and the set of looping effects. It carries no
// reference back to the owning room so it can be serialised as-is.
type AudioState struct {
	Music   string            `json:"music,omitempty"`
	Effects map[string]Effect `json:"effects,omitempty"`
}

// NewAudioState returns an empty state ready for use.
func NewAudioState() *AudioState {
	return &AudioState{
		Effects: make(map[string]Effect),
	}
}

// Encode serialises the state to its persisted JSON form. Absent music and an
// empty effect set are omitted entirely.
func (st *AudioState) Encode() ([]byte, error) {
	return json.Marshal(st)
}

// DecodeState restores a state from its persisted form. An absent blob means
// no state yet and decodes to an empty state.
func DecodeState(data []byte) (*AudioState, error) {
	if len(data) == 0 {
		return NewAudioState(), nil
	}
	var st AudioState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, err
	}
	if st.Effects == nil {
		st.Effects = make(map[string]Effect)
	}
	return &st, nil
}
