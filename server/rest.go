package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/ambientcast/ambientcast/store"
)

const ownerKeyLength = 16

type ServerInfoMsg struct {
	OK     bool `json:"ok"`
	NRooms int  `json:"nrooms"`
}

type RoomCreatedMsg struct {
	OK            bool   `json:"ok"`
	ID            int64  `json:"id"`
	Channel       string `json:"channel"`
	OwnerPassword string `json:"ownerPassword,omitempty"`
}

type RoomListEntry struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type RoomInfoMsg struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	ImageURL    string `json:"imageURL,omitempty"`
	Channel     string `json:"channel"`
	Public      bool   `json:"public"`
	BlockGuests bool   `json:"blockGuests"`
	HasPassword bool   `json:"hasPassword"`
	Active      bool   `json:"active"`
	Users       int    `json:"users"`
}

type ClientsMsg struct {
	Count   int      `json:"count"`
	Clients []string `json:"clients"`
}

type CreateRoomRequest struct {
	Name          string `json:"name"`
	Description   string `json:"description"`
	Password      string `json:"password"`
	OwnerPassword string `json:"ownerPassword"`
	Alias         string `json:"alias"`
	ImageURL      string `json:"imageURL"`
	Owner         string `json:"owner"`
	Public        bool   `json:"public"`
	BlockGuests   bool   `json:"blockGuests"`
}

type SaveRoomRequest struct {
	OwnerPassword string          `json:"ownerPassword"`
	Name          string          `json:"name"`
	Description   string          `json:"description"`
	ImageURL      string          `json:"imageURL"`
	State         json.RawMessage `json:"state,omitempty"`
}

type ActiveRequest struct {
	OwnerPassword string `json:"ownerPassword"`
	Active        bool   `json:"active"`
}

type KickRequest struct {
	OwnerPassword string `json:"ownerPassword"`
	ClientID      string `json:"clientID"`
}

// RespondWithJSON writes m as the JSON response body.
func RespondWithJSON(m interface{}, statusCode int, w http.ResponseWriter) {
	payload, _ := json.Marshal(m)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	w.Write(payload)
}

// RespondWithError writes a JSON error body.
func RespondWithError(reason string, statusCode int, w http.ResponseWriter) {
	RespondWithJSON(map[string]interface{}{
		"ok":     false,
		"reason": reason,
	}, statusCode, w)
}

// NewRestMux builds the collaborator HTTP surface. Everything room-scoped
// resolves through the registry first; unknown ids are 404, store failures
// are 500.
func NewRestMux(s *Server) http.Handler {
	restMux := mux.NewRouter().StrictSlash(true)
	restMux.HandleFunc("/server", func(w http.ResponseWriter, r *http.Request) {
		getServerInfo(s, w, r)
	}).Methods("GET")
	restMux.HandleFunc("/rooms", func(w http.ResponseWriter, r *http.Request) {
		listRooms(s, w, r)
	}).Methods("GET")
	restMux.HandleFunc("/rooms", func(w http.ResponseWriter, r *http.Request) {
		createRoom(s, w, r)
	}).Methods("POST")
	restMux.HandleFunc("/rooms/{id}", func(w http.ResponseWriter, r *http.Request) {
		viewRoom(s, w, r)
	}).Methods("GET")
	restMux.HandleFunc("/rooms/{id}", func(w http.ResponseWriter, r *http.Request) {
		saveRoom(s, w, r)
	}).Methods("POST")
	restMux.HandleFunc("/rooms/{id}", func(w http.ResponseWriter, r *http.Request) {
		deleteRoom(s, w, r)
	}).Methods("DELETE")
	restMux.HandleFunc("/rooms/{id}/clients", func(w http.ResponseWriter, r *http.Request) {
		roomClients(s, w, r)
	}).Methods("GET")
	restMux.HandleFunc("/rooms/{id}/state", func(w http.ResponseWriter, r *http.Request) {
		roomState(s, w, r)
	}).Methods("GET")
	restMux.HandleFunc("/rooms/{id}/active", func(w http.ResponseWriter, r *http.Request) {
		setRoomActive(s, w, r)
	}).Methods("POST")
	restMux.HandleFunc("/rooms/{id}/kick", func(w http.ResponseWriter, r *http.Request) {
		kickClient(s, w, r)
	}).Methods("POST")
	return restMux
}

// resolveRoom looks up the {id} path variable, responding 404 on failure.
func resolveRoom(s *Server, w http.ResponseWriter, r *http.Request) *Room {
	id := mux.Vars(r)["id"]
	room, err := s.registry.Resolve(id)
	if err != nil {
		RespondWithError("That room was not found.", http.StatusNotFound, w)
		return nil
	}
	return room
}

// authorised checks the privileged control password when the room has one.
func authorised(room *Room, ownerPassword string) bool {
	if room.Record().OwnerPassword == "" {
		return true
	}
	return room.TryOwnerPassword(ownerPassword)
}

func getServerInfo(s *Server, w http.ResponseWriter, r *http.Request) {
	RespondWithJSON(&ServerInfoMsg{
		OK:     true,
		NRooms: s.registry.Count(),
	}, http.StatusOK, w)
}

func listRooms(s *Server, w http.ResponseWriter, r *http.Request) {
	rooms := s.registry.Array()
	list := make([]RoomListEntry, 0, len(rooms))
	for _, room := range rooms {
		// the name is manager-goroutine state; a room closed in the
		// meantime skips its Do and is simply left off the list
		room.Do(func() {
			list = append(list, RoomListEntry{ID: room.ID(), Name: room.Name()})
		})
	}
	RespondWithJSON(list, http.StatusOK, w)
}

func createRoom(s *Server, w http.ResponseWriter, r *http.Request) {
	var req CreateRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondWithError("Invalid request body.", http.StatusBadRequest, w)
		return
	}
	if req.Name == "" {
		RespondWithError("A room needs a name.", http.StatusBadRequest, w)
		return
	}
	if req.Alias != "" {
		if _, err := s.registry.Resolve(req.Alias); err == nil {
			RespondWithError("That alias is already in use.", http.StatusConflict, w)
			return
		}
	}

	ownerPassword := req.OwnerPassword
	if ownerPassword == "" {
		generated, err := GenerateKey(ownerKeyLength)
		if err != nil {
			RespondWithError("An internal error occurred.", http.StatusInternalServerError, w)
			return
		}
		ownerPassword = generated
	}

	ctx := r.Context()
	id, err := s.store.NextRoomID(ctx)
	if err != nil {
		s.log.Error("room id allocation failed", zap.Error(err))
		RespondWithError("An internal error occurred.", http.StatusInternalServerError, w)
		return
	}
	rec := &store.RoomRecord{
		ID:            id,
		Name:          req.Name,
		Description:   req.Description,
		Password:      req.Password,
		OwnerPassword: ownerPassword,
		Alias:         req.Alias,
		ImageURL:      req.ImageURL,
		OwnerID:       req.Owner,
		Public:        req.Public,
		BlockGuests:   req.BlockGuests,
		LastActivity:  time.Now(),
	}
	if err := s.store.SaveRoom(ctx, rec); err != nil {
		s.log.Error("room create failed", zap.Int64("room", id), zap.Error(err))
		RespondWithError("An internal error occurred.", http.StatusInternalServerError, w)
		return
	}

	room := NewRoom(rec, s)
	if err := s.registry.Add(room); err != nil {
		// another create won the alias between the check and the add
		RespondWithError("That alias is already in use.", http.StatusConflict, w)
		return
	}
	s.log.Info("room created",
		zap.Int64("room", id), zap.String("name", req.Name), zap.String("channel", room.Channel()))

	RespondWithJSON(&RoomCreatedMsg{
		OK:            true,
		ID:            id,
		Channel:       room.Channel(),
		OwnerPassword: ownerPassword,
	}, http.StatusOK, w)
}

func viewRoom(s *Server, w http.ResponseWriter, r *http.Request) {
	room := resolveRoom(s, w, r)
	if room == nil {
		return
	}
	var info RoomInfoMsg
	room.Do(func() {
		rec := room.Record()
		info = RoomInfoMsg{
			ID:          rec.ID,
			Name:        rec.Name,
			Description: rec.Description,
			ImageURL:    rec.ImageURL,
			Channel:     room.Channel(),
			Public:      rec.Public,
			BlockGuests: rec.BlockGuests,
			HasPassword: room.HasPassword(),
			Active:      room.Active(),
			Users:       room.Count(),
		}
	})
	RespondWithJSON(&info, http.StatusOK, w)
}

func saveRoom(s *Server, w http.ResponseWriter, r *http.Request) {
	room := resolveRoom(s, w, r)
	if room == nil {
		return
	}
	var req SaveRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondWithError("Invalid request body.", http.StatusBadRequest, w)
		return
	}
	if !authorised(room, req.OwnerPassword) {
		RespondWithError("Not allowed.", http.StatusForbidden, w)
		return
	}

	var stateErr error
	room.Do(func() {
		room.UpdateInfo(req.Name, req.Description, req.ImageURL)
		if len(req.State) > 0 {
			stateErr = room.RestoreState(req.State)
		}
	})
	if stateErr != nil {
		RespondWithError("Invalid state payload.", http.StatusBadRequest, w)
		return
	}
	RespondWithJSON(map[string]bool{"ok": true}, http.StatusOK, w)
}

func deleteRoom(s *Server, w http.ResponseWriter, r *http.Request) {
	room := resolveRoom(s, w, r)
	if room == nil {
		return
	}
	var req ActiveRequest
	// body is optional for rooms without an owner password
	_ = json.NewDecoder(r.Body).Decode(&req)
	if !authorised(room, req.OwnerPassword) {
		RespondWithError("Not allowed.", http.StatusForbidden, w)
		return
	}

	room.Do(func() {
		room.MarkDeleted()
	})
	s.registry.Remove(room)
	s.log.Info("room deleted", zap.Int64("room", room.ID()))
	RespondWithJSON(map[string]bool{"ok": true}, http.StatusOK, w)
}

func roomClients(s *Server, w http.ResponseWriter, r *http.Request) {
	room := resolveRoom(s, w, r)
	if room == nil {
		return
	}
	var msg ClientsMsg
	room.Do(func() {
		msg = ClientsMsg{Count: room.Count(), Clients: room.Clients()}
	})
	RespondWithJSON(&msg, http.StatusOK, w)
}

func roomState(s *Server, w http.ResponseWriter, r *http.Request) {
	room := resolveRoom(s, w, r)
	if room == nil {
		return
	}
	var blob []byte
	room.Do(func() {
		rec := room.Record()
		blob = append([]byte(nil), rec.StateJSON...)
	})
	if len(blob) == 0 {
		blob = []byte("{}")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(blob)
}

func setRoomActive(s *Server, w http.ResponseWriter, r *http.Request) {
	room := resolveRoom(s, w, r)
	if room == nil {
		return
	}
	var req ActiveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondWithError("Invalid request body.", http.StatusBadRequest, w)
		return
	}
	if !authorised(room, req.OwnerPassword) {
		RespondWithError("Not allowed.", http.StatusForbidden, w)
		return
	}
	room.Do(func() {
		room.SetActive(req.Active)
	})
	RespondWithJSON(map[string]bool{"ok": true}, http.StatusOK, w)
}

func kickClient(s *Server, w http.ResponseWriter, r *http.Request) {
	room := resolveRoom(s, w, r)
	if room == nil {
		return
	}
	var req KickRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ClientID == "" {
		RespondWithError("Invalid request body.", http.StatusBadRequest, w)
		return
	}
	if !authorised(room, req.OwnerPassword) {
		RespondWithError("Not allowed.", http.StatusForbidden, w)
		return
	}
	found := false
	room.Do(func() {
		found = room.KickByID(req.ClientID)
	})
	if !found {
		RespondWithError("That client was not found.", http.StatusNotFound, w)
		return
	}
	RespondWithJSON(map[string]bool{"ok": true}, http.StatusOK, w)
}
