package server_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ambientcast/ambientcast/server"
	"github.com/ambientcast/ambientcast/store"
)

func newRestServer(t *testing.T) (*server.Server, http.Handler) {
	t.Helper()
	srv := server.NewServer(store.NewMemStore(), zap.NewNop())
	t.Cleanup(func() {
		for _, r := range srv.Registry().Array() {
			srv.Registry().Remove(r)
		}
	})
	return srv, server.NewRestMux(srv)
}

func doJSON(t *testing.T, h http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func mustCreateRoom(t *testing.T, h http.Handler, req *server.CreateRoomRequest) server.RoomCreatedMsg {
	t.Helper()
	w := doJSON(t, h, "POST", "/rooms", req)
	require.Equal(t, http.StatusOK, w.Code)
	var created server.RoomCreatedMsg
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	require.True(t, created.OK)
	return created
}

func TestRestServerInfo(t *testing.T) {
	_, h := newRestServer(t)

	w := doJSON(t, h, "GET", "/server", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var info server.ServerInfoMsg
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &info))
	require.True(t, info.OK)
	require.Equal(t, 0, info.NRooms)

	mustCreateRoom(t, h, &server.CreateRoomRequest{Name: "The Tavern"})

	w = doJSON(t, h, "GET", "/server", nil)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &info))
	require.Equal(t, 1, info.NRooms)
}

func TestRestCreateRoom(t *testing.T) {
	_, h := newRestServer(t)

	created := mustCreateRoom(t, h, &server.CreateRoomRequest{Name: "The Tavern", Alias: "tavern"})
	require.Equal(t, "tavern", created.Channel)
	// no owner password supplied, so one was generated
	require.NotEmpty(t, created.OwnerPassword)

	w := doJSON(t, h, "POST", "/rooms", &server.CreateRoomRequest{})
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRestListRooms(t *testing.T) {
	_, h := newRestServer(t)
	mustCreateRoom(t, h, &server.CreateRoomRequest{Name: "A"})
	mustCreateRoom(t, h, &server.CreateRoomRequest{Name: "B"})

	w := doJSON(t, h, "GET", "/rooms", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list []server.RoomListEntry
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list, 2)
}

func TestRestViewRoom(t *testing.T) {
	_, h := newRestServer(t)
	created := mustCreateRoom(t, h, &server.CreateRoomRequest{
		Name:        "The Tavern",
		Description: "cozy",
		Password:    "abc123",
		BlockGuests: true,
	})

	w := doJSON(t, h, "GET", fmt.Sprintf("/rooms/%d", created.ID), nil)
	require.Equal(t, http.StatusOK, w.Code)
	var info server.RoomInfoMsg
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &info))
	require.Equal(t, "The Tavern", info.Name)
	require.Equal(t, "cozy", info.Description)
	require.True(t, info.HasPassword)
	require.True(t, info.BlockGuests)
	require.Equal(t, 0, info.Users)

	w = doJSON(t, h, "GET", "/rooms/999", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestRestSaveRoom(t *testing.T) {
	srv, h := newRestServer(t)
	created := mustCreateRoom(t, h, &server.CreateRoomRequest{Name: "Old Name", OwnerPassword: "s3cret"})

	w := doJSON(t, h, "POST", fmt.Sprintf("/rooms/%d", created.ID), &server.SaveRoomRequest{
		OwnerPassword: "s3cret",
		Name:          "New Name",
		State:         json.RawMessage(`{"music":"ambient2"}`),
	})
	require.Equal(t, http.StatusOK, w.Code)

	room, err := srv.Registry().Resolve(fmt.Sprint(created.ID))
	require.NoError(t, err)
	roomName := func() string {
		var name string
		room.Do(func() { name = room.Name() })
		return name
	}
	require.Equal(t, "New Name", roomName())

	// wrong control password
	w = doJSON(t, h, "POST", fmt.Sprintf("/rooms/%d", created.ID), &server.SaveRoomRequest{
		OwnerPassword: "nope",
		Name:          "Hijacked",
	})
	require.Equal(t, http.StatusForbidden, w.Code)
	require.Equal(t, "New Name", roomName())

	// corrupt state blob
	req := httptest.NewRequest("POST", fmt.Sprintf("/rooms/%d", created.ID),
		bytes.NewReader([]byte(`{"ownerPassword":"s3cret","state":{bad`)))
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRestRoomState(t *testing.T) {
	_, h := newRestServer(t)
	created := mustCreateRoom(t, h, &server.CreateRoomRequest{Name: "Stateful", OwnerPassword: "s3cret"})

	// a fresh room serves an empty object
	w := doJSON(t, h, "GET", fmt.Sprintf("/rooms/%d/state", created.ID), nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{}`, w.Body.String())

	w = doJSON(t, h, "POST", fmt.Sprintf("/rooms/%d", created.ID), &server.SaveRoomRequest{
		OwnerPassword: "s3cret",
		State:         json.RawMessage(`{"music":"ambient2"}`),
	})
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, h, "GET", fmt.Sprintf("/rooms/%d/state", created.ID), nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"music":"ambient2"}`, w.Body.String())
}

func TestRestRoomClients(t *testing.T) {
	srv, h := newRestServer(t)
	created := mustCreateRoom(t, h, &server.CreateRoomRequest{Name: "Busy"})

	room, err := srv.Registry().Resolve(fmt.Sprint(created.ID))
	require.NoError(t, err)
	require.NoError(t, room.RequestJoin(newFakeClient("alice"), ""))

	w := doJSON(t, h, "GET", fmt.Sprintf("/rooms/%d/clients", created.ID), nil)
	require.Equal(t, http.StatusOK, w.Code)
	var msg server.ClientsMsg
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &msg))
	require.Equal(t, 1, msg.Count)
	require.Equal(t, []string{"alice"}, msg.Clients)
}

func TestRestSetActive(t *testing.T) {
	srv, h := newRestServer(t)
	created := mustCreateRoom(t, h, &server.CreateRoomRequest{Name: "Flagged", OwnerPassword: "s3cret"})
	room, err := srv.Registry().Resolve(fmt.Sprint(created.ID))
	require.NoError(t, err)

	w := doJSON(t, h, "POST", fmt.Sprintf("/rooms/%d/active", created.ID), &server.ActiveRequest{
		OwnerPassword: "s3cret",
		Active:        true,
	})
	require.Equal(t, http.StatusOK, w.Code)

	var active bool
	room.Do(func() { active = room.Active() })
	require.True(t, active)

	w = doJSON(t, h, "POST", fmt.Sprintf("/rooms/%d/active", created.ID), &server.ActiveRequest{
		OwnerPassword: "nope",
	})
	require.Equal(t, http.StatusForbidden, w.Code)
}

func TestRestKickClient(t *testing.T) {
	srv, h := newRestServer(t)
	created := mustCreateRoom(t, h, &server.CreateRoomRequest{Name: "Strict", OwnerPassword: "s3cret"})
	room, err := srv.Registry().Resolve(fmt.Sprint(created.ID))
	require.NoError(t, err)

	target := newFakeClient("troublemaker")
	require.NoError(t, room.RequestJoin(target, ""))

	w := doJSON(t, h, "POST", fmt.Sprintf("/rooms/%d/kick", created.ID), &server.KickRequest{
		OwnerPassword: "s3cret",
		ClientID:      "troublemaker",
	})
	require.Equal(t, http.StatusOK, w.Code)
	require.Nil(t, target.Room())
	require.Equal(t, 1, target.countEvent(server.EventNotice))

	w = doJSON(t, h, "POST", fmt.Sprintf("/rooms/%d/kick", created.ID), &server.KickRequest{
		OwnerPassword: "s3cret",
		ClientID:      "troublemaker",
	})
	require.Equal(t, http.StatusNotFound, w.Code)

	w = doJSON(t, h, "POST", fmt.Sprintf("/rooms/%d/kick", created.ID), &server.KickRequest{
		OwnerPassword: "s3cret",
	})
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRestDeleteRoomEvictsMembers(t *testing.T) {
	srv, h := newRestServer(t)
	created := mustCreateRoom(t, h, &server.CreateRoomRequest{
		Name: "Old Tavern", Alias: "tavern", OwnerPassword: "s3cret",
	})
	room, err := srv.Registry().Resolve("tavern")
	require.NoError(t, err)
	member := newFakeClient("regular")
	require.NoError(t, room.RequestJoin(member, ""))

	w := doJSON(t, h, "DELETE", fmt.Sprintf("/rooms/%d", created.ID), &server.ActiveRequest{
		OwnerPassword: "s3cret",
	})
	require.Equal(t, http.StatusOK, w.Code)

	// the member was evicted, not stranded in a closed session
	require.Nil(t, member.Room())
	require.Equal(t, 1, member.countEvent(server.EventNotice))

	// the alias is free again; a room reusing it starts with no listeners
	mustCreateRoom(t, h, &server.CreateRoomRequest{
		Name: "New Tavern", Alias: "tavern", Password: "abc123",
	})
	successor, err := srv.Registry().Resolve("tavern")
	require.NoError(t, err)
	insider := newFakeClient("insider")
	require.NoError(t, successor.RequestJoin(insider, "abc123"))

	before := len(member.messages())
	successor.Enqueue(&server.Command{Event: server.EventPlay, Client: insider, Key: "rain", Loop: true})
	require.Eventually(t, func() bool {
		return insider.countEvent(server.EventPlay) == 1
	}, 2*time.Second, 10*time.Millisecond)
	require.Len(t, member.messages(), before, "evicted member still hears the successor room")
}

func TestRestCreateRoomDuplicateAlias(t *testing.T) {
	_, h := newRestServer(t)
	mustCreateRoom(t, h, &server.CreateRoomRequest{Name: "First", Alias: "tavern"})

	w := doJSON(t, h, "POST", "/rooms", &server.CreateRoomRequest{Name: "Second", Alias: "tavern"})
	require.Equal(t, http.StatusConflict, w.Code)

	w = doJSON(t, h, "GET", "/rooms", nil)
	var list []server.RoomListEntry
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list, 1)
}

func TestRestListRoomsSeesRenames(t *testing.T) {
	_, h := newRestServer(t)
	created := mustCreateRoom(t, h, &server.CreateRoomRequest{Name: "Old Name", OwnerPassword: "s3cret"})

	// hammer renames while listing; the list path must read through the
	// manager goroutine like every other handler
	stop := make(chan struct{})
	go func() {
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			doJSON(t, h, "POST", fmt.Sprintf("/rooms/%d", created.ID), &server.SaveRoomRequest{
				OwnerPassword: "s3cret",
				Name:          fmt.Sprintf("Name %d", i),
			})
		}
	}()
	for i := 0; i < 50; i++ {
		w := doJSON(t, h, "GET", "/rooms", nil)
		require.Equal(t, http.StatusOK, w.Code)
	}
	close(stop)

	doJSON(t, h, "POST", fmt.Sprintf("/rooms/%d", created.ID), &server.SaveRoomRequest{
		OwnerPassword: "s3cret",
		Name:          "Final Name",
	})
	w := doJSON(t, h, "GET", "/rooms", nil)
	var list []server.RoomListEntry
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list, 1)
	require.Equal(t, "Final Name", list[0].Name)
}

func TestRestDeleteRoom(t *testing.T) {
	srv, h := newRestServer(t)
	created := mustCreateRoom(t, h, &server.CreateRoomRequest{Name: "Doomed", OwnerPassword: "s3cret"})

	w := doJSON(t, h, "DELETE", fmt.Sprintf("/rooms/%d", created.ID), &server.ActiveRequest{
		OwnerPassword: "nope",
	})
	require.Equal(t, http.StatusForbidden, w.Code)

	w = doJSON(t, h, "DELETE", fmt.Sprintf("/rooms/%d", created.ID), &server.ActiveRequest{
		OwnerPassword: "s3cret",
	})
	require.Equal(t, http.StatusOK, w.Code)

	_, err := srv.Registry().Resolve(fmt.Sprint(created.ID))
	require.ErrorIs(t, err, server.ErrRoomNotFound)

	w = doJSON(t, h, "GET", fmt.Sprintf("/rooms/%d", created.ID), nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}
