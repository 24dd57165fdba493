package server_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ambientcast/ambientcast/server"
	"github.com/ambientcast/ambientcast/store"
)

func TestRegistryAddAndResolve(t *testing.T) {
	srv := newTestServer()
	reg := server.NewRegistry()

	tavern := newTestRoom(srv, &store.RoomRecord{ID: 1, Name: "The Tavern", Alias: "tavern"})
	forest := newTestRoom(srv, &store.RoomRecord{ID: 2, Name: "Forest"})
	require.NoError(t, reg.Add(tavern))
	require.NoError(t, reg.Add(forest))
	defer reg.Remove(tavern)
	defer reg.Remove(forest)

	require.Equal(t, 2, reg.Count())

	byID, err := reg.Resolve("1")
	require.NoError(t, err)
	require.Same(t, tavern, byID)

	byAlias, err := reg.Resolve("tavern")
	require.NoError(t, err)
	require.Same(t, tavern, byAlias)

	plain, err := reg.Resolve("2")
	require.NoError(t, err)
	require.Same(t, forest, plain)

	_, err = reg.Resolve("nowhere")
	require.ErrorIs(t, err, server.ErrRoomNotFound)
	_, err = reg.Resolve("999")
	require.ErrorIs(t, err, server.ErrRoomNotFound)
}

func TestRegistryAddIdempotent(t *testing.T) {
	srv := newTestServer()
	reg := server.NewRegistry()

	room := newTestRoom(srv, &store.RoomRecord{ID: 5, Name: "Once"})
	require.NoError(t, reg.Add(room))
	defer reg.Remove(room)
	require.NoError(t, reg.Add(room))

	require.Equal(t, 1, reg.Count())
	require.Len(t, reg.Array(), 1)
}

func TestRegistryRemove(t *testing.T) {
	srv := newTestServer()
	reg := server.NewRegistry()

	room := newTestRoom(srv, &store.RoomRecord{ID: 6, Name: "Gone", Alias: "gone"})
	require.NoError(t, reg.Add(room))
	reg.Remove(room)

	require.Equal(t, 0, reg.Count())
	_, err := reg.Resolve("6")
	require.ErrorIs(t, err, server.ErrRoomNotFound)
	_, err = reg.Resolve("gone")
	require.ErrorIs(t, err, server.ErrRoomNotFound)

	// removing twice is harmless
	reg.Remove(room)
	require.Equal(t, 0, reg.Count())
}

func TestRegistryAddRefusesAliasCollision(t *testing.T) {
	srv := newTestServer()
	reg := server.NewRegistry()

	first := newTestRoom(srv, &store.RoomRecord{ID: 20, Name: "First", Alias: "tavern"})
	require.NoError(t, reg.Add(first))
	defer reg.Remove(first)

	second := newTestRoom(srv, &store.RoomRecord{ID: 21, Name: "Second", Alias: "tavern"})
	require.ErrorIs(t, reg.Add(second), server.ErrAliasTaken)
	require.Equal(t, 1, reg.Count())

	got, err := reg.Resolve("tavern")
	require.NoError(t, err)
	require.Same(t, first, got)
}

func TestRegistryRemoveEvictsMembers(t *testing.T) {
	srv := newTestServer()
	reg := server.NewRegistry()

	room := newTestRoom(srv, &store.RoomRecord{ID: 30, Name: "Condemned"})
	require.NoError(t, reg.Add(room))
	member := newFakeClient("member")
	require.NoError(t, room.RequestJoin(member, ""))

	reg.Remove(room)

	require.Nil(t, member.Room())
	require.Equal(t, 1, member.countEvent(server.EventNotice))
}

func TestRegistryRemoveReplacedRoom(t *testing.T) {
	srv := newTestServer()
	reg := server.NewRegistry()

	old := newTestRoom(srv, &store.RoomRecord{ID: 7, Name: "Old"})
	require.NoError(t, reg.Add(old))
	defer reg.Remove(old)

	// a different session with the same id must not evict the registered one
	imposter := newTestRoom(srv, &store.RoomRecord{ID: 7, Name: "Imposter"})
	reg.Remove(imposter)

	require.Equal(t, 1, reg.Count())
	got, err := reg.Resolve("7")
	require.NoError(t, err)
	require.Same(t, old, got)
}

func TestRegistryArrayReflectsChanges(t *testing.T) {
	srv := newTestServer()
	reg := server.NewRegistry()

	a := newTestRoom(srv, &store.RoomRecord{ID: 10, Name: "A"})
	b := newTestRoom(srv, &store.RoomRecord{ID: 11, Name: "B"})

	require.NoError(t, reg.Add(a))
	arr := reg.Array()
	require.Len(t, arr, 1)
	require.Same(t, a, arr[0])

	require.NoError(t, reg.Add(b))
	require.Len(t, reg.Array(), 2)

	reg.Remove(a)
	arr = reg.Array()
	require.Len(t, arr, 1)
	require.Same(t, b, arr[0])
	reg.Remove(b)
}

func TestRegistryLoadAllSkipsDeleted(t *testing.T) {
	st := store.NewMemStore()
	ctx := context.Background()
	require.NoError(t, st.SaveRoom(ctx, &store.RoomRecord{ID: 1, Name: "Alive"}))
	require.NoError(t, st.SaveRoom(ctx, &store.RoomRecord{ID: 2, Name: "Dead", Deleted: true}))

	srv := server.NewServer(st, zap.NewNop())
	reg := srv.Registry()
	require.NoError(t, srv.LoadAll(ctx))
	defer func() {
		for _, r := range reg.Array() {
			reg.Remove(r)
		}
	}()

	require.Equal(t, 1, reg.Count())
	_, err := reg.Resolve("1")
	require.NoError(t, err)
	_, err = reg.Resolve("2")
	require.ErrorIs(t, err, server.ErrRoomNotFound)
}
