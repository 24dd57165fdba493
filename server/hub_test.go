package server_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ambientcast/ambientcast/server"
)

func TestHubFanOut(t *testing.T) {
	hub := server.NewHub()
	a := newFakeClient("a")
	b := newFakeClient("b")
	other := newFakeClient("other")

	hub.Subscribe("tavern", a)
	hub.Subscribe("tavern", b)
	hub.Subscribe("forest", other)

	hub.ToRoom("tavern", &server.Message{Event: server.EventPlay, Payload: &server.KeyPayload{Key: "rain"}})

	require.Equal(t, 1, a.countEvent(server.EventPlay))
	require.Equal(t, 1, b.countEvent(server.EventPlay))
	require.Empty(t, other.messages())
}

func TestHubUnsubscribe(t *testing.T) {
	hub := server.NewHub()
	a := newFakeClient("a")
	b := newFakeClient("b")

	hub.Subscribe("tavern", a)
	hub.Subscribe("tavern", b)
	require.Equal(t, 2, hub.Subscribers("tavern"))

	hub.Unsubscribe("tavern", a)
	hub.ToRoom("tavern", &server.Message{Event: server.EventStop, Payload: &server.KeyPayload{Key: "rain"}})

	require.Empty(t, a.messages())
	require.Equal(t, 1, b.countEvent(server.EventStop))

	hub.Unsubscribe("tavern", b)
	require.Equal(t, 0, hub.Subscribers("tavern"))

	// unknown channel and double unsubscribe are no-ops
	hub.Unsubscribe("tavern", b)
	hub.Unsubscribe("nowhere", a)
	hub.ToRoom("nowhere", &server.Message{Event: server.EventPlay})
}

func TestHubResubscribeSameID(t *testing.T) {
	hub := server.NewHub()
	a := newFakeClient("a")

	hub.Subscribe("tavern", a)
	hub.Subscribe("tavern", a)
	require.Equal(t, 1, hub.Subscribers("tavern"))
}
