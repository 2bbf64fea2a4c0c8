package siox_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ramory-l/siox"
	"github.com/ramory-l/siox/siotest"
)

func TestMemoryAdapterMembership(t *testing.T) {
	srv := newServer(t, nil)
	ns := install(t, srv, "/", newPokeController())
	a := siotest.Connect(t, srv, "/", nil, siotest.WithTimeout(200*time.Millisecond))
	b := siotest.Connect(t, srv, "/", nil)

	sa, ok := ns.GetSocket(a.SID())
	require.True(t, ok)
	sb, ok := ns.GetSocket(b.SID())
	require.True(t, ok)

	sa.Join("red")
	sa.Join("blue")
	sb.Join("red")

	adapter := ns.Adapter()
	assert.ElementsMatch(t, []string{a.SID(), b.SID()}, adapter.Sockets("red"))
	assert.ElementsMatch(t, []string{a.SID(), "red", "blue"}, adapter.SocketRooms(a.SID()))

	require.NoError(t, ns.To("red", "blue").Except(b.SID()).Emit("hello", "x"))
	got, err := a.WaitFor("hello")
	require.NoError(t, err)
	assert.Equal(t, "x", got.Data())
	_, err = a.WaitFor("hello")
	assert.ErrorIs(t, err, siotest.ErrTimeout, "a socket in two rooms gets one frame")
	assert.Empty(t, b.Received())

	sa.Leave("blue")
	assert.Empty(t, adapter.Sockets("blue"))

	require.NoError(t, a.Leave())
	assert.Equal(t, []string{b.SID()}, adapter.Sockets("red"))
	assert.Empty(t, adapter.SocketRooms(a.SID()))
}

func TestMemoryAdapterClose(t *testing.T) {
	srv := newServer(t, nil)
	ns := install(t, srv, "/", newPokeController())
	client := siotest.Connect(t, srv, "/", nil)

	s, ok := ns.GetSocket(client.SID())
	require.True(t, ok)
	s.Join("red")

	adapter := siox.NewMemoryAdapter(ns)
	adapter.Add(s.ID(), "green")
	require.NoError(t, adapter.Close())
	assert.Empty(t, adapter.Sockets("green"))
	assert.Contains(t, ns.Adapter().Sockets("red"), s.ID(), "a detached adapter does not touch the namespace")
}
