package siox_test

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ramory-l/siox"
	"github.com/ramory-l/siox/siotest"
)

func newServer(t *testing.T, cfg *siox.Config, opts ...siox.ServerOption) *siox.Server {
	t.Helper()
	opts = append([]siox.ServerOption{siox.WithLogger(zerolog.Nop())}, opts...)
	srv := siox.NewServer(cfg, opts...)
	t.Cleanup(func() { _ = srv.Close() })
	return srv
}

func install(t *testing.T, srv *siox.Server, name string, container any) *siox.Namespace {
	t.Helper()
	g := srv.NewGroup()
	require.NoError(t, g.Route(container))
	ns, err := srv.AddNamespace(name, g)
	require.NoError(t, err)
	return ns
}

type pokeController struct {
	Poke   *siox.ClientEvent
	Pinged *siox.ServerEvent
}

func newPokeController() *pokeController {
	ctrl := &pokeController{Pinged: siox.NewServerEvent[Counter]()}
	ctrl.Poke = siox.NewClientEvent(func(c *siox.Context, in Counter) (any, error) {
		target := c.Identity()["target"]
		if target == nil {
			target = 7
		}
		return nil, ctrl.Pinged.Relay(c, nil, siox.ToUser(target), siox.Fields(map[string]any{"n": in.N}))
	}, siox.ForceAck())
	return ctrl
}

func TestProtectedNamespace(t *testing.T) {
	srv := newServer(t, nil, siox.WithIdentity(siox.AuthPayload))
	ns := install(t, srv, "/private", newPokeController())
	require.NoError(t, ns.MarkProtected(""))

	_, err := siotest.Dial(t, srv, "/private", nil)
	require.ErrorIs(t, err, siox.ErrConnectionRefused)
	var refused *siox.ConnectError
	require.ErrorAs(t, err, &refused)
	assert.Equal(t, "unauthorized!", refused.Message)

	_, err = siotest.Dial(t, srv, "/private", map[string]any{"other": 1})
	assert.ErrorIs(t, err, siox.ErrConnectionRefused)

	seven := siotest.Connect(t, srv, "/private", map[string]any{"": 7})
	eight := siotest.Connect(t, srv, "/private", map[string]any{"": 8})

	sock, ok := ns.GetSocket(seven.SID())
	require.True(t, ok)
	assert.Contains(t, sock.Rooms(), "user-7")
	assert.Contains(t, sock.Rooms(), seven.SID())

	ack := eight.Call(t, "poke", map[string]any{"n": 1})
	assert.Equal(t, map[string]any{"code": float64(200)}, ack)

	got, err := seven.WaitFor("pinged")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"n": float64(1)}, got.Data())
	assert.Empty(t, eight.Received())
}

func TestRelaySkipsSender(t *testing.T) {
	srv := newServer(t, nil, siox.WithIdentity(siox.AuthPayload))
	ns := install(t, srv, "/private", newPokeController())
	require.NoError(t, ns.MarkProtected("user"))

	phone := siotest.Connect(t, srv, "/private", map[string]any{"user": 7})
	laptop := siotest.Connect(t, srv, "/private", map[string]any{"user": 7})
	other := siotest.Connect(t, srv, "/private", map[string]any{"user": 9})

	laptop.Call(t, "poke", map[string]any{"n": 2})

	got, err := phone.WaitFor("pinged")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"n": float64(2)}, got.Data())
	assert.Empty(t, laptop.Received(), "relay excludes the sending connection")
	assert.Empty(t, other.Received())
}

func TestMarkProtectedNeedsIdentity(t *testing.T) {
	srv := newServer(t, nil)
	ns := install(t, srv, "/", newPokeController())
	assert.ErrorIs(t, ns.MarkProtected(""), siox.ErrNoIdentitySource)
}

type abortController struct {
	Save *siox.ClientEvent
}

func TestAbortSignals(t *testing.T) {
	ctrl := &abortController{
		Save: siox.NewClientEvent(func(_ *siox.Context, in Note) (any, error) {
			switch in.Text {
			case "bye":
				return nil, siox.AbortCritical(403, "Forbidden")
			case "dup":
				return nil, siox.Abort(409, "Conflict").WithData("dup")
			}
			return siox.Reply{Message: "Saved"}, nil
		}),
	}
	srv := newServer(t, nil)
	ns := install(t, srv, "/notes", ctrl)
	client := siotest.Connect(t, srv, "/notes", nil)

	assert.Equal(t, map[string]any{"code": float64(200), "message": "Saved"},
		client.Call(t, "save", map[string]any{"text": "a"}))
	assert.Equal(t, map[string]any{"code": float64(409), "message": "Conflict", "data": "dup"},
		client.Call(t, "save", map[string]any{"text": "dup"}))

	invalid := client.Call(t, "save", map[string]any{}).(map[string]any)
	assert.Equal(t, float64(400), invalid["code"])
	assert.Equal(t, "Validation failed", invalid["message"])
	issues := invalid["data"].([]any)
	require.Len(t, issues, 1)
	assert.Equal(t, "text", issues[0].(map[string]any)["field"])
	assert.False(t, client.Disconnected())

	assert.Equal(t, map[string]any{"code": float64(403), "message": "Forbidden"},
		client.Call(t, "save", map[string]any{"text": "bye"}))
	require.NoError(t, client.WaitDisconnected())

	_, ok := ns.GetSocket(client.SID())
	assert.False(t, ok)
	assert.Empty(t, ns.Sockets())
	closed, _ := client.Conn().Closed()
	assert.False(t, closed, "a namespace disconnect keeps the connection")
}

func TestUnexpectedErrorsStayOnServer(t *testing.T) {
	boom := errors.New("database down")
	reported := make(chan error, 1)

	ctrl := &abortController{
		Save: siox.NewClientEvent(func(*siox.Context, Note) (any, error) { return nil, boom }),
	}
	srv := newServer(t, nil, siox.WithErrorHandler(func(s *siox.Socket, event string, err error) {
		assert.Equal(t, "save", event)
		reported <- err
	}))
	install(t, srv, "/", ctrl)
	client := siotest.Connect(t, srv, "/", nil, siotest.WithTimeout(100*time.Millisecond))

	_, err := client.EmitAck("save", map[string]any{"text": "x"})
	assert.ErrorIs(t, err, siotest.ErrTimeout, "no ack is sent for unexpected errors")

	select {
	case err := <-reported:
		assert.ErrorIs(t, err, boom)
	case <-time.After(time.Second):
		t.Fatal("error handler not called")
	}
	assert.False(t, client.Disconnected())
}

type kebabController struct {
	CreateNote *siox.ClientEvent
	NoteAdded  *siox.ServerEvent
}

func TestKebabCaseWireNames(t *testing.T) {
	ctrl := &kebabController{NoteAdded: siox.NewServerEvent[Draft]()}
	ctrl.CreateNote = siox.NewClientEvent(func(c *siox.Context, in Draft) (any, error) {
		return nil, ctrl.NoteAdded.Emit(c, in)
	})

	srv := newServer(t, &siox.Config{KebabCase: true})
	ns := install(t, srv, "/", ctrl)
	assert.Equal(t, "note-added", ns.WireName("note_added"))

	client := siotest.Connect(t, srv, "/", nil)
	require.NoError(t, client.Emit("create-note", map[string]any{"note-text": "hi"}))

	got, err := client.WaitFor("note-added")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"note-text": "hi"}, got.Data())
}

func TestEventsOfOneSocketRunInOrder(t *testing.T) {
	var (
		mu   sync.Mutex
		seen []int
	)
	ctrl := &abortController{
		Save: siox.NewClientEvent(func(_ *siox.Context, in Counter) (any, error) {
			if in.N%3 == 0 {
				time.Sleep(time.Millisecond)
			}
			mu.Lock()
			seen = append(seen, in.N)
			mu.Unlock()
			return nil, nil
		}),
	}
	srv := newServer(t, nil)
	install(t, srv, "/", ctrl)
	client := siotest.Connect(t, srv, "/", nil)

	want := make([]int, 0, 20)
	for i := 1; i <= 20; i++ {
		want = append(want, i)
		require.NoError(t, client.Emit("save", map[string]any{"n": i}))
	}
	client.Call(t, "save", map[string]any{"n": 21})
	want = append(want, 21)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, want, seen)
}

type broadcastController struct {
	Shout   *siox.ClientEvent
	Shouted *siox.ServerEvent
}

func TestEmitAddressing(t *testing.T) {
	ctrl := &broadcastController{Shouted: siox.NewServerEvent[Counter]()}
	ctrl.Shout = siox.NewClientEvent(func(c *siox.Context, in Counter) (any, error) {
		var opts []siox.EmitOption
		switch in.N {
		case 1:
		case 2:
			opts = append(opts, siox.IncludeSelf(false))
		case 3:
			opts = append(opts, siox.ToRoom("team"))
		case 4:
			opts = append(opts, siox.Broadcast(false))
		}
		return nil, ctrl.Shouted.Emit(c, in, opts...)
	})

	srv := newServer(t, nil)
	ns := install(t, srv, "/", ctrl)
	a := siotest.Connect(t, srv, "/", nil)
	b := siotest.Connect(t, srv, "/", nil)

	sock, ok := ns.GetSocket(b.SID())
	require.True(t, ok)
	sock.Join("team")

	count := func(c *siotest.Client) int { return len(c.Drain()) }

	a.Call(t, "shout", map[string]any{"n": 1})
	assert.Equal(t, 1, count(a), "broadcast includes the sender")
	assert.Equal(t, 1, count(b))

	a.Call(t, "shout", map[string]any{"n": 2})
	assert.Equal(t, 0, count(a))
	assert.Equal(t, 1, count(b))

	a.Call(t, "shout", map[string]any{"n": 3})
	assert.Equal(t, 0, count(a))
	assert.Equal(t, 1, count(b))

	a.Call(t, "shout", map[string]any{"n": 4})
	assert.Equal(t, 1, count(a), "without broadcast only the sender receives")
	assert.Equal(t, 0, count(b))
}

func TestEmitInOtherNamespace(t *testing.T) {
	feed := &struct{ Posted *siox.ServerEvent }{Posted: siox.NewServerEvent[Counter]()}
	ctrl := &abortController{
		Save: siox.NewClientEvent(func(c *siox.Context, in Counter) (any, error) {
			return nil, feed.Posted.Emit(c, in, siox.InNamespace("/feed"))
		}),
	}
	srv := newServer(t, nil)
	install(t, srv, "/", ctrl)
	install(t, srv, "/feed", feed)

	writer := siotest.Connect(t, srv, "/", nil)
	reader := siotest.Connect(t, srv, "/feed", nil)

	writer.Call(t, "save", map[string]any{"n": 5})
	got, err := reader.WaitFor("posted")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"n": float64(5)}, got.Data())
	assert.Empty(t, writer.Received())
}

func TestConnectionHooks(t *testing.T) {
	srv := newServer(t, nil)
	ns := install(t, srv, "/", newPokeController())

	connected := make(chan string, 1)
	left := make(chan string, 1)
	ns.OnConnect(func(s *siox.Socket) { connected <- s.ID() })
	ns.OnDisconnect(func(s *siox.Socket, reason string) { left <- reason })

	client := siotest.Connect(t, srv, "/", nil)
	assert.Equal(t, client.SID(), <-connected)

	require.NoError(t, client.Leave())
	assert.Equal(t, "client namespace disconnect", <-left)
	assert.Empty(t, ns.Sockets())
}

func TestUnknownNamespace(t *testing.T) {
	srv := newServer(t, nil)
	_, err := siotest.Dial(t, srv, "/missing", nil)
	var refused *siox.ConnectError
	require.ErrorAs(t, err, &refused)
	assert.Equal(t, "Invalid namespace", refused.Message)
}

func TestUnknownEventIsIgnored(t *testing.T) {
	srv := newServer(t, nil)
	install(t, srv, "/", newPokeController())
	client := siotest.Connect(t, srv, "/", nil, siotest.WithTimeout(100*time.Millisecond))

	_, err := client.EmitAck("nothing_here", nil)
	assert.ErrorIs(t, err, siotest.ErrTimeout)
	assert.False(t, client.Disconnected())
}

func TestNamespaceDocConsistency(t *testing.T) {
	srv := newServer(t, nil)
	ctrl := newNoteController()
	ns := install(t, srv, "/notes", ctrl)

	channels := ns.ExtractDocChannels()
	assert.Equal(t, len(ns.Events()), channels.Len())
	assert.Equal(t, []string{"create_note", "note_added", "draft"}, channels.Keys())
	assert.Equal(t, []string{"Note", "NoteOut", "Draft"}, ns.ExtractDocMessages().Keys())

	ev, ok := ns.Lookup("create_note")
	require.True(t, ok)
	assert.Same(t, ctrl.CreateNote, ev)
	ev, ok = ns.Lookup("draft")
	require.True(t, ok)
	assert.Same(t, ctrl.SyncDraft.Client(), ev)
	_, ok = ns.Lookup("note_added")
	assert.False(t, ok, "server events are not dispatched")
}

func TestAddNamespaceErrors(t *testing.T) {
	srv := newServer(t, nil)
	ctrl := newNoteController()
	g := srv.NewGroup()
	require.NoError(t, g.Route(ctrl))
	_, err := srv.AddNamespace("/notes", g)
	require.NoError(t, err)

	_, err = srv.AddNamespace("notes")
	assert.ErrorIs(t, err, siox.ErrNamespaceExists)

	_, err = srv.AddNamespace("/again", g)
	assert.ErrorIs(t, err, siox.ErrNamespaceMismatch)

	err = g.Bind("late", siox.NewClientEvent(echo))
	assert.ErrorIs(t, err, siox.ErrGroupSealed)
	assert.NoError(t, g.Route(ctrl), "re-routing a sealed group is a no-op")

	kebab := siox.NewGroup(srv.Registry(), siox.KebabCase())
	_, err = srv.AddNamespace("/kebab", kebab)
	assert.ErrorIs(t, err, siox.ErrCasingMismatch)

	scoped := srv.NewGroup(siox.ForNamespace("/elsewhere"))
	_, err = srv.AddNamespace("/here", scoped)
	assert.ErrorIs(t, err, siox.ErrNamespaceMismatch)

	dup := srv.NewGroup()
	require.NoError(t, dup.Bind("save", siox.NewClientEvent(echo)))
	dup2 := srv.NewGroup()
	require.NoError(t, dup2.Bind("save", siox.NewClientEvent(echo)))
	_, err = srv.AddNamespace("/dup", dup, dup2)
	assert.ErrorIs(t, err, siox.ErrDuplicateEvent)

	_, ok := srv.Namespace("/dup")
	assert.False(t, ok, "a failed install leaves no namespace behind")
}

func TestFailedInstallLeavesGroupsReusable(t *testing.T) {
	srv := newServer(t, nil)
	good := srv.NewGroup()
	require.NoError(t, good.Route(newPokeController()))
	clash := srv.NewGroup()
	require.NoError(t, clash.Bind("poke", siox.NewClientEvent(echo)))

	_, err := srv.AddNamespace("/first", good, clash)
	require.ErrorIs(t, err, siox.ErrDuplicateEvent)
	for _, ev := range good.Events() {
		assert.Empty(t, ev.Namespace(), "%s stays unattached", ev.Name())
	}
	assert.NoError(t, good.Bind("extra", siox.NewClientEvent(echo)), "the group is not sealed")

	ns, err := srv.AddNamespace("/second", good)
	require.NoError(t, err)
	_, ok := ns.Lookup("poke")
	assert.True(t, ok)

	client := siotest.Connect(t, srv, "/second", nil)
	assert.Equal(t, "hi", client.Call(t, "extra", map[string]any{"text": "hi"}))
}

func TestCriticalAbortStopsProcessing(t *testing.T) {
	var handled atomic.Int32
	ctrl := &abortController{
		Save: siox.NewClientEvent(func(_ *siox.Context, in Note) (any, error) {
			handled.Add(1)
			if in.Text == "bye" {
				return nil, siox.AbortCritical(403, "Forbidden")
			}
			return nil, nil
		}),
	}
	srv := newServer(t, nil)
	ns := install(t, srv, "/notes", ctrl)
	client := siotest.Connect(t, srv, "/notes", nil, siotest.WithTimeout(200*time.Millisecond))

	require.NoError(t, client.Emit("save", map[string]any{"text": "bye"}))
	require.NoError(t, client.Emit("save", map[string]any{"text": "queued"}))
	require.NoError(t, client.WaitDisconnected())

	_, err := client.EmitAck("save", map[string]any{"text": "late"})
	assert.ErrorIs(t, err, siotest.ErrTimeout, "frames after a critical abort get no ack")
	assert.Equal(t, int32(1), handled.Load(), "only the aborting frame was handled")
	assert.Empty(t, ns.Sockets())
}

func TestUserRoomWithLargeIDs(t *testing.T) {
	srv := newServer(t, nil, siox.WithIdentity(siox.AuthPayload))
	ns := install(t, srv, "/", newPokeController())
	require.NoError(t, ns.MarkProtected("id"))

	user := siotest.Connect(t, srv, "/", map[string]any{"id": 12345678})
	other := siotest.Connect(t, srv, "/", map[string]any{"id": 87654321, "target": 12345678},
		siotest.WithTimeout(200*time.Millisecond))

	socket, ok := ns.GetSocket(user.SID())
	require.True(t, ok)
	assert.Contains(t, socket.Rooms(), "user-12345678")

	assert.Equal(t, map[string]any{"code": float64(200)}, other.Call(t, "poke", map[string]any{"n": 9}))
	got, err := user.WaitFor("pinged")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"n": float64(9)}, got.Data())

	_, err = other.WaitFor("pinged")
	assert.ErrorIs(t, err, siotest.ErrTimeout)
}
