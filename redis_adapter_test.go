package siox_test

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ramory-l/siox"
	"github.com/ramory-l/siox/siotest"
)

type shoutController struct {
	Shout    *siox.ClientEvent
	Announce *siox.ServerEvent
}

func newShoutController() *shoutController {
	ctrl := &shoutController{Announce: siox.NewServerEvent[Note]()}
	ctrl.Shout = siox.NewClientEvent(func(c *siox.Context, in Note) (any, error) {
		var opts []siox.EmitOption
		if in.Pinned {
			opts = append(opts, siox.ToRoom("lobby"), siox.IncludeSelf(false))
		}
		return nil, ctrl.Announce.Emit(c, in, opts...)
	}, siox.ForceAck())
	return ctrl
}

func newRedisCluster(t *testing.T, nodes int) []*siox.Server {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	servers := make([]*siox.Server, nodes)
	for i := range servers {
		servers[i] = newServer(t, nil,
			siox.WithAdapter(siox.RedisAdapters(rdb, "test")),
			siox.WithIdentity(siox.AuthPayload),
		)
		ns := install(t, servers[i], "/", newShoutController())
		ns.OnConnect(func(s *siox.Socket) {
			if s.Identity()["lobby"] == true {
				s.Join("lobby")
			}
		})
	}
	return servers
}

func TestRedisAdapterBroadcastsAcrossNodes(t *testing.T) {
	servers := newRedisCluster(t, 2)

	sender := siotest.Connect(t, servers[0], "/", nil, siotest.WithTimeout(300*time.Millisecond))
	remote := siotest.Connect(t, servers[1], "/", nil)

	assert.Equal(t, map[string]any{"code": float64(200)}, sender.Call(t, "shout", map[string]any{"text": "hello"}))

	got, err := remote.WaitFor("announce")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"text": "hello", "pinned": false}, got.Data())

	_, err = sender.WaitFor("announce")
	require.NoError(t, err, "local sockets get the broadcast")
	_, err = sender.WaitFor("announce")
	assert.ErrorIs(t, err, siotest.ErrTimeout, "a node ignores its own relay")
}

func TestRedisAdapterRoomsAcrossNodes(t *testing.T) {
	servers := newRedisCluster(t, 2)
	sender := siotest.Connect(t, servers[0], "/", nil, siotest.WithTimeout(300*time.Millisecond))
	outsider := siotest.Connect(t, servers[1], "/", nil, siotest.WithTimeout(300*time.Millisecond))
	member := siotest.Connect(t, servers[1], "/", map[string]any{"lobby": true})

	sender.Call(t, "shout", map[string]any{"text": "psst", "pinned": true})

	got, err := member.WaitFor("announce")
	require.NoError(t, err)
	assert.Equal(t, "psst", got.Data().(map[string]any)["text"])

	_, err = outsider.WaitFor("announce")
	assert.ErrorIs(t, err, siotest.ErrTimeout)
	_, err = sender.WaitFor("announce")
	assert.ErrorIs(t, err, siotest.ErrTimeout)
}

func TestRedisAdapterSubscribeFailure(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1, DialTimeout: 100 * time.Millisecond})
	t.Cleanup(func() { _ = rdb.Close() })

	srv := newServer(t, nil, siox.WithAdapter(siox.RedisAdapters(rdb, "test")))
	_, err := srv.AddNamespace("/")
	require.Error(t, err)

	_, ok := srv.Namespace("/")
	assert.False(t, ok)
}
