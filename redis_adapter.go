package siox

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	sioxlog "github.com/ramory-l/siox/internal/log"
)

// RedisAdapter keeps rooms in memory like MemoryAdapter and relays every
// broadcast through Redis pub/sub so that sockets connected to other
// server instances receive it too.
type RedisAdapter struct {
	*MemoryAdapter

	client  redis.UniversalClient
	pubsub  *redis.PubSub
	channel string
	node    string
	log     zerolog.Logger

	done      chan struct{}
	closeOnce sync.Once
}

var _ Adapter = (*RedisAdapter)(nil)

type redisEnvelope struct {
	Node   string   `json:"node"`
	Frame  string   `json:"frame"`
	Rooms  []string `json:"rooms,omitempty"`
	Except []string `json:"except,omitempty"`
}

// RedisAdapters returns a factory creating one RedisAdapter per namespace.
func RedisAdapters(client redis.UniversalClient, prefix string) AdapterFactory {
	return func(ns *Namespace) (Adapter, error) {
		return NewRedisAdapter(ns, client, prefix)
	}
}

// NewRedisAdapter subscribes to the namespace channel under prefix.
func NewRedisAdapter(ns *Namespace, client redis.UniversalClient, prefix string) (*RedisAdapter, error) {
	a := &RedisAdapter{
		MemoryAdapter: NewMemoryAdapter(ns),
		client:        client,
		channel:       prefix + "#" + ns.Name() + "#",
		node:          uuid.NewString(),
		done:          make(chan struct{}),
	}
	a.log = sioxlog.WithComponent("siox.adapter.redis").With().
		Str("namespace", ns.Name()).
		Str("node", a.node).
		Logger()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	a.pubsub = client.Subscribe(ctx, a.channel)
	if _, err := a.pubsub.Receive(ctx); err != nil {
		_ = a.pubsub.Close()
		return nil, fmt.Errorf("redis subscribe %s: %w", a.channel, err)
	}

	go a.listen()
	return a, nil
}

func (a *RedisAdapter) listen() {
	defer close(a.done)
	for msg := range a.pubsub.Channel() {
		var env redisEnvelope
		if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
			a.log.Warn().Err(err).Msg("dropping malformed relay message")
			continue
		}
		if env.Node == a.node {
			continue
		}
		a.deliver(env.Frame, env.Rooms, env.Except)
	}
}

// Broadcast delivers to local sockets, then publishes the frame for the
// other nodes.
func (a *RedisAdapter) Broadcast(packet *Packet, rooms []string, except []string) error {
	encoded, err := packet.Encode(a.namespace.codec())
	if err != nil {
		return err
	}
	a.deliver(encoded, rooms, except)

	body, err := json.Marshal(redisEnvelope{
		Node:   a.node,
		Frame:  encoded,
		Rooms:  rooms,
		Except: except,
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := a.client.Publish(ctx, a.channel, body).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// Close unsubscribes and clears the local rooms. The Redis client is owned
// by the caller and stays open.
func (a *RedisAdapter) Close() error {
	var err error
	a.closeOnce.Do(func() {
		err = a.pubsub.Close()
		<-a.done
		_ = a.MemoryAdapter.Close()
	})
	return err
}
