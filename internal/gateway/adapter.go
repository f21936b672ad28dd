package gateway

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/prudhvinik1/nebula/internal/cache"
	"github.com/prudhvinik1/nebula/internal/log"
	"github.com/prudhvinik1/nebula/internal/metrics"
)

// AdapterChannel carries room emissions between gateway instances.
const AdapterChannel = "nebula:gateway"

// Packet is one relayed emission. UID identifies the sending instance.
type Packet struct {
	UID   string          `json:"uid"`
	Room  string          `json:"room"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// RedisAdapter relays emissions through broker pub/sub. Packets an instance
// published itself are ignored on receipt since it already delivered them.
type RedisAdapter struct {
	uid    string
	pub    *cache.ConnManager
	sub    *cache.ConnManager
	hub    *Hub
	ps     *redis.PubSub
	logger zerolog.Logger
}

func NewRedisAdapter(uid string, pub, sub *cache.ConnManager, hub *Hub) *RedisAdapter {
	return &RedisAdapter{
		uid:    uid,
		pub:    pub,
		sub:    sub,
		hub:    hub,
		logger: log.WithInstance("gateway-adapter", uid),
	}
}

// Start subscribes and returns once the broker confirmed the subscription.
// Delivery runs until ctx is done or Close is called.
func (a *RedisAdapter) Start(ctx context.Context) error {
	client, err := a.sub.Client(ctx)
	if err != nil {
		return err
	}

	ps := client.Subscribe(ctx, AdapterChannel)
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		a.sub.Reset(client)
		return fmt.Errorf("error subscribing to %s: %w", AdapterChannel, err)
	}
	a.ps = ps

	go a.run(ctx, ps.Channel())
	a.logger.Info().Str("channel", AdapterChannel).Msg("gateway adapter subscribed")
	return nil
}

func (a *RedisAdapter) run(ctx context.Context, ch <-chan *redis.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			a.receive(msg.Payload)
		}
	}
}

func (a *RedisAdapter) receive(payload string) {
	var p Packet
	if err := json.Unmarshal([]byte(payload), &p); err != nil || p.Room == "" || p.Event == "" {
		a.logger.Warn().Err(err).Msg("discarding malformed adapter packet")
		return
	}
	if p.UID == a.uid {
		return
	}
	metrics.AdapterMessages.WithLabelValues("in").Inc()
	a.hub.deliver(p.Room, p.Event, p.Data)
}

func (a *RedisAdapter) Broadcast(ctx context.Context, room, event string, data json.RawMessage) error {
	payload, err := json.Marshal(Packet{UID: a.uid, Room: room, Event: event, Data: data})
	if err != nil {
		return fmt.Errorf("error encoding adapter packet: %w", err)
	}

	client, err := a.pub.Client(ctx)
	if err != nil {
		return err
	}
	if err := client.Publish(ctx, AdapterChannel, payload).Err(); err != nil {
		a.pub.Reset(client)
		return fmt.Errorf("error publishing adapter packet: %w", err)
	}
	metrics.AdapterMessages.WithLabelValues("out").Inc()
	return nil
}

func (a *RedisAdapter) Close() error {
	if a.ps == nil {
		return nil
	}
	return a.ps.Close()
}
