package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/prudhvinik1/nebula/internal/cache"
	"github.com/prudhvinik1/nebula/internal/log"
	"github.com/prudhvinik1/nebula/internal/metrics"
)

// Handler processes one event. Errors are logged by the subscription and
// never stop the listener.
type Handler func(ctx context.Context, e Event) error

// Bus is a best-effort, at-most-once pub/sub bus. Subscribers that are not
// connected when an event is published never see it.
type Bus struct {
	pub     *cache.ConnManager
	sub     *cache.ConnManager
	channel string
	logger  zerolog.Logger
}

// NewBus takes separate managers for publishing and subscribing; a
// subscribed connection cannot issue other commands.
func NewBus(pub, sub *cache.ConnManager) *Bus {
	return &Bus{
		pub:     pub,
		sub:     sub,
		channel: Channel,
		logger:  log.WithComponent("bus"),
	}
}

// Publish sends e to all current subscribers. Failures are logged and
// swallowed so the originating operation never fails because of the bus.
func (b *Bus) Publish(ctx context.Context, e Event) {
	payload, err := json.Marshal(e)
	if err != nil {
		metrics.EventsPublished.WithLabelValues(string(e.Type), "error").Inc()
		b.logger.Error().Err(err).Str("type", string(e.Type)).Msg("failed to encode event")
		return
	}

	client, err := b.pub.Client(ctx)
	if err != nil {
		metrics.EventsPublished.WithLabelValues(string(e.Type), "error").Inc()
		b.logger.Error().Err(err).Str("type", string(e.Type)).Msg("failed to publish event")
		return
	}

	if err := client.Publish(ctx, b.channel, payload).Err(); err != nil {
		b.pub.Reset(client)
		metrics.EventsPublished.WithLabelValues(string(e.Type), "error").Inc()
		b.logger.Error().Err(err).Str("type", string(e.Type)).Msg("failed to publish event")
		return
	}

	metrics.EventsPublished.WithLabelValues(string(e.Type), "ok").Inc()
	b.logger.Debug().Str("type", string(e.Type)).Msg("event published")
}

// Emit builds and publishes an event in one step.
func (b *Bus) Emit(ctx context.Context, t Type, data any) {
	e, err := New(t, data)
	if err != nil {
		b.logger.Error().Err(err).Msg("failed to build event")
		return
	}
	b.Publish(ctx, e)
}

// Listen subscribes and returns once the broker has confirmed the
// subscription, so events published afterwards are observed.
func (b *Bus) Listen(ctx context.Context) (*Subscription, error) {
	client, err := b.sub.Client(ctx)
	if err != nil {
		return nil, err
	}

	ps := client.Subscribe(ctx, b.channel)
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		b.sub.Reset(client)
		return nil, fmt.Errorf("error subscribing to %s: %w", b.channel, err)
	}

	b.logger.Info().Str("channel", b.channel).Msg("subscribed to event bus")
	return &Subscription{ps: ps, logger: b.logger}, nil
}

// Subscribe listens and dispatches to h until ctx is cancelled.
func (b *Bus) Subscribe(ctx context.Context, h Handler) error {
	sub, err := b.Listen(ctx)
	if err != nil {
		return err
	}
	defer sub.Close()

	sub.Run(ctx, h)
	return nil
}

type Subscription struct {
	ps     *redis.PubSub
	logger zerolog.Logger
}

// Run blocks, invoking h for each event, until ctx is done or the
// subscription is closed.
func (s *Subscription) Run(ctx context.Context, h Handler) {
	ch := s.ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			s.dispatch(ctx, msg.Payload, h)
		}
	}
}

func (s *Subscription) dispatch(ctx context.Context, payload string, h Handler) {
	e, err := Parse([]byte(payload))
	if err != nil {
		if errors.Is(err, ErrUnknownType) {
			s.logger.Debug().Err(err).Msg("ignoring event")
			return
		}
		metrics.EventsMalformed.Inc()
		s.logger.Warn().Err(err).Msg("discarding malformed event")
		return
	}

	metrics.EventsReceived.WithLabelValues(string(e.Type)).Inc()

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Interface("panic", r).Str("type", string(e.Type)).Msg("event handler panicked")
		}
	}()

	if err := h(ctx, e); err != nil {
		s.logger.Error().Err(err).Str("type", string(e.Type)).Msg("event handler failed")
	}
}

func (s *Subscription) Close() error {
	return s.ps.Close()
}
