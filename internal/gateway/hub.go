package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/prudhvinik1/nebula/internal/log"
	"github.com/prudhvinik1/nebula/internal/metrics"
)

// Adapter relays room emissions to the other gateway instances.
type Adapter interface {
	Broadcast(ctx context.Context, room, event string, data json.RawMessage) error
}

// Hub tracks the rooms of this instance's connections.
type Hub struct {
	mu      sync.RWMutex
	rooms   map[string]map[*Client]struct{}
	adapter Adapter
	logger  zerolog.Logger
}

func NewHub() *Hub {
	return &Hub{
		rooms:  make(map[string]map[*Client]struct{}),
		logger: log.WithComponent("gateway-hub"),
	}
}

// SetAdapter enables cross-instance delivery for Emit. A nil adapter keeps
// the hub in local-only mode.
func (h *Hub) SetAdapter(a Adapter) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.adapter = a
}

func (h *Hub) Join(room string, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[*Client]struct{})
		h.rooms[room] = members
	}
	members[c] = struct{}{}
}

func (h *Hub) Leave(room string, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.rooms[room]
	if !ok {
		return
	}
	delete(members, c)
	if len(members) == 0 {
		delete(h.rooms, room)
	}
}

// RoomSize counts local connections in room.
func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// Connections counts local connections across all rooms.
func (h *Hub) Connections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, members := range h.rooms {
		n += len(members)
	}
	return n
}

func (h *Hub) users() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ids := make([]string, 0, len(h.rooms))
	for _, members := range h.rooms {
		for c := range members {
			ids = append(ids, c.principal.UserID)
			break
		}
	}
	return ids
}

// EmitLocal writes the frame to this instance's members of room only and
// returns how many connections accepted it.
func (h *Hub) EmitLocal(room, event string, data any) (int, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return 0, fmt.Errorf("error marshaling %s payload: %w", event, err)
	}
	return h.deliver(room, event, raw), nil
}

// Emit delivers locally and through the adapter, so members connected to
// any instance receive the frame once.
func (h *Hub) Emit(ctx context.Context, room, event string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("error marshaling %s payload: %w", event, err)
	}
	h.deliver(room, event, raw)

	h.mu.RLock()
	adapter := h.adapter
	h.mu.RUnlock()
	if adapter == nil {
		return nil
	}
	if err := adapter.Broadcast(ctx, room, event, raw); err != nil {
		h.logger.Warn().Err(err).Str("room", room).Str("event", event).Msg("failed to relay emission to other instances")
		return err
	}
	return nil
}

func (h *Hub) deliver(room, event string, raw json.RawMessage) int {
	frame, err := json.Marshal(Frame{Event: event, Data: raw})
	if err != nil {
		h.logger.Error().Err(err).Str("event", event).Msg("failed to encode frame")
		return 0
	}

	h.mu.RLock()
	members := make([]*Client, 0, len(h.rooms[room]))
	for c := range h.rooms[room] {
		members = append(members, c)
	}
	h.mu.RUnlock()

	delivered := 0
	for _, c := range members {
		if c.enqueue(frame) {
			delivered++
		}
	}
	if delivered > 0 {
		metrics.GatewayEmits.WithLabelValues(event).Add(float64(delivered))
	}
	return delivered
}

// CloseAll disconnects every local connection.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	var all []*Client
	for _, members := range h.rooms {
		for c := range members {
			all = append(all, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range all {
		c.close()
	}
}
