package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/prudhvinik1/nebula/internal/metrics"
	"github.com/prudhvinik1/nebula/internal/models"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 8 * 1024
	sendBuffer     = 64
)

// Client is one authenticated websocket connection.
type Client struct {
	hub       *Hub
	conn      *websocket.Conn
	principal models.Principal
	room      string
	life      *connLifecycle
	logger    zerolog.Logger

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once

	ctx    context.Context
	cancel context.CancelFunc
}

func newClient(ctx context.Context, hub *Hub, conn *websocket.Conn, principal models.Principal, life *connLifecycle, logger zerolog.Logger) *Client {
	ctx, cancel := context.WithCancel(ctx)
	return &Client{
		hub:       hub,
		conn:      conn,
		principal: principal,
		room:      Room(principal.UserID),
		life:      life,
		logger:    logger,
		send:      make(chan []byte, sendBuffer),
		done:      make(chan struct{}),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// enqueue hands a frame to the write loop. A client whose buffer is full is
// too slow to keep up and is disconnected.
func (c *Client) enqueue(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- frame:
		return true
	default:
		c.logger.Warn().Msg("send buffer full, dropping slow connection")
		c.close()
		return false
	}
}

func (c *Client) sendFrame(event string, data any) bool {
	frame, err := encodeFrame(event, data)
	if err != nil {
		c.logger.Error().Err(err).Msg("failed to encode frame")
		return false
	}
	return c.enqueue(frame)
}

func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.cancel()
	})
}

// readPump consumes client frames until the connection fails. It owns the
// connection's teardown.
func (c *Client) readPump() {
	defer func() {
		c.hub.Leave(c.room, c)
		c.close()
		c.life.advance(StateDisconnected)
		metrics.GatewayConnections.Dec()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if errors.Is(err, websocket.ErrReadLimit) {
				c.logger.Warn().Msg("frame exceeds size limit, closing connection")
			} else if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug().Err(err).Msg("connection closed unexpectedly")
			}
			return
		}
		c.handle(message)
	}
}

func (c *Client) handle(message []byte) {
	var f Frame
	if err := json.Unmarshal(message, &f); err != nil || f.Event == "" {
		c.logger.Warn().Err(err).Msg("discarding malformed frame")
		return
	}

	switch f.Event {
	case EventTyping:
		var in TypingInput
		if err := json.Unmarshal(f.Data, &in); err != nil || in.ConversationID == "" || in.RecipientID == "" {
			c.logger.Warn().Err(err).Msg("discarding malformed typing frame")
			return
		}
		err := c.hub.Emit(c.ctx, Room(in.RecipientID), EventTyping, TypingPayload{
			ConversationID: in.ConversationID,
			UserID:         c.principal.UserID,
			Username:       c.principal.Username,
		})
		if err != nil {
			c.logger.Debug().Err(err).Msg("typing relay incomplete")
		}

	case EventReadReceiptAck:
		var in ReadReceiptAckInput
		if err := json.Unmarshal(f.Data, &in); err != nil {
			c.logger.Warn().Err(err).Msg("discarding malformed read receipt ack")
			return
		}
		c.logger.Debug().
			Str("conversation_id", in.ConversationID).
			Str("message_id", in.MessageID).
			Msg("read receipt acknowledged")

	case EventPing:
		c.sendFrame(EventPong, struct{}{})

	default:
		c.logger.Debug().Str("event", f.Event).Msg("ignoring unknown client event")
	}
}

// writePump is the only writer on the connection and closes it on exit.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case frame := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
