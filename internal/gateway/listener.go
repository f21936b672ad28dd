package gateway

import (
	"context"

	"github.com/prudhvinik1/nebula/internal/events"
)

// EventListener maps bus events onto socket frames. Every gateway instance
// subscribes to the bus, so delivery is local only.
type EventListener struct {
	hub *Hub
}

func NewEventListener(hub *Hub) *EventListener {
	return &EventListener{hub: hub}
}

// Handle is an events.Handler.
func (l *EventListener) Handle(_ context.Context, e events.Event) error {
	switch e.Type {
	case events.MessageSent:
		d, err := events.Decode[events.MessageSentData](e)
		if err != nil {
			return err
		}
		frame := DirectMessagePayload{
			MessageID:      d.MessageID,
			ConversationID: d.ConversationID,
			SenderID:       d.SenderID,
			SenderUsername: d.SenderUsername,
			Content:        d.Content,
			CreatedAt:      d.CreatedAt.UnixMilli(),
		}
		// the sender's other tabs and devices see the message too
		if _, err := l.hub.EmitLocal(Room(d.RecipientID), EventDirectMessage, frame); err != nil {
			return err
		}
		if d.SenderID != d.RecipientID {
			_, err = l.hub.EmitLocal(Room(d.SenderID), EventDirectMessage, frame)
		}
		return err

	case events.MessageRead:
		d, err := events.Decode[events.MessageReadData](e)
		if err != nil {
			return err
		}
		_, err = l.hub.EmitLocal(Room(d.SenderID), EventReadReceipt, ReadReceiptPayload{
			ConversationID: d.ConversationID,
			MessageID:      d.MessageID,
			ReadBy:         d.ReadBy,
			ReadAt:         d.ReadAt.UnixMilli(),
		})
		return err

	case events.TypingIndicator:
		d, err := events.Decode[events.TypingIndicatorData](e)
		if err != nil {
			return err
		}
		_, err = l.hub.EmitLocal(Room(d.RecipientID), EventTyping, TypingPayload{
			ConversationID: d.ConversationID,
			UserID:         d.UserID,
			Username:       d.Username,
		})
		return err
	}

	return nil
}
