package gateway

import (
	"encoding/json"
	"fmt"
)

// Frame events
const (
	EventReady          = "ready"
	EventDirectMessage  = "direct-message"
	EventReadReceipt    = "read-receipt"
	EventTyping         = "typing-indicator"
	EventReadReceiptAck = "read-receipt-ack"
	EventPing           = "ping"
	EventPong           = "pong"
)

// Frame is one JSON text message in either direction.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func encodeFrame(event string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("error marshaling %s frame: %w", event, err)
	}
	return json.Marshal(Frame{Event: event, Data: raw})
}

type ReadyPayload struct {
	UserID              string `json:"userId"`
	TypingMinIntervalMs int64  `json:"typingMinIntervalMs"`
}

type DirectMessagePayload struct {
	MessageID      string `json:"messageId"`
	ConversationID string `json:"conversationId"`
	SenderID       string `json:"senderId"`
	SenderUsername string `json:"senderUsername"`
	Content        string `json:"content"`
	CreatedAt      int64  `json:"createdAt"` // epoch ms
}

type ReadReceiptPayload struct {
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
	ReadBy         string `json:"readBy"`
	ReadAt         int64  `json:"readAt"` // epoch ms
}

type TypingPayload struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	Username       string `json:"username"`
}

// client to server

type TypingInput struct {
	ConversationID string `json:"conversationId"`
	RecipientID    string `json:"recipientId"`
}

type ReadReceiptAckInput struct {
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
}

// Room is the delivery group of every connection authenticated as userID.
func Room(userID string) string {
	return "user:" + userID
}
