package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Channel is the bus channel every service publishes domain events on.
const Channel = "nebula:events"

type Type string

const (
	PostCreated     Type = "post.created"
	PostDeleted     Type = "post.deleted"
	UserFollowed    Type = "user.followed"
	UserUnfollowed  Type = "user.unfollowed"
	MessageSent     Type = "message.sent"
	MessageRead     Type = "message.read"
	TypingIndicator Type = "typing.indicator"
)

var ErrUnknownType = errors.New("unknown event type")

// Event is the wire envelope: {"type": ..., "data": {...}}.
type Event struct {
	Type Type            `json:"type"`
	Data json.RawMessage `json:"data"`
}

type PostCreatedData struct {
	PostID    string    `json:"postId"`
	UserID    string    `json:"userId"`
	Content   string    `json:"content"`
	Hashtags  []string  `json:"hashtags"`
	CreatedAt time.Time `json:"createdAt"`
}

type PostDeletedData struct {
	PostID string `json:"postId"`
	UserID string `json:"userId"`
}

type UserFollowedData struct {
	FollowerID  string    `json:"followerId"`
	FollowingID string    `json:"followingId"`
	CreatedAt   time.Time `json:"createdAt"`
}

type UserUnfollowedData struct {
	FollowerID  string `json:"followerId"`
	FollowingID string `json:"followingId"`
}

type MessageSentData struct {
	MessageID      string    `json:"messageId"`
	ConversationID string    `json:"conversationId"`
	SenderID       string    `json:"senderId"`
	SenderUsername string    `json:"senderUsername"`
	RecipientID    string    `json:"recipientId"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"createdAt"`
}

type MessageReadData struct {
	ConversationID string    `json:"conversationId"`
	MessageID      string    `json:"messageId"`
	ReadBy         string    `json:"readBy"`
	SenderID       string    `json:"senderId"`
	ReadAt         time.Time `json:"readAt"`
}

type TypingIndicatorData struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	Username       string `json:"username"`
	RecipientID    string `json:"recipientId"`
}

// New wraps a payload in an envelope.
func New(t Type, data any) (Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Event{}, fmt.Errorf("error marshaling %s payload: %w", t, err)
	}
	return Event{Type: t, Data: raw}, nil
}

// Decode unmarshals the event payload into T.
func Decode[T any](e Event) (T, error) {
	var v T
	if len(e.Data) == 0 {
		return v, fmt.Errorf("%s event has no data", e.Type)
	}
	if err := json.Unmarshal(e.Data, &v); err != nil {
		return v, fmt.Errorf("error decoding %s payload: %w", e.Type, err)
	}
	return v, nil
}

// Parse decodes and validates a raw bus message.
func Parse(payload []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(payload, &e); err != nil {
		return Event{}, fmt.Errorf("error decoding event envelope: %w", err)
	}
	if err := e.Validate(); err != nil {
		return Event{}, err
	}
	return e, nil
}

// Validate checks the type is known and the payload carries its identifiers.
func (e Event) Validate() error {
	var missing bool
	switch e.Type {
	case PostCreated:
		d, err := Decode[PostCreatedData](e)
		if err != nil {
			return err
		}
		missing = d.PostID == "" || d.UserID == "" || d.CreatedAt.IsZero()
	case PostDeleted:
		d, err := Decode[PostDeletedData](e)
		if err != nil {
			return err
		}
		missing = d.PostID == "" || d.UserID == ""
	case UserFollowed:
		d, err := Decode[UserFollowedData](e)
		if err != nil {
			return err
		}
		missing = d.FollowerID == "" || d.FollowingID == ""
	case UserUnfollowed:
		d, err := Decode[UserUnfollowedData](e)
		if err != nil {
			return err
		}
		missing = d.FollowerID == "" || d.FollowingID == ""
	case MessageSent:
		d, err := Decode[MessageSentData](e)
		if err != nil {
			return err
		}
		missing = d.MessageID == "" || d.SenderID == "" || d.RecipientID == ""
	case MessageRead:
		d, err := Decode[MessageReadData](e)
		if err != nil {
			return err
		}
		missing = d.ConversationID == "" || d.SenderID == ""
	case TypingIndicator:
		d, err := Decode[TypingIndicatorData](e)
		if err != nil {
			return err
		}
		missing = d.ConversationID == "" || d.UserID == "" || d.RecipientID == ""
	default:
		return fmt.Errorf("%w: %q", ErrUnknownType, e.Type)
	}

	if missing {
		return fmt.Errorf("%s event is missing required identifiers", e.Type)
	}
	return nil
}
