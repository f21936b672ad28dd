package models

import "time"

type ModerationStatus string

const (
	ModerationActive    ModerationStatus = "active"
	ModerationFlagged   ModerationStatus = "flagged"
	ModerationHidden    ModerationStatus = "hidden"
	ModerationSuspended ModerationStatus = "suspended"
)

// Post is a timeline item as resolved from authoritative storage, joined
// with the author's public profile.
type Post struct {
	ID               string           `json:"id"`
	UserID           string           `json:"userId"`
	Username         string           `json:"username"`
	FullName         *string          `json:"fullName"`
	AvatarURL        *string          `json:"avatarUrl"`
	Content          string           `json:"content"`
	Hashtags         []string         `json:"hashtags"`
	MediaURL         *string          `json:"mediaUrl"`
	MediaType        *string          `json:"mediaType"`
	ModerationStatus ModerationStatus `json:"moderationStatus"`
	CreatedAt        time.Time        `json:"createdAt"`
	UpdatedAt        time.Time        `json:"updatedAt"`
}

// Score is the timeline ordering key: creation time in epoch milliseconds.
func (p *Post) Score() float64 {
	return float64(p.CreatedAt.UnixMilli())
}
