package models

import "time"

type Follow struct {
	ID          string    `json:"id"`
	FollowerID  string    `json:"followerId"`
	FollowingID string    `json:"followingId"`
	CreatedAt   time.Time `json:"createdAt"`
}

type FollowStats struct {
	FollowersCount int `json:"followersCount"`
	FollowingCount int `json:"followingCount"`
}

// FollowerPage is one page of an author's followers, newest follow first.
// Cursor is the id of the last follow relationship in Follows.
type FollowerPage struct {
	Follows     []Follow
	Cursor      string
	HasNextPage bool
}

func (p *FollowerPage) FollowerIDs() []string {
	ids := make([]string, len(p.Follows))
	for i, f := range p.Follows {
		ids[i] = f.FollowerID
	}
	return ids
}
