package models

import "time"

// User is the subset of the account record the seeder and timeline joins use.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Username  string    `json:"username"`
	FullName  *string   `json:"fullName"`
	Bio       *string   `json:"bio"`
	AvatarURL *string   `json:"avatarUrl"`
	CreatedAt time.Time `json:"createdAt"`

	// PasswordHash is only written, never read back.
	PasswordHash string `json:"-"`
}

// Principal is an authenticated caller.
type Principal struct {
	UserID   string
	Username string
}
