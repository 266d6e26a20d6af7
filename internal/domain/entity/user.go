package entity

import (
	"time"
)

// User is owned by the account service. Chat only reads display fields.
type User struct {
	ID        string    `json:"id" firestore:"id"`
	Username  string    `json:"username" firestore:"username"`
	FullName  string    `json:"full_name,omitempty" firestore:"fullName,omitempty"`
	AvatarURL string    `json:"avatar_url,omitempty" firestore:"avatarURL,omitempty"`
	PhotoURL  string    `json:"photo_url,omitempty" firestore:"photoURL,omitempty"`
	CreatedAt time.Time `json:"created_at" firestore:"createdAt"`
}

type UserSummary struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

func (u *User) Summary() *UserSummary {
	name := u.FullName
	if name == "" {
		name = u.Username
	}
	avatar := u.AvatarURL
	if avatar == "" {
		avatar = u.PhotoURL
	}
	return &UserSummary{
		ID:        u.ID,
		Name:      name,
		AvatarURL: avatar,
	}
}
