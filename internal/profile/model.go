package profile

import "time"

type Profile struct {
	ID         string    `json:"id"`
	Username   string    `json:"username"`
	Handle     string    `json:"handle"`
	AvatarPath string    `json:"avatar_path,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}
