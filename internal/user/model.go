package user

import "go-counsel/internal/domain"

type User struct {
	ID        string      `json:"id"`
	Name      string      `json:"name"`
	AvatarURL string      `json:"avatarUrl,omitempty"`
	Role      domain.Role `json:"role"`
}

type StatusResponse struct {
	Statuses map[string]bool `json:"statuses"`
}

type ProfileResponse struct {
	User
	IsOnline bool `json:"isOnline"`
}
