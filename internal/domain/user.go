// Package domain contains core domain types for the agentchat application.
package domain

import (
	"time"
)

// User represents an (anonymous, per-device) account that owns agents and conversations.
type User struct {
	UserID     string    `json:"user_id"`
	Username   string    `json:"username"`
	LastSeenAt time.Time `json:"last_seen_at"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// IsIdleFor reports whether the user has not been seen for at least d.
func (u *User) IsIdleFor(d time.Duration) bool {
	return time.Since(u.LastSeenAt) >= d
}
